// scene/pick.go
// Copyright(c) 2026 tellus contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package scene

import (
	"github.com/tellusgl/tellus/geo"
)

// PickedObject is one object resolved at the pick point.
type PickedObject struct {
	// Code is the frame-scoped pick code the object drew itself with.
	Code uint32

	// Object is the handle registered via AddPickableObject. Deep-pick
	// merging compares these by interface identity.
	Object any

	// Position is the object's geographic location, when known.
	Position geo.Position

	// Layer is the layer that resolved the pick.
	Layer Layer

	// IsTerrain marks terrain surface picks; they are excluded from
	// deep-pick merging.
	IsTerrain bool

	// IsOnTop is set when the object was the authoritative top pick at the
	// moment it was resolved. Later passes drawing over it do not clear
	// the flag; TopPickedObject re-samples to disambiguate.
	IsOnTop bool
}

// PickedObjectList accumulates the objects resolved during a frame's pick
// passes.
type PickedObjectList struct {
	objects []*PickedObject
}

func (l *PickedObjectList) Add(po *PickedObject) {
	l.objects = append(l.objects, po)
}

func (l *PickedObjectList) Objects() []*PickedObject { return l.objects }

func (l *PickedObjectList) Len() int { return len(l.objects) }

// HasNonTerrain reports whether any picked object is not terrain.
func (l *PickedObjectList) HasNonTerrain() bool {
	for _, po := range l.objects {
		if !po.IsTerrain {
			return true
		}
	}
	return false
}

// Terrain returns the terrain entry, if any.
func (l *PickedObjectList) Terrain() *PickedObject {
	for _, po := range l.objects {
		if po.IsTerrain {
			return po
		}
	}
	return nil
}

// TopPickedObject returns the object on top at the pick point. With zero or
// one candidate the answer is trivial; with exactly one non-terrain
// candidate flagged on top, that candidate wins; otherwise the
// authoritative top code is re-sampled via resample and matched against the
// candidates' codes.
func (l *PickedObjectList) TopPickedObject(resample func() (uint32, error)) *PickedObject {
	switch len(l.objects) {
	case 0:
		return nil
	case 1:
		return l.objects[0]
	}

	var onTop *PickedObject
	nOnTop := 0
	for _, po := range l.objects {
		if !po.IsTerrain && po.IsOnTop {
			onTop = po
			nOnTop++
		}
	}
	if nOnTop == 1 {
		return onTop
	}

	if resample != nil {
		if code, err := resample(); err == nil && code != 0 {
			for _, po := range l.objects {
				if po.Code == code {
					return po
				}
			}
		}
	}
	return l.objects[0]
}

// Merge folds another list's non-terrain entries into l, dropping objects
// already present. Presence is interface identity on the registered handle:
// two picks of the same handle are one pick.
func (l *PickedObjectList) Merge(other *PickedObjectList) {
	for _, po := range other.objects {
		if po.IsTerrain {
			continue
		}
		dup := false
		for _, e := range l.objects {
			if e.Object == po.Object {
				dup = true
				break
			}
		}
		if !dup {
			l.objects = append(l.objects, po)
		}
	}
}

///////////////////////////////////////////////////////////////////////////
// PickSupport

// PickSupport maps the pick codes a layer drew with back to the objects
// they identify. A layer registers each pickable object as it records its
// pick-pass draw commands, then calls ResolvePick once the commands have
// executed; resolution clears the registry for the next pass.
type PickSupport struct {
	objects map[uint32]*PickedObject
}

// AddPickableObject registers an object against the pick code it is about
// to draw itself with. Codes come from DrawContext.NextPickCode and are
// unique within a frame.
func (ps *PickSupport) AddPickableObject(code uint32, object any, pos geo.Position, isTerrain bool) {
	if ps.objects == nil {
		ps.objects = make(map[uint32]*PickedObject)
	}
	ps.objects[code] = &PickedObject{
		Code:      code,
		Object:    object,
		Position:  pos,
		IsTerrain: isTerrain,
	}
}

// Clear empties the registry.
func (ps *PickSupport) Clear() {
	clear(ps.objects)
}

// TopObject reads back the pick point and returns the registered object
// drawn there, or nil, without modifying the registry.
func (ps *PickSupport) TopObject(dc *DrawContext) *PickedObject {
	code, err := dc.ReadPickCode()
	if err != nil || code == 0 {
		return nil
	}
	return ps.objects[code]
}

// ResolvePick reads back the pick point, and if the code there belongs to
// this registry, tags the object with the given layer, records it in the
// frame's picked-object list, and returns it. The registry is cleared
// either way.
func (ps *PickSupport) ResolvePick(dc *DrawContext, layer Layer) *PickedObject {
	defer ps.Clear()

	code, err := dc.ReadPickCode()
	if err != nil || code == 0 {
		return nil
	}
	po, ok := ps.objects[code]
	if !ok {
		return nil
	}
	po.Layer = layer
	po.IsOnTop = true
	dc.PickedObjects.Add(po)
	return po
}
