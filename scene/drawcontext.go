// scene/drawcontext.go
// Copyright(c) 2026 tellus contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

// Package scene ties the terrain and renderer packages together into
// frames: the SceneController runs a per-frame state machine that
// tessellates the visible terrain, draws the registered layers, and
// optionally runs an off-screen pick pass to identify the object under the
// pointer.
package scene

import (
	"container/heap"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/go-gl/mathgl/mgl64"

	"github.com/tellusgl/tellus/geo"
	"github.com/tellusgl/tellus/renderer"
	"github.com/tellusgl/tellus/terrain"
)

// Layer is one visual element of the scene. Layers are rendered in
// registration order; each enabled layer's Render is called once per frame
// and its Pick once per pick pass.
type Layer interface {
	Name() string
	Enabled() bool
	Render(dc *DrawContext)
	Pick(dc *DrawContext)
}

// OrderedRenderable is a draw submission deferred to a dedicated pass after
// all layers have rendered, drawn back to front by eye distance (e.g. for
// screen-space labels or transparency). Layers submit them to the
// DrawContext during Render or Pick.
type OrderedRenderable interface {
	// Distance returns the renderable's eye distance in meters.
	Distance() float64
	Render(dc *DrawContext)
	Pick(dc *DrawContext)
}

// DrawContext carries the state of the frame being rendered. It is created
// by the SceneController at the start of a frame and discarded at the end;
// layers receive it by reference and must not retain it. Layers hold no
// back-reference to the SceneController.
type DrawContext struct {
	Renderer renderer.Renderer

	// Viewport is x, y, width, height in framebuffer pixels.
	Viewport [4]int

	Projection mgl32.Mat4
	ModelView  mgl32.Mat4

	// EyePoint is the camera position in globe-centered coordinates; layers
	// use it to order deferred renderables.
	EyePoint mgl64.Vec3

	VerticalExaggeration float64
	VisibleSector        geo.Sector

	// Terrain is the frame's tessellated surface geometry; nil when
	// tessellation produced nothing (layers unrelated to terrain still
	// render).
	Terrain *terrain.SectorGeometryList

	FrameTime time.Time

	// Pick is true during a pick pass; PickPoint is then the framebuffer
	// pixel under the pointer. DeepPick additionally requests every object
	// under the pointer rather than only the nearest.
	Pick      bool
	DeepPick  bool
	PickPoint [2]int

	// PickedObjects accumulates the objects resolved at the pick point.
	PickedObjects PickedObjectList

	// CurrentLayer is the layer whose Render or Pick is executing.
	CurrentLayer Layer

	stats    renderer.RendererStats
	pickCode uint32
	ordered  orderedQueue
}

// Draw immediately executes the command buffer on the frame's renderer,
// accumulating its statistics. During a pick pass the commands land in the
// off-screen pick framebuffer.
func (dc *DrawContext) Draw(cb *renderer.CommandBuffer) {
	dc.stats.Merge(dc.Renderer.RenderCommandBuffer(cb))
}

// NextPickCode allocates a frame-scoped pick code. Codes start at 1; 0 is
// the pick pass clear color and never identifies an object.
func (dc *DrawContext) NextPickCode() uint32 {
	dc.pickCode++
	return dc.pickCode
}

// ReadPickCode reads back the pick code at the frame's pick point.
func (dc *DrawContext) ReadPickCode() (uint32, error) {
	return dc.Renderer.ReadPickPixel(dc.PickPoint[0], dc.PickPoint[1])
}

// AddOrderedRenderable queues a renderable for the deferred pass.
// Renderables at equal distance keep their submission order.
func (dc *DrawContext) AddOrderedRenderable(or OrderedRenderable) {
	heap.Push(&dc.ordered, orderedEntry{
		or:       or,
		distance: or.Distance(),
		seq:      dc.ordered.nextSeq(),
	})
}

// PopOrderedRenderable removes and returns the farthest queued renderable,
// or nil when the queue is empty.
func (dc *DrawContext) PopOrderedRenderable() OrderedRenderable {
	if dc.ordered.Len() == 0 {
		return nil
	}
	return heap.Pop(&dc.ordered).(orderedEntry).or
}

// Stats returns the renderer statistics accumulated so far this frame.
func (dc *DrawContext) Stats() renderer.RendererStats { return dc.stats }

///////////////////////////////////////////////////////////////////////////
// Ordered-renderable queue

type orderedEntry struct {
	or       OrderedRenderable
	distance float64
	seq      uint64
}

type orderedQueue struct {
	entries []orderedEntry
	seq     uint64
}

func (q *orderedQueue) nextSeq() uint64 {
	q.seq++
	return q.seq
}

func (q *orderedQueue) Len() int { return len(q.entries) }

// Farther renderables drain first so nearer ones draw over them; equal
// distances fall back to submission order.
func (q *orderedQueue) Less(i, j int) bool {
	a, b := q.entries[i], q.entries[j]
	if a.distance != b.distance {
		return a.distance > b.distance
	}
	return a.seq < b.seq
}

func (q *orderedQueue) Swap(i, j int) {
	q.entries[i], q.entries[j] = q.entries[j], q.entries[i]
}

func (q *orderedQueue) Push(x any) {
	q.entries = append(q.entries, x.(orderedEntry))
}

func (q *orderedQueue) Pop() any {
	e := q.entries[len(q.entries)-1]
	q.entries = q.entries[:len(q.entries)-1]
	return e
}
