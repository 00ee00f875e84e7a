// scene/vectorlayer.go
// Copyright(c) 2026 tellus contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package scene

import (
	"github.com/go-gl/mathgl/mgl64"
	"github.com/paulmach/orb"

	"github.com/tellusgl/tellus/geo"
	"github.com/tellusgl/tellus/renderer"
	"github.com/tellusgl/tellus/terrain"
)

// Feature is a pickable vector geometry drawn by a VectorLayer. The
// geometry follows the orb convention: points are (longitude, latitude) in
// degrees. Polygons are drawn as ring outlines.
type Feature struct {
	Geometry orb.Geometry
	Label    string
}

// Placemark is a labeled point of interest. Placemarks draw in a deferred
// pass after all layers, ordered by eye distance, so nearer marks draw over
// farther ones.
type Placemark struct {
	Position geo.Position
	Label    string
	Color    renderer.RGB
	Size     float32
}

// VectorLayer renders a set of vector features and placemarks draped over
// the terrain surface.
type VectorLayer struct {
	name    string
	enabled bool
	color   renderer.RGB
	radius  float64

	// offset raises draped geometry off the surface to keep it from
	// z-fighting with the terrain mesh.
	offset float64

	features   []*Feature
	placemarks []*Placemark
	ps         PickSupport
}

func NewVectorLayer(name string, color renderer.RGB, radius float64) *VectorLayer {
	if radius <= 0 {
		radius = 6371e3
	}
	return &VectorLayer{
		name:    name,
		enabled: true,
		color:   color,
		radius:  radius,
		offset:  10,
	}
}

func (vl *VectorLayer) Name() string       { return vl.name }
func (vl *VectorLayer) Enabled() bool      { return vl.enabled }
func (vl *VectorLayer) SetEnabled(on bool) { vl.enabled = on }

func (vl *VectorLayer) AddFeature(f *Feature) {
	vl.features = append(vl.features, f)
}
func (vl *VectorLayer) AddPlacemark(pm *Placemark) {
	vl.placemarks = append(vl.placemarks, pm)
}

func (vl *VectorLayer) Render(dc *DrawContext) {
	ld := renderer.GetLinesDrawBuilder()
	defer renderer.ReturnLinesDrawBuilder(ld)
	pd := renderer.GetPointsDrawBuilder()
	defer renderer.ReturnPointsDrawBuilder(pd)

	for _, f := range vl.features {
		vl.walk(dc, f.Geometry,
			func(p [3]float32) { pd.AddPoint(p, vl.color) },
			func(p [][3]float32) { ld.AddLineStrip(p) },
			func(p [][3]float32) { ld.AddLineLoop(p) })
	}

	cb := renderer.GetCommandBuffer()
	defer renderer.ReturnCommandBuffer(cb)
	cb.SetRGB(vl.color)
	cb.LineWidth(1, 1)
	cb.PointSize(4, 1)
	ld.GenerateCommands(cb)
	pd.GenerateCommands(cb)
	dc.Draw(cb)

	vl.submitPlacemarks(dc)
}

func (vl *VectorLayer) Pick(dc *DrawContext) {
	cld := renderer.GetColoredLinesDrawBuilder()
	defer renderer.ReturnColoredLinesDrawBuilder(cld)
	pd := renderer.GetPointsDrawBuilder()
	defer renderer.ReturnPointsDrawBuilder(pd)

	for _, f := range vl.features {
		code := dc.NextPickCode()
		color := renderer.PickColorForCode(code)
		vl.ps.AddPickableObject(code, f, featurePosition(f), false)

		vl.walk(dc, f.Geometry,
			func(p [3]float32) { pd.AddPoint(p, color) },
			func(p [][3]float32) {
				for i := 0; i < len(p)-1; i++ {
					cld.AddLine(p[i], p[i+1], color)
				}
			},
			func(p [][3]float32) { cld.AddLineLoop(color, p) })
	}

	cb := renderer.GetCommandBuffer()
	defer renderer.ReturnCommandBuffer(cb)
	cb.LineWidth(3, 1) // widen the pick footprint
	cb.PointSize(8, 1)
	cld.GenerateCommands(cb)
	pd.GenerateCommands(cb)
	dc.Draw(cb)

	vl.ps.ResolvePick(dc, vl)

	vl.submitPlacemarks(dc)
}

// submitPlacemarks queues the layer's placemarks for the deferred pass.
func (vl *VectorLayer) submitPlacemarks(dc *DrawContext) {
	for _, pm := range vl.placemarks {
		pt := vl.surfacePoint64(dc, pm.Position.Lat, pm.Position.Lon, pm.Position.Elevation)
		dc.AddOrderedRenderable(&placemarkRenderable{
			layer:    vl,
			pm:       pm,
			pt:       [3]float32{float32(pt[0]), float32(pt[1]), float32(pt[2])},
			distance: pt.Sub(dc.EyePoint).Len(),
		})
	}
}

func featurePosition(f *Feature) geo.Position {
	b := f.Geometry.Bound()
	c := b.Center()
	return geo.Position{LatLon: geo.LatLonFromDegrees(c[1], c[0])}
}

// walk dispatches an orb geometry to the point/strip/loop callbacks with
// vertices mapped onto the terrain surface.
func (vl *VectorLayer) walk(dc *DrawContext, g orb.Geometry,
	point func([3]float32), strip func([][3]float32), loop func([][3]float32)) {
	verts := func(pts []orb.Point) [][3]float32 {
		v := make([][3]float32, len(pts))
		for i, p := range pts {
			v[i] = vl.surfaceVertex(dc, geo.Radians(p[1]), geo.Radians(p[0]))
		}
		return v
	}

	switch g := g.(type) {
	case orb.Point:
		point(vl.surfaceVertex(dc, geo.Radians(g[1]), geo.Radians(g[0])))
	case orb.MultiPoint:
		for _, p := range g {
			point(vl.surfaceVertex(dc, geo.Radians(p[1]), geo.Radians(p[0])))
		}
	case orb.LineString:
		strip(verts(g))
	case orb.MultiLineString:
		for _, ls := range g {
			strip(verts(ls))
		}
	case orb.Ring:
		loop(verts(g))
	case orb.Polygon:
		for _, r := range g {
			loop(verts(r))
		}
	case orb.MultiPolygon:
		for _, poly := range g {
			for _, r := range poly {
				loop(verts(r))
			}
		}
	case orb.Bound:
		loop(verts(g.ToRing()))
	case orb.Collection:
		for _, sub := range g {
			vl.walk(dc, sub, point, strip, loop)
		}
	}
}

func (vl *VectorLayer) surfaceVertex(dc *DrawContext, lat, lon float64) [3]float32 {
	p := vl.surfacePoint64(dc, lat, lon, 0)
	return [3]float32{float32(p[0]), float32(p[1]), float32(p[2])}
}

// surfacePoint64 maps a location onto the tessellated surface (plus the
// anti-z-fighting offset), falling back to the reference sphere where no
// terrain geometry covers it.
func (vl *VectorLayer) surfacePoint64(dc *DrawContext, lat, lon, elevation float64) mgl64.Vec3 {
	if dc.Terrain != nil {
		if sp, ok := dc.Terrain.SurfacePoint(lat, lon); ok {
			scale := (sp.Len() + vl.offset + elevation) / sp.Len()
			return sp.Mul(scale)
		}
	}
	return terrain.Cartesian(lat, lon, elevation+vl.offset, vl.radius)
}

///////////////////////////////////////////////////////////////////////////
// Placemark deferred rendering

type placemarkRenderable struct {
	layer    *VectorLayer
	pm       *Placemark
	pt       [3]float32
	distance float64
	ps       PickSupport
}

func (pr *placemarkRenderable) Distance() float64 { return pr.distance }

func (pr *placemarkRenderable) Render(dc *DrawContext) {
	cb := renderer.GetCommandBuffer()
	defer renderer.ReturnCommandBuffer(cb)
	pd := renderer.GetPointsDrawBuilder()
	defer renderer.ReturnPointsDrawBuilder(pd)

	size := pr.pm.Size
	if size <= 0 {
		size = 5
	}
	cb.PointSize(size, 1)
	pd.AddPoint(pr.pt, pr.pm.Color)
	pd.GenerateCommands(cb)
	dc.Draw(cb)
}

func (pr *placemarkRenderable) Pick(dc *DrawContext) {
	code := dc.NextPickCode()
	pr.ps.AddPickableObject(code, pr.pm, pr.pm.Position, false)

	cb := renderer.GetCommandBuffer()
	defer renderer.ReturnCommandBuffer(cb)
	pd := renderer.GetPointsDrawBuilder()
	defer renderer.ReturnPointsDrawBuilder(pd)

	size := pr.pm.Size
	if size <= 0 {
		size = 5
	}
	cb.PointSize(size+4, 1) // widen the pick footprint
	pd.AddPoint(pr.pt, renderer.PickColorForCode(code))
	pd.GenerateCommands(cb)
	dc.Draw(cb)

	pr.ps.ResolvePick(dc, pr.layer)
}
