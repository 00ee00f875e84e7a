// terrain/tessellator.go
// Copyright(c) 2026 tellus contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package terrain

import (
	gomath "math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/tellusgl/tellus/geo"
	"github.com/tellusgl/tellus/log"
	"github.com/tellusgl/tellus/renderer"
)

// Cartesian maps a geographic location to globe-centered coordinates on a
// sphere of the given radius: +y through the north pole, +z through
// (0, 0), +x through (0, 90E).
func Cartesian(lat, lon, elevation, radius float64) mgl64.Vec3 {
	r := radius + elevation
	cosLat := gomath.Cos(lat)
	return mgl64.Vec3{r * cosLat * gomath.Sin(lon), r * gomath.Sin(lat), r * cosLat * gomath.Cos(lon)}
}

// SectorGeometry is the tessellated mesh for one sector patch: a regular
// numLat x numLon vertex grid displaced by the model's elevations, with
// (min, max) elevation bounds for culling. Its lifetime is one frame unless
// the tessellation state key is unchanged.
type SectorGeometry struct {
	Sector                     geo.Sector
	MinElevation, MaxElevation float64

	numLat, numLon int
	elevations     []float64 // row-major, south row first
	vertices       [][3]float32
	radius         float64
	exaggeration   float64
}

// SurfacePoint returns the globe-centered point on the tessellated surface
// at the given location, interpolating the patch's elevation grid. ok is
// false if the location is outside the patch.
func (sg *SectorGeometry) SurfacePoint(lat, lon float64) (mgl64.Vec3, bool) {
	if !sg.Sector.Contains(lat, lon) {
		return mgl64.Vec3{}, false
	}

	sLat := (lat - sg.Sector.MinLat) / sg.Sector.DeltaLat() * float64(sg.numLat-1)
	sLon := (lon - sg.Sector.MinLon) / sg.Sector.DeltaLon() * float64(sg.numLon-1)
	j := minInt(int(sLat), sg.numLat-2)
	i := minInt(int(sLon), sg.numLon-2)
	fLat := sLat - float64(j)
	fLon := sLon - float64(i)

	e00 := sg.elevations[j*sg.numLon+i]
	e01 := sg.elevations[j*sg.numLon+i+1]
	e10 := sg.elevations[(j+1)*sg.numLon+i]
	e11 := sg.elevations[(j+1)*sg.numLon+i+1]
	e := (1-fLat)*((1-fLon)*e00+fLon*e01) + fLat*((1-fLon)*e10+fLon*e11)

	return Cartesian(lat, lon, e*sg.exaggeration, sg.radius), true
}

// Render adds the patch's mesh to the command buffer, drawn in the current
// color.
func (sg *SectorGeometry) Render(cb *renderer.CommandBuffer) {
	td := renderer.GetTrianglesDrawBuilder()
	defer renderer.ReturnTrianglesDrawBuilder(td)

	td.AddGrid(sg.numLat, sg.numLon, sg.vertices)
	td.GenerateCommands(cb)
}

// Pick adds the patch's mesh drawn in the given solid pick color.
func (sg *SectorGeometry) Pick(cb *renderer.CommandBuffer, color renderer.RGB) {
	cb.SetRGB(color)
	sg.Render(cb)
}

// SectorGeometryList is the frame's tessellated terrain: the patches
// covering the visible sector.
type SectorGeometryList struct {
	Sector   geo.Sector
	Geometry []*SectorGeometry
}

// SurfacePoint delegates to the patch containing the location.
func (l *SectorGeometryList) SurfacePoint(lat, lon float64) (mgl64.Vec3, bool) {
	for _, sg := range l.Geometry {
		if p, ok := sg.SurfacePoint(lat, lon); ok {
			return p, true
		}
	}
	return mgl64.Vec3{}, false
}

func (l *SectorGeometryList) Render(cb *renderer.CommandBuffer) {
	for _, sg := range l.Geometry {
		sg.Render(cb)
	}
}

// Tessellator turns the elevation model into renderable sector geometry
// for the visible sector at a target resolution.
type Tessellator interface {
	Tessellate(model *Model, sector geo.Sector, targetResolution float64, verticalExaggeration float64) *SectorGeometryList
}

// RectTessellatorConfig configures a RectTessellator; zero values select
// defaults.
type RectTessellatorConfig struct {
	// Radius of the globe in meters.
	Radius float64 `json:"radius,omitempty"`
	// NumPatches subdivides the visible sector into NumPatches^2 patches.
	NumPatches int `json:"num_patches,omitempty"`
	// PatchDensity is the number of vertices along each patch edge.
	PatchDensity int `json:"patch_density,omitempty"`
}

// RectTessellator tessellates the visible sector as a regular grid of
// rectangular patches sampled from the elevation model. Geometry is cached
// and rebuilt only when the view, the exaggeration, or the model's tile
// state changes.
type RectTessellator struct {
	radius  float64
	patches int
	density int
	lg      *log.Logger

	lastKey  tessKey
	lastGeom *SectorGeometryList
}

type tessKey struct {
	sector       geo.Sector
	targetRes    float64
	exaggeration float64
	modelState   uint64
}

func NewRectTessellator(config RectTessellatorConfig, lg *log.Logger) *RectTessellator {
	if config.Radius <= 0 {
		config.Radius = 6371e3
	}
	if config.NumPatches < 1 {
		config.NumPatches = 4
	}
	if config.PatchDensity < 2 {
		config.PatchDensity = 17
	}
	return &RectTessellator{
		radius:  config.Radius,
		patches: config.NumPatches,
		density: config.PatchDensity,
		lg:      lg,
	}
}

func (rt *RectTessellator) Tessellate(model *Model, sector geo.Sector, targetResolution float64, verticalExaggeration float64) *SectorGeometryList {
	key := tessKey{
		sector:       sector,
		targetRes:    targetResolution,
		exaggeration: verticalExaggeration,
		modelState:   model.StateKey(),
	}
	if rt.lastGeom != nil && key == rt.lastKey {
		return rt.lastGeom
	}

	visible, ok := sector.Intersection(model.Coverage())
	if !ok {
		return nil
	}

	list := &SectorGeometryList{Sector: visible}
	dLat := visible.DeltaLat() / float64(rt.patches)
	dLon := visible.DeltaLon() / float64(rt.patches)

	for pj := 0; pj < rt.patches; pj++ {
		for pi := 0; pi < rt.patches; pi++ {
			patch := geo.Sector{
				MinLat: visible.MinLat + float64(pj)*dLat,
				MaxLat: visible.MinLat + float64(pj+1)*dLat,
				MinLon: visible.MinLon + float64(pi)*dLon,
				MaxLon: visible.MinLon + float64(pi+1)*dLon,
			}
			if sg := rt.tessellatePatch(model, patch, targetResolution, verticalExaggeration); sg != nil {
				list.Geometry = append(list.Geometry, sg)
			}
		}
	}

	if len(list.Geometry) == 0 {
		return nil
	}
	rt.lastKey, rt.lastGeom = key, list
	return list
}

func (rt *RectTessellator) tessellatePatch(model *Model, patch geo.Sector, targetResolution, exaggeration float64) *SectorGeometry {
	n := rt.density
	resolved := model.Resolve(patch, targetResolution)

	// Record the resolved extremes for later bound queries, then use the
	// precomputed bounds (which cover not-yet-resident detail) for this
	// patch's extent.
	model.CacheExtremes(patch, resolved)
	minEl, maxEl := model.ExtremesForSector(patch)

	missing := model.MissingDataSignal()
	elevations := make([]float64, n*n)
	vertices := make([][3]float32, 0, n*n)
	for j := 0; j < n; j++ {
		lat := gridCoord(patch.MinLat, patch.MaxLat, j, n)
		for i := 0; i < n; i++ {
			lon := gridCoord(patch.MinLon, patch.MaxLon, i, n)
			e := 0.0
			if v, ok := resolved.ElevationAt(lat, lon); ok && v != missing {
				e = v
			}
			elevations[j*n+i] = e
			p := Cartesian(lat, lon, e*exaggeration, rt.radius)
			vertices = append(vertices, [3]float32{float32(p[0]), float32(p[1]), float32(p[2])})
		}
	}

	return &SectorGeometry{
		Sector:       patch,
		MinElevation: minEl,
		MaxElevation: maxEl,
		numLat:       n,
		numLon:       n,
		elevations:   elevations,
		vertices:     vertices,
		radius:       rt.radius,
		exaggeration: exaggeration,
	}
}
