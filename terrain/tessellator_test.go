// terrain/tessellator_test.go
// Copyright(c) 2026 tellus contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package terrain

import (
	gomath "math"
	"testing"

	"github.com/tellusgl/tellus/geo"
	"github.com/tellusgl/tellus/renderer"
)

const testRadius = 6371e3

// tessTestModel returns a one-level model whose single tile holds a constant
// elevation, already resident in the memory cache.
func tessTestModel(t *testing.T, elevation int16) *Model {
	t.Helper()

	svc := newTestServices(t, "")
	config := ModelConfig{
		LevelSet: LevelSetConfig{
			Sector:          geo.SectorFromDegrees(0, 10, 0, 10),
			Origin:          geo.LatLonFromDegrees(-90, -180),
			FirstLevelDelta: geo.LatLon{Lat: geo.Radians(10), Lon: geo.Radians(10)},
			NumLevels:       1,
			TileWidth:       4,
			TileHeight:      4,
			CacheName:       "earth",
		},
	}
	m, err := NewModel(config, svc)
	if err != nil {
		t.Fatal(err)
	}

	level := m.Levels().FirstLevel()
	key := m.Levels().Key(level, 9, 18)
	m.installTile(level, key, flatSamples(4, 4, elevation))
	return m
}

func TestCartesian(t *testing.T) {
	// The poles and the reference meridians pin the axes.
	cases := []struct {
		lat, lon float64 // degrees
		want     [3]float64
	}{
		{90, 0, [3]float64{0, testRadius, 0}},
		{-90, 0, [3]float64{0, -testRadius, 0}},
		{0, 0, [3]float64{0, 0, testRadius}},
		{0, 90, [3]float64{testRadius, 0, 0}},
	}
	for _, c := range cases {
		p := Cartesian(geo.Radians(c.lat), geo.Radians(c.lon), 0, testRadius)
		for i := 0; i < 3; i++ {
			if gomath.Abs(p[i]-c.want[i]) > 1e-6 {
				t.Errorf("Cartesian(%v, %v)[%d] = %v, want %v", c.lat, c.lon, i, p[i], c.want[i])
			}
		}
	}

	// Elevation displaces along the radial.
	p := Cartesian(geo.Radians(45), geo.Radians(45), 1000, testRadius)
	if got, want := p.Len(), testRadius+1000; gomath.Abs(got-want) > 1e-6 {
		t.Errorf("elevated point length %v, want %v", got, want)
	}
}

func TestTessellatorGeometry(t *testing.T) {
	m := tessTestModel(t, 100)
	tess := NewRectTessellator(RectTessellatorConfig{
		Radius:       testRadius,
		NumPatches:   2,
		PatchDensity: 3,
	}, nil)

	sector := m.Coverage()
	targetRes := m.Levels().LastLevel().TexelSize()

	geom := tess.Tessellate(m, sector, targetRes, 1)
	if geom == nil {
		t.Fatal("no geometry for a fully resident sector")
	}
	if len(geom.Geometry) != 4 {
		t.Fatalf("got %d patches, want 4", len(geom.Geometry))
	}

	// Every patch lies within the visible sector and carries the tile's
	// constant elevation as its bounds.
	for _, sg := range geom.Geometry {
		if isect, ok := sg.Sector.Intersection(sector); !ok || isect != sg.Sector {
			t.Errorf("patch %v extends outside %v", sg.Sector, sector)
		}
		if sg.MinElevation != 100 || sg.MaxElevation != 100 {
			t.Errorf("patch bounds (%v, %v), want (100, 100)", sg.MinElevation, sg.MaxElevation)
		}
	}

	// A surface point sits on the displaced sphere and agrees with the
	// direct mapping.
	lat, lon := geo.Radians(5), geo.Radians(5)
	p, ok := geom.SurfacePoint(lat, lon)
	if !ok {
		t.Fatal("no surface point inside the tessellated sector")
	}
	if got, want := p.Len(), testRadius+100.0; gomath.Abs(got-want) > 1e-6 {
		t.Errorf("surface point length %v, want %v", got, want)
	}
	if want := Cartesian(lat, lon, 100, testRadius); p.Sub(want).Len() > 1e-6 {
		t.Errorf("surface point %v, want %v", p, want)
	}

	if _, ok := geom.SurfacePoint(geo.Radians(50), geo.Radians(50)); ok {
		t.Errorf("surface point reported outside the tessellated sector")
	}

	// Vertical exaggeration scales the displacement.
	geom2 := tess.Tessellate(m, sector, targetRes, 2)
	p2, _ := geom2.SurfacePoint(lat, lon)
	if got, want := p2.Len(), testRadius+200.0; gomath.Abs(got-want) > 1e-6 {
		t.Errorf("exaggerated surface point length %v, want %v", got, want)
	}

	// Rendering the list records draw commands.
	cb := renderer.GetCommandBuffer()
	defer renderer.ReturnCommandBuffer(cb)
	geom.Render(cb)
	if len(cb.Buf) == 0 {
		t.Errorf("Render recorded no commands")
	}
}

func TestTessellatorCaching(t *testing.T) {
	m := tessTestModel(t, 100)
	tess := NewRectTessellator(RectTessellatorConfig{
		Radius:       testRadius,
		NumPatches:   2,
		PatchDensity: 3,
	}, nil)

	sector := m.Coverage()
	targetRes := m.Levels().LastLevel().TexelSize()

	a := tess.Tessellate(m, sector, targetRes, 1)
	b := tess.Tessellate(m, sector, targetRes, 1)
	if a != b {
		t.Errorf("unchanged inputs rebuilt the geometry")
	}

	// A changed view invalidates the cache.
	c := tess.Tessellate(m, geo.SectorFromDegrees(2, 8, 2, 8), targetRes, 1)
	if c == a {
		t.Errorf("changed sector reused stale geometry")
	}

	// Installing a tile changes the model's state key and forces a rebuild.
	d := tess.Tessellate(m, sector, targetRes, 1)
	level := m.Levels().FirstLevel()
	m.installTile(level, m.Levels().Key(level, 9, 18), flatSamples(4, 4, 250))
	e := tess.Tessellate(m, sector, targetRes, 1)
	if e == d {
		t.Errorf("tile installation reused stale geometry")
	}
	if p, ok := e.SurfacePoint(geo.Radians(5), geo.Radians(5)); !ok || gomath.Abs(p.Len()-(testRadius+250)) > 1e-6 {
		t.Errorf("rebuilt geometry does not reflect the new tile")
	}
}

func TestTessellatorOutsideCoverage(t *testing.T) {
	m := tessTestModel(t, 100)
	tess := NewRectTessellator(RectTessellatorConfig{}, nil)

	if geom := tess.Tessellate(m, geo.SectorFromDegrees(40, 50, 40, 50), 1, 1); geom != nil {
		t.Errorf("geometry produced outside the model's coverage")
	}
}
