// terrain/tile_test.go
// Copyright(c) 2026 tellus contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package terrain

import (
	"encoding/binary"
	gomath "math"
	"testing"
	"time"

	"github.com/tellusgl/tellus/geo"
)

const testMissing = -32768.0

// testTile returns a 4x4 tile covering 0-10 degrees on both axes with the
// given samples (row-major, north row first).
func testTile(t *testing.T, samples []int16) *ElevationTile {
	t.Helper()

	level := &Level{
		Number:     0,
		TileDelta:  geo.LatLon{Lat: geo.Radians(10), Lon: geo.Radians(10)},
		TileWidth:  4,
		TileHeight: 4,
		CacheName:  "earth",
	}
	origin := geo.LatLonFromDegrees(-90, -180)
	key := TileKey{LevelNumber: 0, Row: 9, Col: 18, CacheName: "earth"}
	tile := newElevationTile(level, key, origin, samples, time.Now())

	want := geo.SectorFromDegrees(0, 10, 0, 10)
	if gomath.Abs(tile.Sector.MinLat-want.MinLat) > 1e-12 || gomath.Abs(tile.Sector.MinLon-want.MinLon) > 1e-12 {
		t.Fatalf("tile sector %v, want %v", tile.Sector, want)
	}
	return tile
}

func TestTileInterpolationCorners(t *testing.T) {
	samples := []int16{
		0, 100, 100, 0,
		50, 150, 150, 50,
		50, 150, 150, 50,
		0, 100, 100, 0,
	}
	tile := testTile(t, samples)

	// The first sample row is the tile's northern edge.
	corners := []struct {
		lat, lon float64 // degrees
		want     float64
	}{
		{10, 0, 0},    // NW = samples[0]
		{10, 10, 0},   // NE = samples[3]
		{0, 0, 0},     // SW = samples[12]
		{0, 10, 0},    // SE = samples[15]
		{10, 10. / 3, 100}, // second sample of the north row
	}
	for _, c := range corners {
		got := tile.ElevationAt(geo.Radians(c.lat), geo.Radians(c.lon), testMissing)
		if gomath.Abs(got-c.want) > 1e-9 {
			t.Errorf("ElevationAt(%v, %v) = %v, want %v", c.lat, c.lon, got, c.want)
		}
	}
}

func TestTileInterpolationCenter(t *testing.T) {
	samples := []int16{
		0, 100, 100, 0,
		50, 150, 150, 50,
		50, 150, 150, 50,
		0, 100, 100, 0,
	}
	tile := testTile(t, samples)

	// The exact center averages the four center-adjacent samples.
	got := tile.ElevationAt(geo.Radians(5), geo.Radians(5), testMissing)
	if gomath.Abs(got-150) > 1e-9 {
		t.Errorf("center elevation = %v, want 150", got)
	}
}

func TestTileMissingDataPropagation(t *testing.T) {
	samples := []int16{
		0, 100, 100, 0,
		50, -32768, 150, 50,
		50, 150, 150, 50,
		0, 100, 100, 0,
	}
	tile := testTile(t, samples)

	// The center's 2x2 neighborhood includes the missing sample; the
	// result must be the signal, not a blend.
	got := tile.ElevationAt(geo.Radians(5), geo.Radians(5), testMissing)
	if got != testMissing {
		t.Errorf("interpolation with a missing neighbor = %v, want the missing-data signal", got)
	}

	// A query whose neighborhood avoids the missing sample still works.
	got = tile.ElevationAt(geo.Radians(0.1), geo.Radians(9.9), testMissing)
	if got == testMissing {
		t.Errorf("interpolation away from the missing sample returned the signal")
	}
}

func TestTileExtremes(t *testing.T) {
	samples := []int16{
		0, 100, 100, 0,
		50, -32768, 150, 50,
		50, 150, 150, 50,
		0, 100, 100, 0,
	}
	tile := testTile(t, samples)

	min, max, ok := tile.Extremes(tile.Sector, testMissing)
	if !ok {
		t.Fatal("no extremes from a populated tile")
	}
	if min != 0 || max != 150 {
		t.Errorf("extremes (%v, %v), want (0, 150); missing samples must be skipped", min, max)
	}
}

func TestDecodeSamples(t *testing.T) {
	want := []int16{100, -200, 32767, -32768}
	data := make([]byte, 8)
	for i, v := range want {
		binary.LittleEndian.PutUint16(data[2*i:], uint16(v))
	}

	samples, err := decodeSamples(data, 4)
	if err != nil {
		t.Fatal(err)
	}
	for i := range want {
		if samples[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, samples[i], want[i])
		}
	}

	if _, err := decodeSamples(data, 5); err == nil {
		t.Errorf("short payload not rejected")
	}
	if _, err := decodeSamples(data[:7], 4); err == nil {
		t.Errorf("truncated payload not rejected")
	}
}
