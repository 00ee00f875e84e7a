// terrain/tile.go
// Copyright(c) 2026 tellus contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package terrain

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/tellusgl/tellus/geo"
)

// ElevationTile holds one tile's decoded elevation samples: Width x Height
// 16-bit values in row-major order with the first row at the sector's
// northern edge. Tiles are immutable once installed in the memory cache.
type ElevationTile struct {
	Key    TileKey
	Sector geo.Sector
	Width  int
	Height int

	texelSize float64
	samples   []int16
	updated   time.Time
}

func newElevationTile(level *Level, key TileKey, origin geo.LatLon, samples []int16, updated time.Time) *ElevationTile {
	return &ElevationTile{
		Key:       key,
		Sector:    geo.TileSector(key.Row, key.Col, level.TileDelta, origin),
		Width:     level.TileWidth,
		Height:    level.TileHeight,
		texelSize: level.TexelSize(),
		samples:   samples,
		updated:   updated,
	}
}

func (t *ElevationTile) Samples() []int16   { return t.samples }
func (t *ElevationTile) Updated() time.Time { return t.updated }
func (t *ElevationTile) TexelSize() float64 { return t.texelSize }

func (t *ElevationTile) SizeBytes() int64 {
	return int64(2 * len(t.samples))
}

// ElevationAt bilinearly interpolates the tile's samples at the given
// location, which must lie within the tile's sector. If any of the
// contributing samples equals the missing-data signal, the signal is
// returned rather than a blend of garbage.
func (t *ElevationTile) ElevationAt(lat, lon float64, missing float64) float64 {
	// Fractional position within the tile; rows run north to south.
	dLat := t.Sector.MaxLat - lat
	dLon := lon - t.Sector.MinLon
	sLat := dLat / t.Sector.DeltaLat()
	sLon := dLon / t.Sector.DeltaLon()

	j := int(float64(t.Height-1) * sLat)
	i := int(float64(t.Width-1) * sLon)
	if j < 0 || j >= t.Height || i < 0 || i >= t.Width {
		return missing
	}

	k := j*t.Width + i
	eLeft := float64(t.samples[k])
	eRight := eLeft
	if i < t.Width-1 {
		eRight = float64(t.samples[k+1])
	}
	if eLeft == missing || eRight == missing {
		return missing
	}

	dw := t.Sector.DeltaLon() / float64(t.Width-1)
	dh := t.Sector.DeltaLat() / float64(t.Height-1)
	ssLon := (dLon - float64(i)*dw) / dw
	ssLat := (dLat - float64(j)*dh) / dh

	eTop := eLeft + ssLon*(eRight-eLeft)

	if j < t.Height-1 && i < t.Width-1 {
		eLeft = float64(t.samples[k+t.Width])
		eRight = float64(t.samples[k+t.Width+1])
		if eLeft == missing || eRight == missing {
			return missing
		}
	}
	eBot := eLeft + ssLon*(eRight-eLeft)

	return eTop + ssLat*(eBot-eTop)
}

// Extremes scans the tile's samples within the given sector and returns
// their (min, max), skipping missing-data samples. ok is false if no
// sample contributed.
func (t *ElevationTile) Extremes(sector geo.Sector, missing float64) (float64, float64, bool) {
	isect, ok := t.Sector.Intersection(sector)
	if !ok {
		return 0, 0, false
	}

	// Sample index ranges covering the intersection, inclusive.
	j0 := int(float64(t.Height-1) * (t.Sector.MaxLat - isect.MaxLat) / t.Sector.DeltaLat())
	j1 := int(float64(t.Height-1)*(t.Sector.MaxLat-isect.MinLat)/t.Sector.DeltaLat() + 1)
	i0 := int(float64(t.Width-1) * (isect.MinLon - t.Sector.MinLon) / t.Sector.DeltaLon())
	i1 := int(float64(t.Width-1)*(isect.MaxLon-t.Sector.MinLon)/t.Sector.DeltaLon() + 1)
	j1 = minInt(j1, t.Height-1)
	i1 = minInt(i1, t.Width-1)

	var min, max float64
	any := false
	for j := j0; j <= j1; j++ {
		for i := i0; i <= i1; i++ {
			e := float64(t.samples[j*t.Width+i])
			if e == missing {
				continue
			}
			if !any {
				min, max = e, e
				any = true
			} else {
				if e < min {
					min = e
				}
				if e > max {
					max = e
				}
			}
		}
	}
	return min, max, any
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// decodeSamples decodes a raw tile payload: little-endian 16-bit signed
// integers with no header. The expected sample count comes from the level
// configuration, not the file.
func decodeSamples(data []byte, n int) ([]int16, error) {
	if len(data) != 2*n {
		return nil, fmt.Errorf("payload is %d bytes, want %d", len(data), 2*n)
	}
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[2*i:]))
	}
	return samples, nil
}
