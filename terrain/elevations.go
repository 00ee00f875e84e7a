// terrain/elevations.go
// Copyright(c) 2026 tellus contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package terrain

import (
	"github.com/tellusgl/tellus/geo"
)

// Elevations is the transient result of resolving a sector against the
// model: the set of resident tiles covering the sector at (or coarser than)
// the target level, ordered finest first. It is created per query and
// discarded after use.
type Elevations struct {
	sector  geo.Sector
	missing float64
	tiles   []*ElevationTile

	// achievedResolution is the texel size of the coarsest member tile, or
	// math.MaxFloat64 when even level zero was unavailable somewhere.
	achievedResolution float64

	// complete is true when every target-level tile was resident; only
	// extremes from complete sets may be cached, since an incomplete set
	// can under-estimate the true bounds.
	complete bool

	extremesMin, extremesMax float64
	haveExtremes             bool
}

func (e *Elevations) AchievedResolution() float64 { return e.achievedResolution }

// Complete reports whether the set resolved every tile at the target level.
func (e *Elevations) Complete() bool { return e.complete }

// ElevationAt returns the interpolated elevation at the given location from
// the finest member tile containing it. ok is false if no member tile
// covers the location.
func (e *Elevations) ElevationAt(lat, lon float64) (float64, bool) {
	for _, t := range e.tiles {
		if t.Sector.Contains(lat, lon) {
			return t.ElevationAt(lat, lon, e.missing), true
		}
	}
	return 0, false
}

// Extremes returns the min and max elevation across the member tiles,
// restricted to the query sector. The scan runs once; repeated calls
// return the memoized pair. ok is false if no samples were available.
func (e *Elevations) Extremes() (float64, float64, bool) {
	if e.haveExtremes {
		return e.extremesMin, e.extremesMax, true
	}

	any := false
	for _, t := range e.tiles {
		min, max, ok := t.Extremes(e.sector, e.missing)
		if !ok {
			continue
		}
		if !any {
			e.extremesMin, e.extremesMax = min, max
			any = true
		} else {
			if min < e.extremesMin {
				e.extremesMin = min
			}
			if max > e.extremesMax {
				e.extremesMax = max
			}
		}
	}
	e.haveExtremes = any
	return e.extremesMin, e.extremesMax, any
}
