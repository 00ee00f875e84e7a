// geo/sector.go
// Copyright(c) 2026 tellus contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package geo

import (
	"fmt"
	gomath "math"
)

// Sector is a latitude/longitude bounding rectangle on the globe, stored in
// radians. It is an immutable value type: methods return new Sectors rather
// than mutating in place, so values may be freely copied between threads.
type Sector struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

// NewSector returns a sector with the given bounds in radians, or an error
// if the bounds are inverted on either axis.
func NewSector(minLat, maxLat, minLon, maxLon float64) (Sector, error) {
	if minLat > maxLat {
		return Sector{}, fmt.Errorf("sector latitude bounds inverted: %g > %g", minLat, maxLat)
	}
	if minLon > maxLon {
		return Sector{}, fmt.Errorf("sector longitude bounds inverted: %g > %g", minLon, maxLon)
	}
	return Sector{MinLat: minLat, MaxLat: maxLat, MinLon: minLon, MaxLon: maxLon}, nil
}

func SectorFromDegrees(minLat, maxLat, minLon, maxLon float64) Sector {
	return Sector{
		MinLat: Radians(minLat), MaxLat: Radians(maxLat),
		MinLon: Radians(minLon), MaxLon: Radians(maxLon),
	}
}

// FullSphere returns the sector covering the whole globe.
func FullSphere() Sector {
	return Sector{
		MinLat: -gomath.Pi / 2, MaxLat: gomath.Pi / 2,
		MinLon: -gomath.Pi, MaxLon: gomath.Pi,
	}
}

func (s Sector) DeltaLat() float64 { return s.MaxLat - s.MinLat }
func (s Sector) DeltaLon() float64 { return s.MaxLon - s.MinLon }

func (s Sector) Centroid() LatLon {
	return LatLon{Lat: (s.MinLat + s.MaxLat) / 2, Lon: (s.MinLon + s.MaxLon) / 2}
}

func (s Sector) IsEmpty() bool {
	return s.DeltaLat() <= 0 || s.DeltaLon() <= 0
}

func (s Sector) Contains(lat, lon float64) bool {
	return lat >= s.MinLat && lat <= s.MaxLat && lon >= s.MinLon && lon <= s.MaxLon
}

// ContainsSector reports whether the other sector lies entirely within s.
func (s Sector) ContainsSector(o Sector) bool {
	return o.MinLat >= s.MinLat && o.MaxLat <= s.MaxLat &&
		o.MinLon >= s.MinLon && o.MaxLon <= s.MaxLon
}

func (s Sector) Intersects(o Sector) bool {
	return s.MaxLat >= o.MinLat && s.MinLat <= o.MaxLat &&
		s.MaxLon >= o.MinLon && s.MinLon <= o.MaxLon
}

// Intersection returns the overlap of the two sectors; ok is false if they
// do not overlap.
func (s Sector) Intersection(o Sector) (Sector, bool) {
	r := Sector{
		MinLat: gomath.Max(s.MinLat, o.MinLat),
		MaxLat: gomath.Min(s.MaxLat, o.MaxLat),
		MinLon: gomath.Max(s.MinLon, o.MinLon),
		MaxLon: gomath.Min(s.MaxLon, o.MaxLon),
	}
	if r.MinLat > r.MaxLat || r.MinLon > r.MaxLon {
		return Sector{}, false
	}
	return r, true
}

// Union returns the smallest sector containing both s and o.
func (s Sector) Union(o Sector) Sector {
	return Sector{
		MinLat: gomath.Min(s.MinLat, o.MinLat),
		MaxLat: gomath.Max(s.MaxLat, o.MaxLat),
		MinLon: gomath.Min(s.MinLon, o.MinLon),
		MaxLon: gomath.Max(s.MaxLon, o.MaxLon),
	}
}

// Corners returns the sector's four corners in the order southwest,
// southeast, northeast, northwest.
func (s Sector) Corners() [4]LatLon {
	return [4]LatLon{
		{Lat: s.MinLat, Lon: s.MinLon},
		{Lat: s.MinLat, Lon: s.MaxLon},
		{Lat: s.MaxLat, Lon: s.MaxLon},
		{Lat: s.MaxLat, Lon: s.MinLon},
	}
}

func (s Sector) String() string {
	return fmt.Sprintf("(%.4f°, %.4f°)-(%.4f°, %.4f°)",
		Degrees(s.MinLat), Degrees(s.MinLon), Degrees(s.MaxLat), Degrees(s.MaxLon))
}
