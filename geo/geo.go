// geo/geo.go
// Copyright(c) 2026 tellus contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

// Package geo provides the geographic value types the rest of tellus is
// built on: latitude/longitude pairs, positions with elevation, sectors
// (lat/lon bounding rectangles), and the level/row/column tile addressing
// scheme used by the terrain pyramids. Angles are radians throughout;
// degrees appear only at API edges via the conversion helpers.
package geo

import (
	gomath "math"
)

func Radians(d float64) float64 {
	return d * gomath.Pi / 180
}

func Degrees(r float64) float64 {
	return r * 180 / gomath.Pi
}

// LatLon is a geographic location; both components are radians.
type LatLon struct {
	Lat, Lon float64
}

func LatLonFromDegrees(lat, lon float64) LatLon {
	return LatLon{Lat: Radians(lat), Lon: Radians(lon)}
}

// Position is a geographic location plus an elevation in meters above the
// reference ellipsoid.
type Position struct {
	LatLon
	Elevation float64
}
