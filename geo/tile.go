// geo/tile.go
// Copyright(c) 2026 tellus contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package geo

import (
	gomath "math"
)

// Tile addressing maps geographic coordinates to row/column indices in a
// regular grid of tiles with angular size delta, anchored at origin (the
// grid's southwest corner). Rows increase northward and columns eastward.

// tileEps absorbs the rounding error of edge coordinates computed by
// subtraction or accumulation: an edge that lands a hair below a tile
// boundary still addresses the tile whose edge it is.
const tileEps = 1e-9

// TileRow returns the row index of the tile containing latitude.
func TileRow(deltaLat, latitude, originLat float64) int {
	row := int(gomath.Floor((latitude-originLat)/deltaLat + tileEps))
	// Latitude at the very top of the grid belongs to the last row, not
	// one past it.
	if latitude-originLat >= gomath.Pi {
		row = int(gomath.Round(gomath.Pi/deltaLat)) - 1
	}
	return row
}

// TileColumn returns the column index of the tile containing longitude.
// Longitudes west of the origin wrap around so that +/-180° map into
// adjacent columns rather than overflowing the grid.
func TileColumn(deltaLon, longitude, originLon float64) int {
	gridLon := longitude - originLon
	if gridLon < 0 {
		gridLon += 2 * gomath.Pi
	}
	col := int(gomath.Floor(gridLon/deltaLon + tileEps))
	// Longitude at the end of the grid belongs to the last column.
	if longitude-originLon >= 2*gomath.Pi {
		col = int(gomath.Round(2*gomath.Pi/deltaLon)) - 1
	}
	return col
}

// TileRowMax returns the row index for the northern edge of a sector: the
// inclusive end of the row range covering latitudes up to latitude. An edge
// exactly on a tile boundary belongs to the row south of it.
func TileRowMax(deltaLat, latitude, originLat float64) int {
	row := int(gomath.Ceil((latitude-originLat)/deltaLat-tileEps)) - 1
	return max(row, 0)
}

// TileColumnMax returns the column index for the eastern edge of a sector,
// with the same wraparound as TileColumn. An edge exactly on a tile boundary
// belongs to the column west of it.
func TileColumnMax(deltaLon, longitude, originLon float64) int {
	gridLon := longitude - originLon
	if gridLon < 0 {
		gridLon += 2 * gomath.Pi
	}
	col := int(gomath.Ceil(gridLon/deltaLon-tileEps)) - 1
	return max(col, 0)
}

// TileRowLatitude returns the latitude of the southern edge of row.
func TileRowLatitude(row int, deltaLat, originLat float64) float64 {
	return originLat + float64(row)*deltaLat
}

// TileColumnLongitude returns the longitude of the western edge of column.
func TileColumnLongitude(col int, deltaLon, originLon float64) float64 {
	return originLon + float64(col)*deltaLon
}

// TileSector returns the sector covered by the tile at (row, col) in a grid
// with the given delta and origin. It inverts TileRow/TileColumn: the
// returned sector's southwest corner recomputes to the same row and column.
func TileSector(row, col int, delta LatLon, origin LatLon) Sector {
	minLat := TileRowLatitude(row, delta.Lat, origin.Lat)
	minLon := TileColumnLongitude(col, delta.Lon, origin.Lon)
	return Sector{
		MinLat: minLat, MaxLat: minLat + delta.Lat,
		MinLon: minLon, MaxLon: minLon + delta.Lon,
	}
}
