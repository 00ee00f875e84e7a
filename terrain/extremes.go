// terrain/extremes.go
// Copyright(c) 2026 tellus contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package terrain

import (
	"encoding/binary"
	"fmt"
	"io"
	gomath "math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tellusgl/tellus/geo"
)

// ExtremeIndex is a precomputed coarse grid of (min, max) elevation pairs
// covering the globe, used to bound geometry and answer approximate queries
// before fine data is loaded. It is read-only after load.
//
// The side-file format is headerless big-endian 16-bit signed integers,
// interleaved (min, max) pairs in row-major order from the south; the grid
// level is encoded as the trailing numeric token of the filename, e.g.
// "SRTMExtremes_5.ext". A level-n grid divides 180 degrees into 2^n cells
// per axis, so it has 2^n rows and 2^(n+1) columns.
type ExtremeIndex struct {
	level int
	delta geo.LatLon
	nRows int
	nCols int
	pairs []int16
}

// LoadExtremeIndex reads an extremes side-file.
func LoadExtremeIndex(path string) (*ExtremeIndex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadExtremeIndex(f, filepath.Base(path))
}

// ReadExtremeIndex reads an extremes grid from r; the grid level comes from
// the filename's trailing numeric token.
func ReadExtremeIndex(r io.Reader, filename string) (*ExtremeIndex, error) {
	level, err := extremesLevelFromFilename(filename)
	if err != nil {
		return nil, err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("%s: odd-length extremes payload", filename)
	}
	pairs := make([]int16, len(data)/2)
	for i := range pairs {
		pairs[i] = int16(binary.BigEndian.Uint16(data[2*i:]))
	}

	d := geo.Radians(180 / gomath.Pow(2, float64(level)))
	idx := &ExtremeIndex{
		level: level,
		delta: geo.LatLon{Lat: d, Lon: d},
		pairs: pairs,
	}
	idx.nCols = geo.TileColumn(d, gomath.Pi, -gomath.Pi) + 1
	idx.nRows = geo.TileRow(d, gomath.Pi/2, -gomath.Pi/2) + 1
	if len(pairs) != 2*idx.nRows*idx.nCols {
		return nil, fmt.Errorf("%s: %d pairs, want %d for level %d",
			filename, len(pairs)/2, idx.nRows*idx.nCols, level)
	}
	return idx, nil
}

func extremesLevelFromFilename(filename string) (int, error) {
	name := strings.TrimSuffix(filename, filepath.Ext(filename))
	i := strings.LastIndexByte(name, '_')
	if i == -1 {
		return 0, fmt.Errorf("%s: no level token in extremes filename", filename)
	}
	level, err := strconv.Atoi(name[i+1:])
	if err != nil || level < 0 {
		return 0, fmt.Errorf("%s: bad level token in extremes filename", filename)
	}
	return level, nil
}

func (x *ExtremeIndex) Level() int { return x.level }

func (x *ExtremeIndex) cell(row, col int) (float64, float64, bool) {
	if row < 0 || row >= x.nRows || col < 0 || col >= x.nCols {
		return 0, 0, false
	}
	i := 2 * (row*x.nCols + col)
	return float64(x.pairs[i]), float64(x.pairs[i+1]), true
}

// At returns the (min, max) pair for the grid cell containing the location.
func (x *ExtremeIndex) At(lat, lon float64) (float64, float64, bool) {
	row := geo.TileRow(x.delta.Lat, lat, -gomath.Pi/2)
	col := geo.TileColumn(x.delta.Lon, lon, -gomath.Pi)
	return x.cell(row, col)
}

// ForSector scans the grid cells overlapping the sector and returns the
// overall (min, max).
func (x *ExtremeIndex) ForSector(sector geo.Sector) (float64, float64, bool) {
	row0 := geo.TileRow(x.delta.Lat, sector.MinLat, -gomath.Pi/2)
	row1 := geo.TileRow(x.delta.Lat, sector.MaxLat, -gomath.Pi/2)
	col0 := geo.TileColumn(x.delta.Lon, sector.MinLon, -gomath.Pi)
	col1 := geo.TileColumn(x.delta.Lon, sector.MaxLon, -gomath.Pi)

	var min, max float64
	any := false
	for row := row0; row <= row1; row++ {
		for col := col0; col <= col1; col++ {
			cmin, cmax, ok := x.cell(row, col)
			if !ok {
				continue
			}
			if !any {
				min, max = cmin, cmax
				any = true
			} else {
				if cmin < min {
					min = cmin
				}
				if cmax > max {
					max = cmax
				}
			}
		}
	}
	return min, max, any
}
