// terrain/level.go
// Copyright(c) 2026 tellus contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

// Package terrain implements the level-of-detail elevation model and the
// terrain tessellation built on top of it: a resolution pyramid of
// elevation tiles fetched asynchronously and cached in memory and on disk,
// point/grid elevation queries with coarser-level fallback, a precomputed
// extreme-elevation index for bounding, and the tessellator that turns
// resolved elevations into renderable sector geometry.
package terrain

import (
	"fmt"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/tellusgl/tellus/geo"
)

// TileKey uniquely identifies one tile's slot in the memory cache and its
// path in the file store.
type TileKey struct {
	LevelNumber int
	Row, Col    int
	CacheName   string
}

func (k TileKey) String() string {
	return fmt.Sprintf("%s/%d/%d/%d", k.CacheName, k.LevelNumber, k.Row, k.Col)
}

// Path returns the tile's relative path in the file store.
func (k TileKey) Path() string {
	return fmt.Sprintf("%s/%d/%d/%d_%d.bil", k.CacheName, k.LevelNumber, k.Row, k.Row, k.Col)
}

// Level is one rung of the resolution pyramid.
type Level struct {
	Number     int
	TileDelta  geo.LatLon
	TileWidth  int
	TileHeight int
	CacheName  string

	// Expiry bounds the age of this level's on-disk tile files; zero means
	// they never go stale. In-memory tiles are not checked against it.
	Expiry time.Duration

	// Empty marks a level that exists in the pyramid only as a
	// placeholder, with no backing data at this detail.
	Empty bool

	// Tiles confirmed missing upstream, tracked to suppress repeat
	// requests. Marks expire after the retry interval; the attempt counts
	// live in a separate map so that they accumulate across expiries, and
	// once a count reaches maxAbsentAttempts the mark no longer expires.
	absent            *ttlcache.Cache[TileKey, int]
	maxAbsentAttempts int
	attemptsMu        sync.Mutex
	attempts          map[TileKey]int
}

// TexelSize returns the level's angular resolution in radians per sample.
func (l *Level) TexelSize() float64 {
	return l.TileDelta.Lat / float64(l.TileHeight)
}

// IsAbsent reports whether the tile is currently marked missing upstream.
func (l *Level) IsAbsent(key TileKey) bool {
	return l.absent.Get(key) != nil
}

// MarkAbsent records that a request for the tile failed. The mark expires
// after the configured retry interval so the tile is eventually retried,
// until maxAbsentAttempts failures make it permanent.
func (l *Level) MarkAbsent(key TileKey) {
	l.attemptsMu.Lock()
	l.attempts[key]++
	attempts := l.attempts[key]
	l.attemptsMu.Unlock()

	ttl := ttlcache.DefaultTTL
	if attempts >= l.maxAbsentAttempts {
		ttl = ttlcache.NoTTL
	}
	l.absent.Set(key, attempts, ttl)
}

// UnmarkAbsent clears the tile's absent mark, e.g. after a successful
// retrieval.
func (l *Level) UnmarkAbsent(key TileKey) {
	l.attemptsMu.Lock()
	delete(l.attempts, key)
	l.attemptsMu.Unlock()
	l.absent.Delete(key)
}

// PermanentlyAbsent returns the tiles whose absent marks no longer expire.
func (l *Level) PermanentlyAbsent() []TileKey {
	var keys []TileKey
	for key, item := range l.absent.Items() {
		if item.TTL() == ttlcache.NoTTL {
			keys = append(keys, key)
		}
	}
	return keys
}

// markPermanentAbsent installs a non-expiring absent mark, used when
// restoring marks persisted by a previous run.
func (l *Level) markPermanentAbsent(key TileKey) {
	l.attemptsMu.Lock()
	l.attempts[key] = l.maxAbsentAttempts
	l.attemptsMu.Unlock()
	l.absent.Set(key, l.maxAbsentAttempts, ttlcache.NoTTL)
}

// LevelSetConfig describes a resolution pyramid. The first level covers the
// globe in tiles of FirstLevelDelta angular size; each subsequent level
// halves the delta.
type LevelSetConfig struct {
	Sector          geo.Sector `json:"sector"`
	Origin          geo.LatLon `json:"origin"`
	FirstLevelDelta geo.LatLon `json:"first_level_delta"`
	NumLevels       int        `json:"num_levels"`
	TileWidth       int        `json:"tile_width"`
	TileHeight      int        `json:"tile_height"`
	CacheName       string     `json:"cache_name"`

	// EmptyLevels lists pyramid levels with no backing data.
	EmptyLevels []int `json:"empty_levels,omitempty"`

	// RetryInterval gives how long a tile stays marked absent after a
	// failed request before it may be retried; MaxAbsentAttempts caps the
	// retries. Zero values select defaults.
	RetryInterval     time.Duration `json:"retry_interval,omitempty"`
	MaxAbsentAttempts int           `json:"max_absent_attempts,omitempty"`

	// Expiry for on-disk tile files; zero means never stale.
	Expiry time.Duration `json:"expiry,omitempty"`
}

// LevelSet is the ordered sequence of levels, coarsest first.
type LevelSet struct {
	sector    geo.Sector
	origin    geo.LatLon
	cacheName string
	levels    []*Level
}

func NewLevelSet(config LevelSetConfig) (*LevelSet, error) {
	if config.NumLevels < 1 {
		return nil, fmt.Errorf("level set needs at least one level, got %d", config.NumLevels)
	}
	if config.TileWidth < 2 || config.TileHeight < 2 {
		return nil, fmt.Errorf("tile dimensions %dx%d: must be at least 2x2",
			config.TileWidth, config.TileHeight)
	}
	if config.FirstLevelDelta.Lat <= 0 || config.FirstLevelDelta.Lon <= 0 {
		return nil, fmt.Errorf("first level delta must be positive")
	}
	if config.Sector.IsEmpty() {
		return nil, fmt.Errorf("level set sector is empty")
	}
	if config.CacheName == "" {
		return nil, fmt.Errorf("cache name not specified")
	}

	retry := config.RetryInterval
	if retry <= 0 {
		retry = time.Minute
	}
	maxAttempts := config.MaxAbsentAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	empty := make(map[int]bool)
	for _, n := range config.EmptyLevels {
		empty[n] = true
	}

	ls := &LevelSet{
		sector:    config.Sector,
		origin:    config.Origin,
		cacheName: config.CacheName,
	}
	delta := config.FirstLevelDelta
	for n := 0; n < config.NumLevels; n++ {
		ls.levels = append(ls.levels, &Level{
			Number:     n,
			TileDelta:  delta,
			TileWidth:  config.TileWidth,
			TileHeight: config.TileHeight,
			CacheName:  config.CacheName,
			Expiry:     config.Expiry,
			Empty:      empty[n],
			absent: ttlcache.New(
				ttlcache.WithTTL[TileKey, int](retry),
				ttlcache.WithDisableTouchOnHit[TileKey, int]()),
			maxAbsentAttempts: maxAttempts,
			attempts:          make(map[TileKey]int),
		})
		delta.Lat /= 2
		delta.Lon /= 2
	}
	return ls, nil
}

func (ls *LevelSet) Sector() geo.Sector { return ls.sector }
func (ls *LevelSet) Origin() geo.LatLon { return ls.origin }
func (ls *LevelSet) CacheName() string  { return ls.cacheName }
func (ls *LevelSet) NumLevels() int     { return len(ls.levels) }

func (ls *LevelSet) Level(n int) *Level {
	if n < 0 || n >= len(ls.levels) {
		return nil
	}
	return ls.levels[n]
}

func (ls *LevelSet) FirstLevel() *Level { return ls.levels[0] }
func (ls *LevelSet) LastLevel() *Level  { return ls.levels[len(ls.levels)-1] }

// LastNonEmptyLevel returns the finest level with backing data.
func (ls *LevelSet) LastNonEmptyLevel() *Level {
	for n := len(ls.levels) - 1; n >= 0; n-- {
		if !ls.levels[n].Empty {
			return ls.levels[n]
		}
	}
	return ls.levels[0]
}

// LevelForTexelSize returns the coarsest level whose texel size satisfies
// the given target resolution, never finer than the last level with data.
func (ls *LevelSet) LevelForTexelSize(target float64) *Level {
	last := ls.LastNonEmptyLevel()
	if last.TexelSize() >= target {
		// Even the finest level can't do better than the target.
		return last
	}
	for _, level := range ls.levels {
		if !level.Empty && level.TexelSize() <= target {
			return level
		}
	}
	return last
}

// Key returns the tile key for the given level, row, and column.
func (ls *LevelSet) Key(level *Level, row, col int) TileKey {
	return TileKey{LevelNumber: level.Number, Row: row, Col: col, CacheName: ls.cacheName}
}
