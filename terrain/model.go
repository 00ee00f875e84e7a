// terrain/model.go
// Copyright(c) 2026 tellus contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package terrain

import (
	"context"
	"errors"
	"fmt"
	gomath "math"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tellusgl/tellus/cache"
	"github.com/tellusgl/tellus/geo"
	"github.com/tellusgl/tellus/log"
	"github.com/tellusgl/tellus/task"
	"github.com/tellusgl/tellus/util"
)

// MaxResolution is the achieved-resolution sentinel returned when a grid
// query's sector misses the model's coverage entirely or no data at all was
// resident.
const MaxResolution = gomath.MaxFloat64

// extremesCacheSize bounds the per-model cache of sector extremes lookups.
const extremesCacheSize = 64

// Services holds the collaborators a Model depends on. They are injected at
// construction; there is no global registry, so tests construct isolated
// instances without state leakage.
type Services struct {
	Cache     *cache.MemoryCache[TileKey, *ElevationTile]
	FileStore *cache.FileStore
	Tasks     *task.Service
	Retriever *task.Retriever
	Log       *log.Logger
}

// ModelConfig configures an elevation model.
type ModelConfig struct {
	LevelSet LevelSetConfig `json:"level_set"`

	// ServiceURL is the base URL tiles are retrieved from; empty disables
	// network retrieval (the model then serves only what the file store
	// and memory cache hold).
	ServiceURL string `json:"service_url,omitempty"`

	// MissingDataSignal is the sample value that marks a missing sample in
	// tile payloads. Zero selects the default, -32768.
	MissingDataSignal float64 `json:"missing_data_signal,omitempty"`

	// ExtremeMin and ExtremeMax bound the dataset's elevations; they
	// answer queries before any data is resident. Zero values select
	// Earth-ish defaults.
	ExtremeMin float64 `json:"extreme_min,omitempty"`
	ExtremeMax float64 `json:"extreme_max,omitempty"`
}

// Model is a level-of-detail elevation model. Point and grid queries are
// answered from whatever tiles are resident in the memory cache, falling
// back to coarser levels for missing ones; the missing tiles are requested
// asynchronously and satisfy later queries once a worker installs them.
// Queries never block on a fetch.
type Model struct {
	levels  *LevelSet
	svc     Services
	lg      *log.Logger
	missing float64

	serviceURL string
	extremeMin float64
	extremeMax float64

	extremeIndex  atomic.Pointer[ExtremeIndex]
	extremesCache *lru.Cache[geo.Sector, [2]float64]

	// expiryOverride, when set, makes in-memory tiles updated before it
	// non-resident, forcing a refresh. Unix nanoseconds; 0 = no override.
	expiryOverride atomic.Int64

	// stateCount increments every time a tile is installed; the
	// tessellator uses it to decide whether cached geometry is stale.
	stateCount atomic.Uint64

	// fileLock serializes the workers' file store I/O for a model.
	fileLock sync.Mutex
}

func NewModel(config ModelConfig, svc Services) (*Model, error) {
	levels, err := NewLevelSet(config.LevelSet)
	if err != nil {
		return nil, err
	}
	if svc.Cache == nil {
		return nil, fmt.Errorf("elevation model needs a memory cache")
	}
	if svc.Tasks == nil {
		return nil, fmt.Errorf("elevation model needs a task service")
	}

	missing := config.MissingDataSignal
	if missing == 0 {
		missing = -32768
	}
	extremeMin, extremeMax := config.ExtremeMin, config.ExtremeMax
	if extremeMin == 0 && extremeMax == 0 {
		extremeMin, extremeMax = -11000, 8850
	}

	ec, err := lru.New[geo.Sector, [2]float64](extremesCacheSize)
	if err != nil {
		return nil, err
	}

	return &Model{
		levels:        levels,
		svc:           svc,
		lg:            svc.Log,
		missing:       missing,
		serviceURL:    config.ServiceURL,
		extremeMin:    extremeMin,
		extremeMax:    extremeMax,
		extremesCache: ec,
	}, nil
}

func (m *Model) Levels() *LevelSet { return m.levels }

// Coverage returns the sector the model has data for.
func (m *Model) Coverage() geo.Sector { return m.levels.Sector() }

// MissingDataSignal returns the sample value that marks missing data.
func (m *Model) MissingDataSignal() float64 { return m.missing }

// StateKey returns a value that changes whenever a tile is installed;
// callers holding derived state (e.g. tessellated geometry) compare it to
// decide whether to rebuild.
func (m *Model) StateKey() uint64 { return m.stateCount.Load() }

// SetExpiry marks all in-memory tiles updated before t as stale, forcing
// them to be re-fetched on their next use. The zero time clears the
// override.
func (m *Model) SetExpiry(t time.Time) {
	if t.IsZero() {
		m.expiryOverride.Store(0)
	} else {
		m.expiryOverride.Store(t.UnixNano())
	}
}

// SetExtremeIndex installs a precomputed extreme-elevations index; sector
// extreme queries consult it before falling back to the model-wide bounds.
func (m *Model) SetExtremeIndex(idx *ExtremeIndex) {
	m.extremeIndex.Store(idx)
	m.extremesCache.Purge()
}

///////////////////////////////////////////////////////////////////////////
// Queries

// ElevationAt answers a point query. The finest resident tile covering the
// location is interpolated; if the desired tile is missing it is requested
// asynchronously and a coarser resident tile answers instead. With nothing
// resident at any level, the level-zero tile is requested and the location's
// extreme minimum bound is returned, from the extremes index when one is
// installed. Locations outside the model's coverage return the missing-data
// signal.
func (m *Model) ElevationAt(lat, lon float64) float64 {
	if !m.levels.Sector().Contains(lat, lon) {
		return m.missing
	}

	origin := m.levels.Origin()
	last := m.levels.LastNonEmptyLevel()
	row := geo.TileRow(last.TileDelta.Lat, lat, origin.Lat)
	col := geo.TileColumn(last.TileDelta.Lon, lon, origin.Lon)

	fRow, fCol := row, col
	for n := last.Number; n >= 0; n-- {
		if level := m.levels.Level(n); !level.Empty {
			if tile := m.tileFromMemory(m.levels.Key(level, fRow, fCol)); tile != nil {
				if n != last.Number {
					// Answering from a fallback; ask for the tile we
					// actually wanted.
					m.requestTile(last, row, col)
				}
				return tile.ElevationAt(lat, lon, m.missing)
			}
		}
		fRow /= 2
		fCol /= 2
	}

	// Nothing resident anywhere under the point.
	first := m.levels.FirstLevel()
	m.requestTile(first,
		geo.TileRow(first.TileDelta.Lat, lat, origin.Lat),
		geo.TileColumn(first.TileDelta.Lon, lon, origin.Lon))
	min, _ := m.ExtremesAt(lat, lon)
	return min
}

// Elevations answers a grid query: numLat x numLon locations evenly spaced
// over the sector, written row-major (south row first) into buf. Locations
// no resident tile could answer are filled with the sector's extreme
// minimum bound, a conservative stand-in until the requested tiles arrive;
// locations outside the model's coverage are left untouched. It returns the
// achieved resolution: the texel size of the coarsest tile that
// contributed, or MaxResolution when the sector misses the model's coverage
// or nothing was resident.
func (m *Model) Elevations(sector geo.Sector, numLat, numLon int, targetResolution float64, buf []float64) (float64, error) {
	if sector.IsEmpty() {
		return 0, fmt.Errorf("empty sector")
	}
	if numLat < 1 || numLon < 1 {
		return 0, fmt.Errorf("grid dimensions %dx%d: must be positive", numLat, numLon)
	}
	if len(buf) < numLat*numLon {
		return 0, fmt.Errorf("buffer holds %d values, need %d", len(buf), numLat*numLon)
	}
	if !sector.Intersects(m.levels.Sector()) {
		return MaxResolution, nil
	}

	target := m.levels.LevelForTexelSize(targetResolution)
	e := m.resolve(sector, target)
	fill, _ := m.ExtremesForSector(sector)

	for j := 0; j < numLat; j++ {
		lat := gridCoord(sector.MinLat, sector.MaxLat, j, numLat)
		for i := 0; i < numLon; i++ {
			lon := gridCoord(sector.MinLon, sector.MaxLon, i, numLon)
			if !m.levels.Sector().Contains(lat, lon) {
				continue
			}
			if v, ok := e.ElevationAt(lat, lon); ok {
				buf[j*numLon+i] = v
			} else {
				buf[j*numLon+i] = fill
			}
		}
	}
	return e.AchievedResolution(), nil
}

// ElevationsVector is the list form of Elevations: it resolves the sector
// once and answers each location against the resolved set.
func (m *Model) ElevationsVector(sector geo.Sector, locations []geo.LatLon, targetResolution float64, buf []float64) (float64, error) {
	if sector.IsEmpty() {
		return 0, fmt.Errorf("empty sector")
	}
	if len(buf) < len(locations) {
		return 0, fmt.Errorf("buffer holds %d values, need %d", len(buf), len(locations))
	}
	if !sector.Intersects(m.levels.Sector()) {
		return MaxResolution, nil
	}

	target := m.levels.LevelForTexelSize(targetResolution)
	e := m.resolve(sector, target)
	fill, _ := m.ExtremesForSector(sector)

	for i, ll := range locations {
		if !m.levels.Sector().Contains(ll.Lat, ll.Lon) {
			continue
		}
		if v, ok := e.ElevationAt(ll.Lat, ll.Lon); ok {
			buf[i] = v
		} else {
			buf[i] = fill
		}
	}
	return e.AchievedResolution(), nil
}

// Resolve builds the Elevations set for a sector at the level matching the
// target resolution, requesting whatever is missing.
func (m *Model) Resolve(sector geo.Sector, targetResolution float64) *Elevations {
	return m.resolve(sector, m.levels.LevelForTexelSize(targetResolution))
}

func gridCoord(min, max float64, i, n int) float64 {
	if n == 1 {
		return (min + max) / 2
	}
	return min + float64(i)*(max-min)/float64(n-1)
}

// resolve collects the resident tiles covering the sector at the target
// level, substituting the finest resident fallback for each missing tile
// and requesting the missing ones asynchronously.
func (m *Model) resolve(sector geo.Sector, target *Level) *Elevations {
	e := &Elevations{sector: sector, missing: m.missing, complete: true}

	isect, ok := sector.Intersection(m.levels.Sector())
	if !ok {
		e.achievedResolution = MaxResolution
		e.complete = false
		return e
	}

	origin := m.levels.Origin()
	delta := target.TileDelta
	nwRow := geo.TileRowMax(delta.Lat, isect.MaxLat, origin.Lat)
	seRow := geo.TileRow(delta.Lat, isect.MinLat, origin.Lat)
	nwCol := geo.TileColumn(delta.Lon, isect.MinLon, origin.Lon)
	seCol := geo.TileColumnMax(delta.Lon, isect.MaxLon, origin.Lon)

	seen := make(map[TileKey]bool)
	missingLevelZero := false

	for row := seRow; row <= nwRow; row++ {
		for col := nwCol; col <= seCol; col++ {
			key := m.levels.Key(target, row, col)
			if tile := m.tileFromMemory(key); tile != nil {
				if !seen[key] {
					seen[key] = true
					e.tiles = append(e.tiles, tile)
				}
				continue
			}

			e.complete = false
			m.requestTile(target, row, col)
			if target.Number == 0 {
				missingLevelZero = true
				continue
			}

			// Walk coarser levels for a resident substitute. Remember the
			// finest missing fallback on the way down so it can be
			// requested too: when it arrives, the next query refines.
			fRow, fCol := row, col
			found := false
			var refine *Level
			refineRow, refineCol := 0, 0
			for n := target.Number - 1; n >= 0; n-- {
				fRow /= 2
				fCol /= 2
				level := m.levels.Level(n)
				if level.Empty {
					continue
				}
				fkey := m.levels.Key(level, fRow, fCol)
				if tile := m.tileFromMemory(fkey); tile != nil {
					if !seen[fkey] {
						seen[fkey] = true
						e.tiles = append(e.tiles, tile)
					}
					found = true
					break
				}
				refine, refineRow, refineCol = level, fRow, fCol
				if n == 0 {
					missingLevelZero = true
					m.requestTile(level, fRow, fCol)
				}
			}
			if found && refine != nil {
				m.requestTile(refine, refineRow, refineCol)
			}
		}
	}

	// Finest tiles first so point lookups prefer them.
	sort.Slice(e.tiles, func(i, j int) bool {
		return e.tiles[i].Key.LevelNumber > e.tiles[j].Key.LevelNumber
	})

	if missingLevelZero || len(e.tiles) == 0 {
		e.achievedResolution = MaxResolution
	} else {
		// The coarsest member bounds what the set can actually deliver.
		e.achievedResolution = e.tiles[len(e.tiles)-1].TexelSize()
	}
	return e
}

// tileFromMemory returns the tile if it is resident: cached, with samples,
// and not staler than the model-wide expiry override.
func (m *Model) tileFromMemory(key TileKey) *ElevationTile {
	tile, ok := m.svc.Cache.Get(key)
	if !ok || tile.Samples() == nil {
		return nil
	}
	if exp := m.expiryOverride.Load(); exp != 0 && tile.Updated().UnixNano() < exp {
		return nil
	}
	return tile
}

///////////////////////////////////////////////////////////////////////////
// Extremes

// ExtremesAt returns the precomputed (min, max) elevation bounds for the
// cell containing the location, or the model-wide bounds when no index is
// installed or the location is outside it.
func (m *Model) ExtremesAt(lat, lon float64) (float64, float64) {
	if idx := m.extremeIndex.Load(); idx != nil {
		if min, max, ok := idx.At(lat, lon); ok {
			return min, max
		}
	}
	return m.extremeMin, m.extremeMax
}

// ExtremesForSector returns (min, max) elevation bounds for the sector.
// Results are cached so that repeated queries for the same visible sector
// scan the index at most once.
func (m *Model) ExtremesForSector(sector geo.Sector) (float64, float64) {
	if v, ok := m.extremesCache.Get(sector); ok {
		return v[0], v[1]
	}
	if idx := m.extremeIndex.Load(); idx != nil {
		if min, max, ok := idx.ForSector(sector); ok {
			m.extremesCache.Add(sector, [2]float64{min, max})
			return min, max
		}
	}
	return m.extremeMin, m.extremeMax
}

// CacheExtremes records a resolved set's extremes for its sector. Only
// complete sets are cached: an incomplete set's bounds can under-estimate
// the terrain and clip valid geometry.
func (m *Model) CacheExtremes(sector geo.Sector, e *Elevations) {
	if !e.Complete() {
		return
	}
	if min, max, ok := e.Extremes(); ok {
		m.extremesCache.Add(sector, [2]float64{min, max})
	}
}

///////////////////////////////////////////////////////////////////////////
// Absent-mark persistence

// SaveAbsentTiles persists the permanently-absent tile marks so later runs
// skip tiles already confirmed missing upstream.
func (m *Model) SaveAbsentTiles() error {
	var keys []TileKey
	for n := 0; n < m.levels.NumLevels(); n++ {
		keys = append(keys, m.levels.Level(n).PermanentlyAbsent()...)
	}
	return util.CacheStoreObject(m.levels.CacheName()+"-absent.msgpack", keys)
}

// LoadAbsentTiles restores marks written by SaveAbsentTiles.
func (m *Model) LoadAbsentTiles() error {
	var keys []TileKey
	if _, err := util.CacheRetrieveObject(m.levels.CacheName()+"-absent.msgpack", &keys); err != nil {
		return err
	}
	for _, key := range keys {
		if key.CacheName != m.levels.CacheName() {
			continue
		}
		if level := m.levels.Level(key.LevelNumber); level != nil {
			level.markPermanentAbsent(key)
		}
	}
	return nil
}

///////////////////////////////////////////////////////////////////////////
// Tile acquisition

// requestTile submits an asynchronous fetch for the tile. The request is
// dropped if the tile is marked absent, a fetch for it is already in
// flight, or the worker pool is saturated; the caller retries naturally on
// a later frame.
func (m *Model) requestTile(level *Level, row, col int) {
	if level == nil || level.Empty {
		return
	}
	key := m.levels.Key(level, row, col)
	if level.IsAbsent(key) {
		return
	}
	m.svc.Tasks.Run(key.String(), func() { m.loadOrRetrieve(level, key) })
}

// loadOrRetrieve runs on a worker: it installs the tile from the file
// store if a fresh copy is there, otherwise retrieves it from the service.
func (m *Model) loadOrRetrieve(level *Level, key TileKey) {
	if m.tileFromMemory(key) != nil {
		return
	}

	if data, ok := m.readTileFile(level, key); ok {
		samples, err := decodeSamples(data, level.TileWidth*level.TileHeight)
		if err == nil {
			m.installTile(level, key, samples)
			return
		}
		m.lg.Warnf("%s: corrupt elevation tile: %v", key.Path(), err)
		m.fileLock.Lock()
		m.svc.FileStore.Remove(key.Path())
		m.fileLock.Unlock()
		// Fall through and retrieve a fresh copy.
	}

	m.retrieveTile(level, key)
}

// readTileFile returns the tile's file store payload if present and not
// expired; an expired file is deleted so retrieval replaces it.
func (m *Model) readTileFile(level *Level, key TileKey) ([]byte, bool) {
	if m.svc.FileStore == nil {
		return nil, false
	}

	m.fileLock.Lock()
	defer m.fileLock.Unlock()

	path := key.Path()
	if _, ok := m.svc.FileStore.Find(path); !ok {
		return nil, false
	}
	if level.Expiry > 0 {
		if mt, err := m.svc.FileStore.ModTime(path); err == nil && time.Since(mt) > level.Expiry {
			m.svc.FileStore.Remove(path)
			return nil, false
		}
	}
	data, err := m.svc.FileStore.Read(path)
	if err != nil {
		m.lg.Warnf("%s: %v", path, err)
		return nil, false
	}
	return data, true
}

func (m *Model) retrieveTile(level *Level, key TileKey) {
	if m.svc.Retriever == nil || m.serviceURL == "" {
		level.MarkAbsent(key)
		return
	}

	data, err := m.svc.Retriever.Get(context.Background(), m.tileURL(level, key))
	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			m.lg.Debugf("%s: not available upstream", key)
		} else {
			m.lg.Warnf("%s: retrieval failed: %v", key, err)
		}
		level.MarkAbsent(key)
		return
	}

	samples, err := decodeSamples(data, level.TileWidth*level.TileHeight)
	if err != nil {
		m.lg.Warnf("%s: bad payload: %v", key, err)
		level.MarkAbsent(key)
		return
	}

	if m.svc.FileStore != nil {
		m.fileLock.Lock()
		if err := m.svc.FileStore.Write(key.Path(), data); err != nil {
			m.lg.Warnf("%s: %v", key.Path(), err)
		}
		m.fileLock.Unlock()
	}

	m.installTile(level, key, samples)
	level.UnmarkAbsent(key)
}

func (m *Model) installTile(level *Level, key TileKey, samples []int16) {
	tile := newElevationTile(level, key, m.levels.Origin(), samples, time.Now())
	m.svc.Cache.Put(key, tile, tile.SizeBytes())
	m.stateCount.Add(1)
}

// tileURL derives the retrieval URL for a tile from the service base URL,
// the tile's bounding box, and the level's sample dimensions.
func (m *Model) tileURL(level *Level, key TileKey) string {
	u, err := url.Parse(m.serviceURL)
	if err != nil {
		return m.serviceURL
	}
	s := geo.TileSector(key.Row, key.Col, level.TileDelta, m.levels.Origin())

	q := u.Query()
	q.Set("service", "WMS")
	q.Set("request", "GetMap")
	q.Set("layers", m.levels.CacheName())
	q.Set("format", "application/bil16")
	q.Set("crs", "EPSG:4326")
	q.Set("bbox", fmt.Sprintf("%.10f,%.10f,%.10f,%.10f",
		geo.Degrees(s.MinLon), geo.Degrees(s.MinLat), geo.Degrees(s.MaxLon), geo.Degrees(s.MaxLat)))
	q.Set("width", strconv.Itoa(level.TileWidth))
	q.Set("height", strconv.Itoa(level.TileHeight))
	u.RawQuery = q.Encode()
	return u.String()
}

///////////////////////////////////////////////////////////////////////////
// Bulk download

// BulkDownload retrieves every tile covering the sector, from level zero
// down to the level matching the target resolution, into the file store.
// Tiles already present (and fresh) are skipped. It runs synchronously on
// the calling goroutine and stops at the first error or when ctx is
// canceled; the count of tiles retrieved is returned either way.
func (m *Model) BulkDownload(ctx context.Context, sector geo.Sector, targetResolution float64) (int, error) {
	if m.svc.Retriever == nil || m.serviceURL == "" {
		return 0, fmt.Errorf("no retrieval service configured")
	}
	if m.svc.FileStore == nil {
		return 0, fmt.Errorf("no file store configured")
	}
	isect, ok := sector.Intersection(m.levels.Sector())
	if !ok {
		return 0, nil
	}

	target := m.levels.LevelForTexelSize(targetResolution)
	origin := m.levels.Origin()
	n := 0

	for ln := 0; ln <= target.Number; ln++ {
		level := m.levels.Level(ln)
		if level.Empty {
			continue
		}
		delta := level.TileDelta
		nwRow := geo.TileRowMax(delta.Lat, isect.MaxLat, origin.Lat)
		seRow := geo.TileRow(delta.Lat, isect.MinLat, origin.Lat)
		nwCol := geo.TileColumn(delta.Lon, isect.MinLon, origin.Lon)
		seCol := geo.TileColumnMax(delta.Lon, isect.MaxLon, origin.Lon)

		for row := seRow; row <= nwRow; row++ {
			for col := nwCol; col <= seCol; col++ {
				if err := ctx.Err(); err != nil {
					return n, err
				}

				key := m.levels.Key(level, row, col)
				if level.IsAbsent(key) {
					continue
				}
				if _, ok := m.readTileFile(level, key); ok {
					continue
				}

				data, err := m.svc.Retriever.Get(ctx, m.tileURL(level, key))
				if errors.Is(err, task.ErrNotFound) {
					level.MarkAbsent(key)
					continue
				}
				if err != nil {
					return n, fmt.Errorf("%s: %w", key, err)
				}
				if _, err := decodeSamples(data, level.TileWidth*level.TileHeight); err != nil {
					return n, fmt.Errorf("%s: %w", key, err)
				}

				m.fileLock.Lock()
				err = m.svc.FileStore.Write(key.Path(), data)
				m.fileLock.Unlock()
				if err != nil {
					return n, err
				}
				n++
			}
		}
	}
	return n, nil
}
