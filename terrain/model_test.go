// terrain/model_test.go
// Copyright(c) 2026 tellus contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package terrain

import (
	"context"
	"encoding/binary"
	gomath "math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tellusgl/tellus/cache"
	"github.com/tellusgl/tellus/geo"
	"github.com/tellusgl/tellus/task"
)

func encodeSamples(samples []int16) []byte {
	data := make([]byte, 2*len(samples))
	for i, v := range samples {
		binary.LittleEndian.PutUint16(data[2*i:], uint16(v))
	}
	return data
}

// flatSamples returns w*h samples all holding v.
func flatSamples(w, h int, v int16) []int16 {
	samples := make([]int16, w*h)
	for i := range samples {
		samples[i] = v
	}
	return samples
}

func newTestServices(t *testing.T, serviceURL string) Services {
	t.Helper()

	mc, err := cache.NewMemoryCache[TileKey, *ElevationTile](16<<20, 4096)
	if err != nil {
		t.Fatal(err)
	}
	fs, err := cache.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	svc := Services{
		Cache:     mc,
		FileStore: fs,
		Tasks:     task.NewService(4, nil),
	}
	if serviceURL != "" {
		svc.Retriever = task.NewRetriever(5*time.Second, nil)
	}
	return svc
}

// The end-to-end scenario: a one-level pyramid with a single 4x4-sample
// tile. Before the tile is resident a point query answers with the model's
// extreme minimum and requests the level-zero tile; once the worker
// installs it from the file store, the tile's center interpolates to the
// average of the four center-adjacent samples.
func TestModelPointQueryEndToEnd(t *testing.T) {
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
		ExtremeMin: -500,
		ExtremeMax: 9000,
	}
	m, err := NewModel(config, svc)
	if err != nil {
		t.Fatal(err)
	}

	samples := []int16{
		0, 100, 100, 0,
		50, 150, 150, 50,
		50, 150, 150, 50,
		0, 100, 100, 0,
	}
	key := TileKey{LevelNumber: 0, Row: 9, Col: 18, CacheName: "earth"}
	if err := svc.FileStore.Write(key.Path(), encodeSamples(samples)); err != nil {
		t.Fatal(err)
	}

	lat, lon := geo.Radians(5), geo.Radians(5)

	// Not resident yet: the extreme minimum answers and a fetch begins.
	if got := m.ElevationAt(lat, lon); got != -500 {
		t.Errorf("pre-residency elevation = %v, want the extreme minimum -500", got)
	}
	svc.Tasks.Wait()

	if got := m.ElevationAt(lat, lon); gomath.Abs(got-150) > 1e-9 {
		t.Errorf("center elevation = %v, want 150", got)
	}

	// Point query idempotence: no cache mutation between queries.
	a, b := m.ElevationAt(lat, lon), m.ElevationAt(lat, lon)
	if a != b {
		t.Errorf("consecutive queries disagree: %v vs %v", a, b)
	}

	// Outside the model's coverage the missing-data signal answers.
	if got := m.ElevationAt(geo.Radians(40), geo.Radians(40)); got != m.MissingDataSignal() {
		t.Errorf("out-of-coverage elevation = %v, want the missing-data signal", got)
	}
}

func TestModelGridQueryResolution(t *testing.T) {
	svc := newTestServices(t, "")
	config := ModelConfig{
		LevelSet: LevelSetConfig{
			Sector:          geo.SectorFromDegrees(0, 10, 0, 10),
			Origin:          geo.LatLonFromDegrees(-90, -180),
			FirstLevelDelta: geo.LatLon{Lat: geo.Radians(10), Lon: geo.Radians(10)},
			NumLevels:       2,
			TileWidth:       4,
			TileHeight:      4,
			CacheName:       "earth",
		},
	}
	m, err := NewModel(config, svc)
	if err != nil {
		t.Fatal(err)
	}

	// Seed the file store with the four level-1 tiles covering the sector;
	// nothing is resident in memory yet.
	level := m.Levels().Level(1)
	for row := 18; row <= 19; row++ {
		for col := 36; col <= 37; col++ {
			key := m.Levels().Key(level, row, col)
			if err := svc.FileStore.Write(key.Path(), encodeSamples(flatSamples(4, 4, 42))); err != nil {
				t.Fatal(err)
			}
		}
	}

	sector := geo.SectorFromDegrees(1, 9, 1, 9)
	buf := make([]float64, 3*3)

	// Nothing resident: the coarsest-possible sentinel comes back and the
	// grid fills with the extreme minimum bound while the tiles load in the
	// background.
	res, err := m.Elevations(sector, 3, 3, level.TexelSize(), buf)
	if err != nil {
		t.Fatal(err)
	}
	if res != MaxResolution {
		t.Errorf("empty-model resolution = %v, want MaxResolution", res)
	}
	for i, v := range buf {
		if v != -11000 {
			t.Errorf("buf[%d] = %v, want the extreme minimum -11000", i, v)
		}
	}

	// The first query needs five tiles (four at level 1 plus the shared
	// level-zero parent), which can exceed the worker pool; whatever was
	// dropped is re-requested by the next query. Repeat until all of them
	// are resident and the query achieves the finest level's texel size.
	for i := 0; i < 5; i++ {
		svc.Tasks.Wait()
		res, err = m.Elevations(sector, 3, 3, level.TexelSize(), buf)
		if err != nil {
			t.Fatal(err)
		}
		if res == level.TexelSize() {
			break
		}
	}
	if res != level.TexelSize() {
		t.Errorf("achieved resolution %v, want the finest level's texel size %v", res, level.TexelSize())
	}
	for i, v := range buf {
		if v != 42 {
			t.Errorf("buf[%d] = %v, want 42", i, v)
		}
	}

	// A sector that misses the coverage entirely is not an error; it
	// answers with the sentinel.
	res, err = m.Elevations(geo.SectorFromDegrees(40, 50, 40, 50), 3, 3, level.TexelSize(), buf)
	if err != nil {
		t.Fatal(err)
	}
	if res != MaxResolution {
		t.Errorf("out-of-coverage resolution = %v, want MaxResolution", res)
	}
}

func TestModelGridQueryValidation(t *testing.T) {
	svc := newTestServices(t, "")
	config := ModelConfig{LevelSet: testLevelSetConfig(1)}
	m, err := NewModel(config, svc)
	if err != nil {
		t.Fatal(err)
	}

	sector := geo.SectorFromDegrees(0, 10, 0, 10)
	buf := make([]float64, 9)

	if _, err := m.Elevations(geo.Sector{}, 3, 3, 1, buf); err == nil {
		t.Errorf("empty sector not rejected")
	}
	if _, err := m.Elevations(sector, 0, 3, 1, buf); err == nil {
		t.Errorf("non-positive grid dimension not rejected")
	}
	if _, err := m.Elevations(sector, 4, 4, 1, buf); err == nil {
		t.Errorf("short buffer not rejected")
	}
}

func TestModelFallbackToCoarserLevel(t *testing.T) {
	svc := newTestServices(t, "")
	config := ModelConfig{
		LevelSet: LevelSetConfig{
			Sector:          geo.SectorFromDegrees(0, 10, 0, 10),
			Origin:          geo.LatLonFromDegrees(-90, -180),
			FirstLevelDelta: geo.LatLon{Lat: geo.Radians(10), Lon: geo.Radians(10)},
			NumLevels:       3,
			TileWidth:       4,
			TileHeight:      4,
			CacheName:       "earth",
		},
	}
	m, err := NewModel(config, svc)
	if err != nil {
		t.Fatal(err)
	}

	// Only the level-zero tile is available.
	key := TileKey{LevelNumber: 0, Row: 9, Col: 18, CacheName: "earth"}
	if err := svc.FileStore.Write(key.Path(), encodeSamples(flatSamples(4, 4, 77))); err != nil {
		t.Fatal(err)
	}

	lat, lon := geo.Radians(5), geo.Radians(5)
	m.ElevationAt(lat, lon)
	svc.Tasks.Wait()

	// The point query answers from the coarse fallback rather than
	// blocking on the missing finest tile.
	if got := m.ElevationAt(lat, lon); got != 77 {
		t.Errorf("fallback elevation = %v, want 77", got)
	}

	// A grid query's achieved resolution reflects the coarse member.
	buf := make([]float64, 4)
	res, err := m.Elevations(geo.SectorFromDegrees(4, 6, 4, 6), 2, 2, m.Levels().LastLevel().TexelSize(), buf)
	if err != nil {
		t.Fatal(err)
	}
	if res != m.Levels().Level(0).TexelSize() {
		t.Errorf("achieved resolution %v, want level 0's texel size", res)
	}
	svc.Tasks.Wait()
}

func TestModelRetrievalAndDedupe(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	payload := encodeSamples(flatSamples(4, 4, 1234))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		w.Write(payload)
	}))
	defer srv.Close()

	svc := newTestServices(t, srv.URL)
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
		ServiceURL: srv.URL,
	}
	m, err := NewModel(config, svc)
	if err != nil {
		t.Fatal(err)
	}

	// Issue the same request repeatedly while the first fetch is blocked
	// in the server; the in-flight key suppresses duplicates.
	lat, lon := geo.Radians(5), geo.Radians(5)
	for i := 0; i < 10; i++ {
		m.ElevationAt(lat, lon)
	}
	close(release)
	svc.Tasks.Wait()

	if n := hits.Load(); n != 1 {
		t.Errorf("server saw %d requests for one tile, want 1", n)
	}

	if got := m.ElevationAt(lat, lon); got != 1234 {
		t.Errorf("retrieved elevation = %v, want 1234", got)
	}

	// The retrieval wrote through to the file store.
	key := TileKey{LevelNumber: 0, Row: 9, Col: 18, CacheName: "earth"}
	if _, ok := svc.FileStore.Find(key.Path()); !ok {
		t.Errorf("retrieved tile not cached in the file store")
	}
}

func TestModelMarksAbsentOn404(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	svc := newTestServices(t, srv.URL)
	config := ModelConfig{
		LevelSet: LevelSetConfig{
			Sector:          geo.SectorFromDegrees(0, 10, 0, 10),
			Origin:          geo.LatLonFromDegrees(-90, -180),
			FirstLevelDelta: geo.LatLon{Lat: geo.Radians(10), Lon: geo.Radians(10)},
			NumLevels:       1,
			TileWidth:       4,
			TileHeight:      4,
			CacheName:       "earth",
			RetryInterval:   time.Hour,
		},
		ServiceURL: srv.URL,
	}
	m, err := NewModel(config, svc)
	if err != nil {
		t.Fatal(err)
	}

	lat, lon := geo.Radians(5), geo.Radians(5)
	m.ElevationAt(lat, lon)
	svc.Tasks.Wait()

	level := m.Levels().FirstLevel()
	key := TileKey{LevelNumber: 0, Row: 9, Col: 18, CacheName: "earth"}
	if !level.IsAbsent(key) {
		t.Fatal("404 did not mark the tile absent")
	}

	// Further queries must not re-request the absent tile.
	for i := 0; i < 5; i++ {
		m.ElevationAt(lat, lon)
	}
	svc.Tasks.Wait()
	if n := hits.Load(); n != 1 {
		t.Errorf("server saw %d requests for an absent tile, want 1", n)
	}
}

func TestModelExpiryOverride(t *testing.T) {
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
		ExtremeMin: -500,
		ExtremeMax: 9000,
	}
	m, err := NewModel(config, svc)
	if err != nil {
		t.Fatal(err)
	}

	key := TileKey{LevelNumber: 0, Row: 9, Col: 18, CacheName: "earth"}
	if err := svc.FileStore.Write(key.Path(), encodeSamples(flatSamples(4, 4, 55))); err != nil {
		t.Fatal(err)
	}

	lat, lon := geo.Radians(5), geo.Radians(5)
	m.ElevationAt(lat, lon)
	svc.Tasks.Wait()
	if got := m.ElevationAt(lat, lon); got != 55 {
		t.Fatalf("elevation = %v, want 55", got)
	}

	// Expiring all in-memory tiles makes them non-resident; the query
	// degrades to the extreme minimum while the refresh is in flight.
	m.SetExpiry(time.Now().Add(time.Second))
	if got := m.ElevationAt(lat, lon); got != -500 {
		t.Errorf("post-expiry elevation = %v, want the extreme minimum", got)
	}

	m.SetExpiry(time.Time{})
	if got := m.ElevationAt(lat, lon); got != 55 {
		t.Errorf("elevation after clearing the override = %v, want 55", got)
	}
	svc.Tasks.Wait()
}

func TestModelBulkDownload(t *testing.T) {
	var hits atomic.Int32
	payload := encodeSamples(flatSamples(4, 4, 7))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write(payload)
	}))
	defer srv.Close()

	svc := newTestServices(t, srv.URL)
	config := ModelConfig{
		LevelSet: LevelSetConfig{
			Sector:          geo.SectorFromDegrees(0, 10, 0, 10),
			Origin:          geo.LatLonFromDegrees(-90, -180),
			FirstLevelDelta: geo.LatLon{Lat: geo.Radians(10), Lon: geo.Radians(10)},
			NumLevels:       2,
			TileWidth:       4,
			TileHeight:      4,
			CacheName:       "earth",
		},
		ServiceURL: srv.URL,
	}
	m, err := NewModel(config, svc)
	if err != nil {
		t.Fatal(err)
	}

	// One level-0 tile plus four level-1 tiles cover the sector.
	n, err := m.BulkDownload(context.Background(), config.LevelSet.Sector, m.Levels().LastLevel().TexelSize())
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Errorf("downloaded %d tiles, want 5", n)
	}

	// Re-running downloads nothing: everything is in the file store.
	n, err = m.BulkDownload(context.Background(), config.LevelSet.Sector, m.Levels().LastLevel().TexelSize())
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("second pass downloaded %d tiles, want 0", n)
	}
	if got := hits.Load(); got != 5 {
		t.Errorf("server saw %d requests, want 5", got)
	}

	// Cancellation stops the walk.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.BulkDownload(ctx, config.LevelSet.Sector, m.Levels().LastLevel().TexelSize()); err == nil {
		t.Errorf("canceled download did not report an error")
	}
}
