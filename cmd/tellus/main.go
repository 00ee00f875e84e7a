// cmd/tellus/main.go
// Copyright(c) 2026 tellus contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

// tellus is a demo viewer: a GLFW window showing the tessellated globe with
// a vector overlay, an orbiting camera on cursor drag, and click-to-pick.
package main

import (
	"errors"
	"flag"
	"io/fs"
	gomath "math"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/paulmach/orb"

	"github.com/tellusgl/tellus/cache"
	"github.com/tellusgl/tellus/geo"
	"github.com/tellusgl/tellus/log"
	"github.com/tellusgl/tellus/renderer"
	"github.com/tellusgl/tellus/scene"
	"github.com/tellusgl/tellus/task"
	"github.com/tellusgl/tellus/terrain"
	"github.com/tellusgl/tellus/util"
)

const earthRadius = 6371e3

var (
	cacheDir  = flag.String("cache", "", "tile cache directory (default: user cache dir)")
	serverURL = flag.String("server", "", "elevation tile service base URL (empty: offline, cached tiles only)")
	logLevel  = flag.String("loglevel", "info", "logging level: debug, info, warn, error")
	logDir    = flag.String("logdir", "", "log file directory")
)

func init() {
	// GLFW and GL calls must all come from the same thread.
	runtime.LockOSThread()
}

func main() {
	flag.Parse()
	lg := log.New(*logLevel, *logDir)

	model, svc, err := makeModel(lg)
	if err != nil {
		lg.Errorf("%v", err)
		os.Exit(1)
	}
	if err := model.LoadAbsentTiles(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		lg.Warnf("unable to restore absent-tile marks: %v", err)
	}

	if err := glfw.Init(); err != nil {
		lg.Errorf("failed to initialize glfw: %v", err)
		os.Exit(1)
	}
	defer glfw.Terminate()
	lg.Infof("GLFW: %s", glfw.GetVersionString())

	glfw.WindowHint(glfw.ClientAPI, glfw.OpenGLESAPI)
	glfw.WindowHint(glfw.ContextVersionMajor, 2)
	glfw.WindowHint(glfw.ContextVersionMinor, 0)
	window, err := glfw.CreateWindow(1280, 800, "tellus", nil, nil)
	if err != nil {
		lg.Errorf("failed to create window: %v", err)
		os.Exit(1)
	}
	window.MakeContextCurrent()
	glfw.SwapInterval(1)

	r, err := renderer.NewGLES2Renderer(lg)
	if err != nil {
		lg.Errorf("failed to initialize renderer: %v", err)
		os.Exit(1)
	}
	defer r.Dispose()

	tess := terrain.NewRectTessellator(terrain.RectTessellatorConfig{Radius: earthRadius}, lg)
	sc := scene.NewController(r, model, tess, scene.ControllerConfig{
		BackgroundColor: renderer.RGB{R: .02, G: .02, B: .05},
	}, lg)
	sc.AddLayer(overlayLayer())

	cam := &camera{lat: geo.Radians(37), lon: geo.Radians(-97), altitude: 2 * earthRadius}
	installCallbacks(window, cam)

	for !window.ShouldClose() {
		glfw.WaitEventsTimeout(0.1)

		w, h := window.GetFramebufferSize()
		if w == 0 || h == 0 {
			continue
		}

		params := cam.frameParams(w, h)
		if cam.pickPending {
			params.Pick = true
			params.PickPoint = cam.pickPoint(window, h)
			cam.pickPending = false
		}

		result := sc.RenderFrame(params)
		if po := result.TopPick; po != nil {
			lg.Infof("picked %T at (%.3f, %.3f)", po.Object,
				geo.Degrees(po.Position.Lat), geo.Degrees(po.Position.Lon))
		}

		window.SwapBuffers()
	}

	svc.Tasks.Wait()
	if err := model.SaveAbsentTiles(); err != nil {
		lg.Warnf("unable to persist absent-tile marks: %v", err)
	}
	if err := util.CacheCullObjects(512 << 20); err != nil {
		lg.Warnf("unable to cull object cache: %v", err)
	}
}

func makeModel(lg *log.Logger) (*terrain.Model, terrain.Services, error) {
	dir := *cacheDir
	if dir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			base = "."
		}
		dir = filepath.Join(base, "tellus")
	}
	fs, err := cache.NewFileStore(dir)
	if err != nil {
		return nil, terrain.Services{}, err
	}
	mc, err := cache.NewMemoryCache[terrain.TileKey, *terrain.ElevationTile](256<<20, 8192)
	if err != nil {
		return nil, terrain.Services{}, err
	}

	svc := terrain.Services{
		Cache:     mc,
		FileStore: fs,
		Tasks:     task.NewService(runtime.NumCPU(), lg),
		Log:       lg,
	}
	if *serverURL != "" {
		svc.Retriever = task.NewRetriever(30*time.Second, lg)
	}

	config := terrain.ModelConfig{
		LevelSet: terrain.LevelSetConfig{
			Sector:          geo.FullSphere(),
			Origin:          geo.LatLonFromDegrees(-90, -180),
			FirstLevelDelta: geo.LatLon{Lat: geo.Radians(45), Lon: geo.Radians(45)},
			NumLevels:       12,
			TileWidth:       256,
			TileHeight:      256,
			CacheName:       "earth",
		},
		ServiceURL: *serverURL,
	}
	model, err := terrain.NewModel(config, svc)
	if err != nil {
		return nil, terrain.Services{}, err
	}
	return model, svc, nil
}

// overlayLayer returns a vector layer with a few reference features so
// there is something to pick besides the terrain.
func overlayLayer() *scene.VectorLayer {
	vl := scene.NewVectorLayer("overlay", renderer.RGB{R: .9, G: .8, B: .2}, earthRadius)

	// The equator and the prime meridian.
	var equator, meridian orb.LineString
	for d := -180.0; d <= 180; d += 5 {
		equator = append(equator, orb.Point{d, 0})
	}
	for d := -85.0; d <= 85; d += 5 {
		meridian = append(meridian, orb.Point{0, d})
	}
	vl.AddFeature(&scene.Feature{Geometry: equator, Label: "equator"})
	vl.AddFeature(&scene.Feature{Geometry: meridian, Label: "prime meridian"})

	for _, pm := range []struct {
		name     string
		lat, lon float64
	}{
		{"Mount Everest", 27.988, 86.925},
		{"Denali", 63.069, -151.007},
		{"Mauna Kea", 19.821, -155.468},
	} {
		vl.AddPlacemark(&scene.Placemark{
			Position: geo.Position{LatLon: geo.LatLonFromDegrees(pm.lat, pm.lon)},
			Label:    pm.name,
			Color:    renderer.RGB{R: 1, G: .3, B: .3},
			Size:     7,
		})
	}
	return vl
}

///////////////////////////////////////////////////////////////////////////
// Camera

// camera orbits the globe: cursor drag pans the look-at point, scroll
// zooms, and a click requests a pick on the next frame.
type camera struct {
	lat, lon float64
	altitude float64

	dragging     bool
	lastX, lastY float64
	pickPending  bool
	pickX, pickY float64
}

func installCallbacks(window *glfw.Window, cam *camera) {
	window.SetMouseButtonCallback(func(w *glfw.Window, button glfw.MouseButton, action glfw.Action, mods glfw.ModifierKey) {
		if button != glfw.MouseButtonLeft {
			return
		}
		x, y := w.GetCursorPos()
		switch action {
		case glfw.Press:
			cam.dragging = true
			cam.lastX, cam.lastY = x, y
		case glfw.Release:
			cam.dragging = false
			if x == cam.lastX && y == cam.lastY {
				cam.pickPending = true
				cam.pickX, cam.pickY = x, y
			}
		}
	})
	window.SetCursorPosCallback(func(w *glfw.Window, x, y float64) {
		if !cam.dragging {
			return
		}
		// Pan proportionally to altitude so the drag feels constant-speed
		// on screen.
		scale := cam.altitude / earthRadius * 0.002
		cam.lon -= (x - cam.lastX) * scale
		cam.lat += (y - cam.lastY) * scale
		cam.lat = gomath.Max(-gomath.Pi/2, gomath.Min(gomath.Pi/2, cam.lat))
		for cam.lon < -gomath.Pi {
			cam.lon += 2 * gomath.Pi
		}
		for cam.lon > gomath.Pi {
			cam.lon -= 2 * gomath.Pi
		}
		cam.lastX, cam.lastY = x, y
	})
	window.SetScrollCallback(func(w *glfw.Window, dx, dy float64) {
		cam.altitude *= gomath.Pow(0.9, dy)
		cam.altitude = gomath.Max(1000, gomath.Min(6*earthRadius, cam.altitude))
	})
}

// pickPoint converts the click position to framebuffer coordinates with a
// GL-style origin at the lower left.
func (cam *camera) pickPoint(window *glfw.Window, fbHeight int) [2]int {
	fw, _ := window.GetFramebufferSize()
	ww, wh := window.GetSize()
	sx := float64(fw) / float64(ww)
	sy := float64(fbHeight) / float64(wh)
	return [2]int{int(cam.pickX * sx), fbHeight - 1 - int(cam.pickY*sy)}
}

func (cam *camera) frameParams(w, h int) scene.FrameParams {
	eye := terrain.Cartesian(cam.lat, cam.lon, cam.altitude, earthRadius)
	target := terrain.Cartesian(cam.lat, cam.lon, 0, earthRadius)

	// Build an orthonormal frame with up toward north.
	forward := target.Sub(eye).Normalize()
	right := forward.Cross(mgl64.Vec3{0, 1, 0})
	if right.Len() < 1e-6 {
		right = mgl64.Vec3{1, 0, 0} // looking straight down a pole
	} else {
		right = right.Normalize()
	}
	up := right.Cross(forward)

	modelView := mgl32.LookAtV(
		vec32(eye), vec32(target), vec32(up))
	proj := mgl32.Perspective(mgl32.DegToRad(50), float32(w)/float32(h),
		float32(cam.altitude)*0.01, float32(cam.altitude+3*earthRadius))

	// The visible extent grows with altitude; clamp to a hemisphere-ish
	// span so tessellation stays bounded.
	extent := gomath.Min(1.2, 1.5*cam.altitude/earthRadius)
	visible := geo.Sector{
		MinLat: gomath.Max(-gomath.Pi/2, cam.lat-extent),
		MaxLat: gomath.Min(gomath.Pi/2, cam.lat+extent),
		MinLon: gomath.Max(-gomath.Pi, cam.lon-extent),
		MaxLon: gomath.Min(gomath.Pi, cam.lon+extent),
	}

	return scene.FrameParams{
		Viewport:             [4]int{0, 0, w, h},
		Projection:           proj,
		ModelView:            modelView,
		EyePoint:             eye,
		VisibleSector:        visible,
		TargetResolution:     2 * extent / float64(h),
		VerticalExaggeration: 1,
	}
}

func vec32(v mgl64.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{float32(v[0]), float32(v[1]), float32(v[2])}
}
