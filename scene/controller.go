// scene/controller.go
// Copyright(c) 2026 tellus contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package scene

import (
	"runtime/debug"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/go-gl/mathgl/mgl64"

	"github.com/tellusgl/tellus/geo"
	"github.com/tellusgl/tellus/log"
	"github.com/tellusgl/tellus/renderer"
	"github.com/tellusgl/tellus/terrain"
)

// ControllerConfig configures a Controller; zero values select defaults.
type ControllerConfig struct {
	BackgroundColor renderer.RGB
	TerrainColor    renderer.RGB
}

// Controller renders frames: it tessellates the visible terrain, draws the
// registered layers in order, and optionally runs an off-screen pick pass.
// All collaborators are injected at construction; there is no global
// registry.
type Controller struct {
	r     renderer.Renderer
	model *terrain.Model
	tess  terrain.Tessellator
	lg    *log.Logger

	background renderer.RGB
	terrainRGB renderer.RGB

	layers      []Layer
	terrainPick PickSupport
}

func NewController(r renderer.Renderer, model *terrain.Model, tess terrain.Tessellator,
	config ControllerConfig, lg *log.Logger) *Controller {
	terrainRGB := config.TerrainColor
	if terrainRGB == (renderer.RGB{}) {
		terrainRGB = renderer.RGB{R: .35, G: .45, B: .3}
	}
	return &Controller{
		r:          r,
		model:      model,
		tess:       tess,
		lg:         lg,
		background: config.BackgroundColor,
		terrainRGB: terrainRGB,
	}
}

// AddLayer appends a layer; layers render in registration order.
func (sc *Controller) AddLayer(l Layer) {
	sc.layers = append(sc.layers, l)
}

func (sc *Controller) Layers() []Layer { return sc.layers }

// FrameParams describes one frame to render.
type FrameParams struct {
	// Viewport is x, y, width, height in framebuffer pixels.
	Viewport   [4]int
	Projection mgl32.Mat4
	ModelView  mgl32.Mat4
	EyePoint   mgl64.Vec3

	VisibleSector        geo.Sector
	TargetResolution     float64
	VerticalExaggeration float64

	// Pick requests a pick pass before the draw pass; PickPoint is the
	// framebuffer pixel under the pointer. DeepPick additionally collects
	// every non-terrain object under the pointer, not only the nearest.
	Pick      bool
	DeepPick  bool
	PickPoint [2]int
}

// FrameResult reports what a frame produced.
type FrameResult struct {
	// Terrain is the frame's surface geometry; nil if tessellation
	// produced nothing.
	Terrain *terrain.SectorGeometryList

	// Picked holds every object resolved at the pick point; TopPick is the
	// one on top. Both are zero unless FrameParams.Pick was set.
	Picked  []*PickedObject
	TopPick *PickedObject

	Stats renderer.RendererStats
}

// RenderFrame runs the frame state machine: baseline state, terrain
// tessellation, the optional pick pass, the draw pass, and state
// restoration. A fault in any single layer or ordered renderable is logged
// and does not abort the frame.
func (sc *Controller) RenderFrame(p FrameParams) FrameResult {
	exaggeration := p.VerticalExaggeration
	if exaggeration == 0 {
		exaggeration = 1
	}

	dc := &DrawContext{
		Renderer:             sc.r,
		Viewport:             p.Viewport,
		Projection:           p.Projection,
		ModelView:            p.ModelView,
		EyePoint:             p.EyePoint,
		VerticalExaggeration: exaggeration,
		VisibleSector:        p.VisibleSector,
		FrameTime:            time.Now(),
		DeepPick:             p.DeepPick,
		PickPoint:            p.PickPoint,
	}

	sc.initializeFrame(dc)
	sc.createTerrain(dc, p.TargetResolution)

	var top *PickedObject
	if p.Pick {
		dc.Pick = true
		top = sc.pick(dc)
		dc.Pick = false
	}

	sc.draw(dc)
	sc.finalizeFrame(dc)

	return FrameResult{
		Terrain: dc.Terrain,
		Picked:  dc.PickedObjects.Objects(),
		TopPick: top,
		Stats:   dc.Stats(),
	}
}

// initializeFrame establishes the baseline state every pass starts from:
// the viewport, the view matrices, premultiplied-alpha blending, depth
// testing with writes enabled, and back-face culling.
func (sc *Controller) initializeFrame(dc *DrawContext) {
	cb := renderer.GetCommandBuffer()
	defer renderer.ReturnCommandBuffer(cb)

	cb.Viewport(dc.Viewport[0], dc.Viewport[1], dc.Viewport[2], dc.Viewport[3])
	cb.LoadProjectionMatrix(dc.Projection)
	cb.LoadModelViewMatrix(dc.ModelView)
	cb.Blend()
	cb.EnableDepthTest()
	cb.DepthMask(true)
	cb.EnableCullFace()
	dc.Draw(cb)
}

func (sc *Controller) createTerrain(dc *DrawContext, targetResolution float64) {
	if sc.tess == nil || sc.model == nil {
		return
	}
	dc.Terrain = sc.tess.Tessellate(sc.model, dc.VisibleSector, targetResolution, dc.VerticalExaggeration)
	if dc.Terrain == nil {
		sc.lg.Warnf("no terrain geometry for %v; rendering frame without a surface", dc.VisibleSector)
	}
}

func (sc *Controller) finalizeFrame(dc *DrawContext) {
	cb := renderer.GetCommandBuffer()
	defer renderer.ReturnCommandBuffer(cb)
	cb.ResetState()
	dc.Draw(cb)
}

///////////////////////////////////////////////////////////////////////////
// Draw pass

func (sc *Controller) draw(dc *DrawContext) {
	cb := renderer.GetCommandBuffer()
	defer renderer.ReturnCommandBuffer(cb)

	cb.ClearRGB(sc.background)
	cb.ClearDepth()
	cb.Blend()
	cb.EnableDepthTest()
	if dc.Terrain != nil {
		cb.SetRGB(sc.terrainRGB)
		dc.Terrain.Render(cb)
	}
	dc.Draw(cb)

	for _, layer := range sc.layers {
		if !layer.Enabled() {
			continue
		}
		dc.CurrentLayer = layer
		sc.isolate("layer "+layer.Name(), func() { layer.Render(dc) })
	}
	dc.CurrentLayer = nil

	sc.drainOrdered(dc)
}

// drainOrdered empties the deferred-renderable queue, farthest first,
// dispatching to Pick or Render per the frame mode.
func (sc *Controller) drainOrdered(dc *DrawContext) {
	for {
		or := dc.PopOrderedRenderable()
		if or == nil {
			return
		}
		if dc.Pick {
			sc.isolate("ordered renderable", func() { or.Pick(dc) })
		} else {
			sc.isolate("ordered renderable", func() { or.Render(dc) })
		}
	}
}

// isolate runs fn, catching and logging a panic so that a fault in one
// visual element does not blank the whole frame.
func (sc *Controller) isolate(what string, fn func()) {
	defer func() {
		if err := recover(); err != nil {
			sc.lg.Errorf("%s: panic: %v\n%s", what, err, debug.Stack())
		}
	}()
	fn()
}

///////////////////////////////////////////////////////////////////////////
// Pick pass

// pick renders the scene into the off-screen pick framebuffer and resolves
// the object(s) at the pick point. In deep-pick mode, when the top pick is
// not terrain, the non-terrain content is rendered again with depth testing
// off and the two passes' objects are merged by identity.
func (sc *Controller) pick(dc *DrawContext) *PickedObject {
	if err := sc.r.BindPickFramebuffer(dc.Viewport[2], dc.Viewport[3]); err != nil {
		sc.lg.Warnf("pick framebuffer unavailable: %v", err)
		return nil
	}
	defer sc.r.UnbindPickFramebuffer()

	sc.clearPickPass(dc, true)
	sc.pickTerrain(dc)
	sc.pickLayers(dc)
	sc.drainOrdered(dc)

	top := dc.PickedObjects.TopPickedObject(dc.ReadPickCode)

	if dc.DeepPick && top != nil && !top.IsTerrain {
		shallow := dc.PickedObjects
		dc.PickedObjects = PickedObjectList{}

		// Depth testing off: occluded objects under the pointer surface in
		// turn as each layer resolves its own registrations.
		sc.clearPickPass(dc, false)
		sc.pickLayers(dc)
		sc.drainOrdered(dc)

		shallow.Merge(&dc.PickedObjects)
		dc.PickedObjects = shallow
	}
	return top
}

// clearPickPass clears the pick framebuffer to the reserved zero code and
// sets the state a pick pass requires: no blending and no dithering, so
// pick colors read back exactly as written.
func (sc *Controller) clearPickPass(dc *DrawContext, depthTest bool) {
	cb := renderer.GetCommandBuffer()
	defer renderer.ReturnCommandBuffer(cb)

	cb.ClearRGB(renderer.RGB{})
	cb.ClearDepth()
	cb.DisableBlend()
	cb.DisableDither()
	cb.DepthMask(true)
	if depthTest {
		cb.EnableDepthTest()
	} else {
		cb.DisableDepthTest()
	}
	dc.Draw(cb)
}

func (sc *Controller) pickTerrain(dc *DrawContext) {
	if dc.Terrain == nil {
		return
	}

	cb := renderer.GetCommandBuffer()
	defer renderer.ReturnCommandBuffer(cb)

	for _, sg := range dc.Terrain.Geometry {
		code := dc.NextPickCode()
		pos := geo.Position{LatLon: sg.Sector.Centroid()}
		sc.terrainPick.AddPickableObject(code, sg, pos, true)
		sg.Pick(cb, renderer.PickColorForCode(code))
	}
	dc.Draw(cb)
	sc.terrainPick.ResolvePick(dc, nil)
}

func (sc *Controller) pickLayers(dc *DrawContext) {
	for _, layer := range sc.layers {
		if !layer.Enabled() {
			continue
		}
		dc.CurrentLayer = layer
		sc.isolate("layer "+layer.Name(), func() { layer.Pick(dc) })
	}
	dc.CurrentLayer = nil
}
