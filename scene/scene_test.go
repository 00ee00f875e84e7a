// scene/scene_test.go
// Copyright(c) 2026 tellus contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package scene

import (
	"image"
	gomath "math"
	"testing"

	"github.com/paulmach/orb"

	"github.com/tellusgl/tellus/geo"
	"github.com/tellusgl/tellus/renderer"
)

// fakeRenderer decodes command buffers just far enough to track the color
// each draw command lands in the pick framebuffer, so ReadPickPixel behaves
// like a real readback of the topmost drawn pick color.
type fakeRenderer struct {
	pickBound  bool
	pickColor  renderer.RGB // color of the last draw while bound
	nDrawCalls int
	nPickDraws int
}

func (f *fakeRenderer) CreateTextureFromImage(image.Image, bool) uint32  { return 1 }
func (f *fakeRenderer) UpdateTextureFromImage(uint32, image.Image, bool) {}
func (f *fakeRenderer) DestroyTexture(uint32)                            {}
func (f *fakeRenderer) Dispose()                                         {}

func (f *fakeRenderer) BindPickFramebuffer(width, height int) error {
	f.pickBound = true
	return nil
}

func (f *fakeRenderer) UnbindPickFramebuffer() { f.pickBound = false }

func (f *fakeRenderer) ReadPickPixel(x, y int) (uint32, error) {
	to8 := func(c float32) uint8 { return uint8(gomath.Round(float64(c) * 255)) }
	return renderer.PickCodeForColor(to8(f.pickColor.R), to8(f.pickColor.G), to8(f.pickColor.B)), nil
}

func (f *fakeRenderer) RenderCommandBuffer(cb *renderer.CommandBuffer) renderer.RendererStats {
	buf := cb.Buf
	constColor := renderer.RGB{R: 1, G: 1, B: 1}
	colorArrayOffset := -1

	float32At := func(i int) float32 { return gomath.Float32frombits(buf[i]) }
	drawColor := func() renderer.RGB {
		if colorArrayOffset >= 0 {
			i := colorArrayOffset / 4
			return renderer.RGB{R: float32At(i), G: float32At(i + 1), B: float32At(i + 2)}
		}
		return constColor
	}

	for i := 0; i < len(buf); {
		cmd := buf[i]
		i++
		switch cmd {
		case renderer.RendererLoadProjectionMatrix, renderer.RendererLoadModelViewMatrix:
			i += 16
		case renderer.RendererClearRGBA:
			if f.pickBound {
				f.pickColor = renderer.RGB{R: float32At(i), G: float32At(i + 1), B: float32At(i + 2)}
			}
			i += 4
		case renderer.RendererScissor, renderer.RendererViewport:
			i += 4
		case renderer.RendererDepthMask, renderer.RendererEnableTexture,
			renderer.RendererLineWidth, renderer.RendererPointSize,
			renderer.RendererCallBuffer:
			i++
		case renderer.RendererSetRGBA:
			constColor = renderer.RGB{R: float32At(i), G: float32At(i + 1), B: float32At(i + 2)}
			i += 4
		case renderer.RendererFloatBuffer, renderer.RendererIntBuffer:
			n := int(buf[i])
			i += 1 + n
		case renderer.RendererVertexArray, renderer.RendererTexCoordArray:
			i += 3
		case renderer.RendererRGB32Array:
			colorArrayOffset = int(buf[i])
			i += 3
		case renderer.RendererDisableColorArray:
			colorArrayOffset = -1
		case renderer.RendererDrawPoints, renderer.RendererDrawLines, renderer.RendererDrawTriangles:
			f.nDrawCalls++
			if f.pickBound {
				f.nPickDraws++
				f.pickColor = drawColor()
			}
			i += 2
		default:
			// remaining commands carry no arguments
		}
	}
	return renderer.RendererStats{}
}

func pointFeature(lat, lon float64) *Feature {
	return &Feature{Geometry: orb.Point{lon, lat}, Label: "pt"}
}

func testFrameParams(pick, deep bool) FrameParams {
	return FrameParams{
		Viewport:         [4]int{0, 0, 640, 480},
		VisibleSector:    geo.SectorFromDegrees(0, 10, 0, 10),
		TargetResolution: 1,
		Pick:             pick,
		DeepPick:         deep,
		PickPoint:        [2]int{320, 240},
	}
}

func TestPickResolvesRegisteredObject(t *testing.T) {
	fr := &fakeRenderer{}
	sc := NewController(fr, nil, nil, ControllerConfig{}, nil)

	vl := NewVectorLayer("overlay", renderer.RGB{R: 1}, 0)
	f := pointFeature(5, 5)
	vl.AddFeature(f)
	sc.AddLayer(vl)

	result := sc.RenderFrame(testFrameParams(true, false))
	if result.TopPick == nil {
		t.Fatal("nothing picked")
	}
	if result.TopPick.Object != f {
		t.Errorf("picked %v, want the registered feature", result.TopPick.Object)
	}
	if result.TopPick.Layer != vl {
		t.Errorf("pick not tagged with the resolving layer")
	}
	if result.TopPick.IsTerrain {
		t.Errorf("vector feature flagged as terrain")
	}
}

func TestPickWithNoRegistrations(t *testing.T) {
	fr := &fakeRenderer{}
	sc := NewController(fr, nil, nil, ControllerConfig{}, nil)

	result := sc.RenderFrame(testFrameParams(true, false))
	if result.TopPick != nil {
		t.Errorf("picked %v from an empty scene", result.TopPick.Object)
	}
	if len(result.Picked) != 0 {
		t.Errorf("%d picked objects from an empty scene", len(result.Picked))
	}
}

func TestTopPickPrefersLaterDrawnPlacemark(t *testing.T) {
	fr := &fakeRenderer{}
	sc := NewController(fr, nil, nil, ControllerConfig{}, nil)

	vl := NewVectorLayer("overlay", renderer.RGB{R: 1}, 0)
	f := pointFeature(5, 5)
	vl.AddFeature(f)
	pm := &Placemark{Position: geo.Position{LatLon: geo.LatLonFromDegrees(5, 5)}, Label: "mark"}
	vl.AddPlacemark(pm)
	sc.AddLayer(vl)

	// The placemark renders in the deferred pass, over the feature; both
	// resolve, and the tie-break re-samples the authoritative top color.
	result := sc.RenderFrame(testFrameParams(true, false))
	if len(result.Picked) != 2 {
		t.Fatalf("%d picked objects, want 2", len(result.Picked))
	}
	if result.TopPick == nil || result.TopPick.Object != pm {
		t.Errorf("top pick is not the placemark drawn on top")
	}
}

func TestDeepPickMerge(t *testing.T) {
	fr := &fakeRenderer{}
	sc := NewController(fr, nil, nil, ControllerConfig{}, nil)

	l1 := NewVectorLayer("lower", renderer.RGB{R: 1}, 0)
	f1 := pointFeature(5, 5)
	l1.AddFeature(f1)
	l2 := NewVectorLayer("upper", renderer.RGB{G: 1}, 0)
	f2 := pointFeature(5, 5)
	l2.AddFeature(f2)
	sc.AddLayer(l1)
	sc.AddLayer(l2)

	result := sc.RenderFrame(testFrameParams(true, true))

	// Both objects picked once each: the deep pass re-resolves them, and
	// the merge dedupes by object identity.
	if len(result.Picked) != 2 {
		t.Fatalf("%d picked objects, want 2", len(result.Picked))
	}
	seen := map[any]int{}
	for _, po := range result.Picked {
		seen[po.Object]++
	}
	if seen[f1] != 1 || seen[f2] != 1 {
		t.Errorf("picked objects %v, want each feature exactly once", seen)
	}
}

func TestPickedObjectListMerge(t *testing.T) {
	a := &PickedObject{Code: 1, Object: "a"}
	b := &PickedObject{Code: 2, Object: "b"}
	terrainPO := &PickedObject{Code: 3, Object: "ground", IsTerrain: true}

	var shallow PickedObjectList
	shallow.Add(a)

	var deep PickedObjectList
	deep.Add(&PickedObject{Code: 4, Object: "a"}) // same identity, new entry
	deep.Add(b)
	deep.Add(terrainPO)

	shallow.Merge(&deep)
	if shallow.Len() != 2 {
		t.Fatalf("merged list has %d entries, want 2", shallow.Len())
	}
	if shallow.Objects()[0] != a || shallow.Objects()[1] != b {
		t.Errorf("merged list %v, want [a b]", shallow.Objects())
	}
	if !shallow.HasNonTerrain() {
		t.Errorf("HasNonTerrain false for a non-terrain list")
	}
}

// stubLayer records calls and optionally panics, for fault-isolation tests.
type stubLayer struct {
	name     string
	panics   bool
	rendered int
	picked   int
	submit   []OrderedRenderable
}

func (s *stubLayer) Name() string  { return s.name }
func (s *stubLayer) Enabled() bool { return true }

func (s *stubLayer) Render(dc *DrawContext) {
	if s.panics {
		panic("render fault")
	}
	s.rendered++
	for _, or := range s.submit {
		dc.AddOrderedRenderable(or)
	}
}

func (s *stubLayer) Pick(dc *DrawContext) {
	if s.panics {
		panic("pick fault")
	}
	s.picked++
}

type stubOrdered struct {
	distance float64
	order    *[]string
	tag      string
}

func (s *stubOrdered) Distance() float64 { return s.distance }

func (s *stubOrdered) Render(dc *DrawContext) {
	*s.order = append(*s.order, s.tag)
}

func (s *stubOrdered) Pick(dc *DrawContext) {}

func TestLayerFaultIsolation(t *testing.T) {
	fr := &fakeRenderer{}
	sc := NewController(fr, nil, nil, ControllerConfig{}, nil)

	before := &stubLayer{name: "before"}
	faulty := &stubLayer{name: "faulty", panics: true}
	after := &stubLayer{name: "after"}
	sc.AddLayer(before)
	sc.AddLayer(faulty)
	sc.AddLayer(after)

	sc.RenderFrame(testFrameParams(true, false))

	if before.rendered != 1 || after.rendered != 1 {
		t.Errorf("layers around the faulty one rendered (%d, %d) times, want (1, 1)",
			before.rendered, after.rendered)
	}
	if before.picked != 1 || after.picked != 1 {
		t.Errorf("layers around the faulty one picked (%d, %d) times, want (1, 1)",
			before.picked, after.picked)
	}
}

func TestOrderedRenderableOrdering(t *testing.T) {
	fr := &fakeRenderer{}
	sc := NewController(fr, nil, nil, ControllerConfig{}, nil)

	var order []string
	layer := &stubLayer{name: "submitter"}
	layer.submit = []OrderedRenderable{
		&stubOrdered{distance: 1, order: &order, tag: "near"},
		&stubOrdered{distance: 5, order: &order, tag: "far-first"},
		&stubOrdered{distance: 3, order: &order, tag: "mid"},
		&stubOrdered{distance: 5, order: &order, tag: "far-second"},
	}
	sc.AddLayer(layer)

	sc.RenderFrame(testFrameParams(false, false))

	want := []string{"far-first", "far-second", "mid", "near"}
	if len(order) != len(want) {
		t.Fatalf("drained %d renderables, want %d", len(order), len(want))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("drain order %v, want %v", order, want)
			break
		}
	}
}
