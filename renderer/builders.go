// renderer/builders.go
// Copyright(c) 2026 tellus contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package renderer

import (
	"sync"
)

// This file defines a number of helper classes that allow incrementally
// accumulating geometry to be drawn and then generating corresponding
// CommandBuffer commands for batched drawing.

// PointsDrawBuilder accumulates colored points to be drawn in a single
// batch.
type PointsDrawBuilder struct {
	p       [][3]float32
	color   []RGB
	indices []int32
}

func (p *PointsDrawBuilder) Reset() {
	p.p = p.p[:0]
	p.color = p.color[:0]
	p.indices = p.indices[:0]
}

func (p *PointsDrawBuilder) AddPoint(pt [3]float32, color RGB) {
	p.p = append(p.p, pt)
	p.color = append(p.color, color)
	p.indices = append(p.indices, int32(len(p.p)-1))
}

// GenerateCommands adds commands to the specified command buffer to draw
// the points stored in the PointsDrawBuilder.
func (p *PointsDrawBuilder) GenerateCommands(cb *CommandBuffer) {
	if len(p.indices) == 0 {
		return
	}

	pos := cb.Float3Buffer(p.p)
	cb.VertexArray(pos, 3, 3*4)

	rgb := cb.RGBBuffer(p.color)
	cb.RGB32Array(rgb, 3, 3*4)

	ind := cb.IntBuffer(p.indices)
	cb.DrawPoints(ind, len(p.indices))

	cb.DisableVertexArray()
	cb.DisableColorArray()
}

var pointsDrawBuilderPool = sync.Pool{New: func() any { return &PointsDrawBuilder{} }}

func GetPointsDrawBuilder() *PointsDrawBuilder {
	return pointsDrawBuilderPool.Get().(*PointsDrawBuilder)
}

func ReturnPointsDrawBuilder(pd *PointsDrawBuilder) {
	pd.Reset()
	pointsDrawBuilderPool.Put(pd)
}

// LinesDrawBuilder accumulates lines to be drawn together. Note that it
// does not allow specifying the lines' color; the current color as set via
// the CommandBuffer SetRGB method is used for all of them.
type LinesDrawBuilder struct {
	p       [][3]float32
	indices []int32
}

func (l *LinesDrawBuilder) Reset() {
	l.p = l.p[:0]
	l.indices = l.indices[:0]
}

// AddLine adds a lines with the specified vertex positions to the set of
// lines to be drawn.
func (l *LinesDrawBuilder) AddLine(p0, p1 [3]float32) {
	idx := int32(len(l.p))
	l.p = append(l.p, p0, p1)
	l.indices = append(l.indices, idx, idx+1)
}

// AddLineStrip adds multiple lines to the lines draw builder where each
// line is given by a successive pair of points, a la GL_LINE_STRIP.
func (l *LinesDrawBuilder) AddLineStrip(p [][3]float32) {
	idx := int32(len(l.p))
	l.p = append(l.p, p...)
	for i := 0; i < len(p)-1; i++ {
		l.indices = append(l.indices, idx+int32(i), idx+int32(i+1))
	}
}

// AddLineLoop adds lines to the draw builder that connect successive
// points, including a line from the last to the first.
func (l *LinesDrawBuilder) AddLineLoop(p [][3]float32) {
	idx := int32(len(l.p))
	l.p = append(l.p, p...)
	for i := range p {
		next := (i + 1) % len(p)
		l.indices = append(l.indices, idx+int32(i), idx+int32(next))
	}
}

// GenerateCommands adds commands to the specified command buffer to draw
// the lines stored in the LinesDrawBuilder.
func (l *LinesDrawBuilder) GenerateCommands(cb *CommandBuffer) {
	if len(l.indices) == 0 {
		return
	}

	p := cb.Float3Buffer(l.p)
	cb.VertexArray(p, 3, 3*4)

	ind := cb.IntBuffer(l.indices)
	cb.DrawLines(ind, len(l.indices))

	cb.DisableVertexArray()
}

// LinesDrawBuilders are managed using a sync.Pool so that their buf slice
// allocations persist across multiple uses.
var linesDrawBuilderPool = sync.Pool{New: func() any { return &LinesDrawBuilder{} }}

func GetLinesDrawBuilder() *LinesDrawBuilder {
	return linesDrawBuilderPool.Get().(*LinesDrawBuilder)
}

func ReturnLinesDrawBuilder(ld *LinesDrawBuilder) {
	ld.Reset()
	linesDrawBuilderPool.Put(ld)
}

// ColoredLinesDrawBuilder is similar to the LinesDrawBuilder though it
// allows specifying the color of each line individually.  Its methods
// otherwise mostly parallel those of LinesDrawBuilder; see the
// documentation there.
type ColoredLinesDrawBuilder struct {
	LinesDrawBuilder
	color []RGB
}

func (l *ColoredLinesDrawBuilder) Reset() {
	l.LinesDrawBuilder.Reset()
	l.color = l.color[:0]
}

func (l *ColoredLinesDrawBuilder) AddLine(p0, p1 [3]float32, color RGB) {
	l.LinesDrawBuilder.AddLine(p0, p1)
	l.color = append(l.color, color, color)
}

func (l *ColoredLinesDrawBuilder) AddLineLoop(color RGB, p [][3]float32) {
	l.LinesDrawBuilder.AddLineLoop(p)
	for range p {
		l.color = append(l.color, color)
	}
}

func (l *ColoredLinesDrawBuilder) GenerateCommands(cb *CommandBuffer) {
	if len(l.indices) == 0 {
		return
	}

	rgb := cb.RGBBuffer(l.color)
	cb.RGB32Array(rgb, 3, 3*4)

	l.LinesDrawBuilder.GenerateCommands(cb)

	cb.DisableColorArray()
}

// ColoredLinesDrawBuilders are managed using a sync.Pool so that their buf
// slice allocations persist across multiple uses.
var coloredLinesDrawBuilderPool = sync.Pool{New: func() any { return &ColoredLinesDrawBuilder{} }}

func GetColoredLinesDrawBuilder() *ColoredLinesDrawBuilder {
	return coloredLinesDrawBuilderPool.Get().(*ColoredLinesDrawBuilder)
}

func ReturnColoredLinesDrawBuilder(ld *ColoredLinesDrawBuilder) {
	ld.Reset()
	coloredLinesDrawBuilderPool.Put(ld)
}

// TrianglesDrawBuilder collects triangles to be batched up in a single
// draw call. Note that it does not allow specifying per-vertex or
// per-triangle color; rather, the current color as specified by a call to
// the CommandBuffer SetRGB method is used for all triangles.
type TrianglesDrawBuilder struct {
	p       [][3]float32
	indices []int32
}

func (t *TrianglesDrawBuilder) Reset() {
	t.p = t.p[:0]
	t.indices = t.indices[:0]
}

// AddTriangle adds a triangle with the specified three vertices to be
// drawn.
func (t *TrianglesDrawBuilder) AddTriangle(p0, p1, p2 [3]float32) {
	idx := int32(len(t.p))
	t.p = append(t.p, p0, p1, p2)
	t.indices = append(t.indices, idx, idx+1, idx+2)
}

// AddQuad adds a quadrilateral with the specified four vertices to be
// drawn; the quad is split into two triangles for drawing.
func (t *TrianglesDrawBuilder) AddQuad(p0, p1, p2, p3 [3]float32) {
	idx := int32(len(t.p))
	t.p = append(t.p, p0, p1, p2, p3)
	t.indices = append(t.indices, idx, idx+1, idx+2, idx, idx+2, idx+3)
}

// AddGrid adds a regular nLat x nLon grid of vertices in row-major order,
// triangulated as two triangles per cell. This is the path terrain meshes
// take; the vertices are referenced by the index buffer rather than
// duplicated per-triangle.
func (t *TrianglesDrawBuilder) AddGrid(nLat, nLon int, vertices [][3]float32) {
	base := int32(len(t.p))
	t.p = append(t.p, vertices...)
	for i := 0; i < nLat-1; i++ {
		for j := 0; j < nLon-1; j++ {
			v0 := base + int32(i*nLon+j)
			v1 := v0 + 1
			v2 := v0 + int32(nLon) + 1
			v3 := v0 + int32(nLon)
			t.indices = append(t.indices, v0, v1, v2, v0, v2, v3)
		}
	}
}

// GenerateCommands adds commands to the specified command buffer to draw
// the triangles stored in the TrianglesDrawBuilder.
func (t *TrianglesDrawBuilder) GenerateCommands(cb *CommandBuffer) {
	if len(t.indices) == 0 {
		return
	}

	p := cb.Float3Buffer(t.p)
	cb.VertexArray(p, 3, 3*4)

	ind := cb.IntBuffer(t.indices)
	cb.DrawTriangles(ind, len(t.indices))

	cb.DisableVertexArray()
}

// TrianglesDrawBuilders are managed using a sync.Pool so that their buf
// slice allocations persist across multiple uses.
var trianglesDrawBuilderPool = sync.Pool{New: func() any { return &TrianglesDrawBuilder{} }}

func GetTrianglesDrawBuilder() *TrianglesDrawBuilder {
	return trianglesDrawBuilderPool.Get().(*TrianglesDrawBuilder)
}

func ReturnTrianglesDrawBuilder(td *TrianglesDrawBuilder) {
	td.Reset()
	trianglesDrawBuilderPool.Put(td)
}

// ColoredTrianglesDrawBuilder
type ColoredTrianglesDrawBuilder struct {
	TrianglesDrawBuilder
	color []RGB
}

func (t *ColoredTrianglesDrawBuilder) Reset() {
	t.TrianglesDrawBuilder.Reset()
	t.color = t.color[:0]
}

// AddTriangle adds a triangle with the specified three vertices to be
// drawn.
func (t *ColoredTrianglesDrawBuilder) AddTriangle(p0, p1, p2 [3]float32, rgb RGB) {
	t.TrianglesDrawBuilder.AddTriangle(p0, p1, p2)
	t.color = append(t.color, rgb, rgb, rgb)
}

// AddQuad adds a quadrilateral with the specified four vertices to be
// drawn; the quad is split into two triangles for drawing.
func (t *ColoredTrianglesDrawBuilder) AddQuad(p0, p1, p2, p3 [3]float32, rgb RGB) {
	t.TrianglesDrawBuilder.AddQuad(p0, p1, p2, p3)
	t.color = append(t.color, rgb, rgb, rgb, rgb)
}

func (t *ColoredTrianglesDrawBuilder) GenerateCommands(cb *CommandBuffer) {
	if len(t.indices) == 0 {
		return
	}

	rgb := cb.RGBBuffer(t.color)
	cb.RGB32Array(rgb, 3, 3*4)

	t.TrianglesDrawBuilder.GenerateCommands(cb)

	cb.DisableColorArray()
}

// ColoredTrianglesDrawBuilders are managed using a sync.Pool so that their
// buf slice allocations persist across multiple uses.
var coloredTrianglesDrawBuilderPool = sync.Pool{New: func() any { return &ColoredTrianglesDrawBuilder{} }}

func GetColoredTrianglesDrawBuilder() *ColoredTrianglesDrawBuilder {
	return coloredTrianglesDrawBuilderPool.Get().(*ColoredTrianglesDrawBuilder)
}

func ReturnColoredTrianglesDrawBuilder(td *ColoredTrianglesDrawBuilder) {
	td.Reset()
	coloredTrianglesDrawBuilderPool.Put(td)
}
