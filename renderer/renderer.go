// renderer/renderer.go
// Copyright(c) 2026 tellus contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package renderer

import (
	"fmt"
	"image"
	"log/slog"
)

// Renderer defines an interface for all of the drawing that happens in
// tellus. There is currently a single implementation of it, GLES2Renderer,
// though having all of these details behind the Renderer interface makes it
// relatively easy to write another rendering backend, and lets tests use a
// recording fake.
type Renderer interface {
	// CreateTextureFromImage returns an identifier for a texture map
	// defined by the specified image.
	CreateTextureFromImage(image image.Image, magNearest bool) uint32

	// UpdateTextureFromImage updates the contents of an existing texture
	// with the provided image.
	UpdateTextureFromImage(id uint32, image image.Image, magNearest bool)

	// DestroyTexture frees the resources associated with the given texture id.
	DestroyTexture(id uint32)

	// RenderCommandBuffer executes all of the commands encoded in the
	// provided command buffer, returning statistics about what was
	// rendered.
	RenderCommandBuffer(*CommandBuffer) RendererStats

	// BindPickFramebuffer redirects rendering to the off-screen pick
	// framebuffer, (re)allocating it if the viewport dimensions have
	// changed since the last pick pass.
	BindPickFramebuffer(width, height int) error

	// UnbindPickFramebuffer restores rendering to the default framebuffer.
	UnbindPickFramebuffer()

	// ReadPickPixel reads the pixel at the given framebuffer coordinates
	// from the pick framebuffer and returns the pick code encoded there;
	// code 0 means nothing was drawn at that pixel.
	ReadPickPixel(x, y int) (uint32, error)

	// Dispose releases resources allocated by the renderer.
	Dispose()
}

// RendererStats encapsulates assorted statistics from rendering.
type RendererStats struct {
	nBuffers, bufferBytes       int
	nDrawCalls                  int
	nPoints, nLines, nTriangles int
}

func (rs *RendererStats) String() string {
	return fmt.Sprintf("%d buffers (%.2f MB), %d draw calls: %d points, %d lines, %d tris",
		rs.nBuffers, float32(rs.bufferBytes)/(1024*1024), rs.nDrawCalls, rs.nPoints, rs.nLines, rs.nTriangles)
}

func (rs *RendererStats) Merge(s RendererStats) {
	rs.nBuffers += s.nBuffers
	rs.bufferBytes += s.bufferBytes
	rs.nDrawCalls += s.nDrawCalls
	rs.nPoints += s.nPoints
	rs.nLines += s.nLines
	rs.nTriangles += s.nTriangles
}

func (rs RendererStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("buffers", rs.nBuffers),
		slog.Int("buffer_memory", rs.bufferBytes),
		slog.Int("draw_calls", rs.nDrawCalls),
		slog.Int("points_drawn", rs.nPoints),
		slog.Int("lines", rs.nLines),
		slog.Int("tris", rs.nTriangles),
	)
}
