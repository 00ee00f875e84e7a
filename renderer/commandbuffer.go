// renderer/commandbuffer.go
// Copyright(c) 2026 tellus contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package renderer

import (
	gomath "math"
	"sync"
	"unsafe"

	"github.com/go-gl/mathgl/mgl32"
)

// The command buffer stores a series of rendering commands, represented by
// the following values. Each one is followed in the buffer by a number of
// command arguments, after which the next command follows.  Comments
// after each command briefly describe its arguments.
//
// Buffers (vertex, index, color, texcoord), are all stored directly in the
// CommandBuffer, following RendererFloatBuffer and RendererIntBuffer
// commands; the first argument after those commands is the length of the
// buffer and then its values follow directly. Rendering commands that use
// buffers (e.g., buffer binding commands like RendererVertexArray or draw
// commands like RendererDrawLines) are then directed to those buffers via
// integer parameters that encode the offset from the start of the command
// buffer where a buffer begins. (Note that this implies that one
// CommandBuffer cannot refer to a vertex/index buffer in another
// CommandBuffer.)

const (
	RendererLoadProjectionMatrix = iota // 16 float32: matrix
	RendererLoadModelViewMatrix         // 16 float32: matrix
	RendererClearRGBA                   // 4 float32: RGBA
	RendererClearDepth                  // no args
	RendererScissor                     // 4 int32: x, y, width, height
	RendererViewport                    // 4 int32: x, y, width, height
	RendererBlend                       // no args: premultiplied alpha (one, 1-src alpha)
	RendererDisableBlend                // no args
	RendererEnableDepthTest             // no args
	RendererDisableDepthTest            // no args
	RendererDepthMask                   // 1 int32: 0 or 1
	RendererEnableCullFace              // no args: cull back faces
	RendererDisableCullFace             // no args
	RendererEnableDither                // no args
	RendererDisableDither               // no args
	RendererSetRGBA                     // 4 float32: RGBA
	RendererFloatBuffer                 // int32 size, then size*float32 values
	RendererIntBuffer                   // int32: size, then size*int32 values
	RendererEnableTexture               // int32 handle
	RendererDisableTexture              // no args
	RendererVertexArray                 // byte offset to array values, n components, stride (bytes)
	RendererDisableVertexArray          // no args
	RendererRGB32Array                  // byte offset to array values, n components, stride (bytes)
	RendererDisableColorArray           // no args
	RendererTexCoordArray               // byte offset to array values, n components, stride (bytes)
	RendererDisableTexCoordArray        // no args
	RendererLineWidth                   // float32
	RendererPointSize                   // float32
	RendererDrawPoints                  // 2 int32: offset to the index buffer, count
	RendererDrawLines                   // 2 int32: offset to the index buffer, count
	RendererDrawTriangles               // 2 int32: offset to the index buffer, count
	RendererCallBuffer                  // 1 int32: buffer index
	RendererResetState                  // no args
)

// CommandBuffer encodes a sequence of rendering commands in an
// API-agnostic manner. It makes it possible to "pre-bake" rendering work
// (e.g., a frame's terrain mesh) into a form that can be efficiently
// processed by a Renderer and possibly reused over multiple frames.
type CommandBuffer struct {
	Buf    []uint32
	called []CommandBuffer
}

// CommandBuffers are managed using a sync.Pool so that their buf slice
// allocations persist across multiple uses.
var commandBufferPool = sync.Pool{New: func() any { return &CommandBuffer{} }}

func GetCommandBuffer() *CommandBuffer {
	return commandBufferPool.Get().(*CommandBuffer)
}

func ReturnCommandBuffer(cb *CommandBuffer) {
	cb.Reset()
	commandBufferPool.Put(cb)
}

// Reset resets the command buffer's length to zero so that it can be
// reused.
func (cb *CommandBuffer) Reset() {
	cb.Buf = cb.Buf[:0]
	cb.called = cb.called[:0]
}

// growFor ensures that at least n more values can be added to the end of
// the buffer without going past its capacity.
func (cb *CommandBuffer) growFor(n int) {
	if len(cb.Buf)+n > cap(cb.Buf) {
		sz := 2 * cap(cb.Buf)
		if sz < 1024 {
			sz = 1024
		}
		if sz < len(cb.Buf)+n {
			sz = 2 * (len(cb.Buf) + n)
		}
		b := make([]uint32, len(cb.Buf), sz)
		copy(b, cb.Buf)
		cb.Buf = b
	}
}

func (cb *CommandBuffer) appendFloats(floats ...float32) {
	for _, f := range floats {
		// Convert each one to a uint32 since that's the type that is
		// actually stored...
		cb.Buf = append(cb.Buf, gomath.Float32bits(f))
	}
}

func (cb *CommandBuffer) appendInts(ints ...int) {
	for _, i := range ints {
		cb.Buf = append(cb.Buf, uint32(i))
	}
}

func (cb *CommandBuffer) LoadProjectionMatrix(m mgl32.Mat4) {
	cb.appendInts(RendererLoadProjectionMatrix)
	cb.appendFloats(m[:]...)
}

func (cb *CommandBuffer) LoadModelViewMatrix(m mgl32.Mat4) {
	cb.appendInts(RendererLoadModelViewMatrix)
	cb.appendFloats(m[:]...)
}

// ClearRGB adds a command to the command buffer to clear the framebuffer
// to the specified RGB color.
func (cb *CommandBuffer) ClearRGB(color RGB) {
	cb.appendInts(RendererClearRGBA)
	cb.appendFloats(color.R, color.G, color.B, 1)
}

// ClearDepth adds a command to the command buffer to clear the depth
// buffer.
func (cb *CommandBuffer) ClearDepth() {
	cb.appendInts(RendererClearDepth)
}

// Scissor adds a command to the command buffer to set the scissor
// rectangle as specified.
func (cb *CommandBuffer) Scissor(x, y, w, h int) {
	cb.appendInts(RendererScissor, x, y, w, h)
}

// Viewport adds a command to the command buffer to set the viewport to the
// specified rectangle.
func (cb *CommandBuffer) Viewport(x, y, w, h int) {
	cb.appendInts(RendererViewport, x, y, w, h)
}

// SetRGBA adds a command to the command buffer to set the current RGBA
// color. Subsequent draw commands will inherit this color unless they
// specify per-vertex colors themselves.
func (cb *CommandBuffer) SetRGBA(rgba RGBA) {
	cb.appendInts(RendererSetRGBA)
	cb.appendFloats(rgba.R, rgba.G, rgba.B, rgba.A)
}

// SetRGB adds a command to the command buffer to set the current RGB
// color (alpha is set to 1). Subsequent draw commands will inherit this
// color unless they specify per-vertex colors themselves.
func (cb *CommandBuffer) SetRGB(rgb RGB) {
	cb.appendInts(RendererSetRGBA)
	cb.appendFloats(rgb.R, rgb.G, rgb.B, 1)
}

// Blend adds a command to the command buffer to enable blending. Colors
// are assumed to carry premultiplied alpha, so the blend function is
// (one, 1-src alpha).
func (cb *CommandBuffer) Blend() {
	cb.appendInts(RendererBlend)
}

// DisableBlend adds a command to the command buffer that disables
// blending.
func (cb *CommandBuffer) DisableBlend() {
	cb.appendInts(RendererDisableBlend)
}

func (cb *CommandBuffer) EnableDepthTest() {
	cb.appendInts(RendererEnableDepthTest)
}

func (cb *CommandBuffer) DisableDepthTest() {
	cb.appendInts(RendererDisableDepthTest)
}

// DepthMask adds a command to the command buffer that enables or disables
// writes to the depth buffer.
func (cb *CommandBuffer) DepthMask(write bool) {
	w := 0
	if write {
		w = 1
	}
	cb.appendInts(RendererDepthMask, w)
}

func (cb *CommandBuffer) EnableCullFace() {
	cb.appendInts(RendererEnableCullFace)
}

func (cb *CommandBuffer) DisableCullFace() {
	cb.appendInts(RendererDisableCullFace)
}

// EnableDither and DisableDither toggle framebuffer dithering. Dithering
// must be off during a pick pass so that pick colors read back exactly as
// written.
func (cb *CommandBuffer) EnableDither() {
	cb.appendInts(RendererEnableDither)
}

func (cb *CommandBuffer) DisableDither() {
	cb.appendInts(RendererDisableDither)
}

// Float2Buffer stores the provided slice of [2]float32 values in the
// CommandBuffer and returns the byte offset where the first value of the
// slice is stored; this offset can then be passed to commands like
// VertexArray to specify this array.
func (cb *CommandBuffer) Float2Buffer(buf [][2]float32) int {
	cb.appendInts(RendererFloatBuffer, 2*len(buf))
	offset := 4 * len(cb.Buf)

	n := 2 * len(buf)
	cb.growFor(n)
	start := len(cb.Buf)
	cb.Buf = cb.Buf[:start+n]
	copy(cb.Buf[start:start+n], unsafe.Slice((*uint32)(unsafe.Pointer(&buf[0])), n))

	return offset
}

// Float3Buffer stores the provided slice of [3]float32 values in the
// CommandBuffer and returns the byte offset where the first value of the
// slice is stored.
func (cb *CommandBuffer) Float3Buffer(buf [][3]float32) int {
	cb.appendInts(RendererFloatBuffer, 3*len(buf))
	offset := 4 * len(cb.Buf)

	n := 3 * len(buf)
	cb.growFor(n)
	start := len(cb.Buf)
	cb.Buf = cb.Buf[:start+n]
	copy(cb.Buf[start:start+n], unsafe.Slice((*uint32)(unsafe.Pointer(&buf[0])), n))

	return offset
}

// RGBBuffer stores the provided slice of RGB values in the command buffer
// and returns the byte offset where the first value of the slice is
// stored.
func (cb *CommandBuffer) RGBBuffer(buf []RGB) int {
	cb.appendInts(RendererFloatBuffer, 3*len(buf))
	offset := 4 * len(cb.Buf)

	n := 3 * len(buf)
	cb.growFor(n)
	start := len(cb.Buf)
	copy(cb.Buf[start:start+n], unsafe.Slice((*uint32)(unsafe.Pointer(&buf[0])), n))
	cb.Buf = cb.Buf[:start+n]

	return offset
}

// IntBuffer stores the provided slice of int32 values in the command buffer
// and returns the byte offset where the first value of the slice is stored.
func (cb *CommandBuffer) IntBuffer(buf []int32) int {
	cb.appendInts(RendererIntBuffer, len(buf))
	offset := 4 * len(cb.Buf)

	n := len(buf)
	cb.growFor(n)
	start := len(cb.Buf)
	copy(cb.Buf[start:start+n], unsafe.Slice((*uint32)(unsafe.Pointer(&buf[0])), n))
	cb.Buf = cb.Buf[:start+n]

	return offset
}

// EnableTexture enables texturing from the specified texture id (as
// returned by the Renderer CreateTextureFromImage method implementation).
func (cb *CommandBuffer) EnableTexture(id uint32) {
	cb.appendInts(RendererEnableTexture, int(id))
}

// DisableTexture adds a command to the command buffer to disable
// texturing.
func (cb *CommandBuffer) DisableTexture() {
	cb.appendInts(RendererDisableTexture)
}

// VertexArray adds a command to the command buffer that specifies an array
// of vertex coordinates to use for a subsequent draw command. offset gives
// the offset into the current command buffer where the vertices begin
// (e.g., as returned by Float3Buffer), nComps is the number of components
// per vertex (3 for globe geometry, 2 for screen space), and stride gives
// the stride in bytes between vertices.
func (cb *CommandBuffer) VertexArray(offset, nComps, stride int) {
	cb.appendInts(RendererVertexArray, offset, nComps, stride)
}

// DisableVertexArray adds a command to the command buffer to disable the
// current vertex array.
func (cb *CommandBuffer) DisableVertexArray() {
	cb.appendInts(RendererDisableVertexArray)
}

// RGB32Array adds a command to the command buffer that specifies an array
// of float32 RGB colors to use for a subsequent draw command. Its
// arguments are analogous to the ones passed to VertexArray.
func (cb *CommandBuffer) RGB32Array(offset, nComps, stride int) {
	cb.appendInts(RendererRGB32Array, offset, nComps, stride)
}

// DisableColorArray adds a command to the command buffer that disables
// the current array of RGB per-vertex colors.
func (cb *CommandBuffer) DisableColorArray() {
	cb.appendInts(RendererDisableColorArray)
}

// TexCoordArray adds a command to the command buffer that specifies an
// array of per-vertex texture coordinates. Its arguments are analogous
// to the ones passed to VertexArray.
func (cb *CommandBuffer) TexCoordArray(offset, nComps, stride int) {
	cb.appendInts(RendererTexCoordArray, offset, nComps, stride)
}

// DisableTexCoordArray adds a command to the command buffer that disables
// the currently-active array of texture coordinates.
func (cb *CommandBuffer) DisableTexCoordArray() {
	cb.appendInts(RendererDisableTexCoordArray)
}

// LineWidth adds a command to the command buffer that sets the width in
// pixels of subsequent lines that are drawn. The scale parameter should
// give the ratio of framebuffer to display resolution so that lines are
// the same width on retina-style displays.
func (cb *CommandBuffer) LineWidth(w float32, scale float32) {
	cb.appendInts(RendererLineWidth)
	cb.appendFloats(w * scale)
}

// PointSize adds a command to the command buffer that sets the size in
// pixels of subsequent points that are drawn.
func (cb *CommandBuffer) PointSize(s float32, scale float32) {
	cb.appendInts(RendererPointSize)
	cb.appendFloats(s * scale)
}

// DrawPoints adds a command to the command buffer to draw a number of
// points. offset gives the offset in the current command buffer where the
// index buffer is (e.g., as returned by IntBuffer), and count gives the
// number of indices.
func (cb *CommandBuffer) DrawPoints(offset, count int) {
	cb.appendInts(RendererDrawPoints, offset, count)
}

// DrawLines adds a command to the command buffer to draw a number of
// lines; each line is specified by two indices in the index buffer.
func (cb *CommandBuffer) DrawLines(offset, count int) {
	cb.appendInts(RendererDrawLines, offset, count)
}

// DrawTriangles adds a command to the command buffer to draw a number of
// triangles; each is specified by three vertices in the index buffer.
func (cb *CommandBuffer) DrawTriangles(offset, count int) {
	cb.appendInts(RendererDrawTriangles, offset, count)
}

// Call adds a command to the command buffer that causes the commands in
// the provided command buffer to be processed and executed. After the end
// of the command buffer is reached, processing of commands in the current
// command buffer continues.
func (cb *CommandBuffer) Call(sub CommandBuffer) {
	if sub.Buf == nil {
		// make it a no-op
		return
	}

	cb.appendInts(RendererCallBuffer, len(cb.called))
	// Make our own copy of the slice to ensure it isn't garbage collected.
	cb.called = append(cb.called, sub)
}

// ResetState adds a command to the command buffer that resets all of the
// assorted graphics state (scissor rectangle, blending, texturing, vertex
// arrays, etc.) to default values.
func (cb *CommandBuffer) ResetState() {
	cb.appendInts(RendererResetState)
}
