// renderer/renderer_test.go
// Copyright(c) 2026 tellus contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package renderer

import (
	gomath "math"
	"testing"
)

func TestPickColorCodec(t *testing.T) {
	for _, code := range []uint32{1, 2, 255, 256, 65535, 65536, 0xfedcba} {
		c := PickColorForCode(code)
		r := uint8(c.R*255 + 0.5)
		g := uint8(c.G*255 + 0.5)
		b := uint8(c.B*255 + 0.5)
		if got := PickCodeForColor(r, g, b); got != code {
			t.Errorf("code %d round-tripped to %d", code, got)
		}
	}

	if got := PickCodeForColor(0, 0, 0); got != 0 {
		t.Errorf("black decoded to %d, want the reserved code 0", got)
	}
}

func TestFloat3BufferOffset(t *testing.T) {
	cb := GetCommandBuffer()
	defer ReturnCommandBuffer(cb)

	verts := [][3]float32{{1, 2, 3}, {4, 5, 6}}
	offset := cb.Float3Buffer(verts)

	// The offset is in bytes from the start of the buffer; the values
	// stored there must be the float bits of the vertices.
	w := offset / 4
	for i, v := range verts {
		for c := 0; c < 3; c++ {
			got := gomath.Float32frombits(cb.Buf[w+3*i+c])
			if got != v[c] {
				t.Errorf("vertex %d component %d: got %g, want %g", i, c, got, v[c])
			}
		}
	}
}

func TestIntBufferOffset(t *testing.T) {
	cb := GetCommandBuffer()
	defer ReturnCommandBuffer(cb)

	indices := []int32{0, 1, 2, 0, 2, 3}
	offset := cb.IntBuffer(indices)

	w := offset / 4
	for i, v := range indices {
		if got := int32(cb.Buf[w+i]); got != v {
			t.Errorf("index %d: got %d, want %d", i, got, v)
		}
	}
}

func TestTrianglesDrawBuilderGrid(t *testing.T) {
	td := GetTrianglesDrawBuilder()
	defer ReturnTrianglesDrawBuilder(td)

	// A 3x3 vertex grid has 4 cells and so 8 triangles.
	var verts [][3]float32
	for i := 0; i < 9; i++ {
		verts = append(verts, [3]float32{float32(i), 0, 0})
	}
	td.AddGrid(3, 3, verts)

	if len(td.indices) != 8*3 {
		t.Errorf("grid produced %d indices, want %d", len(td.indices), 8*3)
	}
	for _, idx := range td.indices {
		if idx < 0 || int(idx) >= len(verts) {
			t.Errorf("index %d out of range", idx)
		}
	}
}

func TestCommandBufferCall(t *testing.T) {
	var sub CommandBuffer
	sub.ClearRGB(RGB{1, 0, 0})

	cb := GetCommandBuffer()
	defer ReturnCommandBuffer(cb)

	cb.Call(sub)
	if len(cb.called) != 1 {
		t.Errorf("sub-buffer not recorded")
	}

	// Calling an empty buffer is a no-op.
	cb.Call(CommandBuffer{})
	if len(cb.called) != 1 {
		t.Errorf("empty sub-buffer was recorded")
	}
}
