// renderer/rgb.go
// Copyright(c) 2026 tellus contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package renderer

///////////////////////////////////////////////////////////////////////////
// RGB

type RGB struct {
	R, G, B float32
}

type RGBA struct {
	R, G, B, A float32
}

func lerp(x, a, b float32) float32 {
	return (1-x)*a + x*b
}

func LerpRGB(x float32, a, b RGB) RGB {
	return RGB{R: lerp(x, a.R, b.R), G: lerp(x, a.G, b.G), B: lerp(x, a.B, b.B)}
}

func (r RGB) Equals(other RGB) bool {
	return r.R == other.R && r.G == other.G && r.B == other.B
}

func (r RGB) Scale(v float32) RGB {
	return RGB{R: r.R * v, G: r.G * v, B: r.B * v}
}

// RGBFromHex converts a packed integer color value to an RGB where the low
// 8 bits give blue, the next 8 give green, and then the next 8 give red.
func RGBFromHex(c int) RGB {
	r, g, b := (c>>16)&255, (c>>8)&255, c&255
	return RGB{R: float32(r) / 255, G: float32(g) / 255, B: float32(b) / 255}
}

func RGBFromUInt8(r uint8, g uint8, b uint8) RGB {
	return RGB{R: float32(r) / 255, G: float32(g) / 255, B: float32(b) / 255}
}

///////////////////////////////////////////////////////////////////////////
// Pick colors
//
// During a pick pass every pickable object draws itself in a unique solid
// color; reading back the pixel under the pointer then identifies the
// object. Codes are 24-bit values packed into the RGB channels. Code 0 is
// reserved for the pick pass clear color and never identifies an object.

// PickColorForCode returns the color an object with the given pick code
// must draw itself in during a pick pass.
func PickColorForCode(code uint32) RGB {
	return RGBFromUInt8(uint8(code>>16), uint8(code>>8), uint8(code))
}

// PickCodeForColor inverts PickColorForCode for a pixel read back from the
// pick framebuffer.
func PickCodeForColor(r, g, b uint8) uint32 {
	return uint32(r)<<16 | uint32(g)<<8 | uint32(b)
}
