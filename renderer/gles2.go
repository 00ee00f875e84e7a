// renderer/gles2.go
// Copyright(c) 2026 tellus contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package renderer

import (
	"fmt"
	"image"
	"image/draw"
	gomath "math"
	"unsafe"

	"github.com/go-gl/gl/v3.1/gles2"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/tellusgl/tellus/log"
	"github.com/tellusgl/tellus/util"
)

// Also available as a global, though only used by CommandBuffer
var lg *log.Logger

// GLES2Renderer executes command buffers against an OpenGL ES 2.0 context.
// ES 2.0 has no fixed-function pipeline, so all drawing goes through a
// single small shader program; per-vertex colors and texturing are selected
// by enabling the corresponding attribute arrays.
type GLES2Renderer struct {
	lg              *log.Logger
	createdTextures map[uint32]int

	program   uint32
	aVertex   uint32
	aColor    uint32
	aTexCoord uint32
	uMVP      int32
	uPointSz  int32
	uUseTex   int32

	// Current matrix state; the MVP uniform is refreshed lazily before
	// each draw call.
	proj, modelView mgl32.Mat4
	mvpDirty        bool

	pickFBO, pickTexture, pickDepth uint32
	pickWidth, pickHeight           int
}

const vertexShaderSource = `
uniform mat4 u_mvp;
uniform float u_pointSize;
attribute vec3 a_vertex;
attribute vec4 a_color;
attribute vec2 a_texCoord;
varying vec4 v_color;
varying vec2 v_texCoord;
void main() {
    gl_Position = u_mvp * vec4(a_vertex, 1.0);
    gl_PointSize = u_pointSize;
    v_color = a_color;
    v_texCoord = a_texCoord;
}
` + "\x00"

const fragmentShaderSource = `
precision mediump float;
uniform sampler2D u_texture;
uniform bool u_useTexture;
varying vec4 v_color;
varying vec2 v_texCoord;
void main() {
    vec4 c = v_color;
    if (u_useTexture) {
        c = c * texture2D(u_texture, v_texCoord);
    }
    gl_FragColor = c;
}
` + "\x00"

// NewGLES2Renderer initializes the GL bindings and compiles the shared
// shader program. It must be called on the thread that owns the GL context.
func NewGLES2Renderer(l *log.Logger) (Renderer, error) {
	lg = l

	lg.Info("Starting GLES2Renderer initialization")
	if err := gles2.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize OpenGL ES: %w", err)
	}
	lg.Infof("OpenGL vendor %s renderer %s",
		gles2.GoStr(gles2.GetString(gles2.VENDOR)), gles2.GoStr(gles2.GetString(gles2.RENDERER)))

	r := &GLES2Renderer{
		lg:              l,
		createdTextures: make(map[uint32]int),
		proj:            mgl32.Ident4(),
		modelView:       mgl32.Ident4(),
	}
	if err := r.buildProgram(); err != nil {
		return nil, err
	}

	lg.Info("Finished GLES2Renderer initialization")
	return r, nil
}

func compileShader(shaderType uint32, source string) (uint32, error) {
	shader := gles2.CreateShader(shaderType)
	csources, free := gles2.Strs(source)
	gles2.ShaderSource(shader, 1, csources, nil)
	free()
	gles2.CompileShader(shader)

	var status int32
	gles2.GetShaderiv(shader, gles2.COMPILE_STATUS, &status)
	if status == gles2.FALSE {
		var n int32
		gles2.GetShaderiv(shader, gles2.INFO_LOG_LENGTH, &n)
		msg := make([]byte, n+1)
		gles2.GetShaderInfoLog(shader, n, nil, &msg[0])
		gles2.DeleteShader(shader)
		return 0, fmt.Errorf("shader compilation failed: %s", msg)
	}
	return shader, nil
}

func (r *GLES2Renderer) buildProgram() error {
	vs, err := compileShader(gles2.VERTEX_SHADER, vertexShaderSource)
	if err != nil {
		return err
	}
	fs, err := compileShader(gles2.FRAGMENT_SHADER, fragmentShaderSource)
	if err != nil {
		return err
	}

	r.program = gles2.CreateProgram()
	gles2.AttachShader(r.program, vs)
	gles2.AttachShader(r.program, fs)
	gles2.LinkProgram(r.program)

	var status int32
	gles2.GetProgramiv(r.program, gles2.LINK_STATUS, &status)
	if status == gles2.FALSE {
		var n int32
		gles2.GetProgramiv(r.program, gles2.INFO_LOG_LENGTH, &n)
		msg := make([]byte, n+1)
		gles2.GetProgramInfoLog(r.program, n, nil, &msg[0])
		return fmt.Errorf("program link failed: %s", msg)
	}
	gles2.DeleteShader(vs)
	gles2.DeleteShader(fs)

	r.aVertex = uint32(gles2.GetAttribLocation(r.program, gles2.Str("a_vertex\x00")))
	r.aColor = uint32(gles2.GetAttribLocation(r.program, gles2.Str("a_color\x00")))
	r.aTexCoord = uint32(gles2.GetAttribLocation(r.program, gles2.Str("a_texCoord\x00")))
	r.uMVP = gles2.GetUniformLocation(r.program, gles2.Str("u_mvp\x00"))
	r.uPointSz = gles2.GetUniformLocation(r.program, gles2.Str("u_pointSize\x00"))
	r.uUseTex = gles2.GetUniformLocation(r.program, gles2.Str("u_useTexture\x00"))

	gles2.UseProgram(r.program)
	gles2.Uniform1f(r.uPointSz, 1)
	gles2.Uniform1i(r.uUseTex, 0)
	gles2.VertexAttrib4f(r.aColor, 1, 1, 1, 1)
	r.mvpDirty = true
	return nil
}

func (r *GLES2Renderer) Dispose() {
	for texid := range r.createdTextures {
		gles2.DeleteTextures(1, &texid)
	}
	if r.program != 0 {
		gles2.DeleteProgram(r.program)
	}
	r.destroyPickFramebuffer()
}

func (r *GLES2Renderer) createdTexture(texid uint32, bytes int) {
	_, exists := r.createdTextures[texid]

	r.createdTextures[texid] = bytes

	reduce := func(id uint32, bytes int, total int) int { return total + bytes }
	total := util.ReduceMap(r.createdTextures, reduce, 0)
	mb := float32(total) / (1024 * 1024)

	if exists {
		r.lg.Infof("Updated tex id %d: %d bytes -> %.2f MiB of textures total", texid, bytes, mb)
	} else {
		r.lg.Infof("Created tex id %d: %d bytes -> %.2f MiB of textures total", texid, bytes, mb)
	}
}

func (r *GLES2Renderer) CreateTextureFromImage(img image.Image, magNearest bool) uint32 {
	var texid uint32
	gles2.GenTextures(1, &texid)
	r.UpdateTextureFromImage(texid, img, magNearest)
	return texid
}

func (r *GLES2Renderer) UpdateTextureFromImage(texid uint32, img image.Image, magNearest bool) {
	var lastTexture int32
	gles2.GetIntegerv(gles2.TEXTURE_BINDING_2D, &lastTexture)

	gles2.BindTexture(gles2.TEXTURE_2D, texid)
	gles2.TexParameteri(gles2.TEXTURE_2D, gles2.TEXTURE_MIN_FILTER, gles2.LINEAR)
	gles2.TexParameteri(gles2.TEXTURE_2D, gles2.TEXTURE_MAG_FILTER,
		int32(util.Select(magNearest, gles2.NEAREST, gles2.LINEAR)))
	gles2.TexParameteri(gles2.TEXTURE_2D, gles2.TEXTURE_WRAP_S, gles2.CLAMP_TO_EDGE)
	gles2.TexParameteri(gles2.TEXTURE_2D, gles2.TEXTURE_WRAP_T, gles2.CLAMP_TO_EDGE)

	ny, nx := img.Bounds().Dy(), img.Bounds().Dx()
	rgba, ok := img.(*image.RGBA)
	if !ok {
		rgba = image.NewRGBA(image.Rect(0, 0, nx, ny))
		draw.Draw(rgba, rgba.Bounds(), img, img.Bounds().Min, draw.Src)
	}
	gles2.TexImage2D(gles2.TEXTURE_2D, 0, gles2.RGBA, int32(nx), int32(ny), 0, gles2.RGBA,
		gles2.UNSIGNED_BYTE, unsafe.Pointer(&rgba.Pix[0]))

	gles2.BindTexture(gles2.TEXTURE_2D, uint32(lastTexture))

	r.createdTexture(texid, 4*nx*ny)
}

func (r *GLES2Renderer) DestroyTexture(texid uint32) {
	gles2.DeleteTextures(1, &texid)
	delete(r.createdTextures, texid)
}

// syncMVP refreshes the MVP uniform if a matrix load has invalidated it.
func (r *GLES2Renderer) syncMVP() {
	if r.mvpDirty {
		mvp := r.proj.Mul4(r.modelView)
		gles2.UniformMatrix4fv(r.uMVP, 1, false, &mvp[0])
		r.mvpDirty = false
	}
}

func (r *GLES2Renderer) RenderCommandBuffer(cb *CommandBuffer) RendererStats {
	var stats RendererStats
	stats.nBuffers++
	stats.bufferBytes += 4 * len(cb.Buf)

	gles2.UseProgram(r.program)

	i := 0
	ui32 := func() uint32 {
		v := cb.Buf[i]
		i++
		return v
	}
	i32 := func() int32 {
		return int32(ui32())
	}
	float := func() float32 {
		return gomath.Float32frombits(ui32())
	}

	for i < len(cb.Buf) {
		cmd := cb.Buf[i]
		i++
		switch cmd {
		case RendererLoadProjectionMatrix:
			copy(r.proj[:], unsafe.Slice((*float32)(unsafe.Pointer(&cb.Buf[i])), 16))
			i += 16
			r.mvpDirty = true

		case RendererLoadModelViewMatrix:
			copy(r.modelView[:], unsafe.Slice((*float32)(unsafe.Pointer(&cb.Buf[i])), 16))
			i += 16
			r.mvpDirty = true

		case RendererClearRGBA:
			red := float()
			g := float()
			b := float()
			a := float()
			gles2.ClearColor(red, g, b, a)
			gles2.Clear(gles2.COLOR_BUFFER_BIT)

		case RendererClearDepth:
			gles2.Clear(gles2.DEPTH_BUFFER_BIT)

		case RendererScissor:
			x := i32()
			y := i32()
			w := i32()
			h := i32()
			gles2.Enable(gles2.SCISSOR_TEST)
			gles2.Scissor(x, y, w, h)

		case RendererViewport:
			x := i32()
			y := i32()
			w := i32()
			h := i32()
			gles2.Viewport(x, y, w, h)

		case RendererBlend:
			gles2.Enable(gles2.BLEND)
			gles2.BlendFunc(gles2.ONE, gles2.ONE_MINUS_SRC_ALPHA)

		case RendererDisableBlend:
			gles2.Disable(gles2.BLEND)

		case RendererEnableDepthTest:
			gles2.Enable(gles2.DEPTH_TEST)
			gles2.DepthFunc(gles2.LEQUAL)

		case RendererDisableDepthTest:
			gles2.Disable(gles2.DEPTH_TEST)

		case RendererDepthMask:
			gles2.DepthMask(ui32() != 0)

		case RendererEnableCullFace:
			gles2.Enable(gles2.CULL_FACE)
			gles2.CullFace(gles2.BACK)

		case RendererDisableCullFace:
			gles2.Disable(gles2.CULL_FACE)

		case RendererEnableDither:
			gles2.Enable(gles2.DITHER)

		case RendererDisableDither:
			gles2.Disable(gles2.DITHER)

		case RendererSetRGBA:
			red := float()
			g := float()
			b := float()
			a := float()
			gles2.DisableVertexAttribArray(r.aColor)
			gles2.VertexAttrib4f(r.aColor, red, g, b, a)

		case RendererFloatBuffer, RendererIntBuffer:
			// Nothing to do for the moment but skip ahead
			i += int(ui32())

		case RendererEnableTexture:
			gles2.ActiveTexture(gles2.TEXTURE0)
			gles2.BindTexture(gles2.TEXTURE_2D, ui32())
			gles2.Uniform1i(r.uUseTex, 1)

		case RendererDisableTexture:
			gles2.Uniform1i(r.uUseTex, 0)

		case RendererVertexArray:
			offset := ui32()
			ptr := uintptr(unsafe.Pointer(&cb.Buf[0])) + uintptr(offset)
			nc := i32()
			stride := i32()
			gles2.EnableVertexAttribArray(r.aVertex)
			gles2.VertexAttribPointer(r.aVertex, nc, gles2.FLOAT, false, stride, unsafe.Pointer(ptr))

		case RendererDisableVertexArray:
			gles2.DisableVertexAttribArray(r.aVertex)

		case RendererRGB32Array:
			offset := ui32()
			ptr := uintptr(unsafe.Pointer(&cb.Buf[0])) + uintptr(offset)
			nc := i32()
			stride := i32()
			gles2.EnableVertexAttribArray(r.aColor)
			gles2.VertexAttribPointer(r.aColor, nc, gles2.FLOAT, false, stride, unsafe.Pointer(ptr))

		case RendererDisableColorArray:
			gles2.DisableVertexAttribArray(r.aColor)
			gles2.VertexAttrib4f(r.aColor, 1, 1, 1, 1)

		case RendererTexCoordArray:
			offset := ui32()
			ptr := uintptr(unsafe.Pointer(&cb.Buf[0])) + uintptr(offset)
			nc := i32()
			stride := i32()
			gles2.EnableVertexAttribArray(r.aTexCoord)
			gles2.VertexAttribPointer(r.aTexCoord, nc, gles2.FLOAT, false, stride, unsafe.Pointer(ptr))

		case RendererDisableTexCoordArray:
			gles2.DisableVertexAttribArray(r.aTexCoord)

		case RendererLineWidth:
			gles2.LineWidth(float())

		case RendererPointSize:
			gles2.Uniform1f(r.uPointSz, float())

		case RendererDrawPoints:
			offset := ui32()
			ptr := uintptr(unsafe.Pointer(&cb.Buf[0])) + uintptr(offset)
			count := i32()
			r.syncMVP()
			gles2.DrawElements(gles2.POINTS, count, gles2.UNSIGNED_INT, unsafe.Pointer(ptr))

			stats.nDrawCalls++
			stats.nPoints += int(count)

		case RendererDrawLines:
			offset := ui32()
			ptr := uintptr(unsafe.Pointer(&cb.Buf[0])) + uintptr(offset)
			count := i32()
			r.syncMVP()
			gles2.DrawElements(gles2.LINES, count, gles2.UNSIGNED_INT, unsafe.Pointer(ptr))

			stats.nDrawCalls++
			stats.nLines += int(count / 2)

		case RendererDrawTriangles:
			offset := ui32()
			ptr := uintptr(unsafe.Pointer(&cb.Buf[0])) + uintptr(offset)
			count := i32()
			r.syncMVP()
			gles2.DrawElements(gles2.TRIANGLES, count, gles2.UNSIGNED_INT, unsafe.Pointer(ptr))

			stats.nDrawCalls++
			stats.nTriangles += int(count / 3)

		case RendererResetState:
			gles2.Disable(gles2.SCISSOR_TEST)
			gles2.Disable(gles2.BLEND)
			gles2.Disable(gles2.DEPTH_TEST)
			gles2.Disable(gles2.CULL_FACE)
			gles2.Enable(gles2.DITHER)
			gles2.DepthMask(true)
			gles2.DisableVertexAttribArray(r.aVertex)
			gles2.DisableVertexAttribArray(r.aColor)
			gles2.DisableVertexAttribArray(r.aTexCoord)
			gles2.VertexAttrib4f(r.aColor, 1, 1, 1, 1)
			gles2.Uniform1i(r.uUseTex, 0)

		case RendererCallBuffer:
			idx := ui32()
			s2 := r.RenderCommandBuffer(&cb.called[idx])
			stats.Merge(s2)

		default:
			r.lg.Error("unhandled command")
		}
	}

	return stats
}

///////////////////////////////////////////////////////////////////////////
// Pick framebuffer

func (r *GLES2Renderer) destroyPickFramebuffer() {
	if r.pickFBO != 0 {
		gles2.DeleteFramebuffers(1, &r.pickFBO)
		gles2.DeleteTextures(1, &r.pickTexture)
		gles2.DeleteRenderbuffers(1, &r.pickDepth)
		r.pickFBO, r.pickTexture, r.pickDepth = 0, 0, 0
	}
}

// BindPickFramebuffer redirects rendering to the off-screen pick
// framebuffer. The framebuffer and its depth renderbuffer are allocated
// lazily and reallocated whenever the viewport dimensions change.
func (r *GLES2Renderer) BindPickFramebuffer(width, height int) error {
	if r.pickFBO == 0 || width != r.pickWidth || height != r.pickHeight {
		r.destroyPickFramebuffer()

		gles2.GenTextures(1, &r.pickTexture)
		gles2.BindTexture(gles2.TEXTURE_2D, r.pickTexture)
		gles2.TexParameteri(gles2.TEXTURE_2D, gles2.TEXTURE_MIN_FILTER, gles2.NEAREST)
		gles2.TexParameteri(gles2.TEXTURE_2D, gles2.TEXTURE_MAG_FILTER, gles2.NEAREST)
		gles2.TexImage2D(gles2.TEXTURE_2D, 0, gles2.RGBA, int32(width), int32(height), 0,
			gles2.RGBA, gles2.UNSIGNED_BYTE, nil)
		gles2.BindTexture(gles2.TEXTURE_2D, 0)

		gles2.GenRenderbuffers(1, &r.pickDepth)
		gles2.BindRenderbuffer(gles2.RENDERBUFFER, r.pickDepth)
		gles2.RenderbufferStorage(gles2.RENDERBUFFER, gles2.DEPTH_COMPONENT16, int32(width), int32(height))
		gles2.BindRenderbuffer(gles2.RENDERBUFFER, 0)

		gles2.GenFramebuffers(1, &r.pickFBO)
		gles2.BindFramebuffer(gles2.FRAMEBUFFER, r.pickFBO)
		gles2.FramebufferTexture2D(gles2.FRAMEBUFFER, gles2.COLOR_ATTACHMENT0, gles2.TEXTURE_2D, r.pickTexture, 0)
		gles2.FramebufferRenderbuffer(gles2.FRAMEBUFFER, gles2.DEPTH_ATTACHMENT, gles2.RENDERBUFFER, r.pickDepth)

		if status := gles2.CheckFramebufferStatus(gles2.FRAMEBUFFER); status != gles2.FRAMEBUFFER_COMPLETE {
			gles2.BindFramebuffer(gles2.FRAMEBUFFER, 0)
			r.destroyPickFramebuffer()
			return fmt.Errorf("pick framebuffer incomplete: 0x%x", status)
		}

		r.pickWidth, r.pickHeight = width, height
		r.lg.Debugf("allocated %dx%d pick framebuffer", width, height)
	} else {
		gles2.BindFramebuffer(gles2.FRAMEBUFFER, r.pickFBO)
	}
	return nil
}

func (r *GLES2Renderer) UnbindPickFramebuffer() {
	gles2.BindFramebuffer(gles2.FRAMEBUFFER, 0)
}

// ReadPickPixel reads back the single pixel at (x, y) from the pick
// framebuffer and decodes the pick code drawn there.
func (r *GLES2Renderer) ReadPickPixel(x, y int) (uint32, error) {
	if r.pickFBO == 0 {
		return 0, fmt.Errorf("pick framebuffer not allocated")
	}
	if x < 0 || x >= r.pickWidth || y < 0 || y >= r.pickHeight {
		return 0, nil
	}

	gles2.BindFramebuffer(gles2.FRAMEBUFFER, r.pickFBO)
	var pixel [4]uint8
	gles2.ReadPixels(int32(x), int32(y), 1, 1, gles2.RGBA, gles2.UNSIGNED_BYTE, unsafe.Pointer(&pixel[0]))

	return PickCodeForColor(pixel[0], pixel[1], pixel[2]), nil
}
