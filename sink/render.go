// SPDX-License-Identifier: Unlicense OR MIT

package sink

import (
	"image"

	"gioui.org/shader"
	"golang.org/x/image/math/f32"

	"github.com/luisbg/gst-plugins-bad/gl"
	"github.com/luisbg/gst-plugins-bad/gpu"
	"github.com/luisbg/gst-plugins-bad/internal/log"
	"github.com/luisbg/gst-plugins-bad/video"
	"github.com/luisbg/gst-plugins-bad/window"
)

const redisplayWGSL = gpu.QuadWGSLVertex + `
@group(0) @binding(0) var tex: texture_2d<f32>;
@group(0) @binding(1) var tex_sampler: sampler;

@fragment
fn fs_main(in: VertexOutput) -> @location(0) vec4<f32> {
    return textureSample(tex, tex_sampler, in.uv);
}
`

var redisplayProgram = gpu.ProgramDesc{
	Name: "redisplay",
	WGSL: redisplayWGSL,
	Sources: shader.Sources{
		Name:     "redisplay",
		Inputs:   gpu.QuadInputs,
		Textures: []shader.TextureBinding{{Name: "tex", Binding: 0}},
	},
	Fragment: func(in gpu.Fragment) f32.Vec4 {
		return in.Sample(0, in.UV())
	},
}

// The functions below run on the window thread.

func (s *Sink) initRedisplay(ctx *gl.Context, dev gpu.Device) {
	quad, err := gpu.NewQuad(dev)
	if err != nil {
		ctx.SetError("failed to create redisplay quad: %v", err)
		s.shader.Store(shaderFailed)
		return
	}
	prog, err := dev.NewProgram(redisplayProgram)
	if err != nil {
		quad.Release()
		ctx.SetError("failed to compile redisplay shader: %v", err)
		log.For("sink").Warn("redisplay shader", "err", err)
		s.shader.Store(shaderFailed)
		return
	}
	s.quad, s.prog = quad, prog
	s.shader.Store(shaderReady)
}

func (s *Sink) cleanupGLThread(gpu.Device) {
	if s.prog != nil {
		s.prog.Release()
		s.prog = nil
	}
	if s.quad != nil {
		s.quad.Release()
		s.quad = nil
	}
	s.shader.Store(shaderNone)
}

func (s *Sink) onResize(ctx *gl.Context, width, height int) {
	handled := s.cnf.reshape != nil && s.cnf.reshape(ctx, width, height)
	width, height = max(1, width), max(1, height)

	s.mu.Lock()
	s.windowW, s.windowH = width, height
	vw, vh := s.width, s.height
	s.mu.Unlock()
	if handled {
		return
	}
	vp := image.Rect(0, 0, width, height)
	if s.cnf.forceAspect && vw > 0 && vh > 0 {
		vp = video.CenterRect(image.Rect(0, 0, vw, vh), vp, true)
	}
	log.For("sink").Debug("reshape", "window", image.Pt(width, height), "viewport", vp)
	ctx.Device().Viewport(vp.Min.X, vp.Min.Y, vp.Dx(), vp.Dy())
}

func (s *Sink) onDraw(ctx *gl.Context) {
	s.mu.Lock()
	if s.redisplay == 0 {
		s.mu.Unlock()
		return
	}
	// Keep the frame alive while it is drawn.
	buf := s.stored.Ref()
	reshape := s.capsChange
	w, h := s.windowW, s.windowH
	vw, vh := s.info.Width, s.info.Height
	s.mu.Unlock()
	defer buf.Unref()

	if reshape {
		if w == 0 || h == 0 {
			w, h = ctx.Window().SurfaceDimensions()
		}
		if w > 0 && h > 0 {
			s.onResize(ctx, w, h)
			s.mu.Lock()
			s.capsChange = false
			s.mu.Unlock()
		}
	}

	dev := ctx.Device()
	dev.BindProgram(nil)
	dev.BindTexture(0, nil)
	s.drawn.Add(1)

	if s.cnf.clientDraw != nil && s.cnf.clientDraw(ctx, buf.Texture, vw, vh) {
		return
	}
	if s.prog == nil {
		return
	}
	dev.Clear(0, 0, 0, 0)
	dev.BindProgram(s.prog)
	dev.BindTexture(0, buf.Texture)
	s.quad.Draw(dev)
	dev.BindTexture(0, nil)
	dev.BindProgram(nil)
	if err := dev.Err(); err != nil {
		log.For("sink").Warn("draw failed", "err", err)
	}
}

func (s *Sink) onClose(ctx *gl.Context, keyID, mouseID window.ListenerID) {
	ctx.SetError("Output window was closed")
	win := ctx.Window()
	win.Disconnect(keyID)
	win.Disconnect(mouseID)
	s.toQuit.Store(true)
	log.For("sink").Info("output window closed")
}
