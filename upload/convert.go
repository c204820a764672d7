// SPDX-License-Identifier: Unlicense OR MIT

package upload

import (
	"fmt"
	"image"

	"gioui.org/shader"
	"github.com/gogpu/gputypes"
	"golang.org/x/image/math/f32"

	"github.com/luisbg/gst-plugins-bad/gl"
	"github.com/luisbg/gst-plugins-bad/gpu"
	"github.com/luisbg/gst-plugins-bad/video"
)

const convertWGSL = gpu.QuadWGSLVertex + `
@group(0) @binding(0) var tex: texture_2d<f32>;
@group(0) @binding(1) var tex_sampler: sampler;

@fragment
fn fs_main(in: VertexOutput) -> @location(0) vec4<f32> {
    return textureSample(tex, tex_sampler, in.uv);
}
`

var convertProgram = gpu.ProgramDesc{
	Name: "convert",
	WGSL: convertWGSL,
	Sources: shader.Sources{
		Name:     "convert",
		Inputs:   gpu.QuadInputs,
		Textures: []shader.TextureBinding{{Name: "tex", Binding: 0}},
	},
	Fragment: func(in gpu.Fragment) f32.Vec4 {
		return in.Sample(0, in.UV())
	},
}

type target struct {
	tex gpu.Texture
	fbo gpu.Framebuffer
}

func (t target) release() {
	t.fbo.Release()
	t.tex.Release()
}

// Converter renders textures into RGBA textures.
type Converter struct {
	ctx *gl.Context

	// Window thread only.
	quad     *gpu.Quad
	prog     gpu.Program
	free     map[image.Point][]target
	released bool
}

// NewConverter returns a converter rendering with ctx.
func NewConverter(ctx *gl.Context) *Converter {
	return &Converter{ctx: ctx, free: make(map[image.Point][]target)}
}

// Convert returns in as an RGBA texture. RGBA input is returned with an
// extra reference.
func (c *Converter) Convert(dev gpu.Device, in *video.Buffer) (*video.Buffer, error) {
	if !in.IsGPU() {
		return nil, fmt.Errorf("%w: buffer is not in GPU memory", ErrConvert)
	}
	if in.Texture.Format() == gputypes.TextureFormatRGBA8Unorm {
		return in.Ref(), nil
	}
	if c.released {
		return nil, fmt.Errorf("%w: %v", ErrConvert, gpu.ErrReleased)
	}
	if err := c.init(dev); err != nil {
		return nil, err
	}
	size := in.Texture.Size()
	t, err := c.target(dev, size)
	if err != nil {
		return nil, err
	}
	dev.BindFramebuffer(t.fbo)
	dev.Viewport(0, 0, size.X, size.Y)
	dev.Clear(0, 0, 0, 0)
	dev.BindProgram(c.prog)
	dev.BindTexture(0, in.Texture)
	c.quad.Draw(dev)
	dev.BindTexture(0, nil)
	dev.BindProgram(nil)
	dev.BindFramebuffer(nil)
	if err := dev.Err(); err != nil {
		c.free[size] = append(c.free[size], t)
		return nil, fmt.Errorf("%w: %v", ErrConvert, err)
	}
	info := in.Info
	info.Format = video.FormatRGBA
	out := video.NewBuffer(info)
	copyTimes(out, in)
	out.Texture = t.tex
	out.SetRelease(func(*video.Buffer) { c.recycle(size, t) })
	return out, nil
}

func (c *Converter) init(dev gpu.Device) error {
	if c.prog != nil {
		return nil
	}
	quad, err := gpu.NewQuad(dev)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConvert, err)
	}
	prog, err := dev.NewProgram(convertProgram)
	if err != nil {
		quad.Release()
		return fmt.Errorf("%w: %v", ErrConvert, err)
	}
	c.quad, c.prog = quad, prog
	return nil
}

func (c *Converter) target(dev gpu.Device, size image.Point) (target, error) {
	if free := c.free[size]; len(free) > 0 {
		t := free[len(free)-1]
		c.free[size] = free[:len(free)-1]
		return t, nil
	}
	tex, err := dev.NewTexture(gpu.NewTextureDesc(gputypes.TextureFormatRGBA8Unorm, size.X, size.Y))
	if err != nil {
		return target{}, fmt.Errorf("%w: %v", ErrConvert, err)
	}
	fbo, err := dev.NewFramebuffer(tex)
	if err != nil {
		tex.Release()
		return target{}, fmt.Errorf("%w: %v", ErrConvert, err)
	}
	return target{tex: tex, fbo: fbo}, nil
}

func (c *Converter) recycle(size image.Point, t target) {
	c.ctx.ThreadAddAsync(func(gpu.Device) {
		if c.released {
			t.release()
			return
		}
		c.free[size] = append(c.free[size], t)
	})
}

// Release frees the program, the quad and the recycled targets.
func (c *Converter) Release() {
	c.released = true
	for _, free := range c.free {
		for _, t := range free {
			t.release()
		}
	}
	clear(c.free)
	if c.prog != nil {
		c.prog.Release()
		c.quad.Release()
		c.prog, c.quad = nil, nil
	}
}
