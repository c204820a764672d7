// SPDX-License-Identifier: Unlicense OR MIT

package soft

import (
	"encoding/binary"
	"fmt"
	"image"
	"math"

	"github.com/gogpu/gputypes"
	"golang.org/x/image/math/f32"
	"golang.org/x/image/vector"

	"github.com/luisbg/gst-plugins-bad/gpu"
)

type vertex struct {
	pos f32.Vec2
	uv  f32.Vec2
}

func (d *Device) draw(mode gputypes.PrimitiveTopology, indices []uint16) {
	if mode != gputypes.PrimitiveTopologyTriangleList {
		d.setErr(fmt.Errorf("%w: primitive topology %v", gpu.ErrUnsupported, mode))
		return
	}
	switch {
	case d.prog == nil || d.prog.released:
		d.setErr(fmt.Errorf("%w: no program bound", gpu.ErrReleased))
		return
	case d.va == nil || d.va.released || d.va.buf.released:
		d.setErr(fmt.Errorf("%w: no vertex array bound", gpu.ErrReleased))
		return
	}
	if err := gpu.CheckLayout(d.prog.src, d.va.layout); err != nil {
		d.setErr(err)
		return
	}
	verts := make([]vertex, len(indices))
	for i, idx := range indices {
		v, err := d.va.fetch(int(idx))
		if err != nil {
			d.setErr(err)
			return
		}
		verts[i] = d.toWindow(v)
	}
	dst, format := d.target()
	clip := d.viewport.Intersect(dst.Bounds())
	frag := &fragment{d: d, prog: d.prog}
	for i := 0; i+2 < len(verts); i += 3 {
		d.triangle(dst, format, clip, frag, verts[i], verts[i+1], verts[i+2])
	}
}

// fetch reads position and texture coordinate of vertex i.
func (va *vertexArray) fetch(i int) (vertex, error) {
	var v vertex
	base := i * va.layout.Stride
	for _, a := range va.layout.Attributes {
		var dst []float32
		switch a.Location {
		case 0:
			dst = v.pos[:]
		case 1:
			dst = v.uv[:]
		default:
			continue
		}
		n := gpu.Components(a.Format)
		if n > len(dst) {
			n = len(dst)
		}
		off := base + a.Offset
		if off < 0 || off+n*4 > len(va.buf.data) {
			return vertex{}, fmt.Errorf("soft: vertex %d out of range", i)
		}
		for c := 0; c < n; c++ {
			bits := binary.LittleEndian.Uint32(va.buf.data[off+c*4:])
			dst[c] = math.Float32frombits(bits)
		}
	}
	return v, nil
}

func (d *Device) toWindow(v vertex) vertex {
	vp := d.viewport
	v.pos = f32.Vec2{
		float32(vp.Min.X) + (v.pos[0]+1)/2*float32(vp.Dx()),
		float32(vp.Min.Y) + (1-v.pos[1])/2*float32(vp.Dy()),
	}
	return v
}

func edge(a, b f32.Vec2, px, py float32) float32 {
	return (b[0]-a[0])*(py-a[1]) - (b[1]-a[1])*(px-a[0])
}

// topLeft reports whether the edge a→b of a positively wound triangle owns
// the pixel centers lying exactly on it.
func topLeft(a, b f32.Vec2) bool {
	return (a[1] == b[1] && b[0] > a[0]) || b[1] < a[1]
}

func covers(w float32, a, b f32.Vec2) bool {
	return w > 0 || (w == 0 && topLeft(a, b))
}

func (d *Device) triangle(dst *image.RGBA, format gputypes.TextureFormat, clip image.Rectangle, frag *fragment, v0, v1, v2 vertex) {
	area := edge(v0.pos, v1.pos, v2.pos[0], v2.pos[1])
	if area == 0 {
		return
	}
	if area < 0 {
		v1, v2 = v2, v1
		area = -area
	}
	minX := math.Floor(float64(min(v0.pos[0], v1.pos[0], v2.pos[0])))
	minY := math.Floor(float64(min(v0.pos[1], v1.pos[1], v2.pos[1])))
	maxX := math.Ceil(float64(max(v0.pos[0], v1.pos[0], v2.pos[0])))
	maxY := math.Ceil(float64(max(v0.pos[1], v1.pos[1], v2.pos[1])))
	bounds := image.Rect(int(minX), int(minY), int(maxX), int(maxY)).Intersect(clip)
	if bounds.Empty() {
		return
	}
	// The path coverage limits the exact edge tests to touched pixels.
	ox, oy := float32(bounds.Min.X), float32(bounds.Min.Y)
	z := vector.NewRasterizer(bounds.Dx(), bounds.Dy())
	z.MoveTo(v0.pos[0]-ox, v0.pos[1]-oy)
	z.LineTo(v1.pos[0]-ox, v1.pos[1]-oy)
	z.LineTo(v2.pos[0]-ox, v2.pos[1]-oy)
	z.ClosePath()
	mask := image.NewAlpha(image.Rectangle{Max: bounds.Size()})
	z.Draw(mask, mask.Bounds(), image.Opaque, image.Point{})

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		py := float32(y) + .5
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if mask.Pix[mask.PixOffset(x-bounds.Min.X, y-bounds.Min.Y)] == 0 {
				continue
			}
			px := float32(x) + .5
			w0 := edge(v1.pos, v2.pos, px, py)
			w1 := edge(v2.pos, v0.pos, px, py)
			w2 := edge(v0.pos, v1.pos, px, py)
			if !covers(w0, v1.pos, v2.pos) || !covers(w1, v2.pos, v0.pos) || !covers(w2, v0.pos, v1.pos) {
				continue
			}
			l0, l1, l2 := w0/area, w1/area, w2/area
			frag.coord = f32.Vec2{px, py}
			frag.uv = f32.Vec2{
				l0*v0.uv[0] + l1*v1.uv[0] + l2*v2.uv[0],
				l0*v0.uv[1] + l1*v1.uv[1] + l2*v2.uv[1],
			}
			c := pack(format, frag.prog.frag(frag))
			o := dst.PixOffset(x, y)
			copy(dst.Pix[o:o+4], c[:])
		}
	}
}

// pack converts a color to 8-bit channels in the order of format.
func pack(format gputypes.TextureFormat, c [4]float32) [4]uint8 {
	var p [4]uint8
	for i, v := range c {
		switch {
		case v <= 0:
			p[i] = 0
		case v >= 1:
			p[i] = 255
		default:
			p[i] = uint8(v*255 + .5)
		}
	}
	if format == gputypes.TextureFormatBGRA8Unorm {
		p[0], p[2] = p[2], p[0]
	}
	return p
}

type fragment struct {
	d     *Device
	prog  *program
	coord f32.Vec2
	uv    f32.Vec2
}

func (f *fragment) Coord() f32.Vec2 { return f.coord }
func (f *fragment) UV() f32.Vec2    { return f.uv }

func (f *fragment) Uniform(name string) float32 {
	return f.prog.uniforms[name]
}

func (f *fragment) Sample(unit int, uv f32.Vec2) f32.Vec4 {
	if unit < 0 || unit >= maxTextureUnits {
		return f32.Vec4{0, 0, 0, 1}
	}
	t := f.d.units[unit]
	if t == nil || t.released {
		return f32.Vec4{0, 0, 0, 1}
	}
	return t.sample(uv)
}

func (t *texture) texel(x, y int) f32.Vec4 {
	b := t.img.Bounds()
	x = clampInt(x, 0, b.Dx()-1)
	y = clampInt(y, 0, b.Dy()-1)
	o := t.img.PixOffset(x, y)
	p := t.img.Pix[o : o+4]
	c := f32.Vec4{float32(p[0]) / 255, float32(p[1]) / 255, float32(p[2]) / 255, float32(p[3]) / 255}
	if t.format == gputypes.TextureFormatBGRA8Unorm {
		c[0], c[2] = c[2], c[0]
	}
	return c
}

func (t *texture) sample(uv f32.Vec2) f32.Vec4 {
	sz := t.img.Bounds().Size()
	u, v := uv[0]*float32(sz.X), uv[1]*float32(sz.Y)
	if t.filter != gputypes.FilterModeLinear {
		return t.texel(int(math.Floor(float64(u))), int(math.Floor(float64(v))))
	}
	u, v = u-.5, v-.5
	x0, y0 := int(math.Floor(float64(u))), int(math.Floor(float64(v)))
	fx, fy := u-float32(x0), v-float32(y0)
	c00, c10 := t.texel(x0, y0), t.texel(x0+1, y0)
	c01, c11 := t.texel(x0, y0+1), t.texel(x0+1, y0+1)
	var c f32.Vec4
	for i := range c {
		top := c00[i]*(1-fx) + c10[i]*fx
		bot := c01[i]*(1-fx) + c11[i]*fx
		c[i] = top*(1-fy) + bot*fy
	}
	return c
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
