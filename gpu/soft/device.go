// SPDX-License-Identifier: Unlicense OR MIT

// Package soft implements gpu.Device in software. It renders into
// in-memory images and serves as the headless graphics context.
package soft

import (
	"errors"
	"fmt"
	"image"

	"gioui.org/shader"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	lru "github.com/hashicorp/golang-lru"

	"github.com/luisbg/gst-plugins-bad/gpu"
	"github.com/luisbg/gst-plugins-bad/internal/runloop"
)

const maxTextureUnits = 4

// Options configure a Device.
type Options struct {
	// Size of the default framebuffer.
	Size image.Point
	// Strict makes every call from a thread other than the creating one
	// panic.
	Strict bool
}

// Device is a software gpu.Device.
type Device struct {
	owner  int
	strict bool

	nextID   uint32
	live     int
	frames   int
	released bool

	surface  *texture
	fbo      *framebuffer
	viewport image.Rectangle
	prog     *program
	va       *vertexArray
	units    [maxTextureUnits]*texture
	err      error
}

// spirvCacheSize bounds the number of compiled modules kept in memory.
const spirvCacheSize = 64

// spirvCache maps WGSL sources to SPIR-V modules. It is safe for
// concurrent use.
var spirvCache = func() *lru.Cache {
	c, err := lru.New(spirvCacheSize)
	if err != nil {
		panic(err)
	}
	return c
}()

// New creates a device bound to the calling thread.
func New(opts Options) *Device {
	d := &Device{
		owner:  runloop.ThreadID(),
		strict: opts.Strict,
	}
	d.surface = &texture{d: d, format: gputypes.TextureFormatRGBA8Unorm, filter: gputypes.FilterModeNearest}
	d.ResizeSurface(opts.Size)
	d.viewport = d.surface.img.Bounds()
	return d
}

func (d *Device) check() {
	if d.strict && d.owner != 0 && runloop.ThreadID() != d.owner {
		panic(fmt.Sprintf("soft: device created on thread %d used from thread %d", d.owner, runloop.ThreadID()))
	}
}

func (d *Device) setErr(err error) {
	if d.err == nil {
		d.err = err
	}
}

func (d *Device) newID() uint32 {
	d.nextID++
	d.live++
	return d.nextID
}

// Live returns the number of objects created and not yet released.
func (d *Device) Live() int {
	d.check()
	return d.live
}

// Frames returns the number of calls to Present.
func (d *Device) Frames() int {
	d.check()
	return d.frames
}

// Owner returns the identifier of the thread that created d.
func (d *Device) Owner() int {
	return d.owner
}

// Err returns and clears the first error of a draw call.
func (d *Device) Err() error {
	d.check()
	err := d.err
	d.err = nil
	return err
}

func (d *Device) Surface() image.Point {
	d.check()
	return d.surface.img.Bounds().Size()
}

func (d *Device) ResizeSurface(size image.Point) {
	d.check()
	if size.X < 1 {
		size.X = 1
	}
	if size.Y < 1 {
		size.Y = 1
	}
	d.surface.img = image.NewRGBA(image.Rectangle{Max: size})
}

func (d *Device) Present() error {
	d.check()
	if d.released {
		return gpu.ErrReleased
	}
	d.frames++
	return nil
}

func (d *Device) NewTexture(desc gpu.TextureDesc) (gpu.Texture, error) {
	d.check()
	switch desc.Format {
	case gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatBGRA8Unorm:
	default:
		return nil, fmt.Errorf("%w: texture format %v", gpu.ErrUnsupported, desc.Format)
	}
	w, h := int(desc.Size.Width), int(desc.Size.Height)
	if w < 1 || h < 1 {
		return nil, fmt.Errorf("soft: invalid texture size %dx%d", w, h)
	}
	return &texture{
		d:      d,
		id:     d.newID(),
		format: desc.Format,
		filter: desc.Filter,
		img:    image.NewRGBA(image.Rect(0, 0, w, h)),
	}, nil
}

func (d *Device) NewFramebuffer(tex gpu.Texture) (gpu.Framebuffer, error) {
	d.check()
	t, ok := tex.(*texture)
	if !ok || t.d != d {
		return nil, errors.New("soft: foreign texture")
	}
	if t.released {
		return nil, gpu.ErrReleased
	}
	d.live++
	return &framebuffer{d: d, tex: t}, nil
}

func (d *Device) NewImmutableBuffer(typ gpu.BufferBinding, data []byte) (gpu.Buffer, error) {
	d.check()
	if len(data) == 0 {
		return nil, errors.New("soft: empty buffer")
	}
	d.live++
	return &buffer{d: d, binding: typ, data: append([]byte(nil), data...)}, nil
}

func (d *Device) NewProgram(desc gpu.ProgramDesc) (gpu.Program, error) {
	d.check()
	if desc.Fragment == nil {
		return nil, fmt.Errorf("%w: %s: no fragment stage", gpu.ErrCompile, desc.Name)
	}
	if desc.WGSL != "" {
		if err := compile(desc.WGSL); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", gpu.ErrCompile, desc.Name, err)
		}
	}
	d.live++
	return &program{
		d:        d,
		name:     desc.Name,
		src:      desc.Sources,
		frag:     desc.Fragment,
		uniforms: make(map[string]float32),
	}, nil
}

// compile translates WGSL to SPIR-V. Results are cached process-wide.
func compile(src string) error {
	if spirvCache.Contains(src) {
		return nil
	}
	spirv, err := naga.Compile(src)
	if err != nil {
		return err
	}
	if len(spirv) < 4 {
		return errors.New("empty SPIR-V module")
	}
	spirvCache.Add(src, spirv)
	return nil
}

func (d *Device) NewVertexArray(buf gpu.Buffer, layout gpu.VertexLayout) (gpu.VertexArray, error) {
	d.check()
	b, ok := buf.(*buffer)
	if !ok || b.d != d {
		return nil, errors.New("soft: foreign buffer")
	}
	if b.binding&gpu.BufferBindingVertices == 0 {
		return nil, errors.New("soft: buffer is not a vertex buffer")
	}
	if layout.Stride <= 0 {
		return nil, fmt.Errorf("%w: invalid stride %d", gpu.ErrLayout, layout.Stride)
	}
	for _, a := range layout.Attributes {
		if gpu.Components(a.Format) == 0 {
			return nil, fmt.Errorf("%w: vertex format %v", gpu.ErrUnsupported, a.Format)
		}
	}
	d.live++
	return &vertexArray{d: d, buf: b, layout: layout}, nil
}

func (d *Device) BindFramebuffer(f gpu.Framebuffer) {
	d.check()
	if f == nil {
		d.fbo = nil
		return
	}
	fb, ok := f.(*framebuffer)
	if !ok || fb.released {
		d.setErr(gpu.ErrReleased)
		return
	}
	d.fbo = fb
}

func (d *Device) Viewport(x, y, width, height int) {
	d.check()
	d.viewport = image.Rect(x, y, x+width, y+height)
}

// ViewportRect returns the current viewport.
func (d *Device) ViewportRect() image.Rectangle {
	d.check()
	return d.viewport
}

func (d *Device) Clear(r, g, b, a float32) {
	d.check()
	dst, format := d.target()
	c := pack(format, [4]float32{r, g, b, a})
	pix := dst.Pix
	for i := 0; i+3 < len(pix); i += 4 {
		pix[i], pix[i+1], pix[i+2], pix[i+3] = c[0], c[1], c[2], c[3]
	}
}

func (d *Device) BindProgram(p gpu.Program) {
	d.check()
	if p == nil {
		d.prog = nil
		return
	}
	d.prog = p.(*program)
}

func (d *Device) BindVertexArray(va gpu.VertexArray) {
	d.check()
	if va == nil {
		d.va = nil
		return
	}
	d.va = va.(*vertexArray)
}

func (d *Device) BindTexture(unit int, t gpu.Texture) {
	d.check()
	if unit < 0 || unit >= maxTextureUnits {
		d.setErr(fmt.Errorf("%w: texture unit %d", gpu.ErrUnsupported, unit))
		return
	}
	if t == nil {
		d.units[unit] = nil
		return
	}
	d.units[unit] = t.(*texture)
}

func (d *Device) DrawArrays(mode gputypes.PrimitiveTopology, off, count int) {
	d.check()
	indices := make([]uint16, count)
	for i := range indices {
		indices[i] = uint16(off + i)
	}
	d.draw(mode, indices)
}

func (d *Device) DrawElements(mode gputypes.PrimitiveTopology, indices []uint16) {
	d.check()
	d.draw(mode, indices)
}

func (d *Device) UploadTexture(t gpu.Texture, img *image.RGBA) error {
	d.check()
	tex, ok := t.(*texture)
	if !ok || tex.d != d {
		return errors.New("soft: foreign texture")
	}
	if tex.released {
		return gpu.ErrReleased
	}
	if img.Bounds().Size() != tex.img.Bounds().Size() {
		return fmt.Errorf("soft: upload size %v does not match texture size %v", img.Bounds().Size(), tex.img.Bounds().Size())
	}
	copyRGBA(tex.img, img, img.Bounds(), false)
	return nil
}

func (d *Device) ReadPixels(f gpu.Framebuffer, r image.Rectangle) (*image.RGBA, error) {
	d.check()
	src, format := d.surface.img, d.surface.format
	if f != nil {
		fb, ok := f.(*framebuffer)
		if !ok || fb.released {
			return nil, gpu.ErrReleased
		}
		src, format = fb.tex.img, fb.tex.format
	}
	if !r.In(src.Bounds()) {
		return nil, fmt.Errorf("soft: read rectangle %v outside %v", r, src.Bounds())
	}
	dst := image.NewRGBA(image.Rectangle{Max: r.Size()})
	copyRGBA(dst, src, r, format == gputypes.TextureFormatBGRA8Unorm)
	return dst, nil
}

func (d *Device) Release() {
	d.check()
	d.released = true
	d.prog, d.va, d.fbo = nil, nil, nil
	d.units = [maxTextureUnits]*texture{}
}

func (d *Device) target() (*image.RGBA, gputypes.TextureFormat) {
	if d.fbo != nil {
		return d.fbo.tex.img, d.fbo.tex.format
	}
	return d.surface.img, d.surface.format
}

// copyRGBA copies r of src to the origin of dst, optionally swapping the
// red and blue channels.
func copyRGBA(dst, src *image.RGBA, r image.Rectangle, swap bool) {
	w := r.Dx() * 4
	for y := 0; y < r.Dy(); y++ {
		so := src.PixOffset(r.Min.X, r.Min.Y+y)
		do := dst.PixOffset(0, y)
		row := dst.Pix[do : do+w]
		copy(row, src.Pix[so:so+w])
		if swap {
			for i := 0; i < w; i += 4 {
				row[i], row[i+2] = row[i+2], row[i]
			}
		}
	}
}

type texture struct {
	d        *Device
	id       uint32
	format   gputypes.TextureFormat
	filter   gputypes.FilterMode
	img      *image.RGBA
	released bool
}

func (t *texture) ID() uint32                     { return t.id }
func (t *texture) Size() image.Point              { return t.img.Bounds().Size() }
func (t *texture) Format() gputypes.TextureFormat { return t.format }

func (t *texture) Release() {
	t.d.check()
	if !t.released {
		t.released = true
		t.d.live--
	}
}

type framebuffer struct {
	d        *Device
	tex      *texture
	released bool
}

func (f *framebuffer) Texture() gpu.Texture { return f.tex }

func (f *framebuffer) Release() {
	f.d.check()
	if !f.released {
		f.released = true
		f.d.live--
		if f.d.fbo == f {
			f.d.fbo = nil
		}
	}
}

type buffer struct {
	d        *Device
	binding  gpu.BufferBinding
	data     []byte
	released bool
}

func (b *buffer) Release() {
	b.d.check()
	if !b.released {
		b.released = true
		b.d.live--
	}
}

type vertexArray struct {
	d        *Device
	buf      *buffer
	layout   gpu.VertexLayout
	released bool
}

func (v *vertexArray) Release() {
	v.d.check()
	if !v.released {
		v.released = true
		v.d.live--
	}
}

type program struct {
	d        *Device
	name     string
	src      shader.Sources
	frag     gpu.FragmentFunc
	uniforms map[string]float32
	released bool
}

func (p *program) Name() string { return p.name }

// SetUniform sets a float uniform. Programs with reflected uniforms
// only accept the names of their layout.
func (p *program) SetUniform(name string, v float32) {
	p.d.check()
	if locs := p.src.Uniforms.Locations; len(locs) > 0 {
		found := false
		for _, l := range locs {
			if l.Name == name {
				found = l.Type == shader.DataTypeFloat
				break
			}
		}
		if !found {
			p.d.setErr(fmt.Errorf("soft: %s: no float uniform %q", p.name, name))
			return
		}
	}
	p.uniforms[name] = v
}

func (p *program) Release() {
	p.d.check()
	if !p.released {
		p.released = true
		p.d.live--
	}
}
