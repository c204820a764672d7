// SPDX-License-Identifier: Unlicense OR MIT

package soft

import (
	"errors"
	"image"
	"image/color"
	"runtime"
	"testing"

	"gioui.org/shader"
	"github.com/gogpu/gputypes"
	"golang.org/x/image/math/f32"

	"github.com/luisbg/gst-plugins-bad/gpu"
)

const sampleWGSL = gpu.QuadWGSLVertex + `
@group(0) @binding(0) var tex: texture_2d<f32>;
@group(0) @binding(1) var tex_sampler: sampler;

@fragment
fn fs_main(in: VertexOutput) -> @location(0) vec4<f32> {
    return textureSample(tex, tex_sampler, in.uv);
}
`

var sampleProgram = gpu.ProgramDesc{
	Name:    "sample",
	WGSL:    sampleWGSL,
	Sources: shader.Sources{Name: "sample", Inputs: gpu.QuadInputs},
	Fragment: func(in gpu.Fragment) f32.Vec4 {
		return in.Sample(0, in.UV())
	},
}

var (
	red   = color.RGBA{R: 0xff, A: 0xff}
	green = color.RGBA{G: 0xff, A: 0xff}
	blue  = color.RGBA{B: 0xff, A: 0xff}
	white = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
)

func newQuadTexture(t *testing.T, d *Device, format gputypes.TextureFormat) gpu.Texture {
	t.Helper()
	desc := gpu.NewTextureDesc(format, 2, 2)
	desc.Filter = gputypes.FilterModeNearest
	tex, err := d.NewTexture(desc)
	if err != nil {
		t.Fatal(err)
	}
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.SetRGBA(0, 0, red)
	img.SetRGBA(1, 0, green)
	img.SetRGBA(0, 1, blue)
	img.SetRGBA(1, 1, white)
	if err := d.UploadTexture(tex, img); err != nil {
		t.Fatal(err)
	}
	return tex
}

func drawTexture(t *testing.T, d *Device, tex gpu.Texture) {
	t.Helper()
	p, err := d.NewProgram(sampleProgram)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Release()
	q, err := gpu.NewQuad(d)
	if err != nil {
		t.Fatal(err)
	}
	defer q.Release()
	d.BindProgram(p)
	d.BindTexture(0, tex)
	q.Draw(d)
	if err := d.Err(); err != nil {
		t.Fatal(err)
	}
}

func TestClear(t *testing.T) {
	d := New(Options{Size: image.Pt(16, 8)})
	d.Clear(1, 0, 0, 1)
	img, err := d.ReadPixels(nil, image.Rect(0, 0, 16, 8))
	if err != nil {
		t.Fatal(err)
	}
	if got := img.RGBAAt(15, 7); got != red {
		t.Errorf("got color %v, expected %v", got, red)
	}
}

func TestDrawQuadCoversViewport(t *testing.T) {
	d := New(Options{Size: image.Pt(8, 8)})
	d.Clear(0, 0, 0, 0)
	drawTexture(t, d, newQuadTexture(t, d, gputypes.TextureFormatRGBA8Unorm))
	img, _ := d.ReadPixels(nil, image.Rect(0, 0, 8, 8))
	tests := []struct {
		x, y int
		want color.RGBA
	}{
		{1, 1, red},
		{6, 1, green},
		{1, 6, blue},
		{6, 6, white},
	}
	for _, test := range tests {
		if got := img.RGBAAt(test.x, test.y); got != test.want {
			t.Errorf("(%d,%d): got color %v, expected %v", test.x, test.y, got, test.want)
		}
	}
	// Pixels on the shared diagonal belong to exactly one triangle.
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			if img.RGBAAt(x, y).A != 0xff {
				t.Fatalf("pixel (%d,%d) not covered", x, y)
			}
		}
	}
}

func TestViewport(t *testing.T) {
	d := New(Options{Size: image.Pt(8, 4)})
	d.Clear(0, 0, 0, 0)
	d.Viewport(2, 0, 4, 4)
	drawTexture(t, d, newQuadTexture(t, d, gputypes.TextureFormatRGBA8Unorm))
	img, _ := d.ReadPixels(nil, image.Rect(0, 0, 8, 4))
	if got := img.RGBAAt(0, 2); got != (color.RGBA{}) {
		t.Errorf("left border: got %v, expected transparent", got)
	}
	if got := img.RGBAAt(7, 2); got != (color.RGBA{}) {
		t.Errorf("right border: got %v, expected transparent", got)
	}
	if got := img.RGBAAt(2, 0); got != red {
		t.Errorf("viewport origin: got %v, expected %v", got, red)
	}
	if got := img.RGBAAt(5, 3); got != white {
		t.Errorf("viewport corner: got %v, expected %v", got, white)
	}
}

func TestFramebufferBGRA(t *testing.T) {
	d := New(Options{Size: image.Pt(1, 1)})
	src := newQuadTexture(t, d, gputypes.TextureFormatBGRA8Unorm)
	dst, err := d.NewTexture(gpu.NewTextureDesc(gputypes.TextureFormatRGBA8Unorm, 4, 4))
	if err != nil {
		t.Fatal(err)
	}
	fbo, err := d.NewFramebuffer(dst)
	if err != nil {
		t.Fatal(err)
	}
	d.BindFramebuffer(fbo)
	d.Viewport(0, 0, 4, 4)
	drawTexture(t, d, src)
	img, err := d.ReadPixels(fbo, image.Rect(0, 0, 4, 4))
	if err != nil {
		t.Fatal(err)
	}
	// The upload stored red as BGRA bytes, so sampling sees blue.
	if got := img.RGBAAt(0, 0); got != blue {
		t.Errorf("got color %v, expected %v", got, blue)
	}
}

func TestCompileFailure(t *testing.T) {
	d := New(Options{Size: image.Pt(1, 1)})
	desc := sampleProgram
	desc.WGSL = "this is not a shader"
	if _, err := d.NewProgram(desc); !errors.Is(err, gpu.ErrCompile) {
		t.Errorf("NewProgram = %v, want ErrCompile", err)
	}
	desc.WGSL = ""
	desc.Fragment = nil
	if _, err := d.NewProgram(desc); !errors.Is(err, gpu.ErrCompile) {
		t.Errorf("NewProgram without fragment = %v, want ErrCompile", err)
	}
}

func TestCompileCache(t *testing.T) {
	if err := compile(sampleWGSL); err != nil {
		t.Fatal(err)
	}
	if !spirvCache.Contains(sampleWGSL) {
		t.Fatal("compiled module not cached")
	}
	if err := compile("this is not a shader"); err == nil {
		t.Fatal("compiled an invalid shader")
	}
	if spirvCache.Contains("this is not a shader") {
		t.Error("failed compilation cached")
	}
	if n := spirvCache.Len(); n > spirvCacheSize {
		t.Errorf("cache holds %d modules, limit %d", n, spirvCacheSize)
	}
}

func TestDrawErrors(t *testing.T) {
	d := New(Options{Size: image.Pt(2, 2)})
	d.DrawElements(gputypes.PrimitiveTopologyTriangleList, gpu.QuadIndices)
	if err := d.Err(); !errors.Is(err, gpu.ErrReleased) {
		t.Errorf("draw without program = %v, want ErrReleased", err)
	}
	if err := d.Err(); err != nil {
		t.Errorf("Err did not clear: %v", err)
	}
	p, _ := d.NewProgram(gpu.ProgramDesc{
		Name:     "points",
		Sources:  shader.Sources{Name: "points", Inputs: []shader.InputLocation{{Name: "a", Location: 0, Type: shader.DataTypeFloat, Size: 4}}},
		Fragment: func(gpu.Fragment) f32.Vec4 { return f32.Vec4{} },
	})
	q, err := gpu.NewQuad(d)
	if err != nil {
		t.Fatal(err)
	}
	d.BindProgram(p)
	q.Draw(d)
	if err := d.Err(); !errors.Is(err, gpu.ErrLayout) {
		t.Errorf("draw with mismatched layout = %v, want ErrLayout", err)
	}
}

func TestLiveObjects(t *testing.T) {
	d := New(Options{Size: image.Pt(2, 2)})
	tex := newQuadTexture(t, d, gputypes.TextureFormatRGBA8Unorm)
	q, err := gpu.NewQuad(d)
	if err != nil {
		t.Fatal(err)
	}
	if got := d.Live(); got != 3 {
		t.Errorf("Live() = %d, want 3", got)
	}
	q.Release()
	tex.Release()
	tex.Release()
	if got := d.Live(); got != 0 {
		t.Errorf("Live() = %d after release, want 0", got)
	}
}

func TestStrictOwner(t *testing.T) {
	created := make(chan *Device)
	hold := make(chan struct{})
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		created <- New(Options{Size: image.Pt(1, 1), Strict: true})
		<-hold
	}()
	d := <-created
	defer close(hold)
	defer func() {
		if recover() == nil {
			t.Error("no panic on foreign thread use")
		}
	}()
	d.Clear(0, 0, 0, 0)
}

func TestUniformLayout(t *testing.T) {
	d := New(Options{Size: image.Pt(2, 2)})
	p, err := d.NewProgram(gpu.ProgramDesc{
		Name: "tint",
		Sources: shader.Sources{
			Name:   "tint",
			Inputs: gpu.QuadInputs,
			Uniforms: shader.UniformsReflection{
				Locations: []shader.UniformLocation{{Name: "level", Type: shader.DataTypeFloat, Size: 1}},
				Size:      4,
			},
		},
		Fragment: func(in gpu.Fragment) f32.Vec4 {
			l := in.Uniform("level")
			return f32.Vec4{l, l, l, 1}
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	p.SetUniform("level", 1)
	if err := d.Err(); err != nil {
		t.Fatal(err)
	}
	p.SetUniform("missing", 1)
	if err := d.Err(); err == nil {
		t.Error("unknown uniform accepted")
	}
	q, err := gpu.NewQuad(d)
	if err != nil {
		t.Fatal(err)
	}
	d.BindProgram(p)
	q.Draw(d)
	img, err := d.ReadPixels(nil, image.Rect(0, 0, 2, 2))
	if err != nil {
		t.Fatal(err)
	}
	if got := img.RGBAAt(1, 1); got != white {
		t.Errorf("pixel %v, want %v", got, white)
	}
}
