// SPDX-License-Identifier: Unlicense OR MIT

package testsrc

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"time"

	"gioui.org/shader"
	"golang.org/x/exp/slices"
	"golang.org/x/image/colornames"
	"golang.org/x/image/math/f32"

	"github.com/luisbg/gst-plugins-bad/gpu"
)

// Pattern selects the generated image.
type Pattern uint8

const (
	PatternSMPTE Pattern = iota
	PatternSnow
	PatternBlack
	PatternWhite
	PatternRed
	PatternGreen
	PatternBlue
	PatternCheckers1
	PatternCheckers2
	PatternCheckers4
	PatternCheckers8
	PatternCircular
	PatternBlink
	PatternMandelbrot
)

var patternNames = [...]string{
	PatternSMPTE:      "smpte",
	PatternSnow:       "snow",
	PatternBlack:      "black",
	PatternWhite:      "white",
	PatternRed:        "red",
	PatternGreen:      "green",
	PatternBlue:       "blue",
	PatternCheckers1:  "checkers-1",
	PatternCheckers2:  "checkers-2",
	PatternCheckers4:  "checkers-4",
	PatternCheckers8:  "checkers-8",
	PatternCircular:   "circular",
	PatternBlink:      "blink",
	PatternMandelbrot: "mandelbrot",
}

func (p Pattern) String() string {
	if int(p) < len(patternNames) {
		return patternNames[p]
	}
	return fmt.Sprintf("pattern(%d)", uint8(p))
}

// ParsePattern returns the pattern with the given name.
func ParsePattern(name string) (Pattern, error) {
	i := slices.Index(patternNames[:], name)
	if i < 0 {
		return 0, fmt.Errorf("testsrc: unknown pattern %q", name)
	}
	return Pattern(i), nil
}

// PatternNames returns the names of all patterns.
func PatternNames() []string {
	return slices.Clone(patternNames[:])
}

// frameState is the input of a painter for one frame.
type frameState struct {
	n    int64
	t    time.Duration
	size image.Point
}

// painter renders a pattern into the bound framebuffer. It runs on the
// window thread.
type painter interface {
	paint(dev gpu.Device, f frameState)
	release()
}

func newPainter(dev gpu.Device, p Pattern) (painter, error) {
	switch p {
	case PatternBlack:
		return solidPainter{colornames.Black}, nil
	case PatternWhite:
		return solidPainter{colornames.White}, nil
	case PatternRed:
		return solidPainter{colornames.Red}, nil
	case PatternGreen:
		return solidPainter{colornames.Lime}, nil
	case PatternBlue:
		return solidPainter{colornames.Blue}, nil
	case PatternBlink:
		return blinkPainter{}, nil
	case PatternSMPTE:
		sp, err := newShaderPainter(dev, solidProgram, nil)
		if err != nil {
			return nil, err
		}
		return smptePainter{sp}, nil
	case PatternCheckers1, PatternCheckers2, PatternCheckers4, PatternCheckers8:
		width := float32(int(1) << (p - PatternCheckers1))
		return newShaderPainter(dev, checkersProgram, func(prog gpu.Program, f frameState) {
			prog.SetUniform("checker_width", width)
		})
	case PatternSnow:
		return newShaderPainter(dev, snowProgram, func(prog gpu.Program, f frameState) {
			prog.SetUniform("time", float32(f.t.Seconds()))
		})
	case PatternCircular:
		return newShaderPainter(dev, circularProgram, func(prog gpu.Program, f frameState) {
			prog.SetUniform("aspect", aspect(f.size))
		})
	case PatternMandelbrot:
		return newShaderPainter(dev, mandelbrotProgram, func(prog gpu.Program, f frameState) {
			prog.SetUniform("time", float32(f.t.Seconds()))
			prog.SetUniform("aspect", aspect(f.size))
		})
	default:
		return nil, fmt.Errorf("testsrc: no painter for %v", p)
	}
}

func aspect(size image.Point) float32 {
	if size.Y == 0 {
		return 1
	}
	return float32(size.X) / float32(size.Y)
}

func clearColor(dev gpu.Device, c color.RGBA) {
	dev.Clear(float32(c.R)/255, float32(c.G)/255, float32(c.B)/255, float32(c.A)/255)
}

type solidPainter struct {
	c color.RGBA
}

func (p solidPainter) paint(dev gpu.Device, f frameState) { clearColor(dev, p.c) }
func (solidPainter) release()                             {}

// blinkPainter alternates black and white frames.
type blinkPainter struct{}

func (blinkPainter) paint(dev gpu.Device, f frameState) {
	if f.n&1 != 0 {
		clearColor(dev, colornames.White)
	} else {
		clearColor(dev, colornames.Black)
	}
}

func (blinkPainter) release() {}

type shaderPainter struct {
	prog     gpu.Program
	quad     *gpu.Quad
	uniforms func(prog gpu.Program, f frameState)
}

func newShaderPainter(dev gpu.Device, desc gpu.ProgramDesc, uniforms func(gpu.Program, frameState)) (*shaderPainter, error) {
	quad, err := gpu.NewQuad(dev)
	if err != nil {
		return nil, err
	}
	prog, err := dev.NewProgram(desc)
	if err != nil {
		quad.Release()
		return nil, err
	}
	return &shaderPainter{prog: prog, quad: quad, uniforms: uniforms}, nil
}

func (p *shaderPainter) paint(dev gpu.Device, f frameState) {
	dev.BindProgram(p.prog)
	if p.uniforms != nil {
		p.uniforms(p.prog, f)
	}
	p.quad.Draw(dev)
	dev.BindProgram(nil)
}

func (p *shaderPainter) release() {
	p.prog.Release()
	p.quad.Release()
}

type bar struct {
	x0, y0, x1, y1 int // in 1/84 of the frame width and 1/12 of its height
	c              color.RGBA
}

var (
	minusI = color.RGBA{R: 0x00, G: 0x21, B: 0x4c, A: 0xff}
	plusQ  = color.RGBA{R: 0x32, G: 0x00, B: 0x6a, A: 0xff}
	pluge  = [...]color.RGBA{
		{R: 0x00, G: 0x00, B: 0x00, A: 0xff},
		{R: 0x13, G: 0x13, B: 0x13, A: 0xff},
		{R: 0x1d, G: 0x1d, B: 0x1d, A: 0xff},
	}
)

// smpteBars lists the bars on an 84x12 grid: seven color bars on the
// top two thirds, the reversed castellations, then -I, white, +Q and the
// PLUGE.
var smpteBars = func() []bar {
	top := []color.RGBA{
		colornames.White, colornames.Yellow, colornames.Cyan, colornames.Lime,
		colornames.Magenta, colornames.Red, colornames.Blue,
	}
	mid := []color.RGBA{
		colornames.Blue, colornames.Black, colornames.Magenta, colornames.Black,
		colornames.Cyan, colornames.Black, colornames.White,
	}
	var bars []bar
	for i := range top {
		bars = append(bars, bar{i * 12, 0, (i + 1) * 12, 8, top[i]})
		bars = append(bars, bar{i * 12, 8, (i + 1) * 12, 9, mid[i]})
	}
	bottom := []color.RGBA{minusI, colornames.White, plusQ, colornames.Black}
	for i, c := range bottom {
		bars = append(bars, bar{i * 15, 9, (i + 1) * 15, 12, c})
	}
	for i, c := range pluge {
		bars = append(bars, bar{60 + i*4, 9, 64 + i*4, 12, c})
	}
	return append(bars, bar{72, 9, 84, 12, colornames.Black})
}()

// smptePainter draws the bars as quads with a solid color program.
type smptePainter struct {
	*shaderPainter
}

func (p smptePainter) paint(dev gpu.Device, f frameState) {
	w, h := f.size.X, f.size.Y
	dev.BindProgram(p.prog)
	for _, b := range smpteBars {
		x0, x1 := b.x0*w/84, b.x1*w/84
		y0, y1 := b.y0*h/12, b.y1*h/12
		if x1 <= x0 || y1 <= y0 {
			continue
		}
		dev.Viewport(x0, y0, x1-x0, y1-y0)
		p.prog.SetUniform("r", float32(b.c.R)/255)
		p.prog.SetUniform("g", float32(b.c.G)/255)
		p.prog.SetUniform("b", float32(b.c.B)/255)
		p.prog.SetUniform("a", float32(b.c.A)/255)
		p.quad.Draw(dev)
	}
	dev.BindProgram(nil)
	dev.Viewport(0, 0, w, h)
}

func floatUniforms(names ...string) shader.UniformsReflection {
	u := shader.UniformsReflection{Size: 4 * len(names)}
	for i, n := range names {
		u.Locations = append(u.Locations, shader.UniformLocation{Name: n, Type: shader.DataTypeFloat, Size: 1, Offset: 4 * i})
	}
	return u
}

func sources(name string, uniforms ...string) shader.Sources {
	return shader.Sources{Name: name, Inputs: gpu.QuadInputs, Uniforms: floatUniforms(uniforms...)}
}

var solidProgram = gpu.ProgramDesc{
	Name: "solid",
	WGSL: gpu.QuadWGSLVertex + `
struct Params {
    r: f32,
    g: f32,
    b: f32,
    a: f32,
}

@group(0) @binding(0) var<uniform> params: Params;

@fragment
fn fs_main(in: VertexOutput) -> @location(0) vec4<f32> {
    return vec4<f32>(params.r, params.g, params.b, params.a);
}
`,
	Sources: sources("solid", "r", "g", "b", "a"),
	Fragment: func(in gpu.Fragment) f32.Vec4 {
		return f32.Vec4{in.Uniform("r"), in.Uniform("g"), in.Uniform("b"), in.Uniform("a")}
	},
}

var checkersProgram = gpu.ProgramDesc{
	Name: "checkers",
	WGSL: gpu.QuadWGSLVertex + `
struct Params {
    checker_width: f32,
}

@group(0) @binding(0) var<uniform> params: Params;

@fragment
fn fs_main(in: VertexOutput) -> @location(0) vec4<f32> {
    let index = floor((in.position.xy - vec2<f32>(0.5, 0.5)) / params.checker_width);
    let sum = index.x + index.y;
    let m = sum - 2.0 * floor(sum / 2.0);
    let r = step(m, 0.5);
    return vec4<f32>(r, 1.0 - r, 0.0, 1.0);
}
`,
	Sources: sources("checkers", "checker_width"),
	Fragment: func(in gpu.Fragment) f32.Vec4 {
		c := in.Coord()
		w := in.Uniform("checker_width")
		ix := math.Floor(float64((c[0] - .5) / w))
		iy := math.Floor(float64((c[1] - .5) / w))
		var r float32
		if math.Mod(ix+iy, 2) <= .5 {
			r = 1
		}
		return f32.Vec4{r, 1 - r, 0, 1}
	},
}

// noise is the hash used by the snow program.
func noise(x, y float32) float32 {
	v := math.Sin(float64(x)*12.9898+float64(y)*78.233) * 43758.5453
	return float32(v - math.Floor(v))
}

var snowProgram = gpu.ProgramDesc{
	Name: "snow",
	WGSL: gpu.QuadWGSLVertex + `
struct Params {
    time: f32,
}

@group(0) @binding(0) var<uniform> params: Params;

fn noise(co: vec2<f32>) -> f32 {
    return fract(sin(dot(co, vec2<f32>(12.9898, 78.233))) * 43758.5453);
}

@fragment
fn fs_main(in: VertexOutput) -> @location(0) vec4<f32> {
    let v = noise(in.position.xy + vec2<f32>(params.time * 13.0, params.time * 7.0));
    return vec4<f32>(v, v, v, 1.0);
}
`,
	Sources: sources("snow", "time"),
	Fragment: func(in gpu.Fragment) f32.Vec4 {
		c := in.Coord()
		t := in.Uniform("time")
		v := noise(c[0]+t*13, c[1]+t*7)
		return f32.Vec4{v, v, v, 1}
	},
}

var circularProgram = gpu.ProgramDesc{
	Name: "circular",
	WGSL: gpu.QuadWGSLVertex + `
struct Params {
    aspect: f32,
}

@group(0) @binding(0) var<uniform> params: Params;

@fragment
fn fs_main(in: VertexOutput) -> @location(0) vec4<f32> {
    let p = vec2<f32>((in.uv.x - 0.5) * params.aspect, in.uv.y - 0.5);
    let r = length(p);
    let v = 0.5 + 0.5 * sin(r * r * 400.0);
    return vec4<f32>(v, v, v, 1.0);
}
`,
	Sources: sources("circular", "aspect"),
	Fragment: func(in gpu.Fragment) f32.Vec4 {
		uv := in.UV()
		x := float64((uv[0] - .5) * in.Uniform("aspect"))
		y := float64(uv[1] - .5)
		r2 := x*x + y*y
		v := float32(.5 + .5*math.Sin(r2*400))
		return f32.Vec4{v, v, v, 1}
	},
}

const mandelbrotIterations = 50

var mandelbrotProgram = gpu.ProgramDesc{
	Name: "mandelbrot",
	WGSL: gpu.QuadWGSLVertex + `
struct Params {
    time: f32,
    aspect: f32,
}

@group(0) @binding(0) var<uniform> params: Params;

@fragment
fn fs_main(in: VertexOutput) -> @location(0) vec4<f32> {
    let zoom = 1.0 + 0.5 * sin(params.time * 0.5);
    let c = vec2<f32>((in.uv.x * 3.0 - 2.0) * params.aspect, in.uv.y * 2.0 - 1.0) / zoom;
    var z = vec2<f32>(0.0, 0.0);
    var i: i32 = 0;
    loop {
        if (i >= 50 || dot(z, z) > 4.0) {
            break;
        }
        z = vec2<f32>(z.x * z.x - z.y * z.y, 2.0 * z.x * z.y) + c;
        i = i + 1;
    }
    let v = f32(i) / 50.0;
    return vec4<f32>(v, v * v, sqrt(v), 1.0);
}
`,
	Sources: sources("mandelbrot", "time", "aspect"),
	Fragment: func(in gpu.Fragment) f32.Vec4 {
		uv := in.UV()
		zoom := 1 + .5*math.Sin(float64(in.Uniform("time"))*.5)
		cx := (float64(uv[0])*3 - 2) * float64(in.Uniform("aspect")) / zoom
		cy := (float64(uv[1])*2 - 1) / zoom
		var zx, zy float64
		i := 0
		for ; i < mandelbrotIterations && zx*zx+zy*zy <= 4; i++ {
			zx, zy = zx*zx-zy*zy+cx, 2*zx*zy+cy
		}
		v := float32(i) / mandelbrotIterations
		return f32.Vec4{v, v * v, float32(math.Sqrt(float64(v))), 1}
	},
}
