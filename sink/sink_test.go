// SPDX-License-Identifier: Unlicense OR MIT

package sink

import (
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/luisbg/gst-plugins-bad/gl"
	"github.com/luisbg/gst-plugins-bad/gpu"
	"github.com/luisbg/gst-plugins-bad/gpu/soft"
	"github.com/luisbg/gst-plugins-bad/navigation"
	"github.com/luisbg/gst-plugins-bad/video"
	"github.com/luisbg/gst-plugins-bad/window"
)

var (
	red   = color.RGBA{R: 0xff, A: 0xff}
	green = color.RGBA{G: 0xff, A: 0xff}
)

func newSink(t *testing.T, opts ...Option) *Sink {
	t.Helper()
	opts = append([]Option{
		WithContextOptions(gl.WithWindowOptions(window.WithBackend(window.DummyBackend))),
	}, opts...)
	s := New(opts...)
	t.Cleanup(s.Stop)
	return s
}

func frame(t *testing.T, info video.Info, c color.RGBA) *video.Buffer {
	t.Helper()
	b, err := video.NewImageBuffer(info)
	if err != nil {
		t.Fatal(err)
	}
	img := b.Image.(*image.RGBA)
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return b
}

func show(t *testing.T, s *Sink, b *video.Buffer) {
	t.Helper()
	if err := s.Prepare(b); err != nil {
		t.Fatal(err)
	}
	if err := s.ShowFrame(b); err != nil {
		t.Fatal(err)
	}
}

func onThread(t *testing.T, s *Sink, f func(dev *soft.Device)) {
	t.Helper()
	if err := s.Context().ThreadAdd(func(dev gpu.Device) { f(dev.(*soft.Device)) }); err != nil {
		t.Fatal(err)
	}
}

func TestShowFrameLastWriterWins(t *testing.T) {
	s := newSink(t)
	info := video.NewInfo(video.FormatRGBA, 4, 4)
	if err := s.SetCaps(info); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 6; i++ {
		show(t, s, frame(t, info, red))
		want := s.nextBuffer.Texture.ID()
		if got := s.RedisplayTexture(); got != want {
			t.Fatalf("frame %d: redisplay texture %d, want %d", i, got, want)
		}
		if s.stored != s.nextBuffer {
			t.Fatalf("frame %d: stored buffer is not the last prepared one", i)
		}
	}
	if s.drawn.Load() != 6 {
		t.Errorf("drew %d times, want 6", s.drawn.Load())
	}
}

func TestReshape(t *testing.T) {
	tests := []struct {
		name   string
		aspect bool
		want   image.Rectangle
	}{
		{"aspect", true, image.Rect(100, 0, 700, 450)},
		{"stretch", false, image.Rect(0, 0, 800, 450)},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			s := newSink(t, WithForceAspectRatio(test.aspect))
			info := video.NewInfo(video.FormatRGBA, 640, 480)
			if err := s.SetCaps(info); err != nil {
				t.Fatal(err)
			}
			show(t, s, frame(t, info, red))
			if !s.Context().Window().Resize(800, 450) {
				t.Fatal("resize not delivered")
			}
			onThread(t, s, func(dev *soft.Device) {
				if got := dev.ViewportRect(); got != test.want {
					t.Errorf("viewport %v, want %v", got, test.want)
				}
			})
			show(t, s, frame(t, info, green))
			onThread(t, s, func(dev *soft.Device) {
				if got := dev.Surface(); got != image.Pt(800, 450) {
					t.Fatalf("surface %v, want 800x450", got)
				}
				img, err := dev.ReadPixels(nil, image.Rect(0, 0, 800, 450))
				if err != nil {
					t.Fatal(err)
				}
				if got := img.RGBAAt(400, 225); got != green {
					t.Errorf("center pixel %v, want %v", got, green)
				}
				border := color.RGBA{}
				if !test.aspect {
					border = green
				}
				if got := img.RGBAAt(50, 225); got != border {
					t.Errorf("border pixel %v, want %v", got, border)
				}
			})
		})
	}
}

func TestFirstDrawFitsSurface(t *testing.T) {
	s := newSink(t)
	info := video.NewInfo(video.FormatRGBA, 64, 48)
	if err := s.SetCaps(info); err != nil {
		t.Fatal(err)
	}
	show(t, s, frame(t, info, red))
	onThread(t, s, func(dev *soft.Device) {
		if got, want := dev.ViewportRect(), image.Rect(0, 0, 64, 48); got != want {
			t.Errorf("viewport %v, want %v", got, want)
		}
		if dev.Frames() != 1 {
			t.Errorf("presented %d frames, want 1", dev.Frames())
		}
	})
}

func TestClientReshape(t *testing.T) {
	var got image.Point
	s := newSink(t, WithClientReshape(func(ctx *gl.Context, w, h int) bool {
		got = image.Pt(w, h)
		return true
	}))
	info := video.NewInfo(video.FormatRGBA, 640, 480)
	if err := s.SetCaps(info); err != nil {
		t.Fatal(err)
	}
	show(t, s, frame(t, info, red))
	var before image.Rectangle
	onThread(t, s, func(dev *soft.Device) { before = dev.ViewportRect() })
	s.Context().Window().Resize(800, 450)
	if got != image.Pt(800, 450) {
		t.Errorf("client reshape got %v, want 800x450", got)
	}
	onThread(t, s, func(dev *soft.Device) {
		if vp := dev.ViewportRect(); vp != before {
			t.Errorf("viewport %v changed to %v by a handled reshape", before, vp)
		}
	})
}

func TestStopReleasesStoredBuffer(t *testing.T) {
	s := newSink(t)
	info := video.NewInfo(video.FormatRGBA, 4, 4)
	if err := s.SetCaps(info); err != nil {
		t.Fatal(err)
	}
	show(t, s, frame(t, info, red))
	stored := s.stored.Ref()
	defer stored.Unref()
	// Prepare another frame so the stored buffer is only held for display.
	if err := s.Prepare(frame(t, info, green)); err != nil {
		t.Fatal(err)
	}
	before := stored.Refs()
	s.Stop()
	if got := stored.Refs(); got != before-1 {
		t.Errorf("Stop released %d references, want 1", before-got)
	}
	if got := s.RedisplayTexture(); got != 0 {
		t.Errorf("redisplay texture %d after Stop, want 0", got)
	}
	if got := s.callbacks.Load(); got != 0 {
		t.Errorf("%d window callbacks left installed", got)
	}
	drawn := s.drawn.Load()
	s.Expose()
	if s.drawn.Load() != drawn {
		t.Error("Expose drew after Stop")
	}
	if err := s.ShowFrame(stored); video.FlowOf(err) != video.FlowNotNegotiated {
		t.Errorf("ShowFrame after Stop = %v, want not-negotiated", err)
	}
}

func TestRestartAfterLoopExit(t *testing.T) {
	s := newSink(t)
	info := video.NewInfo(video.FormatRGBA, 4, 4)
	if err := s.SetCaps(info); err != nil {
		t.Fatal(err)
	}
	show(t, s, frame(t, info, red))
	old := s.prog
	if old == nil {
		t.Fatal("no redisplay program after the first frame")
	}
	s.Context().Window().Quit()
	s.Stop()
	if got := s.shader.Load(); got != shaderNone {
		t.Errorf("shader state %d after Stop, want %d", got, shaderNone)
	}
	if s.prog != nil || s.quad != nil {
		t.Error("redisplay objects kept after Stop")
	}
	s.Start()
	if err := s.SetCaps(info); err != nil {
		t.Fatal(err)
	}
	show(t, s, frame(t, info, green))
	if s.prog == nil || s.prog == old {
		t.Error("redisplay program not recreated on the new context")
	}
}

func TestWindowHandleRebind(t *testing.T) {
	s := newSink(t)
	info := video.NewInfo(video.FormatRGBA, 4, 4)
	if err := s.SetCaps(info); err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.SetWindowHandle(42)
	}()
	wg.Wait()
	show(t, s, frame(t, info, red))
	show(t, s, frame(t, info, red))
	drawn := s.drawn.Load()
	s.Expose()
	if s.drawn.Load() != drawn+1 {
		t.Error("Expose did not redraw the stored frame")
	}
	s.ctxMu.Lock()
	rebinds := s.rebinds
	s.ctxMu.Unlock()
	if rebinds != 1 {
		t.Errorf("rebound %d times, want 1", rebinds)
	}
	d, ok := s.Context().Window().Driver().(interface{ WindowHandle() uintptr })
	if !ok {
		t.Fatal("dummy driver does not report its handle")
	}
	if got := d.WindowHandle(); got != 42 {
		t.Errorf("window handle %d, want 42", got)
	}
}

func TestPrepareWindowHandle(t *testing.T) {
	var s *Sink
	asked := 0
	s = newSink(t, WithPrepareWindowHandle(func() {
		asked++
		s.SetWindowHandle(7)
	}))
	if err := s.SetCaps(video.NewInfo(video.FormatRGBA, 4, 4)); err != nil {
		t.Fatal(err)
	}
	if asked != 1 {
		t.Errorf("asked for a window handle %d times, want 1", asked)
	}
	s.ctxMu.Lock()
	id := s.windowID
	s.ctxMu.Unlock()
	if id != 7 {
		t.Errorf("bound handle %d, want 7", id)
	}
}

func TestWindowClosed(t *testing.T) {
	s := newSink(t)
	info := video.NewInfo(video.FormatRGBA, 4, 4)
	if err := s.SetCaps(info); err != nil {
		t.Fatal(err)
	}
	show(t, s, frame(t, info, red))
	if !s.Context().Window().RequestClose() {
		t.Fatal("close not delivered")
	}
	if err := s.Prepare(frame(t, info, red)); err != nil {
		t.Fatal(err)
	}
	err := s.ShowFrame(frame(t, info, red))
	if !errors.Is(err, ErrWindowClosed) || video.FlowOf(err) != video.FlowError {
		t.Fatalf("ShowFrame after close = %v, want ErrWindowClosed", err)
	}
	if got := s.Context().Error(); got != "Output window was closed" {
		t.Errorf("context error %q", got)
	}
	if got := ErrWindowClosed.Error(); got != "sink: window closed" {
		t.Errorf("ErrWindowClosed reads %q", got)
	}
	s.Start()
	if err := s.ShowFrame(frame(t, info, red)); err != nil {
		t.Errorf("ShowFrame after restart = %v", err)
	}
}

func TestNotNegotiated(t *testing.T) {
	s := newSink(t)
	b := frame(t, video.NewInfo(video.FormatRGBA, 4, 4), red)
	if err := s.Prepare(b); video.FlowOf(err) != video.FlowNotNegotiated {
		t.Errorf("Prepare before caps = %v, want not-negotiated", err)
	}
	if err := s.ShowFrame(b); !errors.Is(err, ErrNotNegotiated) {
		t.Errorf("ShowFrame before caps = %v, want ErrNotNegotiated", err)
	}
	if err := s.SetCaps(video.Info{Format: video.FormatRGBA}); !errors.Is(err, ErrNotNegotiated) {
		t.Errorf("SetCaps with empty size = %v, want ErrNotNegotiated", err)
	}
	if s.Context() != nil {
		t.Error("context created for rejected caps")
	}
	s.Expose()
	s.SendEvent(navigation.KeyEvent{Key: "space"})
}

func TestSetupFailure(t *testing.T) {
	s := newSink(t, WithContextOptions(gl.WithDevice(func(image.Point) (gpu.Device, error) {
		return nil, errors.New("no adapter")
	})))
	err := s.SetCaps(video.NewInfo(video.FormatRGBA, 4, 4))
	if !errors.Is(err, ErrSetup) || !errors.Is(err, gl.ErrSetup) {
		t.Fatalf("SetCaps = %v, want ErrSetup", err)
	}
	if s.Context() != nil {
		t.Error("failed context kept")
	}
}

// noShaders is a device that cannot compile programs.
type noShaders struct {
	gpu.Device
}

func (noShaders) NewProgram(gpu.ProgramDesc) (gpu.Program, error) {
	return nil, gpu.ErrCompile
}

func withoutShaders() Option {
	return WithContextOptions(gl.WithDevice(func(size image.Point) (gpu.Device, error) {
		return noShaders{soft.New(soft.Options{Size: size, Strict: true})}, nil
	}))
}

func TestShaderFailure(t *testing.T) {
	info := video.NewInfo(video.FormatRGBA, 4, 4)
	s := newSink(t, withoutShaders())
	if err := s.SetCaps(info); err != nil {
		t.Fatal(err)
	}
	if err := s.Prepare(frame(t, info, red)); err != nil {
		t.Fatal(err)
	}
	if err := s.ShowFrame(frame(t, info, red)); !errors.Is(err, ErrShader) {
		t.Errorf("ShowFrame = %v, want ErrShader", err)
	}
}

func TestClientDrawWithoutShader(t *testing.T) {
	info := video.NewInfo(video.FormatRGBA, 4, 2)
	var calls int
	var size image.Point
	var id uint32
	s := newSink(t, withoutShaders(), WithClientDraw(func(ctx *gl.Context, tex gpu.Texture, w, h int) bool {
		calls++
		size = image.Pt(w, h)
		id = tex.ID()
		return true
	}))
	if err := s.SetCaps(info); err != nil {
		t.Fatal(err)
	}
	show(t, s, frame(t, info, red))
	if calls != 1 {
		t.Fatalf("client draw called %d times, want 1", calls)
	}
	if size != image.Pt(4, 2) {
		t.Errorf("client draw size %v, want 4x2", size)
	}
	if id != s.RedisplayTexture() {
		t.Errorf("client draw texture %d, want %d", id, s.RedisplayTexture())
	}
}

func TestDrain(t *testing.T) {
	s := newSink(t)
	info := video.NewInfo(video.FormatRGBA, 4, 4)
	if err := s.SetCaps(info); err != nil {
		t.Fatal(err)
	}
	show(t, s, frame(t, info, red))
	stored := s.stored.Ref()
	refs := stored.Refs()
	s.Drain()
	if s.RedisplayTexture() != 0 || s.stored != nil || s.nextBuffer != nil {
		t.Error("Drain left frames behind")
	}
	// Drain drops both the display and the prepared reference.
	if got := stored.Refs(); got != refs-2 {
		t.Errorf("refs %d after Drain, want %d", got, refs-2)
	}
	stored.Unref()
}

func TestTimes(t *testing.T) {
	s := newSink(t)
	info := video.NewInfo(video.FormatRGBA, 4, 4)
	info.FPSN, info.FPSD = 25, 1
	if err := s.SetCaps(info); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		pts, dur   time.Duration
		start, end time.Duration
	}{
		{video.TimeNone, video.TimeNone, video.TimeNone, video.TimeNone},
		{time.Second, 10 * time.Millisecond, time.Second, time.Second + 10*time.Millisecond},
		{time.Second, video.TimeNone, time.Second, time.Second + 40*time.Millisecond},
	}
	for _, test := range tests {
		b := video.NewBuffer(info)
		b.PTS, b.Duration = test.pts, test.dur
		start, end := s.Times(b)
		if start != test.start || end != test.end {
			t.Errorf("Times(%v, %v) = %v, %v, want %v, %v", test.pts, test.dur, start, end, test.start, test.end)
		}
	}
}

func TestNavigationScaling(t *testing.T) {
	events := make(chan navigation.Event, 4)
	s := newSink(t, WithNavigation(navigation.HandlerFunc(func(e navigation.Event) {
		events <- e
	})))
	if err := s.SetCaps(video.NewInfo(video.FormatRGBA, 320, 240)); err != nil {
		t.Fatal(err)
	}
	win := s.Context().Window()
	win.Resize(640, 480)
	win.QueueMouseEvent(navigation.MouseEvent{Kind: navigation.Move, X: 320, Y: 100})
	win.QueueKeyEvent(navigation.KeyEvent{State: navigation.Press, Key: "space"})
	win.SyncNavigation()
	select {
	case e := <-events:
		m, ok := e.(navigation.MouseEvent)
		if !ok || m.X != 160 || m.Y != 50 {
			t.Errorf("mouse event %v, want move at 160,50", e)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no mouse event")
	}
	select {
	case e := <-events:
		if k, ok := e.(navigation.KeyEvent); !ok || k.Key != "space" {
			t.Errorf("key event %v, want space", e)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no key event")
	}

	s.HandleEvents(false)
	win.QueueMouseEvent(navigation.MouseEvent{Kind: navigation.Move})
	win.SyncNavigation()
	select {
	case e := <-events:
		t.Errorf("event %v relayed with event handling off", e)
	default:
	}
}

func TestProposeAllocation(t *testing.T) {
	s := newSink(t)
	info := video.NewInfo(video.FormatRGBA, 4, 4)
	if err := s.SetCaps(info); err != nil {
		t.Fatal(err)
	}
	p, err := s.ProposeAllocation(info)
	if err != nil {
		t.Fatal(err)
	}
	if p.Min() < 2 {
		t.Errorf("pool min %d, want at least 2", p.Min())
	}
	if p != s.pool {
		t.Error("pool for the negotiated format not reused")
	}
	other, err := s.ProposeAllocation(video.NewInfo(video.FormatRGBA, 8, 8))
	if err != nil {
		t.Fatal(err)
	}
	if other == s.pool || other.Info().Width != 8 {
		t.Error("pool of the negotiated format offered for other caps")
	}
}

func TestSharedContext(t *testing.T) {
	ctx, err := gl.NewContext(gl.NewDisplay("shared"), gl.WithWindowOptions(window.WithBackend(window.DummyBackend)))
	if err != nil {
		t.Fatal(err)
	}
	if err := ctx.Create(); err != nil {
		t.Fatal(err)
	}
	defer ctx.Destroy()
	s := New(WithContext(ctx))
	info := video.NewInfo(video.FormatRGBA, 4, 4)
	if err := s.SetCaps(info); err != nil {
		t.Fatal(err)
	}
	show(t, s, frame(t, info, red))
	s.Stop()
	if !ctx.Window().IsRunning() {
		t.Error("Stop destroyed a context owned by the application")
	}
}
