// SPDX-License-Identifier: Unlicense OR MIT

// Package testsrc generates test pattern frames with the GPU, as textures
// or downloaded into system memory.
package testsrc

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/gogpu/gputypes"

	"github.com/luisbg/gst-plugins-bad/gl"
	"github.com/luisbg/gst-plugins-bad/gpu"
	"github.com/luisbg/gst-plugins-bad/internal/log"
	"github.com/luisbg/gst-plugins-bad/video"
)

// Default geometry of Fixate.
const (
	DefaultWidth  = 320
	DefaultHeight = 240
	DefaultFPSN   = 30
	DefaultFPSD   = 1
)

var (
	ErrNotNegotiated = errors.New("testsrc: not negotiated")
	ErrSetup         = errors.New("testsrc: setup failed")
)

// Option configures a Src.
type Option func(c *config)

type config struct {
	pattern      Pattern
	offset       time.Duration
	live         bool
	systemMemory bool
	displayName  string
	context      *gl.Context
	ctxOpts      []gl.Option
}

// WithPattern sets the initial pattern. The default is SMPTE.
func WithPattern(p Pattern) Option {
	return func(c *config) { c.pattern = p }
}

// WithTimestampOffset shifts the timestamps of all frames.
func WithTimestampOffset(d time.Duration) Option {
	return func(c *config) { c.offset = d }
}

// WithIsLive makes the source report frame times for clock sync.
func WithIsLive(live bool) Option {
	return func(c *config) { c.live = live }
}

// WithSystemMemory makes Fill download frames into RGBA images instead of
// returning textures.
func WithSystemMemory(enable bool) Option {
	return func(c *config) { c.systemMemory = enable }
}

// WithDisplayName selects the display of the context the source creates.
func WithDisplayName(name string) Option {
	return func(c *config) { c.displayName = name }
}

// WithContext makes the source render with an existing context. The
// source never destroys it.
func WithContext(ctx *gl.Context) Option {
	return func(c *config) { c.context = ctx }
}

// WithContextOptions passes options to the context created by the source.
func WithContextOptions(opts ...gl.Option) Option {
	return func(c *config) { c.ctxOpts = append(c.ctxOpts, opts...) }
}

// Fixate fills the unset fields of info with the defaults.
func Fixate(info video.Info) video.Info {
	if info.Format == video.FormatUnknown {
		info.Format = video.FormatRGBA
	}
	if info.Width == 0 {
		info.Width = DefaultWidth
	}
	if info.Height == 0 {
		info.Height = DefaultHeight
	}
	if info.ParN == 0 {
		info.ParN, info.ParD = 1, 1
	}
	if info.FPSN == 0 && info.FPSD == 0 {
		info.FPSN, info.FPSD = DefaultFPSN, DefaultFPSD
	}
	return info
}

type target struct {
	tex gpu.Texture
	fbo gpu.Framebuffer
}

func (t target) release() {
	t.fbo.Release()
	t.tex.Release()
}

// Src produces one frame per call to Fill. Fill, Seek, SetCaps, Start
// and Stop are called from the streaming goroutine.
type Src struct {
	cnf config

	ctx        *gl.Context
	info       video.Info
	negotiated bool
	pool       *video.BufferPool

	nFrames     int64
	runningTime time.Duration

	mu      sync.Mutex
	pattern Pattern

	// Accessed on the window thread.
	painter  painter
	painted  Pattern
	download target
	free     []target
	released bool
}

// New returns a stopped source. Call Start and SetCaps before Fill.
func New(opts ...Option) *Src {
	s := &Src{}
	for _, o := range opts {
		o(&s.cnf)
	}
	s.pattern = s.cnf.pattern
	return s
}

// SetPattern changes the pattern from the next frame on. It is safe for
// concurrent use.
func (s *Src) SetPattern(p Pattern) {
	s.mu.Lock()
	s.pattern = p
	s.mu.Unlock()
}

// Pattern returns the current pattern.
func (s *Src) Pattern() Pattern {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pattern
}

// IsLive reports whether frames are timestamped against the clock.
func (s *Src) IsLive() bool {
	return s.cnf.live
}

// Context returns the context frames are rendered with, or nil while
// the source is not negotiated.
func (s *Src) Context() *gl.Context {
	return s.ctx
}

// Info returns the negotiated stream info.
func (s *Src) Info() video.Info {
	return s.info
}

// Start resets the frame counter. SetCaps must be called before the
// first Fill.
func (s *Src) Start() error {
	s.runningTime = 0
	s.nFrames = 0
	s.negotiated = false
	return nil
}

// SetCaps negotiates the output. Unset fields take the Fixate defaults.
// Only RGBA frames are produced.
func (s *Src) SetCaps(info video.Info) error {
	info = Fixate(info)
	if err := info.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrNotNegotiated, err)
	}
	if info.Format != video.FormatRGBA {
		return fmt.Errorf("%w: unsupported format %v", ErrNotNegotiated, info.Format)
	}
	ctx, err := s.ensureContext()
	if err != nil {
		return err
	}
	if s.negotiated && s.info != info {
		s.releaseTargets(ctx)
	}
	if s.cnf.systemMemory {
		pool, err := video.NewBufferPool(info, 2, 0)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNotNegotiated, err)
		}
		s.pool = pool
	}
	s.info = info
	s.negotiated = true
	log.For("testsrc").Debug("caps set", "info", info, "pattern", s.Pattern())
	return nil
}

func (s *Src) ensureContext() (*gl.Context, error) {
	if s.ctx != nil {
		return s.ctx, nil
	}
	ctx := s.cnf.context
	if ctx == nil {
		c, err := gl.NewContext(gl.NewDisplay(s.cnf.displayName), s.cnf.ctxOpts...)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSetup, err)
		}
		ctx = c
	}
	if err := ctx.Create(); err != nil {
		if ctx != s.cnf.context {
			ctx.Destroy()
		}
		return nil, fmt.Errorf("%w: %w", ErrSetup, err)
	}
	if err := ctx.ThreadAdd(func(gpu.Device) { s.released = false }); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSetup, err)
	}
	s.ctx = ctx
	return ctx, nil
}

// Fill renders the next frame. It returns a flow error with FlowEOS after
// the only frame of a stream with a zero frame rate.
func (s *Src) Fill() (*video.Buffer, error) {
	if !s.negotiated || s.ctx == nil {
		return nil, video.NewFlowError(video.FlowNotNegotiated, ErrNotNegotiated)
	}
	info := s.info
	if info.FPSN == 0 && s.nFrames == 1 {
		return nil, video.NewFlowError(video.FlowEOS, nil)
	}
	state := frameState{n: s.nFrames, t: s.runningTime, size: image.Pt(info.Width, info.Height)}
	pattern := s.Pattern()

	var (
		out  *video.Buffer
		ferr error
	)
	ctx := s.ctx
	err := ctx.ThreadAdd(func(dev gpu.Device) {
		out, ferr = s.render(ctx, dev, pattern, state)
	})
	if err == nil {
		err = ferr
	}
	if err != nil {
		ctx.SetError("failed to draw pattern: %v", err)
		log.For("testsrc").Error("fill failed", "pattern", pattern, "err", err)
		return nil, video.NewFlowError(video.FlowNotNegotiated, err)
	}

	out.PTS = s.cnf.offset + s.runningTime
	out.Offset = s.nFrames
	s.nFrames++
	out.OffsetEnd = s.nFrames
	var next time.Duration
	if info.FPSN != 0 {
		next = info.FrameTime(s.nFrames)
		out.Duration = next - s.runningTime
	} else {
		next = s.cnf.offset
		out.Duration = video.TimeNone
	}
	s.runningTime = next
	return out, nil
}

// render runs on the window thread.
func (s *Src) render(ctx *gl.Context, dev gpu.Device, pattern Pattern, f frameState) (*video.Buffer, error) {
	if s.painter == nil || s.painted != pattern {
		if s.painter != nil {
			s.painter.release()
			s.painter = nil
		}
		p, err := newPainter(dev, pattern)
		if err != nil {
			return nil, err
		}
		s.painter, s.painted = p, pattern
	}

	var t target
	if s.pool != nil {
		if s.download.fbo == nil {
			d, err := newTarget(dev, f.size)
			if err != nil {
				return nil, err
			}
			s.download = d
		}
		t = s.download
	} else {
		var err error
		if t, err = s.target(dev, f.size); err != nil {
			return nil, err
		}
	}

	dev.BindFramebuffer(t.fbo)
	dev.Viewport(0, 0, f.size.X, f.size.Y)
	s.painter.paint(dev, f)
	dev.BindFramebuffer(nil)
	if err := dev.Err(); err != nil {
		if s.pool == nil {
			s.free = append(s.free, t)
		}
		return nil, err
	}

	if s.pool == nil {
		out := video.NewBuffer(s.info)
		out.Texture = t.tex
		out.SetRelease(func(*video.Buffer) { s.recycle(ctx, t) })
		return out, nil
	}
	img, err := dev.ReadPixels(t.fbo, image.Rectangle{Max: f.size})
	if err != nil {
		return nil, err
	}
	out, err := s.pool.Acquire()
	if err != nil {
		return nil, err
	}
	copy(out.Image.(*image.RGBA).Pix, img.Pix)
	return out, nil
}

func newTarget(dev gpu.Device, size image.Point) (target, error) {
	tex, err := dev.NewTexture(gpu.NewTextureDesc(gputypes.TextureFormatRGBA8Unorm, size.X, size.Y))
	if err != nil {
		return target{}, err
	}
	fbo, err := dev.NewFramebuffer(tex)
	if err != nil {
		tex.Release()
		return target{}, err
	}
	return target{tex: tex, fbo: fbo}, nil
}

func (s *Src) target(dev gpu.Device, size image.Point) (target, error) {
	for n := len(s.free); n > 0; n = len(s.free) {
		t := s.free[n-1]
		s.free = s.free[:n-1]
		if t.tex.Size() == size {
			return t, nil
		}
		t.release()
	}
	return newTarget(dev, size)
}

func (s *Src) recycle(ctx *gl.Context, t target) {
	ctx.ThreadAddAsync(func(gpu.Device) {
		if s.released {
			t.release()
			return
		}
		s.free = append(s.free, t)
	})
}

// releaseTargets frees the render targets. Textures still held by
// downstream are freed when they are returned.
func (s *Src) releaseTargets(ctx *gl.Context) {
	ctx.ThreadAdd(func(gpu.Device) {
		for _, t := range s.free {
			t.release()
		}
		s.free = nil
		if s.download.fbo != nil {
			s.download.release()
			s.download = target{}
		}
	})
}

// Seek moves the stream to the frame that starts before t.
func (s *Src) Seek(t time.Duration) {
	if s.info.FPSN != 0 {
		s.nFrames = s.info.FrameAt(t)
		s.runningTime = s.info.FrameTime(s.nFrames)
	} else {
		s.nFrames = 0
		s.runningTime = 0
	}
	log.For("testsrc").Debug("seek", "time", t, "frame", s.nFrames)
}

// Times returns the interval in which a live source produced buf. Non-live
// sources return TimeNone for both.
func (s *Src) Times(buf *video.Buffer) (start, end time.Duration) {
	if !s.cnf.live || buf.PTS == video.TimeNone {
		return video.TimeNone, video.TimeNone
	}
	start = buf.PTS
	if buf.Duration == video.TimeNone {
		return start, video.TimeNone
	}
	return start, start + buf.Duration
}

// Stop releases the painter and the render targets, then the context if
// the source created it.
func (s *Src) Stop() {
	ctx := s.ctx
	if ctx == nil {
		return
	}
	ctx.ThreadAdd(func(gpu.Device) {
		if s.painter != nil {
			s.painter.release()
			s.painter = nil
		}
		for _, t := range s.free {
			t.release()
		}
		s.free = nil
		if s.download.fbo != nil {
			s.download.release()
			s.download = target{}
		}
		s.released = true
	})
	s.pool = nil
	s.negotiated = false
	s.ctx = nil
	if ctx != s.cnf.context {
		ctx.Destroy()
	}
	log.For("testsrc").Debug("stopped")
}
