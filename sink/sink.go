// SPDX-License-Identifier: Unlicense OR MIT

/*
Package sink implements a video sink that renders frames in a window
through the graphics context of the window thread.

Frames arrive on a streaming goroutine in two steps: Prepare uploads and
converts the frame to an RGBA texture, ShowFrame makes it the frame to
display and asks the window to redraw. The draw callback runs on the
window thread and always draws the latest shown frame. Expose redraws it
without a new frame.

The display state shared with the window thread is kept behind a single
mutex that is never held across graphics calls or window requests.
*/
package sink

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/luisbg/gst-plugins-bad/gl"
	"github.com/luisbg/gst-plugins-bad/gpu"
	"github.com/luisbg/gst-plugins-bad/internal/log"
	"github.com/luisbg/gst-plugins-bad/navigation"
	"github.com/luisbg/gst-plugins-bad/upload"
	"github.com/luisbg/gst-plugins-bad/video"
	"github.com/luisbg/gst-plugins-bad/window"
)

var (
	// ErrNotNegotiated is returned for frames received before the
	// stream format is set.
	ErrNotNegotiated = errors.New("sink: not negotiated")
	// ErrSetup reports a failure to create the context or the window.
	ErrSetup = errors.New("sink: failed to create GL context")
	// ErrWindowClosed is returned by ShowFrame after the window was closed.
	ErrWindowClosed = errors.New("sink: window closed")
	// ErrShader reports that the redisplay program is not usable.
	ErrShader = errors.New("sink: redisplay shader unavailable")
)

// shader states
const (
	shaderNone int32 = iota
	shaderReady
	shaderFailed
)

// Sink renders video frames in a window.
type Sink struct {
	cnf config

	handleEvents atomic.Bool
	newWindowID  atomic.Uintptr
	toQuit       atomic.Bool
	shader       atomic.Int32
	// callbacks counts the window callbacks installed by the sink.
	callbacks atomic.Int32
	drawn     atomic.Uint64

	ctxMu    sync.Mutex
	ctx      *gl.Context
	windowID uintptr
	rebinds  int

	// Streaming goroutine state.
	negotiated bool
	uploader   *upload.Uploader
	converter  *upload.Converter
	pool       *video.BufferPool
	nextTex    uint32
	nextBuffer *video.Buffer
	keyID      window.ListenerID
	mouseID    window.ListenerID

	mu         sync.Mutex
	info       video.Info
	redisplay  uint32
	stored     *video.Buffer
	capsChange bool
	// width and height are the display size of the video.
	width, height    int
	windowW, windowH int

	// Window thread state.
	quad *gpu.Quad
	prog gpu.Program
}

// New returns a sink. The context and window are created with the first
// negotiated format.
func New(options ...Option) *Sink {
	s := &Sink{cnf: defaultConfig()}
	for _, o := range options {
		o(&s.cnf)
	}
	s.handleEvents.Store(s.cnf.handleEvents)
	return s
}

func (s *Sink) context() *gl.Context {
	s.ctxMu.Lock()
	defer s.ctxMu.Unlock()
	return s.ctx
}

// Context returns the context in use, or nil before the first format
// and after Stop.
func (s *Sink) Context() *gl.Context {
	return s.context()
}

// DisplaySize returns the size the video is shown at, before fitting it
// to the window.
func (s *Sink) DisplaySize() (width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height
}

// RedisplayTexture returns the ID of the texture drawn on redraws, or 0
// when there is nothing to show.
func (s *Sink) RedisplayTexture() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.redisplay
}

// SetCaps sets the stream format. It creates the context on first use
// and replaces the upload and convert stages.
func (s *Sink) SetCaps(info video.Info) error {
	if err := info.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrNotNegotiated, err)
	}
	size, ok := video.DisplaySize(info, s.cnf.parN, s.cnf.parD)
	if !ok {
		return fmt.Errorf("%w: no display ratio for %v", ErrNotNegotiated, info)
	}
	s.mu.Lock()
	s.width, s.height = size.X, size.Y
	s.info = info
	s.mu.Unlock()
	log.For("sink").Debug("scaling", "video", info, "display", size)

	ctx, err := s.ensureSetup()
	if err != nil {
		return err
	}
	pool, err := video.NewBufferPool(info, 2, 0)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotNegotiated, err)
	}
	s.releaseStages(ctx)
	s.pool = pool
	s.uploader = upload.NewUploader(ctx, info)
	s.converter = upload.NewConverter(ctx)
	s.negotiated = true

	s.mu.Lock()
	s.capsChange = true
	s.mu.Unlock()
	return nil
}

// Start prepares the sink for streaming after a window close.
func (s *Sink) Start() {
	s.toQuit.Store(false)
	log.For("sink").Info("started")
}

// Prepare uploads buf and converts it for display. The result is shown
// by the next ShowFrame.
func (s *Sink) Prepare(buf *video.Buffer) error {
	if !s.negotiated {
		return video.NewFlowError(video.FlowNotNegotiated, ErrNotNegotiated)
	}
	ctx, err := s.ensureSetup()
	if err != nil {
		return video.NewFlowError(video.FlowNotNegotiated, err)
	}
	var out *video.Buffer
	var perr error
	if err := ctx.ThreadAdd(func(dev gpu.Device) {
		up, err := s.uploader.Upload(dev, buf)
		if err != nil {
			perr = err
			return
		}
		out, perr = s.converter.Convert(dev, up)
		up.Unref()
	}); err != nil {
		perr = err
	}
	if perr != nil {
		log.For("sink").Error("failed to upload buffer", "err", perr)
		return video.NewFlowError(video.FlowError, perr)
	}
	s.nextTex = out.Texture.ID()
	s.replaceNext(out)
	s.reconcile(ctx)
	return nil
}

func (s *Sink) replaceNext(b *video.Buffer) {
	old := s.nextBuffer
	s.nextBuffer = b
	if old != nil {
		old.Unref()
	}
}

// ShowFrame displays the frame prepared last. buf is the frame passed to
// Prepare.
func (s *Sink) ShowFrame(buf *video.Buffer) error {
	ctx := s.context()
	if ctx == nil || s.nextBuffer == nil {
		return video.NewFlowError(video.FlowNotNegotiated, ErrNotNegotiated)
	}
	if buf != nil {
		log.For("sink").Debug("show frame", "texture", s.nextTex, "pts", buf.PTS)
	}

	s.mu.Lock()
	s.redisplay = s.nextTex
	old := s.stored
	s.stored = s.nextBuffer.Ref()
	s.mu.Unlock()

	err := s.redisplayFrame(ctx)
	if old != nil {
		old.Unref()
	}
	if err != nil {
		log.For("sink").Error("redisplay failed", "err", err)
		return video.NewFlowError(video.FlowError, err)
	}
	if s.toQuit.Load() {
		err := fmt.Errorf("%w: %s", ErrWindowClosed, ctx.Error())
		log.For("sink").Error("output window closed", "err", err)
		return video.NewFlowError(video.FlowError, err)
	}
	return nil
}

// redisplayFrame asks the window to draw the current frame. It creates
// the redisplay program on first use.
func (s *Sink) redisplayFrame(ctx *gl.Context) error {
	win := ctx.Window()
	if win.IsRunning() {
		if err := s.ensureShader(ctx); err != nil {
			return err
		}
		w, h := s.DisplaySize()
		win.SetPreferredSize(w, h)
		win.Draw()
	}
	if !win.IsRunning() {
		return fmt.Errorf("%w: %s", gl.ErrNotRunning, ctx.Error())
	}
	return nil
}

func (s *Sink) ensureShader(ctx *gl.Context) error {
	if s.shader.Load() == shaderNone {
		if err := ctx.ThreadAdd(func(dev gpu.Device) { s.initRedisplay(ctx, dev) }); err != nil {
			return err
		}
	}
	if s.shader.Load() == shaderReady {
		return nil
	}
	if s.cnf.clientDraw != nil {
		// Frames are left to the client draw hook.
		return nil
	}
	return fmt.Errorf("%w: %s", ErrShader, ctx.Error())
}

// Expose redraws the current frame. It does nothing until the sink
// renders into a window handle set with SetWindowHandle.
func (s *Sink) Expose() {
	s.ctxMu.Lock()
	ctx, id := s.ctx, s.windowID
	s.ctxMu.Unlock()
	if ctx == nil || id == 0 {
		return
	}
	s.reconcile(ctx)
	if err := s.redisplayFrame(ctx); err != nil {
		log.For("sink").Debug("expose", "err", err)
	}
}

// SetWindowHandle requests rendering into the native window handle. It
// takes effect at the next Prepare or Expose.
func (s *Sink) SetWindowHandle(handle uintptr) {
	log.For("sink").Debug("set window handle", "handle", handle)
	s.newWindowID.Store(handle)
}

// reconcile binds the requested window handle if it changed. The handle
// is set on the window thread once the window runs.
func (s *Sink) reconcile(ctx *gl.Context) {
	s.ctxMu.Lock()
	id := s.newWindowID.Load()
	if s.windowID == id {
		s.ctxMu.Unlock()
		return
	}
	s.windowID = id
	s.rebinds++
	s.ctxMu.Unlock()

	win := ctx.Window()
	if err := ctx.ThreadAdd(func(gpu.Device) { win.SetWindowHandle(id) }); err != nil {
		win.SetWindowHandle(id)
	}
	log.For("sink").Debug("window handle bound", "handle", id)
}

// HandleEvents sets whether the window relays input events.
func (s *Sink) HandleEvents(enable bool) {
	s.handleEvents.Store(enable)
	if ctx := s.context(); ctx != nil {
		ctx.Window().HandleEvents(enable)
	}
}

// SendEvent forwards a navigation event with pointer coordinates mapped
// from the window surface to the video size.
func (s *Sink) SendEvent(e navigation.Event) {
	ctx := s.context()
	if ctx == nil {
		return
	}
	vw, vh := s.DisplaySize()
	sw, sh := ctx.Window().SurfaceDimensions()
	e = navigation.Scale(e, sw, sh, vw, vh)
	log.For("sink").Debug("navigation event", "event", e)
	if s.cnf.nav != nil {
		s.cnf.nav.SendEvent(e)
	}
}

// Drain drops the displayed and prepared frames. Redraws draw nothing
// until the next ShowFrame.
func (s *Sink) Drain() {
	s.mu.Lock()
	s.redisplay = 0
	stored := s.stored
	s.stored = nil
	s.mu.Unlock()
	if stored != nil {
		stored.Unref()
	}
	s.replaceNext(nil)
}

// Times returns the interval during which buf is displayed. Unknown
// ends are TimeNone.
func (s *Sink) Times(buf *video.Buffer) (start, end time.Duration) {
	start, end = video.TimeNone, video.TimeNone
	if buf.PTS == video.TimeNone {
		return start, end
	}
	start = buf.PTS
	if buf.Duration != video.TimeNone {
		return start, start + buf.Duration
	}
	s.mu.Lock()
	info := s.info
	s.mu.Unlock()
	if info.FPSN > 0 {
		end = start + info.FrameDuration()
	}
	return start, end
}

// ProposeAllocation returns a pool for frames of info. The sink holds on
// to the last frame, so at least two buffers are needed.
func (s *Sink) ProposeAllocation(info video.Info) (*video.BufferPool, error) {
	if _, err := s.ensureSetup(); err != nil {
		return nil, err
	}
	if err := info.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotNegotiated, err)
	}
	if s.pool != nil && s.pool.Info() == info {
		return s.pool, nil
	}
	return video.NewBufferPool(info, 2, 0)
}

// Stop drops the frames, releases the graphics resources on the window
// thread, detaches from the window and releases the context.
func (s *Sink) Stop() {
	s.mu.Lock()
	s.redisplay = 0
	stored := s.stored
	s.stored = nil
	s.mu.Unlock()
	if stored != nil {
		stored.Unref()
	}
	s.replaceNext(nil)

	s.ctxMu.Lock()
	ctx := s.ctx
	s.ctx = nil
	// The requested handle is kept for the next start.
	s.windowID = 0
	s.ctxMu.Unlock()

	if ctx != nil {
		s.releaseStages(ctx)
	}
	s.uploader, s.converter = nil, nil
	s.pool = nil
	s.negotiated = false

	s.mu.Lock()
	s.width, s.height = 1, 1
	s.windowW, s.windowH = 0, 0
	s.mu.Unlock()

	if ctx != nil {
		win := ctx.Window()
		if err := ctx.ThreadAdd(s.cleanupGLThread); err != nil {
			// The loop exited and the device went away with the
			// redisplay objects.
			log.For("sink").Debug("cleanup skipped", "err", err)
			s.prog, s.quad = nil, nil
			s.shader.Store(shaderNone)
		}
		win.SetResizeCallback(nil, nil)
		win.SetDrawCallback(nil, nil)
		win.SetCloseCallback(nil, nil)
		win.Disconnect(s.keyID)
		win.Disconnect(s.mouseID)
		if ctx != s.cnf.context {
			ctx.Destroy()
		}
	}
	log.For("sink").Info("stopped")
}

// releaseStages releases the upload and convert stages on the window
// thread.
func (s *Sink) releaseStages(ctx *gl.Context) {
	u, c := s.uploader, s.converter
	if u == nil && c == nil {
		return
	}
	err := ctx.ThreadAdd(func(gpu.Device) {
		if u != nil {
			u.Release()
		}
		if c != nil {
			c.Release()
		}
	})
	if err != nil {
		log.For("sink").Debug("stages not released", "err", err)
	}
}

// ensureSetup creates and starts the context and installs the window
// callbacks, once.
func (s *Sink) ensureSetup() (*gl.Context, error) {
	if ctx := s.context(); ctx != nil {
		return ctx, nil
	}
	ctx := s.cnf.context
	if ctx == nil {
		c, err := gl.NewContext(gl.NewDisplay(s.cnf.displayName), s.cnf.ctxOpts...)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSetup, err)
		}
		ctx = c
	}
	s.ctxMu.Lock()
	bound := s.windowID
	s.ctxMu.Unlock()
	if bound == 0 && s.newWindowID.Load() == 0 && s.cnf.prepareID != nil {
		s.cnf.prepareID()
	}
	s.reconcile(ctx)

	if err := ctx.Create(); err != nil {
		if ctx != s.cnf.context {
			ctx.Destroy()
		}
		log.For("sink").Error("context creation failed", "err", err)
		return nil, fmt.Errorf("%w: %w", ErrSetup, err)
	}

	win := ctx.Window()
	win.HandleEvents(s.handleEvents.Load())
	keyID := win.ConnectKey(func(e navigation.KeyEvent) { s.SendEvent(e) })
	mouseID := win.ConnectMouse(func(e navigation.MouseEvent) { s.SendEvent(e) })
	s.keyID, s.mouseID = keyID, mouseID

	s.callbacks.Add(3)
	release := func() { s.callbacks.Add(-1) }
	win.SetResizeCallback(func(w, h int) { s.onResize(ctx, w, h) }, release)
	win.SetDrawCallback(func() { s.onDraw(ctx) }, release)
	win.SetCloseCallback(func() { s.onClose(ctx, keyID, mouseID) }, release)

	s.ctxMu.Lock()
	s.ctx = ctx
	s.ctxMu.Unlock()
	log.For("sink").Info("context ready", "display", ctx.Display().Name(), "backend", win.Backend())
	return ctx, nil
}
