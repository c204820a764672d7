// SPDX-License-Identifier: Unlicense OR MIT

// Package window implements the video output window: a backend run-loop
// on a dedicated thread that owns the graphics context, the callbacks run
// on it, and a navigation loop that relays input events.
package window

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"

	"github.com/luisbg/gst-plugins-bad/internal/log"
	"github.com/luisbg/gst-plugins-bad/navigation"
)

// State of a Window.
type State uint8

const (
	Created State = iota
	Opened
	Running
	Quitting
	Closed
)

func (s State) String() string {
	switch s {
	case Created:
		return "Created"
	case Opened:
		return "Opened"
	case Running:
		return "Running"
	case Quitting:
		return "Quitting"
	case Closed:
		return "Closed"
	default:
		panic("invalid State")
	}
}

// ErrState is returned for operations invalid in the current state.
var ErrState = errors.New("window: invalid state")

// Swapper presents a drawn frame. The graphics context implements it.
type Swapper interface {
	SwapBuffers()
}

// ImagePresenter is implemented by drivers that display frames read
// back from the device. PresentImage runs on the loop thread.
type ImagePresenter interface {
	PresentImage(img *image.RGBA)
}

// SurfaceSyncer is implemented by contexts that track the surface size.
// SyncSurface runs on the window thread before each draw and resize.
type SurfaceSyncer interface {
	SyncSurface(width, height int)
}

type (
	DrawFunc   func()
	ResizeFunc func(width, height int)
	CloseFunc  func()
)

// slot holds a replaceable callback and the function releasing its
// captured state.
type slot[F any] struct {
	fn      F
	destroy func()
}

func (s *slot[F]) replace(fn F, destroy func()) {
	if s.destroy != nil {
		s.destroy()
	}
	s.fn, s.destroy = fn, destroy
}

// Option configures a Window.
type Option func(c *config)

type config struct {
	backend       string
	width, height int
}

// WithBackend selects the backend, taking precedence over the environment.
func WithBackend(name string) Option {
	return func(c *config) { c.backend = name }
}

// WithSize sets the initial preferred size.
func WithSize(width, height int) Option {
	return func(c *config) { c.width, c.height = width, height }
}

// Window is a video output window. Create it with New.
type Window struct {
	driver  Driver
	backend string

	mu      sync.Mutex
	state   State
	ran     bool
	runDone chan struct{}
	draw    slot[DrawFunc]
	resize  slot[ResizeFunc]
	close   slot[CloseFunc]
	context Swapper

	// pending is set while a Draw request is executing.
	pending atomic.Bool
	// drawing is set while the draw callback runs on the loop thread.
	drawing atomic.Bool

	events atomic.Bool
	nav    *navLoop
	lmu    sync.Mutex
	lnext  ListenerID
	lsts   map[ListenerID]listener
}

type callbacks struct {
	w *Window
}

// New creates a window with the backend chosen by options, then by the
// environment override, falling back to the dummy backend. The
// navigation loop is running when New returns.
func New(options ...Option) (*Window, error) {
	var cnf config
	for _, o := range options {
		o(&cnf)
	}
	choice := cnf.backend
	if choice == "" {
		choice = userChoice()
	}
	w := &Window{
		runDone: make(chan struct{}),
		lsts:    make(map[ListenerID]listener),
	}
	w.events.Store(true)
	d, name, err := newDriver(&callbacks{w: w}, choice)
	if err != nil {
		return nil, err
	}
	w.driver, w.backend = d, name
	if cnf.width > 0 && cnf.height > 0 {
		d.SetPreferredSize(cnf.width, cnf.height)
	}
	nav, err := startNav()
	if err != nil {
		return nil, err
	}
	w.nav = nav
	log.For("window").Info("window created", "backend", name)
	return w, nil
}

// Backend returns the name of the selected backend.
func (w *Window) Backend() string {
	return w.backend
}

// Driver returns the backend of w.
func (w *Window) Driver() Driver {
	return w.driver
}

// State returns the lifecycle state.
func (w *Window) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// IsRunning reports whether the loop is running.
func (w *Window) IsRunning() bool {
	return w.State() == Running
}

// Open allocates the loop resources.
func (w *Window) Open() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != Created {
		return fmt.Errorf("%w: open in state %v", ErrState, w.state)
	}
	if err := w.driver.Open(); err != nil {
		return fmt.Errorf("window: open: %w", err)
	}
	w.state = Opened
	return nil
}

// Run executes the loop on the calling thread until Quit. The calling
// thread owns the graphics context from now on. A window runs once.
func (w *Window) Run() error {
	w.mu.Lock()
	if w.state != Opened {
		st := w.state
		w.mu.Unlock()
		return fmt.Errorf("%w: run in state %v", ErrState, st)
	}
	w.state = Running
	w.ran = true
	w.mu.Unlock()

	log.For("window").Info("window running", "backend", w.backend)
	err := w.driver.Run()

	w.mu.Lock()
	if w.state == Running {
		w.state = Quitting
	}
	w.mu.Unlock()
	close(w.runDone)
	log.For("window").Info("window loop exited", "backend", w.backend)
	return err
}

// Quit stops the loop. It may be called from any goroutine, including
// the loop thread, and has no effect outside the Running state.
func (w *Window) Quit() {
	w.mu.Lock()
	if w.state != Running {
		w.mu.Unlock()
		return
	}
	w.state = Quitting
	w.mu.Unlock()
	w.driver.Quit()
}

// Close quits the loop if needed, waits for Run to return, releases the
// loop resources, runs the destroy functions of installed callbacks and
// stops the navigation loop.
func (w *Window) Close() error {
	w.mu.Lock()
	if w.state == Closed {
		w.mu.Unlock()
		return nil
	}
	if w.ran {
		select {
		case <-w.runDone:
		default:
			if w.driver.IsLoopThread() {
				w.mu.Unlock()
				return fmt.Errorf("%w: close from the window thread", ErrState)
			}
			w.mu.Unlock()
			w.Quit()
			<-w.runDone
			w.mu.Lock()
		}
	}
	opened := w.state != Created
	w.state = Closed
	w.draw.replace(nil, nil)
	w.resize.replace(nil, nil)
	w.close.replace(nil, nil)
	w.context = nil
	w.mu.Unlock()

	var err error
	if opened {
		err = w.driver.Close()
	}
	w.nav.stop()
	log.For("window").Info("window closed", "backend", w.backend)
	return err
}

// Send runs f on the window thread and blocks until it returned. It
// reports false if the loop exited before f could run.
func (w *Window) Send(f func()) bool {
	return w.driver.Send(f)
}

// SendAsync queues f on the window thread. destroy runs after f, or
// instead of it once the loop exited.
func (w *Window) SendAsync(f func(), destroy func()) {
	w.driver.SendAsync(f, destroy)
}

// IsWindowThread reports whether the caller runs on the window thread.
func (w *Window) IsWindowThread() bool {
	return w.driver.IsLoopThread()
}

// SetDrawCallback replaces the draw callback. The destroy function of the
// previous callback runs first.
func (w *Window) SetDrawCallback(fn DrawFunc, destroy func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.draw.replace(fn, destroy)
}

// SetResizeCallback replaces the resize callback.
func (w *Window) SetResizeCallback(fn ResizeFunc, destroy func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.resize.replace(fn, destroy)
}

// SetCloseCallback replaces the close callback.
func (w *Window) SetCloseCallback(fn CloseFunc, destroy func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.close.replace(fn, destroy)
}

// SetContext sets the context presenting frames after each draw.
func (w *Window) SetContext(ctx Swapper) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.context = ctx
}

// Draw requests a redraw and waits for it. While another Draw is
// executing the request is dropped: redraws are coalesced, not queued.
// Use Send for work that must run.
func (w *Window) Draw() {
	if !w.pending.CompareAndSwap(false, true) {
		return
	}
	defer w.pending.Store(false)
	w.DrawUnlocked()
}

// DrawUnlocked requests a redraw without the coalescing guard.
func (w *Window) DrawUnlocked() {
	if !w.IsRunning() {
		return
	}
	w.driver.Draw()
}

// SetWindowHandle makes the window render into the native window handle.
// Some backends need it before the first draw.
func (w *Window) SetWindowHandle(handle uintptr) {
	w.driver.SetWindowHandle(handle)
}

// SetPreferredSize is a size hint. Backends may ignore it.
func (w *Window) SetPreferredSize(width, height int) {
	w.driver.SetPreferredSize(width, height)
}

// SurfaceDimensions returns the size of the drawable surface.
func (w *Window) SurfaceDimensions() (width, height int) {
	return w.driver.SurfaceDimensions()
}

// HandleEvents sets whether input events are intercepted and relayed or
// left to the native window.
func (w *Window) HandleEvents(enable bool) {
	w.events.Store(enable)
	w.driver.HandleEvents(enable)
}

// Resize delivers a surface size change on the window thread, the way a
// backend reports a native resize.
func (w *Window) Resize(width, height int) bool {
	return w.driver.Send(func() {
		if s, ok := w.driver.(surfaceResizer); ok {
			s.resizeSurface(width, height)
		}
		w.syncSurface()
		w.onResize(width, height)
	})
}

// RequestClose delivers a close request on the window thread, the way a
// backend reports the user closing the native window.
func (w *Window) RequestClose() bool {
	return w.driver.Send(w.onClose)
}

type surfaceResizer interface {
	resizeSurface(width, height int)
}

func (w *Window) onDraw() {
	if !w.drawing.CompareAndSwap(false, true) {
		return
	}
	defer w.drawing.Store(false)
	w.syncSurface()
	w.mu.Lock()
	fn, ctx := w.draw.fn, w.context
	w.mu.Unlock()
	if fn != nil {
		fn()
	}
	if ctx != nil {
		ctx.SwapBuffers()
	}
}

func (w *Window) syncSurface() {
	w.mu.Lock()
	s, ok := w.context.(SurfaceSyncer)
	w.mu.Unlock()
	if ok {
		s.SyncSurface(w.driver.SurfaceDimensions())
	}
}

func (w *Window) onResize(width, height int) {
	w.mu.Lock()
	fn := w.resize.fn
	w.mu.Unlock()
	if fn != nil {
		fn(width, height)
	}
}

func (w *Window) onClose() {
	w.mu.Lock()
	fn := w.close.fn
	w.mu.Unlock()
	log.For("window").Info("close requested", "backend", w.backend)
	if fn != nil {
		fn()
	}
}

func (c *callbacks) Draw()                    { c.w.onDraw() }
func (c *callbacks) Resize(width, height int) { c.w.onResize(width, height) }
func (c *callbacks) CloseRequested()          { c.w.onClose() }

func (c *callbacks) Key(e navigation.KeyEvent) {
	c.w.QueueKeyEvent(e)
}

func (c *callbacks) Mouse(e navigation.MouseEvent) {
	c.w.QueueMouseEvent(e)
}
