// SPDX-License-Identifier: Unlicense OR MIT

// Package gl ties a graphics device to a window. The device lives on the
// window thread and is reached through ThreadAdd.
package gl

import (
	"errors"
	"fmt"
	"image"
	"os"
	"runtime"
	"sync"

	"github.com/luisbg/gst-plugins-bad/gpu"
	"github.com/luisbg/gst-plugins-bad/gpu/soft"
	"github.com/luisbg/gst-plugins-bad/internal/log"
	"github.com/luisbg/gst-plugins-bad/internal/rendezvous"
	"github.com/luisbg/gst-plugins-bad/window"
)

// EnvDisplay names the environment variable with the default display.
const EnvDisplay = "GLSINK_DISPLAY"

var (
	// ErrSetup reports a failure to create the context or its window.
	ErrSetup = errors.New("gl: context setup failed")
	// ErrNotRunning is returned when the context thread is not running.
	ErrNotRunning = errors.New("gl: context is not running")
)

// Display is a connection to a display server.
type Display struct {
	name string
}

// NewDisplay opens the named display. An empty name selects the display
// from the environment.
func NewDisplay(name string) *Display {
	if name == "" {
		name = os.Getenv(EnvDisplay)
	}
	return &Display{name: name}
}

// Name returns the display name, possibly empty.
func (d *Display) Name() string {
	return d.name
}

// DeviceFunc creates the device of a context. It runs on the window
// thread.
type DeviceFunc func(surface image.Point) (gpu.Device, error)

// SoftDevice creates a strict software device.
func SoftDevice(surface image.Point) (gpu.Device, error) {
	return soft.New(soft.Options{Size: surface, Strict: true}), nil
}

// Option configures a Context.
type Option func(c *config)

type config struct {
	device  DeviceFunc
	windows []window.Option
}

// WithDevice replaces the device constructor.
func WithDevice(f DeviceFunc) Option {
	return func(c *config) { c.device = f }
}

// WithWindowOptions passes options to the window.
func WithWindowOptions(opts ...window.Option) Option {
	return func(c *config) { c.windows = append(c.windows, opts...) }
}

// Context is a graphics context and its window thread.
type Context struct {
	display *Display
	win     *window.Window
	newDev  DeviceFunc

	// dev is only accessed on the window thread.
	dev gpu.Device

	mu      sync.Mutex
	err     string
	created bool
	done    chan struct{}

	destroyOnce sync.Once
}

// NewContext creates a context and its window. Call Create to start it.
func NewContext(display *Display, options ...Option) (*Context, error) {
	cnf := config{device: SoftDevice}
	for _, o := range options {
		o(&cnf)
	}
	w, err := window.New(cnf.windows...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSetup, err)
	}
	return &Context{
		display: display,
		win:     w,
		newDev:  cnf.device,
		done:    make(chan struct{}),
	}, nil
}

// Create starts the window thread, creates the device on it and returns
// once the window loop is dispatching.
func (c *Context) Create() error {
	c.mu.Lock()
	if c.created {
		c.mu.Unlock()
		return nil
	}
	c.created = true
	c.mu.Unlock()

	var ready rendezvous.Once[error]
	go c.thread(&ready)
	if err := ready.Wait(); err != nil {
		<-c.done
		log.For("gl").Error("context creation failed", "err", err)
		return err
	}
	log.For("gl").Info("context created", "display", c.display.Name(), "backend", c.win.Backend())
	return nil
}

func (c *Context) thread(ready *rendezvous.Once[error]) {
	defer close(c.done)
	// The device must be released on the thread that created it, after
	// the window loop returned.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := c.win.Open(); err != nil {
		c.win.Close()
		ready.Fire(fmt.Errorf("%w: %v", ErrSetup, err))
		return
	}
	width, height := c.win.SurfaceDimensions()
	dev, err := c.newDev(image.Pt(width, height))
	if err != nil {
		c.win.Close()
		ready.Fire(fmt.Errorf("%w: %v", ErrSetup, err))
		return
	}
	c.dev = dev
	c.win.SetContext(c)
	c.win.SendAsync(func() { ready.Fire(nil) }, func() { ready.Fire(ErrSetup) })
	if err := c.win.Run(); err != nil {
		ready.Fire(fmt.Errorf("%w: %v", ErrSetup, err))
	}
	dev.Release()
	c.dev = nil
	if err := c.win.Close(); err != nil {
		log.For("gl").Warn("window close", "err", err)
	}
	log.For("gl").Info("context destroyed")
}

// Window returns the window of c.
func (c *Context) Window() *window.Window {
	return c.win
}

// Display returns the display c was created for.
func (c *Context) Display() *Display {
	return c.display
}

// Device returns the device. It must only be used on the window thread.
func (c *Context) Device() gpu.Device {
	return c.dev
}

// ThreadAdd runs f on the window thread with the device and waits for it.
func (c *Context) ThreadAdd(f func(dev gpu.Device)) error {
	if !c.win.Send(func() { f(c.dev) }) {
		return ErrNotRunning
	}
	return nil
}

// ThreadAddAsync queues f on the window thread. f is dropped if the
// thread has stopped.
func (c *Context) ThreadAddAsync(f func(dev gpu.Device)) {
	c.win.SendAsync(func() { f(c.dev) }, nil)
}

// SetError records a description of the last error.
func (c *Context) SetError(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	c.mu.Lock()
	c.err = msg
	c.mu.Unlock()
	log.For("gl").Debug("context error set", "err", msg)
}

// Error returns the description recorded by SetError.
func (c *Context) Error() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// SwapBuffers presents the surface. Called on the window thread.
func (c *Context) SwapBuffers() {
	if c.dev == nil {
		return
	}
	if err := c.dev.Present(); err != nil {
		log.For("gl").Warn("present failed", "err", err)
		return
	}
	p, ok := c.win.Driver().(window.ImagePresenter)
	if !ok {
		return
	}
	img, err := c.dev.ReadPixels(nil, image.Rectangle{Max: c.dev.Surface()})
	if err != nil {
		log.For("gl").Warn("surface readback failed", "err", err)
		return
	}
	p.PresentImage(img)
}

// SyncSurface resizes the default framebuffer to the window surface.
func (c *Context) SyncSurface(width, height int) {
	if c.dev == nil || width < 1 || height < 1 {
		return
	}
	if sz := image.Pt(width, height); c.dev.Surface() != sz {
		c.dev.ResizeSurface(sz)
	}
}

// Destroy stops the window thread and waits until it released the
// device and the window. Called from the window thread it only stops
// the loop.
func (c *Context) Destroy() {
	c.destroyOnce.Do(func() {
		c.mu.Lock()
		created := c.created
		c.mu.Unlock()
		if !created {
			c.win.Close()
			return
		}
		c.win.Quit()
		if c.win.IsWindowThread() {
			return
		}
		<-c.done
	})
}
