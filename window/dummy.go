// SPDX-License-Identifier: Unlicense OR MIT

package window

import (
	"sync"

	"github.com/luisbg/gst-plugins-bad/internal/runloop"
)

// dummy is the headless backend. Its surface is virtual: the size comes
// from the preferred size until a resize is delivered.
type dummy struct {
	cb   Callbacks
	loop *runloop.Loop

	mu      sync.Mutex
	handle  uintptr
	width   int
	height  int
	resized bool
}

func newDummy(cb Callbacks) (Driver, error) {
	return &dummy{cb: cb}, nil
}

func (d *dummy) Open() error {
	l, err := runloop.New()
	if err != nil {
		return err
	}
	d.loop = l
	return nil
}

func (d *dummy) Close() error {
	if d.loop == nil {
		return nil
	}
	return d.loop.Close()
}

func (d *dummy) Run() error {
	if d.loop == nil {
		return ErrState
	}
	return d.loop.Run()
}

func (d *dummy) Quit() {
	if d.loop != nil {
		d.loop.Quit()
	}
}

func (d *dummy) Send(f func()) bool {
	if d.loop == nil {
		return false
	}
	return d.loop.InvokeSync(f)
}

func (d *dummy) SendAsync(f func(), destroy func()) {
	if d.loop == nil {
		if destroy != nil {
			destroy()
		}
		return
	}
	d.loop.Invoke(f, destroy)
}

func (d *dummy) IsLoopThread() bool {
	return d.loop != nil && d.loop.IsOwner()
}

func (d *dummy) Draw() {
	d.Send(d.cb.Draw)
}

func (d *dummy) SetWindowHandle(handle uintptr) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handle = handle
}

// WindowHandle returns the handle set by SetWindowHandle.
func (d *dummy) WindowHandle() uintptr {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handle
}

func (d *dummy) SetPreferredSize(width, height int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.resized {
		d.width, d.height = width, height
	}
}

func (d *dummy) resizeSurface(width, height int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.width, d.height = width, height
	d.resized = true
}

func (d *dummy) SurfaceDimensions() (int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.width, d.height
}

func (d *dummy) HandleEvents(enable bool) {}
