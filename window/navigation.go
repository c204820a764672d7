// SPDX-License-Identifier: Unlicense OR MIT

package window

import (
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/luisbg/gst-plugins-bad/internal/log"
	"github.com/luisbg/gst-plugins-bad/internal/rendezvous"
	"github.com/luisbg/gst-plugins-bad/internal/runloop"
	"github.com/luisbg/gst-plugins-bad/navigation"
)

// ListenerID identifies a connected input listener.
type ListenerID uint64

type listener struct {
	key   func(navigation.KeyEvent)
	mouse func(navigation.MouseEvent)
}

// navLoop runs the input relay on its own thread.
type navLoop struct {
	loop     *runloop.Loop
	exited   chan struct{}
	stopOnce sync.Once
}

// startNav starts the navigation thread and returns once its loop is
// dispatching.
func startNav() (*navLoop, error) {
	l, err := runloop.New()
	if err != nil {
		return nil, err
	}
	n := &navLoop{loop: l, exited: make(chan struct{})}
	var started rendezvous.Once[struct{}]
	fire := func() { started.Fire(struct{}{}) }
	l.Invoke(fire, fire)
	go func() {
		defer close(n.exited)
		l.Run()
		if err := l.Close(); err != nil {
			log.For("window").Warn("navigation loop close", "err", err)
		}
		log.For("window").Debug("navigation loop exited")
	}()
	started.Wait()
	return n, nil
}

// stop quits the navigation loop and waits until its thread released
// the loop.
func (n *navLoop) stop() {
	n.stopOnce.Do(func() {
		n.loop.Quit()
		<-n.exited
	})
}

// ConnectKey registers a listener for key events. Listeners run on the
// navigation thread for queued events.
func (w *Window) ConnectKey(fn func(navigation.KeyEvent)) ListenerID {
	return w.connect(listener{key: fn})
}

// ConnectMouse registers a listener for mouse events.
func (w *Window) ConnectMouse(fn func(navigation.MouseEvent)) ListenerID {
	return w.connect(listener{mouse: fn})
}

func (w *Window) connect(l listener) ListenerID {
	w.lmu.Lock()
	defer w.lmu.Unlock()
	w.lnext++
	w.lsts[w.lnext] = l
	return w.lnext
}

// Disconnect removes a listener. Unknown ids are ignored.
func (w *Window) Disconnect(id ListenerID) {
	w.lmu.Lock()
	defer w.lmu.Unlock()
	delete(w.lsts, id)
}

func (w *Window) listeners() []listener {
	w.lmu.Lock()
	defer w.lmu.Unlock()
	ids := maps.Keys(w.lsts)
	slices.Sort(ids)
	ls := make([]listener, len(ids))
	for i, id := range ids {
		ls[i] = w.lsts[id]
	}
	return ls
}

// SendKeyEvent delivers e to the key listeners on the calling goroutine.
func (w *Window) SendKeyEvent(e navigation.KeyEvent) {
	for _, l := range w.listeners() {
		if l.key != nil {
			l.key(e)
		}
	}
}

// SendMouseEvent delivers e to the mouse listeners on the calling
// goroutine.
func (w *Window) SendMouseEvent(e navigation.MouseEvent) {
	for _, l := range w.listeners() {
		if l.mouse != nil {
			l.mouse(e)
		}
	}
}

// QueueKeyEvent relays e through the navigation loop. Events are dropped
// while event handling is disabled.
func (w *Window) QueueKeyEvent(e navigation.KeyEvent) {
	if !w.events.Load() {
		return
	}
	w.nav.loop.Invoke(func() { w.SendKeyEvent(e) }, nil)
}

// QueueMouseEvent relays e through the navigation loop.
func (w *Window) QueueMouseEvent(e navigation.MouseEvent) {
	if !w.events.Load() {
		return
	}
	w.nav.loop.Invoke(func() { w.SendMouseEvent(e) }, nil)
}

// SyncNavigation waits until the events queued so far were delivered.
func (w *Window) SyncNavigation() {
	w.nav.loop.InvokeSync(func() {})
}
