// SPDX-License-Identifier: Unlicense OR MIT

// Package runloop implements a message loop bound to a single locked OS
// thread. Work is posted from any goroutine and executed in FIFO order on
// the thread that called Run.
package runloop

import (
	"errors"
	"runtime"
	"sync"

	"github.com/luisbg/gst-plugins-bad/internal/log"
	"github.com/luisbg/gst-plugins-bad/internal/rendezvous"
)

var (
	// ErrRunning is returned by Close while Run is executing.
	ErrRunning = errors.New("runloop: loop is running")
	// ErrReused is returned by Run when the loop already ran or was closed.
	ErrReused = errors.New("runloop: loop cannot be run twice")
)

type state uint8

const (
	stateIdle state = iota
	stateRunning
	// stateQuit is set by Quit; Run returns as soon as it observes it.
	stateQuit
	stateDone
)

type message struct {
	fn      func()
	destroy func()
}

func (m message) run() {
	if m.fn != nil {
		m.fn()
	}
	m.release()
}

func (m message) release() {
	if m.destroy != nil {
		m.destroy()
	}
}

// Loop is a thread-owned message queue. Create it with New.
type Loop struct {
	mu     sync.Mutex
	queue  []message
	state  state
	owner  int
	notify notifier
	closed bool
}

type notifier interface {
	wake()
	wait()
	close() error
}

// New allocates the loop wakeup resources.
func New() (*Loop, error) {
	n, err := newNotifier()
	if err != nil {
		return nil, err
	}
	return &Loop{notify: n}, nil
}

// Invoke queues fn for execution on the loop thread and returns at once.
// destroy, if not nil, runs after fn. When the loop has stopped, fn is
// dropped and only destroy runs, on the calling goroutine.
func (l *Loop) Invoke(fn func(), destroy func()) {
	if !l.post(message{fn: fn, destroy: destroy}) {
		message{destroy: destroy}.release()
	}
}

// InvokeSync runs fn on the loop thread and blocks until it has returned.
// Called from the loop thread itself, fn runs immediately. InvokeSync
// reports false if the loop stopped before fn could run.
func (l *Loop) InvokeSync(fn func()) bool {
	if l.IsOwner() {
		fn()
		return true
	}
	var done rendezvous.Once[bool]
	m := message{
		fn:      func() { fn(); done.Fire(true) },
		destroy: func() { done.Fire(false) },
	}
	if !l.post(m) {
		return false
	}
	return done.Wait()
}

func (l *Loop) post(m message) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == stateDone {
		return false
	}
	l.queue = append(l.queue, m)
	l.notify.wake()
	return true
}

// Run locks the calling goroutine to its OS thread and dispatches messages
// until Quit. A loop runs at most once.
func (l *Loop) Run() error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	l.mu.Lock()
	switch l.state {
	case stateIdle:
		l.state = stateRunning
	case stateQuit:
		l.mu.Unlock()
		l.finish()
		return nil
	default:
		l.mu.Unlock()
		return ErrReused
	}
	l.owner = threadID()
	l.mu.Unlock()
	log.For("runloop").Debug("loop started", "thread", l.owner)

	for l.dispatch() {
	}
	l.finish()
	log.For("runloop").Debug("loop exited")
	return nil
}

// dispatch waits for and runs one batch of messages. It reports whether
// the loop should keep going.
func (l *Loop) dispatch() bool {
	l.mu.Lock()
	for len(l.queue) == 0 && l.state == stateRunning {
		l.mu.Unlock()
		l.notify.wait()
		l.mu.Lock()
	}
	if l.state != stateRunning {
		l.mu.Unlock()
		return false
	}
	batch := l.queue
	l.queue = nil
	l.mu.Unlock()

	for i, m := range batch {
		m.run()
		l.mu.Lock()
		quit := l.state != stateRunning
		if quit {
			// Requeue the rest in order so finish releases them.
			l.queue = append(batch[i+1:len(batch):len(batch)], l.queue...)
		}
		l.mu.Unlock()
		if quit {
			return false
		}
	}
	return true
}

// finish marks the loop done and releases messages that never ran.
func (l *Loop) finish() {
	l.mu.Lock()
	l.state = stateDone
	l.owner = 0
	pending := l.queue
	l.queue = nil
	l.mu.Unlock()
	for _, m := range pending {
		m.release()
	}
}

// Quit asks the loop to stop. It is safe to call from any goroutine, any
// number of times. Quit before Run makes Run return immediately.
func (l *Loop) Quit() {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.state {
	case stateIdle, stateRunning:
		l.state = stateQuit
		l.notify.wake()
	}
}

// Close releases pending messages and the wakeup resources. It fails with
// ErrRunning while Run has not returned.
func (l *Loop) Close() error {
	l.mu.Lock()
	switch l.state {
	case stateRunning:
		l.mu.Unlock()
		return ErrRunning
	case stateQuit:
		if l.owner != 0 {
			l.mu.Unlock()
			return ErrRunning
		}
	}
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()
	l.finish()
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.notify.close()
}

// Running reports whether Run is dispatching messages.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state == stateRunning
}

// IsOwner reports whether the caller executes on the loop thread.
func (l *Loop) IsOwner() bool {
	l.mu.Lock()
	owner := l.owner
	l.mu.Unlock()
	return owner != 0 && owner == threadID()
}

// ThreadID returns a non-zero identifier of the calling thread. Where the
// platform has no thread IDs, it identifies the calling goroutine, which
// is equivalent for goroutines locked to their OS thread.
func ThreadID() int {
	return threadID()
}
