// SPDX-License-Identifier: Unlicense OR MIT

// Package rendezvous implements a one-shot handoff between a thread that
// produces a value and one or more threads waiting for it.
package rendezvous

import "sync"

// Once is fired at most once. The zero value is ready to use but must not
// be copied after first use.
type Once[T any] struct {
	mu    sync.Mutex
	cond  *sync.Cond
	fired bool
	val   T
}

func (o *Once[T]) init() {
	if o.cond == nil {
		o.cond = sync.NewCond(&o.mu)
	}
}

// Fire stores v and wakes all waiters. Only the first call has an effect;
// it reports whether v was stored.
func (o *Once[T]) Fire(v T) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.init()
	if o.fired {
		return false
	}
	o.fired = true
	o.val = v
	o.cond.Broadcast()
	return true
}

// Fired reports whether Fire has been called.
func (o *Once[T]) Fired() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.fired
}

// Wait blocks until the value is fired and returns it.
func (o *Once[T]) Wait() T {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.init()
	for !o.fired {
		o.cond.Wait()
	}
	return o.val
}
