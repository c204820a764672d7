// SPDX-License-Identifier: Unlicense OR MIT

//go:build !linux

package runloop

type chanNotifier chan struct{}

func newNotifier() (notifier, error) {
	return make(chanNotifier, 1), nil
}

func (n chanNotifier) wake() {
	select {
	case n <- struct{}{}:
	default:
	}
}

func (n chanNotifier) wait() {
	<-n
}

func (n chanNotifier) close() error {
	return nil
}
