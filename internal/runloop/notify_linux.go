// SPDX-License-Identifier: Unlicense OR MIT

package runloop

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// pipeNotifier wakes the loop through a non-blocking pipe.
type pipeNotifier struct {
	read, write int
}

var oneByte = []byte{0}

func newNotifier() (notifier, error) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("runloop: failed to create pipe: %w", err)
	}
	return &pipeNotifier{read: p[0], write: p[1]}, nil
}

func (n *pipeNotifier) wake() {
	// A full pipe already guarantees a wakeup.
	if _, err := unix.Write(n.write, oneByte); err != nil && err != unix.EAGAIN {
		panic(fmt.Errorf("runloop: failed to write to pipe: %w", err))
	}
}

func (n *pipeNotifier) wait() {
	fds := []unix.PollFd{{Fd: int32(n.read), Events: unix.POLLIN | unix.POLLERR}}
	for {
		_, err := unix.Poll(fds, -1)
		if err == nil {
			break
		}
		if err != unix.EINTR {
			panic(fmt.Errorf("runloop: poll failed: %w", err))
		}
	}
	// Plenty of room for a backlog of notifications.
	buf := make([]byte, 64)
	for {
		c, err := unix.Read(n.read, buf)
		if err == unix.EAGAIN || c == 0 {
			break
		}
		if err != nil {
			panic(fmt.Errorf("runloop: read from pipe failed: %w", err))
		}
	}
}

func (n *pipeNotifier) close() error {
	err1 := unix.Close(n.read)
	err2 := unix.Close(n.write)
	if err1 != nil {
		return err1
	}
	return err2
}

func threadID() int {
	return unix.Gettid()
}
