// SPDX-License-Identifier: Unlicense OR MIT

//go:build !linux && !windows

package runloop

import (
	"bytes"
	"runtime"
	"strconv"
)

var goroutinePrefix = []byte("goroutine ")

// threadID returns the ID of the calling goroutine. Loop.Run locks its
// goroutine to the OS thread, so the goroutine stands for the thread
// for as long as the loop runs.
func threadID() int {
	var buf [64]byte
	b := buf[:runtime.Stack(buf[:], false)]
	b = bytes.TrimPrefix(b, goroutinePrefix)
	if i := bytes.IndexByte(b, ' '); i > 0 {
		b = b[:i]
	}
	id, err := strconv.Atoi(string(b))
	if err != nil {
		panic("runloop: cannot parse goroutine ID: " + err.Error())
	}
	return id
}
