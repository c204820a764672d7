// SPDX-License-Identifier: Unlicense OR MIT

package runloop

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func startLoop(t *testing.T) *Loop {
	t.Helper()
	l, err := New()
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- l.Run() }()
	t.Cleanup(func() {
		l.Quit()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("loop did not exit")
		}
		if err := l.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return l
}

func TestInvokeSyncRuns(t *testing.T) {
	l := startLoop(t)
	var counter int
	for i := 1; i <= 3; i++ {
		if !l.InvokeSync(func() { counter++ }) {
			t.Fatal("InvokeSync reported not run")
		}
		// No synchronization needed: InvokeSync returns after the callback.
		if counter != i {
			t.Fatalf("counter = %d after InvokeSync, want %d", counter, i)
		}
	}
}

func TestInvokeOrder(t *testing.T) {
	l := startLoop(t)
	var got []int
	for i := 0; i < 100; i++ {
		i := i
		l.Invoke(func() { got = append(got, i) }, nil)
	}
	l.InvokeSync(func() {})
	if len(got) != 100 {
		t.Fatalf("ran %d messages, want 100", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("message %d ran at position %d", v, i)
		}
	}
}

func TestDestroyAfterCallback(t *testing.T) {
	l := startLoop(t)
	var seq []string
	l.Invoke(func() { seq = append(seq, "fn") }, func() { seq = append(seq, "destroy") })
	l.InvokeSync(func() {})
	if len(seq) != 2 || seq[0] != "fn" || seq[1] != "destroy" {
		t.Errorf("sequence = %v, want [fn destroy]", seq)
	}
}

func TestOwnerThread(t *testing.T) {
	l := startLoop(t)
	if l.IsOwner() {
		t.Error("test goroutine reported as owner")
	}
	var owner, nested bool
	l.InvokeSync(func() {
		owner = l.IsOwner()
		// Must not deadlock on the loop thread.
		nested = l.InvokeSync(func() {})
	})
	if !owner {
		t.Error("callback not executed on owner thread")
	}
	if !nested {
		t.Error("nested InvokeSync did not run")
	}
}

func TestThreadID(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	id := ThreadID()
	if id == 0 {
		t.Fatal("zero thread ID")
	}
	if again := ThreadID(); again != id {
		t.Errorf("thread ID changed from %d to %d", id, again)
	}
	other := make(chan int)
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		other <- ThreadID()
	}()
	if got := <-other; got == id || got == 0 {
		t.Errorf("locked goroutine has thread ID %d, test goroutine %d", got, id)
	}
}

func TestQuitFromCallback(t *testing.T) {
	l, err := New()
	if err != nil {
		t.Fatal(err)
	}
	var destroyed atomic.Int32
	done := make(chan struct{})
	go func() {
		l.Run()
		close(done)
	}()
	l.Invoke(func() { l.Quit() }, nil)
	for i := 0; i < 10; i++ {
		l.Invoke(func() { time.Sleep(time.Millisecond) }, func() { destroyed.Add(1) })
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Quit")
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	if got := destroyed.Load(); got != 10 {
		t.Errorf("destroyed %d messages, want 10", got)
	}
	if l.InvokeSync(func() { t.Error("callback ran after Close") }) {
		t.Error("InvokeSync succeeded after Close")
	}
	var late bool
	l.Invoke(func() { t.Error("callback ran after Close") }, func() { late = true })
	if !late {
		t.Error("destroy not called for message posted after Close")
	}
}

func TestQuitBeforeRun(t *testing.T) {
	l, err := New()
	if err != nil {
		t.Fatal(err)
	}
	l.Quit()
	l.Quit()
	done := make(chan error, 1)
	go func() { done <- l.Run() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run blocked after Quit")
	}
	if err := l.Run(); err != ErrReused {
		t.Errorf("second Run = %v, want ErrReused", err)
	}
	l.Close()
}

func TestPendingSyncReleasedOnQuit(t *testing.T) {
	l, err := New()
	if err != nil {
		t.Fatal(err)
	}
	block := make(chan struct{})
	done := make(chan struct{})
	go func() {
		l.Run()
		close(done)
	}()
	l.Invoke(func() { <-block; l.Quit() }, nil)
	var wg sync.WaitGroup
	results := make([]bool, 4)
	for i := range results {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = l.InvokeSync(func() {})
		}()
	}
	// Let the senders queue up behind the blocked message.
	time.Sleep(20 * time.Millisecond)
	close(block)
	<-done
	l.Close()
	wg.Wait()
	for i, ran := range results {
		if ran {
			t.Errorf("sync message %d ran after Quit", i)
		}
	}
}

func TestCloseWhileRunning(t *testing.T) {
	l := startLoop(t)
	l.InvokeSync(func() {})
	if err := l.Close(); err != ErrRunning {
		t.Errorf("Close = %v, want ErrRunning", err)
	}
}
