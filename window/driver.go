// SPDX-License-Identifier: Unlicense OR MIT

package window

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/luisbg/gst-plugins-bad/internal/log"
	"github.com/luisbg/gst-plugins-bad/navigation"
)

// EnvBackend names the environment variable that selects the window
// backend. It is read once, on the first window creation.
const EnvBackend = "GLSINK_WINDOW"

// DummyBackend is the headless backend used when no other applies.
const DummyBackend = "dummy"

// Driver is implemented by every window backend. All methods may be
// called from any goroutine unless noted.
type Driver interface {
	// Open allocates the backend loop.
	Open() error
	// Close releases what Open allocated. Called after Run returned.
	Close() error
	// Run executes the loop on the calling thread until Quit.
	Run() error
	Quit()
	// Send runs f on the loop thread and waits for it. It reports false
	// if the loop exited before f ran.
	Send(f func()) bool
	// SendAsync queues f on the loop thread. destroy, if set, runs after
	// f or, when the loop is gone, instead of it.
	SendAsync(f func(), destroy func())
	// IsLoopThread reports whether the caller runs on the loop thread.
	IsLoopThread() bool
	// Draw renders a frame by calling Callbacks.Draw on the loop thread.
	// It returns once the frame was drawn or the loop exited.
	Draw()
	SetWindowHandle(handle uintptr)
	SetPreferredSize(width, height int)
	SurfaceDimensions() (width, height int)
	HandleEvents(enable bool)
}

// Callbacks are invoked by a Driver. Draw, Resize and CloseRequested run
// on the loop thread; input events may arrive on any thread.
type Callbacks interface {
	Draw()
	Resize(width, height int)
	CloseRequested()
	Key(e navigation.KeyEvent)
	Mouse(e navigation.MouseEvent)
}

// Constructor creates a backend. A backend that cannot run in the
// current environment returns an error.
type Constructor func(cb Callbacks) (Driver, error)

var (
	// ErrNoBackend is returned for an unknown backend name.
	ErrNoBackend = errors.New("window: no such backend")

	registryMu sync.Mutex
	registry   = map[string]Constructor{}

	envChoice struct {
		once sync.Once
		name string
	}
)

func init() {
	Register(DummyBackend, newDummy)
}

// Register makes a backend available under name. Registering the same
// name twice replaces the constructor.
func Register(name string, c Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = c
}

// Backends returns the registered backend names in selection order.
func Backends() []string {
	registryMu.Lock()
	defer registryMu.Unlock()
	return backendOrder()
}

func backendOrder() []string {
	names := maps.Keys(registry)
	slices.Sort(names)
	if i := slices.Index(names, DummyBackend); i >= 0 {
		names = append(slices.Delete(names, i, i+1), DummyBackend)
	}
	return names
}

// userChoice returns the environment override, read once per process.
func userChoice() string {
	envChoice.once.Do(func() {
		envChoice.name = os.Getenv(EnvBackend)
	})
	return envChoice.name
}

// newDriver tries the backends matching choice in order. The first one
// that succeeds wins; the dummy backend is the fallback.
func newDriver(cb Callbacks, choice string) (Driver, string, error) {
	registryMu.Lock()
	names := backendOrder()
	ctors := make([]Constructor, len(names))
	for i, n := range names {
		ctors[i] = registry[n]
	}
	registryMu.Unlock()

	l := log.For("window")
	for i, name := range names {
		if name == DummyBackend {
			continue
		}
		if choice != "" && !strings.HasPrefix(choice, name) {
			continue
		}
		d, err := ctors[i](cb)
		if err == nil {
			return d, name, nil
		}
		l.Debug("backend unavailable", "backend", name, "err", err)
	}
	if choice != "" && !strings.HasPrefix(choice, DummyBackend) {
		l.Warn("could not create window, using dummy window", "requested", choice)
	}
	i := slices.Index(names, DummyBackend)
	if i < 0 {
		return nil, "", fmt.Errorf("%w: %s", ErrNoBackend, DummyBackend)
	}
	d, err := ctors[i](cb)
	if err != nil {
		return nil, "", err
	}
	return d, DummyBackend, nil
}
