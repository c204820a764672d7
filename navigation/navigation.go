// SPDX-License-Identifier: Unlicense OR MIT

// Package navigation contains the input events a video window relays
// upstream.
package navigation

import (
	"fmt"
	"strings"
)

// Event is the marker interface for navigation events.
type Event interface {
	ImplementsEvent()
	// Name is the wire name of the event, such as "key-press".
	Name() string
}

// Handler receives navigation events. Implementations must not block.
type Handler interface {
	SendEvent(e Event)
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc func(e Event)

func (f HandlerFunc) SendEvent(e Event) { f(e) }

// KeyEvent is a key press or release.
type KeyEvent struct {
	State KeyState
	// Key is the platform key name, such as "Left" or "space".
	Key string
}

// KeyState is the state of a key during an event.
type KeyState uint8

const (
	Press KeyState = iota
	Release
)

// MouseEvent is a pointer button or motion event. X and Y are in the
// coordinate space of the receiver.
type MouseEvent struct {
	Kind   MouseKind
	Button int
	X, Y   float64
}

// MouseKind is the action of a MouseEvent.
type MouseKind uint8

const (
	ButtonPress MouseKind = iota
	ButtonRelease
	Move
)

func (KeyEvent) ImplementsEvent()   {}
func (MouseEvent) ImplementsEvent() {}

func (e KeyEvent) Name() string {
	return "key-" + e.State.String()
}

func (e MouseEvent) Name() string {
	switch e.Kind {
	case ButtonPress:
		return "mouse-button-press"
	case ButtonRelease:
		return "mouse-button-release"
	default:
		return "mouse-move"
	}
}

func (e KeyEvent) String() string {
	return fmt.Sprintf("%s(%s)", e.Name(), e.Key)
}

func (e MouseEvent) String() string {
	return fmt.Sprintf("%s(%d, %g, %g)", e.Name(), e.Button, e.X, e.Y)
}

func (s KeyState) String() string {
	switch s {
	case Press:
		return "press"
	case Release:
		return "release"
	default:
		panic("invalid KeyState")
	}
}

// ParseKeyEvent maps a wire event name to a KeyEvent.
func ParseKeyEvent(name, key string) (KeyEvent, error) {
	switch strings.TrimPrefix(name, "key-") {
	case "press":
		return KeyEvent{State: Press, Key: key}, nil
	case "release":
		return KeyEvent{State: Release, Key: key}, nil
	}
	return KeyEvent{}, fmt.Errorf("navigation: unknown key event %q", name)
}

// ParseMouseEvent maps a wire event name to a MouseEvent.
func ParseMouseEvent(name string, button int, x, y float64) (MouseEvent, error) {
	e := MouseEvent{Button: button, X: x, Y: y}
	switch name {
	case "mouse-button-press":
		e.Kind = ButtonPress
	case "mouse-button-release":
		e.Kind = ButtonRelease
	case "mouse-move":
		e.Kind = Move
	default:
		return MouseEvent{}, fmt.Errorf("navigation: unknown mouse event %q", name)
	}
	return e, nil
}

// Scale maps the pointer position of e from a surface of size (sw, sh)
// to a video of size (vw, vh). Events other than mouse events, and
// degenerate sizes, are returned unchanged.
func Scale(e Event, sw, sh, vw, vh int) Event {
	m, ok := e.(MouseEvent)
	if !ok {
		return e
	}
	if sw != 0 && vw != 0 && sw != vw {
		m.X *= float64(vw) / float64(sw)
	}
	if sh != 0 && vh != 0 && sh != vh {
		m.Y *= float64(vh) / float64(sh)
	}
	return m
}
