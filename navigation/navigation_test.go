// SPDX-License-Identifier: Unlicense OR MIT

package navigation

import "testing"

func TestNames(t *testing.T) {
	tests := []struct {
		e    Event
		want string
	}{
		{KeyEvent{State: Press, Key: "a"}, "key-press"},
		{KeyEvent{State: Release, Key: "a"}, "key-release"},
		{MouseEvent{Kind: ButtonPress}, "mouse-button-press"},
		{MouseEvent{Kind: ButtonRelease}, "mouse-button-release"},
		{MouseEvent{Kind: Move}, "mouse-move"},
	}
	for _, test := range tests {
		if got := test.e.Name(); got != test.want {
			t.Errorf("%v: Name() = %q, want %q", test.e, got, test.want)
		}
	}
}

func TestParse(t *testing.T) {
	k, err := ParseKeyEvent("key-release", "space")
	if err != nil || k.State != Release || k.Key != "space" {
		t.Errorf("ParseKeyEvent = %v, %v", k, err)
	}
	if _, err := ParseKeyEvent("key-bounce", "x"); err == nil {
		t.Error("ParseKeyEvent accepted unknown name")
	}
	m, err := ParseMouseEvent("mouse-move", 0, 3, 4)
	if err != nil || m.Kind != Move || m.X != 3 || m.Y != 4 {
		t.Errorf("ParseMouseEvent = %v, %v", m, err)
	}
	if _, err := ParseMouseEvent("mouse-wheel", 0, 0, 0); err == nil {
		t.Error("ParseMouseEvent accepted unknown name")
	}
}

func TestScale(t *testing.T) {
	tests := []struct {
		name           string
		sw, sh, vw, vh int
		x, y           float64
	}{
		{"double surface", 1280, 960, 640, 480, 50, 100},
		{"same size", 640, 480, 640, 480, 100, 200},
		{"unknown surface", 0, 0, 640, 480, 100, 200},
		{"unknown video", 640, 480, 0, 0, 100, 200},
	}
	for _, test := range tests {
		got := Scale(MouseEvent{Kind: Move, X: 100, Y: 200}, test.sw, test.sh, test.vw, test.vh).(MouseEvent)
		if got.X != test.x || got.Y != test.y {
			t.Errorf("%s: got (%g, %g), want (%g, %g)", test.name, got.X, got.Y, test.x, test.y)
		}
	}
	k := KeyEvent{Key: "a"}
	if got := Scale(k, 1, 1, 2, 2); got != Event(k) {
		t.Errorf("key event modified: %v", got)
	}
}
