// SPDX-License-Identifier: Unlicense OR MIT

package video

import (
	"errors"
	"fmt"
	"image"
	"testing"
	"time"
)

func TestCenterRect(t *testing.T) {
	tests := []struct {
		name     string
		src, dst image.Rectangle
		scale    bool
		want     image.Rectangle
	}{
		{"pillarbox", image.Rect(0, 0, 640, 480), image.Rect(0, 0, 800, 450), true, image.Rect(100, 0, 700, 450)},
		{"letterbox", image.Rect(0, 0, 640, 360), image.Rect(0, 0, 640, 480), true, image.Rect(0, 60, 640, 420)},
		{"same ratio", image.Rect(0, 0, 320, 240), image.Rect(0, 0, 640, 480), true, image.Rect(0, 0, 640, 480)},
		{"no scaling", image.Rect(0, 0, 320, 240), image.Rect(0, 0, 640, 480), false, image.Rect(160, 120, 480, 360)},
		{"no scaling clipped", image.Rect(0, 0, 1000, 100), image.Rect(0, 0, 640, 480), false, image.Rect(0, 190, 640, 290)},
	}
	for _, test := range tests {
		if got := CenterRect(test.src, test.dst, test.scale); got != test.want {
			t.Errorf("%s: got %v, want %v", test.name, got, test.want)
		}
	}
}

func TestDisplaySize(t *testing.T) {
	tests := []struct {
		name               string
		info               Info
		dispParN, dispParD int
		want               image.Point
	}{
		{"square", NewInfo(FormatRGBA, 640, 480), 0, 1, image.Pt(640, 480)},
		{"anamorphic keeps height", Info{Format: FormatRGBA, Width: 720, Height: 576, ParN: 16, ParD: 15}, 1, 1, image.Pt(768, 576)},
		{"display par", NewInfo(FormatRGBA, 640, 480), 2, 1, image.Pt(320, 480)},
		{"zero par means square", Info{Format: FormatRGBA, Width: 320, Height: 240}, 0, 0, image.Pt(320, 240)},
	}
	for _, test := range tests {
		got, ok := DisplaySize(test.info, test.dispParN, test.dispParD)
		if !ok {
			t.Errorf("%s: not ok", test.name)
			continue
		}
		if got != test.want {
			t.Errorf("%s: got %v, want %v", test.name, got, test.want)
		}
	}
	if _, _, ok := CalculateDisplayRatio(0, 480, 1, 1, 1, 1); ok {
		t.Error("CalculateDisplayRatio accepted zero width")
	}
	if num, den, ok := CalculateDisplayRatio(1920, 1080, 1, 1, 1, 1); !ok || num != 16 || den != 9 {
		t.Errorf("CalculateDisplayRatio(1920x1080) = %d/%d, %v", num, den, ok)
	}
}

func TestFrameTiming(t *testing.T) {
	info := NewInfo(FormatRGBA, 320, 240)
	if got := info.FrameDuration(); got != TimeNone {
		t.Errorf("variable rate duration = %v, want TimeNone", got)
	}
	info.FPSN, info.FPSD = 30, 1
	if got := info.FrameTime(3); got != 100*time.Millisecond {
		t.Errorf("FrameTime(3) = %v, want 100ms", got)
	}
	if got := info.FrameAt(time.Second); got != 30 {
		t.Errorf("FrameAt(1s) = %d, want 30", got)
	}
	info.FPSN, info.FPSD = 30000, 1001
	if got := info.FrameDuration(); got != 33366666 {
		t.Errorf("FrameDuration = %d, want 33366666", got)
	}
}

func TestValidate(t *testing.T) {
	if err := NewInfo(FormatRGBA, 1, 1).Validate(); err != nil {
		t.Error(err)
	}
	for _, info := range []Info{
		{Format: FormatUnknown, Width: 1, Height: 1},
		{Format: FormatRGBA, Width: 0, Height: 1},
		{Format: FormatRGBA, Width: 1, Height: 1, FPSN: 30},
	} {
		if err := info.Validate(); !errors.Is(err, ErrInvalidInfo) {
			t.Errorf("Validate(%v) = %v, want ErrInvalidInfo", info, err)
		}
	}
}

func TestParseFormat(t *testing.T) {
	for _, f := range []Format{FormatRGBA, FormatBGRA, FormatGray8, FormatI420} {
		got, err := ParseFormat(f.String())
		if err != nil || got != f {
			t.Errorf("ParseFormat(%q) = %v, %v", f.String(), got, err)
		}
	}
	if _, err := ParseFormat("YUY2"); err == nil {
		t.Error("ParseFormat accepted YUY2")
	}
}

func TestBufferRefs(t *testing.T) {
	b := NewBuffer(NewInfo(FormatRGBA, 2, 2))
	var released int
	b.SetRelease(func(*Buffer) { released++ })
	b.Ref()
	if b.Unref() {
		t.Error("Unref reported last reference with one left")
	}
	if !b.Unref() {
		t.Error("Unref did not report last reference")
	}
	if released != 1 {
		t.Errorf("release ran %d times, want 1", released)
	}
	defer func() {
		if recover() == nil {
			t.Error("no panic on Unref of released buffer")
		}
	}()
	b.Unref()
}

func TestBufferPool(t *testing.T) {
	p, err := NewBufferPool(NewInfo(FormatRGBA, 4, 4), 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	a, err := p.Acquire()
	if err != nil {
		t.Fatal(err)
	}
	b, err := p.Acquire()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Acquire(); !errors.Is(err, ErrPoolExhausted) {
		t.Errorf("third Acquire = %v, want ErrPoolExhausted", err)
	}
	if _, ok := a.Image.(*image.RGBA); !ok {
		t.Errorf("image type %T, want *image.RGBA", a.Image)
	}
	a.Unref()
	if got := p.Outstanding(); got != 1 {
		t.Errorf("Outstanding = %d, want 1", got)
	}
	c, err := p.Acquire()
	if err != nil {
		t.Fatal(err)
	}
	if c != a {
		t.Error("pool did not recycle the released buffer")
	}
	if c.Refs() != 1 || c.PTS != TimeNone {
		t.Errorf("recycled buffer not reset: refs %d pts %v", c.Refs(), c.PTS)
	}
	b.Unref()
	c.Unref()
}

func TestFlowOf(t *testing.T) {
	cause := errors.New("cause")
	tests := []struct {
		err  error
		want Flow
	}{
		{nil, FlowOK},
		{cause, FlowError},
		{NewFlowError(FlowEOS, nil), FlowEOS},
		{fmt.Errorf("wrapped: %w", NewFlowError(FlowNotNegotiated, cause)), FlowNotNegotiated},
	}
	for _, test := range tests {
		if got := FlowOf(test.err); got != test.want {
			t.Errorf("FlowOf(%v) = %v, want %v", test.err, got, test.want)
		}
	}
	if err := NewFlowError(FlowError, cause); !errors.Is(err, cause) {
		t.Error("flow error does not unwrap to its cause")
	}
}
