// SPDX-License-Identifier: Unlicense OR MIT

// Package video describes raw video frames: their geometry and timing,
// reference counted frame buffers and buffer pools.
package video

import (
	"errors"
	"fmt"
	"time"
)

// Format is a pixel layout.
type Format uint8

const (
	FormatUnknown Format = iota
	// FormatRGBA is 8-bit red, green, blue, alpha.
	FormatRGBA
	// FormatBGRA is 8-bit blue, green, red, alpha.
	FormatBGRA
	// FormatGray8 is 8-bit luma.
	FormatGray8
	// FormatI420 is planar 4:2:0 YCbCr.
	FormatI420
)

func (f Format) String() string {
	switch f {
	case FormatRGBA:
		return "RGBA"
	case FormatBGRA:
		return "BGRA"
	case FormatGray8:
		return "GRAY8"
	case FormatI420:
		return "I420"
	default:
		return "UNKNOWN"
	}
}

// ParseFormat returns the format with the given name.
func ParseFormat(name string) (Format, error) {
	for f := FormatRGBA; f <= FormatI420; f++ {
		if f.String() == name {
			return f, nil
		}
	}
	return FormatUnknown, fmt.Errorf("video: unknown format %q", name)
}

// TimeNone marks an unknown timestamp or duration.
const TimeNone time.Duration = -1

// OffsetNone marks an unknown frame offset.
const OffsetNone int64 = -1

// Info is the negotiated geometry and rate of a stream.
type Info struct {
	Format Format
	Width  int
	Height int
	// ParN/ParD is the pixel aspect ratio. A zero ParN means 1/1.
	ParN, ParD int
	// FPSN/FPSD is the frame rate. A zero FPSN means a variable rate.
	FPSN, FPSD int
}

// NewInfo returns an Info with square pixels and a variable rate.
func NewInfo(format Format, width, height int) Info {
	return Info{Format: format, Width: width, Height: height, ParN: 1, ParD: 1, FPSD: 1}
}

var ErrInvalidInfo = errors.New("video: invalid info")

// Validate reports whether i describes a usable stream.
func (i Info) Validate() error {
	switch {
	case i.Format == FormatUnknown:
		return fmt.Errorf("%w: unknown format", ErrInvalidInfo)
	case i.Width < 1 || i.Height < 1:
		return fmt.Errorf("%w: size %dx%d", ErrInvalidInfo, i.Width, i.Height)
	case i.ParD < 0 || i.ParN < 0:
		return fmt.Errorf("%w: pixel aspect ratio %d/%d", ErrInvalidInfo, i.ParN, i.ParD)
	case i.FPSN < 0 || i.FPSD < 0 || (i.FPSN > 0 && i.FPSD == 0):
		return fmt.Errorf("%w: frame rate %d/%d", ErrInvalidInfo, i.FPSN, i.FPSD)
	}
	return nil
}

// FrameDuration returns the duration of one frame, or TimeNone for a
// variable rate.
func (i Info) FrameDuration() time.Duration {
	if i.FPSN == 0 || i.FPSD == 0 {
		return TimeNone
	}
	return Scale(time.Second, int64(i.FPSD), int64(i.FPSN))
}

// FrameTime returns the running time of frame n.
func (i Info) FrameTime(n int64) time.Duration {
	if i.FPSN == 0 || i.FPSD == 0 {
		return 0
	}
	return Scale(time.Duration(n)*time.Second, int64(i.FPSD), int64(i.FPSN))
}

// FrameAt returns the number of frames that start before t.
func (i Info) FrameAt(t time.Duration) int64 {
	if i.FPSN == 0 || i.FPSD == 0 {
		return 0
	}
	return int64(Scale(t, int64(i.FPSN), int64(i.FPSD)*int64(time.Second)))
}

func (i Info) String() string {
	return fmt.Sprintf("%v %dx%d par %d/%d fps %d/%d", i.Format, i.Width, i.Height, i.ParN, i.ParD, i.FPSN, i.FPSD)
}

// Scale returns v*num/den rounded down, without intermediate overflow
// for the values in use.
func Scale(v time.Duration, num, den int64) time.Duration {
	if den == 0 {
		return TimeNone
	}
	q, r := int64(v)/den, int64(v)%den
	return time.Duration(q*num + r*num/den)
}
