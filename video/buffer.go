// SPDX-License-Identifier: Unlicense OR MIT

package video

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/luisbg/gst-plugins-bad/gpu"
)

// Buffer is a reference counted video frame held either in system memory
// (Image) or in GPU memory (Texture).
type Buffer struct {
	Info Info
	// PTS is the presentation timestamp, or TimeNone.
	PTS      time.Duration
	Duration time.Duration
	// Offset is the frame number; OffsetEnd the number of the next frame.
	Offset    int64
	OffsetEnd int64

	// Image holds system memory frames: *image.RGBA for RGBA and BGRA,
	// *image.Gray for GRAY8, *image.YCbCr for I420.
	Image image.Image
	// Texture holds GPU frames.
	Texture gpu.Texture

	refs    atomic.Int32
	release func(b *Buffer)
}

// NewBuffer returns an empty buffer with one reference.
func NewBuffer(info Info) *Buffer {
	b := &Buffer{
		Info:      info,
		PTS:       TimeNone,
		Duration:  TimeNone,
		Offset:    OffsetNone,
		OffsetEnd: OffsetNone,
	}
	b.refs.Store(1)
	return b
}

// NewImageBuffer allocates system memory for a frame of info.
func NewImageBuffer(info Info) (*Buffer, error) {
	img, err := newImage(info)
	if err != nil {
		return nil, err
	}
	b := NewBuffer(info)
	b.Image = img
	return b, nil
}

func newImage(info Info) (image.Image, error) {
	r := image.Rect(0, 0, info.Width, info.Height)
	switch info.Format {
	case FormatRGBA, FormatBGRA:
		return image.NewRGBA(r), nil
	case FormatGray8:
		return image.NewGray(r), nil
	case FormatI420:
		return image.NewYCbCr(r, image.YCbCrSubsampleRatio420), nil
	default:
		return nil, fmt.Errorf("%w: no memory layout for %v", ErrInvalidInfo, info.Format)
	}
}

// SetRelease sets the function called when the last reference is dropped.
func (b *Buffer) SetRelease(f func(b *Buffer)) {
	b.release = f
}

// Ref adds a reference and returns b.
func (b *Buffer) Ref() *Buffer {
	if b.refs.Add(1) <= 1 {
		panic("video: Ref of released buffer")
	}
	return b
}

// Unref drops a reference. It reports whether that was the last one.
func (b *Buffer) Unref() bool {
	n := b.refs.Add(-1)
	switch {
	case n < 0:
		panic("video: Unref of released buffer")
	case n > 0:
		return false
	}
	if b.release != nil {
		b.release(b)
	}
	return true
}

// Refs returns the current reference count.
func (b *Buffer) Refs() int {
	return int(b.refs.Load())
}

// IsGPU reports whether the frame is held in a texture.
func (b *Buffer) IsGPU() bool {
	return b.Texture != nil
}

// ErrPoolExhausted is returned when every buffer of a bounded pool is in
// use.
var ErrPoolExhausted = errors.New("video: buffer pool exhausted")

// BufferPool recycles system memory buffers of one geometry.
type BufferPool struct {
	info     Info
	min, max int

	mu          sync.Mutex
	free        []*Buffer
	outstanding int
}

// NewBufferPool preallocates min buffers. A zero max means unbounded.
func NewBufferPool(info Info, min, max int) (*BufferPool, error) {
	if max > 0 && max < min {
		return nil, fmt.Errorf("video: pool max %d below min %d", max, min)
	}
	p := &BufferPool{info: info, min: min, max: max}
	for i := 0; i < min; i++ {
		b, err := NewImageBuffer(info)
		if err != nil {
			return nil, err
		}
		p.free = append(p.free, b)
	}
	return p, nil
}

// Info, Min and Max return the pool parameters.
func (p *BufferPool) Info() Info { return p.info }
func (p *BufferPool) Min() int   { return p.min }
func (p *BufferPool) Max() int   { return p.max }

// Acquire returns a buffer with one reference. It returns to the pool
// when the last reference is dropped.
func (p *BufferPool) Acquire() (*Buffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.max > 0 && p.outstanding >= p.max {
		return nil, ErrPoolExhausted
	}
	var b *Buffer
	if n := len(p.free); n > 0 {
		b = p.free[n-1]
		p.free = p.free[:n-1]
	} else {
		var err error
		if b, err = NewImageBuffer(p.info); err != nil {
			return nil, err
		}
	}
	b.PTS, b.Duration = TimeNone, TimeNone
	b.Offset, b.OffsetEnd = OffsetNone, OffsetNone
	b.refs.Store(1)
	b.release = p.recycle
	p.outstanding++
	return b, nil
}

func (p *BufferPool) recycle(b *Buffer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outstanding--
	p.free = append(p.free, b)
}

// Outstanding returns the number of acquired buffers not yet returned.
func (p *BufferPool) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outstanding
}
