// SPDX-License-Identifier: Unlicense OR MIT

// Package upload moves video frames into GPU textures and converts them
// to the RGBA layout the sink draws.
//
// Uploader and Converter methods run on the window thread of a gl
// Context, usually inside ThreadAdd. Textures of released output buffers
// are recycled on that thread.
package upload

import (
	"errors"
	"fmt"
	"image"

	"github.com/gogpu/gputypes"
	"golang.org/x/image/draw"

	"github.com/luisbg/gst-plugins-bad/gl"
	"github.com/luisbg/gst-plugins-bad/gpu"
	"github.com/luisbg/gst-plugins-bad/internal/log"
	"github.com/luisbg/gst-plugins-bad/video"
)

var (
	ErrUpload  = errors.New("upload: failed to upload buffer")
	ErrConvert = errors.New("upload: failed to convert buffer")
)

// Uploader copies system memory frames of one geometry into textures.
type Uploader struct {
	ctx  *gl.Context
	info video.Info

	// Window thread only.
	free     []gpu.Texture
	scratch  *image.RGBA
	released bool
}

// NewUploader returns an uploader for frames described by info.
func NewUploader(ctx *gl.Context, info video.Info) *Uploader {
	return &Uploader{ctx: ctx, info: info}
}

// Info returns the geometry of uploaded frames.
func (u *Uploader) Info() video.Info {
	return u.info
}

// textureFormat returns the texture layout for frames of f. Formats
// without a matching texture layout are expanded to RGBA.
func textureFormat(f video.Format) gputypes.TextureFormat {
	if f == video.FormatBGRA {
		return gputypes.TextureFormatBGRA8Unorm
	}
	return gputypes.TextureFormatRGBA8Unorm
}

// Upload returns a buffer holding in as a texture. Buffers already in GPU
// memory are returned with an extra reference.
func (u *Uploader) Upload(dev gpu.Device, in *video.Buffer) (*video.Buffer, error) {
	if in.IsGPU() {
		return in.Ref(), nil
	}
	if u.released {
		return nil, fmt.Errorf("%w: %v", ErrUpload, gpu.ErrReleased)
	}
	if in.Image == nil {
		return nil, fmt.Errorf("%w: buffer has no memory", ErrUpload)
	}
	img, err := u.pixels(in.Image)
	if err != nil {
		return nil, err
	}
	tex, err := u.texture(dev)
	if err != nil {
		return nil, err
	}
	if err := dev.UploadTexture(tex, img); err != nil {
		u.free = append(u.free, tex)
		return nil, fmt.Errorf("%w: %v", ErrUpload, err)
	}
	info := u.info
	if info.Format != video.FormatBGRA {
		info.Format = video.FormatRGBA
	}
	out := video.NewBuffer(info)
	copyTimes(out, in)
	out.Texture = tex
	out.SetRelease(func(*video.Buffer) { u.recycle(tex) })
	return out, nil
}

// pixels returns the frame as 8-bit samples in texture byte order, scaled
// to the negotiated size.
func (u *Uploader) pixels(src image.Image) (*image.RGBA, error) {
	size := image.Pt(u.info.Width, u.info.Height)
	rgba, ok := src.(*image.RGBA)
	if ok && rgba.Bounds().Size() == size && rgba.Bounds().Min == (image.Point{}) {
		return rgba, nil
	}
	switch u.info.Format {
	case video.FormatRGBA, video.FormatBGRA:
		if !ok {
			return nil, fmt.Errorf("%w: %v frame held in %T", ErrUpload, u.info.Format, src)
		}
	}
	if u.scratch == nil {
		u.scratch = image.NewRGBA(image.Rectangle{Max: size})
	}
	dst := u.scratch
	if src.Bounds().Size() == size {
		draw.Copy(dst, image.Point{}, src, src.Bounds(), draw.Src, nil)
	} else {
		log.For("upload").Debug("scaling frame", "from", src.Bounds().Size(), "to", size)
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	}
	return dst, nil
}

func (u *Uploader) texture(dev gpu.Device) (gpu.Texture, error) {
	if n := len(u.free); n > 0 {
		t := u.free[n-1]
		u.free = u.free[:n-1]
		return t, nil
	}
	t, err := dev.NewTexture(gpu.NewTextureDesc(textureFormat(u.info.Format), u.info.Width, u.info.Height))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpload, err)
	}
	return t, nil
}

func (u *Uploader) recycle(t gpu.Texture) {
	u.ctx.ThreadAddAsync(func(gpu.Device) {
		if u.released {
			t.Release()
			return
		}
		u.free = append(u.free, t)
	})
}

// Release frees the recycled textures. Textures of buffers still in use
// are freed when those buffers are released.
func (u *Uploader) Release() {
	u.released = true
	for _, t := range u.free {
		t.Release()
	}
	u.free = nil
	u.scratch = nil
}

func copyTimes(dst, src *video.Buffer) {
	dst.PTS, dst.Duration = src.PTS, src.Duration
	dst.Offset, dst.OffsetEnd = src.Offset, src.OffsetEnd
}
