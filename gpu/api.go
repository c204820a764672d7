// SPDX-License-Identifier: Unlicense OR MIT

// Package gpu defines the graphics device used by the window thread. A
// Device and every object created from it belong to the thread that
// created the device.
package gpu

import (
	"errors"
	"fmt"
	"image"

	"gioui.org/shader"
	"github.com/gogpu/gputypes"
	"golang.org/x/image/math/f32"
)

// Device is a graphics context bound to one surface.
type Device interface {
	NewTexture(desc TextureDesc) (Texture, error)
	NewFramebuffer(tex Texture) (Framebuffer, error)
	NewImmutableBuffer(typ BufferBinding, data []byte) (Buffer, error)
	NewProgram(desc ProgramDesc) (Program, error)
	NewVertexArray(buf Buffer, layout VertexLayout) (VertexArray, error)

	// Surface returns the size of the default framebuffer.
	Surface() image.Point
	// ResizeSurface reallocates the default framebuffer.
	ResizeSurface(size image.Point)

	// BindFramebuffer selects the render target. nil selects the surface.
	BindFramebuffer(f Framebuffer)
	// Viewport maps normalized device coordinates to the pixel rectangle
	// with origin at the top-left corner of the target.
	Viewport(x, y, width, height int)
	Clear(r, g, b, a float32)
	BindProgram(p Program)
	BindVertexArray(va VertexArray)
	BindTexture(unit int, t Texture)
	DrawArrays(mode gputypes.PrimitiveTopology, off, count int)
	DrawElements(mode gputypes.PrimitiveTopology, indices []uint16)

	// UploadTexture replaces the contents of t. The pixel bytes of img are
	// in the texture format order.
	UploadTexture(t Texture, img *image.RGBA) error
	// ReadPixels copies a rectangle of f, or of the surface if f is nil,
	// converted to RGBA order.
	ReadPixels(f Framebuffer, r image.Rectangle) (*image.RGBA, error)
	// Present publishes the surface contents.
	Present() error
	// Err returns and clears the first error recorded by a draw or bind
	// call since the last call to Err.
	Err() error

	Release()
}

// Texture is a 2D image in device memory.
type Texture interface {
	// ID is non-zero and unique for the lifetime of the device.
	ID() uint32
	Size() image.Point
	Format() gputypes.TextureFormat
	Release()
}

// Framebuffer renders into its texture.
type Framebuffer interface {
	Texture() Texture
	Release()
}

type Buffer interface {
	Release()
}

type VertexArray interface {
	Release()
}

type Program interface {
	Name() string
	SetUniform(name string, v float32)
	Release()
}

// TextureDesc describes a texture. Create one with NewTextureDesc.
type TextureDesc struct {
	Format gputypes.TextureFormat
	Size   gputypes.Extent3D
	Usage  gputypes.TextureUsage
	Filter gputypes.FilterMode
}

// ProgramDesc describes a shader program. WGSL is compiled when the
// program is created; Fragment is executed by software devices. Sources
// carries the reflected vertex inputs checked against the bound vertex
// layout.
type ProgramDesc struct {
	Name     string
	WGSL     string
	Sources  shader.Sources
	Fragment FragmentFunc
}

// FragmentFunc computes the color of one fragment.
type FragmentFunc func(in Fragment) f32.Vec4

// Fragment is the input of a FragmentFunc.
type Fragment interface {
	// Coord is the pixel center in target coordinates.
	Coord() f32.Vec2
	// UV is the interpolated texture coordinate.
	UV() f32.Vec2
	Sample(unit int, uv f32.Vec2) f32.Vec4
	Uniform(name string) float32
}

// VertexLayout describes interleaved vertex data. Attribute location 0 is
// the position, location 1 the texture coordinate.
type VertexLayout struct {
	Stride     int
	Attributes []VertexAttribute
}

type VertexAttribute struct {
	Location int
	Format   gputypes.VertexFormat
	Offset   int
}

// BufferBinding is the use of an immutable buffer.
type BufferBinding uint8

const (
	BufferBindingVertices BufferBinding = 1 << iota
	BufferBindingIndices
)

var (
	ErrCompile     = errors.New("gpu: shader compilation failed")
	ErrUnsupported = errors.New("gpu: unsupported operation")
	ErrReleased    = errors.New("gpu: object released")
	ErrLayout      = errors.New("gpu: vertex layout mismatch")
)

// Components returns the number of float components of f, or 0 for
// formats other than 32-bit floats.
func Components(f gputypes.VertexFormat) int {
	switch f {
	case gputypes.VertexFormatFloat32:
		return 1
	case gputypes.VertexFormatFloat32x2:
		return 2
	case gputypes.VertexFormatFloat32x3:
		return 3
	case gputypes.VertexFormatFloat32x4:
		return 4
	default:
		return 0
	}
}

// CheckLayout verifies that layout provides every input a program reads,
// with matching sizes.
func CheckLayout(src shader.Sources, layout VertexLayout) error {
	for _, in := range src.Inputs {
		found := false
		for _, a := range layout.Attributes {
			if a.Location != in.Location {
				continue
			}
			found = true
			if in.Type != shader.DataTypeFloat {
				return fmt.Errorf("%w: %s: input %q is not a float", ErrLayout, src.Name, in.Name)
			}
			if got := Components(a.Format); got != in.Size {
				return fmt.Errorf("%w: %s: data size mismatch for %q: got %d expected %d", ErrLayout, src.Name, in.Name, got, in.Size)
			}
		}
		if !found {
			return fmt.Errorf("%w: %s: no attribute for input %q at location %d", ErrLayout, src.Name, in.Name, in.Location)
		}
	}
	return nil
}

// NewTextureDesc returns a descriptor for a sampled, renderable 2D texture.
func NewTextureDesc(format gputypes.TextureFormat, width, height int) TextureDesc {
	return TextureDesc{
		Format: format,
		Size:   gputypes.Extent3D{Width: uint32(width), Height: uint32(height), DepthOrArrayLayers: 1},
		Usage:  gputypes.TextureUsageTextureBinding | gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageCopySrc,
		Filter: gputypes.FilterModeLinear,
	}
}
