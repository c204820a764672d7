// SPDX-License-Identifier: Unlicense OR MIT

package gpu

import (
	"encoding/binary"
	"fmt"
	"math"

	"gioui.org/shader"
	"github.com/gogpu/gputypes"
)

// Quad vertices cover the viewport with interleaved position (x, y, z)
// and texture coordinates (u, v). Texture row 0 maps to the top edge.
var QuadVertices = []float32{
	1, 1, 0, 1, 0,
	-1, 1, 0, 0, 0,
	-1, -1, 0, 0, 1,
	1, -1, 0, 1, 1,
}

// QuadIndices draw QuadVertices as two triangles.
var QuadIndices = []uint16{0, 1, 2, 0, 2, 3}

var QuadLayout = VertexLayout{
	Stride: 5 * 4,
	Attributes: []VertexAttribute{
		{Location: 0, Format: gputypes.VertexFormatFloat32x3, Offset: 0},
		{Location: 1, Format: gputypes.VertexFormatFloat32x2, Offset: 3 * 4},
	},
}

// QuadInputs are the vertex inputs of programs drawing the quad.
var QuadInputs = []shader.InputLocation{
	{Name: "a_position", Location: 0, Type: shader.DataTypeFloat, Size: 3},
	{Name: "a_texcoord", Location: 1, Type: shader.DataTypeFloat, Size: 2},
}

// QuadWGSLVertex is the vertex stage shared by quad programs.
const QuadWGSLVertex = `struct VertexOutput {
    @builtin(position) position: vec4<f32>,
    @location(0) uv: vec2<f32>,
}

@vertex
fn vs_main(@location(0) position: vec3<f32>, @location(1) uv: vec2<f32>) -> VertexOutput {
    var out: VertexOutput;
    out.position = vec4<f32>(position, 1.0);
    out.uv = uv;
    return out;
}
`

// Quad holds the GPU objects of the unit quad.
type Quad struct {
	Buffer      Buffer
	VertexArray VertexArray
}

// NewQuad uploads the quad vertices to d.
func NewQuad(d Device) (*Quad, error) {
	buf, err := d.NewImmutableBuffer(BufferBindingVertices, FloatBytes(QuadVertices))
	if err != nil {
		return nil, fmt.Errorf("gpu: quad buffer: %w", err)
	}
	va, err := d.NewVertexArray(buf, QuadLayout)
	if err != nil {
		buf.Release()
		return nil, fmt.Errorf("gpu: quad vertex array: %w", err)
	}
	return &Quad{Buffer: buf, VertexArray: va}, nil
}

// Draw binds the quad and draws it with the bound program.
func (q *Quad) Draw(d Device) {
	d.BindVertexArray(q.VertexArray)
	d.DrawElements(gputypes.PrimitiveTopologyTriangleList, QuadIndices)
	d.BindVertexArray(nil)
}

func (q *Quad) Release() {
	q.VertexArray.Release()
	q.Buffer.Release()
}

// FloatBytes encodes v in little-endian order.
func FloatBytes(v []float32) []byte {
	b := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
	return b
}
