// Package mesh holds GPU-resident geometry. A *StaticMesh or *AnimMesh
// pointer is the identity used to batch instances of the same geometry.
package mesh

import (
	"fmt"
	"unsafe"

	"github.com/Faultbox/worldview/internal/gpu"
	"github.com/Faultbox/worldview/pkg/math"
)

// Vertex is the static and particle vertex format. Position comes first so
// acceleration structure builders can read it at offset 0.
type Vertex struct {
	Pos   [3]float32
	Norm  [3]float32
	UV    [2]float32
	Color uint32
}

// VertexA is the skinned vertex format: one position per bone influence.
type VertexA struct {
	Norm    [3]float32
	UV      [2]float32
	Color   uint32
	Pos     [4][3]float32
	BoneID  [4]uint8
	Weights [4]float32
}

// Vertex strides in bytes.
var (
	VertexSize  = int(unsafe.Sizeof(Vertex{}))
	VertexASize = int(unsafe.Sizeof(VertexA{}))
)

// StaticMesh is indexed geometry with a fixed vertex format.
type StaticMesh struct {
	VBO        gpu.Buffer
	IBO        gpu.Buffer
	IndexCount int
	Bounds     math.AABB
}

// NewStaticMesh uploads vertices and indices to the device.
func NewStaticMesh(dev gpu.Device, verts []Vertex, indices []uint32) (*StaticMesh, error) {
	if len(verts) == 0 || len(indices) == 0 {
		return nil, fmt.Errorf("mesh: empty geometry")
	}
	vbo, err := upload(dev, gpu.UsageVertex, vertexBytes(verts))
	if err != nil {
		return nil, fmt.Errorf("mesh: vertex buffer: %w", err)
	}
	ibo, err := upload(dev, gpu.UsageIndex, indexBytes(indices))
	if err != nil {
		vbo.Release()
		return nil, fmt.Errorf("mesh: index buffer: %w", err)
	}

	bounds := math.EmptyAABB()
	for _, v := range verts {
		bounds = bounds.Extend(vec(v.Pos))
	}
	return &StaticMesh{VBO: vbo, IBO: ibo, IndexCount: len(indices), Bounds: bounds}, nil
}

// NewBlas builds a bottom-level acceleration structure over a range of the
// index buffer.
func (m *StaticMesh) NewBlas(dev gpu.Device, iboOffset, iboLen int) (gpu.AccelerationStructure, error) {
	blas, err := dev.NewBlas(m.VBO, m.IBO, VertexSize, iboOffset, iboLen)
	if err != nil {
		return nil, fmt.Errorf("mesh: blas: %w", err)
	}
	return blas, nil
}

// Release frees the GPU buffers.
func (m *StaticMesh) Release() {
	m.VBO.Release()
	m.IBO.Release()
}

// AnimMesh is indexed skinned geometry.
type AnimMesh struct {
	VBO        gpu.Buffer
	IBO        gpu.Buffer
	IndexCount int
	Bones      int
	Bounds     math.AABB
}

// NewAnimMesh uploads skinned vertices. Bounds cover every bone position.
func NewAnimMesh(dev gpu.Device, verts []VertexA, indices []uint32, bones int) (*AnimMesh, error) {
	if len(verts) == 0 || len(indices) == 0 {
		return nil, fmt.Errorf("mesh: empty geometry")
	}
	if bones < 1 {
		return nil, fmt.Errorf("mesh: skinned mesh needs at least one bone, got %d", bones)
	}
	vbo, err := upload(dev, gpu.UsageVertex, unsafe.Slice((*byte)(unsafe.Pointer(&verts[0])), len(verts)*VertexASize))
	if err != nil {
		return nil, fmt.Errorf("mesh: vertex buffer: %w", err)
	}
	ibo, err := upload(dev, gpu.UsageIndex, indexBytes(indices))
	if err != nil {
		vbo.Release()
		return nil, fmt.Errorf("mesh: index buffer: %w", err)
	}

	bounds := math.EmptyAABB()
	for _, v := range verts {
		for i, w := range v.Weights {
			if w > 0 {
				bounds = bounds.Extend(vec(v.Pos[i]))
			}
		}
	}
	return &AnimMesh{VBO: vbo, IBO: ibo, IndexCount: len(indices), Bones: bones, Bounds: bounds}, nil
}

// Release frees the GPU buffers.
func (m *AnimMesh) Release() {
	m.VBO.Release()
	m.IBO.Release()
}

// NewParticleBuffer creates an upload-heap vertex buffer holding verts, used
// for per-frame particle streams.
func NewParticleBuffer(dev gpu.Device, verts []Vertex) (gpu.Buffer, error) {
	buf, err := dev.NewBuffer(gpu.UsageVertex, gpu.HeapUpload, max(len(verts), 1)*VertexSize)
	if err != nil {
		return nil, fmt.Errorf("mesh: particle buffer: %w", err)
	}
	if len(verts) > 0 {
		if err := buf.Update(0, vertexBytes(verts)); err != nil {
			buf.Release()
			return nil, fmt.Errorf("mesh: particle upload: %w", err)
		}
	}
	return buf, nil
}

// WriteVertices overwrites the start of buf with verts.
func WriteVertices(buf gpu.Buffer, verts []Vertex) error {
	if err := buf.Update(0, vertexBytes(verts)); err != nil {
		return fmt.Errorf("mesh: write %d vertices: %w", len(verts), err)
	}
	return nil
}

func upload(dev gpu.Device, usage gpu.BufferUsage, data []byte) (gpu.Buffer, error) {
	buf, err := dev.NewBuffer(usage, gpu.HeapDevice, len(data))
	if err != nil {
		return nil, err
	}
	if err := buf.Update(0, data); err != nil {
		buf.Release()
		return nil, err
	}
	return buf, nil
}

func vertexBytes(verts []Vertex) []byte {
	if len(verts) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&verts[0])), len(verts)*VertexSize)
}

func indexBytes(indices []uint32) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(&indices[0])), len(indices)*4)
}

func vec(p [3]float32) math.Vec3 {
	return math.V3(p[0], p[1], p[2])
}
