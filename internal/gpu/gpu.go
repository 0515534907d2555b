// Package gpu defines the narrow device abstraction the world renderer draws
// through. Backends live in sub-packages: soft (CPU, used by tests and headless
// tools) and gldevice (OpenGL 4.1 core).
package gpu

import (
	"errors"

	"github.com/Faultbox/worldview/pkg/math"
)

// Sentinel errors returned by device backends.
var (
	ErrUnsupported = errors.New("gpu: feature not supported by device")
	ErrReleased    = errors.New("gpu: resource already released")
	ErrOutOfRange  = errors.New("gpu: write out of buffer range")
)

// Resource is anything whose destruction may have to wait for the GPU.
type Resource interface {
	// Empty reports whether there is nothing to release.
	Empty() bool
	Release()
}

// BufferUsage selects how a buffer is bound.
type BufferUsage uint8

const (
	UsageVertex BufferUsage = iota
	UsageIndex
	UsageStorage
	UsageUniform
)

// BufferHeap selects where buffer memory lives.
type BufferHeap uint8

const (
	HeapDevice BufferHeap = iota // written rarely, read by GPU every frame
	HeapUpload                   // rewritten by the CPU every frame
	HeapCount
)

func (h BufferHeap) String() string {
	switch h {
	case HeapDevice:
		return "device"
	case HeapUpload:
		return "upload"
	default:
		return "unknown"
	}
}

// Buffer is a GPU buffer.
type Buffer interface {
	Resource
	ID() uint64
	Size() int
	Update(offset int, data []byte) error
}

// Texture is a sampled image. Only its identity matters to batching.
type Texture interface {
	ID() uint64
}

// AccelerationStructure is a bottom- or top-level ray-tracing structure.
type AccelerationStructure interface {
	Resource
	ID() uint64
	Bounds() math.AABB
}

// RtInstance places one BLAS into a TLAS.
type RtInstance struct {
	Transform math.Mat4
	Blas      AccelerationStructure
}

// Binding slots shared by every pipeline.
const (
	BindingTexture   = 0 // material albedo
	BindingScene     = 1 // per-frame scene uniforms
	BindingInstances = 2 // per-bucket instance data
	BindingMatrices  = 3 // skinning matrices
	BindingTLAS      = 4 // top-level acceleration structure
	BindingRtDesc    = 5 // per-instance descriptor for ray queries
	BindingCount     = 6
)

// DescriptorSet groups resource bindings for a draw call.
type DescriptorSet interface {
	Resource
	SetTexture(binding int, tex Texture)
	SetBuffer(binding int, buf Buffer)
	SetTlas(binding int, tlas AccelerationStructure)
}

// Features reports optional device capabilities.
type Features struct {
	RayQuery bool
}

// Device creates resources and records frames.
type Device interface {
	Features() Features

	NewBuffer(usage BufferUsage, heap BufferHeap, size int) (Buffer, error)
	// NewTexture creates an RGBA8 texture; rgba may be nil for a blank image.
	NewTexture(width, height int, rgba []byte) (Texture, error)
	NewDescriptorSet(layout PipelineDesc) (DescriptorSet, error)
	// NewBlas builds a bottom-level structure over indexed triangles.
	NewBlas(vbo, ibo Buffer, stride, iboOffset, iboLen int) (AccelerationStructure, error)
	NewTlas(instances []RtInstance) (AccelerationStructure, error)

	// WaitIdle blocks until every submitted frame has completed.
	WaitIdle() error
	// BeginFrame blocks until the previous use of slot fId has completed.
	BeginFrame(fId uint8) (Encoder, error)
	Submit(fId uint8, enc Encoder) error
}
