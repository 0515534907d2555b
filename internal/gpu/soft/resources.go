package soft

import (
	"fmt"

	"github.com/Faultbox/worldview/internal/gpu"
	"github.com/Faultbox/worldview/internal/gpu/bvh"
	"github.com/Faultbox/worldview/pkg/math"
)

// Buffer is a byte-slice gpu.Buffer.
type Buffer struct {
	dev      *Device
	id       uint64
	usage    gpu.BufferUsage
	heap     gpu.BufferHeap
	data     []byte
	released bool
}

// Empty implements gpu.Resource. A nil buffer is empty.
func (b *Buffer) Empty() bool {
	return b == nil || b.released
}

// Release implements gpu.Resource.
func (b *Buffer) Release() {
	if b.Empty() {
		return
	}
	b.released = true
	b.dev.release(b.id)
}

// ID implements gpu.Buffer.
func (b *Buffer) ID() uint64 { return b.id }

// Size implements gpu.Buffer.
func (b *Buffer) Size() int { return len(b.data) }

// Heap returns the heap the buffer was created on.
func (b *Buffer) Heap() gpu.BufferHeap { return b.heap }

// Bytes returns the buffer contents.
func (b *Buffer) Bytes() []byte { return b.data }

// Update implements gpu.Buffer.
func (b *Buffer) Update(offset int, data []byte) error {
	if b.Empty() {
		return gpu.ErrReleased
	}
	if offset < 0 || offset+len(data) > len(b.data) {
		return fmt.Errorf("soft: update %d+%d of %d: %w", offset, len(data), len(b.data), gpu.ErrOutOfRange)
	}
	copy(b.data[offset:], data)
	return nil
}

// Texture is a soft texture.
type Texture struct {
	id     uint64
	Width  int
	Height int
	Pixels []byte
}

// ID implements gpu.Texture.
func (t *Texture) ID() uint64 { return t.id }

// DescriptorSet records bindings.
type DescriptorSet struct {
	dev      *Device
	id       uint64
	released bool

	Layout   gpu.PipelineDesc
	Textures [gpu.BindingCount]gpu.Texture
	Buffers  [gpu.BindingCount]gpu.Buffer
	Tlas     gpu.AccelerationStructure
}

// Empty implements gpu.Resource.
func (s *DescriptorSet) Empty() bool {
	return s == nil || s.released
}

// Release implements gpu.Resource.
func (s *DescriptorSet) Release() {
	if s.Empty() {
		return
	}
	s.released = true
	s.dev.release(s.id)
}

// SetTexture implements gpu.DescriptorSet.
func (s *DescriptorSet) SetTexture(binding int, tex gpu.Texture) {
	s.Textures[binding] = tex
}

// SetBuffer implements gpu.DescriptorSet.
func (s *DescriptorSet) SetBuffer(binding int, buf gpu.Buffer) {
	s.Buffers[binding] = buf
}

// SetTlas implements gpu.DescriptorSet.
func (s *DescriptorSet) SetTlas(binding int, tlas gpu.AccelerationStructure) {
	s.Tlas = tlas
}

// AccelerationStructure is a BVH over triangles (BLAS) or instances (TLAS).
type AccelerationStructure struct {
	dev      *Device
	id       uint64
	released bool

	Tree      bvh.Tree
	Instances []gpu.RtInstance
}

// Empty implements gpu.Resource.
func (a *AccelerationStructure) Empty() bool {
	return a == nil || a.released
}

// Release implements gpu.Resource.
func (a *AccelerationStructure) Release() {
	if a.Empty() {
		return
	}
	a.released = true
	a.dev.release(a.id)
}

// ID implements gpu.AccelerationStructure.
func (a *AccelerationStructure) ID() uint64 { return a.id }

// Bounds implements gpu.AccelerationStructure.
func (a *AccelerationStructure) Bounds() math.AABB {
	return a.Tree.Bounds()
}

// Overlapping returns the instances of a TLAS whose leaves overlap box.
func (a *AccelerationStructure) Overlapping(box math.AABB) []gpu.RtInstance {
	var out []gpu.RtInstance
	a.Tree.Query(box, func(idx int) bool {
		out = append(out, a.Instances[idx])
		return true
	})
	return out
}
