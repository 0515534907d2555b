package gldevice

import (
	"fmt"
	"unsafe"

	"github.com/go-gl/gl/v4.1-core/gl"

	"github.com/Faultbox/worldview/internal/gpu"
)

// Buffer is a GL buffer object. Storage buffers also own an RGBA32F texture
// buffer view; vertex and index buffers keep a CPU copy for BLAS builds.
type Buffer struct {
	dev      *Device
	id       uint64
	name     uint32
	view     uint32
	usage    gpu.BufferUsage
	heap     gpu.BufferHeap
	size     int
	shadow   []byte
	released bool
}

// NewBuffer implements gpu.Device.
func (d *Device) NewBuffer(usage gpu.BufferUsage, heap gpu.BufferHeap, size int) (gpu.Buffer, error) {
	if size < 0 {
		return nil, fmt.Errorf("gldevice: negative buffer size %d", size)
	}
	b := &Buffer{dev: d, id: d.newID(), usage: usage, heap: heap, size: size}

	gl.GenBuffers(1, &b.name)
	gl.BindBuffer(gl.COPY_WRITE_BUFFER, b.name)
	// Zero-sized stores are legal but some drivers reject texture views
	// over them.
	gl.BufferData(gl.COPY_WRITE_BUFFER, max(size, 16), nil, glUsage(heap))
	gl.BindBuffer(gl.COPY_WRITE_BUFFER, 0)

	switch usage {
	case gpu.UsageStorage:
		gl.GenTextures(1, &b.view)
		gl.BindTexture(gl.TEXTURE_BUFFER, b.view)
		gl.TexBuffer(gl.TEXTURE_BUFFER, gl.RGBA32F, b.name)
		gl.BindTexture(gl.TEXTURE_BUFFER, 0)
	case gpu.UsageVertex, gpu.UsageIndex:
		b.shadow = make([]byte, size)
	}

	if err := glError("new buffer"); err != nil {
		b.Release()
		return nil, err
	}
	return b, nil
}

func glUsage(heap gpu.BufferHeap) uint32 {
	if heap == gpu.HeapUpload {
		return gl.DYNAMIC_DRAW
	}
	return gl.STATIC_DRAW
}

// Empty implements gpu.Resource.
func (b *Buffer) Empty() bool {
	return b == nil || b.released
}

// Release implements gpu.Resource.
func (b *Buffer) Release() {
	if b.Empty() {
		return
	}
	b.released = true
	if b.view != 0 {
		gl.DeleteTextures(1, &b.view)
	}
	gl.DeleteBuffers(1, &b.name)
	b.shadow = nil
}

// ID implements gpu.Buffer.
func (b *Buffer) ID() uint64 { return b.id }

// Size implements gpu.Buffer.
func (b *Buffer) Size() int { return b.size }

// Update implements gpu.Buffer.
func (b *Buffer) Update(offset int, data []byte) error {
	if b.Empty() {
		return gpu.ErrReleased
	}
	if offset < 0 || offset+len(data) > b.size {
		return fmt.Errorf("gldevice: update %d+%d of %d: %w", offset, len(data), b.size, gpu.ErrOutOfRange)
	}
	if len(data) == 0 {
		return nil
	}
	if b.shadow != nil {
		copy(b.shadow[offset:], data)
	}
	gl.BindBuffer(gl.COPY_WRITE_BUFFER, b.name)
	gl.BufferSubData(gl.COPY_WRITE_BUFFER, offset, len(data), gl.Ptr(data))
	gl.BindBuffer(gl.COPY_WRITE_BUFFER, 0)
	return nil
}

// Texture is a mipmapped RGBA8 GL texture.
type Texture struct {
	id            uint64
	name          uint32
	width, height int32
}

// NewTexture implements gpu.Device.
func (d *Device) NewTexture(width, height int, rgba []byte) (gpu.Texture, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("gldevice: texture size %dx%d", width, height)
	}
	if rgba != nil && len(rgba) != width*height*4 {
		return nil, fmt.Errorf("gldevice: texture data is %d bytes, want %d", len(rgba), width*height*4)
	}
	t := &Texture{id: d.newID(), width: int32(width), height: int32(height)}

	gl.GenTextures(1, &t.name)
	gl.BindTexture(gl.TEXTURE_2D, t.name)
	var pixels unsafe.Pointer
	if rgba != nil {
		pixels = gl.Ptr(rgba)
	}
	gl.TexImage2D(gl.TEXTURE_2D, 0, gl.RGBA8, t.width, t.height, 0, gl.RGBA, gl.UNSIGNED_BYTE, pixels)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_S, gl.REPEAT)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_T, gl.REPEAT)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, gl.LINEAR_MIPMAP_LINEAR)
	gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, gl.LINEAR)
	gl.GenerateMipmap(gl.TEXTURE_2D)
	gl.BindTexture(gl.TEXTURE_2D, 0)

	if err := glError("new texture"); err != nil {
		t.Release()
		return nil, err
	}
	return t, nil
}

// ID implements gpu.Texture.
func (t *Texture) ID() uint64 { return t.id }

// Release deletes the GL texture.
func (t *Texture) Release() {
	if t == nil || t.name == 0 {
		return
	}
	gl.DeleteTextures(1, &t.name)
	t.name = 0
}

// DescriptorSet records bindings; they are applied when a draw replays.
type DescriptorSet struct {
	id       uint64
	layout   gpu.PipelineDesc
	textures [gpu.BindingCount]gpu.Texture
	buffers  [gpu.BindingCount]gpu.Buffer
	tlas     gpu.AccelerationStructure
	released bool
}

// NewDescriptorSet implements gpu.Device.
func (d *Device) NewDescriptorSet(layout gpu.PipelineDesc) (gpu.DescriptorSet, error) {
	return &DescriptorSet{id: d.newID(), layout: layout}, nil
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
	s.textures = [gpu.BindingCount]gpu.Texture{}
	s.buffers = [gpu.BindingCount]gpu.Buffer{}
	s.tlas = nil
}

// SetTexture implements gpu.DescriptorSet.
func (s *DescriptorSet) SetTexture(binding int, tex gpu.Texture) {
	s.textures[binding] = tex
}

// SetBuffer implements gpu.DescriptorSet.
func (s *DescriptorSet) SetBuffer(binding int, buf gpu.Buffer) {
	s.buffers[binding] = buf
}

// SetTlas implements gpu.DescriptorSet.
func (s *DescriptorSet) SetTlas(binding int, tlas gpu.AccelerationStructure) {
	s.tlas = tlas
}
