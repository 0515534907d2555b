// Package soft implements gpu.Device on the CPU. Buffers are byte slices,
// command encoders record what they are asked to draw and acceleration
// structures are BVH trees. It executes synchronously, so every frame slot is
// complete as soon as it is submitted.
package soft

import (
	"encoding/binary"
	"fmt"
	gomath "math"

	"go.uber.org/zap"

	"github.com/Faultbox/worldview/internal/gpu"
	"github.com/Faultbox/worldview/internal/gpu/bvh"
	"github.com/Faultbox/worldview/pkg/math"
)

// Counters tracks device activity for tests and statistics.
type Counters struct {
	Buffers     int
	Textures    int
	Sets        int
	Blas        int
	Tlas        int
	WaitIdle    int
	Released    int
	FramesBegun int
}

// Device is a CPU-only gpu.Device.
type Device struct {
	features gpu.Features
	log      *zap.Logger

	nextID uint64
	live   map[uint64]gpu.Resource

	Counters  Counters
	submitted map[uint8]*Encoder

	// FailNext makes the next resource creation return this error.
	FailNext error
}

// Option configures a Device.
type Option func(*Device)

// WithRayQuery reports ray-query support.
func WithRayQuery(enabled bool) Option {
	return func(d *Device) { d.features.RayQuery = enabled }
}

// WithLogger sets the device logger.
func WithLogger(log *zap.Logger) Option {
	return func(d *Device) { d.log = log }
}

// New creates a soft device.
func New(opts ...Option) *Device {
	d := &Device{
		log:       zap.NewNop(),
		live:      make(map[uint64]gpu.Resource),
		submitted: make(map[uint8]*Encoder),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Device) id(r gpu.Resource) uint64 {
	d.nextID++
	d.live[d.nextID] = r
	return d.nextID
}

func (d *Device) release(id uint64) {
	delete(d.live, id)
	d.Counters.Released++
}

func (d *Device) fail() error {
	err := d.FailNext
	d.FailNext = nil
	return err
}

// Live returns the number of resources not yet released.
func (d *Device) Live() int {
	return len(d.live)
}

// Features implements gpu.Device.
func (d *Device) Features() gpu.Features {
	return d.features
}

// NewBuffer implements gpu.Device.
func (d *Device) NewBuffer(usage gpu.BufferUsage, heap gpu.BufferHeap, size int) (gpu.Buffer, error) {
	if err := d.fail(); err != nil {
		return nil, err
	}
	if size < 0 {
		return nil, fmt.Errorf("soft: negative buffer size %d", size)
	}
	b := &Buffer{dev: d, usage: usage, heap: heap, data: make([]byte, size)}
	b.id = d.id(b)
	d.Counters.Buffers++
	return b, nil
}

// NewTexture implements gpu.Device. Texels are kept but never sampled.
func (d *Device) NewTexture(width, height int, rgba []byte) (gpu.Texture, error) {
	if err := d.fail(); err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("soft: texture size %dx%d", width, height)
	}
	if rgba != nil && len(rgba) != width*height*4 {
		return nil, fmt.Errorf("soft: texture data is %d bytes, want %d", len(rgba), width*height*4)
	}
	d.nextID++
	d.Counters.Textures++
	return &Texture{id: d.nextID, Width: width, Height: height, Pixels: rgba}, nil
}

// NewDescriptorSet implements gpu.Device.
func (d *Device) NewDescriptorSet(layout gpu.PipelineDesc) (gpu.DescriptorSet, error) {
	if err := d.fail(); err != nil {
		return nil, err
	}
	s := &DescriptorSet{dev: d, Layout: layout}
	s.id = d.id(s)
	d.Counters.Sets++
	return s, nil
}

// NewBlas implements gpu.Device. Vertex positions are read as three float32
// at the start of each stride-sized vertex, indices as uint32.
func (d *Device) NewBlas(vbo, ibo gpu.Buffer, stride, iboOffset, iboLen int) (gpu.AccelerationStructure, error) {
	if err := d.fail(); err != nil {
		return nil, err
	}
	vb, ok1 := vbo.(*Buffer)
	ib, ok2 := ibo.(*Buffer)
	if !ok1 || !ok2 || vb.Empty() || ib.Empty() {
		return nil, fmt.Errorf("soft: blas needs live soft buffers: %w", gpu.ErrReleased)
	}
	if (iboOffset+iboLen)*4 > len(ib.data) || iboLen%3 != 0 {
		return nil, fmt.Errorf("soft: blas index range %d+%d: %w", iboOffset, iboLen, gpu.ErrOutOfRange)
	}

	tris := make([]math.AABB, 0, iboLen/3)
	for i := iboOffset; i < iboOffset+iboLen; i += 3 {
		box := math.EmptyAABB()
		for k := 0; k < 3; k++ {
			v := int(binary.LittleEndian.Uint32(ib.data[(i+k)*4:]))
			p, err := vb.position(v, stride)
			if err != nil {
				return nil, err
			}
			box = box.Extend(p)
		}
		tris = append(tris, box)
	}

	tree, stats := bvh.Build(tris, 4)
	as := &AccelerationStructure{dev: d, Tree: tree}
	as.id = d.id(as)
	d.Counters.Blas++
	d.log.Debug("blas built", zap.Int("triangles", len(tris)), zap.Int("nodes", stats.Nodes))
	return as, nil
}

// NewTlas implements gpu.Device.
func (d *Device) NewTlas(instances []gpu.RtInstance) (gpu.AccelerationStructure, error) {
	if err := d.fail(); err != nil {
		return nil, err
	}
	boxes := make([]math.AABB, len(instances))
	for i, inst := range instances {
		if inst.Blas == nil || inst.Blas.Empty() {
			return nil, fmt.Errorf("soft: tlas instance %d: %w", i, gpu.ErrReleased)
		}
		boxes[i] = inst.Blas.Bounds().Transform(inst.Transform)
	}

	tree, stats := bvh.Build(boxes, 1)
	as := &AccelerationStructure{
		dev:       d,
		Tree:      tree,
		Instances: append([]gpu.RtInstance(nil), instances...),
	}
	as.id = d.id(as)
	d.Counters.Tlas++
	d.log.Debug("tlas built", zap.Int("instances", len(instances)), zap.Int("depth", stats.MaxDepth))
	return as, nil
}

// WaitIdle implements gpu.Device.
func (d *Device) WaitIdle() error {
	d.Counters.WaitIdle++
	return nil
}

// BeginFrame implements gpu.Device.
func (d *Device) BeginFrame(fId uint8) (gpu.Encoder, error) {
	d.Counters.FramesBegun++
	return &Encoder{Frame: fId}, nil
}

// Submit implements gpu.Device.
func (d *Device) Submit(fId uint8, enc gpu.Encoder) error {
	e, ok := enc.(*Encoder)
	if !ok {
		return fmt.Errorf("soft: foreign encoder %T", enc)
	}
	if e.open {
		return fmt.Errorf("soft: frame %d submitted inside pass %s", fId, e.pass)
	}
	d.submitted[fId] = e
	return nil
}

// Submitted returns the last encoder submitted for slot fId.
func (d *Device) Submitted(fId uint8) *Encoder {
	return d.submitted[fId]
}

func (b *Buffer) position(v, stride int) (math.Vec3, error) {
	off := v * stride
	if off+12 > len(b.data) {
		return math.Vec3{}, fmt.Errorf("soft: vertex %d: %w", v, gpu.ErrOutOfRange)
	}
	f := func(o int) float32 {
		return gomath.Float32frombits(binary.LittleEndian.Uint32(b.data[off+o:]))
	}
	return math.V3(f(0), f(4), f(8)), nil
}
