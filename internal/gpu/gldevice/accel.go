package gldevice

import (
	"encoding/binary"
	"fmt"
	gomath "math"
	"unsafe"

	"go.uber.org/zap"

	"github.com/Faultbox/worldview/internal/gpu"
	"github.com/Faultbox/worldview/internal/gpu/bvh"
	"github.com/Faultbox/worldview/pkg/math"
)

// AccelerationStructure is a BVH. A TLAS also owns two storage buffers the
// shaders traverse: nodes and the world boxes of its instances in leaf order.
type AccelerationStructure struct {
	id       uint64
	tree     bvh.Tree
	nodes    *Buffer
	boxes    *Buffer
	count    int
	released bool
}

// NewBlas implements gpu.Device. Vertex positions are read from the CPU copy
// of vbo as three float32 at the start of each vertex.
func (d *Device) NewBlas(vbo, ibo gpu.Buffer, stride, iboOffset, iboLen int) (gpu.AccelerationStructure, error) {
	vb, ok1 := vbo.(*Buffer)
	ib, ok2 := ibo.(*Buffer)
	if !ok1 || !ok2 || vb.Empty() || ib.Empty() || vb.shadow == nil || ib.shadow == nil {
		return nil, fmt.Errorf("gldevice: blas needs live vertex and index buffers: %w", gpu.ErrReleased)
	}
	tris, err := triangleBoxes(vb.shadow, ib.shadow, stride, iboOffset, iboLen)
	if err != nil {
		return nil, err
	}
	tree, stats := bvh.Build(tris, 4)
	d.log.Debug("blas built", zap.Int("triangles", len(tris)), zap.Int("nodes", stats.Nodes))
	return &AccelerationStructure{id: d.newID(), tree: tree, count: len(tris)}, nil
}

func triangleBoxes(verts, indices []byte, stride, iboOffset, iboLen int) ([]math.AABB, error) {
	if iboOffset < 0 || (iboOffset+iboLen)*4 > len(indices) || iboLen%3 != 0 {
		return nil, fmt.Errorf("gldevice: blas index range %d+%d: %w", iboOffset, iboLen, gpu.ErrOutOfRange)
	}
	f := func(off int) float32 {
		return gomath.Float32frombits(binary.LittleEndian.Uint32(verts[off:]))
	}
	tris := make([]math.AABB, 0, iboLen/3)
	for i := iboOffset; i < iboOffset+iboLen; i += 3 {
		box := math.EmptyAABB()
		for k := 0; k < 3; k++ {
			off := int(binary.LittleEndian.Uint32(indices[(i+k)*4:])) * stride
			if off+12 > len(verts) {
				return nil, fmt.Errorf("gldevice: blas vertex at byte %d: %w", off, gpu.ErrOutOfRange)
			}
			box = box.Extend(math.V3(f(off), f(off+4), f(off+8)))
		}
		tris = append(tris, box)
	}
	return tris, nil
}

// NewTlas implements gpu.Device.
func (d *Device) NewTlas(instances []gpu.RtInstance) (gpu.AccelerationStructure, error) {
	boxes := make([]math.AABB, len(instances))
	for i, inst := range instances {
		if inst.Blas == nil || inst.Blas.Empty() {
			return nil, fmt.Errorf("gldevice: tlas instance %d: %w", i, gpu.ErrReleased)
		}
		boxes[i] = inst.Blas.Bounds().Transform(inst.Transform)
	}
	tree, stats := bvh.Build(boxes, 1)

	as := &AccelerationStructure{id: d.newID(), tree: tree, count: len(instances)}
	var err error
	if as.nodes, err = d.storage(encodeNodes(tree)); err != nil {
		return nil, fmt.Errorf("gldevice: tlas nodes: %w", err)
	}
	if as.boxes, err = d.storage(encodeBoxes(tree, boxes)); err != nil {
		as.nodes.Release()
		return nil, fmt.Errorf("gldevice: tlas boxes: %w", err)
	}
	d.log.Debug("tlas built", zap.Int("instances", len(instances)), zap.Int("depth", stats.MaxDepth))
	return as, nil
}

func (d *Device) storage(texels []float32) (*Buffer, error) {
	data := unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(texels))), len(texels)*4)
	buf, err := d.NewBuffer(gpu.UsageStorage, gpu.HeapDevice, len(data))
	if err != nil {
		return nil, err
	}
	if err := buf.Update(0, data); err != nil {
		buf.Release()
		return nil, err
	}
	return buf.(*Buffer), nil
}

// encodeNodes packs each node into two RGBA32F texels:
//
//	min.xyz, left child (inner) or first leaf slot (leaf)
//	max.xyz, right child (inner) or -count (leaf)
//
// Indices are stored as int bits in the w channel.
func encodeNodes(tree bvh.Tree) []float32 {
	out := make([]float32, 0, len(tree.Nodes)*8)
	bits := func(v int32) float32 { return gomath.Float32frombits(uint32(v)) }
	for _, n := range tree.Nodes {
		a, b := n.Left, n.Right
		if n.Leaf() {
			a, b = n.First, -n.Count
		}
		out = append(out,
			n.Bounds.Min.X, n.Bounds.Min.Y, n.Bounds.Min.Z, bits(a),
			n.Bounds.Max.X, n.Bounds.Max.Y, n.Bounds.Max.Z, bits(b),
		)
	}
	return out
}

// encodeBoxes packs instance boxes in leaf order, two texels each.
func encodeBoxes(tree bvh.Tree, boxes []math.AABB) []float32 {
	out := make([]float32, 0, len(tree.Order)*8)
	for _, idx := range tree.Order {
		b := boxes[idx]
		out = append(out, b.Min.X, b.Min.Y, b.Min.Z, 0, b.Max.X, b.Max.Y, b.Max.Z, 0)
	}
	return out
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
	a.nodes.Release()
	a.boxes.Release()
}

// ID implements gpu.AccelerationStructure.
func (a *AccelerationStructure) ID() uint64 { return a.id }

// Bounds implements gpu.AccelerationStructure.
func (a *AccelerationStructure) Bounds() math.AABB {
	return a.tree.Bounds()
}

// nodeCount is the number of BVH nodes a shader may visit; zero for a BLAS.
func (a *AccelerationStructure) nodeCount() int32 {
	if a.Empty() || a.nodes == nil {
		return 0
	}
	return int32(len(a.tree.Nodes))
}
