package visual

import (
	"fmt"
	"unsafe"

	"github.com/Faultbox/worldview/internal/engine/material"
	"github.com/Faultbox/worldview/internal/engine/mesh"
	"github.com/Faultbox/worldview/internal/gpu"
	"github.com/Faultbox/worldview/pkg/math"
)

// Kind classifies what a bucket draws.
type Kind uint8

const (
	Static Kind = iota
	Movable
	Animated
	Pfx
	Landscape
)

func (k Kind) String() string {
	switch k {
	case Static:
		return "static"
	case Movable:
		return "movable"
	case Animated:
		return "animated"
	case Pfx:
		return "pfx"
	case Landscape:
		return "landscape"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// instanceData is one slot of a bucket's instance buffer.
type instanceData struct {
	Model      math.Mat4
	BoneOffset uint32
	_          [3]uint32
}

var instanceSize = int(unsafe.Sizeof(instanceData{}))

type slot struct {
	used bool
	gen  uint32

	iboOffset, iboLen int
	blas              gpu.AccelerationStructure
	local             math.AABB
	pos               math.Mat4
	anim              MatrixID
	pfx               []gpu.Buffer
	token             *visToken
}

// Bucket batches items that share kind, material, geometry and descriptor
// layout, so they draw with one pipeline and one descriptor set per pass.
type Bucket struct {
	owner    *VisualObjects
	index    int
	strategy drawStrategy

	kind   Kind
	mat    material.Material
	static *mesh.StaticMesh
	anim   *mesh.AnimMesh
	desc   gpu.Buffer
	// matHeap is the heap skinned items read bones from.
	matHeap gpu.BufferHeap

	slots []slot
	size  int
	vis   []uint32

	instData  []instanceData
	instances []gpu.Buffer
	dirty     []bool

	sets    [][gpu.PassCount]gpu.DescriptorSet
	layouts [][gpu.PassCount]gpu.PipelineDesc
	stale   []bool
}

func newBucket(owner *VisualObjects, strategy drawStrategy, kind Kind, mat material.Material,
	st *mesh.StaticMesh, anim *mesh.AnimMesh, desc gpu.Buffer, heap gpu.BufferHeap) *Bucket {
	frames := owner.frames
	b := &Bucket{
		owner:     owner,
		index:     len(owner.buckets),
		strategy:  strategy,
		kind:      kind,
		mat:       mat,
		static:    st,
		anim:      anim,
		desc:      desc,
		matHeap:   heap,
		slots:     make([]slot, owner.capacity),
		vis:       make([]uint32, owner.capacity),
		instData:  make([]instanceData, owner.capacity),
		instances: make([]gpu.Buffer, frames),
		dirty:     make([]bool, frames),
		sets:      make([][gpu.PassCount]gpu.DescriptorSet, frames),
		layouts:   make([][gpu.PassCount]gpu.PipelineDesc, frames),
		stale:     make([]bool, frames),
	}
	for i := range b.stale {
		b.stale[i] = true
		b.dirty[i] = true
	}
	return b
}

// Kind returns the bucket kind.
func (b *Bucket) Kind() Kind { return b.kind }

// Material returns the material shared by every item.
func (b *Bucket) Material() material.Material { return b.mat }

// Size returns the number of live items.
func (b *Bucket) Size() int { return b.size }

// Capacity returns the maximum number of items.
func (b *Bucket) Capacity() int { return len(b.slots) }

func (b *Bucket) isCompatible(kind Kind, mat material.Material, st *mesh.StaticMesh, anim *mesh.AnimMesh,
	desc gpu.Buffer, heap gpu.BufferHeap) bool {
	return b.kind == kind && b.mat == mat && b.static == st && b.anim == anim && b.desc == desc && b.matHeap == heap
}

// MatrixHeap returns the heap whose matrix buffer skinned items are drawn with.
func (b *Bucket) MatrixHeap() gpu.BufferHeap { return b.matHeap }

func (b *Bucket) alloc(s slot, bounds math.AABB) int {
	id := -1
	for i := range b.slots {
		if !b.slots[i].used {
			id = i
			break
		}
	}
	if id < 0 {
		panic(fmt.Sprintf("visual: alloc in full %s bucket", b.kind))
	}

	s.used = true
	s.gen = b.slots[id].gen
	s.local = bounds
	s.pos = math.Identity()
	s.token = b.owner.vis.add(b, id, bounds)
	b.slots[id] = s

	b.instData[id] = instanceData{Model: s.pos}
	if !s.anim.Empty() {
		b.instData[id].BoneOffset = uint32(s.anim.Offset())
	}
	b.touch()

	b.size++
	if b.size == 1 {
		b.owner.ResetIndex()
	}
	if s.blas != nil {
		b.owner.ResetTlas()
	}
	return id
}

func (b *Bucket) allocMesh(iboOffset, iboLen int, blas gpu.AccelerationStructure, bounds math.AABB) int {
	return b.alloc(slot{iboOffset: iboOffset, iboLen: iboLen, blas: blas}, bounds)
}

func (b *Bucket) allocAnim(iboOffset, iboLen int, anim MatrixID) int {
	return b.alloc(slot{iboOffset: iboOffset, iboLen: iboLen, anim: anim}, b.anim.Bounds)
}

func (b *Bucket) allocPfx(vbo []gpu.Buffer) int {
	pfx := make([]gpu.Buffer, b.owner.frames)
	copy(pfx, vbo)
	return b.alloc(slot{pfx: pfx}, math.EmptyAABB())
}

func (b *Bucket) free(id int) {
	s := &b.slots[id]
	if s.blas != nil {
		b.owner.ResetTlas()
	}
	b.owner.vis.remove(s.token)
	*s = slot{gen: s.gen + 1}
	b.vis[id] = 0
	b.instData[id] = instanceData{}
	b.touch()

	b.size--
	if b.size == 0 {
		b.owner.ResetIndex()
	}
}

func (b *Bucket) setObjMatrix(id int, m math.Mat4) {
	s := &b.slots[id]
	s.pos = m
	b.instData[id].Model = m
	b.touch()
	if !s.local.IsEmpty() {
		b.owner.vis.move(s.token, s.local.Transform(m))
	}
	if s.blas != nil {
		b.owner.ResetTlas()
	}
}

func (b *Bucket) setPfxData(id int, fId uint8, vbo gpu.Buffer) {
	s := &b.slots[id]
	if s.pfx != nil && int(fId) < len(s.pfx) {
		s.pfx[fId] = vbo
	}
}

func (b *Bucket) touch() {
	for i := range b.dirty {
		b.dirty[i] = true
	}
}

func (b *Bucket) resetVis() {
	clear(b.vis)
}

func (b *Bucket) markVisible(id int, bits uint32) {
	b.vis[id] |= bits
}

func (b *Bucket) visible(id int, bit uint32) bool {
	return b.slots[id].used && b.vis[id]&bit != 0
}

// passes returns the passes the bucket takes part in.
func (b *Bucket) passes() []gpu.Pass {
	if b.mat.IsSolid() {
		return []gpu.Pass{gpu.PassShadow, gpu.PassHiZ, gpu.PassGBuffer}
	}
	return []gpu.Pass{gpu.PassForward}
}

func (b *Bucket) pipeline(pass gpu.Pass) gpu.PipelineDesc {
	return gpu.PipelineDesc{
		Pass:     pass,
		Layout:   b.strategy.layout(),
		Blend:    b.mat.Blend(),
		RayQuery: b.owner.rayQueryActive() && (pass == gpu.PassForward || pass == gpu.PassGBuffer),
	}
}

// invalidateUbo marks the descriptor sets of frame slot fId for rebuild.
func (b *Bucket) invalidateUbo(fId uint8) {
	b.stale[fId] = true
}

// setupUbo marks every frame's descriptor sets for rebuild.
func (b *Bucket) setupUbo() {
	for i := range b.stale {
		b.stale[i] = true
	}
}

func (b *Bucket) preFrameUpdate(fId uint8) error {
	dev := b.owner.dev
	if b.strategy.instanced() {
		if b.instances[fId] == nil {
			buf, err := dev.NewBuffer(gpu.UsageStorage, gpu.HeapUpload, len(b.slots)*instanceSize)
			if err != nil {
				return fmt.Errorf("%s bucket %d: instance buffer: %w", b.kind, b.index, err)
			}
			b.instances[fId] = buf
			b.dirty[fId] = true
			b.stale[fId] = true
		}
		if b.dirty[fId] {
			data := unsafe.Slice((*byte)(unsafe.Pointer(&b.instData[0])), len(b.instData)*instanceSize)
			if err := b.instances[fId].Update(0, data); err != nil {
				return fmt.Errorf("%s bucket %d: instance upload: %w", b.kind, b.index, err)
			}
			b.dirty[fId] = false
		}
	}
	if b.stale[fId] {
		if err := b.buildSets(fId); err != nil {
			return fmt.Errorf("%s bucket %d: %w", b.kind, b.index, err)
		}
		b.stale[fId] = false
	}
	return nil
}

func (b *Bucket) buildSets(fId uint8) error {
	o := b.owner
	for p, set := range b.sets[fId] {
		o.Recycle(set)
		b.sets[fId][p] = nil
	}
	for _, pass := range b.passes() {
		desc := b.pipeline(pass)
		set, err := o.dev.NewDescriptorSet(desc)
		if err != nil {
			return fmt.Errorf("descriptor set for %s pass: %w", pass, err)
		}
		set.SetTexture(gpu.BindingTexture, b.mat.Tex)
		set.SetBuffer(gpu.BindingScene, o.globals.SceneUbo(fId))
		if b.strategy.instanced() {
			set.SetBuffer(gpu.BindingInstances, b.instances[fId])
		}
		if b.kind == Animated {
			set.SetBuffer(gpu.BindingMatrices, o.matrix.SSBO(b.matHeap, fId))
		}
		if desc.RayQuery {
			if o.tlas != nil && !o.tlas.Empty() {
				set.SetTlas(gpu.BindingTLAS, o.tlas)
			}
			if b.desc != nil {
				set.SetBuffer(gpu.BindingRtDesc, b.desc)
			}
		}
		b.sets[fId][pass] = set
		b.layouts[fId][pass] = desc
	}
	return nil
}

func (b *Bucket) fillTlas(out []gpu.RtInstance) []gpu.RtInstance {
	for i := range b.slots {
		s := &b.slots[i]
		if !s.used || s.blas == nil || s.blas.Empty() {
			continue
		}
		out = append(out, gpu.RtInstance{Transform: s.pos, Blas: s.blas})
	}
	return out
}

func (b *Bucket) draw(enc gpu.Encoder, fId uint8, pass gpu.Pass, view int) {
	set := b.sets[fId][pass]
	if b.size == 0 || set == nil {
		return
	}
	bit := uint32(1) << view
	found := false
	for i := range b.slots {
		if b.visible(i, bit) {
			found = true
			break
		}
	}
	if !found {
		return
	}
	enc.SetPipeline(b.layouts[fId][pass])
	enc.SetDescriptors(set)
	b.strategy.draw(enc, b, fId, bit)
}

// release frees every GPU resource the bucket owns.
func (b *Bucket) release() {
	for f := range b.sets {
		for p, set := range b.sets[f] {
			if set != nil {
				set.Release()
			}
			b.sets[f][p] = nil
		}
		if b.instances[f] != nil {
			b.instances[f].Release()
			b.instances[f] = nil
		}
	}
}

// BucketStats summarizes a bucket.
type BucketStats struct {
	Kind     Kind
	Alpha    material.AlphaFunc
	Texture  uint64
	Size     int
	Capacity int
	Blas     int
	Visible  int
}

// Stats returns counts for the bucket; Visible counts items seen by the
// main view in the last visibility pass.
func (b *Bucket) Stats() BucketStats {
	st := BucketStats{
		Kind:     b.kind,
		Alpha:    b.mat.Alpha,
		Texture:  b.mat.TextureID(),
		Size:     b.size,
		Capacity: len(b.slots),
	}
	for i := range b.slots {
		if b.slots[i].used && b.slots[i].blas != nil {
			st.Blas++
		}
		if b.visible(i, 1) {
			st.Visible++
		}
	}
	return st
}
