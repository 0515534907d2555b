// Package visual batches renderable instances into capacity-bounded buckets,
// culls them against view frustums, keeps a top-level acceleration structure
// current and orders buckets for the forward, G-buffer, shadow and Hi-Z
// passes.
//
// Everything here runs on the render thread. Resources the GPU may still be
// reading are handed to Recycle and released when their frame slot comes
// around again.
package visual

import (
	"cmp"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/Faultbox/worldview/internal/engine/material"
	"github.com/Faultbox/worldview/internal/engine/mesh"
	"github.com/Faultbox/worldview/internal/engine/scene"
	"github.com/Faultbox/worldview/internal/gpu"
	"github.com/Faultbox/worldview/internal/logger"
	"github.com/Faultbox/worldview/pkg/math"
)

// DefaultCapacity is the number of items a bucket holds.
const DefaultCapacity = 128

// DefaultGridCells is the visibility grid resolution along X and Z.
const DefaultGridCells = 16

// Features reports application-level capabilities.
type Features interface {
	RayQuery() bool
}

// FixedFeatures is a Features value that never changes.
type FixedFeatures struct {
	RayQueryEnabled bool
}

// RayQuery implements Features.
func (f FixedFeatures) RayQuery() bool { return f.RayQueryEnabled }

// Option configures VisualObjects.
type Option func(*VisualObjects)

// WithCapacity sets the bucket capacity.
func WithCapacity(n int) Option {
	return func(v *VisualObjects) {
		if n > 0 {
			v.capacity = n
		}
	}
}

// WithGridCells sets the visibility grid resolution.
func WithGridCells(n int) Option {
	return func(v *VisualObjects) { v.gridCells = n }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(v *VisualObjects) { v.log = log }
}

// VisualObjects owns every bucket of a scene.
type VisualObjects struct {
	dev       gpu.Device
	globals   *scene.Globals
	features  Features
	log       *zap.Logger
	frames    int
	capacity  int
	gridCells int

	buckets []*Bucket
	vis     *VisibilityGroup
	matrix  *MatrixStorage

	index           []*Bucket
	lastSolidBucket int

	recycled   [][]gpu.Resource
	recycledID uint8

	landBlas    gpu.AccelerationStructure
	tlas        gpu.AccelerationStructure
	tlasPending bool
	rayQuery    bool
	onTlas      []func(gpu.AccelerationStructure)
}

// New creates an empty collection over the world bounds bbox.
func New(dev gpu.Device, globals *scene.Globals, features Features, bbox math.AABB, opts ...Option) *VisualObjects {
	v := &VisualObjects{
		dev:       dev,
		globals:   globals,
		features:  features,
		frames:    globals.FramesInFlight(),
		capacity:  DefaultCapacity,
		gridCells: DefaultGridCells,
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.log == nil {
		v.log = logger.Named("visual")
	}
	if v.features == nil {
		v.features = FixedFeatures{}
	}
	v.vis = NewVisibilityGroup(bbox, v.gridCells)
	v.matrix = NewMatrixStorage(dev, v.frames, v.Recycle)
	v.recycled = make([][]gpu.Resource, v.frames)
	v.rayQuery = v.rayQueryActive()
	return v
}

// FramesInFlight returns the frame ring size.
func (v *VisualObjects) FramesInFlight() int {
	return v.frames
}

// GetBucket returns a bucket with room for one more item matching the key,
// creating one when every compatible bucket is full.
// Skinned buckets created here read bones from the upload heap.
func (v *VisualObjects) GetBucket(kind Kind, mat material.Material, st *mesh.StaticMesh, anim *mesh.AnimMesh, desc gpu.Buffer) *Bucket {
	return v.getBucket(kind, mat, st, anim, desc, gpu.HeapUpload)
}

func (v *VisualObjects) getBucket(kind Kind, mat material.Material, st *mesh.StaticMesh, anim *mesh.AnimMesh,
	desc gpu.Buffer, heap gpu.BufferHeap) *Bucket {
	for _, b := range v.buckets {
		if b.size < v.capacity && b.isCompatible(kind, mat, st, anim, desc, heap) {
			return b
		}
	}
	b := newBucket(v, strategyFor(kind, desc), kind, mat, st, anim, desc, heap)
	v.buckets = append(v.buckets, b)
	v.ResetIndex()
	v.log.Debug("bucket created",
		zap.Stringer("kind", kind),
		zap.Stringer("alpha", mat.Alpha),
		zap.Int("capacity", v.capacity),
		zap.Int("buckets", len(v.buckets)))
	return b
}

func (v *VisualObjects) hasTexture(kind Kind, mat material.Material) bool {
	if mat.Tex != nil {
		return true
	}
	v.log.Error("material has no texture", zap.Stringer("kind", kind), zap.Stringer("alpha", mat.Alpha))
	return false
}

func (v *VisualObjects) item(b *Bucket, id int) Item {
	return Item{owner: v, bucket: int32(b.index), slot: int32(id), gen: b.slots[id].gen}
}

// Get adds an instance of a static mesh. staticDraw selects Static over
// Movable buckets.
func (v *VisualObjects) Get(m *mesh.StaticMesh, mat material.Material, iboOffset, iboLen int, staticDraw bool) Item {
	kind := Movable
	if staticDraw {
		kind = Static
	}
	if !v.hasTexture(kind, mat) {
		return Item{}
	}
	b := v.GetBucket(kind, mat, m, nil, nil)
	return v.item(b, b.allocMesh(iboOffset, iboLen, nil, m.Bounds))
}

// GetBlas adds a ray-traceable instance with explicit bounds. desc is the
// per-instance descriptor buffer read by ray-query shaders. kind must be
// Static, Movable or Landscape; other kinds log an error and return the
// empty Item.
func (v *VisualObjects) GetBlas(m *mesh.StaticMesh, mat material.Material, iboOffset, iboLen int,
	blas gpu.AccelerationStructure, desc gpu.Buffer, bounds math.AABB, kind Kind) Item {
	switch kind {
	case Static, Movable, Landscape:
	default:
		v.log.Error("static mesh in non-mesh bucket kind", zap.Stringer("kind", kind))
		return Item{}
	}
	if !v.hasTexture(kind, mat) {
		return Item{}
	}
	b := v.GetBucket(kind, mat, m, nil, desc)
	return v.item(b, b.allocMesh(iboOffset, iboLen, blas, bounds))
}

// GetAnim adds a skinned instance reading its bones from anim. Items whose
// bones live in different heaps never share a bucket.
func (v *VisualObjects) GetAnim(m *mesh.AnimMesh, mat material.Material, iboOffset, iboLen int, anim MatrixID) Item {
	if !v.hasTexture(Animated, mat) {
		return Item{}
	}
	b := v.getBucket(Animated, mat, nil, m, nil, anim.Heap())
	return v.item(b, b.allocAnim(iboOffset, iboLen, anim))
}

// GetPfx adds a particle stream: one vertex buffer per frame in flight, drawn
// without indices. Particles are never culled.
func (v *VisualObjects) GetPfx(vbo []gpu.Buffer, mat material.Material) Item {
	if !v.hasTexture(Pfx, mat) {
		return Item{}
	}
	b := v.GetBucket(Pfx, mat, nil, nil, nil)
	return v.item(b, b.allocPfx(vbo))
}

// GetMatrixes reserves boneCnt skinning matrices.
func (v *VisualObjects) GetMatrixes(heap gpu.BufferHeap, boneCnt int) MatrixID {
	return v.matrix.Alloc(heap, boneCnt)
}

// MatrixSsbo returns the matrix buffer of heap for frame slot fId.
func (v *VisualObjects) MatrixSsbo(heap gpu.BufferHeap, fId uint8) gpu.Buffer {
	return v.matrix.SSBO(heap, fId)
}

// SetupUbo rebuilds every bucket's descriptor sets on the next
// PreFrameUpdate of each frame slot.
func (v *VisualObjects) SetupUbo() {
	for _, b := range v.buckets {
		b.setupUbo()
	}
}

// PreFrameUpdate prepares frame slot fId. The device must be done with the
// slot's previous frame.
func (v *VisualObjects) PreFrameUpdate(fId uint8) error {
	if int(fId) >= v.frames {
		return fmt.Errorf("visual: frame slot %d out of %d", fId, v.frames)
	}
	v.recycledID = fId
	for _, r := range v.recycled[fId] {
		r.Release()
	}
	clear(v.recycled[fId])
	v.recycled[fId] = v.recycled[fId][:0]

	// Pipelines select ray-query variants when their sets are built.
	if rq := v.rayQueryActive(); rq != v.rayQuery {
		v.rayQuery = rq
		v.SetupUbo()
	}
	if err := v.mkTlas(); err != nil {
		return err
	}
	v.MkIndex()
	if err := v.commitUbo(fId); err != nil {
		return err
	}
	for _, b := range v.buckets {
		if err := b.preFrameUpdate(fId); err != nil {
			return fmt.Errorf("visual: %w", err)
		}
	}
	return nil
}

func (v *VisualObjects) commitUbo(fId uint8) error {
	changed, err := v.matrix.Commit(fId)
	if err != nil {
		return fmt.Errorf("visual: %w", err)
	}
	if !changed {
		return nil
	}
	for _, b := range v.buckets {
		b.invalidateUbo(fId)
	}
	return nil
}

// VisibilityPass culls every item against frustums. frustums[0] is the main
// view, frustums[1+layer] the shadow cascade layer.
func (v *VisualObjects) VisibilityPass(frustums []math.Frustum) {
	for _, b := range v.buckets {
		b.resetVis()
	}
	v.vis.Pass(frustums)
}

// Draw records the blended buckets, which follow every solid one.
func (v *VisualObjects) Draw(enc gpu.Encoder, fId uint8) {
	for _, b := range v.index[v.lastSolidBucket:] {
		b.draw(enc, fId, gpu.PassForward, 0)
	}
}

// DrawGBuffer records the solid buckets into the G-buffer.
func (v *VisualObjects) DrawGBuffer(enc gpu.Encoder, fId uint8) {
	for _, b := range v.index[:v.lastSolidBucket] {
		b.draw(enc, fId, gpu.PassGBuffer, 0)
	}
}

// DrawShadow records the solid buckets into shadow cascade layer.
func (v *VisualObjects) DrawShadow(enc gpu.Encoder, fId uint8, layer int) {
	view := 1 + layer
	if view >= MaxViews {
		return
	}
	for _, b := range v.index[:v.lastSolidBucket] {
		b.draw(enc, fId, gpu.PassShadow, view)
	}
}

// DrawHiZ records the solid buckets into the occlusion depth pyramid.
func (v *VisualObjects) DrawHiZ(enc gpu.Encoder, fId uint8) {
	for _, b := range v.index[:v.lastSolidBucket] {
		b.draw(enc, fId, gpu.PassHiZ, 0)
	}
}

// ResetIndex drops the draw order. Adding a bucket or a bucket becoming
// empty or non-empty does this automatically; call it after changing
// anything else the order depends on.
func (v *VisualObjects) ResetIndex() {
	v.index = v.index[:0]
	v.lastSolidBucket = 0
}

// MkIndex builds the draw order if it is not built. Non-empty buckets are
// sorted by alpha order, then landscape first, then texture.
func (v *VisualObjects) MkIndex() {
	if len(v.index) != 0 {
		return
	}
	for _, b := range v.buckets {
		if b.size > 0 {
			v.index = append(v.index, b)
		}
	}
	slices.SortStableFunc(v.index, func(l, r *Bucket) int {
		if c := cmp.Compare(l.mat.AlphaOrder(), r.mat.AlphaOrder()); c != 0 {
			return c
		}
		if c := cmp.Compare(landscapeRank(l), landscapeRank(r)); c != 0 {
			return c
		}
		return cmp.Compare(l.mat.TextureID(), r.mat.TextureID())
	})

	v.lastSolidBucket = len(v.index)
	for i, b := range v.index {
		if !b.mat.IsSolid() {
			v.lastSolidBucket = i
			break
		}
	}
}

func landscapeRank(b *Bucket) int {
	if b.kind == Landscape {
		return 0
	}
	return 1
}

// Index returns the current draw order; empty until MkIndex runs.
func (v *VisualObjects) Index() []*Bucket {
	return v.index
}

// LastSolidBucket returns the position of the first blended bucket in the
// draw order, or its length when every bucket is solid.
func (v *VisualObjects) LastSolidBucket() int {
	return v.lastSolidBucket
}

// Buckets returns every bucket in creation order.
func (v *VisualObjects) Buckets() []*Bucket {
	return v.buckets
}

// ResetTlas schedules a TLAS rebuild.
func (v *VisualObjects) ResetTlas() {
	v.tlasPending = true
}

// SetLandscapeBlas sets the landscape geometry added to every TLAS with an
// identity transform. Nil removes it.
func (v *VisualObjects) SetLandscapeBlas(blas gpu.AccelerationStructure) {
	v.landBlas = blas
	v.tlasPending = true
}

// OnTlasChanged registers fn to run after each TLAS rebuild.
func (v *VisualObjects) OnTlasChanged(fn func(gpu.AccelerationStructure)) {
	v.onTlas = append(v.onTlas, fn)
}

// Tlas returns the current top-level acceleration structure, or nil.
func (v *VisualObjects) Tlas() gpu.AccelerationStructure {
	return v.tlas
}

func (v *VisualObjects) rayQueryActive() bool {
	return v.globals.TLASEnabled && v.features.RayQuery()
}

func (v *VisualObjects) mkTlas() error {
	if !v.tlasPending || !v.rayQueryActive() {
		return nil
	}
	v.tlasPending = false

	if err := v.dev.WaitIdle(); err != nil {
		v.tlasPending = true
		return fmt.Errorf("visual: wait idle before tlas: %w", err)
	}

	var inst []gpu.RtInstance
	for _, b := range v.buckets {
		inst = b.fillTlas(inst)
	}
	if v.landBlas != nil && !v.landBlas.Empty() {
		inst = append(inst, gpu.RtInstance{Transform: math.Identity(), Blas: v.landBlas})
	}

	tlas, err := v.dev.NewTlas(inst)
	if err != nil {
		v.tlasPending = true
		return fmt.Errorf("visual: build tlas: %w", err)
	}
	if v.tlas != nil {
		v.tlas.Release()
	}
	v.tlas = tlas
	v.log.Debug("tlas rebuilt", zap.Int("instances", len(inst)))
	for _, fn := range v.onTlas {
		fn(tlas)
	}
	return nil
}

// Recycle releases r once the GPU can no longer be using it. Empty
// resources are ignored.
func (v *VisualObjects) Recycle(r gpu.Resource) {
	if r == nil || r.Empty() {
		return
	}
	v.recycled[v.recycledID] = append(v.recycled[v.recycledID], r)
}

// Recycled returns the number of resources waiting in frame slot fId.
func (v *VisualObjects) Recycled(fId uint8) int {
	return len(v.recycled[fId])
}

// Release frees every resource owned by the collection. The device must be
// idle.
func (v *VisualObjects) Release() {
	for _, b := range v.buckets {
		b.release()
	}
	for f := range v.recycled {
		for _, r := range v.recycled[f] {
			r.Release()
		}
		v.recycled[f] = nil
	}
	for h := range v.matrix.heaps {
		for f, buf := range v.matrix.heaps[h].ssbo {
			if buf != nil {
				buf.Release()
			}
			v.matrix.heaps[h].ssbo[f] = nil
		}
	}
	if v.tlas != nil {
		v.tlas.Release()
		v.tlas = nil
	}
}
