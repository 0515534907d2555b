package visual

import (
	"github.com/Faultbox/worldview/internal/engine/material"
	"github.com/Faultbox/worldview/internal/gpu"
	"github.com/Faultbox/worldview/pkg/math"
)

// Item is a handle to one rendered instance. It is a key into the owning
// VisualObjects, not a reference: once released, every copy of the handle
// goes stale and operations on it do nothing. The zero Item renders nothing.
type Item struct {
	owner  *VisualObjects
	bucket int32
	slot   int32
	gen    uint32
}

func (it Item) resolve() (*Bucket, int, bool) {
	if it.owner == nil {
		return nil, 0, false
	}
	b := it.owner.buckets[it.bucket]
	s := &b.slots[it.slot]
	if !s.used || s.gen != it.gen {
		return nil, 0, false
	}
	return b, int(it.slot), true
}

// Empty reports whether the handle refers to no live instance.
func (it Item) Empty() bool {
	_, _, ok := it.resolve()
	return !ok
}

// Release frees the slot and clears the handle.
func (it *Item) Release() {
	if b, id, ok := it.resolve(); ok {
		b.free(id)
	}
	*it = Item{}
}

// SetObjMatrix sets the object-to-world transform.
func (it Item) SetObjMatrix(m math.Mat4) {
	if b, id, ok := it.resolve(); ok {
		b.setObjMatrix(id, m)
	}
}

// SetPfxData replaces the particle vertex stream drawn in frame slot fId.
func (it Item) SetPfxData(fId uint8, vbo gpu.Buffer) {
	if b, id, ok := it.resolve(); ok {
		b.setPfxData(id, fId, vbo)
	}
}

// Material returns the material the item draws with.
func (it Item) Material() material.Material {
	if b, _, ok := it.resolve(); ok {
		return b.mat
	}
	return material.Material{}
}

// Kind returns the kind of the owning bucket.
func (it Item) Kind() Kind {
	if b, _, ok := it.resolve(); ok {
		return b.kind
	}
	return Static
}

// Bounds returns the world-space bounds; empty for particles and stale handles.
func (it Item) Bounds() math.AABB {
	if b, id, ok := it.resolve(); ok {
		s := &b.slots[id]
		return s.local.Transform(s.pos)
	}
	return math.EmptyAABB()
}

// Bucket returns the owning bucket, or nil.
func (it Item) Bucket() *Bucket {
	b, _, _ := it.resolve()
	return b
}
