package visual

import (
	"fmt"

	"github.com/Faultbox/worldview/internal/engine/mesh"
	"github.com/Faultbox/worldview/internal/gpu"
)

// layoutSig distinguishes buckets that bind a per-instance ray-query
// descriptor buffer from those that do not.
type layoutSig uint8

const (
	sigPlain layoutSig = iota
	sigInstanceDesc
)

func (s layoutSig) String() string {
	if s == sigInstanceDesc {
		return "instance-desc"
	}
	return "plain"
}

type factoryKey struct {
	kind Kind
	sig  layoutSig
}

// drawStrategy is the kind-specific part of a bucket.
type drawStrategy interface {
	layout() gpu.VertexLayout
	// instanced strategies read per-slot data from the instance buffer.
	instanced() bool
	draw(enc gpu.Encoder, b *Bucket, fId uint8, bit uint32)
}

var bucketFactory = map[factoryKey]func() drawStrategy{
	{Static, sigPlain}:           func() drawStrategy { return instancedDraw{gpu.LayoutStatic} },
	{Movable, sigPlain}:          func() drawStrategy { return instancedDraw{gpu.LayoutStatic} },
	{Landscape, sigPlain}:        func() drawStrategy { return instancedDraw{gpu.LayoutStatic} },
	{Static, sigInstanceDesc}:    func() drawStrategy { return instancedDraw{gpu.LayoutStatic} },
	{Movable, sigInstanceDesc}:   func() drawStrategy { return instancedDraw{gpu.LayoutStatic} },
	{Landscape, sigInstanceDesc}: func() drawStrategy { return instancedDraw{gpu.LayoutStatic} },
	{Animated, sigPlain}:         func() drawStrategy { return instancedDraw{gpu.LayoutSkinned} },
	{Pfx, sigPlain}:              func() drawStrategy { return particleDraw{} },
}

func strategyFor(kind Kind, desc gpu.Buffer) drawStrategy {
	key := factoryKey{kind: kind, sig: sigPlain}
	if desc != nil {
		key.sig = sigInstanceDesc
	}
	mk, ok := bucketFactory[key]
	if !ok {
		panic(fmt.Sprintf("visual: no bucket layout for %s/%s", key.kind, key.sig))
	}
	return mk()
}

// instancedDraw issues one indexed draw per run of adjacent visible slots
// that share an index range.
type instancedDraw struct {
	vertexLayout gpu.VertexLayout
}

func (s instancedDraw) layout() gpu.VertexLayout { return s.vertexLayout }

func (instancedDraw) instanced() bool { return true }

func (instancedDraw) draw(enc gpu.Encoder, b *Bucket, fId uint8, bit uint32) {
	var vbo, ibo gpu.Buffer
	switch {
	case b.static != nil:
		vbo, ibo = b.static.VBO, b.static.IBO
	case b.anim != nil:
		vbo, ibo = b.anim.VBO, b.anim.IBO
	default:
		return
	}

	n := len(b.slots)
	for i := 0; i < n; {
		if !b.visible(i, bit) {
			i++
			continue
		}
		first := &b.slots[i]
		j := i + 1
		for j < n && b.visible(j, bit) &&
			b.slots[j].iboOffset == first.iboOffset && b.slots[j].iboLen == first.iboLen {
			j++
		}
		enc.DrawIndexed(vbo, ibo, first.iboOffset, first.iboLen, i, j-i)
		i = j
	}
}

// particleDraw draws each visible slot's vertex stream for the frame.
type particleDraw struct{}

func (particleDraw) layout() gpu.VertexLayout { return gpu.LayoutParticle }

func (particleDraw) instanced() bool { return false }

func (particleDraw) draw(enc gpu.Encoder, b *Bucket, fId uint8, bit uint32) {
	for i := range b.slots {
		if !b.visible(i, bit) {
			continue
		}
		vbo := b.slots[i].pfx[fId]
		if vbo == nil || vbo.Empty() {
			continue
		}
		if n := vbo.Size() / mesh.VertexSize; n > 0 {
			enc.Draw(vbo, 0, n)
		}
	}
}
