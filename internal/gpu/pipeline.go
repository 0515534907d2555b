package gpu

import "fmt"

// Pass identifies a render pass.
type Pass uint8

const (
	PassShadow Pass = iota
	PassHiZ
	PassGBuffer
	PassForward
	PassCount
)

func (p Pass) String() string {
	switch p {
	case PassShadow:
		return "shadow"
	case PassHiZ:
		return "hiz"
	case PassGBuffer:
		return "gbuffer"
	case PassForward:
		return "forward"
	default:
		return fmt.Sprintf("pass(%d)", uint8(p))
	}
}

// VertexLayout identifies a vertex format.
type VertexLayout uint8

const (
	LayoutStatic   VertexLayout = iota // mesh.Vertex, indexed
	LayoutSkinned                      // mesh.VertexA, indexed, skinning matrices
	LayoutParticle                     // mesh.Vertex, not indexed
)

// Blend selects fixed-function blending.
type Blend uint8

const (
	BlendOpaque Blend = iota
	BlendAlphaTest
	BlendAlpha
	BlendAdditive
	BlendMultiply
)

// PipelineDesc is the full pipeline state a draw needs. It is comparable and
// used as a cache key by backends.
type PipelineDesc struct {
	Pass   Pass
	Layout VertexLayout
	Blend  Blend
	// RayQuery pipelines bind the TLAS and a per-instance descriptor buffer.
	RayQuery bool
}

// Encoder records commands for one frame.
type Encoder interface {
	// BeginPass starts a pass; layer selects the shadow cascade for PassShadow.
	BeginPass(pass Pass, layer int)
	EndPass()
	SetPipeline(desc PipelineDesc)
	SetDescriptors(set DescriptorSet)
	// DrawIndexed draws instanceCount instances starting at firstInstance.
	DrawIndexed(vbo, ibo Buffer, firstIndex, indexCount, firstInstance, instanceCount int)
	Draw(vbo Buffer, firstVertex, vertexCount int)
}
