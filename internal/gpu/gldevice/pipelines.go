package gldevice

import (
	"github.com/go-gl/gl/v4.1-core/gl"

	"github.com/Faultbox/worldview/internal/engine/shader"
	"github.com/Faultbox/worldview/internal/gpu"
)

// program is a linked shader variant with its per-draw uniform locations.
type program struct {
	name         uint32
	baseInstance int32
	cascade      int32
	tlasNodes    int32
}

func newProgram(desc gpu.PipelineDesc) (*program, error) {
	defs := definesFor(desc)
	name, err := shader.CompileProgram(shader.Variant(worldVertexSrc, defs...), shader.Variant(worldFragmentSrc, defs...))
	if err != nil {
		return nil, err
	}
	return link(name), nil
}

func newResolveProgram(rayQuery bool) (*program, error) {
	var defs []string
	if rayQuery {
		defs = append(defs, "RAY_QUERY")
	}
	name, err := shader.CompileProgram(shader.Variant(resolveVertexSrc, defs...), shader.Variant(resolveFragmentSrc, defs...))
	if err != nil {
		return nil, err
	}
	return link(name), nil
}

// newReduceProgram builds the Hi-Z max-reduction program. The source level
// is read through the albedo unit.
func newReduceProgram() (*program, error) {
	name, err := shader.CompileProgram(shader.Variant(resolveVertexSrc), shader.Variant(hizReduceFragmentSrc))
	if err != nil {
		return nil, err
	}
	return link(name), nil
}

// link binds blocks and samplers to the fixed units and caches locations.
func link(name uint32) *program {
	shader.BindBlock(name, "Scene", sceneBlockBinding)
	for sampler, unit := range map[string]int32{
		"uAlbedo":    unitAlbedo,
		"uInstances": unitInstances,
		"uMatrices":  unitMatrices,
		"uTlasNodes": unitTlasNodes,
		"uTlasBoxes": unitTlasBoxes,
		"uShadowMap": unitShadowMap,
		"uRtDesc":    unitRtDesc,
		"uGAlbedo":   unitGAlbedo,
		"uGNormal":   unitGNormal,
		"uGPosition": unitGPosition,
	} {
		shader.BindSampler(name, sampler, unit)
	}
	gl.UseProgram(0)
	return &program{
		name:         name,
		baseInstance: shader.GetUniform(name, "uBaseInstance"),
		cascade:      shader.GetUniform(name, "uCascade"),
		tlasNodes:    shader.GetUniform(name, "uTlasNodeCount"),
	}
}

func (p *program) release() {
	if p.name != 0 {
		gl.DeleteProgram(p.name)
		p.name = 0
	}
}

// definesFor selects the shader variant for a pipeline.
func definesFor(desc gpu.PipelineDesc) []string {
	var defs []string
	switch desc.Layout {
	case gpu.LayoutSkinned:
		defs = append(defs, "LAYOUT_SKINNED")
	case gpu.LayoutParticle:
		defs = append(defs, "LAYOUT_PARTICLE")
	default:
		defs = append(defs, "LAYOUT_STATIC")
	}
	switch desc.Pass {
	case gpu.PassShadow:
		defs = append(defs, "PASS_SHADOW")
	case gpu.PassHiZ:
		defs = append(defs, "PASS_HIZ")
	case gpu.PassGBuffer:
		defs = append(defs, "PASS_GBUFFER")
	default:
		defs = append(defs, "PASS_FORWARD")
	}
	switch desc.Blend {
	case gpu.BlendAlphaTest:
		defs = append(defs, "ALPHA_TEST")
	case gpu.BlendAdditive, gpu.BlendMultiply:
		defs = append(defs, "UNLIT")
	}
	if desc.RayQuery {
		defs = append(defs, "RAY_QUERY")
	}
	return defs
}

// vertexAttrib describes one attribute of a vertex layout.
type vertexAttrib struct {
	location   uint32
	size       int32
	xtype      uint32
	normalized bool
	integer    bool
	stride     int32
	offset     uintptr
}

// Offsets follow mesh.Vertex (36 bytes) and mesh.VertexA (92 bytes).
var (
	staticFormat = []vertexAttrib{
		{location: 0, size: 3, xtype: gl.FLOAT, stride: 36, offset: 0},
		{location: 1, size: 3, xtype: gl.FLOAT, stride: 36, offset: 12},
		{location: 2, size: 2, xtype: gl.FLOAT, stride: 36, offset: 24},
		{location: 3, size: 4, xtype: gl.UNSIGNED_BYTE, normalized: true, stride: 36, offset: 32},
	}
	skinnedFormat = []vertexAttrib{
		{location: 0, size: 3, xtype: gl.FLOAT, stride: 92, offset: 0},
		{location: 1, size: 2, xtype: gl.FLOAT, stride: 92, offset: 12},
		{location: 2, size: 4, xtype: gl.UNSIGNED_BYTE, normalized: true, stride: 92, offset: 20},
		{location: 3, size: 3, xtype: gl.FLOAT, stride: 92, offset: 24},
		{location: 4, size: 3, xtype: gl.FLOAT, stride: 92, offset: 36},
		{location: 5, size: 3, xtype: gl.FLOAT, stride: 92, offset: 48},
		{location: 6, size: 3, xtype: gl.FLOAT, stride: 92, offset: 60},
		{location: 7, size: 4, xtype: gl.UNSIGNED_BYTE, integer: true, stride: 92, offset: 72},
		{location: 8, size: 4, xtype: gl.FLOAT, stride: 92, offset: 76},
	}
	vertexFormats = [...][]vertexAttrib{
		gpu.LayoutStatic:   staticFormat,
		gpu.LayoutSkinned:  skinnedFormat,
		gpu.LayoutParticle: staticFormat,
	}
)
