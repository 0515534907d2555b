package gldevice

import (
	"fmt"

	"github.com/go-gl/gl/v4.1-core/gl"
	"go.uber.org/zap"

	"github.com/Faultbox/worldview/internal/gpu"
)

type op uint8

const (
	opBeginPass op = iota
	opEndPass
	opPipeline
	opDescriptors
	opDrawIndexed
	opDraw
)

type command struct {
	op            op
	pass          gpu.Pass
	layer         int
	desc          gpu.PipelineDesc
	set           *DescriptorSet
	vbo, ibo      *Buffer
	first, count  int
	firstInstance int
	instances     int
}

// Encoder records one frame of commands for Device.Submit.
type Encoder struct {
	frame    uint8
	commands []command

	pass gpu.Pass
	open bool
}

// BeginPass implements gpu.Encoder.
func (e *Encoder) BeginPass(pass gpu.Pass, layer int) {
	e.pass, e.open = pass, true
	e.commands = append(e.commands, command{op: opBeginPass, pass: pass, layer: layer})
}

// EndPass implements gpu.Encoder.
func (e *Encoder) EndPass() {
	e.open = false
	e.commands = append(e.commands, command{op: opEndPass, pass: e.pass})
}

// SetPipeline implements gpu.Encoder.
func (e *Encoder) SetPipeline(desc gpu.PipelineDesc) {
	e.commands = append(e.commands, command{op: opPipeline, desc: desc})
}

// SetDescriptors implements gpu.Encoder. Sets from other devices are ignored.
func (e *Encoder) SetDescriptors(set gpu.DescriptorSet) {
	s, _ := set.(*DescriptorSet)
	e.commands = append(e.commands, command{op: opDescriptors, set: s})
}

// DrawIndexed implements gpu.Encoder.
func (e *Encoder) DrawIndexed(vbo, ibo gpu.Buffer, firstIndex, indexCount, firstInstance, instanceCount int) {
	vb, _ := vbo.(*Buffer)
	ib, _ := ibo.(*Buffer)
	e.commands = append(e.commands, command{
		op:            opDrawIndexed,
		vbo:           vb,
		ibo:           ib,
		first:         firstIndex,
		count:         indexCount,
		firstInstance: firstInstance,
		instances:     instanceCount,
	})
}

// Draw implements gpu.Encoder.
func (e *Encoder) Draw(vbo gpu.Buffer, firstVertex, vertexCount int) {
	vb, _ := vbo.(*Buffer)
	e.commands = append(e.commands, command{op: opDraw, vbo: vb, first: firstVertex, count: vertexCount})
}

// replayState is the GL state tracked while replaying a frame.
type replayState struct {
	pass    gpu.Pass
	layer   int32
	program *program
	desc    gpu.PipelineDesc
	set     *DescriptorSet
	layout  gpu.VertexLayout
	vbo     *Buffer
	tlas    *AccelerationStructure
	scene   *Buffer
}

func (d *Device) replay(cmds []command) error {
	d.state = replayState{}
	for _, c := range cmds {
		switch c.op {
		case opBeginPass:
			d.beginPass(c.pass, c.layer)
		case opEndPass:
			d.endPass(c.pass)
		case opPipeline:
			if err := d.bindPipeline(c.desc); err != nil {
				return err
			}
		case opDescriptors:
			d.state.set = c.set
			d.applySet()
		case opDrawIndexed:
			if d.state.program == nil || c.vbo.Empty() || c.ibo.Empty() {
				continue
			}
			d.bindVertices(c.vbo, c.ibo)
			gl.Uniform1i(d.state.program.baseInstance, int32(c.firstInstance))
			gl.DrawElementsInstanced(gl.TRIANGLES, int32(c.count), gl.UNSIGNED_INT,
				gl.PtrOffset(c.first*4), int32(c.instances))
		case opDraw:
			if d.state.program == nil || c.vbo.Empty() {
				continue
			}
			d.bindVertices(c.vbo, nil)
			gl.DrawArrays(gl.TRIANGLES, int32(c.first), int32(c.count))
		}
	}
	gl.BindVertexArray(0)
	gl.UseProgram(0)
	return glError("replay")
}

func (d *Device) bindPipeline(desc gpu.PipelineDesc) error {
	p, ok := d.programs[desc]
	if !ok {
		var err error
		p, err = newProgram(desc)
		if err != nil {
			return fmt.Errorf("pipeline %+v: %w", desc, err)
		}
		d.programs[desc] = p
		d.log.Debug("pipeline compiled",
			zap.Stringer("pass", desc.Pass),
			zap.Uint8("layout", uint8(desc.Layout)),
			zap.Uint8("blend", uint8(desc.Blend)),
			zap.Bool("ray_query", desc.RayQuery),
		)
	}
	d.state.program = p
	d.state.desc = desc
	gl.UseProgram(p.name)
	gl.Uniform1i(p.cascade, d.state.layer)
	applyBlend(desc)

	if d.state.layout != desc.Layout || d.state.vbo == nil {
		d.state.layout = desc.Layout
		d.state.vbo = nil
		gl.BindVertexArray(d.vaos[desc.Layout])
	}
	d.applySet()
	return nil
}

// applySet binds the current descriptor set to the fixed units.
func (d *Device) applySet() {
	s := d.state.set
	if s.Empty() || d.state.program == nil {
		return
	}

	tex := d.white.name
	if t, ok := s.textures[gpu.BindingTexture].(*Texture); ok && t.name != 0 {
		tex = t.name
	}
	gl.ActiveTexture(gl.TEXTURE0 + unitAlbedo)
	gl.BindTexture(gl.TEXTURE_2D, tex)

	if ubo, ok := s.buffers[gpu.BindingScene].(*Buffer); ok && !ubo.Empty() {
		gl.BindBufferBase(gl.UNIFORM_BUFFER, sceneBlockBinding, ubo.name)
		d.state.scene = ubo
	}
	d.bindStorage(unitInstances, s.buffers[gpu.BindingInstances])
	d.bindStorage(unitMatrices, s.buffers[gpu.BindingMatrices])
	d.bindStorage(unitRtDesc, s.buffers[gpu.BindingRtDesc])

	tlas, _ := s.tlas.(*AccelerationStructure)
	if tlas.nodeCount() > 0 {
		d.state.tlas = tlas
		d.bindStorage(unitTlasNodes, tlas.nodes)
		d.bindStorage(unitTlasBoxes, tlas.boxes)
	}
	gl.Uniform1i(d.state.program.tlasNodes, d.state.tlas.nodeCount())
}

func (d *Device) bindStorage(unit uint32, buf gpu.Buffer) {
	b, ok := buf.(*Buffer)
	if !ok || b.Empty() || b.view == 0 {
		b = d.dummy
	}
	gl.ActiveTexture(gl.TEXTURE0 + unit)
	gl.BindTexture(gl.TEXTURE_BUFFER, b.view)
}

// bindVertices points the current layout's attributes at vbo.
func (d *Device) bindVertices(vbo, ibo *Buffer) {
	if ibo != nil {
		gl.BindBuffer(gl.ELEMENT_ARRAY_BUFFER, ibo.name)
	}
	if d.state.vbo == vbo {
		return
	}
	d.state.vbo = vbo
	gl.BindBuffer(gl.ARRAY_BUFFER, vbo.name)
	for _, a := range vertexFormats[d.state.layout] {
		gl.EnableVertexAttribArray(a.location)
		if a.integer {
			gl.VertexAttribIPointerWithOffset(a.location, a.size, a.xtype, a.stride, a.offset)
		} else {
			gl.VertexAttribPointerWithOffset(a.location, a.size, a.xtype, a.normalized, a.stride, a.offset)
		}
	}
}

func (d *Device) beginPass(pass gpu.Pass, layer int) {
	d.state.pass = pass
	d.state.layer = int32(layer)
	d.state.program = nil
	gl.Enable(gl.DEPTH_TEST)
	gl.DepthFunc(gl.LEQUAL)
	gl.DepthMask(true)
	gl.Disable(gl.BLEND)
	gl.Enable(gl.CULL_FACE)
	gl.CullFace(gl.BACK)

	switch pass {
	case gpu.PassShadow:
		d.shadow.bind(int32(layer))
	case gpu.PassHiZ:
		d.hiz.bind()
	case gpu.PassGBuffer:
		d.gbuf.bind()
	case gpu.PassForward:
		d.resolveGBuffer()
	}
}

func (d *Device) endPass(pass gpu.Pass) {
	switch pass {
	case gpu.PassShadow:
		d.shadow.unbind()
	case gpu.PassHiZ:
		d.hiz.buildMips(d.reduce, d.emptyVAO)
		d.state.vbo = nil
		d.state.program = nil
	}
	gl.DepthMask(true)
	gl.Disable(gl.BLEND)
	gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
}

// resolveGBuffer lights the G-buffer into the default framebuffer and copies
// its depth so forward draws are occluded by opaque geometry.
func (d *Device) resolveGBuffer() {
	gl.BindFramebuffer(gl.FRAMEBUFFER, 0)
	gl.Viewport(0, 0, d.width, d.height)
	gl.ClearColor(skyColor[0], skyColor[1], skyColor[2], 1)
	gl.Clear(gl.COLOR_BUFFER_BIT | gl.DEPTH_BUFFER_BIT)

	if d.state.scene != nil {
		gl.Disable(gl.DEPTH_TEST)
		gl.Disable(gl.CULL_FACE)
		gl.UseProgram(d.resolve.name)
		d.gbuf.bindTextures()
		d.shadow.bindTexture()
		if d.state.tlas.nodeCount() > 0 {
			d.bindStorage(unitTlasNodes, d.state.tlas.nodes)
			d.bindStorage(unitTlasBoxes, d.state.tlas.boxes)
		}
		gl.Uniform1i(d.resolve.tlasNodes, d.state.tlas.nodeCount())
		gl.BindVertexArray(d.emptyVAO)
		gl.DrawArrays(gl.TRIANGLES, 0, 3)
		gl.Enable(gl.DEPTH_TEST)
		gl.Enable(gl.CULL_FACE)
	}

	d.gbuf.blitDepth(d.width, d.height)
	if err := glError("depth blit"); err != nil {
		d.log.Warn("G-buffer depth not copied", zap.Error(err))
	}
	d.shadow.bindTexture()
	d.state.vbo = nil
	d.state.program = nil
}

func applyBlend(desc gpu.PipelineDesc) {
	if desc.Pass != gpu.PassForward {
		gl.Disable(gl.BLEND)
		gl.DepthMask(true)
		return
	}
	switch desc.Blend {
	case gpu.BlendAlpha:
		gl.Enable(gl.BLEND)
		gl.BlendFunc(gl.SRC_ALPHA, gl.ONE_MINUS_SRC_ALPHA)
		gl.DepthMask(false)
	case gpu.BlendAdditive:
		gl.Enable(gl.BLEND)
		gl.BlendFunc(gl.SRC_ALPHA, gl.ONE)
		gl.DepthMask(false)
	case gpu.BlendMultiply:
		gl.Enable(gl.BLEND)
		gl.BlendFunc(gl.DST_COLOR, gl.ZERO)
		gl.DepthMask(false)
	default:
		gl.Disable(gl.BLEND)
		gl.DepthMask(true)
	}
}
