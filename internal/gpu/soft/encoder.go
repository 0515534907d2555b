package soft

import "github.com/Faultbox/worldview/internal/gpu"

// Op is a recorded command kind.
type Op uint8

const (
	OpBeginPass Op = iota
	OpEndPass
	OpPipeline
	OpDescriptors
	OpDrawIndexed
	OpDraw
)

// Command is one recorded encoder call.
type Command struct {
	Op            Op
	Pass          gpu.Pass
	Layer         int
	Pipeline      gpu.PipelineDesc
	Set           gpu.DescriptorSet
	VBO, IBO      gpu.Buffer
	First, Count  int
	FirstInstance int
	Instances     int
}

// Encoder records commands for inspection.
type Encoder struct {
	Frame    uint8
	Commands []Command

	pass  gpu.Pass
	layer int
	open  bool
}

// BeginPass implements gpu.Encoder.
func (e *Encoder) BeginPass(pass gpu.Pass, layer int) {
	e.pass, e.layer, e.open = pass, layer, true
	e.Commands = append(e.Commands, Command{Op: OpBeginPass, Pass: pass, Layer: layer})
}

// EndPass implements gpu.Encoder.
func (e *Encoder) EndPass() {
	e.open = false
	e.Commands = append(e.Commands, Command{Op: OpEndPass, Pass: e.pass, Layer: e.layer})
}

// SetPipeline implements gpu.Encoder.
func (e *Encoder) SetPipeline(desc gpu.PipelineDesc) {
	e.Commands = append(e.Commands, Command{Op: OpPipeline, Pass: e.pass, Layer: e.layer, Pipeline: desc})
}

// SetDescriptors implements gpu.Encoder.
func (e *Encoder) SetDescriptors(set gpu.DescriptorSet) {
	e.Commands = append(e.Commands, Command{Op: OpDescriptors, Pass: e.pass, Layer: e.layer, Set: set})
}

// DrawIndexed implements gpu.Encoder.
func (e *Encoder) DrawIndexed(vbo, ibo gpu.Buffer, firstIndex, indexCount, firstInstance, instanceCount int) {
	e.Commands = append(e.Commands, Command{
		Op:            OpDrawIndexed,
		Pass:          e.pass,
		Layer:         e.layer,
		VBO:           vbo,
		IBO:           ibo,
		First:         firstIndex,
		Count:         indexCount,
		FirstInstance: firstInstance,
		Instances:     instanceCount,
	})
}

// Draw implements gpu.Encoder.
func (e *Encoder) Draw(vbo gpu.Buffer, firstVertex, vertexCount int) {
	e.Commands = append(e.Commands, Command{
		Op:        OpDraw,
		Pass:      e.pass,
		Layer:     e.layer,
		VBO:       vbo,
		First:     firstVertex,
		Count:     vertexCount,
		Instances: 1,
	})
}

// Draws returns the draw commands recorded in pass.
func (e *Encoder) Draws(pass gpu.Pass) []Command {
	var out []Command
	for _, c := range e.Commands {
		if (c.Op == OpDraw || c.Op == OpDrawIndexed) && c.Pass == pass {
			out = append(out, c)
		}
	}
	return out
}

// InstanceCount sums drawn instances in pass.
func (e *Encoder) InstanceCount(pass gpu.Pass) int {
	n := 0
	for _, c := range e.Draws(pass) {
		n += c.Instances
	}
	return n
}
