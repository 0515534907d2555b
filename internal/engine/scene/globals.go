package scene

import (
	"fmt"
	"unsafe"

	"github.com/Faultbox/worldview/internal/gpu"
	"github.com/Faultbox/worldview/pkg/math"
)

// MaxCascades is the number of shadow cascades the scene uniforms can hold.
const MaxCascades = 4

// Uniforms is the per-frame scene data every pipeline reads at
// gpu.BindingScene. Field order matches the std140 block in the shaders.
type Uniforms struct {
	ViewProj   math.Mat4
	Shadow     [MaxCascades]math.Mat4
	SunDir     math.Vec4
	Ambient    math.Vec4
	CameraPos  math.Vec4
	Cascades   uint32
	RayQuery   uint32
	ScreenSize [2]float32
}

// UniformsSize is the byte size of Uniforms.
var UniformsSize = int(unsafe.Sizeof(Uniforms{}))

// Globals holds state shared by everything drawn in a frame: feature
// toggles, the per-frame scene uniform buffers and the culling frustums.
type Globals struct {
	// TLASEnabled permits building and binding the top-level acceleration
	// structure.
	TLASEnabled bool

	frames int
	ubo    []gpu.Buffer
	dirty  []bool
	data   Uniforms
}

// NewGlobals allocates one uniform buffer per frame in flight.
func NewGlobals(dev gpu.Device, framesInFlight int, tlasEnabled bool) (*Globals, error) {
	if framesInFlight < 1 {
		return nil, fmt.Errorf("scene: frames in flight must be positive, got %d", framesInFlight)
	}
	g := &Globals{
		TLASEnabled: tlasEnabled,
		frames:      framesInFlight,
		ubo:         make([]gpu.Buffer, framesInFlight),
		dirty:       make([]bool, framesInFlight),
		data:        Uniforms{ViewProj: math.Identity()},
	}
	for i := range g.ubo {
		buf, err := dev.NewBuffer(gpu.UsageUniform, gpu.HeapUpload, UniformsSize)
		if err != nil {
			g.Release()
			return nil, fmt.Errorf("scene: uniform buffer %d: %w", i, err)
		}
		g.ubo[i] = buf
		g.dirty[i] = true
	}
	return g, nil
}

// FramesInFlight returns the frame ring size.
func (g *Globals) FramesInFlight() int {
	return g.frames
}

// SceneUbo returns the uniform buffer for frame slot fId.
func (g *Globals) SceneUbo(fId uint8) gpu.Buffer {
	return g.ubo[fId]
}

// Uniforms returns the current scene data.
func (g *Globals) Uniforms() Uniforms {
	return g.data
}

// SetUniforms replaces the scene data; every frame slot uploads it on its
// next Commit.
func (g *Globals) SetUniforms(u Uniforms) {
	g.data = u
	for i := range g.dirty {
		g.dirty[i] = true
	}
}

// Frustums returns the main view frustum followed by one frustum per
// active shadow cascade.
func (g *Globals) Frustums() []math.Frustum {
	n := min(int(g.data.Cascades), MaxCascades)
	out := make([]math.Frustum, 0, 1+n)
	out = append(out, math.FrustumFromMatrix(g.data.ViewProj))
	for i := 0; i < n; i++ {
		out = append(out, math.FrustumFromMatrix(g.data.Shadow[i]))
	}
	return out
}

// Commit uploads the scene data for frame slot fId if it changed.
func (g *Globals) Commit(fId uint8) error {
	if !g.dirty[fId] {
		return nil
	}
	data := unsafe.Slice((*byte)(unsafe.Pointer(&g.data)), UniformsSize)
	if err := g.ubo[fId].Update(0, data); err != nil {
		return fmt.Errorf("scene: upload frame %d: %w", fId, err)
	}
	g.dirty[fId] = false
	return nil
}

// Release frees the uniform buffers.
func (g *Globals) Release() {
	for _, b := range g.ubo {
		if b != nil {
			b.Release()
		}
	}
}
