// Package material describes how a surface is shaded and blended.
package material

import "github.com/Faultbox/worldview/internal/gpu"

// AlphaFunc is the blending mode of a material.
type AlphaFunc uint8

const (
	Solid AlphaFunc = iota
	AlphaTest
	Water
	Ghost
	Multiply
	Multiply2
	Transparent
	AdditiveLight
)

var alphaNames = [...]string{
	Solid:         "solid",
	AlphaTest:     "alpha-test",
	Water:         "water",
	Ghost:         "ghost",
	Multiply:      "multiply",
	Multiply2:     "multiply2",
	Transparent:   "transparent",
	AdditiveLight: "additive",
}

func (a AlphaFunc) String() string {
	if int(a) < len(alphaNames) {
		return alphaNames[a]
	}
	return "unknown"
}

// ParseAlpha maps a name produced by String back to an AlphaFunc.
func ParseAlpha(name string) (AlphaFunc, bool) {
	for i, n := range alphaNames {
		if n == name {
			return AlphaFunc(i), true
		}
	}
	return Solid, false
}

// Material is a comparable shading record. Two materials batch together
// only if they are equal, which includes texture identity.
type Material struct {
	Tex   gpu.Texture
	Alpha AlphaFunc
}

// AlphaOrder ranks materials for drawing: solid surfaces first, then
// alpha-tested, water, and the blended modes back to front by how much they
// depend on what is already in the color buffer.
func (m Material) AlphaOrder() int {
	return int(m.Alpha)
}

// IsSolid reports whether the material writes depth without blending, so it
// can take part in depth-only, shadow and G-buffer passes.
func (m Material) IsSolid() bool {
	return m.Alpha == Solid || m.Alpha == AlphaTest
}

// TextureID returns the texture identity, 0 when there is none.
func (m Material) TextureID() uint64 {
	if m.Tex == nil {
		return 0
	}
	return m.Tex.ID()
}

// Blend maps the alpha function to fixed-function blending.
func (m Material) Blend() gpu.Blend {
	switch m.Alpha {
	case Solid:
		return gpu.BlendOpaque
	case AlphaTest:
		return gpu.BlendAlphaTest
	case Multiply, Multiply2:
		return gpu.BlendMultiply
	case AdditiveLight:
		return gpu.BlendAdditive
	default:
		return gpu.BlendAlpha
	}
}
