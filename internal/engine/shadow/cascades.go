// Package shadow computes directional-light shadow cascades.
package shadow

import (
	"github.com/Faultbox/worldview/pkg/math"
)

// DefaultResolution is the default shadow map resolution.
const DefaultResolution = 2048

// DirectionalMatrix returns a light view-projection covering all of bounds.
// lightDir points toward the light.
func DirectionalMatrix(lightDir math.Vec3, bounds math.AABB) math.Mat4 {
	center := bounds.Center()
	radius := bounds.Radius()
	return lightMatrix(lightDir, center, radius, radius)
}

// FocusMatrix returns a light view-projection for a sphere of radius around
// focus. sceneHeight extends the depth range so tall casters outside the
// sphere still land in the map.
func FocusMatrix(lightDir, focus math.Vec3, radius, sceneHeight float32) math.Mat4 {
	return lightMatrix(lightDir, focus, radius, radius+sceneHeight)
}

func lightMatrix(lightDir, focus math.Vec3, radius, depth float32) math.Mat4 {
	dir := lightDir.Normalize()
	dist := depth * 2
	eye := focus.Add(dir.Scale(dist))

	up := math.V3(0, 1, 0)
	if abs32(dir.Y) > 0.99 {
		up = math.V3(0, 0, 1)
	}
	view := math.LookAt(eye, focus, up)

	half := radius * 1.1
	proj := math.Ortho(-half, half, -half, half, 0.1, dist+depth*1.1)
	return proj.Mul(view)
}

// Cascades returns n light matrices centered on focus. The first covers
// baseRadius, each next one doubles it, and none exceeds the scene.
func Cascades(lightDir, focus math.Vec3, baseRadius float32, scene math.AABB, n int) []math.Mat4 {
	if n <= 0 {
		return nil
	}
	sceneRadius := scene.Radius()
	height := scene.Size().Y
	out := make([]math.Mat4, n)
	r := baseRadius
	for i := range out {
		out[i] = FocusMatrix(lightDir, focus, min(r, sceneRadius), height)
		r *= 2
	}
	return out
}

func abs32(x float32) float32 {
	if x < 0 {
		return -x
	}
	return x
}
