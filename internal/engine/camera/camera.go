// Package camera provides the orbiting view used to inspect a scene.
package camera

import (
	gomath "math"

	"github.com/charmbracelet/harmonica"

	"github.com/Faultbox/worldview/pkg/math"
)

// OrbitCamera orbits around a center point.
type OrbitCamera struct {
	Center math.Vec3

	// Spherical coordinates
	Distance  float32
	RotationX float32 // pitch, radians
	RotationY float32 // yaw, radians

	// Projection
	FovY   float32 // radians
	Aspect float32
	Near   float32
	Far    float32

	// Constraints
	MinDistance float32
	MaxDistance float32
	MinPitch    float32
	MaxPitch    float32

	// Sensitivity
	DragSensitivity float32
	ZoomSensitivity float32

	// Smoothing; input moves goal and Update eases toward it.
	smooth bool
	spring harmonica.Spring
	goal   orbit
	vel    [3]float64
}

type orbit struct {
	distance, pitch, yaw float32
}

// NewOrbitCamera creates an orbit camera with default settings.
func NewOrbitCamera(aspect float32) *OrbitCamera {
	return &OrbitCamera{
		Distance:        60,
		RotationX:       0.6,
		FovY:            float32(gomath.Pi / 3),
		Aspect:          aspect,
		Near:            0.5,
		Far:             2000,
		MinDistance:     2,
		MaxDistance:     1500,
		MinPitch:        0.05,
		MaxPitch:        1.5,
		DragSensitivity: 0.005,
		ZoomSensitivity: 0.1,
	}
}

// Position returns the camera position in world space.
func (c *OrbitCamera) Position() math.Vec3 {
	x := c.Distance * float32(gomath.Cos(float64(c.RotationX))*gomath.Sin(float64(c.RotationY)))
	y := c.Distance * float32(gomath.Sin(float64(c.RotationX)))
	z := c.Distance * float32(gomath.Cos(float64(c.RotationX))*gomath.Cos(float64(c.RotationY)))
	return c.Center.Add(math.V3(x, y, z))
}

// ViewMatrix returns the view matrix.
func (c *OrbitCamera) ViewMatrix() math.Mat4 {
	return math.LookAt(c.Position(), c.Center, math.V3(0, 1, 0))
}

// ProjectionMatrix returns the perspective projection.
func (c *OrbitCamera) ProjectionMatrix() math.Mat4 {
	return math.Perspective(c.FovY, c.Aspect, c.Near, c.Far)
}

// ViewProj returns projection * view.
func (c *OrbitCamera) ViewProj() math.Mat4 {
	return c.ProjectionMatrix().Mul(c.ViewMatrix())
}

// Frustum returns the culling frustum.
func (c *OrbitCamera) Frustum() math.Frustum {
	return math.FrustumFromMatrix(c.ViewProj())
}

// SetAspect updates the aspect ratio after a resize.
func (c *OrbitCamera) SetAspect(width, height int) {
	if height > 0 {
		c.Aspect = float32(width) / float32(height)
	}
}

// HandleDrag updates rotation based on mouse drag delta.
func (c *OrbitCamera) HandleDrag(deltaX, deltaY float32) {
	o := c.target()
	o.yaw -= deltaX * c.DragSensitivity
	o.pitch += deltaY * c.DragSensitivity
	o.pitch = min(max(o.pitch, c.MinPitch), c.MaxPitch)
	c.setTarget(o)
}

// HandleZoom updates distance based on scroll wheel delta.
func (c *OrbitCamera) HandleZoom(delta float32) {
	o := c.target()
	o.distance -= delta * o.distance * c.ZoomSensitivity
	o.distance = min(max(o.distance, c.MinDistance), c.MaxDistance)
	c.setTarget(o)
}

// Smooth makes drag and zoom ease in over frames ticked at fps instead of
// applying at once. fps <= 0 turns smoothing off and snaps to the goal.
func (c *OrbitCamera) Smooth(fps int) {
	if fps <= 0 {
		if c.smooth {
			c.smooth = false
			c.setTarget(c.goal)
		}
		return
	}
	if !c.smooth {
		c.goal = c.target()
	}
	c.smooth = true
	c.spring = harmonica.NewSpring(harmonica.FPS(fps), 8.0, 1.0)
	c.vel = [3]float64{}
}

// Update advances the smoothing springs by one frame.
func (c *OrbitCamera) Update() {
	if !c.smooth {
		return
	}
	step := func(cur *float32, vel *float64, goal float32) {
		pos, v := c.spring.Update(float64(*cur), *vel, float64(goal))
		*cur, *vel = float32(pos), v
	}
	step(&c.Distance, &c.vel[0], c.goal.distance)
	step(&c.RotationX, &c.vel[1], c.goal.pitch)
	step(&c.RotationY, &c.vel[2], c.goal.yaw)
}

func (c *OrbitCamera) target() orbit {
	if c.smooth {
		return c.goal
	}
	return orbit{c.Distance, c.RotationX, c.RotationY}
}

func (c *OrbitCamera) setTarget(o orbit) {
	if c.smooth {
		c.goal = o
		return
	}
	c.Distance, c.RotationX, c.RotationY = o.distance, o.pitch, o.yaw
}

// HandleMovement pans the center on the XZ plane relative to the yaw.
func (c *OrbitCamera) HandleMovement(forward, right, up float32) {
	speed := c.Distance * 0.01

	dirX := float32(gomath.Sin(float64(c.RotationY)))
	dirZ := float32(gomath.Cos(float64(c.RotationY)))
	rightX := float32(gomath.Cos(float64(c.RotationY)))
	rightZ := float32(-gomath.Sin(float64(c.RotationY)))

	// W moves into the scene.
	c.Center.X += (-dirX*forward + rightX*right) * speed
	c.Center.Z += (-dirZ*forward + rightZ*right) * speed
	c.Center.Y += up * speed
}

// FitToBounds centers the camera on bounds and backs off far enough to see
// its horizontal extent.
func (c *OrbitCamera) FitToBounds(bounds math.AABB) {
	if bounds.IsEmpty() {
		return
	}
	c.Center = bounds.Center()
	size := bounds.Size()
	c.Distance = min(max(max(size.X, size.Z)*0.75, c.MinDistance), c.MaxDistance)
	c.RotationX = 0.6
	c.RotationY = 0
	c.goal = orbit{c.Distance, c.RotationX, c.RotationY}
	c.vel = [3]float64{}
}
