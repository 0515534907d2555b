// Package picking casts rays from screen positions into the world.
package picking

import (
	gomath "math"

	"github.com/Faultbox/worldview/pkg/math"
)

// Ray is a half-line with a normalized direction.
type Ray struct {
	Origin math.Vec3
	Dir    math.Vec3
}

// View is the perspective a screen ray is cast from.
type View struct {
	Eye    math.Vec3
	Target math.Vec3
	FovY   float32 // radians
	Aspect float32
}

// ScreenToRay returns the ray through pixel (x, y) of a width x height
// viewport, with y growing downward.
func ScreenToRay(v View, x, y, width, height float32) Ray {
	ndcX := 2*x/width - 1
	ndcY := 1 - 2*y/height

	forward := v.Target.Sub(v.Eye).Normalize()
	right := forward.Cross(math.V3(0, 1, 0)).Normalize()
	up := right.Cross(forward)

	tanHalf := float32(gomath.Tan(float64(v.FovY) / 2))
	dir := forward.
		Add(right.Scale(ndcX * tanHalf * v.Aspect)).
		Add(up.Scale(ndcY * tanHalf))
	return Ray{Origin: v.Eye, Dir: dir.Normalize()}
}

// At returns the point at distance t along the ray.
func (r Ray) At(t float32) math.Vec3 {
	return r.Origin.Add(r.Dir.Scale(t))
}

// IntersectPlaneY intersects the ray with the horizontal plane at height y.
func (r Ray) IntersectPlaneY(y float32) (math.Vec3, bool) {
	if gomath.Abs(float64(r.Dir.Y)) < 0.001 {
		return math.Vec3{}, false // parallel
	}
	t := (y - r.Origin.Y) / r.Dir.Y
	if t < 0 {
		return math.Vec3{}, false
	}
	return r.At(t), true
}

// IntersectAABB returns the distance to the entry point of box, or to the
// exit point when the ray starts inside it.
func (r Ray) IntersectAABB(box math.AABB) (float32, bool) {
	if box.IsEmpty() {
		return 0, false
	}
	tmin := float32(-gomath.MaxFloat32)
	tmax := float32(gomath.MaxFloat32)

	for axis := 0; axis < 3; axis++ {
		o, d := r.Origin.Axis(axis), r.Dir.Axis(axis)
		lo, hi := box.Min.Axis(axis), box.Max.Axis(axis)
		if d == 0 {
			if o < lo || o > hi {
				return 0, false
			}
			continue
		}
		t1, t2 := (lo-o)/d, (hi-o)/d
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		tmin = max(tmin, t1)
		tmax = min(tmax, t2)
	}

	if tmax < tmin || tmax < 0 {
		return 0, false
	}
	if tmin < 0 {
		return tmax, true
	}
	return tmin, true
}

// Nearest returns the index of the closest box the ray hits.
func Nearest(r Ray, boxes []math.AABB) (int, float32, bool) {
	best, bestT := -1, float32(gomath.MaxFloat32)
	for i, b := range boxes {
		if t, ok := r.IntersectAABB(b); ok && t < bestT {
			best, bestT = i, t
		}
	}
	return best, bestT, best >= 0
}
