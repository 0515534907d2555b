package math

// Plane is Normal·p + D = 0 with the normal pointing inside.
type Plane struct {
	Normal Vec3
	D      float32
}

// Normalize scales the plane so the normal has unit length.
func (p *Plane) Normalize() {
	l := p.Normal.Length()
	if l == 0 {
		return
	}
	p.Normal = p.Normal.Scale(1 / l)
	p.D /= l
}

// Distance returns the signed distance from the plane to a point.
// Positive is on the normal side.
func (p Plane) Distance(point Vec3) float32 {
	return p.Normal.Dot(point) + p.D
}

// Frustum planes are ordered Left, Right, Bottom, Top, Near, Far.
type Frustum struct {
	Planes [6]Plane
}

// Frustum plane indices.
const (
	FrustumLeft = iota
	FrustumRight
	FrustumBottom
	FrustumTop
	FrustumNear
	FrustumFar
)

// FrustumFromMatrix extracts normalized, inward-facing planes from a
// view-projection matrix (Gribb/Hartmann).
func FrustumFromMatrix(m Mat4) Frustum {
	row := func(i int) (Vec3, float32) {
		return Vec3{m[i], m[i+4], m[i+8]}, m[i+12]
	}
	r0, d0 := row(0)
	r1, d1 := row(1)
	r2, d2 := row(2)
	r3, d3 := row(3)

	var f Frustum
	f.Planes[FrustumLeft] = Plane{r3.Add(r0), d3 + d0}
	f.Planes[FrustumRight] = Plane{r3.Sub(r0), d3 - d0}
	f.Planes[FrustumBottom] = Plane{r3.Add(r1), d3 + d1}
	f.Planes[FrustumTop] = Plane{r3.Sub(r1), d3 - d1}
	f.Planes[FrustumNear] = Plane{r3.Add(r2), d3 + d2}
	f.Planes[FrustumFar] = Plane{r3.Sub(r2), d3 - d2}

	for i := range f.Planes {
		f.Planes[i].Normalize()
	}
	return f
}

// IntersectsAABB reports whether any part of the box is inside the frustum,
// using the positive-vertex test per plane. Empty boxes never intersect.
func (f Frustum) IntersectsAABB(box AABB) bool {
	if box.IsEmpty() {
		return false
	}
	for i := range f.Planes {
		p := f.Planes[i]
		v := Vec3{
			pick(p.Normal.X >= 0, box.Max.X, box.Min.X),
			pick(p.Normal.Y >= 0, box.Max.Y, box.Min.Y),
			pick(p.Normal.Z >= 0, box.Max.Z, box.Min.Z),
		}
		if p.Distance(v) < 0 {
			return false
		}
	}
	return true
}

// ContainsPoint tests if a point is inside the frustum.
func (f Frustum) ContainsPoint(p Vec3) bool {
	for i := range f.Planes {
		if f.Planes[i].Distance(p) < 0 {
			return false
		}
	}
	return true
}

func pick(cond bool, a, b float32) float32 {
	if cond {
		return a
	}
	return b
}
