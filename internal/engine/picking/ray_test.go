package picking

import (
	gomath "math"
	"testing"

	"github.com/Faultbox/worldview/pkg/math"
)

func near(a, b math.Vec3) bool {
	d := a.Sub(b)
	return d.Length() < 1e-4
}

func TestScreenToRay(t *testing.T) {
	v := View{Eye: math.V3(0, 0, 10), Target: math.V3(0, 0, 0), FovY: gomath.Pi / 2, Aspect: 1}
	s := float32(gomath.Sqrt2 / 2)

	tests := []struct {
		name string
		x, y float32
		want math.Vec3
	}{
		{"center", 50, 50, math.V3(0, 0, -1)},
		{"right edge", 100, 50, math.V3(s, 0, -s)},
		{"top edge", 50, 0, math.V3(0, s, -s)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := ScreenToRay(v, tt.x, tt.y, 100, 100)
			if r.Origin != v.Eye {
				t.Errorf("Origin = %v", r.Origin)
			}
			if !near(r.Dir, tt.want) {
				t.Errorf("Dir = %v, want %v", r.Dir, tt.want)
			}
		})
	}
}

func TestIntersectAABB(t *testing.T) {
	box := math.NewAABB(math.V3(-1, -1, -1), math.V3(1, 1, 1))
	tests := []struct {
		name  string
		ray   Ray
		wantT float32
		hit   bool
	}{
		{"front", Ray{math.V3(0, 0, 10), math.V3(0, 0, -1)}, 9, true},
		{"inside", Ray{math.V3(0, 0, 0), math.V3(1, 0, 0)}, 1, true},
		{"behind", Ray{math.V3(0, 0, 10), math.V3(0, 0, 1)}, 0, false},
		{"parallel outside", Ray{math.V3(0, 5, 10), math.V3(0, 0, -1)}, 0, false},
		{"miss", Ray{math.V3(0, 0, 10), math.V3(0.6, 0, -0.8)}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, hit := tt.ray.IntersectAABB(box)
			if hit != tt.hit || (hit && gomath.Abs(float64(got-tt.wantT)) > 1e-4) {
				t.Errorf("IntersectAABB = %v, %v; want %v, %v", got, hit, tt.wantT, tt.hit)
			}
		})
	}
	if _, hit := (Ray{math.V3(0, 0, 10), math.V3(0, 0, -1)}).IntersectAABB(math.EmptyAABB()); hit {
		t.Error("empty box was hit")
	}
}

func TestIntersectPlaneY(t *testing.T) {
	r := Ray{math.V3(0, 10, 0), math.V3(0.6, -0.8, 0)}
	p, ok := r.IntersectPlaneY(2)
	if !ok || !near(p, math.V3(6, 2, 0)) {
		t.Errorf("IntersectPlaneY = %v, %v", p, ok)
	}
	if _, ok := r.IntersectPlaneY(20); ok {
		t.Error("plane behind the ray was hit")
	}
}

func TestNearest(t *testing.T) {
	boxes := []math.AABB{
		math.NewAABB(math.V3(-1, -1, -9), math.V3(1, 1, -7)),
		math.NewAABB(math.V3(-1, -1, -3), math.V3(1, 1, -1)),
		math.NewAABB(math.V3(5, 5, -3), math.V3(6, 6, -1)),
	}
	i, d, ok := Nearest(Ray{math.V3(0, 0, 0), math.V3(0, 0, -1)}, boxes)
	if !ok || i != 1 || d != 1 {
		t.Errorf("Nearest = %d, %v, %v; want 1, 1, true", i, d, ok)
	}
	if _, _, ok := Nearest(Ray{math.V3(0, 0, 0), math.V3(0, 0, 1)}, boxes); ok {
		t.Error("hit with nothing in front")
	}
}
