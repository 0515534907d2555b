package mesh

// Cube returns a unit cube centered at the origin with per-face normals.
func Cube(color uint32) ([]Vertex, []uint32) {
	faces := [6]struct {
		n    [3]float32
		u, v [3]float32
	}{
		{[3]float32{1, 0, 0}, [3]float32{0, 0, -1}, [3]float32{0, 1, 0}},
		{[3]float32{-1, 0, 0}, [3]float32{0, 0, 1}, [3]float32{0, 1, 0}},
		{[3]float32{0, 1, 0}, [3]float32{1, 0, 0}, [3]float32{0, 0, -1}},
		{[3]float32{0, -1, 0}, [3]float32{1, 0, 0}, [3]float32{0, 0, 1}},
		{[3]float32{0, 0, 1}, [3]float32{1, 0, 0}, [3]float32{0, 1, 0}},
		{[3]float32{0, 0, -1}, [3]float32{-1, 0, 0}, [3]float32{0, 1, 0}},
	}

	verts := make([]Vertex, 0, 24)
	indices := make([]uint32, 0, 36)
	for _, f := range faces {
		base := uint32(len(verts))
		for _, c := range [4][2]float32{{-1, -1}, {1, -1}, {1, 1}, {-1, 1}} {
			var pos [3]float32
			for k := 0; k < 3; k++ {
				pos[k] = 0.5 * (f.n[k] + c[0]*f.u[k] + c[1]*f.v[k])
			}
			verts = append(verts, Vertex{
				Pos:   pos,
				Norm:  f.n,
				UV:    [2]float32{(c[0] + 1) / 2, (c[1] + 1) / 2},
				Color: color,
			})
		}
		indices = append(indices, base, base+1, base+2, base, base+2, base+3)
	}
	return verts, indices
}

// Grid returns a flat XZ grid of cells*cells quads spanning size units,
// centered at the origin. heightAt, when set, displaces each vertex.
func Grid(cells int, size float32, heightAt func(x, z float32) float32) ([]Vertex, []uint32) {
	if cells < 1 {
		cells = 1
	}
	step := size / float32(cells)
	half := size / 2

	verts := make([]Vertex, 0, (cells+1)*(cells+1))
	for j := 0; j <= cells; j++ {
		for i := 0; i <= cells; i++ {
			x := float32(i)*step - half
			z := float32(j)*step - half
			var y float32
			if heightAt != nil {
				y = heightAt(x, z)
			}
			verts = append(verts, Vertex{
				Pos:   [3]float32{x, y, z},
				Norm:  [3]float32{0, 1, 0},
				UV:    [2]float32{float32(i) / float32(cells), float32(j) / float32(cells)},
				Color: 0xffffffff,
			})
		}
	}

	row := uint32(cells + 1)
	indices := make([]uint32, 0, cells*cells*6)
	for j := uint32(0); j < uint32(cells); j++ {
		for i := uint32(0); i < uint32(cells); i++ {
			a := j*row + i
			indices = append(indices, a, a+row, a+1, a+1, a+row, a+row+1)
		}
	}
	return verts, indices
}

// Rod returns a square column of the given height split into bones
// segments, each vertex fully weighted to the segment it sits in.
func Rod(bones int, height float32) ([]VertexA, []uint32) {
	if bones < 1 {
		bones = 1
	}
	seg := height / float32(bones)
	ring := [4][2]float32{{-0.25, -0.25}, {0.25, -0.25}, {0.25, 0.25}, {-0.25, 0.25}}

	verts := make([]VertexA, 0, (bones+1)*4)
	for b := 0; b <= bones; b++ {
		bone := uint8(min(b, bones-1))
		for _, r := range ring {
			p := [3]float32{r[0], float32(b) * seg, r[1]}
			verts = append(verts, VertexA{
				Norm:    [3]float32{r[0] * 4, 0, r[1] * 4},
				UV:      [2]float32{0, float32(b) / float32(bones)},
				Color:   0xffffffff,
				Pos:     [4][3]float32{p},
				BoneID:  [4]uint8{bone},
				Weights: [4]float32{1},
			})
		}
	}

	indices := make([]uint32, 0, bones*24)
	for b := uint32(0); b < uint32(bones); b++ {
		lo, hi := b*4, (b+1)*4
		for k := uint32(0); k < 4; k++ {
			n := (k + 1) % 4
			indices = append(indices, lo+k, lo+n, hi+n, lo+k, hi+n, hi+k)
		}
	}
	return verts, indices
}
