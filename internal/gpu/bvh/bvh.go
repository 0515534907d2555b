// Package bvh builds bounding volume hierarchies over axis-aligned boxes.
//
// Both device backends use it: the soft device keeps the tree as its
// acceleration structure, the GL device flattens it into a texture buffer
// that shaders traverse for ray queries.
package bvh

import (
	"sync"

	"github.com/Faultbox/worldview/pkg/math"
)

// Binned SAH evaluation uses this many bins per axis.
const bins = 16

// Node is one tree node. Leaves have Count > 0 and reference
// Tree.Order[First:First+Count]; inner nodes reference two children.
type Node struct {
	Bounds      math.AABB
	Left, Right int32
	First       int32
	Count       int32
}

// Leaf reports whether the node holds primitives.
func (n Node) Leaf() bool {
	return n.Count > 0
}

// Tree is a flattened hierarchy; node 0 is the root.
type Tree struct {
	Nodes []Node
	// Order maps leaf slots to indices of the input boxes.
	Order []int
}

// Stats summarizes a build.
type Stats struct {
	Nodes    int
	Leaves   int
	MaxDepth int
}

type builder struct {
	boxes   []math.AABB
	centers []math.Vec3
	minLeaf int
	tree    Tree
	stats   Stats
}

type split struct {
	axis  int
	bin   int
	score float32
	cmin  float32
	scale float32
}

// Build constructs a tree over boxes using the surface area heuristic.
// Ranges with minLeafItems or fewer boxes always become leaves.
// Empty input produces an empty tree.
func Build(boxes []math.AABB, minLeafItems int) (Tree, Stats) {
	if minLeafItems < 1 {
		minLeafItems = 1
	}
	b := &builder{
		boxes:   boxes,
		centers: make([]math.Vec3, len(boxes)),
		minLeaf: minLeafItems,
	}
	if len(boxes) == 0 {
		return b.tree, b.stats
	}

	b.tree.Order = make([]int, len(boxes))
	for i := range boxes {
		b.tree.Order[i] = i
		b.centers[i] = boxes[i].Center()
	}
	b.partition(0, len(boxes), 0)
	return b.tree, b.stats
}

func (b *builder) partition(first, last, depth int) int32 {
	b.stats.MaxDepth = max(b.stats.MaxDepth, depth)

	bounds := math.EmptyAABB()
	centroids := math.EmptyAABB()
	for _, idx := range b.tree.Order[first:last] {
		bounds = bounds.Union(b.boxes[idx])
		centroids = centroids.Extend(b.centers[idx])
	}

	self := int32(len(b.tree.Nodes))
	b.tree.Nodes = append(b.tree.Nodes, Node{Bounds: bounds})
	b.stats.Nodes++

	count := last - first
	if count <= b.minLeaf {
		return b.leaf(self, first, count)
	}

	best, ok := b.bestSplit(first, last, centroids, float32(count)*bounds.SurfaceArea())
	if !ok {
		return b.leaf(self, first, count)
	}

	// In-place partition by bin.
	mid := first
	for i := first; i < last; i++ {
		idx := b.tree.Order[i]
		if binOf(b.centers[idx].Axis(best.axis), best.cmin, best.scale) < best.bin {
			b.tree.Order[i], b.tree.Order[mid] = b.tree.Order[mid], b.tree.Order[i]
			mid++
		}
	}

	left := b.partition(first, mid, depth+1)
	right := b.partition(mid, last, depth+1)
	b.tree.Nodes[self].Left = left
	b.tree.Nodes[self].Right = right
	return self
}

func (b *builder) leaf(self int32, first, count int) int32 {
	b.tree.Nodes[self].First = int32(first)
	b.tree.Nodes[self].Count = int32(count)
	b.stats.Leaves++
	return self
}

// bestSplit scores every bin boundary on each axis concurrently and returns
// the cheapest split that beats leafCost.
func (b *builder) bestSplit(first, last int, centroids math.AABB, leafCost float32) (split, bool) {
	var (
		wg         sync.WaitGroup
		candidates [3]split
		found      [3]bool
	)
	for axis := 0; axis < 3; axis++ {
		extent := centroids.Max.Axis(axis) - centroids.Min.Axis(axis)
		if extent < 1e-6 {
			continue
		}
		wg.Add(1)
		go func(axis int, extent float32) {
			defer wg.Done()
			candidates[axis], found[axis] = b.scoreAxis(first, last, axis, centroids.Min.Axis(axis), bins/extent)
		}(axis, extent)
	}
	wg.Wait()

	best := split{score: leafCost}
	ok := false
	for axis := 0; axis < 3; axis++ {
		if found[axis] && candidates[axis].score < best.score {
			best = candidates[axis]
			ok = true
		}
	}
	return best, ok
}

func (b *builder) scoreAxis(first, last, axis int, cmin, scale float32) (split, bool) {
	var (
		counts [bins]int
		boxes  [bins]math.AABB
	)
	for i := range boxes {
		boxes[i] = math.EmptyAABB()
	}
	for _, idx := range b.tree.Order[first:last] {
		k := binOf(b.centers[idx].Axis(axis), cmin, scale)
		counts[k]++
		boxes[k] = boxes[k].Union(b.boxes[idx])
	}

	// Sweep from the right so each boundary is scored in O(1).
	var rightArea [bins]float32
	var rightCount [bins]int
	acc := math.EmptyAABB()
	n := 0
	for k := bins - 1; k > 0; k-- {
		acc = acc.Union(boxes[k])
		n += counts[k]
		rightArea[k] = acc.SurfaceArea()
		rightCount[k] = n
	}

	best := split{axis: axis, cmin: cmin, scale: scale}
	ok := false
	acc = math.EmptyAABB()
	n = 0
	for k := 1; k < bins; k++ {
		acc = acc.Union(boxes[k-1])
		n += counts[k-1]
		if n == 0 || rightCount[k] == 0 {
			continue
		}
		score := float32(n)*acc.SurfaceArea() + float32(rightCount[k])*rightArea[k]
		if !ok || score < best.score {
			best.bin = k
			best.score = score
			ok = true
		}
	}
	return best, ok
}

func binOf(c, cmin, scale float32) int {
	k := int((c - cmin) * scale)
	if k < 0 {
		return 0
	}
	if k >= bins {
		return bins - 1
	}
	return k
}

// Bounds returns the root bounds, or an empty box for an empty tree.
func (t Tree) Bounds() math.AABB {
	if len(t.Nodes) == 0 {
		return math.EmptyAABB()
	}
	return t.Nodes[0].Bounds
}

// Query calls fn with the index of every input box whose leaf overlaps box.
// Traversal stops early when fn returns false.
func (t Tree) Query(box math.AABB, fn func(idx int) bool) {
	if len(t.Nodes) == 0 {
		return
	}
	stack := []int32{0}
	for len(stack) > 0 {
		n := t.Nodes[stack[len(stack)-1]]
		stack = stack[:len(stack)-1]
		if !n.Bounds.Intersects(box) {
			continue
		}
		if n.Leaf() {
			for _, idx := range t.Order[n.First : n.First+n.Count] {
				if !fn(idx) {
					return
				}
			}
			continue
		}
		stack = append(stack, n.Right, n.Left)
	}
}
