package visual

import "github.com/Faultbox/worldview/pkg/math"

// MaxViews is the number of frustums a visibility pass can test: the main
// view plus shadow cascades.
const MaxViews = 32

// VisibilityGroup is a uniform grid over the XZ extent of the world. Tokens
// with empty bounds are unbounded and visible in every view.
type VisibilityGroup struct {
	bounds math.AABB
	cells  int
	grid   []visCell
	always []*visToken
}

type visCell struct {
	tokens []*visToken
	box    math.AABB
	dirty  bool
}

// visToken links one bucket slot to the grid.
type visToken struct {
	bucket *Bucket
	slot   int
	box    math.AABB
	cell   int // -1 for unbounded tokens
	pos    int // index in the cell or always list
}

// NewVisibilityGroup creates a cells x cells grid over bounds.
func NewVisibilityGroup(bounds math.AABB, cells int) *VisibilityGroup {
	cells = max(cells, 1)
	return &VisibilityGroup{
		bounds: bounds,
		cells:  cells,
		grid:   make([]visCell, cells*cells),
	}
}

func (g *VisibilityGroup) cellOf(box math.AABB) int {
	if box.IsEmpty() {
		return -1
	}
	c := box.Center()
	size := g.bounds.Size()
	index := func(v, lo, extent float32) int {
		if extent <= 0 {
			return 0
		}
		i := int((v - lo) / extent * float32(g.cells))
		return min(max(i, 0), g.cells-1)
	}
	x := index(c.X, g.bounds.Min.X, size.X)
	z := index(c.Z, g.bounds.Min.Z, size.Z)
	return z*g.cells + x
}

func (g *VisibilityGroup) add(b *Bucket, slot int, box math.AABB) *visToken {
	t := &visToken{bucket: b, slot: slot}
	g.insert(t, box)
	return t
}

func (g *VisibilityGroup) insert(t *visToken, box math.AABB) {
	t.box = box
	t.cell = g.cellOf(box)
	if t.cell < 0 {
		t.pos = len(g.always)
		g.always = append(g.always, t)
		return
	}
	c := &g.grid[t.cell]
	t.pos = len(c.tokens)
	c.tokens = append(c.tokens, t)
	c.dirty = true
}

func (g *VisibilityGroup) remove(t *visToken) {
	list := &g.always
	if t.cell >= 0 {
		c := &g.grid[t.cell]
		c.dirty = true
		list = &c.tokens
	}
	last := len(*list) - 1
	moved := (*list)[last]
	(*list)[t.pos] = moved
	moved.pos = t.pos
	*list = (*list)[:last]
	t.cell, t.pos = -1, -1
}

func (g *VisibilityGroup) move(t *visToken, box math.AABB) {
	if cell := g.cellOf(box); cell == t.cell && cell >= 0 {
		t.box = box
		g.grid[cell].dirty = true
		return
	}
	g.remove(t)
	g.insert(t, box)
}

// Len returns the number of tokens.
func (g *VisibilityGroup) Len() int {
	n := len(g.always)
	for i := range g.grid {
		n += len(g.grid[i].tokens)
	}
	return n
}

// Pass marks every token visible in each frustum it intersects. View i of
// the result is frustums[i]; frustums past MaxViews are ignored.
func (g *VisibilityGroup) Pass(frustums []math.Frustum) {
	views := min(len(frustums), MaxViews)
	all := uint32(1)<<views - 1
	if views == MaxViews {
		all = ^uint32(0)
	}
	for _, t := range g.always {
		t.bucket.markVisible(t.slot, all)
	}

	for i := range g.grid {
		c := &g.grid[i]
		if len(c.tokens) == 0 {
			continue
		}
		if c.dirty {
			c.box = math.EmptyAABB()
			for _, t := range c.tokens {
				c.box = c.box.Union(t.box)
			}
			c.dirty = false
		}
		for v := 0; v < views; v++ {
			if !frustums[v].IntersectsAABB(c.box) {
				continue
			}
			bit := uint32(1) << v
			for _, t := range c.tokens {
				if frustums[v].IntersectsAABB(t.box) {
					t.bucket.markVisible(t.slot, bit)
				}
			}
		}
	}
}
