// Package world populates VisualObjects from a scene description and
// animates what it placed.
package world

import (
	"fmt"
	gomath "math"
	"math/rand/v2"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/Faultbox/worldview/internal/engine/material"
	"github.com/Faultbox/worldview/internal/engine/mesh"
	"github.com/Faultbox/worldview/internal/engine/picking"
	"github.com/Faultbox/worldview/internal/engine/scene"
	"github.com/Faultbox/worldview/internal/engine/visual"
	"github.com/Faultbox/worldview/internal/gpu"
	"github.com/Faultbox/worldview/internal/logger"
	"github.com/Faultbox/worldview/pkg/math"
)

// Option configures a World.
type Option func(*World)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(w *World) { w.log = log }
}

type mover struct {
	item   visual.Item
	origin math.Vec3
	scale  float32
	radius float32
	speed  float32
	phase  float32
}

// shape is static geometry shared by every group naming the same mesh.
type shape struct {
	mesh *mesh.StaticMesh
	blas gpu.AccelerationStructure
}

type dancer struct {
	item  visual.Item
	mats  visual.MatrixID
	bones int
	phase float32
}

type emitter struct {
	item   visual.Item
	bufs   []gpu.Buffer
	center math.Vec3
	quads  int
	phase  float32
	verts  []mesh.Vertex
}

// World owns the geometry, textures and items created from a description.
type World struct {
	vo  *visual.VisualObjects
	dev gpu.Device
	log *zap.Logger
	rng *rand.Rand

	dir      string
	textures map[string]gpu.Texture
	shapes   map[string]*shape
	rods     map[int]*mesh.AnimMesh
	terrain  *mesh.StaticMesh
	landBlas gpu.AccelerationStructure

	items    []visual.Item
	movers   []mover
	dancers  []dancer
	emitters []emitter

	bounds  math.AABB
	skipped int
}

// Stats counts what Populate placed.
type Stats struct {
	Items    int
	Movers   int
	Dancers  int
	Emitters int
	Skipped  int
}

// Populate creates every texture, mesh and item desc names. Items whose
// material has no texture are skipped and counted.
func Populate(vo *visual.VisualObjects, dev gpu.Device, desc *scene.Description, opts ...Option) (*World, error) {
	w := &World{
		vo:       vo,
		dev:      dev,
		rng:      rand.New(rand.NewPCG(desc.Seed, desc.Seed^0x9e3779b97f4a7c15)),
		dir:      desc.Dir,
		textures: make(map[string]gpu.Texture),
		shapes:   make(map[string]*shape),
		rods:     make(map[int]*mesh.AnimMesh),
		bounds:   math.EmptyAABB(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.log == nil {
		w.log = logger.Named("world")
	}

	if err := w.populate(desc); err != nil {
		w.Release()
		return nil, err
	}
	st := w.Stats()
	w.log.Info("world populated",
		zap.Int("items", st.Items),
		zap.Int("movers", st.Movers),
		zap.Int("dancers", st.Dancers),
		zap.Int("emitters", st.Emitters),
		zap.Int("skipped", st.Skipped),
	)
	return w, nil
}

func (w *World) populate(desc *scene.Description) error {
	for name, td := range desc.Textures {
		width, height, pixels, err := Pixels(desc.Dir, td)
		if err != nil {
			return fmt.Errorf("world: texture %q: %w", name, err)
		}
		tex, err := w.dev.NewTexture(width, height, pixels)
		if err != nil {
			return fmt.Errorf("world: texture %q: %w", name, err)
		}
		w.textures[name] = tex
	}

	if desc.Terrain != nil {
		if err := w.addTerrain(desc.Terrain); err != nil {
			return err
		}
	}
	for _, g := range desc.Groups {
		if err := w.addGroup(g); err != nil {
			return err
		}
	}
	for _, p := range desc.Particles {
		if err := w.addParticles(p); err != nil {
			return err
		}
	}
	return nil
}

func (w *World) material(texture, alpha string) material.Material {
	a, _ := material.ParseAlpha(alpha)
	return material.Material{Tex: w.textures[texture], Alpha: a}
}

func (w *World) keep(it visual.Item) bool {
	if it.Empty() {
		w.skipped++
		return false
	}
	w.items = append(w.items, it)
	w.bounds = w.bounds.Union(it.Bounds())
	return true
}

func (w *World) addTerrain(t *scene.TerrainDesc) error {
	freq := 2 * gomath.Pi / float64(t.Size)
	height := func(x, z float32) float32 {
		return t.Amplitude * float32(gomath.Sin(float64(x)*freq)*gomath.Cos(float64(z)*freq))
	}
	verts, indices := mesh.Grid(t.Cells, t.Size, height)
	terrain, err := mesh.NewStaticMesh(w.dev, verts, indices)
	if err != nil {
		return fmt.Errorf("world: terrain: %w", err)
	}
	w.terrain = terrain

	// The landscape joins the TLAS through SetLandscapeBlas, not its item.
	if t.Blas {
		blas, err := terrain.NewBlas(w.dev, 0, terrain.IndexCount)
		if err != nil {
			return fmt.Errorf("world: terrain: %w", err)
		}
		w.landBlas = blas
		w.vo.SetLandscapeBlas(blas)
	}
	mat := w.material(t.Texture, "solid")
	w.keep(w.vo.GetBlas(terrain, mat, 0, terrain.IndexCount, nil, nil, terrain.Bounds, visual.Landscape))
	return nil
}

func (w *World) place(area [4]float32, y float32) math.Vec3 {
	x := area[0] + w.rng.Float32()*(area[2]-area[0])
	z := area[1] + w.rng.Float32()*(area[3]-area[1])
	return math.V3(x, y, z)
}

func (w *World) addGroup(g scene.GroupDesc) error {
	mat := w.material(g.Texture, g.Alpha)
	if g.Kind == "animated" {
		return w.addDancers(g, mat)
	}

	sh, err := w.shape(g.Mesh, g.Blas)
	if err != nil {
		return fmt.Errorf("world: group %q: %w", g.Name, err)
	}
	m := sh.mesh

	kind := visual.Static
	if g.Kind == "movable" {
		kind = visual.Movable
	}
	for i := 0; i < g.Count; i++ {
		var it visual.Item
		if g.Blas {
			it = w.vo.GetBlas(m, mat, 0, m.IndexCount, sh.blas, nil, m.Bounds, kind)
		} else {
			it = w.vo.Get(m, mat, 0, m.IndexCount, kind == visual.Static)
		}
		if it.Empty() {
			w.skipped++
			continue
		}
		pos := w.place(g.Area, g.Y)
		it.SetObjMatrix(math.Translate(pos.X, pos.Y, pos.Z).Mul(math.Scale(g.Scale, g.Scale, g.Scale)))
		w.keep(it)
		if kind == visual.Movable {
			w.movers = append(w.movers, mover{
				item:   it,
				origin: pos,
				scale:  g.Scale,
				radius: 2 * g.Scale,
				speed:  g.Speed,
				phase:  w.rng.Float32() * 2 * gomath.Pi,
			})
		}
	}
	return nil
}

// shape returns the geometry named by a group: the built-in cube or a glTF
// file. withBlas builds its acceleration structure on first use.
func (w *World) shape(name string, withBlas bool) (*shape, error) {
	sh, ok := w.shapes[name]
	if !ok {
		var verts []mesh.Vertex
		var indices []uint32
		if name == "cube" {
			verts, indices = mesh.Cube(0xffffffff)
		} else {
			path := name
			if !filepath.IsAbs(path) {
				path = filepath.Join(w.dir, path)
			}
			var err error
			verts, indices, err = mesh.LoadGLTF(path)
			if err != nil {
				return nil, err
			}
		}
		m, err := mesh.NewStaticMesh(w.dev, verts, indices)
		if err != nil {
			return nil, err
		}
		sh = &shape{mesh: m}
		w.shapes[name] = sh
	}
	if withBlas && sh.blas == nil {
		blas, err := sh.mesh.NewBlas(w.dev, 0, sh.mesh.IndexCount)
		if err != nil {
			return nil, err
		}
		sh.blas = blas
	}
	return sh, nil
}

func (w *World) addDancers(g scene.GroupDesc, mat material.Material) error {
	rod, ok := w.rods[g.Bones]
	if !ok {
		verts, indices := mesh.Rod(g.Bones, 2)
		var err error
		rod, err = mesh.NewAnimMesh(w.dev, verts, indices, g.Bones)
		if err != nil {
			return fmt.Errorf("world: group %q: %w", g.Name, err)
		}
		w.rods[g.Bones] = rod
	}

	for i := 0; i < g.Count; i++ {
		mats := w.vo.GetMatrixes(gpu.HeapUpload, g.Bones)
		it := w.vo.GetAnim(rod, mat, 0, rod.IndexCount, mats)
		if it.Empty() {
			mats.Free()
			w.skipped++
			continue
		}
		pos := w.place(g.Area, g.Y)
		it.SetObjMatrix(math.Translate(pos.X, pos.Y, pos.Z).Mul(math.Scale(g.Scale, g.Scale, g.Scale)))
		w.keep(it)
		w.dancers = append(w.dancers, dancer{item: it, mats: mats, bones: g.Bones, phase: w.rng.Float32() * 2 * gomath.Pi})
	}
	return nil
}

func (w *World) addParticles(p scene.ParticleDesc) error {
	mat := w.material(p.Texture, p.Alpha)
	frames := w.vo.FramesInFlight()
	for i := 0; i < p.Emitters; i++ {
		e := emitter{
			center: w.place(p.Area, p.Y),
			quads:  p.Quads,
			phase:  w.rng.Float32(),
			verts:  make([]mesh.Vertex, p.Quads*6),
		}
		for f := 0; f < frames; f++ {
			buf, err := mesh.NewParticleBuffer(w.dev, e.verts)
			if err != nil {
				releaseAll(e.bufs)
				return fmt.Errorf("world: particles %q: %w", p.Name, err)
			}
			e.bufs = append(e.bufs, buf)
		}
		e.item = w.vo.GetPfx(e.bufs, mat)
		if e.item.Empty() {
			releaseAll(e.bufs)
			w.skipped++
			continue
		}
		w.items = append(w.items, e.item)
		w.bounds = w.bounds.Extend(e.center)
		w.emitters = append(w.emitters, e)
	}
	return nil
}

func releaseAll(bufs []gpu.Buffer) {
	for _, b := range bufs {
		b.Release()
	}
}

// Animate moves movable items around their spawn points and sways skinned
// ones. t is in seconds.
func (w *World) Animate(t float32) {
	for _, m := range w.movers {
		a := float64(m.phase + m.speed*t)
		x := m.origin.X + m.radius*float32(gomath.Cos(a))
		z := m.origin.Z + m.radius*float32(gomath.Sin(a))
		m.item.SetObjMatrix(math.Translate(x, m.origin.Y, z).Mul(math.Scale(m.scale, m.scale, m.scale)))
	}
	for _, d := range w.dancers {
		sway := 0.3 * float32(gomath.Sin(float64(t*2+d.phase)))
		for b := 0; b < d.bones; b++ {
			d.mats.SetAt(b, math.RotateAxis(math.V3(0, 0, 1), sway*float32(b)/float32(d.bones)))
		}
	}
}

// UpdateParticles rewrites every emitter's vertex stream for frame slot fId.
// Quads rise from the emitter and wrap around every second.
func (w *World) UpdateParticles(fId uint8, t float32) error {
	for i := range w.emitters {
		e := &w.emitters[i]
		for q := 0; q < e.quads; q++ {
			life := float32(gomath.Mod(float64(t+e.phase+float32(q)/float32(e.quads)), 1))
			ang := 2 * gomath.Pi * float64(q) / float64(e.quads)
			c := e.center.Add(math.V3(0.5*float32(gomath.Cos(ang)), life*3, 0.5*float32(gomath.Sin(ang))))
			writeQuad(e.verts[q*6:q*6+6], c, 0.3*(1-life), uint32(255*(1-life))<<24|0x3080ff)
		}
		if err := mesh.WriteVertices(e.bufs[fId], e.verts); err != nil {
			return fmt.Errorf("world: particles frame %d: %w", fId, err)
		}
	}
	return nil
}

// writeQuad fills six vertices with a camera-independent XY quad.
func writeQuad(out []mesh.Vertex, c math.Vec3, half float32, color uint32) {
	corners := [6][2]float32{{-1, -1}, {1, -1}, {1, 1}, {-1, -1}, {1, 1}, {-1, 1}}
	for i, k := range corners {
		out[i] = mesh.Vertex{
			Pos:   [3]float32{c.X + k[0]*half, c.Y + k[1]*half, c.Z},
			Norm:  [3]float32{0, 0, 1},
			UV:    [2]float32{(k[0] + 1) / 2, (k[1] + 1) / 2},
			Color: color,
		}
	}
}

// Bounds returns the union of every placed item's bounds.
func (w *World) Bounds() math.AABB {
	return w.bounds
}

// Pick returns the nearest item whose bounds r hits. The landscape and
// particles are never picked.
func (w *World) Pick(r picking.Ray) (visual.Item, float32, bool) {
	boxes := make([]math.AABB, len(w.items))
	for i, it := range w.items {
		if it.Kind() == visual.Landscape {
			boxes[i] = math.EmptyAABB()
			continue
		}
		boxes[i] = it.Bounds()
	}
	i, t, ok := picking.Nearest(r, boxes)
	if !ok {
		return visual.Item{}, 0, false
	}
	return w.items[i], t, true
}

// Stats returns placement counts.
func (w *World) Stats() Stats {
	return Stats{
		Items:    len(w.items),
		Movers:   len(w.movers),
		Dancers:  len(w.dancers),
		Emitters: len(w.emitters),
		Skipped:  w.skipped,
	}
}

// SunUniforms returns scene uniforms lit as desc describes. Camera and
// shadow fields are left for the renderer.
func SunUniforms(desc *scene.Description) scene.Uniforms {
	d := math.V3(desc.Sun.Direction[0], desc.Sun.Direction[1], desc.Sun.Direction[2]).Normalize()
	return scene.Uniforms{
		ViewProj: math.Identity(),
		SunDir:   math.Vec4{d.X, d.Y, d.Z, desc.Sun.Intensity},
		Ambient:  math.Vec4{desc.Sun.Ambient[0], desc.Sun.Ambient[1], desc.Sun.Ambient[2], 1},
	}
}

// Release removes every item and frees what Populate created. The device
// must be idle.
func (w *World) Release() {
	for i := range w.items {
		w.items[i].Release()
	}
	w.items = nil
	for i := range w.dancers {
		w.dancers[i].mats.Free()
	}
	w.dancers, w.movers = nil, nil
	for _, e := range w.emitters {
		releaseAll(e.bufs)
	}
	w.emitters = nil

	if w.landBlas != nil {
		w.vo.SetLandscapeBlas(nil)
		w.landBlas.Release()
		w.landBlas = nil
	}
	if w.terrain != nil {
		w.terrain.Release()
		w.terrain = nil
	}
	for name, sh := range w.shapes {
		if sh.blas != nil {
			sh.blas.Release()
		}
		sh.mesh.Release()
		delete(w.shapes, name)
	}
	for bones, rod := range w.rods {
		rod.Release()
		delete(w.rods, bones)
	}
	for name, tex := range w.textures {
		if r, ok := tex.(interface{ Release() }); ok {
			r.Release()
		}
		delete(w.textures, name)
	}
}
