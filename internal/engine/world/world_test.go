package world

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
	"go.uber.org/zap/zaptest"

	"github.com/Faultbox/worldview/internal/engine/picking"
	"github.com/Faultbox/worldview/internal/engine/scene"
	"github.com/Faultbox/worldview/internal/engine/visual"
	"github.com/Faultbox/worldview/internal/gpu"
	"github.com/Faultbox/worldview/internal/gpu/soft"
	"github.com/Faultbox/worldview/pkg/math"
)

const testScene = `
seed: 3
textures:
  grass: {color_a: "4a7a3a", color_b: "3d6b30"}
  crate: {size: 16, checker: 2, color_a: "a0783c", color_b: "6e5028"}
terrain: {cells: 8, size: 100, amplitude: 2, texture: grass, blas: true}
groups:
  - {name: crates, texture: crate, count: 5, area: [-40, -40, 40, 40], y: 0.5, blas: true}
  - {name: carts, kind: movable, texture: crate, count: 2, area: [-10, -10, 10, 10], speed: 1}
  - {name: glass, texture: crate, alpha: transparent, count: 1, area: [0, 0, 0, 0], y: 2}
  - {name: ghosts, count: 3}
  - {name: dancers, mesh: rod, kind: animated, texture: crate, count: 2, bones: 3}
particles:
  - {name: fires, texture: crate, emitters: 2, quads: 4}
`

type fixture struct {
	dev *soft.Device
	vo  *visual.VisualObjects
	w   *World
}

func newFixture(t *testing.T, yaml string) *fixture {
	t.Helper()
	desc, err := scene.ParseDescription([]byte(yaml))
	if err != nil {
		t.Fatalf("ParseDescription: %v", err)
	}
	dev := soft.New(soft.WithRayQuery(true))
	globals, err := scene.NewGlobals(dev, 2, true)
	if err != nil {
		t.Fatalf("NewGlobals: %v", err)
	}
	log := zaptest.NewLogger(t)
	bounds := math.NewAABB(math.V3(-100, -20, -100), math.V3(100, 20, 100))
	vo := visual.New(dev, globals, visual.FixedFeatures{RayQueryEnabled: true}, bounds,
		visual.WithCapacity(4), visual.WithLogger(log))
	w, err := Populate(vo, dev, desc, WithLogger(log))
	if err != nil {
		t.Fatalf("Populate: %v", err)
	}
	t.Cleanup(func() {
		w.Release()
		vo.Release()
		globals.Release()
	})
	return &fixture{dev: dev, vo: vo, w: w}
}

func TestPopulate(t *testing.T) {
	f := newFixture(t, testScene)

	st := f.w.Stats()
	want := Stats{Items: 1 + 5 + 2 + 1 + 2 + 2, Movers: 2, Dancers: 2, Emitters: 2, Skipped: 3}
	if st != want {
		t.Errorf("Stats = %+v, want %+v", st, want)
	}

	kinds := map[visual.Kind]int{}
	for _, b := range f.vo.Buckets() {
		kinds[b.Kind()] += b.Size()
	}
	wantKinds := map[visual.Kind]int{
		visual.Landscape: 1,
		visual.Static:    6,
		visual.Movable:   2,
		visual.Animated:  2,
		visual.Pfx:       2,
	}
	for k, n := range wantKinds {
		if kinds[k] != n {
			t.Errorf("%s items = %d, want %d", k, kinds[k], n)
		}
	}

	if f.dev.Counters.Textures != 2 {
		t.Errorf("textures created = %d, want 2", f.dev.Counters.Textures)
	}
	if b := f.w.Bounds(); b.IsEmpty() || b.Min.X > -40 || b.Max.X < 40 {
		t.Errorf("Bounds = %+v does not cover the terrain", b)
	}
}

func TestPopulateIsDeterministic(t *testing.T) {
	a := newFixture(t, testScene)
	b := newFixture(t, testScene)
	if a.w.Bounds() != b.w.Bounds() {
		t.Errorf("same seed placed differently: %+v vs %+v", a.w.Bounds(), b.w.Bounds())
	}
}

func TestPopulateBuildsTlas(t *testing.T) {
	f := newFixture(t, testScene)
	if err := f.vo.PreFrameUpdate(0); err != nil {
		t.Fatalf("PreFrameUpdate: %v", err)
	}
	tlas, ok := f.vo.Tlas().(*soft.AccelerationStructure)
	if !ok {
		t.Fatalf("Tlas = %T", f.vo.Tlas())
	}
	// Five crates plus the landscape.
	if len(tlas.Instances) != 6 {
		t.Errorf("TLAS instances = %d, want 6", len(tlas.Instances))
	}
	if f.dev.Counters.Blas != 2 {
		t.Errorf("BLAS built = %d, want one for the cube and one for the terrain", f.dev.Counters.Blas)
	}
}

func TestAnimate(t *testing.T) {
	f := newFixture(t, testScene)
	before := make([]math.AABB, len(f.w.movers))
	for i, m := range f.w.movers {
		before[i] = m.item.Bounds()
	}

	f.w.Animate(1.5)
	for i, m := range f.w.movers {
		if m.item.Bounds() == before[i] {
			t.Errorf("mover %d did not move", i)
		}
	}

	if err := f.vo.PreFrameUpdate(0); err != nil {
		t.Fatalf("PreFrameUpdate: %v", err)
	}
	mats := f.vo.MatrixSsbo(gpu.HeapUpload, 0)
	if mats == nil || mats.Size() == 0 {
		t.Fatal("skinning matrices not committed")
	}
}

func TestUpdateParticles(t *testing.T) {
	f := newFixture(t, testScene)
	if err := f.w.UpdateParticles(1, 0.25); err != nil {
		t.Fatalf("UpdateParticles: %v", err)
	}
	e := f.w.emitters[0]
	data := e.bufs[1].(*soft.Buffer).Bytes()
	if len(data) != 4*6*36 {
		t.Fatalf("stream is %d bytes, want %d", len(data), 4*6*36)
	}
	allZero := true
	for _, c := range data {
		if c != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		t.Error("frame 1 stream not written")
	}
	for _, c := range e.bufs[0].(*soft.Buffer).Bytes() {
		if c != 0 {
			t.Fatal("frame 0 stream written by a frame 1 update")
		}
	}
}

func TestReleaseFreesEverything(t *testing.T) {
	desc, err := scene.ParseDescription([]byte(testScene))
	if err != nil {
		t.Fatal(err)
	}
	dev := soft.New(soft.WithRayQuery(true))
	globals, err := scene.NewGlobals(dev, 2, true)
	if err != nil {
		t.Fatal(err)
	}
	vo := visual.New(dev, globals, visual.FixedFeatures{RayQueryEnabled: true},
		math.NewAABB(math.V3(-100, -20, -100), math.V3(100, 20, 100)), visual.WithLogger(zaptest.NewLogger(t)))
	w, err := Populate(vo, dev, desc, WithLogger(zaptest.NewLogger(t)))
	if err != nil {
		t.Fatal(err)
	}
	if err := vo.PreFrameUpdate(0); err != nil {
		t.Fatal(err)
	}

	w.Release()
	vo.Release()
	globals.Release()
	if dev.Live() != 0 {
		t.Errorf("%d resources still live", dev.Live())
	}
	for _, b := range vo.Buckets() {
		if b.Size() != 0 {
			t.Errorf("%s bucket still holds %d items", b.Kind(), b.Size())
		}
	}
}

func TestPopulateDeviceFailure(t *testing.T) {
	desc, err := scene.ParseDescription([]byte(testScene))
	if err != nil {
		t.Fatal(err)
	}
	dev := soft.New()
	globals, err := scene.NewGlobals(dev, 1, false)
	if err != nil {
		t.Fatal(err)
	}
	vo := visual.New(dev, globals, nil, math.NewAABB(math.V3(-1, -1, -1), math.V3(1, 1, 1)),
		visual.WithLogger(zaptest.NewLogger(t)))
	dev.FailNext = gpu.ErrUnsupported
	if _, err := Populate(vo, dev, desc, WithLogger(zaptest.NewLogger(t))); err == nil {
		t.Fatal("device failure not reported")
	}
}

func TestChecker(t *testing.T) {
	px, err := Checker(scene.TextureDesc{Size: 4, Checker: 2, ColorA: "ff0000", ColorB: "0000ff"})
	if err != nil {
		t.Fatalf("Checker: %v", err)
	}
	at := func(x, y int) [4]byte {
		o := (y*4 + x) * 4
		return [4]byte{px[o], px[o+1], px[o+2], px[o+3]}
	}
	red, blue := [4]byte{255, 0, 0, 255}, [4]byte{0, 0, 255, 255}
	if at(0, 0) != red || at(1, 1) != red || at(2, 0) != blue || at(0, 2) != blue || at(3, 3) != red {
		t.Errorf("unexpected pattern %v", px)
	}
	if _, err := Checker(scene.TextureDesc{Size: 4, Checker: 2, ColorA: "nope", ColorB: "000000"}); err == nil {
		t.Error("bad color accepted")
	}
}

func TestPixelsFromFile(t *testing.T) {
	dir := t.TempDir()
	// 2x1 top-down 24-bit TGA: magenta then green.
	tga := make([]byte, 18)
	tga[2], tga[12], tga[14], tga[16], tga[17] = 2, 2, 1, 24, 0x20
	tga = append(tga, 255, 0, 255, 0, 255, 0)
	if err := os.WriteFile(filepath.Join(dir, "key.tga"), tga, 0o644); err != nil {
		t.Fatal(err)
	}

	w, h, px, err := Pixels(dir, scene.TextureDesc{File: "key.tga", ColorKey: "ff00ff"})
	if err != nil {
		t.Fatalf("Pixels: %v", err)
	}
	if w != 2 || h != 1 || len(px) != 8 {
		t.Fatalf("got %dx%d with %d bytes", w, h, len(px))
	}
	if px[3] != 0 || px[7] != 255 {
		t.Errorf("alpha = %d, %d; want the magenta pixel keyed out", px[3], px[7])
	}

	w, h, px, err = Pixels(dir, scene.TextureDesc{File: filepath.Join(dir, "key.tga"), Size: 4})
	if err != nil {
		t.Fatalf("Pixels resized: %v", err)
	}
	if w != 4 || h != 4 || len(px) != 64 {
		t.Errorf("resized to %dx%d with %d bytes", w, h, len(px))
	}

	if _, _, _, err := Pixels(dir, scene.TextureDesc{File: "missing.png"}); err == nil {
		t.Error("missing file accepted")
	}
}

func TestPopulateGLTFGroup(t *testing.T) {
	dir := t.TempDir()
	doc := gltf.NewDocument()
	pos := modeler.WritePosition(doc, [][3]float32{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}})
	doc.Meshes = []*gltf.Mesh{{Primitives: []*gltf.Primitive{{
		Attributes: map[string]int{gltf.POSITION: pos},
	}}}}
	if err := gltf.SaveBinary(doc, filepath.Join(dir, "tri.glb")); err != nil {
		t.Fatal(err)
	}

	desc, err := scene.ParseDescription([]byte(`
textures:
  t: {color_a: "ffffff", color_b: "000000"}
groups:
  - {name: a, mesh: tri.glb, texture: t, count: 3, blas: true}
  - {name: b, mesh: tri.glb, texture: t, count: 2}
`))
	if err != nil {
		t.Fatal(err)
	}
	desc.Dir = dir

	dev := soft.New()
	globals, err := scene.NewGlobals(dev, 1, false)
	if err != nil {
		t.Fatal(err)
	}
	vo := visual.New(dev, globals, nil, math.NewAABB(math.V3(-10, -10, -10), math.V3(10, 10, 10)),
		visual.WithLogger(zaptest.NewLogger(t)))
	w, err := Populate(vo, dev, desc, WithLogger(zaptest.NewLogger(t)))
	if err != nil {
		t.Fatalf("Populate: %v", err)
	}
	if st := w.Stats(); st.Items != 5 {
		t.Errorf("Items = %d, want 5", st.Items)
	}
	if len(w.shapes) != 1 || dev.Counters.Blas != 1 {
		t.Errorf("shapes = %d, BLAS = %d; want the file loaded once", len(w.shapes), dev.Counters.Blas)
	}

	w.Release()
	vo.Release()
	globals.Release()
	if dev.Live() != 0 {
		t.Errorf("%d resources still live", dev.Live())
	}
}

func TestPick(t *testing.T) {
	f := newFixture(t, `
textures:
  crate: {}
terrain: {cells: 4, size: 100, texture: crate}
groups:
  - {name: one, texture: crate, count: 1, area: [5, 5, 5, 5], y: 1}
  - {name: far, texture: crate, count: 1, area: [-20, -20, -20, -20], y: 1}
`)
	down := math.V3(0, -1, 0)

	it, d, ok := f.w.Pick(picking.Ray{Origin: math.V3(5, 100, 5), Dir: down})
	if !ok {
		t.Fatal("crate under the ray not picked")
	}
	b := it.Bounds()
	if b.Min.X > 5 || b.Max.X < 5 || b.Min.Z > 5 || b.Max.Z < 5 {
		t.Errorf("picked item at %v, want one containing x=5 z=5", b)
	}
	if want := 100 - b.Max.Y; d != want {
		t.Errorf("distance = %v, want %v", d, want)
	}

	if _, _, ok := f.w.Pick(picking.Ray{Origin: math.V3(30, 100, 30), Dir: down}); ok {
		t.Error("landscape was picked")
	}
}
