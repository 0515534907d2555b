package visual

import (
	gomath "math"
	"slices"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Faultbox/worldview/internal/engine/material"
	"github.com/Faultbox/worldview/internal/engine/mesh"
	"github.com/Faultbox/worldview/internal/engine/scene"
	"github.com/Faultbox/worldview/internal/gpu"
	"github.com/Faultbox/worldview/internal/gpu/soft"
	"github.com/Faultbox/worldview/pkg/math"
)

type fixture struct {
	dev     *soft.Device
	globals *scene.Globals
	vo      *VisualObjects
	cube    *mesh.StaticMesh
}

func newFixture(t *testing.T, rayQuery bool, opts ...Option) *fixture {
	t.Helper()
	dev := soft.New(soft.WithRayQuery(rayQuery))
	globals, err := scene.NewGlobals(dev, 2, true)
	if err != nil {
		t.Fatalf("NewGlobals: %v", err)
	}
	verts, indices := mesh.Cube(0xffffffff)
	cube, err := mesh.NewStaticMesh(dev, verts, indices)
	if err != nil {
		t.Fatalf("NewStaticMesh: %v", err)
	}

	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	world := math.NewAABB(math.V3(-100, -10, -100), math.V3(100, 10, 100))
	vo := New(dev, globals, FixedFeatures{RayQueryEnabled: rayQuery}, world, opts...)
	return &fixture{dev: dev, globals: globals, vo: vo, cube: cube}
}

func (f *fixture) material(alpha material.AlphaFunc) material.Material {
	tex, err := f.dev.NewTexture(1, 1, nil)
	if err != nil {
		panic(err)
	}
	return material.Material{Tex: tex, Alpha: alpha}
}

func (f *fixture) cubeAt(t *testing.T, mat material.Material, x, y, z float32) Item {
	t.Helper()
	it := f.vo.Get(f.cube, mat, 0, f.cube.IndexCount, true)
	if it.Empty() {
		t.Fatal("Get returned an empty item")
	}
	it.SetObjMatrix(math.Translate(x, y, z))
	return it
}

func mainFrustum() math.Frustum {
	proj := math.Perspective(float32(gomath.Pi/2), 1, 0.1, 100)
	view := math.LookAt(math.V3(0, 0, 10), math.V3(0, 0, 0), math.V3(0, 1, 0))
	return math.FrustumFromMatrix(proj.Mul(view))
}

func TestBucketPacking(t *testing.T) {
	for _, capacity := range []int{2, 3} {
		for _, n := range []int{0, 1, 2, 3, 4, 7} {
			f := newFixture(t, false, WithCapacity(capacity))
			mat := f.material(material.Solid)
			for i := 0; i < n; i++ {
				f.vo.Get(f.cube, mat, 0, f.cube.IndexCount, true)
			}

			want := (n + capacity - 1) / capacity
			if got := len(f.vo.Buckets()); got != want {
				t.Errorf("capacity %d, %d items: %d buckets, want %d", capacity, n, got, want)
			}
			total := 0
			for _, b := range f.vo.Buckets() {
				if b.Size() > capacity {
					t.Errorf("bucket holds %d items, capacity %d", b.Size(), capacity)
				}
				total += b.Size()
			}
			if total != n {
				t.Errorf("buckets hold %d items, want %d", total, n)
			}
		}
	}
}

func TestMissingTextureFailSoft(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	f := newFixture(t, true, WithLogger(zap.New(core)))

	rodVerts, rodIdx := mesh.Rod(2, 2)
	rod, err := mesh.NewAnimMesh(f.dev, rodVerts, rodIdx, 2)
	if err != nil {
		t.Fatalf("NewAnimMesh: %v", err)
	}
	blas, err := f.cube.NewBlas(f.dev, 0, f.cube.IndexCount)
	if err != nil {
		t.Fatalf("NewBlas: %v", err)
	}
	noTex := material.Material{Alpha: material.Solid}

	items := map[string]Item{
		"static": f.vo.Get(f.cube, noTex, 0, f.cube.IndexCount, true),
		"blas":   f.vo.GetBlas(f.cube, noTex, 0, f.cube.IndexCount, blas, nil, f.cube.Bounds, Landscape),
		"anim":   f.vo.GetAnim(rod, noTex, 0, rod.IndexCount, f.vo.GetMatrixes(gpu.HeapUpload, 2)),
		"pfx":    f.vo.GetPfx(nil, noTex),
	}
	for name, it := range items {
		if !it.Empty() {
			t.Errorf("%s: expected empty item", name)
		}
	}
	if n := len(f.vo.Buckets()); n != 0 {
		t.Errorf("created %d buckets, want 0", n)
	}
	if n := logs.FilterMessage("material has no texture").Len(); n != 4 {
		t.Errorf("logged %d errors, want 4", n)
	}
	if f.vo.tlasPending {
		t.Error("a rejected item must not invalidate the TLAS")
	}
}

func TestGetBlasRejectsNonMeshKinds(t *testing.T) {
	for _, kind := range []Kind{Animated, Pfx} {
		t.Run(kind.String(), func(t *testing.T) {
			core, logs := observer.New(zap.ErrorLevel)
			f := newFixture(t, true, WithLogger(zap.New(core)))
			desc, err := f.dev.NewBuffer(gpu.UsageStorage, gpu.HeapDevice, 64)
			if err != nil {
				t.Fatalf("NewBuffer: %v", err)
			}
			mat := f.material(material.Solid)
			blas := mustBlas(t, f)

			for _, d := range []gpu.Buffer{nil, desc} {
				it := f.vo.GetBlas(f.cube, mat, 0, f.cube.IndexCount, blas, d, f.cube.Bounds, kind)
				if !it.Empty() {
					t.Errorf("desc %v: expected empty item", d != nil)
				}
			}
			if n := len(f.vo.Buckets()); n != 0 {
				t.Errorf("created %d buckets, want 0", n)
			}
			if n := logs.Len(); n != 2 {
				t.Errorf("logged %d errors, want 2", n)
			}
			if f.vo.tlasPending {
				t.Error("a rejected item must not invalidate the TLAS")
			}
			if err := f.vo.PreFrameUpdate(0); err != nil {
				t.Fatalf("PreFrameUpdate: %v", err)
			}
		})
	}
}

func TestIndexPermutation(t *testing.T) {
	f := newFixture(t, false, WithCapacity(2))
	mats := []material.Material{
		f.material(material.Solid),
		f.material(material.Transparent),
		f.material(material.AlphaTest),
		f.material(material.Solid),
	}
	var doomed []Item
	for i, m := range mats {
		for k := 0; k < 3; k++ {
			it := f.cubeAt(t, m, float32(i), 0, float32(k))
			if i == 2 {
				doomed = append(doomed, it)
			}
		}
	}
	for i := range doomed {
		doomed[i].Release()
	}

	f.vo.MkIndex()
	seen := make(map[*Bucket]int)
	for _, b := range f.vo.Index() {
		seen[b]++
	}
	for _, b := range f.vo.Buckets() {
		want := 0
		if b.Size() > 0 {
			want = 1
		}
		if seen[b] != want {
			t.Errorf("bucket %s/%s with %d items appears %d times", b.Kind(), b.Material().Alpha, b.Size(), seen[b])
		}
	}
	if len(f.vo.Index()) != 6 {
		t.Errorf("index has %d buckets, want 6", len(f.vo.Index()))
	}
}

func TestMkIndexIsLazy(t *testing.T) {
	f := newFixture(t, false, WithCapacity(1))
	f.cubeAt(t, f.material(material.Solid), 0, 0, 0)
	f.cubeAt(t, f.material(material.Water), 1, 0, 0)
	f.cubeAt(t, f.material(material.AlphaTest), 2, 0, 0)

	f.vo.MkIndex()
	built := slices.Clone(f.vo.Index())
	solid := f.vo.LastSolidBucket()

	slices.Reverse(f.vo.index)
	f.vo.MkIndex()
	if slices.Equal(f.vo.Index(), built) {
		t.Fatal("second MkIndex rebuilt a valid index")
	}

	f.vo.ResetIndex()
	f.vo.MkIndex()
	if !slices.Equal(f.vo.Index(), built) || f.vo.LastSolidBucket() != solid {
		t.Error("rebuild after ResetIndex differs from the first build")
	}
}

func TestIndexSortOrder(t *testing.T) {
	f := newFixture(t, false)
	solidA := f.material(material.Solid)
	land := f.material(material.Solid)
	glass := f.material(material.Transparent)
	fence := f.material(material.AlphaTest)
	solidB := f.material(material.Solid)
	fire := f.material(material.AdditiveLight)

	f.cubeAt(t, solidB, 0, 0, 0)
	f.cubeAt(t, glass, 1, 0, 0)
	f.vo.GetPfx([]gpu.Buffer{nil, nil}, fire)
	f.cubeAt(t, fence, 2, 0, 0)
	f.vo.GetBlas(f.cube, land, 0, f.cube.IndexCount, nil, nil, f.cube.Bounds, Landscape)
	f.cubeAt(t, solidA, 3, 0, 0)

	f.vo.MkIndex()
	idx := f.vo.Index()
	if len(idx) != 6 {
		t.Fatalf("index has %d buckets, want 6", len(idx))
	}
	for i := 1; i < len(idx); i++ {
		a, b := idx[i-1], idx[i]
		ao, bo := a.Material().AlphaOrder(), b.Material().AlphaOrder()
		switch {
		case ao > bo:
			t.Errorf("position %d: alpha order %d after %d", i, bo, ao)
		case ao == bo && landscapeRank(a) > landscapeRank(b):
			t.Errorf("position %d: landscape after %s", i, a.Kind())
		case ao == bo && landscapeRank(a) == landscapeRank(b) && a.Material().TextureID() > b.Material().TextureID():
			t.Errorf("position %d: texture %d after %d", i, b.Material().TextureID(), a.Material().TextureID())
		}
	}

	want := []material.Material{land, solidA, solidB, fence, glass, fire}
	for i, m := range want {
		if idx[i].Material() != m {
			t.Errorf("position %d: got %s bucket with texture %d", i, idx[i].Material().Alpha, idx[i].Material().TextureID())
		}
	}

	ls := f.vo.LastSolidBucket()
	if ls != 4 {
		t.Fatalf("LastSolidBucket = %d, want 4", ls)
	}
	for _, b := range idx[:ls] {
		if !b.Material().IsSolid() {
			t.Errorf("non-solid %s bucket before the boundary", b.Material().Alpha)
		}
	}
	if idx[ls].Material().IsSolid() {
		t.Error("bucket at the boundary is solid")
	}
}

func TestIndexFollowsEmptiness(t *testing.T) {
	f := newFixture(t, false)
	solid := f.material(material.Solid)
	a := f.cubeAt(t, solid, 0, 0, 0)
	f.cubeAt(t, f.material(material.Solid), 1, 0, 0)

	f.vo.MkIndex()
	if len(f.vo.Index()) != 2 {
		t.Fatalf("index has %d buckets, want 2", len(f.vo.Index()))
	}

	c := f.cubeAt(t, solid, 2, 0, 0)
	if len(f.vo.Index()) != 2 {
		t.Error("adding to a non-empty bucket should keep the index")
	}

	b := a.Bucket()
	a.Release()
	if len(f.vo.Index()) != 2 || b.Size() != 1 {
		t.Error("bucket still has an item, index should survive")
	}
	c.Release()
	if len(f.vo.Index()) != 0 {
		t.Fatal("emptying a bucket should invalidate the index")
	}
	f.vo.MkIndex()
	if len(f.vo.Index()) != 1 {
		t.Errorf("index has %d buckets, want 1", len(f.vo.Index()))
	}
}

func TestStaleItem(t *testing.T) {
	f := newFixture(t, false)
	mat := f.material(material.Solid)
	a := f.cubeAt(t, mat, 0, 0, 0)
	stale := a

	a.Release()
	if !a.Empty() || !stale.Empty() {
		t.Fatal("released handles should be empty")
	}
	stale.SetObjMatrix(math.Translate(5, 0, 0))
	stale.Release()
	if n := f.vo.Buckets()[0].Size(); n != 0 {
		t.Fatalf("bucket size = %d after release", n)
	}

	b := f.vo.Get(f.cube, mat, 0, f.cube.IndexCount, true)
	if b.slot != 0 || b.bucket != 0 {
		t.Fatalf("expected slot reuse, got bucket %d slot %d", b.bucket, b.slot)
	}
	if !stale.Empty() {
		t.Error("old handle must not see the new occupant")
	}
	if b.Bounds() != f.cube.Bounds {
		t.Errorf("new item bounds = %v", b.Bounds())
	}
	if (Item{}).Kind() != Static || !(Item{}).Bounds().IsEmpty() {
		t.Error("zero item accessors should return zero values")
	}
}

func TestTlasGating(t *testing.T) {
	tests := []struct {
		name        string
		pending     bool
		tlasEnabled bool
		rayQuery    bool
		want        int
	}{
		{"all conditions", true, true, true, 1},
		{"nothing pending", false, true, true, 0},
		{"tlas disabled", true, false, true, 0},
		{"no ray query", true, true, false, 0},
		{"nothing", false, false, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.rayQuery)
			f.globals.TLASEnabled = tt.tlasEnabled
			blas, err := f.cube.NewBlas(f.dev, 0, f.cube.IndexCount)
			if err != nil {
				t.Fatalf("NewBlas: %v", err)
			}
			f.vo.GetBlas(f.cube, f.material(material.Solid), 0, f.cube.IndexCount, blas, nil, f.cube.Bounds, Static)
			if !tt.pending {
				f.vo.tlasPending = false
			}

			if err := f.vo.PreFrameUpdate(0); err != nil {
				t.Fatalf("PreFrameUpdate: %v", err)
			}
			if f.dev.Counters.Tlas != tt.want {
				t.Errorf("built %d TLAS, want %d", f.dev.Counters.Tlas, tt.want)
			}
			if f.dev.Counters.WaitIdle != tt.want {
				t.Errorf("waited idle %d times, want %d", f.dev.Counters.WaitIdle, tt.want)
			}
		})
	}
}

func TestTlasToggleKeepsPendingRebuild(t *testing.T) {
	f := newFixture(t, true)
	f.globals.TLASEnabled = false
	var notified []gpu.AccelerationStructure
	f.vo.OnTlasChanged(func(tlas gpu.AccelerationStructure) { notified = append(notified, tlas) })
	f.vo.SetLandscapeBlas(mustBlas(t, f))

	if err := f.vo.PreFrameUpdate(0); err != nil {
		t.Fatalf("PreFrameUpdate: %v", err)
	}
	if f.dev.Counters.Tlas != 0 || f.vo.Tlas() != nil {
		t.Fatal("disabled TLAS must not build")
	}

	f.globals.TLASEnabled = true
	if err := f.vo.PreFrameUpdate(1); err != nil {
		t.Fatalf("PreFrameUpdate: %v", err)
	}
	if f.dev.Counters.Tlas != 1 || len(notified) != 1 || notified[0] != f.vo.Tlas() {
		t.Fatalf("expected one rebuild with notification, got %d builds, %d notifications", f.dev.Counters.Tlas, len(notified))
	}

	if err := f.vo.PreFrameUpdate(0); err != nil {
		t.Fatalf("PreFrameUpdate: %v", err)
	}
	if f.dev.Counters.Tlas != 1 {
		t.Error("TLAS rebuilt without invalidation")
	}
}

func TestTlasToggleRebuildsPipelines(t *testing.T) {
	f := newFixture(t, true)
	it := f.cubeAt(t, f.material(material.Solid), 0, 0, 0)
	b := it.Bucket()

	rayQuery := func(fId uint8) bool {
		t.Helper()
		if err := f.vo.PreFrameUpdate(fId); err != nil {
			t.Fatalf("PreFrameUpdate: %v", err)
		}
		return b.layouts[fId][gpu.PassGBuffer].RayQuery
	}

	if !rayQuery(0) {
		t.Fatal("G-buffer pipeline should use ray queries while the TLAS is enabled")
	}
	f.globals.TLASEnabled = false
	if rayQuery(0) {
		t.Error("disabling the TLAS left a ray-query pipeline bound")
	}
	if rayQuery(1) {
		t.Error("frame slot 1 was built with ray queries while disabled")
	}
	sets := f.dev.Counters.Sets
	if rayQuery(0) {
		t.Error("ray queries came back without a toggle")
	}
	if f.dev.Counters.Sets != sets {
		t.Errorf("rebuilt %d sets without a toggle", f.dev.Counters.Sets-sets)
	}
	f.globals.TLASEnabled = true
	if !rayQuery(1) {
		t.Error("re-enabling the TLAS did not restore ray-query pipelines")
	}
}

func mustBlas(t *testing.T, f *fixture) gpu.AccelerationStructure {
	t.Helper()
	blas, err := f.cube.NewBlas(f.dev, 0, f.cube.IndexCount)
	if err != nil {
		t.Fatalf("NewBlas: %v", err)
	}
	return blas
}

func TestTlasContents(t *testing.T) {
	f := newFixture(t, true)
	mat := f.material(material.Solid)
	blas := mustBlas(t, f)

	a := f.vo.GetBlas(f.cube, mat, 0, f.cube.IndexCount, blas, nil, f.cube.Bounds, Static)
	b := f.vo.GetBlas(f.cube, mat, 0, f.cube.IndexCount, blas, nil, f.cube.Bounds, Static)
	f.vo.Get(f.cube, mat, 0, f.cube.IndexCount, true)
	b.SetObjMatrix(math.Translate(10, 0, 0))
	f.vo.SetLandscapeBlas(mustBlas(t, f))

	if err := f.vo.PreFrameUpdate(0); err != nil {
		t.Fatalf("PreFrameUpdate: %v", err)
	}
	first := f.vo.Tlas().(*soft.AccelerationStructure)
	if len(first.Instances) != 3 {
		t.Fatalf("TLAS has %d instances, want 3", len(first.Instances))
	}
	last := first.Instances[2]
	if last.Transform != math.Identity() || last.Blas == blas {
		t.Error("landscape instance should come last with an identity transform")
	}
	if first.Bounds().Max.X != 10.5 {
		t.Errorf("TLAS bounds = %v", first.Bounds())
	}

	a.Release()
	if err := f.vo.PreFrameUpdate(1); err != nil {
		t.Fatalf("PreFrameUpdate: %v", err)
	}
	second := f.vo.Tlas().(*soft.AccelerationStructure)
	if len(second.Instances) != 2 {
		t.Errorf("TLAS has %d instances after release, want 2", len(second.Instances))
	}
	if !first.Empty() {
		t.Error("replaced TLAS should be released")
	}
}

func TestRecycle(t *testing.T) {
	f := newFixture(t, false)
	released, err := f.dev.NewBuffer(gpu.UsageStorage, gpu.HeapDevice, 4)
	if err != nil {
		t.Fatalf("NewBuffer: %v", err)
	}
	released.Release()

	f.vo.Recycle(nil)
	f.vo.Recycle(released)
	var nilSet *soft.DescriptorSet
	f.vo.Recycle(nilSet)
	if n := f.vo.Recycled(0); n != 0 {
		t.Fatalf("empty resources were queued: %d", n)
	}

	live, err := f.dev.NewBuffer(gpu.UsageStorage, gpu.HeapDevice, 4)
	if err != nil {
		t.Fatalf("NewBuffer: %v", err)
	}
	f.vo.Recycle(live)
	if f.vo.Recycled(0) != 1 {
		t.Fatal("live resource should be queued")
	}
	if err := f.vo.PreFrameUpdate(1); err != nil {
		t.Fatalf("PreFrameUpdate: %v", err)
	}
	if live.Empty() {
		t.Fatal("resource released before its frame slot came around")
	}
	if err := f.vo.PreFrameUpdate(0); err != nil {
		t.Fatalf("PreFrameUpdate: %v", err)
	}
	if !live.Empty() || f.vo.Recycled(0) != 0 {
		t.Error("slot 0 should have been drained")
	}
}

func TestEndToEndThreeItems(t *testing.T) {
	f := newFixture(t, false, WithCapacity(2))
	mat := f.material(material.Solid)
	for i := 0; i < 3; i++ {
		f.vo.Get(f.cube, mat, 0, f.cube.IndexCount, true)
	}

	buckets := f.vo.Buckets()
	if len(buckets) != 2 || buckets[0].Size() != 2 || buckets[1].Size() != 1 {
		t.Fatalf("unexpected buckets: %d", len(buckets))
	}
	f.vo.MkIndex()
	if len(f.vo.Index()) != 2 {
		t.Errorf("index has %d buckets, want 2", len(f.vo.Index()))
	}
	if f.vo.LastSolidBucket() != 2 {
		t.Errorf("LastSolidBucket = %d, want 2", f.vo.LastSolidBucket())
	}
}

func TestCullingAndInstanceRuns(t *testing.T) {
	f := newFixture(t, false)
	mat := f.material(material.Solid)
	f.cubeAt(t, mat, 0, 0, 0)
	f.cubeAt(t, mat, 1, 0, 0)
	f.cubeAt(t, mat, 0, 0, 50)
	f.cubeAt(t, mat, -1, 0, 0)

	shadowProj := math.Perspective(float32(gomath.Pi/2), 1, 0.1, 20)
	shadowView := math.LookAt(math.V3(0, 0, 60), math.V3(0, 0, 50), math.V3(0, 1, 0))
	frustums := []math.Frustum{mainFrustum(), math.FrustumFromMatrix(shadowProj.Mul(shadowView))}

	if err := f.vo.PreFrameUpdate(0); err != nil {
		t.Fatalf("PreFrameUpdate: %v", err)
	}
	f.vo.VisibilityPass(frustums)

	enc, err := f.dev.BeginFrame(0)
	if err != nil {
		t.Fatalf("BeginFrame: %v", err)
	}
	enc.BeginPass(gpu.PassGBuffer, 0)
	f.vo.DrawGBuffer(enc, 0)
	enc.EndPass()
	enc.BeginPass(gpu.PassShadow, 0)
	f.vo.DrawShadow(enc, 0, 0)
	enc.EndPass()
	enc.BeginPass(gpu.PassForward, 0)
	f.vo.Draw(enc, 0)
	enc.EndPass()
	if err := f.dev.Submit(0, enc); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	rec := f.dev.Submitted(0)
	gbuf := rec.Draws(gpu.PassGBuffer)
	if len(gbuf) != 2 {
		t.Fatalf("G-buffer draws = %d, want 2", len(gbuf))
	}
	if gbuf[0].FirstInstance != 0 || gbuf[0].Instances != 2 || gbuf[1].FirstInstance != 3 || gbuf[1].Instances != 1 {
		t.Errorf("unexpected runs %+v", gbuf)
	}
	if gbuf[0].Count != f.cube.IndexCount || gbuf[0].VBO != f.cube.VBO {
		t.Errorf("draw should use the cube buffers, got %+v", gbuf[0])
	}

	shadow := rec.Draws(gpu.PassShadow)
	if len(shadow) != 1 || shadow[0].FirstInstance != 2 || shadow[0].Instances != 1 {
		t.Errorf("shadow draws = %+v, want the item at z=50", shadow)
	}
	if n := rec.InstanceCount(gpu.PassForward); n != 0 {
		t.Errorf("solid items drawn in the forward pass: %d", n)
	}

	for _, c := range rec.Commands {
		if c.Op != soft.OpDescriptors {
			continue
		}
		set := c.Set.(*soft.DescriptorSet)
		if set.Buffers[gpu.BindingInstances] == nil || set.Buffers[gpu.BindingScene] != f.globals.SceneUbo(0) {
			t.Errorf("descriptor set for %s is missing bindings", c.Pass)
		}
	}

	if st := f.vo.Buckets()[0].Stats(); st.Size != 4 || st.Visible != 3 {
		t.Errorf("Stats = %+v", st)
	}
}

func TestMatrixCommitInvalidatesSets(t *testing.T) {
	for _, heap := range []gpu.BufferHeap{gpu.HeapUpload, gpu.HeapDevice} {
		t.Run(heap.String(), func(t *testing.T) {
			f := newFixture(t, false)
			rodVerts, rodIdx := mesh.Rod(2, 2)
			rod, err := mesh.NewAnimMesh(f.dev, rodVerts, rodIdx, 2)
			if err != nil {
				t.Fatalf("NewAnimMesh: %v", err)
			}
			anim := f.vo.GetMatrixes(heap, 2)
			it := f.vo.GetAnim(rod, f.material(material.Solid), 0, rod.IndexCount, anim)

			if err := f.vo.PreFrameUpdate(0); err != nil {
				t.Fatalf("PreFrameUpdate: %v", err)
			}
			b := it.Bucket()
			if b.MatrixHeap() != heap {
				t.Fatalf("bucket reads bones from %s heap, want %s", b.MatrixHeap(), heap)
			}
			old := f.vo.MatrixSsbo(heap, 0)
			set := b.sets[0][gpu.PassGBuffer].(*soft.DescriptorSet)
			if set.Buffers[gpu.BindingMatrices] != old {
				t.Fatalf("skinned bucket should bind the %s matrix buffer", heap)
			}
			sets := f.dev.Counters.Sets

			f.vo.GetMatrixes(heap, 100)
			if err := f.vo.PreFrameUpdate(0); err != nil {
				t.Fatalf("PreFrameUpdate: %v", err)
			}
			cur := f.vo.MatrixSsbo(heap, 0)
			if cur == old {
				t.Fatal("matrix buffer should have grown")
			}
			if f.dev.Counters.Sets != sets+3 {
				t.Errorf("rebuilt %d sets, want 3", f.dev.Counters.Sets-sets)
			}
			set = b.sets[0][gpu.PassGBuffer].(*soft.DescriptorSet)
			if set.Buffers[gpu.BindingMatrices] != cur {
				t.Error("rebuilt set still binds the old matrix buffer")
			}
			if n := f.vo.Recycled(0); n != 4 {
				t.Errorf("recycled %d resources, want old buffer and 3 sets", n)
			}

			if err := f.vo.PreFrameUpdate(0); err != nil {
				t.Fatalf("PreFrameUpdate: %v", err)
			}
			if !old.Empty() {
				t.Error("old matrix buffer should be released on the slot's next frame")
			}
		})
	}
}

func TestAnimBucketsSplitByHeap(t *testing.T) {
	f := newFixture(t, false)
	rodVerts, rodIdx := mesh.Rod(2, 2)
	rod, err := mesh.NewAnimMesh(f.dev, rodVerts, rodIdx, 2)
	if err != nil {
		t.Fatalf("NewAnimMesh: %v", err)
	}
	mat := f.material(material.Solid)
	up := f.vo.GetAnim(rod, mat, 0, rod.IndexCount, f.vo.GetMatrixes(gpu.HeapUpload, 2))
	dev := f.vo.GetAnim(rod, mat, 0, rod.IndexCount, f.vo.GetMatrixes(gpu.HeapDevice, 2))
	up2 := f.vo.GetAnim(rod, mat, 0, rod.IndexCount, f.vo.GetMatrixes(gpu.HeapUpload, 2))

	if up.Bucket() == dev.Bucket() {
		t.Fatal("items with bones in different heaps share a bucket")
	}
	if up.Bucket() != up2.Bucket() {
		t.Error("items with bones in the same heap should share a bucket")
	}

	if err := f.vo.PreFrameUpdate(1); err != nil {
		t.Fatalf("PreFrameUpdate: %v", err)
	}
	for _, tt := range []struct {
		it   Item
		heap gpu.BufferHeap
	}{{up, gpu.HeapUpload}, {dev, gpu.HeapDevice}} {
		set := tt.it.Bucket().sets[1][gpu.PassShadow].(*soft.DescriptorSet)
		if set.Buffers[gpu.BindingMatrices] != f.vo.MatrixSsbo(tt.heap, 1) {
			t.Errorf("%s item binds a different matrix buffer", tt.heap)
		}
	}
}

func TestParticles(t *testing.T) {
	f := newFixture(t, false)
	b0, err := mesh.NewParticleBuffer(f.dev, make([]mesh.Vertex, 6))
	if err != nil {
		t.Fatalf("NewParticleBuffer: %v", err)
	}
	b1, err := mesh.NewParticleBuffer(f.dev, make([]mesh.Vertex, 6))
	if err != nil {
		t.Fatalf("NewParticleBuffer: %v", err)
	}
	it := f.vo.GetPfx([]gpu.Buffer{b0, b1}, f.material(material.AdditiveLight))

	frame := func(fId uint8) []soft.Command {
		t.Helper()
		if err := f.vo.PreFrameUpdate(fId); err != nil {
			t.Fatalf("PreFrameUpdate: %v", err)
		}
		f.vo.VisibilityPass([]math.Frustum{mainFrustum()})
		enc, _ := f.dev.BeginFrame(fId)
		enc.BeginPass(gpu.PassForward, 0)
		f.vo.Draw(enc, fId)
		enc.EndPass()
		if err := f.dev.Submit(fId, enc); err != nil {
			t.Fatalf("Submit: %v", err)
		}
		return f.dev.Submitted(fId).Draws(gpu.PassForward)
	}

	draws := frame(1)
	if len(draws) != 1 || draws[0].VBO != b1 || draws[0].Count != 6 {
		t.Fatalf("draws = %+v", draws)
	}

	short, err := mesh.NewParticleBuffer(f.dev, make([]mesh.Vertex, 3))
	if err != nil {
		t.Fatalf("NewParticleBuffer: %v", err)
	}
	it.SetPfxData(0, short)
	draws = frame(0)
	if len(draws) != 1 || draws[0].VBO != short || draws[0].Count != 3 {
		t.Errorf("draws after SetPfxData = %+v", draws)
	}
	if it.Kind() != Pfx || !it.Bounds().IsEmpty() {
		t.Error("particles are unbounded")
	}
}

func TestPreFrameUpdateErrors(t *testing.T) {
	f := newFixture(t, false)
	if err := f.vo.PreFrameUpdate(2); err == nil {
		t.Error("frame slot past frames in flight should fail")
	}
	f.cubeAt(t, f.material(material.Solid), 0, 0, 0)
	f.dev.FailNext = gpu.ErrUnsupported
	if err := f.vo.PreFrameUpdate(0); err == nil {
		t.Error("device failure should be returned")
	}
}

func TestRelease(t *testing.T) {
	f := newFixture(t, true)
	f.vo.GetBlas(f.cube, f.material(material.Solid), 0, f.cube.IndexCount, mustBlas(t, f), nil, f.cube.Bounds, Static)
	before := f.dev.Live()
	for fId := uint8(0); fId < 2; fId++ {
		if err := f.vo.PreFrameUpdate(fId); err != nil {
			t.Fatalf("PreFrameUpdate: %v", err)
		}
	}
	f.vo.Release()
	if f.dev.Live() != before {
		t.Errorf("live resources %d, want %d", f.dev.Live(), before)
	}
}
