package scene

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleDescription = `
seed: 7
textures:
  grass: {color_a: "4a7a3a", color_b: "#3d6b30"}
  crate: {size: 32, checker: 4, color_a: "a0783c", color_b: "6e5028ff"}
terrain:
  cells: 16
  size: 100
  amplitude: 2
  texture: grass
  blas: true
groups:
  - name: crates
    texture: crate
    count: 10
    area: [-40, -40, 40, 40]
    y: 0.5
    blas: true
  - name: dancers
    mesh: rod
    kind: animated
    texture: crate
    count: 3
    area: [-5, -5, 5, 5]
particles:
  - name: fires
    texture: crate
    emitters: 2
`

func TestParseDescription(t *testing.T) {
	desc, err := ParseDescription([]byte(sampleDescription))
	if err != nil {
		t.Fatalf("ParseDescription: %v", err)
	}

	if desc.Seed != 7 {
		t.Errorf("Seed = %d, want 7", desc.Seed)
	}
	if got := desc.Textures["grass"]; got.Size != 64 || got.Checker != 8 {
		t.Errorf("grass defaults = %+v", got)
	}
	if desc.Terrain == nil || !desc.Terrain.Blas || desc.Terrain.Cells != 16 {
		t.Errorf("terrain = %+v", desc.Terrain)
	}
	if len(desc.Groups) != 2 {
		t.Fatalf("groups = %d, want 2", len(desc.Groups))
	}
	crates := desc.Groups[0]
	if crates.Mesh != "cube" || crates.Kind != "static" || crates.Alpha != "solid" || crates.Scale != 1 {
		t.Errorf("crate defaults = %+v", crates)
	}
	if desc.Groups[1].Bones != 4 {
		t.Errorf("rod bones default = %d, want 4", desc.Groups[1].Bones)
	}
	if p := desc.Particles[0]; p.Alpha != "additive" || p.Quads != 16 {
		t.Errorf("particle defaults = %+v", p)
	}
	if desc.Sun.Intensity != 1 || desc.Sun.Direction == [3]float32{} {
		t.Errorf("sun defaults = %+v", desc.Sun)
	}
}

func TestParseDescriptionEmpty(t *testing.T) {
	desc, err := ParseDescription(nil)
	if err != nil {
		t.Fatalf("empty description: %v", err)
	}
	if len(desc.Groups) != 0 || desc.Terrain != nil {
		t.Errorf("empty description populated: %+v", desc)
	}
}

func TestParseDescriptionErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown key", "sede: 1\n", "field sede not found"},
		{"unknown texture", "groups:\n  - {name: a, texture: nope}\n", `unknown texture "nope"`},
		{"unknown mesh", "groups:\n  - {name: a, mesh: teapot}\n", `unknown mesh "teapot"`},
		{"obj mesh", "groups:\n  - {name: a, mesh: teapot.obj}\n", `unknown mesh "teapot.obj"`},
		{"animated gltf", "groups:\n  - {name: a, mesh: tree.glb, kind: animated}\n", "need the rod mesh"},
		{"unknown kind", "groups:\n  - {name: a, kind: flying}\n", `unknown kind "flying"`},
		{"animated cube", "groups:\n  - {name: a, kind: animated}\n", "need the rod mesh"},
		{"static rod", "groups:\n  - {name: a, mesh: rod}\n", "must be animated"},
		{"bad alpha", "groups:\n  - {name: a, alpha: glow}\n", `unknown alpha "glow"`},
		{"inverted area", "groups:\n  - {name: a, area: [5, 0, -5, 1]}\n", "inverted area"},
		{"negative count", "groups:\n  - {name: a, count: -1}\n", "negative count"},
		{"bad color", "textures:\n  t: {color_a: zz, color_b: '000000'}\n", "RRGGBB"},
		{"checker too fine", "textures:\n  t: {size: 4, checker: 8, color_a: '000000', color_b: '000000'}\n", "checker 8"},
		{"flat terrain", "terrain: {cells: 0, size: 10}\n", "terrain cells 0"},
		{"no quads", "particles:\n  - {name: p, quads: -2}\n", "quads -2"},
		{"negative file size", "textures:\n  t: {file: a.tga, size: -1}\n", "size -1"},
		{"bad color key", "textures:\n  t: {file: a.tga, color_key: pink}\n", "color key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDescription([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not contain %q", err, tt.want)
			}
		})
	}
}

func TestLoadDescription(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scene.yaml")
	if err := os.WriteFile(path, []byte(sampleDescription), 0o644); err != nil {
		t.Fatal(err)
	}
	desc, err := LoadDescription(path)
	if err != nil {
		t.Fatalf("LoadDescription: %v", err)
	}
	if desc.Dir != filepath.Dir(path) {
		t.Errorf("Dir = %q, want %q", desc.Dir, filepath.Dir(path))
	}
	if _, err := LoadDescription(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file loaded")
	}
}

func TestParseDescriptionSunAngles(t *testing.T) {
	desc, err := ParseDescription([]byte("sun: {longitude: 90, latitude: 30}\n"))
	if err != nil {
		t.Fatalf("ParseDescription: %v", err)
	}
	d := desc.Sun.Direction
	if d[0] < 0.86 || d[0] > 0.87 || d[1] < 0.49 || d[1] > 0.51 {
		t.Errorf("Direction = %v, want about [0.866 0.5 0]", d)
	}

	desc, err = ParseDescription([]byte("sun: {direction: [0, 1, 0], latitude: 30}\n"))
	if err != nil {
		t.Fatal(err)
	}
	if desc.Sun.Direction != [3]float32{0, 1, 0} {
		t.Errorf("angles overrode an explicit direction: %v", desc.Sun.Direction)
	}
}

func TestParseDescriptionFileTexture(t *testing.T) {
	desc, err := ParseDescription([]byte("textures:\n  bark: {file: bark.tga, color_key: ff00ff}\n"))
	if err != nil {
		t.Fatalf("ParseDescription: %v", err)
	}
	if bark := desc.Textures["bark"]; bark.Size != 0 || bark.Checker != 0 {
		t.Errorf("file texture got checker defaults: %+v", bark)
	}
}

func TestParseColor(t *testing.T) {
	tests := []struct {
		in   string
		want [4]uint8
		ok   bool
	}{
		{"ff8000", [4]uint8{255, 128, 0, 255}, true},
		{"#01020304", [4]uint8{1, 2, 3, 4}, true},
		{"fff", [4]uint8{}, false},
		{"gg0000", [4]uint8{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseColor(tt.in)
			if (err == nil) != tt.ok {
				t.Fatalf("err = %v, ok = %v", err, tt.ok)
			}
			if got != tt.want {
				t.Errorf("ParseColor(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
