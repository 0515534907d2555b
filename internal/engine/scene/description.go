package scene

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Faultbox/worldview/internal/engine/lighting"
	"github.com/Faultbox/worldview/internal/engine/material"
)

// Description is a procedural scene population read from YAML. It names
// textures, an optional terrain and groups of instances scattered over
// rectangular areas.
type Description struct {
	Seed      uint64                 `yaml:"seed"`
	Sun       SunDesc                `yaml:"sun"`
	Textures  map[string]TextureDesc `yaml:"textures"`
	Terrain   *TerrainDesc           `yaml:"terrain,omitempty"`
	Groups    []GroupDesc            `yaml:"groups"`
	Particles []ParticleDesc         `yaml:"particles,omitempty"`

	// Dir resolves relative texture files; LoadDescription sets it to the
	// file's directory.
	Dir string `yaml:"-"`
}

// SunDesc describes the directional light.
type SunDesc struct {
	Direction [3]float32 `yaml:"direction"` // toward the sun
	// Longitude and Latitude, in degrees, replace an unset Direction.
	Longitude float32    `yaml:"longitude"`
	Latitude  float32    `yaml:"latitude"`
	Intensity float32    `yaml:"intensity"`
	Ambient   [3]float32 `yaml:"ambient"`
}

// TextureDesc is a generated checker texture or an image file.
type TextureDesc struct {
	Size    int    `yaml:"size"`
	Checker int    `yaml:"checker"` // squares per side
	ColorA  string `yaml:"color_a"` // hex RRGGBB or RRGGBBAA
	ColorB  string `yaml:"color_b"`
	// File is a TGA, PNG or BMP image used instead of the checkerboard. Size
	// rescales it when set.
	File string `yaml:"file"`
	// ColorKey makes matching file pixels transparent.
	ColorKey string `yaml:"color_key"`
}

// TerrainDesc is a heightfield grid added as landscape.
type TerrainDesc struct {
	Cells     int     `yaml:"cells"`
	Size      float32 `yaml:"size"`
	Amplitude float32 `yaml:"amplitude"`
	Texture   string  `yaml:"texture"`
	Blas      bool    `yaml:"blas"`
}

// GroupDesc is a set of identical instances.
type GroupDesc struct {
	Name    string     `yaml:"name"`
	Mesh    string     `yaml:"mesh"` // cube, rod or a .gltf/.glb file
	Kind    string     `yaml:"kind"` // static, movable or animated
	Texture string     `yaml:"texture"`
	Alpha   string     `yaml:"alpha"`
	Count   int        `yaml:"count"`
	Area    [4]float32 `yaml:"area"` // minX, minZ, maxX, maxZ
	Y       float32    `yaml:"y"`
	Scale   float32    `yaml:"scale"`
	Blas    bool       `yaml:"blas"`
	Bones   int        `yaml:"bones"`
	Speed   float32    `yaml:"speed"` // movable: radians per second around the spawn point
}

// ParticleDesc is a set of particle emitters.
type ParticleDesc struct {
	Name     string     `yaml:"name"`
	Texture  string     `yaml:"texture"`
	Alpha    string     `yaml:"alpha"`
	Emitters int        `yaml:"emitters"`
	Quads    int        `yaml:"quads"`
	Area     [4]float32 `yaml:"area"`
	Y        float32    `yaml:"y"`
}

// LoadDescription reads and validates a scene description file.
func LoadDescription(path string) (*Description, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scene: read %s: %w", path, err)
	}
	desc, err := ParseDescription(data)
	if err != nil {
		return nil, err
	}
	desc.Dir = filepath.Dir(path)
	return desc, nil
}

// ParseDescription decodes and validates a YAML scene description.
func ParseDescription(data []byte) (*Description, error) {
	desc := &Description{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(desc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("scene: parse description: %w", err)
	}
	desc.applyDefaults()
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	return desc, nil
}

func (d *Description) applyDefaults() {
	if d.Sun.Intensity == 0 {
		d.Sun.Intensity = 1
	}
	if d.Sun.Direction == [3]float32{} {
		if d.Sun.Latitude != 0 {
			d.Sun.Direction = lighting.SunDirection(d.Sun.Longitude, d.Sun.Latitude)
		} else {
			d.Sun.Direction = [3]float32{0.4, 1, 0.3}
		}
	}
	if d.Sun.Ambient == [3]float32{} {
		d.Sun.Ambient = [3]float32{0.25, 0.25, 0.3}
	}
	for name, t := range d.Textures {
		if t.File != "" {
			continue
		}
		if t.Size == 0 {
			t.Size = 64
		}
		if t.Checker == 0 {
			t.Checker = 8
		}
		d.Textures[name] = t
	}
	for i := range d.Groups {
		g := &d.Groups[i]
		if g.Mesh == "" {
			g.Mesh = "cube"
		}
		if g.Kind == "" {
			g.Kind = "static"
		}
		if g.Alpha == "" {
			g.Alpha = "solid"
		}
		if g.Scale == 0 {
			g.Scale = 1
		}
		if g.Bones == 0 {
			g.Bones = 4
		}
	}
	for i := range d.Particles {
		if d.Particles[i].Alpha == "" {
			d.Particles[i].Alpha = "additive"
		}
		if d.Particles[i].Quads == 0 {
			d.Particles[i].Quads = 16
		}
	}
}

// Validate checks references and ranges.
func (d *Description) Validate() error {
	for name, t := range d.Textures {
		if t.File != "" {
			if t.Size < 0 {
				return fmt.Errorf("scene: texture %q: size %d", name, t.Size)
			}
			if t.ColorKey != "" {
				if _, err := ParseColor(t.ColorKey); err != nil {
					return fmt.Errorf("scene: texture %q: color key: %w", name, err)
				}
			}
			continue
		}
		if t.Size <= 0 || t.Checker <= 0 || t.Checker > t.Size {
			return fmt.Errorf("scene: texture %q: size %d checker %d", name, t.Size, t.Checker)
		}
		if _, err := ParseColor(t.ColorA); err != nil {
			return fmt.Errorf("scene: texture %q: %w", name, err)
		}
		if _, err := ParseColor(t.ColorB); err != nil {
			return fmt.Errorf("scene: texture %q: %w", name, err)
		}
	}
	if t := d.Terrain; t != nil {
		if t.Cells <= 0 || t.Size <= 0 {
			return fmt.Errorf("scene: terrain cells %d size %v", t.Cells, t.Size)
		}
		if err := d.checkTexture("terrain", t.Texture); err != nil {
			return err
		}
	}
	for _, g := range d.Groups {
		if g.Count < 0 {
			return fmt.Errorf("scene: group %q: negative count", g.Name)
		}
		switch ext := strings.ToLower(filepath.Ext(g.Mesh)); {
		case g.Mesh == "cube", g.Mesh == "rod":
		case ext == ".gltf", ext == ".glb":
		default:
			return fmt.Errorf("scene: group %q: unknown mesh %q", g.Name, g.Mesh)
		}
		switch g.Kind {
		case "static", "movable":
		case "animated":
			if g.Mesh != "rod" {
				return fmt.Errorf("scene: group %q: animated groups need the rod mesh", g.Name)
			}
		default:
			return fmt.Errorf("scene: group %q: unknown kind %q", g.Name, g.Kind)
		}
		if g.Mesh == "rod" && g.Kind != "animated" {
			return fmt.Errorf("scene: group %q: rod mesh is skinned and must be animated", g.Name)
		}
		if _, ok := material.ParseAlpha(g.Alpha); !ok {
			return fmt.Errorf("scene: group %q: unknown alpha %q", g.Name, g.Alpha)
		}
		if g.Area[0] > g.Area[2] || g.Area[1] > g.Area[3] {
			return fmt.Errorf("scene: group %q: inverted area %v", g.Name, g.Area)
		}
		if err := d.checkTexture("group "+strconv.Quote(g.Name), g.Texture); err != nil {
			return err
		}
	}
	for _, p := range d.Particles {
		if p.Emitters < 0 || p.Quads <= 0 {
			return fmt.Errorf("scene: particles %q: emitters %d quads %d", p.Name, p.Emitters, p.Quads)
		}
		if _, ok := material.ParseAlpha(p.Alpha); !ok {
			return fmt.Errorf("scene: particles %q: unknown alpha %q", p.Name, p.Alpha)
		}
		if err := d.checkTexture("particles "+strconv.Quote(p.Name), p.Texture); err != nil {
			return err
		}
	}
	return nil
}

// checkTexture accepts an empty name: such materials have no texture and are
// rejected when allocated.
func (d *Description) checkTexture(owner, name string) error {
	if name == "" {
		return nil
	}
	if _, ok := d.Textures[name]; !ok {
		return fmt.Errorf("scene: %s: unknown texture %q", owner, name)
	}
	return nil
}

// ParseColor parses RRGGBB or RRGGBBAA hex, with an optional leading '#'.
func ParseColor(s string) ([4]uint8, error) {
	s = strings.TrimPrefix(s, "#")
	if len(s) == 6 {
		s += "ff"
	}
	if len(s) != 8 {
		return [4]uint8{}, fmt.Errorf("color %q: want RRGGBB or RRGGBBAA", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return [4]uint8{}, fmt.Errorf("color %q: %w", s, err)
	}
	return [4]uint8{uint8(v >> 24), uint8(v >> 16), uint8(v >> 8), uint8(v)}, nil
}
