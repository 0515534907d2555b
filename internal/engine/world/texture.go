package world

import (
	"fmt"
	"path/filepath"

	"github.com/Faultbox/worldview/internal/engine/scene"
	"github.com/Faultbox/worldview/internal/engine/texture"
)

// Pixels returns the RGBA8 pixels td describes: an image file resolved
// against dir, or a generated checkerboard.
func Pixels(dir string, td scene.TextureDesc) (width, height int, rgba []byte, err error) {
	if td.File == "" {
		rgba, err = Checker(td)
		return td.Size, td.Size, rgba, err
	}

	path := td.File
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	img, err := texture.Load(path)
	if err != nil {
		return 0, 0, nil, err
	}
	if td.Size > 0 {
		img = texture.Resize(img, td.Size, td.Size)
	}
	if td.ColorKey != "" {
		key, err := scene.ParseColor(td.ColorKey)
		if err != nil {
			return 0, 0, nil, err
		}
		texture.ApplyColorKey(img, key)
	}
	return img.Rect.Dx(), img.Rect.Dy(), img.Pix, nil
}

// Checker renders td as RGBA8 pixels: a checkerboard of ColorA and ColorB
// with td.Checker squares per side.
func Checker(td scene.TextureDesc) ([]byte, error) {
	if td.Size <= 0 || td.Checker <= 0 {
		return nil, fmt.Errorf("checker %dx%d", td.Size, td.Checker)
	}
	a, err := scene.ParseColor(td.ColorA)
	if err != nil {
		return nil, err
	}
	b, err := scene.ParseColor(td.ColorB)
	if err != nil {
		return nil, err
	}

	square := max(td.Size/td.Checker, 1)
	pixels := make([]byte, td.Size*td.Size*4)
	for y := 0; y < td.Size; y++ {
		for x := 0; x < td.Size; x++ {
			c := a
			if (x/square+y/square)%2 == 1 {
				c = b
			}
			copy(pixels[(y*td.Size+x)*4:], c[:])
		}
	}
	return pixels, nil
}
