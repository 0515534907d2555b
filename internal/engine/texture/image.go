package texture

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp" // BMP decoder registration
	"golang.org/x/image/draw"
)

// KeyTolerance is the per-channel distance within which a pixel matches a
// color key.
const KeyTolerance = 10

// Load reads an image file as RGBA. TGA is chosen by extension; PNG, JPEG
// and BMP are detected from the data.
func Load(path string) (*image.RGBA, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("texture: %w", err)
	}
	img, err := Decode(filepath.Base(path), data)
	if err != nil {
		return nil, fmt.Errorf("texture: %s: %w", path, err)
	}
	return img, nil
}

// Decode decodes data named name.
func Decode(name string, data []byte) (*image.RGBA, error) {
	if strings.EqualFold(filepath.Ext(name), ".tga") {
		return DecodeTGA(data)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return ToRGBA(img), nil
}

// ToRGBA converts img to RGBA with its origin at 0,0.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Rect, img, b.Min, draw.Src)
	return rgba
}

// Resize scales img to width x height with bilinear filtering.
func Resize(img *image.RGBA, width, height int) *image.RGBA {
	if img.Rect.Dx() == width && img.Rect.Dy() == height {
		return img
	}
	out := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(out, out.Rect, img, img.Rect, draw.Src, nil)
	return out
}

// ApplyColorKey makes pixels matching key transparent black so filtering
// does not bleed the key color into neighbors.
func ApplyColorKey(img *image.RGBA, key [4]uint8) {
	near := func(a, b uint8) bool {
		if a > b {
			return a-b <= KeyTolerance
		}
		return b-a <= KeyTolerance
	}
	for i := 0; i+3 < len(img.Pix); i += 4 {
		if near(img.Pix[i], key[0]) && near(img.Pix[i+1], key[1]) && near(img.Pix[i+2], key[2]) {
			img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 0, 0, 0, 0
		}
	}
}
