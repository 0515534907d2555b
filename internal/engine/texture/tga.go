// Package texture decodes image files into RGBA8 pixels for the device.
package texture

import (
	"fmt"
	"image"
)

// TGA image types.
const (
	TGATypeUncompressed = 2  // Uncompressed true-color
	TGATypeRLE          = 10 // RLE compressed true-color
)

// DecodeTGA decodes uncompressed or RLE true-color TGA data at 24 or 32
// bits per pixel.
func DecodeTGA(data []byte) (*image.RGBA, error) {
	if len(data) < 18 {
		return nil, fmt.Errorf("TGA data too short")
	}

	idLength := int(data[0])
	colorMapType := data[1]
	imageType := data[2]
	width := int(data[12]) | int(data[13])<<8
	height := int(data[14]) | int(data[15])<<8
	bpp := int(data[16])
	descriptor := data[17]

	if colorMapType != 0 {
		return nil, fmt.Errorf("color-mapped TGA not supported")
	}
	if imageType != TGATypeUncompressed && imageType != TGATypeRLE {
		return nil, fmt.Errorf("unsupported TGA type %d", imageType)
	}
	if bpp != 24 && bpp != 32 {
		return nil, fmt.Errorf("unsupported TGA bit depth %d", bpp)
	}
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("empty TGA image %dx%d", width, height)
	}

	offset := 18 + idLength
	if offset > len(data) {
		return nil, fmt.Errorf("TGA data truncated")
	}

	d := tgaDecoder{
		img:         image.NewRGBA(image.Rect(0, 0, width, height)),
		src:         data[offset:],
		bpp:         bpp / 8,
		topToBottom: descriptor&0x20 != 0,
	}
	if imageType == TGATypeUncompressed {
		if len(d.src) < width*height*d.bpp {
			return nil, fmt.Errorf("TGA pixel data truncated")
		}
		for n := 0; n < width*height; n++ {
			d.put(n, d.read())
		}
	} else if err := d.decodeRLE(); err != nil {
		return nil, err
	}
	return d.img, nil
}

type tgaDecoder struct {
	img         *image.RGBA
	src         []byte
	pos         int
	bpp         int
	topToBottom bool
}

// read returns the next BGR(A) pixel as RGBA.
func (d *tgaDecoder) read() [4]byte {
	p := d.src[d.pos : d.pos+d.bpp]
	d.pos += d.bpp
	a := byte(255)
	if d.bpp == 4 {
		a = p[3]
	}
	return [4]byte{p[2], p[1], p[0], a}
}

// put stores pixel n of the file's row order.
func (d *tgaDecoder) put(n int, c [4]byte) {
	w := d.img.Rect.Dx()
	x, y := n%w, n/w
	if !d.topToBottom {
		y = d.img.Rect.Dy() - 1 - y
	}
	copy(d.img.Pix[d.img.PixOffset(x, y):], c[:])
}

func (d *tgaDecoder) decodeRLE() error {
	total := d.img.Rect.Dx() * d.img.Rect.Dy()
	for n := 0; n < total; {
		if d.pos >= len(d.src) {
			return fmt.Errorf("TGA RLE data truncated at pixel %d of %d", n, total)
		}
		packet := d.src[d.pos]
		d.pos++
		count := min(int(packet&0x7f)+1, total-n)

		if packet&0x80 != 0 {
			if d.pos+d.bpp > len(d.src) {
				return fmt.Errorf("TGA RLE data truncated at pixel %d of %d", n, total)
			}
			c := d.read()
			for i := 0; i < count; i++ {
				d.put(n, c)
				n++
			}
			continue
		}
		if d.pos+count*d.bpp > len(d.src) {
			return fmt.Errorf("TGA RLE data truncated at pixel %d of %d", n, total)
		}
		for i := 0; i < count; i++ {
			d.put(n, d.read())
			n++
		}
	}
	return nil
}
