// Package imaging decodes uploaded document images into the pixel grids the forensic
// checks work on.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// MaxPixels bounds the decoded image area.
const MaxPixels = 40_000_000

var (
	ErrDecode   = errors.New("imaging: image cannot be decoded")
	ErrTooLarge = errors.New("imaging: image dimensions exceed limit")
)

// Probe reads the image header and returns its format without decoding pixel data.
func Probe(data []byte) (string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return "", fmt.Errorf("%w: empty image", ErrDecode)
	}
	if cfg.Width*cfg.Height > MaxPixels {
		return "", ErrTooLarge
	}
	return format, nil
}

// Decode decodes data with any registered codec.
func Decode(data []byte) (image.Image, string, error) {
	if _, err := Probe(data); err != nil {
		return nil, "", err
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return img, format, nil
}

// Gray converts img to an 8-bit luma field with its origin at (0,0).
func Gray(img image.Image) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

// RGB is a tightly packed 3-channel pixel grid. Alpha is discarded without
// premultiplication, so transparent pixels keep their stored colour.
type RGB struct {
	Width, Height int
	Pix           []uint8
}

// ToRGB flattens img into an RGB grid.
func ToRGB(img image.Image) *RGB {
	b := img.Bounds()
	out := &RGB{Width: b.Dx(), Height: b.Dy(), Pix: make([]uint8, 3*b.Dx()*b.Dy())}
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			out.Pix[i], out.Pix[i+1], out.Pix[i+2] = c.R, c.G, c.B
			i += 3
		}
	}
	return out
}

// Image returns the grid as an opaque RGBA image suitable for encoding.
func (r *RGB) Image() *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, r.Width, r.Height))
	for i, j := 0, 0; i < len(r.Pix); i, j = i+3, j+4 {
		out.Pix[j], out.Pix[j+1], out.Pix[j+2], out.Pix[j+3] = r.Pix[i], r.Pix[i+1], r.Pix[i+2], 0xff
	}
	return out
}

// Luma converts an RGB triple with the ITU-R 601-2 transform, rounded to the nearest integer.
func Luma(r, g, b uint8) uint8 {
	return uint8((19595*uint32(r) + 38470*uint32(g) + 7471*uint32(b) + 1<<15) >> 16)
}
