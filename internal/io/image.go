package ioutils

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"  // GIF decoder registration
	_ "image/jpeg" // JPEG decoder registration
	"image/png"

	_ "golang.org/x/image/bmp"  // BMP decoder registration
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff" // TIFF decoder registration
	_ "golang.org/x/image/webp" // WebP decoder registration
)

// PlaceholderColor is the grey shown for tiles that are not cached yet.
var PlaceholderColor = color.RGBA{R: 0x80, G: 0x80, B: 0x80, A: 0xff}

// ImageService decodes fetched tiles and builds placeholder images.
//
// Tile servers answer with PNG or JPEG; WebP, GIF, BMP and TIFF are
// accepted too so that self-hosted servers work unchanged.
//
// Example usage:
//
//	svc := NewImageService()
//
//	img, err := svc.Decode(data)
//	if err != nil {
//	    // not an image, drop it
//	}
type ImageService struct{}

// NewImageService creates a new ImageService.
func NewImageService() *ImageService {
	return &ImageService{}
}

// Decode decodes data with whichever registered decoder recognises it.
// Images without pixels are rejected.
func (s *ImageService) Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("decoded image is empty")
	}
	return img, nil
}

// Placeholder returns a size×size image filled with c.
func (s *ImageService) Placeholder(size int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

// EncodePNG encodes img as PNG.
func (s *ImageService) EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
