// Package imaging prepares rasterized pages for upload: wide pages are
// downscaled to keep request payloads small, and solid-color pages are
// detected so blank scans never reach the model.
package imaging

import (
	"image"

	"golang.org/x/image/draw"
)

// Downscale returns img resized so its width does not exceed maxWidth,
// preserving aspect ratio. Images at or under the limit are returned
// unchanged.
func Downscale(img image.Image, maxWidth int) image.Image {
	bounds := img.Bounds()
	width := bounds.Dx()
	if maxWidth <= 0 || width <= maxWidth {
		return img
	}

	height := (bounds.Dy()*maxWidth + width/2) / width
	if height < 1 {
		height = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Src, nil)
	return dst
}

// IsSolidColor reports whether every pixel matches the top-left pixel.
// Scanned blank pages rasterize to a uniform color, so this is a page-level
// blank check. The scan is exact (a single stray mark must count as
// content) but exits on the first differing pixel.
func IsSolidColor(img image.Image) bool {
	bounds := img.Bounds()
	if bounds.Empty() {
		return true
	}

	r0, g0, b0, a0 := img.At(bounds.Min.X, bounds.Min.Y).RGBA()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, a := img.At(x, y).RGBA()
			if r != r0 || g != g0 || b != b0 || a != a0 {
				return false
			}
		}
	}
	return true
}
