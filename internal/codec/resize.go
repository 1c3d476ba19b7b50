// internal/codec/resize.go
package codec

import (
	"image"

	"github.com/disintegration/imaging"
)

// Resize scales img to the 512x512 working resolution with a bilinear filter.
// Images already at that size are only converted to NRGBA.
func Resize(img image.Image) *image.NRGBA {
	b := img.Bounds()
	if b.Dx() == Size && b.Dy() == Size {
		return imaging.Clone(img)
	}
	return imaging.Resize(img, Size, Size, imaging.Linear)
}
