// internal/codec/codec.go

// Package codec converts between 512x512 images and the planar float32 tensors
// consumed and produced by the LaMa inpainting network.
package codec

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
)

const (
	// Size is the fixed working resolution of the network (width and height)
	Size = 512

	// Stride is the number of elements in one channel plane
	Stride = Size * Size

	// ImageChannels is the channel count of image and output tensors
	ImageChannels = 3
)

var (
	// ImageShape is the logical shape of the image tensor (N, C, H, W)
	ImageShape = []int64{1, ImageChannels, Size, Size}

	// MaskShape is the logical shape of the mask tensor (N, C, H, W)
	MaskShape = []int64{1, 1, Size, Size}

	// OutputShape is the logical shape of the engine's reconstructed image
	OutputShape = []int64{1, ImageChannels, Size, Size}
)

var (
	// ErrBadDimensions is returned when an image is not exactly Size x Size
	ErrBadDimensions = errors.New("image must be 512x512")

	// ErrShortTensor is returned when an output tensor holds fewer than 3*512*512 values
	ErrShortTensor = errors.New("output tensor too short")
)

// EncodeImage writes the red, green and blue planes of img, normalized to [0,1],
// into a new buffer of length 3*512*512.
func EncodeImage(img image.Image) ([]float32, error) {
	src, err := fixedNRGBA(img)
	if err != nil {
		return nil, err
	}

	data := make([]float32, ImageChannels*Stride)
	for i := 0; i < Size; i++ {
		row := src.Pix[i*src.Stride:]
		for j := 0; j < Size; j++ {
			idx := Size*i + j
			p := row[j*4 : j*4+4 : j*4+4]
			data[idx] = float32(p[0]) / 255
			data[idx+Stride] = float32(p[1]) / 255
			data[idx+2*Stride] = float32(p[2]) / 255
		}
	}

	return data, nil
}

// EncodeMask desaturates mask and emits 1 for every pixel whose gray level is
// above zero and 0 otherwise. The result has length 512*512.
func EncodeMask(mask image.Image) ([]float32, error) {
	gray, err := fixedNRGBA(Desaturate(mask))
	if err != nil {
		return nil, err
	}

	data := make([]float32, Stride)
	for i := 0; i < Size; i++ {
		row := gray.Pix[i*gray.Stride:]
		for j := 0; j < Size; j++ {
			if row[j*4] > 0 {
				data[Size*i+j] = 1
			}
		}
	}

	return data, nil
}

// DecodeOutput rebuilds an opaque 512x512 image from a planar (1,3,512,512) output
// tensor. For row i and column j the lookup index is 512*j+i, with rows and columns
// swapped relative to the encoders, and the pixel is stored at that same flat index.
// Channel values are truncated toward zero and not clamped.
func DecodeOutput(data []float32) (*image.NRGBA, error) {
	if len(data) < ImageChannels*Stride {
		return nil, fmt.Errorf("%w: got %d values, need %d", ErrShortTensor, len(data), ImageChannels*Stride)
	}

	out := image.NewNRGBA(image.Rect(0, 0, Size, Size))
	for i := 0; i < Size; i++ {
		for j := 0; j < Size; j++ {
			idx := Size*j + i
			off := idx * 4
			out.Pix[off] = channel(data[idx])
			out.Pix[off+1] = channel(data[idx+Stride])
			out.Pix[off+2] = channel(data[idx+2*Stride])
			out.Pix[off+3] = 0xff
		}
	}

	return out, nil
}

// channel truncates v toward zero and keeps the low byte. Values outside 0..255
// wrap within their own channel; they do not bleed into neighbouring channels
// the way an unmasked packed ARGB int would.
func channel(v float32) uint8 {
	if math.IsNaN(float64(v)) {
		return 0
	}
	return uint8(int32(v))
}

// Desaturate returns a gray copy of img. Pixels are first composited onto opaque
// black, then gray = ceil(0.213*R + 0.715*G + 0.072*B), so any pixel with a nonzero
// channel keeps a nonzero gray level.
func Desaturate(img image.Image) *image.NRGBA {
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			// RGBA() is alpha-premultiplied, which is compositing onto black.
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			v := luma(r>>8, g>>8, bl>>8)
			out.SetNRGBA(x, y, color.NRGBA{R: v, G: v, B: v, A: 0xff})
		}
	}
	return out
}

// luma uses the weights of a zero-saturation color matrix, in thousandths, and
// rounds up.
func luma(r, g, b uint32) uint8 {
	return uint8((213*r + 715*g + 72*b + 999) / 1000)
}

// fixedNRGBA checks the working resolution and returns img as a zero-origin NRGBA.
func fixedNRGBA(img image.Image) (*image.NRGBA, error) {
	b := img.Bounds()
	if b.Dx() != Size || b.Dy() != Size {
		return nil, fmt.Errorf("%w: got %dx%d", ErrBadDimensions, b.Dx(), b.Dy())
	}
	if n, ok := img.(*image.NRGBA); ok && b.Min == (image.Point{}) {
		return n, nil
	}

	out := image.NewNRGBA(image.Rect(0, 0, Size, Size))
	for y := 0; y < Size; y++ {
		for x := 0; x < Size; x++ {
			out.Set(x, y, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return out, nil
}
