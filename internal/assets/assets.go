// internal/assets/assets.go

// Package assets loads the model, photo and mask the inpainter consumes and
// writes the images it produces.
package assets

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"

	// Registered decoders
	_ "image/gif"
	_ "image/jpeg"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// MaxPixels bounds the declared width*height of any image decoded here.
const MaxPixels = 40_000_000

// ErrTooLarge is returned when an image header declares more than MaxPixels.
var ErrTooLarge = errors.New("image too large")

// decode reads the header first so an oversized image is rejected before its
// pixel buffer is allocated.
func decode(r io.ReadSeeker) (image.Image, error) {
	cfg, _, err := image.DecodeConfig(r)
	if err != nil {
		return nil, err
	}
	if px := int64(cfg.Width) * int64(cfg.Height); px > MaxPixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrTooLarge, cfg.Width, cfg.Height, MaxPixels)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	img, _, err := image.Decode(r)
	return img, err
}

// ImageSource yields a decoded image.
type ImageSource interface {
	Image() (image.Image, error)
}

// ImageSink receives a finished image.
type ImageSink interface {
	Put(img image.Image) error
}

// ModelSource yields serialized model bytes.
type ModelSource interface {
	Model() ([]byte, error)
}

// File is an image or model stored on disk.
type File string

// Image decodes the file with any registered format.
func (f File) Image() (image.Image, error) {
	fh, err := os.Open(string(f))
	if err != nil {
		return nil, fmt.Errorf("failed to open image %s: %w", f, err)
	}
	defer fh.Close()

	img, err := decode(fh)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", f, err)
	}
	return img, nil
}

// Model reads the whole file.
func (f File) Model() ([]byte, error) {
	data, err := os.ReadFile(string(f))
	if err != nil {
		return nil, fmt.Errorf("failed to read model %s: %w", f, err)
	}
	return data, nil
}

// Put writes img to the file as PNG.
func (f File) Put(img image.Image) error {
	fh, err := os.Create(string(f))
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", f, err)
	}

	if err := png.Encode(fh, img); err != nil {
		fh.Close()
		return fmt.Errorf("failed to encode %s: %w", f, err)
	}
	return fh.Close()
}

// Bytes is an in-memory encoded image or model.
type Bytes []byte

// Image decodes the bytes with any registered format.
func (b Bytes) Image() (image.Image, error) {
	img, err := decode(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// Model returns the bytes unchanged.
func (b Bytes) Model() ([]byte, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("empty model")
	}
	return b, nil
}

// PNGWriter is an ImageSink that PNG-encodes into W.
type PNGWriter struct {
	W io.Writer
}

// Put encodes img into the writer.
func (p PNGWriter) Put(img image.Image) error {
	return png.Encode(p.W, img)
}

// EncodePNG returns img encoded as PNG.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := (PNGWriter{W: &buf}).Put(img); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}

var (
	_ ImageSource = File("")
	_ ModelSource = File("")
	_ ImageSink   = File("")
	_ ImageSource = Bytes(nil)
	_ ModelSource = Bytes(nil)
	_ ImageSink   = PNGWriter{}
)
