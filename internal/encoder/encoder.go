// Package encoder turns raw camera images into the wire image format sent
// to viewers.
package encoder

import (
	"bytes"
	"image"
	"image/jpeg"

	"github.com/babelcloud/camcast/internal/camera"
	"github.com/pkg/errors"
)

// ErrEncode marks a frame that could not be encoded. Only that frame is lost.
var ErrEncode = errors.New("encode error")

// Encoder encodes a RawImage. Failures wrap ErrEncode.
type Encoder interface {
	Encode(img *camera.RawImage) ([]byte, error)
	ContentType() string
}

// Error wraps err as an encoding failure.
func Error(err error, format string, args ...interface{}) error {
	if err == nil {
		return errors.Wrapf(ErrEncode, format, args...)
	}
	return errors.Wrapf(&encodeError{cause: err}, format, args...)
}

type encodeError struct {
	cause error
}

func (e *encodeError) Error() string { return e.cause.Error() }

func (e *encodeError) Is(target error) bool { return target == ErrEncode }

func (e *encodeError) Unwrap() error { return e.cause }

// Factory creates an encoder for the given JPEG quality.
type Factory func(quality int) Encoder

var factories = map[string]Factory{
	"jpeg": func(quality int) Encoder { return NewJPEG(quality) },
}

// New creates the named encoder. "jpeg" is always available.
func New(name string, quality int) (Encoder, error) {
	factory, ok := factories[name]
	if !ok {
		return nil, errors.Errorf("unknown encoder %q", name)
	}
	return factory(quality), nil
}

// JPEG encodes images with the standard library JPEG encoder.
type JPEG struct {
	quality int
}

// NewJPEG creates a JPEG encoder. Quality is clamped to [1, 100].
func NewJPEG(quality int) *JPEG {
	if quality < 1 {
		quality = 1
	}
	if quality > 100 {
		quality = 100
	}
	return &JPEG{quality: quality}
}

// ContentType implements Encoder.
func (e *JPEG) ContentType() string {
	return "image/jpeg"
}

// Encode implements Encoder.
func (e *JPEG) Encode(img *camera.RawImage) ([]byte, error) {
	src, err := ToImage(img)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: e.quality}); err != nil {
		return nil, Error(err, "jpeg encode %dx%d", img.Width, img.Height)
	}
	return buf.Bytes(), nil
}

// ToImage converts a RawImage into an image.Image without retaining img.Pix.
func ToImage(img *camera.RawImage) (image.Image, error) {
	if err := img.Validate(); err != nil {
		return nil, Error(err, "malformed raw image")
	}

	w, h := img.Width, img.Height
	switch img.Format {
	case camera.PixelGray8:
		gray := image.NewGray(image.Rect(0, 0, w, h))
		copy(gray.Pix, img.Pix)
		return gray, nil

	case camera.PixelRGBA32:
		rgba := image.NewRGBA(image.Rect(0, 0, w, h))
		copy(rgba.Pix, img.Pix)
		return rgba, nil

	case camera.PixelRGB24, camera.PixelBGR24:
		r, b := 0, 2
		if img.Format == camera.PixelBGR24 {
			r, b = 2, 0
		}
		rgba := image.NewRGBA(image.Rect(0, 0, w, h))
		for i, j := 0, 0; i < len(img.Pix); i, j = i+3, j+4 {
			rgba.Pix[j] = img.Pix[i+r]
			rgba.Pix[j+1] = img.Pix[i+1]
			rgba.Pix[j+2] = img.Pix[i+b]
			rgba.Pix[j+3] = 0xff
		}
		return rgba, nil
	}

	return nil, Error(nil, "unsupported pixel format %s", img.Format)
}
