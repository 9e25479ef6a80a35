//go:build gocv

package encoder

import (
	"github.com/babelcloud/camcast/internal/camera"
	"gocv.io/x/gocv"
)

func init() {
	factories["gocv"] = func(quality int) Encoder { return NewGocv(quality) }
}

// Gocv encodes JPEG through OpenCV. It avoids the RGBA conversion done by
// the JPEG encoder for BGR frames coming from the gocv camera driver.
type Gocv struct {
	quality int
}

// NewGocv creates an OpenCV JPEG encoder.
func NewGocv(quality int) *Gocv {
	return &Gocv{quality: NewJPEG(quality).quality}
}

// ContentType implements Encoder.
func (e *Gocv) ContentType() string {
	return "image/jpeg"
}

// Encode implements Encoder.
func (e *Gocv) Encode(img *camera.RawImage) ([]byte, error) {
	if err := img.Validate(); err != nil {
		return nil, Error(err, "malformed raw image")
	}

	matType := gocv.MatTypeCV8UC3
	switch img.Format {
	case camera.PixelBGR24:
	case camera.PixelGray8:
		matType = gocv.MatTypeCV8UC1
	default:
		// OpenCV expects BGR; fall back to the pure Go path for other layouts.
		return NewJPEG(e.quality).Encode(img)
	}

	mat, err := gocv.NewMatFromBytes(img.Height, img.Width, matType, img.Pix)
	if err != nil {
		return nil, Error(err, "wrap %dx%d frame", img.Width, img.Height)
	}
	defer mat.Close()

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, mat, []int{gocv.IMWriteJpegQuality, e.quality})
	if err != nil {
		return nil, Error(err, "imencode %dx%d", img.Width, img.Height)
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}
