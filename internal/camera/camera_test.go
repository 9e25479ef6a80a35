package camera

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPixelFormat(t *testing.T) {
	assert.Equal(t, 3, PixelRGB24.BytesPerPixel())
	assert.Equal(t, 3, PixelBGR24.BytesPerPixel())
	assert.Equal(t, 4, PixelRGBA32.BytesPerPixel())
	assert.Equal(t, 1, PixelGray8.BytesPerPixel())
	assert.Equal(t, 0, PixelFormat(42).BytesPerPixel())
	assert.Equal(t, "BGR24", PixelBGR24.String())
}

func TestRawImageValidate(t *testing.T) {
	ok := &RawImage{Pix: make([]byte, 4*2*3), Width: 4, Height: 2, Format: PixelRGB24}
	assert.NoError(t, ok.Validate())

	short := &RawImage{Pix: make([]byte, 5), Width: 4, Height: 2, Format: PixelRGB24}
	assert.Error(t, short.Validate())

	empty := &RawImage{Width: 0, Height: 2, Format: PixelGray8}
	assert.Error(t, empty.Validate())

	var nilImg *RawImage
	assert.Error(t, nilImg.Validate())
}

func TestErrorWrapsCameraSentinel(t *testing.T) {
	cause := errors.New("usb reset")
	err := Error(cause, "frame %d", 3)

	assert.True(t, errors.Is(err, ErrCamera))
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "frame 3")
	assert.Contains(t, err.Error(), "usb reset")

	assert.True(t, errors.Is(Error(nil, "no data"), ErrCamera))
}

func TestOpenPatternDriver(t *testing.T) {
	assert.Contains(t, Drivers(), "pattern")

	cam, err := Open("pattern", Options{Width: 32, Height: 16})
	require.NoError(t, err)
	require.IsType(t, &Pattern{}, cam)

	_, err = Open("does-not-exist", Options{})
	assert.Error(t, err)
}

func TestPatternCapture(t *testing.T) {
	p := NewPattern(64, 8)
	p.SetInterval(0)

	img, err := p.CaptureFrame(context.Background())
	require.NoError(t, err)
	assert.NoError(t, img.Validate())
	assert.Equal(t, PixelRGB24, img.Format)
	assert.Equal(t, 64, img.Width)
	assert.Equal(t, 8, img.Height)

	next, err := p.CaptureFrame(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, img.Pix, next.Pix, "pattern should move between frames")
}

func TestPatternHonorsDeadline(t *testing.T) {
	p := NewPattern(8, 8)
	p.SetInterval(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := p.CaptureFrame(ctx)
	assert.True(t, errors.Is(err, ErrCamera))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestPatternFaultInjection(t *testing.T) {
	p := NewPattern(8, 8)
	p.SetInterval(0)
	p.SetFault(func(n uint64) error {
		if n%2 == 1 {
			return errors.New("odd frame")
		}
		return nil
	})

	_, err := p.CaptureFrame(context.Background())
	assert.True(t, errors.Is(err, ErrCamera))

	_, err = p.CaptureFrame(context.Background())
	assert.NoError(t, err)
}

func TestPatternParams(t *testing.T) {
	p := NewPattern(0, 0)
	assert.Equal(t, map[string]interface{}{"width": 640, "height": 480, "brightness": 100}, p.Params())

	require.NoError(t, p.SetParams(map[string]interface{}{"width": float64(320), "brightness": 50}))
	assert.Equal(t, 320, p.Params()["width"])
	assert.Equal(t, 50, p.Params()["brightness"])

	err := p.SetParams(map[string]interface{}{"gain": 3})
	assert.True(t, errors.Is(err, ErrUnknownParam))

	assert.Error(t, p.SetParams(map[string]interface{}{"brightness": 101, "width": 10}))
	assert.Equal(t, 320, p.Params()["width"], "a rejected update must not be partially applied")

	assert.Error(t, p.SetParams(map[string]interface{}{"height": 1.5}))
	assert.Error(t, p.SetParams(map[string]interface{}{"height": "tall"}))

	require.NoError(t, p.ResetParams())
	assert.Equal(t, 640, p.Params()["width"])
}
