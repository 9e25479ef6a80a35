package encoder

import (
	"bytes"
	"image/jpeg"
	"testing"

	"github.com/babelcloud/camcast/internal/camera"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJPEGEncode(t *testing.T) {
	img := &camera.RawImage{
		Pix:    bytes.Repeat([]byte{10, 20, 30}, 16*8),
		Width:  16,
		Height: 8,
		Format: camera.PixelRGB24,
	}

	enc := NewJPEG(90)
	assert.Equal(t, "image/jpeg", enc.ContentType())

	data, err := enc.Encode(img)
	require.NoError(t, err)

	decoded, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 16, decoded.Bounds().Dx())
	assert.Equal(t, 8, decoded.Bounds().Dy())
}

func TestJPEGEncodeMalformed(t *testing.T) {
	img := &camera.RawImage{Pix: []byte{1, 2}, Width: 16, Height: 8, Format: camera.PixelRGB24}

	_, err := NewJPEG(80).Encode(img)
	assert.True(t, errors.Is(err, ErrEncode))

	_, err = NewJPEG(80).Encode(nil)
	assert.True(t, errors.Is(err, ErrEncode))
}

func TestToImageChannelOrder(t *testing.T) {
	bgr := &camera.RawImage{Pix: []byte{1, 2, 3}, Width: 1, Height: 1, Format: camera.PixelBGR24}
	rgb := &camera.RawImage{Pix: []byte{1, 2, 3}, Width: 1, Height: 1, Format: camera.PixelRGB24}

	fromBGR, err := ToImage(bgr)
	require.NoError(t, err)
	fromRGB, err := ToImage(rgb)
	require.NoError(t, err)

	r, g, b, a := fromBGR.At(0, 0).RGBA()
	assert.Equal(t, []uint32{3, 2, 1, 0xff}, []uint32{r >> 8, g >> 8, b >> 8, a >> 8})

	r, g, b, _ = fromRGB.At(0, 0).RGBA()
	assert.Equal(t, []uint32{1, 2, 3}, []uint32{r >> 8, g >> 8, b >> 8})
}

func TestToImageGrayAndRGBA(t *testing.T) {
	gray := &camera.RawImage{Pix: []byte{7, 8}, Width: 2, Height: 1, Format: camera.PixelGray8}
	img, err := ToImage(gray)
	require.NoError(t, err)
	assert.Equal(t, 2, img.Bounds().Dx())

	rgba := &camera.RawImage{Pix: []byte{1, 2, 3, 4}, Width: 1, Height: 1, Format: camera.PixelRGBA32}
	img, err = ToImage(rgba)
	require.NoError(t, err)
	_, _, _, a := img.At(0, 0).RGBA()
	assert.Equal(t, uint32(4), a>>8)
}

func TestQualityClamp(t *testing.T) {
	assert.Equal(t, 1, NewJPEG(-5).quality)
	assert.Equal(t, 100, NewJPEG(500).quality)
}

func TestNewByName(t *testing.T) {
	enc, err := New("jpeg", 75)
	require.NoError(t, err)
	assert.Equal(t, 75, enc.(*JPEG).quality)

	_, err = New("webp", 75)
	assert.Error(t, err)
}
