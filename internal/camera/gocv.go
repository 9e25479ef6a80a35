//go:build gocv

package camera

import (
	"context"
	"sync"
	"time"

	"github.com/babelcloud/camcast/internal/util"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// closeWait bounds how long Close waits for an abandoned read to return.
const closeWait = 3 * time.Second

func init() {
	Register("gocv", func(opts Options) (Camera, error) {
		return OpenGocv(opts)
	})
}

// Gocv reads frames from a V4L2/UVC/GigE device through OpenCV.
type Gocv struct {
	capture *gocv.VideoCapture
	device  int

	// OpenCV reads cannot be interrupted; gate is held until Read returns.
	gate *readGate

	closeOnce sync.Once
	closeErr  error
}

// OpenGocv opens an OpenCV capture device.
func OpenGocv(opts Options) (*Gocv, error) {
	vc, err := gocv.OpenVideoCapture(opts.Device)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open video capture device %d", opts.Device)
	}
	if opts.Width > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(opts.Width))
	}
	if opts.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameHeight, float64(opts.Height))
	}

	return &Gocv{
		capture: vc,
		device:  opts.Device,
		gate:    newReadGate(),
	}, nil
}

type gocvResult struct {
	img *RawImage
	err error
}

// CaptureFrame implements Camera.
func (g *Gocv) CaptureFrame(ctx context.Context) (*RawImage, error) {
	if err := g.gate.acquire(ctx); err != nil {
		return nil, Error(err, "device %d busy with a previous read", g.device)
	}

	result := make(chan gocvResult, 1)
	go func() {
		defer g.gate.release()
		img, err := g.read()
		result <- gocvResult{img: img, err: err}
	}()

	select {
	case r := <-result:
		return r.img, r.err
	case <-ctx.Done():
		return nil, Error(ctx.Err(), "device %d read timed out", g.device)
	}
}

func (g *Gocv) read() (*RawImage, error) {
	mat := gocv.NewMat()
	defer mat.Close()

	if ok := g.capture.Read(&mat); !ok || mat.Empty() {
		return nil, Error(nil, "device %d returned no data", g.device)
	}

	format := PixelBGR24
	switch mat.Channels() {
	case 1:
		format = PixelGray8
	case 3:
	default:
		return nil, Error(nil, "device %d returned %d channels", g.device, mat.Channels())
	}

	return &RawImage{
		Pix:        mat.ToBytes(),
		Width:      mat.Cols(),
		Height:     mat.Rows(),
		Format:     format,
		CapturedAt: time.Now(),
	}, nil
}

// Close releases the device once no read is in flight. If a hung read does
// not return within closeWait the native handle is left open.
func (g *Gocv) Close() error {
	if !g.gate.drain(closeWait) {
		util.GetLogger().Warn("Camera read still in flight, leaving device open", "device", g.device)
		return Error(nil, "device %d still reading, not closed", g.device)
	}
	g.closeOnce.Do(func() {
		g.closeErr = g.capture.Close()
	})
	return g.closeErr
}
