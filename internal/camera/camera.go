// Package camera defines the hardware camera collaborator consumed by the
// capture controller, plus a driver registry.
package camera

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ErrCamera marks a transient camera failure. Callers retry.
var ErrCamera = errors.New("camera error")

// ErrUnknownParam is returned by ParamController.SetParams for a parameter
// the driver does not expose.
var ErrUnknownParam = errors.New("unknown camera parameter")

// PixelFormat describes the layout of RawImage.Pix.
type PixelFormat int

const (
	// PixelRGB24 is packed 8-bit R, G, B.
	PixelRGB24 PixelFormat = iota
	// PixelBGR24 is packed 8-bit B, G, R (OpenCV order).
	PixelBGR24
	// PixelRGBA32 is packed 8-bit R, G, B, A.
	PixelRGBA32
	// PixelGray8 is one 8-bit luma sample per pixel.
	PixelGray8
)

// BytesPerPixel returns the sample size of the format.
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case PixelRGB24, PixelBGR24:
		return 3
	case PixelRGBA32:
		return 4
	case PixelGray8:
		return 1
	default:
		return 0
	}
}

func (f PixelFormat) String() string {
	switch f {
	case PixelRGB24:
		return "RGB24"
	case PixelBGR24:
		return "BGR24"
	case PixelRGBA32:
		return "RGBA32"
	case PixelGray8:
		return "Gray8"
	default:
		return fmt.Sprintf("PixelFormat(%d)", int(f))
	}
}

// RawImage is a transient pixel buffer returned by a camera.
type RawImage struct {
	Pix        []byte
	Width      int
	Height     int
	Format     PixelFormat
	CapturedAt time.Time
}

// Validate checks that the buffer size matches the declared geometry.
func (img *RawImage) Validate() error {
	if img == nil {
		return errors.New("nil image")
	}
	bpp := img.Format.BytesPerPixel()
	if bpp == 0 {
		return errors.Errorf("unsupported pixel format %s", img.Format)
	}
	if img.Width <= 0 || img.Height <= 0 {
		return errors.Errorf("invalid image size %dx%d", img.Width, img.Height)
	}
	if want := img.Width * img.Height * bpp; len(img.Pix) != want {
		return errors.Errorf("pixel buffer is %d bytes, want %d for %dx%d %s",
			len(img.Pix), want, img.Width, img.Height, img.Format)
	}
	return nil
}

// Camera captures single frames. CaptureFrame must return once ctx is done;
// the caller bounds every read with a deadline. Failures wrap ErrCamera.
type Camera interface {
	CaptureFrame(ctx context.Context) (*RawImage, error)
}

// ParamController is implemented by cameras whose parameters can be read
// and changed at runtime.
type ParamController interface {
	Params() map[string]interface{}
	SetParams(params map[string]interface{}) error
	ResetParams() error
}

// Error wraps err as a camera failure.
func Error(err error, format string, args ...interface{}) error {
	if err == nil {
		return errors.Wrapf(ErrCamera, format, args...)
	}
	return errors.Wrapf(&cameraError{cause: err}, format, args...)
}

type cameraError struct {
	cause error
}

func (e *cameraError) Error() string { return e.cause.Error() }

func (e *cameraError) Is(target error) bool { return target == ErrCamera }

func (e *cameraError) Unwrap() error { return e.cause }

// Options configures a driver when it is opened.
type Options struct {
	Device int
	Width  int
	Height int
}

// Factory opens a camera driver.
type Factory func(opts Options) (Camera, error)

var (
	driversMu sync.RWMutex
	drivers   = map[string]Factory{}
)

// Register makes a driver available to Open. It panics on a duplicate name.
func Register(name string, factory Factory) {
	driversMu.Lock()
	defer driversMu.Unlock()

	if _, exists := drivers[name]; exists {
		panic("camera: driver registered twice: " + name)
	}
	drivers[name] = factory
}

// Drivers returns the registered driver names, sorted.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()

	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open opens the named driver.
func Open(name string, opts Options) (Camera, error) {
	driversMu.RLock()
	factory, ok := drivers[name]
	driversMu.RUnlock()

	if !ok {
		return nil, errors.Errorf("unknown camera driver %q (available: %v)", name, Drivers())
	}
	cam, err := factory(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open camera driver %q", name)
	}
	return cam, nil
}
