package camera

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const (
	defaultPatternWidth    = 640
	defaultPatternHeight   = 480
	defaultPatternInterval = 33 * time.Millisecond
	defaultBrightness      = 100
)

func init() {
	Register("pattern", func(opts Options) (Camera, error) {
		return NewPattern(opts.Width, opts.Height), nil
	})
}

// Pattern is a synthetic camera producing moving colour bars. It needs no
// hardware and is the default driver.
type Pattern struct {
	mu         sync.Mutex
	width      int
	height     int
	brightness int
	interval   time.Duration
	frameNum   uint64

	// fault, when set, is consulted before every capture; a non-nil return
	// is reported as a camera failure.
	fault func(frameNum uint64) error
}

// NewPattern creates a pattern camera. Non-positive sizes use 640x480.
func NewPattern(width, height int) *Pattern {
	if width <= 0 {
		width = defaultPatternWidth
	}
	if height <= 0 {
		height = defaultPatternHeight
	}
	return &Pattern{
		width:      width,
		height:     height,
		brightness: defaultBrightness,
		interval:   defaultPatternInterval,
	}
}

// SetInterval sets the simulated sensor readout time.
func (p *Pattern) SetInterval(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interval = d
}

// SetFault installs a fault injector.
func (p *Pattern) SetFault(fault func(frameNum uint64) error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fault = fault
}

// CaptureFrame implements Camera.
func (p *Pattern) CaptureFrame(ctx context.Context) (*RawImage, error) {
	p.mu.Lock()
	p.frameNum++
	n := p.frameNum
	width, height, brightness := p.width, p.height, p.brightness
	interval, fault := p.interval, p.fault
	p.mu.Unlock()

	if interval > 0 {
		timer := time.NewTimer(interval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, Error(ctx.Err(), "pattern frame %d not ready", n)
		}
	}

	if fault != nil {
		if err := fault(n); err != nil {
			return nil, Error(err, "pattern frame %d", n)
		}
	}

	return &RawImage{
		Pix:        renderBars(width, height, brightness, n),
		Width:      width,
		Height:     height,
		Format:     PixelRGB24,
		CapturedAt: time.Now(),
	}, nil
}

var barColors = [][3]byte{
	{255, 255, 255}, {255, 255, 0}, {0, 255, 255}, {0, 255, 0},
	{255, 0, 255}, {255, 0, 0}, {0, 0, 255}, {0, 0, 0},
}

// renderBars draws vertical colour bars scrolled by the frame number.
func renderBars(width, height, brightness int, n uint64) []byte {
	pix := make([]byte, width*height*3)
	barWidth := width / len(barColors)
	if barWidth == 0 {
		barWidth = 1
	}
	shift := int(n % uint64(width))

	row := pix[:width*3]
	for x := 0; x < width; x++ {
		c := barColors[((x+shift)/barWidth)%len(barColors)]
		for i := 0; i < 3; i++ {
			row[x*3+i] = byte(int(c[i]) * brightness / 100)
		}
	}
	for y := 1; y < height; y++ {
		copy(pix[y*width*3:(y+1)*width*3], row)
	}
	return pix
}

// Params implements ParamController.
func (p *Pattern) Params() map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return map[string]interface{}{
		"width":      p.width,
		"height":     p.height,
		"brightness": p.brightness,
	}
}

// SetParams implements ParamController. All values are validated before
// any is applied.
func (p *Pattern) SetParams(params map[string]interface{}) error {
	values := make(map[string]int, len(params))
	for name, raw := range params {
		v, err := toInt(raw)
		if err != nil {
			return errors.Wrapf(err, "parameter %q", name)
		}
		switch name {
		case "width", "height":
			if v <= 0 || v > 8192 {
				return errors.Errorf("parameter %q out of range: %d", name, v)
			}
		case "brightness":
			if v < 0 || v > 100 {
				return errors.Errorf("parameter %q out of range: %d", name, v)
			}
		default:
			return errors.Wrap(ErrUnknownParam, name)
		}
		values[name] = v
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for name, v := range values {
		switch name {
		case "width":
			p.width = v
		case "height":
			p.height = v
		case "brightness":
			p.brightness = v
		}
	}
	return nil
}

// ResetParams implements ParamController.
func (p *Pattern) ResetParams() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.width = defaultPatternWidth
	p.height = defaultPatternHeight
	p.brightness = defaultBrightness
	return nil
}

func toInt(v interface{}) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, errors.Errorf("not an integer: %v", n)
		}
		return int(n), nil
	default:
		return 0, errors.Errorf("not a number: %v", v)
	}
}
