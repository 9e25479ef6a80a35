// Package capture runs the camera capture loop and gates it on viewer
// presence.
package capture

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/babelcloud/camcast/internal/camera"
	"github.com/babelcloud/camcast/internal/encoder"
	"github.com/babelcloud/camcast/internal/frame"
	"github.com/babelcloud/camcast/internal/util"
	"github.com/pkg/errors"
	"k8s.io/utils/clock"
)

// ErrAlreadyRunning is returned by Run when another capture loop is active
// on the same controller.
var ErrAlreadyRunning = errors.New("capture loop already running")

// State is the activity state of the controller.
type State int32

const (
	// Idle means no camera polling.
	Idle State = iota
	// Active means the capture loop is polling the camera.
	Active
)

func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "idle"
}

// Config tunes the capture loop.
type Config struct {
	// ReadTimeout bounds every camera read so deactivation is observed
	// within one read.
	ReadTimeout time.Duration
	// RetryBackoff is the first delay after a camera failure.
	RetryBackoff time.Duration
	// MaxBackoff caps the exponential backoff.
	MaxBackoff time.Duration
}

// DefaultConfig returns the defaults used by the server.
func DefaultConfig() Config {
	return Config{
		ReadTimeout:  time.Second,
		RetryBackoff: 200 * time.Millisecond,
		MaxBackoff:   5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = d.RetryBackoff
	}
	if c.MaxBackoff < c.RetryBackoff {
		c.MaxBackoff = c.RetryBackoff
	}
	return c
}

// Stats is a snapshot of controller counters.
type Stats struct {
	State         string     `json:"state"`
	Captures      uint64     `json:"captures"`
	CameraErrors  uint64     `json:"camera_errors"`
	EncodeErrors  uint64     `json:"encode_errors"`
	Activations   uint64     `json:"activations"`
	Deactivations uint64     `json:"deactivations"`
	OneShots      uint64     `json:"one_shots"`
	LastError     string     `json:"last_error,omitempty"`
	LastErrorAt   *time.Time `json:"last_error_at,omitempty"`
}

// Controller owns the capture loop. Activate and Deactivate only flip the
// state and wake the loop; the loop itself runs in Run.
type Controller struct {
	camera  camera.Camera
	encoder encoder.Encoder
	store   *frame.Store
	config  Config
	clock   clock.Clock

	mu      sync.Mutex
	state   State
	wake    chan struct{} // closed and replaced on every state change
	running bool
	stats   Stats

	// activatedAt is the store version at the last Idle->Active transition.
	activatedAt uint64

	// cameraMu serializes camera access between the loop and one-shot
	// snapshots.
	cameraMu sync.Mutex
}

// Option customizes a Controller.
type Option func(*Controller)

// WithClock replaces the clock used for backoff.
func WithClock(c clock.Clock) Option {
	return func(ctrl *Controller) {
		ctrl.clock = c
	}
}

// NewController creates an idle controller publishing into store.
func NewController(cam camera.Camera, enc encoder.Encoder, store *frame.Store, cfg Config, opts ...Option) *Controller {
	c := &Controller{
		camera:  cam,
		encoder: enc,
		store:   store,
		config:  cfg.withDefaults(),
		clock:   clock.RealClock{},
		wake:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Activate switches the controller to Active. Calling it while Active is a
// no-op.
func (c *Controller) Activate() {
	c.setState(Active)
}

// Deactivate switches the controller to Idle. Calling it while Idle is a
// no-op.
func (c *Controller) Deactivate() {
	c.setState(Idle)
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == s {
		return
	}
	c.state = s
	if s == Active {
		c.stats.Activations++
		c.activatedAt = c.store.Version()
	} else {
		c.stats.Deactivations++
	}
	close(c.wake)
	c.wake = make(chan struct{})

	util.GetLogger().Info("Capture state changed", "state", s.String())
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// current returns the state together with the channel closed on its next
// change.
func (c *Controller) current() (State, <-chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.wake
}

// Stats returns a snapshot of the controller counters.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.stats
	st.State = c.state.String()
	return st
}

// Run executes the capture loop until ctx is done. Only one Run may be
// active per controller. Run returns nil on cancellation.
func (c *Controller) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.running = true
	c.mu.Unlock()

	logger := util.GetLogger()
	logger.Info("Capture loop started")
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		logger.Info("Capture loop stopped")
	}()

	backoff := time.Duration(0)
	for {
		state, wake := c.current()
		if state == Idle {
			backoff = 0
			select {
			case <-wake:
				continue
			case <-ctx.Done():
				return nil
			}
		}

		if ctx.Err() != nil {
			return nil
		}

		err := c.captureAndPublish(ctx)
		switch {
		case err == nil:
			backoff = 0
			continue
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, encoder.ErrEncode):
			// Only this frame is lost; the previous one stays current.
			continue
		}

		backoff = c.nextBackoff(backoff)
		logger.Warn("Camera read failed, backing off", "error", err, "backoff", backoff)

		timer := c.clock.NewTimer(backoff)
		select {
		case <-timer.C():
		case <-wake:
			timer.Stop()
		case <-ctx.Done():
			timer.Stop()
			return nil
		}
	}
}

func (c *Controller) nextBackoff(prev time.Duration) time.Duration {
	if prev <= 0 {
		return c.config.RetryBackoff
	}
	next := prev * 2
	if next > c.config.MaxBackoff {
		next = c.config.MaxBackoff
	}
	return next
}

// captureAndPublish reads, encodes and publishes one frame.
func (c *Controller) captureAndPublish(ctx context.Context) error {
	payload, capturedAt, err := c.captureEncoded(ctx)
	if err != nil {
		return err
	}
	f := c.store.Publish(payload, capturedAt)

	c.mu.Lock()
	c.stats.Captures++
	c.mu.Unlock()

	util.GetLogger().Debug("Frame published", "version", f.Version, "bytes", len(payload))
	return nil
}

// captureEncoded performs one bounded camera read followed by encoding.
func (c *Controller) captureEncoded(ctx context.Context) ([]byte, time.Time, error) {
	c.cameraMu.Lock()
	defer c.cameraMu.Unlock()

	readCtx, cancel := context.WithTimeout(ctx, c.config.ReadTimeout)
	img, err := c.camera.CaptureFrame(readCtx)
	cancel()
	if err != nil {
		if !errors.Is(err, camera.ErrCamera) {
			err = camera.Error(err, "capture")
		}
		c.recordError(err, false)
		return nil, time.Time{}, err
	}

	payload, err := c.encoder.Encode(img)
	if err != nil {
		if !errors.Is(err, encoder.ErrEncode) {
			err = encoder.Error(err, "encode")
		}
		c.recordError(err, true)
		util.GetLogger().Warn("Frame encode failed, skipping publish", "error", err)
		return nil, time.Time{}, err
	}

	capturedAt := img.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = c.clock.Now()
	}
	return payload, capturedAt, nil
}

func (c *Controller) recordError(err error, encode bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if encode {
		c.stats.EncodeErrors++
	} else {
		c.stats.CameraErrors++
	}
	c.stats.LastError = err.Error()
	now := c.clock.Now()
	c.stats.LastErrorAt = &now
}

// Snapshot returns a single encoded frame. When the capture loop is Active
// the latest frame published since activation is reused, waiting up to
// ReadTimeout for the first one; frames left over from an earlier active
// period are never returned. Otherwise a one-shot capture is performed that
// is not published to the store and does not change the controller state.
func (c *Controller) Snapshot(ctx context.Context) (*frame.Frame, error) {
	c.mu.Lock()
	active, since := c.state == Active, c.activatedAt
	c.mu.Unlock()

	if active {
		f, err := c.store.WaitForNewer(ctx, since, c.config.ReadTimeout)
		if err == nil {
			return f, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Stream is active but has not produced a frame yet; read directly.
	}

	payload, capturedAt, err := c.captureEncoded(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.stats.OneShots++
	c.mu.Unlock()

	return &frame.Frame{Payload: payload, Timestamp: capturedAt}, nil
}

// ContentType reports the MIME type of published payloads.
func (c *Controller) ContentType() string {
	return c.encoder.ContentType()
}

// Camera returns the camera driven by this controller.
func (c *Controller) Camera() camera.Camera {
	return c.camera
}

// Close releases the camera if it holds resources.
func (c *Controller) Close() error {
	if closer, ok := c.camera.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
