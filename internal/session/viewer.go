package session

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/babelcloud/camcast/internal/frame"
	"github.com/babelcloud/camcast/internal/util"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/utils/clock"
)

// ErrTransport marks a failure of a single viewer connection. It ends that
// session only.
var ErrTransport = errors.New("viewer transport error")

// TransportError wraps err as a viewer transport failure.
func TransportError(err error, format string, args ...interface{}) error {
	if err == nil {
		return errors.Wrapf(ErrTransport, format, args...)
	}
	return errors.Wrapf(&transportError{cause: err}, format, args...)
}

type transportError struct {
	cause error
}

func (e *transportError) Error() string { return e.cause.Error() }

func (e *transportError) Is(target error) bool { return target == ErrTransport }

func (e *transportError) Unwrap() error { return e.cause }

// Conn is the viewer side of a connection.
type Conn interface {
	// WriteFrame delivers one encoded frame.
	WriteFrame(f *frame.Frame) error
	// ReadMessage blocks for the next inbound message. It returns io.EOF
	// when the peer closed the connection cleanly.
	ReadMessage() ([]byte, error)
	Close() error
}

// Pacing selects what triggers the next send.
type Pacing int

const (
	// PacingTimer sends whenever a newer frame exists, at most MaxFPS times
	// per second.
	PacingTimer Pacing = iota
	// PacingPull sends one frame per inbound client message, still capped
	// at MaxFPS.
	PacingPull
)

func (p Pacing) String() string {
	if p == PacingPull {
		return "pull"
	}
	return "timer"
}

// ParsePacing parses "timer" or "pull". An empty string selects PacingTimer.
func ParsePacing(s string) (Pacing, error) {
	switch strings.ToLower(s) {
	case "", "timer":
		return PacingTimer, nil
	case "pull":
		return PacingPull, nil
	default:
		return PacingTimer, errors.Errorf("unknown pacing mode %q", s)
	}
}

// State is the lifecycle state of a viewer.
type State int32

const (
	Connected State = iota
	WaitingForFrame
	Sending
	Closed
)

func (s State) String() string {
	switch s {
	case Connected:
		return "connected"
	case WaitingForFrame:
		return "waiting"
	case Sending:
		return "sending"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Options tunes a viewer.
type Options struct {
	// MaxFPS caps the delivery rate. Non-positive means 20.
	MaxFPS float64
	// WaitTimeout bounds each wait for a newer frame. Non-positive means 1s.
	WaitTimeout time.Duration
	Pacing      Pacing
	// Clock drives pacing. Defaults to the real clock.
	Clock clock.Clock
}

func (o Options) withDefaults() Options {
	if o.MaxFPS <= 0 {
		o.MaxFPS = 20
	}
	if o.WaitTimeout <= 0 {
		o.WaitTimeout = time.Second
	}
	if o.Clock == nil {
		o.Clock = clock.RealClock{}
	}
	return o
}

// MinInterval is the minimum time between two sends.
func (o Options) MinInterval() time.Duration {
	return time.Duration(float64(time.Second) / o.withDefaults().MaxFPS)
}

// Viewer delivers the latest frames to one connection.
type Viewer struct {
	id       string
	conn     Conn
	store    *frame.Store
	registry *Registry
	opts     Options

	state    atomic.Int32
	lastSent atomic.Uint64
	sent     atomic.Uint64
	skipped  atomic.Uint64

	pulls     chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewViewer creates a viewer for conn. An empty id is replaced by a random
// uuid.
func NewViewer(id string, conn Conn, store *frame.Store, registry *Registry, opts Options) *Viewer {
	if id == "" {
		id = uuid.NewString()
	}
	return &Viewer{
		id:       id,
		conn:     conn,
		store:    store,
		registry: registry,
		opts:     opts.withDefaults(),
		pulls:    make(chan struct{}, 1),
		closed:   make(chan struct{}),
	}
}

// ID returns the session id.
func (v *Viewer) ID() string { return v.id }

// State returns the current lifecycle state.
func (v *Viewer) State() State { return State(v.state.Load()) }

// LastSentVersion returns the version of the last frame delivered.
func (v *Viewer) LastSentVersion() uint64 { return v.lastSent.Load() }

// Sent returns the number of frames delivered.
func (v *Viewer) Sent() uint64 { return v.sent.Load() }

// Skipped returns the number of published frames this viewer never saw.
func (v *Viewer) Skipped() uint64 { return v.skipped.Load() }

func (v *Viewer) setState(s State) {
	for {
		cur := v.state.Load()
		if State(cur) == Closed {
			return
		}
		if v.state.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}

// Close ends the session and closes the connection. Safe to call more than
// once.
func (v *Viewer) Close() error {
	v.closeOnce.Do(func() {
		v.state.Store(int32(Closed))
		close(v.closed)
		v.closeErr = v.conn.Close()
	})
	return v.closeErr
}

// Run registers the viewer and delivers frames until ctx is done, the
// viewer is closed, the peer goes away or a send fails. It always
// unregisters and closes the connection before returning. A clean peer
// close or cancellation returns nil; transport failures wrap ErrTransport.
func (v *Viewer) Run(ctx context.Context) error {
	logger := util.GetLogger()

	// Frames published from here on are newer than lastSent.
	v.lastSent.Store(v.store.Version())

	if err := v.registry.Register(v.id); err != nil {
		v.Close()
		return err
	}
	defer v.registry.Unregister(v.id)
	defer v.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger.Info("Viewer connected", "id", v.id, "pacing", v.opts.Pacing.String(), "version", v.lastSent.Load())

	readErr := make(chan error, 1)
	go v.readLoop(cancel, readErr)
	go func() {
		select {
		case <-v.closed:
			cancel()
		case <-ctx.Done():
		}
	}()

	err := v.deliver(ctx)

	select {
	case rerr := <-readErr:
		if err == nil && !errors.Is(rerr, io.EOF) && !v.isClosed() {
			err = TransportError(rerr, "read from viewer %s", v.id)
		}
	default:
	}

	if err != nil {
		logger.Warn("Viewer session failed", "id", v.id, "error", err)
	} else {
		logger.Info("Viewer disconnected", "id", v.id, "sent", v.Sent(), "skipped", v.Skipped())
	}
	return err
}

func (v *Viewer) isClosed() bool {
	select {
	case <-v.closed:
		return true
	default:
		return false
	}
}

// readLoop drains inbound messages. In pull mode each message arms one
// send; pending pulls coalesce. Any read error ends the session.
func (v *Viewer) readLoop(cancel context.CancelFunc, readErr chan<- error) {
	defer cancel()
	for {
		if _, err := v.conn.ReadMessage(); err != nil {
			readErr <- err
			return
		}
		select {
		case v.pulls <- struct{}{}:
		default:
		}
	}
}

func (v *Viewer) deliver(ctx context.Context) error {
	clk := v.opts.Clock
	interval := v.opts.MinInterval()
	var lastSendAt time.Time

	for {
		if v.opts.Pacing == PacingPull {
			v.setState(WaitingForFrame)
			select {
			case <-v.pulls:
			case <-ctx.Done():
				return nil
			case <-v.closed:
				return nil
			}
		}

		v.setState(WaitingForFrame)
		f, err := v.nextFrame(ctx)
		if err != nil {
			return nil
		}

		if !lastSendAt.IsZero() {
			if wait := interval - clk.Since(lastSendAt); wait > 0 {
				timer := clk.NewTimer(wait)
				select {
				case <-timer.C():
				case <-ctx.Done():
					timer.Stop()
					return nil
				case <-v.closed:
					timer.Stop()
					return nil
				}
			}
			// Frames published during the pacing wait replace f.
			if _, latest := v.store.Read(); latest != nil && latest.Version > f.Version {
				f = latest
			}
		}

		last := v.lastSent.Load()
		v.setState(Sending)
		if err := v.conn.WriteFrame(f); err != nil {
			if v.isClosed() {
				return nil
			}
			return TransportError(err, "write frame %d to viewer %s", f.Version, v.id)
		}
		lastSendAt = clk.Now()
		if f.Version > last+1 {
			v.skipped.Add(f.Version - last - 1)
		}
		v.lastSent.Store(f.Version)
		v.sent.Add(1)
	}
}

// nextFrame waits for a frame newer than the last one sent. Wait timeouts
// only re-check for cancellation.
func (v *Viewer) nextFrame(ctx context.Context) (*frame.Frame, error) {
	for {
		if v.isClosed() {
			return nil, context.Canceled
		}
		f, err := v.store.WaitForNewer(ctx, v.lastSent.Load(), v.opts.WaitTimeout)
		if errors.Is(err, frame.ErrWaitTimeout) {
			continue
		}
		return f, err
	}
}
