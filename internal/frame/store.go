// Package frame holds the latest encoded camera frame and lets any number of
// viewers wait for a newer one.
//
// The store keeps a single slot: publishing replaces the current frame, so
// memory stays constant no matter how many viewers there are or how slowly
// they read. Waiters are woken by closing a notify channel that is replaced
// on every publish.
package frame

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// ErrWaitTimeout is returned by WaitForNewer when no newer frame was
// published before the timeout elapsed.
var ErrWaitTimeout = errors.New("timed out waiting for a newer frame")

// Frame is an encoded camera image.
//
// A published Frame is shared by reference with every viewer: neither the
// publisher nor readers may modify Payload after Publish.
type Frame struct {
	// Version is assigned by the Store on publish. Strictly increasing.
	Version uint64

	// Payload is the encoded image (JPEG).
	Payload []byte

	// Timestamp is the capture time reported by the camera.
	Timestamp time.Time
}

// Stats is a snapshot of store counters.
type Stats struct {
	Version       uint64    `json:"version"`
	Wakeups       uint64    `json:"wakeups"`
	Bytes         int       `json:"bytes"`
	LastPublished time.Time `json:"last_published"`
}

// Store is a single-slot, versioned frame holder. The zero value is not
// usable; create one with NewStore.
type Store struct {
	mu      sync.Mutex
	current *Frame
	version uint64
	changed chan struct{} // closed and replaced on every publish

	wakeups uint64 // atomic
}

// NewStore creates an empty store at version 0.
func NewStore() *Store {
	return &Store{
		changed: make(chan struct{}),
	}
}

// Publish replaces the current frame, increments the version and wakes
// every waiter. It never blocks on readers.
func (s *Store) Publish(payload []byte, timestamp time.Time) *Frame {
	s.mu.Lock()
	s.version++
	f := &Frame{
		Version:   s.version,
		Payload:   payload,
		Timestamp: timestamp,
	}
	s.current = f
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()

	return f
}

// Read returns the current version and frame without blocking. The frame is
// nil until the first publish.
func (s *Store) Read() (uint64, *Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version, s.current
}

// Version returns the current version.
func (s *Store) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// WaitForNewer blocks until a frame with a version greater than known is
// available and returns it. It returns ErrWaitTimeout when timeout elapses
// first and ctx.Err() when ctx is done. A non-positive timeout waits until
// ctx is done.
//
// If several frames were published since known, only the latest is
// returned; intermediate versions are skipped.
func (s *Store) WaitForNewer(ctx context.Context, known uint64, timeout time.Duration) (*Frame, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		// Check the predicate and take the notify channel in one critical
		// section so a publish between the two cannot be missed.
		s.mu.Lock()
		if s.version > known {
			f := s.current
			s.mu.Unlock()
			return f, nil
		}
		changed := s.changed
		s.mu.Unlock()

		select {
		case <-changed:
			atomic.AddUint64(&s.wakeups, 1)
		case <-expired:
			return nil, ErrWaitTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Stats returns a snapshot of the store counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Version: s.version,
		Wakeups: atomic.LoadUint64(&s.wakeups),
	}
	if s.current != nil {
		st.Bytes = len(s.current.Payload)
		st.LastPublished = s.current.Timestamp
	}
	return st
}
