package camera

import (
	"context"
	"sync"
	"time"
)

// readGate tracks a single in-flight blocking driver read. A read abandoned
// on timeout keeps the gate held until the driver call returns, so the
// native handle must not be released before the gate is drained.
type readGate struct {
	busy chan struct{}

	mu      sync.Mutex
	drained bool
}

func newReadGate() *readGate {
	return &readGate{busy: make(chan struct{}, 1)}
}

// acquire takes the gate or fails when ctx is done first.
func (g *readGate) acquire(ctx context.Context) error {
	select {
	case g.busy <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *readGate) release() {
	<-g.busy
}

// drain takes the gate for good, waiting at most timeout for an in-flight
// read to finish. It reports false when the read is still running; later
// calls after a successful drain report true without waiting.
func (g *readGate) drain(timeout time.Duration) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.drained {
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case g.busy <- struct{}{}:
		g.drained = true
		return true
	case <-timer.C:
		return false
	}
}
