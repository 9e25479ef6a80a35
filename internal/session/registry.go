// Package session tracks connected viewers and runs one delivery loop per
// viewer.
package session

import (
	"sort"
	"sync"

	"github.com/babelcloud/camcast/internal/util"
	"github.com/pkg/errors"
)

// ErrDuplicateSession is returned by Register for an id that is already
// registered.
var ErrDuplicateSession = errors.New("session already registered")

// Activator is switched on by the first registered session and off by the
// last one to leave.
type Activator interface {
	Activate()
	Deactivate()
}

// Registry is the set of live viewer sessions. The set is non-empty exactly
// when the activator is active.
type Registry struct {
	mu        sync.Mutex
	sessions  map[string]struct{}
	activator Activator
}

// NewRegistry creates an empty registry driving activator.
func NewRegistry(activator Activator) *Registry {
	return &Registry{
		sessions:  make(map[string]struct{}),
		activator: activator,
	}
}

// Register adds id. The first session activates capture. Activation runs
// under the registry lock so a concurrent Unregister cannot interleave.
func (r *Registry) Register(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; ok {
		return errors.Wrapf(ErrDuplicateSession, "id %s", id)
	}
	r.sessions[id] = struct{}{}
	util.GetLogger().Debug("Viewer registered", "id", id, "viewers", len(r.sessions))

	if len(r.sessions) == 1 && r.activator != nil {
		r.activator.Activate()
	}
	return nil
}

// Unregister removes id. Removing the last session deactivates capture.
// Unknown ids are ignored.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; !ok {
		return
	}
	delete(r.sessions, id)
	util.GetLogger().Debug("Viewer unregistered", "id", id, "viewers", len(r.sessions))

	if len(r.sessions) == 0 && r.activator != nil {
		r.activator.Deactivate()
	}
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// IDs returns the registered session ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	sort.Strings(ids)
	return ids
}
