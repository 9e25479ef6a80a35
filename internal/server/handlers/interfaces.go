package handlers

import (
	"context"
	"io/fs"
	"time"

	"github.com/babelcloud/camcast/internal/camera"
	"github.com/babelcloud/camcast/internal/capture"
	"github.com/babelcloud/camcast/internal/frame"
	"github.com/babelcloud/camcast/internal/session"
)

// ServerService defines the interface for server operations that handlers need
type ServerService interface {
	// Status and info
	IsRunning() bool
	GetPort() int
	GetUptime() time.Duration
	GetBuildID() string
	GetVersion() string

	// Live stream components
	Context() context.Context
	FrameStore() *frame.Store
	Sessions() *session.Registry
	Capture() CaptureService
	StreamOptions() session.Options
	CacheDir() string

	// Static file serving
	GetStaticFS() fs.FS

	// Server lifecycle
	Stop() error
}

// CaptureService is the part of the capture controller exposed over HTTP.
type CaptureService interface {
	State() capture.State
	Stats() capture.Stats
	Snapshot(ctx context.Context) (*frame.Frame, error)
	ContentType() string
	Camera() camera.Camera
}
