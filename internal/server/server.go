package server

import (
	"bufio"
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/babelcloud/camcast/config"
	"github.com/babelcloud/camcast/internal/camera"
	"github.com/babelcloud/camcast/internal/capture"
	"github.com/babelcloud/camcast/internal/encoder"
	"github.com/babelcloud/camcast/internal/frame"
	"github.com/babelcloud/camcast/internal/server/handlers"
	"github.com/babelcloud/camcast/internal/server/router"
	"github.com/babelcloud/camcast/internal/session"
	"github.com/babelcloud/camcast/internal/util"
	"github.com/pkg/errors"
)

//go:embed all:static
var staticFiles embed.FS

// exitFunc terminates the process after a fatal capture failure.
var exitFunc = os.Exit

// LiveServer serves the live camera stream and its HTTP API
type LiveServer struct {
	port       int
	httpServer *http.Server
	mux        *http.ServeMux
	routesOnce sync.Once
	settings   config.Settings

	// Services
	store      *frame.Store
	controller *capture.Controller
	sessions   *session.Registry

	// State
	mu           sync.RWMutex
	running      bool
	startTime    time.Time
	buildID      string // Store build ID at startup
	ctx          context.Context
	cancel       context.CancelFunc
	captureDone  chan struct{}
	capturing    bool
	shutdownOnce sync.Once
	stopOnce     sync.Once
}

// NewLiveServer opens the configured camera and wires the capture
// pipeline. The capture loop starts with Start.
func NewLiveServer(settings config.Settings) (*LiveServer, error) {
	cam, err := camera.Open(settings.CameraDriver, camera.Options{
		Device: settings.CameraDevice,
		Width:  settings.Width,
		Height: settings.Height,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open camera")
	}

	enc, err := encoder.New(settings.Encoder, settings.JPEGQuality)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create encoder")
	}

	return newLiveServer(settings, cam, enc), nil
}

func newLiveServer(settings config.Settings, cam camera.Camera, enc encoder.Encoder) *LiveServer {
	ctx, cancel := context.WithCancel(context.Background())

	store := frame.NewStore()
	controller := capture.NewController(cam, enc, store, capture.Config{
		ReadTimeout:  settings.ReadTimeout,
		RetryBackoff: settings.RetryBackoff,
		MaxBackoff:   settings.MaxBackoff,
	})

	return &LiveServer{
		port:        settings.Port,
		mux:         http.NewServeMux(),
		settings:    settings,
		store:       store,
		controller:  controller,
		sessions:    session.NewRegistry(controller),
		ctx:         ctx,
		cancel:      cancel,
		captureDone: make(chan struct{}),
	}
}

// Start starts the capture supervisor and serves HTTP until Stop.
func (s *LiveServer) Start() error {
	s.startTime = time.Now()
	s.buildID = GetBuildID()

	s.startCapture()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.Handler(),
		ReadTimeout:  0, // No read timeout for streaming connections
		WriteTimeout: 0, // No write timeout for streaming connections
		IdleTimeout:  0, // No idle timeout for streaming connections
	}

	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	err := s.httpServer.ListenAndServe()

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// startCapture runs the capture loop under supervision. The loop idles
// until the first viewer registers.
func (s *LiveServer) startCapture() {
	s.mu.Lock()
	s.capturing = true
	s.mu.Unlock()

	go func() {
		defer close(s.captureDone)
		capture.Supervise(s.ctx, "capture", s.controller.Run, s.escalate)
	}()
}

// escalate stops the server and exits non-zero after the capture goroutine
// died.
func (s *LiveServer) escalate(err error) {
	util.GetLogger().Error("Capture goroutine died, shutting down", "error", err)
	s.shutdown()
	exitFunc(1)
}

// Handler returns the HTTP handler with all routes registered.
func (s *LiveServer) Handler() http.Handler {
	s.routesOnce.Do(s.setupRoutes)
	return loggingMiddleware(s.mux)
}

// Stop stops the server, waits for the capture loop and releases the
// camera. Safe to call more than once.
func (s *LiveServer) Stop() error {
	s.stopOnce.Do(s.stop)
	return nil
}

func (s *LiveServer) stop() {
	s.shutdown()

	s.mu.RLock()
	capturing := s.capturing
	s.mu.RUnlock()
	if capturing {
		select {
		case <-s.captureDone:
		case <-time.After(s.settings.ReadTimeout + 2*time.Second):
			util.GetLogger().Warn("Capture loop did not stop in time")
		}
	}

	if err := s.controller.Close(); err != nil {
		log.Printf("Camera close error: %v", err)
	}

	log.Println("Camcast server stopped")
}

func (s *LiveServer) shutdown() {
	s.shutdownOnce.Do(func() {
		s.cancel()

		if s.httpServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := s.httpServer.Shutdown(ctx); err != nil {
				log.Printf("HTTP server shutdown error: %v", err)
				// Force close if graceful shutdown fails
				if err := s.httpServer.Close(); err != nil {
					log.Printf("HTTP server force close error: %v", err)
				}
			}
		}
	})
}

// IsRunning returns whether the server is running
func (s *LiveServer) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// setupRoutes sets up all HTTP routes using the router system
func (s *LiveServer) setupRoutes() {
	// Register routers in order of specificity (most specific first)
	routers := []router.Router{
		&router.APIRouter{},
		&router.StreamingRouter{},
		&router.PagesRouter{}, // Must be last as it includes root handler
	}

	for _, r := range routers {
		r.RegisterRoutes(s.mux, s)
	}
}

// ServerService interface implementations for handlers

// GetPort returns the server port
func (s *LiveServer) GetPort() int {
	return s.port
}

// GetUptime returns server uptime
func (s *LiveServer) GetUptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Since(s.startTime)
}

// GetBuildID returns build ID
func (s *LiveServer) GetBuildID() string {
	return s.buildID
}

// GetVersion returns version info
func (s *LiveServer) GetVersion() string {
	return BuildInfo.Version
}

// Context is cancelled when the server stops
func (s *LiveServer) Context() context.Context {
	return s.ctx
}

// FrameStore returns the latest-frame store
func (s *LiveServer) FrameStore() *frame.Store {
	return s.store
}

// Sessions returns the viewer registry
func (s *LiveServer) Sessions() *session.Registry {
	return s.sessions
}

// Capture returns the capture controller
func (s *LiveServer) Capture() handlers.CaptureService {
	return s.controller
}

// StreamOptions returns the per-viewer delivery settings
func (s *LiveServer) StreamOptions() session.Options {
	return session.Options{
		MaxFPS:      s.settings.MaxFPS,
		WaitTimeout: s.settings.WaitTimeout,
	}
}

// CacheDir returns where mode=path snapshots are written
func (s *LiveServer) CacheDir() string {
	return s.settings.CacheDir
}

// GetStaticFS returns static file system
func (s *LiveServer) GetStaticFS() fs.FS {
	return staticFiles
}

type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	length int
}

func (lw *loggingResponseWriter) WriteHeader(code int) {
	lw.status = code
	lw.ResponseWriter.WriteHeader(code)
}

func (lw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lw.status == 0 {
		lw.status = http.StatusOK
	}
	n, err := lw.ResponseWriter.Write(b)
	lw.length += n
	return n, err
}

func (lw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := lw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("http.Hijacker interface is not supported")
	}
	return hj.Hijack()
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lw := &loggingResponseWriter{ResponseWriter: w}
		next.ServeHTTP(lw, r)
		duration := time.Since(start)
		log.Printf("%s %s %d %d %s %s", r.Method, r.URL.Path, lw.status, lw.length, duration, r.RemoteAddr)
	})
}
