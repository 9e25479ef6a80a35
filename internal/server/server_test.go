package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/babelcloud/camcast/config"
	"github.com/babelcloud/camcast/internal/camera"
	"github.com/babelcloud/camcast/internal/capture"
	"github.com/babelcloud/camcast/internal/encoder"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSettings(t *testing.T) config.Settings {
	return config.Settings{
		MaxFPS:       50,
		WaitTimeout:  100 * time.Millisecond,
		RetryBackoff: 10 * time.Millisecond,
		MaxBackoff:   50 * time.Millisecond,
		ReadTimeout:  500 * time.Millisecond,
		CameraDriver: "pattern",
		Width:        64,
		Height:       48,
		Encoder:      "jpeg",
		JPEGQuality:  80,
		CacheDir:     t.TempDir(),
	}
}

func newTestServer(t *testing.T, cam camera.Camera) (*LiveServer, *httptest.Server) {
	t.Helper()
	srv := newLiveServer(testSettings(t), cam, encoder.NewJPEG(80))
	srv.startCapture()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Stop()
	})
	return srv, ts
}

func fastPattern() *camera.Pattern {
	p := camera.NewPattern(64, 48)
	p.SetInterval(5 * time.Millisecond)
	return p
}

func TestNewLiveServerRejectsUnknownDrivers(t *testing.T) {
	settings := testSettings(t)
	settings.CameraDriver = "nope"
	_, err := NewLiveServer(settings)
	assert.Error(t, err)

	settings = testSettings(t)
	settings.Encoder = "nope"
	_, err = NewLiveServer(settings)
	assert.Error(t, err)

	srv, err := NewLiveServer(testSettings(t))
	require.NoError(t, err)
	assert.Equal(t, capture.Idle, srv.controller.State())
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := newTestServer(t, fastPattern())

	resp, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "healthy")
}

func TestIndexPageEmbedded(t *testing.T) {
	_, ts := newTestServer(t, fastPattern())

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "/live")
}

func TestLiveStreamActivatesCapture(t *testing.T) {
	srv, ts := newTestServer(t, fastPattern())
	assert.Equal(t, capture.Idle, srv.controller.State())

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/live"
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	require.NoError(t, c.SetReadDeadline(time.Now().Add(3*time.Second)))
	mt, data, err := c.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, mt)
	require.Greater(t, len(data), 2)
	assert.Equal(t, []byte{0xff, 0xd8}, data[:2], "payload must be a JPEG")
	assert.Equal(t, capture.Active, srv.controller.State())
	assert.Equal(t, 1, srv.sessions.Len())

	c.Close()
	require.Eventually(t, func() bool {
		return srv.sessions.Len() == 0 && srv.controller.State() == capture.Idle
	}, 3*time.Second, 10*time.Millisecond)
}

func TestAliasStreamPath(t *testing.T) {
	_, ts := newTestServer(t, fastPattern())

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/stream/live?format=base64"
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.SetReadDeadline(time.Now().Add(3*time.Second)))
	mt, data, err := c.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, mt)
	assert.True(t, strings.HasPrefix(string(data), "/9j/"), "base64 JPEG starts with /9j/")
}

func TestFrameWhileIdleDoesNotActivate(t *testing.T) {
	srv, ts := newTestServer(t, fastPattern())

	resp, err := http.Get(ts.URL + "/api/frame?mode=raw")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
	assert.Equal(t, []byte{0xff, 0xd8}, data[:2])
	assert.Equal(t, capture.Idle, srv.controller.State())
	assert.Zero(t, srv.store.Version())
}

type panickingCamera struct{}

func (panickingCamera) CaptureFrame(ctx context.Context) (*camera.RawImage, error) {
	panic("driver fault")
}

func TestCaptureDeathEscalates(t *testing.T) {
	exited := make(chan int, 1)
	origExit := exitFunc
	exitFunc = func(code int) { exited <- code }
	t.Cleanup(func() { exitFunc = origExit })

	srv, _ := newTestServer(t, panickingCamera{})
	require.NoError(t, srv.sessions.Register("viewer"))

	select {
	case code := <-exited:
		assert.Equal(t, 1, code)
	case <-time.After(3 * time.Second):
		t.Fatal("capture death was not escalated")
	}
	assert.Error(t, srv.Context().Err())
}

func TestStopCancelsContext(t *testing.T) {
	srv := newLiveServer(testSettings(t), fastPattern(), encoder.NewJPEG(80))
	srv.startCapture()

	require.NoError(t, srv.Stop())
	assert.Error(t, srv.Context().Err())
	select {
	case <-srv.captureDone:
	default:
		t.Fatal("capture loop still running after Stop")
	}
	assert.False(t, srv.IsRunning())
}

func TestGetBuildID(t *testing.T) {
	assert.NotEmpty(t, GetBuildID())
}
