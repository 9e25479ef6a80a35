package session

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/babelcloud/camcast/internal/frame"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWSServer(t *testing.T, store *frame.Store, reg *Registry, format Format) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		v := NewViewer("", NewWSConn(ws, format), store, reg, Options{MaxFPS: 100})
		_ = v.Run(context.Background())
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return c
}

func TestWSConnBinaryFrames(t *testing.T) {
	store := frame.NewStore()
	reg := NewRegistry(nil)
	srv := newWSServer(t, store, reg, FormatBinary)

	c := dial(t, srv)
	defer c.Close()
	waitRegistered(t, reg, 1)

	store.Publish([]byte{0xff, 0xd8, 0x01}, time.Now())

	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	mt, data, err := c.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, mt)
	assert.Equal(t, []byte{0xff, 0xd8, 0x01}, data)
}

func TestWSConnBase64Frames(t *testing.T) {
	store := frame.NewStore()
	reg := NewRegistry(nil)
	srv := newWSServer(t, store, reg, FormatBase64)

	c := dial(t, srv)
	defer c.Close()
	waitRegistered(t, reg, 1)

	store.Publish([]byte("jpeg"), time.Now())

	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	mt, data, err := c.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, mt)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("jpeg")), string(data))
}

func TestWSConnClientCloseUnregisters(t *testing.T) {
	store := frame.NewStore()
	act := &countingActivator{}
	reg := NewRegistry(act)
	srv := newWSServer(t, store, reg, FormatBinary)

	c := dial(t, srv)
	waitRegistered(t, reg, 1)

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	require.NoError(t, c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)))
	c.Close()

	waitRegistered(t, reg, 0)
	active, on, off, _ := act.snapshot()
	assert.False(t, active)
	assert.Equal(t, 1, on)
	assert.Equal(t, 1, off)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatBinary, f)

	f, err = ParseFormat("base64")
	require.NoError(t, err)
	assert.Equal(t, FormatBase64, f)
	assert.Equal(t, "base64", f.String())

	_, err = ParseFormat("mjpeg")
	assert.Error(t, err)
}
