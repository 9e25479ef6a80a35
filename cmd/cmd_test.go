package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchSnapshot(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/frame", r.URL.Path)
		assert.Equal(t, "raw", r.URL.Query().Get("mode"))
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte{0xff, 0xd8, 0xff, 0xd9})
	}))
	defer ts.Close()

	path := filepath.Join(t.TempDir(), "out.jpg")
	n, err := fetchSnapshot(ts.URL, path)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xd8, 0xff, 0xd9}, data)
}

func TestFetchSnapshotServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":"camera error"}`))
	}))
	defer ts.Close()

	path := filepath.Join(t.TempDir(), "out.jpg")
	_, err := fetchSnapshot(ts.URL, path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "camera error")
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func serverPort(t *testing.T, ts *httptest.Server) int {
	t.Helper()
	u, err := url.Parse(ts.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return port
}

func TestCheckServerStatus(t *testing.T) {
	var service atomic.Value
	service.Store(serviceName)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy", "service": service.Load().(string)})
	}))
	defer ts.Close()
	port := serverPort(t, ts)

	assert.NoError(t, checkServerStatus(port))

	service.Store("something-else")
	assert.Equal(t, ServerMismatchedError, checkServerStatus(port))

	ts.Close()
	assert.Equal(t, ServerPortUnavailableError, checkServerStatus(port))
}

func TestStreamFlagsArgs(t *testing.T) {
	f := streamFlags{device: -1}
	assert.Empty(t, f.args())

	f = streamFlags{camera: "gocv", device: 2, maxFPS: 12.5}
	assert.Equal(t, []string{"--camera", "gocv", "--device", "2", "--max-fps", "12.5"}, f.args())
}

func TestVersionCommandJSON(t *testing.T) {
	cmd := NewVersionCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"-o", "json"})
	require.NoError(t, cmd.Execute())

	var info map[string]string
	require.NoError(t, json.Unmarshal(out.Bytes(), &info))
	assert.Equal(t, "dev", info["Version"])
}
