package session

import (
	"encoding/base64"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/babelcloud/camcast/internal/frame"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// Upgrader accepts viewer websockets from any origin.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Format selects how frames are framed on the websocket.
type Format int

const (
	// FormatBinary sends the JPEG bytes as a binary message.
	FormatBinary Format = iota
	// FormatBase64 sends the JPEG base64 encoded in a text message.
	FormatBase64
)

func (f Format) String() string {
	if f == FormatBase64 {
		return "base64"
	}
	return "binary"
}

// ParseFormat parses "binary" or "base64". An empty string selects
// FormatBinary.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "binary":
		return FormatBinary, nil
	case "base64":
		return FormatBase64, nil
	default:
		return FormatBinary, errors.Errorf("unknown frame format %q", s)
	}
}

const defaultWriteTimeout = 5 * time.Second

// WSConn adapts a gorilla websocket to Conn.
type WSConn struct {
	conn         *websocket.Conn
	format       Format
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewWSConn wraps conn.
func NewWSConn(conn *websocket.Conn, format Format) *WSConn {
	return &WSConn{
		conn:         conn,
		format:       format,
		writeTimeout: defaultWriteTimeout,
	}
}

// WriteFrame sends f.Payload in the configured format.
func (c *WSConn) WriteFrame(f *frame.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	if c.format == FormatBase64 {
		return c.conn.WriteMessage(websocket.TextMessage, []byte(base64.StdEncoding.EncodeToString(f.Payload)))
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, f.Payload)
}

// ReadMessage returns the next inbound payload. A close frame from the peer
// is reported as io.EOF.
func (c *WSConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
			return nil, io.EOF
		}
		return nil, err
	}
	return data, nil
}

// Close sends a close frame when possible and closes the socket.
func (c *WSConn) Close() error {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
