package protocol

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn abstracts a duplex Gateway connection for testing
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v any) error
	Close() error
	SetWriteDeadline(t time.Time) error
}

// Dialer abstracts WebSocket dialing for testing
type Dialer interface {
	Dial(url string, header http.Header) (Conn, *http.Response, error)
}

// GorillaDialer dials real WebSocket connections via gorilla/websocket
type GorillaDialer struct {
	HandshakeTimeout time.Duration
}

// Dial connects to the Gateway URL and wraps the connection for
// write-safe concurrent use.
func (d *GorillaDialer) Dial(url string, header http.Header) (Conn, *http.Response, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: d.HandshakeTimeout,
	}
	if dialer.HandshakeTimeout == 0 {
		dialer.HandshakeTimeout = 10 * time.Second
	}
	ws, resp, err := dialer.Dial(url, header)
	if err != nil {
		return nil, resp, err
	}
	return &GorillaConn{Conn: ws}, resp, nil
}

// GorillaConn wraps a *websocket.Conn with mutex protection for writes
// (gorilla/websocket is not thread-safe for concurrent writers)
type GorillaConn struct {
	Conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *GorillaConn) ReadMessage() (int, []byte, error) {
	return c.Conn.ReadMessage()
}

func (c *GorillaConn) WriteJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.Conn.WriteJSON(v)
}

func (c *GorillaConn) Close() error {
	return c.Conn.Close()
}

func (c *GorillaConn) SetWriteDeadline(t time.Time) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.Conn.SetWriteDeadline(t)
}

// CloseStatus extracts a close code and reason from a read error. Reads
// that fail without a proper close frame map to 1006 (abnormal closure).
func CloseStatus(err error) (int, string) {
	if err == nil {
		return websocket.CloseNormalClosure, ""
	}
	if ce, ok := err.(*websocket.CloseError); ok {
		return ce.Code, ce.Text
	}
	return websocket.CloseAbnormalClosure, err.Error()
}
