package ws

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

// Conn wraps a websocket connection with serialized writes. Writes after
// Suppress become no-ops: delivery attempts to a departed device are
// dropped silently instead of surfacing as errors mid-pipeline.
type Conn struct {
	ws         *websocket.Conn
	mu         sync.Mutex
	suppressed atomic.Bool
}

func newConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// SendJSON writes one text frame. Returns nil when suppressed.
func (c *Conn) SendJSON(v interface{}) error {
	if c.suppressed.Load() {
		return nil
	}
	data, err := sonic.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// SendBinary writes one binary frame. Returns nil when suppressed.
func (c *Conn) SendBinary(data []byte) error {
	if c.suppressed.Load() {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(websocket.BinaryMessage, data)
}

// Suppress drops all subsequent sends.
func (c *Conn) Suppress() {
	c.suppressed.Store(true)
}

// Suppressed reports whether sends are being dropped.
func (c *Conn) Suppressed() bool {
	return c.suppressed.Load()
}

// CloseWithCode sends a close frame with the given code and reason, then
// tears down the transport.
func (c *Conn) CloseWithCode(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := websocket.FormatCloseMessage(code, reason)
	c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
	c.ws.Close()
}

// Close tears down the transport without a close frame.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.Close()
}
