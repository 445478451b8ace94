package api

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

// sendTimeout bounds a single outbound event write so one stuck client
// cannot wedge a processor.
const sendTimeout = 5 * time.Second

// wsChannel adapts a websocket connection to the session DataChannel: the
// pipeline's emitted events travel to the client as text messages on the
// same socket that delivers media frames. Safe for concurrent use.
type wsChannel struct {
	conn *websocket.Conn

	mu     sync.Mutex // serializes writes
	closed atomic.Bool
}

func newWSChannel(conn *websocket.Conn) *wsChannel {
	return &wsChannel{conn: conn}
}

// IsOpen reports whether the channel still accepts sends.
func (c *wsChannel) IsOpen() bool { return !c.closed.Load() }

// Send writes one JSON event as a text message.
func (c *wsChannel) Send(text string) error {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.conn.Write(ctx, websocket.MessageText, []byte(text))
	if err != nil {
		c.closed.Store(true)
	}
	return err
}

// markClosed flips the channel to closed so subsequent events drop silently.
func (c *wsChannel) markClosed() { c.closed.Store(true) }
