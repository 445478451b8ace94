package emit

import (
	"context"
	"errors"

	"github.com/GGroff15/vigia/internal/event"
	"github.com/GGroff15/vigia/internal/session"
)

// ErrChannelClosed is returned by ChannelSink when no open channel is
// attached. The event is dropped silently per the emission discipline; the
// error exists only for debug logging.
var ErrChannelClosed = errors.New("emit: data channel not open")

// ChannelSink delivers events on the session's attached DataChannel. Events
// for which no open channel exists are dropped silently.
type ChannelSink struct {
	sess *session.Session
}

// NewChannelSink creates a ChannelSink bound to sess.
func NewChannelSink(sess *session.Session) *ChannelSink {
	return &ChannelSink{sess: sess}
}

// Deliver sends the serialized event when the channel is attached and open.
func (c *ChannelSink) Deliver(_ context.Context, _ event.Event, body []byte) error {
	ch := c.sess.Channel()
	if ch == nil || !ch.IsOpen() {
		return ErrChannelClosed
	}
	return ch.Send(string(body))
}
