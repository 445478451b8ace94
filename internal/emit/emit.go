// Package emit publishes pipeline events to the session sinks: the client
// DataChannel and the external HTTP forwarder. Every event is offered to
// both sinks; a failure in one never suppresses the other. Per-processor
// ordering on the DataChannel is preserved because processors call Emit
// synchronously; HTTP delivery is fire-and-forget.
package emit

import (
	"context"
	"log/slog"

	"github.com/GGroff15/vigia/internal/event"
)

// Sink delivers one serialized event.
type Sink interface {
	// Deliver sends the event. body is the single-line JSON serialization
	// of ev. Errors are handled (logged, counted) by the sink itself; a
	// returned error only informs the caller's logging.
	Deliver(ctx context.Context, ev event.Event, body []byte) error
}

// Emitter fans one event out to the configured sinks.
type Emitter struct {
	channel Sink
	http    Sink
}

// New creates an Emitter. Either sink may be nil, in which case it is
// skipped.
func New(channel, http Sink) *Emitter {
	return &Emitter{channel: channel, http: http}
}

// Emit serializes ev once and offers it to both sinks. The DataChannel send
// runs on the caller's goroutine so events from one processor stay ordered;
// the HTTP sink must not block (it dispatches internally).
func (e *Emitter) Emit(ctx context.Context, ev event.Event) {
	body, err := event.Marshal(ev)
	if err != nil {
		slog.Error("marshal event", "event_type", ev.EventType(), "err", err)
		return
	}

	if e.channel != nil {
		if err := e.channel.Deliver(ctx, ev, body); err != nil {
			slog.Debug("data channel delivery skipped",
				"event_type", ev.EventType(), "err", err)
		}
	}
	if e.http != nil {
		if err := e.http.Deliver(ctx, ev, body); err != nil {
			slog.Warn("http sink delivery failed",
				"event_type", ev.EventType(), "err", err)
		}
	}
}

// EmitChannelOnly delivers ev on the DataChannel sink only. Used for the
// session framing messages, which are never forwarded externally.
func (e *Emitter) EmitChannelOnly(ctx context.Context, ev event.Event) {
	if e.channel == nil {
		return
	}
	body, err := event.Marshal(ev)
	if err != nil {
		slog.Error("marshal event", "event_type", ev.EventType(), "err", err)
		return
	}
	if err := e.channel.Deliver(ctx, ev, body); err != nil {
		slog.Debug("data channel delivery skipped",
			"event_type", ev.EventType(), "err", err)
	}
}
