package emit

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/GGroff15/vigia/internal/event"
	"github.com/GGroff15/vigia/internal/observe"
)

// maxInflight bounds concurrent forwarder POSTs per session so a slow sink
// cannot pile up unbounded goroutines. Beyond the bound, events are dropped.
const maxInflight = 32

// HTTPSink forwards events to the external collector with
// POST {base}/events/{event_type}. Delivery is fire-and-forget: each send
// runs on its own goroutine with a per-request timeout, responses are
// discarded, and failures are logged and counted but never surface to the
// pipeline.
type HTTPSink struct {
	baseURL       string
	apiKey        string
	correlationID string
	client        *http.Client
	metrics       *observe.Metrics

	sem *semaphore.Weighted
}

// HTTPSinkConfig holds the settings for one session's HTTPSink.
type HTTPSinkConfig struct {
	// BaseURL is the collector base; the event type is appended as
	// {BaseURL}/events/{type}.
	BaseURL string

	// APIKey is sent as X-API-Key. May be empty.
	APIKey string

	// CorrelationID is sent as X-Correlation-Id; by convention the session
	// id.
	CorrelationID string

	// Timeout is the per-request timeout. Defaults to 10 s.
	Timeout time.Duration

	// Metrics receives sink latency and failure counts. When nil the
	// process-wide default instruments are used.
	Metrics *observe.Metrics
}

// NewHTTPSink creates an HTTPSink for one session.
func NewHTTPSink(cfg HTTPSinkConfig) *HTTPSink {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &HTTPSink{
		baseURL:       cfg.BaseURL,
		apiKey:        cfg.APIKey,
		correlationID: cfg.CorrelationID,
		client:        &http.Client{Timeout: cfg.Timeout},
		metrics:       m,
		sem:           semaphore.NewWeighted(maxInflight),
	}
}

// Deliver schedules the POST and returns immediately. When the in-flight
// bound is reached the event is dropped and counted as a sink failure.
func (h *HTTPSink) Deliver(ctx context.Context, ev event.Event, body []byte) error {
	if !h.sem.TryAcquire(1) {
		h.metrics.RecordSinkFailure(ctx, ev.EventType())
		slog.Warn("http sink saturated, dropping event",
			"event_type", ev.EventType(), "correlation_id", h.correlationID)
		return nil
	}

	// The goroutine owns its own lifetime: session cancellation must not
	// abort an already-scheduled forward, so the request context is
	// detached from the caller's.
	go func() {
		defer h.sem.Release(1)
		h.post(ev.EventType(), body)
	}()
	return nil
}

func (h *HTTPSink) post(eventType string, body []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), h.client.Timeout)
	defer cancel()

	url := h.baseURL + "/events/" + eventType
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		h.metrics.RecordSinkFailure(ctx, eventType)
		slog.Warn("http sink request build failed", "url", url, "err", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", h.apiKey)
	req.Header.Set("X-Correlation-Id", h.correlationID)

	start := time.Now()
	resp, err := h.client.Do(req)
	h.metrics.SinkDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		h.metrics.RecordSinkFailure(ctx, eventType)
		slog.Warn("http sink delivery failed",
			"event_type", eventType, "correlation_id", h.correlationID, "err", err)
		return
	}
	// Status codes are not interpreted; drain so the connection is reused.
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
