// Package deepgram provides a Deepgram-backed streaming recognizer using the
// Deepgram WebSocket API. It implements the recognizer.Recognizer interface.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/GGroff15/vigia/pkg/recognizer"
)

const (
	deepgramEndpoint  = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "pt-BR"
	defaultSampleRate = 16000

	// audioQueueDepth bounds the chunk queue between SendAudio and the write
	// loop. At 20 ms per chunk this holds ~5 s of audio; overflow drops the
	// oldest chunk so the ingest path never blocks.
	audioQueueDepth = 256

	// closeFlushTimeout bounds how long Close waits for the backend to
	// acknowledge CloseStream before tearing the connection down.
	closeFlushTimeout = time.Second
)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the default BCP-47 language code for recognition.
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// WithEndpoint overrides the WebSocket endpoint, e.g. for tests.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// Provider implements recognizer.Recognizer backed by the Deepgram streaming
// API.
type Provider struct {
	apiKey   string
	model    string
	language string
	endpoint string
}

// Compile-time assertion that Provider satisfies recognizer.Recognizer.
var _ recognizer.Recognizer = (*Provider)(nil)

// New creates a Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
		endpoint: deepgramEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a streaming recognition session. Preload chunks are
// queued for delivery before any live audio.
func (p *Provider) StartStream(ctx context.Context, cfg recognizer.StreamConfig) (recognizer.Session, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	sess := &session{
		conn:   conn,
		finals: make(chan recognizer.Result, 64),
		audio:  make(chan []byte, audioQueueDepth),
		done:   make(chan struct{}),
	}

	// Overlap preload goes first so boundary words are recognised.
	for _, chunk := range cfg.Preload {
		sess.enqueue(chunk)
	}

	sess.wg.Add(2)
	go sess.readLoop(ctx)
	go sess.writeLoop(ctx)

	return sess, nil
}

// buildURL constructs the streaming endpoint URL for the given config.
func (p *Provider) buildURL(cfg recognizer.StreamConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = defaultSampleRate
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sr))
	q.Set("channels", "1")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- session ----

// deepgramResponse is the JSON structure returned for a Results event.
type deepgramResponse struct {
	Type     string  `json:"type"`
	IsFinal  bool    `json:"is_final"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Channel  struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// session is a live streaming session. It implements recognizer.Session.
type session struct {
	conn   *websocket.Conn
	finals chan recognizer.Result
	audio  chan []byte

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// SendAudio queues a PCM chunk for delivery. Never blocks: when the queue is
// full the oldest queued chunk is evicted.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errors.New("deepgram: session is closed")
	default:
	}
	s.enqueue(chunk)
	return nil
}

// enqueue appends a chunk, evicting the oldest one when the queue is full.
func (s *session) enqueue(chunk []byte) {
	for {
		select {
		case s.audio <- chunk:
			return
		default:
		}
		select {
		case dropped := <-s.audio:
			_ = dropped
		default:
		}
	}
}

// Finals returns the channel of final recognition results.
func (s *session) Finals() <-chan recognizer.Result { return s.finals }

// Close terminates the session cleanly, flushing pending audio. The wait for
// the backend's close acknowledgement is bounded: an unresponsive backend
// gets the connection torn down after closeFlushTimeout.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		// Ask Deepgram to flush pending audio before tearing down.
		_ = s.conn.Write(context.Background(), websocket.MessageText, []byte(`{"type":"CloseStream"}`))

		flushed := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(flushed)
		}()
		select {
		case <-flushed:
		case <-time.After(closeFlushTimeout):
			slog.Debug("deepgram: close flush timed out")
		}
		// Unblocks both loops when the backend never closed the socket.
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

// writeLoop reads from the audio queue and sends binary messages.
func (s *session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case chunk := <-s.audio:
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-s.done:
			// Drain remaining queued audio before exiting.
			for {
				select {
				case chunk := <-s.audio:
					_ = s.conn.Write(ctx, websocket.MessageBinary, chunk)
				default:
					return
				}
			}
		}
	}
}

// readLoop receives JSON messages and dispatches finals.
func (s *session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.finals)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			// Normal close or context cancellation — exit gracefully. The
			// closed finals channel signals the caller to rotate.
			select {
			case <-s.done:
			default:
				slog.Debug("deepgram: read loop ended", "err", err)
			}
			return
		}

		res, ok := parseResponse(msg)
		if !ok {
			continue
		}
		select {
		case s.finals <- res:
		case <-s.done:
		}
	}
}

// parseResponse parses a raw WebSocket message into a final Result.
// Returns (zero, false) for interim results and non-Results messages.
func parseResponse(data []byte) (recognizer.Result, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return recognizer.Result{}, false
	}
	if resp.Type != "Results" || !resp.IsFinal {
		return recognizer.Result{}, false
	}
	if len(resp.Channel.Alternatives) == 0 {
		return recognizer.Result{}, false
	}

	alt := resp.Channel.Alternatives[0]
	if alt.Transcript == "" {
		return recognizer.Result{}, false
	}

	start := time.Duration(resp.Start * float64(time.Second))
	return recognizer.Result{
		Text:       alt.Transcript,
		Confidence: alt.Confidence,
		Start:      start,
		End:        start + time.Duration(resp.Duration*float64(time.Second)),
		HasOffsets: resp.Duration > 0,
	}, true
}
