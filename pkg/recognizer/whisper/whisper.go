// Package whisper provides a local whisper.cpp-backed recognizer using the
// whisper.cpp CGO bindings. The static library (libwhisper.a) and headers
// must be available at link time via LIBRARY_PATH and C_INCLUDE_PATH.
//
// whisper.cpp is a batch (non-streaming) engine, so the session simulates
// streaming by buffering incoming PCM, applying an energy-based silence
// detector to segment utterances, and running batch inference on each
// completed utterance. There is no per-stream duration limit, but sessions
// still honour the rotation contract: Preload chunks are treated as audio
// that arrived before the live stream.
//
// This backend exists as the fallback for deployments without cloud
// connectivity; the cloud recognizer remains the primary path.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/GGroff15/vigia/pkg/recognizer"
)

const (
	// rmsThreshold is the root-mean-square energy (in 16-bit PCM units)
	// below which audio is considered silent. 300 corresponds to
	// near-silence out of a 32 767 maximum.
	rmsThreshold = 300.0

	defaultLanguage            = "pt"
	defaultSampleRate          = 16000
	defaultSilenceThresholdMs  = 500
	defaultMaxBufferDurationMs = 10_000

	audioQueueDepth = 256
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the language code passed to whisper.cpp (e.g. "pt",
// "en"). Defaults to "pt".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithSilenceThresholdMs sets the consecutive-silence duration (ms) that
// triggers inference on the accumulated utterance. Defaults to 500 ms.
func WithSilenceThresholdMs(ms int) Option {
	return func(p *Provider) { p.silenceThresholdMs = ms }
}

// WithMaxBufferDurationMs sets the maximum buffered audio duration (ms)
// before inference is forced regardless of silence. Defaults to 10 s.
func WithMaxBufferDurationMs(ms int) Option {
	return func(p *Provider) { p.maxBufferDurationMs = ms }
}

// Provider implements recognizer.Recognizer using whisper.cpp Go bindings.
// The model is loaded once and shared across all concurrent sessions.
type Provider struct {
	model    whisperlib.Model
	language string

	silenceThresholdMs  int
	maxBufferDurationMs int
}

// Compile-time assertion that Provider satisfies recognizer.Recognizer.
var _ recognizer.Recognizer = (*Provider)(nil)

// New creates a Provider that loads the whisper.cpp model from the given
// path. The caller must call Close when the provider is no longer needed.
func New(modelPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &Provider{
		model:               model,
		language:            defaultLanguage,
		silenceThresholdMs:  defaultSilenceThresholdMs,
		maxBufferDurationMs: defaultMaxBufferDurationMs,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model.
func (p *Provider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// StartStream opens a new transcription session. Preload chunks are queued
// ahead of live audio.
func (p *Provider) StartStream(ctx context.Context, cfg recognizer.StreamConfig) (recognizer.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}

	sr := cfg.SampleRate
	if sr <= 0 {
		sr = defaultSampleRate
	}

	s := &session{
		model:               p.model,
		language:            p.language,
		sampleRate:          sr,
		silenceThresholdMs:  p.silenceThresholdMs,
		maxBufferDurationMs: p.maxBufferDurationMs,

		audio:  make(chan []byte, audioQueueDepth),
		finals: make(chan recognizer.Result, 64),
		done:   make(chan struct{}),
	}

	for _, chunk := range cfg.Preload {
		s.enqueue(chunk)
	}

	s.wg.Add(1)
	go s.processLoop(ctx)

	return s, nil
}

// session is a live local transcription session. All mutable state that
// drives silence detection and buffering is confined to the processLoop
// goroutine.
type session struct {
	model               whisperlib.Model
	language            string
	sampleRate          int
	silenceThresholdMs  int
	maxBufferDurationMs int

	audio  chan []byte
	finals chan recognizer.Result

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// SendAudio queues a chunk for silence analysis and buffering. Never blocks:
// when the queue is full the oldest queued chunk is evicted.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errors.New("whisper: session is closed")
	default:
	}
	s.enqueue(chunk)
	return nil
}

func (s *session) enqueue(chunk []byte) {
	for {
		select {
		case s.audio <- chunk:
			return
		default:
		}
		select {
		case <-s.audio:
		default:
		}
	}
}

// Finals returns the channel of final transcription results.
func (s *session) Finals() <-chan recognizer.Result { return s.finals }

// Close terminates the session, flushing any pending speech audio.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
	return nil
}

// processLoop is the single goroutine responsible for silence detection,
// buffering, and inference dispatch.
func (s *session) processLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.finals)

	var (
		buffer      []byte
		hadSpeech   bool
		silenceMs   int
		streamMs    int
		utteranceMs int // stream offset at which the current utterance began
	)

	bytesPerMs := s.sampleRate * 2 / 1000
	if bytesPerMs <= 0 {
		bytesPerMs = 32
	}
	maxBufferBytes := s.maxBufferDurationMs * bytesPerMs

	doFlush := func() {
		if len(buffer) == 0 || !hadSpeech {
			buffer = nil
			hadSpeech = false
			silenceMs = 0
			return
		}

		pcm := buffer
		start := utteranceMs
		end := streamMs
		buffer = nil
		hadSpeech = false
		silenceMs = 0

		text, err := s.infer(pcm)
		if err != nil {
			slog.Error("whisper inference failed", "err", err)
			return
		}
		if text == "" {
			return
		}

		res := recognizer.Result{
			Text:       text,
			Confidence: 1.0,
			Start:      time.Duration(start) * time.Millisecond,
			End:        time.Duration(end) * time.Millisecond,
			HasOffsets: true,
		}
		select {
		case s.finals <- res:
		default:
		}
	}

	for {
		select {
		case <-ctx.Done():
			doFlush()
			return

		case <-s.done:
			doFlush()
			return

		case chunk := <-s.audio:
			chunkMs := len(chunk) / bytesPerMs
			streamMs += chunkMs

			if rms(chunk) < rmsThreshold {
				if hadSpeech {
					silenceMs += chunkMs
					buffer = append(buffer, chunk...)
					if silenceMs >= s.silenceThresholdMs {
						doFlush()
					}
				}
			} else {
				if !hadSpeech {
					utteranceMs = streamMs - chunkMs
				}
				hadSpeech = true
				silenceMs = 0
				buffer = append(buffer, chunk...)
				if maxBufferBytes > 0 && len(buffer) >= maxBufferBytes {
					doFlush()
				}
			}
		}
	}
}

// infer converts the buffered PCM to float32, runs whisper.cpp inference on a
// fresh context, and returns the concatenated text. Contexts are not
// thread-safe, but the model is shared safely across goroutines.
func (s *session) infer(pcm []byte) (string, error) {
	samples := pcmToFloat32(pcm)

	wctx, err := s.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}

	if err := wctx.SetLanguage(s.language); err != nil {
		slog.Warn("whisper: failed to set language, using default",
			"language", s.language, "err", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

// pcmToFloat32 converts 16-bit signed little-endian PCM to float32 samples
// normalised to [-1, 1]. Any trailing odd byte is ignored.
func pcmToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := range n {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		samples[i] = float32(s) / 32768.0
	}
	return samples
}

// rms computes the root-mean-square amplitude of little-endian int16 PCM.
func rms(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		s := float64(int16(pcm[i*2]) | int16(pcm[i*2+1])<<8)
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}
