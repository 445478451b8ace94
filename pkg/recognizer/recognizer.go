// Package recognizer defines the streaming speech-to-text contract used by
// the transcription pipeline.
//
// A Recognizer wraps a real-time transcription backend (a cloud streaming API
// or a local model) and exposes it as per-stream sessions: once opened, a
// Session accepts fixed-size PCM chunks and emits final transcription results
// on a channel. Backends impose a maximum per-stream duration, so the caller
// rotates sessions; the Preload field carries the overlap snapshot that makes
// rotation seamless.
//
// Implementations must be safe for concurrent use: multiple sessions may be
// open simultaneously, one per live media session.
package recognizer

import (
	"context"
	"time"
)

// StreamConfig describes the audio format, recognition hints, and preload
// audio for a new streaming session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. The pipeline feeds 16000.
	SampleRate int

	// Language is the BCP-47 language tag for recognition (e.g., "pt-BR").
	// An empty string lets the backend auto-detect, if supported.
	Language string

	// Preload holds PCM chunks delivered to the backend before any live
	// audio. The stream rotator fills this with the overlap snapshot so that
	// words straddling a session boundary are not lost.
	Preload [][]byte
}

// Result is one final transcription emitted by a Session.
type Result struct {
	// Text is the transcribed speech content.
	Text string

	// Confidence is the overall confidence score in [0, 1]. Zero when the
	// backend does not report confidence.
	Confidence float64

	// Start and End are utterance offsets relative to the session start,
	// valid only when HasOffsets is true. Backends that do not report
	// offsets leave HasOffsets false and the caller stamps events with the
	// wall-clock time at emission.
	Start      time.Duration
	End        time.Duration
	HasOffsets bool
}

// Session is one live recognition stream. Callers must call Close when the
// session is no longer needed; failing to do so may leak goroutines and
// network connections inside the implementation. All methods are safe for
// concurrent use.
type Session interface {
	// SendAudio queues one PCM chunk for recognition. It must never block
	// the caller: when the session's internal queue is full the oldest
	// queued chunk is dropped. Returns an error after Close.
	SendAudio(chunk []byte) error

	// Finals returns a read-only channel emitting final recognition results.
	// The channel is closed when the session ends, whether by Close or by a
	// backend failure.
	Finals() <-chan Result

	// Close terminates the stream, flushes pending audio, and releases all
	// resources. Calling Close more than once is safe and returns nil.
	Close() error
}

// Recognizer is the abstraction over any streaming STT backend.
type Recognizer interface {
	// StartStream opens a new streaming session. The returned Session is
	// ready to accept audio immediately; cfg.Preload chunks are delivered
	// before any audio passed to SendAudio.
	StartStream(ctx context.Context, cfg StreamConfig) (Session, error)
}
