// Package vad defines the per-chunk voice activity detection contract used to
// gate the speech-to-text stream.
//
// A Detector makes a binary speech/non-speech decision for each fixed-size PCM
// chunk. Detection is synchronous by design: IsSpeech returns immediately,
// making it suitable for the low-latency chunk loop that decides when to open
// a recognizer session.
//
// Implementations must reject chunks whose size differs from the configured
// chunk size; detection state (if any) is per-Detector, so create one Detector
// per audio stream.
package vad

import "fmt"

// Config holds the parameters for a chunk detector.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the PCM chunks
	// passed to IsSpeech. The pipeline feeds 16000.
	SampleRate int

	// FrameMs is the duration of each chunk in milliseconds (typically 10, 20
	// or 30 ms). IsSpeech returns false for chunks of any other size.
	FrameMs int

	// Aggressiveness tunes how strict the speech decision is, from 0 (least
	// aggressive, most chunks classified as speech) to 3 (most aggressive).
	Aggressiveness int
}

// ChunkBytes returns the expected byte length of one 16-bit mono PCM chunk.
func (c Config) ChunkBytes() int {
	return c.SampleRate * c.FrameMs / 1000 * 2
}

// Validate reports whether the configuration is usable.
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("vad: sample rate must be positive, got %d", c.SampleRate)
	}
	if c.FrameMs <= 0 {
		return fmt.Errorf("vad: frame duration must be positive, got %dms", c.FrameMs)
	}
	if c.Aggressiveness < 0 || c.Aggressiveness > 3 {
		return fmt.Errorf("vad: aggressiveness must be in [0,3], got %d", c.Aggressiveness)
	}
	return nil
}

// Detector is the abstraction over any per-chunk VAD backend.
//
// A Detector is called from a single goroutine (the chunk loop of one audio
// stream); it does not need to be safe for concurrent use.
type Detector interface {
	// IsSpeech reports whether the chunk contains speech. Chunks whose length
	// differs from the configured chunk size are classified as non-speech.
	IsSpeech(chunk []byte) bool

	// Close releases detector resources. Calling Close more than once is safe.
	Close() error
}
