// Package media defines the frame types that flow through the analysis
// pipeline and the conversions between them.
//
// Frames are the atomic unit of transport: the signaling layer hands decoded
// [AudioFrame] and [VideoFrame] values to the pipeline, which fans them out to
// the analyzers. Audio destined for speech analysis is normalised to 16 kHz
// mono 16-bit PCM by an [Adapter]; video is an opaque BGR raster consumed by
// the object detector.
package media

import "time"

// AudioFrame is a single decoded audio frame. The PCM layout is interleaved
// little-endian int16 at the frame's native sample rate and channel count.
type AudioFrame struct {
	// Data is raw interleaved little-endian int16 PCM.
	Data []byte

	// SampleRate in Hz (e.g., 48000 for Opus decode output, 16000 for STT).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Samples returns the number of samples per channel in the frame.
func (f AudioFrame) Samples() int {
	if f.Channels <= 0 {
		return 0
	}
	return len(f.Data) / 2 / f.Channels
}

// Duration returns the playback duration of the frame.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Samples()) * time.Second / time.Duration(f.SampleRate)
}

// VideoFrame is a single decoded video frame as a packed BGR raster
// (3 bytes per pixel, row-major, no padding). Index is assigned by the
// pipeline in strict arrival order and is never reused within a session.
type VideoFrame struct {
	BGR    []byte
	Width  int
	Height int

	// Index is the 1-based arrival index assigned by the pipeline.
	Index uint64

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}
