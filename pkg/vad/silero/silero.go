// Package silero provides a Silero-VAD-backed vad.Detector using ONNX
// inference via github.com/streamer45/silero-vad-go.
//
// The Silero model operates on 512-sample windows at 16 kHz, which is larger
// than the pipeline's 20 ms chunks, so the detector accumulates chunk samples
// internally and re-evaluates the speech state each time a full model window
// is available. Between model evaluations IsSpeech reports the last known
// state, so per-chunk decisions stay cheap.
package silero

import (
	"fmt"
	"log/slog"

	"github.com/streamer45/silero-vad-go/speech"

	"github.com/GGroff15/vigia/pkg/vad"
)

// windowSamples is the fixed model window of Silero VAD at 16 kHz.
const windowSamples = 512

// thresholds maps vad.Config aggressiveness 0..3 to the Silero speech
// probability threshold.
var thresholds = [4]float32{0.30, 0.50, 0.65, 0.80}

// Detector implements vad.Detector backed by the Silero ONNX model.
type Detector struct {
	det        *speech.Detector
	chunkBytes int
	buf        []float32
	speaking   bool
	closed     bool
}

// New creates a Silero detector. modelPath points at the silero_vad.onnx
// model file. Only 16 kHz input is supported.
func New(modelPath string, cfg vad.Config) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.SampleRate != 16000 {
		return nil, fmt.Errorf("silero: only 16 kHz input is supported, got %d", cfg.SampleRate)
	}
	det, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:            modelPath,
		SampleRate:           cfg.SampleRate,
		Threshold:            thresholds[cfg.Aggressiveness],
		MinSilenceDurationMs: 100,
		SpeechPadMs:          30,
	})
	if err != nil {
		return nil, fmt.Errorf("silero: create detector: %w", err)
	}
	return &Detector{
		det:        det,
		chunkBytes: cfg.ChunkBytes(),
		buf:        make([]float32, 0, windowSamples*2),
	}, nil
}

// IsSpeech accumulates the chunk and reports the current speech state.
// Wrong-sized chunks are rejected without touching detector state.
func (d *Detector) IsSpeech(chunk []byte) bool {
	if d.closed || len(chunk) != d.chunkBytes {
		return false
	}

	for i := 0; i+1 < len(chunk); i += 2 {
		s := int16(chunk[i]) | int16(chunk[i+1])<<8
		d.buf = append(d.buf, float32(s)/32768.0)
	}

	for len(d.buf) >= windowSamples {
		window := d.buf[:windowSamples]
		d.buf = d.buf[windowSamples:]

		segments, err := d.det.Detect(window)
		if err != nil {
			// "unexpected speech end" occurs in streaming mode when a speech
			// end arrives without a matching start in the current window;
			// model state persists across Detect calls.
			if err.Error() != "unexpected speech end" {
				slog.Debug("silero: detect error", "err", err)
			}
			d.speaking = false
			continue
		}
		for _, seg := range segments {
			d.speaking = true
			if seg.SpeechEndAt > 0 {
				d.speaking = false
			}
		}
	}

	return d.speaking
}

// Close destroys the underlying ONNX session.
func (d *Detector) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	d.det.Destroy()
	return nil
}
