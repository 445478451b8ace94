package vad

import (
	"log/slog"
	"math"
)

// rmsThresholds maps aggressiveness 0..3 to a root-mean-square energy level
// (in 16-bit PCM units) above which a chunk is classified as speech. The
// maximum possible value for 16-bit audio is 32 767; 200 corresponds to
// near-silence, 800 to clearly audible speech.
var rmsThresholds = [4]float64{200, 300, 500, 800}

// EnergyDetector is a dependency-free Detector that classifies chunks by RMS
// energy. It is the default backend; deployments that need robustness against
// non-speech noise should use the Silero backend instead.
type EnergyDetector struct {
	cfg        Config
	chunkBytes int
	threshold  float64
}

// NewEnergyDetector creates an energy-based detector for the given config.
func NewEnergyDetector(cfg Config) (*EnergyDetector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &EnergyDetector{
		cfg:        cfg,
		chunkBytes: cfg.ChunkBytes(),
		threshold:  rmsThresholds[cfg.Aggressiveness],
	}, nil
}

// IsSpeech reports whether the chunk's RMS energy exceeds the aggressiveness
// threshold. Wrong-sized chunks are rejected.
func (d *EnergyDetector) IsSpeech(chunk []byte) bool {
	if len(chunk) != d.chunkBytes {
		slog.Debug("vad: invalid chunk size",
			"expected", d.chunkBytes, "got", len(chunk))
		return false
	}
	return rms16(chunk) >= d.threshold
}

// Close is a no-op; the energy detector holds no resources.
func (d *EnergyDetector) Close() error { return nil }

// rms16 computes the root-mean-square amplitude of little-endian int16 PCM.
func rms16(pcm []byte) float64 {
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
