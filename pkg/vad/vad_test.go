package vad

import (
	"encoding/binary"
	"math"
	"testing"
)

func testConfig(aggr int) Config {
	return Config{SampleRate: 16000, FrameMs: 20, Aggressiveness: aggr}
}

// sineChunk builds one chunk of a 440 Hz tone at the given peak amplitude.
func sineChunk(cfg Config, amplitude float64) []byte {
	samples := cfg.ChunkBytes() / 2
	chunk := make([]byte, cfg.ChunkBytes())
	for i := 0; i < samples; i++ {
		s := amplitude * math.Sin(2*math.Pi*440*float64(i)/float64(cfg.SampleRate))
		binary.LittleEndian.PutUint16(chunk[i*2:], uint16(int16(s)))
	}
	return chunk
}

func TestConfigChunkBytes(t *testing.T) {
	if got := testConfig(1).ChunkBytes(); got != 640 {
		t.Fatalf("ChunkBytes = %d, want 640", got)
	}
	if got := (Config{SampleRate: 8000, FrameMs: 30}).ChunkBytes(); got != 480 {
		t.Fatalf("ChunkBytes = %d, want 480", got)
	}
}

func TestConfigValidate(t *testing.T) {
	if err := testConfig(0).Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	bad := []Config{
		{SampleRate: 0, FrameMs: 20},
		{SampleRate: 16000, FrameMs: 0},
		{SampleRate: 16000, FrameMs: 20, Aggressiveness: 4},
		{SampleRate: 16000, FrameMs: 20, Aggressiveness: -1},
	}
	for _, cfg := range bad {
		if err := cfg.Validate(); err == nil {
			t.Errorf("config %+v must be rejected", cfg)
		}
	}
}

func TestEnergyDetectorSilence(t *testing.T) {
	d, err := NewEnergyDetector(testConfig(1))
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	if d.IsSpeech(make([]byte, testConfig(1).ChunkBytes())) {
		t.Fatal("all-zero chunk classified as speech")
	}
}

func TestEnergyDetectorLoudSignal(t *testing.T) {
	cfg := testConfig(3) // strictest threshold
	d, err := NewEnergyDetector(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	// Peak 8000 gives an RMS of ~5657, far above every threshold.
	if !d.IsSpeech(sineChunk(cfg, 8000)) {
		t.Fatal("loud tone classified as silence")
	}
}

func TestEnergyDetectorAggressivenessOrdering(t *testing.T) {
	cfg0, cfg3 := testConfig(0), testConfig(3)
	permissive, err := NewEnergyDetector(cfg0)
	if err != nil {
		t.Fatal(err)
	}
	strict, err := NewEnergyDetector(cfg3)
	if err != nil {
		t.Fatal(err)
	}

	// Peak 400 is ~283 RMS: above the permissive threshold (200), below the
	// strict one (800).
	chunk := sineChunk(cfg0, 400)
	if !permissive.IsSpeech(chunk) {
		t.Error("permissive detector rejected a quiet voice")
	}
	if strict.IsSpeech(chunk) {
		t.Error("strict detector accepted a quiet voice")
	}
}

func TestEnergyDetectorRejectsWrongChunkSize(t *testing.T) {
	d, err := NewEnergyDetector(testConfig(0))
	if err != nil {
		t.Fatal(err)
	}
	if d.IsSpeech(sineChunk(Config{SampleRate: 8000, FrameMs: 20}, 8000)) {
		t.Fatal("wrong-sized chunk must be non-speech")
	}
}

func TestEnergyDetectorInvalidConfig(t *testing.T) {
	if _, err := NewEnergyDetector(Config{}); err == nil {
		t.Fatal("zero config must be rejected")
	}
}
