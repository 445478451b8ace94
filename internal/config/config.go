// Package config provides the configuration schema and loader for the vigia
// analysis server. Configuration is read from an optional YAML file and then
// overridden by environment variables, so deployments can run from env alone.
package config

import "time"

// LogLevel controls log verbosity for the vigia server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for vigia.
// It is typically loaded from a YAML file and the environment using [Load].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Video     VideoConfig     `yaml:"video"`
	Audio     AudioConfig     `yaml:"audio"`
	STT       STTConfig       `yaml:"stt"`
	Emotion   EmotionConfig   `yaml:"emotion"`
	Forward   ForwardConfig   `yaml:"forward"`
	Providers ProvidersConfig `yaml:"providers"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// Host is the bind address of the transport endpoint.
	Host string `yaml:"host"`

	// Port is the bind port.
	Port int `yaml:"port"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// IdleTimeoutSec closes a session after this many seconds without any
	// incoming media frame. 0 disables the idle check.
	IdleTimeoutSec int `yaml:"idle_timeout_sec"`
}

// VideoConfig tunes the video branch of the pipeline.
type VideoConfig struct {
	// FPS is the FrameSampler admission rate in frames per second.
	FPS float64 `yaml:"fps"`

	// ConfidenceThreshold is the minimum detection confidence requested from
	// the detector backend.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	// MaxWidth and MaxHeight bound accepted frame dimensions. Larger frames
	// are dropped before detection.
	MaxWidth  int `yaml:"max_width"`
	MaxHeight int `yaml:"max_height"`
}

// AudioConfig tunes the shared audio front end.
type AudioConfig struct {
	// SampleRate is the PCM rate fed downstream, in Hz.
	SampleRate int `yaml:"sample_rate"`

	// FrameMs is the PcmChunker chunk duration in milliseconds.
	FrameMs int `yaml:"frame_ms"`

	// OverlapMs is the OverlapBuffer depth in milliseconds of audio.
	OverlapMs int `yaml:"overlap_ms"`

	// VADAggressiveness selects the voice activity detector threshold,
	// 0 (permissive) through 3 (strict).
	VADAggressiveness int `yaml:"vad_aggressiveness"`
}

// STTConfig tunes the streaming speech-to-text branch.
type STTConfig struct {
	// Language is the recognizer language tag (e.g. "pt-BR").
	Language string `yaml:"language"`

	// MaxDurationSec is the stream rotation trigger: a recognizer session is
	// rotated after this many seconds of audio.
	MaxDurationSec int `yaml:"max_duration_sec"`
}

// EmotionConfig tunes the speech-emotion branch.
type EmotionConfig struct {
	// WindowSec is the emission cadence in seconds: one prediction is
	// attempted per window of accumulated speech.
	WindowSec int `yaml:"window_sec"`
}

// ForwardConfig configures the external HTTP event sink.
type ForwardConfig struct {
	// BaseURL is the sink base; events are POSTed to {base}/events/{type}.
	BaseURL string `yaml:"base_url"`

	// APIKey is sent as the X-API-Key header. May be empty.
	APIKey string `yaml:"api_key"`

	// RequestTimeoutSec is the per-request timeout for sink POSTs.
	RequestTimeoutSec int `yaml:"request_timeout_sec"`
}

// HTTPTimeout returns the sink request timeout as a duration.
func (f ForwardConfig) HTTPTimeout() time.Duration {
	return time.Duration(f.RequestTimeoutSec) * time.Second
}

// ProvidersConfig declares which backend implementation serves each analyzer.
type ProvidersConfig struct {
	Detector   ProviderEntry `yaml:"detector"`
	Recognizer ProviderEntry `yaml:"recognizer"`
	Emotion    ProviderEntry `yaml:"emotion"`
	VAD        ProviderEntry `yaml:"vad"`
}

// ProviderEntry is the common configuration block shared by all provider
// kinds.
type ProviderEntry struct {
	// Name selects the implementation (e.g. "roboflow", "deepgram",
	// "whisper", "silero", "energy", "serving").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g. "nova-3" or
	// a model file path for local backends).
	Model string `yaml:"model"`
}

// Default returns a Config populated with the documented defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8000,
			LogLevel:       LogInfo,
			IdleTimeoutSec: 60,
		},
		Video: VideoConfig{
			FPS:                 3,
			ConfidenceThreshold: 0.5,
			MaxWidth:            1280,
			MaxHeight:           720,
		},
		Audio: AudioConfig{
			SampleRate:        16000,
			FrameMs:           20,
			OverlapMs:         1000,
			VADAggressiveness: 1,
		},
		STT: STTConfig{
			Language:       "pt-BR",
			MaxDurationSec: 240,
		},
		Emotion: EmotionConfig{
			WindowSec: 10,
		},
		Forward: ForwardConfig{
			BaseURL:           "http://localhost:8080",
			RequestTimeoutSec: 10,
		},
		Providers: ProvidersConfig{
			Detector:   ProviderEntry{Name: "mock"},
			Recognizer: ProviderEntry{Name: "mock"},
			Emotion:    ProviderEntry{Name: "none"},
			VAD:        ProviderEntry{Name: "energy"},
		},
	}
}
