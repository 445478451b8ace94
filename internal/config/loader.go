package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Load builds the effective configuration: defaults, overlaid by the YAML
// file at path (skipped when path is empty or the file does not exist),
// overlaid by environment variables. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// Env-only deployment.
		case err != nil:
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		default:
			defer f.Close()
			if err := decodeYAML(f, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %q: %w", path, err)
			}
		}
	}

	applyEnv(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of the defaults and
// validates the result. Useful in tests where configs are constructed from
// string literals. Environment overrides are not applied.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decodeYAML(r, cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnv overrides cfg fields from the documented environment variables.
// Unparseable numeric values are ignored in favour of the current value.
func applyEnv(cfg *Config) {
	envString("SERVER_HOST", &cfg.Server.Host)
	envInt("SERVER_PORT", &cfg.Server.Port)
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Server.LogLevel = LogLevel(normalizeLevel(v))
	}
	envInt("IDLE_TIMEOUT_SEC", &cfg.Server.IdleTimeoutSec)

	envFloat("VIDEO_FPS", &cfg.Video.FPS)
	envFloat("VIDEO_CONFIDENCE_THRESHOLD", &cfg.Video.ConfidenceThreshold)

	envInt("AUDIO_SAMPLE_RATE", &cfg.Audio.SampleRate)
	envInt("AUDIO_FRAME_MS", &cfg.Audio.FrameMs)
	envInt("AUDIO_OVERLAP_MS", &cfg.Audio.OverlapMs)
	envInt("VAD_AGGRESSIVENESS", &cfg.Audio.VADAggressiveness)

	envString("STT_LANGUAGE", &cfg.STT.Language)
	envInt("STT_MAX_DURATION_SEC", &cfg.STT.MaxDurationSec)

	envInt("EMOTION_WINDOW_SEC", &cfg.Emotion.WindowSec)

	envString("EVENT_FORWARD_BASE_URL", &cfg.Forward.BaseURL)
	envString("API_KEY", &cfg.Forward.APIKey)
	envInt("HTTP_REQUEST_TIMEOUT_SEC", &cfg.Forward.RequestTimeoutSec)

	envString("DETECTOR_PROVIDER", &cfg.Providers.Detector.Name)
	envString("DETECTOR_API_KEY", &cfg.Providers.Detector.APIKey)
	envString("DETECTOR_BASE_URL", &cfg.Providers.Detector.BaseURL)
	envString("DETECTOR_MODEL", &cfg.Providers.Detector.Model)

	envString("RECOGNIZER_PROVIDER", &cfg.Providers.Recognizer.Name)
	envString("RECOGNIZER_API_KEY", &cfg.Providers.Recognizer.APIKey)
	envString("RECOGNIZER_BASE_URL", &cfg.Providers.Recognizer.BaseURL)
	envString("RECOGNIZER_MODEL", &cfg.Providers.Recognizer.Model)

	envString("EMOTION_PROVIDER", &cfg.Providers.Emotion.Name)
	envString("EMOTION_BASE_URL", &cfg.Providers.Emotion.BaseURL)

	envString("VAD_PROVIDER", &cfg.Providers.VAD.Name)
	envString("VAD_MODEL", &cfg.Providers.VAD.Model)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

// normalizeLevel maps conventional upper-case level names (INFO, WARNING) to
// the lowercase forms used by LogLevel.
func normalizeLevel(v string) string {
	switch v {
	case "DEBUG":
		return "debug"
	case "INFO":
		return "info"
	case "WARN", "WARNING":
		return "warn"
	case "ERROR":
		return "error"
	}
	return v
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range [1, 65535]", cfg.Server.Port))
	}
	if cfg.Server.IdleTimeoutSec < 0 {
		errs = append(errs, fmt.Errorf("server.idle_timeout_sec %d must not be negative", cfg.Server.IdleTimeoutSec))
	}

	if cfg.Video.FPS <= 0 {
		errs = append(errs, fmt.Errorf("video.fps %.2f must be positive", cfg.Video.FPS))
	}
	if cfg.Video.ConfidenceThreshold < 0 || cfg.Video.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("video.confidence_threshold %.2f is out of range [0, 1]", cfg.Video.ConfidenceThreshold))
	}
	if cfg.Video.MaxWidth <= 0 || cfg.Video.MaxHeight <= 0 {
		errs = append(errs, fmt.Errorf("video.max_width/max_height %dx%d must be positive", cfg.Video.MaxWidth, cfg.Video.MaxHeight))
	}

	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	if cfg.Audio.FrameMs <= 0 {
		errs = append(errs, fmt.Errorf("audio.frame_ms %d must be positive", cfg.Audio.FrameMs))
	}
	if cfg.Audio.OverlapMs < 0 {
		errs = append(errs, fmt.Errorf("audio.overlap_ms %d must not be negative", cfg.Audio.OverlapMs))
	}
	if cfg.Audio.VADAggressiveness < 0 || cfg.Audio.VADAggressiveness > 3 {
		errs = append(errs, fmt.Errorf("audio.vad_aggressiveness %d is out of range [0, 3]", cfg.Audio.VADAggressiveness))
	}

	if cfg.STT.Language == "" {
		errs = append(errs, errors.New("stt.language is required"))
	}
	if cfg.STT.MaxDurationSec <= 0 {
		errs = append(errs, fmt.Errorf("stt.max_duration_sec %d must be positive", cfg.STT.MaxDurationSec))
	}

	if cfg.Emotion.WindowSec <= 0 {
		errs = append(errs, fmt.Errorf("emotion.window_sec %d must be positive", cfg.Emotion.WindowSec))
	}

	if cfg.Forward.BaseURL == "" {
		errs = append(errs, errors.New("forward.base_url is required"))
	}
	if cfg.Forward.RequestTimeoutSec <= 0 {
		errs = append(errs, fmt.Errorf("forward.request_timeout_sec %d must be positive", cfg.Forward.RequestTimeoutSec))
	}

	return errors.Join(errs...)
}

// SlogLevel converts a LogLevel to its slog equivalent. Unknown values map
// to info.
func SlogLevel(l LogLevel) slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}
