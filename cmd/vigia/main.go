// Command vigia is the realtime multimodal analysis server: it ingests
// interleaved audio/video media over websocket sessions, runs object
// detection, streaming speech recognition, and speech-emotion analysis, and
// emits JSON events to the client channel and an external HTTP collector.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/GGroff15/vigia/internal/api"
	"github.com/GGroff15/vigia/internal/config"
	"github.com/GGroff15/vigia/internal/observe"
	detectormock "github.com/GGroff15/vigia/pkg/detector/mock"
	"github.com/GGroff15/vigia/pkg/detector/roboflow"
	"github.com/GGroff15/vigia/pkg/emotion/serving"
	"github.com/GGroff15/vigia/pkg/recognizer/deepgram"
	recognizermock "github.com/GGroff15/vigia/pkg/recognizer/mock"
	"github.com/GGroff15/vigia/pkg/recognizer/whisper"
	"github.com/GGroff15/vigia/pkg/vad"
	"github.com/GGroff15/vigia/pkg/vad/silero"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vigia: %v\n", err)
		return 1
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.SlogLevel(cfg.Server.LogLevel),
	}))
	slog.SetDefault(logger)

	slog.Info("vigia starting",
		"config", *configPath,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "vigia",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		if err := shutdownOtel(context.Background()); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	providers, cleanup, err := buildProviders(cfg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}
	defer cleanup()

	server := api.New(cfg, providers)

	slog.Info("server ready — press Ctrl+C to shut down")
	if err := server.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// buildProviders instantiates the analyzer backends selected in the config.
// The returned cleanup releases any native resources (whisper model).
func buildProviders(cfg *config.Config) (api.Providers, func(), error) {
	var (
		p       api.Providers
		closers []func() error
		cleanup = func() {}
	)

	// Detector.
	switch entry := cfg.Providers.Detector; entry.Name {
	case "roboflow":
		d, err := roboflow.New(entry.BaseURL+"/"+entry.Model, entry.APIKey,
			roboflow.WithConfidence(cfg.Video.ConfidenceThreshold))
		if err != nil {
			return p, cleanup, fmt.Errorf("detector: %w", err)
		}
		p.Detector = d
	case "mock", "":
		p.Detector = &detectormock.Detector{}
	default:
		return p, cleanup, fmt.Errorf("detector: unknown provider %q", entry.Name)
	}

	// Recognizer.
	switch entry := cfg.Providers.Recognizer; entry.Name {
	case "deepgram":
		opts := []deepgram.Option{deepgram.WithLanguage(cfg.STT.Language)}
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		r, err := deepgram.New(entry.APIKey, opts...)
		if err != nil {
			return p, cleanup, fmt.Errorf("recognizer: %w", err)
		}
		p.Recognizer = r
	case "whisper":
		r, err := whisper.New(entry.Model, whisper.WithLanguage(shortLanguage(cfg.STT.Language)))
		if err != nil {
			return p, cleanup, fmt.Errorf("recognizer: %w", err)
		}
		closers = append(closers, r.Close)
		p.Recognizer = r
	case "mock", "":
		p.Recognizer = &recognizermock.Recognizer{}
	default:
		return p, cleanup, fmt.Errorf("recognizer: unknown provider %q", entry.Name)
	}

	// Emotion classifier. "none" leaves it nil: events are emitted with a
	// null label so the cadence stays observable.
	switch entry := cfg.Providers.Emotion; entry.Name {
	case "serving":
		c, err := serving.New(entry.BaseURL)
		if err != nil {
			return p, cleanup, fmt.Errorf("emotion: %w", err)
		}
		p.Classifier = c
	case "none", "":
		p.Classifier = nil
	default:
		return p, cleanup, fmt.Errorf("emotion: unknown provider %q", entry.Name)
	}

	// VAD factory: backends are stateful, so each session gets its own.
	vadCfg := vad.Config{
		SampleRate:     cfg.Audio.SampleRate,
		FrameMs:        cfg.Audio.FrameMs,
		Aggressiveness: cfg.Audio.VADAggressiveness,
	}
	switch entry := cfg.Providers.VAD; entry.Name {
	case "silero":
		modelPath := entry.Model
		p.NewVAD = func() (vad.Detector, error) {
			return silero.New(modelPath, vadCfg)
		}
	case "energy", "":
		p.NewVAD = func() (vad.Detector, error) {
			return vad.NewEnergyDetector(vadCfg)
		}
	default:
		return p, cleanup, fmt.Errorf("vad: unknown provider %q", entry.Name)
	}

	cleanup = func() {
		for _, c := range closers {
			if err := c(); err != nil {
				slog.Warn("provider close error", "err", err)
			}
		}
	}
	return p, cleanup, nil
}

// shortLanguage maps a BCP-47 tag like "pt-BR" to the two-letter code local
// backends expect.
func shortLanguage(tag string) string {
	if len(tag) >= 2 {
		return tag[:2]
	}
	return tag
}
