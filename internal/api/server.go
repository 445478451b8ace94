// Package api is the transport shell of the vigia server: the websocket
// media ingest endpoint, the health and readiness probes, and the Prometheus
// metrics endpoint. Each websocket connection becomes one analysis session
// whose pipeline events are sent back as text messages on the same socket
// and forwarded to the external HTTP sink.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GGroff15/vigia/internal/config"
	"github.com/GGroff15/vigia/internal/emit"
	"github.com/GGroff15/vigia/internal/observe"
	"github.com/GGroff15/vigia/internal/pipeline"
	"github.com/GGroff15/vigia/internal/session"
	"github.com/GGroff15/vigia/pkg/detector"
	"github.com/GGroff15/vigia/pkg/emotion"
	"github.com/GGroff15/vigia/pkg/recognizer"
	"github.com/GGroff15/vigia/pkg/vad"
)

// maxMessageBytes caps a single ingest message. Large enough for a 720p
// JPEG, small enough to shrug off abuse.
const maxMessageBytes = 4 << 20

// Providers holds the analyzer backends the server hands to each session.
type Providers struct {
	Detector   detector.VideoDetector
	Recognizer recognizer.Recognizer
	Classifier emotion.Classifier

	// NewVAD builds a per-session voice activity detector. Backends keep
	// internal state, so sessions must not share one instance. May be nil.
	NewVAD func() (vad.Detector, error)
}

// Server hosts the analysis endpoints.
type Server struct {
	cfg       *config.Config
	providers Providers
	registry  *session.Registry
	limiter   *pipeline.WorkLimiter
	metrics   *observe.Metrics
	health    *healthHandler
}

// New creates a Server. Extra readiness checkers are evaluated by /readyz in
// addition to the built-in config check.
func New(cfg *config.Config, providers Providers, checkers ...Checker) *Server {
	m := observe.DefaultMetrics()

	all := append([]Checker{{
		Name:  "config",
		Check: func(context.Context) error { return config.Validate(cfg) },
	}}, checkers...)

	return &Server{
		cfg:       cfg,
		providers: providers,
		registry:  session.NewRegistry(),
		limiter:   pipeline.NewWorkLimiter(0),
		metrics:   m,
		health:    newHealthHandler(all...),
	}
}

// Registry returns the live session registry.
func (s *Server) Registry() *session.Registry { return s.registry }

// Handler builds the HTTP routing table. The websocket endpoint is mounted
// outside the observability middleware because the connection hijack is
// incompatible with response wrapping.
func (s *Server) Handler() http.Handler {
	instrumented := http.NewServeMux()
	instrumented.HandleFunc("GET /healthz", s.health.healthz)
	instrumented.HandleFunc("GET /readyz", s.health.readyz)
	instrumented.Handle("GET /metrics", promhttp.Handler())

	mux := http.NewServeMux()
	mux.Handle("/", observe.Middleware(s.metrics)(instrumented))
	mux.HandleFunc("GET /ws/analyze", s.handleAnalyze)
	return mux
}

// Run serves until ctx is cancelled, then closes every live session and
// shuts the listener down.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Server.Host, strconv.Itoa(s.cfg.Server.Port))
	srv := &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("api: serve: %w", err)
	case <-ctx.Done():
	}

	s.registry.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api: shutdown: %w", err)
	}
	return nil
}

// handleAnalyze upgrades the connection and runs one analysis session over
// it: binary messages carry media frames in, text messages carry events out.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{})
	if err != nil {
		slog.Warn("websocket accept failed", "err", err)
		return
	}
	conn.SetReadLimit(maxMessageBytes)

	sess := session.New()
	log := slog.With("session_id", sess.ID(), "remote", r.RemoteAddr)

	var sessionVAD vad.Detector
	if s.providers.NewVAD != nil {
		sessionVAD, err = s.providers.NewVAD()
		if err != nil {
			log.Error("vad construction failed", "err", err)
			conn.Close(websocket.StatusInternalError, "vad unavailable")
			return
		}
	}

	channel := newWSChannel(conn)
	emitter := emit.New(
		emit.NewChannelSink(sess),
		emit.NewHTTPSink(emit.HTTPSinkConfig{
			BaseURL:       s.cfg.Forward.BaseURL,
			APIKey:        s.cfg.Forward.APIKey,
			CorrelationID: sess.ID(),
			Timeout:       s.cfg.Forward.HTTPTimeout(),
			Metrics:       s.metrics,
		}),
	)

	p := pipeline.New(pipeline.Config{
		Session:    sess,
		Emitter:    emitter,
		Detector:   s.providers.Detector,
		Recognizer: s.providers.Recognizer,
		Classifier: s.providers.Classifier,
		VAD:        sessionVAD,
		Limiter:    s.limiter,
		Metrics:    s.metrics,

		VideoFPS:            s.cfg.Video.FPS,
		ConfidenceThreshold: s.cfg.Video.ConfidenceThreshold,
		MaxWidth:            s.cfg.Video.MaxWidth,
		MaxHeight:           s.cfg.Video.MaxHeight,

		SampleRate: s.cfg.Audio.SampleRate,
		FrameMs:    s.cfg.Audio.FrameMs,
		OverlapMs:  s.cfg.Audio.OverlapMs,

		Language:      s.cfg.STT.Language,
		MaxStreamDur:  time.Duration(s.cfg.STT.MaxDurationSec) * time.Second,
		EmotionWindow: s.cfg.Emotion.WindowSec,
		IdleTimeout:   time.Duration(s.cfg.Server.IdleTimeoutSec) * time.Second,
	})

	p.Start(r.Context())
	s.registry.Add(sess, p.Close)
	if err := p.AttachChannel(channel); err != nil {
		log.Warn("channel attach failed", "err", err)
	}

	log.Info("analysis session opened")
	s.readLoop(r.Context(), conn, p, log)

	channel.markClosed()
	s.registry.Remove(sess.ID())
	p.Close()
	if sessionVAD != nil {
		if err := sessionVAD.Close(); err != nil {
			log.Warn("vad close failed", "err", err)
		}
	}
	conn.Close(websocket.StatusNormalClosure, "")
	log.Info("analysis session closed")
}

// readLoop pumps ingest messages into the pipeline until the client hangs
// up or the server stops. Malformed frames are logged and skipped.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, p *pipeline.Pipeline, log *slog.Logger) {
	dec := newFrameDecoder()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway ||
				errors.Is(err, context.Canceled) {
				return
			}
			log.Info("ingest read ended", "err", err)
			return
		}
		if typ != websocket.MessageBinary {
			// Text messages from the client are not part of the protocol.
			continue
		}

		vf, af, err := dec.decode(data)
		if err != nil {
			log.Warn("dropping malformed frame", "err", err)
			continue
		}
		switch {
		case vf != nil:
			p.OnVideoFrame(*vf)
		case af != nil:
			p.OnAudioFrame(*af)
		}
	}
}
