package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/GGroff15/vigia/internal/emit"
	"github.com/GGroff15/vigia/internal/event"
	"github.com/GGroff15/vigia/internal/observe"
	"github.com/GGroff15/vigia/internal/session"
	"github.com/GGroff15/vigia/pkg/emotion"
	"github.com/GGroff15/vigia/pkg/media"
)

// EmotionProcessor classifies speech emotion over fixed audio windows. Each
// loop iteration gathers up to retrieveDuration of audio (bounded by the
// window timeout), writes it to a temporary WAV file, and runs the
// classifier off the ingest path. Windows never overlap; gaps are fine.
type EmotionProcessor struct {
	buf        *AudioBuffer
	adapter    *media.Adapter
	classifier emotion.Classifier
	emitter    *emit.Emitter
	sess       *session.Session
	limiter    *WorkLimiter
	metrics    *observe.Metrics

	retrieveDuration time.Duration
	windowTimeout    time.Duration
}

// EmotionProcessorConfig holds the dependencies for an EmotionProcessor.
type EmotionProcessorConfig struct {
	Buffer *AudioBuffer

	// Classifier may be nil: events are then emitted with a null label and
	// zero confidence, keeping the cadence observable.
	Classifier emotion.Classifier

	Emitter *emit.Emitter
	Session *session.Session
	Limiter *WorkLimiter
	Metrics *observe.Metrics

	// WindowSec is the emission cadence; each window gathers half of it in
	// audio (retrieve duration) and times out at the full cadence.
	WindowSec int
}

// NewEmotionProcessor creates an EmotionProcessor.
func NewEmotionProcessor(cfg EmotionProcessorConfig) *EmotionProcessor {
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	window := time.Duration(cfg.WindowSec) * time.Second
	if window <= 0 {
		window = 10 * time.Second
	}
	return &EmotionProcessor{
		buf:              cfg.Buffer,
		adapter:          media.NewAdapter(),
		classifier:       cfg.Classifier,
		emitter:          cfg.Emitter,
		sess:             cfg.Session,
		limiter:          cfg.Limiter,
		metrics:          m,
		retrieveDuration: window / 2,
		windowTimeout:    window,
	}
}

// Run loops until the context is cancelled or the buffer is closed.
func (p *EmotionProcessor) Run(ctx context.Context) {
	log := observe.Logger(ctx).With("session_id", p.sess.ID(), "processor", "emotion")
	log.Debug("emotion processor started")
	defer log.Debug("emotion processor stopped")

	for {
		frames, err := p.buf.GetMany(ctx, p.retrieveDuration, p.windowTimeout)
		if err != nil {
			if !errors.Is(err, ErrClosed) && !errors.Is(err, context.Canceled) {
				log.Warn("audio buffer read failed", "err", err)
			}
			return
		}
		if len(frames) == 0 {
			continue
		}

		label, score := p.classify(ctx, log, frames)
		p.emitter.Emit(ctx, event.NewEmotion(label, score, time.Now()))
	}
}

// classify runs one window through the classifier and maps the prediction
// onto the canonical label set. Any failure, or a label that cannot be
// mapped, yields an empty label and zero score; the event is still emitted
// so the cadence stays observable.
func (p *EmotionProcessor) classify(ctx context.Context, log *slog.Logger, frames []media.AudioFrame) (string, float64) {
	if p.classifier == nil {
		p.metrics.RecordEmotionWindow(ctx, "unavailable")
		return "", 0
	}

	var pcm []byte
	for _, f := range frames {
		pcm = append(pcm, p.adapter.ToPCM16(f)...)
	}

	var pred emotion.Prediction
	start := time.Now()
	err := p.limiter.Do(ctx, func() error {
		path, werr := media.WriteTempWAV(pcm, media.TargetSampleRate, media.TargetChannels)
		if werr != nil {
			return werr
		}
		defer os.Remove(path)

		var perr error
		pred, perr = p.classifier.Predict(ctx, path)
		return perr
	})
	p.metrics.EmotionDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() == nil {
			log.Warn("emotion classification failed", "err", err)
		}
		p.metrics.RecordEmotionWindow(ctx, "error")
		return "", 0
	}

	p.metrics.RecordEmotionWindow(ctx, "ok")
	norm := emotion.Normalize(pred)
	return norm.Label, norm.Score
}
