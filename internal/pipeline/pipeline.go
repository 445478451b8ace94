package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/GGroff15/vigia/internal/emit"
	"github.com/GGroff15/vigia/internal/event"
	"github.com/GGroff15/vigia/internal/observe"
	"github.com/GGroff15/vigia/internal/session"
	"github.com/GGroff15/vigia/pkg/detector"
	"github.com/GGroff15/vigia/pkg/emotion"
	"github.com/GGroff15/vigia/pkg/media"
	"github.com/GGroff15/vigia/pkg/recognizer"
	"github.com/GGroff15/vigia/pkg/vad"
)

const (
	// initDelay postpones the session_started framing message slightly so
	// the client's channel handlers are installed before the first send.
	initDelay = 100 * time.Millisecond

	// shutdownBudget bounds how long Close waits for the processors.
	shutdownBudget = 2 * time.Second
)

// Config assembles one session's pipeline.
type Config struct {
	Session *session.Session
	Emitter *emit.Emitter

	Detector   detector.VideoDetector
	Recognizer recognizer.Recognizer
	Classifier emotion.Classifier
	VAD        vad.Detector

	Limiter *WorkLimiter
	Metrics *observe.Metrics

	VideoFPS            float64
	ConfidenceThreshold float64
	MaxWidth            int
	MaxHeight           int

	SampleRate int
	FrameMs    int
	OverlapMs  int

	Language      string
	MaxStreamDur  time.Duration
	EmotionWindow int
	IdleTimeout   time.Duration
}

// Pipeline is the per-session processing graph. The transport feeds it via
// OnVideoFrame/OnAudioFrame, attaches the outbound channel once, and ends it
// with Close. All methods are safe for concurrent use.
type Pipeline struct {
	sess    *session.Session
	emitter *emit.Emitter
	metrics *observe.Metrics
	log     *slog.Logger

	videoBuf *VideoBuffer
	fan      *AudioFanOut

	video *VideoProcessor
	stt   *SpeechToTextProcessor
	emo   *EmotionProcessor

	sessionCfg  event.SessionConfig
	idleTimeout time.Duration

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	closed    chan struct{}
}

// New assembles a pipeline from cfg. Call Start to begin processing.
func New(cfg Config) *Pipeline {
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	if cfg.Limiter == nil {
		cfg.Limiter = NewWorkLimiter(0)
	}

	videoBuf := NewVideoBuffer()
	sttBuf := NewAudioBuffer(defaultAudioCapacity)
	emoBuf := NewAudioBuffer(defaultAudioCapacity)

	p := &Pipeline{
		sess:     cfg.Session,
		emitter:  cfg.Emitter,
		metrics:  m,
		log:      slog.With("session_id", cfg.Session.ID()),
		videoBuf: videoBuf,
		fan:      NewAudioFanOut(sttBuf, emoBuf),
		sessionCfg: event.SessionConfig{
			MaxResolution:       fmt.Sprintf("%dx%d", cfg.MaxWidth, cfg.MaxHeight),
			ConfidenceThreshold: cfg.ConfidenceThreshold,
			IdleTimeoutSec:      int(cfg.IdleTimeout / time.Second),
		},
		idleTimeout: cfg.IdleTimeout,
		closed:      make(chan struct{}),
	}

	p.video = NewVideoProcessor(VideoProcessorConfig{
		Buffer:    videoBuf,
		Sampler:   NewFrameSampler(cfg.VideoFPS),
		Detector:  cfg.Detector,
		Emitter:   cfg.Emitter,
		Session:   cfg.Session,
		Limiter:   cfg.Limiter,
		Metrics:   m,
		MaxWidth:  cfg.MaxWidth,
		MaxHeight: cfg.MaxHeight,
	})
	p.stt = NewSpeechToTextProcessor(SpeechToTextConfig{
		Buffer:      sttBuf,
		Recognizer:  cfg.Recognizer,
		VAD:         cfg.VAD,
		Emitter:     cfg.Emitter,
		Session:     cfg.Session,
		Metrics:     m,
		SampleRate:  cfg.SampleRate,
		FrameMs:     cfg.FrameMs,
		OverlapMs:   cfg.OverlapMs,
		Language:    cfg.Language,
		MaxDuration: cfg.MaxStreamDur,
	})
	p.emo = NewEmotionProcessor(EmotionProcessorConfig{
		Buffer:     emoBuf,
		Classifier: cfg.Classifier,
		Emitter:    cfg.Emitter,
		Session:    cfg.Session,
		Limiter:    cfg.Limiter,
		Metrics:    m,
		WindowSec:  cfg.EmotionWindow,
	})

	return p
}

// Session returns the session this pipeline serves.
func (p *Pipeline) Session() *session.Session { return p.sess }

// Start launches the processor goroutines and the idle watchdog.
func (p *Pipeline) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	p.metrics.ActiveSessions.Add(ctx, 1)
	p.log.Info("session pipeline started")

	run := func(fn func(context.Context)) {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			fn(ctx)
		}()
	}
	run(p.video.Run)
	run(p.stt.Run)
	run(p.emo.Run)

	if p.idleTimeout > 0 {
		p.wg.Add(1)
		go p.watchIdle(ctx)
	}
}

// OnVideoFrame accepts one decoded video frame from the transport. Never
// blocks: a frame already pending is replaced and counted as dropped.
func (p *Pipeline) OnVideoFrame(f media.VideoFrame) {
	p.sess.TouchMedia()
	p.sess.AddFramesReceived(1)
	p.metrics.RecordFrameReceived(context.Background(), "video")

	if p.videoBuf.Put(f) != nil {
		p.sess.AddFramesDropped(1)
		p.metrics.RecordFrameDropped(context.Background(), "video", "replaced")
	}
}

// OnAudioFrame accepts one decoded audio frame and fans it out to both
// audio analyzers. Never blocks; overflow evicts the oldest queued frames.
func (p *Pipeline) OnAudioFrame(f media.AudioFrame) {
	p.sess.TouchMedia()
	p.metrics.RecordFrameReceived(context.Background(), "audio")

	if n := p.fan.Put(f); n > 0 {
		p.metrics.RecordFrameDropped(context.Background(), "audio", "overflow")
	}
}

// AttachChannel attaches the outbound channel and schedules the
// session_started framing message after a short init delay.
func (p *Pipeline) AttachChannel(ch session.DataChannel) error {
	if err := p.sess.AttachChannel(ch); err != nil {
		return err
	}
	time.AfterFunc(initDelay, func() {
		select {
		case <-p.closed:
			return
		default:
		}
		p.emitter.EmitChannelOnly(context.Background(),
			event.NewSessionStarted(p.sess.ID(), time.Now(), p.sessionCfg))
	})
	return nil
}

// watchIdle closes the pipeline when no media frame has arrived for the
// configured idle timeout.
func (p *Pipeline) watchIdle(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if p.sess.IdleFor() >= p.idleTimeout {
				p.log.Info("closing idle session", "idle", p.sess.IdleFor())
				go p.Close()
				return
			}
		}
	}
}

// Close ends the session: the stream_closed summary goes out on the
// DataChannel, the processors are cancelled, and the buffers wake their
// consumers. Waits up to the shutdown budget for the processors to return.
// Idempotent.
func (p *Pipeline) Close() {
	p.closeOnce.Do(func() {
		close(p.closed)

		p.emitter.EmitChannelOnly(context.Background(),
			event.NewStreamClosed(p.sess.ID(), p.sess.Summary()))

		if p.cancel != nil {
			p.cancel()
		}
		p.videoBuf.Close()
		p.fan.Close()

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(shutdownBudget):
			p.log.Error("pipeline shutdown exceeded budget")
		}

		p.metrics.ActiveSessions.Add(context.Background(), -1)
		p.log.Info("session pipeline closed",
			"duration", p.sess.Elapsed().Round(time.Millisecond))
	})
}
