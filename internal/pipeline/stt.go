package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/GGroff15/vigia/internal/emit"
	"github.com/GGroff15/vigia/internal/event"
	"github.com/GGroff15/vigia/internal/observe"
	"github.com/GGroff15/vigia/internal/session"
	"github.com/GGroff15/vigia/pkg/media"
	"github.com/GGroff15/vigia/pkg/recognizer"
	"github.com/GGroff15/vigia/pkg/vad"
)

// StreamRotator owns at most one live recognizer stream at a time. It opens
// a stream lazily on the first speech chunk, preloading it with the overlap
// snapshot so words straddling the speech onset are captured, and rotates
// the stream without gaps once it reaches the backend's maximum duration.
// A backend failure closes the stream; the next speech chunk opens a fresh
// one, again preloaded from the overlap ring.
type StreamRotator struct {
	rec         recognizer.Recognizer
	overlap     *OverlapBuffer
	maxDuration time.Duration
	sampleRate  int
	language    string
	metrics     *observe.Metrics
	log         *slog.Logger

	// onFinal receives each final result together with the wall clock
	// instant at which the producing stream was opened.
	onFinal func(res recognizer.Result, streamStart time.Time)

	mu     sync.Mutex
	active *activeStream
	wg     sync.WaitGroup
}

// activeStream is one live recognizer stream plus its clock anchors.
type activeStream struct {
	sess       recognizer.Session
	wallStart  time.Time
	monoStart  time.Time
	closedByUs bool
}

// StreamRotatorConfig holds the dependencies for a StreamRotator.
type StreamRotatorConfig struct {
	Recognizer  recognizer.Recognizer
	Overlap     *OverlapBuffer
	MaxDuration time.Duration
	SampleRate  int
	Language    string
	Metrics     *observe.Metrics
	Log         *slog.Logger

	OnFinal func(res recognizer.Result, streamStart time.Time)
}

// NewStreamRotator creates a StreamRotator.
func NewStreamRotator(cfg StreamRotatorConfig) *StreamRotator {
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &StreamRotator{
		rec:         cfg.Recognizer,
		overlap:     cfg.Overlap,
		maxDuration: cfg.MaxDuration,
		sampleRate:  cfg.SampleRate,
		language:    cfg.Language,
		metrics:     m,
		log:         log,
		onFinal:     cfg.OnFinal,
	}
}

// Feed offers one PCM chunk to the rotator. While no stream is active the
// chunk only opens one when speech is true; once a stream is active every
// chunk is forwarded regardless of VAD, because recognizers need a
// continuous carrier. Never blocks on the recognizer.
func (r *StreamRotator) Feed(ctx context.Context, chunk []byte, speech bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active == nil {
		if !speech {
			return
		}
		r.openLocked(ctx)
	} else if time.Since(r.active.monoStart) >= r.maxDuration {
		r.closeActiveLocked()
		r.metrics.RecordRotation(ctx, "duration")
		r.log.Info("rotating recognizer stream", "cause", "duration")
		r.openLocked(ctx)
	}

	if r.active == nil {
		return
	}
	if err := r.active.sess.SendAudio(chunk); err != nil {
		r.log.Warn("recognizer send failed, closing stream", "err", err)
		r.closeActiveLocked()
		r.metrics.RecordRotation(ctx, "error")
	}
}

// openLocked starts a new stream preloaded with the current overlap
// snapshot. Requires r.mu held.
func (r *StreamRotator) openLocked(ctx context.Context) {
	cfg := recognizer.StreamConfig{
		SampleRate: r.sampleRate,
		Language:   r.language,
		Preload:    r.overlap.Snapshot(),
	}
	sess, err := r.rec.StartStream(ctx, cfg)
	if err != nil {
		r.log.Warn("recognizer stream open failed", "err", err)
		return
	}

	now := time.Now()
	st := &activeStream{
		sess:      sess,
		wallStart: now.UTC(),
		monoStart: now,
	}
	r.active = st

	r.wg.Add(1)
	go r.consumeFinals(ctx, st)
}

// consumeFinals drains one stream's finals until the backend closes the
// channel, forwarding each result with the stream's wall clock anchor.
func (r *StreamRotator) consumeFinals(ctx context.Context, st *activeStream) {
	defer r.wg.Done()

	for res := range st.sess.Finals() {
		if r.onFinal != nil {
			r.onFinal(res, st.wallStart)
		}
	}

	// Finals closed. If the backend died underneath us (not a deliberate
	// close or rotation), drop the stream so the next speech chunk reopens.
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == st && !st.closedByUs {
		r.log.Warn("recognizer stream ended unexpectedly")
		r.active = nil
		r.metrics.RecordRotation(ctx, "error")
	}
}

// closeActiveLocked closes the current stream. Requires r.mu held.
func (r *StreamRotator) closeActiveLocked() {
	if r.active == nil {
		return
	}
	r.active.closedByUs = true
	if err := r.active.sess.Close(); err != nil {
		r.log.Warn("recognizer stream close failed", "err", err)
	}
	r.active = nil
}

// Active reports whether a recognizer stream is currently open.
func (r *StreamRotator) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}

// Close terminates any live stream and waits for its finals consumer.
func (r *StreamRotator) Close() {
	r.mu.Lock()
	r.closeActiveLocked()
	r.mu.Unlock()
	r.wg.Wait()
}

// SpeechToTextProcessor turns the continuous audio stream into transcript
// events. It converts frames to 16 kHz mono PCM, slices them into VAD-sized
// chunks, maintains the overlap ring, and feeds the StreamRotator.
type SpeechToTextProcessor struct {
	buf     *AudioBuffer
	adapter *media.Adapter
	chunker *PcmChunker
	overlap *OverlapBuffer
	vad     vad.Detector
	rotator *StreamRotator
	emitter *emit.Emitter
	sess    *session.Session
	metrics *observe.Metrics
}

// SpeechToTextConfig holds the dependencies for a SpeechToTextProcessor.
type SpeechToTextConfig struct {
	Buffer     *AudioBuffer
	Recognizer recognizer.Recognizer
	VAD        vad.Detector
	Emitter    *emit.Emitter
	Session    *session.Session
	Metrics    *observe.Metrics

	SampleRate  int
	FrameMs     int
	OverlapMs   int
	Language    string
	MaxDuration time.Duration
}

// NewSpeechToTextProcessor creates the processor and its rotator.
func NewSpeechToTextProcessor(cfg SpeechToTextConfig) *SpeechToTextProcessor {
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}

	overlapChunks := 0
	if cfg.FrameMs > 0 {
		overlapChunks = cfg.OverlapMs / cfg.FrameMs
	}
	overlap := NewOverlapBuffer(overlapChunks)

	p := &SpeechToTextProcessor{
		buf:     cfg.Buffer,
		adapter: media.NewAdapter(),
		chunker: NewPcmChunker(cfg.SampleRate, cfg.FrameMs),
		overlap: overlap,
		vad:     cfg.VAD,
		emitter: cfg.Emitter,
		sess:    cfg.Session,
		metrics: m,
	}
	p.rotator = NewStreamRotator(StreamRotatorConfig{
		Recognizer:  cfg.Recognizer,
		Overlap:     overlap,
		MaxDuration: cfg.MaxDuration,
		SampleRate:  cfg.SampleRate,
		Language:    cfg.Language,
		Metrics:     m,
		Log:         slog.With("session_id", cfg.Session.ID(), "processor", "stt"),
		OnFinal:     p.emitFinal,
	})
	return p
}

// Run loops until the context is cancelled or the buffer is closed, then
// closes any live recognizer stream.
func (p *SpeechToTextProcessor) Run(ctx context.Context) {
	log := observe.Logger(ctx).With("session_id", p.sess.ID(), "processor", "stt")
	log.Debug("stt processor started")
	defer log.Debug("stt processor stopped")
	defer p.rotator.Close()

	for {
		frame, err := p.buf.Get(ctx)
		if err != nil {
			if !errors.Is(err, ErrClosed) && !errors.Is(err, context.Canceled) {
				log.Warn("audio buffer read failed", "err", err)
			}
			return
		}

		pcm := p.adapter.ToPCM16(frame)
		for _, chunk := range p.chunker.Push(pcm) {
			p.overlap.Push(chunk)

			speech := false
			if p.vad != nil {
				speech = p.vad.IsSpeech(chunk)
			}
			p.rotator.Feed(ctx, chunk, speech)
		}
	}
}

// emitFinal maps one recognizer final onto a transcript event. Offsets are
// anchored at the producing stream's wall clock start; backends without
// offsets fall back to the emission instant for both bounds.
func (p *SpeechToTextProcessor) emitFinal(res recognizer.Result, streamStart time.Time) {
	var start, end time.Time
	if res.HasOffsets {
		start = streamStart.Add(res.Start)
		end = streamStart.Add(res.End)
	} else {
		now := time.Now().UTC()
		start, end = now, now
	}

	ctx := context.Background()
	p.metrics.Transcripts.Add(ctx, 1)
	p.emitter.Emit(ctx, event.NewTranscript(res.Text, res.Confidence, start, end))
}
