package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/GGroff15/vigia/internal/emit"
	"github.com/GGroff15/vigia/internal/event"
	"github.com/GGroff15/vigia/internal/observe"
	"github.com/GGroff15/vigia/internal/session"
	"github.com/GGroff15/vigia/pkg/detector"
)

// VideoProcessor consumes frames from the VideoBuffer, gates them through
// the FrameSampler, runs object detection, and fans each detection out as
// one event. Detector failures on individual frames are logged and
// swallowed; only cancellation stops the loop.
type VideoProcessor struct {
	buf      *VideoBuffer
	sampler  *FrameSampler
	detector detector.VideoDetector
	emitter  *emit.Emitter
	sess     *session.Session
	limiter  *WorkLimiter
	metrics  *observe.Metrics

	maxWidth  int
	maxHeight int
}

// VideoProcessorConfig holds the dependencies for a VideoProcessor.
type VideoProcessorConfig struct {
	Buffer   *VideoBuffer
	Sampler  *FrameSampler
	Detector detector.VideoDetector
	Emitter  *emit.Emitter
	Session  *session.Session
	Limiter  *WorkLimiter
	Metrics  *observe.Metrics

	// MaxWidth and MaxHeight bound accepted frame dimensions; larger frames
	// are dropped before detection. Non-positive values disable the check.
	MaxWidth  int
	MaxHeight int
}

// NewVideoProcessor creates a VideoProcessor.
func NewVideoProcessor(cfg VideoProcessorConfig) *VideoProcessor {
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &VideoProcessor{
		buf:       cfg.Buffer,
		sampler:   cfg.Sampler,
		detector:  cfg.Detector,
		emitter:   cfg.Emitter,
		sess:      cfg.Session,
		limiter:   cfg.Limiter,
		metrics:   m,
		maxWidth:  cfg.MaxWidth,
		maxHeight: cfg.MaxHeight,
	}
}

// Run loops until the context is cancelled or the buffer is closed.
func (p *VideoProcessor) Run(ctx context.Context) {
	log := observe.Logger(ctx).With("session_id", p.sess.ID(), "processor", "video")
	log.Debug("video processor started")
	defer log.Debug("video processor stopped")

	var frameIndex uint64
	for {
		frame, err := p.buf.Get(ctx)
		if err != nil {
			if !errors.Is(err, ErrClosed) && !errors.Is(err, context.Canceled) {
				log.Warn("video buffer read failed", "err", err)
			}
			return
		}
		frameIndex++
		frame.Index = frameIndex

		if !p.sampler.ShouldProcess() {
			p.sess.AddFramesDropped(1)
			p.metrics.RecordFrameDropped(ctx, "video", "sampled")
			continue
		}
		if (p.maxWidth > 0 && frame.Width > p.maxWidth) ||
			(p.maxHeight > 0 && frame.Height > p.maxHeight) {
			p.sess.AddFramesDropped(1)
			p.metrics.RecordFrameDropped(ctx, "video", "oversize")
			log.Warn("dropping oversize frame",
				"width", frame.Width, "height", frame.Height)
			continue
		}

		var dets []detector.Detection
		start := time.Now()
		err = p.limiter.Do(ctx, func() error {
			var derr error
			dets, derr = p.detector.Detect(ctx, frame)
			return derr
		})
		p.metrics.DetectorDuration.Record(ctx, time.Since(start).Seconds())
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.sess.AddFramesDropped(1)
			p.metrics.RecordFrameDropped(ctx, "video", "detector_error")
			log.Warn("detection failed", "frame_index", frame.Index, "err", err)
			continue
		}

		p.sess.AddFramesProcessed(1)
		p.sess.AddDetections(uint64(len(dets)))
		p.metrics.Detections.Add(ctx, int64(len(dets)))

		for _, d := range dets {
			p.emitter.Emit(ctx, event.NewDetection(
				d.Label, d.Confidence, frame.Index, d.X, d.Y, d.Width, d.Height))
		}
	}
}
