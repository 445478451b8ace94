package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/GGroff15/vigia/internal/emit"
	"github.com/GGroff15/vigia/internal/event"
	"github.com/GGroff15/vigia/internal/observe"
	"github.com/GGroff15/vigia/internal/session"
	"github.com/GGroff15/vigia/pkg/detector"
	detectormock "github.com/GGroff15/vigia/pkg/detector/mock"
	recmock "github.com/GGroff15/vigia/pkg/recognizer/mock"
)

// captureSink records every delivered event for assertions.
type captureSink struct {
	mu     sync.Mutex
	events []event.Event
	bodies []string
}

func (c *captureSink) Deliver(_ context.Context, ev event.Event, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	c.bodies = append(c.bodies, string(body))
	return nil
}

func (c *captureSink) Events() []event.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]event.Event, len(c.events))
	copy(out, c.events)
	return out
}

func (c *captureSink) ByType(typ string) []event.Event {
	var out []event.Event
	for _, ev := range c.Events() {
		if ev.EventType() == typ {
			out = append(out, ev)
		}
	}
	return out
}

// vadStub is a fixed-answer voice activity detector.
type vadStub struct{ speech bool }

func (v vadStub) IsSpeech([]byte) bool { return v.speech }
func (v vadStub) Close() error         { return nil }

// fakeChannel is an always-open data channel.
type fakeChannel struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeChannel) IsOpen() bool { return true }

func (f *fakeChannel) Send(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return nil
}

func testMetrics() *observe.Metrics { return observe.DefaultMetrics() }

// waitFor polls cond until it holds or the deadline expires.
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func newTestPipeline(sink *captureSink, det detector.VideoDetector) (*Pipeline, *session.Session) {
	sess := session.New()
	p := New(Config{
		Session:             sess,
		Emitter:             emit.New(sink, nil),
		Detector:            det,
		Recognizer:          &recmock.Recognizer{},
		VAD:                 vadStub{speech: false},
		Metrics:             testMetrics(),
		VideoFPS:            100,
		ConfidenceThreshold: 0.5,
		MaxWidth:            1280,
		MaxHeight:           720,
		SampleRate:          16000,
		FrameMs:             20,
		OverlapMs:           1000,
		Language:            "pt-BR",
		MaxStreamDur:        time.Minute,
		EmotionWindow:       60,
	})
	return p, sess
}

func TestPipelineLifecycle(t *testing.T) {
	sink := &captureSink{}
	det := &detectormock.Detector{
		Detections: []detector.Detection{
			{Label: "person", Confidence: 0.761, X: 10, Y: 20, Width: 30, Height: 40},
		},
	}
	p, _ := newTestPipeline(sink, det)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	if err := p.AttachChannel(&fakeChannel{}); err != nil {
		t.Fatalf("AttachChannel: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		return len(sink.ByType(event.TypeSessionStarted)) == 1
	})
	started := sink.ByType(event.TypeSessionStarted)[0].(event.SessionStarted)
	if started.Config.MaxResolution != "1280x720" {
		t.Errorf("MaxResolution = %q", started.Config.MaxResolution)
	}
	if started.TimestampMs == 0 {
		t.Error("TimestampMs not set")
	}

	p.OnVideoFrame(videoFrame(640))
	waitFor(t, time.Second, func() bool {
		return len(sink.ByType(event.TypeObject)) == 1
	})
	obj := sink.ByType(event.TypeObject)[0].(event.Detection)
	if obj.Label != "person" || obj.Confidence != 0.76 || obj.FrameIndex != 1 {
		t.Fatalf("detection event = %+v", obj)
	}

	p.Close()
	closed := sink.ByType(event.TypeStreamClosed)
	if len(closed) != 1 {
		t.Fatalf("got %d stream_closed events, want 1", len(closed))
	}
	sum := closed[0].(event.StreamClosed).Summary
	if sum.TotalFramesReceived != 1 || sum.TotalFramesProcessed != 1 {
		t.Errorf("summary = %+v", sum)
	}
	if sum.TotalDetections != 1 {
		t.Errorf("TotalDetections = %d, want 1", sum.TotalDetections)
	}

	// Last event on the channel must be the closing frame.
	events := sink.Events()
	if events[len(events)-1].EventType() != event.TypeStreamClosed {
		t.Errorf("last event is %q, want stream_closed", events[len(events)-1].EventType())
	}
}

func TestPipelineCloseIdempotent(t *testing.T) {
	sink := &captureSink{}
	p, _ := newTestPipeline(sink, &detectormock.Detector{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	p.Close()
	p.Close()
	if n := len(sink.ByType(event.TypeStreamClosed)); n != 1 {
		t.Fatalf("got %d stream_closed events, want 1", n)
	}
}

func TestPipelineCountsReplacedFrames(t *testing.T) {
	sink := &captureSink{}
	p, sess := newTestPipeline(sink, &detectormock.Detector{})
	// Not started: frames pile up in the single-slot buffer.

	for i := 1; i <= 3; i++ {
		p.OnVideoFrame(videoFrame(i))
	}

	sum := sess.Summary()
	if sum.TotalFramesReceived != 3 {
		t.Errorf("received = %d, want 3", sum.TotalFramesReceived)
	}
	if sum.TotalFramesDropped != 2 {
		t.Errorf("dropped = %d, want 2 (single-slot buffer)", sum.TotalFramesDropped)
	}
	if sum.TotalFramesReceived < sum.TotalFramesProcessed+sum.TotalFramesDropped {
		t.Errorf("received < processed + dropped: %+v", sum)
	}
}

func TestPipelineNoStartedFrameAfterClose(t *testing.T) {
	sink := &captureSink{}
	p, _ := newTestPipeline(sink, &detectormock.Detector{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	if err := p.AttachChannel(&fakeChannel{}); err != nil {
		t.Fatalf("AttachChannel: %v", err)
	}
	p.Close()

	// The deferred session_started must be suppressed once closed.
	time.Sleep(initDelay + 50*time.Millisecond)
	if n := len(sink.ByType(event.TypeSessionStarted)); n != 0 {
		t.Fatalf("got %d session_started events after close, want 0", n)
	}
}

func TestPipelineAttachChannelOnce(t *testing.T) {
	sink := &captureSink{}
	p, _ := newTestPipeline(sink, &detectormock.Detector{})

	if err := p.AttachChannel(&fakeChannel{}); err != nil {
		t.Fatalf("first attach: %v", err)
	}
	if err := p.AttachChannel(&fakeChannel{}); err != session.ErrChannelAttached {
		t.Fatalf("second attach = %v, want ErrChannelAttached", err)
	}
}
