package pipeline

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/GGroff15/vigia/internal/emit"
	"github.com/GGroff15/vigia/internal/event"
	"github.com/GGroff15/vigia/internal/session"
	"github.com/GGroff15/vigia/pkg/emotion"
)

// classifierStub answers every Predict call with a fixed prediction or error,
// recording the WAV paths it was given.
type classifierStub struct {
	pred emotion.Prediction
	err  error

	paths []string
}

func (c *classifierStub) Predict(_ context.Context, wavPath string) (emotion.Prediction, error) {
	c.paths = append(c.paths, wavPath)
	if c.err != nil {
		return emotion.Prediction{}, c.err
	}
	return c.pred, nil
}

func newEmotionProcessor(buf *AudioBuffer, cls emotion.Classifier, sink *captureSink, windowSec int) *EmotionProcessor {
	return NewEmotionProcessor(EmotionProcessorConfig{
		Buffer:     buf,
		Classifier: cls,
		Emitter:    emit.New(sink, nil),
		Session:    session.New(),
		Limiter:    NewWorkLimiter(1),
		Metrics:    testMetrics(),
		WindowSec:  windowSec,
	})
}

func TestEmotionProcessorEmitsClassifiedWindow(t *testing.T) {
	buf := NewAudioBuffer(0)
	sink := &captureSink{}
	cls := &classifierStub{pred: emotion.Prediction{Label: "happy", Score: 0.82}}
	p := newEmotionProcessor(buf, cls, sink, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	// Half the window (500 ms) of 20 ms frames satisfies the retrieve target.
	for i := 0; i < 25; i++ {
		buf.Put(audioFrame(i))
	}
	waitFor(t, 2*time.Second, func() bool { return len(sink.Events()) == 1 })
	cancel()
	<-done

	ev := sink.Events()[0].(event.Emotion)
	if ev.Emotion == nil || *ev.Emotion != "happy" {
		t.Fatalf("emotion = %v, want happy", ev.Emotion)
	}
	if ev.Confidence != 0.82 {
		t.Errorf("confidence = %v, want 0.82", ev.Confidence)
	}
	if _, err := time.Parse("2006-01-02T15:04:05.000Z07:00", ev.Timestamp); err != nil {
		t.Errorf("timestamp %q: %v", ev.Timestamp, err)
	}

	// The temp WAV must be cleaned up after classification.
	if len(cls.paths) != 1 {
		t.Fatalf("classifier saw %d windows, want 1", len(cls.paths))
	}
	if _, err := os.Stat(cls.paths[0]); !os.IsNotExist(err) {
		t.Errorf("temp wav %s still present (err=%v)", cls.paths[0], err)
	}
}

func TestEmotionProcessorNormalizesSynonymLabel(t *testing.T) {
	buf := NewAudioBuffer(0)
	sink := &captureSink{}
	// Backends answer with synonym spellings; events carry canonical ones.
	cls := &classifierStub{pred: emotion.Prediction{Label: "disgust", Score: 0.7}}
	p := newEmotionProcessor(buf, cls, sink, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	for i := 0; i < 25; i++ {
		buf.Put(audioFrame(i))
	}
	waitFor(t, 2*time.Second, func() bool { return len(sink.Events()) == 1 })
	cancel()
	<-done

	ev := sink.Events()[0].(event.Emotion)
	if ev.Emotion == nil || *ev.Emotion != "disgusted" {
		t.Fatalf("emotion = %v, want disgusted", ev.Emotion)
	}
	if ev.Confidence != 0.7 {
		t.Errorf("confidence = %v, want 0.7", ev.Confidence)
	}
}

func TestEmotionProcessorNullOnUnknownLabel(t *testing.T) {
	buf := NewAudioBuffer(0)
	sink := &captureSink{}
	cls := &classifierStub{pred: emotion.Prediction{Label: "bogus", Score: 0.9}}
	p := newEmotionProcessor(buf, cls, sink, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	for i := 0; i < 25; i++ {
		buf.Put(audioFrame(i))
	}
	waitFor(t, 2*time.Second, func() bool { return len(sink.Events()) == 1 })
	cancel()
	<-done

	ev := sink.Events()[0].(event.Emotion)
	if ev.Emotion != nil || ev.Confidence != 0 {
		t.Fatalf("event = %+v, want null emotion with zero confidence", ev)
	}
}

func TestEmotionProcessorNullWithoutClassifier(t *testing.T) {
	buf := NewAudioBuffer(0)
	sink := &captureSink{}
	p := newEmotionProcessor(buf, nil, sink, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	// One short frame: the window fills by timeout, not by duration.
	buf.Put(audioFrame(0))
	waitFor(t, 3*time.Second, func() bool { return len(sink.Events()) == 1 })
	cancel()
	<-done

	ev := sink.Events()[0].(event.Emotion)
	if ev.Emotion != nil {
		t.Fatalf("emotion = %q, want null", *ev.Emotion)
	}
	if ev.Confidence != 0 {
		t.Errorf("confidence = %v, want 0", ev.Confidence)
	}
}

func TestEmotionProcessorNullOnClassifierError(t *testing.T) {
	buf := NewAudioBuffer(0)
	sink := &captureSink{}
	cls := &classifierStub{err: errors.New("serving unavailable")}
	p := newEmotionProcessor(buf, cls, sink, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	for i := 0; i < 25; i++ {
		buf.Put(audioFrame(i))
	}
	waitFor(t, 2*time.Second, func() bool { return len(sink.Events()) == 1 })
	cancel()
	<-done

	ev := sink.Events()[0].(event.Emotion)
	if ev.Emotion != nil || ev.Confidence != 0 {
		t.Fatalf("event = %+v, want null emotion with zero confidence", ev)
	}
}

func TestEmotionProcessorSkipsEmptyWindows(t *testing.T) {
	buf := NewAudioBuffer(0)
	sink := &captureSink{}
	cls := &classifierStub{pred: emotion.Prediction{Label: "neutral", Score: 0.5}}
	p := newEmotionProcessor(buf, cls, sink, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	// No audio at all: a few silent windows must produce no events.
	time.Sleep(2500 * time.Millisecond)
	cancel()
	<-done

	if n := len(sink.Events()); n != 0 {
		t.Fatalf("got %d events for silence, want 0", n)
	}
}
