package pipeline

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/GGroff15/vigia/internal/emit"
	"github.com/GGroff15/vigia/internal/event"
	"github.com/GGroff15/vigia/internal/session"
	"github.com/GGroff15/vigia/pkg/recognizer"
	recmock "github.com/GGroff15/vigia/pkg/recognizer/mock"
)

func newTestRotator(rec recognizer.Recognizer, overlap *OverlapBuffer, maxDur time.Duration) *StreamRotator {
	return NewStreamRotator(StreamRotatorConfig{
		Recognizer:  rec,
		Overlap:     overlap,
		MaxDuration: maxDur,
		SampleRate:  16000,
		Language:    "pt-BR",
		Metrics:     testMetrics(),
	})
}

func chunkOf(b byte) []byte {
	return bytes.Repeat([]byte{b}, 640)
}

func TestRotatorOpensOnlyOnSpeech(t *testing.T) {
	rec := &recmock.Recognizer{}
	overlap := NewOverlapBuffer(50)
	r := newTestRotator(rec, overlap, time.Minute)
	defer r.Close()

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		r.Feed(ctx, chunkOf(0), false)
	}
	if rec.SessionCount() != 0 {
		t.Fatalf("opened %d streams on silence, want 0", rec.SessionCount())
	}
	if r.Active() {
		t.Fatal("rotator active without speech")
	}

	r.Feed(ctx, chunkOf(1), true)
	if rec.SessionCount() != 1 {
		t.Fatalf("opened %d streams after speech, want 1", rec.SessionCount())
	}
}

func TestRotatorPreloadsOverlapSnapshot(t *testing.T) {
	rec := &recmock.Recognizer{}
	overlap := NewOverlapBuffer(3)
	r := newTestRotator(rec, overlap, time.Minute)
	defer r.Close()

	ctx := context.Background()
	for i := byte(1); i <= 4; i++ {
		overlap.Push(chunkOf(i))
		r.Feed(ctx, chunkOf(i), i == 4)
	}

	call := rec.Call(0)
	if len(call.Cfg.Preload) != 3 {
		t.Fatalf("preload has %d chunks, want 3", len(call.Cfg.Preload))
	}
	// Ring capacity 3: the snapshot covers chunks 2, 3, 4.
	for i, want := range []byte{2, 3, 4} {
		if call.Cfg.Preload[i][0] != want {
			t.Errorf("preload[%d] starts with %d, want %d", i, call.Cfg.Preload[i][0], want)
		}
	}
	// The live chunk is also forwarded.
	sent := call.Session.SentChunks()
	if len(sent) != 1 || sent[0][0] != 4 {
		t.Fatalf("live chunks = %v, want just chunk 4", len(sent))
	}
}

func TestRotatorForwardsAllChunksWhileActive(t *testing.T) {
	rec := &recmock.Recognizer{}
	overlap := NewOverlapBuffer(50)
	r := newTestRotator(rec, overlap, time.Minute)
	defer r.Close()

	ctx := context.Background()
	r.Feed(ctx, chunkOf(1), true)
	r.Feed(ctx, chunkOf(2), false) // silence must still be forwarded
	r.Feed(ctx, chunkOf(3), false)

	sent := rec.Call(0).Session.SentChunks()
	if len(sent) != 3 {
		t.Fatalf("forwarded %d chunks, want 3 (continuous carrier)", len(sent))
	}
}

func TestRotatorRotatesAtMaxDuration(t *testing.T) {
	rec := &recmock.Recognizer{}
	overlap := NewOverlapBuffer(3)
	r := newTestRotator(rec, overlap, 30*time.Millisecond)
	defer r.Close()

	ctx := context.Background()
	overlap.Push(chunkOf(1))
	r.Feed(ctx, chunkOf(1), true)
	if rec.SessionCount() != 1 {
		t.Fatalf("want 1 stream, got %d", rec.SessionCount())
	}

	time.Sleep(50 * time.Millisecond)
	overlap.Push(chunkOf(2))
	r.Feed(ctx, chunkOf(2), false)

	if rec.SessionCount() != 2 {
		t.Fatalf("want rotation to second stream, got %d", rec.SessionCount())
	}
	if !rec.Call(0).Session.Closed() {
		t.Fatal("first stream must be closed on rotation")
	}

	// Boundary continuity: the new stream starts from the overlap snapshot
	// taken at rotation time, then receives the post-rotation live chunk.
	second := rec.Call(1)
	preload := second.Cfg.Preload
	if len(preload) != 2 || preload[0][0] != 1 || preload[1][0] != 2 {
		t.Fatalf("second stream preload mismatch: %d chunks", len(preload))
	}
	sent := second.Session.SentChunks()
	if len(sent) != 1 || sent[0][0] != 2 {
		t.Fatalf("second stream live chunks mismatch: %d", len(sent))
	}
}

func TestRotatorReopensAfterSendFailure(t *testing.T) {
	rec := &recmock.Recognizer{}
	overlap := NewOverlapBuffer(50)
	r := newTestRotator(rec, overlap, time.Minute)
	defer r.Close()

	ctx := context.Background()
	r.Feed(ctx, chunkOf(1), true)

	first := rec.Call(0).Session
	first.SendErr = context.DeadlineExceeded
	r.Feed(ctx, chunkOf(2), false)

	if r.Active() {
		t.Fatal("rotator must drop a failing stream")
	}

	// Silence does not reopen; the next speech chunk does.
	r.Feed(ctx, chunkOf(3), false)
	if rec.SessionCount() != 1 {
		t.Fatal("silence must not reopen the stream")
	}
	r.Feed(ctx, chunkOf(4), true)
	if rec.SessionCount() != 2 {
		t.Fatal("speech after failure must open a new stream")
	}
}

func TestSpeechToTextProcessorEmitsFinals(t *testing.T) {
	rec := &recmock.Recognizer{}
	sink := &captureSink{}
	buf := NewAudioBuffer(64)
	sess := session.New()

	p := NewSpeechToTextProcessor(SpeechToTextConfig{
		Buffer:      buf,
		Recognizer:  rec,
		VAD:         vadStub{speech: true},
		Emitter:     emit.New(sink, nil),
		Session:     sess,
		Metrics:     testMetrics(),
		SampleRate:  16000,
		FrameMs:     20,
		OverlapMs:   1000,
		Language:    "pt-BR",
		MaxDuration: time.Minute,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	// 100 ms of speechy audio in 20 ms frames.
	for i := 0; i < 5; i++ {
		f := audioFrame(i)
		for j := range f.Data {
			f.Data[j] = byte(100 + j%50)
		}
		buf.Put(f)
	}

	waitFor(t, time.Second, func() bool { return rec.SessionCount() == 1 })
	live := rec.Call(0).Session
	live.FinalsCh <- recognizer.Result{Text: "olá mundo", Confidence: 0.9}
	live.Close()

	waitFor(t, time.Second, func() bool { return len(sink.Events()) == 1 })
	tr, ok := sink.Events()[0].(event.Transcript)
	if !ok {
		t.Fatalf("got %T, want Transcript", sink.Events()[0])
	}
	if tr.Text != "olá mundo" || tr.Confidence != 0.9 {
		t.Fatalf("transcript = %+v", tr)
	}
	if _, err := time.Parse("2006-01-02T15:04:05.000Z07:00", tr.StartTime); err != nil {
		t.Errorf("StartTime %q is not ISO-8601 UTC: %v", tr.StartTime, err)
	}
	if tr.StartTime != tr.EndTime {
		t.Errorf("offset-less backend must use the emission instant for both bounds")
	}

	cancel()
	<-done
}

func TestEmitFinalWithOffsets(t *testing.T) {
	sink := &captureSink{}
	p := &SpeechToTextProcessor{
		emitter: emit.New(sink, nil),
		sess:    session.New(),
		metrics: testMetrics(),
	}

	streamStart := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	p.emitFinal(recognizer.Result{
		Text:       "bom dia",
		Confidence: 0.8,
		Start:      2 * time.Second,
		End:        3500 * time.Millisecond,
		HasOffsets: true,
	}, streamStart)

	tr := sink.Events()[0].(event.Transcript)
	if tr.StartTime != "2025-03-01T10:00:02.000Z" {
		t.Errorf("StartTime = %q", tr.StartTime)
	}
	if tr.EndTime != "2025-03-01T10:00:03.500Z" {
		t.Errorf("EndTime = %q", tr.EndTime)
	}
}
