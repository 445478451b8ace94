// Package pipeline implements the per-session analysis pipeline: bounded
// media buffers, the video/STT/emotion processors, and the lifecycle glue
// that ties them to the transport. Buffers drop rather than block so the
// ingest path is never back-pressured by slow analyzers.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/GGroff15/vigia/pkg/media"
)

// ErrClosed is returned by buffer reads once the buffer has been closed.
var ErrClosed = errors.New("pipeline: buffer closed")

// defaultAudioCapacity is the bounded depth of each audio analyzer queue,
// in frames.
const defaultAudioCapacity = 1024

// VideoBuffer holds at most one pending video frame. A put against a full
// buffer discards the resident frame and keeps the newer one, so the
// consumer always sees the freshest frame. Single producer, single consumer.
type VideoBuffer struct {
	frames chan media.VideoFrame

	done chan struct{}
	once sync.Once

	mu sync.Mutex // serializes Put's evict-then-send
}

// NewVideoBuffer creates an empty VideoBuffer.
func NewVideoBuffer() *VideoBuffer {
	return &VideoBuffer{
		frames: make(chan media.VideoFrame, 1),
		done:   make(chan struct{}),
	}
}

// Put stores the frame, evicting the resident one if present. Never blocks.
// Returns the evicted frame, or nil. Put after Close drops the frame.
func (b *VideoBuffer) Put(f media.VideoFrame) *media.VideoFrame {
	select {
	case <-b.done:
		return &f
	default:
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var evicted *media.VideoFrame
	for {
		select {
		case b.frames <- f:
			return evicted
		default:
		}
		select {
		case old := <-b.frames:
			evicted = &old
		default:
		}
	}
}

// Get blocks until a frame is available, the context is cancelled, or the
// buffer is closed.
func (b *VideoBuffer) Get(ctx context.Context) (media.VideoFrame, error) {
	select {
	case f := <-b.frames:
		return f, nil
	case <-ctx.Done():
		return media.VideoFrame{}, ctx.Err()
	case <-b.done:
		return media.VideoFrame{}, ErrClosed
	}
}

// Empty reports whether no frame is resident.
func (b *VideoBuffer) Empty() bool { return len(b.frames) == 0 }

// Close wakes any blocked consumer with ErrClosed. Idempotent.
func (b *VideoBuffer) Close() { b.once.Do(func() { close(b.done) }) }

// AudioBuffer is a bounded FIFO of audio frames. On overflow the oldest
// frame is evicted (drop-head), keeping the most recent capacity frames.
// Single producer, single consumer.
type AudioBuffer struct {
	frames chan media.AudioFrame

	done chan struct{}
	once sync.Once

	mu         sync.Mutex // serializes Put's evict-then-send
	bufferedMu sync.Mutex
	buffered   time.Duration // total duration of queued audio
}

// NewAudioBuffer creates an AudioBuffer with the given frame capacity.
// A non-positive capacity selects the default of 1024 frames.
func NewAudioBuffer(capacity int) *AudioBuffer {
	if capacity <= 0 {
		capacity = defaultAudioCapacity
	}
	return &AudioBuffer{
		frames: make(chan media.AudioFrame, capacity),
		done:   make(chan struct{}),
	}
}

// Put appends the frame, evicting the oldest when full. Never blocks.
// Returns the evicted frame, or nil. Put after Close drops the frame.
func (b *AudioBuffer) Put(f media.AudioFrame) *media.AudioFrame {
	select {
	case <-b.done:
		return &f
	default:
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var evicted *media.AudioFrame
	for {
		select {
		case b.frames <- f:
			b.addBuffered(f.Duration())
			if evicted != nil {
				b.addBuffered(-evicted.Duration())
			}
			return evicted
		default:
		}
		select {
		case old := <-b.frames:
			// Keep at most one eviction per put; a second loop round
			// cannot happen because we just freed a slot.
			evicted = &old
		default:
		}
	}
}

// Get blocks until a frame is available, the context is cancelled, or the
// buffer is closed.
func (b *AudioBuffer) Get(ctx context.Context) (media.AudioFrame, error) {
	select {
	case f := <-b.frames:
		b.addBuffered(-f.Duration())
		return f, nil
	case <-ctx.Done():
		return media.AudioFrame{}, ctx.Err()
	case <-b.done:
		return media.AudioFrame{}, ErrClosed
	}
}

// GetMany collects frames until the accumulated audio duration reaches
// retrieveDuration or timeout elapses, whichever comes first. May return an
// empty slice on timeout. Returns an error only on cancellation or close.
func (b *AudioBuffer) GetMany(ctx context.Context, retrieveDuration, timeout time.Duration) ([]media.AudioFrame, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var (
		out   []media.AudioFrame
		total time.Duration
	)
	for total < retrieveDuration {
		select {
		case f := <-b.frames:
			b.addBuffered(-f.Duration())
			out = append(out, f)
			total += f.Duration()
		case <-timer.C:
			return out, nil
		case <-ctx.Done():
			return out, ctx.Err()
		case <-b.done:
			return out, ErrClosed
		}
	}
	return out, nil
}

// Buffered returns the total duration of audio currently queued.
func (b *AudioBuffer) Buffered() time.Duration {
	b.bufferedMu.Lock()
	defer b.bufferedMu.Unlock()
	return b.buffered
}

func (b *AudioBuffer) addBuffered(d time.Duration) {
	b.bufferedMu.Lock()
	b.buffered += d
	if b.buffered < 0 {
		b.buffered = 0
	}
	b.bufferedMu.Unlock()
}

// Close wakes any blocked consumer with ErrClosed. Idempotent.
func (b *AudioBuffer) Close() { b.once.Do(func() { close(b.done) }) }

// AudioFanOut delivers each incoming audio frame to both analyzer buffers.
// A drop in one downstream never short-circuits the other.
type AudioFanOut struct {
	stt     *AudioBuffer
	emotion *AudioBuffer
}

// NewAudioFanOut creates a fan-out over the two analyzer buffers.
func NewAudioFanOut(stt, emotion *AudioBuffer) *AudioFanOut {
	return &AudioFanOut{stt: stt, emotion: emotion}
}

// Put forwards the frame to both buffers and returns how many downstream
// evictions occurred (0..2).
func (f *AudioFanOut) Put(frame media.AudioFrame) int {
	dropped := 0
	if f.stt.Put(frame) != nil {
		dropped++
	}
	if f.emotion.Put(frame) != nil {
		dropped++
	}
	return dropped
}

// Close closes both downstream buffers.
func (f *AudioFanOut) Close() {
	f.stt.Close()
	f.emotion.Close()
}

// OverlapBuffer is a ring of the most recent PCM chunks, used to preload a
// freshly opened recognizer stream so words straddling a rotation or the
// speech onset are not lost.
type OverlapBuffer struct {
	mu     sync.Mutex
	chunks [][]byte
	cap    int
}

// NewOverlapBuffer creates a ring holding up to capacity chunks. A
// non-positive capacity yields a ring that retains nothing.
func NewOverlapBuffer(capacity int) *OverlapBuffer {
	return &OverlapBuffer{cap: capacity}
}

// Push appends a chunk, evicting the oldest when the ring is full.
func (o *OverlapBuffer) Push(chunk []byte) {
	if o.cap <= 0 {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.chunks) == o.cap {
		copy(o.chunks, o.chunks[1:])
		o.chunks[len(o.chunks)-1] = chunk
		return
	}
	o.chunks = append(o.chunks, chunk)
}

// Snapshot returns the retained chunks in arrival order.
func (o *OverlapBuffer) Snapshot() [][]byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([][]byte, len(o.chunks))
	copy(out, o.chunks)
	return out
}

// Len returns the number of retained chunks.
func (o *OverlapBuffer) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.chunks)
}
