// Package session holds the per-connection analysis session state: identity,
// wall/monotonic clock anchors, the outbound data channel, and the counters
// that feed the end-of-stream summary. Processing itself lives in the
// pipeline package; Session is the shared state it hangs off.
package session

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/GGroff15/vigia/internal/event"
)

// DataChannel is the outbound client channel attached to a session. The
// transport owns the implementation; the pipeline only ever tests IsOpen and
// sends serialized JSON text.
type DataChannel interface {
	// IsOpen reports whether the channel can currently accept sends.
	IsOpen() bool

	// Send transmits one JSON-serialized event. Implementations must be safe
	// for concurrent use.
	Send(text string) error
}

// Session is the shared state of one analysis session. All methods are safe
// for concurrent use.
type Session struct {
	id string

	// startedWall anchors recognizer offsets and summary timestamps.
	// startedMono (captured by time.Now's monotonic reading) drives elapsed
	// time so wall clock adjustments cannot skew durations.
	startedWall time.Time
	startedMono time.Time

	mu      sync.Mutex
	channel DataChannel

	framesReceived  atomic.Uint64
	framesProcessed atomic.Uint64
	framesDropped   atomic.Uint64
	detections      atomic.Uint64

	// lastMediaNano is the monotonic-elapsed nanosecond mark of the most
	// recent media frame, for idle detection.
	lastMediaNano atomic.Int64
}

// New creates a Session with a fresh correlation id and clock anchors.
func New() *Session {
	now := time.Now()
	return &Session{
		id:          uuid.NewString(),
		startedWall: now.UTC(),
		startedMono: now,
	}
}

// ID returns the session's correlation id.
func (s *Session) ID() string { return s.id }

// StartedAt returns the wall clock instant the session was created (UTC).
func (s *Session) StartedAt() time.Time { return s.startedWall }

// Elapsed returns monotonic time since session creation.
func (s *Session) Elapsed() time.Duration { return time.Since(s.startedMono) }

// WallAt converts an offset from session start to an absolute wall clock
// instant (UTC). Used to anchor recognizer-reported audio offsets.
func (s *Session) WallAt(offset time.Duration) time.Time {
	return s.startedWall.Add(offset)
}

// ErrChannelAttached is returned by AttachChannel on a second attach.
var ErrChannelAttached = errors.New("session: data channel already attached")

// AttachChannel attaches the outbound channel. May be called at most once.
func (s *Session) AttachChannel(ch DataChannel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channel != nil {
		return ErrChannelAttached
	}
	s.channel = ch
	return nil
}

// Channel returns the attached channel, or nil when none is attached yet.
func (s *Session) Channel() DataChannel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel
}

// TouchMedia marks the arrival of a media frame for idle tracking.
func (s *Session) TouchMedia() {
	s.lastMediaNano.Store(int64(s.Elapsed()))
}

// IdleFor returns the time since the last media frame, or the session age
// when no frame has arrived yet.
func (s *Session) IdleFor() time.Duration {
	return s.Elapsed() - time.Duration(s.lastMediaNano.Load())
}

// AddFramesReceived increments the received-frame counter.
func (s *Session) AddFramesReceived(n uint64) { s.framesReceived.Add(n) }

// AddFramesProcessed increments the processed-frame counter.
func (s *Session) AddFramesProcessed(n uint64) { s.framesProcessed.Add(n) }

// AddFramesDropped increments the dropped-frame counter.
func (s *Session) AddFramesDropped(n uint64) { s.framesDropped.Add(n) }

// AddDetections increments the detection counter.
func (s *Session) AddDetections(n uint64) { s.detections.Add(n) }

// Summary snapshots the session counters for the stream_closed framing
// message. Counters keep accumulating after the snapshot; received is always
// at least processed + dropped at any observation point.
func (s *Session) Summary() event.SessionSummary {
	return event.SessionSummary{
		TotalFramesReceived:  s.framesReceived.Load(),
		TotalFramesProcessed: s.framesProcessed.Load(),
		TotalFramesDropped:   s.framesDropped.Load(),
		TotalDetections:      s.detections.Load(),
		DurationSec:          s.Elapsed().Seconds(),
	}
}
