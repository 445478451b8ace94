package pipeline

import (
	"sync"
	"time"
)

// FrameSampler rate-limits video frame admission to at most fps frames per
// second by enforcing a minimum interval between accepted frames. Safe for
// concurrent use.
type FrameSampler struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time

	now func() time.Time // injectable clock for tests
}

// NewFrameSampler creates a sampler admitting at most fps frames per second.
// A non-positive fps admits every frame.
func NewFrameSampler(fps float64) *FrameSampler {
	s := &FrameSampler{now: time.Now}
	if fps > 0 {
		s.interval = time.Duration(float64(time.Second) / fps)
	}
	return s
}

// ShouldProcess reports whether the current frame should be admitted. It
// returns true at most once per interval.
func (s *FrameSampler) ShouldProcess() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if !s.last.IsZero() && now.Sub(s.last) < s.interval {
		return false
	}
	s.last = now
	return true
}
