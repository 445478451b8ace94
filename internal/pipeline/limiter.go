package pipeline

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// WorkLimiter bounds the number of concurrently running blocking or
// CPU-bound analyzer calls (detector inference, WAV writing, emotion
// classification) across all sessions, mirroring a shared worker pool.
type WorkLimiter struct {
	sem *semaphore.Weighted
}

// NewWorkLimiter creates a limiter admitting up to n concurrent jobs. A
// non-positive n defaults to the number of CPUs.
func NewWorkLimiter(n int) *WorkLimiter {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	return &WorkLimiter{sem: semaphore.NewWeighted(int64(n))}
}

// Do runs fn while holding one slot, waiting for a free slot first. Returns
// the context error when cancelled while waiting, otherwise fn's error.
func (l *WorkLimiter) Do(ctx context.Context, fn func() error) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer l.sem.Release(1)
	return fn()
}
