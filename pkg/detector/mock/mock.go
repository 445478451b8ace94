// Package mock provides a test double for the detector package.
//
// Use Detector to return controlled detections and inspect which frames were
// submitted for inference.
package mock

import (
	"context"
	"sync"

	"github.com/GGroff15/vigia/pkg/detector"
	"github.com/GGroff15/vigia/pkg/media"
)

// Detector is a mock implementation of detector.VideoDetector.
type Detector struct {
	mu sync.Mutex

	// Detections is returned from every Detect call.
	Detections []detector.Detection

	// DetectErr, if non-nil, is returned as the error from Detect.
	DetectErr error

	// DetectFunc, if non-nil, overrides Detections/DetectErr entirely.
	DetectFunc func(ctx context.Context, frame media.VideoFrame) ([]detector.Detection, error)

	// Frames records the Index of every frame passed to Detect.
	Frames []uint64
}

// Compile-time assertion that Detector satisfies detector.VideoDetector.
var _ detector.VideoDetector = (*Detector)(nil)

// Detect records the frame and returns the configured result.
func (d *Detector) Detect(ctx context.Context, frame media.VideoFrame) ([]detector.Detection, error) {
	d.mu.Lock()
	d.Frames = append(d.Frames, frame.Index)
	fn := d.DetectFunc
	dets := make([]detector.Detection, len(d.Detections))
	copy(dets, d.Detections)
	err := d.DetectErr
	d.mu.Unlock()

	if fn != nil {
		return fn(ctx, frame)
	}
	return dets, err
}

// FrameCount returns how many frames were submitted so far. Thread-safe.
func (d *Detector) FrameCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Frames)
}

// SubmittedFrames returns a copy of the recorded frame indices. Thread-safe.
func (d *Detector) SubmittedFrames() []uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]uint64, len(d.Frames))
	copy(out, d.Frames)
	return out
}
