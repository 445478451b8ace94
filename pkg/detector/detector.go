// Package detector defines the VideoDetector contract for object detection
// backends.
//
// A VideoDetector wraps an inference engine (hosted API or local model
// server) and returns raw detections for a single decoded video frame. The
// call is blocking and potentially slow; the pipeline dispatches it off the
// ingest path and bounds concurrency with a shared limiter.
//
// Implementations must be safe for concurrent use: the pipeline may run
// detections for several sessions at once.
package detector

import (
	"context"

	"github.com/GGroff15/vigia/pkg/media"
)

// Detection is a single raw object detection. Coordinates follow the
// detector's native convention (x/y is the box center for hosted inference
// APIs); the pipeline forwards them unchanged.
type Detection struct {
	// Label is the predicted class name (e.g., "person").
	Label string

	// Confidence is the prediction score in [0, 1].
	Confidence float64

	X      float64
	Y      float64
	Width  float64
	Height float64
}

// VideoDetector is the abstraction over any object detection backend.
type VideoDetector interface {
	// Detect runs inference on one frame and returns the raw detections.
	// An empty slice means the frame was analysed and nothing was found.
	// Errors are per-frame: the caller logs, counts, and continues.
	Detect(ctx context.Context, frame media.VideoFrame) ([]Detection, error)
}
