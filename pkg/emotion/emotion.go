// Package emotion defines the speech-emotion classification contract and the
// normalization of classifier output labels onto the canonical emotion set.
//
// A Classifier wraps a speech-emotion-recognition model (typically a
// wav2vec2-style sequence classifier served over HTTP) and predicts one
// emotion per audio window. Predictions are normalised with [Normalize] so
// downstream consumers only ever see canonical lowercase labels.
package emotion

import "context"

// Prediction is the raw output of a Classifier for one audio window.
type Prediction struct {
	// Label is the predicted emotion label in the model's native vocabulary
	// (a canonical name, a synonym, or a numeric class id).
	Label string

	// Score is the confidence of the top label in [0, 1].
	Score float64

	// Probabilities optionally carries the full label → probability
	// distribution. May be nil for models that only report the top label.
	Probabilities map[string]float64
}

// Classifier is the abstraction over any speech-emotion backend.
//
// Predict is blocking and potentially slow; the pipeline dispatches it off
// the ingest path. Implementations must be safe for concurrent use.
type Classifier interface {
	// Predict classifies the 16 kHz mono WAV file at wavPath. The caller
	// owns the file and removes it after the call returns, success or not.
	Predict(ctx context.Context, wavPath string) (Prediction, error)
}
