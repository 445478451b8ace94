package emotion

import (
	"log/slog"
	"strings"
)

// CanonicalLabels is the closed set of emotion labels emitted by the
// pipeline. Classifier output is mapped onto this set; anything that cannot
// be mapped yields an empty label.
var CanonicalLabels = []string{
	"neutral",
	"calm",
	"happy",
	"sad",
	"angry",
	"fearful",
	"disgusted",
	"surprised",
}

// idLabels maps numeric class ids to canonical labels, matching the id order
// of the wav2vec2 speech-emotion checkpoints this service is deployed with.
var idLabels = map[string]string{
	"0": "neutral",
	"1": "calm",
	"2": "happy",
	"3": "sad",
	"4": "angry",
	"5": "fearful",
	"6": "disgusted",
	"7": "surprised",
}

// synonyms maps common alternative spellings to canonical labels.
var synonyms = map[string]string{
	"disgust":   "disgusted",
	"fear":      "fearful",
	"surprise":  "surprised",
	"happiness": "happy",
	"sadness":   "sad",
	"anger":     "angry",
}

// CanonicalLabel maps a raw label (canonical name, synonym, or numeric class
// id, any case) to its canonical lowercase form. Returns "" when the label is
// empty or unrecognised.
func CanonicalLabel(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}
	if l, ok := idLabels[s]; ok {
		return l
	}
	for _, l := range CanonicalLabels {
		if s == l {
			return l
		}
	}
	if l, ok := synonyms[s]; ok {
		return l
	}
	slog.Info("emotion: unrecognised label", "label", raw)
	return ""
}

// Normalize maps a raw Prediction onto the canonical label set. The returned
// probabilities map contains every canonical label (missing ones at 0). When
// the top label cannot be mapped, the highest-probability canonical label is
// used instead; if none has probability > 0 the label stays empty.
func Normalize(p Prediction) Prediction {
	probs := make(map[string]float64, len(CanonicalLabels))
	for _, l := range CanonicalLabels {
		probs[l] = 0
	}
	for k, v := range p.Probabilities {
		if l := CanonicalLabel(k); l != "" {
			probs[l] = v
		}
	}

	label := CanonicalLabel(p.Label)
	if label == "" {
		best, bestScore := "", 0.0
		for _, l := range CanonicalLabels {
			if probs[l] > bestScore {
				best, bestScore = l, probs[l]
			}
		}
		label = best
	}

	score := p.Score
	if label != "" && probs[label] > 0 {
		score = probs[label]
	}
	if label == "" {
		score = 0
	}

	return Prediction{Label: label, Score: score, Probabilities: probs}
}
