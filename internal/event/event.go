// Package event defines the JSON event shapes published by the analysis
// pipeline. Every event carries an event_type discriminator; the remaining
// fields are event-specific. Events are serialized as single-line JSON
// objects, one per sink send.
package event

import (
	"encoding/json"
	"math"
	"time"
)

// Types of events, as carried in the event_type field.
const (
	TypeObject         = "object"
	TypeTranscript     = "transcript"
	TypeEmotion        = "emotion"
	TypeSessionStarted = "session_started"
	TypeStreamClosed   = "stream_closed"
)

// Event is anything the pipeline can emit.
type Event interface {
	// EventType returns the event_type discriminator value.
	EventType() string
}

// Detection is a single detected object in one video frame.
type Detection struct {
	EventType_ string  `json:"event_type"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	FrameIndex uint64  `json:"frameIndex"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
}

func (d Detection) EventType() string { return TypeObject }

// NewDetection builds a Detection event with the confidence rounded to two
// decimal places.
func NewDetection(label string, confidence float64, frameIndex uint64, x, y, w, h float64) Detection {
	return Detection{
		EventType_: TypeObject,
		Label:      label,
		Confidence: Round(confidence, 2),
		FrameIndex: frameIndex,
		X:          x,
		Y:          y,
		Width:      w,
		Height:     h,
	}
}

// Transcript is one final speech recognition result.
type Transcript struct {
	EventType_ string  `json:"event_type"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	StartTime  string  `json:"startTime"`
	EndTime    string  `json:"endTime"`
}

func (t Transcript) EventType() string { return TypeTranscript }

// NewTranscript builds a Transcript event. Start and end are absolute wall
// clock instants, formatted as ISO-8601 UTC.
func NewTranscript(text string, confidence float64, start, end time.Time) Transcript {
	return Transcript{
		EventType_: TypeTranscript,
		Text:       text,
		Confidence: Round(confidence, 3),
		StartTime:  FormatTimestamp(start),
		EndTime:    FormatTimestamp(end),
	}
}

// Emotion is one speech-emotion classification over an audio window. The
// emotion field is null when the classifier was unavailable or its output
// could not be mapped onto the canonical label set.
type Emotion struct {
	EventType_ string  `json:"event_type"`
	Emotion    *string `json:"emotion"`
	Confidence float64 `json:"confidence"`
	Timestamp  string  `json:"timestamp"`
}

func (e Emotion) EventType() string { return TypeEmotion }

// NewEmotion builds an Emotion event. An empty label maps to null with
// confidence forced to 0.
func NewEmotion(label string, confidence float64, at time.Time) Emotion {
	ev := Emotion{
		EventType_: TypeEmotion,
		Confidence: Round(confidence, 3),
		Timestamp:  FormatTimestamp(at),
	}
	if label != "" {
		ev.Emotion = &label
	} else {
		ev.Confidence = 0
	}
	return ev
}

// SessionConfig is the configuration snapshot announced in SessionStarted.
type SessionConfig struct {
	MaxResolution       string  `json:"max_resolution"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	IdleTimeoutSec      int     `json:"idle_timeout_sec"`
}

// SessionStarted is the framing message sent on the DataChannel once the
// channel is open and the session has finished initialising. It is never
// forwarded to the HTTP sink.
type SessionStarted struct {
	EventType_  string        `json:"event_type"`
	SessionID   string        `json:"session_id"`
	TimestampMs int64         `json:"timestamp_ms"`
	Config      SessionConfig `json:"config"`
}

func (s SessionStarted) EventType() string { return TypeSessionStarted }

// NewSessionStarted builds the session_started framing message.
func NewSessionStarted(sessionID string, at time.Time, cfg SessionConfig) SessionStarted {
	return SessionStarted{
		EventType_:  TypeSessionStarted,
		SessionID:   sessionID,
		TimestampMs: at.UnixMilli(),
		Config:      cfg,
	}
}

// SessionSummary aggregates per-session counters for StreamClosed.
type SessionSummary struct {
	TotalFramesReceived  uint64  `json:"total_frames_received"`
	TotalFramesProcessed uint64  `json:"total_frames_processed"`
	TotalFramesDropped   uint64  `json:"total_frames_dropped"`
	TotalDetections      uint64  `json:"total_detections"`
	DurationSec          float64 `json:"duration_sec"`
}

// StreamClosed is the framing message sent on the DataChannel when the media
// track ends. It is never forwarded to the HTTP sink.
type StreamClosed struct {
	EventType_ string         `json:"event_type"`
	SessionID  string         `json:"session_id"`
	Summary    SessionSummary `json:"summary"`
}

func (s StreamClosed) EventType() string { return TypeStreamClosed }

// NewStreamClosed builds the stream_closed framing message. The duration is
// rounded to two decimal places.
func NewStreamClosed(sessionID string, summary SessionSummary) StreamClosed {
	summary.DurationSec = Round(summary.DurationSec, 2)
	return StreamClosed{
		EventType_: TypeStreamClosed,
		SessionID:  sessionID,
		Summary:    summary,
	}
}

// Marshal serializes an event as a single-line JSON object.
func Marshal(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}

// Round rounds v to the given number of decimal places, half away from zero.
func Round(v float64, places int) float64 {
	pow := math.Pow(10, float64(places))
	return math.Round(v*pow) / pow
}

// FormatTimestamp renders a wall clock instant as ISO-8601 UTC with
// millisecond precision, e.g. "2025-03-01T14:05:09.123Z".
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
