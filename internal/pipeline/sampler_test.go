package pipeline

import (
	"math"
	"testing"
	"time"

	"pgregory.net/rapid"
)

func TestFrameSamplerAdmitsAtMostFPS(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		fps := float64(rapid.IntRange(1, 30).Draw(t, "fps"))
		frames := rapid.IntRange(1, 200).Draw(t, "frames")
		windowMs := rapid.IntRange(100, 3000).Draw(t, "windowMs")

		s := NewFrameSampler(fps)
		now := time.Unix(0, 0)
		s.now = func() time.Time { return now }

		step := time.Duration(windowMs) * time.Millisecond / time.Duration(frames)
		admitted := 0
		for i := 0; i < frames; i++ {
			if s.ShouldProcess() {
				admitted++
			}
			now = now.Add(step)
		}

		windowSec := float64(windowMs) / 1000
		bound := int(math.Ceil(windowSec*fps)) + 1
		if admitted > bound {
			t.Fatalf("admitted %d frames over %v at %v fps, bound %d",
				admitted, time.Duration(windowMs)*time.Millisecond, fps, bound)
		}
	})
}

func TestFrameSamplerFirstFrameAdmitted(t *testing.T) {
	s := NewFrameSampler(3)
	if !s.ShouldProcess() {
		t.Fatal("first frame must be admitted")
	}
	if s.ShouldProcess() {
		t.Fatal("immediate second frame must be rejected at 3 fps")
	}
}

func TestFrameSamplerUnlimited(t *testing.T) {
	s := NewFrameSampler(0)
	for i := 0; i < 5; i++ {
		if !s.ShouldProcess() {
			t.Fatal("non-positive fps must admit every frame")
		}
	}
}
