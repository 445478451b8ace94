package session

import (
	"sync"
	"testing"
	"time"
)

type stubChannel struct{ open bool }

func (s *stubChannel) IsOpen() bool      { return s.open }
func (s *stubChannel) Send(string) error { return nil }

func TestNewSessionIdentity(t *testing.T) {
	a, b := New(), New()
	if a.ID() == "" || a.ID() == b.ID() {
		t.Fatalf("ids must be unique and non-empty: %q %q", a.ID(), b.ID())
	}
	if loc := a.StartedAt().Location(); loc != time.UTC {
		t.Errorf("StartedAt location = %v, want UTC", loc)
	}
}

func TestAttachChannelOnce(t *testing.T) {
	s := New()
	if s.Channel() != nil {
		t.Fatal("fresh session must have no channel")
	}

	ch := &stubChannel{open: true}
	if err := s.AttachChannel(ch); err != nil {
		t.Fatalf("first attach: %v", err)
	}
	if s.Channel() != DataChannel(ch) {
		t.Fatal("attached channel not returned")
	}
	if err := s.AttachChannel(&stubChannel{}); err != ErrChannelAttached {
		t.Fatalf("second attach = %v, want ErrChannelAttached", err)
	}
}

func TestWallAt(t *testing.T) {
	s := New()
	got := s.WallAt(90 * time.Second)
	if want := s.StartedAt().Add(90 * time.Second); !got.Equal(want) {
		t.Fatalf("WallAt = %v, want %v", got, want)
	}
}

func TestIdleFor(t *testing.T) {
	s := New()
	time.Sleep(20 * time.Millisecond)
	if s.IdleFor() < 15*time.Millisecond {
		t.Fatal("session with no media must be idle since creation")
	}

	s.TouchMedia()
	if s.IdleFor() > 10*time.Millisecond {
		t.Fatalf("IdleFor right after TouchMedia = %v", s.IdleFor())
	}
}

func TestSummaryCounters(t *testing.T) {
	s := New()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.AddFramesReceived(1)
				if j%2 == 0 {
					s.AddFramesProcessed(1)
				} else {
					s.AddFramesDropped(1)
				}
			}
		}()
	}
	wg.Wait()
	s.AddDetections(3)

	sum := s.Summary()
	if sum.TotalFramesReceived != 800 {
		t.Errorf("received = %d, want 800", sum.TotalFramesReceived)
	}
	if sum.TotalFramesProcessed+sum.TotalFramesDropped != 800 {
		t.Errorf("processed %d + dropped %d != 800", sum.TotalFramesProcessed, sum.TotalFramesDropped)
	}
	if sum.TotalDetections != 3 {
		t.Errorf("detections = %d", sum.TotalDetections)
	}
	if sum.DurationSec <= 0 {
		t.Errorf("duration = %v", sum.DurationSec)
	}
}

func TestRegistryAddGetRemove(t *testing.T) {
	r := NewRegistry()
	s := New()

	r.Add(s, nil)
	if r.Len() != 1 || r.Get(s.ID()) != s {
		t.Fatal("session not registered")
	}
	if !r.Remove(s.ID()) {
		t.Fatal("Remove must report an existing entry")
	}
	if r.Remove(s.ID()) {
		t.Fatal("second Remove must report absence")
	}
	if r.Get(s.ID()) != nil {
		t.Fatal("removed session still resolvable")
	}
}

func TestRegistryDuplicateClosesResident(t *testing.T) {
	r := NewRegistry()
	s := New()

	closed := 0
	r.Add(s, func() { closed++ })
	r.Add(s, func() {})

	if closed != 1 {
		t.Fatalf("resident close ran %d times, want 1", closed)
	}
	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1", r.Len())
	}
}

func TestRegistryShutdown(t *testing.T) {
	r := NewRegistry()

	var mu sync.Mutex
	closed := 0
	for i := 0; i < 3; i++ {
		r.Add(New(), func() {
			mu.Lock()
			closed++
			mu.Unlock()
		})
	}

	r.Shutdown()
	if closed != 3 {
		t.Fatalf("closed %d sessions, want 3", closed)
	}
	if r.Len() != 0 {
		t.Fatalf("Len after shutdown = %d, want 0", r.Len())
	}
}
