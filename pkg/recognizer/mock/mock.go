// Package mock provides test doubles for the recognizer package.
//
// Use Recognizer to verify how sessions are opened (including the preload
// chunks carried by each StreamConfig) and Session to feed controlled final
// results and inspect delivered audio.
package mock

import (
	"context"
	"sync"

	"github.com/GGroff15/vigia/pkg/recognizer"
)

// StartStreamCall records a single invocation of Recognizer.StartStream.
type StartStreamCall struct {
	// Cfg is the StreamConfig passed to StartStream, including Preload.
	Cfg recognizer.StreamConfig
	// Session is the session that the call returned.
	Session *Session
}

// Recognizer is a mock implementation of recognizer.Recognizer. Each
// StartStream call returns a fresh Session (or NextErr, if set).
type Recognizer struct {
	mu sync.Mutex

	// NextErr, if non-nil, is returned from the next StartStream call and
	// then cleared.
	NextErr error

	// OnStart, if non-nil, is invoked with each newly created session so
	// tests can script its finals.
	OnStart func(s *Session)

	// Calls records every StartStream invocation.
	Calls []StartStreamCall
}

// Compile-time assertion that Recognizer satisfies recognizer.Recognizer.
var _ recognizer.Recognizer = (*Recognizer)(nil)

// StartStream records the call and returns a fresh Session.
func (r *Recognizer) StartStream(_ context.Context, cfg recognizer.StreamConfig) (recognizer.Session, error) {
	r.mu.Lock()
	if err := r.NextErr; err != nil {
		r.NextErr = nil
		r.mu.Unlock()
		return nil, err
	}

	// Copy the preload so later buffer mutation cannot affect assertions.
	preload := make([][]byte, len(cfg.Preload))
	for i, c := range cfg.Preload {
		cp := make([]byte, len(c))
		copy(cp, c)
		preload[i] = cp
	}
	cfg.Preload = preload

	s := &Session{
		FinalsCh: make(chan recognizer.Result, 16),
	}
	r.Calls = append(r.Calls, StartStreamCall{Cfg: cfg, Session: s})
	onStart := r.OnStart
	r.mu.Unlock()

	if onStart != nil {
		onStart(s)
	}
	return s, nil
}

// SessionCount returns how many sessions were opened so far. Thread-safe.
func (r *Recognizer) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Calls)
}

// Call returns a copy of the i-th recorded StartStream call. Thread-safe.
func (r *Recognizer) Call(i int) StartStreamCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Calls[i]
}

// Session is a mock implementation of recognizer.Session. Tests push results
// into FinalsCh (and close it) to simulate the backend.
type Session struct {
	mu sync.Mutex

	// FinalsCh is returned by Finals.
	FinalsCh chan recognizer.Result

	// SendErr, if non-nil, is returned from SendAudio.
	SendErr error

	// Sent records a copy of every chunk passed to SendAudio.
	Sent [][]byte

	closed bool
}

// Compile-time assertion that Session satisfies recognizer.Session.
var _ recognizer.Session = (*Session)(nil)

// SendAudio records the chunk.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SendErr != nil {
		return s.SendErr
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.Sent = append(s.Sent, cp)
	return nil
}

// Finals returns the scripted finals channel.
func (s *Session) Finals() <-chan recognizer.Result { return s.FinalsCh }

// Close marks the session closed and closes the finals channel once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.FinalsCh)
	}
	return nil
}

// Closed reports whether Close was called. Thread-safe.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// SentChunks returns a copy of the recorded chunks. Thread-safe.
func (s *Session) SentChunks() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.Sent))
	copy(out, s.Sent)
	return out
}
