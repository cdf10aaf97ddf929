// Package mock provides scripted [asr.Recognizer] and [asr.Stream]
// implementations for unit tests.
//
// A [Stream] applies Script[i] after the decode steps that follow the
// (i+1)-th AcceptWaveform call, counted across resets. Frames past the end of
// the script leave the previous state in place.
package mock

import (
	"sync"

	"github.com/nypyp/metahuman-stream/pkg/provider/asr"
)

// Step is the recognizer state reported after one frame.
type Step struct {
	Text     string
	Endpoint bool
}

// Recognizer is a mock implementation of [asr.Recognizer].
type Recognizer struct {
	mu sync.Mutex

	// Stream is returned by NewStream. A fresh empty Stream is created when nil.
	Stream *Stream

	// NewStreamErr, if non-nil, is returned by NewStream.
	NewStreamErr error

	// CloseErr is returned by Close.
	CloseErr error

	NewStreamCalls int
	Closed         bool
}

var _ asr.Recognizer = (*Recognizer)(nil)

// NewStream implements [asr.Recognizer].
func (r *Recognizer) NewStream() (asr.Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.NewStreamCalls++
	if r.NewStreamErr != nil {
		return nil, r.NewStreamErr
	}
	if r.Stream == nil {
		r.Stream = &Stream{}
	}
	return r.Stream, nil
}

// Close implements [asr.Recognizer].
func (r *Recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Closed = true
	return r.CloseErr
}

// Stream is a mock implementation of [asr.Stream].
type Stream struct {
	mu sync.Mutex

	// Script is the per-frame state script.
	Script []Step

	// StepsPerFrame is the number of decode steps made ready by each
	// AcceptWaveform call. Zero means 1.
	StepsPerFrame int

	accepted int
	pending  int
	current  Step

	AcceptCalls int
	DecodeCalls int
	ResetCalls  int
	Closed      bool
}

var _ asr.Stream = (*Stream)(nil)

// AcceptWaveform implements [asr.Stream].
func (s *Stream) AcceptWaveform(_ int, _ []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AcceptCalls++
	s.accepted++
	s.pending += max(s.StepsPerFrame, 1)
}

// IsReady implements [asr.Stream].
func (s *Stream) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending > 0
}

// Decode implements [asr.Stream].
func (s *Stream) Decode() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DecodeCalls++
	if s.pending > 0 {
		s.pending--
	}
	if s.pending == 0 {
		if i := s.accepted - 1; i >= 0 && i < len(s.Script) {
			s.current = s.Script[i]
		}
	}
}

// Result implements [asr.Stream].
func (s *Stream) Result() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Text
}

// IsEndpoint implements [asr.Stream].
func (s *Stream) IsEndpoint() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Endpoint
}

// Reset implements [asr.Stream].
func (s *Stream) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCalls++
	s.current = Step{}
}

// Close implements [asr.Stream].
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
}

// Pending reports how many decode steps remain undrained.
func (s *Stream) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}
