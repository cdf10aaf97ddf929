// Package mock provides scripted [kws.Spotter] and [kws.Stream] implementations
// for unit tests.
//
// A [Stream] reports Keywords[i] after the decode steps that follow the
// (i+1)-th AcceptWaveform call. Entries past the end of the script report no
// match.
package mock

import (
	"sync"

	"github.com/nypyp/metahuman-stream/pkg/provider/kws"
)

// Spotter is a mock implementation of [kws.Spotter].
type Spotter struct {
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

var _ kws.Spotter = (*Spotter)(nil)

// NewStream implements [kws.Spotter].
func (s *Spotter) NewStream() (kws.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.NewStreamCalls++
	if s.NewStreamErr != nil {
		return nil, s.NewStreamErr
	}
	if s.Stream == nil {
		s.Stream = &Stream{}
	}
	return s.Stream, nil
}

// Close implements [kws.Spotter].
func (s *Spotter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	return s.CloseErr
}

// Stream is a mock implementation of [kws.Stream].
type Stream struct {
	mu sync.Mutex

	// Keywords is the per-frame match script.
	Keywords []string

	// StepsPerFrame is the number of decode steps made ready by each
	// AcceptWaveform call. Zero means 1.
	StepsPerFrame int

	accepted int
	pending  int
	current  string

	AcceptCalls int
	DecodeCalls int
	ResetCalls  int
	Samples     int
	Closed      bool
}

var _ kws.Stream = (*Stream)(nil)

// AcceptWaveform implements [kws.Stream].
func (s *Stream) AcceptWaveform(_ int, samples []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AcceptCalls++
	s.accepted++
	s.Samples += len(samples)
	s.pending += max(s.StepsPerFrame, 1)
}

// IsReady implements [kws.Stream].
func (s *Stream) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending > 0
}

// Decode implements [kws.Stream].
func (s *Stream) Decode() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DecodeCalls++
	if s.pending > 0 {
		s.pending--
	}
	if s.pending == 0 {
		s.current = ""
		if i := s.accepted - 1; i >= 0 && i < len(s.Keywords) {
			s.current = s.Keywords[i]
		}
	}
}

// Keyword implements [kws.Stream].
func (s *Stream) Keyword() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Reset implements [kws.Stream].
func (s *Stream) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCalls++
	s.current = ""
}

// Close implements [kws.Stream].
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
