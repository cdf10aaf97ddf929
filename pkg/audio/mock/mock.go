// Package mock provides an in-memory [audio.Source] for unit tests.
//
// The mock is safe for concurrent use. It plays back a scripted list of frames
// and records every call so tests can assert on read counts.
//
// Typical usage:
//
//	src := mock.NewSource(48000, 4800, 10)
//	frame, err := src.ReadFrame(ctx)
package mock

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/nypyp/metahuman-stream/pkg/audio"
)

// Source is a mock implementation of [audio.Source].
// Set the exported fields before use; inspect the counters after.
type Source struct {
	mu sync.Mutex

	// Frames are returned in order, one per ReadFrame call.
	Frames []audio.Frame

	// Err is returned once Frames is exhausted. Defaults to io.EOF.
	Err error

	// Rate is returned by SampleRate.
	Rate int

	// CloseErr is returned by Close.
	CloseErr error

	// ReadCalls counts ReadFrame invocations.
	ReadCalls int

	// Closed reports whether Close has been called.
	Closed bool
}

var _ audio.Source = (*Source)(nil)

// NewSource returns a Source that yields n silent frames of size samples at rate.
func NewSource(rate, size, n int) *Source {
	frames := make([]audio.Frame, n)
	step := time.Duration(size) * time.Second / time.Duration(rate)
	for i := range frames {
		frames[i] = audio.Frame{
			Samples:    make([]float32, size),
			SampleRate: rate,
			Timestamp:  time.Duration(i) * step,
		}
	}
	return &Source{Frames: frames, Rate: rate}
}

// ReadFrame implements [audio.Source].
func (s *Source) ReadFrame(ctx context.Context) (audio.Frame, error) {
	if err := ctx.Err(); err != nil {
		return audio.Frame{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.ReadCalls
	s.ReadCalls++
	if idx < len(s.Frames) {
		return s.Frames[idx], nil
	}
	if s.Err != nil {
		return audio.Frame{}, s.Err
	}
	return audio.Frame{}, io.EOF
}

// SampleRate implements [audio.Source].
func (s *Source) SampleRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Rate
}

// Close implements [audio.Source].
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	return s.CloseErr
}

// Reads returns the number of ReadFrame calls made so far.
func (s *Source) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ReadCalls
}
