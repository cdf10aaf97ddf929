package phonetic

import (
	"errors"
	"fmt"

	"github.com/nypyp/metahuman-stream/pkg/provider/asr"
	"github.com/nypyp/metahuman-stream/pkg/provider/kws"
)

// Option is a functional option for [NewSpotter].
type Option func(*Spotter)

// WithThresholds overrides the matcher thresholds.
func WithThresholds(phonetic, fuzzy float64) Option {
	return func(s *Spotter) { s.matcher = NewMatcher(phonetic, fuzzy) }
}

// Spotter is a [kws.Spotter] layered over an [asr.Recognizer]. Closing the
// spotter closes the recognizer.
type Spotter struct {
	rec     asr.Recognizer
	phrases []string
	matcher *Matcher
}

var _ kws.Spotter = (*Spotter)(nil)

// NewSpotter returns a Spotter that listens for keywords in rec's transcript.
func NewSpotter(rec asr.Recognizer, keywords []kws.Keyword, opts ...Option) (*Spotter, error) {
	if rec == nil {
		return nil, errors.New("phonetic: recognizer must not be nil")
	}
	if len(keywords) == 0 {
		return nil, kws.ErrNoKeywords
	}
	s := &Spotter{
		rec:     rec,
		phrases: kws.Phrases(keywords),
		matcher: NewMatcher(0, 0),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// NewStream implements [kws.Spotter].
func (s *Spotter) NewStream() (kws.Stream, error) {
	inner, err := s.rec.NewStream()
	if err != nil {
		return nil, fmt.Errorf("phonetic: create recognizer stream: %w", err)
	}
	return &stream{inner: inner, phrases: s.phrases, matcher: s.matcher}, nil
}

// Close implements [kws.Spotter].
func (s *Spotter) Close() error { return s.rec.Close() }

type stream struct {
	inner   asr.Stream
	phrases []string
	matcher *Matcher
	keyword string
}

func (s *stream) AcceptWaveform(sampleRate int, samples []float32) {
	s.inner.AcceptWaveform(sampleRate, samples)
}

func (s *stream) IsReady() bool { return s.inner.IsReady() }

// Decode advances the inner recognizer and re-scans its transcript. An
// endpoint without a match discards the utterance so stale speech cannot
// combine with later audio.
func (s *stream) Decode() {
	s.inner.Decode()
	if s.keyword != "" {
		return
	}
	if kw, ok := s.matcher.Find(s.inner.Result(), s.phrases); ok {
		s.keyword = kw
		return
	}
	if s.inner.IsEndpoint() {
		s.inner.Reset()
	}
}

func (s *stream) Keyword() string { return s.keyword }

func (s *stream) Reset() {
	s.keyword = ""
	s.inner.Reset()
}

func (s *stream) Close() { s.inner.Close() }
