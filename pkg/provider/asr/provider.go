// Package asr defines the streaming speech-recognition contract consumed by
// the capture loop. It mirrors the decode-step protocol of package kws and
// adds partial results and endpoint detection.
//
// Implementations live in sub-packages (sherpa, whisper, mock).
package asr

import (
	"errors"
	"time"
)

// Recognizer is a loaded streaming speech-recognition model.
type Recognizer interface {
	// NewStream creates an accumulator bound to this recognizer.
	NewStream() (Stream, error)

	// Close releases model resources. Streams must be closed first.
	Close() error
}

// Stream is a recognition accumulator. Streams are not safe for concurrent use.
type Stream interface {
	// AcceptWaveform appends mono float32 samples at sampleRate.
	AcceptWaveform(sampleRate int, samples []float32)

	// IsReady reports whether enough audio is buffered for a decode step.
	IsReady() bool

	// Decode runs one decode step.
	Decode()

	// Result returns the current partial transcript of the utterance.
	Result() string

	// IsEndpoint reports whether the endpoint rules consider the current
	// utterance finished.
	IsEndpoint() bool

	// Reset clears decoder state so the next utterance starts fresh.
	Reset()

	// Close releases the stream.
	Close()
}

// EndpointConfig holds the utterance-boundary rules applied by a recognizer.
// They are fixed at construction.
//
//   - Rule 1 fires after Rule1MinTrailingSilence of silence even if nothing
//     was decoded.
//   - Rule 2 fires after Rule2MinTrailingSilence of silence following
//     non-empty decoded text.
//   - Rule 3 fires once the utterance is longer than Rule3MinUtteranceLength.
type EndpointConfig struct {
	Rule1MinTrailingSilence time.Duration `yaml:"rule1_min_trailing_silence"`
	Rule2MinTrailingSilence time.Duration `yaml:"rule2_min_trailing_silence"`
	Rule3MinUtteranceLength time.Duration `yaml:"rule3_min_utterance_length"`
}

// DefaultEndpointConfig returns 2.4s / 1.2s / 300s. The 300s utterance limit
// effectively disables rule 3.
func DefaultEndpointConfig() EndpointConfig {
	return EndpointConfig{
		Rule1MinTrailingSilence: 2400 * time.Millisecond,
		Rule2MinTrailingSilence: 1200 * time.Millisecond,
		Rule3MinUtteranceLength: 300 * time.Second,
	}
}

// WithDefaults returns c with zero fields replaced by [DefaultEndpointConfig].
func (c EndpointConfig) WithDefaults() EndpointConfig {
	d := DefaultEndpointConfig()
	if c.Rule1MinTrailingSilence <= 0 {
		c.Rule1MinTrailingSilence = d.Rule1MinTrailingSilence
	}
	if c.Rule2MinTrailingSilence <= 0 {
		c.Rule2MinTrailingSilence = d.Rule2MinTrailingSilence
	}
	if c.Rule3MinUtteranceLength <= 0 {
		c.Rule3MinUtteranceLength = d.Rule3MinUtteranceLength
	}
	return c
}

// Validate rejects negative durations.
func (c EndpointConfig) Validate() error {
	var errs []error
	if c.Rule1MinTrailingSilence < 0 {
		errs = append(errs, errors.New("rule1_min_trailing_silence must not be negative"))
	}
	if c.Rule2MinTrailingSilence < 0 {
		errs = append(errs, errors.New("rule2_min_trailing_silence must not be negative"))
	}
	if c.Rule3MinUtteranceLength < 0 {
		errs = append(errs, errors.New("rule3_min_utterance_length must not be negative"))
	}
	return errors.Join(errs...)
}

// Endpointer applies [EndpointConfig] to a running utterance. It is used by
// recognizers that lack built-in endpointing.
type Endpointer struct {
	cfg      EndpointConfig
	elapsed  time.Duration
	silence  time.Duration
	decoded  bool
	endpoint bool
}

// NewEndpointer returns an Endpointer for cfg with zero fields defaulted.
func NewEndpointer(cfg EndpointConfig) *Endpointer {
	return &Endpointer{cfg: cfg.WithDefaults()}
}

// Observe advances the utterance clock by d. voiced reports whether the audio
// contained speech; hasText reports whether the decoder has produced text.
// Returns whether an endpoint has been reached.
//
// An endpoint reached on silence alone is withdrawn when speech starts, and
// the utterance clock restarts with that speech.
func (e *Endpointer) Observe(d time.Duration, voiced, hasText bool) bool {
	if voiced && e.endpoint && !e.decoded {
		e.endpoint = false
		e.elapsed = 0
	}
	e.elapsed += d
	if voiced {
		e.silence = 0
	} else {
		e.silence += d
	}
	e.decoded = e.decoded || hasText

	switch {
	case !e.decoded && e.silence >= e.cfg.Rule1MinTrailingSilence:
		e.endpoint = true
	case e.decoded && e.silence >= e.cfg.Rule2MinTrailingSilence:
		e.endpoint = true
	case e.elapsed >= e.cfg.Rule3MinUtteranceLength:
		e.endpoint = true
	}
	return e.endpoint
}

// Endpoint reports whether an endpoint has been reached since the last Reset.
func (e *Endpointer) Endpoint() bool { return e.endpoint }

// Reset starts a new utterance.
func (e *Endpointer) Reset() {
	e.elapsed = 0
	e.silence = 0
	e.decoded = false
	e.endpoint = false
}
