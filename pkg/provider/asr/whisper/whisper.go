// Package whisper implements [asr.Recognizer] with the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH.
//
// whisper.cpp is not a streaming decoder, so the stream buffers speech, re-runs
// inference on the whole utterance at a fixed interval to produce partial
// results, and applies the [asr.EndpointConfig] rules itself using an RMS
// energy gate. A final inference runs when an endpoint is reached.
package whisper

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/nypyp/metahuman-stream/pkg/audio"
	"github.com/nypyp/metahuman-stream/pkg/provider/asr"
)

const (
	modelSampleRate = 16000

	defaultLanguage       = "en"
	defaultRMSThreshold   = 0.01
	defaultDecodeInterval = time.Second
)

// Option is a functional option for [New].
type Option func(*Recognizer)

// WithLanguage sets the spoken language code (e.g. "en", "zh"). Default: "en".
func WithLanguage(lang string) Option {
	return func(r *Recognizer) {
		if lang != "" {
			r.language = lang
		}
	}
}

// WithEndpoint sets the endpoint rules. Zero fields take defaults.
func WithEndpoint(cfg asr.EndpointConfig) Option {
	return func(r *Recognizer) { r.endpoint = cfg.WithDefaults() }
}

// WithRMSThreshold sets the float32 RMS level below which audio counts as
// silence. Default: 0.01.
func WithRMSThreshold(v float64) Option {
	return func(r *Recognizer) {
		if v > 0 {
			r.rmsThreshold = v
		}
	}
}

// WithDecodeInterval sets how much new audio triggers a partial re-decode.
// Default: 1s.
func WithDecodeInterval(d time.Duration) Option {
	return func(r *Recognizer) {
		if d > 0 {
			r.decodeInterval = d
		}
	}
}

// inferFunc transcribes 16 kHz mono samples.
type inferFunc func(samples []float32) (string, error)

// Recognizer loads a whisper.cpp model once; each stream creates its own
// inference context per decode.
type Recognizer struct {
	model          whisperlib.Model
	language       string
	endpoint       asr.EndpointConfig
	rmsThreshold   float64
	decodeInterval time.Duration
}

var _ asr.Recognizer = (*Recognizer)(nil)

// New loads the model at modelPath.
func New(modelPath string, opts ...Option) (*Recognizer, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	r := &Recognizer{
		language:       defaultLanguage,
		endpoint:       asr.DefaultEndpointConfig(),
		rmsThreshold:   defaultRMSThreshold,
		decodeInterval: defaultDecodeInterval,
	}
	for _, o := range opts {
		o(r)
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	r.model = model
	return r, nil
}

// NewStream implements [asr.Recognizer].
func (r *Recognizer) NewStream() (asr.Stream, error) {
	return newStream(r.infer, r.endpoint, r.rmsThreshold, r.decodeInterval), nil
}

// Close releases the model.
func (r *Recognizer) Close() error {
	if r.model != nil {
		return r.model.Close()
	}
	return nil
}

func (r *Recognizer) infer(samples []float32) (string, error) {
	wctx, err := r.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(r.language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", r.language, "error", err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

// stream buffers one utterance of 16 kHz audio.
type stream struct {
	infer          inferFunc
	ep             *asr.Endpointer
	rmsThreshold   float64
	decodeInterval time.Duration

	buffer       []float32
	hadSpeech    bool
	sinceDecode  time.Duration
	pending      bool
	finalDecoded bool
	text         string
}

func newStream(infer inferFunc, cfg asr.EndpointConfig, rms float64, interval time.Duration) *stream {
	return &stream{
		infer:          infer,
		ep:             asr.NewEndpointer(cfg),
		rmsThreshold:   rms,
		decodeInterval: interval,
	}
}

func (s *stream) AcceptWaveform(sampleRate int, samples []float32) {
	if len(samples) == 0 || sampleRate <= 0 {
		return
	}
	pcm := audio.Resample(samples, sampleRate, modelSampleRate)
	d := time.Duration(len(samples)) * time.Second / time.Duration(sampleRate)
	voiced := audio.RMS(samples) >= s.rmsThreshold

	if voiced {
		s.hadSpeech = true
	}
	if s.hadSpeech {
		s.buffer = append(s.buffer, pcm...)
		s.sinceDecode += d
	}

	wasEndpoint := s.ep.Endpoint()
	endpoint := s.ep.Observe(d, voiced, s.text != "" || s.hadSpeech)
	switch {
	case endpoint && !wasEndpoint && s.hadSpeech && !s.finalDecoded:
		s.pending = true
	case s.hadSpeech && s.sinceDecode >= s.decodeInterval:
		s.pending = true
	}
}

func (s *stream) IsReady() bool { return s.pending }

func (s *stream) Decode() {
	if !s.pending {
		return
	}
	s.pending = false
	s.sinceDecode = 0
	if s.ep.Endpoint() {
		s.finalDecoded = true
	}
	if len(s.buffer) == 0 {
		return
	}
	text, err := s.infer(s.buffer)
	if err != nil {
		slog.Error("whisper inference failed", "error", err)
		return
	}
	s.text = text
}

func (s *stream) Result() string { return s.text }

// IsEndpoint holds back the endpoint until the final decode has run so the
// caller reads the complete transcript.
func (s *stream) IsEndpoint() bool {
	if !s.ep.Endpoint() {
		return false
	}
	return !s.hadSpeech || s.finalDecoded
}

func (s *stream) Reset() {
	s.buffer = nil
	s.hadSpeech = false
	s.sinceDecode = 0
	s.pending = false
	s.finalDecoded = false
	s.text = ""
	s.ep.Reset()
}

func (s *stream) Close() { s.buffer = nil }
