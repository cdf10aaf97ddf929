// Package capture implements the keyword-gated utterance capture loop.
//
// The [Machine] alternates between two states. While [AwaitingKeyword] every
// frame goes to the keyword spotter; a match switches to [Transcribing], where
// frames go to the speech recognizer until it reports an endpoint. A non-empty
// transcript is then published with the current segment id, and the machine
// returns to [AwaitingKeyword].
//
// Both streams are reset at their own transition: the keyword stream when it
// fires, so the audio that matched cannot match again on the next wait, and
// the recognition stream at every endpoint.
//
// Reading a frame from the audio source is the loop's only blocking point
// apart from publishing, which waits while the previous transcript is still
// unconsumed.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/nypyp/metahuman-stream/internal/observe"
	"github.com/nypyp/metahuman-stream/internal/transcript"
	"github.com/nypyp/metahuman-stream/pkg/audio"
	"github.com/nypyp/metahuman-stream/pkg/provider/asr"
	"github.com/nypyp/metahuman-stream/pkg/provider/kws"
)

// State is the capture state.
type State int

const (
	// AwaitingKeyword feeds frames to the keyword spotter.
	AwaitingKeyword State = iota

	// Transcribing feeds frames to the speech recognizer.
	Transcribing
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case AwaitingKeyword:
		return "AWAITING_KEYWORD"
	case Transcribing:
		return "TRANSCRIBING"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Publisher receives finalized transcripts. [transcript.Slot] implements it.
type Publisher interface {
	Put(ctx context.Context, r transcript.Result) error
}

// Option is a functional option for [New].
type Option func(*Machine)

// WithReporter sets the progress reporter. Default: [NopReporter].
func WithReporter(r Reporter) Option {
	return func(m *Machine) {
		if r != nil {
			m.reporter = r
		}
	}
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(met *observe.Metrics) Option {
	return func(m *Machine) {
		if met != nil {
			m.metrics = met
		}
	}
}

// WithRunID stamps every published result with id.
func WithRunID(id string) Option {
	return func(m *Machine) { m.runID = id }
}

// Machine is the capture state machine. It owns its streams exclusively and
// is driven from a single goroutine.
type Machine struct {
	src      audio.Source
	kws      kws.Stream
	asr      asr.Stream
	pub      Publisher
	reporter Reporter
	metrics  *observe.Metrics
	runID    string

	state       State
	segmentID   int
	lastPartial string
	utterance   time.Duration
}

// New creates a Machine in [AwaitingKeyword] with segment id 0.
func New(src audio.Source, spotter kws.Stream, recognizer asr.Stream, pub Publisher, opts ...Option) *Machine {
	m := &Machine{
		src:      src,
		kws:      spotter,
		asr:      recognizer,
		pub:      pub,
		reporter: NopReporter{},
		metrics:  observe.DefaultMetrics(),
		state:    AwaitingKeyword,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// SegmentID returns the id the next published transcript will carry.
func (m *Machine) SegmentID() int { return m.segmentID }

// Run drives the machine until ctx is done, the source is exhausted, or the
// source fails. An exhausted source (io.EOF) ends the run without error; a
// source failure is returned and is fatal.
func (m *Machine) Run(ctx context.Context) error {
	slog.Info("capture started", "state", m.state, "sample_rate", m.src.SampleRate())
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.Step(ctx); err != nil {
			if errors.Is(err, io.EOF) {
				slog.Info("audio source exhausted", "segments", m.segmentID)
				return nil
			}
			return err
		}
	}
}

// Step reads exactly one frame and processes it in the current state.
func (m *Machine) Step(ctx context.Context) error {
	frame, err := m.src.ReadFrame(ctx)
	if err != nil {
		return fmt.Errorf("capture: read frame: %w", err)
	}
	switch m.state {
	case AwaitingKeyword:
		m.awaitKeyword(ctx, frame)
		return nil
	case Transcribing:
		return m.transcribe(ctx, frame)
	}
	return fmt.Errorf("capture: invalid state %v", m.state)
}

func (m *Machine) awaitKeyword(ctx context.Context, frame audio.Frame) {
	m.kws.AcceptWaveform(frame.SampleRate, frame.Samples)
	for m.kws.IsReady() {
		m.kws.Decode()
	}
	kw := m.kws.Keyword()
	if kw == "" {
		return
	}

	m.kws.Reset()
	m.state = Transcribing
	m.utterance = 0
	m.metrics.RecordKeyword(ctx, kw)
	m.reporter.Keyword(kw)
	slog.Debug("keyword detected", "keyword", kw, "at", frame.Timestamp, "segment_id", m.segmentID)
}

func (m *Machine) transcribe(ctx context.Context, frame audio.Frame) error {
	m.asr.AcceptWaveform(frame.SampleRate, frame.Samples)
	for m.asr.IsReady() {
		m.asr.Decode()
	}
	m.utterance += frame.Duration()

	endpoint := m.asr.IsEndpoint()
	text := m.asr.Result()
	if text != "" && text != m.lastPartial {
		m.lastPartial = text
		m.reporter.Partial(m.segmentID, text)
	}
	if !endpoint {
		return nil
	}

	var err error
	if text != "" {
		err = m.publish(ctx, text)
	} else {
		m.metrics.RecordUtterance(ctx, "empty", m.utterance.Seconds())
		slog.Debug("endpoint with empty transcript", "segment_id", m.segmentID)
	}
	m.asr.Reset()
	m.lastPartial = ""
	m.state = AwaitingKeyword
	return err
}

func (m *Machine) publish(ctx context.Context, text string) error {
	r := transcript.Result{
		RunID:       m.runID,
		SegmentID:   m.segmentID,
		Text:        text,
		PublishedAt: time.Now(),
	}
	m.reporter.Final(r.SegmentID, text)

	start := time.Now()
	if err := m.pub.Put(ctx, r); err != nil {
		return fmt.Errorf("capture: publish segment %d: %w", r.SegmentID, err)
	}
	m.metrics.HandoffWait.Record(ctx, time.Since(start).Seconds())
	m.metrics.RecordUtterance(ctx, "published", m.utterance.Seconds())
	slog.Info("transcript published", "segment_id", r.SegmentID, "chars", len(text))
	m.segmentID++
	return nil
}
