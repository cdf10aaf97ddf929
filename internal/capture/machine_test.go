package capture_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/nypyp/metahuman-stream/internal/capture"
	"github.com/nypyp/metahuman-stream/internal/observe"
	"github.com/nypyp/metahuman-stream/internal/transcript"
	audiomock "github.com/nypyp/metahuman-stream/pkg/audio/mock"
	asrmock "github.com/nypyp/metahuman-stream/pkg/provider/asr/mock"
	kwsmock "github.com/nypyp/metahuman-stream/pkg/provider/kws/mock"
)

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// recordingReporter captures progress callbacks.
type recordingReporter struct {
	mu       sync.Mutex
	keywords []string
	partials []string
	finals   []string
}

func (r *recordingReporter) Keyword(kw string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keywords = append(r.keywords, kw)
}

func (r *recordingReporter) Partial(_ int, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.partials = append(r.partials, text)
}

func (r *recordingReporter) Final(_ int, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finals = append(r.finals, text)
}

type fixture struct {
	src  *audiomock.Source
	kws  *kwsmock.Stream
	asr  *asrmock.Stream
	slot *transcript.Slot
	rep  *recordingReporter
	m    *capture.Machine
}

func newFixture(t *testing.T, frames int, keywords []string, script []asrmock.Step) *fixture {
	t.Helper()
	f := &fixture{
		src:  audiomock.NewSource(48000, 4800, frames),
		kws:  &kwsmock.Stream{Keywords: keywords},
		asr:  &asrmock.Stream{Script: script},
		slot: transcript.NewSlot(),
		rep:  &recordingReporter{},
	}
	f.m = capture.New(f.src, f.kws, f.asr, f.slot,
		capture.WithReporter(f.rep),
		capture.WithMetrics(testMetrics(t)),
		capture.WithRunID("run-1"),
	)
	return f
}

func TestMachine_InitialState(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 0, nil, nil)
	if f.m.State() != capture.AwaitingKeyword {
		t.Errorf("initial state = %v, want AWAITING_KEYWORD", f.m.State())
	}
	if f.m.SegmentID() != 0 {
		t.Errorf("initial segment id = %d, want 0", f.m.SegmentID())
	}
}

func TestMachine_TransitionsOnlyOnKeyword(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		keywords  []string
		frames    int
		wantFrame int // 1-based frame after which the state flips; 0 = never
	}{
		{"no match", []string{"", "", "", "", ""}, 5, 0},
		{"empty script", nil, 5, 0},
		{"match on first frame", []string{"hey"}, 3, 1},
		{"match on frame 3", []string{"", "", "hey", ""}, 5, 3},
		{"match on last frame", []string{"", "", "", "", "hey"}, 5, 5},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, tc.frames, tc.keywords, nil)
			ctx := context.Background()
			for i := 1; i <= tc.frames; i++ {
				if err := f.m.Step(ctx); err != nil {
					t.Fatalf("Step %d: %v", i, err)
				}
				want := capture.AwaitingKeyword
				if tc.wantFrame != 0 && i >= tc.wantFrame {
					want = capture.Transcribing
				}
				if got := f.m.State(); got != want {
					t.Fatalf("after frame %d: state %v, want %v", i, got, want)
				}
			}
		})
	}
}

func TestMachine_DrainsAllDecodeSteps(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 2, []string{"hey"}, []asrmock.Step{{Text: "hi"}})
	f.kws.StepsPerFrame = 3
	f.asr.StepsPerFrame = 4
	ctx := context.Background()

	if err := f.m.Step(ctx); err != nil {
		t.Fatal(err)
	}
	if f.kws.Pending() != 0 || f.kws.DecodeCalls != 3 {
		t.Errorf("keyword stream: pending=%d decodes=%d, want 0 and 3", f.kws.Pending(), f.kws.DecodeCalls)
	}
	if err := f.m.Step(ctx); err != nil {
		t.Fatal(err)
	}
	if f.asr.Pending() != 0 || f.asr.DecodeCalls != 4 {
		t.Errorf("recognizer stream: pending=%d decodes=%d, want 0 and 4", f.asr.Pending(), f.asr.DecodeCalls)
	}
}

// Keyword after frame 3, growing partials on frames 5-9, endpoint with the
// final transcript on frame 10.
func TestMachine_EndToEndScenario(t *testing.T) {
	t.Parallel()
	// The recognizer sees frames 4..10 as its frames 1..7.
	script := []asrmock.Step{
		{Text: ""},                            // frame 4
		{Text: "hello"},                       // frame 5
		{Text: "hello"},                       // frame 6
		{Text: "hello world"},                 // frame 7
		{Text: "hello world"},                 // frame 8
		{Text: "hello world"},                 // frame 9
		{Text: "hello world", Endpoint: true}, // frame 10
	}
	f := newFixture(t, 10, []string{"", "", "xiao ai"}, script)
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		if err := f.m.Step(ctx); err != nil {
			t.Fatalf("Step %d: %v", i, err)
		}
		switch {
		case i < 3:
			if f.m.State() != capture.AwaitingKeyword {
				t.Fatalf("frame %d: state %v, want AWAITING_KEYWORD", i, f.m.State())
			}
		case i < 10:
			if f.m.State() != capture.Transcribing {
				t.Fatalf("frame %d: state %v, want TRANSCRIBING", i, f.m.State())
			}
			if f.slot.Ready() {
				t.Fatalf("frame %d: published before endpoint", i)
			}
		default:
			if f.m.State() != capture.AwaitingKeyword {
				t.Fatalf("frame 10: state %v, want AWAITING_KEYWORD", f.m.State())
			}
		}
	}

	if !f.slot.Ready() {
		t.Fatal("expected a published transcript")
	}
	r, err := f.slot.Take(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if r.SegmentID != 0 || r.Text != "hello world" || r.RunID != "run-1" {
		t.Errorf("published %+v, want segment 0 %q", r, "hello world")
	}
	if r.PublishedAt.IsZero() {
		t.Error("PublishedAt should be set")
	}
	if f.m.SegmentID() != 1 {
		t.Errorf("next segment id = %d, want 1", f.m.SegmentID())
	}
	if f.asr.ResetCalls != 1 {
		t.Errorf("recognizer resets = %d, want 1", f.asr.ResetCalls)
	}
	if f.kws.ResetCalls != 1 {
		t.Errorf("keyword stream resets = %d, want 1", f.kws.ResetCalls)
	}
	if f.kws.AcceptCalls != 3 || f.asr.AcceptCalls != 7 {
		t.Errorf("frames routed: kws=%d asr=%d, want 3 and 7", f.kws.AcceptCalls, f.asr.AcceptCalls)
	}
	if got := strings.Join(f.rep.partials, "|"); got != "hello|hello world" {
		t.Errorf("partials = %q, want deduplicated hello|hello world", got)
	}
	if len(f.rep.keywords) != 1 || f.rep.keywords[0] != "xiao ai" {
		t.Errorf("keywords reported = %v", f.rep.keywords)
	}
}

func TestMachine_EmptyEndpointNeverPublishes(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 3, []string{"hey"}, []asrmock.Step{
		{Text: ""},
		{Text: "", Endpoint: true},
	})
	ctx := context.Background()
	for i := range 3 {
		if err := f.m.Step(ctx); err != nil {
			t.Fatalf("Step %d: %v", i+1, err)
		}
	}
	if f.slot.Ready() {
		t.Fatal("empty transcript must not be published")
	}
	if f.m.State() != capture.AwaitingKeyword {
		t.Errorf("state = %v, want AWAITING_KEYWORD after empty endpoint", f.m.State())
	}
	if f.m.SegmentID() != 0 {
		t.Errorf("segment id = %d, want 0 (not consumed by empty utterance)", f.m.SegmentID())
	}
	if f.asr.ResetCalls != 1 {
		t.Errorf("recognizer resets = %d, want 1", f.asr.ResetCalls)
	}
}

func TestMachine_SegmentIDsIncreaseFromZero(t *testing.T) {
	t.Parallel()
	script := []asrmock.Step{
		{Text: "one"}, {Text: "one", Endpoint: true},
		{Text: ""}, {Text: "", Endpoint: true},
		{Text: "two"}, {Text: "two", Endpoint: true},
		{Text: "three"}, {Text: "three", Endpoint: true},
	}
	// Every awaiting frame matches, so frames alternate kws, asr, asr.
	f := newFixture(t, 12, []string{"k", "k", "k", "k"}, script)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan transcript.Result, 8)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range 3 {
			r, err := f.slot.Take(ctx)
			if err != nil {
				return
			}
			got <- r
		}
	}()

	if err := f.m.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	wg.Wait()
	close(got)

	var ids []int
	var texts []string
	for r := range got {
		ids = append(ids, r.SegmentID)
		texts = append(texts, r.Text)
	}
	if len(ids) != 3 {
		t.Fatalf("published %d results, want 3", len(ids))
	}
	for i, id := range ids {
		if id != i {
			t.Errorf("result %d has segment id %d, want %d", i, id, i)
		}
	}
	if strings.Join(texts, ",") != "one,two,three" {
		t.Errorf("texts = %v", texts)
	}
}

func TestMachine_PublishWaitsForConsumer(t *testing.T) {
	t.Parallel()
	script := []asrmock.Step{
		{Text: "first", Endpoint: true},
		{Text: "second", Endpoint: true},
	}
	f := newFixture(t, 4, []string{"k", "k"}, script)

	ctx := context.Background()
	for i := range 2 {
		if err := f.m.Step(ctx); err != nil {
			t.Fatalf("Step %d: %v", i+1, err)
		}
	}
	if err := f.m.Step(ctx); err != nil { // keyword again
		t.Fatal(err)
	}

	stepCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err := f.m.Step(stepCtx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("publishing over an unconsumed result: expected DeadlineExceeded, got %v", err)
	}

	r, _ := f.slot.Take(ctx)
	if r.Text != "first" {
		t.Errorf("unconsumed result was overwritten: got %q", r.Text)
	}
}

func TestMachine_Run(t *testing.T) {
	t.Parallel()

	t.Run("source failure is fatal", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, 2, nil, nil)
		boom := errors.New("device unplugged")
		f.src.Err = boom
		err := f.m.Run(context.Background())
		if !errors.Is(err, boom) {
			t.Fatalf("expected source error, got %v", err)
		}
		if f.src.Reads() != 3 {
			t.Errorf("reads = %d, want 3", f.src.Reads())
		}
	})

	t.Run("exhausted source ends cleanly", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, 4, nil, nil)
		if err := f.m.Run(context.Background()); err != nil {
			t.Fatalf("expected nil at EOF, got %v", err)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, 100, nil, nil)
		f.src.Err = io.ErrUnexpectedEOF
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := f.m.Run(ctx); !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	})
}

func TestStateString(t *testing.T) {
	t.Parallel()
	if capture.AwaitingKeyword.String() != "AWAITING_KEYWORD" {
		t.Error("AwaitingKeyword string")
	}
	if capture.Transcribing.String() != "TRANSCRIBING" {
		t.Error("Transcribing string")
	}
	if capture.State(9).String() != "State(9)" {
		t.Error("unknown state string")
	}
}
