package asr_test

import (
	"testing"
	"time"

	"github.com/nypyp/metahuman-stream/pkg/provider/asr"
)

func TestEndpointConfig_WithDefaults(t *testing.T) {
	t.Parallel()
	got := asr.EndpointConfig{Rule2MinTrailingSilence: 500 * time.Millisecond}.WithDefaults()
	if got.Rule1MinTrailingSilence != 2400*time.Millisecond {
		t.Errorf("rule1 = %v, want 2.4s", got.Rule1MinTrailingSilence)
	}
	if got.Rule2MinTrailingSilence != 500*time.Millisecond {
		t.Errorf("rule2 = %v, want 500ms (explicit value kept)", got.Rule2MinTrailingSilence)
	}
	if got.Rule3MinUtteranceLength != 300*time.Second {
		t.Errorf("rule3 = %v, want 300s", got.Rule3MinUtteranceLength)
	}
}

func TestEndpointConfig_Validate(t *testing.T) {
	t.Parallel()
	if err := asr.DefaultEndpointConfig().Validate(); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
	if err := (asr.EndpointConfig{Rule1MinTrailingSilence: -time.Second}).Validate(); err == nil {
		t.Error("expected error for negative rule1")
	}
}

func TestEndpointer(t *testing.T) {
	t.Parallel()
	cfg := asr.EndpointConfig{
		Rule1MinTrailingSilence: 500 * time.Millisecond,
		Rule2MinTrailingSilence: 200 * time.Millisecond,
		Rule3MinUtteranceLength: 2 * time.Second,
	}
	step := 100 * time.Millisecond

	t.Run("rule1 silence without text", func(t *testing.T) {
		t.Parallel()
		e := asr.NewEndpointer(cfg)
		for i := range 4 {
			if e.Observe(step, false, false) {
				t.Fatalf("endpoint too early at step %d", i)
			}
		}
		if !e.Observe(step, false, false) {
			t.Error("expected endpoint after 500ms of silence")
		}
	})

	t.Run("rule2 silence after text", func(t *testing.T) {
		t.Parallel()
		e := asr.NewEndpointer(cfg)
		e.Observe(step, true, true)
		if e.Observe(step, false, true) {
			t.Fatal("endpoint after only 100ms of trailing silence")
		}
		if !e.Observe(step, false, true) {
			t.Error("expected endpoint after 200ms of trailing silence")
		}
	})

	t.Run("voice resets silence", func(t *testing.T) {
		t.Parallel()
		e := asr.NewEndpointer(cfg)
		e.Observe(step, true, true)
		e.Observe(step, false, true)
		e.Observe(step, true, true)
		if e.Observe(step, false, true) {
			t.Error("silence counter should restart after voiced audio")
		}
	})

	t.Run("rule3 max length", func(t *testing.T) {
		t.Parallel()
		e := asr.NewEndpointer(cfg)
		fired := false
		for range 20 {
			fired = e.Observe(step, true, true)
		}
		if !fired {
			t.Error("expected endpoint after 2s of continuous speech")
		}
	})

	t.Run("speech withdraws silence endpoint", func(t *testing.T) {
		t.Parallel()
		e := asr.NewEndpointer(cfg)
		for range 30 {
			e.Observe(step, false, false)
		}
		if !e.Endpoint() {
			t.Fatal("expected endpoint after 3s of silence")
		}
		for i := range 10 {
			if e.Observe(step, true, true) {
				t.Fatalf("endpoint still set after %d voiced steps", i+1)
			}
		}
		e.Observe(step, false, true)
		if !e.Observe(step, false, true) {
			t.Error("expected endpoint after 200ms of trailing silence")
		}
	})

	t.Run("speech after text endpoint keeps it", func(t *testing.T) {
		t.Parallel()
		e := asr.NewEndpointer(cfg)
		e.Observe(step, true, true)
		e.Observe(step, false, true)
		e.Observe(step, false, true)
		if !e.Observe(step, true, true) {
			t.Error("endpoint after decoded speech must hold until Reset")
		}
	})

	t.Run("reset clears endpoint", func(t *testing.T) {
		t.Parallel()
		e := asr.NewEndpointer(cfg)
		for range 5 {
			e.Observe(step, false, false)
		}
		if !e.Endpoint() {
			t.Fatal("expected endpoint")
		}
		e.Reset()
		if e.Endpoint() {
			t.Error("Reset should clear endpoint")
		}
	})
}
