package anyllm

import (
	"context"
	"errors"
	"slices"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/nypyp/metahuman-stream/pkg/provider/llm"
)

func TestConvertMessage(t *testing.T) {
	t.Parallel()
	got := convertMessage(llm.Message{Role: llm.RoleUser, Content: "Hello!", Name: "alice"})
	if got.Role != "user" {
		t.Errorf("role = %q, want user", got.Role)
	}
	if got.ContentString() != "Hello!" {
		t.Errorf("content = %q", got.ContentString())
	}
	if got.Name != "alice" {
		t.Errorf("name = %q", got.Name)
	}
}

func TestParams(t *testing.T) {
	t.Parallel()
	p := &Provider{model: "llama3"}

	if _, err := p.params(llm.CompletionRequest{}); err == nil {
		t.Error("expected error for empty messages")
	}

	params, err := p.params(llm.CompletionRequest{
		SystemPrompt: "be brief",
		Messages:     []llm.Message{llm.UserMessage("hi")},
		Temperature:  0.3,
		MaxTokens:    64,
	})
	if err != nil {
		t.Fatal(err)
	}
	if params.Model != "llama3" {
		t.Errorf("model = %q", params.Model)
	}
	if len(params.Messages) != 2 || params.Messages[0].Role != anyllmlib.RoleSystem {
		t.Errorf("messages = %+v", params.Messages)
	}
	if params.Temperature == nil || *params.Temperature != 0.3 {
		t.Errorf("temperature = %v", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 64 {
		t.Errorf("max tokens = %v", params.MaxTokens)
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		model   string
		opts    []anyllmlib.Option
		wantErr bool
	}{
		{"empty backend", "", "gpt-4o", nil, true},
		{"empty model", "openai", "", nil, true},
		{"unsupported", "fakecloud", "m", []anyllmlib.Option{anyllmlib.WithAPIKey("x")}, true},
		{"openai with key", "openai", "gpt-4o", []anyllmlib.Option{anyllmlib.WithAPIKey("sk-test")}, false},
		{"anthropic with key", "anthropic", "claude-3-5-haiku-latest", []anyllmlib.Option{anyllmlib.WithAPIKey("sk-ant")}, false},
		{"ollama without key", "ollama", "llama3", nil, false},
		{"case insensitive", "OLLAMA", "llama3", nil, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, err := New(tc.backend, tc.model, tc.opts...)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if !tc.wantErr && p.model != tc.model {
				t.Errorf("model = %q, want %q", p.model, tc.model)
			}
		})
	}
}

func TestNew_OpenAIMissingKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := New("openai", "gpt-4o"); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestBackends(t *testing.T) {
	t.Parallel()
	b := Backends()
	if !slices.IsSorted(b) {
		t.Errorf("Backends() not sorted: %v", b)
	}
	b[0] = "mutated"
	if Backends()[0] == "mutated" {
		t.Error("Backends() must return a copy")
	}
}

func TestComplete_EmptyRequest(t *testing.T) {
	t.Parallel()
	p, err := New("ollama", "llama3")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Complete(context.Background(), llm.CompletionRequest{}); !errors.Is(err, llm.ErrNoMessages) {
		t.Fatalf("err = %v, want ErrNoMessages", err)
	}
}
