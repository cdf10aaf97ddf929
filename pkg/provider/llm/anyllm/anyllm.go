// Package anyllm adapts github.com/mozilla-ai/any-llm-go to [llm.Provider] so
// the chat command can use vendors that do not speak the OpenAI protocol.
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/nypyp/metahuman-stream/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

type constructor func(...anyllmlib.Option) (anyllmlib.Provider, error)

func adapt[P anyllmlib.Provider](fn func(...anyllmlib.Option) (P, error)) constructor {
	return func(opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
		p, err := fn(opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

var constructors = map[string]constructor{
	"anthropic": adapt(anthropic.New),
	"deepseek":  adapt(deepseek.New),
	"gemini":    adapt(gemini.New),
	"groq":      adapt(groq.New),
	"llamacpp":  adapt(llamacpp.New),
	"llamafile": adapt(llamafile.New),
	"mistral":   adapt(mistral.New),
	"ollama":    adapt(ollama.New),
	"openai":    adapt(anyllmoai.New),
}

// Backends lists the vendor names [New] accepts, sorted.
func Backends() []string { return slices.Sorted(maps.Keys(constructors)) }

// Provider forwards chat turns to one any-llm-go backend.
type Provider struct {
	backend anyllmlib.Provider
	model   string
}

// New connects to backend (case-insensitive) for model. Without
// anyllmlib.WithAPIKey the backend reads its usual environment variable.
func New(backend, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if model == "" {
		return nil, errors.New("anyllm: model is required")
	}
	ctor, ok := constructors[strings.ToLower(backend)]
	if !ok {
		return nil, fmt.Errorf("anyllm: unknown backend %q (have %s)", backend, strings.Join(Backends(), ", "))
	}
	b, err := ctor(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: %s: %w", backend, err)
	}
	return &Provider{backend: b, model: model}, nil
}

// Complete implements [llm.Provider].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.params(req)
	if err != nil {
		return nil, err
	}
	resp, err := p.backend.Completion(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anyllm: %s: %w", p.model, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: %s: %w", p.model, llm.ErrNoChoices)
	}

	out := &llm.CompletionResponse{Content: resp.Choices[0].Message.ContentString()}
	if u := resp.Usage; u != nil {
		out.Usage = llm.Usage{
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      u.TotalTokens,
		}
	}
	return out, nil
}

// StreamCompletion implements [llm.Provider].
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	params, err := p.params(req)
	if err != nil {
		return nil, err
	}
	chunks, errs := p.backend.CompletionStream(ctx, params)

	out := make(chan llm.Chunk, 32)
	go func() {
		defer close(out)
		for chunk := range chunks {
			if len(chunk.Choices) == 0 {
				continue
			}
			c := chunk.Choices[0]
			if !llm.Emit(ctx, out, llm.Chunk{Text: c.Delta.Content, FinishReason: c.FinishReason}) {
				return
			}
		}
		if err := <-errs; err != nil {
			llm.Emit(ctx, out, llm.Chunk{Text: err.Error(), FinishReason: llm.FinishReasonError})
		}
	}()
	return out, nil
}

func (p *Provider) params(req llm.CompletionRequest) (anyllmlib.CompletionParams, error) {
	turns, err := req.Conversation()
	if err != nil {
		return anyllmlib.CompletionParams{}, err
	}
	params := anyllmlib.CompletionParams{Model: p.model, Messages: make([]anyllmlib.Message, len(turns))}
	for i, m := range turns {
		params.Messages[i] = convertMessage(m)
	}
	if req.Temperature != 0 {
		params.Temperature = &req.Temperature
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = &req.MaxTokens
	}
	return params, nil
}

func convertMessage(m llm.Message) anyllmlib.Message {
	return anyllmlib.Message{Role: m.Role, Content: m.Content, Name: m.Name}
}
