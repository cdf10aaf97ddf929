// Package openai talks to the OpenAI chat completions API, or to any
// server that speaks the same protocol when given a base URL.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/nypyp/metahuman-stream/pkg/provider/llm"
)

// DefaultModel answers chat turns when the config names no model.
const DefaultModel = "gpt-3.5-turbo"

const streamBuffer = 32

var _ llm.Provider = (*Provider)(nil)

// Provider is an [llm.Provider] over openai-go.
type Provider struct {
	client oai.Client
	model  string
}

// Option adjusts how the client reaches the endpoint.
type Option func(*[]option.RequestOption, *time.Duration)

// WithBaseURL targets an OpenAI-compatible server instead of api.openai.com.
func WithBaseURL(url string) Option {
	return func(o *[]option.RequestOption, _ *time.Duration) {
		*o = append(*o, option.WithBaseURL(url))
	}
}

// WithOrganization tags every request with an organization ID.
func WithOrganization(org string) Option {
	return func(o *[]option.RequestOption, _ *time.Duration) {
		*o = append(*o, option.WithOrganization(org))
	}
}

// WithTimeout bounds each HTTP round trip.
func WithTimeout(d time.Duration) Option {
	return func(_ *[]option.RequestOption, t *time.Duration) { *t = d }
}

// WithHTTPClient uses hc for all requests. It takes precedence over
// [WithTimeout].
func WithHTTPClient(hc *http.Client) Option {
	return func(o *[]option.RequestOption, t *time.Duration) {
		*o = append(*o, option.WithHTTPClient(hc))
		*t = 0
	}
}

// New returns a Provider authenticated with apiKey.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	if model == "" {
		model = DefaultModel
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	var timeout time.Duration
	for _, opt := range opts {
		opt(&reqOpts, &timeout)
	}
	if timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: timeout}))
	}
	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Model reports the model sent with every request.
func (p *Provider) Model() string { return p.model }

// Complete implements [llm.Provider].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.params(req)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: %s: %w", p.model, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: %s: %w", p.model, llm.ErrNoChoices)
	}
	return &llm.CompletionResponse{
		Content: resp.Choices[0].Message.Content,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

// StreamCompletion implements [llm.Provider].
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	params, err := p.params(req)
	if err != nil {
		return nil, err
	}
	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("openai: %s: open stream: %w", p.model, err)
	}

	out := make(chan llm.Chunk, streamBuffer)
	go func() {
		defer close(out)
		defer stream.Close()
		for stream.Next() {
			delta := stream.Current()
			if len(delta.Choices) == 0 {
				continue
			}
			c := delta.Choices[0]
			if !llm.Emit(ctx, out, llm.Chunk{Text: c.Delta.Content, FinishReason: c.FinishReason}) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			llm.Emit(ctx, out, llm.Chunk{Text: err.Error(), FinishReason: llm.FinishReasonError})
		}
	}()
	return out, nil
}

func (p *Provider) params(req llm.CompletionRequest) (oai.ChatCompletionNewParams, error) {
	turns, err := req.Conversation()
	if err != nil {
		return oai.ChatCompletionNewParams{}, err
	}
	msgs := make([]oai.ChatCompletionMessageParamUnion, 0, len(turns))
	for _, m := range turns {
		u, err := convertMessage(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		msgs = append(msgs, u)
	}

	params := oai.ChatCompletionNewParams{Model: shared.ChatModel(p.model), Messages: msgs}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	return params, nil
}

func convertMessage(m llm.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case llm.RoleSystem:
		return oai.SystemMessage(m.Content), nil
	case llm.RoleUser:
		return oai.UserMessage(m.Content), nil
	case llm.RoleAssistant:
		var a oai.ChatCompletionAssistantMessageParam
		a.Content.OfString = oai.String(m.Content)
		if m.Name != "" {
			a.Name = oai.String(m.Name)
		}
		return oai.ChatCompletionMessageParamUnion{OfAssistant: &a}, nil
	}
	return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("openai: role %q is not supported", m.Role)
}
