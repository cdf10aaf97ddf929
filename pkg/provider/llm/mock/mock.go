// Package mock is a scripted llm.Provider for chat and fallback tests.
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/nypyp/metahuman-stream/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// Provider replays canned answers and records every request it receives.
// Configure the exported fields before the first call.
type Provider struct {
	StreamChunks []llm.Chunk
	StreamErr    error

	CompleteResponse *llm.CompletionResponse
	CompleteErr      error

	mu            sync.Mutex
	StreamCalls   []llm.CompletionRequest
	CompleteCalls []llm.CompletionRequest
}

// StreamCompletion sends StreamChunks and closes the channel.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.StreamCalls = append(p.StreamCalls, req)
	script, err := slices.Clone(p.StreamChunks), p.StreamErr
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}

	ch := make(chan llm.Chunk, len(script))
	go func() {
		defer close(ch)
		for _, c := range script {
			if !llm.Emit(ctx, ch, c) {
				return
			}
		}
	}()
	return ch, nil
}

// Complete returns CompleteResponse and CompleteErr.
func (p *Provider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = append(p.CompleteCalls, req)
	return p.CompleteResponse, p.CompleteErr
}

// Calls counts Complete invocations.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.CompleteCalls)
}
