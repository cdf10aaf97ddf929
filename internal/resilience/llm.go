package resilience

import (
	"context"

	"github.com/nypyp/metahuman-stream/pkg/provider/llm"
)

var _ llm.Provider = (*LLMFallback)(nil)

// LLMFallback implements [llm.Provider] with failover across chat backends.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

// NewLLMFallback creates an LLMFallback preferring primary.
func NewLLMFallback(name string, primary llm.Provider, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(name, primary, cfg)}
}

// Add registers another backend.
func (f *LLMFallback) Add(name string, p llm.Provider) {
	f.group.Add(name, p)
}

// Complete implements [llm.Provider].
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// StreamCompletion implements [llm.Provider]. Failover covers starting the
// stream only; errors mid-stream arrive on the channel.
func (f *LLMFallback) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, p llm.Provider) (<-chan llm.Chunk, error) {
		return p.StreamCompletion(ctx, req)
	})
}
