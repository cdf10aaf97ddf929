// Package llm defines the chat-completion client used by the chat command.
//
// One Provider value is configured with an endpoint, credentials and model
// from the config file; the same code path serves every OpenAI-compatible
// endpoint and, through any-llm-go, other vendors. Credentials are never
// compiled in.
//
// Implementations must be safe for concurrent use. Channels returned by
// StreamCompletion are closed by the implementation when the stream ends or
// ctx is cancelled.
package llm

import (
	"context"
	"errors"
)

// Conversation roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// FinishReasonError marks a stream chunk that carries an error message in
// its Text field.
const FinishReasonError = "error"

// Message is one turn of a conversation.
type Message struct {
	// Role is one of [RoleSystem], [RoleUser] or [RoleAssistant].
	Role string

	Content string

	// Name is an optional participant name.
	Name string
}

// Usage holds token accounting returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to answer.
// Messages must be non-empty.
type CompletionRequest struct {
	Messages []Message

	// SystemPrompt, when set, is sent as a leading system message.
	SystemPrompt string

	// Temperature in [0.0, 2.0]. Zero leaves the provider default.
	Temperature float64

	// MaxTokens caps the completion length. Zero leaves the provider default.
	MaxTokens int
}

// Chunk is one fragment of a streamed completion.
type Chunk struct {
	Text string

	// FinishReason is set on the final chunk ("stop", "length", or
	// [FinishReasonError]).
	FinishReason string
}

// CompletionResponse is the result of a non-streaming completion. Content is
// the first choice's text.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Provider is a chat-completion backend.
type Provider interface {
	// StreamCompletion starts a streamed completion. Errors after the stream
	// has started arrive as a Chunk with FinishReason [FinishReasonError].
	// The returned channel is never nil when error is nil.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete waits for the full completion.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// ErrNoMessages is returned for a request without any turns.
var ErrNoMessages = errors.New("llm: request has no messages")

// ErrNoChoices is returned when a backend answers without a choice.
var ErrNoChoices = errors.New("llm: response has no choices")

// Conversation returns the turns to send, with SystemPrompt as the leading
// system message when set.
func (r CompletionRequest) Conversation() ([]Message, error) {
	if len(r.Messages) == 0 {
		return nil, ErrNoMessages
	}
	if r.SystemPrompt == "" {
		return r.Messages, nil
	}
	turns := make([]Message, 0, len(r.Messages)+1)
	turns = append(turns, Message{Role: RoleSystem, Content: r.SystemPrompt})
	return append(turns, r.Messages...), nil
}

// Emit sends c on ch unless ctx ends first. It reports whether c was sent.
func Emit(ctx context.Context, ch chan<- Chunk, c Chunk) bool {
	select {
	case ch <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

// UserMessage is shorthand for a single user turn.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text}
}
