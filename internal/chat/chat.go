// Package chat is a thin conversational front end over an llm.Provider.
package chat

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/nypyp/metahuman-stream/pkg/provider/llm"
)

// ErrEmptyMessage is returned by Ask for blank input.
var ErrEmptyMessage = errors.New("chat: empty message")

// Ask sends message as a single user turn and returns the first choice.
func Ask(ctx context.Context, p llm.Provider, message string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", ErrEmptyMessage
	}
	resp, err := p.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{llm.UserMessage(message)},
	})
	if err != nil {
		return "", fmt.Errorf("chat: %w", err)
	}
	return resp.Content, nil
}

// Option is a functional option for [NewSession].
type Option func(*Session)

// WithSystemPrompt sets the instruction sent ahead of the conversation.
func WithSystemPrompt(prompt string) Option {
	return func(s *Session) { s.system = prompt }
}

// WithHistory caps the number of remembered turns. Zero disables memory.
// Default: 20.
func WithHistory(n int) Option {
	return func(s *Session) { s.maxHistory = max(n, 0) }
}

// Session is a multi-turn conversation printed to a writer as it streams.
type Session struct {
	p          llm.Provider
	system     string
	maxHistory int
	history    []llm.Message
}

// NewSession creates a Session on p.
func NewSession(p llm.Provider, opts ...Option) *Session {
	s := &Session{p: p, maxHistory: 20}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Send streams the answer to message into out and returns the full text.
func (s *Session) Send(ctx context.Context, message string, out io.Writer) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", ErrEmptyMessage
	}
	turn := llm.UserMessage(message)
	msgs := append(append([]llm.Message(nil), s.history...), turn)

	ch, err := s.p.StreamCompletion(ctx, llm.CompletionRequest{
		Messages:     msgs,
		SystemPrompt: s.system,
	})
	if err != nil {
		return "", fmt.Errorf("chat: %w", err)
	}

	var reply strings.Builder
	for c := range ch {
		if c.FinishReason == llm.FinishReasonError {
			return reply.String(), fmt.Errorf("chat: stream: %s", c.Text)
		}
		reply.WriteString(c.Text)
		fmt.Fprint(out, c.Text)
	}
	if err := ctx.Err(); err != nil {
		return reply.String(), err
	}
	fmt.Fprintln(out)

	s.remember(turn, llm.Message{Role: llm.RoleAssistant, Content: reply.String()})
	return reply.String(), nil
}

func (s *Session) remember(msgs ...llm.Message) {
	if s.maxHistory == 0 {
		return
	}
	s.history = append(s.history, msgs...)
	if over := len(s.history) - s.maxHistory; over > 0 {
		s.history = append([]llm.Message(nil), s.history[over:]...)
	}
}

// History returns a copy of the remembered turns.
func (s *Session) History() []llm.Message {
	return append([]llm.Message(nil), s.history...)
}

// Loop reads one message per line from in until EOF, "exit" or ctx is done.
// Failed turns are reported to out and the loop continues.
func (s *Session) Loop(ctx context.Context, in io.Reader, out io.Writer) error {
	lines := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !lines.Scan() {
			fmt.Fprintln(out)
			return lines.Err()
		}
		msg := strings.TrimSpace(lines.Text())
		switch msg {
		case "":
			continue
		case "exit", "quit":
			return nil
		}
		if _, err := s.Send(ctx, msg, out); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}
