package config

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/nypyp/metahuman-stream/pkg/audio"
	"github.com/nypyp/metahuman-stream/pkg/provider/asr"
	"github.com/nypyp/metahuman-stream/pkg/provider/kws"
	"github.com/nypyp/metahuman-stream/pkg/provider/llm"
	"github.com/nypyp/metahuman-stream/pkg/transport"
)

// ErrProviderNotRegistered is returned by the Create methods when no factory
// is registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// factories is a name-keyed set of constructors for one provider kind.
type factories[T any] struct {
	kind string
	m    map[string]func(ProviderEntry) (T, error)
}

func newFactories[T any](kind string) factories[T] {
	return factories[T]{kind: kind, m: make(map[string]func(ProviderEntry) (T, error))}
}

// create looks the factory up under mu and calls it without holding the lock.
func create[T any](mu *sync.RWMutex, f factories[T], entry ProviderEntry) (T, error) {
	mu.RLock()
	factory, ok := f.m[entry.Name]
	mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	v, err := factory(entry)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("config: create %s/%q: %w", f.kind, entry.Name, err)
	}
	return v, nil
}

func (f factories[T]) names() []string {
	out := make([]string, 0, len(f.m))
	for name := range f.m {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Registry maps provider names to constructors for each provider kind.
// It is safe for concurrent use. Registering a name twice replaces the
// earlier factory.
type Registry struct {
	mu        sync.RWMutex
	audio     factories[audio.Source]
	keyword   factories[kws.Spotter]
	asr       factories[asr.Recognizer]
	llm       factories[llm.Provider]
	transport factories[transport.Dialer]
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		audio:     newFactories[audio.Source]("audio"),
		keyword:   newFactories[kws.Spotter]("keyword"),
		asr:       newFactories[asr.Recognizer]("asr"),
		llm:       newFactories[llm.Provider]("llm"),
		transport: newFactories[transport.Dialer]("transport"),
	}
}

// RegisterAudio registers an audio source factory under name.
func (r *Registry) RegisterAudio(name string, factory func(ProviderEntry) (audio.Source, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio.m[name] = factory
}

// RegisterKeyword registers a keyword spotter factory under name.
func (r *Registry) RegisterKeyword(name string, factory func(ProviderEntry) (kws.Spotter, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keyword.m[name] = factory
}

// RegisterASR registers a speech recognizer factory under name.
func (r *Registry) RegisterASR(name string, factory func(ProviderEntry) (asr.Recognizer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.asr.m[name] = factory
}

// RegisterLLM registers a chat provider factory under name.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm.m[name] = factory
}

// RegisterTransport registers a relay dialer factory under name.
func (r *Registry) RegisterTransport(name string, factory func(ProviderEntry) (transport.Dialer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transport.m[name] = factory
}

// CreateAudio opens the audio source registered under entry.Name.
func (r *Registry) CreateAudio(entry ProviderEntry) (audio.Source, error) {
	return create(&r.mu, r.audio, entry)
}

// CreateKeyword builds the keyword spotter registered under entry.Name.
func (r *Registry) CreateKeyword(entry ProviderEntry) (kws.Spotter, error) {
	return create(&r.mu, r.keyword, entry)
}

// CreateASR builds the recognizer registered under entry.Name.
func (r *Registry) CreateASR(entry ProviderEntry) (asr.Recognizer, error) {
	return create(&r.mu, r.asr, entry)
}

// CreateLLM builds the chat provider registered under entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	return create(&r.mu, r.llm, entry)
}

// CreateTransport builds the dialer registered under entry.Name.
func (r *Registry) CreateTransport(entry ProviderEntry) (transport.Dialer, error) {
	return create(&r.mu, r.transport, entry)
}

// Names returns the registered names per kind, sorted.
func (r *Registry) Names() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string][]string{
		"audio":     r.audio.names(),
		"keyword":   r.keyword.names(),
		"asr":       r.asr.names(),
		"llm":       r.llm.names(),
		"transport": r.transport.names(),
	}
}
