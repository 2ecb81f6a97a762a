package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/voicelearn/pkg/provider/live"
	"github.com/MrWong99/voicelearn/pkg/provider/llm"
	"github.com/MrWong99/voicelearn/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned when no factory is registered under
// the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider of type T from its config entry.
type Factory[T any] func(ProviderEntry) (T, error)

// factories is a concurrency-safe name to factory map for one provider kind.
type factories[T any] struct {
	kind string
	mu   sync.RWMutex
	m    map[string]Factory[T]
}

func newFactories[T any](kind string) *factories[T] {
	return &factories[T]{kind: kind, m: make(map[string]Factory[T])}
}

func (f *factories[T]) register(name string, factory Factory[T]) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.m[name] = factory
}

func (f *factories[T]) create(entry ProviderEntry) (T, error) {
	f.mu.RLock()
	factory, ok := f.m[entry.Name]
	f.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	p, err := factory(entry)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("config: create %s/%q: %w", f.kind, entry.Name, err)
	}
	return p, nil
}

func (f *factories[T]) names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.m))
	for name := range f.m {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Registry maps provider names to constructors for each provider kind. It is
// safe for concurrent use.
type Registry struct {
	llm  *factories[llm.Provider]
	tts  *factories[tts.Provider]
	live *factories[live.Dialer]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		llm:  newFactories[llm.Provider]("llm"),
		tts:  newFactories[tts.Provider]("tts"),
		live: newFactories[live.Dialer]("live"),
	}
}

// RegisterLLM registers an LLM factory under name, replacing any previous one.
func (r *Registry) RegisterLLM(name string, f Factory[llm.Provider]) { r.llm.register(name, f) }

// RegisterTTS registers a TTS factory under name.
func (r *Registry) RegisterTTS(name string, f Factory[tts.Provider]) { r.tts.register(name, f) }

// RegisterLive registers a realtime session dialer factory under name.
func (r *Registry) RegisterLive(name string, f Factory[live.Dialer]) { r.live.register(name, f) }

// CreateLLM builds the LLM provider named by entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) { return r.llm.create(entry) }

// CreateTTS builds the TTS provider named by entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) { return r.tts.create(entry) }

// CreateLive builds the live dialer named by entry.Name.
func (r *Registry) CreateLive(entry ProviderEntry) (live.Dialer, error) { return r.live.create(entry) }

// Names lists registered provider names per kind, sorted.
func (r *Registry) Names() map[string][]string {
	return map[string][]string{
		"llm":  r.llm.names(),
		"tts":  r.tts.names(),
		"live": r.live.names(),
	}
}
