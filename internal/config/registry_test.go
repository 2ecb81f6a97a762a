package config_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/voicelearn/internal/config"
	"github.com/MrWong99/voicelearn/pkg/provider/live"
	livemock "github.com/MrWong99/voicelearn/pkg/provider/live/mock"
	"github.com/MrWong99/voicelearn/pkg/provider/llm"
	llmmock "github.com/MrWong99/voicelearn/pkg/provider/llm/mock"
	"github.com/MrWong99/voicelearn/pkg/provider/tts"
	ttsmock "github.com/MrWong99/voicelearn/pkg/provider/tts/mock"
)

func TestRegistry_CreateRegistered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	var gotEntry config.ProviderEntry
	want := &llmmock.Provider{}
	reg.RegisterLLM("gemini", func(e config.ProviderEntry) (llm.Provider, error) {
		gotEntry = e
		return want, nil
	})
	reg.RegisterTTS("gemini", func(config.ProviderEntry) (tts.Provider, error) { return &ttsmock.Provider{}, nil })
	reg.RegisterLive("gemini-live", func(config.ProviderEntry) (live.Dialer, error) { return &livemock.Dialer{}, nil })

	p, err := reg.CreateLLM(config.ProviderEntry{Name: "gemini", Model: "m"})
	if err != nil {
		t.Fatalf("CreateLLM: %v", err)
	}
	if p != want || gotEntry.Model != "m" {
		t.Errorf("factory not used: %v %+v", p, gotEntry)
	}
	if _, err := reg.CreateTTS(config.ProviderEntry{Name: "gemini"}); err != nil {
		t.Errorf("CreateTTS: %v", err)
	}
	if _, err := reg.CreateLive(config.ProviderEntry{Name: "gemini-live"}); err != nil {
		t.Errorf("CreateLive: %v", err)
	}

	names := reg.Names()
	if !slices.Equal(names["live"], []string{"gemini-live"}) {
		t.Errorf("names = %v", names)
	}
}

func TestRegistry_NotRegistered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	_, err := reg.CreateTTS(config.ProviderEntry{Name: "coqui"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("err = %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	boom := errors.New("no key")
	reg.RegisterLLM("openai", func(config.ProviderEntry) (llm.Provider, error) { return nil, boom })
	_, err := reg.CreateLLM(config.ProviderEntry{Name: "openai"})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped factory error", err)
	}
}
