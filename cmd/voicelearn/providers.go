package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/voicelearn/internal/app"
	"github.com/MrWong99/voicelearn/internal/config"
	"github.com/MrWong99/voicelearn/internal/health"
	"github.com/MrWong99/voicelearn/internal/observe"
	"github.com/MrWong99/voicelearn/internal/resilience"
	"github.com/MrWong99/voicelearn/pkg/provider/live"
	geminilive "github.com/MrWong99/voicelearn/pkg/provider/live/gemini"
	oailive "github.com/MrWong99/voicelearn/pkg/provider/live/openai"
	"github.com/MrWong99/voicelearn/pkg/provider/llm"
	"github.com/MrWong99/voicelearn/pkg/provider/llm/anyllm"
	geminillm "github.com/MrWong99/voicelearn/pkg/provider/llm/gemini"
	oaillm "github.com/MrWong99/voicelearn/pkg/provider/llm/openai"
	"github.com/MrWong99/voicelearn/pkg/provider/tts"
	"github.com/MrWong99/voicelearn/pkg/provider/tts/elevenlabs"
	geminitts "github.com/MrWong99/voicelearn/pkg/provider/tts/gemini"
)

// ── Provider wiring ───────────────────────────────────────────────────────────

// anyllmVendors are LLM names served through any-llm-go. gemini and openai
// have native clients and are registered separately.
var anyllmVendors = []string{"anthropic", "deepseek", "mistral", "groq", "llamacpp", "llamafile"}

// registerBuiltinProviders wires all built-in provider factories into reg.
// ctx bounds client construction for SDKs that need one.
func registerBuiltinProviders(ctx context.Context, reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("gemini", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []geminillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, geminillm.WithBaseURL(entry.BaseURL))
		}
		return geminillm.New(ctx, entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oaillm.WithOrganization(org))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, oaillm.WithTimeout(d))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	})

	// The remaining vendors share the same pattern: optional APIKey + optional
	// BaseURL.
	for _, vendor := range anyllmVendors {
		reg.RegisterLLM(vendor, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(vendor, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("gemini", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []geminitts.Option
		if entry.BaseURL != "" {
			opts = append(opts, geminitts.WithBaseURL(entry.BaseURL))
		}
		return geminitts.New(ctx, entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	// ── Live ──────────────────────────────────────────────────────────────────

	reg.RegisterLive("gemini-live", func(entry config.ProviderEntry) (live.Dialer, error) {
		var opts []geminilive.Option
		if entry.Model != "" {
			opts = append(opts, geminilive.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, geminilive.WithBaseURL(entry.BaseURL))
		}
		return geminilive.New(entry.APIKey, opts...), nil
	})

	reg.RegisterLive("openai-realtime", func(entry config.ProviderEntry) (live.Dialer, error) {
		var opts []oailive.Option
		if entry.Model != "" {
			opts = append(opts, oailive.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oailive.WithBaseURL(entry.BaseURL))
		}
		return oailive.New(entry.APIKey, opts...), nil
	})

	for kind, names := range reg.Names() {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// fallbackConfig returns the breaker settings shared by every provider group.
// Each attempt is counted on the provider request metrics.
func fallbackConfig(kind string) resilience.FallbackConfig {
	return resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  5,
			ResetTimeout: 30 * time.Second,
		},
		OnAttempt: func(a resilience.Attempt) {
			if a.Skipped {
				return
			}
			observe.DefaultMetrics().RecordProviderRequest(context.Background(), a.Provider, kind, a.Err)
		},
	}
}

// buildProviders instantiates the providers named in cfg. LLM and TTS are
// wrapped in fallback groups even without configured fallbacks so that every
// call goes through a circuit breaker and is counted. The returned checkers
// report breaker state on /readyz.
func buildProviders(cfg *config.Config, reg *config.Registry) (app.Providers, []health.Checker, error) {
	var (
		ps       app.Providers
		checkers []health.Checker
	)

	entry := cfg.Providers.LLM
	primary, err := reg.CreateLLM(entry)
	if err != nil {
		return ps, nil, fmt.Errorf("create llm provider %q: %w", entry.Name, err)
	}
	llmGroup := resilience.NewLLMFallback(primary, entry.Name, fallbackConfig("llm"))
	for _, fb := range entry.Fallbacks {
		p, err := reg.CreateLLM(fb)
		if err != nil {
			slog.Warn("skipping llm fallback", "name", fb.Name, "err", err)
			continue
		}
		llmGroup.AddFallback(fb.Name, p)
	}
	ps.LLM = llmGroup
	checkers = append(checkers, breakerChecker("llm", false, llmGroup.States))
	slog.Info("provider created", "kind", "llm", "name", entry.Name, "fallbacks", len(entry.Fallbacks))

	if entry := cfg.Providers.TTS; entry.Configured() {
		primary, err := reg.CreateTTS(entry)
		switch {
		case errors.Is(err, config.ErrProviderNotRegistered):
			slog.Warn("tts provider not available, read-aloud disabled", "name", entry.Name)
		case err != nil:
			return ps, nil, fmt.Errorf("create tts provider %q: %w", entry.Name, err)
		default:
			ttsGroup := resilience.NewTTSFallback(primary, entry.Name, fallbackConfig("tts"))
			for _, fb := range entry.Fallbacks {
				p, err := reg.CreateTTS(fb)
				if err != nil {
					slog.Warn("skipping tts fallback", "name", fb.Name, "err", err)
					continue
				}
				ttsGroup.AddFallback(fb.Name, p)
			}
			ps.TTS = ttsGroup
			checkers = append(checkers, breakerChecker("tts", true, ttsGroup.States))
			slog.Info("provider created", "kind", "tts", "name", entry.Name, "fallbacks", len(entry.Fallbacks))
		}
	}

	if entry := cfg.Providers.Live; entry.Configured() {
		d, err := reg.CreateLive(entry)
		switch {
		case errors.Is(err, config.ErrProviderNotRegistered):
			slog.Warn("live provider not available, voice sessions disabled", "name", entry.Name)
		case err != nil:
			return ps, nil, fmt.Errorf("create live provider %q: %w", entry.Name, err)
		default:
			ps.Live = d
			ps.LiveName = entry.Name
			slog.Info("provider created", "kind", "live", "name", entry.Name, "model", entry.Model)
		}
	}

	return ps, checkers, nil
}

// breakerChecker fails when every breaker of a fallback group is open.
func breakerChecker(kind string, optional bool, states func() map[string]resilience.State) health.Checker {
	return health.Checker{
		Name:     kind,
		Optional: optional,
		Check: func(context.Context) error {
			return allOpen(states())
		},
	}
}

func allOpen(states map[string]resilience.State) error {
	for _, s := range states {
		if s != resilience.StateOpen {
			return nil
		}
	}
	return errors.New("all circuit breakers open")
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optDuration parses a duration option such as "20s". Invalid values are
// logged and ignored.
func optDuration(opts map[string]any, key string) time.Duration {
	s := optString(opts, key)
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		slog.Warn("ignoring invalid duration option", "key", key, "value", s, "err", err)
		return 0
	}
	return d
}
