package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voicelearn/internal/language"
)

// ValidProviderNames lists known provider names per kind. [Validate] warns
// about names outside these lists; third-party factories may still register
// them.
var ValidProviderNames = map[string][]string{
	"llm":  {"gemini", "openai", "anthropic", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts":  {"gemini", "elevenlabs"},
	"live": {"gemini-live", "openai-realtime"},
}

// apiKeyEnv lists the environment variables consulted, in order, for a
// provider whose api_key is empty.
var apiKeyEnv = map[string][]string{
	"gemini":          {"GEMINI_API_KEY", "API_KEY"},
	"gemini-live":     {"GEMINI_API_KEY", "API_KEY"},
	"openai":          {"OPENAI_API_KEY"},
	"openai-realtime": {"OPENAI_API_KEY"},
	"anthropic":       {"ANTHROPIC_API_KEY"},
	"deepseek":        {"DEEPSEEK_API_KEY"},
	"mistral":         {"MISTRAL_API_KEY"},
	"groq":            {"GROQ_API_KEY"},
	"elevenlabs":      {"ELEVENLABS_API_KEY"},
}

// LoadEnv loads KEY=value pairs from the given .env files (".env" when none
// are given) into the process environment. Missing files are skipped and
// variables that are already set are left alone.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load env %q: %w", p, err)
		}
		slog.Debug("config: loaded env file", "path", p)
	}
	return nil
}

// Load reads the YAML configuration file at path. An empty path yields the
// defaults. Environment API keys and defaults are applied before validation.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		ApplyEnv(cfg, os.Getenv)
		return cfg, Validate(cfg)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, rejecting unknown fields, then
// applies defaults and environment API keys and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	ApplyEnv(cfg, os.Getenv)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv fills empty API keys from the environment using getenv.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	for _, e := range []*ProviderEntry{&cfg.Providers.LLM, &cfg.Providers.TTS, &cfg.Providers.Live} {
		fillKey(e, getenv)
		for i := range e.Fallbacks {
			fillKey(&e.Fallbacks[i], getenv)
		}
	}
}

func fillKey(e *ProviderEntry, getenv func(string) string) {
	if e.APIKey != "" {
		return
	}
	for _, name := range apiKeyEnv[e.Name] {
		if v := getenv(name); v != "" {
			e.APIKey = v
			return
		}
	}
}

// Validate checks that cfg is coherent and returns every failure joined.
// Unknown provider names and missing API keys only produce warnings.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	validateEntry("llm", "providers.llm", cfg.Providers.LLM)
	validateEntry("tts", "providers.tts", cfg.Providers.TTS)
	validateEntry("live", "providers.live", cfg.Providers.Live)
	if len(cfg.Providers.Live.Fallbacks) > 0 {
		errs = append(errs, errors.New("providers.live.fallbacks is not supported; live sessions are never retried"))
	}

	a := cfg.Audio
	if a.Backend != "" && !a.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("audio.backend %q is invalid; valid values: portaudio, wav", a.Backend))
	}
	if a.InputSampleRate < 0 || a.OutputSampleRate < 0 {
		errs = append(errs, errors.New("audio sample rates must be positive"))
	}
	if a.FrameSize != 0 && (a.FrameSize < 256 || a.FrameSize > 16384) {
		errs = append(errs, fmt.Errorf("audio.frame_size %d is out of range [256, 16384]", a.FrameSize))
	}
	if a.Backend == BackendWAV && a.InputFile == "" && a.OutputFile == "" {
		slog.Warn("audio.backend is wav but neither input_file nor output_file is set; capture and playback are disabled")
	}

	if cfg.Library.File != "" {
		if _, err := os.Stat(cfg.Library.File); err != nil {
			errs = append(errs, fmt.Errorf("library.file: %w", err))
		}
	}

	errs = append(errs, validateLanguage("learner.reader_language", cfg.Learner.ReaderLanguage, language.Reader))
	errs = append(errs, validateLanguage("learner.tutor_language", cfg.Learner.TutorLanguage, language.Tutor))
	errs = append(errs, validateLanguage("learner.search_language", cfg.Learner.SearchLanguage, language.Search))

	return errors.Join(errs...)
}

func validateLanguage(field, value string, set language.Set) error {
	if value == "" {
		return nil
	}
	if _, err := set.Lookup(value); err != nil {
		return fmt.Errorf("%s %q is invalid; valid values: %v", field, value, set.Names())
	}
	return nil
}

func validateEntry(kind, field string, e ProviderEntry) {
	if !e.Configured() {
		return
	}
	validateProviderName(kind, e.Name)
	if e.APIKey == "" && len(apiKeyEnv[e.Name]) > 0 {
		slog.Warn("provider has no api key; set it in the config or environment",
			"field", field,
			"name", e.Name,
			"env", apiKeyEnv[e.Name],
		)
	}
	for _, fb := range e.Fallbacks {
		validateProviderName(kind, fb.Name)
	}
}

func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
