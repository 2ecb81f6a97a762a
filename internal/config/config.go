// Package config provides the configuration schema, loader and provider
// registry for VoiceLearn.
package config

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// AudioBackend selects the device implementation behind capture and playback.
type AudioBackend string

const (
	// BackendPortAudio uses the system microphone and speaker. Requires a
	// binary built with the portaudio tag.
	BackendPortAudio AudioBackend = "portaudio"

	// BackendWAV reads the microphone from a WAV file and writes playback to
	// another. Useful for headless runs and CI.
	BackendWAV AudioBackend = "wav"
)

// IsValid reports whether b is a recognised backend.
func (b AudioBackend) IsValid() bool {
	return b == BackendPortAudio || b == BackendWAV
}

// Config is the root configuration structure. Load it with [Load] or
// [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Audio     AudioConfig     `yaml:"audio"`
	Library   LibraryConfig   `yaml:"library"`
	Learner   LearnerConfig   `yaml:"learner"`
}

// ServerConfig holds logging and observability settings.
type ServerConfig struct {
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsAddr, when set, serves /metrics, /healthz and /readyz.
	MetricsAddr string `yaml:"metrics_addr"`
}

// ProvidersConfig selects the provider for each capability. Names are looked
// up in the [Registry].
type ProvidersConfig struct {
	LLM  ProviderEntry `yaml:"llm"`
	TTS  ProviderEntry `yaml:"tts"`
	Live ProviderEntry `yaml:"live"`
}

// ProviderEntry is the configuration block shared by all provider kinds.
type ProviderEntry struct {
	// Name selects the registered implementation (e.g. "gemini", "openai").
	Name string `yaml:"name"`

	// APIKey authenticates against the provider. When empty, the loader fills
	// it from the provider's environment variable, see [ApplyEnv].
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	Model string `yaml:"model"`

	// Voice is the default voice for TTS and live providers.
	Voice string `yaml:"voice"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`

	// Fallbacks are tried in order when this provider fails or its circuit
	// breaker is open. Nested fallbacks are ignored.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// Configured reports whether a provider name was set.
func (e ProviderEntry) Configured() bool { return e.Name != "" }

// AudioConfig describes the local audio devices.
type AudioConfig struct {
	Backend AudioBackend `yaml:"backend"`

	// InputSampleRate is the capture rate sent to live providers.
	InputSampleRate int `yaml:"input_sample_rate"`

	// OutputSampleRate is the rate the speaker or WAV sink runs at.
	OutputSampleRate int `yaml:"output_sample_rate"`

	// FrameSize is the number of samples per capture frame.
	FrameSize int `yaml:"frame_size"`

	// InputFile and OutputFile are used by the wav backend.
	InputFile  string `yaml:"input_file"`
	OutputFile string `yaml:"output_file"`
}

// LibraryConfig points at an external library file. When File is empty the
// built-in sample library is used.
type LibraryConfig struct {
	File string `yaml:"file"`
}

// LearnerConfig holds the languages each screen opens with. These settings
// are hot-reloadable.
type LearnerConfig struct {
	ReaderLanguage string `yaml:"reader_language"`
	TutorLanguage  string `yaml:"tutor_language"`
	SearchLanguage string `yaml:"search_language"`

	// Voice is the TTS voice for read-aloud.
	Voice string `yaml:"voice"`
}

// Default values applied by [ApplyDefaults].
const (
	DefaultLLMModel         = "gemini-3-flash-preview"
	DefaultTTSModel         = "gemini-2.5-flash-preview-tts"
	DefaultLiveModel        = "gemini-2.5-flash-native-audio-preview-12-2025"
	DefaultInputSampleRate  = 16000
	DefaultOutputSampleRate = 24000
	DefaultFrameSize        = 4096
)

// ApplyDefaults fills unset fields. Provider defaults only apply when no
// provider name was given, so an explicit choice is never overridden.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	p := &cfg.Providers
	if p.LLM.Name == "" {
		p.LLM.Name = "gemini"
		if p.LLM.Model == "" {
			p.LLM.Model = DefaultLLMModel
		}
	}
	if p.TTS.Name == "" {
		p.TTS.Name = "gemini"
		if p.TTS.Model == "" {
			p.TTS.Model = DefaultTTSModel
		}
	}
	if p.Live.Name == "" {
		p.Live.Name = "gemini-live"
		if p.Live.Model == "" {
			p.Live.Model = DefaultLiveModel
		}
	}

	a := &cfg.Audio
	if a.Backend == "" {
		a.Backend = BackendPortAudio
	}
	if a.InputSampleRate == 0 {
		a.InputSampleRate = DefaultInputSampleRate
	}
	if a.OutputSampleRate == 0 {
		a.OutputSampleRate = DefaultOutputSampleRate
	}
	if a.FrameSize == 0 {
		a.FrameSize = DefaultFrameSize
	}

	l := &cfg.Learner
	if l.ReaderLanguage == "" {
		l.ReaderLanguage = "English"
	}
	if l.TutorLanguage == "" {
		l.TutorLanguage = "English"
	}
	if l.SearchLanguage == "" {
		l.SearchLanguage = "English"
	}
	if l.Voice == "" {
		l.Voice = "Kore"
	}
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
