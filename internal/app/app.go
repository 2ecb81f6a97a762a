// Package app wires the VoiceLearn subsystems into a running application.
//
// The App struct owns the full lifecycle: New loads the library and builds
// the tutor service, Router hands out screens built on the shared devices,
// and Shutdown closes the open screen and releases the devices in order.
//
// For testing, inject mock providers and devices; New never touches real
// hardware itself.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/voicelearn/internal/config"
	"github.com/MrWong99/voicelearn/internal/language"
	"github.com/MrWong99/voicelearn/internal/library"
	"github.com/MrWong99/voicelearn/internal/observe"
	"github.com/MrWong99/voicelearn/internal/screen"
	"github.com/MrWong99/voicelearn/internal/tutor"
	"github.com/MrWong99/voicelearn/internal/voice"
	"github.com/MrWong99/voicelearn/pkg/audio"
	"github.com/MrWong99/voicelearn/pkg/audio/capture"
	"github.com/MrWong99/voicelearn/pkg/audio/playback"
	"github.com/MrWong99/voicelearn/pkg/provider/live"
	"github.com/MrWong99/voicelearn/pkg/provider/llm"
	"github.com/MrWong99/voicelearn/pkg/provider/tts"
)

// Providers holds one value per provider slot. Nil means the provider is not
// configured. Populated by main.go via the config registry.
type Providers struct {
	LLM  llm.Provider
	TTS  tts.Provider
	Live live.Dialer

	// LiveName labels live session metrics.
	LiveName string
}

// Devices are the local audio endpoints shared by all screens. Each screen
// gets its own playback timeline on Speaker.
type Devices struct {
	Mic     voice.MicFunc
	Speaker playback.Sink
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers Providers
	devices   Devices
	catalog   *library.Catalog
	tutor     *tutor.Service
	metrics   *observe.Metrics
	router    *Router
	log       *slog.Logger

	mu      sync.Mutex
	learner config.LearnerConfig

	screenOpts []screen.Option

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithCatalog injects a library instead of loading cfg.Library.File.
func WithCatalog(c *library.Catalog) Option {
	return func(a *App) { a.catalog = c }
}

// WithMetrics records on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithScreenOptions appends opts to every screen Build creates. They are
// applied after the learner settings, so a language given here wins.
func WithScreenOptions(opts ...screen.Option) Option {
	return func(a *App) { a.screenOpts = append(a.screenOpts, opts...) }
}

// WithCloser registers fn to run during Shutdown, after the open screen was
// closed. Closers run in registration order.
func WithCloser(fn func() error) Option {
	return func(a *App) { a.closers = append(a.closers, fn) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App. providers.LLM is required; TTS, Live and the devices
// may be missing, in which case the screens that need them fail to open.
func New(cfg *config.Config, providers Providers, devices Devices, opts ...Option) (*App, error) {
	if providers.LLM == nil {
		return nil, errors.New("app: an LLM provider is required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		devices:   devices,
		learner:   cfg.Learner,
		log:       slog.Default().With("component", "app"),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.catalog == nil {
		c, err := library.Load(cfg.Library.File)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		a.catalog = c
	}
	a.tutor = tutor.New(providers.LLM, providers.TTS,
		tutor.WithMetrics(a.metrics),
		tutor.WithVoice(cfg.Learner.Voice),
	)
	a.router = NewRouter(a)
	a.log.Info("app: ready", "items", len(a.catalog.Items()))
	return a, nil
}

// Catalog returns the library.
func (a *App) Catalog() *library.Catalog { return a.catalog }

// Tutor returns the tutor service.
func (a *App) Tutor() *tutor.Service { return a.tutor }

// Router returns the view router.
func (a *App) Router() *Router { return a.router }

// ApplyLearner replaces the learner settings. Screens opened afterwards use
// them; open screens keep their language until changed by the user.
func (a *App) ApplyLearner(l config.LearnerConfig) {
	a.mu.Lock()
	a.learner = l
	a.mu.Unlock()
	a.log.Info("app: learner settings updated",
		"reader", l.ReaderLanguage, "tutor", l.TutorLanguage, "search", l.SearchLanguage, "voice", l.Voice)
}

func (a *App) learnerSettings() config.LearnerConfig {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.learner
}

// ─── Screen construction ─────────────────────────────────────────────────────

// ErrNoDevice is returned when a screen needs an audio device that is not
// configured.
var ErrNoDevice = errors.New("app: audio device not configured")

// Build implements [Builder].
func (a *App) Build(view View, item *library.Item) (screen.Screen, error) {
	l := a.learnerSettings()
	switch view {
	case ViewReader:
		if item == nil {
			return nil, errors.New("app: reader needs an item")
		}
		if a.devices.Speaker == nil {
			return nil, fmt.Errorf("app: reader: %w", ErrNoDevice)
		}
		opts := []screen.Option{screen.WithVoice(l.Voice)}
		if lang, err := language.Reader.Lookup(l.ReaderLanguage); err == nil {
			opts = append(opts, screen.WithLanguage(lang))
		}
		opts = append(opts, a.screenOpts...)
		return screen.NewReader(*item, a.tutor, a.tutor, playback.NewScheduler(a.devices.Speaker), opts...), nil

	case ViewSolver:
		opts := []screen.Option{screen.WithVoice(a.cfg.Providers.Live.Voice)}
		if lang, err := language.Tutor.Lookup(l.TutorLanguage); err == nil {
			opts = append(opts, screen.WithLanguage(lang))
		}
		var sched *playback.Scheduler
		if a.devices.Speaker != nil {
			sched = playback.NewScheduler(a.devices.Speaker)
		}
		opts = append(opts, a.screenOpts...)
		return screen.NewSolver(a.tutor, a.bridge(sched), a.catalog.SuggestedQuestions(), opts...), nil

	case ViewSearch:
		var opts []screen.Option
		if lang, err := language.Search.Lookup(l.SearchLanguage); err == nil {
			opts = append(opts, screen.WithLanguage(lang))
		}
		opts = append(opts, a.screenOpts...)
		return screen.NewSearch(a.catalog, a.bridge(nil), opts...), nil
	}
	return nil, nil
}

// bridge builds a voice bridge for one screen. A missing live provider or
// microphone surfaces when the user starts a session.
func (a *App) bridge(sched *playback.Scheduler) *voice.Bridge {
	dialer := a.providers.Live
	if dialer == nil {
		dialer = live.DialerFunc(func(context.Context, live.SessionConfig) (live.Conn, error) {
			return nil, errors.New("app: no live provider configured")
		})
	}
	mic := a.devices.Mic
	if mic == nil {
		mic = func() (capture.Source, error) { return nil, fmt.Errorf("app: microphone: %w", ErrNoDevice) }
	}
	opts := []voice.Option{
		voice.WithMetrics(a.metrics),
		voice.WithProviderName(a.providers.LiveName),
		voice.WithCapture(
			audio.Format{SampleRate: a.cfg.Audio.InputSampleRate, Channels: 1},
			a.cfg.Audio.FrameSize,
		),
	}
	if rate := a.cfg.Audio.OutputSampleRate; rate > 0 {
		opts = append(opts, voice.WithOutputFormat(audio.Format{SampleRate: rate, Channels: 1}))
	}
	return voice.New(dialer, mic, sched, opts...)
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown closes the open screen and runs the registered closers. Safe to
// call more than once; only the first call does work.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		a.router.Close()
		for _, c := range a.closers {
			if ctx.Err() != nil {
				errs = append(errs, ctx.Err())
				break
			}
			if err := c(); err != nil {
				errs = append(errs, err)
			}
		}
		a.log.Info("app: shut down")
	})
	return errors.Join(errs...)
}
