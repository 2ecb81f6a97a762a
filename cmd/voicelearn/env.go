package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voicelearn/internal/app"
	"github.com/MrWong99/voicelearn/internal/config"
	"github.com/MrWong99/voicelearn/internal/health"
	"github.com/MrWong99/voicelearn/internal/observe"
	"github.com/MrWong99/voicelearn/internal/screen"
)

const shutdownTimeout = 15 * time.Second

// env is everything a running subcommand needs: the loaded config, the
// application, and the diagnostics plumbing torn down by close.
type env struct {
	cfg   *config.Config
	app   *app.App
	out   io.Writer
	level *slog.LevelVar

	// changed receives a value after any visible screen state change.
	changed chan struct{}

	checkers     []health.Checker
	watcher      *config.Watcher
	otelShutdown func(context.Context) error
}

// start loads the configuration, installs the logger, builds providers and
// devices and creates the application. opts are passed to [app.New] after the
// defaults.
func start(ctx context.Context, cmd *cobra.Command, f *rootFlags, opts ...app.Option) (*env, error) {
	cfg, err := loadConfig(f)
	if err != nil {
		return nil, err
	}

	e := &env{
		cfg:     cfg,
		out:     cmd.OutOrStdout(),
		level:   new(slog.LevelVar),
		changed: make(chan struct{}, 1),
	}
	e.level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(e.level))

	// The OTel provider must be installed before the first DefaultMetrics call
	// so the instruments are bound to the Prometheus exporter.
	if cfg.Server.MetricsAddr != "" {
		shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
		if err != nil {
			return nil, fmt.Errorf("init telemetry: %w", err)
		}
		e.otelShutdown = shutdown
	}

	reg := config.NewRegistry()
	registerBuiltinProviders(ctx, reg)
	providers, checkers, err := buildProviders(cfg, reg)
	if err != nil {
		return nil, e.abort(err)
	}
	e.checkers = checkers

	devices, closers, err := openDevices(cfg.Audio)
	if err != nil {
		return nil, e.abort(err)
	}

	appOpts := []app.Option{app.WithScreenOptions(screen.WithOnChange(e.notify))}
	for _, c := range closers {
		appOpts = append(appOpts, app.WithCloser(c))
	}
	e.app, err = app.New(cfg, providers, devices, append(appOpts, opts...)...)
	if err != nil {
		for _, c := range closers {
			_ = c()
		}
		return nil, e.abort(err)
	}

	if f.configPath != "" {
		w, err := config.NewWatcher(f.configPath, e.applyConfig)
		if err != nil {
			slog.Warn("config hot reload disabled", "err", err)
		} else {
			e.watcher = w
		}
	}

	printStartupSummary(cmd.ErrOrStderr(), cfg)
	return e, nil
}

// abort releases what start created so far and returns err.
func (e *env) abort(err error) error {
	if e.otelShutdown != nil {
		_ = e.otelShutdown(context.Background())
	}
	return err
}

// notify never blocks; a pending signal already covers this change.
func (e *env) notify() {
	select {
	case e.changed <- struct{}{}:
	default:
	}
}

// applyConfig hot-applies the settings that do not need a restart.
func (e *env) applyConfig(old, cur *config.Config) {
	d := config.Diff(old, cur)
	if d.LogLevelChanged {
		e.level.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if len(d.Languages) > 0 || d.VoiceChanged {
		e.app.ApplyLearner(cur.Learner)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}
}

// run executes body next to the diagnostics server, if one is configured.
// When body returns the server is shut down and the application closed.
// Cancellation through ctx is not reported as an error.
func (e *env) run(ctx context.Context, body func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if addr := e.cfg.Server.MetricsAddr; addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           e.diagnosticsHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			slog.Info("diagnostics server listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("diagnostics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		defer cancel()
		return body(gctx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return errors.Join(err, e.close())
}

// diagnosticsHandler serves /metrics, /healthz and /readyz.
func (e *env) diagnosticsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(e.checkers...).Register(mux)
	return observe.Middleware(observe.DefaultMetrics(), "/metrics", "/healthz", "/readyz")(mux)
}

// close stops the watcher, shuts the application down and flushes telemetry.
func (e *env) close() error {
	if e.watcher != nil {
		e.watcher.Stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := e.app.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown: %w", err))
	}
	if e.otelShutdown != nil {
		if err := e.otelShutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}

// wait blocks until the next state change or until ctx ends.
func (e *env) wait(ctx context.Context) error {
	select {
	case <-e.changed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
