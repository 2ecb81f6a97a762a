package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/voicelearn/internal/config"
)

// rootFlags are the persistent flags shared by every subcommand.
type rootFlags struct {
	configPath string
	logLevel   string
	envFiles   []string
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}
	cmd := &cobra.Command{
		Use:   "voicelearn",
		Short: "VoiceLearn - read, translate and talk with an AI tutor",
		Long: `VoiceLearn reads library items aloud in English, Hindi or Tamil, answers
questions through a text tutor, and runs realtime voice sessions for tutoring
and spoken search.

Without --config the built-in defaults are used. API keys are taken from the
config file or from GEMINI_API_KEY, API_KEY and the other provider variables,
which may also live in a .env file.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&f.configPath, "config", "c", os.Getenv("VOICELEARN_CONFIG"), "path to the YAML configuration file")
	pf.StringVar(&f.logLevel, "log-level", "", "override server.log_level (debug, info, warn, error)")
	pf.StringSliceVar(&f.envFiles, "env-file", nil, "dotenv files to load before the config (default .env)")

	cmd.AddCommand(
		newLibraryCmd(f),
		newReadCmd(f),
		newAskCmd(f),
		newLiveCmd(f),
		newSearchCmd(f),
	)
	return cmd
}

// loadConfig loads the env files and the configuration, then applies the
// --log-level override.
func loadConfig(f *rootFlags) (*config.Config, error) {
	if err := config.LoadEnv(f.envFiles...); err != nil {
		return nil, err
	}
	cfg, err := config.Load(f.configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file %q not found, copy configs/example.yaml to get started", f.configPath)
		}
		return nil, err
	}
	if f.logLevel != "" {
		lvl := config.LogLevel(f.logLevel)
		if !lvl.IsValid() {
			return nil, fmt.Errorf("--log-level %q is invalid; valid values: debug, info, warn, error", f.logLevel)
		}
		cfg.Server.LogLevel = lvl
	}
	return cfg, nil
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newLogger returns a text logger on stderr whose level can be changed later
// through lvl.
func newLogger(lvl *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
