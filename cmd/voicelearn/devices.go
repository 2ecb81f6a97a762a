package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/voicelearn/internal/app"
	"github.com/MrWong99/voicelearn/internal/config"
	"github.com/MrWong99/voicelearn/pkg/audio/capture"
	"github.com/MrWong99/voicelearn/pkg/audio/device"
)

// openDevices builds the microphone and speaker for the configured backend.
// The returned closers release the devices and must run at shutdown.
//
// A portaudio backend that was not compiled in yields no devices; commands
// that need audio then fail with [app.ErrNoDevice].
func openDevices(cfg config.AudioConfig) (app.Devices, []func() error, error) {
	switch cfg.Backend {
	case config.BackendWAV:
		var (
			d       app.Devices
			closers []func() error
		)
		if path := cfg.InputFile; path != "" {
			d.Mic = func() (capture.Source, error) {
				return &device.WAVSource{Path: path, Realtime: true}, nil
			}
		}
		if cfg.OutputFile != "" {
			sink := device.NewWAVSink(cfg.OutputFile, cfg.OutputSampleRate)
			d.Speaker = sink
			closers = append(closers, sink.Close)
		}
		slog.Info("audio devices opened", "backend", cfg.Backend, "input", cfg.InputFile, "output", cfg.OutputFile)
		return d, closers, nil

	default:
		spk, err := device.NewSpeaker(cfg.OutputSampleRate)
		if errors.Is(err, device.ErrUnavailable) {
			slog.Warn("portaudio backend not compiled in; rebuild with -tags portaudio or use audio.backend: wav")
			return app.Devices{}, nil, nil
		}
		if err != nil {
			return app.Devices{}, nil, fmt.Errorf("open speaker: %w", err)
		}
		mic := func() (capture.Source, error) {
			m, err := device.NewMicrophone()
			if err != nil {
				return nil, err
			}
			return m, nil
		}
		slog.Info("audio devices opened", "backend", cfg.Backend, "output_rate", cfg.OutputSampleRate)
		return app.Devices{Mic: mic, Speaker: spk}, []func() error{spk.Close}, nil
	}
}
