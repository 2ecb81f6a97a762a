package main

import (
	"fmt"
	"io"

	"github.com/MrWong99/voicelearn/internal/config"
)

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║       VoiceLearn - startup summary    ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printProvider(w, "LLM", cfg.Providers.LLM)
	printProvider(w, "TTS", cfg.Providers.TTS)
	printProvider(w, "Live", cfg.Providers.Live)
	printRow(w, "Audio", string(cfg.Audio.Backend))
	library := cfg.Library.File
	if library == "" {
		library = "(built-in sample)"
	}
	printRow(w, "Library", library)
	printRow(w, "Languages", fmt.Sprintf("%s/%s/%s",
		cfg.Learner.ReaderLanguage, cfg.Learner.TutorLanguage, cfg.Learner.SearchLanguage))
	if cfg.Server.MetricsAddr != "" {
		printRow(w, "Metrics", cfg.Server.MetricsAddr)
	}
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func printProvider(w io.Writer, kind string, e config.ProviderEntry) {
	value := e.Name
	switch {
	case value == "":
		value = "(not configured)"
	case len(e.Fallbacks) > 0:
		value = fmt.Sprintf("%s +%d", e.Name, len(e.Fallbacks))
	case e.Model != "":
		value = e.Name + " / " + e.Model
	}
	printRow(w, kind, value)
}

func printRow(w io.Writer, label, value string) {
	if r := []rune(value); len(r) > 19 {
		value = string(r[:18]) + "…"
	}
	fmt.Fprintf(w, "║  %-12s    : %-19s ║\n", label, value)
}
