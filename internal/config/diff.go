package config

import "fmt"

// ConfigDiff describes what changed between two configs. Only settings that
// can be applied without restarting are tracked; everything else is reported
// through RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// Languages lists the learner fields whose value changed, by YAML name.
	Languages []string

	VoiceChanged bool
	NewVoice     string

	// RestartRequired names top-level sections whose changes only take effect
	// after a restart.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && len(d.Languages) == 0 && !d.VoiceChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	ol, nl := old.Learner, new.Learner
	if ol.ReaderLanguage != nl.ReaderLanguage {
		d.Languages = append(d.Languages, "reader_language")
	}
	if ol.TutorLanguage != nl.TutorLanguage {
		d.Languages = append(d.Languages, "tutor_language")
	}
	if ol.SearchLanguage != nl.SearchLanguage {
		d.Languages = append(d.Languages, "search_language")
	}
	if ol.Voice != nl.Voice {
		d.VoiceChanged = true
		d.NewVoice = nl.Voice
	}

	if old.Server.MetricsAddr != new.Server.MetricsAddr {
		d.RestartRequired = append(d.RestartRequired, "server.metrics_addr")
	}
	if !providersEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.Library != new.Library {
		d.RestartRequired = append(d.RestartRequired, "library")
	}
	return d
}

func providersEqual(a, b ProvidersConfig) bool {
	return entryEqual(a.LLM, b.LLM) && entryEqual(a.TTS, b.TTS) && entryEqual(a.Live, b.Live)
}

// entryEqual compares the fields that affect provider construction. Options
// are compared by key set and string form.
func entryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model || a.Voice != b.Voice {
		return false
	}
	if len(a.Options) != len(b.Options) || len(a.Fallbacks) != len(b.Fallbacks) {
		return false
	}
	for k, v := range a.Options {
		w, ok := b.Options[k]
		if !ok || !sameValue(v, w) {
			return false
		}
	}
	for i := range a.Fallbacks {
		if !entryEqual(a.Fallbacks[i], b.Fallbacks[i]) {
			return false
		}
	}
	return true
}

func sameValue(a, b any) bool { return fmt.Sprint(a) == fmt.Sprint(b) }
