// Package language holds the languages each VoiceLearn screen offers and the
// instructions sent to the provider for them.
//
// Lookups accept the display name ("Hindi") or the ISO code ("hi"),
// case-insensitively.
package language

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknown is returned when a name or code matches no language in a set.
var ErrUnknown = errors.New("language: unknown language")

// Language is one selectable language.
type Language struct {
	// Code is the ISO 639-1 code, e.g. "ta".
	Code string

	// Name is the English display name used in prompts, e.g. "Tamil".
	Name string

	// Native is the label shown in the language picker.
	Native string

	// Instruction is the screen-specific provider instruction. Reader
	// languages leave it empty.
	Instruction string
}

// IsEnglish reports whether l needs no translation.
func (l Language) IsEnglish() bool { return l.Code == "en" }

// Set is an ordered list of languages offered by one screen.
type Set []Language

// Lookup finds a language by name or code.
func (s Set) Lookup(nameOrCode string) (Language, error) {
	key := strings.TrimSpace(nameOrCode)
	for _, l := range s {
		if strings.EqualFold(l.Code, key) || strings.EqualFold(l.Name, key) {
			return l, nil
		}
	}
	return Language{}, fmt.Errorf("%w: %q", ErrUnknown, nameOrCode)
}

// Names returns the display names in order.
func (s Set) Names() []string {
	out := make([]string, len(s))
	for i, l := range s {
		out[i] = l.Name
	}
	return out
}

var (
	English = Language{Code: "en", Name: "English", Native: "EN"}
	Hindi   = Language{Code: "hi", Name: "Hindi", Native: "हिन्दी"}
	Tamil   = Language{Code: "ta", Name: "Tamil", Native: "தமிழ்"}
	Marathi = Language{Code: "mr", Name: "Marathi", Native: "Marathi"}
)

// Reader is offered by the reader. The first entry is the default.
var Reader = Set{English, Hindi, Tamil}

// Tutor is offered by the doubt solver; Instruction is the live-session
// system instruction.
var Tutor = Set{
	withInstruction(English, "You are a helpful AI tutor. Respond naturally in English."),
	withInstruction(Hindi, "You are a helpful AI tutor. Respond naturally and fluently in Hindi. Speak clearly using Devanagari context."),
	withInstruction(Tamil, "You are a helpful AI tutor. Respond naturally and fluently in Tamil. Use clear Tamil pronunciation."),
}

// Search is offered by voice search; Instruction completes
// [SearchInstruction]. English is the default, see [DefaultSearch].
var Search = Set{
	withInstruction(Hindi, "accurately transcribe the user's query in Hindi using Devanagari script."),
	withInstruction(Tamil, "accurately transcribe the user's query in Tamil using Tamil script. Ensure proper character recognition."),
	withInstruction(English, "accurately transcribe the user's query in English."),
	withInstruction(Marathi, "accurately transcribe the user's query in Marathi using Devanagari script."),
}

// DefaultSearch is the voice search language selected on entry.
var DefaultSearch = Search[2]

func withInstruction(l Language, instruction string) Language {
	l.Instruction = instruction
	return l
}

// SearchInstruction wraps a search language's instruction into the
// transcription-only system instruction for a live session.
func SearchInstruction(l Language) string {
	objective := strings.TrimSuffix(l.Instruction, ".")
	return "You are a highly accurate speech-to-text engine. Your ONLY objective is to " + objective +
		". Listen intently and transcribe every word exactly as spoken. Do not provide help or chat."
}

// TranslatePrompt is the single-turn prompt asking for a bare translation.
func TranslatePrompt(text string, target Language) string {
	return fmt.Sprintf("Translate the following text to %s. Provide ONLY the translation, no extra text: %q", target.Name, text)
}

// ReadAloudPrompt is the text handed to TTS for a reader sentence. English is
// read verbatim.
func ReadAloudPrompt(text string, l Language) string {
	if l.IsEnglish() {
		return text
	}
	return "Read this clearly in " + l.Name + ": " + text
}

// ChatPrefix is prepended to typed tutor questions for non-English tutors.
func ChatPrefix(l Language) string {
	if l.IsEnglish() {
		return ""
	}
	return "Please respond in " + l.Name + ": "
}
