// Package tts defines the Provider interface for text-to-speech backends.
//
// VoiceLearn synthesises whole sentences for the reader screen, so a provider
// takes one text and returns one PCM16 chunk ready for the playback scheduler.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"

	"github.com/MrWong99/voicelearn/pkg/audio"
)

// DefaultVoice is the prebuilt voice used when a caller passes an empty name.
const DefaultVoice = "Kore"

// ErrNoAudio is returned when a backend answers without any audio payload.
var ErrNoAudio = errors.New("tts: response contained no audio")

// Voice describes one voice offered by a backend.
type Voice struct {
	// ID is the backend-specific identifier passed to Synthesize.
	ID string

	// Name is the human-readable label.
	Name string

	// Provider names the backend ("gemini", "elevenlabs").
	Provider string

	// Labels holds backend-specific attributes (gender, accent, category).
	Labels map[string]string
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text with the given voice and returns raw
	// little-endian PCM16 audio tagged with its format.
	Synthesize(ctx context.Context, text, voice string) (audio.EncodedChunk, error)

	// ListVoices returns the voices the backend currently offers.
	ListVoices(ctx context.Context) ([]Voice, error)
}

// VoiceOrDefault returns voice, or DefaultVoice when voice is empty.
func VoiceOrDefault(voice string) string {
	if voice == "" {
		return DefaultVoice
	}
	return voice
}
