package resilience

import (
	"context"

	"github.com/MrWong99/voicelearn/pkg/audio"
	"github.com/MrWong99/voicelearn/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] over a [FallbackGroup] of speech
// backends.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend, tried after all earlier ones.
func (f *TTSFallback) AddFallback(name string, p tts.Provider) {
	f.group.AddFallback(name, p)
}

// States reports the breaker state of every backend.
func (f *TTSFallback) States() map[string]State { return f.group.States() }

// Synthesize returns audio from the first backend that succeeds. Voice names
// are passed through unchanged; a fallback that does not know the voice
// fails and the walk continues.
func (f *TTSFallback) Synthesize(ctx context.Context, text, voice string) (audio.EncodedChunk, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) (audio.EncodedChunk, error) {
		return p.Synthesize(ctx, text, voice)
	})
}

// ListVoices returns the voices of the first backend that answers.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) ([]tts.Voice, error) {
		return p.ListVoices(ctx)
	})
}
