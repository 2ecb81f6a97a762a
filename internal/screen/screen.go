// Package screen holds the state behind each VoiceLearn screen: the reader,
// the doubt solver and voice search.
//
// Screens are plain state machines. Front ends drive them through their
// methods and redraw on the change callback. Every screen owns its live
// session and its playback timeline exclusively; Close releases both and
// must be called before the screen is discarded.
package screen

import (
	"context"
	"log/slog"
	"time"

	"github.com/MrWong99/voicelearn/internal/language"
	"github.com/MrWong99/voicelearn/internal/voice"
	"github.com/MrWong99/voicelearn/pkg/audio"
	"github.com/MrWong99/voicelearn/pkg/provider/live"
	"github.com/MrWong99/voicelearn/pkg/provider/llm"
)

// Screen is implemented by every screen.
type Screen interface {
	// Close stops all audio and releases the microphone. Idempotent.
	Close()
}

// Translator turns text into another language. Failures fall back to the
// original text.
type Translator interface {
	Translate(ctx context.Context, text string, target language.Language) string
}

// Speaker synthesises speech.
type Speaker interface {
	Speak(ctx context.Context, text, voice string) (audio.EncodedChunk, error)
}

// Asker answers tutor questions.
type Asker interface {
	Ask(ctx context.Context, history []llm.Message, message string) (string, error)
}

// Bridge is the live voice session a screen drives. [*voice.Bridge]
// implements it.
type Bridge interface {
	Start(ctx context.Context, cfg live.SessionConfig, cb voice.Callbacks) error
	Stop()
	Close(ctx context.Context) error
	Active() bool
	Status() voice.Status
}

// closeTimeout bounds how long Close waits for the microphone.
const closeTimeout = 5 * time.Second

// closeBridge ends b and waits until the microphone is released. It must be
// called without the screen lock held, since a running callback may need it.
func closeBridge(b Bridge, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := b.Close(ctx); err != nil {
		log.Warn("screen: release live session", "err", err)
	}
}

var _ Bridge = (*voice.Bridge)(nil)

func notify(fn func()) {
	if fn != nil {
		fn()
	}
}
