package screen_test

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/voicelearn/internal/language"
	"github.com/MrWong99/voicelearn/internal/screen"
	"github.com/MrWong99/voicelearn/internal/voice"
	"github.com/MrWong99/voicelearn/pkg/audio"
	"github.com/MrWong99/voicelearn/pkg/provider/live"
	"github.com/MrWong99/voicelearn/pkg/provider/llm"
)

// ─── Translator / Speaker / Asker ────────────────────────────────────────────

type fakeTutor struct {
	mu sync.Mutex

	// Translations maps source text to its translation; missing entries
	// echo the source.
	Translations map[string]string
	// TranslateGate, when set, blocks Translate until closed or ctx ends.
	TranslateGate chan struct{}

	Chunk    audio.EncodedChunk
	SpeakErr error

	Answer string
	AskErr error

	Translated []string
	Spoken     []string
	Voices     []string
	Asked      []askCall
}

type askCall struct {
	History []llm.Message
	Message string
}

var (
	_ screen.Translator = (*fakeTutor)(nil)
	_ screen.Speaker    = (*fakeTutor)(nil)
	_ screen.Asker      = (*fakeTutor)(nil)
)

func (f *fakeTutor) Translate(ctx context.Context, text string, _ language.Language) string {
	f.mu.Lock()
	f.Translated = append(f.Translated, text)
	gate := f.TranslateGate
	out, ok := f.Translations[text]
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return text
		}
	}
	if !ok {
		return text
	}
	return out
}

func (f *fakeTutor) Speak(_ context.Context, text, voice string) (audio.EncodedChunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Spoken = append(f.Spoken, text)
	f.Voices = append(f.Voices, voice)
	if f.SpeakErr != nil {
		return audio.EncodedChunk{}, f.SpeakErr
	}
	return f.Chunk, nil
}

func (f *fakeTutor) Ask(_ context.Context, history []llm.Message, message string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Asked = append(f.Asked, askCall{History: history, Message: message})
	return f.Answer, f.AskErr
}

func (f *fakeTutor) spoken() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Spoken...)
}

// ─── Bridge ──────────────────────────────────────────────────────────────────

// fakeBridge records Start configurations and lets tests fire callbacks.
type fakeBridge struct {
	mu       sync.Mutex
	active   bool
	status   voice.Status
	startErr error

	Configs []live.SessionConfig
	cb      voice.Callbacks
	Stops   int
	Closes  int
}

var _ screen.Bridge = (*fakeBridge)(nil)

func (b *fakeBridge) Start(_ context.Context, cfg live.SessionConfig, cb voice.Callbacks) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Configs = append(b.Configs, cfg)
	if b.startErr != nil {
		return b.startErr
	}
	b.cb = cb
	b.active = true
	b.status = voice.StatusListening
	return nil
}

func (b *fakeBridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Stops++
	b.active = false
	b.status = voice.StatusReady
}

func (b *fakeBridge) Close(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Closes++
	b.active = false
	b.status = voice.StatusReady
	return nil
}

func (b *fakeBridge) closes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Closes
}

func (b *fakeBridge) Active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

func (b *fakeBridge) Status() voice.Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

func (b *fakeBridge) callbacks() voice.Callbacks {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cb
}

func (b *fakeBridge) stops() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Stops
}

func (b *fakeBridge) lastConfig() live.SessionConfig {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Configs[len(b.Configs)-1]
}

var errBoom = errors.New("boom")
