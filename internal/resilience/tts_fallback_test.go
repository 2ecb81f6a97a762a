package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/voicelearn/pkg/audio"
	"github.com/MrWong99/voicelearn/pkg/provider/tts"
	ttsmock "github.com/MrWong99/voicelearn/pkg/provider/tts/mock"
)

func TestTTSFallback_Synthesize(t *testing.T) {
	t.Parallel()
	primary := &ttsmock.Provider{Chunk: audio.EncodedChunk{Data: []byte{1, 0}}}
	secondary := &ttsmock.Provider{Chunk: audio.EncodedChunk{Data: []byte{2, 0}}}
	fb := NewTTSFallback(primary, "gemini", FallbackConfig{})
	fb.AddFallback("elevenlabs", secondary)

	chunk, err := fb.Synthesize(context.Background(), "hello", "Kore")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chunk.Data[0] != 1 {
		t.Errorf("chunk from wrong provider: %v", chunk.Data)
	}
	calls := primary.Calls()
	if len(calls) != 1 || calls[0].Text != "hello" || calls[0].Voice != "Kore" {
		t.Errorf("primary calls = %+v", calls)
	}
	if len(secondary.Calls()) != 0 {
		t.Error("secondary must not be called")
	}
}

func TestTTSFallback_Synthesize_Failover(t *testing.T) {
	t.Parallel()
	primary := &ttsmock.Provider{SynthesizeErr: errors.New("quota")}
	secondary := &ttsmock.Provider{Chunk: audio.EncodedChunk{Data: []byte{2, 0}}}
	fb := NewTTSFallback(primary, "gemini", FallbackConfig{})
	fb.AddFallback("elevenlabs", secondary)

	chunk, err := fb.Synthesize(context.Background(), "hello", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chunk.Data[0] != 2 || chunk.Format != audio.PlaybackFormat {
		t.Errorf("chunk = %+v", chunk)
	}
}

func TestTTSFallback_AllFail(t *testing.T) {
	t.Parallel()
	fb := NewTTSFallback(&ttsmock.Provider{SynthesizeErr: errors.New("down")}, "gemini", FallbackConfig{})
	if _, err := fb.Synthesize(context.Background(), "x", ""); !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestTTSFallback_ListVoices_Failover(t *testing.T) {
	t.Parallel()
	primary := &ttsmock.Provider{ListVoicesErr: errors.New("unreachable")}
	secondary := &ttsmock.Provider{Voices: []tts.Voice{{ID: "Kore", Provider: "gemini"}}}
	fb := NewTTSFallback(primary, "p", FallbackConfig{})
	fb.AddFallback("s", secondary)

	voices, err := fb.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(voices) != 1 || voices[0].ID != "Kore" {
		t.Errorf("voices = %+v", voices)
	}
}
