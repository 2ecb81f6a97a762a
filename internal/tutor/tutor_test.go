package tutor_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/voicelearn/internal/language"
	"github.com/MrWong99/voicelearn/internal/observe"
	"github.com/MrWong99/voicelearn/internal/tutor"
	"github.com/MrWong99/voicelearn/pkg/audio"
	"github.com/MrWong99/voicelearn/pkg/provider/llm"
	llmmock "github.com/MrWong99/voicelearn/pkg/provider/llm/mock"
	"github.com/MrWong99/voicelearn/pkg/provider/tts"
	ttsmock "github.com/MrWong99/voicelearn/pkg/provider/tts/mock"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newService(t *testing.T, l llm.Provider, s tts.Provider, opts ...tutor.Option) (*tutor.Service, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return tutor.New(l, s, append([]tutor.Option{tutor.WithMetrics(m)}, opts...)...), reader
}

func histogramCount(t *testing.T, reader *sdkmetric.ManualReader, name string) uint64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var n uint64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			h, ok := m.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("%s is %T, want histogram", name, m.Data)
			}
			for _, dp := range h.DataPoints {
				n += dp.Count
			}
		}
	}
	return n
}

// ── Translate ──

func TestTranslate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		text      string
		target    language.Language
		resp      *llm.CompletionResponse
		err       error
		want      string
		wantCalls int
	}{
		{
			name:      "english passes through",
			text:      "The sun rises in the east.",
			target:    language.English,
			want:      "The sun rises in the east.",
			wantCalls: 0,
		},
		{
			name:      "blank text skipped",
			text:      "   ",
			target:    language.Hindi,
			want:      "   ",
			wantCalls: 0,
		},
		{
			name:      "translated",
			text:      "Good morning.",
			target:    language.Hindi,
			resp:      &llm.CompletionResponse{Content: "  सुप्रभात।\n"},
			want:      "सुप्रभात।",
			wantCalls: 1,
		},
		{
			name:      "echoed quotes trimmed",
			text:      "Good morning.",
			target:    language.Tamil,
			resp:      &llm.CompletionResponse{Content: `"காலை வணக்கம்."`},
			want:      "காலை வணக்கம்.",
			wantCalls: 1,
		},
		{
			name:      "provider error keeps original",
			text:      "Good morning.",
			target:    language.Tamil,
			err:       errors.New("quota exceeded"),
			want:      "Good morning.",
			wantCalls: 1,
		},
		{
			name:      "empty reply keeps original",
			text:      "Good morning.",
			target:    language.Hindi,
			resp:      &llm.CompletionResponse{Content: ""},
			want:      "Good morning.",
			wantCalls: 1,
		},
		{
			name:      "nil reply keeps original",
			text:      "Good morning.",
			target:    language.Hindi,
			want:      "Good morning.",
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := &llmmock.Provider{CompleteResponse: tt.resp, CompleteErr: tt.err}
			svc, _ := newService(t, p, nil)

			got := svc.Translate(context.Background(), tt.text, tt.target)
			if got != tt.want {
				t.Errorf("Translate = %q, want %q", got, tt.want)
			}
			calls := p.Calls()
			if len(calls) != tt.wantCalls {
				t.Fatalf("calls = %d, want %d", len(calls), tt.wantCalls)
			}
			if tt.wantCalls == 0 {
				return
			}
			msgs := calls[0].Req.Messages
			if len(msgs) != 1 || msgs[0].Content != language.TranslatePrompt(tt.text, tt.target) {
				t.Errorf("prompt = %+v", msgs)
			}
		})
	}
}

func TestTranslate_RecordsDuration(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "नमस्ते"}}
	svc, reader := newService(t, p, nil)

	svc.Translate(context.Background(), "Hello", language.Hindi)
	svc.Translate(context.Background(), "Hello", language.English)

	if n := histogramCount(t, reader, "voicelearn.translate.duration"); n != 1 {
		t.Errorf("translate samples = %d, want 1", n)
	}
}

// ── Speak ──

func TestSpeak(t *testing.T) {
	t.Parallel()

	chunk := audio.EncodedChunk{Data: make([]byte, 480), Format: audio.PlaybackFormat}

	t.Run("default voice", func(t *testing.T) {
		t.Parallel()
		p := &ttsmock.Provider{Chunk: chunk}
		svc, reader := newService(t, &llmmock.Provider{}, p)

		got, err := svc.Speak(context.Background(), "Read this clearly in English: hi", "")
		if err != nil {
			t.Fatalf("Speak: %v", err)
		}
		if len(got.Data) != 480 {
			t.Errorf("data = %d bytes, want 480", len(got.Data))
		}
		calls := p.Calls()
		if len(calls) != 1 || calls[0].Voice != tts.DefaultVoice {
			t.Fatalf("calls = %+v, want one with voice %q", calls, tts.DefaultVoice)
		}
		if n := histogramCount(t, reader, "voicelearn.tts.duration"); n != 1 {
			t.Errorf("tts samples = %d, want 1", n)
		}
	})

	t.Run("service voice", func(t *testing.T) {
		t.Parallel()
		p := &ttsmock.Provider{Chunk: chunk}
		svc, _ := newService(t, &llmmock.Provider{}, p, tutor.WithVoice("Puck"))

		if _, err := svc.Speak(context.Background(), "hi", ""); err != nil {
			t.Fatalf("Speak: %v", err)
		}
		if v := p.Calls()[0].Voice; v != "Puck" {
			t.Errorf("voice = %q, want Puck", v)
		}
	})

	t.Run("explicit voice wins", func(t *testing.T) {
		t.Parallel()
		p := &ttsmock.Provider{Chunk: chunk}
		svc, _ := newService(t, &llmmock.Provider{}, p, tutor.WithVoice("Puck"))

		if _, err := svc.Speak(context.Background(), "hi", "Charon"); err != nil {
			t.Fatalf("Speak: %v", err)
		}
		if v := p.Calls()[0].Voice; v != "Charon" {
			t.Errorf("voice = %q, want Charon", v)
		}
	})

	t.Run("provider error wrapped", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("boom")
		svc, _ := newService(t, &llmmock.Provider{}, &ttsmock.Provider{SynthesizeErr: boom})

		_, err := svc.Speak(context.Background(), "hi", "")
		if !errors.Is(err, boom) {
			t.Errorf("err = %v, want wrapping %v", err, boom)
		}
	})

	t.Run("empty text", func(t *testing.T) {
		t.Parallel()
		p := &ttsmock.Provider{Chunk: chunk}
		svc, _ := newService(t, &llmmock.Provider{}, p)

		if _, err := svc.Speak(context.Background(), " ", ""); err == nil {
			t.Error("expected error for empty text")
		}
		if len(p.Calls()) != 0 {
			t.Error("provider called for empty text")
		}
	})

	t.Run("no provider", func(t *testing.T) {
		t.Parallel()
		svc, _ := newService(t, &llmmock.Provider{}, nil)

		if _, err := svc.Speak(context.Background(), "hi", ""); !errors.Is(err, tutor.ErrNoSpeech) {
			t.Errorf("err = %v, want ErrNoSpeech", err)
		}
		if _, err := svc.Voices(context.Background()); !errors.Is(err, tutor.ErrNoSpeech) {
			t.Errorf("Voices err = %v, want ErrNoSpeech", err)
		}
	})
}

func TestVoices(t *testing.T) {
	t.Parallel()
	p := &ttsmock.Provider{Voices: []tts.Voice{{ID: "Kore"}, {ID: "Puck"}}}
	svc, _ := newService(t, &llmmock.Provider{}, p)

	got, err := svc.Voices(context.Background())
	if err != nil {
		t.Fatalf("Voices: %v", err)
	}
	if len(got) != 2 || got[0].ID != "Kore" {
		t.Errorf("Voices = %+v", got)
	}
}

// ── Ask ──

func TestAsk(t *testing.T) {
	t.Parallel()

	history := []llm.Message{
		llm.AssistantMessage(tutor.Greeting),
		llm.UserMessage("What is entropy?"),
		llm.AssistantMessage("A measure of disorder."),
	}

	t.Run("sends system prompt and history", func(t *testing.T) {
		t.Parallel()
		p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Heat flows from hot to cold."}}
		svc, reader := newService(t, p, nil)

		got, err := svc.Ask(context.Background(), history, "And the second law?")
		if err != nil {
			t.Fatalf("Ask: %v", err)
		}
		if got != "Heat flows from hot to cold." {
			t.Errorf("Ask = %q", got)
		}
		req := p.Calls()[0].Req
		if req.SystemPrompt != tutor.SystemInstruction {
			t.Errorf("system prompt = %q", req.SystemPrompt)
		}
		if len(req.Messages) != 4 {
			t.Fatalf("messages = %d, want 4", len(req.Messages))
		}
		last := req.Messages[3]
		if last.Role != llm.RoleUser || last.Content != "And the second law?" {
			t.Errorf("last message = %+v", last)
		}
		if n := histogramCount(t, reader, "voicelearn.llm.duration"); n != 1 {
			t.Errorf("llm samples = %d, want 1", n)
		}
	})

	t.Run("history not mutated", func(t *testing.T) {
		t.Parallel()
		p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "ok"}}
		svc, _ := newService(t, p, nil)

		h := make([]llm.Message, 1, 8)
		h[0] = llm.AssistantMessage(tutor.Greeting)
		if _, err := svc.Ask(context.Background(), h, "hi"); err != nil {
			t.Fatalf("Ask: %v", err)
		}
		if len(h) != 1 || h[:2][1].Content != "" {
			t.Error("history backing array was written")
		}
	})

	t.Run("empty reply", func(t *testing.T) {
		t.Parallel()
		p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: " \n"}}
		svc, _ := newService(t, p, nil)

		got, err := svc.Ask(context.Background(), nil, "hi")
		if err != nil {
			t.Fatalf("Ask: %v", err)
		}
		if got != tutor.ErrorReply {
			t.Errorf("Ask = %q, want %q", got, tutor.ErrorReply)
		}
	})

	t.Run("provider error", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("boom")
		svc, _ := newService(t, &llmmock.Provider{CompleteErr: boom}, nil)

		got, err := svc.Ask(context.Background(), nil, "hi")
		if !errors.Is(err, boom) {
			t.Errorf("err = %v, want wrapping %v", err, boom)
		}
		if got != "" {
			t.Errorf("reply = %q, want empty on error", got)
		}
	})

	t.Run("custom system instruction", func(t *testing.T) {
		t.Parallel()
		p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "ok"}}
		svc, _ := newService(t, p, nil, tutor.WithSystemInstruction("Be brief."))

		if _, err := svc.Ask(context.Background(), nil, "hi"); err != nil {
			t.Fatalf("Ask: %v", err)
		}
		if sp := p.Calls()[0].Req.SystemPrompt; sp != "Be brief." {
			t.Errorf("system prompt = %q", sp)
		}
	})
}

func TestAskStream(t *testing.T) {
	t.Parallel()

	t.Run("collects deltas", func(t *testing.T) {
		t.Parallel()
		p := &llmmock.Provider{StreamChunks: []llm.Chunk{
			{Text: "Entropy "},
			{Text: "always "},
			{Text: "increases."},
			{FinishReason: "stop"},
		}}
		svc, _ := newService(t, p, nil)

		var deltas []string
		got, err := svc.AskStream(context.Background(), nil, "Explain entropy", func(s string) {
			deltas = append(deltas, s)
		})
		if err != nil {
			t.Fatalf("AskStream: %v", err)
		}
		if got != "Entropy always increases." {
			t.Errorf("reply = %q", got)
		}
		if strings.Join(deltas, "|") != "Entropy |always |increases." {
			t.Errorf("deltas = %q", deltas)
		}
	})

	t.Run("empty stream", func(t *testing.T) {
		t.Parallel()
		p := &llmmock.Provider{StreamChunks: []llm.Chunk{{FinishReason: "stop"}}}
		svc, _ := newService(t, p, nil)

		got, err := svc.AskStream(context.Background(), nil, "hi", nil)
		if err != nil {
			t.Fatalf("AskStream: %v", err)
		}
		if got != tutor.ErrorReply {
			t.Errorf("reply = %q, want %q", got, tutor.ErrorReply)
		}
	})

	t.Run("mid-stream error", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("reset by peer")
		p := &llmmock.Provider{StreamChunks: []llm.Chunk{
			{Text: "Partial "},
			{FinishReason: "error", Err: boom},
			{Text: "never seen"},
		}}
		svc, _ := newService(t, p, nil)

		got, err := svc.AskStream(context.Background(), nil, "hi", nil)
		if !errors.Is(err, boom) {
			t.Fatalf("err = %v, want wrapping %v", err, boom)
		}
		if got != "Partial " {
			t.Errorf("partial = %q", got)
		}
	})

	t.Run("open error", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("unavailable")
		svc, _ := newService(t, &llmmock.Provider{StreamErr: boom}, nil)

		if _, err := svc.AskStream(context.Background(), nil, "hi", nil); !errors.Is(err, boom) {
			t.Errorf("err = %v, want wrapping %v", err, boom)
		}
	})
}
