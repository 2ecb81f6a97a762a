package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/voicelearn/pkg/provider/llm"
	llmmock "github.com/MrWong99/voicelearn/pkg/provider/llm/mock"
)

func TestLLMFallback_Complete(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		primaryErr  error
		secondErr   error
		wantContent string
		wantErr     error
	}{
		{"primary answers", nil, nil, "from primary", nil},
		{"fails over", errors.New("primary down"), nil, "from secondary", nil},
		{"all fail", errors.New("primary down"), errors.New("secondary down"), "", ErrAllFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			primary := &llmmock.Provider{
				CompleteResponse: &llm.CompletionResponse{Content: "from primary"},
				CompleteErr:      tt.primaryErr,
			}
			secondary := &llmmock.Provider{
				CompleteResponse: &llm.CompletionResponse{Content: "from secondary"},
				CompleteErr:      tt.secondErr,
			}
			fb := NewLLMFallback(primary, "gemini", FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3}})
			fb.AddFallback("openai", secondary)

			resp, err := fb.Complete(context.Background(), llm.Prompt("", "hi"))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if resp.Content != tt.wantContent {
				t.Errorf("Content = %q, want %q", resp.Content, tt.wantContent)
			}
			if tt.primaryErr == nil && len(secondary.Calls()) != 0 {
				t.Error("secondary must not be called when primary answers")
			}
		})
	}
}

func TestLLMFallback_StreamCompletion_Failover(t *testing.T) {
	t.Parallel()
	primary := &llmmock.Provider{StreamErr: errors.New("stream failed")}
	secondary := &llmmock.Provider{
		StreamChunks: []llm.Chunk{{Text: "Na"}, {Text: "maste", FinishReason: "stop"}},
	}
	fb := NewLLMFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback("secondary", secondary)

	ch, err := fb.StreamCompletion(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp, err := llm.Collect(ch)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if resp.Content != "Namaste" || resp.FinishReason != "stop" {
		t.Errorf("resp = %+v", resp)
	}
	if got := fb.States(); len(got) != 2 || got["primary"] != StateClosed {
		t.Errorf("States() = %v", got)
	}
}
