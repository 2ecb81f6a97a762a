// Package llm defines the Provider interface for text generation backends.
//
// VoiceLearn uses text models for two jobs: translating reader sentences into
// the learner's language, and answering questions in the doubt solver chat.
// Both are plain prompt/response exchanges, so the interface stays small and
// every backend (Gemini, OpenAI, any-llm-go) maps onto it directly.
//
// Implementations must be safe for concurrent use. Channels returned by
// StreamCompletion are closed by the implementation when the stream ends or
// when the supplied context is cancelled.
package llm

import (
	"context"
	"errors"
	"strings"
)

// ErrEmptyResponse is returned when a backend answers without any candidate
// text.
var ErrEmptyResponse = errors.New("llm: empty response")

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one turn of conversation history.
type Message struct {
	Role    Role
	Content string
}

// UserMessage returns a user-authored Message.
func UserMessage(text string) Message { return Message{Role: RoleUser, Content: text} }

// AssistantMessage returns a model-authored Message.
func AssistantMessage(text string) Message { return Message{Role: RoleAssistant, Content: text} }

// Usage holds token accounting reported by the backend. Counts are zero when
// the backend does not report them.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything a backend needs to produce a reply.
type CompletionRequest struct {
	// SystemPrompt is injected ahead of the history. Backends without a native
	// system field prepend it as a system-role message.
	SystemPrompt string

	// Messages is the ordered conversation history; the last entry is usually
	// the user turn being answered.
	Messages []Message

	// Temperature in [0, 2]. Zero leaves the backend default in place.
	Temperature float64

	// MaxTokens caps the reply length. Zero means the backend default.
	MaxTokens int
}

// Prompt builds a single-turn request.
func Prompt(system, text string) CompletionRequest {
	return CompletionRequest{
		SystemPrompt: system,
		Messages:     []Message{UserMessage(text)},
	}
}

// Chunk is one fragment of a streaming completion.
type Chunk struct {
	// Text is the incremental reply text. May be empty on the final chunk.
	Text string

	// FinishReason is set on the final chunk: "stop", "length", or "error".
	FinishReason string

	// Err is set together with FinishReason "error".
	Err error
}

// CompletionResponse is the full reply returned by Complete.
type CompletionResponse struct {
	Content      string
	FinishReason string
	Usage        Usage
}

// Provider is the abstraction over any text generation backend.
type Provider interface {
	// Complete sends req and waits for the full reply.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// StreamCompletion sends req and returns a channel of reply fragments.
	// Failures after the stream opened arrive as a Chunk with FinishReason
	// "error". The returned channel is never nil when err is nil.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)
}

// Collect drains a stream into a CompletionResponse. It returns the first
// in-stream error, if any, together with the text gathered so far.
func Collect(ch <-chan Chunk) (*CompletionResponse, error) {
	var (
		sb   strings.Builder
		resp CompletionResponse
	)
	for c := range ch {
		sb.WriteString(c.Text)
		if c.FinishReason != "" {
			resp.FinishReason = c.FinishReason
		}
		if c.Err != nil {
			resp.Content = sb.String()
			return &resp, c.Err
		}
	}
	resp.Content = sb.String()
	return &resp, nil
}
