package tutor

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/MrWong99/voicelearn/pkg/provider/llm"
)

// charsPerToken is the heuristic ratio used for token estimation. Text
// averages roughly 4 characters per token across common tokenizers.
const charsPerToken = 4

// DefaultHistoryBudget is the token budget for chat history sent with a
// question.
const DefaultHistoryBudget = 8000

const summaryPrompt = `Summarise the following conversation between a learner and an AI tutor.
Preserve: the topics covered, what the learner found difficult, open questions,
and anything the tutor promised to explain next. Be concise.`

// window keeps the chat history sent with each question within a token
// budget. Once the estimate exceeds threshold × budget the oldest half is
// replaced by an LLM summary.
//
// The last summary is cached together with the messages it covers, so a
// conversation that keeps growing is summarised incrementally rather than
// from scratch on every question.
type window struct {
	budget    int
	threshold float64
	llm       llm.Provider

	mu      sync.Mutex
	covered []llm.Message
	summary string
}

func newWindow(p llm.Provider, budget int) *window {
	return &window{budget: budget, threshold: 0.75, llm: p}
}

// fit returns history shortened to the budget. A failed summary falls back
// to dropping the oldest half.
func (w *window) fit(ctx context.Context, history []llm.Message) []llm.Message {
	w.mu.Lock()
	summary, covered := w.summary, w.covered
	w.mu.Unlock()

	rest := history
	if len(covered) > 0 && len(covered) <= len(history) && slices.Equal(covered, history[:len(covered)]) {
		rest = history[len(covered):]
	} else {
		summary, covered = "", nil
	}

	limit := int(float64(w.budget) * w.threshold)
	if estimate(summary, rest) > limit && len(rest) > 1 {
		half := len(rest) / 2
		s, err := w.summarise(ctx, summary, rest[:half])
		if err != nil {
			slog.Warn("tutor: history summary failed, dropping oldest messages", "messages", half, "err", err)
			return rest[half:]
		}
		summary = s
		covered = slices.Clone(history[:len(covered)+half])
		rest = rest[half:]

		w.mu.Lock()
		w.summary, w.covered = summary, covered
		w.mu.Unlock()
	}

	if summary == "" {
		return rest
	}
	out := make([]llm.Message, 0, len(rest)+1)
	out = append(out, llm.Message{
		Role:    llm.RoleSystem,
		Content: "[Earlier in this conversation]: " + summary,
	})
	return append(out, rest...)
}

// summarise folds msgs into the previous summary.
func (w *window) summarise(ctx context.Context, previous string, msgs []llm.Message) (string, error) {
	var sb strings.Builder
	if previous != "" {
		fmt.Fprintf(&sb, "[summary so far]: %s\n", previous)
	}
	for _, m := range msgs {
		speaker := "learner"
		if m.Role == llm.RoleAssistant {
			speaker = "tutor"
		}
		fmt.Fprintf(&sb, "[%s]: %s\n", speaker, m.Content)
	}
	resp, err := w.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: summaryPrompt,
		Messages:     []llm.Message{llm.UserMessage(sb.String())},
		Temperature:  0.3,
	})
	if err != nil {
		return "", fmt.Errorf("summarise: %w", err)
	}
	s := strings.TrimSpace(content(resp))
	if s == "" {
		return "", fmt.Errorf("summarise: empty reply")
	}
	return s, nil
}

// estimate returns a rough token count for a summary plus messages.
func estimate(summary string, msgs []llm.Message) int {
	chars := len(summary)
	for _, m := range msgs {
		chars += len(m.Content) + len(m.Role)
	}
	return chars / charsPerToken
}
