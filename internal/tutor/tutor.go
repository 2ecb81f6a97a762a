// Package tutor implements the text services behind the VoiceLearn screens:
// sentence translation, read-aloud speech and the tutor chat.
//
// A [Service] talks to one [llm.Provider] and one [tts.Provider]. In the
// running application both are resilience fallbacks, so a tripped primary is
// skipped transparently.
package tutor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/voicelearn/internal/language"
	"github.com/MrWong99/voicelearn/internal/observe"
	"github.com/MrWong99/voicelearn/pkg/audio"
	"github.com/MrWong99/voicelearn/pkg/provider/llm"
	"github.com/MrWong99/voicelearn/pkg/provider/tts"
)

const (
	// SystemInstruction frames every tutor chat.
	SystemInstruction = "You are a helpful AI learning tutor. You explain concepts simply, encourage curiosity, and can help solve doubts from uploaded materials. Keep responses concise and structured."

	// Greeting opens every chat.
	Greeting = "Hello! I'm your AI tutor. I can help you solve doubts, explain complex concepts, or quiz you on any subject. What's on your mind today?"

	// ErrorReply stands in for an empty tutor answer.
	ErrorReply = "Sorry, I encountered an error."
)

// ErrNoSpeech is returned by Speak when no TTS provider is configured.
var ErrNoSpeech = errors.New("tutor: speech synthesis unavailable")

// Option configures a [Service].
type Option func(*Service)

// WithMetrics records durations on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithVoice sets the voice used when Speak is called without one.
func WithVoice(voice string) Option {
	return func(s *Service) {
		if voice != "" {
			s.voice = voice
		}
	}
}

// WithSystemInstruction replaces [SystemInstruction].
func WithSystemInstruction(text string) Option {
	return func(s *Service) { s.system = text }
}

// WithTimeout bounds each provider call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// WithHistoryBudget sets the token budget for chat history. Older turns
// beyond it are summarised. Zero or below sends the history unchanged.
func WithHistoryBudget(tokens int) Option {
	return func(s *Service) { s.budget = tokens }
}

// Service is safe for concurrent use.
type Service struct {
	llm     llm.Provider
	tts     tts.Provider
	metrics *observe.Metrics
	system  string
	voice   string
	timeout time.Duration
	budget  int
	window  *window
}

// New returns a Service. speech may be nil, in which case Speak fails with
// [ErrNoSpeech].
func New(text llm.Provider, speech tts.Provider, opts ...Option) *Service {
	s := &Service{
		llm:     text,
		tts:     speech,
		system:  SystemInstruction,
		voice:   tts.DefaultVoice,
		timeout: 30 * time.Second,
		budget:  DefaultHistoryBudget,
	}
	for _, o := range opts {
		o(s)
	}
	if s.budget > 0 {
		s.window = newWindow(text, s.budget)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Voice returns the default voice.
func (s *Service) Voice() string { return s.voice }

func (s *Service) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Translate returns text in the target language. English targets and blank
// text are returned unchanged without a provider call. Provider failures and
// empty answers are logged and fall back to the original text, so callers can
// always display something.
func (s *Service) Translate(ctx context.Context, text string, target language.Language) string {
	if target.IsEnglish() || strings.TrimSpace(text) == "" {
		return text
	}
	ctx, span := observe.StartSpan(ctx, "tutor.translate")
	start := time.Now()
	cctx, cancel := s.bound(ctx)
	resp, err := s.llm.Complete(cctx, llm.Prompt("", language.TranslatePrompt(text, target)))
	cancel()
	observe.Since(ctx, s.metrics.TranslateDuration, start, observe.Attr("language", target.Code))
	observe.EndSpan(span, err, observe.Attr("language", target.Code))

	if err != nil {
		observe.Logger(ctx).Warn("tutor: translation failed, showing original", "language", target.Name, "err", err)
		return text
	}
	out := strings.TrimSpace(content(resp))
	if out == "" {
		return text
	}
	return trimQuotes(out)
}

// trimQuotes drops one pair of wrapping double quotes that models tend to
// echo back from the prompt.
func trimQuotes(s string) string {
	if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		return s[1 : len(s)-1]
	}
	return s
}

// Speak synthesises text with voice, or the default voice when empty. The
// chunk is mono PCM16, normally at 24 kHz.
func (s *Service) Speak(ctx context.Context, text, voice string) (audio.EncodedChunk, error) {
	if s.tts == nil {
		return audio.EncodedChunk{}, ErrNoSpeech
	}
	if strings.TrimSpace(text) == "" {
		return audio.EncodedChunk{}, errors.New("tutor: speak: empty text")
	}
	voice = tts.VoiceOrDefault(cmpOr(voice, s.voice))

	ctx, span := observe.StartSpan(ctx, "tutor.speak")
	start := time.Now()
	cctx, cancel := s.bound(ctx)
	chunk, err := s.tts.Synthesize(cctx, text, voice)
	cancel()
	observe.Since(ctx, s.metrics.TTSDuration, start, observe.Attr("voice", voice))
	observe.EndSpan(span, err, observe.Attr("voice", voice))
	if err != nil {
		return audio.EncodedChunk{}, fmt.Errorf("tutor: speak: %w", err)
	}
	return chunk, nil
}

// Voices lists the voices of the TTS provider.
func (s *Service) Voices(ctx context.Context) ([]tts.Voice, error) {
	if s.tts == nil {
		return nil, ErrNoSpeech
	}
	return s.tts.ListVoices(ctx)
}

// Ask sends message to the tutor after history and returns the answer. An
// empty answer is replaced with [ErrorReply].
func (s *Service) Ask(ctx context.Context, history []llm.Message, message string) (string, error) {
	ctx, span := observe.StartSpan(ctx, "tutor.ask")
	start := time.Now()
	cctx, cancel := s.bound(ctx)
	resp, err := s.llm.Complete(cctx, s.chatRequest(cctx, history, message))
	cancel()
	observe.Since(ctx, s.metrics.LLMDuration, start, observe.Attr("op", "ask"))
	observe.EndSpan(span, err, observe.Attr("history", fmt.Sprint(len(history))))
	if err != nil {
		return "", fmt.Errorf("tutor: ask: %w", err)
	}
	return replyOrError(content(resp)), nil
}

// AskStream is Ask with incremental delivery: onDelta receives each text
// fragment as it arrives. The full answer is returned at the end.
func (s *Service) AskStream(ctx context.Context, history []llm.Message, message string, onDelta func(string)) (string, error) {
	ctx, span := observe.StartSpan(ctx, "tutor.ask_stream")
	start := time.Now()
	cctx, cancel := s.bound(ctx)
	defer cancel()

	ch, err := s.llm.StreamCompletion(cctx, s.chatRequest(cctx, history, message))
	if err != nil {
		observe.EndSpan(span, err)
		return "", fmt.Errorf("tutor: ask: %w", err)
	}
	var sb strings.Builder
	for c := range ch {
		if c.Err != nil {
			err = c.Err
			break
		}
		if c.Text == "" {
			continue
		}
		sb.WriteString(c.Text)
		if onDelta != nil {
			onDelta(c.Text)
		}
	}
	if err != nil {
		audio.Drain(ch)
	}
	observe.Since(ctx, s.metrics.LLMDuration, start, observe.Attr("op", "ask_stream"))
	observe.EndSpan(span, err)
	if err != nil {
		return sb.String(), fmt.Errorf("tutor: ask: %w", err)
	}
	return replyOrError(sb.String()), nil
}

func (s *Service) chatRequest(ctx context.Context, history []llm.Message, message string) llm.CompletionRequest {
	if s.window != nil {
		history = s.window.fit(ctx, history)
	}
	msgs := make([]llm.Message, 0, len(history)+1)
	msgs = append(msgs, history...)
	msgs = append(msgs, llm.UserMessage(message))
	return llm.CompletionRequest{SystemPrompt: s.system, Messages: msgs}
}

func content(resp *llm.CompletionResponse) string {
	if resp == nil {
		return ""
	}
	return resp.Content
}

func replyOrError(s string) string {
	if strings.TrimSpace(s) == "" {
		return ErrorReply
	}
	return s
}

func cmpOr(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
