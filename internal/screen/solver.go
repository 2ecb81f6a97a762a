package screen

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/MrWong99/voicelearn/internal/language"
	"github.com/MrWong99/voicelearn/internal/tutor"
	"github.com/MrWong99/voicelearn/internal/voice"
	"github.com/MrWong99/voicelearn/pkg/provider/live"
	"github.com/MrWong99/voicelearn/pkg/provider/llm"
)

// Role says who wrote a chat message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Message is one line of the tutor chat.
type Message struct {
	Role Role
	Text string
}

// Solver is the doubt solver: a typed tutor chat plus a live voice tutor.
type Solver struct {
	asker     Asker
	bridge    Bridge
	questions []string
	opts      options
	log       *slog.Logger

	mu         sync.Mutex
	messages   []Message
	typing     bool
	lang       language.Language
	transcript []Message
	liveErr    error
	closed     bool

	// gen identifies the live session the transcript belongs to.
	gen uint64
}

var _ Screen = (*Solver)(nil)

// NewSolver opens a chat seeded with the tutor greeting. suggested are the
// canned questions offered before the first message.
func NewSolver(asker Asker, bridge Bridge, suggested []string, opts ...Option) *Solver {
	o := buildOptions(opts)
	return &Solver{
		asker:     asker,
		bridge:    bridge,
		questions: append([]string(nil), suggested...),
		opts:      o,
		log:       o.log.With("screen", "solver"),
		messages:  []Message{{Role: RoleModel, Text: tutor.Greeting}},
		lang:      o.language(language.Tutor),
	}
}

// Messages returns a copy of the chat.
func (s *Solver) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

// SuggestedQuestions returns the canned questions.
func (s *Solver) SuggestedQuestions() []string { return append([]string(nil), s.questions...) }

// Typing reports whether a tutor answer is pending.
func (s *Solver) Typing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.typing
}

// Language returns the tutor language.
func (s *Solver) Language() language.Language {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lang
}

// Send posts text to the tutor and appends the answer. Blank text is
// ignored. On failure the question stays in the chat, no answer is added
// and the error is returned.
func (s *Solver) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	// The greeting is shown in the chat but never sent as context.
	history := toHistory(s.messages[1:])
	s.messages = append(s.messages, Message{Role: RoleUser, Text: text})
	s.typing = true
	prompt := language.ChatPrefix(s.lang) + text
	s.mu.Unlock()
	notify(s.opts.onChange)

	answer, err := s.asker.Ask(ctx, history, prompt)

	s.mu.Lock()
	s.typing = false
	if err == nil && !s.closed {
		s.messages = append(s.messages, Message{Role: RoleModel, Text: answer})
	}
	s.mu.Unlock()
	notify(s.opts.onChange)
	if err != nil {
		s.log.Warn("screen: tutor answer failed", "err", err)
	}
	return err
}

func toHistory(msgs []Message) []llm.Message {
	out := make([]llm.Message, len(msgs))
	for i, m := range msgs {
		if m.Role == RoleUser {
			out[i] = llm.UserMessage(m.Text)
		} else {
			out[i] = llm.AssistantMessage(m.Text)
		}
	}
	return out
}

// ── Live tutor ──

// ToggleLive starts a spoken session with the tutor in the current language,
// or ends the running one.
func (s *Solver) ToggleLive(ctx context.Context) error {
	if s.bridge.Active() {
		s.forget()
		s.bridge.Stop()
		return nil
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.gen++
	gen, lang := s.gen, s.lang
	s.transcript = nil
	s.liveErr = nil
	s.mu.Unlock()

	cfg := live.SessionConfig{
		Instructions:        lang.Instruction,
		ResponseModality:    live.ModalityAudio,
		Voice:               s.opts.voice,
		InputTranscription:  true,
		OutputTranscription: true,
	}
	err := s.bridge.Start(ctx, cfg, voice.Callbacks{
		OnStatus: func(voice.Status) { notify(s.opts.onChange) },
		OnTranscript: func(text string, src live.TranscriptSource) {
			s.onTranscript(gen, text, src)
		},
		OnError: func(err error) {
			if s.current(gen, func() { s.liveErr = err }) {
				s.log.Warn("screen: live tutor failed", "err", err)
			}
		},
	})
	notify(s.opts.onChange)
	return err
}

// onTranscript merges consecutive fragments from the same speaker.
func (s *Solver) onTranscript(gen uint64, text string, src live.TranscriptSource) {
	role := RoleUser
	if src == live.TranscriptOutput {
		role = RoleModel
	}
	ok := s.current(gen, func() {
		if n := len(s.transcript); n > 0 && s.transcript[n-1].Role == role {
			s.transcript[n-1].Text += text
		} else {
			s.transcript = append(s.transcript, Message{Role: role, Text: text})
		}
	})
	if ok {
		notify(s.opts.onChange)
	}
}

// forget detaches the screen from the running live session.
func (s *Solver) forget() {
	s.mu.Lock()
	s.gen++
	s.mu.Unlock()
}

// current runs fn under the lock if gen is still the running live session.
func (s *Solver) current(gen uint64, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.closed {
		return false
	}
	fn()
	return true
}

// LiveStatus returns the status of the live tutor.
func (s *Solver) LiveStatus() voice.Status { return s.bridge.Status() }

// LiveTranscript returns what was said in the current or last live session.
func (s *Solver) LiveTranscript() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.transcript...)
}

// LiveErr returns the error that ended the last live session, if any.
func (s *Solver) LiveErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.liveErr
}

// SetLanguage changes the tutor language. An active live session is ended
// since its instruction names the old language.
func (s *Solver) SetLanguage(l language.Language) {
	s.mu.Lock()
	s.lang = l
	s.mu.Unlock()
	if s.bridge.Active() {
		s.forget()
		s.bridge.Stop()
	}
	notify(s.opts.onChange)
}

// Close ends the live session and returns once the microphone is released.
func (s *Solver) Close() {
	s.mu.Lock()
	s.closed = true
	s.gen++
	s.mu.Unlock()
	closeBridge(s.bridge, s.log)
}
