package screen

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/MrWong99/voicelearn/internal/language"
	"github.com/MrWong99/voicelearn/internal/library"
	"github.com/MrWong99/voicelearn/internal/voice"
	"github.com/MrWong99/voicelearn/pkg/provider/live"
)

// Search is voice and text search over the library. Voice search runs a
// transcription-only live session whose recognised words are appended to
// the query; the session ends after the first complete turn.
type Search struct {
	catalog *library.Catalog
	bridge  Bridge
	opts    options
	log     *slog.Logger

	mu      sync.Mutex
	query   string
	lang    language.Language
	results []library.Result
	err     error
	closed  bool

	// gen identifies the voice search the screen currently listens to.
	// Callbacks carry the gen of their session and are dropped once it moved.
	gen uint64
}

var _ Screen = (*Search)(nil)

// NewSearch opens the search screen. The default language is
// [language.DefaultSearch].
func NewSearch(catalog *library.Catalog, bridge Bridge, opts ...Option) *Search {
	o := buildOptions(opts)
	lang := language.DefaultSearch
	if o.lang != nil {
		lang = *o.lang
	}
	return &Search{
		catalog: catalog,
		bridge:  bridge,
		opts:    o,
		log:     o.log.With("screen", "search"),
		lang:    lang,
	}
}

// Query returns the current query text.
func (s *Search) Query() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.query
}

// SetQuery replaces the query, as typing would.
func (s *Search) SetQuery(q string) {
	s.mu.Lock()
	s.query = q
	s.mu.Unlock()
	notify(s.opts.onChange)
}

// Language returns the voice search language.
func (s *Search) Language() language.Language {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lang
}

// Listening reports whether voice search is connecting or listening.
func (s *Search) Listening() bool { return s.bridge.Active() }

// Status returns the voice search status.
func (s *Search) Status() voice.Status { return s.bridge.Status() }

// Err returns the error that ended the last voice search, if any.
func (s *Search) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// TrendingTopics and RecentSearches fill the screen before a search.
func (s *Search) TrendingTopics() []library.Topic { return s.catalog.TrendingTopics() }

// RecentSearches returns the recent search strings.
func (s *Search) RecentSearches() []string { return s.catalog.RecentSearches() }

// ToggleVoiceSearch starts listening in the current language, or stops.
func (s *Search) ToggleVoiceSearch(ctx context.Context) error {
	if s.bridge.Active() {
		s.forget()
		s.bridge.Stop()
		notify(s.opts.onChange)
		return nil
	}
	return s.listen(ctx)
}

// SelectLanguage switches the voice search language, clears the query and
// starts listening in the new language.
func (s *Search) SelectLanguage(ctx context.Context, l language.Language) error {
	s.mu.Lock()
	s.switchLanguageLocked(l)
	s.mu.Unlock()
	s.bridge.Stop()
	return s.listen(ctx)
}

// switchLanguageLocked clears the query for l and detaches the running voice
// search, so words still in flight from it cannot reach the new query.
func (s *Search) switchLanguageLocked(l language.Language) {
	s.lang = l
	s.query = ""
	s.results = nil
	s.gen++
}

// FocusInput is called when the user starts typing; it stops listening.
func (s *Search) FocusInput() {
	if s.bridge.Active() {
		s.forget()
		s.bridge.Stop()
		notify(s.opts.onChange)
	}
}

// forget detaches the screen from the running voice search.
func (s *Search) forget() {
	s.mu.Lock()
	s.gen++
	s.mu.Unlock()
}

// current runs fn under the lock if gen is still the running voice search.
func (s *Search) current(gen uint64, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.closed {
		return false
	}
	fn()
	return true
}

func (s *Search) listen(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.gen++
	gen, lang := s.gen, s.lang
	s.err = nil
	s.mu.Unlock()

	cfg := live.SessionConfig{
		Instructions:       language.SearchInstruction(lang),
		ResponseModality:   live.ModalityAudio,
		InputTranscription: true,
	}
	err := s.bridge.Start(ctx, cfg, voice.Callbacks{
		OnStatus: func(voice.Status) { notify(s.opts.onChange) },
		OnTranscript: func(text string, src live.TranscriptSource) {
			if src != live.TranscriptInput {
				return
			}
			if s.current(gen, func() { s.query += text }) {
				notify(s.opts.onChange)
			}
		},
		OnTurnComplete: func() {
			if s.current(gen, func() {}) {
				s.bridge.Stop()
			}
		},
		OnError: func(err error) {
			if !s.current(gen, func() { s.err = err }) {
				return
			}
			s.log.Warn("screen: voice search failed", "language", lang.Name, "err", err)
			s.bridge.Stop()
		},
	})
	notify(s.opts.onChange)
	return err
}

// Search runs the query against the library and returns the results, best
// first. A blank query clears the results.
func (s *Search) Search() []library.Result {
	q := strings.TrimSpace(s.Query())
	var res []library.Result
	if q != "" {
		res = s.catalog.Search(q)
	}
	s.mu.Lock()
	s.results = res
	s.mu.Unlock()
	notify(s.opts.onChange)
	return res
}

// Results returns the results of the last Search.
func (s *Search) Results() []library.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]library.Result(nil), s.results...)
}

// Close stops listening and returns once the microphone is released.
func (s *Search) Close() {
	s.mu.Lock()
	s.closed = true
	s.gen++
	s.mu.Unlock()
	closeBridge(s.bridge, s.log)
}
