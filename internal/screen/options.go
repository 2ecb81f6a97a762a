package screen

import (
	"log/slog"

	"github.com/MrWong99/voicelearn/internal/language"
)

// Option configures a screen. Options that do not apply to a screen are
// ignored by it.
type Option func(*options)

type options struct {
	onChange    func()
	lang        *language.Language
	voice       string
	autoAdvance bool
	log         *slog.Logger
}

func buildOptions(opts []Option) options {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	return o
}

// WithOnChange registers fn to run after every visible state change. fn may
// run on a provider or audio goroutine and must not block.
func WithOnChange(fn func()) Option {
	return func(o *options) { o.onChange = fn }
}

// WithLanguage sets the initial language. It must belong to the screen's
// language set.
func WithLanguage(l language.Language) Option {
	return func(o *options) { o.lang = &l }
}

// WithVoice sets the speech voice of the reader and the live tutor.
func WithVoice(voice string) Option {
	return func(o *options) { o.voice = voice }
}

// WithAutoAdvance makes the reader move to the next sentence when one has
// finished playing. Off by default.
func WithAutoAdvance(on bool) Option {
	return func(o *options) { o.autoAdvance = on }
}

// WithLogger sets the screen logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

func (o options) language(set language.Set) language.Language {
	if o.lang != nil {
		return *o.lang
	}
	return set[0]
}
