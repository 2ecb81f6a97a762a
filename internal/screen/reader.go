package screen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/MrWong99/voicelearn/internal/language"
	"github.com/MrWong99/voicelearn/internal/library"
	"github.com/MrWong99/voicelearn/pkg/audio"
	"github.com/MrWong99/voicelearn/pkg/audio/playback"
)

// ErrClosed is returned by screen operations after Close.
var ErrClosed = errors.New("screen: closed")

// Playback speeds offered by the reader. CycleSpeed steps through them.
const (
	MinSpeed  = 0.5
	MaxSpeed  = 2.0
	SpeedStep = 0.25
)

// Reader reads one library item aloud sentence by sentence, optionally
// translated.
type Reader struct {
	item  library.Item
	tr    Translator
	sp    Speaker
	sched *playback.Scheduler
	opts  options
	log   *slog.Logger

	mu          sync.Mutex
	idx         int
	lang        language.Language
	speed       float64
	translation string
	loading     bool
	playing     bool
	gen         uint64
	cancel      context.CancelFunc
	closed      bool
}

var _ Screen = (*Reader)(nil)

// NewReader opens item at its first sentence. Speech is scheduled on sched,
// which the reader owns from now on.
func NewReader(item library.Item, tr Translator, sp Speaker, sched *playback.Scheduler, opts ...Option) *Reader {
	o := buildOptions(opts)
	return &Reader{
		item:  item,
		tr:    tr,
		sp:    sp,
		sched: sched,
		opts:  o,
		log:   o.log.With("screen", "reader", "item", item.ID),
		lang:  o.language(language.Reader),
		speed: 1,
	}
}

// Item returns the item being read.
func (r *Reader) Item() library.Item { return r.item }

// Index returns the active sentence index.
func (r *Reader) Index() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.idx
}

// Sentence returns the active sentence in the original language.
func (r *Reader) Sentence() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.item.Content[r.idx]
}

// Progress returns the 1-based position of the active sentence and the
// sentence count.
func (r *Reader) Progress() (current, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.idx + 1, len(r.item.Content)
}

// Translation returns the translation of the active sentence, or "" when it
// has not been translated.
func (r *Reader) Translation() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.translation
}

// Language returns the reading language.
func (r *Reader) Language() language.Language {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lang
}

// Speed returns the playback speed factor.
func (r *Reader) Speed() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.speed
}

// Playing reports whether a sentence is audible.
func (r *Reader) Playing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.playing
}

// Loading reports whether speech for the active sentence is being prepared.
func (r *Reader) Loading() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loading
}

// ── Navigation ──

// Next moves to the following sentence and reports whether it moved.
func (r *Reader) Next() bool { return r.step(1) }

// Prev moves to the preceding sentence and reports whether it moved.
func (r *Reader) Prev() bool { return r.step(-1) }

func (r *Reader) step(delta int) bool {
	r.mu.Lock()
	i := r.idx + delta
	if i < 0 || i >= len(r.item.Content) {
		r.mu.Unlock()
		return false
	}
	r.moveLocked(i)
	r.mu.Unlock()
	notify(r.opts.onChange)
	return true
}

// Select makes sentence i active.
func (r *Reader) Select(i int) error {
	r.mu.Lock()
	if i < 0 || i >= len(r.item.Content) {
		r.mu.Unlock()
		return fmt.Errorf("screen: sentence %d out of range [0, %d)", i, len(r.item.Content))
	}
	r.moveLocked(i)
	r.mu.Unlock()
	notify(r.opts.onChange)
	return nil
}

// moveLocked changes the active sentence. Playback of the old sentence
// continues; its translation is dropped.
func (r *Reader) moveLocked(i int) {
	r.idx = i
	r.translation = ""
}

// SetLanguage changes the reading language and stops playback.
func (r *Reader) SetLanguage(l language.Language) {
	r.mu.Lock()
	r.lang = l
	r.translation = ""
	r.stopLocked()
	r.mu.Unlock()
	notify(r.opts.onChange)
}

// CycleSpeed advances the speed by [SpeedStep], wrapping from [MaxSpeed] to
// [MinSpeed], and returns the new speed. It applies from the next Play.
func (r *Reader) CycleSpeed() float64 {
	r.mu.Lock()
	if r.speed >= MaxSpeed {
		r.speed = MinSpeed
	} else {
		r.speed += SpeedStep
	}
	s := r.speed
	r.mu.Unlock()
	notify(r.opts.onChange)
	return s
}

// ── Playback ──

// Play reads the active sentence. Non-English sentences are translated
// first and the translation becomes visible through Translation. Any earlier
// playback is stopped. The returned handle finishes when the sentence has
// been spoken; it is nil if a newer Play, Pause or SetLanguage superseded
// this one before audio was ready.
func (r *Reader) Play(ctx context.Context) (*playback.Handle, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	r.stopLocked()
	r.gen++
	gen := r.gen
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.loading = true
	text, lang, speed := r.item.Content[r.idx], r.lang, r.speed
	r.mu.Unlock()
	notify(r.opts.onChange)

	h, err := r.play(ctx, gen, text, lang, speed)

	r.mu.Lock()
	if r.gen == gen {
		r.loading = false
		if err != nil || h == nil {
			r.cancel = nil
			cancel()
		}
	}
	r.mu.Unlock()
	notify(r.opts.onChange)
	return h, err
}

func (r *Reader) play(ctx context.Context, gen uint64, text string, lang language.Language, speed float64) (*playback.Handle, error) {
	if !lang.IsEnglish() {
		text = r.tr.Translate(ctx, text, lang)
		if !r.current(gen, func() { r.translation = text }) {
			return nil, nil
		}
		notify(r.opts.onChange)
	}

	chunk, err := r.sp.Speak(ctx, language.ReadAloudPrompt(text, lang), r.opts.voice)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		r.log.Warn("screen: reader speech failed", "err", err)
		return nil, fmt.Errorf("screen: read sentence: %w", err)
	}

	var h *playback.Handle
	ok := r.current(gen, func() {
		h, err = r.sched.Schedule(WithSpeed(chunk, speed))
		if err == nil && h != nil {
			r.playing = true
		}
	})
	if !ok {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("screen: read sentence: %w", err)
	}
	if h != nil {
		go r.watch(gen, h)
	}
	return h, nil
}

// current runs fn under the lock if gen is still the latest Play.
func (r *Reader) current(gen uint64, fn func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen != gen || r.closed {
		return false
	}
	fn()
	return true
}

// watch clears the playing flag when the sentence ends on its own. With
// auto-advance on, the next sentence becomes active.
func (r *Reader) watch(gen uint64, h *playback.Handle) {
	<-h.Done()
	changed := r.current(gen, func() {
		r.playing = false
		if r.cancel != nil {
			r.cancel()
			r.cancel = nil
		}
		if r.opts.autoAdvance && r.idx < len(r.item.Content)-1 {
			r.moveLocked(r.idx + 1)
		}
	})
	if changed {
		notify(r.opts.onChange)
	}
}

// Pause stops playback of the active sentence.
func (r *Reader) Pause() {
	r.mu.Lock()
	r.stopLocked()
	r.mu.Unlock()
	notify(r.opts.onChange)
}

// stopLocked cancels a pending Play and silences the timeline.
func (r *Reader) stopLocked() {
	r.gen++
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.playing = false
	r.loading = false
	r.sched.StopAll()
}

// Close stops playback. The reader cannot play afterwards.
func (r *Reader) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.stopLocked()
	r.closed = true
}

// WithSpeed returns chunk shortened or stretched by factor, like changing
// the playback rate of a tape: tempo and pitch move together. The format is
// unchanged. A factor of 1, zero or below returns chunk as is.
func WithSpeed(chunk audio.EncodedChunk, factor float64) audio.EncodedChunk {
	rate := chunk.Format.SampleRate
	if factor <= 0 || factor == 1 || rate <= 0 {
		return chunk
	}
	target := int(math.Round(float64(rate) / factor))
	if chunk.Format.Channels == 2 {
		chunk.Data = audio.ResampleStereo16(chunk.Data, rate, target)
	} else {
		chunk.Data = audio.ResampleMono16(chunk.Data, rate, target)
	}
	return chunk
}
