// Package mock provides in-memory implementations of the capture and
// playback device interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every call so that tests
// can assert on call counts and arguments, and expose exported fields that
// control return values.
//
// Typical usage:
//
//	sink := mock.NewSink()
//	sched := playback.NewScheduler(sink)
//	sched.Schedule(chunk)
//	sink.Advance(time.Second) // finishes every voice that ended by t=1s
//
//	src := mock.NewSource(8)
//	src.Feed(audio.AudioFrame{Samples: make([]float32, 4096), SampleRate: 16000, Channels: 1})
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/voicelearn/pkg/audio"
	"github.com/MrWong99/voicelearn/pkg/audio/capture"
	"github.com/MrWong99/voicelearn/pkg/audio/playback"
)

// ─── Sink ─────────────────────────────────────────────────────────────────────

// PlayCall records the arguments of a single [Sink.Play] invocation.
type PlayCall struct {
	// At is the device time the buffer was scheduled for.
	At time.Duration
	// Buffer is the decoded audio.
	Buffer playback.Buffer
	// Voice is the voice returned to the caller.
	Voice *Voice
}

// Sink is a [playback.Sink] with a manually driven clock. Voices finish only
// when [Sink.Advance] moves the clock past their end.
type Sink struct {
	mu  sync.Mutex
	now time.Duration

	// PlayError, when set, is returned by every Play call.
	PlayError error

	// PlayCalls records all Play invocations in order.
	PlayCalls []PlayCall
}

var _ playback.Sink = (*Sink)(nil)

// NewSink returns a sink whose clock reads 0.
func NewSink() *Sink { return &Sink{} }

// Now implements [playback.Sink].
func (s *Sink) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Play implements [playback.Sink]. Records the call and returns a [Voice].
func (s *Sink) Play(at time.Duration, buf playback.Buffer) (playback.Voice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PlayError != nil {
		return nil, s.PlayError
	}
	v := &Voice{End: at + buf.Duration(), done: make(chan struct{})}
	s.PlayCalls = append(s.PlayCalls, PlayCall{At: at, Buffer: buf, Voice: v})
	return v, nil
}

// SetNow moves the clock to t without finishing any voice.
func (s *Sink) SetNow(t time.Duration) {
	s.mu.Lock()
	s.now = t
	s.mu.Unlock()
}

// Advance moves the clock forward by d and finishes every voice whose end
// time is at or before the new clock.
func (s *Sink) Advance(d time.Duration) {
	s.mu.Lock()
	s.now += d
	now := s.now
	var finished []*Voice
	for _, c := range s.PlayCalls {
		if c.Voice.End <= now {
			finished = append(finished, c.Voice)
		}
	}
	s.mu.Unlock()
	for _, v := range finished {
		v.finish()
	}
}

// Calls returns a copy of PlayCalls.
func (s *Sink) Calls() []PlayCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PlayCall(nil), s.PlayCalls...)
}

// ─── Voice ────────────────────────────────────────────────────────────────────

// Voice is a [playback.Voice] finished by [Sink.Advance] or [Voice.Stop].
type Voice struct {
	// End is the device time at which the voice finishes naturally.
	End time.Duration

	mu      sync.Mutex
	stopped bool
	once    sync.Once
	done    chan struct{}
}

// Stop implements [playback.Voice].
func (v *Voice) Stop() {
	v.mu.Lock()
	v.stopped = true
	v.mu.Unlock()
	v.finish()
}

// Done implements [playback.Voice].
func (v *Voice) Done() <-chan struct{} { return v.done }

// Stopped reports whether Stop was called.
func (v *Voice) Stopped() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stopped
}

func (v *Voice) finish() { v.once.Do(func() { close(v.done) }) }

// ─── Source ───────────────────────────────────────────────────────────────────

// OpenCall records the arguments of a single [Source.Open] invocation.
type OpenCall struct {
	Format    audio.Format
	FrameSize int
}

// Source is a [capture.Source] fed by the test through [Source.Feed]. The
// frame channel closes when the source is closed or the Open context ends.
type Source struct {
	mu     sync.Mutex
	frames chan audio.AudioFrame
	closed bool
	opened chan struct{}
	once   sync.Once

	// OpenError, when set, is returned by Open.
	OpenError error

	// OpenCalls records all Open invocations.
	OpenCalls []OpenCall

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

var _ capture.Source = (*Source)(nil)

// NewSource returns a source whose frame channel buffers up to capacity
// frames.
func NewSource(capacity int) *Source {
	return &Source{
		frames: make(chan audio.AudioFrame, capacity),
		opened: make(chan struct{}),
	}
}

// Open implements [capture.Source].
func (s *Source) Open(ctx context.Context, format audio.Format, frameSize int) (<-chan audio.AudioFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OpenCalls = append(s.OpenCalls, OpenCall{Format: format, FrameSize: frameSize})
	if s.OpenError != nil {
		return nil, s.OpenError
	}
	s.once.Do(func() { close(s.opened) })
	context.AfterFunc(ctx, func() { _ = s.Close() })
	return s.frames, nil
}

// Opened is closed after the first successful Open.
func (s *Source) Opened() <-chan struct{} { return s.opened }

// Feed delivers a frame to the reader. It reports false once the source is
// closed. Feed blocks while the buffer is full.
func (s *Source) Feed(f audio.AudioFrame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.frames <- f
	return true
}

// Close implements [capture.Source]. Safe to call more than once.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
	return nil
}

// Closed reports whether Close was called.
func (s *Source) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
