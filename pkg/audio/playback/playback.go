// Package playback schedules decoded audio buffers back to back on an output
// device.
//
// A [Scheduler] owns a cursor (the device time at which the next buffer will
// start). Every buffer starts at max(cursor, device now) and moves the cursor
// forward by its own duration, so consecutive buffers neither overlap nor
// leave gaps while the provider keeps up, and playback resumes immediately
// when it falls behind.
package playback

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/voicelearn/pkg/audio"
	"github.com/MrWong99/voicelearn/pkg/audio/pcm"
)

// ErrNoSink is returned when a scheduler was built without an output device.
var ErrNoSink = errors.New("playback: no sink")

// Buffer is decoded audio ready for the output device. Channels holds one
// slice of samples per channel; all channels have the same length.
type Buffer struct {
	Channels   [][]float32
	SampleRate int
}

// Frames returns the number of sample frames in the buffer.
func (b Buffer) Frames() int {
	if len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration returns frames / sample rate.
func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}

// Voice is one buffer in flight on the output device.
type Voice interface {
	// Stop halts the voice immediately. Safe to call more than once and after
	// the voice finished.
	Stop()

	// Done is closed once the voice has finished playing or was stopped.
	Done() <-chan struct{}
}

// Sink is the output device. Now reports the device clock; Play starts buf at
// device time at and returns immediately.
type Sink interface {
	Now() time.Duration
	Play(at time.Duration, buf Buffer) (Voice, error)
}

// Handle identifies a scheduled buffer.
type Handle struct {
	Start    time.Duration
	Duration time.Duration

	voice Voice
}

// Stop halts this buffer only.
func (h *Handle) Stop() { h.voice.Stop() }

// Done is closed when the buffer finished or was stopped.
func (h *Handle) Done() <-chan struct{} { return h.voice.Done() }

// Scheduler places buffers gaplessly on a [Sink]. It is safe for concurrent
// use.
type Scheduler struct {
	sink Sink

	mu   sync.Mutex
	next time.Duration
	live map[*Handle]struct{}
	gen  uint64
}

// NewScheduler returns a scheduler writing to sink.
func NewScheduler(sink Sink) *Scheduler {
	return &Scheduler{
		sink: sink,
		live: make(map[*Handle]struct{}),
	}
}

// Schedule decodes chunk and schedules it. Malformed chunks return a
// *pcm.MalformedAudioError and leave the cursor untouched.
func (s *Scheduler) Schedule(chunk audio.EncodedChunk) (*Handle, error) {
	channels, err := pcm.DecodePCM16(chunk.Data, chunk.Format.Channels)
	if err != nil {
		return nil, err
	}
	return s.ScheduleBuffer(Buffer{Channels: channels, SampleRate: chunk.Format.SampleRate})
}

// ScheduleBuffer schedules an already-decoded buffer. A zero-length buffer is
// a no-op and returns a nil handle.
func (s *Scheduler) ScheduleBuffer(buf Buffer) (*Handle, error) {
	if buf.Frames() == 0 {
		return nil, nil
	}
	if buf.SampleRate <= 0 {
		return nil, fmt.Errorf("playback: invalid sample rate %d", buf.SampleRate)
	}
	if s.sink == nil {
		return nil, ErrNoSink
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := max(s.next, s.sink.Now())
	v, err := s.sink.Play(start, buf)
	if err != nil {
		return nil, fmt.Errorf("playback: play at %v: %w", start, err)
	}
	h := &Handle{Start: start, Duration: buf.Duration(), voice: v}
	s.next = start + h.Duration
	s.live[h] = struct{}{}
	go s.reap(h, s.gen)
	return h, nil
}

func (s *Scheduler) reap(h *Handle, gen uint64) {
	<-h.voice.Done()
	s.mu.Lock()
	if s.gen == gen {
		delete(s.live, h)
	}
	s.mu.Unlock()
}

// StopAll halts every live buffer and resets the cursor to 0.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	live := s.live
	s.live = make(map[*Handle]struct{})
	s.next = 0
	s.gen++
	s.mu.Unlock()

	for h := range live {
		h.voice.Stop()
	}
}

// NextStart returns the cursor.
func (s *Scheduler) NextStart() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Live returns the number of buffers still playing or waiting to play.
func (s *Scheduler) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// Idle returns a channel closed once every buffer scheduled so far finished.
func (s *Scheduler) Idle() <-chan struct{} {
	s.mu.Lock()
	pending := make([]*Handle, 0, len(s.live))
	for h := range s.live {
		pending = append(pending, h)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, h := range pending {
			<-h.Done()
		}
	}()
	return done
}
