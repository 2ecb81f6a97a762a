// Package device provides concrete microphones and speakers for the capture
// and playback paths.
//
// Two backends exist. The WAV backend reads microphone audio from a WAV file
// and renders playback into one, pacing both against the wall clock. The
// PortAudio backend talks to real hardware and is only compiled with the
// "portaudio" build tag, since it needs the C library at link time.
package device

import (
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/voicelearn/pkg/audio"
	"github.com/MrWong99/voicelearn/pkg/audio/playback"
)

var (
	// ErrPermissionDenied is returned when the microphone cannot be acquired
	// because access was refused or the device is held elsewhere.
	ErrPermissionDenied = errors.New("device: microphone permission denied")

	// ErrUnavailable is returned when a backend was not compiled in.
	ErrUnavailable = errors.New("device: backend unavailable")
)

// timeline mixes scheduled voices into a mono output stream at a fixed rate.
// Its clock is the number of frames rendered so far.
type timeline struct {
	rate int

	mu     sync.Mutex
	pos    int64
	voices []*voice

	// last is the most recently scheduled voice and lastEnd the device time
	// at which a scheduler expects it to end. A voice requested at exactly
	// lastEnd starts on the frame after last, whatever the rounding of
	// either duration.
	last    *voice
	lastEnd time.Duration
}

func newTimeline(rate int) *timeline {
	if rate <= 0 {
		rate = audio.PlaybackFormat.SampleRate
	}
	return &timeline{rate: rate}
}

func (t *timeline) now() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.toDuration(t.pos)
}

func (t *timeline) toDuration(frames int64) time.Duration {
	return time.Duration(frames) * time.Second / time.Duration(t.rate)
}

// toFrames rounds to the nearest frame. Durations built from frame counts
// are truncated to the nanosecond, so flooring would start a buffer one
// frame early.
func (t *timeline) toFrames(d time.Duration) int64 {
	return (int64(d)*int64(t.rate) + int64(time.Second)/2) / int64(time.Second)
}

func (t *timeline) play(at time.Duration, buf playback.Buffer) *voice {
	samples := downmix(buf.Channels)
	if buf.SampleRate != t.rate {
		samples = audio.ResampleFloat32(samples, buf.SampleRate, t.rate)
	}
	v := &voice{tl: t, samples: samples, done: make(chan struct{})}

	t.mu.Lock()
	start := t.toFrames(at)
	if l := t.last; l != nil && !l.stopped && at == t.lastEnd {
		start = l.start + int64(len(l.samples))
	}
	v.start = max(start, t.pos)
	t.voices = append(t.voices, v)
	t.last, t.lastEnd = v, at+buf.Duration()
	t.mu.Unlock()
	return v
}

// render fills out with the next len(out) frames and finishes every voice
// that ends inside the rendered window.
func (t *timeline) render(out []float32) {
	clear(out)

	t.mu.Lock()
	from := t.pos
	to := from + int64(len(out))
	kept := t.voices[:0]
	var finished []*voice
	for _, v := range t.voices {
		if v.stopped {
			continue
		}
		end := v.start + int64(len(v.samples))
		lo, hi := max(v.start, from), min(end, to)
		for i := lo; i < hi; i++ {
			out[i-from] += v.samples[i-v.start]
		}
		if end <= to {
			finished = append(finished, v)
			continue
		}
		kept = append(kept, v)
	}
	clear(t.voices[len(kept):])
	t.voices = kept
	t.pos = to
	t.mu.Unlock()

	for i, s := range out {
		out[i] = min(max(s, -1), 1)
	}
	for _, v := range finished {
		v.finish()
	}
}

// active reports whether any voice is still pending.
func (t *timeline) active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.voices) > 0
}

// stopAll finishes every pending voice.
func (t *timeline) stopAll() {
	t.mu.Lock()
	voices := t.voices
	t.voices = nil
	t.last = nil
	for _, v := range voices {
		v.stopped = true
	}
	t.mu.Unlock()
	for _, v := range voices {
		v.finish()
	}
}

type voice struct {
	tl      *timeline
	start   int64
	samples []float32
	stopped bool // guarded by tl.mu

	once sync.Once
	done chan struct{}
}

func (v *voice) Stop() {
	v.tl.mu.Lock()
	v.stopped = true
	v.tl.mu.Unlock()
	v.finish()
}

func (v *voice) Done() <-chan struct{} { return v.done }

func (v *voice) finish() { v.once.Do(func() { close(v.done) }) }

func downmix(channels [][]float32) []float32 {
	switch len(channels) {
	case 0:
		return nil
	case 1:
		return channels[0]
	}
	out := make([]float32, len(channels[0]))
	for _, ch := range channels {
		for i := range out {
			out[i] += ch[i]
		}
	}
	scale := 1 / float32(len(channels))
	for i := range out {
		out[i] *= scale
	}
	return out
}
