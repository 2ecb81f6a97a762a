package device

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/wav"

	"github.com/MrWong99/voicelearn/pkg/audio"
	"github.com/MrWong99/voicelearn/pkg/audio/capture"
	"github.com/MrWong99/voicelearn/pkg/audio/playback"
)

// wavPrecision is the sample width in bytes written by [WriteWAV].
const wavPrecision = 2

// ReadWAV decodes a PCM WAV stream. Chunks other than "fmt " and "data" are
// skipped. Multi-channel files are averaged down to mono; the returned format
// still reports the file's channel count.
func ReadWAV(r io.Reader) ([]float32, audio.Format, error) {
	stream, bf, err := wav.Decode(r)
	if err != nil {
		return nil, audio.Format{}, fmt.Errorf("device: decode wav: %w", err)
	}
	defer stream.Close()

	format := audio.Format{SampleRate: int(bf.SampleRate), Channels: bf.NumChannels}
	switch {
	case format.SampleRate <= 0:
		return nil, audio.Format{}, fmt.Errorf("device: invalid wav: sample rate %d", format.SampleRate)
	case format.Channels <= 0:
		return nil, audio.Format{}, fmt.Errorf("device: invalid wav: %d channels", format.Channels)
	}

	samples := make([]float32, 0, max(stream.Len(), 0))
	buf := make([][2]float64, 1024)
	for {
		n, ok := stream.Stream(buf)
		for _, s := range buf[:n] {
			samples = append(samples, float32((s[0]+s[1])/2))
		}
		if !ok {
			break
		}
	}
	if err := stream.Err(); err != nil {
		return nil, audio.Format{}, fmt.Errorf("device: decode wav: %w", err)
	}
	return samples, format, nil
}

// WriteWAV writes mono samples at rate to w as 16-bit PCM.
func WriteWAV(w io.WriteSeeker, samples []float32, rate int) error {
	if rate <= 0 {
		return fmt.Errorf("device: encode wav: sample rate must be positive, got %d", rate)
	}
	rest := samples
	stream := beep.StreamerFunc(func(out [][2]float64) (int, bool) {
		if len(rest) == 0 {
			return 0, false
		}
		n := min(len(out), len(rest))
		for i, s := range rest[:n] {
			out[i][0], out[i][1] = float64(s), float64(s)
		}
		rest = rest[n:]
		return n, true
	})
	format := beep.Format{SampleRate: beep.SampleRate(rate), NumChannels: 1, Precision: wavPrecision}
	if err := wav.Encode(w, stream, format); err != nil {
		return fmt.Errorf("device: encode wav: %w", err)
	}
	return nil
}

// ─── WAVSource ────────────────────────────────────────────────────────────────

// WAVSource is a [capture.Source] that plays a WAV file as microphone input.
// Multi-channel files are downmixed to mono.
type WAVSource struct {
	// Path is the WAV file to read.
	Path string

	// Realtime paces frames at the file's sample rate. When false, frames are
	// delivered as fast as the reader consumes them.
	Realtime bool

	mu     sync.Mutex
	cancel context.CancelFunc
}

var _ capture.Source = (*WAVSource)(nil)

// Open implements [capture.Source]. Frames carry the file's sample rate; the
// capture pipeline resamples when it differs from format.
func (s *WAVSource) Open(ctx context.Context, format audio.Format, frameSize int) (<-chan audio.AudioFrame, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		if os.IsPermission(err) {
			return nil, fmt.Errorf("device: open %s: %w", s.Path, ErrPermissionDenied)
		}
		return nil, fmt.Errorf("device: open %s: %w", s.Path, err)
	}
	samples, wf, err := ReadWAV(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("device: %s: %w", s.Path, err)
	}
	if frameSize <= 0 {
		frameSize = audio.DefaultFrameSize
	}
	// Keep the wall-clock length of a frame the same as at the requested rate.
	if format.SampleRate > 0 && wf.SampleRate != format.SampleRate {
		frameSize = max(frameSize*wf.SampleRate/format.SampleRate, 1)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	out := make(chan audio.AudioFrame, 1)
	go func() {
		defer close(out)
		var tick <-chan time.Time
		if s.Realtime {
			t := time.NewTicker(time.Duration(frameSize) * time.Second / time.Duration(wf.SampleRate))
			defer t.Stop()
			tick = t.C
		}
		for off := 0; off < len(samples); off += frameSize {
			if tick != nil {
				select {
				case <-ctx.Done():
					return
				case <-tick:
				}
			}
			end := min(off+frameSize, len(samples))
			f := audio.AudioFrame{
				Samples:    samples[off:end],
				SampleRate: wf.SampleRate,
				Channels:   1,
				Timestamp:  time.Duration(off) * time.Second / time.Duration(wf.SampleRate),
			}
			select {
			case <-ctx.Done():
				return
			case out <- f:
			}
		}
	}()
	return out, nil
}

// Close implements [capture.Source].
func (s *WAVSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

// ─── WAVSink ──────────────────────────────────────────────────────────────────

// WAVSink is a [playback.Sink] that renders scheduled audio against the wall
// clock and writes the result to a WAV file on Close.
type WAVSink struct {
	path string
	tl   *timeline

	mu       sync.Mutex
	rendered []float32
	stop     chan struct{}
	done     chan struct{}
	closed   bool
}

var _ playback.Sink = (*WAVSink)(nil)

// wavTick is the render period of a WAVSink.
const wavTick = 20 * time.Millisecond

// NewWAVSink starts a sink rendering mono audio at rate. The file at path is
// written when the sink is closed.
func NewWAVSink(path string, rate int) *WAVSink {
	s := &WAVSink{
		path: path,
		tl:   newTimeline(rate),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *WAVSink) run() {
	defer close(s.done)
	t := time.NewTicker(wavTick)
	defer t.Stop()
	block := make([]float32, int(int64(s.tl.rate)*int64(wavTick)/int64(time.Second)))
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			s.tl.render(block)
			s.mu.Lock()
			s.rendered = append(s.rendered, block...)
			s.mu.Unlock()
		}
	}
}

// Now implements [playback.Sink].
func (s *WAVSink) Now() time.Duration { return s.tl.now() }

// Play implements [playback.Sink].
func (s *WAVSink) Play(at time.Duration, buf playback.Buffer) (playback.Voice, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("device: wav sink closed")
	}
	return s.tl.play(at, buf), nil
}

// Close stops rendering, releases pending voices and writes the file.
// Calling Close more than once is a no-op.
func (s *WAVSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stop)
	<-s.done
	s.tl.stopAll()

	s.mu.Lock()
	rendered := s.rendered
	s.mu.Unlock()

	f, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("device: write %s: %w", s.path, err)
	}
	if err := WriteWAV(f, rendered, s.tl.rate); err != nil {
		f.Close()
		return fmt.Errorf("device: write %s: %w", s.path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("device: write %s: %w", s.path, err)
	}
	slog.Debug("device: wrote playback", "path", s.path, "duration", s.tl.now())
	return nil
}
