//go:build portaudio

package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/voicelearn/pkg/audio"
	"github.com/MrWong99/voicelearn/pkg/audio/capture"
	"github.com/MrWong99/voicelearn/pkg/audio/playback"
)

// speakerBlock is the number of frames written per PortAudio call.
const speakerBlock = 480

var (
	paMu   sync.Mutex
	paRefs int
)

// acquire initialises PortAudio on first use.
func acquire() error {
	paMu.Lock()
	defer paMu.Unlock()
	if paRefs == 0 {
		if err := portaudio.Initialize(); err != nil {
			return fmt.Errorf("device: portaudio init: %w", err)
		}
	}
	paRefs++
	return nil
}

func release() {
	paMu.Lock()
	defer paMu.Unlock()
	paRefs--
	if paRefs == 0 {
		if err := portaudio.Terminate(); err != nil {
			slog.Warn("device: portaudio terminate", "err", err)
		}
	}
}

func mapOpenError(err error) error {
	if errors.Is(err, portaudio.DeviceUnavailable) {
		return fmt.Errorf("device: %w: %v", ErrPermissionDenied, err)
	}
	return fmt.Errorf("device: open stream: %w", err)
}

// ─── Microphone ───────────────────────────────────────────────────────────────

// Microphone captures from the default input device.
type Microphone struct {
	mu     sync.Mutex
	stream *portaudio.Stream
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ capture.Source = (*Microphone)(nil)

// NewMicrophone returns a microphone on the default input device. The device
// is opened by Open.
func NewMicrophone() (*Microphone, error) { return &Microphone{}, nil }

// Open implements [capture.Source].
func (m *Microphone) Open(ctx context.Context, format audio.Format, frameSize int) (<-chan audio.AudioFrame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream != nil {
		return nil, errors.New("device: microphone already open")
	}
	if err := acquire(); err != nil {
		return nil, err
	}
	buf := make([]float32, frameSize*max(format.Channels, 1))
	stream, err := portaudio.OpenDefaultStream(max(format.Channels, 1), 0, float64(format.SampleRate), frameSize, buf)
	if err != nil {
		release()
		return nil, mapOpenError(err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		release()
		return nil, mapOpenError(err)
	}
	m.stream = stream

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	out := make(chan audio.AudioFrame, 4)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(out)
		var read time.Duration
		for ctx.Err() == nil {
			if err := stream.Read(); err != nil {
				if !errors.Is(err, portaudio.InputOverflowed) {
					slog.Warn("device: microphone read", "err", err)
					return
				}
			}
			f := audio.AudioFrame{
				Samples:    append([]float32(nil), buf...),
				SampleRate: format.SampleRate,
				Channels:   max(format.Channels, 1),
				Timestamp:  read,
			}
			read += time.Duration(frameSize) * time.Second / time.Duration(format.SampleRate)
			select {
			case out <- f:
			case <-ctx.Done():
				return
			default:
				// Consumer fell behind; drop rather than stall the device.
			}
		}
	}()
	return out, nil
}

// Close implements [capture.Source]. It stops the stream and releases the
// device.
func (m *Microphone) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == nil {
		return nil
	}
	m.cancel()
	err := m.stream.Stop()
	m.wg.Wait()
	if cerr := m.stream.Close(); err == nil {
		err = cerr
	}
	m.stream = nil
	release()
	return err
}

// ─── Speaker ──────────────────────────────────────────────────────────────────

// Speaker is a [playback.Sink] on the default output device. Its clock counts
// frames handed to the device.
type Speaker struct {
	tl     *timeline
	stream *portaudio.Stream
	buf    []float32
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

var _ playback.Sink = (*Speaker)(nil)

// NewSpeaker opens the default output device at rate Hz mono and starts
// rendering.
func NewSpeaker(rate int) (*Speaker, error) {
	if err := acquire(); err != nil {
		return nil, err
	}
	s := &Speaker{
		tl:   newTimeline(rate),
		buf:  make([]float32, speakerBlock),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(s.tl.rate), speakerBlock, s.buf)
	if err != nil {
		release()
		return nil, mapOpenError(err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		release()
		return nil, mapOpenError(err)
	}
	s.stream = stream
	go s.run()
	return s, nil
}

func (s *Speaker) run() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		default:
		}
		s.tl.render(s.buf)
		if err := s.stream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
			slog.Warn("device: speaker write", "err", err)
			return
		}
	}
}

// Now implements [playback.Sink].
func (s *Speaker) Now() time.Duration { return s.tl.now() }

// Play implements [playback.Sink].
func (s *Speaker) Play(at time.Duration, buf playback.Buffer) (playback.Voice, error) {
	return s.tl.play(at, buf), nil
}

// Close stops output and releases the device.
func (s *Speaker) Close() error {
	var err error
	s.once.Do(func() {
		close(s.stop)
		<-s.done
		s.tl.stopAll()
		err = s.stream.Stop()
		if cerr := s.stream.Close(); err == nil {
			err = cerr
		}
		release()
	})
	return err
}
