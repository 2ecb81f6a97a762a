// Package capture turns a continuous microphone stream into PCM16 chunks for
// a realtime session.
//
// A [Pipeline] reads fixed-size [audio.AudioFrame] values from a [Source],
// encodes each one and hands the resulting [audio.EncodedChunk] to a
// [Sender]. The sender is expected to queue and return immediately; capture
// never waits on network I/O.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/voicelearn/pkg/audio"
	"github.com/MrWong99/voicelearn/pkg/audio/pcm"
)

// ErrAlreadyRunning is returned by Start when the pipeline is already
// capturing.
var ErrAlreadyRunning = errors.New("capture: pipeline already running")

// Source is a microphone. Open starts delivering frames of frameSize samples
// in format; the channel closes when the source is closed or ctx ends.
// Implementations report a refused microphone with an error wrapping
// device.ErrPermissionDenied.
type Source interface {
	Open(ctx context.Context, format audio.Format, frameSize int) (<-chan audio.AudioFrame, error)
	Close() error
}

// Sender accepts encoded chunks for transmission. Send must not block on
// network I/O.
type Sender interface {
	Send(chunk audio.EncodedChunk) error
}

// SenderFunc adapts a function to [Sender].
type SenderFunc func(audio.EncodedChunk) error

// Send implements [Sender].
func (f SenderFunc) Send(c audio.EncodedChunk) error { return f(c) }

// EncodingError reports a frame that could not be encoded. The frame is
// skipped and capture continues.
type EncodingError struct {
	Reason string
}

func (e *EncodingError) Error() string { return "capture: encoding: " + e.Reason }

// Config controls a [Pipeline].
type Config struct {
	// Format is the format sent downstream. Defaults to [audio.CaptureFormat].
	Format audio.Format

	// FrameSize is the number of samples per frame. Defaults to
	// [audio.DefaultFrameSize].
	FrameSize int

	// OnError receives per-frame encoding errors and the error that ended
	// capture, if any. Called from the capture goroutine.
	OnError func(error)
}

func (c Config) withDefaults() Config {
	if c.Format.SampleRate <= 0 {
		c.Format.SampleRate = audio.CaptureFormat.SampleRate
	}
	if c.Format.Channels <= 0 {
		c.Format.Channels = audio.CaptureFormat.Channels
	}
	if c.FrameSize <= 0 {
		c.FrameSize = audio.DefaultFrameSize
	}
	return c
}

// Stats counts pipeline activity.
type Stats struct {
	Frames  uint64
	Sent    uint64
	Skipped uint64
}

// Pipeline bridges a [Source] to a [Sender].
type Pipeline struct {
	src    Source
	sender Sender
	cfg    Config

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
	running bool

	frames  atomic.Uint64
	sent    atomic.Uint64
	skipped atomic.Uint64
}

// New returns a pipeline reading from src and writing to sender.
func New(src Source, sender Sender, cfg Config) *Pipeline {
	return &Pipeline{src: src, sender: sender, cfg: cfg.withDefaults()}
}

// Start opens the source and starts capturing in a new goroutine. Errors from
// opening the source (such as a refused microphone) are returned directly.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	frames, err := p.src.Open(ctx, p.cfg.Format, p.cfg.FrameSize)
	if err != nil {
		cancel()
		return fmt.Errorf("capture: open source: %w", err)
	}
	p.running = true
	p.cancel = cancel
	p.done = make(chan struct{})
	p.err = nil
	go p.loop(ctx, frames, p.done)
	return nil
}

// Run opens the source and captures until ctx ends, the source runs dry or
// the sender fails.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.Start(ctx); err != nil {
		return err
	}
	<-p.Done()
	return p.Err()
}

// Stop cancels capture and releases the source. It does not wait for the
// capture goroutine; use [Pipeline.Done] for that.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Done is closed when the capture goroutine has exited. It returns a closed
// channel if the pipeline was never started.
func (p *Pipeline) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return p.done
}

// Err returns the error that ended capture, or nil for a clean stop.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline) Stats() Stats {
	return Stats{Frames: p.frames.Load(), Sent: p.sent.Load(), Skipped: p.skipped.Load()}
}

func (p *Pipeline) loop(ctx context.Context, frames <-chan audio.AudioFrame, done chan struct{}) {
	var runErr error
	defer func() {
		if err := p.src.Close(); err != nil {
			slog.Debug("capture: close source", "err", err)
		}
		p.mu.Lock()
		p.err = runErr
		p.running = false
		p.cancel()
		p.mu.Unlock()
		close(done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			if ctx.Err() != nil {
				return
			}
			if err := p.process(f); err != nil {
				var encErr *EncodingError
				if errors.As(err, &encErr) {
					p.skipped.Add(1)
					p.report(err)
					continue
				}
				runErr = err
				p.report(err)
				return
			}
		}
	}
}

func (p *Pipeline) process(f audio.AudioFrame) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &EncodingError{Reason: fmt.Sprintf("panic: %v", r)}
		}
	}()
	p.frames.Add(1)

	chunk, err := p.Encode(f)
	if err != nil {
		return err
	}
	if err := p.sender.Send(chunk); err != nil {
		return fmt.Errorf("capture: send: %w", err)
	}
	p.sent.Add(1)
	return nil
}

// Encode validates f against the pipeline format and converts it to PCM16.
// Frames at a different sample rate are resampled.
func (p *Pipeline) Encode(f audio.AudioFrame) (audio.EncodedChunk, error) {
	ch := f.Channels
	if ch == 0 {
		ch = 1
	}
	switch {
	case len(f.Samples) == 0:
		return audio.EncodedChunk{}, &EncodingError{Reason: "empty frame"}
	case ch != p.cfg.Format.Channels:
		return audio.EncodedChunk{}, &EncodingError{
			Reason: fmt.Sprintf("frame has %d channel(s), want %d", ch, p.cfg.Format.Channels),
		}
	case len(f.Samples) > p.maxSamples(f.SampleRate)*ch:
		return audio.EncodedChunk{}, &EncodingError{
			Reason: fmt.Sprintf("frame of %d samples at %d Hz exceeds frame size %d", len(f.Samples), f.SampleRate, p.cfg.FrameSize),
		}
	}

	samples := f.Samples
	if f.SampleRate > 0 && f.SampleRate != p.cfg.Format.SampleRate && ch == 1 {
		samples = audio.ResampleFloat32(samples, f.SampleRate, p.cfg.Format.SampleRate)
	}
	return audio.EncodedChunk{Data: pcm.EncodePCM16(samples), Format: p.cfg.Format}, nil
}

// maxSamples is the per-channel length of one frame at rate: the configured
// frame size scaled to the same wall-clock span, rounded up.
func (p *Pipeline) maxSamples(rate int) int {
	target := p.cfg.Format.SampleRate
	if rate <= target {
		return p.cfg.FrameSize
	}
	return (p.cfg.FrameSize*rate + target - 1) / target
}

func (p *Pipeline) report(err error) {
	if p.cfg.OnError == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("capture: error callback panicked", "panic", r)
		}
	}()
	p.cfg.OnError(err)
}
