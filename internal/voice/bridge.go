// Package voice owns one realtime voice interaction per screen: microphone
// capture feeding a live session, and the session's spoken replies scheduled
// on the speaker.
//
// A [Bridge] holds at most one session. Starting a new one tears the old one
// down first and waits until it released the microphone. Every session gets
// a fresh identity token, and events from a session whose token is no longer
// current are discarded, so a late reply from an old session never reaches
// the playback cursor or the caller of a newer one.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/voicelearn/internal/observe"
	"github.com/MrWong99/voicelearn/pkg/audio"
	"github.com/MrWong99/voicelearn/pkg/audio/capture"
	"github.com/MrWong99/voicelearn/pkg/audio/pcm"
	"github.com/MrWong99/voicelearn/pkg/audio/playback"
	"github.com/MrWong99/voicelearn/pkg/provider/live"
)

// Status is what the UI shows for the bridge.
type Status int

const (
	StatusReady Status = iota
	StatusConnecting
	StatusListening
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusReady:
		return "ready"
	case StatusConnecting:
		return "connecting"
	case StatusListening:
		return "listening"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// Callbacks receive events of the current session. Any field may be nil.
// They run on the session's event goroutine, one at a time, and may call
// [Bridge.Stop]. They must not call [Bridge.Start] or [Bridge.Close].
//
// A callback that already passed the session check can still be running
// when its session is stopped. Start and Close wait for it to return, but
// state the callback shares with the caller needs the caller's own guard.
type Callbacks struct {
	OnStatus       func(Status)
	OnTranscript   func(text string, source live.TranscriptSource)
	OnText         func(text string)
	OnTurnComplete func()
	// OnError fires at most once per session, with a *live.TransportError.
	OnError func(error)
}

// MicFunc acquires the microphone for one session. A refused microphone is
// reported by Open on the returned source with an error wrapping
// device.ErrPermissionDenied.
type MicFunc func() (capture.Source, error)

// Option configures a [Bridge].
type Option func(*Bridge)

// WithMetrics records on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

// WithProviderName labels session metrics.
func WithProviderName(name string) Option {
	return func(b *Bridge) { b.provider = name }
}

// WithCapture sets the format and frame size sent to the session.
func WithCapture(format audio.Format, frameSize int) Option {
	return func(b *Bridge) {
		b.capture.Format = format
		b.capture.FrameSize = frameSize
	}
}

// WithOutputFormat converts inbound audio to f before scheduling it.
func WithOutputFormat(f audio.Format) Option {
	return func(b *Bridge) { b.output = &f }
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) { b.log = l }
}

// Bridge ties capture, a live session and playback together.
type Bridge struct {
	dialer   live.Dialer
	mic      MicFunc
	sched    *playback.Scheduler
	capture  capture.Config
	output   *audio.Format
	metrics  *observe.Metrics
	provider string
	log      *slog.Logger

	// mu guards the fields below. Scheduling happens under mu so that a
	// session whose token was cleared can never touch the cursor again.
	mu       sync.Mutex
	token    string
	sess     *live.Session
	pipe     *capture.Pipeline
	conv     *audio.FormatConverter
	cb       Callbacks
	status   Status
	started  time.Time
	endGauge func()
	stopCtx  func() bool
}

// New returns a bridge dialing through d, capturing from mic and playing
// replies on sched. With a nil sched reply audio is discarded, which suits
// sessions that only transcribe.
func New(d live.Dialer, mic MicFunc, sched *playback.Scheduler, opts ...Option) *Bridge {
	b := &Bridge{
		dialer:   d,
		mic:      mic,
		sched:    sched,
		provider: "live",
	}
	for _, o := range opts {
		o(b)
	}
	if b.metrics == nil {
		b.metrics = observe.DefaultMetrics()
	}
	if b.log == nil {
		b.log = slog.Default()
	}
	return b
}

// Status returns the current status.
func (b *Bridge) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// Active reports whether a session is connecting or open.
func (b *Bridge) Active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.token != ""
}

// Start tears down any active session, acquires the microphone and opens a
// new session with cfg. Capture begins at once; frames recorded while the
// session connects are queued and sent in order when it opens.
//
// A refused microphone is returned as an error wrapping
// device.ErrPermissionDenied and no session is started. Connection failures
// are asynchronous and reported through cb.OnError. Cancelling ctx ends the
// session as if Stop had been called.
func (b *Bridge) Start(ctx context.Context, cfg live.SessionConfig, cb Callbacks) error {
	if err := b.teardown(ctx); err != nil {
		return err
	}

	src, err := b.mic()
	if err != nil {
		return fmt.Errorf("voice: acquire microphone: %w", err)
	}

	token := uuid.NewString()
	sess := live.NewSession(b.dialer, live.Callbacks{
		OnOpen:    func() { b.onOpen(token) },
		OnMessage: func(m live.Message) { b.onMessage(token, m) },
		OnError:   func(err error) { b.onError(token, err) },
		OnClose:   func() { b.onClose(token) },
	})

	capCfg := b.capture
	capCfg.OnError = func(err error) { b.onCaptureError(ctx, token, err) }
	pipe := capture.New(src, capture.SenderFunc(func(c audio.EncodedChunk) error {
		if err := sess.Send(c); err != nil {
			return err
		}
		b.metrics.RecordCaptureFrame(ctx, true)
		b.metrics.ChunksSent.Add(ctx, 1, metric.WithAttributes(observe.Attr("provider", b.provider)))
		return nil
	}), capCfg)

	b.mu.Lock()
	b.token = token
	b.sess = sess
	b.pipe = pipe
	b.cb = cb
	b.started = time.Now()
	if b.output != nil {
		b.conv = &audio.FormatConverter{Target: *b.output}
	} else {
		b.conv = nil
	}
	b.mu.Unlock()

	if err := pipe.Start(ctx); err != nil {
		b.mu.Lock()
		if b.token == token {
			b.clear()
		}
		b.mu.Unlock()
		_ = sess.Close()
		return fmt.Errorf("voice: %w", err)
	}

	b.mu.Lock()
	b.endGauge = b.metrics.SessionStarted(ctx, b.provider)
	b.stopCtx = context.AfterFunc(ctx, func() { b.stopToken(token) })
	b.mu.Unlock()

	b.setStatus(token, StatusConnecting)
	if err := sess.Start(ctx, cfg); err != nil {
		b.stopToken(token)
		return fmt.Errorf("voice: start session: %w", err)
	}
	b.log.Info("voice: session starting", "session", sess.ID(), "provider", b.provider, "modality", cfg.Modality())
	return nil
}

// Stop ends the active session, releases the microphone and halts playback.
// It is idempotent and returns without waiting for the microphone to close;
// use [Bridge.Close] for that.
func (b *Bridge) Stop() {
	b.mu.Lock()
	token := b.token
	b.mu.Unlock()
	if token == "" {
		b.stopPlayback()
		b.mu.Lock()
		b.status = StatusReady
		b.mu.Unlock()
		return
	}
	b.stopToken(token)
}

// Close ends the active session and halts playback like Stop, then waits
// until the microphone is closed and no session callback is running, or ctx
// ends. The bridge can be started again afterwards.
func (b *Bridge) Close(ctx context.Context) error {
	if err := b.teardown(ctx); err != nil {
		return fmt.Errorf("voice: close: %w", err)
	}
	b.stopPlayback()
	b.mu.Lock()
	b.status = StatusReady
	b.mu.Unlock()
	return nil
}

// stopToken ends the session identified by token if it is still current.
func (b *Bridge) stopToken(token string) {
	b.mu.Lock()
	if b.token != token {
		b.mu.Unlock()
		return
	}
	sess, pipe, cb := b.sess, b.pipe, b.cb
	b.clear()
	b.status = StatusReady
	b.mu.Unlock()

	if pipe != nil {
		pipe.Stop()
	}
	if sess != nil {
		_ = sess.Close()
	}
	b.stopPlayback()
	if cb.OnStatus != nil {
		cb.OnStatus(StatusReady)
	}
}

// teardown stops the active session and waits until its microphone and
// event goroutine are released, or ctx ends.
func (b *Bridge) teardown(ctx context.Context) error {
	b.mu.Lock()
	sess, pipe := b.sess, b.pipe
	token := b.token
	b.mu.Unlock()
	if token != "" {
		b.stopToken(token)
	}
	if pipe != nil {
		select {
		case <-pipe.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if sess != nil {
		select {
		case <-sess.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// clear forgets the current session. Caller holds mu.
func (b *Bridge) clear() {
	b.token = ""
	if b.stopCtx != nil {
		b.stopCtx()
		b.stopCtx = nil
	}
	if b.endGauge != nil {
		b.endGauge()
		b.endGauge = nil
	}
}

// current returns the callbacks if token is still the active session.
func (b *Bridge) current(token string) (Callbacks, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cb, b.token == token
}

func (b *Bridge) setStatus(token string, s Status) {
	b.mu.Lock()
	if b.token != token {
		b.mu.Unlock()
		return
	}
	b.status = s
	cb := b.cb
	b.mu.Unlock()
	if cb.OnStatus != nil {
		cb.OnStatus(s)
	}
}

// ── Session events ──

func (b *Bridge) onOpen(token string) {
	b.mu.Lock()
	started := b.started
	b.mu.Unlock()
	observe.Since(context.Background(), b.metrics.SessionConnect, started, observe.Attr("provider", b.provider))
	b.setStatus(token, StatusListening)
}

func (b *Bridge) onMessage(token string, m live.Message) {
	ctx := context.Background()
	if m.Interrupted {
		b.mu.Lock()
		if b.token == token {
			b.stopPlayback()
		}
		b.mu.Unlock()
	}
	if m.Audio != nil {
		b.play(ctx, token, *m.Audio)
	}

	cb, ok := b.current(token)
	if !ok {
		return
	}
	if m.Transcript != "" && cb.OnTranscript != nil {
		cb.OnTranscript(m.Transcript, m.TranscriptSource)
	}
	if m.Text != "" && cb.OnText != nil {
		cb.OnText(m.Text)
	}
	if m.TurnComplete && cb.OnTurnComplete != nil {
		cb.OnTurnComplete()
	}
}

// play schedules one inbound chunk. Malformed chunks are dropped and
// playback continues with the next one.
func (b *Bridge) play(ctx context.Context, token string, chunk audio.EncodedChunk) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.token != token || b.sched == nil {
		return
	}
	if len(chunk.Data)%chunk.Format.BytesPerFrame() != 0 {
		b.dropMalformed(ctx, &pcm.MalformedAudioError{Len: len(chunk.Data), Channels: max(chunk.Format.Channels, 1)})
		return
	}
	if b.conv != nil {
		chunk = b.conv.Convert(chunk)
	}
	h, err := b.sched.Schedule(chunk)
	if err != nil {
		var malformed *pcm.MalformedAudioError
		if errors.As(err, &malformed) {
			b.dropMalformed(ctx, err)
			return
		}
		b.log.Warn("voice: schedule reply audio", "err", err)
		return
	}
	if h != nil {
		b.metrics.ScheduledBuffers.Add(ctx, 1)
	}
}

func (b *Bridge) stopPlayback() {
	if b.sched != nil {
		b.sched.StopAll()
	}
}

func (b *Bridge) dropMalformed(ctx context.Context, err error) {
	b.metrics.MalformedAudio.Add(ctx, 1)
	b.log.Debug("voice: dropping malformed reply audio", "err", err)
}

func (b *Bridge) onError(token string, err error) {
	b.metrics.SessionErrors.Add(context.Background(), 1, metric.WithAttributes(observe.Attr("provider", b.provider)))
	b.setStatus(token, StatusFailed)
	if cb, ok := b.current(token); ok && cb.OnError != nil {
		cb.OnError(err)
	}
}

// onClose runs when the remote ended the session or it failed. A failed
// session keeps StatusFailed until the next Start or Stop.
func (b *Bridge) onClose(token string) {
	b.mu.Lock()
	if b.token != token {
		b.mu.Unlock()
		return
	}
	pipe, cb := b.pipe, b.cb
	b.clear()
	failed := b.status == StatusFailed
	if !failed {
		b.status = StatusReady
	}
	b.mu.Unlock()

	if pipe != nil {
		pipe.Stop()
	}
	b.stopPlayback()
	b.log.Info("voice: session ended", "failed", failed)
	if !failed && cb.OnStatus != nil {
		cb.OnStatus(StatusReady)
	}
}

// onCaptureError counts skipped frames. Errors that end capture mean the
// session stopped accepting audio or the microphone went away.
func (b *Bridge) onCaptureError(ctx context.Context, token string, err error) {
	var enc *capture.EncodingError
	if errors.As(err, &enc) {
		b.metrics.RecordCaptureFrame(ctx, false)
		b.log.Debug("voice: skipped frame", "err", err)
		return
	}
	if errors.Is(err, live.ErrSessionClosed) {
		return
	}
	if _, ok := b.current(token); ok {
		b.log.Warn("voice: capture ended", "err", err)
	}
}
