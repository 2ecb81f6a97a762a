// Package live defines the realtime duplex session between the voice bridge
// and a hosted speech model.
//
// A provider implements [Dialer] and [Conn]: a message-oriented connection
// that accepts PCM16 chunks and yields [Message] values carrying inline audio,
// transcripts and turn signals. [Session] wraps a Conn in the lifecycle the
// rest of the application relies on: asynchronous connect, buffering of audio
// captured before the connection opens, a single error notification, and an
// idempotent Close that silences every callback.
//
// Implementations of Conn are used by one reader and one writer goroutine at
// a time; Close may be called concurrently with both.
package live

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/voicelearn/pkg/audio"
)

// Modality is the kind of response the model produces.
type Modality string

const (
	ModalityAudio Modality = "AUDIO"
	ModalityText  Modality = "TEXT"
)

// SessionConfig is sent to the provider when the session opens.
type SessionConfig struct {
	// Instructions is the system instruction for the whole session.
	Instructions string

	// ResponseModality selects spoken or written replies. Defaults to
	// [ModalityAudio].
	ResponseModality Modality

	// Voice is the provider voice name for spoken replies. Empty uses the
	// provider default.
	Voice string

	// InputTranscription asks the provider to transcribe the user's speech.
	InputTranscription bool

	// OutputTranscription asks the provider to transcribe its own speech.
	OutputTranscription bool
}

// Modality returns the configured response modality, defaulting to audio.
func (c SessionConfig) Modality() Modality {
	if c.ResponseModality == "" {
		return ModalityAudio
	}
	return c.ResponseModality
}

// TranscriptSource says whose speech a transcript belongs to.
type TranscriptSource int

const (
	// TranscriptInput is the user's recognised speech.
	TranscriptInput TranscriptSource = iota
	// TranscriptOutput is the model's spoken reply as text.
	TranscriptOutput
)

func (s TranscriptSource) String() string {
	if s == TranscriptOutput {
		return "output"
	}
	return "input"
}

// Message is one inbound event. Exactly one of Audio, Text, Transcript,
// TurnComplete or Interrupted is normally set.
type Message struct {
	// Audio is inline PCM16 speech from the model.
	Audio *audio.EncodedChunk

	// Text is a written reply part (TEXT modality).
	Text string

	// Transcript is transcribed speech; TranscriptSource says whose.
	Transcript       string
	TranscriptSource TranscriptSource

	// TurnComplete marks the end of one model response.
	TurnComplete bool

	// Interrupted means the model stopped its reply because the user spoke.
	// Audio already scheduled for the reply should be discarded.
	Interrupted bool
}

// Conn is an open provider connection.
type Conn interface {
	// SendAudio transmits one chunk. It returns once the chunk was written.
	SendAudio(ctx context.Context, chunk audio.EncodedChunk) error

	// Receive blocks for the next inbound message. A clean remote close is
	// reported as io.EOF and a provider error frame as *ProviderError.
	Receive(ctx context.Context) (Message, error)

	// Close releases the connection. Safe to call more than once.
	Close() error
}

// Dialer opens provider connections. Dial returns once the provider has
// acknowledged the session configuration. ctx bounds the dial only; the
// returned Conn lives until closed.
type Dialer interface {
	Dial(ctx context.Context, cfg SessionConfig) (Conn, error)
}

// DialerFunc adapts a function to [Dialer].
type DialerFunc func(ctx context.Context, cfg SessionConfig) (Conn, error)

// Dial implements [Dialer].
func (f DialerFunc) Dial(ctx context.Context, cfg SessionConfig) (Conn, error) { return f(ctx, cfg) }

var (
	// ErrSessionClosed is returned by Send and Start once the session failed
	// or was closed.
	ErrSessionClosed = errors.New("live: session closed")

	// ErrAlreadyStarted is returned by a second Start on the same session.
	ErrAlreadyStarted = errors.New("live: session already started")
)

// ProviderError is an error frame sent by the provider.
type ProviderError struct {
	Code    int
	Status  string
	Message string
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "unknown error"
	}
	switch {
	case e.Code != 0 && e.Status != "":
		return fmt.Sprintf("live: provider error %d %s: %s", e.Code, e.Status, msg)
	case e.Code != 0:
		return fmt.Sprintf("live: provider error %d: %s", e.Code, msg)
	case e.Status != "":
		return fmt.Sprintf("live: provider error %s: %s", e.Status, msg)
	}
	return "live: provider error: " + msg
}

// TransportError reports a session that failed to open or broke while open.
// Op is "dial", "send" or "receive".
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return "live: " + e.Op + ": " + e.Err.Error() }

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error { return e.Err }
