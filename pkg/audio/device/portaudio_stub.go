//go:build !portaudio

package device

import (
	"context"
	"time"

	"github.com/MrWong99/voicelearn/pkg/audio"
	"github.com/MrWong99/voicelearn/pkg/audio/playback"
)

// Microphone is unavailable without the portaudio build tag.
type Microphone struct{}

// NewMicrophone reports [ErrUnavailable]; rebuild with -tags portaudio.
func NewMicrophone() (*Microphone, error) { return nil, ErrUnavailable }

// Open reports [ErrUnavailable].
func (*Microphone) Open(context.Context, audio.Format, int) (<-chan audio.AudioFrame, error) {
	return nil, ErrUnavailable
}

// Close is a no-op.
func (*Microphone) Close() error { return nil }

// Speaker is unavailable without the portaudio build tag.
type Speaker struct{}

// NewSpeaker reports [ErrUnavailable]; rebuild with -tags portaudio.
func NewSpeaker(int) (*Speaker, error) { return nil, ErrUnavailable }

// Now always reads 0.
func (*Speaker) Now() time.Duration { return 0 }

// Play reports [ErrUnavailable].
func (*Speaker) Play(time.Duration, playback.Buffer) (playback.Voice, error) {
	return nil, ErrUnavailable
}

// Close is a no-op.
func (*Speaker) Close() error { return nil }
