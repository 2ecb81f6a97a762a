// Package audio defines the frame and chunk types that flow through the
// VoiceLearn capture and playback paths, plus the PCM16 conversion helpers
// shared by every provider.
//
// Captured microphone audio travels as [AudioFrame] values (float samples).
// Everything that crosses a provider boundary travels as an [EncodedChunk]
// (signed 16-bit little-endian PCM tagged with its [Format]).
package audio

import (
	"fmt"
	"mime"
	"strconv"
	"strings"
	"time"
)

// DefaultFrameSize is the number of samples per capture tick.
const DefaultFrameSize = 4096

var (
	// CaptureFormat is the microphone format expected by the realtime providers.
	CaptureFormat = Format{SampleRate: 16000, Channels: 1}

	// PlaybackFormat is the format providers return synthesised speech in.
	PlaybackFormat = Format{SampleRate: 24000, Channels: 1}
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// MIMEType renders the format as the descriptor sent alongside PCM payloads,
// e.g. "audio/pcm;rate=16000".
func (f Format) MIMEType() string {
	return fmt.Sprintf("audio/pcm;rate=%d", f.SampleRate)
}

// String returns a human-readable form such as "16000Hz mono".
func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels)
}

// BytesPerFrame is the byte width of one PCM16 frame (one sample per channel).
func (f Format) BytesPerFrame() int {
	ch := f.Channels
	if ch <= 0 {
		ch = 1
	}
	return 2 * ch
}

// Duration returns how long n bytes of PCM16 in this format play for.
func (f Format) Duration(n int) time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	frames := n / f.BytesPerFrame()
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

// ParseMIMEType extracts a Format from a PCM descriptor. Both the realtime
// form ("audio/pcm;rate=24000") and the TTS form
// ("audio/L16;codec=pcm;rate=24000") are accepted. Missing parameters fall
// back to def.
func ParseMIMEType(s string, def Format) (Format, error) {
	if s == "" {
		return def, nil
	}
	mediaType, params, err := mime.ParseMediaType(s)
	if err != nil {
		return def, fmt.Errorf("audio: parse mime type %q: %w", s, err)
	}
	switch strings.ToLower(mediaType) {
	case "audio/pcm", "audio/l16", "audio/raw":
	default:
		return def, fmt.Errorf("audio: unsupported mime type %q", mediaType)
	}
	f := def
	if rate, ok := params["rate"]; ok {
		n, err := strconv.Atoi(rate)
		if err != nil || n <= 0 {
			return def, fmt.Errorf("audio: invalid rate %q in %q", rate, s)
		}
		f.SampleRate = n
	}
	if ch, ok := params["channels"]; ok {
		n, err := strconv.Atoi(ch)
		if err != nil || n <= 0 {
			return def, fmt.Errorf("audio: invalid channels %q in %q", ch, s)
		}
		f.Channels = n
	}
	return f, nil
}

// AudioFrame is one fixed-size chunk of captured microphone samples. Samples
// are interleaved when Channels > 1 and lie in [-1, 1].
type AudioFrame struct {
	Samples []float32

	// SampleRate in Hz (16000 for realtime capture).
	SampleRate int

	// Channels is 1 for the microphone path.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Format returns the frame's sample rate and channel count.
func (f AudioFrame) Format() Format {
	return Format{SampleRate: f.SampleRate, Channels: f.Channels}
}

// EncodedChunk is a transport-ready PCM16 buffer. A chunk is sent once and
// must not be retained after the transport accepts it.
type EncodedChunk struct {
	Data   []byte
	Format Format
}

// MIMEType returns the chunk's format descriptor.
func (c EncodedChunk) MIMEType() string { return c.Format.MIMEType() }

// Duration returns the playback length of the chunk.
func (c EncodedChunk) Duration() time.Duration { return c.Format.Duration(len(c.Data)) }
