// Package pcm converts between float audio samples and signed 16-bit
// little-endian PCM, and between raw PCM bytes and the base64 text the
// realtime providers carry inside JSON frames.
package pcm

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
)

// SampleWidth is the byte width of one PCM16 sample.
const SampleWidth = 2

// MalformedAudioError reports a PCM buffer that is not a whole number of
// frames for its channel count. The buffer is unusable and should be dropped.
type MalformedAudioError struct {
	Len      int
	Channels int
}

func (e *MalformedAudioError) Error() string {
	return fmt.Sprintf("pcm: malformed audio: %d bytes is not a multiple of %d (%d channel(s))",
		e.Len, SampleWidth*e.Channels, e.Channels)
}

// EncodePCM16 maps each sample to round(s*32768), saturated to the int16
// range, and lays it out little-endian. NaN encodes as silence.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*SampleWidth)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*SampleWidth:], uint16(quantize(s)))
	}
	return out
}

// AppendPCM16 is [EncodePCM16] writing into dst.
func AppendPCM16(dst []byte, samples []float32) []byte {
	for _, s := range samples {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(quantize(s)))
	}
	return dst
}

func quantize(s float32) int16 {
	if s != s {
		return 0
	}
	v := math.Round(float64(s) * 32768)
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}

// DecodePCM16 divides every int16 sample by 32768 and de-interleaves the
// result into one slice per channel. channels below 1 is treated as mono.
func DecodePCM16(data []byte, channels int) ([][]float32, error) {
	if channels < 1 {
		channels = 1
	}
	if len(data)%(SampleWidth*channels) != 0 {
		return nil, &MalformedAudioError{Len: len(data), Channels: channels}
	}
	frames := len(data) / (SampleWidth * channels)
	out := make([][]float32, channels)
	for ch := range out {
		out[ch] = make([]float32, frames)
	}
	for i := range frames {
		for ch := range channels {
			off := (i*channels + ch) * SampleWidth
			out[ch][i] = float32(int16(binary.LittleEndian.Uint16(data[off:]))) / 32768.0
		}
	}
	return out, nil
}

// ToTransportText encodes b as padded standard base64.
func ToTransportText(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// FromTransportText reverses [ToTransportText].
func FromTransportText(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("pcm: decode transport text: %w", err)
	}
	return b, nil
}
