package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// FormatConverter brings PCM16 chunks to a fixed target format. It warns once
// on the first mismatch it has to repair and once on the first misaligned
// buffer, which it drops.
// Create one per stream; not designed for shared use across goroutines.
type FormatConverter struct {
	Target Format

	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Convert returns chunk in the target format. A chunk that already matches is
// returned unchanged. Rate conversion runs before channel conversion so that
// stereo input headed for a mono target is only resampled once per frame.
func (c *FormatConverter) Convert(chunk EncodedChunk) EncodedChunk {
	src := chunk.Format
	if src.Channels <= 0 {
		src.Channels = 1
	}
	if len(chunk.Data)%src.BytesPerFrame() != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio converter: misaligned PCM buffer, dropping chunk",
				"bytes", len(chunk.Data),
				"format", src.String(),
			)
		})
		return EncodedChunk{Format: c.Target}
	}
	if src == c.Target {
		return chunk
	}

	c.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch: converting",
			"from", src.String(),
			"to", c.Target.String(),
		)
	})

	pcm := chunk.Data
	if src.SampleRate != c.Target.SampleRate {
		pcm = resamplePCM16(pcm, src.Channels, src.SampleRate, c.Target.SampleRate)
	}
	switch {
	case src.Channels == c.Target.Channels:
	case src.Channels == 1 && c.Target.Channels == 2:
		pcm = MonoToStereo(pcm)
	case src.Channels == 2 && c.Target.Channels == 1:
		pcm = StereoToMono(pcm)
	default:
		// Unsupported layout change; keep the source layout.
		return EncodedChunk{Data: pcm, Format: Format{SampleRate: c.Target.SampleRate, Channels: src.Channels}}
	}
	return EncodedChunk{Data: pcm, Format: c.Target}
}

// MonoToStereo duplicates each int16 mono sample into a stereo L+R pair.
// A trailing odd byte is ignored.
func MonoToStereo(pcm []byte) []byte {
	out := make([]byte, (len(pcm)/2)*4)
	for i := 0; i+1 < len(pcm); i += 2 {
		j := i * 2
		copy(out[j:j+2], pcm[i:i+2])
		copy(out[j+2:j+4], pcm[i:i+2])
	}
	return out
}

// StereoToMono averages each L+R pair into one mono sample, clamped to the
// int16 range.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(sampleAt(pcm, i*2))
		r := int32(sampleAt(pcm, i*2+1))
		putSample(out, i, clamp16((l+r)/2))
	}
	return out
}

// ResampleMono16 resamples little-endian int16 mono PCM from srcRate to
// dstRate using linear interpolation. Equal or non-positive rates return the
// input unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	return resamplePCM16(pcm, 1, srcRate, dstRate)
}

// ResampleStereo16 is [ResampleMono16] for interleaved stereo PCM.
func ResampleStereo16(pcm []byte, srcRate, dstRate int) []byte {
	return resamplePCM16(pcm, 2, srcRate, dstRate)
}

// ResampleFloat32 resamples one channel of float samples with linear
// interpolation. Equal or non-positive rates return the input unchanged.
func ResampleFloat32(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	n := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if n == 0 {
		return nil
	}
	out := make([]float32, n)
	step := float64(srcRate) / float64(dstRate)
	for i := range n {
		pos := float64(i) * step
		idx := int(pos)
		frac := float32(pos - float64(idx))
		s0 := samples[idx]
		s1 := s0
		if idx+1 < len(samples) {
			s1 = samples[idx+1]
		}
		out[i] = s0*(1-frac) + s1*frac
	}
	return out
}

func resamplePCM16(pcm []byte, channels, srcRate, dstRate int) []byte {
	width := 2 * channels
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < width {
		return pcm
	}
	srcFrames := len(pcm) / width
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*width)
	step := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)
		next := idx + 1
		if next >= srcFrames {
			next = idx
		}
		for ch := range channels {
			s0 := float64(sampleAt(pcm, idx*channels+ch))
			s1 := float64(sampleAt(pcm, next*channels+ch))
			putSample(out, i*channels+ch, int16(s0*(1-frac)+s1*frac))
		}
	}
	return out
}

func sampleAt(pcm []byte, i int) int16 {
	return int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
}

func putSample(pcm []byte, i int, s int16) {
	pcm[i*2] = byte(s)
	pcm[i*2+1] = byte(s >> 8)
}

func clamp16(v int32) int16 {
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	}
	return int16(v)
}

// formatString renders a rate and channel count, e.g. "24000Hz mono".
func formatString(rate, channels int) string {
	ch := "mono"
	switch {
	case channels == 2:
		ch = "stereo"
	case channels > 2:
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
