package pcm_test

import (
	"bytes"
	"errors"
	"math"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/MrWong99/voicelearn/pkg/audio/pcm"
)

func TestEncodePCM16(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   float32
		want int16
	}{
		{name: "zero", in: 0, want: 0},
		{name: "half", in: 0.5, want: 16384},
		{name: "negative half", in: -0.5, want: -16384},
		{name: "full negative", in: -1, want: -32768},
		{name: "full positive saturates", in: 1, want: 32767},
		{name: "above range", in: 3.5, want: 32767},
		{name: "below range", in: -7, want: -32768},
		{name: "rounds", in: 1.6 / 32768, want: 2},
		{name: "nan", in: float32(math.NaN()), want: 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			out := pcm.EncodePCM16([]float32{tc.in})
			if len(out) != 2 {
				t.Fatalf("len = %d, want 2", len(out))
			}
			got := int16(uint16(out[0]) | uint16(out[1])<<8)
			if got != tc.want {
				t.Errorf("EncodePCM16(%v) = %d, want %d", tc.in, got, tc.want)
			}
		})
	}
}

func TestAppendPCM16_MatchesEncode(t *testing.T) {
	in := []float32{0.1, -0.2, 0.3}
	got := pcm.AppendPCM16([]byte{0xff}, in)
	want := append([]byte{0xff}, pcm.EncodePCM16(in)...)
	if !bytes.Equal(got, want) {
		t.Errorf("AppendPCM16 = %v, want %v", got, want)
	}
}

func TestPCMRoundTrip(t *testing.T) {
	t.Parallel()

	r := rand.New(rand.NewPCG(1, 2))
	samples := make([]float32, 10000)
	for i := range samples {
		samples[i] = r.Float32()*2 - 1
	}
	decoded, err := pcm.DecodePCM16(pcm.EncodePCM16(samples), 1)
	if err != nil {
		t.Fatalf("DecodePCM16: %v", err)
	}
	if len(decoded) != 1 || len(decoded[0]) != len(samples) {
		t.Fatalf("decoded shape = %d x %d", len(decoded), len(decoded[0]))
	}
	const step = 1.0 / 32768
	for i, s := range samples {
		if d := math.Abs(float64(decoded[0][i] - s)); d > step {
			t.Fatalf("sample %d: |%v - %v| = %v exceeds one quantization step", i, decoded[0][i], s, d)
		}
	}
}

func TestDecodePCM16_Deinterleaves(t *testing.T) {
	data := pcm.EncodePCM16([]float32{0.5, -0.5, 0.25, -0.25})
	got, err := pcm.DecodePCM16(data, 2)
	if err != nil {
		t.Fatalf("DecodePCM16: %v", err)
	}
	want := [][]float32{{0.5, 0.25}, {-0.5, -0.25}}
	for ch := range want {
		for i := range want[ch] {
			if got[ch][i] != want[ch][i] {
				t.Errorf("ch %d sample %d = %v, want %v", ch, i, got[ch][i], want[ch][i])
			}
		}
	}
}

func TestDecodePCM16_Malformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		n        int
		channels int
	}{
		{name: "odd byte count", n: 3, channels: 1},
		{name: "partial stereo frame", n: 6, channels: 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := pcm.DecodePCM16(make([]byte, tc.n), tc.channels)
			var mae *pcm.MalformedAudioError
			if !errors.As(err, &mae) {
				t.Fatalf("err = %v, want *MalformedAudioError", err)
			}
			if mae.Len != tc.n || mae.Channels != tc.channels {
				t.Errorf("error = %+v", mae)
			}
		})
	}
}

func TestDecodePCM16_Empty(t *testing.T) {
	got, err := pcm.DecodePCM16(nil, 1)
	if err != nil {
		t.Fatalf("DecodePCM16(nil): %v", err)
	}
	if len(got) != 1 || len(got[0]) != 0 {
		t.Errorf("got %v, want one empty channel", got)
	}
}

func TestTransportTextRoundTrip(t *testing.T) {
	t.Parallel()

	r := rand.New(rand.NewPCG(3, 4))
	inputs := [][]byte{
		nil,
		{0},
		{0, 0, 0},
		{0, 1, 0, 2, 0},
		{0xff, 0xfe, 0x00},
	}
	for n := 1; n < 64; n++ {
		b := make([]byte, n)
		for i := range b {
			b[i] = byte(r.UintN(256))
		}
		inputs = append(inputs, b)
	}
	for _, in := range inputs {
		out, err := pcm.FromTransportText(pcm.ToTransportText(in))
		if err != nil {
			t.Fatalf("FromTransportText: %v", err)
		}
		if !bytes.Equal(out, in) {
			t.Fatalf("round trip of %v gave %v", in, out)
		}
	}
}

func TestFromTransportText_Invalid(t *testing.T) {
	if _, err := pcm.FromTransportText("not*base64"); err == nil {
		t.Fatal("expected error for invalid input")
	}
}

func TestSilentFrameScenario(t *testing.T) {
	frame := make([]float32, 4096)
	encoded := pcm.EncodePCM16(frame)
	if len(encoded) != 8192 {
		t.Fatalf("encoded length = %d, want 8192", len(encoded))
	}
	if !bytes.Equal(encoded, make([]byte, 8192)) {
		t.Fatal("silent frame did not encode to zero bytes")
	}
	text := pcm.ToTransportText(encoded)
	if want := (8192 + 2) / 3 * 4; len(text) != want {
		t.Errorf("text length = %d, want %d", len(text), want)
	}
	if !strings.HasPrefix(text, "AAAA") {
		t.Errorf("text = %q..., want leading AAAA", text[:8])
	}
	back, err := pcm.FromTransportText(text)
	if err != nil {
		t.Fatalf("FromTransportText: %v", err)
	}
	if !bytes.Equal(back, encoded) {
		t.Error("decoded bytes differ from the encoded frame")
	}
}
