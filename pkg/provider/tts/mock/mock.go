// Package mock provides a test double for the tts.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voicelearn/pkg/audio"
	"github.com/MrWong99/voicelearn/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	Ctx   context.Context
	Text  string
	Voice string
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// ─── Configurable responses ───

	// Chunk is returned by Synthesize. A zero Format is replaced with
	// audio.PlaybackFormat.
	Chunk audio.EncodedChunk

	// SynthesizeErr, if non-nil, is returned by Synthesize.
	SynthesizeErr error

	// Voices is returned by ListVoices.
	Voices []tts.Voice

	// ListVoicesErr, if non-nil, is returned by ListVoices.
	ListVoicesErr error

	// ─── Call records ───

	SynthesizeCalls     []SynthesizeCall
	ListVoicesCallCount int
}

var _ tts.Provider = (*Provider)(nil)

// Synthesize records the call and returns Chunk, SynthesizeErr.
func (p *Provider) Synthesize(ctx context.Context, text, voice string) (audio.EncodedChunk, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Text: text, Voice: voice})
	if p.SynthesizeErr != nil {
		return audio.EncodedChunk{}, p.SynthesizeErr
	}
	c := p.Chunk
	if c.Format == (audio.Format{}) {
		c.Format = audio.PlaybackFormat
	}
	c.Data = append([]byte(nil), c.Data...)
	return c, nil
}

// ListVoices records the call and returns Voices, ListVoicesErr.
func (p *Provider) ListVoices(_ context.Context) ([]tts.Voice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListVoicesCallCount++
	return p.Voices, p.ListVoicesErr
}

// Calls returns a snapshot of the Synthesize call records.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]SynthesizeCall(nil), p.SynthesizeCalls...)
}
