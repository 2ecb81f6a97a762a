// Package gemini provides a TTS provider backed by the Gemini speech
// generation models through google.golang.org/genai.
package gemini

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"google.golang.org/genai"

	"github.com/MrWong99/voicelearn/pkg/audio"
	llmgemini "github.com/MrWong99/voicelearn/pkg/provider/llm/gemini"
	"github.com/MrWong99/voicelearn/pkg/provider/tts"
)

// DefaultModel is used when New is called with an empty model name.
const DefaultModel = "gemini-2.5-flash-preview-tts"

// prebuiltVoices is the catalogue of Gemini prebuilt voices.
var prebuiltVoices = []tts.Voice{
	{ID: "Kore", Name: "Kore", Labels: map[string]string{"style": "firm"}},
	{ID: "Puck", Name: "Puck", Labels: map[string]string{"style": "upbeat"}},
	{ID: "Charon", Name: "Charon", Labels: map[string]string{"style": "informative"}},
	{ID: "Fenrir", Name: "Fenrir", Labels: map[string]string{"style": "excitable"}},
	{ID: "Aoede", Name: "Aoede", Labels: map[string]string{"style": "breezy"}},
	{ID: "Leda", Name: "Leda", Labels: map[string]string{"style": "youthful"}},
	{ID: "Orus", Name: "Orus", Labels: map[string]string{"style": "firm"}},
	{ID: "Zephyr", Name: "Zephyr", Labels: map[string]string{"style": "bright"}},
}

// Provider implements tts.Provider using generateContent with an AUDIO
// response modality.
type Provider struct {
	client *genai.Client
	model  string
}

var _ tts.Provider = (*Provider)(nil)

type config struct {
	baseURL    string
	httpClient *http.Client
}

// Option is a functional option for New.
type Option func(*config)

// WithBaseURL overrides the Gemini API endpoint.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) { c.httpClient = hc }
}

// New constructs a Provider. apiKey must not be empty.
func New(ctx context.Context, apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini tts: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	var cfg config
	for _, o := range opts {
		o(&cfg)
	}
	client, err := llmgemini.NewClient(ctx, apiKey, cfg.baseURL, cfg.httpClient)
	if err != nil {
		return nil, err
	}
	return &Provider{client: client, model: model}, nil
}

// Synthesize implements tts.Provider. The returned chunk carries the format
// announced in the response MIME type, 24 kHz mono when none is given.
func (p *Provider) Synthesize(ctx context.Context, text, voice string) (audio.EncodedChunk, error) {
	if text == "" {
		return audio.EncodedChunk{}, fmt.Errorf("gemini tts: text must not be empty")
	}
	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: tts.VoiceOrDefault(voice)},
			},
		},
	}
	contents := []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, cfg)
	if err != nil {
		return audio.EncodedChunk{}, fmt.Errorf("gemini tts: generate content: %w", err)
	}
	return extractAudio(resp)
}

// extractAudio concatenates every inline audio part of the first candidate.
func extractAudio(resp *genai.GenerateContentResponse) (audio.EncodedChunk, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return audio.EncodedChunk{}, tts.ErrNoAudio
	}
	var (
		buf    bytes.Buffer
		format = audio.PlaybackFormat
		seen   bool
	)
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.InlineData == nil || len(part.InlineData.Data) == 0 {
			continue
		}
		if !seen {
			f, err := audio.ParseMIMEType(part.InlineData.MIMEType, audio.PlaybackFormat)
			if err != nil {
				return audio.EncodedChunk{}, fmt.Errorf("gemini tts: %w", err)
			}
			format = f
			seen = true
		}
		buf.Write(part.InlineData.Data)
	}
	if !seen {
		return audio.EncodedChunk{}, tts.ErrNoAudio
	}
	return audio.EncodedChunk{Data: buf.Bytes(), Format: format}, nil
}

// ListVoices implements tts.Provider. Gemini exposes no voice listing
// endpoint, so the prebuilt catalogue is returned.
func (p *Provider) ListVoices(_ context.Context) ([]tts.Voice, error) {
	out := make([]tts.Voice, len(prebuiltVoices))
	for i, v := range prebuiltVoices {
		v.Provider = "gemini"
		out[i] = v
	}
	return out, nil
}
