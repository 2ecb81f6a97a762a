// Package gemini provides an LLM provider backed by the Gemini API through
// google.golang.org/genai.
package gemini

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/MrWong99/voicelearn/pkg/provider/llm"
)

// DefaultModel is used when New is called with an empty model name.
const DefaultModel = "gemini-3-flash-preview"

// Provider implements llm.Provider on top of genai.Client.
type Provider struct {
	client *genai.Client
	model  string
}

var _ llm.Provider = (*Provider)(nil)

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
		return nil, fmt.Errorf("gemini: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	var cfg config
	for _, o := range opts {
		o(&cfg)
	}
	client, err := NewClient(ctx, apiKey, cfg.baseURL, cfg.httpClient)
	if err != nil {
		return nil, err
	}
	return &Provider{client: client, model: model}, nil
}

// NewClient builds a genai client for the Gemini API backend. It is shared
// with the Gemini TTS provider.
func NewClient(ctx context.Context, apiKey, baseURL string, hc *http.Client) (*genai.Client, error) {
	cc := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: hc,
	}
	if baseURL != "" {
		cc.HTTPOptions.BaseURL = baseURL
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return client, nil
}

// Model returns the configured model name.
func (p *Provider) Model() string { return p.model }

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	contents, cfg := buildRequest(req)
	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: generate content: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return nil, llm.ErrEmptyResponse
	}
	out := &llm.CompletionResponse{
		Content:      resp.Text(),
		FinishReason: finishReason(resp.Candidates[0].FinishReason),
		Usage:        convertUsage(resp.UsageMetadata),
	}
	return out, nil
}

// StreamCompletion implements llm.Provider.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	contents, cfg := buildRequest(req)
	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)
		send := func(c llm.Chunk) bool {
			select {
			case ch <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for resp, err := range p.client.Models.GenerateContentStream(ctx, p.model, contents, cfg) {
			if err != nil {
				send(llm.Chunk{FinishReason: "error", Err: fmt.Errorf("gemini: stream: %w", err)})
				return
			}
			if len(resp.Candidates) == 0 {
				continue
			}
			out := llm.Chunk{
				Text:         resp.Text(),
				FinishReason: finishReason(resp.Candidates[0].FinishReason),
			}
			if !send(out) {
				return
			}
		}
	}()
	return ch, nil
}

// buildRequest maps a CompletionRequest onto genai contents and config.
// System-role history entries are merged into the system instruction.
func buildRequest(req llm.CompletionRequest) ([]*genai.Content, *genai.GenerateContentConfig) {
	var (
		system   []string
		contents []*genai.Content
	)
	if req.SystemPrompt != "" {
		system = append(system, req.SystemPrompt)
	}
	for _, m := range req.Messages {
		switch m.Role {
		case llm.RoleSystem:
			system = append(system, m.Content)
		case llm.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}

	cfg := &genai.GenerateContentConfig{}
	if len(system) > 0 {
		cfg.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}
	if req.Temperature != 0 {
		t := float32(req.Temperature)
		cfg.Temperature = &t
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	return contents, cfg
}

func finishReason(r genai.FinishReason) string {
	switch r {
	case "", genai.FinishReasonUnspecified:
		return ""
	case genai.FinishReasonStop:
		return "stop"
	case genai.FinishReasonMaxTokens:
		return "length"
	default:
		return strings.ToLower(string(r))
	}
}

func convertUsage(u *genai.GenerateContentResponseUsageMetadata) llm.Usage {
	if u == nil {
		return llm.Usage{}
	}
	return llm.Usage{
		PromptTokens:     int(u.PromptTokenCount),
		CompletionTokens: int(u.CandidatesTokenCount),
		TotalTokens:      int(u.TotalTokenCount),
	}
}
