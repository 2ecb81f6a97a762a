// Package gemini implements [live.Dialer] for Google's Gemini Live API.
//
// It opens a WebSocket to the BidiGenerateContent endpoint, sends the setup
// message, and waits for setupComplete before handing the connection out.
// Audio travels as base64 PCM inside realtimeInput.mediaChunks; replies arrive
// as serverContent frames carrying inline audio, transcriptions and turn
// signals.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voicelearn/pkg/audio"
	"github.com/MrWong99/voicelearn/pkg/audio/pcm"
	"github.com/MrWong99/voicelearn/pkg/provider/live"
)

var _ live.Dialer = (*Dialer)(nil)
var _ live.Conn = (*conn)(nil)

const (
	defaultModel   = "gemini-2.5-flash-native-audio-preview-12-2025"
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second

	// Inline audio frames easily exceed the library's 32 KiB default.
	readLimit = 16 << 20
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Dialer.
type Option func(*Dialer)

// WithModel sets the Gemini model used for sessions.
func WithModel(model string) Option {
	return func(d *Dialer) { d.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(d *Dialer) { d.baseURL = url }
}

// WithOutputFormat sets the format assumed for inline audio that carries no
// rate in its MIME type. Defaults to 24 kHz mono.
func WithOutputFormat(f audio.Format) Option {
	return func(d *Dialer) { d.outputFormat = f }
}

// ── Dialer ─────────────────────────────────────────────────────────────────────

// Dialer opens Gemini Live sessions.
type Dialer struct {
	apiKey       string
	model        string
	baseURL      string
	outputFormat audio.Format
}

// New creates a Gemini Live dialer with the given API key and options.
func New(apiKey string, opts ...Option) *Dialer {
	d := &Dialer{
		apiKey:       apiKey,
		model:        defaultModel,
		baseURL:      defaultBaseURL,
		outputFormat: audio.PlaybackFormat,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Model returns the configured model name.
func (d *Dialer) Model() string { return d.model }

// Dial connects, sends the setup message and waits for setupComplete.
func (d *Dialer) Dial(ctx context.Context, cfg live.SessionConfig) (live.Conn, error) {
	wsURL := fmt.Sprintf(
		"%s/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent?key=%s",
		d.baseURL, url.QueryEscape(d.apiKey),
	)

	ws, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: dial: %w", err)
	}
	ws.SetReadLimit(readLimit)

	connCtx, cancel := context.WithCancel(context.Background())
	c := &conn{
		ws:           ws,
		outputFormat: d.outputFormat,
		ctx:          connCtx,
		cancel:       cancel,
	}

	if err := c.writeJSON(ctx, buildSetup(d.model, cfg)); err != nil {
		c.Close()
		return nil, fmt.Errorf("gemini: setup: %w", err)
	}
	if err := c.awaitSetupComplete(ctx); err != nil {
		c.Close()
		return nil, err
	}

	go c.keepaliveLoop()
	return c, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model                    string           `json:"model"`
	GenerationConfig         generationConfig `json:"generationConfig"`
	SystemInstruction        *content         `json:"systemInstruction,omitempty"`
	InputAudioTranscription  *struct{}        `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}        `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []inlineData `json:"mediaChunks"`
}

func buildSetup(model string, cfg live.SessionConfig) setupMessage {
	msg := setupMessage{
		Setup: setupConfig{
			Model: "models/" + model,
			GenerationConfig: generationConfig{
				ResponseModalities: []string{string(cfg.Modality())},
			},
		},
	}
	if cfg.Instructions != "" {
		msg.Setup.SystemInstruction = &content{Parts: []part{{Text: cfg.Instructions}}}
	}
	if cfg.Voice != "" && cfg.Modality() == live.ModalityAudio {
		msg.Setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: cfg.Voice}},
		}
	}
	if cfg.InputTranscription {
		msg.Setup.InputAudioTranscription = &struct{}{}
	}
	if cfg.OutputTranscription {
		msg.Setup.OutputAudioTranscription = &struct{}{}
	}
	return msg
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent   `json:"serverContent,omitempty"`
	GoAway        *goAway          `json:"goAway,omitempty"`
	Error         *geminiError     `json:"error,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

type goAway struct {
	TimeLeft string `json:"timeLeft,omitempty"`
}

type serverContent struct {
	ModelTurn           *content       `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type transcription struct {
	Text string `json:"text"`
}

// ── conn ───────────────────────────────────────────────────────────────────────

type conn struct {
	ws           *websocket.Conn
	outputFormat audio.Format

	// pending holds messages decoded from one frame that Receive has not yet
	// returned. Only the reader goroutine touches it.
	pending []live.Message

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (c *conn) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gemini: marshal: %w", err)
	}
	return c.ws.Write(ctx, websocket.MessageText, data)
}

func (c *conn) readFrame(ctx context.Context) (*serverMessage, error) {
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		if s := websocket.CloseStatus(err); s == websocket.StatusNormalClosure || s == websocket.StatusGoingAway {
			return nil, io.EOF
		}
		return nil, err
	}
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Debug("gemini: skipping malformed frame", "err", err)
		return &serverMessage{}, nil
	}
	return &msg, nil
}

func (c *conn) awaitSetupComplete(ctx context.Context) error {
	for {
		msg, err := c.readFrame(ctx)
		if err != nil {
			return fmt.Errorf("gemini: await setup: %w", err)
		}
		if msg.Error != nil {
			return toProviderError(msg.Error)
		}
		if msg.SetupComplete != nil {
			return nil
		}
	}
}

// SendAudio writes chunk as one realtimeInput media chunk.
func (c *conn) SendAudio(ctx context.Context, chunk audio.EncodedChunk) error {
	msg := realtimeInputMessage{
		RealtimeInput: realtimeInput{
			MediaChunks: []inlineData{{
				MIMEType: chunk.MIMEType(),
				Data:     pcm.ToTransportText(chunk.Data),
			}},
		},
	}
	return c.writeJSON(ctx, msg)
}

// Receive returns the next inbound message. One serverContent frame may yield
// several messages; they are returned in frame order.
func (c *conn) Receive(ctx context.Context) (live.Message, error) {
	for len(c.pending) == 0 {
		msg, err := c.readFrame(ctx)
		if err != nil {
			return live.Message{}, err
		}
		if msg.Error != nil {
			return live.Message{}, toProviderError(msg.Error)
		}
		if msg.GoAway != nil {
			slog.Warn("gemini: server going away", "timeLeft", msg.GoAway.TimeLeft)
		}
		if msg.ServerContent != nil {
			c.pending = c.decodeContent(msg.ServerContent)
		}
	}
	m := c.pending[0]
	c.pending = c.pending[1:]
	return m, nil
}

func (c *conn) decodeContent(sc *serverContent) []live.Message {
	var out []live.Message
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData != nil {
				data, err := pcm.FromTransportText(p.InlineData.Data)
				if err != nil || len(data) == 0 {
					continue
				}
				format, err := audio.ParseMIMEType(p.InlineData.MIMEType, c.outputFormat)
				if err != nil {
					slog.Debug("gemini: unknown inline mime type", "mimeType", p.InlineData.MIMEType, "err", err)
					continue
				}
				out = append(out, live.Message{Audio: &audio.EncodedChunk{Data: data, Format: format}})
			}
			if p.Text != "" {
				out = append(out, live.Message{Text: p.Text})
			}
		}
	}
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		out = append(out, live.Message{Transcript: sc.InputTranscription.Text, TranscriptSource: live.TranscriptInput})
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		out = append(out, live.Message{Transcript: sc.OutputTranscription.Text, TranscriptSource: live.TranscriptOutput})
	}
	if sc.Interrupted {
		out = append(out, live.Message{Interrupted: true})
	}
	if sc.TurnComplete {
		out = append(out, live.Message{TurnComplete: true})
	}
	return out
}

func toProviderError(ge *geminiError) error {
	return &live.ProviderError{Code: ge.Code, Status: ge.Status, Message: ge.Message}
}

// keepaliveLoop pings the server so idle sessions are not dropped.
func (c *conn) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(c.ctx, keepaliveTimeout)
			if err := c.ws.Ping(pingCtx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Debug("gemini: keepalive ping failed", "err", err)
			}
			cancel()
		}
	}
}

// Close terminates the connection. Idempotent.
func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.ws.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}
