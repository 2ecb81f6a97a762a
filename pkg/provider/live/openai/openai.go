// Package openai implements [live.Dialer] for OpenAI's Realtime API.
//
// The Realtime API speaks PCM16 at 24 kHz in both directions. Microphone
// chunks captured at another rate are resampled before they are appended to
// the input buffer.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/coder/websocket"

	"github.com/MrWong99/voicelearn/pkg/audio"
	"github.com/MrWong99/voicelearn/pkg/audio/pcm"
	"github.com/MrWong99/voicelearn/pkg/provider/live"
)

var _ live.Dialer = (*Dialer)(nil)
var _ live.Conn = (*conn)(nil)

const (
	defaultModel   = "gpt-4o-realtime-preview"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"

	// transcriptionModel transcribes user speech when input transcription is
	// requested.
	transcriptionModel = "whisper-1"

	readLimit = 16 << 20
)

// wireFormat is the only PCM layout the Realtime API accepts.
var wireFormat = audio.Format{SampleRate: 24000, Channels: 1}

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Dialer.
type Option func(*Dialer)

// WithModel sets the OpenAI model used for sessions.
func WithModel(model string) Option {
	return func(d *Dialer) { d.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(d *Dialer) { d.baseURL = url }
}

// ── Dialer ─────────────────────────────────────────────────────────────────────

// Dialer opens OpenAI Realtime sessions.
type Dialer struct {
	apiKey  string
	model   string
	baseURL string
}

// New creates an OpenAI Realtime dialer with the given API key and options.
func New(apiKey string, opts ...Option) *Dialer {
	d := &Dialer{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Model returns the configured model name.
func (d *Dialer) Model() string { return d.model }

// Dial connects, configures the session and waits for session.updated.
func (d *Dialer) Dial(ctx context.Context, cfg live.SessionConfig) (live.Conn, error) {
	wsURL := fmt.Sprintf("%s?model=%s", d.baseURL, url.QueryEscape(d.model))

	ws, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + d.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: dial: %w", err)
	}
	ws.SetReadLimit(readLimit)

	c := &conn{ws: ws, outputTranscripts: cfg.OutputTranscription}
	if err := c.writeJSON(ctx, buildSessionUpdate(cfg)); err != nil {
		c.Close()
		return nil, fmt.Errorf("openai: session update: %w", err)
	}
	if err := c.awaitSessionUpdated(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Modalities              []string             `json:"modalities"`
	Voice                   string               `json:"voice,omitempty"`
	Instructions            string               `json:"instructions,omitempty"`
	InputAudioFormat        string               `json:"input_audio_format"`
	OutputAudioFormat       string               `json:"output_audio_format"`
	InputAudioTranscription *transcriptionParams `json:"input_audio_transcription,omitempty"`
}

type transcriptionParams struct {
	Model string `json:"model"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

func buildSessionUpdate(cfg live.SessionConfig) sessionUpdateMessage {
	params := sessionParams{
		Modalities:        []string{"text"},
		Instructions:      cfg.Instructions,
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
	}
	if cfg.Modality() == live.ModalityAudio {
		params.Modalities = []string{"audio", "text"}
		params.Voice = cfg.Voice
	}
	if cfg.InputTranscription {
		params.InputAudioTranscription = &transcriptionParams{Model: transcriptionModel}
	}
	return sessionUpdateMessage{Type: "session.update", Session: params}
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

// serverErrorDetail is the nested error object of an error event:
// {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta / response.text.delta / response.audio_transcript.delta
	Delta string `json:"delta,omitempty"`

	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`

	Error *serverErrorDetail `json:"error,omitempty"`
}

// ── conn ───────────────────────────────────────────────────────────────────────

type conn struct {
	ws                *websocket.Conn
	outputTranscripts bool
	closeOnce         sync.Once
}

func (c *conn) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai: marshal: %w", err)
	}
	return c.ws.Write(ctx, websocket.MessageText, data)
}

func (c *conn) readEvent(ctx context.Context) (*serverEvent, error) {
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		if s := websocket.CloseStatus(err); s == websocket.StatusNormalClosure || s == websocket.StatusGoingAway {
			return nil, io.EOF
		}
		return nil, err
	}
	var evt serverEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		slog.Debug("openai: skipping malformed event", "err", err)
		return &serverEvent{}, nil
	}
	return &evt, nil
}

func (c *conn) awaitSessionUpdated(ctx context.Context) error {
	for {
		evt, err := c.readEvent(ctx)
		if err != nil {
			return fmt.Errorf("openai: await session: %w", err)
		}
		switch evt.Type {
		case "session.updated":
			return nil
		case "error":
			return toProviderError(evt.Error)
		}
	}
}

// SendAudio appends chunk to the input audio buffer, resampled to 24 kHz.
func (c *conn) SendAudio(ctx context.Context, chunk audio.EncodedChunk) error {
	data := chunk.Data
	if chunk.Format.SampleRate != wireFormat.SampleRate {
		data = audio.ResampleMono16(data, chunk.Format.SampleRate, wireFormat.SampleRate)
	}
	return c.writeJSON(ctx, appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: pcm.ToTransportText(data),
	})
}

// Receive returns the next event that maps to a [live.Message].
func (c *conn) Receive(ctx context.Context) (live.Message, error) {
	for {
		evt, err := c.readEvent(ctx)
		if err != nil {
			return live.Message{}, err
		}
		switch evt.Type {
		case "response.audio.delta":
			data, err := pcm.FromTransportText(evt.Delta)
			if err != nil || len(data) == 0 {
				continue
			}
			return live.Message{Audio: &audio.EncodedChunk{Data: data, Format: wireFormat}}, nil
		case "response.text.delta":
			if evt.Delta != "" {
				return live.Message{Text: evt.Delta}, nil
			}
		case "response.audio_transcript.delta":
			if c.outputTranscripts && evt.Delta != "" {
				return live.Message{Transcript: evt.Delta, TranscriptSource: live.TranscriptOutput}, nil
			}
		case "conversation.item.input_audio_transcription.completed":
			if evt.Transcript != "" {
				return live.Message{Transcript: evt.Transcript, TranscriptSource: live.TranscriptInput}, nil
			}
		case "input_audio_buffer.speech_started":
			return live.Message{Interrupted: true}, nil
		case "response.done":
			return live.Message{TurnComplete: true}, nil
		case "error":
			return live.Message{}, toProviderError(evt.Error)
		}
	}
}

func toProviderError(d *serverErrorDetail) error {
	if d == nil {
		return &live.ProviderError{}
	}
	return &live.ProviderError{Status: d.Code, Message: d.Message}
}

// Close terminates the connection. Idempotent.
func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		c.ws.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}
