package openai_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voicelearn/pkg/audio"
	"github.com/MrWong99/voicelearn/pkg/provider/live"
	"github.com/MrWong99/voicelearn/pkg/provider/live/openai"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startOpenAIServer launches a test WebSocket server. The server is closed
// automatically when the test finishes.
func startOpenAIServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readJSON reads one WebSocket text frame and decodes it into v.
func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Errorf("readJSON: %v", err)
		return
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Errorf("readJSON unmarshal: %v", err)
	}
}

// writeJSON marshals v and sends it as a text frame.
func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

// acceptSession reads session.update and confirms it.
func acceptSession(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	writeJSON(t, conn, map[string]any{"type": "session.created"})
	var msg map[string]any
	readJSON(t, conn, &msg)
	writeJSON(t, conn, map[string]any{"type": "session.updated"})
	return msg
}

func dial(t *testing.T, srv *httptest.Server, cfg live.SessionConfig) live.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	c, err := openai.New("sk-test", openai.WithBaseURL(wsURL(srv))).Dial(ctx, cfg)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func receive(t *testing.T, c live.Conn) live.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	m, err := c.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	return m
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestNew_Options(t *testing.T) {
	t.Parallel()
	if got := openai.New("k").Model(); got != "gpt-4o-realtime-preview" {
		t.Errorf("Model = %q", got)
	}
	if got := openai.New("k", openai.WithModel("x")).Model(); got != "x" {
		t.Errorf("Model = %q, want x", got)
	}
}

func TestDial_SendsSessionUpdateAndHeaders(t *testing.T) {
	t.Parallel()

	type update struct {
		Type    string `json:"type"`
		Session struct {
			Modalities              []string `json:"modalities"`
			Voice                   string   `json:"voice"`
			Instructions            string   `json:"instructions"`
			InputAudioFormat        string   `json:"input_audio_format"`
			InputAudioTranscription *struct {
				Model string `json:"model"`
			} `json:"input_audio_transcription"`
		} `json:"session"`
	}
	got := make(chan update, 1)
	headers := make(chan http.Header, 1)
	models := make(chan string, 1)

	srv := startOpenAIServer(t, func(conn *websocket.Conn, r *http.Request) {
		headers <- r.Header.Clone()
		models <- r.URL.Query().Get("model")
		var msg update
		readJSON(t, conn, &msg)
		got <- msg
		writeJSON(t, conn, map[string]any{"type": "session.updated"})
		<-conn.CloseRead(context.Background()).Done()
	})

	dial(t, srv, live.SessionConfig{Instructions: "Be a tutor.", Voice: "alloy", InputTranscription: true})

	msg := <-got
	if msg.Type != "session.update" {
		t.Errorf("type = %q", msg.Type)
	}
	if m := msg.Session.Modalities; len(m) != 2 || m[0] != "audio" {
		t.Errorf("modalities = %v", m)
	}
	if msg.Session.Voice != "alloy" || msg.Session.Instructions != "Be a tutor." {
		t.Errorf("session = %+v", msg.Session)
	}
	if msg.Session.InputAudioFormat != "pcm16" {
		t.Errorf("input_audio_format = %q", msg.Session.InputAudioFormat)
	}
	if tr := msg.Session.InputAudioTranscription; tr == nil || tr.Model != "whisper-1" {
		t.Errorf("input_audio_transcription = %+v", tr)
	}
	h := <-headers
	if h.Get("Authorization") != "Bearer sk-test" || h.Get("OpenAI-Beta") != "realtime=v1" {
		t.Errorf("headers = %v", h)
	}
	if m := <-models; m != "gpt-4o-realtime-preview" {
		t.Errorf("model query = %q", m)
	}
}

func TestDial_ErrorEvent(t *testing.T) {
	t.Parallel()

	srv := startOpenAIServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var msg map[string]any
		readJSON(t, conn, &msg)
		writeJSON(t, conn, map[string]any{"type": "error", "error": map[string]any{
			"type": "invalid_request_error", "code": "invalid_api_key", "message": "Incorrect API key",
		}})
		<-conn.CloseRead(context.Background()).Done()
	})

	_, err := openai.New("bad", openai.WithBaseURL(wsURL(srv))).Dial(context.Background(), live.SessionConfig{})
	var pe *live.ProviderError
	if !errors.As(err, &pe) || pe.Status != "invalid_api_key" {
		t.Fatalf("err = %v, want ProviderError invalid_api_key", err)
	}
}

func TestSendAudio_ResamplesTo24k(t *testing.T) {
	t.Parallel()

	got := make(chan map[string]string, 1)
	srv := startOpenAIServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSession(t, conn)
		var msg map[string]string
		readJSON(t, conn, &msg)
		got <- msg
		<-conn.CloseRead(context.Background()).Done()
	})

	c := dial(t, srv, live.SessionConfig{})
	chunk := audio.EncodedChunk{Data: make([]byte, 320), Format: audio.CaptureFormat} // 10ms at 16 kHz
	if err := c.SendAudio(context.Background(), chunk); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	msg := <-got
	if msg["type"] != "input_audio_buffer.append" {
		t.Errorf("type = %q", msg["type"])
	}
	data, err := base64.StdEncoding.DecodeString(msg["audio"])
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 480 {
		t.Errorf("appended %d bytes, want 480 (10ms at 24 kHz)", len(data))
	}
}

func TestReceive_MapsEvents(t *testing.T) {
	t.Parallel()

	pcm := []byte{1, 0, 2, 0}
	srv := startOpenAIServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSession(t, conn)
		writeJSON(t, conn, map[string]any{"type": "rate_limits.updated"})
		writeJSON(t, conn, map[string]any{"type": "input_audio_buffer.speech_started"})
		writeJSON(t, conn, map[string]any{"type": "conversation.item.input_audio_transcription.completed", "transcript": "what is gravity"})
		writeJSON(t, conn, map[string]any{"type": "response.audio.delta", "delta": base64.StdEncoding.EncodeToString(pcm)})
		writeJSON(t, conn, map[string]any{"type": "response.audio_transcript.delta", "delta": "Gravity"})
		writeJSON(t, conn, map[string]any{"type": "response.done"})
		<-conn.CloseRead(context.Background()).Done()
	})

	c := dial(t, srv, live.SessionConfig{OutputTranscription: true})

	if m := receive(t, c); !m.Interrupted {
		t.Errorf("want interrupted, got %+v", m)
	}
	if m := receive(t, c); m.Transcript != "what is gravity" || m.TranscriptSource != live.TranscriptInput {
		t.Errorf("want input transcript, got %+v", m)
	}
	m := receive(t, c)
	if m.Audio == nil || string(m.Audio.Data) != string(pcm) || m.Audio.Format.SampleRate != 24000 {
		t.Errorf("want 24 kHz audio, got %+v", m)
	}
	if m := receive(t, c); m.Transcript != "Gravity" || m.TranscriptSource != live.TranscriptOutput {
		t.Errorf("want output transcript, got %+v", m)
	}
	if m := receive(t, c); !m.TurnComplete {
		t.Errorf("want turn complete, got %+v", m)
	}
}

func TestReceive_OutputTranscriptsOffByDefault(t *testing.T) {
	t.Parallel()

	srv := startOpenAIServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSession(t, conn)
		writeJSON(t, conn, map[string]any{"type": "response.audio_transcript.delta", "delta": "hidden"})
		writeJSON(t, conn, map[string]any{"type": "response.done"})
		<-conn.CloseRead(context.Background()).Done()
	})

	c := dial(t, srv, live.SessionConfig{})
	if m := receive(t, c); !m.TurnComplete {
		t.Errorf("want turn complete, got %+v", m)
	}
}

func TestReceive_ErrorAndClose(t *testing.T) {
	t.Parallel()

	srv := startOpenAIServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSession(t, conn)
		writeJSON(t, conn, map[string]any{"type": "error", "error": map[string]any{"message": "boom"}})
	})

	c := dial(t, srv, live.SessionConfig{})
	_, err := c.Receive(context.Background())
	var pe *live.ProviderError
	if !errors.As(err, &pe) || pe.Message != "boom" {
		t.Fatalf("err = %v, want ProviderError boom", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := c.Receive(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("after server close err = %v, want io.EOF", err)
	}
}
