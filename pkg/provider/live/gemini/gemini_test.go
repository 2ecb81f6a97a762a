package gemini_test

import (
	"bytes"
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
	"github.com/MrWong99/voicelearn/pkg/provider/live/gemini"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startGeminiServer launches a test WebSocket server. The handler receives the
// accepted *websocket.Conn; returning from it closes the socket normally.
func startGeminiServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		conn.SetReadLimit(1 << 20)
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

// acceptSetup reads the setup message and acknowledges it.
func acceptSetup(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	var msg map[string]any
	readJSON(t, conn, &msg)
	writeJSON(t, conn, map[string]any{"setupComplete": map[string]any{}})
	return msg
}

// waitClientClose blocks until the client goes away.
func waitClientClose(conn *websocket.Conn) {
	<-conn.CloseRead(context.Background()).Done()
}

func dial(t *testing.T, srv *httptest.Server, cfg live.SessionConfig, opts ...gemini.Option) live.Conn {
	t.Helper()
	opts = append([]gemini.Option{gemini.WithBaseURL(wsURL(srv))}, opts...)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	c, err := gemini.New("test-api-key", opts...).Dial(ctx, cfg)
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

// ── Dial ──────────────────────────────────────────────────────────────────────

func TestNew_DefaultModel(t *testing.T) {
	t.Parallel()
	if got := gemini.New("k").Model(); got != "gemini-2.5-flash-native-audio-preview-12-2025" {
		t.Errorf("Model = %q", got)
	}
	if got := gemini.New("k", gemini.WithModel("m")).Model(); got != "m" {
		t.Errorf("Model = %q, want m", got)
	}
}

func TestDial_SendsSetup(t *testing.T) {
	t.Parallel()

	type setup struct {
		Setup struct {
			Model            string `json:"model"`
			GenerationConfig struct {
				ResponseModalities []string `json:"responseModalities"`
				SpeechConfig       *struct {
					VoiceConfig struct {
						PrebuiltVoiceConfig struct {
							VoiceName string `json:"voiceName"`
						} `json:"prebuiltVoiceConfig"`
					} `json:"voiceConfig"`
				} `json:"speechConfig"`
			} `json:"generationConfig"`
			SystemInstruction struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"systemInstruction"`
			InputAudioTranscription  *struct{} `json:"inputAudioTranscription"`
			OutputAudioTranscription *struct{} `json:"outputAudioTranscription"`
		} `json:"setup"`
	}
	got := make(chan setup, 1)
	keys := make(chan string, 1)

	srv := startGeminiServer(t, func(conn *websocket.Conn, r *http.Request) {
		keys <- r.URL.Query().Get("key")
		var msg setup
		readJSON(t, conn, &msg)
		got <- msg
		writeJSON(t, conn, map[string]any{"setupComplete": map[string]any{}})
		waitClientClose(conn)
	})

	dial(t, srv, live.SessionConfig{
		Instructions:       "Transcribe Hindi.",
		Voice:              "Kore",
		InputTranscription: true,
	}, gemini.WithModel("test-model"))

	msg := <-got
	if msg.Setup.Model != "models/test-model" {
		t.Errorf("model = %q, want models/test-model", msg.Setup.Model)
	}
	if m := msg.Setup.GenerationConfig.ResponseModalities; len(m) != 1 || m[0] != "AUDIO" {
		t.Errorf("responseModalities = %v, want [AUDIO]", m)
	}
	if sc := msg.Setup.GenerationConfig.SpeechConfig; sc == nil || sc.VoiceConfig.PrebuiltVoiceConfig.VoiceName != "Kore" {
		t.Errorf("speechConfig = %+v, want voice Kore", sc)
	}
	if p := msg.Setup.SystemInstruction.Parts; len(p) != 1 || p[0].Text != "Transcribe Hindi." {
		t.Errorf("systemInstruction = %+v", p)
	}
	if msg.Setup.InputAudioTranscription == nil {
		t.Error("inputAudioTranscription missing")
	}
	if msg.Setup.OutputAudioTranscription != nil {
		t.Error("outputAudioTranscription set but not requested")
	}
	if k := <-keys; k != "test-api-key" {
		t.Errorf("key = %q", k)
	}
}

func TestDial_TextModalityOmitsVoice(t *testing.T) {
	t.Parallel()

	got := make(chan map[string]any, 1)
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		got <- acceptSetup(t, conn)
		waitClientClose(conn)
	})
	dial(t, srv, live.SessionConfig{ResponseModality: live.ModalityText, Voice: "Kore"})

	gen := (<-got)["setup"].(map[string]any)["generationConfig"].(map[string]any)
	if _, ok := gen["speechConfig"]; ok {
		t.Error("speechConfig sent for TEXT modality")
	}
	if m := gen["responseModalities"].([]any); m[0] != "TEXT" {
		t.Errorf("responseModalities = %v", m)
	}
}

func TestDial_WaitsForSetupComplete(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var msg map[string]any
		readJSON(t, conn, &msg)
		<-release
		writeJSON(t, conn, map[string]any{"setupComplete": map[string]any{}})
		waitClientClose(conn)
	})

	done := make(chan error, 1)
	go func() {
		c, err := gemini.New("k", gemini.WithBaseURL(wsURL(srv))).Dial(context.Background(), live.SessionConfig{})
		if err == nil {
			_ = c.Close()
		}
		done <- err
	}()

	select {
	case err := <-done:
		t.Fatalf("Dial returned before setupComplete: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Dial: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Dial did not return after setupComplete")
	}
}

func TestDial_ErrorFrameDuringSetup(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var msg map[string]any
		readJSON(t, conn, &msg)
		writeJSON(t, conn, map[string]any{"error": map[string]any{
			"code": 403, "message": "API key not valid", "status": "PERMISSION_DENIED",
		}})
		waitClientClose(conn)
	})

	_, err := gemini.New("bad", gemini.WithBaseURL(wsURL(srv))).Dial(context.Background(), live.SessionConfig{})
	var pe *live.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *live.ProviderError", err)
	}
	if pe.Code != 403 || pe.Status != "PERMISSION_DENIED" {
		t.Errorf("provider error = %+v", pe)
	}
}

func TestDial_CancelledContext(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		waitClientClose(conn)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := gemini.New("k", gemini.WithBaseURL(wsURL(srv))).Dial(ctx, live.SessionConfig{}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

// ── SendAudio ─────────────────────────────────────────────────────────────────

func TestSendAudio_EncodesMediaChunk(t *testing.T) {
	t.Parallel()

	type mediaMsg struct {
		RealtimeInput struct {
			MediaChunks []struct {
				MIMEType string `json:"mimeType"`
				Data     string `json:"data"`
			} `json:"mediaChunks"`
		} `json:"realtimeInput"`
	}
	got := make(chan mediaMsg, 1)
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		var msg mediaMsg
		readJSON(t, conn, &msg)
		got <- msg
		waitClientClose(conn)
	})

	c := dial(t, srv, live.SessionConfig{})
	pcm := []byte{0x00, 0x01, 0xff, 0x7f}
	if err := c.SendAudio(context.Background(), audio.EncodedChunk{Data: pcm, Format: audio.CaptureFormat}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	msg := <-got
	if len(msg.RealtimeInput.MediaChunks) != 1 {
		t.Fatalf("mediaChunks = %d, want 1", len(msg.RealtimeInput.MediaChunks))
	}
	mc := msg.RealtimeInput.MediaChunks[0]
	if mc.MIMEType != "audio/pcm;rate=16000" {
		t.Errorf("mimeType = %q", mc.MIMEType)
	}
	if mc.Data != base64.StdEncoding.EncodeToString(pcm) {
		t.Errorf("data = %q", mc.Data)
	}
}

// ── Receive ───────────────────────────────────────────────────────────────────

func TestReceive_SplitsServerContent(t *testing.T) {
	t.Parallel()

	pcm := []byte{1, 0, 2, 0}
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{
			"modelTurn": map[string]any{"parts": []any{
				map[string]any{"inlineData": map[string]any{
					"mimeType": "audio/pcm;rate=24000",
					"data":     base64.StdEncoding.EncodeToString(pcm),
				}},
			}},
			"outputTranscription": map[string]any{"text": "Namaste"},
		}})
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{
			"inputTranscription": map[string]any{"text": "hello"},
		}})
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{"turnComplete": true}})
		waitClientClose(conn)
	})

	c := dial(t, srv, live.SessionConfig{})

	m := receive(t, c)
	if m.Audio == nil || !bytes.Equal(m.Audio.Data, pcm) {
		t.Fatalf("first message = %+v, want audio", m)
	}
	if m.Audio.Format != audio.PlaybackFormat {
		t.Errorf("audio format = %v, want %v", m.Audio.Format, audio.PlaybackFormat)
	}
	if m = receive(t, c); m.Transcript != "Namaste" || m.TranscriptSource != live.TranscriptOutput {
		t.Errorf("second message = %+v, want output transcript", m)
	}
	if m = receive(t, c); m.Transcript != "hello" || m.TranscriptSource != live.TranscriptInput {
		t.Errorf("third message = %+v, want input transcript", m)
	}
	if m = receive(t, c); !m.TurnComplete {
		t.Errorf("fourth message = %+v, want turn complete", m)
	}
}

func TestReceive_InterruptedAndText(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{
			"modelTurn": map[string]any{"parts": []any{map[string]any{"text": "Sure."}}},
		}})
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{"interrupted": true}})
		waitClientClose(conn)
	})

	c := dial(t, srv, live.SessionConfig{})
	if m := receive(t, c); m.Text != "Sure." {
		t.Errorf("message = %+v, want text", m)
	}
	if m := receive(t, c); !m.Interrupted {
		t.Errorf("message = %+v, want interrupted", m)
	}
}

func TestReceive_LargeAudioFrame(t *testing.T) {
	t.Parallel()

	big := make([]byte, 200_000)
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{
			"modelTurn": map[string]any{"parts": []any{map[string]any{"inlineData": map[string]any{
				"mimeType": "audio/pcm;rate=24000",
				"data":     base64.StdEncoding.EncodeToString(big),
			}}}},
		}})
		waitClientClose(conn)
	})

	c := dial(t, srv, live.SessionConfig{})
	if m := receive(t, c); m.Audio == nil || len(m.Audio.Data) != len(big) {
		t.Fatalf("large audio frame not delivered intact")
	}
}

func TestReceive_ErrorFrame(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		writeJSON(t, conn, map[string]any{"error": map[string]any{"code": 500, "message": "internal"}})
		waitClientClose(conn)
	})

	c := dial(t, srv, live.SessionConfig{})
	_, err := c.Receive(context.Background())
	var pe *live.ProviderError
	if !errors.As(err, &pe) || pe.Code != 500 {
		t.Fatalf("err = %v, want ProviderError 500", err)
	}
}

func TestReceive_NormalCloseIsEOF(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		writeJSON(t, conn, map[string]any{"goAway": map[string]any{"timeLeft": "1s"}})
	})

	c := dial(t, srv, live.SessionConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := c.Receive(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("err = %v, want io.EOF", err)
	}
}

func TestClose_Idempotent(t *testing.T) {
	t.Parallel()

	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		waitClientClose(conn)
	})
	c := dial(t, srv, live.SessionConfig{})
	for range 3 {
		if err := c.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}
	if err := c.SendAudio(context.Background(), audio.EncodedChunk{Data: []byte{0, 0}, Format: audio.CaptureFormat}); err == nil {
		t.Error("SendAudio after Close should fail")
	}
}

// TestSession_EndToEnd drives a live.Session over the real transport.
func TestSession_EndToEnd(t *testing.T) {
	t.Parallel()

	received := make(chan int, 1)
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		var n int
		for range 3 {
			var msg map[string]any
			readJSON(t, conn, &msg)
			n++
		}
		received <- n
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{"turnComplete": true}})
		waitClientClose(conn)
	})

	turn := make(chan struct{})
	sess := live.NewSession(gemini.New("k", gemini.WithBaseURL(wsURL(srv))), live.Callbacks{
		OnMessage: func(m live.Message) {
			if m.TurnComplete {
				close(turn)
			}
		},
	})
	for range 3 {
		if err := sess.Send(audio.EncodedChunk{Data: make([]byte, 8192), Format: audio.CaptureFormat}); err != nil {
			t.Fatal(err)
		}
	}
	if err := sess.Start(context.Background(), live.SessionConfig{}); err != nil {
		t.Fatal(err)
	}
	select {
	case <-turn:
	case <-time.After(3 * time.Second):
		t.Fatal("no turn complete")
	}
	if n := <-received; n != 3 {
		t.Errorf("server received %d chunks, want 3", n)
	}
	_ = sess.Close()
}
