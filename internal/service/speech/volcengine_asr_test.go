package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	speechmodel "github.com/zhouzirui/z-tutor/backend/internal/model/speech"
)

// scriptedASR 每收到一包音频回一条累积文本，收到最后一包时回最终结果
func scriptedASR(t *testing.T, words []string, gotRequest *ASRRequest) func(conn *websocket.Conn, r *http.Request) {
	return func(conn *websocket.Conn, r *http.Request) {
		msg, payload, err := readClientMessage(conn)
		if err != nil || msg.Header.MessageType != FullClientRequest {
			t.Errorf("expected full client request, got %v err=%v", msg, err)
			return
		}
		if gotRequest != nil {
			_ = json.Unmarshal(payload, gotRequest)
		}

		text := ""
		packets := 0
		for {
			msg, _, err := readClientMessage(conn)
			if err != nil {
				return
			}
			if msg.Header.MessageType != AudioOnlyRequest {
				continue
			}
			packets++

			if msg.IsLastPacket() {
				body := map[string]any{"code": asrSuccessCode, "sequence": -packets, "result": map[string]any{"text": text}, "audio_info": map[string]any{"duration": 1200}}
				_ = writeServerJSON(conn, int32(packets), true, body)
				return
			}

			if packets <= len(words) {
				if text != "" {
					text += " "
				}
				text += words[packets-1]
			}
			body := map[string]any{"code": asrSuccessCode, "sequence": packets, "result": map[string]any{"text": text}}
			_ = writeServerJSON(conn, int32(packets), false, body)
		}
	}
}

func TestASRStreamDeliversPartialsAndFinal(t *testing.T) {
	var req ASRRequest
	fake, url := newFakeVolcengine(t, scriptedASR(t, []string{"hello", "world"}, &req))

	svc := NewService(testSpeechConfig(url, ""), testPoolOptions())
	defer svc.Cleanup()

	stream, err := svc.OpenStream(context.Background(), &speechmodel.StreamRequest{SessionID: "session-1"})
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer stream.Close()

	for i := 0; i < 2; i++ {
		if err := stream.SendAudio(bytes.Repeat([]byte{1}, 320)); err != nil {
			t.Fatalf("send audio: %v", err)
		}
	}
	if err := stream.CloseSend(); err != nil {
		t.Fatalf("close send: %v", err)
	}

	var texts []string
	var final bool
	for chunk := range stream.Events() {
		texts = append(texts, chunk.Text)
		final = chunk.IsFinal
	}
	if err := stream.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}

	want := []string{"hello", "hello world", "hello world"}
	if len(texts) != len(want) {
		t.Fatalf("events = %v, want %v", texts, want)
	}
	for i := range want {
		if texts[i] != want[i] {
			t.Fatalf("events = %v, want %v", texts, want)
		}
	}
	if !final {
		t.Fatal("last event should be final")
	}

	if req.Audio.Language != "en-US" || req.Audio.Rate != 16000 || req.Request.ModelName != "bigmodel" {
		t.Fatalf("unexpected ASR request %+v", req)
	}
	if req.User.UID != "session-1" {
		t.Fatalf("uid should reuse session id, got %q", req.User.UID)
	}

	h := fake.header(0)
	if h.Get("X-Api-App-Key") != "test-app-id" || h.Get("X-Api-Access-Key") != "test-access-token" {
		t.Fatalf("credentials missing from handshake headers: %v", h)
	}
	if h.Get("X-Api-Resource-Id") != "volc.bigasr.sauc.duration" {
		t.Fatalf("unexpected resource id %q", h.Get("X-Api-Resource-Id"))
	}
}

func TestTranscribeBufferReturnsFinalText(t *testing.T) {
	_, url := newFakeVolcengine(t, scriptedASR(t, []string{"good", "morning", "everyone"}, nil))

	svc := NewService(testSpeechConfig(url, ""), testPoolOptions())
	svc.asrClient.interval = 0
	defer svc.Cleanup()

	audio := bytes.Repeat([]byte{0}, asrChunkBytes*3)
	resp, err := svc.TranscribeBuffer(context.Background(), "session-2", audio, "pcm", "")
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if resp.Text != "good morning everyone" {
		t.Fatalf("unexpected transcript %q", resp.Text)
	}
	if resp.Duration != 1200 {
		t.Fatalf("unexpected duration %d", resp.Duration)
	}
	if resp.Confidence <= 0 {
		t.Fatal("non-empty transcript should have confidence")
	}
}

func TestASRStreamSurfacesServerError(t *testing.T) {
	_, url := newFakeVolcengine(t, func(conn *websocket.Conn, r *http.Request) {
		if _, _, err := readClientMessage(conn); err != nil {
			return
		}
		_ = writeServerError(conn, 45000001, `{"error":"invalid audio"}`)
		_, _, _ = conn.ReadMessage()
	})

	svc := NewService(testSpeechConfig(url, ""), testPoolOptions())
	defer svc.Cleanup()

	stream, err := svc.OpenStream(context.Background(), &speechmodel.StreamRequest{SessionID: "session-3"})
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer stream.Close()

	for range stream.Events() {
	}
	if err := stream.Wait(); err == nil {
		t.Fatal("expected server error to end the stream")
	}
}

func TestASRStreamCloseEndsWait(t *testing.T) {
	_, url := newFakeVolcengine(t, func(conn *websocket.Conn, r *http.Request) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	svc := NewService(testSpeechConfig(url, ""), testPoolOptions())
	defer svc.Cleanup()

	stream, err := svc.OpenStream(context.Background(), &speechmodel.StreamRequest{SessionID: "session-4"})
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}

	stream.Close()

	done := make(chan error, 1)
	go func() { done <- stream.Wait() }()
	select {
	case err := <-done:
		if !errors.Is(err, ErrStreamClosed) {
			t.Fatalf("expected ErrStreamClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after Close")
	}
}

func TestOpenStreamRequiresCredentials(t *testing.T) {
	svc := NewService(&speechmodel.SpeechConfig{}, testPoolOptions())
	if svc.Configured() {
		t.Fatal("empty config should not be configured")
	}
	if _, err := svc.OpenStream(context.Background(), &speechmodel.StreamRequest{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestBuildASRRequestDefaults(t *testing.T) {
	cfg := &speechmodel.SpeechConfig{AppID: "a", AccessToken: "b"}
	client := NewVolcengineASRClient(cfg, NewConnectionPool(testPoolOptions()), NewErrorHandler())

	req := client.buildASRRequest(&speechmodel.StreamRequest{}, "session")
	if req.Audio.Language != "en-US" {
		t.Errorf("Language should default to en-US, got %s", req.Audio.Language)
	}
	if req.Audio.Format != "pcm" {
		t.Errorf("Format should default to pcm, got %s", req.Audio.Format)
	}
	if !req.Request.EnableITN || !req.Request.EnablePunc || !req.Request.ShowUtterances {
		t.Errorf("ITN, punctuation and utterances should be enabled")
	}
	if req.Request.ResultType != "full" {
		t.Errorf("ResultType should be full, got %s", req.Request.ResultType)
	}
}
