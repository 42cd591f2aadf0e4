package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-tutor/backend/internal/model/assistant"
	"github.com/zhouzirui/z-tutor/backend/internal/model/chat"
	speechmodel "github.com/zhouzirui/z-tutor/backend/internal/model/speech"
	speechsvc "github.com/zhouzirui/z-tutor/backend/internal/service/speech"
)

type fakeSpeechService struct {
	configured        bool
	err               error
	transcribeSession string
	transcribeLang    string
	synthSession      string
	synthVoice        string
	synthLang         string
}

func (f *fakeSpeechService) Configured() bool { return f.configured }

func (f *fakeSpeechService) TranscribeAudio(ctx context.Context, req *speechmodel.ASRRequest) (*speechmodel.ASRResponse, error) {
	f.transcribeSession = req.SessionID
	f.transcribeLang = req.Language
	if f.err != nil {
		return nil, f.err
	}
	return &speechmodel.ASRResponse{SessionID: req.SessionID, Text: "ok"}, nil
}

func (f *fakeSpeechService) SynthesizeSpeech(ctx context.Context, req *speechmodel.TTSRequest) (*speechmodel.TTSResponse, error) {
	f.synthSession = req.SessionID
	f.synthVoice = req.Voice
	f.synthLang = req.Language
	if f.err != nil {
		return nil, f.err
	}
	return &speechmodel.TTSResponse{SessionID: req.SessionID, AudioData: []byte("audio"), Format: "mp3"}, nil
}

type fixedSession chat.Session

func (s fixedSession) Session() chat.Session { return chat.Session(s) }

func multipartAudio(t *testing.T, filename string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("audio", filename)
	if err != nil {
		t.Fatalf("CreateFormFile err: %v", err)
	}
	if _, err := part.Write([]byte("audio")); err != nil {
		t.Fatalf("write audio err: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("writer.Close err: %v", err)
	}
	return body, writer.FormDataContentType()
}

func newRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	h.RegisterRoutes(r, nil)
	return r
}

func TestTranscribeOverridesSession(t *testing.T) {
	fakeSvc := &fakeSpeechService{}
	r := newRouter(New(fakeSvc, nil, nil, ""))

	body, contentType := multipartAudio(t, "sample.wav")
	req := httptest.NewRequest(http.MethodPost, "/speech/transcribe/session-override", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	if fakeSvc.transcribeSession != "session-override" {
		t.Fatalf("expected override session, got %s", fakeSvc.transcribeSession)
	}
	if fakeSvc.transcribeLang != "en-US" {
		t.Fatalf("expected default locale, got %s", fakeSvc.transcribeLang)
	}
}

func TestTranscribeDefaultsToThreadID(t *testing.T) {
	fakeSvc := &fakeSpeechService{}
	sessions := fixedSession{AssistantID: assistant.DefaultID, ThreadID: "thread-9"}
	r := newRouter(New(fakeSvc, sessions, nil, "en-GB"))

	body, contentType := multipartAudio(t, "clip.pcm")
	req := httptest.NewRequest(http.MethodPost, "/speech/transcribe", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if fakeSvc.transcribeSession != "thread-9" || fakeSvc.transcribeLang != "en-GB" {
		t.Fatalf("unexpected request session=%s lang=%s", fakeSvc.transcribeSession, fakeSvc.transcribeLang)
	}
}

func TestTranscribeRequiresAudio(t *testing.T) {
	r := newRouter(New(&fakeSpeechService{}, nil, nil, ""))

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	writer.Close()
	req := httptest.NewRequest(http.MethodPost, "/speech/transcribe", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestSynthesizeUsesAssistantVoice(t *testing.T) {
	fakeSvc := &fakeSpeechService{}
	sessions := fixedSession{AssistantID: "grammar-coach", ThreadID: "thread-1"}
	r := newRouter(New(fakeSvc, sessions, assistant.NewMemoryStore(assistant.Seed()), ""))

	buf, _ := json.Marshal(map[string]any{"text": "hello"})
	req := httptest.NewRequest(http.MethodPost, "/speech/synthesize", bytes.NewReader(buf))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "audio/mp3" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if fakeSvc.synthVoice != "en_male_glen_emo_v2_mars_bigtts" {
		t.Fatalf("expected assistant voice, got %s", fakeSvc.synthVoice)
	}
	if fakeSvc.synthSession != "thread-1" || fakeSvc.synthLang != "en-US" {
		t.Fatalf("unexpected session=%s lang=%s", fakeSvc.synthSession, fakeSvc.synthLang)
	}
}

func TestSynthesizeValidation(t *testing.T) {
	r := newRouter(New(&fakeSpeechService{}, nil, nil, ""))

	for _, body := range []string{"{", `{"text":"  "}`} {
		req := httptest.NewRequest(http.MethodPost, "/speech/synthesize", bytes.NewReader([]byte(body)))
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, rr.Code)
		}
	}
}

func TestSynthesizeUnconfigured(t *testing.T) {
	r := newRouter(New(&fakeSpeechService{err: speechsvc.ErrNotConfigured}, nil, nil, ""))

	req := httptest.NewRequest(http.MethodPost, "/speech/synthesize", bytes.NewReader([]byte(`{"text":"hi"}`)))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestHealthReportsConfiguration(t *testing.T) {
	r := newRouter(New(&fakeSpeechService{configured: false}, nil, nil, ""))

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/speech/health", nil))

	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "unconfigured" || body["language"] != "en-US" {
		t.Fatalf("unexpected health body %v", body)
	}
}

func TestWebSocketFallbackWhenUnavailable(t *testing.T) {
	r := newRouter(New(&fakeSpeechService{}, nil, nil, ""))

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/speech/ws", nil))
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501 status, got %d", rr.Code)
	}
}
