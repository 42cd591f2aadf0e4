package speech

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"sync"
	"testing"

	"github.com/gorilla/websocket"

	speechmodel "github.com/zhouzirui/z-tutor/backend/internal/model/speech"
)

func TestNormalizeVoiceAlias(t *testing.T) {
	cases := []struct {
		alias  string
		expect string
	}{
		{alias: "english-tutor", expect: "en_female_skye_emo_v2_mars_bigtts"},
		{alias: " Grammar-Coach ", expect: "en_male_glen_emo_v2_mars_bigtts"},
		{alias: "en_default", expect: DefaultVoice},
		{alias: "en_male_corey_emo_v2_mars_bigtts", expect: "en_male_corey_emo_v2_mars_bigtts"},
		{alias: "", expect: ""},
	}

	for _, tc := range cases {
		if got := NormalizeVoiceAlias(tc.alias); got != tc.expect {
			t.Fatalf("NormalizeVoiceAlias(%s) = %s, want %s", tc.alias, got, tc.expect)
		}
	}
}

func TestTTSResourcesFor(t *testing.T) {
	tests := []struct {
		name  string
		voice string
		want  []string
	}{
		{
			name:  "default voice",
			voice: "",
			want:  []string{"volc.service_type.10029", "seed-tts-2.0"},
		},
		{
			name:  "mega clone voice",
			voice: "S_clone_speaker",
			want:  []string{"volc.megatts.default"},
		},
		{
			name:  "bigtts voice",
			voice: "en_female_skye_emo_v2_mars_bigtts",
			want:  []string{"seed-tts-2.0", "volc.service_type.10029"},
		},
		{
			name:  "legacy 1.0 voice",
			voice: "en_male_adam",
			want:  []string{"volc.service_type.10029", "seed-tts-2.0"},
		},
	}

	for _, tt := range tests {
		got := ttsResourcesFor(tt.voice)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%s: ttsResourcesFor(%q) = %v, want %v", tt.name, tt.voice, got, tt.want)
		}
	}
}

func TestTTSSpeakers(t *testing.T) {
	tests := []struct {
		name     string
		request  string
		fallback string
		want     []string
	}{
		{
			name:     "request and fallback",
			request:  "custom-voice",
			fallback: DefaultVoice,
			want:     []string{"custom-voice", DefaultVoice},
		},
		{
			name:     "request empty",
			request:  "",
			fallback: DefaultVoice,
			want:     []string{DefaultVoice},
		},
		{
			name:     "duplicates ignored",
			request:  "EN_voice",
			fallback: "en_voice",
			want:     []string{"EN_voice"},
		},
		{
			name:     "assistant alias",
			request:  "english-tutor",
			fallback: DefaultVoice,
			want:     []string{"en_female_skye_emo_v2_mars_bigtts", DefaultVoice},
		},
	}

	for _, tt := range tests {
		got := ttsSpeakers(tt.request, tt.fallback)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%s: ttsSpeakers(%q, %q) = %v, want %v", tt.name, tt.request, tt.fallback, got, tt.want)
		}
	}
}

func TestPlanTTSAttempts(t *testing.T) {
	got := planTTSAttempts("grammar-coach", "en_male_adam")
	want := []ttsAttempt{
		{speaker: "en_male_glen_emo_v2_mars_bigtts", resource: resourceTTSSeed},
		{speaker: "en_male_glen_emo_v2_mars_bigtts", resource: resourceTTSV1},
		{speaker: "en_male_adam", resource: resourceTTSV1},
		{speaker: "en_male_adam", resource: resourceTTSSeed},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("planTTSAttempts = %+v, want %+v", got, want)
	}
}

func TestIsResourceMismatch(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{text: "", want: false},
		{text: "some other error", want: false},
		{text: `{"error":"resource ID is mismatched with speaker related resource"}`, want: true},
	}

	for _, tc := range cases {
		if got := isResourceMismatch(tc.text); got != tc.want {
			t.Errorf("isResourceMismatch(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestRatioOrDefault(t *testing.T) {
	if got := ratioOrDefault(0, 1.2); got != 1.2 {
		t.Fatalf("configured ratio expected, got %v", got)
	}
	if got := ratioOrDefault(1.0, 1.2); got != 0 {
		t.Fatalf("1.0 should be omitted, got %v", got)
	}
	if got := ratioOrDefault(0.8, 0); got != 0.8 {
		t.Fatalf("requested ratio expected, got %v", got)
	}
}

// scriptedTTS 回两段音频，再以 3000 结束会话
func scriptedTTS(t *testing.T, got *ttsRequest) func(conn *websocket.Conn, r *http.Request) {
	return func(conn *websocket.Conn, r *http.Request) {
		msg, payload, err := readClientMessage(conn)
		if err != nil || msg.Header.MessageType != FullClientRequest {
			t.Errorf("expected full client request, got %v err=%v", msg, err)
			return
		}
		if got != nil {
			_ = json.Unmarshal(payload, got)
		}

		for _, part := range [][]byte{[]byte("ID3"), []byte("-audio")} {
			audio := &Message{
				Header:      NewHeader(AudioOnlyServerResponse, NoSequenceNumber, NoSerialization, NoCompression),
				PayloadSize: uint32(len(part)),
				Payload:     part,
			}
			encoded, _ := EncodeMessage(audio)
			_ = conn.WriteMessage(websocket.BinaryMessage, encoded)
		}

		body := map[string]any{"reqid": "req-1", "code": 3000, "sequence": -1, "addition": map[string]any{"duration": "850"}}
		_ = writeServerJSON(conn, 1, true, body)
	}
}

func TestSynthesizeToBufferCollectsAudio(t *testing.T) {
	var req ttsRequest
	fake, url := newFakeVolcengine(t, scriptedTTS(t, &req))

	svc := NewService(testSpeechConfig("", url), testPoolOptions())
	defer svc.Cleanup()

	resp, err := svc.SynthesizeToBuffer(context.Background(), "session-1", "Nice to meet you!", "english-tutor", "")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if string(resp.AudioData) != "ID3-audio" {
		t.Fatalf("unexpected audio %q", resp.AudioData)
	}
	if resp.Duration != 850 || resp.RequestID != "req-1" || resp.Format != "mp3" {
		t.Fatalf("unexpected response %+v", resp)
	}

	if req.ReqParams.Speaker != "en_female_skye_emo_v2_mars_bigtts" {
		t.Fatalf("alias should resolve to voice id, got %q", req.ReqParams.Speaker)
	}
	if req.ReqParams.Language != "en-US" {
		t.Fatalf("language should fall back to config, got %q", req.ReqParams.Language)
	}
	if got := fake.header(0).Get("X-Api-Resource-Id"); got != "seed-tts-2.0" {
		t.Fatalf("bigtts voice should try seed resource first, got %q", got)
	}
}

func TestSynthesizeFallsBackOnResourceMismatch(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	_, url := newFakeVolcengine(t, func(conn *websocket.Conn, r *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()

		if n == 1 {
			if _, _, err := readClientMessage(conn); err != nil {
				return
			}
			_ = writeServerError(conn, 45000000, `{"error":"resource ID is mismatched with speaker related resource"}`)
			return
		}
		scriptedTTS(t, nil)(conn, r)
	})

	svc := NewService(testSpeechConfig("", url), testPoolOptions())
	defer svc.Cleanup()

	resp, err := svc.SynthesizeToBuffer(context.Background(), "", "Hello", "", "")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if len(resp.AudioData) == 0 {
		t.Fatal("expected audio from fallback resource")
	}
	mu.Lock()
	defer mu.Unlock()
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestSynthesizeRejectsEmptyText(t *testing.T) {
	svc := NewService(testSpeechConfig("", "ws://127.0.0.1:1"), testPoolOptions())
	if _, err := svc.SynthesizeToBuffer(context.Background(), "", "   ", "", ""); err == nil {
		t.Fatal("expected error for empty text")
	}
}

func TestSynthesizeRequiresCredentials(t *testing.T) {
	svc := NewService(&speechmodel.SpeechConfig{}, testPoolOptions())
	_, err := svc.SynthesizeToBuffer(context.Background(), "", "Hello", "", "")
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestDecodeBase64Audio(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte("pcm"))
	got, err := decodeBase64Audio(encoded)
	if err != nil || string(got) != "pcm" {
		t.Fatalf("decodeBase64Audio = %q, %v", got, err)
	}
}
