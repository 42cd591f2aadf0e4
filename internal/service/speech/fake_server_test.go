package speech

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	speechmodel "github.com/zhouzirui/z-tutor/backend/internal/model/speech"
)

// fakeVolcengine 模拟火山引擎的二进制 WebSocket 协议
type fakeVolcengine struct {
	t        *testing.T
	upgrader websocket.Upgrader
	handle   func(conn *websocket.Conn, r *http.Request)

	mu      sync.Mutex
	headers []http.Header
}

func newFakeVolcengine(t *testing.T, handle func(conn *websocket.Conn, r *http.Request)) (*fakeVolcengine, string) {
	t.Helper()
	f := &fakeVolcengine{t: t, handle: handle}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.headers = append(f.headers, r.Header.Clone())
		f.mu.Unlock()

		conn, err := f.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		f.handle(conn, r)
	}))
	t.Cleanup(srv.Close)
	return f, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func (f *fakeVolcengine) header(i int) http.Header {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.headers[i]
}

func readClientMessage(conn *websocket.Conn) (*Message, []byte, error) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, nil, err
	}
	msg, err := DecodeMessage(bytes.NewReader(data))
	if err != nil {
		return nil, nil, err
	}
	payload, err := DecompressPayload(msg.Payload, msg.Header.CompressionMethod)
	if err != nil {
		return nil, nil, err
	}
	return msg, payload, nil
}

func writeServerJSON(conn *websocket.Conn, sequence int32, last bool, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	compressed, err := CompressPayload(data, GzipCompression)
	if err != nil {
		return err
	}

	flags := PositiveSequenceNumber
	if last {
		flags = NegativeSequenceNumber
		sequence = -sequence
	}
	msg := &Message{
		Header:      NewHeader(FullServerResponse, flags, JSONSerialization, GzipCompression),
		Sequence:    sequence,
		PayloadSize: uint32(len(compressed)),
		Payload:     compressed,
	}
	encoded, err := EncodeMessage(msg)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.BinaryMessage, encoded)
}

func writeServerError(conn *websocket.Conn, code uint32, text string) error {
	msg := &Message{
		Header:      NewHeader(ErrorMessage, NoSequenceNumber, JSONSerialization, NoCompression),
		ErrorCode:   code,
		PayloadSize: uint32(len(text)),
		Payload:     []byte(text),
	}
	encoded, err := EncodeMessage(msg)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.BinaryMessage, encoded)
}

func testPoolOptions() *ConnectionPoolOptions {
	return &ConnectionPoolOptions{
		MaxConnections:    10,
		ConnectionTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      5 * time.Second,
		MaxRetries:        1,
		RetryBackoff:      10 * time.Millisecond,
	}
}

func testSpeechConfig(asrURL, ttsURL string) *speechmodel.SpeechConfig {
	return &speechmodel.SpeechConfig{
		AppID:       "test-app-id",
		AccessToken: "test-access-token",
		ASRURL:      asrURL,
		TTSURL:      ttsURL,
		ASRLanguage: "en-US",
		TTSLanguage: "en-US",
		TTSSpeed:    1.0,
		TTSVolume:   1.0,
	}
}

func newRejectingServer(t *testing.T, calls *int) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}
