package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

type recordedRequest struct {
	Path          string
	Authorization string
	Body          map[string]any
}

func newCompletionServer(t *testing.T, status int, body string) (*httptest.Server, *[]recordedRequest) {
	t.Helper()
	var requests []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		payload := map[string]any{}
		_ = json.Unmarshal(raw, &payload)
		requests = append(requests, recordedRequest{
			Path:          r.URL.Path,
			Authorization: r.Header.Get("Authorization"),
			Body:          payload,
		})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &requests
}

func newTestClient(srv *httptest.Server, cfg Config) *OpenAIClient {
	cfg.BaseURL = srv.URL + "/v1/"
	return NewOpenAIClient(cfg)
}

const successBody = `{
	"id": "chatcmpl-1",
	"object": "chat.completion",
	"created": 1700000000,
	"model": "gpt-4o-mini",
	"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "Great job! Try: I went to the store."}}]
}`

func TestCompleteSendsSystemAndUserTurns(t *testing.T) {
	srv, requests := newCompletionServer(t, http.StatusOK, successBody)
	client := newTestClient(srv, Config{APIKey: "sk-test"})

	got, err := client.Complete(context.Background(), Request{SystemPrompt: "You are a tutor.", UserText: "I goed to the store"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got.Text != "Great job! Try: I went to the store." {
		t.Fatalf("unexpected reply %q", got.Text)
	}
	if got.Translation != "" {
		t.Fatalf("plain replies carry no translation, got %q", got.Translation)
	}

	if len(*requests) != 1 {
		t.Fatalf("expected exactly one request, got %d", len(*requests))
	}
	req := (*requests)[0]
	if req.Path != "/v1/chat/completions" {
		t.Fatalf("unexpected path %s", req.Path)
	}
	if req.Authorization != "Bearer sk-test" {
		t.Fatalf("unexpected authorization header %q", req.Authorization)
	}
	if req.Body["model"] != DefaultModel {
		t.Fatalf("expected default model, got %v", req.Body["model"])
	}

	messages, ok := req.Body["messages"].([]any)
	if !ok || len(messages) != 2 {
		t.Fatalf("expected two messages, got %v", req.Body["messages"])
	}
	wantRoles := []string{"system", "user"}
	wantContent := []string{"You are a tutor.", "I goed to the store"}
	for i, raw := range messages {
		msg := raw.(map[string]any)
		if msg["role"] != wantRoles[i] {
			t.Fatalf("message %d role = %v, want %s", i, msg["role"], wantRoles[i])
		}
		if got := messageText(msg["content"]); got != wantContent[i] {
			t.Fatalf("message %d content = %v, want %s", i, msg["content"], wantContent[i])
		}
	}
	if _, present := req.Body["response_format"]; present {
		t.Fatal("response_format should be omitted for plain replies")
	}
}

// messageText 拼出消息内容，兼容字符串和 text 分片数组
func messageText(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case []any:
		var text string
		for _, part := range v {
			if p, ok := part.(map[string]any); ok && p["type"] == "text" {
				text += fmt.Sprint(p["text"])
			}
		}
		return text
	}
	return ""
}

func TestCompleteUsesRequestModel(t *testing.T) {
	srv, requests := newCompletionServer(t, http.StatusOK, successBody)
	client := newTestClient(srv, Config{APIKey: "sk-test", Model: "gpt-4o"})

	if _, err := client.Complete(context.Background(), Request{Model: "gpt-4.1-mini", SystemPrompt: "s", UserText: "u"}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got := (*requests)[0].Body["model"]; got != "gpt-4.1-mini" {
		t.Fatalf("expected request model to win, got %v", got)
	}
}

func TestCompleteWithoutKeySkipsNetwork(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	client := newTestClient(srv, Config{})
	_, err := client.Complete(context.Background(), Request{SystemPrompt: "s", UserText: "hello"})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if atomic.LoadInt32(&hits) != 0 {
		t.Fatal("no request should be sent without a credential")
	}
}

func TestCompleteMapsErrorStatus(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		body         string
		unauthorized bool
		wantType     string
		wantMessage  string
		wantCode     string
	}{
		{
			name:         "unauthorized",
			status:       http.StatusUnauthorized,
			body:         `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`,
			unauthorized: true,
			wantType:     "invalid_request_error",
			wantMessage:  "Incorrect API key provided",
			wantCode:     "invalid_api_key",
		},
		{
			name:     "bad request",
			status:   http.StatusBadRequest,
			body:        `{"error":{"message":"model not found","type":"invalid_request_error","code":"model_not_found"}}`,
			wantType:    "invalid_request_error",
			wantMessage: "model not found",
			wantCode:    "model_not_found",
		},
		{
			name:        "numeric code",
			status:      http.StatusTooManyRequests,
			body:        `{"error":{"message":"slow down","type":"rate_limit","code":429}}`,
			wantType:    "rate_limit",
			wantMessage: "slow down",
			wantCode:    "429",
		},
		{
			name:   "server error without body",
			status: http.StatusInternalServerError,
			body:   ``,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, requests := newCompletionServer(t, tt.status, tt.body)
			client := newTestClient(srv, Config{APIKey: "sk-test"})

			_, err := client.Complete(context.Background(), Request{SystemPrompt: "s", UserText: "hello"})
			var httpErr *HTTPError
			if !errors.As(err, &httpErr) {
				t.Fatalf("expected *HTTPError, got %T: %v", err, err)
			}
			if httpErr.Status != tt.status {
				t.Fatalf("status = %d, want %d", httpErr.Status, tt.status)
			}
			if httpErr.Type != tt.wantType {
				t.Fatalf("type = %q, want %q", httpErr.Type, tt.wantType)
			}
			if httpErr.Message != tt.wantMessage || httpErr.Code != tt.wantCode {
				t.Fatalf("message/code = %q/%q, want %q/%q", httpErr.Message, httpErr.Code, tt.wantMessage, tt.wantCode)
			}
			if tt.wantMessage != "" && !strings.Contains(err.Error(), tt.wantMessage) {
				t.Fatalf("error text should carry server message, got %q", err.Error())
			}
			if errors.Is(err, ErrUnauthorized) != tt.unauthorized {
				t.Fatalf("errors.Is(err, ErrUnauthorized) = %v, want %v", !tt.unauthorized, tt.unauthorized)
			}
			if len(*requests) != 1 {
				t.Fatalf("expected a single attempt, got %d", len(*requests))
			}
		})
	}
}

func TestCompleteMalformedResponse(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "no choices", body: `{"id":"x","object":"chat.completion","created":1,"model":"m","choices":[]}`},
		{name: "empty content", body: `{"id":"x","object":"chat.completion","created":1,"model":"m","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":""}}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newCompletionServer(t, http.StatusOK, tt.body)
			client := newTestClient(srv, Config{APIKey: "sk-test"})

			_, err := client.Complete(context.Background(), Request{SystemPrompt: "s", UserText: "hello"})
			if !errors.Is(err, ErrMalformedResponse) {
				t.Fatalf("expected ErrMalformedResponse, got %v", err)
			}
		})
	}
}

func TestCompleteStructuredReply(t *testing.T) {
	body := `{
		"id": "chatcmpl-2",
		"object": "chat.completion",
		"created": 1700000000,
		"model": "gpt-4o-mini",
		"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "{\"reply\":\"I went to the store.\",\"translation\":\"我去了商店。\"}"}}]
	}`
	srv, requests := newCompletionServer(t, http.StatusOK, body)
	client := newTestClient(srv, Config{APIKey: "sk-test", StructuredReply: true})

	got, err := client.Complete(context.Background(), Request{SystemPrompt: "s", UserText: "I goed to the store"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got.Text != "I went to the store." || got.Translation != "我去了商店。" {
		t.Fatalf("unexpected structured reply %+v", got)
	}

	format, ok := (*requests)[0].Body["response_format"].(map[string]any)
	if !ok {
		t.Fatalf("expected response_format in request, got %v", (*requests)[0].Body["response_format"])
	}
	if format["type"] != "json_schema" {
		t.Fatalf("unexpected response_format type %v", format["type"])
	}
}

func TestCompleteStructuredReplyRejectsPlainText(t *testing.T) {
	srv, _ := newCompletionServer(t, http.StatusOK, successBody)
	client := newTestClient(srv, Config{APIKey: "sk-test", StructuredReply: true})

	_, err := client.Complete(context.Background(), Request{SystemPrompt: "s", UserText: "hello"})
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestOpenAIThreadsNewThread(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"thread_abc123","object":"thread","created_at":1700000000,"metadata":{},"tool_resources":null}`)
	}))
	defer srv.Close()

	threads := NewOpenAIThreads(Config{APIKey: "sk-test", BaseURL: srv.URL + "/v1/"})
	id, err := threads.NewThread(context.Background())
	if err != nil {
		t.Fatalf("new thread: %v", err)
	}
	if id != "thread_abc123" {
		t.Fatalf("unexpected thread id %q", id)
	}
	if path != "/v1/threads" {
		t.Fatalf("unexpected path %s", path)
	}
}

func TestNewThreadProviderDisabled(t *testing.T) {
	if provider := NewThreadProvider(Config{APIKey: "sk-test"}); provider != nil {
		t.Fatalf("expected nil provider when remote threads are off, got %T", provider)
	}
}
