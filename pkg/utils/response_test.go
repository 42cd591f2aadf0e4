package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRespondError(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondError(rr, http.StatusBadGateway, "HTTP error! status: 500")

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("unexpected status %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "HTTP error! status: 500" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestDecodeJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"text":"hi"}`))
	var payload struct {
		Text string `json:"text"`
	}
	if err := DecodeJSON(req, &payload); err != nil || payload.Text != "hi" {
		t.Fatalf("DecodeJSON = %+v, %v", payload, err)
	}

	bad := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
	if err := DecodeJSON(bad, &payload); err == nil {
		t.Fatal("expected decode error")
	}
}
