package ai

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthorized 表示凭证缺失或被远端拒绝。
	ErrUnauthorized = errors.New("completion credential missing or rejected")
	// ErrMalformedResponse 表示成功响应中缺少回复内容。
	ErrMalformedResponse = errors.New("completion response missing reply content")
)

// HTTPError is a non-success response from the completion endpoint.
type HTTPError struct {
	Status  int
	Message string
	Type    string
	Code    string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("completion endpoint returned status %d", e.Status)
	}
	return fmt.Sprintf("completion endpoint returned status %d: %s", e.Status, e.Message)
}

// Is lets 401/403 responses match ErrUnauthorized.
func (e *HTTPError) Is(target error) bool {
	if target != ErrUnauthorized {
		return false
	}
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}
