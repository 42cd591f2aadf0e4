package chat

import (
	"errors"
	"fmt"

	"github.com/zhouzirui/z-tutor/backend/internal/service/ai"
	"github.com/zhouzirui/z-tutor/backend/internal/service/voice"
)

var (
	ErrNotInitialized = errors.New("conversation is not initialized")
	ErrEmptyInput     = errors.New("input text is empty")
	ErrBusy           = errors.New("a reply is already pending")
)

// Describe 将错误映射为展示给用户的一句话。
func Describe(err error) string {
	if err == nil {
		return ""
	}

	var (
		httpErr    *ai.HTTPError
		adapterErr *voice.AdapterError
	)

	switch {
	case errors.Is(err, ErrNotInitialized):
		return "Conversation is still starting, please try again in a moment"
	case errors.Is(err, ErrEmptyInput):
		return "Please say or type something first"
	case errors.Is(err, ErrBusy):
		return "Please wait for the current reply to finish"
	case errors.Is(err, ai.ErrUnauthorized):
		if errors.As(err, &httpErr) {
			return fmt.Sprintf("HTTP error! status: %d (check the API key)", httpErr.Status)
		}
		return "API key is missing, set OPENAI_API_KEY and restart"
	case errors.As(err, &httpErr):
		return fmt.Sprintf("HTTP error! status: %d", httpErr.Status)
	case errors.Is(err, ai.ErrMalformedResponse):
		return "Received an unexpected response from the assistant"
	case errors.Is(err, voice.ErrPermissionDenied):
		return "Microphone permission is required for voice recognition"
	case errors.As(err, &adapterErr):
		return adapterErr.UserMessage()
	default:
		return "Unknown error occurred"
	}
}
