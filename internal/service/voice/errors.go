package voice

import (
	"errors"
	"fmt"
)

// ErrPermissionDenied 表示用户未授予麦克风权限。
var ErrPermissionDenied = errors.New("microphone permission denied")

// 适配器操作名
const (
	OpStart     = "start"
	OpRecognize = "recognize"
	OpSpeak     = "speak"
)

// AdapterError 包装识别或合成后端返回的错误。
type AdapterError struct {
	Op  string
	Err error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("voice %s: %v", e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// UserMessage 返回展示给用户的提示
func (e *AdapterError) UserMessage() string {
	switch e.Op {
	case OpStart:
		return "Failed to start voice recognition"
	case OpSpeak:
		return "Speech playback failed"
	default:
		return "Speech recognition failed"
	}
}
