package speech

import (
	"io"
)

// ASRRequest 一次性语音识别请求
type ASRRequest struct {
	SessionID string    `json:"sessionId"`
	AudioData io.Reader `json:"-"`
	Format    string    `json:"format"`   // pcm, wav, ogg
	Language  string    `json:"language"` // en-US, zh-CN
}

// StreamRequest 流式识别会话参数
type StreamRequest struct {
	SessionID  string `json:"sessionId"`
	Format     string `json:"format"`
	Language   string `json:"language"`
	SampleRate int    `json:"sampleRate"`
}

// TTSRequest 语音合成请求
type TTSRequest struct {
	SessionID string  `json:"sessionId"`
	Text      string  `json:"text"`
	Voice     string  `json:"voice"`
	Speed     float32 `json:"speed"`  // 语速倍率 0.5-2.0
	Volume    float32 `json:"volume"` // 音量 0.0-1.0
	Format    string  `json:"format"` // mp3, ogg_opus, pcm
	Language  string  `json:"language"`
}
