package speech

import "time"

// ASRResponse 语音识别响应
type ASRResponse struct {
	SessionID  string    `json:"sessionId"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	Duration   int64     `json:"duration"` // milliseconds
	RequestID  string    `json:"requestId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// TTSResponse 语音合成响应
type TTSResponse struct {
	SessionID string    `json:"sessionId"`
	AudioData []byte    `json:"-"`
	Duration  int64     `json:"duration"` // milliseconds
	Format    string    `json:"format"`
	RequestID string    `json:"requestId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// StreamingASRChunk 流式识别的一次中间或最终结果。Text 为截至目前的完整文本。
type StreamingASRChunk struct {
	SessionID string    `json:"sessionId"`
	Text      string    `json:"text"`
	Definite  bool      `json:"definite"`
	IsFinal   bool      `json:"isFinal"`
	Duration  int64     `json:"duration"`
	CreatedAt time.Time `json:"createdAt"`
}
