package speech

// SpeechConfig 语音服务配置
type SpeechConfig struct {
	// Volcengine 配置
	AppID          string `json:"appId"`            // 火山引擎 APP ID
	AccessToken    string `json:"accessToken"`      // 火山引擎 Access Token
	APIKey         string `json:"apiKey,omitempty"` // 兼容旧配置的 API Key
	Region         string `json:"region"`
	ConcurrentMode bool   `json:"concurrentMode"` // ASR并发版（false为小时版）

	// 端点，留空使用火山引擎默认地址
	ASRURL string `json:"asrUrl,omitempty"`
	TTSURL string `json:"ttsUrl,omitempty"`

	// ASR 配置
	ASRLanguage   string `json:"asrLanguage"`
	ASRSampleRate int    `json:"asrSampleRate"`

	// TTS 配置
	TTSVoice    string  `json:"ttsVoice"`
	TTSSpeed    float32 `json:"ttsSpeed"`
	TTSVolume   float32 `json:"ttsVolume"`
	TTSLanguage string  `json:"ttsLanguage"`

	// 通用配置
	Timeout int `json:"timeout"` // seconds
}
