package speech

import (
	"bytes"
	"context"
	"strings"

	"github.com/zhouzirui/z-tutor/backend/internal/model/speech"
)

// Service 语音服务：流式/一次性识别与语音合成，共享一个上游连接池。
type Service struct {
	config         *speech.SpeechConfig
	ttsClient      *VolcengineTTSClient
	asrClient      *VolcengineASRClient
	connectionPool *ConnectionPool
	errorHandler   *ErrorHandler
}

// NewService 创建语音服务实例，options 为 nil 时使用默认连接池参数
func NewService(config *speech.SpeechConfig, options *ConnectionPoolOptions) *Service {
	connectionPool := NewConnectionPool(options)
	errorHandler := NewErrorHandler()

	return &Service{
		config:         config,
		ttsClient:      NewVolcengineTTSClient(config, connectionPool, errorHandler),
		asrClient:      NewVolcengineASRClient(config, connectionPool, errorHandler),
		connectionPool: connectionPool,
		errorHandler:   errorHandler,
	}
}

// Configured 报告是否具备调用火山引擎的凭证
func (s *Service) Configured() bool {
	_, _, err := resolveCredentials(s.config)
	return err == nil
}

// Language 返回识别使用的语言
func (s *Service) Language() string {
	if lang := strings.TrimSpace(s.config.ASRLanguage); lang != "" {
		return lang
	}
	return defaultLanguage
}

// ErrorHandler 返回上游错误回调，供调用方替换默认日志行为
func (s *Service) ErrorHandler() *ErrorHandler {
	return s.errorHandler
}

// Cleanup 清理资源
func (s *Service) Cleanup() {
	if s.connectionPool != nil {
		s.connectionPool.Cleanup()
	}
}

// OpenStream 打开一条流式识别会话
func (s *Service) OpenStream(ctx context.Context, req *speech.StreamRequest) (*ASRStream, error) {
	return s.asrClient.OpenStream(ctx, req)
}

// TranscribeAudio 一次性语音转文字
func (s *Service) TranscribeAudio(ctx context.Context, req *speech.ASRRequest) (*speech.ASRResponse, error) {
	return s.asrClient.TranscribeAudio(ctx, req)
}

// SynthesizeSpeech 文字转语音
func (s *Service) SynthesizeSpeech(ctx context.Context, req *speech.TTSRequest) (*speech.TTSResponse, error) {
	return s.ttsClient.Synthesize(ctx, req)
}

// TranscribeBuffer 语音转文字（使用字节数组）
func (s *Service) TranscribeBuffer(ctx context.Context, sessionID string, audioData []byte, format, language string) (*speech.ASRResponse, error) {
	req := &speech.ASRRequest{
		SessionID: sessionID,
		AudioData: bytes.NewReader(audioData),
		Format:    format,
		Language:  language,
	}

	return s.TranscribeAudio(ctx, req)
}

// SynthesizeToBuffer 文字转语音（返回字节数组）
func (s *Service) SynthesizeToBuffer(ctx context.Context, sessionID, text, voice, language string) (*speech.TTSResponse, error) {
	req := &speech.TTSRequest{
		SessionID: sessionID,
		Text:      text,
		Voice:     voice,
		Language:  language,
	}

	return s.SynthesizeSpeech(ctx, req)
}
