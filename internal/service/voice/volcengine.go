package voice

import (
	"context"

	speechmodel "github.com/zhouzirui/z-tutor/backend/internal/model/speech"
	speechservice "github.com/zhouzirui/z-tutor/backend/internal/service/speech"
)

type volcengineRecognizer struct {
	svc *speechservice.Service
}

// NewVolcengineRecognizer 基于火山引擎流式识别
func NewVolcengineRecognizer(svc *speechservice.Service) Recognizer {
	return &volcengineRecognizer{svc: svc}
}

func (r *volcengineRecognizer) OpenStream(ctx context.Context, req *speechmodel.StreamRequest) (RecognitionStream, error) {
	stream, err := r.svc.OpenStream(ctx, req)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

type volcengineSynthesizer struct {
	svc       *speechservice.Service
	sessionID string
	language  string
}

// NewVolcengineSynthesizer 基于火山引擎单向流式合成
func NewVolcengineSynthesizer(svc *speechservice.Service, sessionID, language string) Synthesizer {
	return &volcengineSynthesizer{svc: svc, sessionID: sessionID, language: language}
}

func (s *volcengineSynthesizer) Synthesize(ctx context.Context, text, voice string) (Audio, error) {
	resp, err := s.svc.SynthesizeToBuffer(ctx, s.sessionID, text, voice, s.language)
	if err != nil {
		return Audio{}, err
	}
	return Audio{Text: text, Data: resp.AudioData, Format: resp.Format}, nil
}
