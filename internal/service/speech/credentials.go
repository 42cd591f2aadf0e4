package speech

import (
	"errors"
	"strings"

	speechmodel "github.com/zhouzirui/z-tutor/backend/internal/model/speech"
)

// ErrNotConfigured 表示缺少火山引擎 AppID 或 AccessToken。
var ErrNotConfigured = errors.New("speech service is not configured: SPEECH_APP_ID and SPEECH_ACCESS_TOKEN are required")

// resolveCredentials 返回规范化后的 AppID 与 AccessToken。
func resolveCredentials(cfg *speechmodel.SpeechConfig) (string, string, error) {
	if cfg == nil {
		return "", "", ErrNotConfigured
	}

	appID := strings.TrimSpace(cfg.AppID)
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		token = strings.TrimSpace(cfg.APIKey)
	}

	if appID == "" || token == "" {
		return "", "", ErrNotConfigured
	}

	return appID, token, nil
}
