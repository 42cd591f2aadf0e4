package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	"github.com/zhouzirui/z-tutor/backend/internal/model/speech"
	"github.com/zhouzirui/z-tutor/backend/internal/service/ai"
	"github.com/zhouzirui/z-tutor/backend/internal/store"
)

// 补全服务提供方
const (
	ProviderOpenAI = "openai"
	ProviderArk    = "ark"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server ServerConfig
	AI     AIConfig
	Store  store.Config
	Tutor  TutorConfig
	Speech speech.SpeechConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	aiCfg, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	storeCfg, err := loadStoreConfig()
	if err != nil {
		return nil, err
	}

	speechCfg, err := loadSpeechConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server: server,
		AI:     aiCfg,
		Store:  storeCfg,
		Tutor:  loadTutorConfig(),
		Speech: speechCfg,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AIConfig 描述补全服务配置。OpenAI 为默认提供方，Ark 通过 AI_PROVIDER=ark 启用。
type AIConfig struct {
	Provider string

	OpenAI ai.Config

	ArkAPIKey    string
	ArkAccessKey string
	ArkSecretKey string
	ArkModel     string
	ArkBaseURL   string
	ArkRegion    string
}

// ArkEnabled 表示是否提供了 Ark 所需的密钥与模型。
func (c AIConfig) ArkEnabled() bool {
	return c.ArkModel != "" && (c.ArkAPIKey != "" || (c.ArkAccessKey != "" && c.ArkSecretKey != ""))
}

// NewChatModel 使用配置创建一个 Ark 模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.ArkEnabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + ARK_MODEL 或 AK/SK 组合")
	}

	var temperature *float32
	if c.OpenAI.Temperature != nil {
		val := float32(*c.OpenAI.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.OpenAI.TopP != nil {
		val := float32(*c.OpenAI.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.ArkBaseURL,
		Region:      c.ArkRegion,
		APIKey:      c.ArkAPIKey,
		AccessKey:   c.ArkAccessKey,
		SecretKey:   c.ArkSecretKey,
		Model:       c.ArkModel,
		MaxTokens:   c.OpenAI.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	provider := strings.ToLower(getEnvOrDefault("AI_PROVIDER", ProviderOpenAI))
	if provider != ProviderOpenAI && provider != ProviderArk {
		return AIConfig{}, fmt.Errorf("invalid AI_PROVIDER value %q", provider)
	}

	temperature, err := parseOptionalFloatEnv("AI_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("AI_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("AI_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}
	if maxTokens != nil && *maxTokens <= 0 {
		return AIConfig{}, fmt.Errorf("invalid AI_MAX_TOKENS value %d: must be positive", *maxTokens)
	}

	structured, err := parseBoolEnv("COMPLETION_STRUCTURED_REPLY", false)
	if err != nil {
		return AIConfig{}, err
	}

	remoteThreads, err := parseBoolEnv("OPENAI_REMOTE_THREADS", false)
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		Provider: provider,
		OpenAI: ai.Config{
			APIKey:          strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
			BaseURL:         strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")),
			Model:           getEnvOrDefault("OPENAI_MODEL", ai.DefaultModel),
			Temperature:     temperature,
			TopP:            topP,
			MaxTokens:       maxTokens,
			StructuredReply: structured,
			RemoteThreads:   remoteThreads,
		},
		ArkAPIKey:    strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		ArkAccessKey: strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		ArkSecretKey: strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		ArkModel:     strings.TrimSpace(os.Getenv("ARK_MODEL")),
		ArkBaseURL:   getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		ArkRegion:    getEnvOrDefault("ARK_REGION", "cn-beijing"),
	}, nil
}

func loadStoreConfig() (store.Config, error) {
	driver := strings.ToLower(getEnvOrDefault("STORE_DRIVER", "file"))
	cfg := store.Config{
		Driver: driver,
		Path:   getEnvOrDefault("STORE_PATH", "data/chat-storage.json"),
		DSN:    strings.TrimSpace(os.Getenv("STORE_DSN")),
	}

	switch driver {
	case "file":
	case "sqlite":
		if cfg.DSN == "" {
			cfg.DSN = "data/chat-storage.db"
		}
	case "postgres":
		if cfg.DSN == "" {
			return store.Config{}, fmt.Errorf("STORE_DSN is required for the postgres driver")
		}
	default:
		return store.Config{}, fmt.Errorf("invalid STORE_DRIVER value %q", driver)
	}
	return cfg, nil
}

// TutorConfig 描述助手与语言设置。
type TutorConfig struct {
	AssistantsFile string
	Locale         string
}

func loadTutorConfig() TutorConfig {
	return TutorConfig{
		AssistantsFile: strings.TrimSpace(os.Getenv("ASSISTANTS_FILE")),
		Locale:         getEnvOrDefault("TUTOR_LOCALE", "en-US"),
	}
}

func loadSpeechConfig() (speech.SpeechConfig, error) {
	// 解析超时设置
	timeout, err := parseOptionalIntEnv("SPEECH_TIMEOUT")
	if err != nil {
		return speech.SpeechConfig{}, err
	}
	timeoutSeconds := 30 // 默认30秒
	if timeout != nil {
		timeoutSeconds = *timeout
	}

	// 解析TTS速度和音量
	speed, err := parseOptionalFloat32Env("SPEECH_TTS_SPEED")
	if err != nil {
		return speech.SpeechConfig{}, err
	}
	ttsSpeed := float32(1.0) // 默认1.0倍速
	if speed != nil {
		ttsSpeed = *speed
	}

	volume, err := parseOptionalFloat32Env("SPEECH_TTS_VOLUME")
	if err != nil {
		return speech.SpeechConfig{}, err
	}
	ttsVolume := float32(1.0) // 默认1.0音量
	if volume != nil {
		ttsVolume = *volume
	}

	sampleRate, err := parseOptionalIntEnv("SPEECH_ASR_SAMPLE_RATE")
	if err != nil {
		return speech.SpeechConfig{}, err
	}
	rate := 16000
	if sampleRate != nil {
		rate = *sampleRate
	}

	concurrent, err := parseBoolEnv("SPEECH_ASR_CONCURRENT", false)
	if err != nil {
		return speech.SpeechConfig{}, err
	}

	locale := getEnvOrDefault("TUTOR_LOCALE", "en-US")

	accessToken := strings.TrimSpace(os.Getenv("SPEECH_ACCESS_TOKEN"))
	apiKey := strings.TrimSpace(os.Getenv("SPEECH_API_KEY"))
	if accessToken == "" {
		accessToken = apiKey
	}

	return speech.SpeechConfig{
		AppID:          strings.TrimSpace(os.Getenv("SPEECH_APP_ID")),
		AccessToken:    accessToken,
		APIKey:         apiKey,
		Region:         getEnvOrDefault("SPEECH_REGION", "cn-beijing"),
		ConcurrentMode: concurrent,
		ASRURL:         strings.TrimSpace(os.Getenv("SPEECH_ASR_URL")),
		TTSURL:         strings.TrimSpace(os.Getenv("SPEECH_TTS_URL")),
		ASRLanguage:    getEnvOrDefault("SPEECH_ASR_LANGUAGE", locale),
		ASRSampleRate:  rate,
		TTSVoice:       getEnvOrDefault("SPEECH_TTS_VOICE", ""),
		TTSSpeed:       ttsSpeed,
		TTSVolume:      ttsVolume,
		TTSLanguage:    getEnvOrDefault("SPEECH_TTS_LANGUAGE", locale),
		Timeout:        timeoutSeconds,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalFloat32Env(key string) (*float32, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	result := float32(val)
	return &result, nil
}
