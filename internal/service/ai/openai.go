package ai

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultModel 是未配置模型时使用的补全模型。
const DefaultModel = "gpt-4o-mini"

// OpenAIClient 通过 /chat/completions 完成单轮补全。
type OpenAIClient struct {
	client *openai.Client
	cfg    Config
}

var _ Completer = (*OpenAIClient)(nil)

// NewOpenAIClient 创建客户端。缺少密钥不会报错，而是在每次调用时返回 ErrUnauthorized。
func NewOpenAIClient(cfg Config) *OpenAIClient {
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = DefaultModel
	}
	return &OpenAIClient{client: newOpenAI(cfg), cfg: cfg}
}

func newOpenAI(cfg Config) *openai.Client {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return openai.NewClient(opts...)
}

// Complete 发送系统指令与用户消息，返回第一条候选回复。
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (Completion, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return Completion{}, ErrUnauthorized
	}

	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}

	params := openai.ChatCompletionNewParams{
		Messages: openai.F([]openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.SystemPrompt),
			openai.UserMessage(req.UserText),
		}),
		Model: openai.F(model),
	}
	if c.cfg.Temperature != nil {
		params.Temperature = openai.F(*c.cfg.Temperature)
	}
	if c.cfg.TopP != nil {
		params.TopP = openai.F(*c.cfg.TopP)
	}
	if c.cfg.MaxTokens != nil {
		params.MaxTokens = openai.Int(int64(*c.cfg.MaxTokens))
	}
	if c.cfg.StructuredReply {
		params.ResponseFormat = openai.F[openai.ChatCompletionNewParamsResponseFormatUnion](
			openai.ResponseFormatJSONSchemaParam{
				Type:       openai.F(openai.ResponseFormatJSONSchemaTypeJSONSchema),
				JSONSchema: openai.F(structuredReplySchema()),
			},
		)
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Completion{}, classifyError(err)
	}

	if len(completion.Choices) == 0 {
		return Completion{}, fmt.Errorf("%w: no choices", ErrMalformedResponse)
	}
	content := completion.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return Completion{}, fmt.Errorf("%w: empty content", ErrMalformedResponse)
	}

	result := Completion{Text: content}
	if c.cfg.StructuredReply {
		result, err = parseStructuredReply(content)
		if err != nil {
			return Completion{}, err
		}
	}

	log.Printf("[ai] completion done model=%s length=%d", model, len(result.Text))
	return result, nil
}

// errorEnvelope 是 {"error":{message,type,code}} 错误响应体。code 可能是字符串、数字或 null。
type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

func classifyError(err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("completion request failed: %w", err)
	}

	httpErr := &HTTPError{
		Status:  apiErr.StatusCode,
		Message: apiErr.Message,
		Type:    apiErr.Type,
		Code:    apiErr.Code,
	}

	// SDK 按顶层字段解析，错误信封需要自己拆
	var envelope errorEnvelope
	if raw := apiErr.JSON.RawJSON(); raw != "" && sonic.UnmarshalString(raw, &envelope) == nil {
		if envelope.Error.Message != "" {
			httpErr.Message = envelope.Error.Message
		}
		if envelope.Error.Type != "" {
			httpErr.Type = envelope.Error.Type
		}
		switch code := envelope.Error.Code.(type) {
		case string:
			httpErr.Code = code
		case float64:
			httpErr.Code = strconv.FormatFloat(code, 'f', -1, 64)
		}
	}
	return httpErr
}

// OpenAIThreads 通过 beta threads 接口分配远端线程。
type OpenAIThreads struct {
	client *openai.Client
	apiKey string
}

var _ ThreadProvider = (*OpenAIThreads)(nil)

// NewOpenAIThreads 创建线程分配器。
func NewOpenAIThreads(cfg Config) *OpenAIThreads {
	return &OpenAIThreads{client: newOpenAI(cfg), apiKey: cfg.APIKey}
}

// NewThread 创建一个空线程并返回其 ID。
func (t *OpenAIThreads) NewThread(ctx context.Context) (string, error) {
	if strings.TrimSpace(t.apiKey) == "" {
		return "", ErrUnauthorized
	}

	thread, err := t.client.Beta.Threads.New(ctx, openai.BetaThreadNewParams{})
	if err != nil {
		return "", classifyError(err)
	}
	if thread.ID == "" {
		return "", fmt.Errorf("%w: thread id missing", ErrMalformedResponse)
	}
	return thread.ID, nil
}
