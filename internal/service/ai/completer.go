// Package ai 封装远程对话补全服务：每次调用只发送一条系统指令和一条用户消息。
package ai

import "context"

// Request 是一次补全调用的输入。
type Request struct {
	// Model 为空时使用客户端默认模型。
	Model        string
	SystemPrompt string
	UserText     string
}

// Completion 是远端返回的回复。
type Completion struct {
	Text        string
	Translation string
}

// Completer sends a single-turn completion request.
type Completer interface {
	Complete(ctx context.Context, req Request) (Completion, error)
}

// ThreadProvider allocates a conversation thread on the remote side.
type ThreadProvider interface {
	NewThread(ctx context.Context) (string, error)
}

// Config 描述 OpenAI 兼容补全服务的参数。
type Config struct {
	APIKey          string
	BaseURL         string
	Model           string
	Temperature     *float64
	TopP            *float64
	MaxTokens       *int
	StructuredReply bool
	RemoteThreads   bool
}

// NewThreadProvider 在开启远端线程时返回 OpenAI 线程分配器，否则返回 nil。
func NewThreadProvider(cfg Config) ThreadProvider {
	if !cfg.RemoteThreads {
		return nil
	}
	return NewOpenAIThreads(cfg)
}
