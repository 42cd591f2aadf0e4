package ai

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
)

// ArkClient 使用 eino 链路（系统提示 + 用户消息 → 聊天模型）完成补全。
// 模型在创建 ChatModel 时已固定，Request.Model 会被忽略。
type ArkClient struct {
	chain compose.Runnable[map[string]any, *schema.Message]
}

var _ Completer = (*ArkClient)(nil)

// NewArkClient 基于已创建的聊天模型编译补全链路。
func NewArkClient(ctx context.Context, chatModel model.ChatModel) (*ArkClient, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("chat model is required")
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &ArkClient{chain: runnable}, nil
}

// Complete 运行链路并返回模型输出。
func (c *ArkClient) Complete(ctx context.Context, req Request) (Completion, error) {
	input := map[string]any{
		"system": req.SystemPrompt,
		"query":  req.UserText,
	}

	response, err := c.chain.Invoke(ctx, input)
	if err != nil {
		return Completion{}, fmt.Errorf("failed to run AI chain: %w", err)
	}
	if response == nil || strings.TrimSpace(response.Content) == "" {
		return Completion{}, fmt.Errorf("%w: empty content", ErrMalformedResponse)
	}

	log.Printf("[ai] ark completion done length=%d", len(response.Content))
	return Completion{Text: response.Content}, nil
}
