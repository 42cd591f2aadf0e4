package ai

import (
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
)

// StructuredReply 是开启结构化输出时模型需要返回的对象。
type StructuredReply struct {
	Reply       string `json:"reply" jsonschema_description:"The tutor's reply to the learner, in the target language"`
	Translation string `json:"translation" jsonschema_description:"A translation of the reply into the learner's native language, or an empty string"`
}

func generateSchema[T any]() interface{} {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}

func structuredReplySchema() openai.ResponseFormatJSONSchemaJSONSchemaParam {
	return openai.ResponseFormatJSONSchemaJSONSchemaParam{
		Name:        openai.F("tutor_reply"),
		Description: openai.F("Reply text plus an optional translation"),
		Schema:      openai.F(generateSchema[StructuredReply]()),
		Strict:      openai.Bool(true),
	}
}

func parseStructuredReply(content string) (Completion, error) {
	var reply StructuredReply
	if err := sonic.UnmarshalString(content, &reply); err != nil {
		return Completion{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if strings.TrimSpace(reply.Reply) == "" {
		return Completion{}, fmt.Errorf("%w: empty reply field", ErrMalformedResponse)
	}
	return Completion{Text: reply.Reply, Translation: reply.Translation}, nil
}
