package llm

import (
	"context"
	"fmt"

	openai3 "github.com/cloudwego/eino-ext/libs/acl/openai"

	"github.com/HildaM/logs/slog"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/getkin/kin-openapi/openapi3gen"

	"github.com/hildam/adaptive-rag-go/entity/conf"
	"github.com/hildam/adaptive-rag-go/entity/model"
)

// Verdict 分类模型的结构化输出
type Verdict struct {
	Label string `json:"label"` // 标签集合中的一个
}

// newChatModelConfig 根据模型连接信息与请求中的大模型参数构造配置
func newChatModelConfig(cfg model.LLMConfig, m conf.Model) *openai.ChatModelConfig {
	modelID := cfg.Name
	if modelID == "" {
		modelID = m.ModelID
	}
	mc := &openai.ChatModelConfig{
		Model:   modelID,
		BaseURL: m.BaseURL,
		APIKey:  m.APIKey,
	}
	if t, ok := cfg.Temperature(); ok {
		mc.Temperature = &t
	}
	if n, ok := cfg.MaxTokens(); ok {
		mc.MaxTokens = &n
	}
	return mc
}

// NewChatModel 创建生成用的 Chat 模型
func NewChatModel(ctx context.Context, cfg model.LLMConfig, m conf.Model) (*openai.ChatModel, error) {
	if cfg.Provider != "" && cfg.Provider != "openai" {
		return nil, fmt.Errorf("NewChatModel failed, unsupported provider %q", cfg.Provider)
	}
	llm, err := openai.NewChatModel(ctx, newChatModelConfig(cfg, m))
	if err != nil {
		slog.Error("NewChatModel failed, err: %v", err)
		return nil, err
	}
	return llm, nil
}

// NewJudgeModel 创建分类用的模型，输出固定为 {"label": "..."}
func NewJudgeModel(ctx context.Context, cfg model.LLMConfig, m conf.Model) (*openai.ChatModel, error) {
	if cfg.Provider != "" && cfg.Provider != "openai" {
		return nil, fmt.Errorf("NewJudgeModel failed, unsupported provider %q", cfg.Provider)
	}
	// 定义返回结构
	verdictSchema, err := openapi3gen.NewSchemaRefForValue(&Verdict{}, nil)
	if err != nil {
		return nil, fmt.Errorf("NewJudgeModel failed, generate schema: %w", err)
	}

	mc := newChatModelConfig(cfg, m)
	// 分类需要稳定输出
	zero := float32(0)
	mc.Temperature = &zero
	mc.ResponseFormat = &openai3.ChatCompletionResponseFormat{
		Type: openai3.ChatCompletionResponseFormatTypeJSONSchema,
		JSONSchema: &openai3.ChatCompletionResponseFormatJSONSchema{
			Name:   "verdict",
			Strict: false,
			Schema: verdictSchema.Value,
		},
	}

	llm, err := openai.NewChatModel(ctx, mc)
	if err != nil {
		slog.Error("NewJudgeModel failed, err: %v", err)
		return nil, err
	}
	return llm, nil
}
