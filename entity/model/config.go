package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"time"

	"github.com/go-playground/validator/v10"
)

// 默认的智能体参数
const (
	DefaultMaxRetrievals     = 3
	DefaultMaxGenerations    = 3
	DefaultStepBudget        = 50
	DefaultGraderConcurrency = 4
	DefaultTopK              = 4
	DefaultFetchK            = 20
	DefaultLambdaMult        = 0.5
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// LLMConfig 大模型配置
type LLMConfig struct {
	Name       string         `json:"name" yaml:"name" validate:"required"`         // 模型名称
	Provider   string         `json:"provider" yaml:"provider" validate:"required"` // 模型供应商，如 openai
	Parameters map[string]any `json:"parameters,omitempty" yaml:"parameters"`       // 额外参数，如 temperature
}

// RetrieverConfig 向量检索配置
type RetrieverConfig struct {
	CollectionName   string         `json:"collection_name" yaml:"collection_name" validate:"required"`
	SearchType       string         `json:"search_type" yaml:"search_type" validate:"oneof=similarity mmr"`
	TopK             int            `json:"top_k" yaml:"top_k" validate:"gte=1"`
	SearchParameters map[string]any `json:"search_parameters,omitempty" yaml:"search_parameters"` // fetch_k / lambda_mult / score_threshold
}

// AgentParameters 智能体运行参数
type AgentParameters struct {
	MaxRetrievals     int           `json:"max_retrievals" yaml:"max_retrievals" validate:"gte=0"`
	MaxGenerations    int           `json:"max_generations" yaml:"max_generations" validate:"gte=0"`
	StepBudget        int           `json:"step_budget" yaml:"step_budget" validate:"gte=1"`
	OracleTimeout     time.Duration `json:"oracle_timeout,omitempty" yaml:"oracle_timeout" validate:"gte=0"` // 单次外部调用超时，0 表示不限制
	GraderConcurrency int           `json:"grader_concurrency,omitempty" yaml:"grader_concurrency" validate:"gte=1"`
}

// AgentConfig 单次请求的智能体配置，创建后不再修改
type AgentConfig struct {
	LLM             LLMConfig       `json:"llm" yaml:"llm"`
	Retriever       RetrieverConfig `json:"retriever" yaml:"retriever"`
	AgentParameters AgentParameters `json:"agent_parameters" yaml:"agent_parameters"`
}

// DefaultAgentConfig 内置默认配置
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		LLM: LLMConfig{
			Name:       "gpt-4o-mini",
			Provider:   "openai",
			Parameters: map[string]any{"temperature": 0.7},
		},
		Retriever: RetrieverConfig{
			CollectionName: "default_collection",
			SearchType:     "similarity",
			TopK:           DefaultTopK,
		},
		AgentParameters: AgentParameters{
			MaxRetrievals:     DefaultMaxRetrievals,
			MaxGenerations:    DefaultMaxGenerations,
			StepBudget:        DefaultStepBudget,
			GraderConcurrency: DefaultGraderConcurrency,
		},
	}
}

// MergeAgentConfig 将请求中的 JSON 配置解码到默认配置的副本上。
// 请求中出现的字段覆盖默认值，显式的零值同样生效；raw 为空或 null 时直接使用默认配置
func MergeAgentConfig(defaults AgentConfig, raw []byte) (AgentConfig, error) {
	merged := defaults.clone()
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		if err := json.Unmarshal(trimmed, &merged); err != nil {
			return AgentConfig{}, fmt.Errorf("decode agent config failed: %w", err)
		}
	}
	if err := merged.Validate(); err != nil {
		return AgentConfig{}, err
	}
	return merged, nil
}

// clone 复制参数表，避免解码时写入默认配置
func (c AgentConfig) clone() AgentConfig {
	c.LLM.Parameters = maps.Clone(c.LLM.Parameters)
	c.Retriever.SearchParameters = maps.Clone(c.Retriever.SearchParameters)
	return c
}

// Validate 校验配置
func (c AgentConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid agent config: %w", err)
	}
	return nil
}

// FetchK MMR 候选集大小
func (r RetrieverConfig) FetchK() int {
	if v, ok := intParam(r.SearchParameters, "fetch_k"); ok && v > 0 {
		return v
	}
	return max(DefaultFetchK, r.TopK)
}

// LambdaMult MMR 多样性系数，1 表示只看相关性
func (r RetrieverConfig) LambdaMult() float64 {
	if v, ok := floatParam(r.SearchParameters, "lambda_mult"); ok && v >= 0 && v <= 1 {
		return v
	}
	return DefaultLambdaMult
}

// ScoreThreshold 相似度阈值，0 表示不过滤
func (r RetrieverConfig) ScoreThreshold() float64 {
	v, _ := floatParam(r.SearchParameters, "score_threshold")
	return v
}

// Temperature 读取温度参数
func (l LLMConfig) Temperature() (float32, bool) {
	v, ok := floatParam(l.Parameters, "temperature")
	return float32(v), ok
}

// MaxTokens 读取最大输出 token
func (l LLMConfig) MaxTokens() (int, bool) {
	return intParam(l.Parameters, "max_tokens")
}

func intParam(params map[string]any, key string) (int, bool) {
	switch v := params[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

func floatParam(params map[string]any, key string) (float64, bool) {
	switch v := params[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
