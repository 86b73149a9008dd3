package conf

import (
	"time"

	"github.com/hildam/adaptive-rag-go/entity/model"
)

// MCPServerConfig MCP服务器配置
type MCPServerConfig struct {
	Command string            `yaml:"command" mapstructure:"command"`             // MCP服务器启动命令，stdio 模式
	Args    []string          `yaml:"args" mapstructure:"args"`                   // 命令行参数列表
	Env     map[string]string `yaml:"env,omitempty" mapstructure:"env,omitempty"` // 环境变量映射，可选配置
	URL     string            `yaml:"url,omitempty" mapstructure:"url,omitempty"` // SSE 服务地址，配置后使用 SSE 模式
	Headers []string          `yaml:"headers,omitempty" mapstructure:"headers"`   // SSE 请求头，格式 "Key: Value"
}

// MCPConfig MCP配置
type MCPConfig struct {
	Servers map[string]MCPServerConfig `yaml:"servers" mapstructure:"servers"` // MCP服务器配置映射，key为服务器名称
}

// Model 单个模型配置
type Model struct {
	ModelID string `yaml:"model_id" mapstructure:"model_id"` // 模型ID
	BaseURL string `yaml:"base_url" mapstructure:"base_url"` // 模型服务的基础URL地址
	APIKey  string `yaml:"api_key" mapstructure:"api_key"`   // 模型服务的API密钥
}

// ModelConfig 模型配置
type ModelConfig struct {
	DefaultModel   Model `yaml:"default_model" mapstructure:"default_model"`     // 默认使用的对话模型
	EmbeddingModel Model `yaml:"embedding_model" mapstructure:"embedding_model"` // 向量化模型
}

// VectorStoreConfig 向量库配置
type VectorStoreConfig struct {
	PersistPath string `yaml:"persist_path" mapstructure:"persist_path"` // 持久化目录，为空则只在内存中
	Compress    bool   `yaml:"compress" mapstructure:"compress"`         // 持久化文件是否压缩
}

// TavilyConfig Tavily 搜索配置
type TavilyConfig struct {
	APIKey     string        `yaml:"api_key" mapstructure:"api_key"`
	BaseURL    string        `yaml:"base_url" mapstructure:"base_url"`
	MaxResults int           `yaml:"max_results" mapstructure:"max_results"`
	Timeout    time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// SearchConfig 网络搜索配置
type SearchConfig struct {
	Provider string       `yaml:"provider" mapstructure:"provider"`   // tavily / mcp
	Tavily   TavilyConfig `yaml:"tavily" mapstructure:"tavily"`       // provider = tavily 时生效
	MCPTool  string       `yaml:"mcp_tool" mapstructure:"mcp_tool"`   // provider = mcp 时使用的工具名，为空则选择以 search 结尾的工具
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"` // 监听地址
}

// LogConfig 日志配置
type LogConfig struct {
	Path  string `yaml:"path" mapstructure:"path"`
	Level string `yaml:"level" mapstructure:"level"`
}

// AppConfig 应用配置
type AppConfig struct {
	MCP         MCPConfig         `yaml:"mcp" mapstructure:"mcp"`                 // MCP服务相关配置
	Model       ModelConfig       `yaml:"model" mapstructure:"model"`             // 大语言模型相关配置
	Agent       model.AgentConfig `yaml:"agent" mapstructure:"agent"`             // 智能体默认配置
	VectorStore VectorStoreConfig `yaml:"vectorstore" mapstructure:"vectorstore"` // 向量库配置
	Search      SearchConfig      `yaml:"search" mapstructure:"search"`           // 网络搜索配置
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`           // HTTP 服务配置
	Log         LogConfig         `yaml:"log" mapstructure:"log"`                 // 日志配置
}
