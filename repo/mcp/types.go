package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/hildam/adaptive-rag-go/entity/conf"
)

// MCP 传输类型
const (
	transportStdio = "stdio"
	transportSSE   = "sse"
)

// ServerConfig 服务端配置接口
type ServerConfig interface {
	GetType() string
}

// STDIOServerConfig STDIO服务端配置
type STDIOServerConfig struct {
	Command string
	Args    []string
	Env     map[string]string
}

// GetType 获取服务端类型
func (s STDIOServerConfig) GetType() string {
	return transportStdio
}

// SSEServerConfig SSE服务端配置
type SSEServerConfig struct {
	Url     string
	Headers []string
}

// GetType 获取服务端类型
func (s SSEServerConfig) GetType() string {
	return transportSSE
}

// serverConfigFrom 配置了 url 的按 SSE 处理，否则按 stdio 处理
func serverConfigFrom(c conf.MCPServerConfig) ServerConfig {
	if c.URL != "" {
		return SSEServerConfig{Url: c.URL, Headers: c.Headers}
	}
	return STDIOServerConfig{Command: c.Command, Args: c.Args, Env: c.Env}
}

// MCPTool MCP工具包装器，实现 eino tool.InvokableTool
type MCPTool struct {
	cli         client.MCPClient      // MCP客户端
	toolName    string                // 工具名称
	toolDesc    string                // 工具描述
	inputSchema mcpgo.ToolInputSchema // 输入参数Schema
}

var _ tool.InvokableTool = (*MCPTool)(nil)

// Info 获取工具信息
func (t *MCPTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	params, err := convertMCPSchemaToEinoParams(t.inputSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to convert schema: %w", err)
	}

	return &schema.ToolInfo{
		Name:        t.toolName,
		Desc:        t.toolDesc,
		ParamsOneOf: params,
	}, nil
}

// QueryArgument 搜索词应该填入的参数名：优先 query，其次第一个必填参数
func (t *MCPTool) QueryArgument() string {
	if _, ok := t.inputSchema.Properties["query"]; ok {
		return "query"
	}
	if len(t.inputSchema.Required) > 0 {
		return t.inputSchema.Required[0]
	}
	return "query"
}

// InvokableRun 调用工具，返回内容项的 JSON，多项时为数组
func (t *MCPTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var args map[string]any
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", fmt.Errorf("mcp tool %s: bad arguments: %w", t.toolName, err)
	}

	req := mcpgo.CallToolRequest{}
	req.Params.Name = t.toolName
	req.Params.Arguments = args

	resp, err := t.cli.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("mcp tool %s: %w", t.toolName, err)
	}
	if resp.IsError {
		return "", fmt.Errorf("mcp tool %s returned error: %s", t.toolName, joinText(resp.Content))
	}
	return encodeContent(resp.Content)
}

// encodeContent 单项直接编码，多项编码为数组
func encodeContent(contents []mcpgo.Content) (string, error) {
	var (
		data []byte
		err  error
	)
	switch len(contents) {
	case 0:
		return "", nil
	case 1:
		data, err = json.Marshal(contents[0])
	default:
		data, err = json.Marshal(contents)
	}
	if err != nil {
		return "", fmt.Errorf("encode mcp content: %w", err)
	}
	return string(data), nil
}

// joinText 拼接文本内容，用于错误信息
func joinText(contents []mcpgo.Content) string {
	var texts []string
	for _, c := range contents {
		if text, ok := mcpgo.AsTextContent(c); ok {
			texts = append(texts, text.Text)
		}
	}
	if len(texts) == 0 {
		return "unknown error"
	}
	return strings.Join(texts, "; ")
}
