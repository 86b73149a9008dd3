package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/HildaM/logs/slog"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/hildam/adaptive-rag-go/entity/conf"
)

// initTimeout 单个服务端初始化超时
const initTimeout = 30 * time.Second

// Clients MCP 客户端集合
type Clients struct {
	clients map[string]client.MCPClient // key 为服务名

	toolsOnce   sync.Once
	cachedTools []*MCPTool
	toolsErr    error
}

// NewClients 根据配置创建并初始化所有 MCP 客户端，任意一个失败则全部关闭
func NewClients(ctx context.Context, servers map[string]conf.MCPServerConfig) (*Clients, error) {
	clients := make(map[string]client.MCPClient, len(servers))
	closeAll := func() {
		for _, c := range clients {
			_ = c.Close()
		}
	}

	for name, server := range servers {
		cfg := serverConfigFrom(server)
		slog.Debug("NewClients debug, load mcp client = %+v, mcp type = %+v", name, cfg.GetType())

		mcpClient, err := newClient(ctx, cfg)
		if err != nil {
			closeAll()
			slog.Error("NewClients failed, name = %+v, err = %+v", name, err)
			return nil, fmt.Errorf("failed to create MCP client for %s: %w", name, err)
		}

		if err = initialize(ctx, mcpClient); err != nil {
			_ = mcpClient.Close()
			closeAll()
			slog.Error("NewClients failed, initialize name = %+v, err = %+v", name, err)
			return nil, fmt.Errorf("failed to initialize MCP client for %s: %w", name, err)
		}
		clients[name] = mcpClient
	}
	return &Clients{clients: clients}, nil
}

// newClient 按传输类型创建客户端
func newClient(ctx context.Context, cfg ServerConfig) (client.MCPClient, error) {
	switch c := cfg.(type) {
	case SSEServerConfig:
		var options []transport.ClientOption
		if len(c.Headers) > 0 {
			headers := make(map[string]string)
			for _, header := range c.Headers {
				parts := strings.SplitN(header, ":", 2)
				if len(parts) == 2 {
					headers[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
				}
			}
			options = append(options, transport.WithHeaders(headers))
		}
		sseClient, err := client.NewSSEMCPClient(c.Url, options...)
		if err != nil {
			return nil, err
		}
		if err = sseClient.Start(ctx); err != nil {
			return nil, err
		}
		return sseClient, nil
	case STDIOServerConfig:
		env := make([]string, 0, len(c.Env))
		for k, v := range c.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		return client.NewStdioMCPClient(c.Command, env, c.Args...)
	default:
		return nil, fmt.Errorf("unsupported mcp transport %s", cfg.GetType())
	}
}

// initialize 握手
func initialize(ctx context.Context, mcpClient client.MCPClient) error {
	ctx, cancel := context.WithTimeout(ctx, initTimeout)
	defer cancel()

	initRequest := mcpgo.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcpgo.Implementation{
		Name:    "adaptive-rag",
		Version: "0.1.0",
	}
	initRequest.Params.Capabilities = mcpgo.ClientCapabilities{}

	_, err := mcpClient.Initialize(ctx, initRequest)
	return err
}

// Tools 获取所有MCP工具，只加载一次
func (c *Clients) Tools(ctx context.Context) ([]*MCPTool, error) {
	c.toolsOnce.Do(func() {
		c.cachedTools, c.toolsErr = c.loadTools(ctx)
	})
	return c.cachedTools, c.toolsErr
}

// loadTools 加载所有MCP工具
func (c *Clients) loadTools(ctx context.Context) ([]*MCPTool, error) {
	var allTools []*MCPTool

	// 按服务名排序，保证选择工具时结果稳定
	names := make([]string, 0, len(c.clients))
	for name := range c.clients {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, serverName := range names {
		mcpClient := c.clients[serverName]
		toolsResp, err := mcpClient.ListTools(ctx, mcpgo.ListToolsRequest{})
		if err != nil {
			slog.Error("loadTools failed, list tools from %s, err = %v", serverName, err)
			continue
		}
		slog.Debug("loadTools debug, found %d tools from %s", len(toolsResp.Tools), serverName)

		for _, mcpTool := range toolsResp.Tools {
			allTools = append(allTools, &MCPTool{
				cli:         mcpClient,
				toolName:    mcpTool.Name,
				toolDesc:    mcpTool.Description,
				inputSchema: mcpTool.InputSchema,
			})
		}
	}
	return allTools, nil
}

// FindSearchTool 查找搜索工具：指定名称时精确匹配，否则选择第一个以 search 结尾的工具
func (c *Clients) FindSearchTool(ctx context.Context, name string) (*MCPTool, error) {
	tools, err := c.Tools(ctx)
	if err != nil {
		return nil, err
	}
	baseTools := make([]tool.BaseTool, 0, len(tools))
	for _, t := range tools {
		baseTools = append(baseTools, t)
	}
	idx, err := pickSearchTool(ctx, baseTools, name)
	if err != nil {
		return nil, err
	}
	return tools[idx], nil
}

// pickSearchTool 返回匹配工具的下标
func pickSearchTool(ctx context.Context, tools []tool.BaseTool, name string) (int, error) {
	for i, t := range tools {
		info, err := t.Info(ctx)
		if err != nil {
			continue
		}
		if name != "" && info.Name == name {
			return i, nil
		}
		if name == "" && strings.HasSuffix(info.Name, "search") {
			return i, nil
		}
	}
	if name != "" {
		return -1, fmt.Errorf("mcp tool %q not found", name)
	}
	return -1, fmt.Errorf("no mcp tool ending with \"search\"")
}

// Close 关闭所有客户端
func (c *Clients) Close() {
	for name, cli := range c.clients {
		if err := cli.Close(); err != nil {
			slog.Error("Close failed, mcp client = %s, err = %v", name, err)
		}
	}
}

// convertMCPSchemaToEinoParams 将MCP的InputSchema转换为eino的ParamsOneOf
func convertMCPSchemaToEinoParams(inputSchema mcpgo.ToolInputSchema) (*schema.ParamsOneOf, error) {
	schemaBytes, err := json.Marshal(inputSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal input schema: %w", err)
	}

	var schemaMap map[string]interface{}
	if err := json.Unmarshal(schemaBytes, &schemaMap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal to map: %w", err)
	}

	// 没有 type 也没有 anyOf 时默认为 object
	if _, hasType := schemaMap["type"]; !hasType {
		if _, hasAnyOf := schemaMap["anyOf"]; !hasAnyOf {
			schemaMap["type"] = "object"
		}
	}

	// 缺少 type 的字段按 string 处理
	if properties, ok := schemaMap["properties"].(map[string]interface{}); ok {
		for _, propValue := range properties {
			if propMap, ok := propValue.(map[string]interface{}); ok {
				if _, hasType := propMap["type"]; !hasType {
					if _, hasAnyOf := propMap["anyOf"]; !hasAnyOf {
						propMap["type"] = "string"
					}
				}
			}
		}
	}

	fixedSchemaBytes, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal fixed schema: %w", err)
	}

	var openAPISchema openapi3.Schema
	if err := json.Unmarshal(fixedSchemaBytes, &openAPISchema); err != nil {
		return nil, fmt.Errorf("failed to unmarshal to OpenAPI schema: %w", err)
	}
	return schema.NewParamsOneOfByOpenAPIV3(&openAPISchema), nil
}
