package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/HildaM/logs/slog"
	"github.com/cloudwego/eino/components/tool"
	"github.com/tidwall/gjson"
)

// MCPSearcher 通过 MCP 搜索工具完成网络搜索
type MCPSearcher struct {
	tool     tool.InvokableTool
	argument string // 搜索词对应的参数名
}

// NewMCPSearcher 创建实例，argument 为空时使用 query
func NewMCPSearcher(t tool.InvokableTool, argument string) *MCPSearcher {
	if argument == "" {
		argument = "query"
	}
	return &MCPSearcher{tool: t, argument: argument}
}

// Search 实现 oracle.Searcher
func (s *MCPSearcher) Search(ctx context.Context, query string) ([]string, error) {
	args, err := json.Marshal(map[string]any{s.argument: query})
	if err != nil {
		return nil, err
	}
	out, err := s.tool.InvokableRun(ctx, string(args))
	if err != nil {
		return nil, fmt.Errorf("mcp search: %w", err)
	}
	passages := parseToolOutput(out)
	slog.Debug("MCPSearcher.Search debug, query = %s, results = %d", query, len(passages))
	return passages, nil
}

// parseToolOutput 解析工具输出：单个或多个文本内容，文本本身可能是带 results 的 JSON
func parseToolOutput(out string) []string {
	out = strings.TrimSpace(out)
	if out == "" {
		return nil
	}
	if !gjson.Valid(out) {
		return []string{out}
	}

	var texts []string
	root := gjson.Parse(out)
	if root.IsArray() {
		root.ForEach(func(_, item gjson.Result) bool {
			texts = append(texts, item.Get("text").String())
			return true
		})
	} else if text := root.Get("text"); text.Exists() {
		texts = append(texts, text.String())
	} else {
		texts = append(texts, out)
	}

	var passages []string
	for _, text := range texts {
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		results := gjson.Get(text, "results")
		if gjson.Valid(text) && results.IsArray() {
			results.ForEach(func(_, r gjson.Result) bool {
				if c := strings.TrimSpace(r.Get("content").String()); c != "" {
					passages = append(passages, c)
				}
				return true
			})
			continue
		}
		passages = append(passages, text)
	}
	return passages
}
