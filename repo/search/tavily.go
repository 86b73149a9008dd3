// Package search 网络搜索后端：Tavily REST API 与 MCP 搜索工具。
package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/HildaM/logs/slog"
	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"github.com/hildam/adaptive-rag-go/entity/conf"
)

const (
	defaultTavilyURL  = "https://api.tavily.com"
	defaultMaxResults = 3
	defaultTimeout    = 20 * time.Second
)

// Tavily Tavily 搜索客户端
type Tavily struct {
	client     *resty.Client
	maxResults int
}

// tavilyReq 搜索请求
type tavilyReq struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
	Topic      string `json:"topic,omitempty"`
}

// NewTavily 创建客户端
func NewTavily(cfg conf.TavilyConfig) (*Tavily, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("NewTavily failed, api_key is empty")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultTavilyURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetAuthToken(cfg.APIKey).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second)
	client.AddRetryCondition(retryCondition)

	return &Tavily{client: client, maxResults: maxResults}, nil
}

// retryCondition 网络错误、限流与服务端错误时重试
func retryCondition(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if r == nil {
		return false
	}
	code := r.StatusCode()
	return code >= 500 || code == 429 || code == 408
}

// Search 实现 oracle.Searcher，返回每条结果的正文
func (t *Tavily) Search(ctx context.Context, query string) ([]string, error) {
	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(&tavilyReq{Query: query, MaxResults: t.maxResults}).
		Post("/search")
	if err != nil {
		return nil, fmt.Errorf("tavily request: %w", err)
	}
	if resp.IsError() {
		detail := gjson.GetBytes(resp.Body(), "detail.error").String()
		if detail == "" {
			detail = resp.String()
		}
		return nil, fmt.Errorf("tavily error: %s (status %d)", detail, resp.StatusCode())
	}

	body := resp.Body()
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("tavily returned invalid json")
	}

	var passages []string
	gjson.GetBytes(body, "results").ForEach(func(_, result gjson.Result) bool {
		if content := strings.TrimSpace(result.Get("content").String()); content != "" {
			passages = append(passages, content)
		}
		return true
	})
	slog.Debug("Tavily.Search debug, query = %s, results = %d", query, len(passages))
	return passages, nil
}
