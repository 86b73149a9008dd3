// Package mock 提供可脚本化的外部能力替身，用于确定性测试。
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/hildam/adaptive-rag-go/agent/oracle"
)

// Oracle 同时实现 Classifier / Generator / BatchGrader / Searcher / Retriever。
// 未设置的行为使用默认值：分类返回脚本或第一个标签，生成返回 "<task>#<n>"，
// 评分返回 "yes"，抽取原样返回文档，搜索与检索返回空。
type Oracle struct {
	mu sync.Mutex

	// Labels 每个分类任务依次返回的标签，用完后重复最后一个
	Labels map[oracle.Task][]string
	// GradeFunc 批量任务对单条输入的结果
	GradeFunc func(task oracle.Task, p oracle.Pair) string
	// GenerateFunc 自定义生成
	GenerateFunc func(task oracle.Task, vars map[string]any) (string, error)
	// SearchFunc 第 attempt 次（从 1 开始）网络搜索
	SearchFunc func(ctx context.Context, attempt int, query string) ([]string, error)
	// RetrieveFunc 第 attempt 次（从 1 开始）向量检索
	RetrieveFunc func(ctx context.Context, attempt int, query string) ([]string, error)

	calls    map[string]int
	lastVars map[oracle.Task]map[string]any
}

// New 创建替身
func New() *Oracle {
	return &Oracle{
		Labels:   make(map[oracle.Task][]string),
		calls:    make(map[string]int),
		lastVars: make(map[oracle.Task]map[string]any),
	}
}

// Oracles 包装为门面
func (m *Oracle) Oracles() *oracle.Oracles {
	return &oracle.Oracles{
		Classifier: m,
		Generator:  m,
		Grader:     m,
		Searcher:   m,
		Retriever:  m,
	}
}

// Calls 某个任务被调用的次数；"web_search" 与 "vector_retrieve" 统计搜索与检索
func (m *Oracle) Calls(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[name]
}

// LastVars 某个任务最近一次的输入
func (m *Oracle) LastVars(task oracle.Task) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastVars[task]
}

func (m *Oracle) record(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[name]++
	return m.calls[name]
}

// Classify 实现 oracle.Classifier
func (m *Oracle) Classify(_ context.Context, task oracle.Task, vars map[string]any, labels []string) (string, error) {
	n := m.record(string(task))
	m.mu.Lock()
	m.lastVars[task] = vars
	script := m.Labels[task]
	m.mu.Unlock()

	if len(script) == 0 {
		if len(labels) == 0 {
			return "", fmt.Errorf("no labels for %s", task)
		}
		return labels[0], nil
	}
	if n > len(script) {
		return script[len(script)-1], nil
	}
	return script[n-1], nil
}

// Generate 实现 oracle.Generator
func (m *Oracle) Generate(_ context.Context, task oracle.Task, vars map[string]any) (string, error) {
	n := m.record(string(task))
	m.mu.Lock()
	m.lastVars[task] = vars
	m.mu.Unlock()

	if m.GenerateFunc != nil {
		return m.GenerateFunc(task, vars)
	}
	return fmt.Sprintf("%s#%d", task, n), nil
}

// Batch 实现 oracle.BatchGrader
func (m *Oracle) Batch(_ context.Context, task oracle.Task, pairs []oracle.Pair) ([]string, error) {
	m.record(string(task))
	out := make([]string, len(pairs))
	for i, p := range pairs {
		switch {
		case m.GradeFunc != nil:
			out[i] = m.GradeFunc(task, p)
		case task == oracle.TaskExtractKnowledge:
			out[i] = p.Document
		default:
			out[i] = "yes"
		}
	}
	return out, nil
}

// Search 实现 oracle.Searcher
func (m *Oracle) Search(ctx context.Context, query string) ([]string, error) {
	n := m.record("web_search")
	if m.SearchFunc != nil {
		return m.SearchFunc(ctx, n, query)
	}
	return nil, nil
}

// Retrieve 实现 oracle.Retriever
func (m *Oracle) Retrieve(ctx context.Context, query string) ([]string, error) {
	n := m.record("vector_retrieve")
	if m.RetrieveFunc != nil {
		return m.RetrieveFunc(ctx, n, query)
	}
	return nil, nil
}
