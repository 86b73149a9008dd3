// Package oracle 定义流程依赖的外部决策者：分类、生成、批量评分/抽取与搜索，
// 并提供一个统一的门面负责超时控制与返回值契约校验。
package oracle

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/HildaM/logs/slog"
)

// Task 外部调用的任务名，同时也是提示词模板名
type Task string

const (
	TaskRouteQuestion      Task = "route_question"      // 分类：vectorstore / websearch / qa_only
	TaskGradeHallucination Task = "grade_hallucination" // 分类：答案是否有依据
	TaskGradeAnswer        Task = "grade_answer"        // 分类：答案是否回答了问题
	TaskGradeDocument      Task = "grade_document"      // 批量：文档是否相关
	TaskExtractKnowledge   Task = "extract_knowledge"   // 批量：抽取相关知识
	TaskRewriteForStore    Task = "rewrite_for_store"   // 生成：向量库查询改写
	TaskRewriteForWeb      Task = "rewrite_for_web"     // 生成：网络搜索查询改写
	TaskGenerateAnswer     Task = "generate_answer"     // 生成：基于上下文回答
	TaskAnswerFeedback     Task = "answer_feedback"     // 生成：对答案的反馈
	TaskQueryFeedback      Task = "query_feedback"      // 生成：对查询的反馈
	TaskAnswerDirectly     Task = "answer_directly"     // 生成：不检索直接回答
	TaskConcede            Task = "concede"             // 生成：放弃时的兜底回答
)

var (
	// ErrContractViolation 外部调用的返回值不符合约定
	ErrContractViolation = errors.New("oracle contract violation")
	// ErrNotConfigured 未配置对应的外部能力
	ErrNotConfigured = errors.New("oracle not configured")
	// ErrTimeout 单次外部调用超过 oracle_timeout
	ErrTimeout = errors.New("oracle timeout")
)

// ContractError 返回值不在声明的标签集合中，或批量结果长度不一致
type ContractError struct {
	Task   Task
	Got    string
	Wanted []string
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("oracle %s returned %q, wanted one of %v", e.Task, e.Got, e.Wanted)
}

// Is 支持 errors.Is(err, ErrContractViolation)
func (e *ContractError) Is(target error) bool {
	return target == ErrContractViolation
}

// TimeoutError 单次外部调用超时，属于致命错误
type TimeoutError struct {
	Task    Task
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("oracle %s timed out after %s: %v", e.Task, e.Timeout, e.Err)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// Is 支持 errors.Is(err, ErrTimeout)
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// Pair 批量评分的一条输入
type Pair struct {
	Question string
	Document string
}

// Classifier 分类：输入字段，输出标签集合中的一个
type Classifier interface {
	Classify(ctx context.Context, task Task, vars map[string]any, labels []string) (string, error)
}

// Generator 生成：输入结构化字段，输出自由文本
type Generator interface {
	Generate(ctx context.Context, task Task, vars map[string]any) (string, error)
}

// BatchGrader 批量评分/抽取：输出与输入等长且保持顺序
type BatchGrader interface {
	Batch(ctx context.Context, task Task, pairs []Pair) ([]string, error)
}

// Searcher 网络搜索：输入查询，输出段落
type Searcher interface {
	Search(ctx context.Context, query string) ([]string, error)
}

// Retriever 向量检索：输入查询，输出段落
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]string, error)
}

// Oracles 外部能力的门面，节点与路由只通过它访问外部服务
type Oracles struct {
	Classifier Classifier
	Generator  Generator
	Grader     BatchGrader
	Searcher   Searcher
	Retriever  Retriever
	Timeout    time.Duration // 单次调用超时，0 表示不限制
}

// WithTimeout 返回使用新超时设置的副本
func (o *Oracles) WithTimeout(timeout time.Duration) *Oracles {
	cp := *o
	cp.Timeout = timeout
	return &cp
}

// Decide 调用分类器并校验返回的标签
func (o *Oracles) Decide(ctx context.Context, task Task, vars map[string]any, labels ...string) (string, error) {
	if o.Classifier == nil {
		return "", fmt.Errorf("%w: classifier for %s", ErrNotConfigured, task)
	}
	label, err := call(ctx, o.Timeout, task, func(ctx context.Context) (string, error) {
		return o.Classifier.Classify(ctx, task, vars, labels)
	})
	if err != nil {
		return "", err
	}
	if !slices.Contains(labels, label) {
		slog.Error("Decide failed, task = %s, label = %q not in %v", task, label, labels)
		return "", &ContractError{Task: task, Got: label, Wanted: labels}
	}
	return label, nil
}

// Write 调用生成器
func (o *Oracles) Write(ctx context.Context, task Task, vars map[string]any) (string, error) {
	if o.Generator == nil {
		return "", fmt.Errorf("%w: generator for %s", ErrNotConfigured, task)
	}
	return call(ctx, o.Timeout, task, func(ctx context.Context) (string, error) {
		return o.Generator.Generate(ctx, task, vars)
	})
}

// GradeEach 批量评分，labels 为空时不校验（用于抽取）
func (o *Oracles) GradeEach(ctx context.Context, task Task, question string, docs []string, labels ...string) ([]string, error) {
	if len(docs) == 0 {
		return []string{}, nil
	}
	if o.Grader == nil {
		return nil, fmt.Errorf("%w: batch grader for %s", ErrNotConfigured, task)
	}
	pairs := make([]Pair, len(docs))
	for i, doc := range docs {
		pairs[i] = Pair{Question: question, Document: doc}
	}

	out, err := call(ctx, o.Timeout, task, func(ctx context.Context) ([]string, error) {
		return o.Grader.Batch(ctx, task, pairs)
	})
	if err != nil {
		return nil, err
	}
	if len(out) != len(pairs) {
		return nil, &ContractError{Task: task, Got: fmt.Sprintf("%d results", len(out)), Wanted: []string{fmt.Sprintf("%d results", len(pairs))}}
	}
	if len(labels) > 0 {
		for _, got := range out {
			if !slices.Contains(labels, got) {
				return nil, &ContractError{Task: task, Got: got, Wanted: labels}
			}
		}
	}
	return out, nil
}

// Search 网络搜索，失败由调用方决定是否可恢复
func (o *Oracles) Search(ctx context.Context, query string) ([]string, error) {
	if o.Searcher == nil {
		return nil, fmt.Errorf("%w: web searcher", ErrNotConfigured)
	}
	return call(ctx, o.Timeout, "web_search", func(ctx context.Context) ([]string, error) {
		return o.Searcher.Search(ctx, query)
	})
}

// Retrieve 向量检索
func (o *Oracles) Retrieve(ctx context.Context, query string) ([]string, error) {
	if o.Retriever == nil {
		return nil, fmt.Errorf("%w: vector retriever", ErrNotConfigured)
	}
	return call(ctx, o.Timeout, "vector_retrieve", func(ctx context.Context) ([]string, error) {
		return o.Retriever.Retrieve(ctx, query)
	})
}

// call 统一处理超时与错误包装
func call[T any](ctx context.Context, timeout time.Duration, task Task, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	out, err := fn(ctx)
	if err != nil {
		var zero T
		if timeout > 0 && errors.Is(err, context.DeadlineExceeded) {
			return zero, &TimeoutError{Task: task, Timeout: timeout, Err: err}
		}
		return zero, fmt.Errorf("oracle %s: %w", task, err)
	}
	return out, nil
}
