package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/HildaM/logs/slog"
	ecmodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
	"github.com/panjf2000/ants/v2"
	"github.com/tidwall/gjson"

	"github.com/hildam/adaptive-rag-go/agent/oracle"
	"github.com/hildam/adaptive-rag-go/entity/consts"
	"github.com/hildam/adaptive-rag-go/repo/template"
)

// batchLabels 批量任务中属于分类的任务及其标签，其余批量任务按生成处理
var batchLabels = map[oracle.Task][]string{
	oracle.TaskGradeDocument: {consts.Yes, consts.No},
}

// labelKeys 结构化输出中可能承载标签的字段
var labelKeys = []string{"label", "binary_score", "datasource"}

// Oracle 基于大模型的分类、生成与批量评分
type Oracle struct {
	chat  ecmodel.BaseChatModel // 生成
	judge ecmodel.BaseChatModel // 分类
	pool  *ants.Pool            // 批量评分的并发池
}

// NewOracle 创建实例，concurrency 为批量评分的最大并发
func NewOracle(chat, judge ecmodel.BaseChatModel, concurrency int) (*Oracle, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	pool, err := ants.NewPool(concurrency)
	if err != nil {
		return nil, fmt.Errorf("NewOracle failed, create pool: %w", err)
	}
	if judge == nil {
		judge = chat
	}
	return &Oracle{chat: chat, judge: judge, pool: pool}, nil
}

// Release 释放并发池
func (o *Oracle) Release() {
	if o.pool != nil {
		o.pool.Release()
	}
}

// Classify 实现 oracle.Classifier
func (o *Oracle) Classify(ctx context.Context, task oracle.Task, vars map[string]any, labels []string) (string, error) {
	input := make(map[string]any, len(vars)+1)
	for k, v := range vars {
		input[k] = v
	}
	input["labels"] = strings.Join(labels, ", ")

	content, err := o.call(ctx, o.judge, task, input)
	if err != nil {
		return "", err
	}
	label := parseLabel(content)
	slog.Debug("Classify debug, task = %s, raw = %s, label = %s", task, content, label)
	return label, nil
}

// Generate 实现 oracle.Generator
func (o *Oracle) Generate(ctx context.Context, task oracle.Task, vars map[string]any) (string, error) {
	content, err := o.call(ctx, o.chat, task, vars)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(content), nil
}

// Batch 实现 oracle.BatchGrader，结果按输入顺序返回
func (o *Oracle) Batch(ctx context.Context, task oracle.Task, pairs []oracle.Pair) ([]string, error) {
	results := make([]string, len(pairs))
	errs := make([]error, len(pairs))
	labels, classify := batchLabels[task]

	var wg sync.WaitGroup
	for i, p := range pairs {
		wg.Add(1)
		err := o.pool.Submit(func() {
			defer wg.Done()
			vars := map[string]any{"question": p.Question, "document": p.Document}
			if classify {
				results[i], errs[i] = o.Classify(ctx, task, vars, labels)
				return
			}
			results[i], errs[i] = o.Generate(ctx, task, vars)
		})
		if err != nil {
			wg.Done()
			errs[i] = fmt.Errorf("submit %s #%d: %w", task, i, err)
		}
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return results, nil
}

// call 渲染模板并调用模型
func (o *Oracle) call(ctx context.Context, llm ecmodel.BaseChatModel, task oracle.Task, vars map[string]any) (string, error) {
	sysPrompt, err := template.GetPromptTemplate(ctx, string(task))
	if err != nil {
		return "", err
	}
	msgs, err := prompt.FromMessages(schema.Jinja2, schema.SystemMessage(sysPrompt)).Format(ctx, vars)
	if err != nil {
		slog.Error("call failed, format prompt err = %+v, task = %s", err, task)
		return "", fmt.Errorf("format prompt %s: %w", task, err)
	}

	resp, err := llm.Generate(ctx, msgs)
	if err != nil {
		slog.Error("call failed, generate err = %+v, task = %s", err, task)
		return "", err
	}
	if resp == nil {
		return "", fmt.Errorf("model returned no message for %s", task)
	}
	return resp.Content, nil
}

// parseLabel 解析模型输出中的标签，兼容 JSON 与纯文本
func parseLabel(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	if gjson.Valid(content) {
		for _, key := range labelKeys {
			if r := gjson.Get(content, key); r.Exists() {
				return normalizeLabel(r.String())
			}
		}
	}
	return normalizeLabel(content)
}

func normalizeLabel(s string) string {
	return strings.ToLower(strings.Trim(strings.TrimSpace(s), "\"'`. "))
}
