// Package nodes 自适应 RAG 流程中的各个步骤。每个节点只读取状态，
// 通过外部能力门面完成一次调用，并返回部分状态更新。
package nodes

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/HildaM/logs/slog"

	"github.com/hildam/adaptive-rag-go/agent/oracle"
	"github.com/hildam/adaptive-rag-go/entity/consts"
	"github.com/hildam/adaptive-rag-go/entity/model"
)

// Nodes 节点集合
type Nodes struct {
	oracles *oracle.Oracles
}

// NewNodes 创建实例
func NewNodes(oracles *oracle.Oracles) *Nodes {
	return &Nodes{oracles: oracles}
}

// RewriteForStore 面向向量库改写查询
func (n *Nodes) RewriteForStore(ctx context.Context, state *model.RunState) (*model.StateUpdate, error) {
	rewritten, err := n.oracles.Write(ctx, oracle.TaskRewriteForStore, map[string]any{
		"question": state.Question,
		"feedback": strings.Join(state.QueryFeedbacks, "\n"),
	})
	if err != nil {
		return nil, err
	}
	return &model.StateUpdate{
		RewrittenQuestion: model.Ptr(rewritten),
		SearchMode:        model.Ptr(model.ModeVectorstore),
	}, nil
}

// RewriteForWeb 面向网络搜索改写查询，从其他通道切换过来时重置检索次数
func (n *Nodes) RewriteForWeb(ctx context.Context, state *model.RunState) (*model.StateUpdate, error) {
	rewritten, err := n.oracles.Write(ctx, oracle.TaskRewriteForWeb, map[string]any{
		"question": state.Question,
		"feedback": strings.Join(state.QueryFeedbacks, "\n"),
	})
	if err != nil {
		return nil, err
	}
	update := &model.StateUpdate{
		RewrittenQuestion: model.Ptr(rewritten),
		SearchMode:        model.Ptr(model.ModeWebsearch),
	}
	if state.SearchMode != model.ModeWebsearch {
		slog.Debug("RewriteForWeb debug, switch search mode from %s, reset retrieval_num = %d", state.SearchMode, state.RetrievalNum)
		update.RetrievalNum = model.Ptr(0)
	}
	return update, nil
}

// RetrieveStore 向量库检索，结果追加到文档列表
func (n *Nodes) RetrieveStore(ctx context.Context, state *model.RunState) (*model.StateUpdate, error) {
	found, err := n.oracles.Retrieve(ctx, state.RewrittenQuestion)
	if err != nil {
		return nil, err
	}
	slog.Debug("RetrieveStore debug, query = %s, found = %d", state.RewrittenQuestion, len(found))
	return &model.StateUpdate{
		Documents:    model.Ptr(append(slices.Clone(state.Documents), found...)),
		RetrievalNum: model.Ptr(state.RetrievalNum + 1),
	}, nil
}

// RetrieveWeb 网络搜索。搜索失败不终止流程：记录错误，检索次数照常增加，文档保持不变
func (n *Nodes) RetrieveWeb(ctx context.Context, state *model.RunState) (*model.StateUpdate, error) {
	update := &model.StateUpdate{
		RetrievalNum: model.Ptr(state.RetrievalNum + 1),
	}

	found, err := n.oracles.Search(ctx, state.RewrittenQuestion)
	if err != nil {
		// 超时与调用方取消不属于搜索失败
		if errors.Is(err, oracle.ErrTimeout) || ctx.Err() != nil {
			return nil, err
		}
		slog.Error("RetrieveWeb failed, query = %s, attempt = %d, err = %+v", state.RewrittenQuestion, state.RetrievalNum+1, err)
		msg := fmt.Sprintf("Web search failed: %v", err)
		update.SearchErrors = model.Ptr(append(slices.Clone(state.SearchErrors), msg))
		return update, nil
	}

	slog.Debug("RetrieveWeb debug, query = %s, found = %d", state.RewrittenQuestion, len(found))
	update.Documents = model.Ptr(append(slices.Clone(state.Documents), found...))
	return update, nil
}

// FilterDocuments 逐条评估文档相关性，只保留相关文档；没有相关文档时记录查询反馈
func (n *Nodes) FilterDocuments(ctx context.Context, state *model.RunState) (*model.StateUpdate, error) {
	grades, err := n.oracles.GradeEach(ctx, oracle.TaskGradeDocument, state.Question, state.Documents, consts.Yes, consts.No)
	if err != nil {
		return nil, err
	}

	filtered := make([]string, 0, len(state.Documents))
	for i, grade := range grades {
		if grade == consts.Yes {
			filtered = append(filtered, state.Documents[i])
		}
	}
	slog.Debug("FilterDocuments debug, kept %d of %d documents", len(filtered), len(state.Documents))

	update := &model.StateUpdate{Documents: model.Ptr(filtered)}
	if len(filtered) == 0 {
		feedback := fmt.Sprintf("Feedback about the query %q: did not generate any relevant documents.", state.RewrittenQuestion)
		update.QueryFeedbacks = model.Ptr(append(slices.Clone(state.QueryFeedbacks), feedback))
	}
	return update, nil
}

// ExtractKnowledge 从每个文档中抽取与问题相关的知识，丢弃空结果
func (n *Nodes) ExtractKnowledge(ctx context.Context, state *model.RunState) (*model.StateUpdate, error) {
	snippets, err := n.oracles.GradeEach(ctx, oracle.TaskExtractKnowledge, state.Question, state.Documents)
	if err != nil {
		return nil, err
	}

	kept := make([]string, 0, len(snippets))
	for _, s := range snippets {
		if s != "" {
			kept = append(kept, s)
		}
	}
	return &model.StateUpdate{Documents: model.Ptr(kept)}, nil
}

// GenerateAnswer 基于文档与历史反馈生成答案
func (n *Nodes) GenerateAnswer(ctx context.Context, state *model.RunState) (*model.StateUpdate, error) {
	generation, err := n.oracles.Write(ctx, oracle.TaskGenerateAnswer, map[string]any{
		"context":  strings.Join(state.Documents, "\n\n"),
		"question": state.Question,
		"feedback": strings.Join(state.GenerationFeedbacks, "\n"),
	})
	if err != nil {
		return nil, err
	}
	return &model.StateUpdate{
		Generation:    model.Ptr(generation),
		GenerationNum: model.Ptr(state.GenerationNum + 1),
	}, nil
}

// AnswerWithFeedback 对当前答案生成反馈
func (n *Nodes) AnswerWithFeedback(ctx context.Context, state *model.RunState) (*model.StateUpdate, error) {
	critique, err := n.oracles.Write(ctx, oracle.TaskAnswerFeedback, map[string]any{
		"question":   state.Question,
		"documents":  strings.Join(state.Documents, "\n\n"),
		"generation": state.Generation,
	})
	if err != nil {
		return nil, err
	}
	feedback := fmt.Sprintf("Feedback about the answer %q: %s", state.Generation, critique)
	return &model.StateUpdate{
		GenerationFeedbacks: model.Ptr(append(slices.Clone(state.GenerationFeedbacks), feedback)),
	}, nil
}

// QueryWithFeedback 对当前查询生成反馈
func (n *Nodes) QueryWithFeedback(ctx context.Context, state *model.RunState) (*model.StateUpdate, error) {
	critique, err := n.oracles.Write(ctx, oracle.TaskQueryFeedback, map[string]any{
		"question":           state.Question,
		"rewritten_question": state.RewrittenQuestion,
		"documents":          strings.Join(state.Documents, "\n\n"),
		"generation":         state.Generation,
	})
	if err != nil {
		return nil, err
	}
	feedback := fmt.Sprintf("Feedback about the query %q: %s", state.RewrittenQuestion, critique)
	return &model.StateUpdate{
		QueryFeedbacks: model.Ptr(append(slices.Clone(state.QueryFeedbacks), feedback)),
	}, nil
}

// AnswerDirectly 不检索，直接回答
func (n *Nodes) AnswerDirectly(ctx context.Context, state *model.RunState) (*model.StateUpdate, error) {
	answer, err := n.oracles.Write(ctx, oracle.TaskAnswerDirectly, map[string]any{
		"question": state.Question,
	})
	if err != nil {
		return nil, err
	}
	return &model.StateUpdate{
		Generation: model.Ptr(answer),
		SearchMode: model.Ptr(model.ModeQAOnly),
	}, nil
}

// Concede 预算耗尽，给出兜底回答
func (n *Nodes) Concede(ctx context.Context, state *model.RunState) (*model.StateUpdate, error) {
	answer, err := n.oracles.Write(ctx, oracle.TaskConcede, map[string]any{
		"question": state.Question,
	})
	if err != nil {
		return nil, err
	}
	return &model.StateUpdate{Generation: model.Ptr(answer)}, nil
}
