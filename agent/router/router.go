// Package router 根据当前状态选择下一步的路由函数，只读状态不修改状态。
package router

import (
	"context"
	"strings"

	"github.com/HildaM/logs/slog"

	"github.com/hildam/adaptive-rag-go/agent/oracle"
	"github.com/hildam/adaptive-rag-go/entity/consts"
	"github.com/hildam/adaptive-rag-go/entity/model"
)

// Routers 路由集合
type Routers struct {
	oracles *oracle.Oracles
	params  model.AgentParameters
}

// NewRouters 创建实例
func NewRouters(oracles *oracle.Oracles, params model.AgentParameters) *Routers {
	return &Routers{oracles: oracles, params: params}
}

// ClassifyQuestion 起点路由：向量库 / 网络搜索 / 直接回答
func (r *Routers) ClassifyQuestion(ctx context.Context, state *model.RunState) (next string, err error) {
	defer func() {
		slog.Info("ClassifyQuestion info, question = %s, next = %s", state.Question, next)
	}()
	return r.oracles.Decide(ctx, oracle.TaskRouteQuestion,
		map[string]any{"question": state.Question},
		string(model.ModeVectorstore), string(model.ModeWebsearch), string(model.ModeQAOnly))
}

// EvaluateAnswer 先判断答案是否有依据，再判断是否回答了问题
func (r *Routers) EvaluateAnswer(ctx context.Context, state *model.RunState) (next string, err error) {
	defer func() {
		slog.Info("EvaluateAnswer info, generation_num = %d, next = %s", state.GenerationNum, next)
	}()
	exhausted := state.GenerationNum > r.params.MaxGenerations

	grounded, err := r.oracles.Decide(ctx, oracle.TaskGradeHallucination, map[string]any{
		"documents":  strings.Join(state.Documents, "\n\n"),
		"generation": state.Generation,
	}, consts.Yes, consts.No)
	if err != nil {
		return "", err
	}
	if grounded == consts.No {
		if exhausted {
			return consts.LabelExhausted, nil
		}
		return consts.LabelHallucinated, nil
	}

	relevant, err := r.oracles.Decide(ctx, oracle.TaskGradeAnswer, map[string]any{
		"question":   state.Question,
		"generation": state.Generation,
	}, consts.Yes, consts.No)
	if err != nil {
		return "", err
	}
	switch {
	case relevant == consts.Yes:
		return consts.LabelUseful, nil
	case exhausted:
		return consts.LabelExhausted, nil
	default:
		return consts.LabelNotRelevant, nil
	}
}

// PickRetryChannel 反馈后沿原通道重试
func (r *Routers) PickRetryChannel(_ context.Context, state *model.RunState) (string, error) {
	return string(state.SearchMode), nil
}

// ValidateDocuments 根据过滤后的文档与检索次数决定继续、重试、升级或放弃
func (r *Routers) ValidateDocuments(_ context.Context, state *model.RunState) (next string, err error) {
	defer func() {
		slog.Info("ValidateDocuments info, documents = %d, mode = %s, retrieval_num = %d, next = %s",
			len(state.Documents), state.SearchMode, state.RetrievalNum, next)
	}()
	exhausted := state.RetrievalNum > r.params.MaxRetrievals

	switch {
	case len(state.Documents) > 0:
		return consts.LabelHasKnowledge, nil
	case state.SearchMode == model.ModeVectorstore && exhausted:
		return consts.LabelEscalateToWeb, nil
	case state.SearchMode == model.ModeWebsearch && exhausted:
		return consts.LabelGiveUp, nil
	case state.SearchMode == model.ModeWebsearch:
		return consts.LabelRetryWebsearch, nil
	default:
		return consts.LabelRetryVectorstore, nil
	}
}
