package agent

import (
	"context"
	"fmt"
	"iter"

	"github.com/HildaM/logs/slog"

	"github.com/hildam/adaptive-rag-go/agent/graph"
	"github.com/hildam/adaptive-rag-go/agent/nodes"
	"github.com/hildam/adaptive-rag-go/agent/oracle"
	"github.com/hildam/adaptive-rag-go/agent/router"
	"github.com/hildam/adaptive-rag-go/entity/consts"
	"github.com/hildam/adaptive-rag-go/entity/model"
)

// Step 流式输出中的单步事件
type Step = graph.Event[*model.StateUpdate]

// Agent 问答智能体
type Agent interface {
	// Invoke 同步执行，返回最终答案
	Invoke(ctx context.Context, question string) (string, error)
	// Stream 每执行完一个节点产出一次状态增量，致命错误作为最后一个元素
	Stream(ctx context.Context, question string) iter.Seq2[Step, error]
}

// adaptiveAgent 自适应 RAG 智能体
type adaptiveAgent struct {
	runnable   *graph.Runnable[*model.RunState, *model.StateUpdate]
	stepBudget int
}

// NewAdaptiveAgent 创建自适应智能体，oracles 可以在多个智能体之间共享
func NewAdaptiveAgent(oracles *oracle.Oracles, params model.AgentParameters) (*adaptiveAgent, error) {
	if params.OracleTimeout > 0 {
		oracles = oracles.WithTimeout(params.OracleTimeout)
	}
	runnable, err := BuildAdaptiveGraph(oracles, params)
	if err != nil {
		return nil, err
	}
	return &adaptiveAgent{runnable: runnable, stepBudget: params.StepBudget}, nil
}

// BuildAdaptiveGraph 构建自适应 RAG 图
func BuildAdaptiveGraph(oracles *oracle.Oracles, params model.AgentParameters) (*graph.Runnable[*model.RunState, *model.StateUpdate], error) {
	n := nodes.NewNodes(oracles)
	r := router.NewRouters(oracles, params)

	g := graph.NewGraph[*model.RunState, *model.StateUpdate](consts.GraphName, (*model.RunState).Apply)

	// 定义节点实例映射，确保节点名字与实例严格对应
	nodeInstances := map[string]graph.NodeFunc[*model.RunState, *model.StateUpdate]{
		consts.RewriteForStore:    n.RewriteForStore,
		consts.RewriteForWeb:      n.RewriteForWeb,
		consts.RetrieveStore:      n.RetrieveStore,
		consts.RetrieveWeb:        n.RetrieveWeb,
		consts.FilterDocuments:    n.FilterDocuments,
		consts.ExtractKnowledge:   n.ExtractKnowledge,
		consts.GenerateAnswer:     n.GenerateAnswer,
		consts.AnswerWithFeedback: n.AnswerWithFeedback,
		consts.QueryWithFeedback:  n.QueryWithFeedback,
		consts.AnswerDirectly:     n.AnswerDirectly,
		consts.Concede:            n.Concede,
	}
	for _, name := range consts.GetNodeNameList() {
		fn, ok := nodeInstances[name]
		if !ok {
			return nil, fmt.Errorf("node %s has no implementation", name)
		}
		_ = g.AddNode(name, fn)
	}

	// 起点：问题分类
	_ = g.AddBranch(graph.START, graph.NewBranch(consts.ClassifyQuestion, r.ClassifyQuestion, map[string]string{
		string(model.ModeVectorstore): consts.RewriteForStore,
		string(model.ModeWebsearch):   consts.RewriteForWeb,
		string(model.ModeQAOnly):      consts.AnswerDirectly,
	}))

	// 检索链路
	_ = g.AddEdge(consts.RewriteForStore, consts.RetrieveStore)
	_ = g.AddEdge(consts.RetrieveStore, consts.FilterDocuments)
	_ = g.AddEdge(consts.RewriteForWeb, consts.RetrieveWeb)
	_ = g.AddEdge(consts.RetrieveWeb, consts.FilterDocuments)
	_ = g.AddBranch(consts.FilterDocuments, graph.NewBranch(consts.ValidateDocuments, r.ValidateDocuments, map[string]string{
		consts.LabelHasKnowledge:     consts.ExtractKnowledge,
		consts.LabelRetryVectorstore: consts.RewriteForStore,
		consts.LabelRetryWebsearch:   consts.RewriteForWeb,
		consts.LabelEscalateToWeb:    consts.RewriteForWeb,
		consts.LabelGiveUp:           consts.Concede,
	}))

	// 生成链路
	_ = g.AddEdge(consts.ExtractKnowledge, consts.GenerateAnswer)
	_ = g.AddBranch(consts.GenerateAnswer, graph.NewBranch(consts.EvaluateAnswer, r.EvaluateAnswer, map[string]string{
		consts.LabelUseful:       graph.END,
		consts.LabelNotRelevant:  consts.QueryWithFeedback,
		consts.LabelHallucinated: consts.AnswerWithFeedback,
		consts.LabelExhausted:    consts.Concede,
	}))
	_ = g.AddBranch(consts.QueryWithFeedback, graph.NewBranch(consts.PickRetryChannel, r.PickRetryChannel, map[string]string{
		string(model.ModeVectorstore): consts.RewriteForStore,
		string(model.ModeWebsearch):   consts.RewriteForWeb,
	}))
	_ = g.AddEdge(consts.AnswerWithFeedback, consts.GenerateAnswer)

	// 终点
	_ = g.AddEdge(consts.AnswerDirectly, graph.END)
	_ = g.AddEdge(consts.Concede, graph.END)

	// 编译图
	runnable, err := g.Compile()
	if err != nil {
		slog.Error("BuildAdaptiveGraph failed, err = %v", err)
		return nil, err
	}
	return runnable, nil
}

// Run 执行并返回最终状态
func (a *adaptiveAgent) Run(ctx context.Context, question string) (*model.RunState, error) {
	return a.runnable.Run(ctx, model.NewRunState(question), a.stepBudget)
}

// Invoke 实现 Agent
func (a *adaptiveAgent) Invoke(ctx context.Context, question string) (string, error) {
	state, err := a.Run(ctx, question)
	if err != nil {
		return "", err
	}
	return state.Generation, nil
}

// Stream 实现 Agent
// 每次遍历都使用新的运行状态
func (a *adaptiveAgent) Stream(ctx context.Context, question string) iter.Seq2[Step, error] {
	return func(yield func(Step, error) bool) {
		for step, err := range a.runnable.Stream(ctx, model.NewRunState(question), a.stepBudget) {
			if !yield(step, err) {
				return
			}
		}
	}
}
