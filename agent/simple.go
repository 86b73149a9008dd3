package agent

import (
	"context"
	"errors"
	"iter"
	"slices"
	"strings"

	"github.com/HildaM/logs/slog"
	"github.com/cloudwego/eino/compose"

	"github.com/hildam/adaptive-rag-go/agent/oracle"
	"github.com/hildam/adaptive-rag-go/entity/consts"
	"github.com/hildam/adaptive-rag-go/entity/model"
	"github.com/hildam/adaptive-rag-go/repo/callback"
)

// errStopped 调用方停止消费流式输出
var errStopped = errors.New("stream stopped by consumer")

type emitterKey struct{}

// emitter 每个节点执行完成后调用，返回 false 表示停止
type emitter func(step Step) bool

// simpleAgent 线性 RAG：retrieve -> generate
type simpleAgent struct {
	oracles  *oracle.Oracles
	runnable compose.Runnable[string, string]
}

// NewSimpleAgent 创建线性智能体
func NewSimpleAgent(ctx context.Context, oracles *oracle.Oracles, params model.AgentParameters) (*simpleAgent, error) {
	if params.OracleTimeout > 0 {
		oracles = oracles.WithTimeout(params.OracleTimeout)
	}
	a := &simpleAgent{oracles: oracles}

	// 每次运行生成独立的状态
	graph := compose.NewGraph[string, string](
		compose.WithGenLocalState(func(ctx context.Context) *model.RunState {
			return model.NewRunState("")
		}),
	)

	_ = graph.AddLambdaNode(consts.SimpleRetrieve, compose.InvokableLambda(a.retrieve), compose.WithNodeName(consts.SimpleRetrieve))
	_ = graph.AddLambdaNode(consts.SimpleGenerate, compose.InvokableLambda(a.generate), compose.WithNodeName(consts.SimpleGenerate))

	_ = graph.AddEdge(compose.START, consts.SimpleRetrieve)
	_ = graph.AddEdge(consts.SimpleRetrieve, consts.SimpleGenerate)
	_ = graph.AddEdge(consts.SimpleGenerate, compose.END)

	opts := []compose.GraphCompileOption{compose.WithGraphName(consts.SimpleGraphName)}
	if params.StepBudget > 0 {
		opts = append(opts, compose.WithMaxRunSteps(params.StepBudget))
	}
	runnable, err := graph.Compile(ctx, opts...)
	if err != nil {
		slog.Error("NewSimpleAgent failed, compile err = %v", err)
		return nil, err
	}
	a.runnable = runnable
	return a, nil
}

// retrieve 直接使用原始问题检索
func (a *simpleAgent) retrieve(ctx context.Context, question string) (*model.StateUpdate, error) {
	found, err := a.oracles.Retrieve(ctx, question)
	if err != nil {
		return nil, err
	}
	var update *model.StateUpdate
	err = compose.ProcessState[*model.RunState](ctx, func(_ context.Context, state *model.RunState) error {
		state.Question = question
		update = &model.StateUpdate{
			Documents:    model.Ptr(append(slices.Clone(state.Documents), found...)),
			RetrievalNum: model.Ptr(state.RetrievalNum + 1),
		}
		state.Apply(update)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return update, emit(ctx, Step{Step: 1, Node: consts.SimpleRetrieve, Update: update})
}

// generate 基于检索结果生成答案
func (a *simpleAgent) generate(ctx context.Context, _ *model.StateUpdate) (string, error) {
	var vars map[string]any
	_ = compose.ProcessState[*model.RunState](ctx, func(_ context.Context, state *model.RunState) error {
		vars = map[string]any{
			"context":  strings.Join(state.Documents, "\n\n"),
			"question": state.Question,
			"feedback": "",
		}
		return nil
	})

	generation, err := a.oracles.Write(ctx, oracle.TaskGenerateAnswer, vars)
	if err != nil {
		return "", err
	}
	update := &model.StateUpdate{
		Generation:    model.Ptr(generation),
		GenerationNum: model.Ptr(1),
	}
	_ = compose.ProcessState[*model.RunState](ctx, func(_ context.Context, state *model.RunState) error {
		state.Apply(update)
		return nil
	})
	return generation, emit(ctx, Step{Step: 2, Node: consts.SimpleGenerate, Update: update})
}

// Invoke 实现 Agent
func (a *simpleAgent) Invoke(ctx context.Context, question string) (string, error) {
	return a.runnable.Invoke(ctx, question, compose.WithCallbacks(callback.NewLoggerHandler(consts.SimpleGraphName)))
}

// Stream 实现 Agent
func (a *simpleAgent) Stream(ctx context.Context, question string) iter.Seq2[Step, error] {
	return func(yield func(Step, error) bool) {
		stopped := false
		runCtx := context.WithValue(ctx, emitterKey{}, emitter(func(step Step) bool {
			if stopped {
				return false
			}
			stopped = !yield(step, nil)
			return !stopped
		}))

		_, err := a.Invoke(runCtx, question)
		if err != nil && !stopped && !errors.Is(err, errStopped) {
			yield(Step{}, err)
		}
	}
}

// emit 流式模式下推送单步事件
func emit(ctx context.Context, step Step) error {
	fn, ok := ctx.Value(emitterKey{}).(emitter)
	if !ok {
		return nil
	}
	if !fn(step) {
		return errStopped
	}
	return nil
}
