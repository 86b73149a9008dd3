package graph

import (
	"context"
	"fmt"
	"iter"

	"github.com/HildaM/logs/slog"
)

// Runnable 编译后的图，可被多个运行并发使用，本身不持有运行状态
type Runnable[S, U any] struct {
	name     string
	reduce   Reducer[S, U]
	nodes    map[string]NodeFunc[S, U]
	edges    map[string]string
	branches map[string]*Branch[S]
}

// Event 单步执行结果
type Event[U any] struct {
	Step   int    // 从 1 开始
	Node   string // 刚执行的节点
	Update U      // 节点返回的部分更新
}

// StepBudgetError 步数超过上限
type StepBudgetError struct {
	Graph  string
	Budget int
	Node   string // 下一个本应执行的节点
}

func (e *StepBudgetError) Error() string {
	return fmt.Sprintf("graph %s: step budget %d exceeded before node %s", e.Graph, e.Budget, e.Node)
}

// Is 支持 errors.Is(err, ErrStepBudgetExceeded)
func (e *StepBudgetError) Is(target error) bool {
	return target == ErrStepBudgetExceeded
}

// NodeError 节点执行失败
type NodeError struct {
	Node string
	Step int
	Err  error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s (step %d): %v", e.Node, e.Step, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}

// Name 图名称
func (r *Runnable[S, U]) Name() string {
	return r.name
}

// Run 同步执行直到到达 END，返回最终状态
func (r *Runnable[S, U]) Run(ctx context.Context, state S, stepBudget int) (S, error) {
	for _, err := range r.Stream(ctx, state, stepBudget) {
		if err != nil {
			return state, err
		}
	}
	return state, nil
}

// Stream 与 Run 相同的解释器，但每执行完一个节点就产出一次。
// 调用方停止迭代后不再执行任何节点；致命错误作为最后一个元素产出。
func (r *Runnable[S, U]) Stream(ctx context.Context, state S, stepBudget int) iter.Seq2[Event[U], error] {
	return func(yield func(Event[U], error) bool) {
		var zero Event[U]
		if stepBudget < 1 {
			yield(zero, fmt.Errorf("%w: step budget must be positive, got %d", ErrInvalidGraph, stepBudget))
			return
		}

		cur, err := r.next(ctx, START, state)
		if err != nil {
			yield(zero, err)
			return
		}

		step := 0
		for cur != END {
			if err := ctx.Err(); err != nil {
				yield(zero, fmt.Errorf("graph %s canceled before node %s: %w", r.name, cur, err))
				return
			}
			if step >= stepBudget {
				slog.Error("Stream failed, graph = %s, step budget %d exceeded, next node = %s", r.name, stepBudget, cur)
				yield(zero, &StepBudgetError{Graph: r.name, Budget: stepBudget, Node: cur})
				return
			}
			step++

			update, err := r.nodes[cur](ctx, state)
			if err != nil {
				slog.Error("Stream failed, graph = %s, node = %s, step = %d, err = %+v", r.name, cur, step, err)
				yield(zero, &NodeError{Node: cur, Step: step, Err: err})
				return
			}
			r.reduce(state, update)
			slog.Debug("Stream debug, graph = %s, step = %d, node = %s, update = %+v", r.name, step, cur, update)

			if !yield(Event[U]{Step: step, Node: cur, Update: update}, nil) {
				slog.Debug("Stream debug, graph = %s stopped by consumer after node %s", r.name, cur)
				return
			}

			if cur, err = r.next(ctx, cur, state); err != nil {
				yield(zero, err)
				return
			}
		}
	}
}

// next 计算下一个节点：静态边直接跳转，分支则调用路由并查表
func (r *Runnable[S, U]) next(ctx context.Context, from string, state S) (string, error) {
	if to, ok := r.edges[from]; ok {
		return to, nil
	}

	branch, ok := r.branches[from]
	if !ok {
		// Compile 已保证不会出现
		return "", fmt.Errorf("%w: node %q has no outgoing edge", ErrInvalidGraph, from)
	}

	label, err := branch.router(ctx, state)
	if err != nil {
		return "", fmt.Errorf("router %s after %s: %w", branch.name, from, err)
	}
	to, ok := branch.ends[label]
	if !ok {
		slog.Error("next failed, router = %s returned unknown label = %q", branch.name, label)
		return "", fmt.Errorf("%w: router %s returned %q", ErrUnknownLabel, branch.name, label)
	}
	slog.Debug("next debug, router = %s, label = %s, next = %s", branch.name, label, to)
	return to, nil
}
