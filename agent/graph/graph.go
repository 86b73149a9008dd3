// Package graph 一个最小的状态机解释器：节点表 + 静态边 + 条件分支，
// 单线程按步执行并由引擎自身强制步数上限。
package graph

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
)

const (
	START = "__start__" // 虚拟起点
	END   = "__end__"   // 虚拟终点
)

var (
	// ErrStepBudgetExceeded 步数超过上限
	ErrStepBudgetExceeded = errors.New("step budget exceeded")
	// ErrUnknownLabel 路由返回了分支表中不存在的标签
	ErrUnknownLabel = errors.New("router returned unknown label")
	// ErrInvalidGraph 图结构非法
	ErrInvalidGraph = errors.New("invalid graph")
)

// NodeFunc 节点函数，读取状态并返回部分更新
type NodeFunc[S, U any] func(ctx context.Context, state S) (U, error)

// RouterFunc 路由函数，读取状态并返回标签，不允许修改状态
type RouterFunc[S any] func(ctx context.Context, state S) (string, error)

// Reducer 将部分更新应用到状态上
type Reducer[S, U any] func(state S, update U)

// Branch 条件分支：路由函数 + 标签到节点的映射
type Branch[S any] struct {
	name   string
	router RouterFunc[S]
	ends   map[string]string
}

// NewBranch 创建条件分支
func NewBranch[S any](name string, router RouterFunc[S], ends map[string]string) *Branch[S] {
	return &Branch[S]{name: name, router: router, ends: maps.Clone(ends)}
}

// Name 分支名称
func (b *Branch[S]) Name() string {
	return b.name
}

// Graph 构建期的图，Compile 之后得到不可变的 Runnable
type Graph[S, U any] struct {
	name     string
	reduce   Reducer[S, U]
	nodes    map[string]NodeFunc[S, U]
	edges    map[string]string
	branches map[string]*Branch[S]
	errs     []error
}

// NewGraph 创建图
func NewGraph[S, U any](name string, reduce Reducer[S, U]) *Graph[S, U] {
	return &Graph[S, U]{
		name:     name,
		reduce:   reduce,
		nodes:    make(map[string]NodeFunc[S, U]),
		edges:    make(map[string]string),
		branches: make(map[string]*Branch[S]),
	}
}

// AddNode 注册节点
func (g *Graph[S, U]) AddNode(name string, fn NodeFunc[S, U]) error {
	switch {
	case name == "" || name == START || name == END:
		return g.fail(fmt.Errorf("%w: reserved or empty node name %q", ErrInvalidGraph, name))
	case fn == nil:
		return g.fail(fmt.Errorf("%w: node %q has nil func", ErrInvalidGraph, name))
	}
	if _, ok := g.nodes[name]; ok {
		return g.fail(fmt.Errorf("%w: node %q registered twice", ErrInvalidGraph, name))
	}
	g.nodes[name] = fn
	return nil
}

// AddEdge 添加静态边，每个节点只能有一条出边或一个分支
func (g *Graph[S, U]) AddEdge(from, to string) error {
	if err := g.checkOutgoing(from); err != nil {
		return g.fail(err)
	}
	g.edges[from] = to
	return nil
}

// AddBranch 为节点添加条件分支
func (g *Graph[S, U]) AddBranch(from string, branch *Branch[S]) error {
	if branch == nil || branch.router == nil || len(branch.ends) == 0 {
		return g.fail(fmt.Errorf("%w: empty branch after %q", ErrInvalidGraph, from))
	}
	if err := g.checkOutgoing(from); err != nil {
		return g.fail(err)
	}
	g.branches[from] = branch
	return nil
}

func (g *Graph[S, U]) checkOutgoing(from string) error {
	if from == END {
		return fmt.Errorf("%w: END has no outgoing edge", ErrInvalidGraph)
	}
	_, hasEdge := g.edges[from]
	_, hasBranch := g.branches[from]
	if hasEdge || hasBranch {
		return fmt.Errorf("%w: node %q already has an outgoing edge", ErrInvalidGraph, from)
	}
	return nil
}

func (g *Graph[S, U]) fail(err error) error {
	g.errs = append(g.errs, err)
	return err
}

// Compile 校验拓扑并生成可执行实例
func (g *Graph[S, U]) Compile() (*Runnable[S, U], error) {
	if len(g.errs) > 0 {
		return nil, errors.Join(g.errs...)
	}
	if g.reduce == nil {
		return nil, fmt.Errorf("%w: graph %q has no reducer", ErrInvalidGraph, g.name)
	}

	var errs []error
	exists := func(name string) bool {
		_, ok := g.nodes[name]
		return ok || name == END
	}

	// 起点必须有出边
	_, hasEdge := g.edges[START]
	_, hasBranch := g.branches[START]
	if !hasEdge && !hasBranch {
		errs = append(errs, fmt.Errorf("%w: no entry from START", ErrInvalidGraph))
	}

	// 每个节点必须有出边
	for _, name := range slices.Sorted(maps.Keys(g.nodes)) {
		_, hasEdge := g.edges[name]
		_, hasBranch := g.branches[name]
		if !hasEdge && !hasBranch {
			errs = append(errs, fmt.Errorf("%w: node %q has no outgoing edge", ErrInvalidGraph, name))
		}
	}

	// 所有目标必须存在
	for from, to := range g.edges {
		if from != START && !exists(from) {
			errs = append(errs, fmt.Errorf("%w: edge from unknown node %q", ErrInvalidGraph, from))
		}
		if !exists(to) {
			errs = append(errs, fmt.Errorf("%w: edge %q -> unknown node %q", ErrInvalidGraph, from, to))
		}
	}
	for from, branch := range g.branches {
		if from != START && !exists(from) {
			errs = append(errs, fmt.Errorf("%w: branch %q from unknown node %q", ErrInvalidGraph, branch.name, from))
		}
		for label, to := range branch.ends {
			if !exists(to) {
				errs = append(errs, fmt.Errorf("%w: branch %q label %q -> unknown node %q", ErrInvalidGraph, branch.name, label, to))
			}
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return &Runnable[S, U]{
		name:     g.name,
		reduce:   g.reduce,
		nodes:    maps.Clone(g.nodes),
		edges:    maps.Clone(g.edges),
		branches: maps.Clone(g.branches),
	}, nil
}
