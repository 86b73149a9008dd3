// Package handler 问答 HTTP 接口。
package handler

import (
	"context"
	"strings"

	"github.com/HildaM/logs/slog"
	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/cloudwego/hertz/pkg/protocol/sse"
	"github.com/cloudwego/hertz/pkg/route"
	"github.com/google/uuid"

	"github.com/hildam/adaptive-rag-go/agent"
	rconsts "github.com/hildam/adaptive-rag-go/entity/consts"
	"github.com/hildam/adaptive-rag-go/entity/model"
	"github.com/hildam/adaptive-rag-go/repo/callback"
)

// AgentFactory 按类型与配置创建智能体
type AgentFactory interface {
	NewAgent(ctx context.Context, kind string, cfg model.AgentConfig) (agent.Agent, func(), error)
}

// Handler 问答接口
type Handler struct {
	factory  AgentFactory
	defaults func() model.AgentConfig // 请求配置的默认值，支持热更新
}

// NewHandler 创建实例
func NewHandler(factory AgentFactory, defaults func() model.AgentConfig) *Handler {
	return &Handler{factory: factory, defaults: defaults}
}

// Register 注册路由
func (h *Handler) Register(r route.IRoutes) {
	r.POST("/agent/simple", h.Simple)
	r.POST("/agent/complex", h.Complex)
	r.GET("/healthz", h.Healthz)
}

// Simple 线性 RAG 问答
func (h *Handler) Simple(ctx context.Context, c *app.RequestContext) {
	h.ask(ctx, c, rconsts.AgentSimple)
}

// Complex 自适应 RAG 问答
func (h *Handler) Complex(ctx context.Context, c *app.RequestContext) {
	h.ask(ctx, c, rconsts.AgentComplex)
}

// Healthz 健康检查
func (h *Handler) Healthz(_ context.Context, c *app.RequestContext) {
	c.JSON(consts.StatusOK, utils.H{"status": "ok"})
}

// ask 解析请求、合并配置并执行
func (h *Handler) ask(ctx context.Context, c *app.RequestContext, kind string) {
	var req model.AskReq
	if err := c.BindJSON(&req); err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "invalid request body: " + err.Error()})
		return
	}
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "question is required"})
		return
	}

	cfg, err := model.MergeAgentConfig(h.defaults(), req.Config)
	if err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": err.Error()})
		return
	}

	a, release, err := h.factory.NewAgent(ctx, kind, cfg)
	if err != nil {
		slog.Error("ask failed, create agent err = %+v, kind = %s", err, kind)
		c.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
		return
	}
	defer release()

	runID := uuid.New().String()
	slog.Info("ask info, run_id = %s, agent = %s, stream = %v, question = %s", runID, kind, req.Stream, req.Question)

	if !req.Stream {
		answer, err := a.Invoke(ctx, req.Question)
		if err != nil {
			slog.Error("ask failed, run_id = %s, err = %+v", runID, err)
			c.JSON(consts.StatusInternalServerError, utils.H{"run_id": runID, "error": err.Error()})
			return
		}
		c.JSON(consts.StatusOK, &model.AskResp{RunID: runID, Answer: answer})
		return
	}

	w := sse.NewWriter(c)
	defer w.Close()
	pusher := &callback.StepPusher{RunID: runID, Agent: kind, SSE: w}
	if _, err = StreamRun(ctx, a, req.Question, pusher); err != nil {
		slog.Error("ask failed, stream run_id = %s, err = %+v", runID, err)
	}
}

// StreamRun 执行智能体并逐步推送事件，成功时最后推送一条答案事件，失败时推送错误事件
func StreamRun(ctx context.Context, a agent.Agent, question string, pusher *callback.StepPusher) (string, error) {
	answer := ""
	for step, err := range a.Stream(ctx, question) {
		if err != nil {
			_ = pusher.Push(callback.EventError, &model.StepResp{Error: err.Error()})
			return "", err
		}
		if step.Update != nil && step.Update.Generation != nil {
			answer = *step.Update.Generation
		}
		// 推送失败说明客户端已断开，停止运行
		if err = pusher.Push(callback.EventStep, &model.StepResp{Node: step.Node, Step: step.Step, Update: step.Update}); err != nil {
			return "", err
		}
	}
	return answer, pusher.Push(callback.EventAnswer, &model.StepResp{Answer: answer})
}
