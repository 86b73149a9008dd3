// Package service 根据请求配置组装智能体，共享向量库与搜索客户端。
package service

import (
	"context"
	"fmt"

	"github.com/HildaM/logs/slog"
	ecmodel "github.com/cloudwego/eino/components/model"

	"github.com/hildam/adaptive-rag-go/agent"
	"github.com/hildam/adaptive-rag-go/agent/oracle"
	"github.com/hildam/adaptive-rag-go/entity/conf"
	"github.com/hildam/adaptive-rag-go/entity/consts"
	"github.com/hildam/adaptive-rag-go/entity/model"
	"github.com/hildam/adaptive-rag-go/repo/llm"
	"github.com/hildam/adaptive-rag-go/repo/mcp"
	"github.com/hildam/adaptive-rag-go/repo/search"
	"github.com/hildam/adaptive-rag-go/repo/vectorstore"
)

// ModelFactory 根据大模型配置创建生成模型与分类模型
type ModelFactory func(ctx context.Context, cfg model.LLMConfig) (chat, judge ecmodel.BaseChatModel, err error)

// Service 智能体工厂
type Service struct {
	store     *vectorstore.Store
	searcher  oracle.Searcher
	newModels ModelFactory
	mcp       *mcp.Clients
}

// New 创建实例
func New(store *vectorstore.Store, searcher oracle.Searcher, newModels ModelFactory) *Service {
	return &Service{store: store, searcher: searcher, newModels: newModels}
}

// NewFromConfig 根据应用配置创建向量库、网络搜索与模型工厂
func NewFromConfig(ctx context.Context, cfg *conf.AppConfig) (*Service, error) {
	store, err := vectorstore.NewStore(cfg.VectorStore, vectorstore.NewOpenAIEmbedding(cfg.Model.EmbeddingModel))
	if err != nil {
		return nil, fmt.Errorf("create vector store: %w", err)
	}

	s := &Service{store: store, newModels: OpenAIModels(cfg.Model.DefaultModel)}
	switch cfg.Search.Provider {
	case consts.SearchProviderMCP:
		clients, err := mcp.NewClients(ctx, cfg.MCP.Servers)
		if err != nil {
			return nil, err
		}
		t, err := clients.FindSearchTool(ctx, cfg.Search.MCPTool)
		if err != nil {
			clients.Close()
			return nil, err
		}
		s.mcp = clients
		s.searcher = search.NewMCPSearcher(t, t.QueryArgument())
	default:
		tavily, err := search.NewTavily(cfg.Search.Tavily)
		if err != nil {
			// 没有搜索后端时网络搜索会被记录为失败，不影响其他通道
			slog.Error("NewFromConfig failed, create tavily err = %+v", err)
			break
		}
		s.searcher = tavily
	}
	return s, nil
}

// OpenAIModels 使用 OpenAI 兼容接口的模型工厂
func OpenAIModels(m conf.Model) ModelFactory {
	return func(ctx context.Context, cfg model.LLMConfig) (ecmodel.BaseChatModel, ecmodel.BaseChatModel, error) {
		chat, err := llm.NewChatModel(ctx, cfg, m)
		if err != nil {
			return nil, nil, err
		}
		judge, err := llm.NewJudgeModel(ctx, cfg, m)
		if err != nil {
			return nil, nil, err
		}
		return chat, judge, nil
	}
}

// NewAgent 按类型与配置创建智能体，release 用于释放本次运行占用的资源
func (s *Service) NewAgent(ctx context.Context, kind string, cfg model.AgentConfig) (a agent.Agent, release func(), err error) {
	chat, judge, err := s.newModels(ctx, cfg.LLM)
	if err != nil {
		return nil, nil, err
	}
	o, err := llm.NewOracle(chat, judge, cfg.AgentParameters.GraderConcurrency)
	if err != nil {
		return nil, nil, err
	}

	oracles := &oracle.Oracles{
		Classifier: o,
		Generator:  o,
		Grader:     o,
		Searcher:   s.searcher,
		Retriever:  vectorstore.AsOracle(s.store.NewRetriever(cfg.Retriever)),
	}

	switch kind {
	case consts.AgentSimple:
		a, err = agent.NewSimpleAgent(ctx, oracles, cfg.AgentParameters)
	case consts.AgentComplex:
		a, err = agent.NewAdaptiveAgent(oracles, cfg.AgentParameters)
	default:
		err = fmt.Errorf("unknown agent type %q", kind)
	}
	if err != nil {
		o.Release()
		return nil, nil, err
	}
	return a, o.Release, nil
}

// Close 释放共享资源
func (s *Service) Close() {
	if s.mcp != nil {
		s.mcp.Close()
	}
}
