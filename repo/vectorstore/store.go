// Package vectorstore 基于 chromem-go 的向量库，支持相似度与 MMR 检索。
package vectorstore

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/HildaM/logs/slog"
	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"

	"github.com/hildam/adaptive-rag-go/entity/conf"
)

// Document 写入向量库的文档
type Document struct {
	ID       string
	Content  string
	Metadata map[string]string
}

// Store 向量库
type Store struct {
	db    *chromem.DB
	embed chromem.EmbeddingFunc

	mu          sync.RWMutex
	collections map[string]*chromem.Collection // 集合缓存
}

// NewOpenAIEmbedding 创建 OpenAI 兼容的向量化函数
func NewOpenAIEmbedding(m conf.Model) chromem.EmbeddingFunc {
	return chromem.NewEmbeddingFuncOpenAICompat(m.BaseURL, m.APIKey, m.ModelID, nil)
}

// NewStore 创建向量库，persist_path 为空时只在内存中
func NewStore(cfg conf.VectorStoreConfig, embed chromem.EmbeddingFunc) (*Store, error) {
	var (
		db  *chromem.DB
		err error
	)
	if cfg.PersistPath == "" {
		db = chromem.NewDB()
		slog.Info("NewStore info, created in-memory vector database")
	} else {
		if err = os.MkdirAll(cfg.PersistPath, 0o755); err != nil {
			return nil, fmt.Errorf("create persist directory: %w", err)
		}
		db, err = chromem.NewPersistentDB(cfg.PersistPath, cfg.Compress)
		if err != nil {
			slog.Error("NewStore failed, load persistent db err = %+v, path = %s", err, cfg.PersistPath)
			return nil, err
		}
		slog.Info("NewStore info, loaded vector database, path = %s", cfg.PersistPath)
	}

	return &Store{
		db:          db,
		embed:       embed,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

// collection 获取或创建集合
func (s *Store) collection(name string) (*chromem.Collection, error) {
	s.mu.RLock()
	if col, ok := s.collections[name]; ok {
		s.mu.RUnlock()
		return col, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if col, ok := s.collections[name]; ok {
		return col, nil
	}
	col, err := s.db.GetOrCreateCollection(name, nil, s.embed)
	if err != nil {
		return nil, fmt.Errorf("get or create collection %q: %w", name, err)
	}
	s.collections[name] = col
	return col, nil
}

// AddDocuments 写入文档，未指定 ID 时自动生成
func (s *Store) AddDocuments(ctx context.Context, collection string, docs []Document) error {
	col, err := s.collection(collection)
	if err != nil {
		return err
	}

	cdocs := make([]chromem.Document, 0, len(docs))
	for _, d := range docs {
		id := d.ID
		if id == "" {
			id = uuid.NewString()
		}
		cdocs = append(cdocs, chromem.Document{ID: id, Content: d.Content, Metadata: d.Metadata})
	}
	if err = col.AddDocuments(ctx, cdocs, runtime.NumCPU()); err != nil {
		slog.Error("AddDocuments failed, collection = %s, err = %+v", collection, err)
		return fmt.Errorf("add documents: %w", err)
	}
	return nil
}

// Count 集合中的文档数量
func (s *Store) Count(collection string) (int, error) {
	col, err := s.collection(collection)
	if err != nil {
		return 0, err
	}
	return col.Count(), nil
}
