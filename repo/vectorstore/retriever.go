package vectorstore

import (
	"context"
	"fmt"
	"math"

	"github.com/HildaM/logs/slog"
	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"
	"github.com/philippgille/chromem-go"

	"github.com/hildam/adaptive-rag-go/agent/oracle"
	"github.com/hildam/adaptive-rag-go/entity/consts"
	"github.com/hildam/adaptive-rag-go/entity/model"
)

// Retriever 按检索配置查询某个集合，实现 eino retriever.Retriever
type Retriever struct {
	store *Store
	cfg   model.RetrieverConfig
}

var _ retriever.Retriever = (*Retriever)(nil)

// NewRetriever 创建检索器
func (s *Store) NewRetriever(cfg model.RetrieverConfig) *Retriever {
	return &Retriever{store: s, cfg: cfg}
}

// Retrieve 实现 retriever.Retriever，TopK 与 ScoreThreshold 可以通过选项覆盖
func (r *Retriever) Retrieve(ctx context.Context, query string, opts ...retriever.Option) ([]*schema.Document, error) {
	topK := r.cfg.TopK
	threshold := r.cfg.ScoreThreshold()
	options := retriever.GetCommonOptions(&retriever.Options{TopK: &topK, ScoreThreshold: &threshold}, opts...)
	if options.TopK != nil {
		topK = *options.TopK
	}
	if options.ScoreThreshold != nil {
		threshold = *options.ScoreThreshold
	}

	col, err := r.store.collection(r.cfg.CollectionName)
	if err != nil {
		return nil, err
	}
	count := col.Count()
	if count == 0 || topK < 1 {
		return []*schema.Document{}, nil
	}

	var results []chromem.Result
	switch r.cfg.SearchType {
	case consts.SearchTypeMMR:
		results, err = r.mmr(ctx, col, query, min(topK, count), min(max(r.cfg.FetchK(), topK), count), threshold)
	default:
		results, err = col.Query(ctx, query, min(topK, count), nil, nil)
		results = aboveThreshold(results, threshold)
	}
	if err != nil {
		slog.Error("Retrieve failed, collection = %s, query = %s, err = %+v", r.cfg.CollectionName, query, err)
		return nil, fmt.Errorf("vector search: %w", err)
	}

	docs := make([]*schema.Document, 0, len(results))
	for _, res := range results {
		meta := make(map[string]any, len(res.Metadata))
		for k, v := range res.Metadata {
			meta[k] = v
		}
		doc := &schema.Document{ID: res.ID, Content: res.Content, MetaData: meta}
		docs = append(docs, doc.WithScore(float64(res.Similarity)))
	}
	slog.Debug("Retrieve debug, collection = %s, type = %s, found = %d", r.cfg.CollectionName, r.cfg.SearchType, len(docs))
	return docs, nil
}

// mmr 先取 fetchK 个候选，再按最大边际相关性选出 k 个
func (r *Retriever) mmr(ctx context.Context, col *chromem.Collection, query string, k, fetchK int, threshold float64) ([]chromem.Result, error) {
	queryEmb, err := r.store.embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	candidates, err := col.QueryEmbedding(ctx, queryEmb, fetchK, nil, nil)
	if err != nil {
		return nil, err
	}
	candidates = aboveThreshold(candidates, threshold)
	return selectMMR(candidates, k, r.cfg.LambdaMult()), nil
}

// selectMMR 每轮选择 lambda*相关性 - (1-lambda)*与已选文档的最大相似度 最高的候选
func selectMMR(candidates []chromem.Result, k int, lambda float64) []chromem.Result {
	if k >= len(candidates) {
		return candidates
	}
	selected := make([]chromem.Result, 0, k)
	used := make([]bool, len(candidates))
	for len(selected) < k {
		best, bestScore := -1, math.Inf(-1)
		for i, c := range candidates {
			if used[i] {
				continue
			}
			redundancy := 0.0
			for _, s := range selected {
				redundancy = math.Max(redundancy, cosine(c.Embedding, s.Embedding))
			}
			score := lambda*float64(c.Similarity) - (1-lambda)*redundancy
			if score > bestScore {
				best, bestScore = i, score
			}
		}
		used[best] = true
		selected = append(selected, candidates[best])
	}
	return selected
}

func aboveThreshold(results []chromem.Result, threshold float64) []chromem.Result {
	if threshold <= 0 {
		return results
	}
	kept := results[:0]
	for _, res := range results {
		if float64(res.Similarity) >= threshold {
			kept = append(kept, res)
		}
	}
	return kept
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// oracleRetriever 将 eino 检索器适配为流程使用的检索能力
type oracleRetriever struct {
	r retriever.Retriever
}

// AsOracle 适配为 oracle.Retriever，只保留文档内容
func AsOracle(r retriever.Retriever) oracle.Retriever {
	return &oracleRetriever{r: r}
}

// Retrieve 实现 oracle.Retriever
func (o *oracleRetriever) Retrieve(ctx context.Context, query string) ([]string, error) {
	docs, err := o.r.Retrieve(ctx, query)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.Content)
	}
	return out, nil
}
