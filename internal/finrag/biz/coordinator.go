package biz

import (
	"context"
	"strings"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/finrag/internal/finrag/store"
	"github.com/kart-io/finrag/pkg/errors"
	"github.com/kart-io/finrag/pkg/llm"
)

// 默认返回条数。
const defaultTopK = 5

// 重排序候选集上限，避免候选过多拖慢 LLM 评分。
const maxRerankCandidates = 50

// RetrieveConfig 单次检索的行为配置。
type RetrieveConfig struct {
	// TopK 最终返回条数，非正数时取默认值。
	TopK int `json:"top_k"`
	// UseReranking 是否启用 LLM 重排序。
	UseReranking bool `json:"use_reranking"`
	// UseQueryRewrite 是否启用查询重写。
	UseQueryRewrite bool `json:"use_query_rewrite"`
	// CollapseToParentPage 是否按页去重。
	CollapseToParentPage bool `json:"collapse_to_parent_page"`
}

// RetrieveResult 检索结果。
type RetrieveResult struct {
	// OriginalQuery 用户原始查询。
	OriginalQuery string `json:"original_query"`
	// SearchQuery 实际用于向量检索的查询。
	SearchQuery string `json:"search_query"`
	// RewrittenQueries 重写产出的全部版本，未启用重写时为空。
	RewrittenQueries []string `json:"rewritten_queries,omitempty"`
	// Hits 最终命中列表。
	Hits []RerankedHit `json:"hits"`
	// Count 命中条数。
	Count int `json:"count"`
	// Reranked 本次结果是否经过 LLM 重排序。
	Reranked bool `json:"reranked"`
	// ElapsedMs 检索耗时，毫秒。
	ElapsedMs int64 `json:"elapsed_ms"`
}

// Coordinator 编排检索流水线：重写 -> 嵌入 -> 向量检索 -> 页去重 -> 重排序。
// 无状态，单个实例可并发使用。
type Coordinator struct {
	store    store.VectorStore
	embedder llm.EmbeddingProvider
	rewriter *QueryRewriter
	reranker *Reranker
}

// NewCoordinator 创建检索协调器。
func NewCoordinator(vs store.VectorStore, embedder llm.EmbeddingProvider, rewriter *QueryRewriter, reranker *Reranker) *Coordinator {
	return &Coordinator{
		store:    vs,
		embedder: embedder,
		rewriter: rewriter,
		reranker: reranker,
	}
}

// Retrieve 执行一次完整检索。空查询返回校验错误；
// 重写和重排序的失败不会中断流水线，嵌入或向量检索失败会。
func (c *Coordinator) Retrieve(ctx context.Context, query string, cfg RetrieveConfig) (*RetrieveResult, error) {
	start := time.Now()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.ErrEmptyQuery
	}
	if cfg.TopK <= 0 {
		cfg.TopK = defaultTopK
	}

	result := &RetrieveResult{
		OriginalQuery: query,
		SearchQuery:   query,
	}

	if cfg.UseQueryRewrite && c.rewriter != nil {
		rewrite := c.rewriter.Rewrite(ctx, query, StrategyAuto)
		if rewrite.Success {
			// 取第一个重写版本检索，原始查询保留用于追溯。
			result.SearchQuery = rewrite.RewrittenQueries[0]
			result.RewrittenQueries = rewrite.RewrittenQueries
		}
	}

	embedding, err := c.embedder.EmbedSingle(ctx, result.SearchQuery)
	if err != nil {
		return nil, errors.ErrEmbeddingFailed.WithCause(err)
	}

	candidates := cfg.TopK
	if cfg.UseReranking {
		candidates = cfg.TopK * 2
		if candidates > maxRerankCandidates {
			candidates = maxRerankCandidates
		}
	}

	hits, err := c.store.Search(ctx, embedding, candidates, cfg.CollapseToParentPage)
	if err != nil {
		return nil, errors.ErrRetrievalFailed.WithCause(err)
	}

	if cfg.UseReranking && c.reranker != nil {
		result.Hits = c.reranker.Rerank(ctx, query, hits)
		result.Reranked = true
	} else {
		result.Hits = toRerankedHits(hits)
	}
	if len(result.Hits) > cfg.TopK {
		result.Hits = result.Hits[:cfg.TopK]
	}

	result.Count = len(result.Hits)
	result.ElapsedMs = time.Since(start).Milliseconds()

	logger.Infow("检索完成",
		"query", query,
		"search_query", result.SearchQuery,
		"candidates", candidates,
		"count", result.Count,
		"reranked", result.Reranked,
		"elapsed_ms", result.ElapsedMs,
	)
	return result, nil
}

// toRerankedHits 不经重排序时的命中转换，融合得分只含向量相似度分量。
func toRerankedHits(hits []store.SearchHit) []RerankedHit {
	out := make([]RerankedHit, len(hits))
	for i, hit := range hits {
		out[i] = RerankedHit{
			SearchHit:     hit,
			CombinedScore: round4(clamp01(1 - float64(hit.Distance))),
		}
	}
	return out
}
