// Package biz 实现金融知识检索的业务层：查询重写、向量检索、
// LLM 重排序、文档入库与结果缓存。
package biz

import (
	"context"

	"github.com/kart-io/logger"

	"github.com/kart-io/finrag/internal/finrag/store"
)

// Service 检索服务对外能力。
type Service interface {
	// Retrieve 执行一次检索，优先命中缓存。
	Retrieve(ctx context.Context, query string, cfg RetrieveConfig) (*RetrieveResult, error)

	// IngestFile 将文档文件入库。
	IngestFile(ctx context.Context, path string) (*IngestReport, error)

	// IngestTexts 手动录入一批文本。
	IngestTexts(ctx context.Context, texts []string, source string) (*IngestReport, error)

	// Rewrite 重写查询，失败时退化为原始查询。
	Rewrite(ctx context.Context, query, strategy string) *RewriteResult

	// AnalyzeIntent 分析查询意图。
	AnalyzeIntent(query string) *Intent

	// Stats 返回知识库与检索缓存的统计信息。
	Stats(ctx context.Context) (*ServiceStats, error)

	// Clear 清空知识库及检索缓存。
	Clear(ctx context.Context) error
}

// ServiceStats 知识库与缓存的汇总统计。
type ServiceStats struct {
	KnowledgeBase *store.Stats           `json:"knowledge_base"`
	Cache         map[string]interface{} `json:"cache"`
}

type retrievalService struct {
	coordinator *Coordinator
	indexer     *Indexer
	rewriter    *QueryRewriter
	cache       *QueryCache
	store       store.VectorStore
}

// NewService 组装检索服务。cache 可为 nil，表示不启用缓存。
func NewService(coordinator *Coordinator, indexer *Indexer, rewriter *QueryRewriter, cache *QueryCache, vs store.VectorStore) Service {
	if cache == nil {
		cache = NewQueryCache(nil, nil)
	}
	return &retrievalService{
		coordinator: coordinator,
		indexer:     indexer,
		rewriter:    rewriter,
		cache:       cache,
		store:       vs,
	}
}

func (s *retrievalService) Retrieve(ctx context.Context, query string, cfg RetrieveConfig) (*RetrieveResult, error) {
	// 缓存读取失败只降级为直查，不影响检索本身。
	if cached, err := s.cache.Get(ctx, query, cfg); err == nil && cached != nil {
		return cached, nil
	}

	result, err := s.coordinator.Retrieve(ctx, query, cfg)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, query, cfg, result); err != nil {
		logger.Warnw("检索结果写入缓存失败", "query", query, "error", err.Error())
	}
	return result, nil
}

func (s *retrievalService) IngestFile(ctx context.Context, path string) (*IngestReport, error) {
	report, err := s.indexer.IngestFile(ctx, path)
	if err != nil {
		return nil, err
	}
	s.invalidateCache(ctx, report)
	return report, nil
}

func (s *retrievalService) IngestTexts(ctx context.Context, texts []string, source string) (*IngestReport, error) {
	report, err := s.indexer.IngestTexts(ctx, texts, source)
	if err != nil {
		return nil, err
	}
	s.invalidateCache(ctx, report)
	return report, nil
}

// invalidateCache 知识库有新增内容时清空检索缓存。
func (s *retrievalService) invalidateCache(ctx context.Context, report *IngestReport) {
	if report.Inserted == 0 {
		return
	}
	if err := s.cache.Clear(ctx); err != nil {
		logger.Warnw("入库后清理检索缓存失败", "error", err.Error())
	}
}

func (s *retrievalService) Rewrite(ctx context.Context, query, strategy string) *RewriteResult {
	return s.rewriter.Rewrite(ctx, query, strategy)
}

func (s *retrievalService) AnalyzeIntent(query string) *Intent {
	return s.rewriter.AnalyzeIntent(query)
}

func (s *retrievalService) Stats(ctx context.Context) (*ServiceStats, error) {
	kb, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}

	// 缓存统计失败不影响知识库统计的返回。
	cacheStats, err := s.cache.GetStats(ctx)
	if err != nil {
		logger.Warnw("获取缓存统计失败", "error", err.Error())
		cacheStats = map[string]interface{}{"enabled": true, "error": err.Error()}
	}

	return &ServiceStats{KnowledgeBase: kb, Cache: cacheStats}, nil
}

func (s *retrievalService) Clear(ctx context.Context) error {
	if err := s.store.Clear(ctx); err != nil {
		return err
	}
	if err := s.cache.Clear(ctx); err != nil {
		logger.Warnw("清空知识库后清理检索缓存失败", "error", err.Error())
	}
	return nil
}
