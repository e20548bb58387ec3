package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/finrag/internal/finrag/biz"
	"github.com/kart-io/finrag/internal/finrag/store"
	"github.com/kart-io/finrag/pkg/errors"
)

// fakeService 返回预设结果的检索服务。
type fakeService struct {
	retrieveResult *biz.RetrieveResult
	retrieveErr    error
	lastConfig     biz.RetrieveConfig
	clearCalled    bool
}

func (f *fakeService) Retrieve(ctx context.Context, query string, cfg biz.RetrieveConfig) (*biz.RetrieveResult, error) {
	f.lastConfig = cfg
	if f.retrieveErr != nil {
		return nil, f.retrieveErr
	}
	return f.retrieveResult, nil
}

func (f *fakeService) IngestFile(ctx context.Context, path string) (*biz.IngestReport, error) {
	return &biz.IngestReport{Source: path, Inserted: 1, TotalChunks: 1}, nil
}

func (f *fakeService) IngestTexts(ctx context.Context, texts []string, source string) (*biz.IngestReport, error) {
	return &biz.IngestReport{Source: source, Inserted: len(texts), TotalChunks: len(texts)}, nil
}

func (f *fakeService) Rewrite(ctx context.Context, query, strategy string) *biz.RewriteResult {
	return &biz.RewriteResult{OriginalQuery: query, RewrittenQueries: []string{query}, Strategy: strategy}
}

func (f *fakeService) AnalyzeIntent(query string) *biz.Intent {
	return &biz.Intent{Type: "general", Confidence: 0.5}
}

func (f *fakeService) Stats(ctx context.Context) (*biz.ServiceStats, error) {
	return &biz.ServiceStats{
		KnowledgeBase: &store.Stats{Collection: "finance_knowledge", RecordCount: 42, Dimension: 384},
		Cache:         map[string]interface{}{"enabled": false},
	}, nil
}

func (f *fakeService) Clear(ctx context.Context) error {
	f.clearCalled = true
	return nil
}

func setupRouter(svc biz.Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	h := NewRetrievalHandler(svc)
	engine.POST("/v1/retrieval/query", h.Query)
	engine.GET("/v1/retrieval/stats", h.Stats)
	engine.POST("/v1/retrieval/clear", h.Clear)
	return engine
}

func postJSON(t *testing.T, engine *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestRetrievalHandler_Query(t *testing.T) {
	t.Run("正常查询返回结果", func(t *testing.T) {
		svc := &fakeService{retrieveResult: &biz.RetrieveResult{
			OriginalQuery: "基金风险",
			SearchQuery:   "基金风险",
			Count:         1,
			Hits: []biz.RerankedHit{
				{SearchHit: store.SearchHit{Text: "基金投资有风险", Page: 3}, CombinedScore: 0.9},
			},
		}}
		engine := setupRouter(svc)

		w := postJSON(t, engine, "/v1/retrieval/query", map[string]any{"query": "基金风险"})
		require.Equal(t, http.StatusOK, w.Code)

		var resp SuccessResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, 0, resp.Code)
	})

	t.Run("缺少查询字段返回400", func(t *testing.T) {
		engine := setupRouter(&fakeService{})
		w := postJSON(t, engine, "/v1/retrieval/query", map[string]any{"top_k": 3})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("空查询的校验错误映射到400", func(t *testing.T) {
		svc := &fakeService{retrieveErr: errors.ErrEmptyQuery}
		engine := setupRouter(svc)

		w := postJSON(t, engine, "/v1/retrieval/query", map[string]any{"query": "  "})
		require.Equal(t, http.StatusBadRequest, w.Code)

		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, errors.ErrEmptyQuery.Code, resp.Code)
	})

	t.Run("嵌入服务不可用映射到503", func(t *testing.T) {
		svc := &fakeService{retrieveErr: errors.ErrEmbeddingFailed}
		engine := setupRouter(svc)

		w := postJSON(t, engine, "/v1/retrieval/query", map[string]any{"query": "基金风险"})
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("未显式配置时启用重写与重排序", func(t *testing.T) {
		svc := &fakeService{retrieveResult: &biz.RetrieveResult{}}
		engine := setupRouter(svc)

		postJSON(t, engine, "/v1/retrieval/query", map[string]any{"query": "基金风险"})
		assert.True(t, svc.lastConfig.UseReranking)
		assert.True(t, svc.lastConfig.UseQueryRewrite)
		assert.False(t, svc.lastConfig.CollapseToParentPage)
	})

	t.Run("显式关闭重排序被透传", func(t *testing.T) {
		svc := &fakeService{retrieveResult: &biz.RetrieveResult{}}
		engine := setupRouter(svc)

		postJSON(t, engine, "/v1/retrieval/query", map[string]any{"query": "基金风险", "use_reranking": false})
		assert.False(t, svc.lastConfig.UseReranking)
	})
}

func TestRetrievalHandler_Stats(t *testing.T) {
	engine := setupRouter(&fakeService{})

	req := httptest.NewRequest(http.MethodGet, "/v1/retrieval/stats", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Code int `json:"code"`
		Data struct {
			KnowledgeBase store.Stats    `json:"knowledge_base"`
			Cache         map[string]any `json:"cache"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(42), resp.Data.KnowledgeBase.RecordCount)
	assert.Equal(t, "finance_knowledge", resp.Data.KnowledgeBase.Collection)
	assert.Equal(t, false, resp.Data.Cache["enabled"])
}

func TestRetrievalHandler_Clear(t *testing.T) {
	svc := &fakeService{}
	engine := setupRouter(svc)

	w := postJSON(t, engine, "/v1/retrieval/clear", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, svc.clearCalled)
}
