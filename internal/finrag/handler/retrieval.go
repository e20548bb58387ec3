// Package handler provides HTTP handlers for the retrieval service.
package handler

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kart-io/finrag/internal/finrag/biz"
	"github.com/kart-io/finrag/pkg/errors"
)

// 单次检索请求的超时时间。重排序链路含多次 LLM 调用，耗时较长。
const queryTimeout = 60 * time.Second

// RetrievalHandler handles retrieval HTTP requests.
type RetrievalHandler struct {
	service biz.Service
}

// NewRetrievalHandler creates a new RetrievalHandler.
func NewRetrievalHandler(service biz.Service) *RetrievalHandler {
	return &RetrievalHandler{service: service}
}

// SuccessResponse is a standard success response.
type SuccessResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ErrorResponse is a standard error response.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// writeError 按结构化错误码返回对应的 HTTP 状态。
func writeError(c *gin.Context, err error) {
	var e *errors.Errno
	if stderrors.As(err, &e) {
		c.JSON(e.HTTP, ErrorResponse{Code: e.Code, Message: e.MessageEN})
		return
	}
	c.JSON(http.StatusInternalServerError, ErrorResponse{Code: 500, Message: err.Error()})
}

// QueryRequest represents a retrieval query request.
type QueryRequest struct {
	Query                string `json:"query" binding:"required"`
	TopK                 int    `json:"top_k"`
	UseReranking         *bool  `json:"use_reranking"`
	UseQueryRewrite      *bool  `json:"use_query_rewrite"`
	CollapseToParentPage *bool  `json:"collapse_to_parent_page"`
}

// Query performs a retrieval query.
func (h *RetrievalHandler) Query(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: 400, Message: err.Error()})
		return
	}

	// 添加 60 秒超时控制
	ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
	defer cancel()

	cfg := biz.RetrieveConfig{
		TopK:                 req.TopK,
		UseReranking:         boolOrDefault(req.UseReranking, true),
		UseQueryRewrite:      boolOrDefault(req.UseQueryRewrite, true),
		CollapseToParentPage: boolOrDefault(req.CollapseToParentPage, false),
	}

	result, err := h.service.Retrieve(ctx, req.Query, cfg)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			c.JSON(http.StatusRequestTimeout, ErrorResponse{
				Code:    errors.ErrQueryTimeout.Code,
				Message: "Query timeout: the request took too long to process. Please try again or simplify your question.",
			})
			return
		}
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Code: 0, Message: "success", Data: result})
}

// IngestFileRequest represents a file ingestion request.
type IngestFileRequest struct {
	Path string `json:"path" binding:"required"`
}

// IngestFile ingests a document file into the knowledge base.
func (h *RetrievalHandler) IngestFile(c *gin.Context) {
	var req IngestFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: 400, Message: err.Error()})
		return
	}

	report, err := h.service.IngestFile(c.Request.Context(), req.Path)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Code: 0, Message: "Document ingested successfully", Data: report})
}

// IngestTextsRequest represents a manual text ingestion request.
type IngestTextsRequest struct {
	Texts  []string `json:"texts" binding:"required"`
	Source string   `json:"source"`
}

// IngestTexts ingests a batch of texts into the knowledge base.
func (h *RetrievalHandler) IngestTexts(c *gin.Context) {
	var req IngestTextsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: 400, Message: err.Error()})
		return
	}

	report, err := h.service.IngestTexts(c.Request.Context(), req.Texts, req.Source)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Code: 0, Message: "Texts ingested successfully", Data: report})
}

// RewriteRequest represents a query rewrite request.
type RewriteRequest struct {
	Query    string `json:"query" binding:"required"`
	Strategy string `json:"strategy"`
}

// Rewrite rewrites a query into retrieval-friendly variants.
func (h *RetrievalHandler) Rewrite(c *gin.Context) {
	var req RewriteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: 400, Message: err.Error()})
		return
	}
	if req.Strategy == "" {
		req.Strategy = biz.StrategyAuto
	}

	result := h.service.Rewrite(c.Request.Context(), req.Query, req.Strategy)
	c.JSON(http.StatusOK, SuccessResponse{Code: 0, Message: "success", Data: result})
}

// IntentRequest represents an intent analysis request.
type IntentRequest struct {
	Query string `json:"query" binding:"required"`
}

// Intent analyzes the intent of a query.
func (h *RetrievalHandler) Intent(c *gin.Context) {
	var req IntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: 400, Message: err.Error()})
		return
	}

	intent := h.service.AnalyzeIntent(req.Query)
	c.JSON(http.StatusOK, SuccessResponse{Code: 0, Message: "success", Data: intent})
}

// Stats returns knowledge base and query cache statistics.
func (h *RetrievalHandler) Stats(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Code: 0, Message: "success", Data: stats})
}

// Clear empties the knowledge base and the query cache.
func (h *RetrievalHandler) Clear(c *gin.Context) {
	if err := h.service.Clear(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Code: 0, Message: "Knowledge base cleared"})
}

// Healthz is a liveness probe.
func (h *RetrievalHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, SuccessResponse{Code: 0, Message: "ok"})
}

func boolOrDefault(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
