// Package router provides retrieval service routing.
package router

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/kart-io/logger"

	"github.com/kart-io/finrag/internal/finrag/handler"
)

// 请求标识头。缺失时由网关侧生成。
const requestIDHeader = "X-Request-ID"

// RequestID 为每个请求注入唯一标识，便于日志串联。
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Header(requestIDHeader, requestID)
		c.Next()
	}
}

// Register registers the retrieval service routes.
func Register(engine *gin.Engine, h *handler.RetrievalHandler) {
	logger.Info("Registering retrieval routes...")

	engine.Use(RequestID())
	engine.GET("/healthz", h.Healthz)

	v1 := engine.Group("/v1")
	{
		retrieval := v1.Group("/retrieval")
		{
			// Query endpoints
			retrieval.POST("/query", h.Query)
			retrieval.POST("/rewrite", h.Rewrite)
			retrieval.POST("/intent", h.Intent)

			// Ingest endpoints
			retrieval.POST("/ingest/file", h.IngestFile)
			retrieval.POST("/ingest/texts", h.IngestTexts)

			// Admin endpoints
			retrieval.GET("/stats", h.Stats)
			retrieval.POST("/clear", h.Clear)
		}
	}

	logger.Info("HTTP routes registered")
}
