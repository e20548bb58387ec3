package app

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"
	goredis "github.com/redis/go-redis/v9"

	"github.com/kart-io/finrag/internal/finrag/biz"
	"github.com/kart-io/finrag/internal/finrag/handler"
	"github.com/kart-io/finrag/internal/finrag/router"
	"github.com/kart-io/finrag/internal/finrag/store"
	"github.com/kart-io/finrag/pkg/component/milvus"
	"github.com/kart-io/finrag/pkg/infra/app"
	"github.com/kart-io/finrag/pkg/infra/pool"
	"github.com/kart-io/finrag/pkg/llm"

	// 注册 ollama 供应商
	_ "github.com/kart-io/finrag/pkg/llm/ollama"
)

const (
	appName        = "finrag"
	appDescription = `FinRAG Retrieval Service

The hybrid retrieval service for the financial knowledge base.

This server provides:
  - Document ingestion with page-aware chunking and vector embeddings
  - Semantic similarity search over Milvus
  - LLM query rewriting and relevance reranking`
)

// NewApp creates a new application instance.
func NewApp() *app.App {
	opts := NewOptions()

	return app.NewApp(
		app.WithName(appName),
		app.WithDescription(appDescription),
		app.WithOptions(opts),
		app.WithRunFunc(func() error {
			return Run(opts)
		}),
	)
}

// Run runs the retrieval service with the given options.
func Run(opts *Options) error {
	// 1. 初始化日志
	opts.Log.AddInitialField("service.name", appName)
	opts.Log.AddInitialField("service.version", app.GetVersion())
	if err := opts.Log.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Info("Starting retrieval service...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. 初始化 Milvus 客户端（带连接重试，耗尽后启动失败）
	milvusClient, err := milvus.New(ctx, opts.Milvus)
	if err != nil {
		return fmt.Errorf("failed to initialize milvus: %w", err)
	}
	defer milvusClient.Close(context.Background())
	logger.Info("Milvus client initialized")

	// 3. 初始化向量存储并确保集合就绪
	vectorStore := store.NewMilvusStore(milvusClient, &store.CollectionConfig{
		Name:        opts.Retrieval.Collection,
		Description: "Financial knowledge base collection",
		Dimension:   opts.Retrieval.EmbeddingDim,
	})
	if err := vectorStore.EnsureCollection(ctx); err != nil {
		return fmt.Errorf("failed to ensure collection: %w", err)
	}
	logger.Infow("Vector store initialized", "collection", opts.Retrieval.Collection)

	// 4. 初始化 LLM 供应商
	embedder, err := llm.NewEmbeddingProvider(opts.Embedding.Provider, opts.Embedding.ToConfigMap())
	if err != nil {
		return fmt.Errorf("failed to initialize embedding provider: %w", err)
	}
	chat, err := llm.NewChatProvider(opts.Chat.Provider, opts.Chat.ToConfigMap())
	if err != nil {
		return fmt.Errorf("failed to initialize chat provider: %w", err)
	}
	logger.Infow("LLM providers initialized", "embedding", embedder.Name(), "chat", chat.Name())

	// LLM 后端探活失败只告警，服务可能稍后恢复。
	if pinger, ok := embedder.(interface{ Ping(context.Context) error }); ok {
		if err := pinger.Ping(ctx); err != nil {
			logger.Warnw("LLM backend unreachable at startup", "provider", embedder.Name(), "error", err.Error())
		}
	}

	// 5. 初始化重排序协程池
	rerankPool, err := pool.New("rerank", pool.RerankConfig(opts.Retrieval.RerankConcurrency))
	if err != nil {
		return fmt.Errorf("failed to create rerank pool: %w", err)
	}
	defer rerankPool.Release()

	// 6. 初始化查询缓存
	var queryCache *biz.QueryCache
	if opts.Cache.Enabled {
		redisClient := goredis.NewClient(&goredis.Options{
			Addr:         opts.Cache.Redis.Addr(),
			Password:     opts.Cache.Redis.Password,
			DB:           opts.Cache.Redis.Database,
			MaxRetries:   opts.Cache.Redis.MaxRetries,
			PoolSize:     opts.Cache.Redis.PoolSize,
			MinIdleConns: opts.Cache.Redis.MinIdleConns,
			DialTimeout:  opts.Cache.Redis.DialTimeout,
		})
		defer redisClient.Close()

		// 缓存是可选依赖，探活失败只告警不中断启动。
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warnw("Redis unreachable, query cache disabled", "addr", opts.Cache.Redis.Addr(), "error", err.Error())
		} else {
			queryCache = biz.NewQueryCache(redisClient, &biz.QueryCacheConfig{
				Enabled:   true,
				TTL:       opts.Cache.TTL,
				KeyPrefix: opts.Cache.KeyPrefix,
			})
			logger.Info("Query cache initialized")
		}
	}

	// 7. 初始化 Biz 层
	rewriter := biz.NewQueryRewriter(chat)
	reranker := biz.NewReranker(chat, rerankPool, opts.Retrieval.RerankBatchSize, opts.Retrieval.LLMWeight)
	coordinator := biz.NewCoordinator(vectorStore, embedder, rewriter, reranker)
	indexer := biz.NewIndexer(vectorStore, embedder, biz.IndexerConfig{
		ChunkSize:           opts.Retrieval.ChunkSize,
		ChunkOverlap:        opts.Retrieval.ChunkOverlap,
		SimilarityThreshold: opts.Retrieval.SimilarityThreshold,
	})
	service := biz.NewService(coordinator, indexer, rewriter, queryCache, vectorStore)
	logger.Info("Retrieval service initialized")

	// 8. 初始化 HTTP 服务器并注册路由
	gin.SetMode(opts.HTTP.Mode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	router.Register(engine, handler.NewRetrievalHandler(service))

	srv := &http.Server{
		Addr:    opts.HTTP.Addr,
		Handler: engine,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infow("HTTP server listening", "addr", opts.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// 9. 等待退出信号，优雅关闭
	select {
	case err := <-errCh:
		return fmt.Errorf("http server error: %w", err)
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}

	logger.Info("Retrieval service stopped")
	return nil
}
