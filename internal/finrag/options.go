// Package app provides the retrieval service application.
package app

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	logopts "github.com/kart-io/finrag/pkg/options/logger"
	milvusopts "github.com/kart-io/finrag/pkg/options/milvus"
	redisopts "github.com/kart-io/finrag/pkg/options/redis"
)

// Options contains all retrieval service options.
type Options struct {
	// HTTP contains HTTP server configuration.
	HTTP *HTTPOptions `json:"http" mapstructure:"http"`

	// Log contains logger configuration.
	Log *logopts.Options `json:"log" mapstructure:"log"`

	// Milvus contains Milvus database configuration.
	Milvus *milvusopts.Options `json:"milvus" mapstructure:"milvus"`

	// Embedding contains embedding provider configuration.
	Embedding *LLMProviderOptions `json:"embedding" mapstructure:"embedding"`

	// Chat contains chat provider configuration.
	Chat *LLMProviderOptions `json:"chat" mapstructure:"chat"`

	// Retrieval contains retrieval pipeline configuration.
	Retrieval *RetrievalOptions `json:"retrieval" mapstructure:"retrieval"`

	// Cache contains query cache configuration.
	Cache *CacheOptions `json:"cache" mapstructure:"cache"`
}

// HTTPOptions HTTP 服务器配置。
type HTTPOptions struct {
	// Addr 监听地址。
	Addr string `json:"addr" mapstructure:"addr"`

	// Mode gin 运行模式（debug, release, test）。
	Mode string `json:"mode" mapstructure:"mode"`

	// ShutdownTimeout 优雅关闭等待时间。
	ShutdownTimeout time.Duration `json:"shutdown-timeout" mapstructure:"shutdown-timeout"`
}

// NewHTTPOptions 创建默认 HTTP 配置。
func NewHTTPOptions() *HTTPOptions {
	return &HTTPOptions{
		Addr:            ":8083",
		Mode:            "release",
		ShutdownTimeout: 10 * time.Second,
	}
}

// LLMProviderOptions 定义 LLM 供应商配置。
type LLMProviderOptions struct {
	// Provider 供应商名称（当前支持 ollama）。
	Provider string `json:"provider" mapstructure:"provider"`

	// BaseURL API 基础地址。
	BaseURL string `json:"base-url" mapstructure:"base-url"`

	// Model 使用的模型名称。
	Model string `json:"model" mapstructure:"model"`

	// Timeout 请求超时时间。
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// MaxRetries 最大重试次数。
	MaxRetries int `json:"max-retries" mapstructure:"max-retries"`

	// RetryDelay 重试初始延迟。
	RetryDelay time.Duration `json:"retry-delay" mapstructure:"retry-delay"`
}

// NewLLMProviderOptions 创建默认 LLM 供应商配置。
func NewLLMProviderOptions() *LLMProviderOptions {
	return &LLMProviderOptions{
		Provider:   "ollama",
		BaseURL:    "http://localhost:11434",
		Timeout:    120 * time.Second,
		MaxRetries: 3,
		RetryDelay: 2 * time.Second,
	}
}

// ToConfigMap 转换为配置 map，用于供应商工厂。
func (o *LLMProviderOptions) ToConfigMap() map[string]any {
	return map[string]any{
		"base_url":    o.BaseURL,
		"embed_model": o.Model,
		"chat_model":  o.Model,
		"timeout":     o.Timeout,
		"max_retries": o.MaxRetries,
		"retry_delay": o.RetryDelay,
	}
}

// RetrievalOptions contains retrieval pipeline configuration.
type RetrievalOptions struct {
	// ChunkSize is the target size of text chunks in characters.
	ChunkSize int `json:"chunk-size" mapstructure:"chunk-size"`

	// ChunkOverlap is the overlap between adjacent chunks in characters.
	ChunkOverlap int `json:"chunk-overlap" mapstructure:"chunk-overlap"`

	// TopK is the number of results to return from similarity search.
	TopK int `json:"top-k" mapstructure:"top-k"`

	// Collection is the name of the Milvus collection.
	Collection string `json:"collection" mapstructure:"collection"`

	// EmbeddingDim is the dimension of embedding vectors.
	EmbeddingDim int `json:"embedding-dim" mapstructure:"embedding-dim"`

	// LLMWeight 融合得分中 LLM 评分的权重，[0,1]。
	LLMWeight float64 `json:"llm-weight" mapstructure:"llm-weight"`

	// RerankBatchSize 重排序批大小。1 表示逐块并发评分。
	RerankBatchSize int `json:"rerank-batch-size" mapstructure:"rerank-batch-size"`

	// RerankConcurrency 重排序并发 LLM 调用上限。
	RerankConcurrency int `json:"rerank-concurrency" mapstructure:"rerank-concurrency"`

	// SimilarityThreshold 入库近似去重阈值。
	SimilarityThreshold float64 `json:"similarity-threshold" mapstructure:"similarity-threshold"`
}

// NewRetrievalOptions creates new RetrievalOptions with defaults.
func NewRetrievalOptions() *RetrievalOptions {
	return &RetrievalOptions{
		ChunkSize:           250,
		ChunkOverlap:        50,
		TopK:                5,
		Collection:          "finance_knowledge",
		EmbeddingDim:        384,
		LLMWeight:           0.7,
		RerankBatchSize:     1,
		RerankConcurrency:   8,
		SimilarityThreshold: 0.8,
	}
}

// CacheOptions 查询缓存配置。
type CacheOptions struct {
	// Enabled 是否启用缓存。
	Enabled bool `json:"enabled" mapstructure:"enabled"`

	// TTL 缓存过期时间。
	TTL time.Duration `json:"ttl" mapstructure:"ttl"`

	// KeyPrefix 缓存键前缀。
	KeyPrefix string `json:"key-prefix" mapstructure:"key-prefix"`

	// Redis Redis 连接配置。
	Redis *redisopts.Options `json:"redis" mapstructure:"redis"`
}

// NewCacheOptions 创建默认缓存配置。
func NewCacheOptions() *CacheOptions {
	return &CacheOptions{
		Enabled:   true,
		TTL:       1 * time.Hour,
		KeyPrefix: "finrag:query:",
		Redis:     redisopts.NewOptions(),
	}
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	// 默认 embedding 配置
	embeddingOpts := NewLLMProviderOptions()
	embeddingOpts.Model = "nomic-embed-text"

	// 默认 chat 配置
	chatOpts := NewLLMProviderOptions()
	chatOpts.Model = "deepseek-r1:14b"

	return &Options{
		HTTP:      NewHTTPOptions(),
		Log:       logopts.NewOptions(),
		Milvus:    milvusopts.NewOptions(),
		Embedding: embeddingOpts,
		Chat:      chatOpts,
		Retrieval: NewRetrievalOptions(),
		Cache:     NewCacheOptions(),
	}
}

// AddFlags adds flags to the flagset.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	o.Log.AddFlags(fs)
	o.Milvus.AddFlags(fs)
	o.Cache.Redis.AddFlags(fs, "cache.")
	o.addHTTPFlags(fs)
	o.addLLMFlags(fs, o.Embedding, "embedding")
	o.addLLMFlags(fs, o.Chat, "chat")
	o.addRetrievalFlags(fs)
	o.addCacheFlags(fs)
}

func (o *Options) addHTTPFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.HTTP.Addr, "http.addr", o.HTTP.Addr, "HTTP server listen address")
	fs.StringVar(&o.HTTP.Mode, "http.mode", o.HTTP.Mode, "HTTP server mode (debug, release, test)")
	fs.DurationVar(&o.HTTP.ShutdownTimeout, "http.shutdown-timeout", o.HTTP.ShutdownTimeout, "Graceful shutdown timeout")
}

func (o *Options) addLLMFlags(fs *pflag.FlagSet, opts *LLMProviderOptions, prefix string) {
	fs.StringVar(&opts.Provider, prefix+".provider", opts.Provider, "LLM provider name")
	fs.StringVar(&opts.BaseURL, prefix+".base-url", opts.BaseURL, "LLM API base URL")
	fs.StringVar(&opts.Model, prefix+".model", opts.Model, "Model name")
	fs.DurationVar(&opts.Timeout, prefix+".timeout", opts.Timeout, "Request timeout")
	fs.IntVar(&opts.MaxRetries, prefix+".max-retries", opts.MaxRetries, "Max retries")
	fs.DurationVar(&opts.RetryDelay, prefix+".retry-delay", opts.RetryDelay, "Initial retry delay")
}

func (o *Options) addRetrievalFlags(fs *pflag.FlagSet) {
	fs.IntVar(&o.Retrieval.ChunkSize, "retrieval.chunk-size", o.Retrieval.ChunkSize, "Target size of text chunks in characters")
	fs.IntVar(&o.Retrieval.ChunkOverlap, "retrieval.chunk-overlap", o.Retrieval.ChunkOverlap, "Overlap between adjacent chunks in characters")
	fs.IntVar(&o.Retrieval.TopK, "retrieval.top-k", o.Retrieval.TopK, "Number of results from similarity search")
	fs.StringVar(&o.Retrieval.Collection, "retrieval.collection", o.Retrieval.Collection, "Milvus collection name")
	fs.IntVar(&o.Retrieval.EmbeddingDim, "retrieval.embedding-dim", o.Retrieval.EmbeddingDim, "Embedding vector dimension")
	fs.Float64Var(&o.Retrieval.LLMWeight, "retrieval.llm-weight", o.Retrieval.LLMWeight, "Weight of LLM score in combined ranking")
	fs.IntVar(&o.Retrieval.RerankBatchSize, "retrieval.rerank-batch-size", o.Retrieval.RerankBatchSize, "Rerank batch size (1 means per-chunk concurrent scoring)")
	fs.IntVar(&o.Retrieval.RerankConcurrency, "retrieval.rerank-concurrency", o.Retrieval.RerankConcurrency, "Max concurrent rerank LLM calls")
	fs.Float64Var(&o.Retrieval.SimilarityThreshold, "retrieval.similarity-threshold", o.Retrieval.SimilarityThreshold, "Near-duplicate similarity threshold at ingest")
}

func (o *Options) addCacheFlags(fs *pflag.FlagSet) {
	fs.BoolVar(&o.Cache.Enabled, "cache.enabled", o.Cache.Enabled, "Enable query result cache")
	fs.DurationVar(&o.Cache.TTL, "cache.ttl", o.Cache.TTL, "Cache TTL duration")
	fs.StringVar(&o.Cache.KeyPrefix, "cache.key-prefix", o.Cache.KeyPrefix, "Cache key prefix")
}

// Validate validates the options.
func (o *Options) Validate() error {
	if err := o.Log.Validate(); err != nil {
		return err
	}
	for _, err := range o.Milvus.Validate() {
		return err
	}
	if o.Cache.Enabled {
		for _, err := range o.Cache.Redis.Validate() {
			return err
		}
	}
	if err := o.validateLLMProvider(o.Embedding, "embedding"); err != nil {
		return err
	}
	if err := o.validateLLMProvider(o.Chat, "chat"); err != nil {
		return err
	}
	if o.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}
	if o.Retrieval.ChunkSize <= 0 {
		return fmt.Errorf("retrieval.chunk-size must be positive")
	}
	if o.Retrieval.ChunkOverlap < 0 || o.Retrieval.ChunkOverlap >= o.Retrieval.ChunkSize {
		return fmt.Errorf("retrieval.chunk-overlap must be in [0, chunk-size)")
	}
	if o.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval.top-k must be positive")
	}
	if o.Retrieval.EmbeddingDim <= 0 {
		return fmt.Errorf("retrieval.embedding-dim must be positive")
	}
	if o.Retrieval.LLMWeight < 0 || o.Retrieval.LLMWeight > 1 {
		return fmt.Errorf("retrieval.llm-weight must be in [0, 1]")
	}
	if o.Retrieval.RerankBatchSize < 1 {
		return fmt.Errorf("retrieval.rerank-batch-size must be at least 1")
	}
	return nil
}

func (o *Options) validateLLMProvider(opts *LLMProviderOptions, prefix string) error {
	if opts.Provider == "" {
		return fmt.Errorf("%s.provider is required", prefix)
	}
	if opts.BaseURL == "" {
		return fmt.Errorf("%s.base-url is required", prefix)
	}
	if opts.Model == "" {
		return fmt.Errorf("%s.model is required", prefix)
	}
	if opts.Timeout <= 0 {
		return fmt.Errorf("%s.timeout must be positive", prefix)
	}
	return nil
}

// Complete completes the options.
func (o *Options) Complete() error {
	return nil
}
