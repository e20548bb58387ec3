package biz

import (
	"context"
	"path/filepath"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/finrag/internal/finrag/store"
	"github.com/kart-io/finrag/internal/pkg/chunker"
	"github.com/kart-io/finrag/internal/pkg/extractor"
	"github.com/kart-io/finrag/internal/pkg/textutil"
	"github.com/kart-io/finrag/pkg/errors"
	"github.com/kart-io/finrag/pkg/llm"
)

// 手动录入文本的默认来源标签。
const manualSource = "manual_input"

// IndexerConfig 入库流程配置。
type IndexerConfig struct {
	// ChunkSize 分块目标字符数。
	ChunkSize int
	// ChunkOverlap 相邻块重叠字符数。
	ChunkOverlap int
	// SimilarityThreshold 近似去重阈值，新块与库内最近块的余弦
	// 相似度超过该值时跳过入库。非正数表示关闭去重。
	SimilarityThreshold float64
}

// IngestReport 一次入库的结果摘要。
type IngestReport struct {
	// Source 来源标签。
	Source string `json:"source"`
	// TotalChunks 切分出的文本块总数。
	TotalChunks int `json:"total_chunks"`
	// Inserted 实际入库的块数。
	Inserted int `json:"inserted"`
	// SkippedDuplicates 因近似重复被跳过的块数。
	SkippedDuplicates int `json:"skipped_duplicates"`
	// ElapsedMs 入库耗时，毫秒。
	ElapsedMs int64 `json:"elapsed_ms"`
}

// Indexer 文档入库流水线：抽取 -> 分块 -> 嵌入 -> 近似去重 -> 写入。
type Indexer struct {
	store    store.VectorStore
	embedder llm.EmbeddingProvider
	config   IndexerConfig
}

// NewIndexer 创建入库器。
func NewIndexer(vs store.VectorStore, embedder llm.EmbeddingProvider, config IndexerConfig) *Indexer {
	return &Indexer{store: vs, embedder: embedder, config: config}
}

// IngestFile 将单个文档文件入库。不支持的格式返回校验错误。
func (x *Indexer) IngestFile(ctx context.Context, path string) (*IngestReport, error) {
	pages, err := extractor.Extract(path)
	if err != nil {
		return nil, err
	}

	source := filepath.Base(path)
	chunks, err := chunker.Split(pages, source, chunker.Config{
		ChunkSize:    x.config.ChunkSize,
		ChunkOverlap: x.config.ChunkOverlap,
	})
	if err != nil {
		return nil, errors.ErrIngestFailed.WithCause(err)
	}

	return x.ingest(ctx, source, chunks)
}

// IngestTexts 手动录入一批文本。每条文本独立分块，页码为 0。
func (x *Indexer) IngestTexts(ctx context.Context, texts []string, source string) (*IngestReport, error) {
	if source == "" {
		source = manualSource
	}

	var chunks []chunker.Chunk
	for _, text := range texts {
		pages := []chunker.Page{{Number: 0, Text: text}}
		cs, err := chunker.Split(pages, source, chunker.Config{
			ChunkSize:    x.config.ChunkSize,
			ChunkOverlap: x.config.ChunkOverlap,
		})
		if err != nil {
			return nil, errors.ErrIngestFailed.WithCause(err)
		}
		chunks = append(chunks, cs...)
	}

	return x.ingest(ctx, source, chunks)
}

// ingest 嵌入、去重并写入文本块。写入完成（含 flush）后返回。
func (x *Indexer) ingest(ctx context.Context, source string, chunks []chunker.Chunk) (*IngestReport, error) {
	start := time.Now()
	report := &IngestReport{Source: source, TotalChunks: len(chunks)}

	if len(chunks) == 0 {
		logger.Warnw("文档未产出任何文本块", "source", source)
		report.ElapsedMs = time.Since(start).Milliseconds()
		return report, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	embeddings, err := x.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, errors.ErrEmbeddingFailed.WithCause(err)
	}
	if len(embeddings) != len(chunks) {
		return nil, errors.ErrEmbeddingFailed.WithMessage(
			"embedding count %d does not match chunk count %d", len(embeddings), len(chunks))
	}

	newChunks := make([]chunker.Chunk, 0, len(chunks))
	newEmbeddings := make([][]float32, 0, len(chunks))
	for i, chunk := range chunks {
		dup, err := x.isNearDuplicate(ctx, embeddings[i])
		if err != nil {
			return nil, err
		}
		if dup {
			report.SkippedDuplicates++
			logger.Debugw("跳过近似重复的文本块", "source", source,
				"preview", textutil.TruncateString(chunk.Text, 50))
			continue
		}
		newChunks = append(newChunks, chunk)
		newEmbeddings = append(newEmbeddings, embeddings[i])
	}

	if len(newChunks) == 0 {
		logger.Infow("所有文本块均已存在，跳过入库", "source", source, "total", len(chunks))
		report.ElapsedMs = time.Since(start).Milliseconds()
		return report, nil
	}

	if err := x.store.Insert(ctx, newChunks, newEmbeddings); err != nil {
		return nil, errors.ErrIngestFailed.WithCause(err)
	}

	report.Inserted = len(newChunks)
	report.ElapsedMs = time.Since(start).Milliseconds()

	logger.Infow("文档入库完成",
		"source", source,
		"total", report.TotalChunks,
		"inserted", report.Inserted,
		"skipped", report.SkippedDuplicates,
		"elapsed_ms", report.ElapsedMs,
	)
	return report, nil
}

// isNearDuplicate 判断嵌入向量是否与库内最近的块近似重复。
// 比较新块嵌入与库内最近块文本重新嵌入后的余弦相似度。
func (x *Indexer) isNearDuplicate(ctx context.Context, embedding []float32) (bool, error) {
	if x.config.SimilarityThreshold <= 0 {
		return false, nil
	}

	hits, err := x.store.Search(ctx, embedding, 1, false)
	if err != nil {
		return false, errors.ErrRetrievalFailed.WithCause(err)
	}
	if len(hits) == 0 {
		return false, nil
	}

	nearest, err := x.embedder.EmbedSingle(ctx, hits[0].Text)
	if err != nil {
		return false, errors.ErrEmbeddingFailed.WithCause(err)
	}
	return textutil.CosineSimilarity(embedding, nearest) > x.config.SimilarityThreshold, nil
}
