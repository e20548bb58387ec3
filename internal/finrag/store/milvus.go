package store

import (
	"context"
	"fmt"

	"github.com/kart-io/logger"
	"github.com/milvus-io/milvus/client/v2/entity"

	"github.com/kart-io/finrag/internal/pkg/chunker"
	"github.com/kart-io/finrag/pkg/component/milvus"
)

// 集合元数据字段。
const (
	fieldText      = "text"
	fieldSource    = "source"
	fieldTimestamp = "timestamp"
	fieldPage      = "page"

	maxTextLen   = 65535
	maxSourceLen = 256
	maxTimeLen   = 32

	timestampLayout = "2006-01-02 15:04:05"
)

// MilvusStore 实现基于 Milvus 的向量存储。
type MilvusStore struct {
	client *milvus.Client
	config *CollectionConfig
}

// NewMilvusStore 创建 Milvus 存储实例。
func NewMilvusStore(client *milvus.Client, config *CollectionConfig) *MilvusStore {
	return &MilvusStore{client: client, config: config}
}

// EnsureCollection 确保集合存在并已加载。
func (s *MilvusStore) EnsureCollection(ctx context.Context) error {
	return s.client.CreateCollection(ctx, s.schema())
}

func (s *MilvusStore) schema() *milvus.CollectionSchema {
	return &milvus.CollectionSchema{
		Name:        s.config.Name,
		Description: s.config.Description,
		Dimension:   s.config.Dimension,
		MetaFields: []milvus.MetaField{
			{Name: fieldText, DataType: entity.FieldTypeVarChar, MaxLen: maxTextLen},
			{Name: fieldSource, DataType: entity.FieldTypeVarChar, MaxLen: maxSourceLen},
			{Name: fieldTimestamp, DataType: entity.FieldTypeVarChar, MaxLen: maxTimeLen},
			{Name: fieldPage, DataType: entity.FieldTypeInt64},
		},
	}
}

// Insert 批量插入文本块。flush 完成后才返回。
func (s *MilvusStore) Insert(ctx context.Context, chunks []chunker.Chunk, embeddings [][]float32) error {
	if len(chunks) == 0 {
		return nil
	}
	if len(chunks) != len(embeddings) {
		return fmt.Errorf("chunk count %d does not match embedding count %d", len(chunks), len(embeddings))
	}

	metadata := map[string][]any{
		fieldText:      make([]any, len(chunks)),
		fieldSource:    make([]any, len(chunks)),
		fieldTimestamp: make([]any, len(chunks)),
		fieldPage:      make([]any, len(chunks)),
	}

	for i, chunk := range chunks {
		metadata[fieldText][i] = chunk.Text
		metadata[fieldSource][i] = chunk.Source
		metadata[fieldTimestamp][i] = chunk.CreatedAt.Format(timestampLayout)
		metadata[fieldPage][i] = int64(chunk.Page)
	}

	data := &milvus.InsertData{
		Embeddings: embeddings,
		Metadata:   metadata,
	}

	ids, err := s.client.Insert(ctx, s.config.Name, data)
	if err != nil {
		return fmt.Errorf("failed to insert into milvus: %w", err)
	}

	logger.Debugw("文本块已入库", "collection", s.config.Name, "count", len(ids))
	return nil
}

// Search 按距离升序检索。collapseToPage 为 true 时按页去重。
func (s *MilvusStore) Search(ctx context.Context, embedding []float32, topK int, collapseToPage bool) ([]SearchHit, error) {
	outputFields := []string{fieldText, fieldSource, fieldPage}
	results, err := s.client.Search(ctx, s.config.Name, embedding, topK, outputFields)
	if err != nil {
		return nil, fmt.Errorf("failed to search milvus: %w", err)
	}

	hits := make([]SearchHit, 0, len(results))
	for _, r := range results {
		hit := SearchHit{Distance: r.Distance}
		if v, ok := r.Metadata[fieldText].(string); ok {
			hit.Text = v
		}
		if v, ok := r.Metadata[fieldSource].(string); ok {
			hit.Source = v
		}
		if v, ok := r.Metadata[fieldPage].(int64); ok {
			hit.Page = int(v)
		}
		hits = append(hits, hit)
	}

	if collapseToPage {
		hits = CollapseByPage(hits)
	}
	return hits, nil
}

// Clear 删除并重建集合，清空后检索返回空结果而非错误。
func (s *MilvusStore) Clear(ctx context.Context) error {
	if err := s.client.DropCollection(ctx, s.config.Name); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	if err := s.EnsureCollection(ctx); err != nil {
		return fmt.Errorf("failed to recreate collection: %w", err)
	}

	logger.Infow("知识库已清空", "collection", s.config.Name)
	return nil
}

// Stats 返回集合统计信息。
func (s *MilvusStore) Stats(ctx context.Context) (*Stats, error) {
	count, err := s.client.GetCollectionStats(ctx, s.config.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to get collection stats: %w", err)
	}
	return &Stats{
		Collection:  s.config.Name,
		RecordCount: count,
		Dimension:   s.config.Dimension,
	}, nil
}

// Close 关闭 Milvus 连接。
func (s *MilvusStore) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

// 确保 MilvusStore 实现了 VectorStore 接口。
var _ VectorStore = (*MilvusStore)(nil)
