// Package store 定义向量存储接口及其 Milvus 实现。
package store

import (
	"context"

	"github.com/kart-io/finrag/internal/pkg/chunker"
)

// SearchHit 表示一次向量检索的单条命中，按距离升序产出。
type SearchHit struct {
	// Text 命中的文本块内容。
	Text string `json:"text"`
	// Source 来源文档标签。
	Source string `json:"source"`
	// Page 来源页码。
	Page int `json:"page"`
	// Distance L2 距离，越小越相似。
	Distance float32 `json:"distance"`
}

// Stats 集合统计信息。
type Stats struct {
	// Collection 集合名称。
	Collection string `json:"collection"`
	// RecordCount 当前记录数。
	RecordCount int64 `json:"record_count"`
	// Dimension 向量维度。
	Dimension int `json:"dimension"`
}

// CollectionConfig 集合配置。
type CollectionConfig struct {
	// Name 集合名称。
	Name string
	// Description 集合描述。
	Description string
	// Dimension 向量维度。
	Dimension int
}

// VectorStore 定义向量存储能力。
type VectorStore interface {
	// EnsureCollection 确保集合存在并已加载。
	EnsureCollection(ctx context.Context) error

	// Insert 插入文本块及其嵌入向量。返回前必须完成 flush，
	// 保证随后的 Search 能看到新数据。
	Insert(ctx context.Context, chunks []chunker.Chunk, embeddings [][]float32) error

	// Search 按距离升序返回 topK 条命中。
	// collapseToPage 为 true 时按页去重：每个页码只保留距离最小的
	// 首个命中，幸存者保持原有相对顺序。
	Search(ctx context.Context, embedding []float32, topK int, collapseToPage bool) ([]SearchHit, error)

	// Clear 清空全部记录。清空后的 Search 返回空列表而非错误。
	Clear(ctx context.Context) error

	// Stats 返回集合统计信息。
	Stats(ctx context.Context) (*Stats, error)

	// Close 关闭底层连接。
	Close(ctx context.Context) error
}

// CollapseByPage 对按距离升序排列的命中做页级去重。
// 顺序扫描，每个页码只保留首次出现（距离最小）的命中；
// 这是 first-seen-wins 去重，不做二次排序。
func CollapseByPage(hits []SearchHit) []SearchHit {
	if len(hits) <= 1 {
		return hits
	}

	seen := make(map[int]bool, len(hits))
	collapsed := make([]SearchHit, 0, len(hits))
	for _, h := range hits {
		if seen[h.Page] {
			continue
		}
		seen[h.Page] = true
		collapsed = append(collapsed, h)
	}
	return collapsed
}
