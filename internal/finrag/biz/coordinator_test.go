package biz

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/finrag/internal/finrag/store"
	"github.com/kart-io/finrag/internal/pkg/chunker"
	"github.com/kart-io/finrag/pkg/errors"
)

// fakeVectorStore 返回预设命中并记录插入与检索参数。
type fakeVectorStore struct {
	hits           []store.SearchHit
	searchErr      error
	insertErr      error
	insertedChunks []chunker.Chunk
	lastTopK       int
	lastCollapse   bool
	lastQueryVec   []float32
}

func (f *fakeVectorStore) EnsureCollection(ctx context.Context) error { return nil }

func (f *fakeVectorStore) Insert(ctx context.Context, chunks []chunker.Chunk, embeddings [][]float32) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.insertedChunks = append(f.insertedChunks, chunks...)
	return nil
}

func (f *fakeVectorStore) Search(ctx context.Context, embedding []float32, topK int, collapseToPage bool) ([]store.SearchHit, error) {
	f.lastQueryVec = embedding
	f.lastTopK = topK
	f.lastCollapse = collapseToPage
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if collapseToPage {
		return store.CollapseByPage(f.hits), nil
	}
	if topK < len(f.hits) {
		return f.hits[:topK], nil
	}
	return f.hits, nil
}

func (f *fakeVectorStore) Clear(ctx context.Context) error { return nil }

func (f *fakeVectorStore) Stats(ctx context.Context) (*store.Stats, error) {
	return &store.Stats{RecordCount: int64(len(f.hits))}, nil
}

func (f *fakeVectorStore) Close(ctx context.Context) error { return nil }

// fakeEmbedder 返回固定向量的嵌入提供商。
type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (f *fakeEmbedder) Name() string { return "fake-embedder" }

func TestCoordinator_Retrieve(t *testing.T) {
	ctx := context.Background()

	t.Run("空查询返回校验错误", func(t *testing.T) {
		c := NewCoordinator(&fakeVectorStore{}, &fakeEmbedder{}, nil, nil)
		_, err := c.Retrieve(ctx, "   ", RetrieveConfig{TopK: 5})
		assert.ErrorIs(t, err, errors.ErrEmptyQuery)
	})

	t.Run("不重排序时按距离升序截断", func(t *testing.T) {
		vs := &fakeVectorStore{hits: []store.SearchHit{
			{Text: "a", Distance: 0.1},
			{Text: "b", Distance: 0.2},
			{Text: "c", Distance: 0.3},
			{Text: "d", Distance: 0.4},
		}}
		c := NewCoordinator(vs, &fakeEmbedder{}, nil, nil)

		result, err := c.Retrieve(ctx, "基金风险", RetrieveConfig{TopK: 2})
		require.NoError(t, err)
		assert.Equal(t, 2, vs.lastTopK)
		require.Equal(t, 2, result.Count)
		assert.Equal(t, "a", result.Hits[0].Text)
		assert.Equal(t, "b", result.Hits[1].Text)
		assert.False(t, result.Reranked)
		assert.Equal(t, 0.9, result.Hits[0].CombinedScore)
	})

	t.Run("启用重排序时候选集为两倍TopK", func(t *testing.T) {
		vs := &fakeVectorStore{}
		c := NewCoordinator(vs, &fakeEmbedder{}, nil, nil)

		_, err := c.Retrieve(ctx, "基金风险", RetrieveConfig{TopK: 5, UseReranking: true})
		require.NoError(t, err)
		assert.Equal(t, 10, vs.lastTopK)
	})

	t.Run("候选集不超过上限", func(t *testing.T) {
		vs := &fakeVectorStore{}
		c := NewCoordinator(vs, &fakeEmbedder{}, nil, nil)

		_, err := c.Retrieve(ctx, "基金风险", RetrieveConfig{TopK: 40, UseReranking: true})
		require.NoError(t, err)
		assert.Equal(t, 50, vs.lastTopK)
	})

	t.Run("页去重参数透传到存储层", func(t *testing.T) {
		vs := &fakeVectorStore{hits: []store.SearchHit{
			{Text: "a", Page: 1, Distance: 0.1},
			{Text: "b", Page: 1, Distance: 0.2},
		}}
		c := NewCoordinator(vs, &fakeEmbedder{}, nil, nil)

		result, err := c.Retrieve(ctx, "基金风险", RetrieveConfig{TopK: 5, CollapseToParentPage: true})
		require.NoError(t, err)
		assert.True(t, vs.lastCollapse)
		require.Equal(t, 1, result.Count)
		assert.Equal(t, "a", result.Hits[0].Text)
	})

	t.Run("重写成功时使用首个重写版本检索", func(t *testing.T) {
		vs := &fakeVectorStore{}
		rewriter := NewQueryRewriter(&mockChatProvider{response: "投资基金的主要风险类型分析\n基金风险管理方法"})
		c := NewCoordinator(vs, &fakeEmbedder{}, rewriter, nil)

		result, err := c.Retrieve(ctx, "基金有什么风险", RetrieveConfig{TopK: 3, UseQueryRewrite: true})
		require.NoError(t, err)
		assert.Equal(t, "基金有什么风险", result.OriginalQuery)
		assert.Equal(t, "投资基金的主要风险类型分析", result.SearchQuery)
		assert.Len(t, result.RewrittenQueries, 2)
	})

	t.Run("重写失败时退回原始查询继续检索", func(t *testing.T) {
		vs := &fakeVectorStore{hits: []store.SearchHit{{Text: "a", Distance: 0.1}}}
		rewriter := NewQueryRewriter(&mockChatProvider{err: stderrors.New("llm down")})
		c := NewCoordinator(vs, &fakeEmbedder{}, rewriter, nil)

		result, err := c.Retrieve(ctx, "基金有什么风险", RetrieveConfig{TopK: 3, UseQueryRewrite: true})
		require.NoError(t, err)
		assert.Equal(t, "基金有什么风险", result.SearchQuery)
		assert.Empty(t, result.RewrittenQueries)
		assert.Equal(t, 1, result.Count)
	})

	t.Run("嵌入失败返回错误", func(t *testing.T) {
		c := NewCoordinator(&fakeVectorStore{}, &fakeEmbedder{err: stderrors.New("embed down")}, nil, nil)
		_, err := c.Retrieve(ctx, "基金风险", RetrieveConfig{TopK: 3})
		assert.ErrorIs(t, err, errors.ErrEmbeddingFailed)
	})

	t.Run("向量检索失败返回错误", func(t *testing.T) {
		vs := &fakeVectorStore{searchErr: stderrors.New("milvus down")}
		c := NewCoordinator(vs, &fakeEmbedder{}, nil, nil)
		_, err := c.Retrieve(ctx, "基金风险", RetrieveConfig{TopK: 3})
		assert.ErrorIs(t, err, errors.ErrRetrievalFailed)
	})
}
