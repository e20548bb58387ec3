package biz

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/finrag/internal/finrag/store"
	"github.com/kart-io/finrag/pkg/errors"
)

// textEmbedder 按文本内容返回预设向量，未命中时返回默认向量。
type textEmbedder struct {
	vectors map[string][]float32
	def     []float32
}

func (e *textEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vectorFor(t)
	}
	return out, nil
}

func (e *textEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	return e.vectorFor(text), nil
}

func (e *textEmbedder) vectorFor(text string) []float32 {
	if v, ok := e.vectors[text]; ok {
		return v
	}
	return e.def
}

func (e *textEmbedder) Name() string { return "text-embedder" }

func TestIndexer_IngestTexts(t *testing.T) {
	ctx := context.Background()
	cfg := IndexerConfig{ChunkSize: 500, ChunkOverlap: 50, SimilarityThreshold: 0.8}

	t.Run("空库时全部文本入库", func(t *testing.T) {
		vs := &fakeVectorStore{}
		x := NewIndexer(vs, &textEmbedder{def: []float32{1, 0, 0}}, cfg)

		report, err := x.IngestTexts(ctx, []string{"基金的风险等级说明", "债券的票面利率定义"}, "")
		require.NoError(t, err)
		assert.Equal(t, "manual_input", report.Source)
		assert.Equal(t, 2, report.TotalChunks)
		assert.Equal(t, 2, report.Inserted)
		assert.Equal(t, 0, report.SkippedDuplicates)
		require.Len(t, vs.insertedChunks, 2)
		assert.Equal(t, "manual_input", vs.insertedChunks[0].Source)
	})

	t.Run("近似重复的文本被跳过", func(t *testing.T) {
		vs := &fakeVectorStore{hits: []store.SearchHit{{Text: "库内已有内容", Distance: 0.05}}}
		embedder := &textEmbedder{
			vectors: map[string][]float32{
				"与库内内容几乎相同的文本": {1, 0, 0},
				"库内已有内容":        {1, 0, 0},
				"完全不同的新内容":      {0, 1, 0},
			},
			def: []float32{0, 0, 1},
		}
		x := NewIndexer(vs, embedder, cfg)

		report, err := x.IngestTexts(ctx, []string{"与库内内容几乎相同的文本", "完全不同的新内容"}, "manual_input")
		require.NoError(t, err)
		assert.Equal(t, 1, report.SkippedDuplicates)
		assert.Equal(t, 1, report.Inserted)
		require.Len(t, vs.insertedChunks, 1)
		assert.Equal(t, "完全不同的新内容", vs.insertedChunks[0].Text)
	})

	t.Run("阈值非正时关闭去重", func(t *testing.T) {
		vs := &fakeVectorStore{hits: []store.SearchHit{{Text: "库内已有内容", Distance: 0.01}}}
		x := NewIndexer(vs, &textEmbedder{def: []float32{1, 0, 0}},
			IndexerConfig{ChunkSize: 500, ChunkOverlap: 50, SimilarityThreshold: 0})

		report, err := x.IngestTexts(ctx, []string{"库内已有内容"}, "manual_input")
		require.NoError(t, err)
		assert.Equal(t, 0, report.SkippedDuplicates)
		assert.Equal(t, 1, report.Inserted)
	})

	t.Run("全部重复时不触发插入", func(t *testing.T) {
		vs := &fakeVectorStore{hits: []store.SearchHit{{Text: "库内已有内容", Distance: 0.01}}}
		embedder := &textEmbedder{def: []float32{1, 0, 0}}
		x := NewIndexer(vs, embedder, cfg)

		report, err := x.IngestTexts(ctx, []string{"库内已有内容"}, "manual_input")
		require.NoError(t, err)
		assert.Equal(t, 1, report.SkippedDuplicates)
		assert.Equal(t, 0, report.Inserted)
		assert.Empty(t, vs.insertedChunks)
	})
}

func TestIndexer_IngestFile(t *testing.T) {
	ctx := context.Background()
	cfg := IndexerConfig{ChunkSize: 100, ChunkOverlap: 10, SimilarityThreshold: 0.8}

	t.Run("文本文件入库且来源为文件名", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "report.txt")
		require.NoError(t, os.WriteFile(path, []byte("公司本年度营收保持增长 经营现金流稳定 负债率有所下降"), 0o644))

		vs := &fakeVectorStore{}
		x := NewIndexer(vs, &textEmbedder{def: []float32{1, 0, 0}}, cfg)

		report, err := x.IngestFile(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, "report.txt", report.Source)
		assert.GreaterOrEqual(t, report.Inserted, 1)
	})

	t.Run("不支持的格式返回校验错误", func(t *testing.T) {
		x := NewIndexer(&fakeVectorStore{}, &textEmbedder{def: []float32{1, 0, 0}}, cfg)
		_, err := x.IngestFile(ctx, "statement.docx")
		assert.ErrorIs(t, err, errors.ErrUnsupportedFormat)
	})
}
