package textutil_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kart-io/finrag/internal/pkg/textutil"
)

func TestCosineSimilarity(t *testing.T) {
	t.Run("相同向量相似度为1", func(t *testing.T) {
		v := []float32{0.1, 0.5, 0.9}
		assert.InDelta(t, 1.0, textutil.CosineSimilarity(v, v), 1e-9)
	})

	t.Run("正交向量相似度为0", func(t *testing.T) {
		a := []float32{1, 0}
		b := []float32{0, 1}
		assert.InDelta(t, 0.0, textutil.CosineSimilarity(a, b), 1e-9)
	})

	t.Run("相反向量相似度为-1", func(t *testing.T) {
		a := []float32{1, 2, 3}
		b := []float32{-1, -2, -3}
		assert.InDelta(t, -1.0, textutil.CosineSimilarity(a, b), 1e-9)
	})

	t.Run("长度不一致返回0", func(t *testing.T) {
		assert.Equal(t, 0.0, textutil.CosineSimilarity([]float32{1}, []float32{1, 2}))
	})

	t.Run("零向量返回0", func(t *testing.T) {
		assert.Equal(t, 0.0, textutil.CosineSimilarity([]float32{0, 0}, []float32{1, 1}))
	})
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "hello", textutil.TruncateString("hello", 10))
	assert.Equal(t, "hel", textutil.TruncateString("hello", 3))
	assert.Equal(t, "投资风", textutil.TruncateString("投资风险分析", 3))
}

func TestCollapseWhitespace(t *testing.T) {
	assert.Equal(t, "a b c", textutil.CollapseWhitespace("  a \t b \n c  "))
	assert.Equal(t, "", textutil.CollapseWhitespace("   "))
}
