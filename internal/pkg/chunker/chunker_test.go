package chunker_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/finrag/internal/pkg/chunker"
)

func TestSplit(t *testing.T) {
	cfg := chunker.Config{ChunkSize: 50, ChunkOverlap: 10}

	t.Run("短页恰好产出一个块", func(t *testing.T) {
		pages := []chunker.Page{{Number: 3, Text: "net profit rose ten percent"}}
		chunks, err := chunker.Split(pages, "report.pdf", cfg)
		require.NoError(t, err)
		require.Len(t, chunks, 1)
		assert.Equal(t, "net profit rose ten percent", chunks[0].Text)
		assert.Equal(t, 3, chunks[0].Page)
		assert.Equal(t, "report.pdf", chunks[0].Source)
	})

	t.Run("空白页被跳过", func(t *testing.T) {
		pages := []chunker.Page{
			{Number: 0, Text: "   \n\t  "},
			{Number: 1, Text: ""},
			{Number: 2, Text: "annual revenue summary"},
		}
		chunks, err := chunker.Split(pages, "doc", cfg)
		require.NoError(t, err)
		require.Len(t, chunks, 1)
		assert.Equal(t, 2, chunks[0].Page)
	})

	t.Run("长页切分为多个块", func(t *testing.T) {
		words := make([]string, 40)
		for i := range words {
			words[i] = "word"
		}
		pages := []chunker.Page{{Number: 0, Text: strings.Join(words, " ")}}
		chunks, err := chunker.Split(pages, "doc", cfg)
		require.NoError(t, err)
		assert.Greater(t, len(chunks), 1)
		for _, c := range chunks {
			assert.Equal(t, 0, c.Page)
			assert.NotEmpty(t, c.Text)
		}
	})

	t.Run("相邻块存在重叠", func(t *testing.T) {
		words := make([]string, 40)
		for i := range words {
			words[i] = string(rune('a'+i%26)) + "123"
		}
		pages := []chunker.Page{{Number: 0, Text: strings.Join(words, " ")}}
		chunks, err := chunker.Split(pages, "doc", cfg)
		require.NoError(t, err)
		require.Greater(t, len(chunks), 1)

		firstWords := strings.Fields(chunks[0].Text)
		secondWords := strings.Fields(chunks[1].Text)
		// overlap=10、每词 5 字符（含分隔符），种子固定为尾部 2 个词
		assert.Equal(t, firstWords[len(firstWords)-2:], secondWords[:2],
			"第二个块应以第一个块的尾部词窗口开始")
	})

	t.Run("块不跨页", func(t *testing.T) {
		long := strings.Repeat("alpha beta gamma delta ", 10)
		pages := []chunker.Page{
			{Number: 0, Text: long},
			{Number: 1, Text: long},
		}
		chunks, err := chunker.Split(pages, "doc", cfg)
		require.NoError(t, err)

		seen := map[int]bool{}
		for _, c := range chunks {
			assert.Contains(t, []int{0, 1}, c.Page)
			seen[c.Page] = true
		}
		assert.True(t, seen[0])
		assert.True(t, seen[1])

		// 每页独立切分：两页产出的块序列应完全一致
		var p0, p1 []string
		for _, c := range chunks {
			if c.Page == 0 {
				p0 = append(p0, c.Text)
			} else {
				p1 = append(p1, c.Text)
			}
		}
		assert.Equal(t, p0, p1)
	})

	t.Run("中文文本按词切分", func(t *testing.T) {
		pages := []chunker.Page{{Number: 0, Text: "投资风险是指未来收益的不确定性"}}
		chunks, err := chunker.Split(pages, "财报.pdf", chunker.Config{ChunkSize: 100, ChunkOverlap: 20})
		require.NoError(t, err)
		require.Len(t, chunks, 1)
		assert.Equal(t, "投资风险是指未来收益的不确定性", chunks[0].Text)
	})

	t.Run("非法配置返回错误", func(t *testing.T) {
		_, err := chunker.Split(nil, "doc", chunker.Config{ChunkSize: 0})
		assert.Error(t, err)
	})

	t.Run("重叠不小于块大小时被收紧", func(t *testing.T) {
		words := make([]string, 30)
		for i := range words {
			words[i] = "token"
		}
		pages := []chunker.Page{{Number: 0, Text: strings.Join(words, " ")}}
		chunks, err := chunker.Split(pages, "doc", chunker.Config{ChunkSize: 30, ChunkOverlap: 30})
		require.NoError(t, err)
		assert.NotEmpty(t, chunks)
	})
}
