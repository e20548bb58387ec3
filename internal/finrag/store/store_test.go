package store_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/finrag/internal/finrag/store"
)

func TestCollapseByPage(t *testing.T) {
	t.Run("同页只保留距离最小的首个命中", func(t *testing.T) {
		hits := []store.SearchHit{
			{Text: "a", Page: 1, Distance: 0.1},
			{Text: "b", Page: 2, Distance: 0.2},
			{Text: "c", Page: 1, Distance: 0.4},
			{Text: "d", Page: 3, Distance: 0.5},
		}

		collapsed := store.CollapseByPage(hits)
		require.Len(t, collapsed, 3)
		assert.Equal(t, "a", collapsed[0].Text)
		assert.Equal(t, "b", collapsed[1].Text)
		assert.Equal(t, "d", collapsed[2].Text)
	})

	t.Run("幸存者保持原有相对顺序", func(t *testing.T) {
		hits := []store.SearchHit{
			{Text: "p5", Page: 5, Distance: 0.1},
			{Text: "p2", Page: 2, Distance: 0.2},
			{Text: "p5-dup", Page: 5, Distance: 0.3},
			{Text: "p9", Page: 9, Distance: 0.4},
			{Text: "p2-dup", Page: 2, Distance: 0.6},
		}

		collapsed := store.CollapseByPage(hits)
		require.Len(t, collapsed, 3)
		assert.Equal(t, []string{"p5", "p2", "p9"},
			[]string{collapsed[0].Text, collapsed[1].Text, collapsed[2].Text})
	})

	t.Run("无重复页时原样返回", func(t *testing.T) {
		hits := []store.SearchHit{
			{Text: "a", Page: 1, Distance: 0.1},
			{Text: "b", Page: 2, Distance: 0.2},
		}
		assert.Equal(t, hits, store.CollapseByPage(hits))
	})

	t.Run("空输入返回空", func(t *testing.T) {
		assert.Empty(t, store.CollapseByPage(nil))
	})
}
