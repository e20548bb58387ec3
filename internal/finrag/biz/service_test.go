package biz

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/finrag/internal/finrag/store"
)

func TestService_Stats(t *testing.T) {
	t.Run("汇总知识库与缓存统计", func(t *testing.T) {
		vs := &fakeVectorStore{hits: []store.SearchHit{{Text: "a"}, {Text: "b"}}}
		svc := NewService(nil, nil, nil, nil, vs)

		stats, err := svc.Stats(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(2), stats.KnowledgeBase.RecordCount)
		assert.Equal(t, false, stats.Cache["enabled"])
	})
}
