package llm_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/finrag/pkg/llm"
)

// stubProvider 仅用于注册表测试的空实现。
type stubProvider struct{}

func (s *stubProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, nil
}

func (s *stubProvider) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	return nil, nil
}

func (s *stubProvider) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	return "", nil
}

func (s *stubProvider) Generate(ctx context.Context, prompt, systemPrompt string) (string, error) {
	return "", nil
}

func (s *stubProvider) Name() string { return "stub" }

func TestProviderRegistry(t *testing.T) {
	llm.RegisterProvider("stub", func(config map[string]any) (llm.Provider, error) {
		return &stubProvider{}, nil
	})
	llm.RegisterProvider("broken", func(config map[string]any) (llm.Provider, error) {
		return nil, fmt.Errorf("invalid base_url")
	})

	t.Run("已注册供应商可创建", func(t *testing.T) {
		p, err := llm.NewEmbeddingProvider("stub", nil)
		require.NoError(t, err)
		assert.Equal(t, "stub", p.Name())
	})

	t.Run("工厂错误原样传递", func(t *testing.T) {
		_, err := llm.NewEmbeddingProvider("broken", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid base_url")

		_, err = llm.NewChatProvider("broken", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid base_url")
	})

	t.Run("未注册供应商报告可用列表", func(t *testing.T) {
		_, err := llm.NewChatProvider("missing", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown provider: missing")
		assert.Contains(t, err.Error(), "stub")
	})

	t.Run("供应商列表按字典序排序", func(t *testing.T) {
		names := llm.ListProviders()
		assert.Contains(t, names, "stub")
		assert.Contains(t, names, "broken")
		assert.IsNonDecreasing(t, names)
	})
}
