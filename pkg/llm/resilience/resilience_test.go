package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/finrag/pkg/llm/resilience"
)

func TestRetry(t *testing.T) {
	t.Run("首次成功不重试", func(t *testing.T) {
		calls := 0
		err := resilience.Retry(context.Background(), resilience.FixedRetryConfig(3, time.Millisecond), func() error {
			calls++
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("失败后重试直到成功", func(t *testing.T) {
		calls := 0
		err := resilience.Retry(context.Background(), resilience.FixedRetryConfig(3, time.Millisecond), func() error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("次数耗尽返回最后错误", func(t *testing.T) {
		calls := 0
		boom := errors.New("boom")
		err := resilience.Retry(context.Background(), resilience.FixedRetryConfig(3, time.Millisecond), func() error {
			calls++
			return boom
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 3, calls)
	})

	t.Run("不可重试错误直接返回", func(t *testing.T) {
		calls := 0
		fatal := errors.New("fatal")
		cfg := resilience.FixedRetryConfig(5, time.Millisecond)
		cfg.RetryableErrors = func(err error) bool { return !errors.Is(err, fatal) }

		err := resilience.Retry(context.Background(), cfg, func() error {
			calls++
			return fatal
		})
		require.ErrorIs(t, err, fatal)
		assert.Equal(t, 1, calls)
	})

	t.Run("上下文取消中止等待", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := resilience.Retry(ctx, resilience.FixedRetryConfig(3, time.Minute), func() error {
			return errors.New("transient")
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}
