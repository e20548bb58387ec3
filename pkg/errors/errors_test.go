package errors_test

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kart-io/finrag/pkg/errors"
)

func TestErrno(t *testing.T) {
	t.Run("错误码格式为AABBCCC", func(t *testing.T) {
		assert.Equal(t, 2101002, errors.ErrEmptyQuery.Code)
		assert.Equal(t, 2110002, errors.ErrEmbeddingFailed.Code)
	})

	t.Run("WithCause保留原始错误链", func(t *testing.T) {
		cause := fmt.Errorf("connection refused")
		err := errors.ErrRetrievalFailed.WithCause(cause)

		assert.ErrorIs(t, err, errors.ErrRetrievalFailed)
		assert.Equal(t, cause, stderrors.Unwrap(err))
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("WithMessage不改变错误码", func(t *testing.T) {
		err := errors.ErrUnsupportedFormat.WithMessage("unsupported document format: %s", ".docx")

		assert.ErrorIs(t, err, errors.ErrUnsupportedFormat)
		assert.Contains(t, err.Error(), ".docx")
		assert.Equal(t, errors.ErrUnsupportedFormat.Code, err.Code)
	})

	t.Run("不同错误码互不匹配", func(t *testing.T) {
		assert.NotErrorIs(t, errors.ErrEmptyQuery, errors.ErrNoResults)
	})

	t.Run("HTTP状态码映射", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, errors.ErrEmptyQuery.HTTP)
		assert.Equal(t, http.StatusServiceUnavailable, errors.ErrIndexUnavailable.HTTP)
		assert.Equal(t, http.StatusRequestTimeout, errors.ErrQueryTimeout.HTTP)
	})
}
