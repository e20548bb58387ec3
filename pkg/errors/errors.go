// Package errors provides structured error codes for the finrag service.
//
// Error Code Format: AABBCCC (7 digits)
//
//	AA  (00-99): Service/Module code
//	BB  (00-99): Category code
//	CCC (000-999): Sequence number within the category
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Category codes (BB).
const (
	CategoryRequest  = 1  // 请求/校验错误 (400)
	CategoryResource = 4  // 资源不存在 (404)
	CategoryInternal = 7  // 内部错误 (500)
	CategoryNetwork  = 10 // 网络/连通性错误 (502/503)
	CategoryTimeout  = 11 // 超时错误 (504)
)

// ServiceRetrieval is the service code for the retrieval service.
const ServiceRetrieval = 21

// MakeCode builds an AABBCCC error code.
func MakeCode(service, category, seq int) int {
	return service*100000 + category*1000 + seq
}

// Errno represents a structured error with code and messages.
type Errno struct {
	// Code is the unique error code.
	Code int `json:"code"`

	// HTTP is the HTTP status code to return.
	HTTP int `json:"-"`

	// MessageEN is the English error message.
	MessageEN string `json:"message"`

	// MessageZH is the Chinese error message.
	MessageZH string `json:"message_zh,omitempty"`

	cause error
}

// New creates a new Errno.
func New(code, httpStatus int, messageEN, messageZH string) *Errno {
	return &Errno{
		Code:      code,
		HTTP:      httpStatus,
		MessageEN: messageEN,
		MessageZH: messageZH,
	}
}

// Error implements the error interface.
func (e *Errno) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.MessageEN, e.cause)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.MessageEN)
}

// Unwrap returns the underlying cause.
func (e *Errno) Unwrap() error {
	return e.cause
}

// Is reports whether target is an Errno with the same code.
func (e *Errno) Is(target error) bool {
	var t *Errno
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// WithMessage returns a copy with a more specific English message.
func (e *Errno) WithMessage(format string, args ...any) *Errno {
	clone := *e
	clone.MessageEN = fmt.Sprintf(format, args...)
	return &clone
}

// WithCause returns a copy carrying the underlying error.
func (e *Errno) WithCause(err error) *Errno {
	clone := *e
	clone.cause = err
	return &clone
}

// Predefined retrieval service errors.
var (
	// ErrInvalidRequest 请求参数无效（空查询、不支持的输入）。
	ErrInvalidRequest = New(MakeCode(ServiceRetrieval, CategoryRequest, 1), http.StatusBadRequest, "Invalid request parameters", "请求参数无效")

	// ErrEmptyQuery 查询内容为空。
	ErrEmptyQuery = New(MakeCode(ServiceRetrieval, CategoryRequest, 2), http.StatusBadRequest, "Query must not be empty", "查询内容不能为空")

	// ErrUnsupportedFormat 不支持的文档格式。
	ErrUnsupportedFormat = New(MakeCode(ServiceRetrieval, CategoryRequest, 3), http.StatusBadRequest, "Unsupported document format", "不支持的文档格式")

	// ErrNoResults 未检索到结果。非失败：调用方需要显式处理空结果。
	ErrNoResults = New(MakeCode(ServiceRetrieval, CategoryResource, 1), http.StatusNotFound, "No results found", "未找到相关内容")

	// ErrRetrievalFailed 检索失败。
	ErrRetrievalFailed = New(MakeCode(ServiceRetrieval, CategoryInternal, 1), http.StatusInternalServerError, "Retrieval failed", "检索失败")

	// ErrIngestFailed 文档入库失败。
	ErrIngestFailed = New(MakeCode(ServiceRetrieval, CategoryInternal, 2), http.StatusInternalServerError, "Document ingestion failed", "文档入库失败")

	// ErrIndexUnavailable 向量库不可达（重试耗尽后的连通性错误）。
	ErrIndexUnavailable = New(MakeCode(ServiceRetrieval, CategoryNetwork, 1), http.StatusServiceUnavailable, "Vector index unavailable", "向量库不可用")

	// ErrEmbeddingFailed 嵌入服务调用失败。
	ErrEmbeddingFailed = New(MakeCode(ServiceRetrieval, CategoryNetwork, 2), http.StatusServiceUnavailable, "Embedding backend unavailable", "嵌入服务不可用")

	// ErrQueryTimeout 查询超时。
	ErrQueryTimeout = New(MakeCode(ServiceRetrieval, CategoryTimeout, 1), http.StatusRequestTimeout, "Query timeout", "查询超时")
)
