// Package extractor 将文档文件抽取为有序的 (页码, 文本) 对。
//
// 核心流水线只依赖这一表示；分页格式（PDF 等）的解析属于外部协作方，
// 这里内置 Markdown 和纯文本两种非分页格式，页码统一为 0。
package extractor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kart-io/finrag/internal/pkg/chunker"
	"github.com/kart-io/finrag/pkg/errors"
)

// PageExtractor 抽取文档为有序页列表。
type PageExtractor interface {
	// ExtractPages 返回文档的有序 (页码, 文本) 列表。
	ExtractPages(path string) ([]chunker.Page, error)

	// Supports 返回是否支持该扩展名（含点，小写）。
	Supports(ext string) bool
}

// flatText 非分页格式抽取器：整个文件作为第 0 页。
type flatText struct {
	exts []string
}

func (e *flatText) Supports(ext string) bool {
	for _, s := range e.exts {
		if s == ext {
			return true
		}
	}
	return false
}

func (e *flatText) ExtractPages(path string) ([]chunker.Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取文件失败: %w", err)
	}
	return []chunker.Page{{Number: 0, Text: string(data)}}, nil
}

var defaultExtractors = []PageExtractor{
	&flatText{exts: []string{".md", ".markdown", ".txt"}},
}

// Extract 根据扩展名选择抽取器并抽取页列表。
// 不支持的格式返回校验错误，不会崩溃。
func Extract(path string) ([]chunker.Page, error) {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range defaultExtractors {
		if e.Supports(ext) {
			return e.ExtractPages(path)
		}
	}
	return nil, errors.ErrUnsupportedFormat.WithMessage("unsupported document format: %s", ext)
}

// SupportedExtensions 返回当前支持的扩展名列表。
func SupportedExtensions() []string {
	var exts []string
	for _, e := range defaultExtractors {
		if ft, ok := e.(*flatText); ok {
			exts = append(exts, ft.exts...)
		}
	}
	return exts
}
