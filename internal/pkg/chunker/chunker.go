// Package chunker 将逐页抽取的原始文本切分为有界、重叠、带页码标签的文本块。
//
// 切分永远不会跨越页边界，这保证每个块的页码溯源是精确的，
// 下游的父页去重依赖这一点。
package chunker

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Page 表示抽取器产出的一页原始文本。
type Page struct {
	// Number 页码，从 0 开始。非分页格式默认为 0。
	Number int
	// Text 该页的原始文本。
	Text string
}

// Chunk 表示一个带页码标签的文本块。
type Chunk struct {
	// Text 块内容。
	Text string
	// Source 来源文档标签。
	Source string
	// Page 块所属的页码。
	Page int
	// CreatedAt 块的创建时间。
	CreatedAt time.Time
}

// Config 切分配置。
type Config struct {
	// ChunkSize 单个块的目标字符数（Unicode 字符）。
	ChunkSize int
	// ChunkOverlap 相邻块之间的重叠字符数，会换算为词数。
	ChunkOverlap int
}

// Split 将有序页列表切分为有序块列表。
//
// 逐页累积词直到运行长度达到 ChunkSize 后产出一个块，并保留尾部
// ChunkOverlap 字符对应的词窗口作为下一个块的种子。空白页被跳过；
// 短于 ChunkSize 的页恰好产出一个块。
func Split(pages []Page, source string, cfg Config) ([]Chunk, error) {
	if cfg.ChunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", cfg.ChunkSize)
	}
	overlap := cfg.ChunkOverlap
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= cfg.ChunkSize {
		overlap = cfg.ChunkSize - 1
	}

	now := time.Now()
	var chunks []Chunk

	for _, page := range pages {
		words := strings.Fields(page.Text)
		if len(words) == 0 {
			continue
		}

		var cur []string
		curLen := 0
		fresh := 0 // 自上次产出后新加入的词数

		emit := func() {
			chunks = append(chunks, Chunk{
				Text:      strings.Join(cur, " "),
				Source:    source,
				Page:      page.Number,
				CreatedAt: now,
			})
		}

		for _, w := range words {
			cur = append(cur, w)
			curLen += utf8.RuneCountInString(w) + 1
			fresh++

			if curLen >= cfg.ChunkSize {
				emit()
				cur = overlapSeed(cur, overlap)
				curLen = joinedLen(cur)
				fresh = 0
			}
		}

		// 页尾残留：短页恰好产出一个块；残留纯为重叠种子时不重复产出
		if fresh > 0 {
			emit()
		}
	}

	return chunks, nil
}

// overlapSeed 从尾部截取累计长度不超过 overlap 字符的词窗口。
func overlapSeed(words []string, overlap int) []string {
	if overlap <= 0 {
		return nil
	}

	total := 0
	i := len(words)
	for i > 0 {
		w := words[i-1]
		wLen := utf8.RuneCountInString(w) + 1
		if total+wLen > overlap {
			break
		}
		total += wLen
		i--
	}

	if i == len(words) {
		return nil
	}
	seed := make([]string, len(words)-i)
	copy(seed, words[i:])
	return seed
}

// joinedLen 返回词列表以空格连接后的字符数。
func joinedLen(words []string) int {
	if len(words) == 0 {
		return 0
	}
	total := 0
	for _, w := range words {
		total += utf8.RuneCountInString(w) + 1
	}
	return total - 1
}
