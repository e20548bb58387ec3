package biz

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/kart-io/logger"

	"github.com/kart-io/finrag/internal/finrag/store"
	"github.com/kart-io/finrag/internal/pkg/textutil"
	"github.com/kart-io/finrag/pkg/infra/pool"
	"github.com/kart-io/finrag/pkg/llm"
)

// 评分回退时使用的理由。
const (
	reasonNoJSON       = "无法解析LLM响应"
	reasonBadJSON      = "LLM响应格式错误"
	reasonMissingScore = "默认评分（LLM响应不完整）"
)

// 回退时的中性相关性评分。
const defaultRelevanceScore = 0.5

// 送入 LLM 评分的单块文本截断长度。
const maxScoringTextLen = 500

// RerankedHit 携带 LLM 相关性评分的检索命中。
type RerankedHit struct {
	store.SearchHit

	// RelevanceScore LLM 给出的相关性评分，[0,1]。
	RelevanceScore float64 `json:"relevance_score"`
	// Reasoning 评分理由。
	Reasoning string `json:"reasoning"`
	// CombinedScore 融合向量相似度与 LLM 评分的最终得分，[0,1]。
	CombinedScore float64 `json:"combined_score"`
}

const singleScoreSystemPrompt = "你是一个专业的文档相关性评分专家。请只返回JSON格式的评分结果。"

const singleScorePromptTemplate = `你是一个专业的文档相关性评分专家。请评估以下文本块与用户查询的相关性。

用户查询：%s

文本块内容：
%s

请从以下几个维度评估相关性：
1. 内容相关性：文本块内容与查询主题的匹配程度
2. 信息完整性：文本块是否包含回答查询所需的关键信息
3. 语义相似性：文本块与查询在语义上的相似程度

请给出0到1之间的相关性评分，并简要说明理由。

返回格式（只返回JSON）：
{"relevance_score": 0.85, "reasoning": "评分理由"}`

const batchScoreSystemPrompt = "你是一个专业的文档相关性评分专家。请只返回JSON格式的批量评分结果。"

const batchScorePromptTemplate = `你是一个专业的文档相关性评分专家。请评估以下文本块与用户查询的相关性。

用户查询：%s

文本块列表：
%s

请为每个文本块给出0到1之间的相关性评分。

返回格式（只返回JSON）：
{"block_rankings": [{"relevance_score": 0.85, "reasoning": "评分理由"}]}`

// judgment 单个文本块的评分结论。LLM 调用本身失败时 failed 为 true，
// 与解析失败（有响应但不可用）区分开。
type judgment struct {
	score     float64
	reasoning string
	failed    bool
}

type scoreResponse struct {
	RelevanceScore float64 `json:"relevance_score"`
	Reasoning      string  `json:"reasoning"`
}

type batchScoreResponse struct {
	BlockRankings []scoreResponse `json:"block_rankings"`
}

// Reranker 用 LLM 对向量检索结果做二次相关性排序。
type Reranker struct {
	chat      llm.ChatProvider
	pool      *pool.Pool
	batchSize int
	llmWeight float64
}

// NewReranker 创建重排序器。batchSize 为 1 时逐块并发评分，
// 大于 1 时按批次调用；llmWeight 是融合得分中 LLM 评分的权重。
func NewReranker(chat llm.ChatProvider, p *pool.Pool, batchSize int, llmWeight float64) *Reranker {
	if batchSize < 1 {
		batchSize = 1
	}
	if llmWeight < 0 || llmWeight > 1 {
		llmWeight = 0.7
	}
	return &Reranker{chat: chat, pool: p, batchSize: batchSize, llmWeight: llmWeight}
}

// Rerank 对命中列表做 LLM 重排序，按融合得分降序返回。
// 该方法从不返回错误：单块评分失败回退为中性评分；全部 LLM 调用
// 失败时退化为仅按向量相似度打分，保持输入顺序。
func (r *Reranker) Rerank(ctx context.Context, query string, hits []store.SearchHit) []RerankedHit {
	if len(hits) == 0 {
		return []RerankedHit{}
	}

	var judgments []judgment
	if r.batchSize == 1 {
		judgments = r.scoreConcurrent(ctx, query, hits)
	} else {
		judgments = r.scoreBatched(ctx, query, hits)
	}

	allFailed := true
	for _, j := range judgments {
		if !j.failed {
			allFailed = false
			break
		}
	}
	if allFailed {
		logger.Warnw("重排序整体失败，退化为向量相似度排序", "query", query, "hits", len(hits))
		return vectorOnlyHits(hits)
	}

	reranked := make([]RerankedHit, len(hits))
	for i, hit := range hits {
		score := clamp01(judgments[i].score)
		reranked[i] = RerankedHit{
			SearchHit:      hit,
			RelevanceScore: score,
			Reasoning:      judgments[i].reasoning,
			CombinedScore:  r.combineScore(score, hit.Distance),
		}
	}

	sort.SliceStable(reranked, func(i, j int) bool {
		return reranked[i].CombinedScore > reranked[j].CombinedScore
	})
	return reranked
}

// scoreConcurrent 逐块评分，任务提交到协程池并发执行。
func (r *Reranker) scoreConcurrent(ctx context.Context, query string, hits []store.SearchHit) []judgment {
	judgments := make([]judgment, len(hits))
	var wg sync.WaitGroup

	for i := range hits {
		i := i
		wg.Add(1)
		task := func() {
			defer wg.Done()
			judgments[i] = r.scoreSingle(ctx, query, hits[i].Text)
		}
		if err := r.pool.Submit(task); err != nil {
			// 池已关闭或过载时在当前协程内评分。
			task()
		}
	}

	wg.Wait()
	return judgments
}

// scoreSingle 对单个文本块评分。
func (r *Reranker) scoreSingle(ctx context.Context, query, text string) judgment {
	prompt := fmt.Sprintf(singleScorePromptTemplate, query, textutil.TruncateString(text, maxScoringTextLen))
	content, err := r.chat.Chat(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: singleScoreSystemPrompt},
		{Role: llm.RoleUser, Content: prompt},
	})
	if err != nil {
		logger.Warnw("单块评分调用失败，使用默认评分", "error", err.Error())
		return judgment{score: defaultRelevanceScore, reasoning: "重排序失败: " + err.Error(), failed: true}
	}
	return parseScoreResponse(content)
}

// scoreBatched 按批次评分，各批次提交到协程池并发执行。
func (r *Reranker) scoreBatched(ctx context.Context, query string, hits []store.SearchHit) []judgment {
	judgments := make([]judgment, len(hits))
	var wg sync.WaitGroup

	for start := 0; start < len(hits); start += r.batchSize {
		end := start + r.batchSize
		if end > len(hits) {
			end = len(hits)
		}
		start, end := start, end

		wg.Add(1)
		task := func() {
			defer wg.Done()
			batch := r.scoreBatch(ctx, query, hits[start:end])
			copy(judgments[start:end], batch)
		}
		if err := r.pool.Submit(task); err != nil {
			task()
		}
	}

	wg.Wait()
	return judgments
}

// scoreBatch 一次 LLM 调用为一个批次的所有文本块评分。
// 响应中评分数量不足时，缺失的块补中性评分。
func (r *Reranker) scoreBatch(ctx context.Context, query string, hits []store.SearchHit) []judgment {
	var blocks []string
	for i, hit := range hits {
		blocks = append(blocks, fmt.Sprintf("文本块 %d：\n%s", i+1, textutil.TruncateString(hit.Text, maxScoringTextLen)))
	}
	prompt := fmt.Sprintf(batchScorePromptTemplate, query, strings.Join(blocks, "\n\n---\n\n"))

	judgments := make([]judgment, len(hits))
	content, err := r.chat.Chat(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: batchScoreSystemPrompt},
		{Role: llm.RoleUser, Content: prompt},
	})
	if err != nil {
		logger.Warnw("批量评分调用失败，使用默认评分", "batch_size", len(hits), "error", err.Error())
		for i := range judgments {
			judgments[i] = judgment{score: defaultRelevanceScore, reasoning: "重排序失败: " + err.Error(), failed: true}
		}
		return judgments
	}

	raw, ok := extractJSON(content)
	if !ok {
		for i := range judgments {
			judgments[i] = judgment{score: defaultRelevanceScore, reasoning: reasonNoJSON}
		}
		return judgments
	}

	var parsed batchScoreResponse
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		logger.Warnw("批量评分响应解析失败", "error", err.Error())
		for i := range judgments {
			judgments[i] = judgment{score: defaultRelevanceScore, reasoning: reasonBadJSON}
		}
		return judgments
	}

	for i := range judgments {
		if i < len(parsed.BlockRankings) {
			judgments[i] = judgment{
				score:     parsed.BlockRankings[i].RelevanceScore,
				reasoning: parsed.BlockRankings[i].Reasoning,
			}
		} else {
			judgments[i] = judgment{score: defaultRelevanceScore, reasoning: reasonMissingScore}
		}
	}
	return judgments
}

// parseScoreResponse 解析单块评分响应。
func parseScoreResponse(content string) judgment {
	raw, ok := extractJSON(content)
	if !ok {
		return judgment{score: defaultRelevanceScore, reasoning: reasonNoJSON}
	}

	var parsed scoreResponse
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return judgment{score: defaultRelevanceScore, reasoning: reasonBadJSON}
	}
	return judgment{score: parsed.RelevanceScore, reasoning: parsed.Reasoning}
}

// extractJSON 从 LLM 响应中提取首个 '{' 到末个 '}' 的 JSON 片段。
// 响应常被代码围栏或说明文字包裹，不能直接反序列化。
func extractJSON(content string) (string, bool) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return "", false
	}
	return content[start : end+1], true
}

// combineScore 融合 LLM 评分与向量相似度。距离超过 1 时相似度取 0，
// 避免产生负的融合得分。结果保留四位小数。
func (r *Reranker) combineScore(relevance float64, distance float32) float64 {
	similarity := clamp01(1 - float64(distance))
	return round4(r.llmWeight*relevance + (1-r.llmWeight)*similarity)
}

// vectorOnlyHits 重排序整体失败时的退化结果：保持输入顺序，
// 融合得分只含向量相似度分量。
func vectorOnlyHits(hits []store.SearchHit) []RerankedHit {
	reranked := make([]RerankedHit, len(hits))
	for i, hit := range hits {
		reranked[i] = RerankedHit{
			SearchHit:      hit,
			RelevanceScore: defaultRelevanceScore,
			Reasoning:      "重排序不可用，使用向量相似度排序",
			CombinedScore:  round4(clamp01(1 - float64(hit.Distance))),
		}
	}
	return reranked
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
