package biz

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/kart-io/logger"

	"github.com/kart-io/finrag/internal/pkg/textutil"
	"github.com/kart-io/finrag/pkg/llm"
)

// 重写策略。
const (
	StrategyAuto     = "auto"
	StrategyExpand   = "expand"
	StrategySimplify = "simplify"
)

// 解析重写响应时，短于该字符数的行被丢弃。
const minRewriteLineLen = 5

// 每次重写最多返回的版本数。
const maxRewriteVersions = 5

// RewriteResult 查询重写结果。重写失败时 RewrittenQueries 恰好为
// [原始查询] 且 Success 为 false，调用方永远能拿到至少一个查询。
type RewriteResult struct {
	// OriginalQuery 原始查询。
	OriginalQuery string `json:"original_query"`
	// RewrittenQueries 重写版本列表，至少包含一项。
	RewrittenQueries []string `json:"rewritten_queries"`
	// Strategy 实际使用的策略。
	Strategy string `json:"strategy"`
	// Success 重写是否成功。
	Success bool `json:"success"`
}

// Intent 查询意图分析结果。
type Intent struct {
	// Type 查询类型：definition / how_to / why / comparison / data / general。
	Type string `json:"type"`
	// Confidence 置信度。规则命中为 0.8，未命中为 0.5。
	Confidence float64 `json:"confidence"`
	// Keywords 扩展后的关键词。
	Keywords []string `json:"keywords"`
	// Suggestions 查询建议。
	Suggestions []string `json:"suggestions"`
}

const rewriteSystemPrompt = "你是一个专业的查询重写专家。"

const rewritePromptTemplate = `你是一个专业的查询重写专家，专门优化用户问题以提升检索效果。

任务：将用户的自然语言问题重写为更适合检索的形式。

重写原则：
1. 保持原意：确保重写后的查询与原始问题语义一致
2. 增加关键词：添加相关的专业术语、同义词或相关概念
3. 结构化表达：将复杂问题拆分为更具体的查询
4. 去除冗余：移除不必要的修饰词，保留核心信息
5. 考虑上下文：如果是金融相关问题，添加金融相关术语

请将以下用户问题重写为更适合检索的形式：

原始问题：%s

请提供3个不同角度的重写版本，每个版本用不同的策略：

1. 扩展版本（添加相关术语）：
2. 结构化版本（拆分为具体查询）：
3. 简化版本（保留核心信息）：

请确保重写后的查询更适合在文档库中进行语义检索。`

const expandPromptTemplate = `你是一个查询扩展专家，负责为用户的查询添加相关的同义词、近义词和相关概念。

任务：为给定的查询添加相关的词汇，以提升检索的召回率。

请为以下查询进行扩展：

原始查询：%s

请提供扩展后的查询，包含原始词汇和相关词汇，用空格分隔：

扩展查询：`

// financialTerms 金融术语同义词表，按子串匹配查询词。
// 有序定义，保证扩展结果在截断时也是确定的。
var financialTerms = []struct {
	term       string
	expansions []string
}{
	{"投资", []string{"投资", "投资策略", "投资组合", "投资风险", "投资收益"}},
	{"股票", []string{"股票", "股价", "股票市场", "股票投资", "股票分析"}},
	{"基金", []string{"基金", "投资基金", "基金净值", "基金收益", "基金风险"}},
	{"债券", []string{"债券", "债券投资", "债券收益", "债券风险", "债券市场"}},
	{"风险", []string{"风险", "风险管理", "风险评估", "风险控制", "投资风险"}},
	{"收益", []string{"收益", "收益率", "投资收益", "收益分析", "收益预测"}},
	{"市场", []string{"市场", "市场分析", "市场趋势", "市场风险", "市场预测"}},
	{"分析", []string{"分析", "财务分析", "技术分析", "基本面分析", "投资分析"}},
	{"报告", []string{"报告", "财务报告", "年度报告", "季度报告", "分析报告"}},
	{"财务", []string{"财务", "财务状况", "财务指标", "财务分析", "财务报表"}},
}

// QueryRewriter 通过 LLM 生成查询的替代表述以扩大召回。
type QueryRewriter struct {
	chat llm.ChatProvider
}

// NewQueryRewriter 创建查询重写器。
func NewQueryRewriter(chat llm.ChatProvider) *QueryRewriter {
	return &QueryRewriter{chat: chat}
}

// Rewrite 重写查询。该方法从不返回错误：LLM 调用失败或解析不出
// 任何可用行时，结果退化为 [原始查询] 且 Success=false。
func (r *QueryRewriter) Rewrite(ctx context.Context, query, strategy string) *RewriteResult {
	fallback := &RewriteResult{
		OriginalQuery:    query,
		RewrittenQueries: []string{query},
		Strategy:         strategy,
		Success:          false,
	}

	if strings.TrimSpace(query) == "" {
		return fallback
	}

	if strategy == StrategyAuto {
		return r.rewriteMultiple(ctx, query, fallback)
	}
	return r.rewriteSingle(ctx, query, strategy, fallback)
}

// rewriteMultiple 一次 LLM 调用生成扩展、结构化、简化三个角度的重写。
func (r *QueryRewriter) rewriteMultiple(ctx context.Context, query string, fallback *RewriteResult) *RewriteResult {
	content, err := r.chat.Chat(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: rewriteSystemPrompt},
		{Role: llm.RoleUser, Content: fmt.Sprintf(rewritePromptTemplate, query)},
	})
	if err != nil {
		logger.Warnw("查询重写调用失败，使用原始查询", "query", query, "error", err.Error())
		return fallback
	}

	queries := parseRewriteResponse(content)
	if len(queries) == 0 {
		logger.Warnw("查询重写响应无可用内容，使用原始查询", "query", query)
		return fallback
	}

	logger.Debugw("查询重写成功", "query", query, "versions", len(queries))
	return &RewriteResult{
		OriginalQuery:    query,
		RewrittenQueries: queries,
		Strategy:         StrategyAuto,
		Success:          true,
	}
}

// rewriteSingle 单策略重写，只提取第一个可用的清洗行。
func (r *QueryRewriter) rewriteSingle(ctx context.Context, query, strategy string, fallback *RewriteResult) *RewriteResult {
	var prompt string
	if strategy == StrategyExpand {
		prompt = fmt.Sprintf(expandPromptTemplate, query)
	} else {
		prompt = fmt.Sprintf("请使用%s策略重写以下查询：\n\n原始查询：%s\n\n重写后的查询：", strategy, query)
	}

	content, err := r.chat.Chat(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: rewriteSystemPrompt},
		{Role: llm.RoleUser, Content: prompt},
	})
	if err != nil {
		logger.Warnw("查询重写调用失败，使用原始查询", "query", query, "strategy", strategy, "error", err.Error())
		return fallback
	}

	rewritten := extractFirstQuery(content)
	if rewritten == "" {
		return fallback
	}

	return &RewriteResult{
		OriginalQuery:    query,
		RewrittenQueries: []string{rewritten},
		Strategy:         strategy,
		Success:          true,
	}
}

var (
	bareListMarkerRegex = regexp.MustCompile(`^\d+[.、)]?$`)
	leadingNumberRegex  = regexp.MustCompile(`^\d+[.、)]\s*`)
	leadingColonRegex   = regexp.MustCompile(`^[：:]\s*`)
)

// parseRewriteResponse 按行防御性解析 LLM 的重写响应。
// 跳过空行、标题行（以冒号结尾或仅为列表标号）和项目符号行；
// 其余行清洗后保留长度达标者，按首次出现顺序去重，最多 5 条。
func parseRewriteResponse(content string) []string {
	var queries []string
	seen := make(map[string]bool)

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasSuffix(line, "：") || strings.HasSuffix(line, ":") {
			continue
		}
		if bareListMarkerRegex.MatchString(line) {
			continue
		}
		if strings.HasPrefix(line, "-") || strings.HasPrefix(line, "•") || strings.HasPrefix(line, "*") {
			continue
		}

		query := cleanQueryText(line)
		if utf8.RuneCountInString(query) <= minRewriteLineLen {
			continue
		}
		if seen[query] {
			continue
		}
		seen[query] = true
		queries = append(queries, query)

		if len(queries) >= maxRewriteVersions {
			break
		}
	}

	return queries
}

// extractFirstQuery 提取响应中第一个可用的清洗行。
func extractFirstQuery(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "扩展查询：") || strings.HasPrefix(line, "重写后的查询：") {
			continue
		}
		if strings.HasSuffix(line, "：") || strings.HasSuffix(line, ":") {
			continue
		}

		query := cleanQueryText(line)
		if utf8.RuneCountInString(query) > minRewriteLineLen {
			return query
		}
	}
	return ""
}

// cleanQueryText 清洗单行：去掉前导冒号与编号、引号，压缩空白。
func cleanQueryText(text string) string {
	text = leadingColonRegex.ReplaceAllString(text, "")
	text = leadingNumberRegex.ReplaceAllString(text, "")
	text = strings.Trim(text, `"'“”`)
	return textutil.CollapseWhitespace(text)
}

// ExpandQueryKeywords 扩展查询关键词：查询自身的词加上金融同义词表
// 中子串匹配到的扩展词（每个术语取前 2 个），去重后最多 10 个。
func (r *QueryRewriter) ExpandQueryKeywords(query string) []string {
	base := strings.Fields(query)

	keywords := make([]string, 0, len(base))
	seen := make(map[string]bool)
	add := func(k string) {
		if k == "" || seen[k] {
			return
		}
		seen[k] = true
		keywords = append(keywords, k)
	}

	for _, k := range base {
		add(k)
	}
	for _, k := range base {
		for _, ft := range financialTerms {
			if strings.Contains(k, ft.term) || strings.Contains(ft.term, k) {
				for _, e := range ft.expansions[:2] {
					add(e)
				}
			}
		}
	}

	if len(keywords) > 10 {
		keywords = keywords[:10]
	}
	return keywords
}

// 意图类型触发词。
var intentTriggers = []struct {
	typ      string
	keywords []string
}{
	{"definition", []string{"什么", "是什么", "定义", "概念"}},
	{"how_to", []string{"如何", "怎么", "方法", "步骤"}},
	{"why", []string{"为什么", "原因", "影响"}},
	{"comparison", []string{"比较", "对比", "差异"}},
	{"data", []string{"数据", "数字", "统计"}},
}

// AnalyzeIntent 规则化分析查询意图。纯确定性，无学习成分。
func (r *QueryRewriter) AnalyzeIntent(query string) *Intent {
	intent := &Intent{
		Type:       "general",
		Confidence: 0.5,
	}

	for _, trigger := range intentTriggers {
		for _, kw := range trigger.keywords {
			if strings.Contains(query, kw) {
				intent.Type = trigger.typ
				intent.Confidence = 0.8
				break
			}
		}
		if intent.Type != "general" {
			break
		}
	}

	intent.Keywords = r.ExpandQueryKeywords(query)
	intent.Suggestions = querySuggestions(query, intent.Type)
	return intent
}

// querySuggestions 按意图类型生成模板化的查询建议后缀。
func querySuggestions(query, intentType string) []string {
	var suffixes []string
	switch intentType {
	case "definition":
		suffixes = []string{"详细说明", "具体含义", "相关概念", "背景介绍"}
	case "how_to":
		suffixes = []string{"具体方法", "操作步骤", "实施流程", "注意事项"}
	case "why":
		suffixes = []string{"具体原因", "影响因素", "背景分析", "相关数据"}
	case "comparison":
		suffixes = []string{"详细对比", "差异分析", "优劣势", "选择建议"}
	case "data":
		suffixes = []string{"详细数据", "对比分析", "趋势变化", "行业对比"}
	default:
		suffixes = []string{"详细分析", "相关数据", "背景信息", "发展趋势"}
	}

	suggestions := make([]string, 0, len(suffixes))
	for _, s := range suffixes {
		suggestions = append(suggestions, query+" "+s)
	}
	return suggestions
}
