package domain

import (
	"strings"
	"time"
)

// SearchQuery 从自由文本解析出的搜索条件
//
// 语法：`facet:value` 词元加裸关键词。支持的 facet 为
// from: / to: / subject:（子串匹配）与 after: / before:（日期边界，
// 接受 2006-01-02 或 RFC3339）。包含空格或冒号的值必须用双引号
// 包裹，引号内用 \" 表示字面引号；未闭合的引号吞掉余下全部输入。
// 裸关键词之间按 OR 匹配主题或正文，再与各 facet 条件 AND。
type SearchQuery struct {
	From     string
	To       string
	Subject  string
	After    *time.Time
	Before   *time.Time
	Keywords []string
}

// Empty 判断查询是否不含任何条件
func (q *SearchQuery) Empty() bool {
	return q.From == "" && q.To == "" && q.Subject == "" &&
		q.After == nil && q.Before == nil && len(q.Keywords) == 0
}

// Matches 判断邮件是否满足全部条件（内存实现使用）
func (q *SearchQuery) Matches(msg *Message) bool {
	if q.From != "" && !containsFold(msg.FromAddress, q.From) {
		return false
	}
	if q.To != "" && !containsFold(msg.ToAddress, q.To) {
		return false
	}
	if q.Subject != "" && !containsFold(msg.Subject, q.Subject) {
		return false
	}
	if q.After != nil && msg.CreatedAt.Before(*q.After) {
		return false
	}
	if q.Before != nil && !msg.CreatedAt.Before(*q.Before) {
		return false
	}
	if len(q.Keywords) > 0 {
		hit := false
		for _, kw := range q.Keywords {
			if containsFold(msg.Subject, kw) || containsFold(msg.BodyText, kw) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	return true
}

// ParseSearchQuery 将自由文本解析为结构化搜索条件
func ParseSearchQuery(input string) *SearchQuery {
	query := &SearchQuery{}
	for _, token := range tokenizeQuery(input) {
		facet, value, ok := splitFacet(token)
		if !ok {
			query.Keywords = append(query.Keywords, token)
			continue
		}
		switch facet {
		case "from":
			query.From = value
		case "to":
			query.To = value
		case "subject":
			query.Subject = value
		case "after":
			if t, err := parseDateBound(value); err == nil {
				query.After = &t
			}
		case "before":
			if t, err := parseDateBound(value); err == nil {
				query.Before = &t
			}
		default:
			// 未知 facet 整体按关键词处理
			query.Keywords = append(query.Keywords, token)
		}
	}
	return query
}

// tokenizeQuery 按空白切分输入，双引号内的内容视为单个词元
//
// 引号可出现在 facet 值的位置（`from:"a b"`）或词元开头；
// `\"` 为字面引号。词元结果中不保留包裹引号。
func tokenizeQuery(input string) []string {
	var tokens []string
	var cur strings.Builder
	inQuotes := false
	escaped := false

	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}

	for _, r := range input {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\' && inQuotes:
			escaped = true
		case r == '"':
			inQuotes = !inQuotes
		case !inQuotes && (r == ' ' || r == '\t' || r == '\n'):
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return tokens
}

// splitFacet 拆分 facet:value 词元；值为空或没有冒号时返回 false
func splitFacet(token string) (facet, value string, ok bool) {
	i := strings.IndexByte(token, ':')
	if i <= 0 || i == len(token)-1 {
		return "", "", false
	}
	return strings.ToLower(token[:i]), token[i+1:], true
}

// parseDateBound 解析日期边界，接受纯日期或 RFC3339
func parseDateBound(value string) (time.Time, error) {
	if t, err := time.Parse(QuotaDateLayout, value); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// containsFold 不区分大小写的子串匹配
func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// MessageQuery 邮件列表查询条件，所有过滤条件按 AND 组合
type MessageQuery struct {
	BotID      string
	Direction  *Direction   // 可选方向过滤
	UnreadOnly bool         // 仅未读（隐含 inbound）
	Search     *SearchQuery // 可选搜索 DSL
	Limit      int          // 每页条数，1-100
	Cursor     string       // 上一页最后一条的 ID
}

// MessagePage 游标分页结果，按创建时间倒序
type MessagePage struct {
	Messages   []Message `json:"messages"`
	HasMore    bool      `json:"hasMore"`
	NextCursor string    `json:"nextCursor,omitempty"`
}
