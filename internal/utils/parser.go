package utils

import (
	"encoding/json"
	"strings"
	"unicode"
)

// ExtractJSON 从 LLM 输出中提取 JSON 文本
// 模型经常把 JSON 包在 ```json 代码块里，或者在前后加说明文字，
// 这里统一剥掉围栏并截取首个 { 到末个 } 之间的内容
func ExtractJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if idx := strings.Index(s, "```"); idx >= 0 {
		s = s[idx+3:]
		// 去掉语言标记行（json / JSON）
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			first := strings.TrimSpace(s[:nl])
			if strings.EqualFold(first, "json") || first == "" {
				s = s[nl+1:]
			}
		}
		if end := strings.LastIndex(s, "```"); end >= 0 {
			s = s[:end]
		}
	}

	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start >= 0 && end > start {
		s = s[start : end+1]
	}
	return strings.TrimSpace(s)
}

// NormalizePersonality 规范化角色性格字段
// 来源数据可能是 JSON 数组、逗号/顿号分隔串或普通字符串，统一成字符串列表：
// 1. 尝试结构化解析；2. 按分隔符拆分；3. 退化为单元素列表
func NormalizePersonality(raw any) []string {
	switch v := raw.(type) {
	case nil:
		return nil
	case []string:
		return trimNonEmpty(v)
	case []any:
		items := make([]string, 0, len(v))
		for _, it := range v {
			if s, ok := it.(string); ok {
				items = append(items, s)
			}
		}
		return trimNonEmpty(items)
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil
		}
		// 字符串本身可能是一段 JSON 数组
		if strings.HasPrefix(s, "[") {
			var arr []string
			if err := json.Unmarshal([]byte(s), &arr); err == nil {
				return trimNonEmpty(arr)
			}
		}
		if strings.ContainsAny(s, ",，、;；") {
			parts := strings.FieldsFunc(s, func(r rune) bool {
				return r == ',' || r == '，' || r == '、' || r == ';' || r == '；'
			})
			return trimNonEmpty(parts)
		}
		return []string{s}
	default:
		return nil
	}
}

func trimNonEmpty(items []string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if t := strings.TrimSpace(it); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// CountWords 统计字数：中文按字符计数，拉丁文按空白分词计数
func CountWords(text string) int {
	count := 0
	inWord := false
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			count++
			inWord = false
		case unicode.IsSpace(r) || unicode.IsPunct(r):
			inWord = false
		default:
			if !inWord {
				count++
				inWord = true
			}
		}
	}
	return count
}
