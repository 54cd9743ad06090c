package jsonutil

import (
	"strings"

	"github.com/tidwall/gjson"
)

const codeFence = "```"

// ExtractJSON 从模型回复中提取第一个合法的 JSON 值（对象或数组）。
func ExtractJSON(raw string) (string, bool) {
	for _, c := range Candidates(raw) {
		if gjson.Valid(c) {
			return c, true
		}
	}
	return "", false
}

// Candidates 按出现顺序列出回复里所有括号平衡的 {...} / [...] 片段。
// ``` 代码块内的片段排在最前；正文里每个 { 或 [ 都会作为起点尝试一次，
// 因此 "[bullish]" 这类说明文字不会挡住后面真正的 JSON。
func Candidates(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var out []string
	seen := make(map[string]struct{})
	add := func(list []string) {
		for _, s := range list {
			if _, dup := seen[s]; dup {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	if block, ok := fencedBlock(raw); ok {
		add(scanBalanced(block))
	}
	add(scanBalanced(raw))
	return out
}

func fencedBlock(raw string) (string, bool) {
	start := strings.Index(raw, codeFence)
	if start == -1 {
		return "", false
	}
	rest := raw[start+len(codeFence):]
	end := strings.Index(rest, codeFence)
	if end == -1 {
		return "", false
	}
	block := strings.TrimLeft(rest[:end], "\r\n")
	// 去掉 ```json 之类的语言标记
	if idx := strings.Index(block, "\n"); idx != -1 {
		first := strings.TrimSpace(block[:idx])
		if first != "" && !strings.ContainsAny(first, "[{") {
			block = block[idx+1:]
		}
	}
	block = strings.TrimSpace(block)
	return block, block != ""
}

func scanBalanced(raw string) []string {
	var out []string
	for i := 0; i < len(raw); i++ {
		if raw[i] != '{' && raw[i] != '[' {
			continue
		}
		if s, ok := balancedAt(raw, i); ok {
			out = append(out, s)
		}
	}
	return out
}

// balancedAt 从 start 处的括号开始按深度截取，字符串内的括号不计数。
func balancedAt(raw string, start int) (string, bool) {
	open := raw[start]
	closeCh := byte('}')
	if open == '[' {
		closeCh = ']'
	}
	depth := 0
	inString := false
	escape := false
	for i := start; i < len(raw); i++ {
		ch := raw[i]
		if inString {
			switch {
			case escape:
				escape = false
			case ch == '\\':
				escape = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case open:
			depth++
		case closeCh:
			depth--
			if depth == 0 {
				return strings.TrimSpace(raw[start : i+1]), true
			}
		}
	}
	return "", false
}
