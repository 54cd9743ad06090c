package jsonutil

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Pretty 把 JSON 文本或任意可序列化的值输出为缩进 JSON；无法解析的文本原样返回。
func Pretty(v any) string {
	var raw string
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		raw = t
	case []byte:
		raw = string(t)
	default:
		buf, err := json.MarshalIndent(t, "", "  ")
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(buf)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return raw
	}
	var parsed any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return raw
	}
	buf, err := json.MarshalIndent(parsed, "", "  ")
	if err != nil {
		return raw
	}
	return string(buf)
}
