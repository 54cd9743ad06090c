package decision

import (
	"fmt"
	"strconv"
	"strings"

	"aitrader/internal/pkg/symbol"

	"github.com/tidwall/gjson"
)

// pickNode 在对象 / 数组 / {"decisions": [...]} 三种形态中选出目标 symbol 的决策对象。
// 数组中没有匹配的 symbol 时取第一个对象。
func pickNode(block, sym string) (gjson.Result, error) {
	parsed := gjson.Parse(block)
	if parsed.IsObject() {
		if list := parsed.Get("decisions"); list.Exists() {
			if !list.IsArray() {
				return gjson.Result{}, fmt.Errorf("decisions 必须是数组")
			}
			parsed = list
		} else if inner := parsed.Get("decision"); inner.IsObject() {
			parsed = inner
		}
	}
	if parsed.IsObject() {
		return parsed, nil
	}
	if !parsed.IsArray() {
		return gjson.Result{}, fmt.Errorf("根节点必须是 JSON 对象或数组")
	}
	var first, match gjson.Result
	parsed.ForEach(func(_, v gjson.Result) bool {
		if !v.IsObject() {
			return true
		}
		if !first.Exists() {
			first = v
		}
		if sym != "" && sameBase(v.Get("symbol").String(), sym) {
			match = v
			return false
		}
		return true
	})
	switch {
	case match.Exists():
		return match, nil
	case first.Exists():
		return first, nil
	default:
		return gjson.Result{}, fmt.Errorf("决策数组为空")
	}
}

// coerceNode 把模型输出整理成 schema 校验用的文档：
// 动作别名归一、数字字符串转 float64、reason/rationale 兼容为 reasoning。
func coerceNode(node gjson.Result) map[string]any {
	doc := make(map[string]any, 5)
	if v := node.Get("symbol"); v.Exists() {
		doc["symbol"] = v.String()
	}
	if v := node.Get("action"); v.Exists() {
		raw := strings.TrimSpace(v.String())
		if a := NormalizeAction(raw); a != "" {
			doc["action"] = string(a)
		} else {
			doc["action"] = strings.ToLower(raw)
		}
	}
	if v := node.Get("confidence"); v.Exists() {
		if f, ok := coerceNumber(v); ok {
			doc["confidence"] = f
		} else {
			doc["confidence"] = v.Value()
		}
	}
	for _, key := range []string{"reasoning", "reason", "rationale"} {
		if v := node.Get(key); v.Exists() && strings.TrimSpace(v.String()) != "" {
			doc["reasoning"] = v.String()
			break
		}
	}
	for _, key := range []string{"risk_level", "risk"} {
		if v := node.Get(key); v.Exists() {
			if r := NormalizeRisk(v.String()); r != "" {
				doc["risk_level"] = string(r)
			}
			break
		}
	}
	return doc
}

// coerceNumber 接受数字或 "85" / "85%" 形式的字符串；(0,1) 区间视为比例并换算到 0..100。
// 写成小数形式的 1（"1.0"）同样按比例处理，整数 1 仍是 1 分。
func coerceNumber(v gjson.Result) (float64, bool) {
	var f float64
	text := strings.TrimSpace(v.Raw)
	switch v.Type {
	case gjson.Number:
		f = v.Float()
	case gjson.String:
		text = strings.TrimSpace(v.String())
		percent := strings.HasSuffix(text, "%")
		s := strings.TrimSuffix(text, "%")
		if percent {
			text = ""
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if (f > 0 && f < 1) || (f == 1 && strings.Contains(text, ".")) {
		f *= 100
	}
	return f, true
}

func sameBase(a, b string) bool {
	pa, pb := symbol.Parse(a), symbol.Parse(b)
	return pa.Base != "" && pa.Base == pb.Base
}
