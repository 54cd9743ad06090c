package decision

import (
	"errors"
	"fmt"
	"math"

	"aitrader/internal/pkg/jsonutil"
	"aitrader/internal/pkg/symbol"

	"github.com/tidwall/gjson"
)

// Parse 从模型自由文本中提取 sym 的决策。所有失败都包装 ErrParse。
func Parse(raw, sym string) (Decision, error) {
	node, err := locateNode(raw, sym)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrParse, err)
	}
	doc := coerceNode(node)
	if err := validateDecision(doc); err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrParse, err)
	}

	out := Decision{Symbol: symbol.Normalize(sym)}
	if got, _ := doc["symbol"].(string); got != "" {
		if sym != "" && !sameBase(got, sym) {
			return Decision{}, fmt.Errorf("%w: symbol 不匹配 want=%s got=%s", ErrParse, sym, got)
		}
		if out.Symbol == "" {
			out.Symbol = symbol.Normalize(got)
		}
	}
	action, _ := doc["action"].(string)
	out.Action = Action(action)
	conf, _ := doc["confidence"].(float64)
	out.Confidence = int(math.Round(conf))
	out.Reasoning, _ = doc["reasoning"].(string)
	if r, _ := doc["risk_level"].(string); r != "" {
		out.RiskLevel = RiskLevel(r)
	}
	return out, nil
}

// locateNode 依次尝试回复中的每个 JSON 片段，返回第一个能定位到决策对象的节点。
func locateNode(raw, sym string) (gjson.Result, error) {
	candidates := jsonutil.Candidates(raw)
	if len(candidates) == 0 {
		return gjson.Result{}, errors.New("未找到 JSON 决策")
	}
	var firstErr error
	for _, block := range candidates {
		if !gjson.Valid(block) {
			if firstErr == nil {
				firstErr = errors.New("json 格式无效")
			}
			continue
		}
		node, err := pickNode(block, sym)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		return node, nil
	}
	return gjson.Result{}, firstErr
}
