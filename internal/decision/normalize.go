package decision

import "strings"

// NormalizeAction 统一动作名称，兼容 open_long / long 等同义词。无法识别时返回空串。
func NormalizeAction(a string) Action {
	replacer := strings.NewReplacer(" ", "_", "-", "_")
	a = strings.ToLower(strings.TrimSpace(a))
	a = replacer.Replace(a)
	switch a {
	case "buy", "long", "open_long", "go_long", "enter_long", "buy_long":
		return ActionBuy
	case "sell", "short", "open_short", "go_short", "enter_short", "sell_short":
		return ActionSell
	case "close", "close_long", "close_short", "exit", "exit_long", "exit_short", "flat", "close_position":
		return ActionClose
	case "hold", "stay", "keep":
		return ActionHold
	case "wait", "neutral", "skip", "none":
		return ActionWait
	default:
		return ""
	}
}

// NormalizeRisk 未知取值返回空串，由调用方决定默认值。
func NormalizeRisk(r string) RiskLevel {
	switch strings.ToLower(strings.TrimSpace(r)) {
	case "low", "低":
		return RiskLow
	case "medium", "mid", "moderate", "中":
		return RiskMedium
	case "high", "高":
		return RiskHigh
	default:
		return ""
	}
}
