package decision

import (
	"errors"
	"fmt"
	"strings"
)

// ErrParse 表示模型输出无法解析为合法决策。
var ErrParse = errors.New("decision parse error")

type Action string

const (
	ActionBuy   Action = "buy"
	ActionSell  Action = "sell"
	ActionHold  Action = "hold"
	ActionWait  Action = "wait"
	ActionClose Action = "close"
)

// IsTrade 表示该动作可能产生订单计划。
func (a Action) IsTrade() bool {
	return a == ActionBuy || a == ActionSell || a == ActionClose
}

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Decision 是单个 symbol 在一轮中的归一化决策。
type Decision struct {
	Symbol     string    `json:"symbol"`
	Action     Action    `json:"action"`
	Confidence int       `json:"confidence"`
	Reasoning  string    `json:"reasoning,omitempty"`
	RiskLevel  RiskLevel `json:"risk_level,omitempty"`
	// Note 记录解析失败、降级或门控原因，不来自模型。
	Note string `json:"note,omitempty"`
}

// Hold 生成 fail-closed 决策：hold + 置信度 0。
func Hold(symbol, note string) Decision {
	return Decision{Symbol: symbol, Action: ActionHold, Confidence: 0, Note: note}
}

// Wait 用于冷却期覆盖，保留模型原始置信度供日志查看。
func (d Decision) Wait(note string) Decision {
	d.Action = ActionWait
	d.Note = appendNote(d.Note, note)
	return d
}

// WithNote 追加一条说明。
func (d Decision) WithNote(format string, args ...any) Decision {
	d.Note = appendNote(d.Note, fmt.Sprintf(format, args...))
	return d
}

// Eligible 判定决策能否进入下单：交易类动作且置信度达到门槛。
func Eligible(d Decision, threshold int) bool {
	return d.Action.IsTrade() && d.Confidence >= threshold
}

func appendNote(cur, add string) string {
	add = strings.TrimSpace(add)
	switch {
	case add == "":
		return cur
	case cur == "":
		return add
	default:
		return cur + "; " + add
	}
}
