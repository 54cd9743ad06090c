package app

import (
	"fmt"
	"io"
	"os"
	"strings"

	brcfg "aitrader/internal/config"
	"aitrader/internal/trader"
)

type StartupSummary struct {
	Traders    []TraderSummary
	Collectors []string
	Policy     brcfg.PolicyConfig
	Execution  brcfg.ExecutionConfig
	Risk       brcfg.RiskConfig
	HTTPAddr   string
	StorePath  string
}

type TraderSummary struct {
	ID        string
	Venue     string
	Backend   string
	Symbols   []string
	Interval  string
	Leverage  string
	Threshold int
}

func newStartupSummary(cfg *brcfg.Config, registry *trader.Registry, collectors []string) *StartupSummary {
	s := &StartupSummary{
		Collectors: collectors,
		Policy:     cfg.Policy,
		Execution:  cfg.Execution,
		Risk:       cfg.Risk,
		HTTPAddr:   cfg.App.HTTPAddr,
		StorePath:  cfg.Store.Path,
	}
	enabled := make(map[string]brcfg.TraderConfig)
	for _, t := range cfg.EnabledTraders() {
		enabled[t.ID] = t
	}
	for _, st := range registry.List() {
		t := enabled[st.ID]
		threshold := cfg.Policy.ConfidenceThreshold
		if t.ConfidenceThreshold > 0 {
			threshold = t.ConfidenceThreshold
		}
		s.Traders = append(s.Traders, TraderSummary{
			ID:        st.ID,
			Venue:     t.Venue,
			Backend:   t.Backend,
			Symbols:   t.Symbols,
			Interval:  t.ScanInterval,
			Leverage:  fmt.Sprintf("major %dx / alt %dx (%s)", t.MajorLeverage, t.AltLeverage, t.MarginMode),
			Threshold: threshold,
		})
	}
	return s
}

func (s *StartupSummary) Print() {
	s.Fprint(os.Stdout)
}

func (s *StartupSummary) Fprint(w io.Writer) {
	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintf(w, "%*s\n", 40+len("启动配置摘要 (STARTUP SUMMARY)")/2, "启动配置摘要 (STARTUP SUMMARY)")
	fmt.Fprintln(w, strings.Repeat("=", 80))

	fmt.Fprintln(w, "[行情采集 (COLLECTORS)]")
	fmt.Fprintf(w, "  行情源: %s\n", formatList(s.Collectors))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[门控策略 (POLICY)]")
	fmt.Fprintf(w, "  置信度门槛: %d（谨慎模式 %d）\n", s.Policy.ConfidenceThreshold, s.Policy.CautiousThreshold)
	fmt.Fprintf(w, "  夏普区间: [%.2f, %.2f]\n", s.Policy.LowRatio, s.Policy.HighRatio)
	fmt.Fprintf(w, "  冷却轮数: %d，谨慎开仓间隔: %d\n", s.Policy.CooldownCycles, s.Policy.CautiousOpenEvery)
	fmt.Fprintf(w, "  下单超时: %ds，重试: %d，滑点: %.4f\n", s.Execution.OrderTimeoutSeconds, s.Execution.MaxRetries, s.Execution.Slippage)
	fmt.Fprintf(w, "  保证金占用上限: %.0f%%，单仓价值上限: 主流 %.1fx / 山寨 %.1fx 净值\n", s.Risk.MaxMarginUsage*100, s.Risk.MajorPositionMultiple, s.Risk.AltPositionMultiple)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[交易员 (TRADERS)]")
	if len(s.Traders) == 0 {
		fmt.Fprintln(w, "  (无启用的 trader)")
	}
	for _, t := range s.Traders {
		fmt.Fprintf(w, "  > %s  venue=%s backend=%s interval=%s\n", t.ID, t.Venue, t.Backend, t.Interval)
		fmt.Fprintf(w, "    币种: %s\n", formatList(t.Symbols))
		fmt.Fprintf(w, "    杠杆: %s，门槛: %d\n", t.Leverage, t.Threshold)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "运维接口: %s  存储: %s\n", s.HTTPAddr, s.StorePath)
	fmt.Fprintln(w, strings.Repeat("=", 80))
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
