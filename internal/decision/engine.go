package decision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"aitrader/internal/analysis/indicator"
	"aitrader/internal/gateway/provider"
	"aitrader/internal/logger"
	"aitrader/internal/pkg/circuit"
	"aitrader/internal/pkg/text"
)

const (
	defaultBackendTimeout = 60 * time.Second
	// 每个未定义的核心指标压低置信度上限 10 分。
	undefinedPenalty = 10
)

// Decider 是 trader 决策阶段依赖的能力。
type Decider interface {
	Decide(ctx context.Context, req Request) Decision
}

// Orchestrator 负责提示词构建、后端调用与响应解析；任何失败都收敛为 hold。
type Orchestrator struct {
	provider provider.ModelProvider
	library  *Library
	timeout  time.Duration
	breaker  *circuit.Breaker
}

var _ Decider = (*Orchestrator)(nil)

func NewOrchestrator(p provider.ModelProvider, lib *Library, timeout time.Duration, breaker *circuit.Breaker) *Orchestrator {
	if lib == nil {
		lib = NewLibrary()
	}
	if timeout <= 0 {
		timeout = defaultBackendTimeout
	}
	return &Orchestrator{provider: p, library: lib, timeout: timeout, breaker: breaker}
}

func (o *Orchestrator) Decide(ctx context.Context, req Request) Decision {
	scope := logger.With("trader", req.TraderID, "symbol", req.Symbol)
	if !req.Snapshot.Usable() {
		return Hold(req.Symbol, "snapshot stale or empty")
	}
	undefined := req.Indicators.Undefined()
	if undefined >= indicator.CoreCount {
		return Hold(req.Symbol, "all core indicators undefined")
	}
	if o.provider == nil {
		return Hold(req.Symbol, "no backend configured")
	}
	if o.breaker != nil && !o.breaker.Allow() {
		return Hold(req.Symbol, fmt.Sprintf("backend %s circuit open", o.provider.ID()))
	}

	payload := provider.ChatPayload{
		System:     o.library.Get(req.Template).System,
		User:       BuildUserPrompt(req),
		ExpectJSON: true,
		Trader:     req.TraderID,
	}
	start := time.Now()
	raw, err := o.invoke(ctx, payload)
	if err != nil {
		if o.breaker != nil {
			o.breaker.RecordFailure()
		}
		scope.Warnf("模型 %s 调用失败 elapsed=%s err=%v", o.provider.ID(), time.Since(start).Truncate(time.Millisecond), err)
		return Hold(req.Symbol, "backend: "+err.Error())
	}
	if o.breaker != nil {
		o.breaker.RecordSuccess()
	}

	d, err := Parse(raw, req.Symbol)
	if err != nil {
		scope.Warnf("决策解析失败: %v raw=%s", err, text.Truncate(raw, 240))
		return Hold(req.Symbol, err.Error())
	}
	d = capConfidence(d, undefined)
	scope.Debugf("决策 action=%s confidence=%d risk=%s elapsed=%s", d.Action, d.Confidence, d.RiskLevel, time.Since(start).Truncate(time.Millisecond))
	return d
}

// invoke 在独立 goroutine 中调用后端，超时后立即返回，不等待忽略 ctx 的实现。
func (o *Orchestrator) invoke(ctx context.Context, payload provider.ChatPayload) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	type result struct {
		raw string
		err error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		raw, err := o.provider.Call(cctx, payload)
		ch <- result{raw: raw, err: err}
	}()

	select {
	case r := <-ch:
		if r.err == nil && r.raw == "" {
			return "", provider.ErrEmptyResponse
		}
		return r.raw, r.err
	case <-cctx.Done():
		err := cctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("timeout after %s: %w", o.timeout, err)
		}
		return "", err
	}
}

func capConfidence(d Decision, undefined int) Decision {
	if undefined <= 0 {
		return d
	}
	limit := 100 - undefinedPenalty*undefined
	if limit < 0 {
		limit = 0
	}
	if d.Confidence > limit {
		d = d.WithNote("confidence %d capped to %d: %d indicators undefined", d.Confidence, limit, undefined)
		d.Confidence = limit
	}
	return d
}
