package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"aitrader/internal/logger"

	"github.com/cenkalti/backoff/v4"
)

// Executor 把 OrderPlan 落到 Venue 上：每次调用独立超时，
// 只有 ErrTransient 会按指数退避重试，业务拒绝与致命错误立即返回。
type Executor struct {
	venue      Venue
	timeout    time.Duration
	maxRetries int
	newBackOff func() backoff.BackOff
}

type ExecutorOption func(*Executor)

func WithBackOff(fn func() backoff.BackOff) ExecutorOption {
	return func(e *Executor) { e.newBackOff = fn }
}

func NewExecutor(venue Venue, timeout time.Duration, maxRetries int, opts ...ExecutorOption) *Executor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	e := &Executor{
		venue:      venue,
		timeout:    timeout,
		maxRetries: maxRetries,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 300 * time.Millisecond
			b.MaxInterval = 3 * time.Second
			b.MaxElapsedTime = 0
			return b
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Executor) Venue() Venue { return e.venue }

// Call 以重试策略执行一次不返回订单结果的调用。
func (e *Executor) Call(ctx context.Context, op string, fn func(context.Context) error) error {
	bo := backoff.WithContext(backoff.WithMaxRetries(e.newBackOff(), uint64(e.maxRetries)), ctx)
	return backoff.RetryNotify(func() error {
		cctx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()
		err := Classify(fn(cctx))
		if err == nil || IsTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}, bo, func(err error, wait time.Duration) {
		logger.Warnf("[%s] %s failed, retry in %s: %v", e.venue.Name(), op, wait, err)
	})
}

// Execute 执行单个计划；开仓前依次设置保证金模式、杠杆并撤销挂单，
// 数量按交易所规则向下取整。
func (e *Executor) Execute(ctx context.Context, plan OrderPlan) ExecutionResult {
	if plan.Kind == PlanCancelAll {
		err := e.Call(ctx, "cancel_all", func(c context.Context) error {
			return e.venue.CancelAllOrders(c, plan.Symbol)
		})
		return ExecutionResult{Accepted: err == nil, Err: err}
	}

	req := OrderRequest{
		ClientID: plan.ID,
		Symbol:   plan.Symbol,
		Size:     plan.Size,
		Leverage: plan.Leverage,
		RefPrice: plan.RefPrice,
		Slippage: plan.Slippage,
	}
	if plan.Kind.IsOpen() || plan.Size > 0 {
		var rules Rules
		err := e.Call(ctx, "rules", func(c context.Context) (err error) {
			rules, err = e.venue.Rules(c, plan.Symbol)
			return err
		})
		if err != nil {
			return ExecutionResult{Err: err}
		}
		size, err := NormalizeQuantity(plan.Size, plan.RefPrice, rules)
		if err != nil {
			return ExecutionResult{Err: err}
		}
		req.Size = size
	}
	if plan.Kind.IsOpen() {
		if plan.MarginMode != "" {
			if err := e.Call(ctx, "set_margin_mode", func(c context.Context) error {
				return e.venue.SetMarginMode(c, plan.Symbol, plan.MarginMode)
			}); err != nil {
				return ExecutionResult{Err: err}
			}
		}
		if plan.Leverage > 0 {
			if err := e.Call(ctx, "set_leverage", func(c context.Context) error {
				return e.venue.SetLeverage(c, plan.Symbol, plan.Leverage)
			}); err != nil {
				return ExecutionResult{Err: err}
			}
		}
		if err := e.Call(ctx, "cancel_all", func(c context.Context) error {
			return e.venue.CancelAllOrders(c, plan.Symbol)
		}); err != nil {
			return ExecutionResult{Err: fmt.Errorf("cancel before open: %w", err)}
		}
	}

	var submit func(context.Context, OrderRequest) (OrderResult, error)
	switch plan.Kind {
	case PlanOpenLong:
		submit = e.venue.OpenLong
	case PlanOpenShort:
		submit = e.venue.OpenShort
	case PlanCloseLong:
		submit = e.venue.CloseLong
	case PlanCloseShort:
		submit = e.venue.CloseShort
	default:
		return ExecutionResult{Err: fmt.Errorf("%w: unknown plan kind %q", ErrRejected, plan.Kind)}
	}
	var res OrderResult
	err := e.Call(ctx, string(plan.Kind), func(c context.Context) (err error) {
		res, err = submit(c, req)
		return err
	})
	if errors.Is(err, ErrDuplicate) {
		// 上一次尝试实际已成交，只是响应丢失
		return ExecutionResult{Accepted: true, OrderID: plan.ID, FillPrice: plan.RefPrice, FilledSize: req.Size}
	}
	if err != nil {
		return ExecutionResult{Err: err}
	}
	if res.FillPrice == 0 {
		res.FillPrice = plan.RefPrice
	}
	if res.FilledSize == 0 {
		res.FilledSize = req.Size
	}
	return ExecutionResult{Accepted: true, OrderID: res.OrderID, FillPrice: res.FillPrice, FilledSize: res.FilledSize}
}
