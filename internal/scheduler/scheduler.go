package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"aitrader/internal/logger"
)

// Ticker 按固定间隔触发任务；上一轮尚未结束时到来的 tick 直接丢弃并回调 OnSkip，
// 从不排队补跑。
type Ticker struct {
	Name           string
	Interval       time.Duration
	RunImmediately bool
	OnSkip         func(at time.Time)

	running atomic.Bool
	skipped atomic.Int64
	nowFn   func() time.Time
	tickFn  func(time.Duration) (<-chan time.Time, func())
}

func NewTicker(name string, interval time.Duration) *Ticker {
	return &Ticker{Name: name, Interval: interval}
}

// Skipped 返回累计丢弃的 tick 数。
func (t *Ticker) Skipped() int64 {
	return t.skipped.Load()
}

// Run 阻塞直到 ctx 结束或 task 返回 false（用于 halted 之后停止调度）。
// 每轮任务在独立 goroutine 中执行，tick 循环本身不会被慢任务阻塞。
func (t *Ticker) Run(ctx context.Context, task func(context.Context) bool) {
	if task == nil || t.Interval <= 0 {
		logger.Warnf("scheduler %s: invalid interval=%s, exit", t.Name, t.Interval)
		return
	}
	now := t.nowFn
	if now == nil {
		now = time.Now
	}
	newTick := t.tickFn
	if newTick == nil {
		newTick = func(d time.Duration) (<-chan time.Time, func()) {
			tk := time.NewTicker(d)
			return tk.C, tk.Stop
		}
	}
	ch, stop := newTick(t.Interval)
	defer stop()

	done := make(chan bool, 1)
	inflight := 0
	fire := func() {
		if !t.running.CompareAndSwap(false, true) {
			n := t.skipped.Add(1)
			logger.Warnf("scheduler %s: previous cycle still running, tick skipped (total=%d)", t.Name, n)
			if t.OnSkip != nil {
				t.OnSkip(now())
			}
			return
		}
		inflight++
		go func() {
			keep := task(ctx)
			t.running.Store(false)
			done <- keep
		}()
	}
	if t.RunImmediately {
		fire()
	}
	for {
		select {
		case <-ctx.Done():
			// 等待正在执行的一轮收尾，避免 worker 退出后仍有写入
			for ; inflight > 0; inflight-- {
				<-done
			}
			return
		case keep := <-done:
			inflight--
			if !keep {
				logger.Warnf("scheduler %s: task requested stop", t.Name)
				return
			}
		case <-ch:
			fire()
		}
	}
}
