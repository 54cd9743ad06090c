package trader

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"sort"
	"sync"

	"aitrader/internal/config"
	"aitrader/internal/logger"

	"golang.org/x/sync/errgroup"
)

// Factory 按完整配置为单个 trader 装配 Worker。
type Factory func(cfg *config.Config, t config.TraderConfig) (*Worker, error)

type entry struct {
	worker *Worker
	spec   traderSpec
	cancel context.CancelFunc
	done   chan struct{}
}

// traderSpec 是决定 worker 是否需要重建的配置指纹。
type traderSpec struct {
	Trader    config.TraderConfig
	Policy    config.PolicyConfig
	Execution config.ExecutionConfig
	Risk      config.RiskConfig
	Backend   config.BackendConfig
	Venue     config.VenueConfig
}

func specOf(cfg *config.Config, t config.TraderConfig) traderSpec {
	s := traderSpec{Trader: t, Policy: cfg.Policy, Execution: cfg.Execution, Risk: cfg.Risk}
	s.Backend, _ = cfg.Backend(t.Backend)
	s.Venue, _ = cfg.Venue(t.Venue)
	return s
}

// Registry 按 trader id 管理 worker，每个 worker 在独立的子 context 中运行。
type Registry struct {
	factory Factory

	mu      sync.Mutex
	entries map[string]*entry
	runCtx  context.Context
	group   *errgroup.Group
}

func NewRegistry(factory Factory) *Registry {
	return &Registry{factory: factory, entries: make(map[string]*entry)}
}

// Add 注册 worker；Run 之后调用会立即启动。
// 通过 Add 注册的 worker 只记录 trader 配置，首次 Reconfigure 时会按完整配置重建。
func (r *Registry) Add(w *Worker) error {
	return r.add(w, traderSpec{Trader: w.cfg})
}

func (r *Registry) add(w *Worker, spec traderSpec) error {
	if w == nil {
		return fmt.Errorf("registry: worker 为空")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[w.ID()]; exists {
		return fmt.Errorf("registry: trader %s 已存在", w.ID())
	}
	e := &entry{worker: w, spec: spec}
	r.entries[w.ID()] = e
	if r.group != nil {
		r.startLocked(e)
	}
	return nil
}

func (r *Registry) Get(id string) (*Worker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.worker, true
}

// List 返回按 id 排序的状态快照。
func (r *Registry) List() []Status {
	r.mu.Lock()
	workers := make([]*Worker, 0, len(r.entries))
	for _, e := range r.entries {
		workers = append(workers, e.worker)
	}
	r.mu.Unlock()
	out := make([]Status, 0, len(workers))
	for _, w := range workers {
		out = append(out, w.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Run 启动全部 worker 并阻塞到 ctx 结束；单个 worker 的失败不会影响其它 worker。
func (r *Registry) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	r.mu.Lock()
	if r.group != nil {
		r.mu.Unlock()
		return fmt.Errorf("registry: already running")
	}
	r.runCtx = gctx
	r.group = g
	for _, e := range r.entries {
		r.startLocked(e)
	}
	r.mu.Unlock()

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	err := g.Wait()

	r.mu.Lock()
	r.group = nil
	r.runCtx = nil
	r.mu.Unlock()
	return err
}

func (r *Registry) startLocked(e *entry) {
	if r.runCtx.Err() != nil {
		return
	}
	ctx, cancel := context.WithCancel(r.runCtx)
	e.cancel = cancel
	e.done = make(chan struct{})
	w, done := e.worker, e.done
	r.group.Go(func() error {
		defer close(done)
		w.Run(ctx)
		return nil
	})
}

// Stop 停止并移除 trader，等待其当前周期收尾。
func (r *Registry) Stop(id string) bool {
	r.mu.Lock()
	e, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	stopEntry(e)
	return true
}

func stopEntry(e *entry) {
	if e.cancel == nil {
		e.worker.Close()
		return
	}
	e.cancel()
	<-e.done
}

// Reconfigure 对比新配置：新增的启动、移除的停止、配置变化或已 halted 的用新 worker 替换。
// 返回本次发生变化的 trader id。
func (r *Registry) Reconfigure(cfg *config.Config) []string {
	if cfg == nil || r.factory == nil {
		return nil
	}
	want := make(map[string]config.TraderConfig)
	for _, t := range cfg.EnabledTraders() {
		want[t.ID] = t
	}

	var changed []string
	r.mu.Lock()
	var stale []*entry
	for id, e := range r.entries {
		t, keep := want[id]
		if keep && reflect.DeepEqual(e.spec, specOf(cfg, t)) && !e.worker.Halted() {
			delete(want, id)
			continue
		}
		delete(r.entries, id)
		stale = append(stale, e)
		changed = append(changed, id)
	}
	r.mu.Unlock()

	for _, e := range stale {
		stopEntry(e)
	}

	ids := make([]string, 0, len(want))
	for id := range want {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		t := want[id]
		w, err := r.factory(cfg, t)
		if err != nil {
			logger.Errorf("registry: 构建 trader %s 失败: %v", id, err)
			continue
		}
		if err := r.add(w, specOf(cfg, t)); err != nil {
			logger.Errorf("registry: %v", err)
			continue
		}
		if !slices.Contains(changed, id) {
			changed = append(changed, id)
		}
	}
	sort.Strings(changed)
	if len(changed) > 0 {
		logger.Infof("registry: reconfigured traders=%v", changed)
	}
	return changed
}

// Load 按配置构建并注册全部启用的 trader，返回首个构建错误。
func (r *Registry) Load(cfg *config.Config) error {
	for _, t := range cfg.EnabledTraders() {
		w, err := r.factory(cfg, t)
		if err != nil {
			return fmt.Errorf("trader %s: %w", t.ID, err)
		}
		if err := r.add(w, specOf(cfg, t)); err != nil {
			return err
		}
	}
	return nil
}
