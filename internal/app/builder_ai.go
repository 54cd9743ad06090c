package app

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	brcfg "aitrader/internal/config"
	"aitrader/internal/decision"
	"aitrader/internal/gateway/provider"
	"aitrader/internal/logger"
	"aitrader/internal/pkg/circuit"
)

const (
	breakerThreshold = 3
	breakerCooldown  = 2 * time.Minute
)

type deciderEntry struct {
	cfg     brcfg.BackendConfig
	decider *decision.Orchestrator
}

// deciderPool 按后端 id 复用 Orchestrator，保证同一后端的 trader 共享熔断状态。
type deciderPool struct {
	library     *decision.Library
	newProvider func(brcfg.BackendConfig) (provider.ModelProvider, error)

	mu      sync.Mutex
	entries map[string]deciderEntry
}

func newDeciderPool(lib *decision.Library, newProvider func(brcfg.BackendConfig) (provider.ModelProvider, error)) *deciderPool {
	if lib == nil {
		lib = decision.NewLibrary()
	}
	if newProvider == nil {
		newProvider = provider.New
	}
	return &deciderPool{library: lib, newProvider: newProvider, entries: make(map[string]deciderEntry)}
}

// loadLibrary 读取提示词模板库；未配置路径时只使用内置默认模板。
func loadLibrary(path string) (*decision.Library, error) {
	if strings.TrimSpace(path) == "" {
		return decision.NewLibrary(), nil
	}
	lib, err := decision.LoadLibrary(path)
	if err != nil {
		return nil, fmt.Errorf("加载提示词模板失败: %w", err)
	}
	logger.Infof("✓ 提示词模板已加载：%v", lib.Names())
	return lib, nil
}

// get 返回后端对应的决策器；后端配置变化时重建（熔断状态随之重置）。
func (p *deciderPool) get(b brcfg.BackendConfig) (*decision.Orchestrator, error) {
	key := strings.ToLower(strings.TrimSpace(b.ID))
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[key]; ok && reflect.DeepEqual(e.cfg, b) {
		return e.decider, nil
	}
	mp, err := p.newProvider(b)
	if err != nil {
		return nil, err
	}
	breaker := circuit.New("backend:"+b.ID, breakerThreshold, breakerCooldown)
	orch := decision.NewOrchestrator(mp, p.library, b.Timeout(), breaker)
	p.entries[key] = deciderEntry{cfg: b, decider: orch}
	logger.Infof("✓ 推理后端 %s 已就绪 provider=%s model=%s", b.ID, mp.Kind(), b.Model)
	return orch, nil
}

// reloadLibrary 在配置热更新时刷新模板；失败保留旧模板。
func (p *deciderPool) reloadLibrary(path string) {
	if strings.TrimSpace(path) == "" {
		return
	}
	if err := p.library.Reload(path); err != nil {
		logger.Warnf("提示词模板重载失败，沿用旧模板: %v", err)
	}
}
