package app

import (
	"context"
	"fmt"
	"strings"

	brcfg "aitrader/internal/config"
	"aitrader/internal/logger"
	"aitrader/internal/trader"
	livehttp "aitrader/internal/transport/http/live"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化依赖→启动采集器、trader 与运维接口。
type App struct {
	cfg      *brcfg.Config
	registry *trader.Registry
	markets  *marketStack
	deciders *deciderPool
	http     *livehttp.Server
	sink     storeHandle
	Summary  *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(cfg *brcfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 启动全部服务直到 ctx 取消；configPath 非空时监听配置变化并热更新 trader。
func (a *App) Run(ctx context.Context, configPath string) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.Summary != nil {
		a.Summary.Print()
	}
	defer a.Close()

	group, ctx := errgroup.WithContext(ctx)
	a.markets.Start(ctx)

	if a.http != nil {
		group.Go(func() error {
			if err := a.http.Start(ctx); err != nil {
				return fmt.Errorf("ops http server error: %w", err)
			}
			return nil
		})
	}
	group.Go(func() error {
		return a.registry.Run(ctx)
	})
	group.Go(func() error {
		<-ctx.Done()
		a.markets.Wait()
		return nil
	})

	if strings.TrimSpace(configPath) != "" {
		if err := brcfg.Watch(configPath, a.Reload); err != nil {
			logger.Warnf("配置热更新未启用: %v", err)
		}
	}
	return group.Wait()
}

// Reload 应用新配置：刷新模板与日志级别，并按差异重建 trader。
func (a *App) Reload(cfg *brcfg.Config) {
	if a == nil || cfg == nil {
		return
	}
	logger.SetLevel(cfg.App.LogLevel)
	a.deciders.reloadLibrary(cfg.Prompt.LibraryPath)
	changed := a.registry.Reconfigure(cfg)
	a.cfg = cfg
	if len(changed) > 0 {
		logger.Infof("✓ 热更新完成，变更 trader：%s", strings.Join(changed, ", "))
	}
}

// Registry 暴露 trader 注册表（测试与运维使用）。
func (a *App) Registry() *trader.Registry {
	if a == nil {
		return nil
	}
	return a.registry
}

func (a *App) Close() {
	if a == nil || a.sink == nil {
		return
	}
	if err := a.sink.Close(); err != nil {
		logger.Warnf("关闭存储失败: %v", err)
	}
}
