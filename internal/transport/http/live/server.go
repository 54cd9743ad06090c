package livehttp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"aitrader/internal/logger"

	"github.com/gin-gonic/gin"
)

// Server 提供只读的运维 HTTP 服务：健康检查、trader 状态与决策日志。
type Server struct {
	addr   string
	router *gin.Engine
}

// ServerConfig 描述运维 HTTP 服务依赖。
type ServerConfig struct {
	Addr       string
	Traders    TraderLister
	Logs       DecisionReader
	Collectors CollectorStatsFunc
}

// NewServer 构建运维 HTTP server。
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Traders == nil {
		return nil, errors.New("ops http server requires a trader registry")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9991"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	r := NewRouter(cfg.Traders, cfg.Logs, cfg.Collectors)
	router.GET("/healthz", r.handleHealth)
	r.Register(router.Group("/api"))

	return &Server{addr: cfg.Addr, router: router}, nil
}

// Handler 暴露路由，便于测试直接驱动。
func (s *Server) Handler() http.Handler {
	return s.router
}

// requestLogger 记录接口调用，便于追踪。
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if q := c.Request.URL.RawQuery; q != "" {
			path += "?" + q
		}
		c.Next()
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s", c.Request.Method, path, c.Writer.Status(), c.ClientIP(), time.Since(start))
	}
}

// Addr 返回监听地址。
func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Start 启动 HTTP 服务，直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Infof("ops http listening on %s", s.addr)

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
