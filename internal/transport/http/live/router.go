package livehttp

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"aitrader/internal/logger"
	"aitrader/internal/store"
	"aitrader/internal/trader"

	"github.com/gin-gonic/gin"
)

const (
	defaultDecisionLimit = 50
	maxDecisionLimit     = 500
)

// Router 暴露 trader 状态与决策日志的查询接口。
type Router struct {
	Traders    TraderLister
	Logs       DecisionReader
	Collectors CollectorStatsFunc
}

func NewRouter(traders TraderLister, logs DecisionReader, collectors CollectorStatsFunc) *Router {
	return &Router{Traders: traders, Logs: logs, Collectors: collectors}
}

// Register 将路由挂载到给定分组下。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/traders", r.handleTraders)
	group.GET("/traders/:id", r.handleTrader)
	group.GET("/traders/:id/decisions", r.handleDecisions)
	group.GET("/traders/:id/decisions/last", r.handleLastDecision)
	group.GET("/collectors", r.handleCollectors)
}

func (r *Router) handleHealth(c *gin.Context) {
	list := r.Traders.List()
	halted := 0
	for _, st := range list {
		if st.State == trader.StateHalted {
			halted++
		}
	}
	status := "ok"
	if len(list) > 0 && halted == len(list) {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{"status": status, "traders": len(list), "halted": halted})
}

func (r *Router) handleTraders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"traders": r.Traders.List()})
}

func (r *Router) handleTrader(c *gin.Context) {
	st, ok := r.find(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "trader not found"})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (r *Router) handleDecisions(c *gin.Context) {
	if r.Logs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "决策日志未启用"})
		return
	}
	id := strings.TrimSpace(c.Param("id"))
	if _, ok := r.find(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "trader not found"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultDecisionLimit)))
	if limit <= 0 {
		limit = defaultDecisionLimit
	}
	if limit > maxDecisionLimit {
		limit = maxDecisionLimit
	}
	symbol := strings.TrimSpace(c.Query("symbol"))

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	logs, err := r.Logs.RecentDecisions(ctx, id, limit)
	if err != nil {
		logger.Errorf("[api] decisions list failed trader=%s ip=%s err=%v", id, c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if symbol != "" {
		filtered := logs[:0]
		for _, l := range logs {
			if strings.EqualFold(l.Symbol, symbol) {
				filtered = append(filtered, l)
			}
		}
		logs = filtered
	}
	c.JSON(http.StatusOK, gin.H{"trader": id, "logs": logs, "count": len(logs)})
}

func (r *Router) handleLastDecision(c *gin.Context) {
	if r.Logs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "决策日志未启用"})
		return
	}
	id := strings.TrimSpace(c.Param("id"))
	log, err := r.Logs.LastDecision(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no decision yet"})
		return
	}
	if err != nil {
		logger.Errorf("[api] last decision failed trader=%s err=%v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, log)
}

func (r *Router) handleCollectors(c *gin.Context) {
	if r.Collectors == nil {
		c.JSON(http.StatusOK, gin.H{"collectors": gin.H{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"collectors": r.Collectors()})
}

func (r *Router) find(id string) (trader.Status, bool) {
	for _, st := range r.Traders.List() {
		if st.ID == id {
			return st, true
		}
	}
	return trader.Status{}, false
}
