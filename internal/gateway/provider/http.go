package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"aitrader/internal/logger"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

const maxResponseBytes = 4 << 20

// StatusError 记录非 2xx 响应；429/5xx 可重试。
type StatusError struct {
	Code int
	Msg  string
}

func (e *StatusError) Error() string { return fmt.Sprintf("status=%d: %s", e.Code, e.Msg) }

func (e *StatusError) Retryable() bool {
	switch e.Code {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// httpCaller 是三种后端共用的 JSON POST 通道：限流、429/5xx 有限重试、Retry-After。
type httpCaller struct {
	client     *http.Client
	limiter    *rate.Limiter
	maxRetries int
	headers    map[string]string
	sleep      func(context.Context, time.Duration) error
}

func newHTTPCaller(timeout time.Duration, perMinute int, headers map[string]string) *httpCaller {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Limit(float64(perMinute) / 60)
	}
	return &httpCaller{
		client:     &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, 1),
		maxRetries: 2,
		headers:    headers,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (h *httpCaller) postJSON(ctx context.Context, url string, body any) (gjson.Result, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return gjson.Result{}, err
	}
	logger.Debugf("[AI] 请求: POST %s, headers=%v, bytes=%d", url, maskHeaders(h.headers), len(b))
	var lastErr error
	for attempt := 0; attempt <= h.maxRetries; attempt++ {
		if err := h.limiter.Wait(ctx); err != nil {
			return gjson.Result{}, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
		if err != nil {
			return gjson.Result{}, err
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range h.headers {
			req.Header.Set(k, v)
		}
		resp, err := h.client.Do(req)
		if err != nil {
			return gjson.Result{}, err
		}
		data, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		resp.Body.Close()
		if readErr != nil {
			return gjson.Result{}, readErr
		}
		if resp.StatusCode/100 == 2 {
			if !gjson.ValidBytes(data) {
				return gjson.Result{}, fmt.Errorf("invalid json response: %.200s", data)
			}
			return gjson.ParseBytes(data), nil
		}
		msg := strings.TrimSpace(gjson.GetBytes(data, "error.message").String())
		if msg == "" {
			msg = strings.TrimSpace(gjson.GetBytes(data, "error").String())
		}
		if msg == "" {
			msg = resp.Status
		}
		serr := &StatusError{Code: resp.StatusCode, Msg: msg}
		lastErr = serr
		if !serr.Retryable() || attempt == h.maxRetries {
			break
		}
		wait := retryAfter(resp.Header.Get("Retry-After"))
		if wait == 0 {
			// 0.8s, 1.6s, 3.2s ...
			wait = 800 * time.Millisecond << attempt
			if wait > 8*time.Second {
				wait = 8 * time.Second
			}
		}
		logger.Warnf("[AI] %s %v, retry in %s", url, serr, wait)
		if err := h.sleep(ctx, wait); err != nil {
			return gjson.Result{}, err
		}
	}
	return gjson.Result{}, lastErr
}

func retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

// maskHeaders 对可能包含密钥的请求头做掩码，仅保留后 4 位。
func maskHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		lk := strings.ToLower(k)
		if strings.Contains(lk, "key") || strings.Contains(lk, "token") || strings.Contains(lk, "auth") {
			if len(v) > 4 {
				v = "****" + v[len(v)-4:]
			} else {
				v = "****"
			}
		}
		out[k] = v
	}
	return out
}

func joinURL(base, suffix string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	base = strings.TrimSuffix(base, suffix)
	return base + suffix
}
