// Package coins 汇总 trader 的候选币种：静态配置、coin pool 与 OI 排行。
// 外部信号源均视为不可信输入，格式异常时只告警，不影响静态列表。
package coins

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"aitrader/internal/pkg/symbol"

	"github.com/cenkalti/backoff/v4"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

// SymbolProvider 币种来源接口
type SymbolProvider interface {
	List(ctx context.Context) ([]string, error)
	Name() string
}

// StaticProvider 默认实现：配置里的静态列表
type StaticProvider struct{ symbols []string }

func NewStaticProvider(symbols []string) *StaticProvider {
	return &StaticProvider{symbols: append([]string(nil), symbols...)}
}

func (p *StaticProvider) Name() string { return "static" }

func (p *StaticProvider) List(_ context.Context) ([]string, error) {
	return symbol.NormalizeList(p.symbols), nil
}

// HTTPStatusError 信号源返回非 2xx。
type HTTPStatusError struct {
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("signal feed status %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// HTTPSymbolProvider 从外部 API 拉取币种列表，带限速与有限重试。
type HTTPSymbolProvider struct {
	name       string
	url        string
	client     *http.Client
	limiter    *rate.Limiter
	newBackoff func() backoff.BackOff
}

func NewHTTPSymbolProvider(name, url string, timeout time.Duration) *HTTPSymbolProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSymbolProvider{
		name:    name,
		url:     strings.TrimSpace(url),
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
		newBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxElapsedTime = 10 * time.Second
			return backoff.WithMaxRetries(b, 2)
		},
	}
}

func (p *HTTPSymbolProvider) Name() string { return p.name }

func (p *HTTPSymbolProvider) List(ctx context.Context) ([]string, error) {
	if p.url == "" {
		return nil, errors.New("signal feed URL not configured")
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	var body []byte
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("creating request: %w", err))
		}
		resp, err := p.client.Do(req)
		if err != nil {
			return fmt.Errorf("fetching symbols: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode/100 != 2 {
			statusErr := &HTTPStatusError{StatusCode: resp.StatusCode}
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return statusErr
			}
			return backoff.Permanent(statusErr)
		}
		body, err = io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return fmt.Errorf("reading response: %w", err)
		}
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(p.newBackoff(), ctx)); err != nil {
		return nil, err
	}
	return ParseSymbols(body)
}

// wrapperKeys 是对象形态响应中可能承载列表的字段，按顺序尝试。
var wrapperKeys = []string{"coins", "data", "symbols", "positions"}

// ParseSymbols 解析信号源响应：字符串数组、对象数组（取 symbol/coin/name），
// 或把上述数组包在 coins/data/symbols/positions 字段里的对象。
func ParseSymbols(body []byte) ([]string, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("signal feed: invalid json")
	}
	root := gjson.ParseBytes(body)
	list := root
	if root.IsObject() {
		list = gjson.Result{}
		for _, key := range wrapperKeys {
			if v := root.Get(key); v.IsArray() {
				list = v
				break
			}
			// data 可能再包一层，如 {"data":{"coins":[...]}}
			if v := root.Get(key); v.IsObject() {
				for _, inner := range wrapperKeys {
					if iv := v.Get(inner); iv.IsArray() {
						list = iv
						break
					}
				}
				if list.Exists() {
					break
				}
			}
		}
	}
	if !list.IsArray() {
		return nil, errors.New("signal feed: no symbol list found")
	}
	raw := make([]string, 0, len(list.Array()))
	list.ForEach(func(_, v gjson.Result) bool {
		switch {
		case v.Type == gjson.String:
			raw = append(raw, v.String())
		case v.IsObject():
			for _, key := range []string{"symbol", "coin", "pair", "name"} {
				if s := v.Get(key); s.Type == gjson.String && s.String() != "" {
					raw = append(raw, s.String())
					break
				}
			}
		}
		return true
	})
	out := symbol.NormalizeList(raw)
	if len(out) == 0 {
		return nil, errors.New("signal feed: empty symbol list")
	}
	return out, nil
}
