package provider

import (
	"context"
	"strings"

	"aitrader/internal/logger"
	"aitrader/internal/pkg/jsonutil"
)

const anthropicVersion = "2023-06-01"

// AnthropicClient 调用 /v1/messages。
type AnthropicClient struct {
	id          string
	url         string
	model       string
	temperature float64
	maxTokens   int
	http        *httpCaller
}

func (c *AnthropicClient) ID() string   { return c.id }
func (c *AnthropicClient) Kind() string { return KindAnthropic }

func (c *AnthropicClient) Call(ctx context.Context, p ChatPayload) (string, error) {
	limit := pickMaxTokens(p.MaxTokens, c.maxTokens)
	if limit <= 0 {
		limit = 2000
	}
	body := map[string]any{
		"model":       c.model,
		"max_tokens":  limit,
		"temperature": c.temperature,
		"messages":    []map[string]string{{"role": "user", "content": p.User}},
	}
	if p.System != "" {
		body["system"] = p.System
	}
	logger.LogLLMRequest(c.id, p.Trader, p.System, p.User, jsonutil.Pretty(body))
	res, err := c.http.postJSON(ctx, c.url, body)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, block := range res.Get("content").Array() {
		if block.Get("type").String() == "text" {
			sb.WriteString(block.Get("text").String())
		}
	}
	out := strings.TrimSpace(sb.String())
	logger.LogLLMResponse(c.id, p.Trader, out)
	if out == "" {
		return "", ErrEmptyResponse
	}
	return out, nil
}
