package provider

import (
	"context"
	"strings"

	"aitrader/internal/logger"
	"aitrader/internal/pkg/jsonutil"
)

// OpenAIChatClient 兼容 OpenAI / DeepSeek / Qwen 等 /chat/completions 接口。
type OpenAIChatClient struct {
	id          string
	url         string
	model       string
	temperature float64
	maxTokens   int
	http        *httpCaller
}

func (c *OpenAIChatClient) ID() string   { return c.id }
func (c *OpenAIChatClient) Kind() string { return KindOpenAI }

func (c *OpenAIChatClient) Call(ctx context.Context, p ChatPayload) (string, error) {
	messages := []map[string]string{}
	if p.System != "" {
		messages = append(messages, map[string]string{"role": "system", "content": p.System})
	}
	messages = append(messages, map[string]string{"role": "user", "content": p.User})
	body := map[string]any{
		"model":       c.model,
		"messages":    messages,
		"temperature": c.temperature,
	}
	if limit := pickMaxTokens(p.MaxTokens, c.maxTokens); limit > 0 {
		body["max_tokens"] = limit
	}
	logger.LogLLMRequest(c.id, p.Trader, p.System, p.User, jsonutil.Pretty(body))
	res, err := c.http.postJSON(ctx, c.url, body)
	if err != nil {
		return "", err
	}
	out := strings.TrimSpace(res.Get("choices.0.message.content").String())
	logger.LogLLMResponse(c.id, p.Trader, out)
	if out == "" {
		return "", ErrEmptyResponse
	}
	return out, nil
}

func pickMaxTokens(req, def int) int {
	if req > 0 {
		return req
	}
	return def
}
