package provider

import (
	"context"
	"strings"

	"aitrader/internal/logger"
	"aitrader/internal/pkg/jsonutil"
)

// OllamaClient 调用本地 /api/chat，关闭流式输出。
type OllamaClient struct {
	id          string
	url         string
	model       string
	temperature float64
	http        *httpCaller
}

func (c *OllamaClient) ID() string   { return c.id }
func (c *OllamaClient) Kind() string { return KindOllama }

func (c *OllamaClient) Call(ctx context.Context, p ChatPayload) (string, error) {
	messages := []map[string]string{}
	if p.System != "" {
		messages = append(messages, map[string]string{"role": "system", "content": p.System})
	}
	messages = append(messages, map[string]string{"role": "user", "content": p.User})
	body := map[string]any{
		"model":    c.model,
		"messages": messages,
		"stream":   false,
		"options":  map[string]any{"temperature": c.temperature},
	}
	if p.ExpectJSON {
		body["format"] = "json"
	}
	logger.LogLLMRequest(c.id, p.Trader, p.System, p.User, jsonutil.Pretty(body))
	res, err := c.http.postJSON(ctx, c.url, body)
	if err != nil {
		return "", err
	}
	out := strings.TrimSpace(res.Get("message.content").String())
	logger.LogLLMResponse(c.id, p.Trader, out)
	if out == "" {
		return "", ErrEmptyResponse
	}
	return out, nil
}
