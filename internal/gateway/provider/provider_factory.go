package provider

import (
	"fmt"
	"strings"

	"aitrader/internal/config"
)

const (
	KindOpenAI    = "openai"
	KindAnthropic = "anthropic"
	KindOllama    = "ollama"
)

// New 按 provider 类型构造后端；类型是封闭集合，未知类型直接报错。
func New(cfg config.BackendConfig) (ModelProvider, error) {
	id := strings.TrimSpace(cfg.ID)
	if id == "" {
		return nil, fmt.Errorf("backend id is required")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case KindOpenAI:
		headers := map[string]string{}
		if cfg.APIKey != "" {
			headers["Authorization"] = "Bearer " + cfg.APIKey
		}
		return &OpenAIChatClient{
			id:          id,
			url:         joinURL(cfg.APIURL, "/chat/completions"),
			model:       cfg.Model,
			temperature: cfg.Temperature,
			maxTokens:   cfg.MaxTokens,
			http:        newHTTPCaller(cfg.Timeout(), cfg.RatePerMinute, headers),
		}, nil
	case KindAnthropic:
		headers := map[string]string{
			"x-api-key":         cfg.APIKey,
			"anthropic-version": anthropicVersion,
		}
		return &AnthropicClient{
			id:          id,
			url:         joinURL(cfg.APIURL, "/messages"),
			model:       cfg.Model,
			temperature: cfg.Temperature,
			maxTokens:   cfg.MaxTokens,
			http:        newHTTPCaller(cfg.Timeout(), cfg.RatePerMinute, headers),
		}, nil
	case KindOllama:
		return &OllamaClient{
			id:          id,
			url:         joinURL(cfg.APIURL, "/api/chat"),
			model:       cfg.Model,
			temperature: cfg.Temperature,
			http:        newHTTPCaller(cfg.Timeout(), cfg.RatePerMinute, nil),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported provider %q for backend %s", cfg.Provider, id)
	}
}
