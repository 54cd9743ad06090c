package provider

import (
	"context"
	"errors"
)

// ErrEmptyResponse 后端返回 2xx 但没有可用文本。
var ErrEmptyResponse = errors.New("empty model response")

type ChatPayload struct {
	System     string
	User       string
	ExpectJSON bool
	MaxTokens  int
	// Trader 只用于 LLM 日志归属。
	Trader string
}

// ModelProvider 是一次性问答式推理后端。
type ModelProvider interface {
	ID() string
	Kind() string
	Call(ctx context.Context, payload ChatPayload) (string, error)
}
