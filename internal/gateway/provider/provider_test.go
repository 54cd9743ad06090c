package provider

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"aitrader/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func noSleep(p ModelProvider) {
	var h *httpCaller
	switch c := p.(type) {
	case *OpenAIChatClient:
		h = c.http
	case *AnthropicClient:
		h = c.http
	case *OllamaClient:
		h = c.http
	}
	h.sleep = func(context.Context, time.Duration) error { return nil }
}

func TestOpenAIRetriesOn429(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "gpt-test", gjson.GetBytes(body, "model").String())
		assert.Equal(t, "system", gjson.GetBytes(body, "messages.0.role").String())
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"slow down"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":" {\"action\":\"hold\"} "}}]}`))
	}))
	defer srv.Close()

	p, err := New(config.BackendConfig{ID: "gpt", Provider: "openai", APIURL: srv.URL + "/v1/", APIKey: "sk-test", Model: "gpt-test", TimeoutSeconds: 5})
	require.NoError(t, err)
	noSleep(p)
	out, err := p.Call(context.Background(), ChatPayload{System: "sys", User: "usr"})
	require.NoError(t, err)
	assert.Equal(t, `{"action":"hold"}`, out)
	assert.EqualValues(t, 2, calls.Load())
}

func TestClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer srv.Close()

	p, err := New(config.BackendConfig{ID: "gpt", Provider: "openai", APIURL: srv.URL, APIKey: "x", Model: "m"})
	require.NoError(t, err)
	_, err = p.Call(context.Background(), ChatPayload{User: "hi"})
	var serr *StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusUnauthorized, serr.Code)
	assert.Equal(t, "bad key", serr.Msg)
	assert.EqualValues(t, 1, calls.Load())
}

func TestAnthropicJoinsTextBlocks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "ak", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "sys", gjson.GetBytes(body, "system").String())
		assert.EqualValues(t, 1000, gjson.GetBytes(body, "max_tokens").Int())
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"{\"action\":"},{"type":"tool_use"},{"type":"text","text":"\"wait\"}"}]}`))
	}))
	defer srv.Close()

	p, err := New(config.BackendConfig{ID: "claude", Provider: "anthropic", APIURL: srv.URL + "/v1", APIKey: "ak", Model: "m", MaxTokens: 1000})
	require.NoError(t, err)
	out, err := p.Call(context.Background(), ChatPayload{System: "sys", User: "usr"})
	require.NoError(t, err)
	assert.Equal(t, `{"action":"wait"}`, out)
	assert.Equal(t, KindAnthropic, p.Kind())
}

func TestOllamaRequestsJSONFormat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "json", gjson.GetBytes(body, "format").String())
		assert.False(t, gjson.GetBytes(body, "stream").Bool())
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":""}}`))
	}))
	defer srv.Close()

	p, err := New(config.BackendConfig{ID: "local", Provider: "ollama", APIURL: srv.URL, Model: "qwen"})
	require.NoError(t, err)
	_, err = p.Call(context.Background(), ChatPayload{User: "usr", ExpectJSON: true})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	_, err := New(config.BackendConfig{ID: "x", Provider: "gemini"})
	assert.Error(t, err)
	_, err = New(config.BackendConfig{Provider: "openai"})
	assert.Error(t, err)
}
