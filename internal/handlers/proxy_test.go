package handlers

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/llmbridge/transllm/internal/adapters"
	anthropicadapter "github.com/llmbridge/transllm/internal/adapters/anthropic"
	geminiadapter "github.com/llmbridge/transllm/internal/adapters/gemini"
	openaiadapter "github.com/llmbridge/transllm/internal/adapters/openai"
	"github.com/llmbridge/transllm/internal/config"
	"github.com/llmbridge/transllm/internal/ir"
	"github.com/llmbridge/transllm/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testRegistry() *registry.Registry {
	r := registry.New()
	r.Register(ir.ProviderOpenAI, func() adapters.Adapter { return openaiadapter.New() })
	r.Register(ir.ProviderAnthropic, func() adapters.Adapter { return anthropicadapter.New() })
	r.Register(ir.ProviderGemini, func() adapters.Adapter { return geminiadapter.New() })

	return r
}

func newTestHandler(t *testing.T, upstream *httptest.Server, dialect string) *ProxyHandler {
	t.Helper()

	dir := t.TempDir()
	mgr := config.NewManager(dir, nil)

	require.NoError(t, mgr.Save(&config.Config{
		Providers: []config.Provider{
			{Name: "test", Dialect: dialect, BaseURL: upstream.URL, APIKey: "up-key"},
		},
	}))

	return NewProxyHandler(mgr, testRegistry(), testLogger())
}

func TestHandleMessages_ConvertsAnthropicRequestToOpenAIUpstream(t *testing.T) {
	var gotBody string

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"c1","model":"gpt-4o","choices":[{"index":0,"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`))
	}))
	defer upstream.Close()

	h := newTestHandler(t, upstream, "openai")

	body := `{"model":"claude-3-5-sonnet-20241022","max_tokens":100,"messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages?provider=test", strings.NewReader(body))
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, gotBody, `"model":"claude-3-5-sonnet-20241022"`)
	assert.Contains(t, w.Body.String(), `"type":"message"`)
}

func TestHandleMessages_ForwardsUpstreamErrorUnconverted(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"bad request"}}`))
	}))
	defer upstream.Close()

	h := newTestHandler(t, upstream, "openai")

	body := `{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages?provider=test&source=openai", strings.NewReader(body))
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "bad request")
}

func TestHandleCountTokens(t *testing.T) {
	h := newTestHandler(t, httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})), "openai")

	body := `{"model":"claude-3-5-sonnet-20241022","messages":[{"role":"user","content":"hello there, how are you"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages/count_tokens", strings.NewReader(body))
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "input_tokens")
}

func TestHandleModels(t *testing.T) {
	dir := t.TempDir()
	mgr := config.NewManager(dir, nil)
	require.NoError(t, mgr.Save(&config.Config{
		Providers: []config.Provider{{Name: "openai", Dialect: "openai"}},
	}))

	h := NewProxyHandler(mgr, testRegistry(), testLogger())

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "gpt-4o")
}

func TestHandleMessages_StreamingConvertsEvents(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)

		chunks := `data: {"id":"c1","model":"gpt-4o","choices":[{"index":0,"delta":{"role":"assistant"}}]}

data: {"id":"c1","model":"gpt-4o","choices":[{"index":0,"delta":{"content":"hi"}}]}

data: [DONE]

`
		w.Write([]byte(chunks))
		flusher.Flush()
	}))
	defer upstream.Close()

	h := newTestHandler(t, upstream, "openai")

	body := `{"model":"claude-3-5-sonnet-20241022","stream":true,"max_tokens":100,"messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages?provider=test", strings.NewReader(body))
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "message_start")
	assert.Contains(t, w.Body.String(), "[DONE]")
}
