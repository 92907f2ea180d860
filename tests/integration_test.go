package tests

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmbridge/transllm/internal/adapters"
	anthropicadapter "github.com/llmbridge/transllm/internal/adapters/anthropic"
	openaiadapter "github.com/llmbridge/transllm/internal/adapters/openai"
	"github.com/llmbridge/transllm/internal/config"
	"github.com/llmbridge/transllm/internal/handlers"
	"github.com/llmbridge/transllm/internal/ir"
	"github.com/llmbridge/transllm/internal/registry"
)

// TestProxyIntegration drives the proxy handler end to end: an Anthropic-shaped
// request comes in, gets translated to OpenAI wire format, is answered by a
// stub upstream, and the response is translated back to Anthropic shape.
func TestProxyIntegration(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "test-model", body["model"])
		assert.Equal(t, "Bearer test-provider-key", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"model":   "test-model",
			"choices": []map[string]interface{}{
				{
					"index": 0,
					"message": map[string]interface{}{
						"role":    "assistant",
						"content": "Hello back!",
					},
					"finish_reason": "stop",
				},
			},
			"usage": map[string]interface{}{
				"prompt_tokens":     5,
				"completion_tokens": 3,
				"total_tokens":      8,
			},
		})
	}))
	defer upstream.Close()

	cfg := &config.Config{
		Host:   "127.0.0.1",
		Port:   8080,
		APIKey: "test-key",
		Providers: []config.Provider{
			{
				Name:    "openai",
				Dialect: "openai",
				BaseURL: upstream.URL,
				APIKey:  "test-provider-key",
				Models:  []string{"test-model"},
			},
		},
	}

	tmpDir := t.TempDir()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	cfgMgr := config.NewManager(tmpDir, logger)
	require.NoError(t, cfgMgr.Save(cfg))
	_, err := cfgMgr.Load()
	require.NoError(t, err)

	reg := registry.New()
	reg.Register(ir.ProviderOpenAI, func() adapters.Adapter { return openaiadapter.New() })
	reg.Register(ir.ProviderAnthropic, func() adapters.Adapter { return anthropicadapter.New() })

	handler := handlers.NewProxyHandler(cfgMgr, reg, logger)

	requestBody := map[string]interface{}{
		"model":      "test-model",
		"max_tokens": 128,
		"messages": []map[string]interface{}{
			{
				"role":    "user",
				"content": "Hello, world!",
			},
		},
	}

	jsonBody, err := json.Marshal(requestBody)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewReader(jsonBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer test-key")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))

	assert.Equal(t, "message", resp["type"])
	assert.Equal(t, "test-model", resp["model"])
}
