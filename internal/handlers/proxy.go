package handlers

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"

	"github.com/llmbridge/transllm/internal/config"
	"github.com/llmbridge/transllm/internal/converters"
	"github.com/llmbridge/transllm/internal/registry"
	"github.com/llmbridge/transllm/internal/tokencount"
	"github.com/llmbridge/transllm/internal/translerr"
)

// ProxyHandler implements the format-translation proxy surface: it accepts a
// request in one dialect, converts it to whichever dialect the target
// provider speaks, forwards it upstream, and converts the response (or
// every event of a streaming response) back to the caller's dialect.
type ProxyHandler struct {
	config    *config.Manager
	registry  *registry.Registry
	converter *converters.RequestResponseConverter
	logger    *slog.Logger
	client    *http.Client
}

func NewProxyHandler(cfg *config.Manager, reg *registry.Registry, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		config:    cfg,
		registry:  reg,
		converter: converters.New(reg),
		logger:    logger,
		client:    http.DefaultClient,
	}
}

func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/stream")

	switch {
	case path == "/v1/messages/count_tokens":
		h.handleCountTokens(w, r)
	case path == "/v1/messages":
		h.handleMessages(w, r)
	case path == "/v1/models" && r.Method == http.MethodGet:
		h.handleModels(w, r)
	default:
		h.httpError(w, http.StatusNotFound, "no route for %s %s", r.Method, r.URL.Path)
	}
}

// resolvedTarget is the upstream this request will be forwarded to, after
// applying config defaults and any url/apikey/provider query overrides.
type resolvedTarget struct {
	dialect string
	baseURL string
	apiKey  string
}

func (h *ProxyHandler) resolveSource(r *http.Request) string {
	if source := r.URL.Query().Get("source"); source != "" {
		return source
	}

	return "anthropic"
}

func (h *ProxyHandler) resolveTarget(r *http.Request) (resolvedTarget, error) {
	cfg := h.config.Get()
	q := r.URL.Query()

	var target resolvedTarget

	if name := q.Get("provider"); name != "" {
		for i := range cfg.Providers {
			if cfg.Providers[i].Name == name {
				target = resolvedTarget{
					dialect: cfg.Providers[i].Dialect,
					baseURL: cfg.Providers[i].BaseURL,
					apiKey:  cfg.Providers[i].APIKey,
				}
				break
			}
		}

		if target.dialect == "" {
			return target, fmt.Errorf("provider %q not configured", name)
		}
	} else if len(cfg.Providers) > 0 {
		p := cfg.Providers[0]
		target = resolvedTarget{dialect: p.Dialect, baseURL: p.BaseURL, apiKey: p.APIKey}
	} else {
		return target, fmt.Errorf("no providers configured")
	}

	if url := q.Get("url"); url != "" {
		target.baseURL = url
	}

	if apiKey := q.Get("apikey"); apiKey != "" {
		target.apiKey = apiKey
	}

	if target.baseURL == "" {
		return target, fmt.Errorf("no base url configured for provider dialect %q", target.dialect)
	}

	return target, nil
}

func (h *ProxyHandler) handleMessages(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.httpError(w, http.StatusBadRequest, "failed to read request body: %v", err)
		return
	}

	source := h.resolveSource(r)

	target, err := h.resolveTarget(r)
	if err != nil {
		h.httpError(w, http.StatusBadRequest, "%v", err)
		return
	}

	sourceAdapter, err := h.registry.GetAdapter(source)
	if err != nil {
		h.httpError(w, http.StatusBadRequest, "%v", err)
		return
	}

	coreReq, err := sourceAdapter.ToCoreRequest(body)
	if err != nil {
		h.httpError(w, http.StatusBadRequest, "failed to parse %s request: %v", source, err)
		return
	}

	inputTokens := tokencount.EstimateRequest(coreReq)

	upstreamBody, err := h.converter.ConvertRequest(source, target.dialect, body)
	if err != nil {
		h.httpError(w, translerr.HTTPStatus(err), "failed to convert request to %s: %v", target.dialect, err)
		return
	}

	url := h.buildEndpointURL(target.dialect, target.baseURL, coreReq.Model, coreReq.Stream)

	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, url, strings.NewReader(string(upstreamBody)))
	if err != nil {
		h.httpError(w, http.StatusInternalServerError, "failed to build upstream request: %v", err)
		return
	}

	req.Header.Set("Content-Type", "application/json")
	h.setAuthHeader(req, target.dialect, target.apiKey)

	h.logger.Info("proxying request", "source", source, "target", target.dialect, "model", coreReq.Model, "input_tokens", inputTokens, "stream", coreReq.Stream)

	resp, err := h.client.Do(req)
	if err != nil {
		h.httpError(w, http.StatusBadGateway, "upstream request failed: %v", err)
		return
	}
	defer resp.Body.Close()

	if coreReq.Stream && resp.StatusCode == http.StatusOK {
		h.handleStreamingResponse(w, resp, source, target.dialect)
		return
	}

	h.handleUnaryResponse(w, resp, source, target.dialect)
}

func (h *ProxyHandler) handleUnaryResponse(w http.ResponseWriter, resp *http.Response, source, targetDialect string) {
	bodyReader, err := h.decompressReader(resp)
	if err != nil {
		h.httpError(w, http.StatusBadGateway, "decompression error: %v", err)
		return
	}

	respBody, err := io.ReadAll(bodyReader)
	if err != nil {
		h.httpError(w, http.StatusBadGateway, "failed to read upstream response: %v", err)
		return
	}

	if resp.StatusCode != http.StatusOK {
		h.logger.Warn("upstream error response", "status", resp.StatusCode, "body", string(respBody))
		h.copyHeaders(w, resp)
		w.WriteHeader(resp.StatusCode)
		w.Write(respBody)

		return
	}

	finalBody, err := h.converter.ConvertResponse(targetDialect, source, respBody)
	if err != nil {
		h.logger.Error("response conversion failed", "error", err)
		h.httpError(w, http.StatusBadGateway, "failed to convert response from %s: %v", targetDialect, err)

		return
	}

	h.copyHeaders(w, resp)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(finalBody)
}

func (h *ProxyHandler) handleStreamingResponse(w http.ResponseWriter, resp *http.Response, source, targetDialect string) {
	bodyReader, err := h.decompressReader(resp)
	if err != nil {
		h.httpError(w, http.StatusBadGateway, "decompression error: %v", err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	w.WriteHeader(http.StatusOK)

	streamConverter := converters.NewStreamConverter(h.registry)

	scanner := bufio.NewScanner(bodyReader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" {
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		if line == "data: [DONE]" {
			fmt.Fprint(w, "data: [DONE]\n\n")
			h.flush(w)

			break
		}

		if !strings.HasPrefix(line, "data:") {
			continue
		}

		jsonData := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

		converted, err := streamConverter.ConvertEvent(targetDialect, source, []byte(jsonData))
		if err != nil {
			h.logger.Error("stream event conversion failed", "error", err)
			continue
		}

		for _, c := range converted {
			fmt.Fprintf(w, "data: %s\n\n", c)
			h.flush(w)
		}
	}

	if err := scanner.Err(); err != nil {
		h.logger.Error("stream scanning error", "error", err)
	}
}

func (h *ProxyHandler) handleCountTokens(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.httpError(w, http.StatusBadRequest, "failed to read request body: %v", err)
		return
	}

	source := h.resolveSource(r)

	adapter, err := h.registry.GetAdapter(source)
	if err != nil {
		h.httpError(w, http.StatusBadRequest, "%v", err)
		return
	}

	coreReq, err := adapter.ToCoreRequest(body)
	if err != nil {
		h.httpError(w, http.StatusBadRequest, "failed to parse %s request: %v", source, err)
		return
	}

	tokens := tokencount.EstimateRequest(coreReq)

	h.writeJSON(w, http.StatusOK, map[string]any{"input_tokens": tokens})
}

func (h *ProxyHandler) handleModels(w http.ResponseWriter, r *http.Request) {
	cfg := h.config.Get()

	type modelEntry struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		OwnedBy string `json:"owned_by"`
	}

	var data []modelEntry

	for _, p := range cfg.Providers {
		for _, model := range p.ListModels() {
			data = append(data, modelEntry{ID: model, Object: "model", OwnedBy: p.Name})
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"object": "list", "data": data})
}

// buildEndpointURL appends the model (and, for Gemini, the RPC method name)
// to baseURL where the dialect requires it in the URL path rather than the
// request body.
func (h *ProxyHandler) buildEndpointURL(dialect, baseURL, model string, stream bool) string {
	if dialect != "gemini" {
		return baseURL
	}

	method := "generateContent"
	if stream {
		method = "streamGenerateContent"
	}

	return fmt.Sprintf("%s/%s:%s", strings.TrimSuffix(baseURL, "/"), model, method)
}

func (h *ProxyHandler) setAuthHeader(req *http.Request, dialect, apiKey string) {
	if apiKey == "" {
		return
	}

	switch dialect {
	case "gemini":
		req.Header.Set("x-goog-api-key", apiKey)
	case "anthropic":
		req.Header.Set("x-api-key", apiKey)
		req.Header.Set("anthropic-version", "2023-06-01")
	default:
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
}

func (h *ProxyHandler) decompressReader(resp *http.Response) (io.Reader, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		return gzip.NewReader(resp.Body)
	case "br":
		return brotli.NewReader(resp.Body), nil
	default:
		return resp.Body, nil
	}
}

func (h *ProxyHandler) copyHeaders(w http.ResponseWriter, resp *http.Response) {
	for key, values := range resp.Header {
		if key == "Content-Encoding" || key == "Content-Length" {
			continue
		}

		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
}

func (h *ProxyHandler) flush(w http.ResponseWriter) {
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (h *ProxyHandler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *ProxyHandler) httpError(w http.ResponseWriter, code int, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	h.logger.Error("http error", "code", code, "message", msg)
	http.Error(w, msg, code)
}
