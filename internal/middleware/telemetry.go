package middleware

import (
	"log/slog"
	"net/http"
	"strings"
)

// blockedPathPrefixes are request paths that belong to a vendor's telemetry
// or analytics pipeline rather than its chat-completion API. A downstream
// CLI built against one dialect's SDK may probe these paths against
// whatever base URL it's configured with; since this proxy only implements
// the chat-completion surface, answering them here with an inert success
// avoids leaking the probe upstream or breaking the CLI that half-expects
// one.
var blockedPathPrefixes = []string{
	"/v1/initialize",
	"/v1/log_event",
	"/v1/rgstr",
	"/statsig",
	"/telemetry",
	"/analytics",
	"/api/claude_code/metrics",
	"/claude_code/metrics",
}

// NewTelemetryBlockerMiddleware returns middleware that short-circuits
// requests to blockedPathPrefixes with a minimal 202, instead of forwarding
// them into the translation pipeline where they'd just fail dialect
// decoding.
func NewTelemetryBlockerMiddleware(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, prefix := range blockedPathPrefixes {
				if strings.HasPrefix(r.URL.Path, prefix) {
					logger.Debug("blocked telemetry request", "path", r.URL.Path)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusAccepted)
					w.Write([]byte(`{"success":true}`))

					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}
