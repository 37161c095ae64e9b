package ingest

import (
	"log/slog"
	"net/http"
	"time"

	"sentinel-soc/internal/config"
)

// Paths that stay reachable without an API key: probes and scrapers do
// not carry credentials.
var openPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// WithMiddleware layers the server's cross-cutting handlers around the
// API mux. Order matters: auth runs first so unauthenticated floods are
// cut before they cost a rate-limit slot, and recovery sits innermost
// so a panicking handler still yields a logged 500.
func WithMiddleware(handler http.Handler, cfg *config.Config) http.Handler {
	h := recoveryMiddleware(handler)
	h = requestLogMiddleware(h)
	if cfg.RateLimit.Enabled {
		h = rateLimitMiddleware(h, cfg.RateLimit)
	}
	if cfg.Auth.Enabled {
		h = apiKeyMiddleware(h, cfg.Auth)
	}
	return h
}

// requestLogMiddleware emits one structured line per request.
func requestLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// apiKeyMiddleware rejects requests that do not present a configured
// API key. The key value itself is never logged.
func apiKeyMiddleware(next http.Handler, authCfg config.AuthConfig) http.Handler {
	keys := make(map[string]bool, len(authCfg.APIKeys))
	for _, key := range authCfg.APIKeys {
		keys[key] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if openPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		presented := r.Header.Get(authCfg.APIKeyHeader)
		if presented == "" {
			http.Error(w, `{"success":false,"error":"missing API key"}`, http.StatusUnauthorized)
			return
		}
		if !keys[presented] {
			slog.Warn("rejected request with unknown API key",
				"path", r.URL.Path, "remote_addr", r.RemoteAddr)
			http.Error(w, `{"success":false,"error":"invalid API key"}`, http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// recoveryMiddleware converts a handler panic into a 500 instead of
// taking down the whole ingest listener.
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				slog.Error("panic in request handler", "error", v, "path", r.URL.Path)
				http.Error(w, `{"success":false,"error":"internal server error"}`, http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the status code a handler wrote.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}
