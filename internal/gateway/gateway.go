// HTTP surface of the scope-resolving gateway.
//
// DESIGN: Main request flow:
//   - handleBackendProxy(): catch-all forward for /api/backend/*
//   - dedicated handlers:   endpoints with transport- or validation-specific
//     behavior (SSE generation, byte-range PDF, multipart upload, summarize)
//   - handleHealth*():      backend service probes for the status strip
//
// Every handler resolves scope first and fails fast before any upstream call.
package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/notebookrag/gateway/internal/config"
	"github.com/notebookrag/gateway/internal/health"
	"github.com/notebookrag/gateway/internal/monitoring"
	"github.com/notebookrag/gateway/internal/proxy"
	"github.com/notebookrag/gateway/internal/scope"
)

// Gateway wires the resolver, forwarder and health aggregator behind one mux.
// All fields are read-only after New; requests share no mutable state.
type Gateway struct {
	cfg       *config.Config
	resolver  *scope.Resolver
	forwarder *proxy.Forwarder
	health    *health.Aggregator
	metrics   monitoring.Metrics
	mux       *http.ServeMux
	server    *http.Server
}

// New builds a gateway from injected configuration.
func New(cfg *config.Config, metrics monitoring.Metrics) *Gateway {
	if metrics == nil {
		metrics = monitoring.Noop{}
	}
	g := &Gateway{
		cfg: cfg,
		resolver: &scope.Resolver{
			DefaultTenant:  cfg.DefaultTenantID,
			DefaultUser:    cfg.DefaultUserID,
			GlobalFallback: cfg.IncludeGlobalFallback,
		},
		forwarder: proxy.NewForwarder(cfg.UpstreamBaseURL, cfg.APIKey),
		health:    health.New(cfg),
		metrics:   metrics,
	}
	g.forwarder.SetFailureHook(func(forwardedPath, cause string) {
		g.metrics.IncUpstreamFailure(forwardedPath, cause)
	})
	g.routes()
	return g
}

func (g *Gateway) routes() {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", g.handleLiveness)
	mux.HandleFunc("GET /api/health", g.handleHealthAll)
	mux.HandleFunc("GET /api/health/{target}", g.handleHealthTarget)
	if g.cfg.MetricsEnabled {
		mux.Handle("GET /metrics", monitoring.Handler())
	}

	mux.HandleFunc("GET /api/backend/conversations", g.handleConversationsGet)
	mux.HandleFunc("PUT /api/backend/conversations", g.handleConversationsPut)

	mux.HandleFunc("POST /api/backend/docs/{docID}/locate", g.handleDocLocate)
	mux.HandleFunc("GET /api/backend/docs/{docID}/meta", g.handleDocMeta)
	mux.HandleFunc("GET /api/backend/docs/{docID}/pdf", g.handleDocPDF)
	mux.HandleFunc("HEAD /api/backend/docs/{docID}/pdf", g.handleDocPDF)
	mux.HandleFunc("GET /api/backend/docs/{docID}/rects", g.handleDocRects)
	mux.HandleFunc("GET /api/backend/docs/rects", g.handleFlatRects)
	mux.HandleFunc("DELETE /api/backend/documents/{docID}", g.handleDocumentDelete)

	mux.HandleFunc("POST /api/backend/ingest", g.handleIngest)
	mux.HandleFunc("POST /api/backend/generate", g.handleGenerate)
	mux.HandleFunc("POST /api/backend/search", g.handleSearch)
	mux.HandleFunc("POST /api/backend/summarize/start", g.handleSummarizeStart)
	mux.HandleFunc("POST /api/backend/summarize/cancel", g.handleSummarizeCancel)
	mux.HandleFunc("GET /api/backend/summarize/status/{jobID}", g.handleSummarizeStatus)
	mux.HandleFunc("GET /api/backend/usage", g.handleUsage)

	mux.HandleFunc("GET /api/backend/library/list", g.handleLibraryList)
	mux.HandleFunc("POST /api/backend/library/upload", g.handleLibraryUpload)
	mux.HandleFunc("POST /api/backend/library/delete", g.handleLibraryDelete)
	mux.HandleFunc("POST /api/backend/library/link", g.handleLibraryLink)
	mux.HandleFunc("GET /api/backend/library/tree", g.handleLibraryTree)

	// Everything else under /api/backend/ goes through the generic forward.
	mux.HandleFunc("/api/backend/", g.handleBackendProxy)

	g.mux = mux
}

// Handler returns the gateway's HTTP handler with request metrics attached.
func (g *Gateway) Handler() http.Handler {
	return g.instrument(g.mux)
}

// handleLiveness is the gateway's own liveness check; it never calls upstream.
func (g *Gateway) handleLiveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// writeError writes a structured JSON error response. Every failure path
// through the gateway produces valid JSON with an explicit utf-8 charset.
func (g *Gateway) writeError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// writeErrorDetail is writeError with an optional detail field.
func (g *Gateway) writeErrorDetail(w http.ResponseWriter, msg, detail string, status int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	body := map[string]string{"error": msg}
	if detail != "" {
		body["detail"] = detail
	}
	_ = json.NewEncoder(w).Encode(body)
}

// writeScopeError converts a failed resolution into its HTTP response and
// records the rejection. Scope failures never reach the network.
func (g *Gateway) writeScopeError(w http.ResponseWriter, route string, err error) {
	g.metrics.IncScopeRejected(route)
	var missing *scope.MissingScopeError
	if errors.As(err, &missing) {
		g.writeError(w, missing.Code, missing.Status)
		return
	}
	g.writeError(w, err.Error(), http.StatusBadRequest)
}

// resolveQueryScope resolves scope from query parameters and headers only,
// for routes that never consult the body.
func (g *Gateway) resolveQueryScope(r *http.Request, requireNotebook bool) (scope.Scope, error) {
	return g.resolver.Resolve(
		scope.Input{Query: r.URL.Query(), Header: r.Header},
		scope.Options{RequireNotebook: requireNotebook},
	)
}

// readBody buffers the inbound body exactly once, bounded by the request
// size cap. Handlers that call this must not touch r.Body afterwards.
func (g *Gateway) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, config.MaxRequestBodySize))
	if err != nil {
		g.writeError(w, "failed to read request body", http.StatusBadRequest)
		return nil, false
	}
	return body, true
}

// resolveBodyScope resolves scope for POST endpoints whose payload is a
// legitimate scope source. Missing scope here is a 422.
func (g *Gateway) resolveBodyScope(r *http.Request, body []byte) (scope.Scope, error) {
	return g.resolver.Resolve(
		scope.Input{Query: r.URL.Query(), Header: r.Header, Body: body},
		scope.Options{RequireNotebook: true, BodyScoped: true},
	)
}

// instrument wraps the mux with per-request metrics and access logging.
func (g *Gateway) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(started)

		// The mux pattern keeps metric label cardinality bounded; only the
		// catch-all falls back to the raw path prefix.
		route := r.Pattern
		if route == "" {
			route = r.URL.Path
		}
		g.metrics.ObserveRequest(route, r.Method, strconv.Itoa(rec.status), elapsed.Seconds())
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("elapsed", elapsed).
			Msg("request")
	})
}

// statusRecorder captures the response status while preserving the Flusher
// contract streaming relays depend on.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
