// Package proxy implements the forwarding layer between the browser-facing
// routes and the upstream RAG server: header filtering, scope merging,
// request forwarding, and stream relaying.
package proxy

import (
	"net/http"
	"strings"

	"github.com/notebookrag/gateway/internal/scope"
)

// hopByHopHeaders must never cross the proxy boundary in either direction.
// content-length is included because the body may change size during scope
// merging; net/http recomputes it from the outgoing reader.
var hopByHopHeaders = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailers":            true,
	"transfer-encoding":   true,
	"upgrade":             true,
	"content-length":      true,
	"host":                true,
}

// FilterHeaders copies src minus hop-by-hop headers, guarantees a
// Cache-Control value, and forces keep-alive on the filtered side.
func FilterHeaders(src http.Header) http.Header {
	next := make(http.Header, len(src))
	for key, values := range src {
		if hopByHopHeaders[strings.ToLower(key)] {
			continue
		}
		for _, v := range values {
			next.Add(key, v)
		}
	}
	if next.Get("Cache-Control") == "" {
		next.Set("Cache-Control", "no-cache")
	}
	next.Set("Connection", "keep-alive")
	return next
}

// InjectScopeHeaders sets the x-* scope headers upstream reads. x-notebook-id
// is deleted before being conditionally re-set so an optional-notebook call
// never carries a stale value from the inbound request.
func InjectScopeHeaders(h http.Header, sc scope.Scope) {
	h.Set("x-tenant", sc.Tenant)
	h.Set("x-user-id", sc.UserID)
	h.Del("x-notebook-id")
	if sc.HasNotebook() {
		h.Set("x-notebook-id", sc.NotebookID)
	}
	h.Set("x-include-global", sc.IncludeGlobalString())
}

// InjectAuthHeaders adds the configured API key as both an Authorization
// bearer and x-api-key. No-op when no key is configured.
func InjectAuthHeaders(h http.Header, apiKey string) {
	if apiKey == "" {
		return
	}
	h.Set("Authorization", "Bearer "+apiKey)
	h.Set("x-api-key", apiKey)
}

// rangeResponseAllowlist is the only set of upstream response headers relayed
// on byte-range (PDF) endpoints.
var rangeResponseAllowlist = []string{
	"Content-Type",
	"Content-Range",
	"Accept-Ranges",
	"Etag",
	"Last-Modified",
	"Cache-Control",
	"Content-Disposition",
}

// FilterRangeHeaders extracts the byte-range allow-list from src and appends
// no-transform so intermediaries never recompress partial content.
func FilterRangeHeaders(src http.Header) http.Header {
	next := make(http.Header, len(rangeResponseAllowlist))
	for _, name := range rangeResponseAllowlist {
		if v := src.Get(name); v != "" {
			next.Set(name, v)
		}
	}
	if existing := next.Get("Cache-Control"); existing != "" {
		next.Set("Cache-Control", existing+", no-transform")
	} else {
		next.Set("Cache-Control", "no-transform")
	}
	return next
}
