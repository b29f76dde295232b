package gateway

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/notebookrag/gateway/internal/proxy"
	"github.com/notebookrag/gateway/internal/scope"
	"github.com/notebookrag/gateway/internal/utils"
)

// backendPrefix is the browser-facing mount point for proxied RAG calls.
const backendPrefix = "/api/backend/"

// handleBackendProxy is the generic catch-all forward. Scope is resolved from
// query parameters and headers (never the body: the catch-all may carry
// opaque or streaming payloads), the notebook requirement is computed from
// the forwarded path, and the request is relayed with the generic timeout.
func (g *Gateway) handleBackendProxy(w http.ResponseWriter, r *http.Request) {
	forwardedPath := strings.TrimPrefix(r.URL.Path, backendPrefix)
	forwardedPath = strings.Trim(forwardedPath, "/")

	sc, err := g.resolveQueryScope(r, scope.RequireNotebook(forwardedPath))
	if err != nil {
		g.writeScopeError(w, backendPrefix+forwardedPath, err)
		return
	}

	g.forwarder.Forward(w, r, forwardedPath, sc, g.cfg.Timeouts.Proxy)
}

// forwardJSON sends a shaped JSON payload upstream and relays the response.
// Used by endpoints that rebuild their payload rather than passing the client
// bytes through. An upstream that answers with an event stream is relayed as
// one.
func (g *Gateway) forwardJSON(w http.ResponseWriter, r *http.Request, method, forwardedPath string, sc scope.Scope, payload any, timeout time.Duration) {
	rid := proxy.RequestID(r)
	body, err := utils.MarshalNoEscape(payload)
	if err != nil {
		g.writeError(w, "failed to encode upstream payload", http.StatusInternalServerError)
		return
	}

	headers := proxy.FilterHeaders(r.Header)
	headers.Set("Content-Type", "application/json; charset=utf-8")
	headers.Set("Accept", "application/json")
	headers.Set("x-request-id", rid)

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	req, err := g.forwarder.NewRequest(ctx, method, forwardedPath, r.URL.Query(), sc, headers, bytes.NewReader(body))
	if err != nil {
		g.writeError(w, "invalid proxy request", http.StatusBadRequest)
		return
	}
	resp, err := g.forwarder.Do(req)
	if err != nil {
		g.forwarder.WriteError(w, rid, forwardedPath, req.URL.String(), err)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		proxy.RelaySSE(w, resp, rid)
		return
	}
	proxy.RelayResponse(w, resp, rid, forwardedPath)
}

// forwardLegacyScoped forwards a bodyless request with the notebook spelled
// under both the canonical key and the legacy alias; a couple of upstream
// endpoints still read the old name.
func (g *Gateway) forwardLegacyScoped(w http.ResponseWriter, r *http.Request, method, forwardedPath string, sc scope.Scope) {
	rid := proxy.RequestID(r)

	ctx, cancel := context.WithTimeout(r.Context(), g.cfg.Timeouts.Proxy)
	defer cancel()

	req, err := g.forwarder.NewRequest(ctx, method, forwardedPath, r.URL.Query(), sc, nil, nil)
	if err != nil {
		g.writeError(w, "invalid proxy request", http.StatusBadRequest)
		return
	}
	q := req.URL.Query()
	q.Set("notebook", sc.NotebookID)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("x-request-id", rid)

	resp, err := g.forwarder.Do(req)
	if err != nil {
		g.forwarder.WriteError(w, rid, forwardedPath, req.URL.String(), err)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	proxy.RelayResponse(w, resp, rid, forwardedPath)
}
