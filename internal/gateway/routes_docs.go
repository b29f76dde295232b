package gateway

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/notebookrag/gateway/internal/proxy"
	"github.com/notebookrag/gateway/internal/scope"
)

// handleDocLocate rebuilds the locate payload from the client body: a queries
// array (or a single query string promoted into one), optional page filter and
// hit cap, plus the resolved scope. Anything else in the body is dropped.
func (g *Gateway) handleDocLocate(w http.ResponseWriter, r *http.Request) {
	docID := r.PathValue("docID")
	sc, err := g.resolveQueryScope(r, true)
	if err != nil {
		g.writeScopeError(w, r.Pattern, err)
		return
	}
	body, ok := g.readBody(w, r)
	if !ok {
		return
	}

	payload := map[string]any{
		"tenant":         sc.Tenant,
		"user_id":        sc.UserID,
		"notebook_id":    sc.NotebookID,
		"include_global": sc.IncludeGlobal,
	}
	queries := []any{}
	if res := gjson.GetBytes(body, "queries"); res.IsArray() {
		queries = res.Value().([]any)
	}
	if len(queries) == 0 {
		if res := gjson.GetBytes(body, "query"); res.Type == gjson.String {
			queries = []any{res.String()}
		}
	}
	payload["queries"] = queries
	if res := gjson.GetBytes(body, "pages"); res.IsArray() {
		payload["pages"] = res.Value()
	}
	if res := gjson.GetBytes(body, "max_hits"); res.Type == gjson.Number {
		payload["max_hits"] = res.Float()
	}

	path := "docs/" + url.PathEscape(docID) + "/locate"
	g.forwardJSON(w, r, http.MethodPost, path, sc, payload, g.cfg.Timeouts.Proxy)
}

func (g *Gateway) handleDocMeta(w http.ResponseWriter, r *http.Request) {
	docID := r.PathValue("docID")
	sc, err := g.resolveQueryScope(r, true)
	if err != nil {
		g.writeScopeError(w, r.Pattern, err)
		return
	}
	g.forwarder.Forward(w, r, "docs/"+url.PathEscape(docID)+"/meta", sc, g.cfg.Timeouts.Proxy)
}

// handleDocPDF relays the PDF bytes with byte-range support. Only the Range
// header travels upstream; the response passes through the range allow-list
// and a HEAD probe keeps status and headers but drops the body.
func (g *Gateway) handleDocPDF(w http.ResponseWriter, r *http.Request) {
	docID := r.PathValue("docID")
	sc, err := g.resolveQueryScope(r, true)
	if err != nil {
		g.writeScopeError(w, r.Pattern, err)
		return
	}

	rid := proxy.RequestID(r)
	headers := http.Header{}
	if rng := r.Header.Get("Range"); rng != "" {
		headers.Set("Range", rng)
	}
	headers.Set("x-request-id", rid)

	ctx, cancel := context.WithTimeout(r.Context(), g.cfg.Timeouts.Proxy)
	defer cancel()

	path := "docs/" + url.PathEscape(docID) + "/pdf"
	req, err := g.forwarder.NewRequest(ctx, r.Method, path, r.URL.Query(), sc, headers, nil)
	if err != nil {
		g.writeError(w, "invalid proxy request", http.StatusBadRequest)
		return
	}
	resp, err := g.forwarder.Do(req)
	if err != nil {
		g.forwarder.WriteError(w, rid, path, req.URL.String(), err)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	proxy.RelayRange(w, resp, rid, r.Method == http.MethodHead)
}

// handleDocRects forwards the per-document highlight rect lookup.
func (g *Gateway) handleDocRects(w http.ResponseWriter, r *http.Request) {
	docID := r.PathValue("docID")
	sc, err := g.resolveQueryScope(r, true)
	if err != nil {
		g.writeScopeError(w, r.Pattern, err)
		return
	}
	r.Header.Set("Accept", "application/json")
	r.Header.Set("x-requested-by", "ui")
	g.forwarder.Forward(w, r, "docs/"+url.PathEscape(docID)+"/rects", sc, g.cfg.Timeouts.Proxy)
}

// handleFlatRects is the query-parameter variant of the rect lookup. The
// document must be named in doc_id; engine and include_items get viewer
// defaults when absent.
func (g *Gateway) handleFlatRects(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if strings.TrimSpace(q.Get("doc_id")) == "" {
		g.writeError(w, "doc_id required", http.StatusBadRequest)
		return
	}
	sc, err := g.resolveQueryScope(r, true)
	if err != nil {
		g.writeScopeError(w, r.Pattern, err)
		return
	}

	if q.Get("engine") == "" {
		q.Set("engine", "chars")
	}
	if q.Get("include_items") == "" {
		q.Set("include_items", "1")
	}
	r.URL.RawQuery = q.Encode()
	r.Header.Set("Accept", "application/json")
	r.Header.Set("x-requested-by", "ui")
	g.forwarder.Forward(w, r, "docs/rects", sc, g.cfg.Timeouts.Proxy)
}

// handleDocumentDelete removes a document from the notebook. Missing scope is
// a 422 here, and the notebook travels under both query spellings.
func (g *Gateway) handleDocumentDelete(w http.ResponseWriter, r *http.Request) {
	docID := r.PathValue("docID")
	sc, err := g.resolver.Resolve(
		scope.Input{Query: r.URL.Query(), Header: r.Header},
		scope.Options{RequireNotebook: true, BodyScoped: true},
	)
	if err != nil {
		g.writeScopeError(w, r.Pattern, err)
		return
	}
	g.forwardLegacyScoped(w, r, http.MethodDelete, "documents/"+url.PathEscape(docID), sc)
}
