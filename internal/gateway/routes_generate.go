package gateway

import (
	"bytes"
	"context"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/notebookrag/gateway/internal/proxy"
	"github.com/notebookrag/gateway/internal/utils"
)

// handleGenerate starts an answer generation and relays the SSE stream back
// to the browser. The payload is rebuilt from the client body with generation
// defaults (stream on, k=8, rerank off); the notebook is spelled under both
// keys because the generation endpoint still reads the legacy alias.
//
// This route gets the long generation deadline instead of the proxy default.
func (g *Gateway) handleGenerate(w http.ResponseWriter, r *http.Request) {
	body, ok := g.readBody(w, r)
	if !ok {
		return
	}
	sc, err := g.resolveBodyScope(r, body)
	if err != nil {
		g.writeScopeError(w, r.Pattern, err)
		return
	}

	payload := map[string]any{
		"stream":         true,
		"query":          gjson.GetBytes(body, "query").String(),
		"k":              8.0,
		"rerank":         false,
		"include_global": sc.IncludeGlobal,
		"notebook":       sc.NotebookID,
		"notebook_id":    sc.NotebookID,
		"tenant":         sc.Tenant,
		"user_id":        sc.UserID,
	}
	if res := gjson.GetBytes(body, "stream"); res.Exists() {
		payload["stream"] = res.Bool()
	}
	if res := gjson.GetBytes(body, "selected_ids"); res.IsArray() {
		payload["selected_ids"] = res.Value()
	}
	if res := gjson.GetBytes(body, "k"); res.Exists() {
		payload["k"] = res.Float()
	} else if res := gjson.GetBytes(body, "top_k"); res.Exists() {
		payload["k"] = res.Float()
	}
	if res := gjson.GetBytes(body, "rerank"); res.Exists() {
		payload["rerank"] = res.Bool()
	} else if res := gjson.GetBytes(body, "use_rerank"); res.Exists() {
		payload["rerank"] = res.Bool()
	}

	out, err := utils.MarshalNoEscape(payload)
	if err != nil {
		g.writeError(w, "failed to encode upstream payload", http.StatusInternalServerError)
		return
	}

	rid := proxy.RequestID(r)
	headers := proxy.FilterHeaders(r.Header)
	headers.Set("Content-Type", "application/json; charset=utf-8")
	headers.Set("Accept", "text/event-stream")
	headers.Set("x-request-id", rid)

	ctx, cancel := context.WithTimeout(r.Context(), g.cfg.Timeouts.Generate)
	defer cancel()

	req, err := g.forwarder.NewRequest(ctx, http.MethodPost, "generate", r.URL.Query(), sc, headers, bytes.NewReader(out))
	if err != nil {
		g.writeError(w, "invalid proxy request", http.StatusBadRequest)
		return
	}
	resp, err := g.forwarder.Do(req)
	if err != nil {
		g.forwarder.WriteError(w, rid, "generate", req.URL.String(), err)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	proxy.RelaySSE(w, resp, rid)
}

// handleSearch runs a retrieval query. Like generate it rebuilds the payload
// with defaults; unlike generate the upstream may answer either plain JSON or
// an event stream, so the relay follows the upstream content type.
func (g *Gateway) handleSearch(w http.ResponseWriter, r *http.Request) {
	body, ok := g.readBody(w, r)
	if !ok {
		return
	}
	sc, err := g.resolveBodyScope(r, body)
	if err != nil {
		g.writeScopeError(w, r.Pattern, err)
		return
	}

	payload := map[string]any{
		"query":          gjson.GetBytes(body, "query").String(),
		"limit":          8.0,
		"k":              8.0,
		"rerank":         false,
		"include_global": sc.IncludeGlobal,
		"notebook":       sc.NotebookID,
		"notebook_id":    sc.NotebookID,
		"tenant":         sc.Tenant,
		"user_id":        sc.UserID,
	}
	if res := gjson.GetBytes(body, "limit"); res.Exists() {
		payload["limit"] = res.Float()
	}
	if res := gjson.GetBytes(body, "k"); res.Exists() {
		payload["k"] = res.Float()
	}
	if res := gjson.GetBytes(body, "rerank"); res.Exists() {
		payload["rerank"] = res.Bool()
	} else if res := gjson.GetBytes(body, "use_rerank"); res.Exists() {
		payload["rerank"] = res.Bool()
	}

	g.forwardJSON(w, r, http.MethodPost, "search", sc, payload, g.cfg.Timeouts.Proxy)
}
