package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/notebookrag/gateway/internal/proxy"
	"github.com/notebookrag/gateway/internal/scope"
)

// handleConversationsGet relays the notebook's conversation log.
func (g *Gateway) handleConversationsGet(w http.ResponseWriter, r *http.Request) {
	sc, err := g.resolveQueryScope(r, true)
	if err != nil {
		g.writeScopeError(w, r.Pattern, err)
		return
	}
	g.forwarder.Forward(w, r, "conversations", sc, g.cfg.Timeouts.Proxy)
}

// handleConversationsPut replaces the conversation log. The payload must be
// valid JSON; scope is merged before the write so the log always lands under
// the resolved notebook.
func (g *Gateway) handleConversationsPut(w http.ResponseWriter, r *http.Request) {
	body, ok := g.readBody(w, r)
	if !ok {
		return
	}
	sc, err := g.resolver.Resolve(
		scope.Input{Query: r.URL.Query(), Header: r.Header, Body: body},
		scope.Options{RequireNotebook: true},
	)
	if err != nil {
		g.writeScopeError(w, r.Pattern, err)
		return
	}

	payload := map[string]any{}
	if err := json.Unmarshal(body, &payload); err != nil {
		g.writeErrorDetail(w, "invalid_json", err.Error(), http.StatusBadRequest)
		return
	}
	merged := proxy.MergeScope(payload, sc)

	g.forwardJSON(w, r, http.MethodPut, "conversations", sc, merged, g.cfg.Timeouts.Proxy)
}

// handleIngest streams an ingest upload straight through to upstream. The
// body is never buffered or inspected, so uploads have no size ceiling here;
// scope travels on the query string and headers only.
func (g *Gateway) handleIngest(w http.ResponseWriter, r *http.Request) {
	sc, err := g.resolveQueryScope(r, true)
	if err != nil {
		g.writeScopeError(w, r.Pattern, err)
		return
	}
	g.forwarder.ForwardStream(w, r, "ingest", sc, g.cfg.Timeouts.Proxy)
}

// handleSummarizeStart kicks off a summarization job. The body must be valid
// JSON naming at least one document; scope is merged in and the notebook is
// spelled under both keys for the job runner.
func (g *Gateway) handleSummarizeStart(w http.ResponseWriter, r *http.Request) {
	body, ok := g.readBody(w, r)
	if !ok {
		return
	}

	payload := map[string]any{}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			g.writeErrorDetail(w, "invalid_json", err.Error(), http.StatusBadRequest)
			return
		}
	}

	sc, err := g.resolveBodyScope(r, body)
	if err != nil {
		g.writeScopeError(w, r.Pattern, err)
		return
	}

	if docIDs, ok := payload["doc_ids"].([]any); !ok || len(docIDs) == 0 {
		g.writeError(w, "doc_ids required", http.StatusUnprocessableEntity)
		return
	}

	merged := proxy.MergeScope(payload, sc)
	merged["notebook"] = sc.NotebookID

	g.forwardJSON(w, r, http.MethodPost, "summarize/start", sc, merged, g.cfg.Timeouts.Summarize)
}

// handleSummarizeCancel cancels a running summarization job. The job ID comes
// from the body or, as a fallback, the query string; no notebook is needed to
// cancel a job you can name.
func (g *Gateway) handleSummarizeCancel(w http.ResponseWriter, r *http.Request) {
	body, ok := g.readBody(w, r)
	if !ok {
		return
	}
	jobID := gjson.GetBytes(body, "job_id").String()
	if jobID == "" {
		jobID = r.URL.Query().Get("job_id")
	}
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		g.writeError(w, "job_id required", http.StatusUnprocessableEntity)
		return
	}

	sc, err := g.resolver.Resolve(
		scope.Input{Query: r.URL.Query(), Header: r.Header, Body: body},
		scope.Options{},
	)
	if err != nil {
		g.writeScopeError(w, r.Pattern, err)
		return
	}

	path := "summarize/cancel/" + url.PathEscape(jobID)
	g.forwardJSON(w, r, http.MethodPost, path, sc, map[string]any{"job_id": jobID}, g.cfg.Timeouts.Proxy)
}

// handleSummarizeStatus polls a summarization job.
func (g *Gateway) handleSummarizeStatus(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobID")
	sc, err := g.resolveQueryScope(r, false)
	if err != nil {
		g.writeScopeError(w, r.Pattern, err)
		return
	}
	g.forwarder.Forward(w, r, "summarize/status/"+url.PathEscape(jobID), sc, g.cfg.Timeouts.Proxy)
}

// handleUsage relays the notebook's token usage counters. Missing scope is a
// 422 and the notebook travels under both query spellings.
func (g *Gateway) handleUsage(w http.ResponseWriter, r *http.Request) {
	sc, err := g.resolver.Resolve(
		scope.Input{Query: r.URL.Query(), Header: r.Header},
		scope.Options{RequireNotebook: true, BodyScoped: true},
	)
	if err != nil {
		g.writeScopeError(w, r.Pattern, err)
		return
	}
	g.forwardLegacyScoped(w, r, http.MethodGet, "usage", sc)
}
