package gateway

import (
	"bytes"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notebookrag/gateway/internal/config"
)

// upstreamRecorder is a fake RAG server that records the last request and
// serves a canned response.
type upstreamRecorder struct {
	method string
	path   string
	query  url.Values
	header http.Header
	body   []byte
	calls  int

	status      int
	contentType string
	response    string
}

func (u *upstreamRecorder) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u.calls++
		u.method = r.Method
		u.path = r.URL.Path
		u.query = r.URL.Query()
		u.header = r.Header.Clone()
		u.body, _ = io.ReadAll(r.Body)

		if u.contentType != "" {
			w.Header().Set("Content-Type", u.contentType)
		}
		status := u.status
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(u.response))
	}
}

func testConfig(upstreamURL string) *config.Config {
	return &config.Config{
		ListenAddr:      ":0",
		UpstreamBaseURL: upstreamURL,
		APIKey:          "rag-key-test",
		DefaultTenantID: "demo",
		DefaultUserID:   "local",
		Timeouts: config.Timeouts{
			Proxy:       2 * time.Second,
			Generate:    2 * time.Second,
			Summarize:   2 * time.Second,
			HealthProbe: time.Second,
		},
		Services: map[string]config.Service{
			"rag": {Enabled: true, BaseURL: upstreamURL, Path: "/api/health", Rich: true},
		},
	}
}

func newTestGateway(t *testing.T, upstream *upstreamRecorder) (http.Handler, *upstreamRecorder) {
	t.Helper()
	if upstream == nil {
		upstream = &upstreamRecorder{response: `{"ok":true}`, contentType: "application/json"}
	}
	srv := httptest.NewServer(upstream.handler())
	t.Cleanup(srv.Close)
	return New(testConfig(srv.URL), nil).Handler(), upstream
}

func do(h http.Handler, method, target string, body io.Reader, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestLiveness(t *testing.T) {
	h, _ := newTestGateway(t, nil)
	w := do(h, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestCatchAllRequiresNotebook(t *testing.T) {
	h, upstream := newTestGateway(t, nil)

	w := do(h, http.MethodGet, "/api/backend/chunks", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "notebook_id is required")
	assert.Zero(t, upstream.calls, "scope failures never reach the network")
}

func TestCatchAllOptionalNotebookRoots(t *testing.T) {
	h, upstream := newTestGateway(t, nil)

	w := do(h, http.MethodGet, "/api/backend/notebooks", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 1, upstream.calls)
	assert.Equal(t, "/notebooks", upstream.path)
	assert.Equal(t, "demo", upstream.query.Get("tenant"))
	assert.Equal(t, "local", upstream.query.Get("user_id"))
	assert.Empty(t, upstream.query.Get("notebook_id"))
}

func TestCatchAllForwardsScope(t *testing.T) {
	h, upstream := newTestGateway(t, nil)

	w := do(h, http.MethodGet, "/api/backend/chunks?notebook=nb-9", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "nb-9", upstream.query.Get("notebook_id"), "legacy alias resolves to the canonical key")
	assert.Empty(t, upstream.query.Get("notebook"))
	assert.Equal(t, "nb-9", upstream.header.Get("x-notebook-id"))
	assert.Equal(t, "Bearer rag-key-test", upstream.header.Get("Authorization"))
	assert.Equal(t, w.Header().Get("x-request-id"), upstream.header.Get("x-request-id"))
}

func TestCatchAllMalformedJSONPassesThrough(t *testing.T) {
	h, upstream := newTestGateway(t, nil)

	raw := `{"broken":`
	w := do(h, http.MethodPost, "/api/backend/chunks?notebook_id=nb-1",
		strings.NewReader(raw), map[string]string{"Content-Type": "application/json"})

	assert.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 1, upstream.calls)
	assert.Equal(t, raw, string(upstream.body), "unparsable bodies relay byte-identical")
	assert.Equal(t, "application/json", upstream.header.Get("Content-Type"))
}

func TestIngestStreamsUploadBody(t *testing.T) {
	h, upstream := newTestGateway(t, nil)

	size := int64(config.MaxRequestBodySize + 1)
	w := do(h, http.MethodPost, "/api/backend/ingest?notebook_id=nb-1",
		io.LimitReader(zeroReader{}, size), map[string]string{"Content-Type": "application/octet-stream"})

	assert.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 1, upstream.calls)
	assert.Equal(t, size, int64(len(upstream.body)), "uploads past the buffered limit stream through whole")
	assert.Equal(t, "application/octet-stream", upstream.header.Get("Content-Type"))
	assert.Equal(t, "nb-1", upstream.query.Get("notebook_id"))
}

// zeroReader never ends; pair with io.LimitReader to size a body without
// allocating it.
type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) { return len(p), nil }

func TestGenerateMissingScope(t *testing.T) {
	h, upstream := newTestGateway(t, nil)

	w := do(h, http.MethodPost, "/api/backend/generate", strings.NewReader(`{"query":"hi"}`), nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "missing_scope")
	assert.Zero(t, upstream.calls)
}

func TestGenerateStreamsSSE(t *testing.T) {
	upstream := &upstreamRecorder{
		contentType: "text/event-stream",
		response:    "data: {\"token\":\"hel\"}\n\ndata: {\"token\":\"lo\"}\n\n",
	}
	h, upstream := newTestGateway(t, upstream)

	body := `{"query":"what is this?","top_k":5,"use_rerank":true}`
	w := do(h, http.MethodPost, "/api/backend/generate?notebook_id=nb-1", strings.NewReader(body), map[string]string{
		"Content-Type": "application/json",
	})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "/generate", upstream.path)
	assert.Equal(t, "text/event-stream", upstream.header.Get("Accept"))

	payload := map[string]any{}
	require.NoError(t, json.Unmarshal(upstream.body, &payload))
	assert.Equal(t, true, payload["stream"])
	assert.Equal(t, "what is this?", payload["query"])
	assert.Equal(t, float64(5), payload["k"])
	assert.Equal(t, true, payload["rerank"])
	assert.Equal(t, "nb-1", payload["notebook_id"])
	assert.Equal(t, "nb-1", payload["notebook"])
	assert.Equal(t, "demo", payload["tenant"])

	assert.Equal(t, "text/event-stream; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "no", w.Header().Get("X-Accel-Buffering"))
	assert.Equal(t, "no-cache, no-transform", w.Header().Get("Cache-Control"))
	assert.Equal(t, upstream.response, w.Body.String())
}

func TestGenerateUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()
	h := New(testConfig(srv.URL), nil).Handler()

	w := do(h, http.MethodPost, "/api/backend/generate?notebook_id=nb-1", strings.NewReader(`{"query":"q"}`), nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, false, body["ok"])
	assert.NotEmpty(t, body["error"])
}

func TestSearchBuildsPayload(t *testing.T) {
	h, upstream := newTestGateway(t, nil)

	w := do(h, http.MethodPost, "/api/backend/search?notebook_id=nb-1", strings.NewReader(`{"query":"find me","limit":3}`), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "/search", upstream.path)

	payload := map[string]any{}
	require.NoError(t, json.Unmarshal(upstream.body, &payload))
	assert.Equal(t, "find me", payload["query"])
	assert.Equal(t, float64(3), payload["limit"])
	assert.Equal(t, float64(8), payload["k"])
	assert.Equal(t, false, payload["rerank"])
}

func TestDocPDFRangeRelay(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "bytes=0-1023", r.Header.Get("Range"))
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Range", "bytes 0-1023/4096")
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Set-Cookie", "secret=1")
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte("%PDF-chunk"))
	}))
	defer srv.Close()
	h := New(testConfig(srv.URL), nil).Handler()

	w := do(h, http.MethodGet, "/api/backend/docs/doc-1/pdf?notebook_id=nb-1", nil, map[string]string{
		"Range": "bytes=0-1023",
	})

	assert.Equal(t, http.StatusPartialContent, w.Code)
	assert.Equal(t, "bytes 0-1023/4096", w.Header().Get("Content-Range"))
	assert.Equal(t, "bytes", w.Header().Get("Accept-Ranges"))
	assert.Empty(t, w.Header().Get("Set-Cookie"), "only the range allow-list passes through")
	assert.Contains(t, w.Header().Get("Cache-Control"), "no-transform")
	assert.Equal(t, "%PDF-chunk", w.Body.String())
}

func TestDocPDFHeadSuppressesBody(t *testing.T) {
	upstream := &upstreamRecorder{contentType: "application/pdf", response: "%PDF"}
	h, upstream := newTestGateway(t, upstream)

	w := do(h, http.MethodHead, "/api/backend/docs/doc-1/pdf?notebook_id=nb-1", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, http.MethodHead, upstream.method)
	assert.Empty(t, w.Body.String())
}

func TestFlatRectsValidation(t *testing.T) {
	h, upstream := newTestGateway(t, nil)

	w := do(h, http.MethodGet, "/api/backend/docs/rects?notebook_id=nb-1", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "doc_id required")
	assert.Zero(t, upstream.calls)
}

func TestFlatRectsDefaults(t *testing.T) {
	h, upstream := newTestGateway(t, nil)

	w := do(h, http.MethodGet, "/api/backend/docs/rects?doc_id=doc-1&notebook_id=nb-1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "/docs/rects", upstream.path)
	assert.Equal(t, "doc-1", upstream.query.Get("doc_id"))
	assert.Equal(t, "chars", upstream.query.Get("engine"))
	assert.Equal(t, "1", upstream.query.Get("include_items"))
	assert.Equal(t, "ui", upstream.header.Get("x-requested-by"))
}

func TestDocLocateShapesPayload(t *testing.T) {
	h, upstream := newTestGateway(t, nil)

	body := `{"query":"single","pages":[1,2],"max_hits":4,"junk":"dropped"}`
	w := do(h, http.MethodPost, "/api/backend/docs/doc-1/locate?notebook_id=nb-1", strings.NewReader(body), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "/docs/doc-1/locate", upstream.path)

	payload := map[string]any{}
	require.NoError(t, json.Unmarshal(upstream.body, &payload))
	assert.Equal(t, []any{"single"}, payload["queries"])
	assert.Equal(t, []any{float64(1), float64(2)}, payload["pages"])
	assert.Equal(t, float64(4), payload["max_hits"])
	assert.Equal(t, "nb-1", payload["notebook_id"])
	_, ok := payload["junk"]
	assert.False(t, ok, "locate payload is rebuilt, not passed through")
}

func TestDocumentDeleteDualNotebookKeys(t *testing.T) {
	h, upstream := newTestGateway(t, nil)

	w := do(h, http.MethodDelete, "/api/backend/documents/doc-1?notebook_id=nb-1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, http.MethodDelete, upstream.method)
	assert.Equal(t, "/documents/doc-1", upstream.path)
	assert.Equal(t, "nb-1", upstream.query.Get("notebook_id"))
	assert.Equal(t, "nb-1", upstream.query.Get("notebook"))
}

func TestDocumentDeleteMissingScope(t *testing.T) {
	h, upstream := newTestGateway(t, nil)

	w := do(h, http.MethodDelete, "/api/backend/documents/doc-1", nil, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "missing_scope")
	assert.Zero(t, upstream.calls)
}

func TestUsageDualNotebookKeys(t *testing.T) {
	h, upstream := newTestGateway(t, nil)

	w := do(h, http.MethodGet, "/api/backend/usage?notebook_id=nb-1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "/usage", upstream.path)
	assert.Equal(t, "nb-1", upstream.query.Get("notebook"))
	assert.Equal(t, "nb-1", upstream.query.Get("notebook_id"))

	missing := do(h, http.MethodGet, "/api/backend/usage", nil, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, missing.Code)
}

func TestSummarizeStartValidation(t *testing.T) {
	h, upstream := newTestGateway(t, nil)

	w := do(h, http.MethodPost, "/api/backend/summarize/start?notebook_id=nb-1", strings.NewReader(`{"broken":`), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_json")

	w = do(h, http.MethodPost, "/api/backend/summarize/start?notebook_id=nb-1", strings.NewReader(`{"doc_ids":[]}`), nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "doc_ids required")

	assert.Zero(t, upstream.calls)
}

func TestSummarizeStartForwardsJob(t *testing.T) {
	h, upstream := newTestGateway(t, nil)

	w := do(h, http.MethodPost, "/api/backend/summarize/start?notebook_id=nb-1", strings.NewReader(`{"doc_ids":["d1","d2"],"style":"short"}`), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "/summarize/start", upstream.path)

	payload := map[string]any{}
	require.NoError(t, json.Unmarshal(upstream.body, &payload))
	assert.Equal(t, []any{"d1", "d2"}, payload["doc_ids"])
	assert.Equal(t, "short", payload["style"])
	assert.Equal(t, "nb-1", payload["notebook_id"])
	assert.Equal(t, "nb-1", payload["notebook"])
}

func TestSummarizeCancelRequiresJobID(t *testing.T) {
	h, upstream := newTestGateway(t, nil)

	w := do(h, http.MethodPost, "/api/backend/summarize/cancel", strings.NewReader(`{}`), nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "job_id required")
	assert.Zero(t, upstream.calls)

	w = do(h, http.MethodPost, "/api/backend/summarize/cancel", strings.NewReader(`{"job_id":"job-1"}`), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "/summarize/cancel/job-1", upstream.path)
}

func TestSummarizeStatus(t *testing.T) {
	h, upstream := newTestGateway(t, nil)

	w := do(h, http.MethodGet, "/api/backend/summarize/status/job-7", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "/summarize/status/job-7", upstream.path)
}

func TestConversationsPutValidation(t *testing.T) {
	h, upstream := newTestGateway(t, nil)

	w := do(h, http.MethodPut, "/api/backend/conversations?notebook_id=nb-1", strings.NewReader("not json"), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_json")
	assert.Zero(t, upstream.calls)
}

func TestConversationsPutMergesScope(t *testing.T) {
	h, upstream := newTestGateway(t, nil)

	w := do(h, http.MethodPut, "/api/backend/conversations?notebook_id=nb-1", strings.NewReader(`{"messages":[{"role":"user"}]}`), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, http.MethodPut, upstream.method)

	payload := map[string]any{}
	require.NoError(t, json.Unmarshal(upstream.body, &payload))
	assert.Equal(t, "nb-1", payload["notebook_id"])
	assert.Equal(t, "demo", payload["tenant"])
	assert.NotNil(t, payload["messages"])
}

func TestHealthTargetUnknownSkipped(t *testing.T) {
	h, _ := newTestGateway(t, nil)

	w := do(h, http.MethodGet, "/api/health/ghost", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var res map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "skipped", res["status"])
	assert.Equal(t, true, res["skipped"])
}

func TestHealthAggregate(t *testing.T) {
	upstream := &upstreamRecorder{
		contentType: "application/json",
		response:    `{"ok":true,"status":"healthy","tenant":"demo"}`,
	}
	h, _ := newTestGateway(t, upstream)

	w := do(h, http.MethodGet, "/api/health", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var res struct {
		Status   string                    `json:"status"`
		Services map[string]map[string]any `json:"services"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "healthy", res.Status)
	assert.Contains(t, res.Services, "rag")
}

func TestLibraryListFiltersScopeAndSearch(t *testing.T) {
	upstream := &upstreamRecorder{
		contentType: "application/json",
		response: `{"items":[
			{"item_id":"a","original_name":"notes.pdf","scope":"personal"},
			{"item_id":"b","original_name":"handbook.pdf","scope":"org"},
			{"item_id":"c","original_name":"report.pdf","scope":""}
		]}`,
	}
	h, upstream := newTestGateway(t, upstream)

	w := do(h, http.MethodGet, "/api/backend/library/list", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "/library/files", upstream.path)
	assert.Equal(t, "demo", upstream.query.Get("tenant"))

	var res struct {
		Files []map[string]any `json:"files"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Len(t, res.Files, 2, "default personal view keeps personal and unscoped items")

	w = do(h, http.MethodGet, "/api/backend/library/list?scope=team&q=handbook", nil, nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Len(t, res.Files, 1)
	assert.Equal(t, "b", res.Files[0]["item_id"])
}

func TestLibraryUploadRequiresFile(t *testing.T) {
	h, upstream := newTestGateway(t, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("folder", "docs")
	_ = mw.Close()

	w := do(h, http.MethodPost, "/api/backend/library/upload", &buf, map[string]string{
		"Content-Type": mw.FormDataContentType(),
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "file_required")
	assert.Zero(t, upstream.calls)
}

func TestLibraryUploadRebuildsForm(t *testing.T) {
	h, upstream := newTestGateway(t, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("folder", "reports/2026")
	_ = mw.WriteField("scope", "TEAM")
	part, err := mw.CreateFormFile("file", `bad/name:2026?.pdf`)
	require.NoError(t, err)
	_, _ = part.Write([]byte("%PDF"))
	_ = mw.Close()

	w := do(h, http.MethodPost, "/api/backend/library/upload", &buf, map[string]string{
		"Content-Type": mw.FormDataContentType(),
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 1, upstream.calls)

	_, params, err := mime.ParseMediaType(upstream.header.Get("Content-Type"))
	require.NoError(t, err)
	reader := multipart.NewReader(bytes.NewReader(upstream.body), params["boundary"])
	form, err := reader.ReadForm(1 << 20)
	require.NoError(t, err)
	defer func() { _ = form.RemoveAll() }()

	assert.Equal(t, []string{"demo"}, form.Value["tenant"])
	assert.Equal(t, []string{"local"}, form.Value["user_id"])
	assert.Equal(t, []string{"org"}, form.Value["scope"])
	assert.Equal(t, []string{"/reports/2026"}, form.Value["folder_path"])
	require.Len(t, form.File["file"], 1)
	assert.Equal(t, "bad_name_2026_.pdf", form.File["file"][0].Filename)
}

func TestLibraryDeleteValidation(t *testing.T) {
	h, upstream := newTestGateway(t, nil)

	w := do(h, http.MethodPost, "/api/backend/library/delete", strings.NewReader("oops"), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(h, http.MethodPost, "/api/backend/library/delete", strings.NewReader(`{"itemIds":[]}`), nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "itemIds_required")
	assert.Zero(t, upstream.calls)

	w = do(h, http.MethodPost, "/api/backend/library/delete", strings.NewReader(`{"itemIds":["a","","b"]}`), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "/library/files/delete", upstream.path)

	payload := map[string]any{}
	require.NoError(t, json.Unmarshal(upstream.body, &payload))
	assert.Equal(t, []any{"a", "b"}, payload["item_ids"])
}

func TestLibraryLink(t *testing.T) {
	h, upstream := newTestGateway(t, nil)

	w := do(h, http.MethodPost, "/api/backend/library/link?notebook_id=nb-1", strings.NewReader(`{"items":[]}`), nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	body := `{"items":[{"id":"f1"},{"path":"/ext/doc.pdf"},{"id":"f2"}]}`
	w = do(h, http.MethodPost, "/api/backend/library/link?notebook_id=nb-1", strings.NewReader(body), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "/library/files/link", upstream.path)

	payload := map[string]any{}
	require.NoError(t, json.Unmarshal(upstream.body, &payload))
	assert.Equal(t, []any{"f1", "f2"}, payload["item_ids"])
	assert.Equal(t, "nb-1", payload["notebook_id"])

	var res map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, true, res["ok"])
	assert.Equal(t, []any{"/ext/doc.pdf"}, res["skipped"])
}

func TestLibraryTreeBuildsNestedTree(t *testing.T) {
	upstream := &upstreamRecorder{
		contentType: "application/json",
		response: `{"folders":[
			{"path":"/reports","scope":"personal","count":2},
			{"path":"/reports/2026","scope":"personal","count":1}
		]}`,
	}
	h, _ := newTestGateway(t, upstream)

	w := do(h, http.MethodGet, "/api/backend/library/tree", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var tree []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tree))
	require.Len(t, tree, 1)
	assert.Equal(t, "/", tree[0]["path"])

	children, ok := tree[0]["children"].([]any)
	require.True(t, ok)
	require.Len(t, children, 1)
	reports := children[0].(map[string]any)
	assert.Equal(t, "/reports", reports["path"])
	assert.Equal(t, float64(2), reports["count"])

	nested := reports["children"].([]any)
	require.Len(t, nested, 1)
	assert.Equal(t, "/reports/2026", nested[0].(map[string]any)["path"])
}
