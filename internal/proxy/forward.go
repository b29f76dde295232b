package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/notebookrag/gateway/internal/config"
	"github.com/notebookrag/gateway/internal/scope"
)

// Forwarder builds and executes upstream requests against the RAG server.
// It holds only read-only configuration; every call is independent.
type Forwarder struct {
	baseURL   string
	apiKey    string
	client    *http.Client
	onFailure func(forwardedPath, cause string)
}

// NewForwarder creates a forwarder for the given upstream base URL.
func NewForwarder(baseURL, apiKey string) *Forwarder {
	return &Forwarder{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client: &http.Client{
			// The proxy is a transparent relay, never a redirect-following
			// client; 3xx responses surface to the caller as-is.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// BaseURL returns the configured upstream base.
func (f *Forwarder) BaseURL() string { return f.baseURL }

// SetFailureHook registers a callback invoked once per upstream transport
// failure with the forwarded path and the classified cause.
func (f *Forwarder) SetFailureHook(fn func(forwardedPath, cause string)) {
	f.onFailure = fn
}

// WriteError records the failure and writes the structured transport-failure
// response. Handlers that call Do directly use this instead of the package
// function so every failure reaches the hook.
func (f *Forwarder) WriteError(w http.ResponseWriter, rid, forwardedPath, target string, err error) {
	if f.onFailure != nil {
		_, cause := classifyTransportError(err)
		if cause == "" {
			cause = "transport"
		}
		f.onFailure(forwardedPath, cause)
	}
	WriteUpstreamError(w, rid, forwardedPath, target, err)
}

// ApplyScopeToQuery overlays the scope onto an outgoing query string. The
// legacy "notebook" alias is always removed so upstream never sees duplicate
// or conflicting notebook parameters.
func ApplyScopeToQuery(q url.Values, sc scope.Scope) {
	q.Set("tenant", sc.Tenant)
	q.Set("user_id", sc.UserID)
	if sc.HasNotebook() {
		q.Set("notebook_id", sc.NotebookID)
	} else {
		q.Del("notebook_id")
	}
	q.Set("include_global", sc.IncludeGlobalString())
	q.Del("notebook")
}

// TargetURL joins the upstream base with forwardedPath and the given query.
func (f *Forwarder) TargetURL(forwardedPath string, query url.Values) string {
	target := f.baseURL + "/" + strings.TrimPrefix(forwardedPath, "/")
	if encoded := query.Encode(); encoded != "" {
		target += "?" + encoded
	}
	return target
}

// NewRequest builds an upstream request with scope overlaid on the query and
// scope/auth headers injected. header may be nil.
func (f *Forwarder) NewRequest(ctx context.Context, method, forwardedPath string, query url.Values, sc scope.Scope, header http.Header, body io.Reader) (*http.Request, error) {
	q := url.Values{}
	for k, vs := range query {
		q[k] = vs
	}
	ApplyScopeToQuery(q, sc)

	req, err := http.NewRequestWithContext(ctx, method, f.TargetURL(forwardedPath, q), body)
	if err != nil {
		return nil, err
	}
	if header != nil {
		req.Header = header
	}
	InjectScopeHeaders(req.Header, sc)
	InjectAuthHeaders(req.Header, f.apiKey)
	return req, nil
}

// Do executes an upstream request.
func (f *Forwarder) Do(req *http.Request) (*http.Response, error) {
	return f.client.Do(req)
}

// RequestID propagates the inbound x-request-id or mints a fresh one.
func RequestID(r *http.Request) string {
	if id := r.Header.Get("x-request-id"); id != "" {
		return id
	}
	return uuid.New().String()
}

// UpstreamErrorBody is the structured JSON payload for transport failures.
// It names the attempted target and forwarded path so failures are diagnosable
// from the browser, and never carries secrets or stack traces.
type UpstreamErrorBody struct {
	OK            bool   `json:"ok"`
	Status        int    `json:"status"`
	Error         string `json:"error"`
	Target        string `json:"target"`
	ForwardedPath string `json:"forwardedPath"`
	Cause         string `json:"cause,omitempty"`
}

// classifyTransportError maps a failed upstream call to an HTTP status and a
// cause code: deadline -> 504, everything else (refused connection, DNS,
// reset) -> 502.
func classifyTransportError(err error) (int, string) {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return http.StatusServiceUnavailable, "canceled"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return http.StatusGatewayTimeout, "timeout"
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return http.StatusBadGateway, opErr.Op
	}
	return http.StatusBadGateway, ""
}

// WriteUpstreamError writes the structured transport-failure response.
func WriteUpstreamError(w http.ResponseWriter, rid, forwardedPath, target string, err error) {
	status, cause := classifyTransportError(err)

	log.Error().Err(err).
		Str("request_id", rid).
		Str("target", target).
		Str("forwarded_path", forwardedPath).
		Int("status", status).
		Msg("upstream request failed")

	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("x-request-id", rid)
	h.Set("x-proxy-path", forwardedPath)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(UpstreamErrorBody{
		OK:            false,
		Status:        status,
		Error:         err.Error(),
		Target:        target,
		ForwardedPath: forwardedPath,
		Cause:         cause,
	})
}

// Forward proxies the inbound request to forwardedPath and relays the
// upstream response to w. This is the generic path used by the catch-all and
// plain JSON endpoints; SSE and byte-range endpoints use the relay helpers
// in stream.go with their own header policies.
//
// The inbound body is read exactly once, before the upstream call begins.
func (f *Forwarder) Forward(w http.ResponseWriter, r *http.Request, forwardedPath string, sc scope.Scope, timeout time.Duration) {
	rid := RequestID(r)

	headers := FilterHeaders(r.Header)
	headers.Set("x-request-id", rid)
	headers.Set("x-forwarded-host", r.Host)
	headers.Set("x-forwarded-proto", forwardedProto(r))

	var body []byte
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, config.MaxRequestBodySize))
		if err != nil {
			writeClientError(w, rid, "failed to read request body", http.StatusBadRequest)
			return
		}
		contentType := r.Header.Get("Content-Type")
		if strings.Contains(contentType, "application/json") {
			outcome := PrepareJSONBody(raw, sc)
			body = outcome.Bytes
			if outcome.Structured {
				headers.Set("Content-Type", "application/json; charset=utf-8")
			}
		} else {
			body = raw
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	req, err := f.NewRequest(ctx, r.Method, forwardedPath, r.URL.Query(), sc, headers, bytes.NewReader(body))
	if err != nil {
		writeClientError(w, rid, "invalid proxy request", http.StatusBadRequest)
		return
	}

	resp, err := f.Do(req)
	if err != nil {
		f.WriteError(w, rid, forwardedPath, req.URL.String(), err)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	RelayResponse(w, resp, rid, forwardedPath)
}

// ForwardStream proxies the inbound request with its body handed to upstream
// as a live reader. Nothing is buffered and the body size is unbounded, so
// upload endpoints can carry payloads past the buffered-path limit. The body
// is never inspected: scope travels only on the query string and headers.
func (f *Forwarder) ForwardStream(w http.ResponseWriter, r *http.Request, forwardedPath string, sc scope.Scope, timeout time.Duration) {
	rid := RequestID(r)

	headers := FilterHeaders(r.Header)
	headers.Set("x-request-id", rid)
	headers.Set("x-forwarded-host", r.Host)
	headers.Set("x-forwarded-proto", forwardedProto(r))

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	req, err := f.NewRequest(ctx, r.Method, forwardedPath, r.URL.Query(), sc, headers, r.Body)
	if err != nil {
		writeClientError(w, rid, "invalid proxy request", http.StatusBadRequest)
		return
	}
	// Preserve the inbound length when known; -1 keeps chunked encoding.
	req.ContentLength = r.ContentLength

	resp, err := f.Do(req)
	if err != nil {
		f.WriteError(w, rid, forwardedPath, req.URL.String(), err)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	RelayResponse(w, resp, rid, forwardedPath)
}

func forwardedProto(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

// RelayResponse relays an upstream response: status and body unchanged,
// hop-by-hop headers stripped, and JSON content-types forced to utf-8 so
// intermediate re-decoding can never corrupt multibyte text.
func RelayResponse(w http.ResponseWriter, resp *http.Response, rid, forwardedPath string) {
	out := FilterHeaders(resp.Header)
	if ct := out.Get("Content-Type"); strings.HasPrefix(ct, "application/json") && !strings.Contains(strings.ToLower(ct), "charset=") {
		out.Set("Content-Type", "application/json; charset=utf-8")
	}
	out.Set("x-request-id", rid)
	out.Set("x-proxy-path", forwardedPath)

	dst := w.Header()
	for k, vs := range out {
		dst[k] = vs
	}
	w.WriteHeader(resp.StatusCode)
	relayChunks(w, resp.Body)
}

// writeClientError emits a local 4xx with a structured JSON body.
func writeClientError(w http.ResponseWriter, rid, msg string, status int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if rid != "" {
		w.Header().Set("x-request-id", rid)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
