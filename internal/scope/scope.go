// Package scope derives the canonical tenant/user/notebook access scope that
// authorizes and filters every upstream call.
//
// DESIGN: Resolution is a pure function over the inbound request's query
// parameters, headers, and (for body-scoped POST endpoints) the already
// buffered JSON body. Precedence per key:
//
//	query param -> aliased query param -> x-* header -> body field -> default
//
// Tenant and user always fall back to configured defaults; notebook_id fails
// resolution when the route requires it. The resolved Scope is immutable for
// the lifetime of the request.
package scope

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
)

// Scope is the tuple threaded through every proxied call.
type Scope struct {
	Tenant        string
	UserID        string
	NotebookID    string // empty when the route permits operating without one
	IncludeGlobal bool
}

// HasNotebook reports whether a notebook is part of the scope.
func (s Scope) HasNotebook() bool { return s.NotebookID != "" }

// IncludeGlobalString is the wire spelling upstream expects.
func (s Scope) IncludeGlobalString() string {
	if s.IncludeGlobal {
		return "true"
	}
	return "false"
}

// MissingScopeError reports a failed resolution. Code is the machine-readable
// error string returned to the client; Status the HTTP status to use.
type MissingScopeError struct {
	Code   string
	Status int
}

func (e *MissingScopeError) Error() string { return e.Code }

// ErrNotebookRequired is returned when a query-scoped route lacks a notebook.
var ErrNotebookRequired = &MissingScopeError{Code: "notebook_id is required", Status: http.StatusBadRequest}

// ErrMissingScope is returned when a body-scoped route lacks required fields
// after the body has been consulted.
var ErrMissingScope = &MissingScopeError{Code: "missing_scope", Status: http.StatusUnprocessableEntity}

var truthy = map[string]bool{"1": true, "true": true, "t": true, "yes": true, "y": true, "on": true}
var falsy = map[string]bool{"0": true, "false": true, "f": true, "no": true, "n": true, "off": true, "": true}

// ParseBool applies the tolerant boolean vocabulary. Unrecognized spellings
// fall back rather than erroring; leniency here is policy, not an oversight.
func ParseBool(value string, fallback bool) bool {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if truthy[normalized] {
		return true
	}
	if falsy[normalized] {
		return false
	}
	return fallback
}

// optionalNotebookRoots are forwarded path roots that may be called without a
// notebook when accessed at their root (listing notebooks, health probes).
var optionalNotebookRoots = map[string]bool{
	"notebooks": true,
	"health":    true,
}

// RequireNotebook computes the per-route notebook requirement for a forwarded
// path ("conversations", "notebooks", "docs/abc/pdf", ...).
func RequireNotebook(forwardedPath string) bool {
	root, rest, _ := strings.Cut(forwardedPath, "/")
	if root == "" {
		return false
	}
	if optionalNotebookRoots[root] && rest == "" {
		return false
	}
	return true
}

// Input carries the raw material resolution draws from. Body is an already
// buffered JSON payload (or nil); Resolve never reads from a live stream.
type Input struct {
	Query  url.Values
	Header http.Header
	Body   []byte
}

// Options controls per-route resolution behavior.
type Options struct {
	RequireNotebook bool
	// BodyScoped switches the failure mode to the 422 missing_scope code used
	// by endpoints that read scope out of their payload.
	BodyScoped bool
}

// Resolver resolves scopes against configured defaults.
type Resolver struct {
	DefaultTenant string
	DefaultUser   string
	// GlobalFallback is what include_global becomes for unrecognized values.
	GlobalFallback bool
}

// pick walks the precedence chain for one key.
func (r *Resolver) pick(in Input, key string, aliases ...string) string {
	for _, name := range append([]string{key}, aliases...) {
		if v := in.Query.Get(name); v != "" {
			return v
		}
	}
	if in.Header != nil {
		header := "x-" + strings.ReplaceAll(key, "_", "-")
		if v := in.Header.Get(header); v != "" {
			return v
		}
	}
	if in.Body != nil {
		for _, name := range append([]string{key}, aliases...) {
			if res := gjson.GetBytes(in.Body, name); res.Exists() && res.Type != gjson.Null {
				return res.String()
			}
		}
	}
	return ""
}

// Resolve derives the canonical scope or fails with a *MissingScopeError.
// It performs no I/O and never mutates its inputs.
func (r *Resolver) Resolve(in Input, opts Options) (Scope, error) {
	notebook := strings.TrimSpace(r.pick(in, "notebook_id", "notebook"))
	if notebook == "" && in.Header != nil {
		notebook = strings.TrimSpace(in.Header.Get("x-active-notebook"))
	}
	if notebook == "" && opts.RequireNotebook {
		if opts.BodyScoped {
			return Scope{}, ErrMissingScope
		}
		return Scope{}, ErrNotebookRequired
	}

	tenant := strings.TrimSpace(r.pick(in, "tenant"))
	if tenant == "" {
		tenant = r.DefaultTenant
	}
	user := strings.TrimSpace(r.pick(in, "user_id"))
	if user == "" {
		user = r.DefaultUser
	}

	includeGlobal := ParseBool(r.pick(in, "include_global"), r.GlobalFallback)

	return Scope{
		Tenant:        tenant,
		UserID:        user,
		NotebookID:    notebook,
		IncludeGlobal: includeGlobal,
	}, nil
}
