package scope

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBool(t *testing.T) {
	tests := []struct {
		in       string
		fallback bool
		want     bool
	}{
		{"1", false, true},
		{"true", false, true},
		{"T", false, true},
		{"YES", false, true},
		{"y", false, true},
		{"on", false, true},
		{" On ", false, true},
		{"0", true, false},
		{"false", true, false},
		{"f", true, false},
		{"No", true, false},
		{"n", true, false},
		{"off", true, false},
		{"", true, false},
		{"maybe", true, true},
		{"2", false, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseBool(tt.in, tt.fallback), "ParseBool(%q, %v)", tt.in, tt.fallback)
	}
}

func TestRequireNotebook(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"", false},
		{"notebooks", false},
		{"health", false},
		{"notebooks/abc", true},
		{"health/deep", true},
		{"conversations", true},
		{"docs/doc-1/pdf", true},
		{"generate", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RequireNotebook(tt.path), "path %q", tt.path)
	}
}

func testResolver() *Resolver {
	return &Resolver{DefaultTenant: "demo", DefaultUser: "local"}
}

func TestResolvePrecedence(t *testing.T) {
	r := testResolver()

	t.Run("query beats alias", func(t *testing.T) {
		sc, err := r.Resolve(Input{
			Query: url.Values{"notebook_id": {"canonical"}, "notebook": {"alias"}},
		}, Options{RequireNotebook: true})
		require.NoError(t, err)
		assert.Equal(t, "canonical", sc.NotebookID)
	})

	t.Run("alias beats header", func(t *testing.T) {
		sc, err := r.Resolve(Input{
			Query:  url.Values{"notebook": {"alias"}},
			Header: http.Header{"X-Notebook-Id": {"from-header"}},
		}, Options{RequireNotebook: true})
		require.NoError(t, err)
		assert.Equal(t, "alias", sc.NotebookID)
	})

	t.Run("header beats body", func(t *testing.T) {
		sc, err := r.Resolve(Input{
			Query:  url.Values{},
			Header: http.Header{"X-Notebook-Id": {"from-header"}},
			Body:   []byte(`{"notebook_id":"from-body"}`),
		}, Options{RequireNotebook: true, BodyScoped: true})
		require.NoError(t, err)
		assert.Equal(t, "from-header", sc.NotebookID)
	})

	t.Run("body consulted last", func(t *testing.T) {
		sc, err := r.Resolve(Input{
			Query: url.Values{},
			Body:  []byte(`{"notebook_id":"from-body","tenant":"acme"}`),
		}, Options{RequireNotebook: true, BodyScoped: true})
		require.NoError(t, err)
		assert.Equal(t, "from-body", sc.NotebookID)
		assert.Equal(t, "acme", sc.Tenant)
	})

	t.Run("active notebook header fallback", func(t *testing.T) {
		sc, err := r.Resolve(Input{
			Query:  url.Values{},
			Header: http.Header{"X-Active-Notebook": {"active"}},
		}, Options{RequireNotebook: true})
		require.NoError(t, err)
		assert.Equal(t, "active", sc.NotebookID)
	})
}

func TestResolveDefaults(t *testing.T) {
	r := testResolver()
	sc, err := r.Resolve(Input{Query: url.Values{}}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "demo", sc.Tenant)
	assert.Equal(t, "local", sc.UserID)
	assert.Empty(t, sc.NotebookID)
	assert.False(t, sc.IncludeGlobal)
}

func TestResolveMissingNotebook(t *testing.T) {
	r := testResolver()

	_, err := r.Resolve(Input{Query: url.Values{}}, Options{RequireNotebook: true})
	var missing *MissingScopeError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, http.StatusBadRequest, missing.Status)
	assert.Equal(t, "notebook_id is required", missing.Code)

	_, err = r.Resolve(Input{Query: url.Values{}, Body: []byte(`{}`)}, Options{RequireNotebook: true, BodyScoped: true})
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, http.StatusUnprocessableEntity, missing.Status)
	assert.Equal(t, "missing_scope", missing.Code)
}

func TestResolveIgnoresNullBodyValues(t *testing.T) {
	r := testResolver()
	_, err := r.Resolve(Input{
		Query: url.Values{},
		Body:  []byte(`{"notebook_id":null}`),
	}, Options{RequireNotebook: true, BodyScoped: true})
	require.Error(t, err)
}

func TestResolveIncludeGlobal(t *testing.T) {
	r := testResolver()

	sc, err := r.Resolve(Input{Query: url.Values{"include_global": {"yes"}}}, Options{})
	require.NoError(t, err)
	assert.True(t, sc.IncludeGlobal)
	assert.Equal(t, "true", sc.IncludeGlobalString())

	fallback := &Resolver{DefaultTenant: "demo", DefaultUser: "local", GlobalFallback: true}
	sc, err = fallback.Resolve(Input{Query: url.Values{"include_global": {"banana"}}}, Options{})
	require.NoError(t, err)
	assert.True(t, sc.IncludeGlobal)
}
