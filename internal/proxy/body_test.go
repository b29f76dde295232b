package proxy

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notebookrag/gateway/internal/scope"
)

var testScope = scope.Scope{Tenant: "demo", UserID: "local", NotebookID: "nb-1", IncludeGlobal: true}

func TestMergeScopeFillsMissingOnly(t *testing.T) {
	payload := map[string]any{"tenant": "acme", "query": "hello"}
	merged := MergeScope(payload, testScope)

	assert.Equal(t, "acme", merged["tenant"], "present keys are never overwritten")
	assert.Equal(t, "local", merged["user_id"])
	assert.Equal(t, "nb-1", merged["notebook_id"])
	assert.Equal(t, true, merged["include_global"])
	assert.Equal(t, "hello", merged["query"])

	// Input map untouched.
	_, ok := payload["user_id"]
	assert.False(t, ok)
}

func TestMergeScopeTreatsNullAsMissing(t *testing.T) {
	payload := map[string]any{}
	require.NoError(t, json.Unmarshal([]byte(`{"tenant":null,"notebook_id":null}`), &payload))

	merged := MergeScope(payload, testScope)
	assert.Equal(t, "demo", merged["tenant"])
	assert.Equal(t, "nb-1", merged["notebook_id"])
}

func TestMergeScopeNullNotebookDeletesKey(t *testing.T) {
	payload := map[string]any{}
	require.NoError(t, json.Unmarshal([]byte(`{"notebook_id":null}`), &payload))

	merged := MergeScope(payload, scope.Scope{Tenant: "demo", UserID: "local"})
	_, ok := merged["notebook_id"]
	assert.False(t, ok, "explicit null with no notebook in scope removes the key, never an empty string")
}

func TestMergeScopeRemovesLegacyAlias(t *testing.T) {
	payload := map[string]any{"notebook": "old", "notebook_id": "new"}
	merged := MergeScope(payload, testScope)
	_, ok := merged["notebook"]
	assert.False(t, ok)
	assert.Equal(t, "new", merged["notebook_id"])
}

func TestMergeScopeIdempotent(t *testing.T) {
	once := MergeScope(map[string]any{"query": "q"}, testScope)
	twice := MergeScope(once, testScope)
	assert.Equal(t, once, twice)
}

func TestPrepareJSONBodyEmptyBecomesObject(t *testing.T) {
	out := PrepareJSONBody(nil, testScope)
	require.True(t, out.Structured)

	decoded := map[string]any{}
	require.NoError(t, json.Unmarshal(out.Bytes, &decoded))
	assert.Equal(t, "demo", decoded["tenant"])
	assert.Equal(t, "nb-1", decoded["notebook_id"])
}

func TestPrepareJSONBodyPassthroughOnBadJSON(t *testing.T) {
	raw := []byte(`{"broken":`)
	out := PrepareJSONBody(raw, testScope)
	assert.True(t, out.Passthrough)
	assert.False(t, out.Structured)
	assert.Equal(t, raw, out.Bytes, "client bytes win over strict validation")
}
