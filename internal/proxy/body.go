package proxy

import (
	"bytes"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/notebookrag/gateway/internal/scope"
	"github.com/notebookrag/gateway/internal/utils"
)

// BodyOutcome is the tagged result of preparing a JSON request body. Exactly
// one of the two shapes applies: Structured (parsed, scope-merged,
// re-serialized) or Passthrough (original bytes, untouched). Parse failure is
// policy, not an error: the client's bytes win over strict validation.
type BodyOutcome struct {
	Bytes       []byte
	Structured  bool
	Passthrough bool
}

// PrepareJSONBody merges the scope into a buffered JSON payload with
// fill-missing-only semantics:
//
//   - keys already present in the body are never overwritten
//   - the legacy "notebook" alias is always removed
//   - an explicit null notebook_id means "remove the key", never ""
//
// Unparsable input is returned as a Passthrough outcome. An empty body is
// treated as an empty object so scope still reaches upstream.
func PrepareJSONBody(raw []byte, sc scope.Scope) BodyOutcome {
	payload := map[string]any{}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &payload); err != nil {
			log.Warn().Err(err).Int("size", len(raw)).Msg("unparsable JSON body, passing through")
			return BodyOutcome{Bytes: raw, Passthrough: true}
		}
	}

	merged := MergeScope(payload, sc)
	out, err := utils.MarshalNoEscape(merged)
	if err != nil {
		// Only reachable for values json can't represent, which a decoded
		// map cannot contain; fall back to the original bytes regardless.
		return BodyOutcome{Bytes: raw, Passthrough: true}
	}
	return BodyOutcome{Bytes: out, Structured: true}
}

// MergeScope applies the canonical fill-missing merge to a decoded payload.
// An absent key and an explicit JSON null are distinguished: null means the
// client asked for the key, so scope fills it; for notebook_id with no
// notebook in scope, null deletes the key outright.
func MergeScope(payload map[string]any, sc scope.Scope) map[string]any {
	next := make(map[string]any, len(payload)+4)
	for k, v := range payload {
		next[k] = v
	}

	delete(next, "notebook")

	if v, ok := next["tenant"]; !ok || v == nil {
		next["tenant"] = sc.Tenant
	}
	if v, ok := next["user_id"]; !ok || v == nil {
		next["user_id"] = sc.UserID
	}
	if sc.HasNotebook() {
		if v, ok := next["notebook_id"]; !ok || v == nil {
			next["notebook_id"] = sc.NotebookID
		}
	} else if v, ok := next["notebook_id"]; ok && v == nil {
		delete(next, "notebook_id")
	}
	if v, ok := next["include_global"]; !ok || v == nil {
		next["include_global"] = sc.IncludeGlobal
	}
	return next
}
