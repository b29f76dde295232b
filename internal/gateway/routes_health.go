package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/notebookrag/gateway/internal/health"
)

// handleHealthTarget probes one named backend service. Unknown or disabled
// targets report skipped with a 200: the status strip treats an absent
// service as information, not an error.
func (g *Gateway) handleHealthTarget(w http.ResponseWriter, r *http.Request) {
	result := g.health.Probe(r.Context(), r.PathValue("target"))
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(result)
}

// handleHealthAll probes every declared service concurrently and reduces the
// results into one overall status: any down service wins over degraded,
// degraded over healthy; skipped services carry no weight.
func (g *Gateway) handleHealthAll(w http.ResponseWriter, r *http.Request) {
	results := g.health.ProbeAll(r.Context(), g.cfg.ServiceNames())

	overall := health.StatusHealthy
	for _, res := range results {
		switch res.Status {
		case health.StatusDown:
			overall = health.StatusDown
		case health.StatusDegraded:
			if overall != health.StatusDown {
				overall = health.StatusDegraded
			}
		}
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":   overall,
		"services": results,
		"time":     time.Now().Format(time.RFC3339),
	})
}
