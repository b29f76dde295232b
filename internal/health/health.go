// Package health probes the named backend services behind the notebook UI
// and reduces their states into the status strip's shape.
//
// DESIGN: Two probe shapes exist. The primary RAG/MCP service gets a rich
// probe that parses its JSON health body (document counts, tenant); auxiliary
// services get a generic probe where only HTTP status and latency matter.
// Transport success and application-level health are reported as distinct
// fields, never conflated.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/notebookrag/gateway/internal/config"
)

// Status is the reduced per-service state shown in the UI.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
	StatusSkipped  Status = "skipped"
)

// ServiceHealth is one probe result. Held only in transient memory and
// recomputed on every poll; never persisted.
type ServiceHealth struct {
	Service string `json:"service"`
	OK      bool   `json:"ok"`
	Status  Status `json:"status"`
	Skipped bool   `json:"skipped,omitempty"`
	MS      int64  `json:"ms,omitempty"`
	Error   string `json:"error,omitempty"`

	// Rich-probe fields, passed through from the service's own health body.
	Documents json.RawMessage `json:"documents,omitempty"`
	Tenant    string          `json:"tenant,omitempty"`
}

// richHealthBody is the subset of the RAG server's health payload we surface.
type richHealthBody struct {
	OK        bool            `json:"ok"`
	Status    string          `json:"status"`
	Documents json.RawMessage `json:"documents"`
	Tenant    string          `json:"tenant"`
}

// Aggregator owns the service registry and probes it on demand.
type Aggregator struct {
	services map[string]config.Service
	client   *http.Client
}

// New builds an aggregator over the configured service registry.
func New(cfg *config.Config) *Aggregator {
	return &Aggregator{
		services: cfg.Services,
		client:   &http.Client{},
	}
}

// Known reports whether name is a declared probe target.
func (a *Aggregator) Known(name string) bool {
	_, ok := a.services[name]
	return ok
}

// Probe checks a single named service. Unknown or disabled services
// short-circuit to skipped without any network call.
func (a *Aggregator) Probe(ctx context.Context, name string) ServiceHealth {
	svc, ok := a.services[name]
	if !ok || !svc.Enabled {
		return ServiceHealth{Service: name, Status: StatusSkipped, Skipped: true}
	}

	timeout := svc.Timeout
	if timeout <= 0 {
		timeout = config.DefaultHealthProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, svc.BaseURL+svc.Path, nil)
	if err != nil {
		return ServiceHealth{Service: name, Status: StatusDown, Error: err.Error()}
	}
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := a.client.Do(req)
	elapsed := time.Since(started).Milliseconds()
	if err != nil {
		log.Debug().Err(err).Str("service", name).Msg("health probe failed")
		return ServiceHealth{Service: name, Status: StatusDown, MS: elapsed, Error: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ServiceHealth{
			Service: name,
			Status:  StatusDegraded,
			MS:      elapsed,
			Error:   fmt.Sprintf("HTTP %d", resp.StatusCode),
		}
	}

	if svc.Rich {
		return richResult(name, elapsed, resp.Body)
	}
	return ServiceHealth{Service: name, OK: true, Status: StatusHealthy, MS: elapsed}
}

// richResult parses the RAG server's own health body. A 2xx with ok:false is
// healthy transport-wise; the body's own status string is surfaced as-is.
func richResult(name string, elapsed int64, body io.Reader) ServiceHealth {
	out := ServiceHealth{Service: name, Status: StatusHealthy, MS: elapsed}

	var rich richHealthBody
	if err := json.NewDecoder(io.LimitReader(body, 1<<20)).Decode(&rich); err != nil {
		// Unparsable body on a 2xx: transport is fine, report healthy.
		return out
	}
	out.OK = rich.OK
	if rich.Status != "" {
		out.Status = Status(rich.Status)
	}
	out.Documents = rich.Documents
	out.Tenant = rich.Tenant
	return out
}

// ProbeAll probes the named services concurrently. One slow or failing
// service never delays or fails another; total wall time tracks the slowest
// probe, not the sum.
func (a *Aggregator) ProbeAll(ctx context.Context, names []string) map[string]ServiceHealth {
	results := make([]ServiceHealth, len(names))

	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			results[i] = a.Probe(ctx, name)
		}(i, name)
	}
	wg.Wait()

	out := make(map[string]ServiceHealth, len(names))
	for _, r := range results {
		out[r.Service] = r
	}
	return out
}
