package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/notebookrag/gateway/internal/config"
)

// Start runs the gateway's HTTP server and blocks until it stops. The write
// timeout must outlive the longest generation stream, so it is far larger
// than the read timeout.
func (g *Gateway) Start() error {
	g.server = &http.Server{
		Addr:         g.cfg.ListenAddr,
		Handler:      g.Handler(),
		ReadTimeout:  config.DefaultServerReadTimeout,
		WriteTimeout: config.DefaultServerWriteTimeout,
	}

	log.Info().
		Str("addr", g.cfg.ListenAddr).
		Str("upstream", g.forwarder.BaseURL()).
		Msg("gateway listening")

	err := g.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the server.
func (g *Gateway) Shutdown(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	return g.server.Shutdown(ctx)
}
