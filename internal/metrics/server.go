package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const shutdownTimeout = 5 * time.Second

// Server exposes the collectors at /metrics.
type Server struct {
	server   *http.Server
	listener net.Listener
	log      zerolog.Logger
}

// Start listens on addr and serves m in the background.
func (m *Metrics) Start(addr string, log zerolog.Logger) (*Server, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &Server{
		server:   &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second},
		listener: ln,
		log:      log.With().Str("component", "metrics").Logger(),
	}
	s.log.Info().Str("addr", ln.Addr().String()).Msg("Starting metrics server")
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("Metrics server stopped")
		}
	}()
	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string { return s.listener.Addr().String() }

// Shutdown stops the server, waiting briefly for in-flight scrapes.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}
