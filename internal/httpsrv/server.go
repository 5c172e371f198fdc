package httpsrv

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
)

// Server bundles a handler (normally a *Router) with connection tracking
// (spec.md §4.4) for one of the three services (spec.md §4.7).
type Server struct {
	http    *http.Server
	tracker *Tracker
}

// NewServer wraps handler with per-connection context tracking. tlsConfig
// may be nil for the Local and Control services, which never speak TLS.
func NewServer(handler http.Handler, tlsConfig *tls.Config) *Server {
	tracker := NewTracker()
	return &Server{
		http: &http.Server{
			Handler:     handler,
			TLSConfig:   tlsConfig,
			ConnContext: tracker.ConnContext,
			ConnState:   tracker.ConnState,
		},
		tracker: tracker,
	}
}

// Serve runs the HTTP loop over l until Shutdown is called. l is already
// TLS-wrapped by the caller when this service needs TLS.
func (s *Server) Serve(l net.Listener) error {
	err := s.http.Serve(l)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
