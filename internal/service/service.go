// Package service owns the lifecycle of the three listeners the daemon
// runs side by side -- Remote (TCP+TLS data plane), Local (Unix-socket
// data plane), and Control (Unix-socket or loopback-TCP ticket API) -- and
// the group that starts, supervises, and shuts them down together
// (spec.md §4.7 "Process topology"), grounded on ais/daemon.go's
// rungroup: first exit (error, signal, or a service stopping on its own)
// triggers an ordered Stop of every other service, then the group waits
// for every Run to return.

package service

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/ovirt/imageio-core/internal/config"
	"github.com/ovirt/imageio-core/internal/httpsrv"
	"github.com/ovirt/imageio-core/internal/logging"
)

// Service is anything the Group can run and stop: an HTTP listener today,
// but the interface is narrow enough that a future housekeeping goroutine
// (e.g. the ticket-expiry sweeper) can join the same group.
type Service interface {
	Name() string
	Run() error
	Stop(err error)
}

// Group runs every registered Service concurrently and tears all of them
// down together once any one of them exits, mirroring ais/daemon.go's
// rungroup.
type Group struct {
	services []Service
}

func NewGroup() *Group {
	return &Group{}
}

func (g *Group) Add(s Service) {
	g.services = append(g.services, s)
}

// Run starts every service, blocks until the first one exits (on its own,
// via ctx cancellation, or because Stop was called from outside), stops
// the rest in registration order, and waits for all of them to finish.
// The triggering exit's error is returned (ctx.Err() on cancellation, nil
// when that service returned cleanly); errors of the services stopped
// afterwards are only logged.
func (g *Group) Run(ctx context.Context) error {
	errCh := make(chan error, len(g.services))
	for _, s := range g.services {
		go func(s Service) {
			err := s.Run()
			if err != nil {
				logging.Warningf("service %s exited with error: %v", s.Name(), err)
			}
			errCh <- err
		}(s)
	}

	var triggerErr error
	already := 0
	select {
	case triggerErr = <-errCh:
		already = 1
	case <-ctx.Done():
		triggerErr = ctx.Err()
	}

	for _, s := range g.services {
		s.Stop(triggerErr)
	}
	for i := already; i < len(g.services); i++ {
		<-errCh
	}
	return triggerErr
}

// httpService adapts an httpsrv.Server plus its listener to the Service
// interface, shared by all three constructors below.
type httpService struct {
	name     string
	listener net.Listener
	server   *httpsrv.Server
	timeout  time.Duration
}

func (s *httpService) Name() string { return s.name }

func (s *httpService) Run() error {
	return s.server.Serve(s.listener)
}

func (s *httpService) Stop(error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		logging.Warningf("service %s: shutdown: %v", s.name, err)
	}
}

// NewRemoteService builds the Remote data-plane listener: TCP, optionally
// wrapped in TLS with optional client-certificate verification via
// cfg.TLS.CAFile (spec.md §4.7 "Remote").
func NewRemoteService(cfg *config.Config, handler *httpsrv.Router) (Service, error) {
	addr := net.JoinHostPort(cfg.Remote.Host, strconv.Itoa(cfg.Remote.Port))
	network := "tcp"
	if cfg.Control.PreferIPv4 {
		network = "tcp4"
	}
	l, err := net.Listen(network, addr)
	if err != nil {
		return nil, fmt.Errorf("remote service: listen %s: %w", addr, err)
	}

	var tlsConfig *tls.Config
	if cfg.TLS.Enable {
		tlsConfig, err = buildTLSConfig(cfg)
		if err != nil {
			l.Close()
			return nil, err
		}
		l = tls.NewListener(l, tlsConfig)
	}

	srv := httpsrv.NewServer(handler, tlsConfig)
	return &httpService{name: "remote", listener: l, server: srv, timeout: cfg.Daemon.PollInterval}, nil
}

// NewLocalService builds the Local data-plane listener: a Unix (or Linux
// abstract, when cfg.Local.Socket starts with NUL) domain socket with no
// TLS (spec.md §4.7 "Local").
func NewLocalService(cfg *config.Config, handler *httpsrv.Router) (Service, error) {
	l, err := listenUnix(cfg.Local.Socket)
	if err != nil {
		return nil, fmt.Errorf("local service: %w", err)
	}
	srv := httpsrv.NewServer(handler, nil)
	return &httpService{name: "local", listener: l, server: srv, timeout: cfg.Daemon.PollInterval}, nil
}

// NewControlService builds the Control-plane listener: a Unix socket by
// preference, or loopback TCP when cfg.Control.Transport is "tcp" (spec.md
// §4.7 "Control").
func NewControlService(cfg *config.Config, handler *httpsrv.Router) (Service, error) {
	var (
		l   net.Listener
		err error
	)
	switch cfg.Control.Transport {
	case "tcp":
		network := "tcp"
		if cfg.Control.PreferIPv4 {
			network = "tcp4"
		}
		addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.Control.Port))
		l, err = net.Listen(network, addr)
	default:
		l, err = listenUnix(cfg.Control.Socket)
	}
	if err != nil {
		return nil, fmt.Errorf("control service: %w", err)
	}
	srv := httpsrv.NewServer(handler, nil)
	return &httpService{name: "control", listener: l, server: srv, timeout: cfg.Daemon.PollInterval}, nil
}

// listenUnix removes a stale socket file before binding (the daemon owns
// its run directory and a leftover file from an unclean shutdown must not
// block restart); abstract names (leading NUL) have no filesystem entry
// to remove.
func listenUnix(path string) (net.Listener, error) {
	if len(path) == 0 {
		return nil, fmt.Errorf("empty socket path")
	}
	if path[0] != 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("removing stale socket %s: %w", path, err)
		}
	}
	return net.Listen("unix", path)
}

func buildTLSConfig(cfg *config.Config) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(cfg.TLS.CertFile, cfg.TLS.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("loading TLS cert/key: %w", err)
	}
	tc := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	if cfg.TLS.EnableTLS1_1 {
		tc.MinVersion = tls.VersionTLS11
	}
	if cfg.TLS.CAFile != "" {
		pem, err := os.ReadFile(cfg.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("reading TLS CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.TLS.CAFile)
		}
		tc.ClientCAs = pool
		tc.ClientAuth = tls.VerifyClientCertIfGiven
	}
	return tc, nil
}
