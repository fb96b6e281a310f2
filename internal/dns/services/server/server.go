// Package server runs the DNS listeners: it seeds the record store, points the
// upstream resolver at its servers and serves UDP and TCP on one port until
// the context is cancelled.
package server

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/haukened/dnscore/internal/dns/common/log"
	"github.com/haukened/dnscore/internal/dns/domain"
	"github.com/haukened/dnscore/internal/dns/gateways/transport"
)

// RecordSeeder receives the initial record set.
type RecordSeeder interface {
	AddRecords(ctx context.Context, records []domain.Record) int
}

// UpstreamConfigurer accepts the configured upstream server list.
type UpstreamConfigurer interface {
	SetUpstreamServers(servers []string)
}

// Options configures a Server.
type Options struct {
	// Addr is host:port for both listeners. Port 0 picks a free UDP port and
	// binds TCP to the same one.
	Addr    string
	Handler transport.QueryHandler

	Store          RecordSeeder
	InitialRecords []domain.Record

	Upstream        UpstreamConfigurer
	UpstreamServers []string

	// Transports defaults to UDP then TCP.
	Transports []transport.TransportType
	Logger     log.Logger
}

// Server owns the listening transports.
type Server struct {
	opts   Options
	logger log.Logger

	mu         sync.RWMutex
	transports []transport.ServerTransport
	running    bool
	ready      chan struct{}
	readyOnce  sync.Once
}

// New validates opts and returns an unstarted Server.
func New(opts Options) (*Server, error) {
	if opts.Handler == nil {
		return nil, fmt.Errorf("server requires a query handler")
	}
	if opts.Addr == "" {
		return nil, fmt.Errorf("server requires a listen address")
	}
	if _, _, err := net.SplitHostPort(opts.Addr); err != nil {
		return nil, fmt.Errorf("invalid listen address %q: %w", opts.Addr, err)
	}
	if len(opts.Transports) == 0 {
		opts.Transports = transport.GetSupportedTransports()
	}
	for _, tt := range opts.Transports {
		if !transport.IsTransportSupported(tt) {
			return nil, fmt.Errorf("unsupported transport type: %s", tt)
		}
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	return &Server{
		opts:   opts,
		logger: opts.Logger,
		ready:  make(chan struct{}),
	}, nil
}

// Start seeds the store, configures upstream servers, binds every transport
// and blocks until ctx is cancelled. A bind failure stops the transports
// already started and is returned.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	if s.opts.Store != nil && len(s.opts.InitialRecords) > 0 {
		added := s.opts.Store.AddRecords(ctx, s.opts.InitialRecords)
		s.logger.Info(map[string]any{
			"configured": len(s.opts.InitialRecords),
			"added":      added,
		}, "Initial records loaded")
	}
	if s.opts.Upstream != nil {
		s.opts.Upstream.SetUpstreamServers(s.opts.UpstreamServers)
	}

	if err := s.startTransports(ctx); err != nil {
		s.stopTransports()
		return err
	}

	s.logger.Info(map[string]any{"addresses": s.Addresses()}, "DNS server started")
	s.readyOnce.Do(func() { close(s.ready) })

	<-ctx.Done()

	s.logger.Info(nil, "DNS server shutting down")
	s.stopTransports()
	return nil
}

func (s *Server) startTransports(ctx context.Context) error {
	addr := s.opts.Addr
	for _, tt := range s.opts.Transports {
		t, err := transport.NewTransport(tt, addr, s.logger)
		if err != nil {
			return err
		}
		if err := t.Start(ctx, s.opts.Handler); err != nil {
			return fmt.Errorf("failed to start %s transport: %w", tt, err)
		}
		s.mu.Lock()
		s.transports = append(s.transports, t)
		s.mu.Unlock()

		addr = pinPort(addr, t.Address())
	}
	return nil
}

// pinPort replaces a zero port in configured with the port bound.
func pinPort(configured, bound string) string {
	host, port, err := net.SplitHostPort(configured)
	if err != nil || port != "0" {
		return configured
	}
	_, boundPort, err := net.SplitHostPort(bound)
	if err != nil {
		return configured
	}
	if _, err := strconv.Atoi(boundPort); err != nil {
		return configured
	}
	return net.JoinHostPort(host, boundPort)
}

func (s *Server) stopTransports() {
	s.mu.Lock()
	transports := s.transports
	s.transports = nil
	s.mu.Unlock()

	for _, t := range transports {
		if err := t.Stop(); err != nil {
			s.logger.Warn(map[string]any{
				"address": t.Address(),
				"error":   err,
			}, "Error stopping transport")
		}
	}
}

// Ready is closed once every transport is bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addresses returns the bound address of each running transport.
func (s *Server) Addresses() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.transports))
	for _, t := range s.transports {
		out = append(out, t.Address())
	}
	return out
}
