// Package api serves the management HTTP API: record CRUD over the local
// store, zone and cache inspection, health and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haukened/dnscore/internal/dns/common/clock"
	"github.com/haukened/dnscore/internal/dns/common/log"
	"github.com/haukened/dnscore/internal/dns/domain"
	"github.com/haukened/dnscore/internal/dns/repos/dnscache"
)

const shutdownTimeout = 5 * time.Second

// RecordStore is the part of the record store the API manages.
type RecordStore interface {
	GetAllRecords() []domain.Record
	Query(name string, t domain.RRType) ([]domain.Record, bool)
	AddRecord(ctx context.Context, r domain.Record) bool
	RemoveRecord(ctx context.Context, name string, t domain.RRType) bool
	Clear(ctx context.Context)
}

// CacheInspector exposes result cache contents.
type CacheInspector interface {
	Stats() (total, active int)
	Snapshot() []dnscache.EntryInfo
}

// Options configures the API. Cache and Gatherer are optional; their routes
// are not registered without them.
type Options struct {
	Store    RecordStore
	Cache    CacheInspector
	Gatherer prometheus.Gatherer
	Clock    clock.Clock
	Logger   log.Logger
}

// Server routes management requests.
type Server struct {
	store    RecordStore
	cache    CacheInspector
	clock    clock.Clock
	logger   log.Logger
	validate *validator.Validate
	router   *mux.Router
}

// New builds the router.
func New(opts Options) (*Server, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("api requires a record store")
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	s := &Server{
		store:    opts.Store,
		cache:    opts.Cache,
		clock:    opts.Clock,
		logger:   opts.Logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	s.router = s.setupRoutes(opts.Gatherer)
	return s, nil
}

func (s *Server) setupRoutes(gatherer prometheus.Gatherer) *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	r.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)

	dns := r.PathPrefix("/api/dns").Subrouter()
	dns.HandleFunc("/records", s.listRecordsHandler).Methods(http.MethodGet)
	dns.HandleFunc("/records", s.createRecordHandler).Methods(http.MethodPost)
	dns.HandleFunc("/records", s.clearRecordsHandler).Methods(http.MethodDelete)
	dns.HandleFunc("/records/{domain}/{type}", s.getRecordHandler).Methods(http.MethodGet)
	dns.HandleFunc("/records/{domain}/{type}", s.deleteRecordHandler).Methods(http.MethodDelete)
	dns.HandleFunc("/zones", s.listZonesHandler).Methods(http.MethodGet)
	if s.cache != nil {
		dns.HandleFunc("/cache", s.cacheHandler).Methods(http.MethodGet)
	}

	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	return r
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve answers requests on ln until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	s.logger.Info(map[string]any{"address": ln.Addr().String()}, "Management API listening")

	select {
	case err := <-errCh:
		return fmt.Errorf("management API stopped: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("management API shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info(nil, "Management API stopped")
	return nil
}

// ListenAndServe binds addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind management API on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.clock.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug(map[string]any{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": s.clock.Now().Sub(start).String(),
		}, "API request")
	})
}
