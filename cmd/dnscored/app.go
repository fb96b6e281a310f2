package main

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/haukened/dnscore/internal/dns/common/clock"
	"github.com/haukened/dnscore/internal/dns/common/log"
	"github.com/haukened/dnscore/internal/dns/config"
	"github.com/haukened/dnscore/internal/dns/domain"
	"github.com/haukened/dnscore/internal/dns/gateways/api"
	"github.com/haukened/dnscore/internal/dns/gateways/upstream"
	"github.com/haukened/dnscore/internal/dns/repos/dnscache"
	"github.com/haukened/dnscore/internal/dns/repos/hosts"
	"github.com/haukened/dnscore/internal/dns/repos/persistence"
	"github.com/haukened/dnscore/internal/dns/repos/persistence/boltstore"
	"github.com/haukened/dnscore/internal/dns/repos/persistence/jsonfile"
	"github.com/haukened/dnscore/internal/dns/repos/persistence/sqlstore"
	"github.com/haukened/dnscore/internal/dns/repos/recordstore"
	"github.com/haukened/dnscore/internal/dns/repos/zone"
	"github.com/haukened/dnscore/internal/dns/services/resolver"
	"github.com/haukened/dnscore/internal/dns/services/server"
)

const (
	defaultShutdownTimeout = 10 * time.Second
	defaultZoneTTL         = 300 * time.Second
)

// Application holds all the components of the DNS server
type Application struct {
	config   *config.AppConfig
	repo     persistence.Repository
	store    *recordstore.Store
	cache    *dnscache.Cache
	upstream *upstream.Resolver
	server   *server.Server
	api      *api.Server
	registry *prometheus.Registry

	// apiListener is bound by Run before the DNS listeners start.
	apiListener net.Listener
}

// buildApplication constructs all components and wires them together. The
// record store is loaded from persistence before it is returned.
func buildApplication(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	logger := log.GetLogger()
	clk := clock.RealClock{}

	initial, err := initialRecords(cfg)
	if err != nil {
		return nil, err
	}

	repo, err := openRepository(ctx, cfg.Persistence)
	if err != nil {
		return nil, fmt.Errorf("failed to open persistence: %w", err)
	}

	store := recordstore.New(recordstore.Options{
		Repository:       repo,
		Logger:           log.With(logger, map[string]any{"component": "recordstore"}),
		AutoSaveInterval: cfg.Persistence.AutoSaveInterval,
	})
	// A failed load is logged by the store and leaves it empty.
	_ = store.Load(ctx)

	cache, err := dnscache.New(dnscache.Options{
		MaxEntries: cfg.Cache.Size,
		DefaultTTL: cfg.Cache.MaxTTL,
		Clock:      clk,
		Logger:     log.With(logger, map[string]any{"component": "dnscache"}),
	})
	if err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("failed to create result cache: %w", err)
	}
	log.Info(map[string]any{
		"type":    "LRU",
		"size":    cfg.Cache.Size,
		"max_ttl": cfg.Cache.MaxTTL.String(),
	}, "DNS result cache configured")

	upstreamClient, err := upstream.NewResolver(upstream.Options{
		Cache:  cache,
		Logger: log.With(logger, map[string]any{"component": "upstream"}),
	})
	if err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("failed to create upstream client: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := resolver.NewMetrics(registry)
	metrics.RegisterCacheGauges(cache.Stats)
	metrics.RegisterStoreGauge(store.Count)

	service, err := resolver.New(resolver.Options{
		Store:          store,
		Upstream:       upstreamClient,
		EnableUpstream: cfg.EnableUpstream,
		AliasDepth:     cfg.AliasDepth,
		Logger:         log.With(logger, map[string]any{"component": "resolver"}),
		Metrics:        metrics,
	})
	if err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("failed to create resolver: %w", err)
	}

	srv, err := server.New(server.Options{
		Addr:            net.JoinHostPort("", strconv.Itoa(cfg.Port)),
		Handler:         service,
		Store:           store,
		InitialRecords:  initial,
		Upstream:        upstreamClient,
		UpstreamServers: cfg.Upstream,
		Logger:          logger,
	})
	if err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("failed to create server: %w", err)
	}

	app := &Application{
		config:   cfg,
		repo:     repo,
		store:    store,
		cache:    cache,
		upstream: upstreamClient,
		server:   srv,
		registry: registry,
	}

	if cfg.API.Enabled {
		app.api, err = api.New(api.Options{
			Store:    store,
			Cache:    cache,
			Gatherer: registry,
			Clock:    clk,
			Logger:   log.With(logger, map[string]any{"component": "api"}),
		})
		if err != nil {
			_ = repo.Close()
			return nil, fmt.Errorf("failed to create management API: %w", err)
		}
	}

	return app, nil
}

// initialRecords returns the configured custom records, then hosts file
// entries, then the zone directory's records.
func initialRecords(cfg *config.AppConfig) ([]domain.Record, error) {
	records, err := cfg.Records()
	if err != nil {
		return nil, err
	}
	if len(cfg.HostsFiles) > 0 {
		hostRecords, err := hosts.LoadFiles(cfg.HostsFiles, int(defaultZoneTTL.Seconds()), log.GetLogger())
		if err != nil {
			return nil, fmt.Errorf("failed to load hosts files: %w", err)
		}
		log.Info(map[string]any{
			"files":   cfg.HostsFiles,
			"records": len(hostRecords),
		}, "Hosts files loaded")
		records = append(records, hostRecords...)
	}
	if cfg.ZoneDir == "" {
		return records, nil
	}
	zoneRecords, err := zone.LoadRecords(cfg.ZoneDir, defaultZoneTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to load zone directory: %w", err)
	}
	log.Info(map[string]any{
		"zone_dir": cfg.ZoneDir,
		"records":  len(zoneRecords),
	}, "Zone files loaded")
	return append(records, zoneRecords...), nil
}

// openRepository selects the persistence backend.
func openRepository(ctx context.Context, cfg config.PersistenceConfig) (persistence.Repository, error) {
	provider, err := persistence.ParseProvider(cfg.Provider)
	if err != nil {
		return nil, err
	}

	var repo persistence.Repository
	switch provider {
	case persistence.ProviderJSON:
		repo, err = jsonfile.New(cfg.Path)
	case persistence.ProviderSQLite:
		repo, err = sqlstore.New(ctx, cfg.Path)
	case persistence.ProviderBolt:
		repo, err = boltstore.New(cfg.Path)
	default:
		repo = persistence.NewNop()
	}
	if err != nil {
		return nil, err
	}

	log.Info(map[string]any{
		"provider":          string(provider),
		"path":              cfg.Path,
		"autosave_interval": cfg.AutoSaveInterval.String(),
	}, "Persistence configured")
	return repo, nil
}

// Run starts every component and blocks until ctx is cancelled or the DNS
// listeners fail.
func (app *Application) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer app.close()

	if app.api != nil {
		ln, err := net.Listen("tcp", app.config.API.Addr)
		if err != nil {
			return fmt.Errorf("failed to bind management API on %s: %w", app.config.API.Addr, err)
		}
		app.apiListener = ln
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		app.cache.Run(ctx, app.config.Cache.CleanupInterval)
	}()
	go func() {
		defer wg.Done()
		app.store.RunAutoSave(ctx)
	}()
	if app.api != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := app.api.Serve(ctx, app.apiListener); err != nil {
				log.Error(map[string]any{"error": err}, "Management API failed")
			}
		}()
	}

	serverErr := app.server.Start(ctx)
	if serverErr != nil {
		log.Error(map[string]any{"error": serverErr}, "DNS server failed")
	}
	log.Info(nil, "Shutdown initiated")
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info(nil, "Graceful shutdown completed")
	case <-time.After(defaultShutdownTimeout):
		log.Warn(map[string]any{"timeout": defaultShutdownTimeout}, "Shutdown timeout exceeded")
		if serverErr == nil {
			serverErr = fmt.Errorf("shutdown timeout")
		}
	}
	return serverErr
}

// close releases the upstream socket and persistence after a final save.
func (app *Application) close() {
	app.store.Flush(context.Background())
	if err := app.upstream.Close(); err != nil {
		log.Warn(map[string]any{"error": err}, "Error closing upstream socket")
	}
	if err := app.repo.Close(); err != nil {
		log.Warn(map[string]any{"error": err}, "Error closing persistence")
	}
}

// Ready is closed once the DNS listeners are bound.
func (app *Application) Ready() <-chan struct{} {
	return app.server.Ready()
}

// DNSAddresses returns the bound DNS listener addresses.
func (app *Application) DNSAddresses() []string {
	return app.server.Addresses()
}

// APIAddress returns the bound management API address, or "" when disabled.
func (app *Application) APIAddress() string {
	if app.apiListener == nil {
		return ""
	}
	return app.apiListener.Addr().String()
}
