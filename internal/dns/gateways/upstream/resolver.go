// Package upstream forwards queries the local store cannot answer to a list of
// recursive resolvers, caching the first non-empty answer.
package upstream

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/miekg/dns"

	"github.com/haukened/dnscore/internal/dns/common/log"
	"github.com/haukened/dnscore/internal/dns/common/utils"
	"github.com/haukened/dnscore/internal/dns/domain"
	"github.com/haukened/dnscore/internal/dns/gateways/wire"
)

const (
	// DefaultTimeout bounds a single exchange with one upstream server.
	DefaultTimeout = 5 * time.Second
	// DefaultPort is used for entries given as a bare IP literal.
	DefaultPort = utils.DNSPort

	resolvConfPath = "/etc/resolv.conf"
	maxMessageSize = 65535
)

// Error message constants for consistent error handling
const (
	errCacheRequired   = "upstream resolver requires a cache"
	errQueryTooShort   = "raw query is %d bytes, shorter than a header"
	errFailedToConnect = "failed to open upstream socket: %w"
	errWriteFailed     = "write failed: %w"
	errReadFailed      = "read failed: %w"
	errParseFailed     = "parse failed: %w"
)

// fallbackServers are used when neither configuration nor the host supplies any.
var fallbackServers = []netip.AddrPort{
	netip.AddrPortFrom(netip.AddrFrom4([4]byte{8, 8, 8, 8}), DefaultPort),
	netip.AddrPortFrom(netip.AddrFrom4([4]byte{1, 1, 1, 1}), DefaultPort),
}

// Cache is the subset of the result cache the resolver needs.
type Cache interface {
	Get(name string, t domain.RRType) ([]domain.Record, bool)
	Set(name string, t domain.RRType, records []domain.Record)
}

// Options configures a Resolver.
type Options struct {
	Cache   Cache
	Logger  log.Logger
	Timeout time.Duration
	// SystemServers discovers the host's resolvers; defaults to HostServers.
	SystemServers func() []netip.AddrPort
}

// Resolver is safe for concurrent use. All exchanges share one UDP socket and
// run one at a time, so a reply can only belong to the query in flight.
type Resolver struct {
	cache         Cache
	logger        log.Logger
	timeout       time.Duration
	systemServers func() []netip.AddrPort

	mu      sync.RWMutex
	servers []netip.AddrPort

	connMu sync.Mutex
	conn   *net.UDPConn
}

// NewResolver returns a Resolver with the fallback servers configured until
// SetUpstreamServers is called.
func NewResolver(opts Options) (*Resolver, error) {
	if opts.Cache == nil {
		return nil, fmt.Errorf(errCacheRequired)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	if opts.SystemServers == nil {
		opts.SystemServers = HostServers
	}
	return &Resolver{
		cache:         opts.Cache,
		logger:        opts.Logger,
		timeout:       opts.Timeout,
		systemServers: opts.SystemServers,
		servers:       append([]netip.AddrPort(nil), fallbackServers...),
	}, nil
}

// HostServers returns the nameservers listed in /etc/resolv.conf, or nil.
func HostServers() []netip.AddrPort {
	return serversFromResolvConf(resolvConfPath)
}

func serversFromResolvConf(path string) []netip.AddrPort {
	cfg, err := dns.ClientConfigFromFile(path)
	if err != nil {
		return nil
	}
	var out []netip.AddrPort
	for _, s := range cfg.Servers {
		ap, err := utils.ParseServerAddr(net.JoinHostPort(s, cfg.Port))
		if err != nil {
			continue
		}
		out = append(out, ap)
	}
	return out
}

// SetUpstreamServers replaces the server list. Unparseable entries are skipped
// with a warning. An empty result falls back to the host's resolvers, then to
// the public fallback pair.
func (r *Resolver) SetUpstreamServers(addresses []string) {
	servers := make([]netip.AddrPort, 0, len(addresses))
	for _, a := range addresses {
		ap, err := utils.ParseServerAddr(a)
		if err != nil {
			r.logger.Warn(map[string]any{"address": a, "error": err}, "skipping invalid upstream server")
			continue
		}
		servers = append(servers, ap)
	}

	source := "config"
	if len(servers) == 0 {
		servers = r.systemServers()
		source = "system"
	}
	if len(servers) == 0 {
		servers = append([]netip.AddrPort(nil), fallbackServers...)
		source = "fallback"
	}

	r.mu.Lock()
	r.servers = servers
	r.mu.Unlock()

	names := make([]string, len(servers))
	for i, s := range servers {
		names[i] = s.String()
	}
	r.logger.Info(map[string]any{"servers": names, "source": source}, "upstream servers configured")
}

// Servers returns a copy of the configured server list in query order.
func (r *Resolver) Servers() []netip.AddrPort {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]netip.AddrPort(nil), r.servers...)
}

// Query answers name/t from the cache, or forwards raw to each server in turn
// until one returns a non-empty answer list, which is cached and returned.
// The second result is false when every server failed or had no answers.
func (r *Resolver) Query(ctx context.Context, name string, t domain.RRType, raw []byte) ([]domain.Record, bool) {
	if records, ok := r.cache.Get(name, t); ok {
		r.logger.Debug(map[string]any{"domain": name, "type": t.String()}, "upstream cache hit")
		return records, true
	}
	if len(raw) < domain.HeaderSize {
		r.logger.Warn(map[string]any{"domain": name, "error": fmt.Errorf(errQueryTooShort, len(raw))}, "not forwarding query")
		return nil, false
	}

	for _, server := range r.Servers() {
		if ctx.Err() != nil {
			return nil, false
		}
		fields := map[string]any{"domain": name, "type": t.String(), "server": server.String()}
		records, err := r.exchange(ctx, server, raw)
		if err != nil {
			fields["error"] = err
			r.logger.Warn(fields, "upstream query failed")
			continue
		}
		if len(records) == 0 {
			r.logger.Debug(fields, "upstream returned no answers")
			continue
		}
		r.cache.Set(name, t, records)
		fields["answers"] = len(records)
		r.logger.Debug(fields, "upstream answered")
		return records, true
	}
	return nil, false
}

// exchange sends raw to server and waits for the reply carrying the same
// transaction id from that address. Datagrams from anyone else are dropped.
func (r *Resolver) exchange(ctx context.Context, server netip.AddrPort, raw []byte) ([]domain.Record, error) {
	r.connMu.Lock()
	defer r.connMu.Unlock()

	conn, err := r.socketLocked()
	if err != nil {
		return nil, fmt.Errorf(errFailedToConnect, err)
	}

	deadline := time.Now().Add(r.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	if _, err := conn.WriteToUDPAddrPort(raw, server); err != nil {
		return nil, fmt.Errorf(errWriteFailed, err)
	}

	id := binary.BigEndian.Uint16(raw[:2])
	want := server.Addr().Unmap()
	buf := make([]byte, maxMessageSize)
	for {
		n, from, err := conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			return nil, fmt.Errorf(errReadFailed, err)
		}
		if from.Addr().Unmap() != want || from.Port() != server.Port() {
			continue
		}
		if n < 2 || binary.BigEndian.Uint16(buf[:2]) != id {
			continue
		}
		records, err := wire.ParseResponse(buf[:n])
		if err != nil {
			return nil, fmt.Errorf(errParseFailed, err)
		}
		return records, nil
	}
}

func (r *Resolver) socketLocked() (*net.UDPConn, error) {
	if r.conn != nil {
		return r.conn, nil
	}
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, err
	}
	r.conn = conn
	return conn, nil
}

// Close releases the shared socket. A later Query opens a new one.
func (r *Resolver) Close() error {
	r.connMu.Lock()
	defer r.connMu.Unlock()
	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	r.conn = nil
	return err
}
