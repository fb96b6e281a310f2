// Package resolver turns a raw DNS request into a raw response: local records
// first, then the upstream resolvers when forwarding is enabled.
package resolver

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/haukened/dnscore/internal/dns/common/log"
	"github.com/haukened/dnscore/internal/dns/domain"
	"github.com/haukened/dnscore/internal/dns/gateways/transport"
	"github.com/haukened/dnscore/internal/dns/gateways/wire"
)

// Options configures a Service.
type Options struct {
	Store    RecordStore
	Upstream UpstreamClient
	// EnableUpstream forwards local misses. When false a miss is answered SERVFAIL
	// so the client's stub resolver moves on to its next server.
	EnableUpstream bool
	// AliasDepth > 0 answers a miss through a local CNAME, following at most
	// that many hops.
	AliasDepth int
	Logger     log.Logger
	Metrics    *Metrics
}

// Service is safe for concurrent use.
type Service struct {
	store          RecordStore
	upstream       UpstreamClient
	enableUpstream bool
	alias          *aliasChaser
	logger         log.Logger
	metrics        *Metrics
}

// New returns a Service. Store is required; Upstream is required when
// EnableUpstream is set.
func New(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("resolver requires a record store")
	}
	if opts.EnableUpstream && opts.Upstream == nil {
		return nil, fmt.Errorf("upstream forwarding enabled without an upstream client")
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(prometheus.NewRegistry())
	}
	s := &Service{
		store:          opts.Store,
		upstream:       opts.Upstream,
		enableUpstream: opts.EnableUpstream,
		logger:         opts.Logger,
		metrics:        opts.Metrics,
	}
	if opts.AliasDepth > 0 {
		s.alias = &aliasChaser{store: opts.Store, logger: opts.Logger, maxDepth: opts.AliasDepth}
		if opts.EnableUpstream {
			s.alias.up = opts.Upstream
		}
	}
	return s, nil
}

// ProcessQuery answers the first question of data. It returns nil, and the
// client gets no reply, when the request is malformed or processing fails.
func (s *Service) ProcessQuery(ctx context.Context, data []byte, client net.Addr, proto transport.TransportType) (response []byte) {
	start := time.Now()
	s.metrics.requests.Inc()
	s.metrics.transport.WithLabelValues(string(proto)).Inc()
	defer func() {
		if r := recover(); r != nil {
			s.metrics.panics.Inc()
			s.logger.Error(map[string]any{
				"client":    addrString(client),
				"transport": string(proto),
				"panic":     fmt.Sprint(r),
			}, "Recovered from panic while processing DNS query")
			response = nil
		}
		s.metrics.duration.WithLabelValues(string(proto)).Observe(time.Since(start).Seconds())
	}()

	header, questions, err := wire.ParseQuery(data)
	if err != nil {
		s.metrics.malformed.Inc()
		s.logger.Warn(map[string]any{
			"client": addrString(client),
			"size":   len(data),
			"error":  err,
		}, "Dropping malformed DNS query")
		return nil
	}
	if !header.IsQuery() || len(questions) == 0 {
		s.metrics.malformed.Inc()
		s.logger.Warn(map[string]any{
			"client":    addrString(client),
			"id":        header.ID,
			"questions": len(questions),
		}, "Dropping DNS message without a query")
		return nil
	}

	q := questions[0]
	answers, source := s.resolve(ctx, header.ID, q, data)

	var rcode domain.RCode
	switch {
	case len(answers) > 0:
		rcode = domain.RCodeNoError
		response, err = wire.BuildResponse(&header, questions[:1], answers)
	case s.enableUpstream:
		rcode = domain.RCodeNXDomain
		response, err = wire.BuildErrorResponse(&header, questions[:1], rcode)
	default:
		rcode = domain.RCodeServFail
		response, err = wire.BuildErrorResponse(&header, questions[:1], rcode)
	}
	if err != nil {
		s.logger.Error(map[string]any{
			"client": addrString(client),
			"query":  q.String(),
			"error":  err,
		}, "Failed to build DNS response")
		return nil
	}

	s.metrics.query.WithLabelValues(q.Type.String(), source, rcode.String()).Inc()
	s.logger.Debug(map[string]any{
		"client":    addrString(client),
		"transport": string(proto),
		"id":        header.ID,
		"query":     q.String(),
		"source":    source,
		"rcode":     rcode.String(),
		"answers":   len(answers),
	}, "Answered DNS query")
	return response
}

// resolve looks q up locally, through a local alias, then upstream.
func (s *Service) resolve(ctx context.Context, id uint16, q domain.Question, raw []byte) ([]domain.Record, string) {
	if records, ok := s.store.Query(q.Name, q.Type); ok {
		return withOwner(records, q.Name), SourceLocal
	}

	if s.alias != nil && shouldChase(q.Type) {
		if aliases, ok := s.store.Query(q.Name, domain.RRTypeCNAME); ok {
			chain, err := s.alias.Chase(ctx, q, id, withOwner(aliases, q.Name))
			if err != nil {
				s.logger.Warn(map[string]any{"query": q.String(), "error": err}, "Alias chase stopped early")
			}
			if len(chain) > 0 {
				return chain, SourceLocal
			}
		}
	}

	if s.enableUpstream {
		if records, ok := s.upstream.Query(ctx, q.Name, q.Type, raw); ok {
			return records, SourceUpstream
		}
	}
	return nil, SourceNone
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}

var _ transport.QueryHandler = (*Service)(nil)
