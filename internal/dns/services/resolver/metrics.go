package resolver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Answer sources recorded on dnscore_dns_query_total.
const (
	SourceLocal    = "local"
	SourceUpstream = "upstream"
	SourceNone     = "none"
)

// Metrics holds the query pipeline's collectors.
type Metrics struct {
	requests  prometheus.Counter
	malformed prometheus.Counter
	panics    prometheus.Counter
	transport *prometheus.CounterVec
	query     *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	reg       prometheus.Registerer
}

// NewMetrics registers the pipeline collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		reg: reg,
		requests: factory.NewCounter(prometheus.CounterOpts{
			Name: "dnscore_dns_requests_total",
			Help: "Total number of DNS requests.",
		}),
		malformed: factory.NewCounter(prometheus.CounterOpts{
			Name: "dnscore_dns_malformed_total",
			Help: "DNS requests that were malformed.",
		}),
		panics: factory.NewCounter(prometheus.CounterOpts{
			Name: "dnscore_dns_panics_total",
			Help: "DNS requests abandoned after a recovered panic.",
		}),
		transport: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dnscore_dns_transport_total",
			Help: "DNS requests by transport.",
		}, []string{
			"transport", // udp, tcp
		}),
		query: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dnscore_dns_query_total",
			Help: "DNS queries by query type, answer source and response code.",
		}, []string{
			"qtype",  // "A", "AAAA", "ANY", ...
			"source", // local, upstream, none
			"rcode",  // "NOERROR", "NXDOMAIN", "SERVFAIL"
		}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dnscore_dns_request_duration_seconds",
			Help:    "Time spent answering a DNS request.",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"transport"}),
	}
}

// RegisterCacheGauges exposes result cache occupancy through stats.
func (m *Metrics) RegisterCacheGauges(stats func() (total, active int)) {
	factory := promauto.With(m.reg)
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "dnscore_cache_entries",
		Help: "Result cache entries, including expired ones not yet swept.",
	}, func() float64 {
		total, _ := stats()
		return float64(total)
	})
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "dnscore_cache_active_entries",
		Help: "Result cache entries that have not expired.",
	}, func() float64 {
		_, active := stats()
		return float64(active)
	})
}

// RegisterStoreGauge exposes the number of locally managed records.
func (m *Metrics) RegisterStoreGauge(count func() int) {
	promauto.With(m.reg).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "dnscore_store_records",
		Help: "Records held in the local record store.",
	}, func() float64 {
		return float64(count())
	})
}
