package api

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/dnscore/internal/dns/common/clock"
	"github.com/haukened/dnscore/internal/dns/domain"
	"github.com/haukened/dnscore/internal/dns/repos/dnscache"
	"github.com/haukened/dnscore/internal/dns/repos/recordstore"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	store *recordstore.Store
	cache *dnscache.Cache
	srv   *Server
}

func newFixture(t *testing.T, records ...domain.Record) *fixture {
	t.Helper()
	clk := &clock.MockClock{CurrentTime: epoch}
	store := recordstore.New(recordstore.Options{})
	store.AddRecords(context.Background(), records)

	cache, err := dnscache.New(dnscache.Options{Clock: clk})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "dnscore_test_total", Help: "test"}))

	srv, err := New(Options{Store: store, Cache: cache, Gatherer: reg, Clock: clk})
	require.NoError(t, err)
	return &fixture{store: store, cache: cache, srv: srv}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func rec(name string, typ domain.RRType, value string) domain.Record {
	return domain.Record{Domain: name, Type: typ, Value: value, TTL: 300}
}

func TestNew_RequiresStore(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, rec("a.example.com", domain.RRTypeA, "192.0.2.1"))
	resp := f.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "application/json", resp.Header().Get("Content-Type"))

	body := decode[map[string]any](t, resp)
	assert.Equal(t, "Healthy", body["status"])
	assert.Equal(t, float64(1), body["records"])
	assert.Equal(t, "2024-01-01T00:00:00Z", body["timestamp"])
}

func TestListRecords(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/api/dns/records", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `[]`, resp.Body.String())

	f.store.AddRecord(context.Background(), rec("a.example.com", domain.RRTypeA, "192.0.2.1"))
	resp = f.do(t, http.MethodGet, "/api/dns/records", "")
	assert.JSONEq(t, `[{"domain":"a.example.com","type":"A","value":"192.0.2.1","ttl":300}]`, resp.Body.String())
}

func TestCreateRecord(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/dns/records", `{"domain":"www.example.com","type":"a","value":"192.0.2.7","ttl":120}`)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	assert.Equal(t, "/api/dns/records/www.example.com/A", resp.Header().Get("Location"))
	assert.JSONEq(t, `{"domain":"www.example.com","type":"A","value":"192.0.2.7","ttl":120}`, resp.Body.String())

	records, ok := f.store.Query("www.example.com", domain.RRTypeA)
	require.True(t, ok)
	assert.Equal(t, []domain.Record{{Domain: "www.example.com", Type: domain.RRTypeA, Value: "192.0.2.7", TTL: 120}}, records)
}

func TestCreateRecord_DefaultTTL(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodPost, "/api/dns/records", `{"domain":"example.com","type":"MX","value":"10 mail.example.com"}`)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	got := decode[domain.Record](t, resp)
	assert.Equal(t, domain.DefaultTTL, got.TTL)
}

func TestCreateRecord_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"domain":`},
		{"missing domain", `{"type":"A","value":"192.0.2.1"}`},
		{"missing value", `{"domain":"a.example.com","type":"A"}`},
		{"missing type", `{"domain":"a.example.com","value":"192.0.2.1"}`},
		{"unknown type", `{"domain":"a.example.com","type":"HINFO","value":"x"}`},
		{"any type", `{"domain":"a.example.com","type":"ANY","value":"x"}`},
		{"zero ttl", `{"domain":"a.example.com","type":"A","value":"192.0.2.1","ttl":0}`},
		{"negative ttl", `{"domain":"a.example.com","type":"A","value":"192.0.2.1","ttl":-1}`},
		{"bad ipv4", `{"domain":"a.example.com","type":"A","value":"not-an-ip"}`},
		{"txt too long", `{"domain":"a.example.com","type":"TXT","value":"` + strings.Repeat("x", 256) + `"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			resp := f.do(t, http.MethodPost, "/api/dns/records", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.Code, resp.Body.String())
			body := decode[map[string]string](t, resp)
			assert.NotEmpty(t, body["error"])
			assert.Zero(t, f.store.Count())
		})
	}
}

func TestGetRecord(t *testing.T) {
	f := newFixture(t,
		rec("a.example.com", domain.RRTypeA, "192.0.2.1"),
		rec("*.wild.example.com", domain.RRTypeA, "192.0.2.9"),
	)

	resp := f.do(t, http.MethodGet, "/api/dns/records/A.EXAMPLE.COM/a", "")
	require.Equal(t, http.StatusOK, resp.Code)
	got := decode[[]domain.Record](t, resp)
	require.Len(t, got, 1)
	assert.Equal(t, "192.0.2.1", got[0].Value)

	resp = f.do(t, http.MethodGet, "/api/dns/records/host.wild.example.com/A", "")
	require.Equal(t, http.StatusOK, resp.Code)
	got = decode[[]domain.Record](t, resp)
	require.Len(t, got, 1)
	assert.Equal(t, "192.0.2.9", got[0].Value)

	resp = f.do(t, http.MethodGet, "/api/dns/records/missing.example.com/A", "")
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = f.do(t, http.MethodGet, "/api/dns/records/a.example.com/BOGUS", "")
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestDeleteRecord(t *testing.T) {
	f := newFixture(t,
		rec("a.example.com", domain.RRTypeA, "192.0.2.1"),
		rec("a.example.com", domain.RRTypeTXT, "hello"),
	)

	resp := f.do(t, http.MethodDelete, "/api/dns/records/a.example.com/A", "")
	assert.Equal(t, http.StatusNoContent, resp.Code)
	_, ok := f.store.Query("a.example.com", domain.RRTypeA)
	assert.False(t, ok)
	_, ok = f.store.Query("a.example.com", domain.RRTypeTXT)
	assert.True(t, ok, "other types under the name survive")

	resp = f.do(t, http.MethodDelete, "/api/dns/records/a.example.com/A", "")
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = f.do(t, http.MethodDelete, "/api/dns/records/a.example.com/BOGUS", "")
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestClearRecords(t *testing.T) {
	f := newFixture(t,
		rec("a.example.com", domain.RRTypeA, "192.0.2.1"),
		rec("b.example.org", domain.RRTypeA, "192.0.2.2"),
	)
	resp := f.do(t, http.MethodDelete, "/api/dns/records", "")
	assert.Equal(t, http.StatusNoContent, resp.Code)
	assert.Zero(t, f.store.Count())
}

func TestListZones(t *testing.T) {
	f := newFixture(t,
		rec("www.example.com", domain.RRTypeA, "192.0.2.1"),
		rec("mail.example.com", domain.RRTypeA, "192.0.2.2"),
		rec("*.apps.example.co.uk", domain.RRTypeA, "192.0.2.3"),
	)
	resp := f.do(t, http.MethodGet, "/api/dns/zones", "")
	require.Equal(t, http.StatusOK, resp.Code)

	zones := decode[[]zoneResponse](t, resp)
	require.Len(t, zones, 2)
	assert.Equal(t, "example.co.uk", zones[0].Zone)
	assert.Len(t, zones[0].Records, 1)
	assert.Equal(t, "example.com", zones[1].Zone)
	assert.Len(t, zones[1].Records, 2)
}

func TestCache(t *testing.T) {
	f := newFixture(t)
	f.cache.Set("up.example.net", domain.RRTypeA, []domain.Record{rec("up.example.net", domain.RRTypeA, "198.51.100.1")})

	resp := f.do(t, http.MethodGet, "/api/dns/cache", "")
	require.Equal(t, http.StatusOK, resp.Code)
	body := decode[cacheResponse](t, resp)
	assert.Equal(t, 1, body.Total)
	assert.Equal(t, 1, body.Active)
	require.Len(t, body.Entries, 1)
	assert.Equal(t, "198.51.100.1", body.Entries[0].Records[0].Value)
}

func TestCache_NotRegisteredWithoutCache(t *testing.T) {
	srv, err := New(Options{Store: recordstore.New(recordstore.Options{})})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/dns/cache", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetrics(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "dnscore_test_total")
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodPut, "/api/dns/records", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.Code)
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	f := newFixture(t, rec("a.example.com", domain.RRTypeA, "192.0.2.1"))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestListenAndServe_BindError(t *testing.T) {
	f := newFixture(t)
	err := f.srv.ListenAndServe(context.Background(), "256.0.0.1:0")
	assert.ErrorContains(t, err, "failed to bind")
}
