package transport

import (
	"context"
	"net"
	"sync"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"

	"github.com/haukened/dnscore/internal/dns/domain"
	"github.com/haukened/dnscore/internal/dns/gateways/wire"
)

// recordingHandler answers every A query with a fixed address and remembers
// what it was called with.
type recordingHandler struct {
	mu     sync.Mutex
	calls  int
	protos []TransportType
	silent bool
}

func (h *recordingHandler) ProcessQuery(_ context.Context, data []byte, _ net.Addr, proto TransportType) []byte {
	h.mu.Lock()
	h.calls++
	h.protos = append(h.protos, proto)
	silent := h.silent
	h.mu.Unlock()

	if silent {
		return nil
	}
	header, questions, err := wire.ParseQuery(data)
	if err != nil || len(questions) == 0 {
		return nil
	}
	answer := domain.Record{Domain: questions[0].Name, Type: domain.RRTypeA, Value: "192.0.2.10", TTL: 300}
	resp, err := wire.BuildResponse(&header, questions[:1], []domain.Record{answer})
	if err != nil {
		return nil
	}
	return resp
}

func (h *recordingHandler) snapshot() (int, []TransportType) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls, append([]TransportType(nil), h.protos...)
}

func newQuery(name string) *dns.Msg {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), dns.TypeA)
	return m
}

func requireAnswer(t *testing.T, resp *dns.Msg, name string) {
	t.Helper()
	require.NotNil(t, resp)
	require.True(t, resp.Response)
	require.Len(t, resp.Answer, 1)
	a, ok := resp.Answer[0].(*dns.A)
	require.True(t, ok)
	require.Equal(t, dns.Fqdn(name), a.Hdr.Name)
	require.Equal(t, "192.0.2.10", a.A.String())
}
