package server

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/dnscore/internal/dns/domain"
	"github.com/haukened/dnscore/internal/dns/gateways/transport"
	"github.com/haukened/dnscore/internal/dns/gateways/wire"
)

type fakeSeeder struct {
	mu      sync.Mutex
	records []domain.Record
}

func (f *fakeSeeder) AddRecords(_ context.Context, records []domain.Record) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, records...)
	return len(records)
}

type fakeUpstream struct {
	mu      sync.Mutex
	servers []string
	calls   int
}

func (f *fakeUpstream) SetUpstreamServers(servers []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.servers = servers
	f.calls++
}

// answerA replies to every query with 192.0.2.53.
var answerA = transport.QueryHandlerFunc(func(_ context.Context, data []byte, _ net.Addr, _ transport.TransportType) []byte {
	header, questions, err := wire.ParseQuery(data)
	if err != nil || len(questions) == 0 {
		return nil
	}
	rec := domain.Record{Domain: questions[0].Name, Type: domain.RRTypeA, Value: "192.0.2.53", TTL: 60}
	resp, err := wire.BuildResponse(&header, questions[:1], []domain.Record{rec})
	if err != nil {
		return nil
	}
	return resp
})

func startServer(t *testing.T, opts Options) (*Server, context.CancelFunc, <-chan error) {
	t.Helper()
	srv, err := New(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	select {
	case <-srv.Ready():
	case err := <-done:
		cancel()
		t.Fatalf("server exited early: %v", err)
	case <-time.After(2 * time.Second):
		cancel()
		t.Fatal("server did not become ready")
	}
	return srv, cancel, done
}

func waitStopped(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestNew(t *testing.T) {
	_, err := New(Options{Addr: "127.0.0.1:0"})
	assert.Error(t, err, "handler required")

	_, err = New(Options{Handler: answerA})
	assert.Error(t, err, "address required")

	_, err = New(Options{Handler: answerA, Addr: "no-port"})
	assert.Error(t, err)

	_, err = New(Options{Handler: answerA, Addr: ":53", Transports: []transport.TransportType{"quic"}})
	assert.Error(t, err)

	srv, err := New(Options{Handler: answerA, Addr: ":53"})
	require.NoError(t, err)
	assert.Equal(t, []transport.TransportType{transport.TransportUDP, transport.TransportTCP}, srv.opts.Transports)
	assert.Empty(t, srv.Addresses())
}

func TestServer_StartServesUDPAndTCPOnOnePort(t *testing.T) {
	seeder := &fakeSeeder{}
	up := &fakeUpstream{}
	initial := []domain.Record{{Domain: "seed.example.com", Type: domain.RRTypeA, Value: "192.0.2.1", TTL: 300}}

	srv, cancel, done := startServer(t, Options{
		Addr:            "127.0.0.1:0",
		Handler:         answerA,
		Store:           seeder,
		InitialRecords:  initial,
		Upstream:        up,
		UpstreamServers: []string{"9.9.9.9"},
	})

	addrs := srv.Addresses()
	require.Len(t, addrs, 2)
	_, udpPort, err := net.SplitHostPort(addrs[0])
	require.NoError(t, err)
	_, tcpPort, err := net.SplitHostPort(addrs[1])
	require.NoError(t, err)
	assert.NotEqual(t, "0", udpPort)
	assert.Equal(t, udpPort, tcpPort)

	assert.Equal(t, initial, seeder.records)
	assert.Equal(t, []string{"9.9.9.9"}, up.servers)
	assert.Equal(t, 1, up.calls)

	for _, network := range []string{"udp", "tcp"} {
		t.Run(network, func(t *testing.T) {
			m := new(dns.Msg)
			m.SetQuestion("host.example.com.", dns.TypeA)
			c := &dns.Client{Net: network, Timeout: time.Second}
			resp, _, err := c.Exchange(m, addrs[0])
			require.NoError(t, err)
			require.Len(t, resp.Answer, 1)
			assert.Equal(t, "192.0.2.53", resp.Answer[0].(*dns.A).A.String())
		})
	}

	cancel()
	waitStopped(t, done)
	assert.Empty(t, srv.Addresses())
}

func TestServer_StartWithoutSeedOrUpstream(t *testing.T) {
	_, cancel, done := startServer(t, Options{
		Addr:       "127.0.0.1:0",
		Handler:    answerA,
		Store:      &fakeSeeder{},
		Transports: []transport.TransportType{transport.TransportUDP},
	})
	cancel()
	waitStopped(t, done)
}

func TestServer_StartTwice(t *testing.T) {
	srv, cancel, done := startServer(t, Options{
		Addr:       "127.0.0.1:0",
		Handler:    answerA,
		Transports: []transport.TransportType{transport.TransportUDP},
	})
	err := srv.Start(context.Background())
	assert.ErrorContains(t, err, "already running")

	cancel()
	waitStopped(t, done)
}

func TestServer_BindFailureStopsStartedTransports(t *testing.T) {
	// Hold a TCP port so the UDP listener binds and the TCP one fails.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	srv, err := New(Options{Addr: ln.Addr().String(), Handler: answerA})
	require.NoError(t, err)

	err = srv.Start(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "tcp")
	assert.Empty(t, srv.Addresses())

	// The UDP port was released.
	pc, err := net.ListenPacket("udp", ln.Addr().String())
	require.NoError(t, err)
	pc.Close()
}

func TestPinPort(t *testing.T) {
	tests := []struct {
		configured, bound, want string
	}{
		{"127.0.0.1:0", "127.0.0.1:40000", "127.0.0.1:40000"},
		{":0", "[::]:40001", ":40001"},
		{"127.0.0.1:53", "127.0.0.1:53", "127.0.0.1:53"},
		{"127.0.0.1:0", "garbage", "127.0.0.1:0"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, pinPort(tt.configured, tt.bound))
	}
}
