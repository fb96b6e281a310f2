package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/haukened/dnscore/internal/dns/common/log"
)

// maxUDPMessageSize is the classic DNS datagram limit; EDNS0 is not negotiated.
const maxUDPMessageSize = 512

// UDPTransport serves DNS over UDP. Each datagram is processed on its own
// goroutine so a slow query never delays draining the socket.
type UDPTransport struct {
	addr   string
	logger log.Logger

	mu      sync.RWMutex
	conn    *net.UDPConn
	running bool
	unwatch func() bool
}

// NewUDPTransport creates a new UDP transport instance.
func NewUDPTransport(addr string, logger log.Logger) *UDPTransport {
	return &UDPTransport{
		addr:   addr,
		logger: logger,
	}
}

// Start binds the UDP socket and starts the receive loop.
func (t *UDPTransport) Start(ctx context.Context, handler QueryHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return fmt.Errorf("UDP transport already running")
	}

	udpAddr, err := net.ResolveUDPAddr("udp", t.addr)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address %s: %w", t.addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("failed to bind UDP socket on %s: %w", t.addr, err)
	}

	t.conn = conn
	t.running = true
	t.unwatch = context.AfterFunc(ctx, func() { _ = t.Stop() })

	t.logger.Info(map[string]any{
		"transport": string(TransportUDP),
		"address":   conn.LocalAddr().String(),
	}, "DNS transport started")

	go t.listenLoop(context.WithoutCancel(ctx), conn, handler)
	return nil
}

// Stop closes the socket, which ends the receive loop.
func (t *UDPTransport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return nil
	}
	t.running = false
	if t.unwatch != nil {
		t.unwatch()
		t.unwatch = nil
	}

	closeErr := t.conn.Close()
	if closeErr != nil {
		t.logger.Warn(map[string]any{"error": closeErr}, "Error closing UDP connection")
	}

	t.logger.Info(map[string]any{
		"transport": string(TransportUDP),
		"address":   t.conn.LocalAddr().String(),
	}, "DNS transport stopped")
	return closeErr
}

// Address returns the network address the transport is bound to.
func (t *UDPTransport) Address() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.conn != nil {
		return t.conn.LocalAddr().String()
	}
	return t.addr
}

func (t *UDPTransport) isRunning() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.running
}

// listenLoop reads datagrams until the socket is closed. ctx is detached from
// shutdown so in-flight requests finish on their own.
func (t *UDPTransport) listenLoop(ctx context.Context, conn *net.UDPConn, handler QueryHandler) {
	buffer := make([]byte, maxUDPMessageSize)
	for {
		n, clientAddr, err := conn.ReadFromUDP(buffer)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || !t.isRunning() {
				t.logger.Debug(nil, "UDP receive loop exiting")
				return
			}
			t.logger.Warn(map[string]any{"error": err}, "Failed to read UDP packet")
			continue
		}

		packet := make([]byte, n)
		copy(packet, buffer[:n])
		go t.handlePacket(ctx, conn, packet, clientAddr, handler)
	}
}

// handlePacket processes a single datagram and writes the reply to its source.
func (t *UDPTransport) handlePacket(ctx context.Context, conn *net.UDPConn, data []byte, clientAddr *net.UDPAddr, handler QueryHandler) {
	t.logger.Debug(map[string]any{
		"client": clientAddr.String(),
		"size":   len(data),
		"raw":    fmt.Sprintf("%x", data),
	}, "Received raw DNS query data")

	response := handler.ProcessQuery(ctx, data, clientAddr, TransportUDP)
	if response == nil {
		return
	}

	if _, err := conn.WriteToUDP(response, clientAddr); err != nil {
		t.logger.Error(map[string]any{
			"client": clientAddr.String(),
			"error":  err,
		}, "Failed to send DNS response")
		return
	}

	t.logger.Debug(map[string]any{
		"client": clientAddr.String(),
		"size":   len(response),
	}, "Sent DNS response")
}

var _ ServerTransport = (*UDPTransport)(nil)
