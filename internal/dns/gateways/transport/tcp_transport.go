package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/haukened/dnscore/internal/dns/common/log"
)

// DefaultTCPIdleTimeout bounds how long a connection may take to deliver its
// request and accept the response.
const DefaultTCPIdleTimeout = 10 * time.Second

// TCPTransport serves DNS over TCP: one request per connection, each message
// preceded by its two-byte big-endian length.
type TCPTransport struct {
	addr        string
	logger      log.Logger
	idleTimeout time.Duration

	mu       sync.RWMutex
	listener net.Listener
	running  bool
	unwatch  func() bool
}

// NewTCPTransport creates a new TCP transport instance.
func NewTCPTransport(addr string, logger log.Logger) *TCPTransport {
	return &TCPTransport{
		addr:        addr,
		logger:      logger,
		idleTimeout: DefaultTCPIdleTimeout,
	}
}

// Start binds the listener and starts the accept loop.
func (t *TCPTransport) Start(ctx context.Context, handler QueryHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return fmt.Errorf("TCP transport already running")
	}

	ln, err := net.Listen("tcp", t.addr)
	if err != nil {
		return fmt.Errorf("failed to bind TCP listener on %s: %w", t.addr, err)
	}

	t.listener = ln
	t.running = true
	t.unwatch = context.AfterFunc(ctx, func() { _ = t.Stop() })

	t.logger.Info(map[string]any{
		"transport": string(TransportTCP),
		"address":   ln.Addr().String(),
	}, "DNS transport started")

	go t.acceptLoop(context.WithoutCancel(ctx), ln, handler)
	return nil
}

// Stop closes the listener. Open connections finish their current exchange.
func (t *TCPTransport) Stop() error {
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

	closeErr := t.listener.Close()
	if closeErr != nil {
		t.logger.Warn(map[string]any{"error": closeErr}, "Error closing TCP listener")
	}

	t.logger.Info(map[string]any{
		"transport": string(TransportTCP),
		"address":   t.listener.Addr().String(),
	}, "DNS transport stopped")
	return closeErr
}

// Address returns the network address the transport is bound to.
func (t *TCPTransport) Address() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.listener != nil {
		return t.listener.Addr().String()
	}
	return t.addr
}

func (t *TCPTransport) isRunning() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.running
}

func (t *TCPTransport) acceptLoop(ctx context.Context, ln net.Listener, handler QueryHandler) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || !t.isRunning() {
				t.logger.Debug(nil, "TCP accept loop exiting")
				return
			}
			t.logger.Warn(map[string]any{"error": err}, "Failed to accept TCP connection")
			continue
		}
		go t.handleConn(ctx, conn, handler)
	}
}

// handleConn reads one length-prefixed request, answers it and closes. A peer
// that closes before the full message arrives gets no response.
func (t *TCPTransport) handleConn(ctx context.Context, conn net.Conn, handler QueryHandler) {
	defer conn.Close()
	client := conn.RemoteAddr()

	if err := conn.SetDeadline(time.Now().Add(t.idleTimeout)); err != nil {
		t.logger.Warn(map[string]any{"client": client.String(), "error": err}, "Failed to set TCP deadline")
		return
	}

	var prefix [2]byte
	if _, err := io.ReadFull(conn, prefix[:]); err != nil {
		t.logger.Debug(map[string]any{"client": client.String(), "error": err}, "TCP connection closed before length prefix")
		return
	}
	size := binary.BigEndian.Uint16(prefix[:])
	if size == 0 {
		t.logger.Debug(map[string]any{"client": client.String()}, "Ignoring empty TCP message")
		return
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(conn, data); err != nil {
		t.logger.Debug(map[string]any{
			"client":   client.String(),
			"expected": size,
			"error":    err,
		}, "TCP connection closed before full message")
		return
	}

	t.logger.Debug(map[string]any{
		"client": client.String(),
		"size":   len(data),
		"raw":    fmt.Sprintf("%x", data),
	}, "Received raw DNS query data")

	response := handler.ProcessQuery(ctx, data, client, TransportTCP)
	if response == nil {
		return
	}
	if len(response) > 0xFFFF {
		t.logger.Error(map[string]any{"client": client.String(), "size": len(response)}, "DNS response too large for TCP framing")
		return
	}

	out := make([]byte, 2+len(response))
	binary.BigEndian.PutUint16(out, uint16(len(response)))
	copy(out[2:], response)
	if _, err := conn.Write(out); err != nil {
		t.logger.Error(map[string]any{"client": client.String(), "error": err}, "Failed to send DNS response")
		return
	}

	t.logger.Debug(map[string]any{
		"client": client.String(),
		"size":   len(response),
	}, "Sent DNS response")
}

var _ ServerTransport = (*TCPTransport)(nil)
