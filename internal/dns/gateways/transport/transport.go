// Package transport owns the listening sockets. It frames raw DNS messages in
// and out and hands each one to a QueryHandler; it never decodes them itself.
package transport

import (
	"context"
	"net"
)

// ServerTransport is a listener bound to one protocol.
type ServerTransport interface {
	// Start binds the socket and serves requests until ctx is cancelled or Stop is called.
	// Binding errors are returned; serving happens in the background.
	Start(ctx context.Context, handler QueryHandler) error

	// Stop closes the listening socket. Requests already dispatched run to completion.
	Stop() error

	// Address returns the bound address once started, else the configured one.
	Address() string
}

// QueryHandler turns one raw request into one raw response.
// A nil response means nothing is sent back to the client.
type QueryHandler interface {
	ProcessQuery(ctx context.Context, data []byte, client net.Addr, proto TransportType) []byte
}

// QueryHandlerFunc adapts a function to QueryHandler.
type QueryHandlerFunc func(ctx context.Context, data []byte, client net.Addr, proto TransportType) []byte

// ProcessQuery calls f.
func (f QueryHandlerFunc) ProcessQuery(ctx context.Context, data []byte, client net.Addr, proto TransportType) []byte {
	return f(ctx, data, client, proto)
}

// TransportType names a DNS transport protocol.
type TransportType string

const (
	// TransportUDP is DNS over UDP (RFC 1035 4.2.1)
	TransportUDP TransportType = "udp"

	// TransportTCP is DNS over TCP with a two-byte length prefix (RFC 1035 4.2.2)
	TransportTCP TransportType = "tcp"
)
