package transport

import (
	"fmt"

	"github.com/haukened/dnscore/internal/dns/common/log"
)

// NewTransport creates a transport of the given type listening on addr.
func NewTransport(transportType TransportType, addr string, logger log.Logger) (ServerTransport, error) {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	switch transportType {
	case TransportUDP:
		return NewUDPTransport(addr, logger), nil
	case TransportTCP:
		return NewTCPTransport(addr, logger), nil
	default:
		return nil, fmt.Errorf("unsupported transport type: %s", transportType)
	}
}

// GetSupportedTransports returns the transport types NewTransport accepts.
func GetSupportedTransports() []TransportType {
	return []TransportType{TransportUDP, TransportTCP}
}

// IsTransportSupported checks if a given transport type is currently supported.
func IsTransportSupported(transportType TransportType) bool {
	for _, t := range GetSupportedTransports() {
		if t == transportType {
			return true
		}
	}
	return false
}
