package transport

import (
	"context"
	"github.com/ValentinKolb/dStream/rpc/common"
	"net"
)

// --------------------------------------------------------------------------
// Client Connector
// --------------------------------------------------------------------------

// IClientConnector defines the transport-specific connection operations.
// The connection layer speaks the broker protocol over whatever byte stream
// the connector returns.
type IClientConnector interface {
	// Connect establishes a single connection to the endpoint.
	// The context bounds the dial; it does not affect the returned connection.
	Connect(ctx context.Context, endpoint string) (net.Conn, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies transport-specific settings to an established connection
	UpgradeConnection(conn net.Conn, config common.TransportConfig) error
}
