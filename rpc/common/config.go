package common

import (
	"fmt"
	"github.com/google/uuid"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Transport configuration
// --------------------------------------------------------------------------

// TransportConfig holds the socket level settings of a client connection
type TransportConfig struct {
	// Endpoints are the broker addresses (host:port for tcp, socket path for unix)
	Endpoints []string

	// DialTimeoutSecond limits establishing the socket (0 = no limit)
	DialTimeoutSecond int

	// Socket tuning (only applied where the socket type supports it)
	TCPNoDelay      bool
	TCPKeepAliveSec int
	TCPLingerSec    int // negative values keep the OS default
	WriteBufferSize int
	ReadBufferSize  int
}

// --------------------------------------------------------------------------
// Client configuration struct
// --------------------------------------------------------------------------

// ClientConfig holds all parameters of a broker connection and the reliable
// producers and consumers built on top of it
type ClientConfig struct {
	Transport TransportConfig

	// Authentication (SASL PLAIN) and virtual host
	Username    string
	Password    string
	VirtualHost string

	// ConnectionName is sent to the broker as the connection_name peer property
	ConnectionName string

	// TimeoutSecond limits how long a request waits for its response (0 = wait forever)
	TimeoutSecond int

	// Values proposed during tuning; the lower non-zero value of client and server wins
	HeartbeatSecond uint32
	MaxFrameSize    uint32

	// CheckCRC validates the checksum of every received chunk
	CheckCRC bool

	// InitialCredits is the number of chunks the broker may send before a credit is returned
	InitialCredits uint16

	// Reconnect backoff used by reliable producers and consumers
	ReconnectBaseMillisecond int64
	ReconnectMaxMillisecond  int64 // 0 = no cap
	MaxReconnectAttempts     int   // 0 = retry forever

	// Logging configuration
	LogLevel string
}

// DefaultClientConfig returns a configuration suitable for a local broker
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Transport: TransportConfig{
			Endpoints:         []string{"localhost:5552"},
			DialTimeoutSecond: 5,
			TCPNoDelay:        true,
			TCPKeepAliveSec:   30,
			TCPLingerSec:      -1,
		},
		Username:                 "guest",
		Password:                 "guest",
		VirtualHost:              "/",
		ConnectionName:           NewConnectionName(),
		TimeoutSecond:            10,
		HeartbeatSecond:          60,
		MaxFrameSize:             1048576,
		CheckCRC:                 true,
		InitialCredits:           10,
		ReconnectBaseMillisecond: 100,
		ReconnectMaxMillisecond:  30000,
		LogLevel:                 "info",
	}
}

// NewConnectionName returns a unique connection name of the form dstream-<uuid>
func NewConnectionName() string {
	return "dstream-" + uuid.NewString()
}

// RequestTimeout returns the request timeout as a duration (0 = no timeout)
func (c *ClientConfig) RequestTimeout() time.Duration {
	return time.Duration(c.TimeoutSecond) * time.Second
}

// ReconnectBaseDelay returns the base delay of the reconnect backoff
func (c *ClientConfig) ReconnectBaseDelay() time.Duration {
	return time.Duration(c.ReconnectBaseMillisecond) * time.Millisecond
}

// ReconnectMaxDelay returns the upper bound of the reconnect backoff (0 = unbounded)
func (c *ClientConfig) ReconnectMaxDelay() time.Duration {
	return time.Duration(c.ReconnectMaxMillisecond) * time.Millisecond
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Connection Name", c.ConnectionName)
	addField("User", c.Username)
	addField("Virtual Host", c.VirtualHost)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Heartbeat", fmt.Sprintf("%d sec", c.HeartbeatSecond))
	addField("Max Frame Size", fmt.Sprintf("%d bytes", c.MaxFrameSize))
	addField("Check CRC", strconv.FormatBool(c.CheckCRC))
	addField("Initial Credits", strconv.Itoa(int(c.InitialCredits)))

	// Reconnect
	addSection("Reconnect")
	addField("Base Delay", fmt.Sprintf("%d ms", c.ReconnectBaseMillisecond))
	addField("Max Delay", fmt.Sprintf("%d ms", c.ReconnectMaxMillisecond))
	if c.MaxReconnectAttempts > 0 {
		addField("Max Attempts", strconv.Itoa(c.MaxReconnectAttempts))
	} else {
		addField("Max Attempts", "unlimited")
	}

	// Transport
	addSection("Transport")
	addField("Dial Timeout", fmt.Sprintf("%d sec", c.Transport.DialTimeoutSecond))
	addField("TCP No Delay", strconv.FormatBool(c.Transport.TCPNoDelay))
	addField("TCP Keep Alive", fmt.Sprintf("%d sec", c.Transport.TCPKeepAliveSec))
	addField("TCP Linger", fmt.Sprintf("%d sec", c.Transport.TCPLingerSec))
	addField("Write Buffer", fmt.Sprintf("%d bytes", c.Transport.WriteBufferSize))
	addField("Read Buffer", fmt.Sprintf("%d bytes", c.Transport.ReadBufferSize))

	// Endpoints
	addSection("Endpoints")
	for i, endpoint := range c.Transport.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}
