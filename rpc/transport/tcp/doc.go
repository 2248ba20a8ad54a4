// Package tcp implements a TCP connector for the broker connection. It dials host:port
// endpoints and applies the socket tuning of common.TransportConfig (no delay, buffer
// sizes, keep-alive and linger).
//
// Key Components:
//
//   - clientConnector: TCP-specific implementation of transport.IClientConnector
package tcp
