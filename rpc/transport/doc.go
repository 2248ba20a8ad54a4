// Package transport defines the boundary between the broker connection and the
// underlying byte stream. The connection layer never dials sockets itself; it asks an
// IClientConnector for a net.Conn and speaks the broker protocol over it.
//
// Key Components:
//
//   - IClientConnector: Interface for transport-specific connect and socket tuning
//     operations. Implementations exist for TCP (package tcp) and Unix domain sockets
//     (package unix); tests use an in-memory connector backed by net.Pipe.
//
//   - Dial: Shared helper that dials with the configured timeout.
package transport
