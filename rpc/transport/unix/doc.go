// Package unix implements a Unix domain socket connector for the broker connection,
// for brokers running on the same machine.
//
// Key Components:
//
//   - clientConnector: Establishes connections using Unix domain sockets and applies
//     the configured socket buffer sizes
package unix
