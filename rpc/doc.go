// Package rpc provides the protocol layer of dStream. It speaks the binary
// protocol of log-structured stream brokers and exposes a connection that
// multiplexes publishers and subscriptions.
//
// The package is organized into several subpackages:
//
//   - protocol: The wire codec. Command types, frame reading and writing, and
//     the chunk decoder for delivered messages.
//
//   - compression: Codecs for sub-entry batches (none, gzip, snappy, lz4, zstd).
//
//   - common: Client configuration and logging.
//
//   - transport: Socket abstractions with pluggable implementations (TCP, Unix sockets).
//
//   - client: The connection state machine with request correlation, publishers,
//     subscriptions with flow control, and connection statistics.
//
//   - testing: An in-memory broker for tests of code built on the client.
package rpc
