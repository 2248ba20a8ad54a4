// Package common provides the configuration and logging shared by every dStream package.
//
// The package focuses on:
//   - Configuration structures for broker connections and reliable clients
//   - Custom logging implementation integrated with Dragonboat's logger facade
//
// Key Components:
//
//   - ClientConfig: Configuration of a broker connection. Controls authentication,
//     timeouts, negotiated heartbeat and frame size, CRC validation, flow control credits
//     and the reconnect backoff of reliable producers and consumers. DefaultClientConfig
//     returns values suitable for a local broker.
//
//   - TransportConfig: Socket level settings (endpoints, dial timeout, TCP tuning).
//
//   - Logger: Custom logging implementation that plugs into Dragonboat's logger.Factory
//     and writes lines of the form "LEVEL | name | message". InitLoggers sets the level
//     of every dStream logger at once.
package common
