// Package cmd implements the command-line interface for dStream. It provides a
// hierarchical command structure for managing streams, publishing and consuming
// messages, and tracking consumer offsets on a stream broker.
//
// The package is organized into several subpackages:
//
//   - stream: Commands for stream management (create, delete) and offsets (query, store)
//   - publish: Command for publishing messages, including a throughput benchmark (perf)
//   - consume: Command for consuming a stream with a reliable consumer
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See dstream -help for a list of all commands.
package cmd
