// Package publish implements the publish command of the dstream CLI and its
// perf subcommand, which measures the confirmed publish throughput of a broker
// with testing.Benchmark.
package publish
