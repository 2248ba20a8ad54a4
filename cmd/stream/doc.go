// Package stream implements the stream and offset command groups of the
// dstream CLI. Both open a single connection before the subcommand runs and
// close it afterwards.
package stream
