// Package consume implements the consume command of the dstream CLI. It runs a
// reliable consumer until it is interrupted or has printed the requested number
// of messages, and stores the consumer offset when a reference is given.
package consume
