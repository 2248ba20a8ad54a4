package client

import (
	"github.com/cespare/xxhash/v2"
)

// EndpointOrder returns the endpoints rotated so that the list starts at an index
// derived from the hash of key. Clients using the same key (e.g. a stream name) try
// the endpoints in the same order, different keys spread across endpoints.
// The input slice is not modified.
func EndpointOrder(endpoints []string, key string) []string {
	if len(endpoints) == 0 {
		return nil
	}
	start := int(xxhash.Sum64String(key) % uint64(len(endpoints)))

	ordered := make([]string, 0, len(endpoints))
	ordered = append(ordered, endpoints[start:]...)
	ordered = append(ordered, endpoints[:start]...)
	return ordered
}
