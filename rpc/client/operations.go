package client

import (
	"context"
	"github.com/ValentinKolb/dStream/rpc/protocol"
)

// --------------------------------------------------------------------------
// Stream management
// --------------------------------------------------------------------------

// CreateStream creates a stream. Arguments are passed to the broker unchanged
// (e.g. "max-length-bytes", "max-age").
func (c *Connection) CreateStream(ctx context.Context, stream string, arguments map[string]string) error {
	if arguments == nil {
		arguments = map[string]string{}
	}
	resp, err := c.Request(ctx, protocol.CreateRequest{Stream: stream, Arguments: arguments})
	return checkResponse("create stream "+stream, resp, err)
}

// DeleteStream deletes a stream
func (c *Connection) DeleteStream(ctx context.Context, stream string) error {
	resp, err := c.Request(ctx, protocol.DeleteRequest{Stream: stream})
	return checkResponse("delete stream "+stream, resp, err)
}

// --------------------------------------------------------------------------
// Offsets and sequences
// --------------------------------------------------------------------------

// StoreOffset stores the offset of a consumer reference on the broker.
// The broker does not answer; the call returns once the frame was written.
func (c *Connection) StoreOffset(reference, stream string, offset uint64) error {
	return c.Send(protocol.StoreOffset{Reference: reference, Stream: stream, Offset: offset})
}

// QueryOffset returns the offset stored for a consumer reference.
// A reference without stored offset fails with ResponseCodeOffsetNotFound.
func (c *Connection) QueryOffset(ctx context.Context, reference, stream string) (uint64, error) {
	resp, err := c.Request(ctx, protocol.QueryOffsetRequest{Reference: reference, Stream: stream})
	if err := checkResponse("query offset", resp, err); err != nil {
		return 0, err
	}
	result, err := expectResponse[protocol.QueryOffsetResponse]("query offset", resp)
	return result.Offset, err
}

// QueryPublisherSequence returns the last publishing id stored for a publisher reference
// (0 if the reference never published)
func (c *Connection) QueryPublisherSequence(ctx context.Context, reference, stream string) (uint64, error) {
	resp, err := c.Request(ctx, protocol.QueryPublisherSequenceRequest{Reference: reference, Stream: stream})
	if err := checkResponse("query publisher sequence", resp, err); err != nil {
		return 0, err
	}
	result, err := expectResponse[protocol.QueryPublisherSequenceResponse]("query publisher sequence", resp)
	return result.Sequence, err
}
