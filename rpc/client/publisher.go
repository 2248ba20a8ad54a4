package client

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/dStream/rpc/protocol"
	"sync/atomic"
)

// PublisherConfig describes a publisher
type PublisherConfig struct {
	Stream    string
	Reference string // optional, enables deduplication by publishing id on the broker

	OnConfirm        func(publishingIDs []uint64)
	OnError          func(errors []protocol.PublishingError)
	OnMetadataUpdate MetadataHandler
}

// publisherEvent is a confirmation, a rejection or a metadata update
type publisherEvent struct {
	confirmed []uint64
	errors    []protocol.PublishingError
	metadata  *protocol.MetadataUpdate
}

// Publisher is a publisher declared on a connection. Confirmations and errors are
// handed to the callbacks on a goroutine of the publisher in the order they arrived.
type Publisher struct {
	conn   *Connection
	id     uint8
	config PublisherConfig
	queue  *dispatchQueue[publisherEvent]
	closed atomic.Bool
}

// ID returns the publisher id used on the wire
func (p *Publisher) ID() uint8 {
	return p.id
}

// Stream returns the stream the publisher writes to
func (p *Publisher) Stream() string {
	return p.config.Stream
}

// Done is closed once the publisher ended and every queued event was handled
func (p *Publisher) Done() <-chan struct{} {
	return p.queue.Done()
}

func (p *Publisher) handle(ev publisherEvent) {
	switch {
	case ev.metadata != nil:
		if p.config.OnMetadataUpdate != nil {
			p.config.OnMetadataUpdate(*ev.metadata)
		}
	case ev.errors != nil:
		if p.config.OnError != nil {
			p.config.OnError(ev.errors)
		}
	default:
		if p.config.OnConfirm != nil {
			p.config.OnConfirm(ev.confirmed)
		}
	}
}

// Publish sends the messages in a single frame. It returns once the frame was written;
// the outcome of every message is reported through OnConfirm or OnError.
func (p *Publisher) Publish(messages ...protocol.PublishedMessage) error {
	if p.closed.Load() {
		return fmt.Errorf("publish: publisher %d deleted", p.id)
	}
	if len(messages) == 0 {
		return nil
	}
	if err := p.conn.Send(protocol.Publish{PublisherID: p.id, Messages: messages}); err != nil {
		return err
	}
	p.conn.stats.MessagesSent.Inc(int64(len(messages)))
	messagesSent.Add(len(messages))
	return nil
}

// Delete removes the publisher from the broker. Its id is released once the broker answered,
// the request timed out or the connection is gone.
func (p *Publisher) Delete(ctx context.Context) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	resp, err := p.conn.Request(ctx, protocol.DeletePublisherRequest{PublisherID: p.id})
	if err == nil || errors.Is(err, ErrRequestTimeout) || p.conn.Err() != nil {
		p.release()
	}
	return checkResponse("delete publisher", resp, err)
}

// release frees the publisher id and stops the dispatch queue
func (p *Publisher) release() {
	p.conn.publishers.Compute(p.id, func(current *Publisher, loaded bool) (*Publisher, bool) {
		return current, !loaded || current == p
	})
	p.queue.Close()
}

// --------------------------------------------------------------------------
// Connection operations
// --------------------------------------------------------------------------

// DeclarePublisher declares a publisher for the stream
func (c *Connection) DeclarePublisher(ctx context.Context, config PublisherConfig) (*Publisher, error) {
	pub := &Publisher{conn: c, config: config}
	pub.queue = newDispatchQueue(pub.handle)

	id, err := allocateID(c.publishers, &c.nextPubID, pub)
	if err != nil {
		pub.queue.Close()
		return nil, fmt.Errorf("declare publisher: %w", err)
	}
	pub.id = id

	resp, err := c.Request(ctx, protocol.DeclarePublisherRequest{
		PublisherID: id,
		Reference:   config.Reference,
		Stream:      config.Stream,
	})
	if err := checkResponse("declare publisher", resp, err); err != nil {
		pub.closed.Store(true)
		pub.release()
		return nil, err
	}

	Logger.Debugf("Declared publisher %d for %s (reference %q)", id, config.Stream, config.Reference)
	return pub, nil
}
