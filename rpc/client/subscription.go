package client

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/dStream/rpc/protocol"
	"github.com/puzpuzpuz/xsync/v3"
	"math"
	"sync/atomic"
)

// ChunkHandler is called for every chunk delivered to a subscription. The chunk and the
// entries it yields reference the frame buffer; copy entry data to retain it.
type ChunkHandler func(chunk protocol.Chunk)

// MetadataHandler is called when the broker reports a change of the subscribed stream
type MetadataHandler func(update protocol.MetadataUpdate)

// SubscriptionConfig describes a subscription
type SubscriptionConfig struct {
	Stream     string
	Offset     protocol.OffsetSpec
	Credit     uint16 // initial credits, 0 = ClientConfig.InitialCredits
	Properties map[string]string

	OnChunk          ChunkHandler
	OnMetadataUpdate MetadataHandler // optional
}

// subscriptionEvent is either a chunk or a metadata update
type subscriptionEvent struct {
	chunk    *protocol.Chunk
	metadata *protocol.MetadataUpdate
}

// Subscription is an active subscription of a connection. Chunks are handed to
// OnChunk on a goroutine of the subscription, never on the read loop, in the order
// the broker sent them. After OnChunk returns one credit is granted to the broker.
type Subscription struct {
	conn   *Connection
	id     uint8
	config SubscriptionConfig
	queue  *dispatchQueue[subscriptionEvent]
	closed atomic.Bool
}

// ID returns the subscription id used on the wire
func (s *Subscription) ID() uint8 {
	return s.id
}

// Stream returns the subscribed stream
func (s *Subscription) Stream() string {
	return s.config.Stream
}

// Done is closed once the subscription ended and every queued chunk was handled
func (s *Subscription) Done() <-chan struct{} {
	return s.queue.Done()
}

// handle runs on the subscription goroutine
func (s *Subscription) handle(ev subscriptionEvent) {
	if ev.metadata != nil {
		if s.config.OnMetadataUpdate != nil {
			s.config.OnMetadataUpdate(*ev.metadata)
		}
		return
	}

	chunk := *ev.chunk
	s.conn.stats.ChunkEntries.Update(int64(chunk.NumEntries))

	if s.conn.config.CheckCRC {
		if err := chunk.VerifyCRC(); err != nil {
			chunksCorrupted.Inc()
			framesDropped.Inc()
			Logger.Warningf("Dropping chunk %d of subscription %d: %v", chunk.ChunkID, s.id, err)
			s.grantCredit()
			return
		}
	}

	if !s.closed.Load() {
		s.config.OnChunk(chunk)
	}
	s.grantCredit()
}

// grantCredit allows the broker to send one more chunk
func (s *Subscription) grantCredit() {
	if s.closed.Load() {
		return
	}
	if err := s.conn.Send(protocol.Credit{SubscriptionID: s.id, Credit: 1}); err != nil {
		Logger.Debugf("Failed to grant credit for subscription %d: %v", s.id, err)
	}
}

// Unsubscribe ends the subscription. Its id is released once the broker answered, the
// request timed out or the connection is gone. Chunks the broker still sends for a released
// id after a timeout are dropped or reach a later subscription with the same id.
func (s *Subscription) Unsubscribe(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	resp, err := s.conn.Request(ctx, protocol.UnsubscribeRequest{SubscriptionID: s.id})
	if err == nil || errors.Is(err, ErrRequestTimeout) || s.conn.Err() != nil {
		s.release()
	}
	return checkResponse("unsubscribe", resp, err)
}

// release frees the subscription id and stops the dispatch queue
func (s *Subscription) release() {
	s.conn.subscriptions.Compute(s.id, func(current *Subscription, loaded bool) (*Subscription, bool) {
		return current, !loaded || current == s // delete only if it is still ours
	})
	s.queue.Close()
}

// --------------------------------------------------------------------------
// Connection operations
// --------------------------------------------------------------------------

// Subscribe creates a subscription on the stream. The subscription is registered
// before the request is sent, so no chunk delivered right after the response is lost.
func (c *Connection) Subscribe(ctx context.Context, config SubscriptionConfig) (*Subscription, error) {
	if config.OnChunk == nil {
		return nil, fmt.Errorf("subscribe: chunk handler required")
	}
	if config.Credit == 0 {
		config.Credit = c.config.InitialCredits
	}
	if config.Properties == nil {
		config.Properties = map[string]string{}
	}

	sub := &Subscription{conn: c, config: config}
	sub.queue = newDispatchQueue(sub.handle)

	id, err := allocateID(c.subscriptions, &c.nextSubID, sub)
	if err != nil {
		sub.queue.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	sub.id = id

	resp, err := c.Request(ctx, protocol.SubscribeRequest{
		SubscriptionID: id,
		Stream:         config.Stream,
		Offset:         config.Offset,
		Credit:         config.Credit,
		Properties:     config.Properties,
	})
	if err := checkResponse("subscribe", resp, err); err != nil {
		sub.closed.Store(true)
		sub.release()
		return nil, err
	}

	Logger.Debugf("Subscribed to %s with id %d at %s", config.Stream, id, config.Offset)
	return sub, nil
}

// allocateID reserves the next free uint8 id in the table, starting after the last allocated one
func allocateID[V interface{}](table *xsync.MapOf[uint8, V], next *atomic.Uint32, value V) (uint8, error) {
	for i := 0; i <= math.MaxUint8; i++ {
		id := uint8(next.Add(1) - 1)
		if _, loaded := table.LoadOrStore(id, value); !loaded {
			return id, nil
		}
	}
	return 0, ErrIdsExhausted
}
