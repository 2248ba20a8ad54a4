package reliable

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/dStream/rpc/client"
	"github.com/ValentinKolb/dStream/rpc/common"
	"github.com/ValentinKolb/dStream/rpc/protocol"
	"github.com/ValentinKolb/dStream/rpc/transport"
	"sync"
	"sync/atomic"
)

// MessageHandler is called for every delivered message in offset order.
// msg.Data is only valid during the call, use msg.CopyData to retain it.
type MessageHandler func(msg protocol.MsgEntry)

// ConsumerConfig holds the identity and callbacks of a consumer
type ConsumerConfig struct {
	Stream string

	// Reference names the consumer for StoreOffset and QueryOffset
	Reference string

	// Offset is where the first subscription starts
	Offset protocol.OffsetSpec

	// Credit is the number of chunks in flight (0 = ClientConfig.InitialCredits)
	Credit     uint16
	Properties map[string]string

	OnMessage MessageHandler // required
	OnClosed  ClosedHandler  // optional

	// Strategy controls reconnects (nil = StrategyFromConfig)
	Strategy IReconnectStrategy
}

// Consumer reads a stream and survives connection loss. After a reconnect it
// subscribes again right after the last delivered offset, or at the configured
// offset if nothing was delivered yet, so every message is delivered at least once.
type Consumer struct {
	config    common.ClientConfig
	cconfig   ConsumerConfig
	connector transport.IClientConnector
	strategy  IReconnectStrategy

	mu           sync.Mutex
	conn         *client.Connection
	subscription *client.Subscription
	lastOffset   uint64
	delivered    bool // a message was handed to OnMessage

	closed    atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	finishErr error
}

// NewConsumer connects to the broker and subscribes to the stream.
// The first connect is not retried.
func NewConsumer(ctx context.Context, config common.ClientConfig, connector transport.IClientConnector, cconfig ConsumerConfig) (*Consumer, error) {
	if cconfig.OnMessage == nil {
		return nil, fmt.Errorf("consumer: message handler required")
	}
	strategy := cconfig.Strategy
	if strategy == nil {
		strategy = StrategyFromConfig(config)
	}

	c := &Consumer{
		config:    config,
		cconfig:   cconfig,
		connector: connector,
		strategy:  strategy,
		done:      make(chan struct{}),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	conn, err := c.connect(ctx)
	if err != nil {
		c.cancel()
		return nil, err
	}
	go c.run(conn)
	return c, nil
}

// resumeOffset returns where the next subscription starts and the lowest offset
// handed to OnMessage
func (c *Consumer) resumeOffset() (protocol.OffsetSpec, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.delivered {
		return protocol.OffsetAt(c.lastOffset + 1), c.lastOffset + 1
	}
	if c.cconfig.Offset.Type == protocol.OffsetTypeOffset {
		return c.cconfig.Offset, c.cconfig.Offset.Offset
	}
	return c.cconfig.Offset, 0
}

// connect opens a connection, subscribes and installs both
func (c *Consumer) connect(ctx context.Context) (*client.Connection, error) {
	conn, err := dial(ctx, c.config, c.connector, c.cconfig.Stream)
	if err != nil {
		return nil, err
	}

	offset, minOffset := c.resumeOffset()
	subscription, err := conn.Subscribe(ctx, client.SubscriptionConfig{
		Stream:     c.cconfig.Stream,
		Offset:     offset,
		Credit:     c.cconfig.Credit,
		Properties: c.cconfig.Properties,
		OnChunk: func(chunk protocol.Chunk) {
			c.handleChunk(chunk, minOffset)
		},
		OnMetadataUpdate: func(update protocol.MetadataUpdate) {
			Logger.Warningf("Stream %s changed (%s), reconnecting consumer", update.Stream, update.Code)
			go func() { _ = conn.Close(c.ctx) }()
		},
	})
	if err != nil {
		_ = conn.Close(ctx)
		return nil, err
	}

	c.mu.Lock()
	c.conn = conn
	c.subscription = subscription
	c.mu.Unlock()

	Logger.Infof("Consumer for %s subscribed at %s (subscription %d)", c.cconfig.Stream, offset, subscription.ID())
	return conn, nil
}

// handleChunk hands the messages of a chunk to OnMessage. The broker delivers whole
// chunks, so messages below minOffset are skipped.
func (c *Consumer) handleChunk(chunk protocol.Chunk, minOffset uint64) {
	it := chunk.Entries()
	for it.Next() {
		msg := it.Entry()
		if msg.Offset < minOffset {
			continue
		}
		if c.closed.Load() {
			return
		}
		c.cconfig.OnMessage(msg)

		c.mu.Lock()
		c.lastOffset = msg.Offset
		c.delivered = true
		c.mu.Unlock()
	}
	if err := it.Err(); err != nil {
		Logger.Warningf("Skipping rest of chunk %d of %s: %v", chunk.ChunkID, c.cconfig.Stream, err)
	}
}

// run watches the current connection and resubscribes after it was lost
func (c *Consumer) run(conn *client.Connection) {
	for {
		select {
		case <-conn.Done():
		case <-c.ctx.Done():
			_ = conn.Close(context.Background())
		}

		// wait for queued chunks so the resume offset is final
		c.mu.Lock()
		subscription := c.subscription
		c.conn = nil
		c.subscription = nil
		c.mu.Unlock()
		if subscription != nil && !c.closed.Load() {
			// Close from inside a handler cancels ctx while the handler still runs
			select {
			case <-subscription.Done():
			case <-c.ctx.Done():
			}
		}

		if c.closed.Load() {
			c.finish(nil)
			return
		}

		consumerReconnects.Inc()
		err := reconnect(c.ctx, c.strategy, "consumer for "+c.cconfig.Stream, conn.Err(), func(ctx context.Context) error {
			next, err := c.connect(ctx)
			if err == nil {
				conn = next
			}
			return err
		})
		if err != nil {
			if c.closed.Load() || errors.Is(err, context.Canceled) {
				c.finish(nil)
			} else {
				c.closed.Store(true)
				c.finish(err)
			}
			return
		}
	}
}

// finish terminates the consumer, it is called once by run
func (c *Consumer) finish(err error) {
	c.finishErr = err
	c.cancel()
	close(c.done)

	if err != nil {
		Logger.Errorf("Consumer for %s terminated: %v", c.cconfig.Stream, err)
	} else {
		Logger.Infof("Consumer for %s closed", c.cconfig.Stream)
	}
	if c.cconfig.OnClosed != nil {
		c.cconfig.OnClosed(err)
	}
}

// --------------------------------------------------------------------------
// Offsets
// --------------------------------------------------------------------------

// LastOffset returns the offset of the last message handed to OnMessage
func (c *Consumer) LastOffset() (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastOffset, c.delivered
}

// StoreOffset stores an offset for the consumer reference. The broker does not
// answer, so a nil error only means the frame was written.
func (c *Consumer) StoreOffset(offset uint64) error {
	conn, err := c.current()
	if err != nil {
		return err
	}
	return conn.StoreOffset(c.cconfig.Reference, c.cconfig.Stream, offset)
}

// QueryOffset returns the offset stored for the consumer reference
func (c *Consumer) QueryOffset(ctx context.Context) (uint64, error) {
	conn, err := c.current()
	if err != nil {
		return 0, err
	}
	return conn.QueryOffset(ctx, c.cconfig.Reference, c.cconfig.Stream)
}

// current returns the current connection or an error while reconnecting
func (c *Consumer) current() (*client.Connection, error) {
	if c.closed.Load() {
		return nil, ErrConsumerClosed
	}
	if c.cconfig.Reference == "" {
		return nil, fmt.Errorf("consumer for %s has no reference", c.cconfig.Stream)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, fmt.Errorf("%w: consumer for %s is reconnecting", client.ErrConnectionLost, c.cconfig.Stream)
	}
	return c.conn, nil
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// Connection returns the current connection, nil while reconnecting
func (c *Consumer) Connection() *client.Connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// Done is closed once the consumer terminated
func (c *Consumer) Done() <-chan struct{} {
	return c.done
}

// Err returns the terminal error (nil while running or after an explicit Close)
func (c *Consumer) Err() error {
	select {
	case <-c.done:
		return c.finishErr
	default:
		return nil
	}
}

// Close unsubscribes and closes the connection. Closing a closed consumer returns nil.
func (c *Consumer) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		<-c.done
		return nil
	}

	c.mu.Lock()
	conn, subscription := c.conn, c.subscription
	c.mu.Unlock()

	var err error
	if subscription != nil {
		err = subscription.Unsubscribe(ctx)
	}
	if conn != nil {
		if closeErr := conn.Close(ctx); err == nil {
			err = closeErr
		}
	}
	c.cancel()

	select {
	case <-c.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if errors.Is(err, client.ErrConnectionLost) {
		return nil
	}
	return err
}
