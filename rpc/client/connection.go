package client

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/dStream/rpc/common"
	"github.com/ValentinKolb/dStream/rpc/protocol"
	"github.com/ValentinKolb/dStream/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

var Logger = logger.GetLogger(common.LoggerClient)

// readBufferSize is the size of the buffered reader wrapping the socket
const readBufferSize = 64 * 1024

// --------------------------------------------------------------------------
// Connection State
// --------------------------------------------------------------------------

// ConnectionState is the lifecycle state of a Connection
type ConnectionState int32

const (
	StateConnecting   ConnectionState = iota // Handshake in progress
	StateOpen                                // Ready for use
	StateClosing                             // Close requested by the client
	StateClosed                              // Closed by the client (terminal)
	StateDisconnected                        // Transport failed or broker closed the connection (terminal)
)

// String returns the string representation of a ConnectionState
func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state %d", int32(s))
	}
}

// --------------------------------------------------------------------------
// Connection
// --------------------------------------------------------------------------

// Connection owns a single transport session to a broker. It multiplexes requests
// (correlated by id), subscriptions and publishers (identified by small ids) over it.
// A Connection is never reused: once it leaves the Open state it is dead and a new
// one must be created.
type Connection struct {
	config   common.ClientConfig
	endpoint string
	conn     net.Conn
	reader   *protocol.FrameReader
	writeMu  sync.Mutex

	state    atomic.Int32
	registry *correlationRegistry

	subscriptions *xsync.MapOf[uint8, *Subscription]
	publishers    *xsync.MapOf[uint8, *Publisher]
	nextSubID     atomic.Uint32
	nextPubID     atomic.Uint32

	// handshake results
	tuneCh           chan protocol.Tune
	frameMax         atomic.Uint32
	heartbeat        atomic.Int64 // nanoseconds
	serverProperties map[string]string
	openProperties   map[string]string

	stats *Stats

	done     chan struct{}
	doneOnce sync.Once
	err      error // reason of the teardown, set before done is closed
}

// Connect establishes a connection to the first reachable endpoint of the configuration,
// in the order they are listed, and performs the protocol handshake.
func Connect(ctx context.Context, config common.ClientConfig, connector transport.IClientConnector) (*Connection, error) {
	if len(config.Transport.Endpoints) == 0 {
		return nil, ErrNoEndpoints
	}

	var errs []error
	for _, endpoint := range config.Transport.Endpoints {
		c, err := connectEndpoint(ctx, config, connector, endpoint)
		if err == nil {
			return c, nil
		}
		Logger.Warningf("Failed to connect to %s via %s: %v", endpoint, connector.GetName(), err)
		errs = append(errs, fmt.Errorf("%s: %w", endpoint, err))

		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("failed to connect to any endpoint: %w", errors.Join(errs...))
}

// connectEndpoint dials a single endpoint, starts the read loop and runs the handshake
func connectEndpoint(ctx context.Context, config common.ClientConfig, connector transport.IClientConnector, endpoint string) (*Connection, error) {
	conn, err := connector.Connect(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	if err := connector.UpgradeConnection(conn, config.Transport); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	c := &Connection{
		config:        config,
		endpoint:      endpoint,
		conn:          conn,
		reader:        protocol.NewFrameReader(conn, readBufferSize),
		registry:      newCorrelationRegistry(),
		subscriptions: xsync.NewMapOf[uint8, *Subscription](),
		publishers:    xsync.NewMapOf[uint8, *Publisher](),
		tuneCh:        make(chan protocol.Tune, 1),
		stats:         newStats(),
		done:          make(chan struct{}),
	}
	c.state.Store(int32(StateConnecting))
	c.frameMax.Store(protocol.DefaultMaxFrameSize)

	go c.readLoop()

	if err := c.handshake(ctx); err != nil {
		c.teardown(fmt.Errorf("%w: handshake failed: %v", ErrConnectionLost, err))
		return nil, err
	}

	if err := c.markOpen(); err != nil {
		return nil, err
	}
	connectionsOpen.Inc()

	if c.Heartbeat() > 0 {
		go c.heartbeatLoop()
	}

	Logger.Infof("Connected to %s (frame max %d, heartbeat %s)", endpoint, c.FrameMax(), c.Heartbeat())
	return c, nil
}

// markOpen moves a connecting connection to open. If it was closed or lost during the
// handshake, it waits for the teardown to finish and returns its error.
func (c *Connection) markOpen() error {
	if c.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen)) {
		return nil
	}
	<-c.done
	if c.err != nil {
		return c.err
	}
	return ErrConnectionLost
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

// State returns the current lifecycle state
func (c *Connection) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

// Done is closed when the connection reached a terminal state
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Err returns the reason the connection terminated, nil while it is alive
func (c *Connection) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Endpoint returns the address the connection is connected to
func (c *Connection) Endpoint() string {
	return c.endpoint
}

// Stats returns the statistics of the connection
func (c *Connection) Stats() *Stats {
	return c.stats
}

// FrameMax returns the negotiated maximum frame size
func (c *Connection) FrameMax() uint32 {
	return c.frameMax.Load()
}

// Heartbeat returns the negotiated heartbeat interval (0 = disabled)
func (c *Connection) Heartbeat() time.Duration {
	return time.Duration(c.heartbeat.Load())
}

// ServerProperties returns the properties the broker sent during the handshake
func (c *Connection) ServerProperties() map[string]string {
	return c.serverProperties
}

// ConnectionProperties returns the properties returned when the virtual host was opened
func (c *Connection) ConnectionProperties() map[string]string {
	return c.openProperties
}

// --------------------------------------------------------------------------
// Sending
// --------------------------------------------------------------------------

// Send writes a command that has no response. It returns once the frame was written.
func (c *Connection) Send(cmd protocol.Command) error {
	switch c.State() {
	case StateOpen, StateConnecting:
	default:
		return c.unavailable()
	}
	return c.write(cmd)
}

// Request sends a request and waits for its response. The request times out after
// the configured timeout; a timeout removes the pending entry but keeps the connection.
// The response is returned as is: a code other than ok is not an error here.
func (c *Connection) Request(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	switch c.State() {
	case StateOpen, StateConnecting:
	default:
		return nil, c.unavailable()
	}
	return c.request(ctx, req)
}

// request is Request without the state check (used while closing)
func (c *Connection) request(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	id, ch, err := c.registry.register()
	if err != nil {
		return nil, err
	}
	req = req.WithCorrelationID(id)

	if err := c.write(req); err != nil {
		c.registry.remove(id)
		return nil, err
	}

	var timeoutCh <-chan time.Time
	if timeout := c.config.RequestTimeout(); timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case result := <-ch:
		return result.resp, result.err
	case <-timeoutCh:
		c.registry.remove(id)
		return nil, fmt.Errorf("%w: no response to command %d (correlation id %d) after %s", ErrRequestTimeout, req.Key(), id, c.config.RequestTimeout())
	case <-ctx.Done():
		c.registry.remove(id)
		return nil, ctx.Err()
	}
}

// write encodes the command and writes it as a single frame. Writes are serialized.
func (c *Connection) write(cmd protocol.Command) error {
	payload := protocol.Encode(cmd)
	if max := c.frameMax.Load(); max > 0 && uint32(len(payload)) > max {
		return fmt.Errorf("%w: command %d needs %d bytes (max %d)", protocol.ErrFrameTooLarge, cmd.Key(), len(payload), max)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if timeout := c.config.RequestTimeout(); timeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	if err := protocol.WriteFrame(c.conn, payload); err != nil {
		// the read loop notices the closed socket and tears the connection down
		c.conn.Close()
		return fmt.Errorf("%w: write to %s failed: %v", ErrConnectionLost, c.endpoint, err)
	}
	return nil
}

// unavailable returns the error for operations on a connection that is not open
func (c *Connection) unavailable() error {
	if err := c.Err(); err != nil {
		return err
	}
	return ErrConnectionClosed
}

// --------------------------------------------------------------------------
// Read Loop
// --------------------------------------------------------------------------

// readLoop reads frames until the transport fails and dispatches them in wire order
func (c *Connection) readLoop() {
	for {
		if heartbeat := c.Heartbeat(); heartbeat > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(2 * heartbeat))
		}

		payload, err := c.reader.ReadFrame()
		if err != nil {
			if c.State() == StateClosing {
				c.teardown(ErrConnectionClosed)
			} else {
				c.teardown(fmt.Errorf("%w: read from %s failed: %v", ErrConnectionLost, c.endpoint, err))
			}
			return
		}
		framesRead.Inc()

		cmd, _, err := protocol.Decode(payload)
		if err != nil {
			framesDropped.Inc()
			Logger.Warningf("Dropping frame from %s: %v", c.endpoint, err)
			continue
		}
		c.dispatch(cmd)
	}
}

// dispatch routes a decoded command to its consumer
func (c *Connection) dispatch(cmd protocol.Command) {
	switch cmd := cmd.(type) {
	case protocol.Deliver:
		c.stats.DeliverFrames.Inc(1)
		chunksReceived.Inc()
		sub, ok := c.subscriptions.Load(cmd.SubscriptionID)
		if !ok {
			framesDropped.Inc()
			Logger.Warningf("Received chunk %d for unknown subscription %d", cmd.Chunk.ChunkID, cmd.SubscriptionID)
			return
		}
		sub.queue.Push(subscriptionEvent{chunk: &cmd.Chunk})

	case protocol.PublishConfirm:
		c.stats.ConfirmFrames.Inc(1)
		c.stats.ConfirmedIDs.Inc(int64(len(cmd.PublishingIDs)))
		messagesAcked.Add(len(cmd.PublishingIDs))
		pub, ok := c.publishers.Load(cmd.PublisherID)
		if !ok {
			Logger.Warningf("Received confirm for unknown publisher %d", cmd.PublisherID)
			return
		}
		pub.queue.Push(publisherEvent{confirmed: cmd.PublishingIDs})

	case protocol.PublishError:
		c.stats.PublishErrors.Inc(int64(len(cmd.Errors)))
		publishErrors.Add(len(cmd.Errors))
		pub, ok := c.publishers.Load(cmd.PublisherID)
		if !ok {
			Logger.Warningf("Received publish error for unknown publisher %d", cmd.PublisherID)
			return
		}
		pub.queue.Push(publisherEvent{errors: cmd.Errors})

	case protocol.MetadataUpdate:
		Logger.Infof("Metadata update for stream %s: %s", cmd.Stream, cmd.Code)
		update := cmd
		c.subscriptions.Range(func(_ uint8, sub *Subscription) bool {
			if sub.config.Stream == cmd.Stream {
				sub.queue.Push(subscriptionEvent{metadata: &update})
			}
			return true
		})
		c.publishers.Range(func(_ uint8, pub *Publisher) bool {
			if pub.config.Stream == cmd.Stream {
				pub.queue.Push(publisherEvent{metadata: &update})
			}
			return true
		})

	case protocol.Tune:
		select {
		case c.tuneCh <- cmd:
		default:
			Logger.Debugf("Ignoring unexpected tune from %s", c.endpoint)
		}

	case protocol.Heartbeat:
		Logger.Debugf("Heartbeat from %s", c.endpoint)

	case protocol.CloseRequest:
		Logger.Warningf("Broker %s closed the connection: %s (%s)", c.endpoint, cmd.Reason, cmd.ClosingCode)
		if err := c.write(protocol.CloseResponse{CorrelationID: cmd.CorrelationID, ResponseCode: protocol.ResponseCodeOk}); err != nil {
			Logger.Debugf("Failed to answer close of %s: %v", c.endpoint, err)
		}
		c.teardown(fmt.Errorf("%w: closed by broker: %s (%s)", ErrConnectionLost, cmd.Reason, cmd.ClosingCode))

	case protocol.Response:
		if !c.registry.complete(cmd) {
			Logger.Warningf("Received response for unknown correlation id %d (command %d)", cmd.GetCorrelationID(), cmd.Key())
		}

	default:
		framesDropped.Inc()
		Logger.Warningf("Dropping unexpected command %d from %s", cmd.Key(), c.endpoint)
	}
}

// heartbeatLoop sends a heartbeat at the negotiated interval until the connection terminates
func (c *Connection) heartbeatLoop() {
	ticker := time.NewTicker(c.Heartbeat())
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if c.State() != StateOpen {
				continue
			}
			if err := c.write(protocol.Heartbeat{}); err != nil {
				Logger.Debugf("Failed to send heartbeat to %s: %v", c.endpoint, err)
			}
		}
	}
}

// --------------------------------------------------------------------------
// Teardown
// --------------------------------------------------------------------------

// teardown moves the connection into its terminal state exactly once: the socket is
// closed, every pending request fails with err and all dispatch queues are closed.
// Chunks already queued are still handed to their subscriptions.
func (c *Connection) teardown(err error) {
	c.doneOnce.Do(func() {
		if c.state.CompareAndSwap(int32(StateClosing), int32(StateClosed)) {
			Logger.Infof("Connection to %s closed", c.endpoint)
		} else {
			c.state.Store(int32(StateDisconnected))
			connectionsLost.Inc()
			Logger.Warningf("Connection to %s lost: %v", c.endpoint, err)
		}

		c.err = err
		c.conn.Close()
		c.registry.cancelAll(err)

		c.subscriptions.Range(func(id uint8, sub *Subscription) bool {
			c.subscriptions.Delete(id)
			sub.queue.Close()
			return true
		})
		c.publishers.Range(func(id uint8, pub *Publisher) bool {
			c.publishers.Delete(id)
			pub.queue.Close()
			return true
		})

		close(c.done)
	})
}

// Close closes the connection gracefully: in-flight writes finish, a Close request is
// sent and answered and the socket is closed. New operations are rejected as soon as
// Close is called. Closing a terminated connection returns nil.
func (c *Connection) Close(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(StateOpen), int32(StateClosing)) &&
		!c.state.CompareAndSwap(int32(StateConnecting), int32(StateClosing)) {
		<-c.done
		return nil
	}

	resp, err := c.request(ctx, protocol.CloseRequest{ClosingCode: protocol.ResponseCodeOk, Reason: "client close"})
	if err == nil && resp.GetResponseCode() != protocol.ResponseCodeOk {
		err = &ResponseError{Op: "close", Code: resp.GetResponseCode()}
	}

	c.conn.Close()
	<-c.done

	if errors.Is(err, ErrConnectionClosed) || errors.Is(err, ErrConnectionLost) {
		return nil // the broker went away while closing
	}
	return err
}
