package reliable

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/dStream/rpc/client"
	"github.com/ValentinKolb/dStream/rpc/common"
	"github.com/ValentinKolb/dStream/rpc/compression"
	"github.com/ValentinKolb/dStream/rpc/protocol"
	"github.com/ValentinKolb/dStream/rpc/transport"
	"slices"
	"sync"
	"sync/atomic"
)

// --------------------------------------------------------------------------
// Confirmations
// --------------------------------------------------------------------------

// ConfirmationStatus is the outcome of a sent message
type ConfirmationStatus int

const (
	Confirmed   ConfirmationStatus = iota // Stored by the broker
	Rejected                              // Refused by the broker, see Confirmation.Code
	Unconfirmed                           // The connection was lost or the producer closed before a confirm arrived
)

// String returns the string representation of a ConfirmationStatus
func (s ConfirmationStatus) String() string {
	switch s {
	case Confirmed:
		return "confirmed"
	case Rejected:
		return "rejected"
	case Unconfirmed:
		return "unconfirmed"
	default:
		return fmt.Sprintf("status %d", int(s))
	}
}

// Confirmation reports the outcome of one Send, BatchSend entry or SendCompressed call
type Confirmation struct {
	PublishingID uint64
	Messages     [][]byte // the records of the entry (one unless sent compressed)
	Status       ConfirmationStatus
	Code         protocol.ResponseCode // broker code for rejected entries
}

// ConfirmHandler receives every confirmation exactly once
type ConfirmHandler func(c Confirmation)

// pendingEntry is a sent entry waiting for its confirmation
type pendingEntry struct {
	id       uint64
	messages [][]byte
}

// --------------------------------------------------------------------------
// Producer
// --------------------------------------------------------------------------

// ProducerConfig holds the identity and callbacks of a producer
type ProducerConfig struct {
	Stream string

	// Reference enables deduplication on the broker. Publishing ids continue after the
	// last id the broker stored for this reference.
	Reference string

	OnConfirm ConfirmHandler // required
	OnClosed  ClosedHandler  // optional

	// Strategy controls reconnects (nil = StrategyFromConfig)
	Strategy IReconnectStrategy
}

// Producer publishes to a stream and survives connection loss. Every sent entry is
// reported to OnConfirm exactly once: confirmed, rejected by the broker, or unconfirmed
// when the connection is lost first. Unconfirmed entries are reported in send order and
// are not resent.
type Producer struct {
	config    common.ClientConfig
	pconfig   ProducerConfig
	connector transport.IClientConnector
	strategy  IReconnectStrategy

	mu        sync.Mutex
	conn      *client.Connection
	publisher *client.Publisher
	ready     chan struct{} // closed while a publisher is available
	pending   map[uint64]*pendingEntry
	nextID    uint64
	lastID    uint64 // last publishing id stored on the broker for the reference

	closed    atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	finishErr error
}

// NewProducer connects to the broker and declares a publisher for the stream.
// The first connect is not retried.
func NewProducer(ctx context.Context, config common.ClientConfig, connector transport.IClientConnector, pconfig ProducerConfig) (*Producer, error) {
	if pconfig.OnConfirm == nil {
		return nil, fmt.Errorf("producer: confirm handler required")
	}
	strategy := pconfig.Strategy
	if strategy == nil {
		strategy = StrategyFromConfig(config)
	}

	p := &Producer{
		config:    config,
		pconfig:   pconfig,
		connector: connector,
		strategy:  strategy,
		ready:     make(chan struct{}),
		pending:   make(map[uint64]*pendingEntry),
		nextID:    1,
		done:      make(chan struct{}),
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())

	conn, err := p.connect(ctx)
	if err != nil {
		p.cancel()
		return nil, err
	}
	go p.run(conn)
	return p, nil
}

// connect opens a connection, declares the publisher and installs both
func (p *Producer) connect(ctx context.Context) (*client.Connection, error) {
	conn, err := dial(ctx, p.config, p.connector, p.pconfig.Stream)
	if err != nil {
		return nil, err
	}

	var lastID uint64
	if p.pconfig.Reference != "" {
		lastID, err = conn.QueryPublisherSequence(ctx, p.pconfig.Reference, p.pconfig.Stream)
		if err != nil {
			_ = conn.Close(ctx)
			return nil, err
		}
	}

	publisher, err := conn.DeclarePublisher(ctx, client.PublisherConfig{
		Stream:           p.pconfig.Stream,
		Reference:        p.pconfig.Reference,
		OnConfirm:        p.onConfirm,
		OnError:          p.onError,
		OnMetadataUpdate: p.onMetadataUpdate(conn),
	})
	if err != nil {
		_ = conn.Close(ctx)
		return nil, err
	}

	p.mu.Lock()
	p.conn = conn
	p.publisher = publisher
	if p.pconfig.Reference != "" {
		p.lastID = lastID
		p.nextID = max(p.nextID, lastID+1)
	}
	close(p.ready)
	p.mu.Unlock()

	Logger.Infof("Producer for %s ready (publisher %d, next publishing id %d)", p.pconfig.Stream, publisher.ID(), p.NextPublishingID())
	return conn, nil
}

// run watches the current connection and reconnects after it was lost
func (p *Producer) run(conn *client.Connection) {
	for {
		select {
		case <-conn.Done():
		case <-p.ctx.Done():
			_ = conn.Close(context.Background())
		}

		// confirmations queued before the connection went away are still reported as confirmed
		p.mu.Lock()
		publisher := p.publisher
		p.mu.Unlock()
		if publisher != nil {
			select {
			case <-publisher.Done():
			case <-p.ctx.Done():
			}
		}
		p.disconnected()

		if p.closed.Load() {
			p.finish(nil)
			return
		}

		producerReconnects.Inc()
		err := reconnect(p.ctx, p.strategy, "producer for "+p.pconfig.Stream, conn.Err(), func(ctx context.Context) error {
			next, err := p.connect(ctx)
			if err == nil {
				conn = next
			}
			return err
		})
		if err != nil {
			if p.closed.Load() || errors.Is(err, context.Canceled) {
				p.finish(nil)
			} else {
				p.closed.Store(true)
				p.finish(err)
			}
			return
		}
	}
}

// disconnected drops the publisher and reports every pending entry as unconfirmed
func (p *Producer) disconnected() {
	p.mu.Lock()
	p.conn = nil
	p.publisher = nil
	select {
	case <-p.ready:
		p.ready = make(chan struct{})
	default:
	}
	failed := p.drainPending()
	p.mu.Unlock()

	if len(failed) > 0 {
		Logger.Warningf("Producer for %s lost %d unconfirmed entries", p.pconfig.Stream, len(failed))
	}
	for _, entry := range failed {
		p.pconfig.OnConfirm(Confirmation{PublishingID: entry.id, Messages: entry.messages, Status: Unconfirmed})
	}
}

// drainPending removes all pending entries and returns them in send order (p.mu must be held)
func (p *Producer) drainPending() []*pendingEntry {
	entries := make([]*pendingEntry, 0, len(p.pending))
	for id, entry := range p.pending {
		entries = append(entries, entry)
		delete(p.pending, id)
	}
	slices.SortFunc(entries, func(a, b *pendingEntry) int { return cmp.Compare(a.id, b.id) })
	return entries
}

// finish terminates the producer, it is called once by run
func (p *Producer) finish(err error) {
	p.mu.Lock()
	failed := p.drainPending()
	p.mu.Unlock()
	for _, entry := range failed {
		p.pconfig.OnConfirm(Confirmation{PublishingID: entry.id, Messages: entry.messages, Status: Unconfirmed})
	}

	p.finishErr = err
	p.cancel()
	close(p.done)

	if err != nil {
		Logger.Errorf("Producer for %s terminated: %v", p.pconfig.Stream, err)
	} else {
		Logger.Infof("Producer for %s closed", p.pconfig.Stream)
	}
	if p.pconfig.OnClosed != nil {
		p.pconfig.OnClosed(err)
	}
}

// --------------------------------------------------------------------------
// Callbacks of the current publisher
// --------------------------------------------------------------------------

func (p *Producer) onConfirm(ids []uint64) {
	p.resolve(ids, Confirmed, protocol.ResponseCodeOk)
}

func (p *Producer) onError(errs []protocol.PublishingError) {
	for _, e := range errs {
		p.resolve([]uint64{e.PublishingID}, Rejected, e.Code)
	}
}

// resolve reports pending entries, ids that are no longer pending are ignored
func (p *Producer) resolve(ids []uint64, status ConfirmationStatus, code protocol.ResponseCode) {
	p.mu.Lock()
	resolved := make([]*pendingEntry, 0, len(ids))
	for _, id := range ids {
		if entry, ok := p.pending[id]; ok {
			delete(p.pending, id)
			resolved = append(resolved, entry)
		}
	}
	p.mu.Unlock()

	for _, entry := range resolved {
		p.pconfig.OnConfirm(Confirmation{PublishingID: entry.id, Messages: entry.messages, Status: status, Code: code})
	}
}

// onMetadataUpdate returns a handler that treats a metadata update as a disconnect
func (p *Producer) onMetadataUpdate(conn *client.Connection) client.MetadataHandler {
	return func(update protocol.MetadataUpdate) {
		Logger.Warningf("Stream %s changed (%s), reconnecting producer", update.Stream, update.Code)
		go func() { _ = conn.Close(p.ctx) }()
	}
}

// --------------------------------------------------------------------------
// Sending
// --------------------------------------------------------------------------

// Send publishes a single message and returns its publishing id. It waits while the
// producer is reconnecting. The outcome is reported to OnConfirm.
func (p *Producer) Send(ctx context.Context, message []byte) (uint64, error) {
	ids, err := p.send(ctx, [][][]byte{{message}}, func(id uint64, records [][]byte) (protocol.PublishedMessage, error) {
		return protocol.PublishedMessage{PublishingID: id, Data: records[0]}, nil
	})
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

// BatchSend publishes several messages in a single frame, each with its own publishing id
func (p *Producer) BatchSend(ctx context.Context, messages [][]byte) ([]uint64, error) {
	if len(messages) == 0 {
		return nil, nil
	}
	entries := make([][][]byte, len(messages))
	for i, m := range messages {
		entries[i] = [][]byte{m}
	}
	return p.send(ctx, entries, func(id uint64, records [][]byte) (protocol.PublishedMessage, error) {
		return protocol.PublishedMessage{PublishingID: id, Data: records[0]}, nil
	})
}

// SendCompressed publishes the messages as one sub-entry batch compressed with the given
// codec. The batch shares one publishing id and is confirmed as a whole.
func (p *Producer) SendCompressed(ctx context.Context, messages [][]byte, codec protocol.CompressionType) (uint64, error) {
	if len(messages) == 0 {
		return 0, fmt.Errorf("%w: empty batch", compression.ErrInvalidBatch)
	}
	ids, err := p.send(ctx, [][][]byte{messages}, func(id uint64, records [][]byte) (protocol.PublishedMessage, error) {
		return compression.Batch(codec, id, records)
	})
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

// send assigns publishing ids to the entries, registers them as pending and writes one frame
func (p *Producer) send(ctx context.Context, entries [][][]byte, build func(id uint64, records [][]byte) (protocol.PublishedMessage, error)) ([]uint64, error) {
	for {
		if p.closed.Load() {
			return nil, ErrProducerClosed
		}

		p.mu.Lock()
		publisher, ready := p.publisher, p.ready
		if publisher == nil {
			p.mu.Unlock()
			select {
			case <-ready:
				continue
			case <-p.done:
				return nil, ErrProducerClosed
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		ids := make([]uint64, len(entries))
		messages := make([]protocol.PublishedMessage, len(entries))
		for i, records := range entries {
			msg, err := build(p.nextID+uint64(i), records)
			if err != nil {
				p.mu.Unlock()
				return nil, err
			}
			ids[i] = msg.PublishingID
			messages[i] = msg
		}
		for i, records := range entries {
			p.pending[ids[i]] = &pendingEntry{id: ids[i], messages: records}
		}
		p.nextID += uint64(len(entries))
		p.mu.Unlock()

		err := publisher.Publish(messages...)
		if errors.Is(err, protocol.ErrFrameTooLarge) {
			// nothing was written, the connection stays usable
			p.mu.Lock()
			for _, id := range ids {
				delete(p.pending, id)
			}
			p.mu.Unlock()
			return nil, err
		}
		if err != nil {
			// the entries are reported as unconfirmed once the disconnect is handled
			Logger.Debugf("Publish of %d entries failed: %v", len(ids), err)
		}
		return ids, nil
	}
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

// LastPublishingID returns the last publishing id the broker stored for the reference
// when the publisher was (re)declared. It is 0 without a reference.
func (p *Producer) LastPublishingID() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastID
}

// NextPublishingID returns the id assigned to the next sent entry
func (p *Producer) NextPublishingID() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nextID
}

// Pending returns the number of entries waiting for a confirmation
func (p *Producer) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Connection returns the current connection, nil while reconnecting
func (p *Producer) Connection() *client.Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn
}

// Done is closed once the producer terminated
func (p *Producer) Done() <-chan struct{} {
	return p.done
}

// Err returns the terminal error (nil while running or after an explicit Close)
func (p *Producer) Err() error {
	select {
	case <-p.done:
		return p.finishErr
	default:
		return nil
	}
}

// Close deletes the publisher and closes the connection. Entries that are still pending
// are reported as unconfirmed. Closing a closed producer returns nil.
func (p *Producer) Close(ctx context.Context) error {
	if !p.closed.CompareAndSwap(false, true) {
		<-p.done
		return nil
	}

	p.mu.Lock()
	conn, publisher := p.conn, p.publisher
	p.mu.Unlock()

	var err error
	if publisher != nil {
		err = publisher.Delete(ctx)
	}
	if conn != nil {
		if closeErr := conn.Close(ctx); err == nil {
			err = closeErr
		}
	}
	p.cancel()

	select {
	case <-p.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if errors.Is(err, client.ErrConnectionLost) {
		return nil
	}
	return err
}
