package testing

import (
	"context"
	"errors"
	"github.com/ValentinKolb/dStream/rpc/common"
	"github.com/ValentinKolb/dStream/rpc/compression"
	"github.com/ValentinKolb/dStream/rpc/protocol"
	"github.com/ValentinKolb/dStream/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

var Logger = logger.GetLogger("broker")

// ErrConnectionRefused is returned by the connector while the broker refuses connections
var ErrConnectionRefused = errors.New("connection refused")

// --------------------------------------------------------------------------
// Broker
// --------------------------------------------------------------------------

// storedChunk is one write batch of a stream
type storedChunk struct {
	first     uint64
	timestamp int64
	entries   [][]byte
}

// stream holds the log and the per-reference state of a stream
type stream struct {
	chunks    []storedChunk
	next      uint64            // offset of the next entry
	offsets   map[string]uint64 // stored consumer offsets by reference
	sequences map[string]uint64 // last publishing id by publisher reference
}

// Broker is an in-memory implementation of the broker side of the protocol.
// Connections are served over net.Pipe, so tests need no network.
// Every Publish frame is stored as one chunk; compressed sub-entries are
// expanded into simple entries before they are stored.
type Broker struct {
	mu      sync.Mutex
	streams map[string]*stream
	conns   map[*brokerConn]struct{}

	// Values offered during tuning, change before the first connection
	FrameMax  uint32
	Heartbeat uint32

	// Accepted PLAIN credentials
	Username string
	Password string

	confirm    atomic.Bool
	silent     atomic.Bool
	refuse     atomic.Bool
	corrupt    atomic.Bool
	connects   atomic.Int64
	heartbeats atomic.Int64
}

// NewBroker creates an empty broker accepting guest/guest
func NewBroker() *Broker {
	b := &Broker{
		streams:  make(map[string]*stream),
		conns:    make(map[*brokerConn]struct{}),
		FrameMax: protocol.DefaultMaxFrameSize,
		Username: "guest",
		Password: "guest",
	}
	b.confirm.Store(true)
	return b
}

// Connector returns a connector whose connections are served by the broker.
// The endpoint passed to Connect is ignored.
func (b *Broker) Connector() transport.IClientConnector {
	return &pipeConnector{broker: b}
}

// ClientConfig returns a client configuration suitable for the broker
func (b *Broker) ClientConfig() common.ClientConfig {
	config := common.DefaultClientConfig()
	config.Transport.Endpoints = []string{"pipe"}
	config.Username = b.Username
	config.Password = b.Password
	config.TimeoutSecond = 5
	config.ReconnectBaseMillisecond = 10
	config.ReconnectMaxMillisecond = 100
	return config
}

// --------------------------------------------------------------------------
// Test controls
// --------------------------------------------------------------------------

// SetConfirmPublishes controls whether published messages are confirmed
func (b *Broker) SetConfirmPublishes(confirm bool) {
	b.confirm.Store(confirm)
}

// SetSilent makes the broker ignore every request of established connections
func (b *Broker) SetSilent(silent bool) {
	b.silent.Store(silent)
}

// SetRefuseConnections makes the connector fail every dial while set
func (b *Broker) SetRefuseConnections(refuse bool) {
	b.refuse.Store(refuse)
}

// SetCorruptChunks makes the broker send chunks with an invalid checksum
func (b *Broker) SetCorruptChunks(corrupt bool) {
	b.corrupt.Store(corrupt)
}

// KillConnections closes every connection without a close handshake
func (b *Broker) KillConnections() {
	b.mu.Lock()
	conns := make([]*brokerConn, 0, len(b.conns))
	for bc := range b.conns {
		conns = append(conns, bc)
		delete(b.conns, bc)
	}
	b.mu.Unlock()

	for _, bc := range conns {
		bc.close()
	}
}

// CloseConnections asks every client to close its connection
func (b *Broker) CloseConnections(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for bc := range b.conns {
		bc.send(protocol.CloseRequest{CorrelationID: 1, ClosingCode: protocol.ResponseCodeOk, Reason: reason})
	}
}

// SendRaw writes an arbitrary frame payload to every connection
func (b *Broker) SendRaw(payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for bc := range b.conns {
		bc.out.push(payload)
	}
}

// CreateStream creates a stream unless it exists
func (b *Broker) CreateStream(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.createStream(name)
}

// DeleteStream deletes a stream and notifies its publishers and subscribers
func (b *Broker) DeleteStream(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.deleteStream(name)
}

// Append writes entries to a stream as one chunk (creating the stream if needed)
// and delivers it to subscribers
func (b *Broker) Append(name string, entries ...[]byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.createStream(name)
	b.appendChunk(s, entries)
	b.deliverAll(name)
}

// Entries returns all entries of a stream in offset order
func (b *Broker) Entries(name string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.streams[name]
	if !ok {
		return nil
	}
	var out [][]byte
	for _, c := range s.chunks {
		out = append(out, c.entries...)
	}
	return out
}

// StoredOffset returns the offset stored for a consumer reference
func (b *Broker) StoredOffset(reference, name string) (uint64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.streams[name]
	if !ok {
		return 0, false
	}
	offset, ok := s.offsets[reference]
	return offset, ok
}

// Connections returns the number of open connections
func (b *Broker) Connections() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

// Connects returns the number of connections accepted since the broker was created
func (b *Broker) Connects() int64 {
	return b.connects.Load()
}

// Heartbeats returns the number of heartbeats received from clients
func (b *Broker) Heartbeats() int64 {
	return b.heartbeats.Load()
}

// Close closes all connections
func (b *Broker) Close() {
	b.KillConnections()
}

// --------------------------------------------------------------------------
// Connector
// --------------------------------------------------------------------------

// pipeConnector implements transport.IClientConnector on top of net.Pipe
type pipeConnector struct {
	broker *Broker
}

func (c *pipeConnector) GetName() string {
	return "pipe"
}

func (c *pipeConnector) Connect(ctx context.Context, _ string) (net.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.broker.refuse.Load() {
		return nil, ErrConnectionRefused
	}
	client, server := net.Pipe()
	c.broker.serve(server)
	return client, nil
}

func (c *pipeConnector) UpgradeConnection(net.Conn, common.TransportConfig) error {
	return nil
}

// --------------------------------------------------------------------------
// Stream helpers (b.mu must be held)
// --------------------------------------------------------------------------

func (b *Broker) createStream(name string) *stream {
	s, ok := b.streams[name]
	if !ok {
		s = &stream{offsets: make(map[string]uint64), sequences: make(map[string]uint64)}
		b.streams[name] = s
	}
	return s
}

func (b *Broker) deleteStream(name string) bool {
	if _, ok := b.streams[name]; !ok {
		return false
	}
	delete(b.streams, name)

	update := protocol.MetadataUpdate{Code: protocol.ResponseCodeStreamNotAvailable, Stream: name}
	for bc := range b.conns {
		notify := false
		for id, sub := range bc.subs {
			if sub.stream == name {
				delete(bc.subs, id)
				notify = true
			}
		}
		for id, pub := range bc.pubs {
			if pub.stream == name {
				delete(bc.pubs, id)
				notify = true
			}
		}
		if notify {
			bc.send(update)
		}
	}
	return true
}

func (b *Broker) appendChunk(s *stream, entries [][]byte) {
	if len(entries) == 0 {
		return
	}
	s.chunks = append(s.chunks, storedChunk{first: s.next, timestamp: time.Now().UnixMilli(), entries: entries})
	s.next += uint64(len(entries))
}

// deliverAll sends pending chunks of the stream to every subscriber with credit
func (b *Broker) deliverAll(name string) {
	for bc := range b.conns {
		for _, sub := range bc.subs {
			if sub.stream == name {
				b.deliver(bc, sub)
			}
		}
	}
}

// deliver sends chunks to a subscriber while it has credit
func (b *Broker) deliver(bc *brokerConn, sub *brokerSub) {
	s, ok := b.streams[sub.stream]
	if !ok {
		return
	}
	for sub.credit > 0 && sub.nextChunk < len(s.chunks) {
		stored := s.chunks[sub.nextChunk]
		chunk := protocol.NewChunk(stored.first, 1, stored.timestamp, stored.entries)
		if b.corrupt.Load() {
			chunk.CRC = ^chunk.CRC
		}
		bc.send(protocol.Deliver{SubscriptionID: sub.id, Chunk: chunk})
		sub.credit--
		sub.nextChunk++
	}
}

// startChunk returns the index of the first chunk delivered for the offset specification
func startChunk(s *stream, spec protocol.OffsetSpec) int {
	switch spec.Type {
	case protocol.OffsetTypeFirst:
		return 0
	case protocol.OffsetTypeLast:
		return max(len(s.chunks)-1, 0)
	case protocol.OffsetTypeOffset:
		for i, c := range s.chunks {
			if c.first+uint64(len(c.entries)) > spec.Offset {
				return i
			}
		}
	case protocol.OffsetTypeTimestamp:
		for i, c := range s.chunks {
			if c.timestamp >= spec.Timestamp {
				return i
			}
		}
	}
	return len(s.chunks)
}

// expand returns the records of a published message
func expand(msg protocol.PublishedMessage) ([][]byte, error) {
	return compression.Unbatch(msg)
}
