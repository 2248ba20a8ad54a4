package testing

import (
	"bytes"
	"github.com/ValentinKolb/dStream/rpc/protocol"
	"net"
	"sync"
	"time"
)

// --------------------------------------------------------------------------
// Outbox
// --------------------------------------------------------------------------

// outbox is an unbounded frame queue drained by a single writer goroutine, so the
// broker never blocks on a client that is busy writing to the same pipe
type outbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  [][]byte
	closed bool
	last   bool // close the connection once the queue is drained
}

func newOutbox() *outbox {
	o := &outbox{}
	o.cond = sync.NewCond(&o.mu)
	return o
}

func (o *outbox) push(payload []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || o.last {
		return
	}
	o.queue = append(o.queue, payload)
	o.cond.Signal()
}

// finish drops new frames and closes the connection after the queued ones were written
func (o *outbox) finish() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.last = true
	o.cond.Signal()
}

func (o *outbox) close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	o.cond.Signal()
}

// run writes queued frames until the outbox is closed or drained after finish
func (o *outbox) run(conn net.Conn) {
	defer conn.Close()
	for {
		o.mu.Lock()
		for len(o.queue) == 0 && !o.closed && !o.last {
			o.cond.Wait()
		}
		if o.closed || (o.last && len(o.queue) == 0) {
			o.mu.Unlock()
			return
		}
		payload := o.queue[0]
		o.queue[0] = nil
		o.queue = o.queue[1:]
		o.mu.Unlock()

		if err := protocol.WriteFrame(conn, payload); err != nil {
			return
		}
	}
}

// --------------------------------------------------------------------------
// Broker connection
// --------------------------------------------------------------------------

type brokerSub struct {
	id        uint8
	stream    string
	nextChunk int
	credit    int
}

type brokerPub struct {
	id        uint8
	stream    string
	reference string
}

// brokerConn is the broker side of one client connection. subs and pubs are
// guarded by the broker mutex.
type brokerConn struct {
	broker *Broker
	conn   net.Conn
	out    *outbox
	subs   map[uint8]*brokerSub
	pubs   map[uint8]*brokerPub

	stopOnce sync.Once
	stop     chan struct{}
}

// serve registers the connection and starts its reader and writer
func (b *Broker) serve(conn net.Conn) {
	bc := &brokerConn{
		broker: b,
		conn:   conn,
		out:    newOutbox(),
		subs:   make(map[uint8]*brokerSub),
		pubs:   make(map[uint8]*brokerPub),
		stop:   make(chan struct{}),
	}

	b.mu.Lock()
	b.conns[bc] = struct{}{}
	b.mu.Unlock()
	b.connects.Add(1)

	go bc.out.run(conn)
	go bc.readLoop()
}

func (bc *brokerConn) send(cmd protocol.Command) {
	bc.out.push(protocol.Encode(cmd))
}

// close tears the connection down without flushing
func (bc *brokerConn) close() {
	bc.stopOnce.Do(func() {
		close(bc.stop)
		bc.out.close()
		bc.conn.Close()
	})
}

// drain stops the connection once the queued frames were written
func (bc *brokerConn) drain() {
	bc.stopOnce.Do(func() {
		close(bc.stop)
		bc.out.finish()
	})
}

func (bc *brokerConn) readLoop() {
	reader := protocol.NewFrameReader(bc.conn, 64*1024)
	reader.SetMaxFrameSize(0)

	graceful := false
	defer func() {
		bc.broker.mu.Lock()
		delete(bc.broker.conns, bc)
		bc.broker.mu.Unlock()
		if graceful {
			bc.drain()
		} else {
			bc.close()
		}
	}()

	for {
		payload, err := reader.ReadFrame()
		if err != nil {
			return
		}
		cmd, _, err := protocol.Decode(payload)
		if err != nil {
			Logger.Warningf("Dropping frame: %v", err)
			continue
		}
		if !bc.handle(cmd) {
			// a client close is answered before the connection goes away
			_, graceful = cmd.(protocol.CloseRequest)
			return
		}
	}
}

// handle processes one client command, it returns false when the read loop should stop
func (bc *brokerConn) handle(cmd protocol.Command) bool {
	b := bc.broker

	if _, ok := cmd.(protocol.Request); ok && b.silent.Load() {
		if _, closing := cmd.(protocol.CloseRequest); !closing {
			return true
		}
	}

	switch cmd := cmd.(type) {

	// handshake

	case protocol.PeerPropertiesRequest:
		bc.send(protocol.PeerPropertiesResponse{
			CorrelationID: cmd.CorrelationID,
			ResponseCode:  protocol.ResponseCodeOk,
			Properties:    map[string]string{"product": "dstream test broker", "version": "0"},
		})

	case protocol.SaslHandshakeRequest:
		bc.send(protocol.SaslHandshakeResponse{
			CorrelationID: cmd.CorrelationID,
			ResponseCode:  protocol.ResponseCodeOk,
			Mechanisms:    []string{"PLAIN"},
		})

	case protocol.SaslAuthenticateRequest:
		code := protocol.ResponseCodeOk
		expected := []byte("\x00" + b.Username + "\x00" + b.Password)
		if cmd.Mechanism != "PLAIN" {
			code = protocol.ResponseCodeSaslMechanismNotSupported
		} else if !bytes.Equal(cmd.Data, expected) {
			code = protocol.ResponseCodeAuthenticationFailure
		}
		bc.send(protocol.SaslAuthenticateResponse{CorrelationID: cmd.CorrelationID, ResponseCode: code})
		if code == protocol.ResponseCodeOk {
			bc.send(protocol.Tune{FrameMax: b.FrameMax, Heartbeat: b.Heartbeat})
		}

	case protocol.Tune:
		if cmd.Heartbeat > 0 {
			go bc.heartbeatLoop(time.Duration(cmd.Heartbeat) * time.Second)
		}

	case protocol.OpenRequest:
		bc.send(protocol.OpenResponse{
			CorrelationID: cmd.CorrelationID,
			ResponseCode:  protocol.ResponseCodeOk,
			Properties:    map[string]string{"advertised_host": "localhost", "advertised_port": "5552"},
		})

	case protocol.Heartbeat:
		b.heartbeats.Add(1)

	case protocol.CloseRequest:
		bc.send(protocol.CloseResponse{CorrelationID: cmd.CorrelationID, ResponseCode: protocol.ResponseCodeOk})
		return false

	case protocol.CloseResponse:
		return false

	// streams

	case protocol.CreateRequest:
		b.mu.Lock()
		code := protocol.ResponseCodeOk
		if _, ok := b.streams[cmd.Stream]; ok {
			code = protocol.ResponseCodeStreamAlreadyExists
		} else {
			b.createStream(cmd.Stream)
		}
		b.mu.Unlock()
		bc.respond(protocol.KeyCreate, cmd.CorrelationID, code)

	case protocol.DeleteRequest:
		b.mu.Lock()
		code := protocol.ResponseCodeOk
		if !b.deleteStream(cmd.Stream) {
			code = protocol.ResponseCodeStreamDoesNotExist
		}
		b.mu.Unlock()
		bc.respond(protocol.KeyDelete, cmd.CorrelationID, code)

	// publishing

	case protocol.DeclarePublisherRequest:
		b.mu.Lock()
		code := protocol.ResponseCodeOk
		if _, ok := b.streams[cmd.Stream]; !ok {
			code = protocol.ResponseCodeStreamDoesNotExist
		} else if _, ok := bc.pubs[cmd.PublisherID]; ok {
			code = protocol.ResponseCodePreconditionFailed
		} else {
			bc.pubs[cmd.PublisherID] = &brokerPub{id: cmd.PublisherID, stream: cmd.Stream, reference: cmd.Reference}
		}
		b.mu.Unlock()
		bc.respond(protocol.KeyDeclarePublisher, cmd.CorrelationID, code)

	case protocol.Publish:
		bc.publish(cmd)

	case protocol.QueryPublisherSequenceRequest:
		b.mu.Lock()
		var sequence uint64
		if s, ok := b.streams[cmd.Stream]; ok {
			sequence = s.sequences[cmd.Reference]
		}
		b.mu.Unlock()
		bc.send(protocol.QueryPublisherSequenceResponse{
			CorrelationID: cmd.CorrelationID,
			ResponseCode:  protocol.ResponseCodeOk,
			Sequence:      sequence,
		})

	case protocol.DeletePublisherRequest:
		b.mu.Lock()
		code := protocol.ResponseCodeOk
		if _, ok := bc.pubs[cmd.PublisherID]; !ok {
			code = protocol.ResponseCodePublisherDoesNotExist
		}
		delete(bc.pubs, cmd.PublisherID)
		b.mu.Unlock()
		bc.respond(protocol.KeyDeletePublisher, cmd.CorrelationID, code)

	// consuming

	case protocol.SubscribeRequest:
		b.mu.Lock()
		s, ok := b.streams[cmd.Stream]
		switch {
		case !ok:
			bc.respond(protocol.KeySubscribe, cmd.CorrelationID, protocol.ResponseCodeStreamDoesNotExist)
		case bc.subs[cmd.SubscriptionID] != nil:
			bc.respond(protocol.KeySubscribe, cmd.CorrelationID, protocol.ResponseCodeSubscriptionIdAlreadyExists)
		default:
			sub := &brokerSub{
				id:        cmd.SubscriptionID,
				stream:    cmd.Stream,
				nextChunk: startChunk(s, cmd.Offset),
				credit:    int(cmd.Credit),
			}
			bc.subs[sub.id] = sub
			bc.respond(protocol.KeySubscribe, cmd.CorrelationID, protocol.ResponseCodeOk)
			b.deliver(bc, sub)
		}
		b.mu.Unlock()

	case protocol.Credit:
		b.mu.Lock()
		if sub, ok := bc.subs[cmd.SubscriptionID]; ok {
			sub.credit += int(cmd.Credit)
			b.deliver(bc, sub)
		}
		b.mu.Unlock()

	case protocol.UnsubscribeRequest:
		b.mu.Lock()
		code := protocol.ResponseCodeOk
		if _, ok := bc.subs[cmd.SubscriptionID]; !ok {
			code = protocol.ResponseCodeSubscriptionIdDoesNotExist
		}
		delete(bc.subs, cmd.SubscriptionID)
		b.mu.Unlock()
		bc.respond(protocol.KeyUnsubscribe, cmd.CorrelationID, code)

	case protocol.StoreOffset:
		b.mu.Lock()
		if s, ok := b.streams[cmd.Stream]; ok {
			s.offsets[cmd.Reference] = cmd.Offset
		}
		b.mu.Unlock()

	case protocol.QueryOffsetRequest:
		b.mu.Lock()
		resp := protocol.QueryOffsetResponse{CorrelationID: cmd.CorrelationID, ResponseCode: protocol.ResponseCodeOffsetNotFound}
		if s, ok := b.streams[cmd.Stream]; !ok {
			resp.ResponseCode = protocol.ResponseCodeStreamDoesNotExist
		} else if offset, ok := s.offsets[cmd.Reference]; ok {
			resp.ResponseCode = protocol.ResponseCodeOk
			resp.Offset = offset
		}
		b.mu.Unlock()
		bc.send(resp)

	default:
		Logger.Warningf("Ignoring command %d", cmd.Key())
	}
	return true
}

// respond sends a response carrying only a correlation id and a code
func (bc *brokerConn) respond(key uint16, correlationID uint32, code protocol.ResponseCode) {
	bc.send(protocol.SimpleResponse{CommandKey: key, CorrelationID: correlationID, ResponseCode: code})
}

// publish stores the messages of a publish frame as one chunk and confirms them
func (bc *brokerConn) publish(cmd protocol.Publish) {
	b := bc.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	fail := func(code protocol.ResponseCode) {
		errs := make([]protocol.PublishingError, len(cmd.Messages))
		for i, msg := range cmd.Messages {
			errs[i] = protocol.PublishingError{PublishingID: msg.PublishingID, Code: code}
		}
		bc.send(protocol.PublishError{PublisherID: cmd.PublisherID, Errors: errs})
	}

	pub, ok := bc.pubs[cmd.PublisherID]
	if !ok {
		fail(protocol.ResponseCodePublisherDoesNotExist)
		return
	}
	s, ok := b.streams[pub.stream]
	if !ok {
		fail(protocol.ResponseCodeStreamDoesNotExist)
		return
	}

	var entries [][]byte
	ids := make([]uint64, 0, len(cmd.Messages))
	for _, msg := range cmd.Messages {
		records, err := expand(msg)
		if err != nil {
			Logger.Warningf("Rejecting message %d: %v", msg.PublishingID, err)
			bc.send(protocol.PublishError{
				PublisherID: cmd.PublisherID,
				Errors:      []protocol.PublishingError{{PublishingID: msg.PublishingID, Code: protocol.ResponseCodeInternalError}},
			})
			continue
		}
		entries = append(entries, records...)
		ids = append(ids, msg.PublishingID)
		if pub.reference != "" && msg.PublishingID > s.sequences[pub.reference] {
			s.sequences[pub.reference] = msg.PublishingID
		}
	}

	b.appendChunk(s, entries)
	if b.confirm.Load() && len(ids) > 0 {
		bc.send(protocol.PublishConfirm{PublisherID: cmd.PublisherID, PublishingIDs: ids})
	}
	b.deliverAll(pub.stream)
}

// heartbeatLoop sends heartbeats until the connection is closed
func (bc *brokerConn) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-bc.stop:
			return
		case <-ticker.C:
			bc.send(protocol.Heartbeat{})
		}
	}
}
