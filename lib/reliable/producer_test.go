package reliable

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/dStream/rpc/common"
	"github.com/ValentinKolb/dStream/rpc/protocol"
	brokertest "github.com/ValentinKolb/dStream/rpc/testing"
	"reflect"
	"sync"
	"testing"
	"time"
)

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// fastRetry reconnects without noticeable delay
var fastRetry = FixedDelay{Delay: 10 * time.Millisecond}

// waitFor polls cond until it returns true or the timeout expires
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// confirmRecorder records confirmations
type confirmRecorder struct {
	mu            sync.Mutex
	confirmations []Confirmation
}

func (r *confirmRecorder) onConfirm(c Confirmation) {
	r.mu.Lock()
	r.confirmations = append(r.confirmations, c)
	r.mu.Unlock()
}

func (r *confirmRecorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.confirmations)
}

func (r *confirmRecorder) snapshot() []Confirmation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Confirmation(nil), r.confirmations...)
}

// newProducer creates a producer for the stream that reconnects quickly
func newProducer(t *testing.T, broker *brokertest.Broker, pconfig ProducerConfig) *Producer {
	t.Helper()
	if pconfig.Strategy == nil {
		pconfig.Strategy = fastRetry
	}
	producer, err := NewProducer(context.Background(), broker.ClientConfig(), broker.Connector(), pconfig)
	if err != nil {
		t.Fatalf("Failed to create producer: %v", err)
	}
	t.Cleanup(func() { _ = producer.Close(context.Background()) })
	return producer
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

// TestProducerConfirms tests that every sent message is confirmed once
func TestProducerConfirms(t *testing.T) {
	broker := brokertest.NewBroker()
	defer broker.Close()
	broker.CreateStream("orders")

	recorder := &confirmRecorder{}
	producer := newProducer(t, broker, ProducerConfig{Stream: "orders", OnConfirm: recorder.onConfirm})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		id, err := producer.Send(ctx, []byte(fmt.Sprintf("order-%d", i)))
		if err != nil {
			t.Fatalf("Failed to send: %v", err)
		}
		if id != uint64(i+1) {
			t.Errorf("Expected publishing id %d, got %d", i+1, id)
		}
	}
	ids, err := producer.BatchSend(ctx, [][]byte{[]byte("order-3"), []byte("order-4")})
	if err != nil {
		t.Fatalf("Failed to batch send: %v", err)
	}
	if !reflect.DeepEqual(ids, []uint64{4, 5}) {
		t.Errorf("Expected batch ids [4 5], got %v", ids)
	}

	waitFor(t, 2*time.Second, "confirmations", func() bool { return recorder.len() == 5 })

	for i, c := range recorder.snapshot() {
		if c.Status != Confirmed {
			t.Errorf("Entry %d: expected confirmed, got %s", c.PublishingID, c.Status)
		}
		if c.PublishingID != uint64(i+1) {
			t.Errorf("Expected confirmation %d for id %d, got %d", i, i+1, c.PublishingID)
		}
		if expected := fmt.Sprintf("order-%d", i); string(c.Messages[0]) != expected {
			t.Errorf("Expected message %q, got %q", expected, c.Messages[0])
		}
	}
	if producer.Pending() != 0 {
		t.Errorf("Expected no pending entries, got %d", producer.Pending())
	}
	if len(broker.Entries("orders")) != 5 {
		t.Errorf("Expected 5 stored entries, got %d", len(broker.Entries("orders")))
	}
}

// TestProducerUnconfirmedOnDisconnect tests that pending entries are reported in send
// order when the transport is killed and that the producer continues after reconnecting
func TestProducerUnconfirmedOnDisconnect(t *testing.T) {
	broker := brokertest.NewBroker()
	defer broker.Close()
	broker.CreateStream("orders")
	broker.SetConfirmPublishes(false)

	recorder := &confirmRecorder{}
	producer := newProducer(t, broker, ProducerConfig{Stream: "orders", OnConfirm: recorder.onConfirm})
	ctx := context.Background()

	const sends = 10
	for i := 0; i < sends; i++ {
		if _, err := producer.Send(ctx, []byte{byte(i)}); err != nil {
			t.Fatalf("Failed to send: %v", err)
		}
	}
	waitFor(t, 2*time.Second, "stored entries", func() bool { return len(broker.Entries("orders")) == sends })
	if producer.Pending() != sends {
		t.Fatalf("Expected %d pending entries, got %d", sends, producer.Pending())
	}

	broker.KillConnections()
	waitFor(t, 2*time.Second, "unconfirmed callbacks", func() bool { return recorder.len() == sends })

	// no duplicates arrive later
	time.Sleep(50 * time.Millisecond)
	confirmations := recorder.snapshot()
	if len(confirmations) != sends {
		t.Fatalf("Expected exactly %d callbacks, got %d", sends, len(confirmations))
	}
	for i, c := range confirmations {
		if c.Status != Unconfirmed {
			t.Errorf("Entry %d: expected unconfirmed, got %s", c.PublishingID, c.Status)
		}
		if c.PublishingID != uint64(i+1) {
			t.Errorf("Callback %d: expected publishing id %d, got %d", i, i+1, c.PublishingID)
		}
		if !reflect.DeepEqual(c.Messages, [][]byte{{byte(i)}}) {
			t.Errorf("Callback %d: unexpected messages %v", i, c.Messages)
		}
	}

	// the producer reconnects and keeps counting publishing ids
	broker.SetConfirmPublishes(true)
	id, err := producer.Send(ctx, []byte("after"))
	if err != nil {
		t.Fatalf("Failed to send after reconnect: %v", err)
	}
	if id != sends+1 {
		t.Errorf("Expected publishing id %d after reconnect, got %d", sends+1, id)
	}
	waitFor(t, 2*time.Second, "confirmation after reconnect", func() bool { return recorder.len() == sends+1 })
	if last := recorder.snapshot()[sends]; last.Status != Confirmed || last.PublishingID != sends+1 {
		t.Errorf("Unexpected confirmation after reconnect: %+v", last)
	}
	if broker.Connects() != 2 {
		t.Errorf("Expected 2 connections, got %d", broker.Connects())
	}
}

// TestProducerConfirmedBeforeDisconnect tests that confirmations received before the
// transport died are reported as confirmed even when their callback runs afterwards
func TestProducerConfirmedBeforeDisconnect(t *testing.T) {
	broker := brokertest.NewBroker()
	defer broker.Close()
	broker.CreateStream("orders")

	recorder := &confirmRecorder{}
	release := make(chan struct{})
	producer := newProducer(t, broker, ProducerConfig{Stream: "orders", OnConfirm: func(c Confirmation) {
		recorder.onConfirm(c)
		if c.PublishingID == 1 {
			<-release
		}
	}})
	ctx := context.Background()

	for _, msg := range []string{"a", "b"} {
		if _, err := producer.Send(ctx, []byte(msg)); err != nil {
			t.Fatalf("Failed to send: %v", err)
		}
	}
	conn := producer.Connection()
	waitFor(t, 2*time.Second, "two confirmed ids", func() bool { return conn.Stats().Snapshot().ConfirmedIDs == 2 })
	time.Sleep(20 * time.Millisecond) // the second confirm is queued behind the blocked callback

	broker.KillConnections()
	<-conn.Done()
	close(release)

	waitFor(t, 2*time.Second, "two callbacks", func() bool { return recorder.len() == 2 })
	time.Sleep(50 * time.Millisecond)
	confirmations := recorder.snapshot()
	if len(confirmations) != 2 {
		t.Fatalf("Expected exactly 2 callbacks, got %d", len(confirmations))
	}
	for i, c := range confirmations {
		if c.PublishingID != uint64(i+1) || c.Status != Confirmed {
			t.Errorf("Callback %d: expected id %d confirmed, got id %d %s", i, i+1, c.PublishingID, c.Status)
		}
	}
}

// TestProducerReference tests that publishing ids continue after the last stored id
func TestProducerReference(t *testing.T) {
	broker := brokertest.NewBroker()
	defer broker.Close()
	broker.CreateStream("orders")

	recorder := &confirmRecorder{}
	first, err := NewProducer(context.Background(), broker.ClientConfig(), broker.Connector(), ProducerConfig{
		Stream:    "orders",
		Reference: "order-service",
		OnConfirm: recorder.onConfirm,
	})
	if err != nil {
		t.Fatalf("Failed to create producer: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := first.Send(context.Background(), []byte("x")); err != nil {
			t.Fatalf("Failed to send: %v", err)
		}
	}
	waitFor(t, 2*time.Second, "confirmations", func() bool { return recorder.len() == 3 })
	if err := first.Close(context.Background()); err != nil {
		t.Fatalf("Failed to close producer: %v", err)
	}

	second := newProducer(t, broker, ProducerConfig{Stream: "orders", Reference: "order-service", OnConfirm: recorder.onConfirm})
	if second.LastPublishingID() != 3 {
		t.Errorf("Expected last publishing id 3, got %d", second.LastPublishingID())
	}
	if second.NextPublishingID() != 4 {
		t.Errorf("Expected next publishing id 4, got %d", second.NextPublishingID())
	}
}

// TestProducerCompressed tests sub-entry batches with every codec
func TestProducerCompressed(t *testing.T) {
	codecs := []protocol.CompressionType{
		protocol.CompressionNone,
		protocol.CompressionGzip,
		protocol.CompressionSnappy,
		protocol.CompressionLz4,
		protocol.CompressionZstd,
	}

	for _, codec := range codecs {
		t.Run(codec.String(), func(t *testing.T) {
			broker := brokertest.NewBroker()
			defer broker.Close()
			broker.CreateStream("logs")

			recorder := &confirmRecorder{}
			producer := newProducer(t, broker, ProducerConfig{Stream: "logs", OnConfirm: recorder.onConfirm})

			records := [][]byte{[]byte("first line"), []byte("second line"), []byte("third line")}
			id, err := producer.SendCompressed(context.Background(), records, codec)
			if err != nil {
				t.Fatalf("Failed to send compressed batch: %v", err)
			}

			waitFor(t, 2*time.Second, "confirmation", func() bool { return recorder.len() == 1 })
			c := recorder.snapshot()[0]
			if c.PublishingID != id || c.Status != Confirmed {
				t.Errorf("Unexpected confirmation %+v", c)
			}
			if !reflect.DeepEqual(c.Messages, records) {
				t.Errorf("Expected confirmation to carry the records, got %q", c.Messages)
			}
			if got := broker.Entries("logs"); !reflect.DeepEqual(got, records) {
				t.Errorf("Expected stored records %q, got %q", records, got)
			}
		})
	}
}

// TestProducerReconnectExhausted tests the terminal state after the strategy gave up
func TestProducerReconnectExhausted(t *testing.T) {
	broker := brokertest.NewBroker()
	defer broker.Close()
	broker.CreateStream("orders")

	closedErrs := make(chan error, 2)
	producer := newProducer(t, broker, ProducerConfig{
		Stream:    "orders",
		OnConfirm: func(Confirmation) {},
		OnClosed:  func(err error) { closedErrs <- err },
		Strategy:  MaxAttempts{Strategy: FixedDelay{Delay: 5 * time.Millisecond}, Max: 2},
	})

	broker.SetRefuseConnections(true)
	broker.KillConnections()

	select {
	case err := <-closedErrs:
		if !errors.Is(err, ErrReconnectExhausted) {
			t.Errorf("Expected ErrReconnectExhausted, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for the producer to give up")
	}

	if !errors.Is(producer.Err(), ErrReconnectExhausted) {
		t.Errorf("Expected Err to return ErrReconnectExhausted, got %v", producer.Err())
	}
	if _, err := producer.Send(context.Background(), []byte("x")); !errors.Is(err, ErrProducerClosed) {
		t.Errorf("Expected ErrProducerClosed, got %v", err)
	}
	if err := producer.Close(context.Background()); err != nil {
		t.Errorf("Expected close after termination to return nil, got %v", err)
	}
	select {
	case err := <-closedErrs:
		t.Errorf("Closed handler called twice (second error %v)", err)
	default:
	}
}

// TestProducerClose tests closing, closing twice and sending after close
func TestProducerClose(t *testing.T) {
	broker := brokertest.NewBroker()
	defer broker.Close()
	broker.CreateStream("orders")
	broker.SetConfirmPublishes(false)

	recorder := &confirmRecorder{}
	var closedCalls []error
	var mu sync.Mutex
	producer := newProducer(t, broker, ProducerConfig{
		Stream:    "orders",
		OnConfirm: recorder.onConfirm,
		OnClosed: func(err error) {
			mu.Lock()
			closedCalls = append(closedCalls, err)
			mu.Unlock()
		},
	})

	if _, err := producer.Send(context.Background(), []byte("pending")); err != nil {
		t.Fatalf("Failed to send: %v", err)
	}

	if err := producer.Close(context.Background()); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}
	if err := producer.Close(context.Background()); err != nil {
		t.Errorf("Expected second close to return nil, got %v", err)
	}

	mu.Lock()
	if !reflect.DeepEqual(closedCalls, []error{nil}) {
		t.Errorf("Expected one closed call with nil, got %v", closedCalls)
	}
	mu.Unlock()

	if got := recorder.snapshot(); len(got) != 1 || got[0].Status != Unconfirmed {
		t.Errorf("Expected the pending entry to be reported unconfirmed, got %+v", got)
	}
	if _, err := producer.Send(context.Background(), []byte("late")); !errors.Is(err, ErrProducerClosed) {
		t.Errorf("Expected ErrProducerClosed, got %v", err)
	}
}

// TestProducerMetadataUpdate tests that a deleted stream makes the producer reconnect
func TestProducerMetadataUpdate(t *testing.T) {
	broker := brokertest.NewBroker()
	defer broker.Close()
	broker.CreateStream("orders")

	recorder := &confirmRecorder{}
	producer := newProducer(t, broker, ProducerConfig{Stream: "orders", OnConfirm: recorder.onConfirm})

	broker.DeleteStream("orders")
	waitFor(t, 2*time.Second, "reconnect attempt", func() bool { return broker.Connects() >= 2 })
	broker.CreateStream("orders")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := producer.Send(ctx, []byte("again")); err != nil {
		t.Fatalf("Failed to send after stream was recreated: %v", err)
	}
	waitFor(t, 2*time.Second, "confirmation", func() bool { return recorder.len() == 1 })
	if c := recorder.snapshot()[0]; c.Status != Confirmed {
		t.Errorf("Expected confirmed, got %+v", c)
	}
}

// TestProducerRequiresHandler tests the configuration check
func TestProducerRequiresHandler(t *testing.T) {
	if _, err := NewProducer(context.Background(), common.DefaultClientConfig(), nil, ProducerConfig{Stream: "orders"}); err == nil {
		t.Error("Expected error without confirm handler")
	}
}
