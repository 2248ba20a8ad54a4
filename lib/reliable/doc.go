// Package reliable provides producers and consumers that survive the loss of their
// broker connection.
//
// A Producer or Consumer owns one client.Connection at a time. When the connection
// terminates (transport failure, broker close, or a metadata update for the stream)
// a background goroutine asks the IReconnectStrategy whether and when to try again,
// opens a new connection and restores the publisher or subscription with the same
// stream, reference and parameters.
//
// Guarantees:
//
//   - Producer: every sent entry is reported exactly once to the confirm handler as
//     Confirmed, Rejected or Unconfirmed. Entries still waiting for a confirm when the
//     connection is lost are reported as Unconfirmed in send order; they are not resent.
//
//   - Consumer: messages are delivered at least once in offset order. After a reconnect
//     the subscription resumes right after the last delivered offset.
//
// Strategies:
//
//   - BackOff: exponential backoff from a base delay, reset after a successful connect
//   - FixedDelay: constant delay
//   - MaxAttempts: gives up after N consecutive failed attempts (ErrReconnectExhausted)
//
// Usage Example:
//
//	producer, err := reliable.NewProducer(ctx, config, tcp.NewTCPConnector(config.Transport), reliable.ProducerConfig{
//	    Stream:    "orders",
//	    Reference: "order-service",
//	    OnConfirm: func(c reliable.Confirmation) {
//	        if c.Status != reliable.Confirmed {
//	            log.Printf("message %d not stored: %s", c.PublishingID, c.Status)
//	        }
//	    },
//	})
//	if err != nil {
//	    return err
//	}
//	defer producer.Close(ctx)
//
//	_, err = producer.Send(ctx, []byte("hello"))
package reliable
