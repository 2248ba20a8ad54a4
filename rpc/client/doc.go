// Package client implements a connection to a stream broker speaking the binary
// stream protocol. A Connection owns one transport session and multiplexes
// request/response exchanges, subscriptions and publishers over it.
//
// The package focuses on:
//   - The connection lifecycle (handshake, heartbeats, graceful close)
//   - Correlating requests with their responses
//   - Routing chunks, confirms and metadata updates to their owners
//
// Key Components:
//
//   - Connect: dials the configured endpoints in order and performs the handshake
//     (peer properties, SASL PLAIN, tune negotiation, open).
//
//   - Connection.Subscribe: starts a credit based subscription. Every chunk is handed
//     to the subscription's handler on a goroutine owned by the subscription, after
//     which one credit is returned to the broker.
//
//   - Connection.DeclarePublisher: declares a publisher whose confirms and errors are
//     delivered to its callbacks in wire order.
//
// Usage Example:
//
//	config := common.DefaultClientConfig()
//	conn, err := client.Connect(ctx, config, tcp.NewTCPConnector(config.Transport))
//	if err != nil {
//	    return err
//	}
//	defer conn.Close(ctx)
//
//	sub, err := conn.Subscribe(ctx, client.SubscriptionConfig{
//	    Stream: "orders",
//	    Offset: protocol.OffsetFirst(),
//	    OnChunk: func(chunk protocol.Chunk) {
//	        messages, _ := chunk.Messages()
//	        for _, m := range messages {
//	            fmt.Println(m.Offset, string(m.Data))
//	        }
//	    },
//	})
//
// Thread Safety:
//
//	A Connection is safe for concurrent use. Callbacks never run on the read loop,
//	so a slow handler delays only its own subscription or publisher.
//
// A Connection is never reused after it terminated. Reconnection is implemented by
// the reliable package on top of this one.
package client
