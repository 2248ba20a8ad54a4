// Package testing provides an in-memory broker for tests of the client and the
// reliable producers and consumers.
//
// The broker speaks the stream protocol over net.Pipe connections handed out by
// Broker.Connector, so no network is needed. It keeps streams in memory, stores
// every publish frame as a chunk and delivers chunks to subscriptions as long as
// they have credit. Failures can be injected:
//
//   - KillConnections drops every connection without a close handshake
//   - CloseConnections makes the broker request a close
//   - DeleteStream notifies publishers and subscribers with a metadata update
//   - SetConfirmPublishes(false) withholds publish confirms
//   - SetSilent(true) leaves every request except close unanswered
//   - SetCorruptChunks(true) sends chunks with an invalid checksum
//   - SetRefuseConnections(true) fails every dial
//
// Example usage:
//
//	func TestSomething(t *testing.T) {
//	    broker := brokertest.NewBroker()
//	    defer broker.Close()
//
//	    conn, err := client.Connect(ctx, broker.ClientConfig(), broker.Connector())
//	    ...
//	}
package testing
