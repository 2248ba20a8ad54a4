package reliable

import (
	"context"
	"time"
)

// DisconnectInfo describes the state of a producer or consumer waiting to reconnect
type DisconnectInfo struct {
	// Attempt is the number of the upcoming reconnect attempt, starting at 1 after each disconnect
	Attempt int

	// Err is the reason of the disconnect, or the error of the previous failed attempt
	Err error

	// Since is the time the connection was lost
	Since time.Time
}

// IReconnectStrategy decides whether and when a disconnected producer or consumer
// tries to reconnect.
type IReconnectStrategy interface {
	// WhenDisconnected is called before every reconnect attempt. It may block to delay the
	// attempt and returns false to give up. It must return promptly once ctx is done.
	WhenDisconnected(ctx context.Context, info DisconnectInfo) bool

	// WhenConnected is called after a successful (re)connect.
	WhenConnected()
}
