package reliable

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/dStream/rpc/client"
	"github.com/ValentinKolb/dStream/rpc/common"
	"github.com/ValentinKolb/dStream/rpc/transport"
	vm "github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"time"
)

var Logger = logger.GetLogger(common.LoggerReliable)

var (
	// ErrReconnectExhausted is the terminal error once the reconnect strategy gave up
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

	// ErrProducerClosed is returned by operations on a closed producer
	ErrProducerClosed = errors.New("producer closed")

	// ErrConsumerClosed is returned by operations on a closed consumer
	ErrConsumerClosed = errors.New("consumer closed")
)

// ClosedHandler is called once when a producer or consumer terminates. err is nil
// after an explicit Close and wraps ErrReconnectExhausted when the strategy gave up.
type ClosedHandler func(err error)

var (
	producerReconnects = vm.NewCounter(`dstream_reconnects_total{role="producer"}`)
	consumerReconnects = vm.NewCounter(`dstream_reconnects_total{role="consumer"}`)
)

// --------------------------------------------------------------------------
// Session helper
// --------------------------------------------------------------------------

// dial opens a connection, trying the endpoints in an order derived from the stream name
func dial(ctx context.Context, config common.ClientConfig, connector transport.IClientConnector, stream string) (*client.Connection, error) {
	config.Transport.Endpoints = client.EndpointOrder(config.Transport.Endpoints, stream)
	return client.Connect(ctx, config, connector)
}

// reconnect calls attempt until it succeeds, the strategy gives up or ctx is done.
// cause is the reason of the disconnect.
func reconnect(ctx context.Context, strategy IReconnectStrategy, name string, cause error, attempt func(context.Context) error) error {
	info := DisconnectInfo{Attempt: 1, Err: cause, Since: time.Now()}
	for {
		if !strategy.WhenDisconnected(ctx, info) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %s gave up after %d attempts: %v", ErrReconnectExhausted, name, info.Attempt-1, info.Err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		Logger.Infof("Reconnecting %s (attempt %d)", name, info.Attempt)
		err := attempt(ctx)
		if err == nil {
			strategy.WhenConnected()
			Logger.Infof("Reconnected %s after %d attempts (%s)", name, info.Attempt, time.Since(info.Since).Round(time.Millisecond))
			return nil
		}

		Logger.Warningf("Reconnect attempt %d of %s failed: %v", info.Attempt, name, err)
		info.Attempt++
		info.Err = err
	}
}
