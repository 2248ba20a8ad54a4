package transport

import (
	"context"
	"github.com/ValentinKolb/dStream/rpc/common"
	"github.com/lni/dragonboat/v4/logger"
	"net"
	"time"
)

var Logger = logger.GetLogger(common.LoggerTransport)

// Dial connects to the endpoint with the given network and applies the dial timeout of the config
func Dial(ctx context.Context, network, endpoint string, config common.TransportConfig) (net.Conn, error) {
	dialer := net.Dialer{}
	if config.DialTimeoutSecond > 0 {
		dialer.Timeout = time.Duration(config.DialTimeoutSecond) * time.Second
	}
	conn, err := dialer.DialContext(ctx, network, endpoint)
	if err != nil {
		return nil, err
	}
	Logger.Debugf("Dialed %s endpoint %s", network, endpoint)
	return conn, nil
}
