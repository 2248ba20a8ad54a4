package client

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/dStream/rpc/protocol"
	"slices"
	"time"
)

// saslMechanismPlain is the only SASL mechanism supported by the client
const saslMechanismPlain = "PLAIN"

// handshake negotiates the connection: peer properties, SASL PLAIN authentication,
// tuning of frame size and heartbeat, and opening the virtual host
func (c *Connection) handshake(ctx context.Context) error {
	// 1. exchange peer properties
	resp, err := c.request(ctx, protocol.PeerPropertiesRequest{Properties: c.clientProperties()})
	if err := checkResponse("peer properties", resp, err); err != nil {
		return err
	}
	peerProperties, err := expectResponse[protocol.PeerPropertiesResponse]("peer properties", resp)
	if err != nil {
		return err
	}
	c.serverProperties = peerProperties.Properties

	// 2. authenticate
	resp, err = c.request(ctx, protocol.SaslHandshakeRequest{})
	if err := checkResponse("sasl handshake", resp, err); err != nil {
		return err
	}
	mechanisms, err := expectResponse[protocol.SaslHandshakeResponse]("sasl handshake", resp)
	if err != nil {
		return err
	}
	if !slices.Contains(mechanisms.Mechanisms, saslMechanismPlain) {
		return fmt.Errorf("broker does not support sasl mechanism %s (offered: %v)", saslMechanismPlain, mechanisms.Mechanisms)
	}

	credentials := []byte("\x00" + c.config.Username + "\x00" + c.config.Password)
	resp, err = c.request(ctx, protocol.SaslAuthenticateRequest{Mechanism: saslMechanismPlain, Data: credentials})
	if err := checkResponse("sasl authenticate", resp, err); err != nil {
		return err
	}

	// 3. the broker proposes its limits after successful authentication
	var serverTune protocol.Tune
	select {
	case serverTune = <-c.tuneCh:
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
	tune := protocol.Tune{
		FrameMax:  negotiate(c.config.MaxFrameSize, serverTune.FrameMax),
		Heartbeat: negotiate(c.config.HeartbeatSecond, serverTune.Heartbeat),
	}
	if err := c.write(tune); err != nil {
		return err
	}
	c.frameMax.Store(tune.FrameMax)
	c.reader.SetMaxFrameSize(tune.FrameMax)
	c.heartbeat.Store(int64(time.Duration(tune.Heartbeat) * time.Second))

	// 4. open the virtual host
	resp, err = c.request(ctx, protocol.OpenRequest{VirtualHost: c.config.VirtualHost})
	if err := checkResponse("open", resp, err); err != nil {
		return err
	}
	opened, err := expectResponse[protocol.OpenResponse]("open", resp)
	if err != nil {
		return err
	}
	c.openProperties = opened.Properties

	return nil
}

// clientProperties returns the peer properties announced to the broker
func (c *Connection) clientProperties() map[string]string {
	return map[string]string{
		"connection_name": c.config.ConnectionName,
		"product":         "dStream",
		"platform":        "Go",
	}
}

// negotiate returns the lower of both values, ignoring zeros (0 = no limit)
func negotiate(client, server uint32) uint32 {
	switch {
	case client == 0:
		return server
	case server == 0:
		return client
	default:
		return min(client, server)
	}
}
