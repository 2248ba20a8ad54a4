package client

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/dStream/rpc/protocol"
)

var (
	// ErrConnectionLost is returned to every pending caller when the transport fails or the broker closes the connection
	ErrConnectionLost = errors.New("connection lost")

	// ErrConnectionClosed is returned for operations on a connection that was closed by the client
	ErrConnectionClosed = errors.New("connection closed")

	// ErrRequestTimeout is returned when a request does not receive its response within the configured timeout
	ErrRequestTimeout = errors.New("request timeout")

	// ErrNoEndpoints is returned by Connect when the configuration lists no endpoint
	ErrNoEndpoints = errors.New("no endpoints provided")

	// ErrIdsExhausted is returned when no correlation, publisher or subscription id is free
	ErrIdsExhausted = errors.New("no free id available")
)

// ResponseError is returned when the broker answers a request with a code other than ok
type ResponseError struct {
	Op   string
	Code protocol.ResponseCode
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Op, e.Code)
}

// IsResponseCode reports whether err is a ResponseError carrying the given code
func IsResponseCode(err error, code protocol.ResponseCode) bool {
	var respErr *ResponseError
	return errors.As(err, &respErr) && respErr.Code == code
}

// checkResponse converts the result of a request into an error if the request failed
// or the broker did not answer with ok
func checkResponse(op string, resp protocol.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if resp.GetResponseCode() != protocol.ResponseCodeOk {
		return &ResponseError{Op: op, Code: resp.GetResponseCode()}
	}
	return nil
}

// expectResponse asserts the concrete type of a response
func expectResponse[T protocol.Response](op string, resp protocol.Response) (T, error) {
	typed, ok := resp.(T)
	if !ok {
		return typed, fmt.Errorf("%s: unexpected response %T", op, resp)
	}
	return typed, nil
}
