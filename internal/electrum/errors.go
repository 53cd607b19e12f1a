package electrum

import (
	"errors"
	"fmt"
)

// Client errors.
var (
	// ErrNotConnected is returned when a call is attempted with no live
	// connection.
	ErrNotConnected = errors.New("not connected")

	// ErrConnectionClosed rejects every pending call when the underlying
	// connection drops.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrCallTimeout is returned when a request receives no response
	// within the call timeout.
	ErrCallTimeout = errors.New("rpc call timed out")

	// ErrAllServersFailed is the terminal failover error: every
	// configured server was tried once and none accepted a connection.
	// The client stops retrying until Connect is called again.
	ErrAllServersFailed = errors.New("all servers failed")

	// ErrInsecureScheme rejects endpoints that do not use ssl://.
	ErrInsecureScheme = errors.New("endpoint must use the ssl:// scheme")

	// ErrProtocolTooOld rejects servers that negotiate a protocol
	// version below the minimum at connect time.
	ErrProtocolTooOld = errors.New("server protocol version too old")
)

// RPCError is an explicit error object returned by the peer.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}
