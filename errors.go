package stomp

import (
	"errors"
	"fmt"

	"github.com/golang-io/stomp/frame"
)

// Precondition and lifecycle errors. These are raised synchronously,
// before anything reaches the wire.
var (
	// ErrNoCurrentConnection means an operation was attempted on a closed
	// connection while the closed-check option is on.
	ErrNoCurrentConnection = errors.New("stomp: no current connection")

	// ErrMessageIDRequired means ACK or NACK was called without a message
	// id.
	ErrMessageIDRequired = errors.New("stomp: message id required")

	// ErrSubscriptionRequired means a 1.1+ SUBSCRIBE lacked an id, or a
	// 1.1 ACK/NACK lacked the subscription header.
	ErrSubscriptionRequired = errors.New("stomp: subscription id required")

	// ErrDuplicateSubscription means a reliable connection already tracks
	// a subscription with the same id.
	ErrDuplicateSubscription = errors.New("stomp: duplicate subscription")

	// ErrUnsupportedProtocol means the operation is not available at the
	// negotiated revision, e.g. NACK on STOMP 1.0.
	ErrUnsupportedProtocol = errors.New("stomp: operation unsupported by negotiated protocol")

	// ErrConnectionClosed means the peer closed the stream and no
	// recovery is configured.
	ErrConnectionClosed = errors.New("stomp: connection closed")

	// ErrMaxReconnectAttempts means the reconnect loop exhausted its
	// attempt budget.
	ErrMaxReconnectAttempts = errors.New("stomp: max reconnect attempts reached")

	// ErrHeartBeatSend is surfaced when a heartbeat could not be written
	// and the connection was configured to raise on that.
	ErrHeartBeatSend = errors.New("stomp: heartbeat send failed")

	// ErrHeartBeatRecv is surfaced when the broker went silent past the
	// negotiated receive window on a non-reliable connection.
	ErrHeartBeatRecv = errors.New("stomp: heartbeat read lapse")
)

// A BrokerError carries an ERROR frame sent by the broker. The frame's
// headers and body remain accessible for diagnostics.
type BrokerError struct {
	Frame *frame.Frame
}

func (e *BrokerError) Error() string {
	if msg := e.Frame.Header.Get(frame.Message); msg != "" {
		return "stomp: broker error: " + msg
	}
	return "stomp: broker error"
}

// A TransportError wraps an I/O failure on the underlying byte stream.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("stomp: transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
