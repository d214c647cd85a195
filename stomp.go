// Package stomp implements the client side of the STOMP messaging
// protocol, revisions 1.0, 1.1 and 1.2. The central type is Connection: a
// long-lived, concurrency-safe object that owns one transport to a broker,
// negotiates the protocol revision, exchanges frames, keeps the link alive
// with heartbeats, and (in reliable mode) transparently reconnects and
// replays its subscriptions.
package stomp

// Ack modes a subscription can request through the ack header.
const (
	AckAuto             = "auto"
	AckClient           = "client"
	AckClientIndividual = "client-individual"
)

// Default broker ports.
const (
	DefaultPortTCP = 61613
	DefaultPortTLS = 61612
)

// retryCountHeader tracks how many times a message has been resubmitted by
// the unreceive helper. originalDestinationHeader records where a message
// lived before it was moved to the dead letter queue.
const (
	retryCountHeader          = "retry_count"
	originalDestinationHeader = "original_destination"
	persistentHeader          = "persistent"
)

// clientModeHeader is the vendor header injected into CONNECT when the
// developer-mode option is on.
const clientModeHeader = "x-client-mode"
