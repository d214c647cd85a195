package stomp

import (
	"fmt"
	"strconv"

	"github.com/golang-io/requests"

	"github.com/golang-io/stomp/frame"
)

// A Transaction scopes SEND, ACK and NACK frames to one broker
// transaction. Obtain one through BeginTransaction; finish with Commit or
// Abort.
type Transaction struct {
	c  *Connection
	id string
}

// BeginTransaction opens a broker transaction. An empty id gets a
// generated one.
func (c *Connection) BeginTransaction(id string) (*Transaction, error) {
	if id == "" {
		id = "tx-" + requests.GenId()
	}
	if err := c.Begin(id); err != nil {
		return nil, err
	}
	return &Transaction{c: c, id: id}, nil
}

// Id returns the transaction name carried in the transaction header.
func (t *Transaction) Id() string { return t.id }

// Send publishes within the transaction.
func (t *Transaction) Send(destination, contentType string, body []byte, headers ...string) error {
	return t.c.Send(destination, contentType, body,
		append(headers, frame.Transaction, t.id)...)
}

// Ack acknowledges within the transaction.
func (t *Transaction) Ack(messageID string, headers ...string) error {
	return t.c.Ack(messageID, append(headers, frame.Transaction, t.id)...)
}

// Nack rejects within the transaction.
func (t *Transaction) Nack(messageID string, headers ...string) error {
	return t.c.Nack(messageID, append(headers, frame.Transaction, t.id)...)
}

// Commit makes the transaction's frames permanent.
func (t *Transaction) Commit() error { return t.c.Commit(t.id) }

// Abort discards the transaction's frames.
func (t *Transaction) Abort() error { return t.c.Abort(t.id) }

// UnreceiveOptions tunes the retry-or-dead-letter resubmission of a
// consumed message.
type UnreceiveOptions struct {
	DeadLetterQueue string
	MaxRedeliveries int
	ForceClientAck  bool
}

// UnreceiveOption mutates UnreceiveOptions.
type UnreceiveOption func(*UnreceiveOptions)

// DeadLetterQueue overrides the destination poisoned messages land on.
func DeadLetterQueue(destination string) UnreceiveOption {
	return func(o *UnreceiveOptions) { o.DeadLetterQueue = destination }
}

// MaxRedeliveries overrides how many resubmissions a message gets before
// it is dead-lettered.
func MaxRedeliveries(n int) UnreceiveOption {
	return func(o *UnreceiveOptions) { o.MaxRedeliveries = n }
}

// ForceClientAck acknowledges the original message inside the transaction
// even when the subscription did not use client acking.
func ForceClientAck() UnreceiveOption {
	return func(o *UnreceiveOptions) { o.ForceClientAck = true }
}

// Unreceive hands back a consumed MESSAGE frame: within one broker
// transaction the original delivery is acknowledged (when the subscription,
// as recorded by a reliable connection, uses client acking, or when forced)
// and the message is republished to
// its destination with an incremented retry count — or, once the retry
// budget is spent, to the dead letter queue tagged with its original
// destination. Any failure along the way aborts the transaction and is
// returned; the commit happens only on the full success path.
func (c *Connection) Unreceive(msg *frame.Frame, opts ...UnreceiveOption) error {
	o := UnreceiveOptions{
		DeadLetterQueue: "/queue/DLQ",
		MaxRedeliveries: 6,
	}
	for _, opt := range opts {
		opt(&o)
	}

	messageID := msg.Header.Get(frame.MessageId)
	if messageID == "" {
		return ErrMessageIDRequired
	}
	destination := msg.Header.Get(frame.Destination)

	retryCount := 0
	if v := msg.Header.Get(retryCountHeader); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			retryCount = n
		}
	}

	txID := fmt.Sprintf("transaction-%s-%d", messageID, retryCount)
	tx := &Transaction{c: c, id: txID}
	if err := c.Begin(txID); err != nil {
		return err
	}

	err := func() error {
		if o.ForceClientAck || c.subscriptionUsesClientAck(msg) {
			ackID := messageID
			var ackHeaders []string
			if c.protocol.AtLeast(frame.V12) {
				if id := msg.Header.Get(frame.Ack); id != "" {
					ackID = id
				}
			} else if c.protocol.AtLeast(frame.V11) {
				ackHeaders = append(ackHeaders,
					frame.Subscription, msg.Header.Get(frame.Subscription))
			}
			if err := tx.Ack(ackID, ackHeaders...); err != nil {
				return err
			}
		}

		retryCount++
		retry := strconv.Itoa(retryCount)
		contentType := msg.Header.Get(frame.ContentType)

		if retryCount <= o.MaxRedeliveries {
			return tx.Send(destination, contentType, msg.Body,
				retryCountHeader, retry)
		}
		return tx.Send(o.DeadLetterQueue, contentType, msg.Body,
			originalDestinationHeader, destination,
			persistentHeader, "true",
			retryCountHeader, retry)
	}()
	if err != nil {
		if aerr := tx.Abort(); aerr != nil {
			c.log.WithError(aerr).Warn("transaction abort failed")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		if aerr := tx.Abort(); aerr != nil {
			c.log.WithError(aerr).Warn("transaction abort failed")
		}
		return err
	}
	return nil
}

// subscriptionUsesClientAck checks whether the subscription the message
// arrived on was registered with client or client-individual acking. Only
// reliable connections record subscriptions; on other connections this
// reports false.
func (c *Connection) subscriptionUsesClientAck(msg *frame.Frame) bool {
	subID := msg.Header.Get(frame.Subscription)
	if subID == "" {
		return false
	}
	c.transmitMu.Lock()
	defer c.transmitMu.Unlock()
	h, ok := c.subs.get(subID)
	if !ok {
		return false
	}
	switch h.Get(frame.Ack) {
	case AckClient, AckClientIndividual:
		return true
	}
	return false
}
