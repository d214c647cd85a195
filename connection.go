package stomp

import (
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/golang-io/stomp/frame"
)

// A Connection is one stateful STOMP session: it owns the transport to a
// single broker at a time, speaks the negotiated protocol revision, and is
// safe for concurrent use by a producer goroutine, a consumer goroutine
// and the heartbeat timers.
//
// Three mutexes guard three orthogonal resources. The transmit mutex makes
// one outbound frame (or heartbeat byte) atomic on the wire. The read
// mutex covers the assembly of one inbound frame. The socket mutex covers
// only the swap of the transport handle during open, close and reconnect.
// Acquisition order when more than one is needed: socket, transmit, read.
type Connection struct {
	opts Options
	log  *logrus.Entry

	socketMu   sync.Mutex
	transmitMu sync.Mutex
	readMu     sync.Mutex

	// reconnectMu makes recovery single-flight: the read path, the send
	// path and the heartbeat monitor can all detect a dead link.
	reconnectMu sync.Mutex

	rwc    net.Conn
	writer *frame.Writer
	reader *frame.Reader

	hosts    *hostPool
	subs     *subscriptionList
	receipts *receipts
	hb       *heartBeater

	protocol          frame.Protocol
	sessionID         string
	connectFrame      *frame.Frame
	disconnectReceipt *frame.Frame

	hbSendInterval time.Duration
	hbRecvInterval time.Duration
	hbSendCount    atomic.Int64
	hbRecvCount    atomic.Int64
	hbSent         atomic.Bool
	hbReceived     atomic.Bool
	hbLapsed       atomic.Bool

	lastRead     atomic.Int64 // unix nanos of the last inbound byte
	lastWrite    atomic.Int64 // unix nanos of the last outbound byte
	attempts     atomic.Int64
	generation   atomic.Int64
	closed       atomic.Bool
	reconnecting atomic.Bool
	failure      atomic.Pointer[error]
}

// New creates an unconnected Connection. Call Connect to open the link.
func New(opts ...Option) (*Connection, error) {
	o := newOptions(opts...)
	if len(o.Hosts) == 0 {
		return nil, errors.New("stomp: at least one host is required")
	}

	logger := o.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	c := &Connection{
		opts:     o,
		log:      logger.WithField("component", "stomp"),
		hosts:    newHostPool(o),
		subs:     newSubscriptionList(),
		receipts: newReceipts(),
		protocol: frame.V10,
	}
	c.hbSent.Store(true)
	c.hbReceived.Store(true)

	for _, spec := range o.Hosts {
		if spec.loginLooksLikeURL() {
			c.log.WithField("login", spec.Login).
				Warn("login looks like a URL; positional host parameters may be swapped")
		}
	}
	return c, nil
}

// Dial creates a Connection and connects it.
func Dial(ctx context.Context, opts ...Option) (*Connection, error) {
	c, err := New(opts...)
	if err != nil {
		return nil, err
	}
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Connect dials the first candidate host and negotiates the protocol
// revision. On a reliable connection a failed attempt walks the host list
// with backoff; otherwise the first failure is final.
func (c *Connection) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return ErrNoCurrentConnection
	}
	return c.connectLoop(ctx, false)
}

// Closed reports whether the connection has been shut down.
func (c *Connection) Closed() bool { return c.closed.Load() }

// Open reports the opposite of Closed.
func (c *Connection) Open() bool { return !c.closed.Load() }

// Protocol returns the negotiated revision, 1.0 before negotiation.
func (c *Connection) Protocol() frame.Protocol { return c.protocol }

// Session returns the broker-assigned session id, if any.
func (c *Connection) Session() string { return c.sessionID }

// ConnectionFrame returns the CONNECTED frame of the current session.
func (c *Connection) ConnectionFrame() *frame.Frame { return c.connectFrame }

// DisconnectReceipt returns the receipt frame collected by Disconnect.
func (c *Connection) DisconnectReceipt() *frame.Frame { return c.disconnectReceipt }

// HBSendInterval and HBRecvInterval return the negotiated heartbeat
// intervals; zero means the direction is off.
func (c *Connection) HBSendInterval() time.Duration { return c.hbSendInterval }
func (c *Connection) HBRecvInterval() time.Duration { return c.hbRecvInterval }

// HBSendCount and HBRecvCount count heartbeat bytes over the connection's
// lifetime, across reconnects.
func (c *Connection) HBSendCount() int64 { return c.hbSendCount.Load() }
func (c *Connection) HBRecvCount() int64 { return c.hbRecvCount.Load() }

// HBSent and HBReceived report whether the most recent heartbeat exchange
// in each direction succeeded.
func (c *Connection) HBSent() bool     { return c.hbSent.Load() }
func (c *Connection) HBReceived() bool { return c.hbReceived.Load() }

// ConnectionAttempts counts every pass of the connect loop, initial and
// reconnect, including the pass that finds the attempt budget spent.
func (c *Connection) ConnectionAttempts() int64 { return c.attempts.Load() }

// PendingReceipts lists receipt ids awaiting a RECEIPT frame.
func (c *Connection) PendingReceipts() []string { return c.receipts.Pending() }

// Subscriptions returns the tracked subscription ids in insertion order.
func (c *Connection) Subscriptions() []string {
	c.transmitMu.Lock()
	defer c.transmitMu.Unlock()
	ids := make([]string, len(c.subs.order))
	copy(ids, c.subs.order)
	return ids
}

// guard implements the closed-check precondition shared by every
// operation, and surfaces a recorded heartbeat failure when the connection
// was configured to raise those.
func (c *Connection) guard() error {
	if c.opts.ClosedCheck && c.closed.Load() {
		return ErrNoCurrentConnection
	}
	if p := c.failure.Load(); p != nil {
		return *p
	}
	return nil
}

func (c *Connection) setFailure(err error) { c.failure.Store(&err) }
func (c *Connection) clearFailure()        { c.failure.Store(nil) }

// Send transmits a SEND frame to destination. The body travels as-is; a
// content-length header is added automatically unless suppressed.
func (c *Connection) Send(destination, contentType string, body []byte, headers ...string) error {
	if err := c.guard(); err != nil {
		return err
	}
	h := frame.NewHeader(headers...)
	h.Set(frame.Destination, destination)
	if contentType != "" {
		h.Set(frame.ContentType, contentType)
	}
	return c.transmit(&frame.Frame{Command: frame.SEND, Header: h, Body: body})
}

// Subscribe registers a consumer flow. STOMP 1.1+ requires a subscription
// id, either through the id parameter or an id header. On a reliable
// connection the subscription is recorded for replay after reconnect, and
// a second subscribe with the same id is refused.
func (c *Connection) Subscribe(destination, id string, headers ...string) error {
	if err := c.guard(); err != nil {
		return err
	}
	h := frame.NewHeader(headers...)
	h.Set(frame.Destination, destination)
	if id != "" {
		h.Set(frame.Id, id)
	}
	sid := h.Get(frame.Id)
	if sid == "" && c.protocol.AtLeast(frame.V11) {
		return ErrSubscriptionRequired
	}

	f := &frame.Frame{Command: frame.SUBSCRIBE, Header: h}
	c.checkV10Headers(f)

	c.transmitMu.Lock()
	if c.opts.Reliable && sid != "" && c.subs.contains(sid) {
		c.transmitMu.Unlock()
		return ErrDuplicateSubscription
	}
	err := c.writeFrame(f)
	if err == nil && c.opts.Reliable && sid != "" {
		c.subs.add(sid, h.Clone())
	}
	c.transmitMu.Unlock()

	if err = c.afterTransmit(err); err != nil {
		return err
	}
	c.notify(func(l Listener) { l.OnSubscribe(destination, h) })
	return nil
}

// Unsubscribe tears down a consumer flow and forgets its replay record.
// On STOMP 1.0, where subscriptions have no mandatory id, the id parameter
// is used as the destination unless a destination header is supplied.
func (c *Connection) Unsubscribe(id string, headers ...string) error {
	if err := c.guard(); err != nil {
		return err
	}
	h := frame.NewHeader(headers...)
	if c.protocol.AtLeast(frame.V11) {
		h.Set(frame.Id, id)
	} else if _, ok := h.Contains(frame.Destination); !ok {
		h.Set(frame.Destination, id)
	}

	f := &frame.Frame{Command: frame.UNSUBSCRIBE, Header: h}
	c.checkV10Headers(f)

	c.transmitMu.Lock()
	err := c.writeFrame(f)
	if err == nil {
		c.subs.remove(id)
	}
	c.transmitMu.Unlock()

	if err = c.afterTransmit(err); err != nil {
		return err
	}
	c.notify(func(l Listener) { l.OnUnsubscribe(id) })
	return nil
}

// Ack acknowledges a consumed message. The header shape depends on the
// revision: 1.0 and 1.1 send message-id (1.1 additionally requires a
// subscription header), 1.2 sends the ack id in the id header.
func (c *Connection) Ack(messageID string, headers ...string) error {
	return c.ackNack(frame.ACK, messageID, headers)
}

// Nack rejects a consumed message. Unsupported on STOMP 1.0.
func (c *Connection) Nack(messageID string, headers ...string) error {
	if !c.protocol.AtLeast(frame.V11) {
		return ErrUnsupportedProtocol
	}
	return c.ackNack(frame.NACK, messageID, headers)
}

func (c *Connection) ackNack(command, messageID string, headers []string) error {
	if err := c.guard(); err != nil {
		return err
	}
	h := frame.NewHeader(headers...)
	switch {
	case c.protocol.AtLeast(frame.V12):
		if messageID != "" {
			h.Set(frame.Id, messageID)
		}
		if h.Get(frame.Id) == "" {
			return ErrMessageIDRequired
		}
	case c.protocol.AtLeast(frame.V11):
		if messageID != "" {
			h.Set(frame.MessageId, messageID)
		}
		if h.Get(frame.MessageId) == "" {
			return ErrMessageIDRequired
		}
		if h.Get(frame.Subscription) == "" {
			return ErrSubscriptionRequired
		}
	default:
		if messageID != "" {
			h.Set(frame.MessageId, messageID)
		}
		if h.Get(frame.MessageId) == "" {
			return ErrMessageIDRequired
		}
	}
	return c.transmit(&frame.Frame{Command: command, Header: h})
}

// Begin opens a broker transaction.
func (c *Connection) Begin(transaction string, headers ...string) error {
	return c.txFrame(frame.BEGIN, transaction, headers)
}

// Commit commits a broker transaction.
func (c *Connection) Commit(transaction string, headers ...string) error {
	return c.txFrame(frame.COMMIT, transaction, headers)
}

// Abort rolls back a broker transaction.
func (c *Connection) Abort(transaction string, headers ...string) error {
	return c.txFrame(frame.ABORT, transaction, headers)
}

func (c *Connection) txFrame(command, transaction string, headers []string) error {
	if err := c.guard(); err != nil {
		return err
	}
	h := frame.NewHeader(headers...)
	h.Set(frame.Transaction, transaction)
	return c.transmit(&frame.Frame{Command: command, Header: h})
}

// Disconnect shuts the session down: heartbeat timers first, then the
// DISCONNECT frame, then — when a receipt header was supplied — one more
// inbound frame as the disconnect receipt, then the transport.
func (c *Connection) Disconnect(headers ...string) error {
	if err := c.guard(); err != nil {
		return err
	}
	c.stopHeartBeat()

	f := frame.New(frame.DISCONNECT, headers...)
	c.transmitMu.Lock()
	err := c.writeFrame(f)
	c.transmitMu.Unlock()
	if err != nil {
		c.log.WithError(err).Warn("disconnect frame not delivered")
	} else if _, ok := f.Header.Contains(frame.Receipt); ok {
		receipt, rerr := c.readFrame()
		if rerr != nil {
			c.log.WithError(rerr).Warn("no disconnect receipt")
		} else {
			c.disconnectReceipt = receipt
			if id := receipt.Header.Get(frame.ReceiptId); id != "" {
				c.receipts.Resolve(id)
			}
		}
	}

	host := c.hosts.current()
	c.closed.Store(true)
	c.closeSocket()
	c.notify(func(l Listener) { l.OnDisconnect(host) })
	return nil
}

// Receive blocks until one frame arrives. Heartbeat bytes are consumed
// internally and never returned. On EOF a reliable connection logs a
// reset, reconnects (replaying its subscriptions) and retries the read
// exactly once; otherwise the connection closes with ErrConnectionClosed.
func (c *Connection) Receive() (*frame.Frame, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	if c.hbLapsed.Swap(false) && !c.opts.Reliable {
		return nil, ErrHeartBeatRecv
	}

	f, err := c.readFrame()
	if isEOF(err) {
		if c.opts.Reliable && !c.closed.Load() {
			c.log.Warn("connection reset while reading, reconnecting")
			if rerr := c.reconnect(); rerr != nil {
				return nil, rerr
			}
			// Retry once. A second EOF within the same call is final.
			f, err = c.readFrame()
		} else {
			c.shutdown()
			return nil, ErrConnectionClosed
		}
	}
	if err != nil {
		return nil, c.failTransport("read", err)
	}

	if f.Command == frame.RECEIPT {
		if id := f.Header.Get(frame.ReceiptId); id != "" {
			c.receipts.Resolve(id)
		}
	}
	c.notify(func(l Listener) { l.OnReceive(f) })
	return f, nil
}

// Poll is the non-blocking variant of Receive: it waits at most a
// millisecond for inbound bytes and returns (nil, nil) when none arrive.
func (c *Connection) Poll() (*frame.Frame, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}

	c.socketMu.Lock()
	rwc, reader := c.rwc, c.reader
	c.socketMu.Unlock()
	if reader == nil {
		return nil, ErrNoCurrentConnection
	}

	if reader.Buffered() == 0 {
		c.readMu.Lock()
		// A deadline already in the past fails the read before pending
		// bytes are taken, so the probe gets a short window instead.
		_ = rwc.SetReadDeadline(time.Now().Add(time.Millisecond))
		_, err := reader.Peek(1)
		_ = rwc.SetReadDeadline(time.Time{})
		c.readMu.Unlock()

		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, nil
		}
	}
	return c.Receive()
}

// transmit serializes and writes one frame under the transmit mutex.
func (c *Connection) transmit(f *frame.Frame) error {
	c.checkV10Headers(f)
	c.transmitMu.Lock()
	err := c.writeFrame(f)
	c.transmitMu.Unlock()
	return c.afterTransmit(err)
}

// writeFrame requires the transmit mutex to be held.
func (c *Connection) writeFrame(f *frame.Frame) error {
	if c.writer == nil {
		return ErrNoCurrentConnection
	}
	c.notify(func(l Listener) { l.OnSend(f) })
	if err := c.writer.Write(f); err != nil {
		if errors.Is(err, frame.ErrProtocolError) || errors.Is(err, frame.ErrMalformedFrame) {
			return err
		}
		return &TransportError{Op: "write", Err: err}
	}
	stat.FrameSent.Inc()
	if id, ok := f.Header.Contains(frame.Receipt); ok {
		c.receipts.Put(id, f)
	}
	if c.opts.AutoFlush {
		if fl, ok := c.rwc.(flusher); ok {
			_ = fl.Flush()
		}
	}
	return nil
}

// afterTransmit classifies a write failure. A dead transport on a reliable
// connection starts recovery in the background and re-raises, so the
// caller can re-drive its protocol once the link is back; otherwise the
// connection closes.
func (c *Connection) afterTransmit(err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		if c.opts.Reliable && !c.closed.Load() {
			c.log.WithError(err).Warn("transmit failed, reconnecting in background")
			c.reconnectAsync()
		} else {
			c.shutdown()
		}
	}
	return err
}

// readFrame assembles one frame under the read mutex, consuming heartbeat
// bytes along the way. The parse timeout bounds frame assembly whenever
// partial data is already buffered.
func (c *Connection) readFrame() (*frame.Frame, error) {
	for {
		c.socketMu.Lock()
		rwc, reader := c.rwc, c.reader
		c.socketMu.Unlock()
		if reader == nil {
			return nil, ErrNoCurrentConnection
		}

		c.readMu.Lock()
		if c.opts.ParseTimeout > 0 && reader.Buffered() > 0 {
			_ = rwc.SetReadDeadline(time.Now().Add(c.opts.ParseTimeout))
		} else {
			_ = rwc.SetReadDeadline(time.Time{})
		}
		f, err := reader.Read()
		c.readMu.Unlock()

		if err != nil {
			return nil, err
		}
		if f == nil {
			c.hbReceived.Store(true)
			c.hbRecvCount.Add(1)
			stat.HeartBeatReceived.Inc()
			continue
		}
		stat.FrameReceived.Inc()
		return f, nil
	}
}

// failTransport applies the propagation policy to a read failure: codec
// errors pass through untouched, transport errors close a non-reliable
// connection.
func (c *Connection) failTransport(op string, err error) error {
	if errors.Is(err, frame.ErrMalformedFrame) || errors.Is(err, frame.ErrProtocolError) {
		return err
	}
	if errors.Is(err, ErrNoCurrentConnection) {
		return err
	}
	if !c.opts.Reliable {
		c.shutdown()
	}
	return &TransportError{Op: op, Err: err}
}

// connectLoop drives connect attempts. For reconnects the host advances
// before the first attempt and every attempt sleeps the current backoff;
// the initial connect starts with the head of the list immediately.
func (c *Connection) connectLoop(ctx context.Context, reconnect bool) error {
	tries := 0
	for {
		if c.closed.Load() {
			return ErrNoCurrentConnection
		}
		tries++
		c.attempts.Add(1)
		if max := c.opts.MaxReconnectAttempts; max > 0 && tries > max {
			c.shutdown()
			return ErrMaxReconnectAttempts
		}

		spec := c.hosts.current()
		if reconnect || tries > 1 {
			spec = c.hosts.next()
			time.Sleep(c.hosts.sleepTime())
		}

		stat.ConnectionAttempts.Inc()
		c.notify(func(l Listener) { l.OnConnecting(spec) })

		err := c.connectOnce(ctx, spec)
		if err == nil {
			c.hosts.reset()
			c.clearFailure()
			c.generation.Add(1)
			if reconnect {
				stat.Reconnects.Inc()
			}
			return nil
		}

		c.log.WithError(err).WithField("host", spec.Addr()).Warn("connect attempt failed")
		c.notify(func(l Listener) { l.OnConnectFail(err) })
		if !c.opts.Reliable {
			c.shutdown()
			return err
		}
	}
}

// connectOnce opens the transport to one host, negotiates, replays any
// recorded subscriptions, and restarts the heartbeat timers. Replay
// happens under the transmit mutex, so no user frame can slip onto the new
// transport ahead of the SUBSCRIBE frames.
func (c *Connection) connectOnce(ctx context.Context, spec HostSpec) error {
	conn, err := c.dial(ctx, spec)
	if err != nil {
		return &TransportError{Op: "dial", Err: err}
	}

	mc := &meteredConn{Conn: conn, c: c}
	c.socketMu.Lock()
	c.rwc = mc
	c.transmitMu.Lock()
	c.writer = frame.NewWriter(mc, frame.V10)
	c.transmitMu.Unlock()
	c.readMu.Lock()
	c.reader = frame.NewReader(mc, frame.V10)
	c.readMu.Unlock()
	c.socketMu.Unlock()

	now := time.Now().UnixNano()
	c.lastRead.Store(now)
	c.lastWrite.Store(now)
	stat.ActiveConnections.Inc()

	if err := c.negotiate(spec); err != nil {
		c.closeSocket()
		return err
	}
	if err := c.replaySubscriptions(); err != nil {
		c.closeSocket()
		return err
	}
	c.startHeartBeat()
	return nil
}

// negotiate performs the CONNECT / CONNECTED exchange on a fresh
// transport.
func (c *Connection) negotiate(spec HostSpec) error {
	req := c.buildConnect(spec)

	c.transmitMu.Lock()
	err := c.writeFrame(req)
	c.transmitMu.Unlock()
	if err != nil {
		return err
	}

	reply, err := c.readFrame()
	if err != nil {
		return &TransportError{Op: "connect read", Err: err}
	}
	switch reply.Command {
	case frame.CONNECTED:
	case frame.ERROR:
		return &BrokerError{Frame: reply}
	default:
		return errors.Errorf("stomp: unexpected %s frame during negotiation", reply.Command)
	}
	if err := c.applyConnected(reply); err != nil {
		return err
	}
	c.notify(func(l Listener) { l.OnConnected(c.sessionID) })
	return nil
}

// replaySubscriptions re-transmits every recorded subscription with its
// original headers, in insertion order.
func (c *Connection) replaySubscriptions() error {
	c.transmitMu.Lock()
	defer c.transmitMu.Unlock()
	return c.subs.each(func(id string, h *frame.Header) error {
		c.log.WithField("id", id).Debug("replaying subscription")
		if err := c.writer.Write(&frame.Frame{Command: frame.SUBSCRIBE, Header: h.Clone()}); err != nil {
			return &TransportError{Op: "replay", Err: err}
		}
		stat.FrameSent.Inc()
		return nil
	})
}

// reconnect tears down the current transport and runs the reconnect loop.
// Single-flight: concurrent detectors of the same failure wait here, and
// whoever arrives after recovery finds a fresh generation and returns
// immediately.
func (c *Connection) reconnect() error {
	gen := c.generation.Load()
	c.reconnectMu.Lock()
	defer c.reconnectMu.Unlock()
	if c.closed.Load() {
		return ErrNoCurrentConnection
	}
	if c.generation.Load() != gen {
		return nil
	}

	c.stopHeartBeat()
	c.closeSocket()
	return c.connectLoop(context.Background(), true)
}

// reconnectAsync starts recovery in the background, at most once at a
// time.
func (c *Connection) reconnectAsync() {
	if !c.reconnecting.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer c.reconnecting.Store(false)
		if err := c.reconnect(); err != nil {
			c.log.WithError(err).Error("background reconnect failed")
		}
	}()
}

func (c *Connection) startHeartBeat() {
	if !c.protocol.AtLeast(frame.V11) {
		return
	}
	if c.hbSendInterval == 0 && c.hbRecvInterval == 0 {
		return
	}
	c.hb = newHeartBeater(c, c.hbSendInterval, c.hbRecvInterval)
	c.hb.start()
}

func (c *Connection) stopHeartBeat() {
	if c.hb != nil {
		c.hb.stop()
		c.hb = nil
	}
}

// closeSocket closes and detaches the transport. The handle is closed
// before the codec pointers are cleared so that a reader blocked on the
// old socket wakes up and releases the read mutex.
func (c *Connection) closeSocket() {
	c.socketMu.Lock()
	defer c.socketMu.Unlock()
	if c.rwc != nil {
		_ = c.rwc.Close()
		stat.ActiveConnections.Dec()
	}
	c.rwc = nil
	c.transmitMu.Lock()
	c.writer = nil
	c.transmitMu.Unlock()
	c.readMu.Lock()
	c.reader = nil
	c.readMu.Unlock()
}

// shutdown marks the connection closed and releases its resources.
func (c *Connection) shutdown() {
	if c.closed.Swap(true) {
		return
	}
	c.stopHeartBeat()
	c.closeSocket()
}

// checkV10Headers warns about header values STOMP 1.0 cannot represent.
// The bytes still travel verbatim; the protocol leaves the result
// undefined.
func (c *Connection) checkV10Headers(f *frame.Frame) {
	if c.protocol != frame.V10 {
		return
	}
	for i := 0; i < f.Header.Len(); i++ {
		k, v := f.Header.GetAt(i)
		if strings.ContainsAny(v, ":\n") {
			c.log.WithField("header", k).
				Warn("stomp 1.0 cannot escape ':' or newline in header values; passing through verbatim")
		}
	}
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
