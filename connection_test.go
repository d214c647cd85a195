package stomp

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/golang-io/stomp/frame"
)

func TestNewRequiresHosts(t *testing.T) {
	_, err := New()
	require.Error(t, err)
}

func TestConnectNegotiation(t *testing.T) {
	b := newTestBroker(t)
	b.connectReply = func(req *frame.Frame) *frame.Frame {
		return frame.New(frame.CONNECTED,
			frame.Version, "1.2",
			frame.Session, "S-1",
			frame.HeartBeat, "0,20000",
		)
	}

	c := testConnection(t, b,
		UseStompCommand(true),
		HeartBeat(10*time.Second, 10*time.Second),
	)

	req := b.expect(t, frame.STOMP)
	assert.Equal(t, "1.0,1.1,1.2", req.Header.Get(frame.AcceptVersion))
	assert.Equal(t, "mq", req.Header.Get(frame.Host))
	assert.Equal(t, "u", req.Header.Get(frame.Login))
	assert.Equal(t, "p", req.Header.Get(frame.Passcode))
	assert.Equal(t, "10000,10000", req.Header.Get(frame.HeartBeat))

	assert.Equal(t, frame.V12, c.Protocol())
	assert.Equal(t, "S-1", c.Session())
	assert.Equal(t, 20*time.Second, c.HBSendInterval(), "send interval is max(cx, sy)")
	assert.Zero(t, c.HBRecvInterval(), "broker does not send heartbeats (sx = 0)")
	require.NotNil(t, c.ConnectionFrame())
	assert.Equal(t, frame.CONNECTED, c.ConnectionFrame().Command)

	require.NoError(t, c.Disconnect())
}

func TestConnectDefaultsToV10(t *testing.T) {
	b := newTestBroker(t)
	b.connectReply = func(*frame.Frame) *frame.Frame {
		// No version header at all: an old broker.
		return frame.New(frame.CONNECTED, frame.Session, "old")
	}

	c := testConnection(t, b)
	b.expect(t, frame.CONNECT)
	assert.Equal(t, frame.V10, c.Protocol())
}

func TestConnectBrokerError(t *testing.T) {
	b := newTestBroker(t)
	b.connectReply = func(*frame.Frame) *frame.Frame {
		return frame.New(frame.ERROR, frame.Message, "bad credentials")
	}

	c, err := New(
		Hosts(HostSpec{Host: "mq"}),
		DialContext(b.dialFunc()),
	)
	require.NoError(t, err)

	err = c.Connect(context.Background())
	var be *BrokerError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "bad credentials", be.Frame.Header.Get(frame.Message))
	assert.True(t, c.Closed(), "non-reliable connect failure closes the connection")
}

func TestSendWireShape(t *testing.T) {
	b := newTestBroker(t)
	c := testConnection(t, b)
	b.expect(t, frame.CONNECT)

	require.NoError(t, c.Send("/queue/a", "text/plain", []byte("hi"), "priority", "4"))

	f := b.expect(t, frame.SEND)
	assert.Equal(t, "/queue/a", f.Header.Get(frame.Destination))
	assert.Equal(t, "text/plain", f.Header.Get(frame.ContentType))
	assert.Equal(t, "4", f.Header.Get("priority"))
	assert.Equal(t, []byte("hi"), f.Body)
}

func TestAckHeaderShape(t *testing.T) {
	testCases := []struct {
		name    string
		version string
		headers []string
		wantKey string
	}{
		{"V12UsesAckId", "1.2", nil, frame.Id},
		{"V11UsesMessageId", "1.1", []string{frame.Subscription, "s1"}, frame.MessageId},
		{"V10UsesMessageId", "1.0", nil, frame.MessageId},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			b := newTestBroker(t)
			b.connectReply = func(*frame.Frame) *frame.Frame {
				return frame.New(frame.CONNECTED, frame.Version, tc.version)
			}
			c := testConnection(t, b)
			b.expect(t, frame.CONNECT)

			require.NoError(t, c.Ack("a-7", tc.headers...))
			f := b.expect(t, frame.ACK)
			assert.Equal(t, "a-7", f.Header.Get(tc.wantKey))
		})
	}
}

func TestAckV11RequiresSubscription(t *testing.T) {
	b := newTestBroker(t)
	b.connectReply = func(*frame.Frame) *frame.Frame {
		return frame.New(frame.CONNECTED, frame.Version, "1.1")
	}
	c := testConnection(t, b)
	b.expect(t, frame.CONNECT)

	err := c.Ack("m-3")
	require.ErrorIs(t, err, ErrSubscriptionRequired)
	b.expectNone(t, 100*time.Millisecond)
}

func TestAckRequiresMessageID(t *testing.T) {
	b := newTestBroker(t)
	c := testConnection(t, b)
	b.expect(t, frame.CONNECT)

	require.ErrorIs(t, c.Ack(""), ErrMessageIDRequired)
	b.expectNone(t, 100*time.Millisecond)
}

func TestNackUnsupportedOnV10(t *testing.T) {
	b := newTestBroker(t)
	b.connectReply = func(*frame.Frame) *frame.Frame {
		return frame.New(frame.CONNECTED, frame.Version, "1.0")
	}
	c := testConnection(t, b)
	b.expect(t, frame.CONNECT)

	require.ErrorIs(t, c.Nack("m-1"), ErrUnsupportedProtocol)
	b.expectNone(t, 100*time.Millisecond)
}

func TestSubscribeRequiresIDOnV11Plus(t *testing.T) {
	b := newTestBroker(t)
	c := testConnection(t, b)
	b.expect(t, frame.CONNECT)

	err := c.Subscribe("/queue/a", "")
	require.ErrorIs(t, err, ErrSubscriptionRequired)
	b.expectNone(t, 100*time.Millisecond)
}

func TestDuplicateSubscription(t *testing.T) {
	b := newTestBroker(t)
	c := testConnection(t, b, Reliable(true))
	b.expect(t, frame.CONNECT)

	require.NoError(t, c.Subscribe("/queue/a", "s1"))
	b.expect(t, frame.SUBSCRIBE)

	err := c.Subscribe("/queue/a", "s1")
	require.ErrorIs(t, err, ErrDuplicateSubscription)
	b.expectNone(t, 100*time.Millisecond)

	require.NoError(t, c.Unsubscribe("s1"))
	b.expect(t, frame.UNSUBSCRIBE)
	require.NoError(t, c.Subscribe("/queue/a", "s1"), "id is free again after unsubscribe")
}

func TestBeginCommitAbort(t *testing.T) {
	b := newTestBroker(t)
	c := testConnection(t, b)
	b.expect(t, frame.CONNECT)

	require.NoError(t, c.Begin("tx1"))
	assert.Equal(t, "tx1", b.expect(t, frame.BEGIN).Header.Get(frame.Transaction))

	require.NoError(t, c.Commit("tx1"))
	assert.Equal(t, "tx1", b.expect(t, frame.COMMIT).Header.Get(frame.Transaction))

	require.NoError(t, c.Abort("tx2"))
	assert.Equal(t, "tx2", b.expect(t, frame.ABORT).Header.Get(frame.Transaction))
}

func TestReceive(t *testing.T) {
	b := newTestBroker(t)
	c := testConnection(t, b)
	b.expect(t, frame.CONNECT)

	msg := frame.New(frame.MESSAGE,
		frame.Destination, "/queue/a",
		frame.MessageId, "m-1",
		frame.Subscription, "s1",
	)
	msg.Body = []byte("payload")
	b.push(msg)

	f, err := c.Receive()
	require.NoError(t, err)
	assert.Equal(t, frame.MESSAGE, f.Command)
	assert.Equal(t, "m-1", f.Header.Get(frame.MessageId))
	assert.Equal(t, []byte("payload"), f.Body)
}

func TestPoll(t *testing.T) {
	b := newTestBroker(t)
	c := testConnection(t, b)
	b.expect(t, frame.CONNECT)

	f, err := c.Poll()
	require.NoError(t, err)
	assert.Nil(t, f, "nothing buffered, nothing readable")

	b.push(frame.New(frame.MESSAGE, frame.MessageId, "m-2"))
	deadline := time.Now().Add(2 * time.Second)
	for f == nil && time.Now().Before(deadline) {
		f, err = c.Poll()
		require.NoError(t, err)
	}
	require.NotNil(t, f)
	assert.Equal(t, "m-2", f.Header.Get(frame.MessageId))
}

func TestDisconnectWithReceipt(t *testing.T) {
	b := newTestBroker(t)
	c := testConnection(t, b)
	b.expect(t, frame.CONNECT)

	require.NoError(t, c.Disconnect(frame.Receipt, "bye-1"))
	b.expect(t, frame.DISCONNECT)

	require.NotNil(t, c.DisconnectReceipt())
	assert.Equal(t, "bye-1", c.DisconnectReceipt().Header.Get(frame.ReceiptId))
	assert.True(t, c.Closed())
	assert.False(t, c.Open())
}

func TestClosedGuard(t *testing.T) {
	b := newTestBroker(t)
	c := testConnection(t, b)
	b.expect(t, frame.CONNECT)
	require.NoError(t, c.Disconnect())

	assert.ErrorIs(t, c.Send("/queue/a", "", nil), ErrNoCurrentConnection)
	assert.ErrorIs(t, c.Subscribe("/queue/a", "s1"), ErrNoCurrentConnection)
	assert.ErrorIs(t, c.Ack("m-1"), ErrNoCurrentConnection)
	assert.ErrorIs(t, c.Begin("tx"), ErrNoCurrentConnection)
	assert.ErrorIs(t, c.Disconnect(), ErrNoCurrentConnection)
	_, err := c.Receive()
	assert.ErrorIs(t, err, ErrNoCurrentConnection)
}

func TestReceiptTracking(t *testing.T) {
	b := newTestBroker(t)
	c := testConnection(t, b)
	b.expect(t, frame.CONNECT)

	require.NoError(t, c.Send("/queue/a", "", []byte("x"), frame.Receipt, "r-1"))
	b.expect(t, frame.SEND)
	assert.Equal(t, []string{"r-1"}, c.PendingReceipts())

	b.push(frame.New(frame.RECEIPT, frame.ReceiptId, "r-1"))
	f, err := c.Receive()
	require.NoError(t, err)
	assert.Equal(t, frame.RECEIPT, f.Command)
	assert.Empty(t, c.PendingReceipts())
}

func TestReliableReconnectReplay(t *testing.T) {
	b := newTestBroker(t)
	c := testConnection(t, b, Reliable(true), ReconnectDelay(time.Millisecond, 10*time.Millisecond))
	b.expect(t, frame.CONNECT)

	require.NoError(t, c.Subscribe("/queue/a", "s1", "ack", AckClient))
	require.NoError(t, c.Subscribe("/queue/b", "s2"))
	b.expect(t, frame.SUBSCRIBE)
	b.expect(t, frame.SUBSCRIBE)
	assert.Equal(t, []string{"s1", "s2"}, c.Subscriptions())

	b.dropCurrent()

	done := make(chan struct{})
	var received *frame.Frame
	var rerr error
	go func() {
		received, rerr = c.Receive()
		close(done)
	}()

	// The reconnect performs a fresh negotiation, then replays both
	// subscriptions in insertion order before anything else.
	b.expect(t, frame.CONNECT)
	s1 := b.expect(t, frame.SUBSCRIBE)
	assert.Equal(t, "s1", s1.Header.Get(frame.Id))
	assert.Equal(t, "/queue/a", s1.Header.Get(frame.Destination))
	assert.Equal(t, AckClient, s1.Header.Get(frame.Ack))
	s2 := b.expect(t, frame.SUBSCRIBE)
	assert.Equal(t, "s2", s2.Header.Get(frame.Id))
	assert.Equal(t, "/queue/b", s2.Header.Get(frame.Destination))

	b.push(frame.New(frame.MESSAGE, frame.MessageId, "m-1"))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("receive did not resume after reconnect")
	}
	require.NoError(t, rerr)
	assert.Equal(t, "m-1", received.Header.Get(frame.MessageId))
	assert.False(t, c.Closed())
}

func TestNonReliableEOFClosesConnection(t *testing.T) {
	b := newTestBroker(t)
	c := testConnection(t, b)
	b.expect(t, frame.CONNECT)

	b.dropCurrent()
	_, err := c.Receive()
	require.ErrorIs(t, err, ErrConnectionClosed)
	assert.True(t, c.Closed())
}

func TestMaxReconnectAttempts(t *testing.T) {
	dials := 0
	failingDial := func(context.Context, string, string) (net.Conn, error) {
		dials++
		return nil, context.DeadlineExceeded
	}

	c, err := New(
		Hosts(HostSpec{Host: "mq"}),
		DialContext(failingDial),
		Reliable(true),
		MaxReconnectAttempts(3),
		ReconnectDelay(time.Millisecond, 2*time.Millisecond),
	)
	require.NoError(t, err)

	err = c.Connect(context.Background())
	require.ErrorIs(t, err, ErrMaxReconnectAttempts)
	assert.Equal(t, 3, dials)
	assert.True(t, c.Closed())
	assert.EqualValues(t, 4, c.ConnectionAttempts(), "the budget check runs on the attempt after the last dial")
}

type recordingListener struct {
	NopListener
	connected  chan string
	sent       chan string
	subscribed chan string
}

func (l *recordingListener) OnConnected(session string) { l.connected <- session }
func (l *recordingListener) OnSend(f *frame.Frame)      { l.sent <- f.Command }
func (l *recordingListener) OnSubscribe(destination string, _ *frame.Header) {
	l.subscribed <- destination
}

func TestListenerCallbacks(t *testing.T) {
	ev := &recordingListener{
		connected:  make(chan string, 1),
		sent:       make(chan string, 8),
		subscribed: make(chan string, 1),
	}
	b := newTestBroker(t)
	c := testConnection(t, b, WithListener(ev))
	b.expect(t, frame.CONNECT)

	assert.Equal(t, "test-session", <-ev.connected)
	assert.Equal(t, frame.CONNECT, <-ev.sent)

	require.NoError(t, c.Subscribe("/queue/a", "s1"))
	b.expect(t, frame.SUBSCRIBE)
	assert.Equal(t, frame.SUBSCRIBE, <-ev.sent)
	assert.Equal(t, "/queue/a", <-ev.subscribed)
}
