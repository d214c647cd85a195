package stomp

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-io/stomp/frame"
)

// testBroker is an in-process scripted peer. The connection under test
// dials it through the DialContext hook; every dial yields a fresh
// net.Pipe, so dropped transports and reconnects behave like the real
// thing. Each session answers CONNECT/STOMP with a scripted CONNECTED
// frame, answers DISCONNECT receipts, counts inbound heartbeat bytes, and
// records every frame, CONNECT and DISCONNECT included, for the test to
// assert on.
type testBroker struct {
	t *testing.T

	accepted chan net.Conn
	frames   chan *frame.Frame
	hbCount  atomic.Int64

	// connectReply overrides the CONNECTED frame; nil means a plain 1.2
	// session.
	connectReply func(req *frame.Frame) *frame.Frame

	mu    sync.Mutex
	conns []net.Conn
}

func newTestBroker(t *testing.T) *testBroker {
	b := &testBroker{
		t:        t,
		accepted: make(chan net.Conn, 8),
		frames:   make(chan *frame.Frame, 64),
	}
	go b.serve()
	t.Cleanup(b.close)
	return b
}

func (b *testBroker) dialFunc() DialFunc {
	return func(_ context.Context, _, _ string) (net.Conn, error) {
		client, server := net.Pipe()
		b.mu.Lock()
		b.conns = append(b.conns, server)
		b.mu.Unlock()
		b.accepted <- server
		return client, nil
	}
}

func (b *testBroker) serve() {
	for conn := range b.accepted {
		go b.session(conn)
	}
}

func (b *testBroker) session(conn net.Conn) {
	rd := frame.NewReader(conn, frame.V12)
	wr := frame.NewWriter(conn, frame.V12)
	for {
		f, err := rd.Read()
		if err != nil {
			return
		}
		if f == nil {
			b.hbCount.Add(1)
			continue
		}
		switch f.Command {
		case frame.CONNECT, frame.STOMP:
			reply := frame.New(frame.CONNECTED, frame.Version, "1.2", frame.Session, "test-session")
			if b.connectReply != nil {
				reply = b.connectReply(f)
			}
			if err := wr.Write(reply); err != nil {
				return
			}
		case frame.DISCONNECT:
			if id, ok := f.Header.Contains(frame.Receipt); ok {
				if err := wr.Write(frame.New(frame.RECEIPT, frame.ReceiptId, id)); err != nil {
					return
				}
			}
		}
		b.frames <- f
	}
}

// push delivers a broker-originated frame on the most recent transport.
// net.Pipe writes rendezvous with the reader, so the write runs on its own
// goroutine to keep the test free to call Receive.
func (b *testBroker) push(f *frame.Frame) {
	b.mu.Lock()
	conn := b.conns[len(b.conns)-1]
	b.mu.Unlock()
	go func() {
		if err := frame.NewWriter(conn, frame.V12).Write(f); err != nil {
			b.t.Logf("push: %v", err)
		}
	}()
}

// dropCurrent severs the most recent transport, simulating a broker-side
// EOF.
func (b *testBroker) dropCurrent() {
	b.mu.Lock()
	conn := b.conns[len(b.conns)-1]
	b.mu.Unlock()
	_ = conn.Close()
}

func (b *testBroker) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, conn := range b.conns {
		_ = conn.Close()
	}
	b.conns = nil
}

// expect pulls the next recorded frame, failing the test on timeout.
func (b *testBroker) expect(t *testing.T, command string) *frame.Frame {
	t.Helper()
	select {
	case f := <-b.frames:
		if f.Command != command {
			t.Fatalf("broker received %s, want %s", f.Command, command)
		}
		return f
	case <-time.After(2 * time.Second):
		t.Fatalf("broker did not receive %s in time", command)
		return nil
	}
}

// expectNone asserts that no frame arrives within the window.
func (b *testBroker) expectNone(t *testing.T, window time.Duration) {
	t.Helper()
	select {
	case f := <-b.frames:
		t.Fatalf("broker unexpectedly received %s", f.Command)
	case <-time.After(window):
	}
}

// testConnection wires a Connection to a fresh testBroker and connects.
func testConnection(t *testing.T, b *testBroker, opts ...Option) *Connection {
	t.Helper()
	opts = append([]Option{
		Hosts(HostSpec{Host: "mq", Login: "u", Passcode: "p"}),
		DialContext(b.dialFunc()),
	}, opts...)
	c, err := New(opts...)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	return c
}
