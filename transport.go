package stomp

import (
	"context"
	"crypto/tls"
	"net"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/websocket"
)

// dial opens the byte stream to one broker. User supplied DialContext and
// DialTLSContext hooks take precedence; otherwise the transport is chosen
// by the host's scheme: plain TCP, TLS, or STOMP over WebSocket.
func (c *Connection) dial(ctx context.Context, spec HostSpec) (net.Conn, error) {
	if c.opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.ConnectTimeout)
		defer cancel()
	}

	scheme := spec.scheme()
	if c.opts.DialContext != nil && scheme == "tcp" {
		conn, err := c.opts.DialContext(ctx, "tcp", spec.Addr())
		if conn == nil && err == nil {
			err = errors.New("stomp: DialContext hook returned (nil, nil)")
		}
		return conn, err
	}
	if c.opts.DialTLSContext != nil && scheme == "tls" {
		conn, err := c.opts.DialTLSContext(ctx, "tcp", spec.Addr())
		if conn == nil && err == nil {
			err = errors.New("stomp: DialTLSContext hook returned (nil, nil)")
		}
		return conn, err
	}

	dialer := &net.Dialer{Timeout: c.opts.ConnectTimeout}
	switch scheme {
	case "tcp":
		return dialer.DialContext(ctx, "tcp", spec.Addr())
	case "tls":
		conn, err := tls.DialWithDialer(dialer, "tcp", spec.Addr(), c.opts.TLSClientConfig)
		return conn, errors.Wrap(err, "tls dial")
	case "ws", "wss":
		loc := &url.URL{Scheme: scheme, Host: spec.Addr(), Path: "/stomp"}
		originScheme := "http"
		if scheme == "wss" {
			originScheme = "https"
		}
		origin := &url.URL{Scheme: originScheme, Host: spec.Addr()}

		cfg, err := websocket.NewConfig(loc.String(), origin.String())
		if err != nil {
			return nil, errors.Wrap(err, "websocket config")
		}
		cfg.Protocol = []string{"v12.stomp", "v11.stomp", "v10.stomp"}
		if scheme == "wss" {
			cfg.TlsConfig = c.opts.TLSClientConfig
		}
		ws, err := websocket.DialConfig(cfg)
		if err != nil {
			return nil, errors.Wrap(err, "websocket dial")
		}
		ws.PayloadType = websocket.BinaryFrame
		return ws, nil
	default:
		return dialer.DialContext(ctx, "tcp", spec.Addr())
	}
}

// meteredConn wraps the transport so every byte movement feeds the
// heartbeat timestamps and the prometheus byte counters. The heartbeat
// monitor reads the timestamps without any lock.
type meteredConn struct {
	net.Conn
	c *Connection
}

func (m *meteredConn) Read(p []byte) (int, error) {
	n, err := m.Conn.Read(p)
	if n > 0 {
		m.c.lastRead.Store(time.Now().UnixNano())
		stat.ByteReceived.Add(float64(n))
	}
	return n, err
}

func (m *meteredConn) Write(p []byte) (int, error) {
	n, err := m.Conn.Write(p)
	if n > 0 {
		m.c.lastWrite.Store(time.Now().UnixNano())
		stat.ByteSent.Add(float64(n))
	}
	return n, err
}

// flusher is implemented by transports that buffer writes. The connection
// flushes after each transmit when the autoflush option is on.
type flusher interface {
	Flush() error
}

// Flush forwards to the wrapped transport when it buffers writes.
func (m *meteredConn) Flush() error {
	if fl, ok := m.Conn.(flusher); ok {
		return fl.Flush()
	}
	return nil
}
