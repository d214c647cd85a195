package stomp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/golang-io/stomp/frame"
)

func newTestClient(t *testing.T, opts ...Option) *Connection {
	t.Helper()
	opts = append([]Option{Hosts(HostSpec{Host: "mq", Login: "u", Passcode: "p"})}, opts...)
	c, err := New(opts...)
	require.NoError(t, err)
	return c
}

func TestBuildConnectDefaults(t *testing.T) {
	c := newTestClient(t)
	f := c.buildConnect(c.hosts.current())

	assert.Equal(t, frame.CONNECT, f.Command)
	assert.Equal(t, "1.0,1.1,1.2", f.Header.Get(frame.AcceptVersion))
	assert.Equal(t, "mq", f.Header.Get(frame.Host))
	assert.Equal(t, "u", f.Header.Get(frame.Login))
	assert.Equal(t, "p", f.Header.Get(frame.Passcode))
	_, ok := f.Header.Contains(frame.HeartBeat)
	assert.False(t, ok, "no heart-beat header unless requested")
}

func TestBuildConnectStompCommand(t *testing.T) {
	c := newTestClient(t, UseStompCommand(true))
	f := c.buildConnect(c.hosts.current())
	assert.Equal(t, frame.STOMP, f.Command)
}

func TestBuildConnectExtraHeaders(t *testing.T) {
	c := newTestClient(t,
		ConnectHeaders("client-id", "consumer-1", frame.Host, "vhost"),
		HeartBeat(5*time.Second, 2*time.Second),
		DevModeHeader(true),
		AcceptVersions(frame.V11, frame.V12),
	)
	f := c.buildConnect(c.hosts.current())

	assert.Equal(t, "1.1,1.2", f.Header.Get(frame.AcceptVersion))
	assert.Equal(t, "consumer-1", f.Header.Get("client-id"))
	assert.Equal(t, "vhost", f.Header.Get(frame.Host), "connect headers override the derived host")
	assert.Equal(t, "5000,2000", f.Header.Get(frame.HeartBeat))
	assert.Equal(t, "dev", f.Header.Get(clientModeHeader))
}

func TestHostSpecAddr(t *testing.T) {
	assert.Equal(t, "mq:61613", HostSpec{Host: "mq"}.Addr())
	assert.Equal(t, "mq:61612", HostSpec{Host: "mq", SSL: true}.Addr())
	assert.Equal(t, "mq:9900", HostSpec{Host: "mq", Port: 9900}.Addr())
	assert.Equal(t, "mq:61612", HostSpec{Host: "mq", Scheme: "wss"}.Addr())
}

func TestLoginLooksLikeURL(t *testing.T) {
	assert.True(t, HostSpec{Login: "stomp://u:p@mq:61613"}.loginLooksLikeURL())
	assert.False(t, HostSpec{Login: "scott"}.loginLooksLikeURL())
}
