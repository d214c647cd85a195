package stomp

import (
	"github.com/golang-io/stomp/frame"
)

// A Listener observes connection lifecycle events. Implementations are
// typically partial: embed NopListener and override the callbacks of
// interest. Callbacks run on the goroutine that produced the event and are
// best-effort; a panicking listener is suppressed and never disturbs the
// connection.
type Listener interface {
	OnConnecting(host HostSpec)
	OnConnected(session string)
	OnConnectFail(err error)
	OnDisconnect(host HostSpec)
	OnSend(f *frame.Frame)
	OnReceive(f *frame.Frame)
	OnSubscribe(destination string, header *frame.Header)
	OnUnsubscribe(id string)
	OnHeartBeatSend()
	OnHeartBeatFail(err error)
	OnHeartBeatTimeout()
}

// NopListener implements Listener with no-ops.
type NopListener struct{}

func (NopListener) OnConnecting(HostSpec)              {}
func (NopListener) OnConnected(string)                 {}
func (NopListener) OnConnectFail(error)                {}
func (NopListener) OnDisconnect(HostSpec)              {}
func (NopListener) OnSend(*frame.Frame)                {}
func (NopListener) OnReceive(*frame.Frame)             {}
func (NopListener) OnSubscribe(string, *frame.Header)  {}
func (NopListener) OnUnsubscribe(string)               {}
func (NopListener) OnHeartBeatSend()                   {}
func (NopListener) OnHeartBeatFail(error)              {}
func (NopListener) OnHeartBeatTimeout()                {}

// notify runs one listener callback, suppressing panics.
func (c *Connection) notify(fn func(Listener)) {
	l := c.opts.Listener
	if l == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.log.WithField("panic", r).Debug("listener callback panicked")
		}
	}()
	fn(l)
}
