package stomp

import (
	"time"

	"github.com/relistan/go-director"
	"golang.org/x/sync/errgroup"
)

// heartBeater runs the two keep-alive timers of STOMP 1.1+: a sender that
// emits one LINE-END byte whenever the link has been quiet for the
// negotiated send interval, and a monitor that watches the inbound
// timestamp for silence past the grace window. A direction only runs when
// its negotiated interval is nonzero.
//
// The sender shares the connection's transmit mutex with user frames. The
// monitor holds no lock at all; it reads the timestamp the read path
// updates atomically. Counters and flags live on the Connection so they
// survive the timer restart a reconnect performs.
type heartBeater struct {
	c *Connection

	sendInterval time.Duration
	recvInterval time.Duration
	grace        float64

	sender  director.Looper
	monitor director.Looper
	group   *errgroup.Group
}

func newHeartBeater(c *Connection, send, recv time.Duration) *heartBeater {
	return &heartBeater{
		c:            c,
		sendInterval: send,
		recvInterval: recv,
		grace:        c.opts.HeartBeatGrace,
	}
}

func (hb *heartBeater) start() {
	hb.group = &errgroup.Group{}
	if hb.sendInterval > 0 {
		hb.sender = director.NewTimedLooper(director.FOREVER, hb.sendInterval, make(chan error, 1))
		hb.group.Go(func() error {
			hb.sender.Loop(hb.tickSend)
			return nil
		})
	}
	if hb.recvInterval > 0 {
		hb.monitor = director.NewTimedLooper(director.FOREVER, hb.recvInterval, make(chan error, 1))
		hb.group.Go(func() error {
			hb.monitor.Loop(hb.tickMonitor)
			return nil
		})
	}
}

// stop quits both loopers and waits for them to unwind. Must complete
// before the transport is closed or swapped.
func (hb *heartBeater) stop() {
	if hb.sender != nil {
		hb.sender.Quit()
	}
	if hb.monitor != nil {
		hb.monitor.Quit()
	}
	if hb.group != nil {
		_ = hb.group.Wait()
	}
}

// tickSend emits a keep-alive byte if nothing has been written since the
// previous tick. A send failure keeps the looper running: the connection
// records the lapse and, when configured, surfaces it on the next
// operation.
func (hb *heartBeater) tickSend() error {
	c := hb.c
	if c.Closed() {
		return nil
	}
	idle := time.Since(time.Unix(0, c.lastWrite.Load()))
	if idle < hb.sendInterval {
		return nil
	}

	c.transmitMu.Lock()
	var err error
	if c.writer == nil {
		err = ErrNoCurrentConnection
	} else {
		err = c.writer.WriteHeartBeat()
	}
	c.transmitMu.Unlock()

	if err != nil {
		c.hbSent.Store(false)
		c.log.WithError(err).Warn("heartbeat send failed")
		c.notify(func(l Listener) { l.OnHeartBeatFail(err) })
		if c.opts.RaiseHeartBeatErrors {
			c.setFailure(ErrHeartBeatSend)
		}
		return nil
	}
	c.hbSent.Store(true)
	c.hbSendCount.Add(1)
	stat.HeartBeatSent.Inc()
	c.notify(func(l Listener) { l.OnHeartBeatSend() })
	return nil
}

// tickMonitor checks the inbound timestamp. Past grace × interval of
// silence the broker is presumed gone: reliable connections reconnect,
// others fail their next receive.
func (hb *heartBeater) tickMonitor() error {
	c := hb.c
	if c.Closed() {
		return nil
	}
	idle := time.Since(time.Unix(0, c.lastRead.Load()))
	if float64(idle) <= hb.grace*float64(hb.recvInterval) {
		c.hbReceived.Store(true)
		return nil
	}

	c.hbReceived.Store(false)
	c.log.WithField("idle", idle).Warn("heartbeat read lapse")
	c.notify(func(l Listener) { l.OnHeartBeatTimeout() })
	if c.opts.Reliable {
		c.reconnectAsync()
	} else {
		c.hbLapsed.Store(true)
	}
	return nil
}
