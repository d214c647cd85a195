package stomp

import (
	"math/rand"
	"net"
	"strconv"
	"strings"
	"time"
)

// A HostSpec names one candidate broker together with its credentials.
// Immutable once handed to the connection.
type HostSpec struct {
	Login    string
	Passcode string
	Host     string
	Port     int
	SSL      bool

	// Scheme optionally forces the transport: "tcp", "tls", "ws" or
	// "wss". When empty it is derived from SSL.
	Scheme string
}

func (h HostSpec) scheme() string {
	if h.Scheme != "" {
		return h.Scheme
	}
	if h.SSL {
		return "tls"
	}
	return "tcp"
}

// Addr returns host:port, filling in the default port for the transport
// when Port is zero.
func (h HostSpec) Addr() string {
	port := h.Port
	if port == 0 {
		switch h.scheme() {
		case "tls", "wss":
			port = DefaultPortTLS
		default:
			port = DefaultPortTCP
		}
	}
	return net.JoinHostPort(h.Host, strconv.Itoa(port))
}

// loginLooksLikeURL flags a login of the form "scheme://..." which almost
// always means positional arguments were passed in the wrong order.
func (h HostSpec) loginLooksLikeURL() bool {
	return strings.Contains(h.Login, "://")
}

// hostPool walks the ordered candidate list and paces reconnection.
// Hosts are tried in list order; the delay advances once per full sweep of
// the list, multiplied by the backoff multiplier and capped at the maximum.
type hostPool struct {
	specs []HostSpec
	index int

	delay       time.Duration
	initial     time.Duration
	max         time.Duration
	multiplier  float64
	exponential bool
}

func newHostPool(o Options) *hostPool {
	specs := make([]HostSpec, len(o.Hosts))
	copy(specs, o.Hosts)
	if o.Randomize {
		rand.Shuffle(len(specs), func(i, j int) {
			specs[i], specs[j] = specs[j], specs[i]
		})
	}
	return &hostPool{
		specs:       specs,
		delay:       o.InitialReconnectDelay,
		initial:     o.InitialReconnectDelay,
		max:         o.MaxReconnectDelay,
		multiplier:  o.BackOffMultiplier,
		exponential: o.UseExponentialBackOff,
	}
}

func (p *hostPool) current() HostSpec {
	return p.specs[p.index]
}

// next advances to the following host, growing the delay when the walk
// wraps around to the head of the list.
func (p *hostPool) next() HostSpec {
	p.index++
	if p.index >= len(p.specs) {
		p.index = 0
		p.advanceDelay()
	}
	return p.specs[p.index]
}

// sleepTime reports how long to wait before the next attempt.
func (p *hostPool) sleepTime() time.Duration {
	return p.delay
}

// reset restores the initial delay after a successful connect.
func (p *hostPool) reset() {
	p.delay = p.initial
}

func (p *hostPool) advanceDelay() {
	if !p.exponential {
		return
	}
	next := time.Duration(float64(p.delay) * p.multiplier)
	if next > p.max {
		next = p.max
	}
	p.delay = next
}
