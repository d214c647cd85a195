package stomp

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/golang-io/stomp/frame"
)

// DialFunc opens a byte stream to addr. It mirrors net.Dialer.DialContext
// so custom transports and tests can be plugged in.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Options collects every knob a Connection recognizes. Zero values are
// filled with defaults by newOptions; use the Option functions rather than
// constructing Options directly.
type Options struct {
	// Hosts is the ordered list of candidate brokers. Required.
	Hosts []HostSpec

	// Reliable enables transparent reconnect with subscription replay.
	Reliable bool

	// Reconnect pacing. The delay starts at InitialReconnectDelay and,
	// when exponential backoff is on, multiplies by BackOffMultiplier
	// after each full sweep of the host list, capped at
	// MaxReconnectDelay. MaxReconnectAttempts of 0 means unlimited.
	InitialReconnectDelay time.Duration
	MaxReconnectDelay     time.Duration
	UseExponentialBackOff bool
	BackOffMultiplier     float64
	MaxReconnectAttempts  int
	Randomize             bool

	// ConnectTimeout bounds the transport dial; 0 means none.
	// ParseTimeout bounds the assembly of a single inbound frame when part
	// of it is already buffered as the read starts; a read that starts on
	// an empty buffer waits without a deadline.
	ConnectTimeout time.Duration
	ParseTimeout   time.Duration

	// ConnectHeaders are extra key, value pairs merged into the CONNECT
	// frame.
	ConnectHeaders []string

	// AcceptVersions restricts which revisions are offered during
	// negotiation. Defaults to all of 1.0, 1.1, 1.2.
	AcceptVersions []frame.Protocol

	// Requested heartbeat intervals (the cx,cy of the heart-beat header).
	// Zero disables the corresponding direction. HeartBeatGrace is the
	// tolerance multiplier of the receive monitor.
	HeartBeatSend  time.Duration
	HeartBeatRecv  time.Duration
	HeartBeatGrace float64

	// Listener receives lifecycle callbacks. Optional.
	Listener Listener

	// ClosedCheck guards every operation with a closed? check.
	ClosedCheck bool

	// RaiseHeartBeatErrors converts heartbeat send failures into errors
	// surfaced on subsequent operations.
	RaiseHeartBeatErrors bool

	// UseStompCommand sends STOMP instead of CONNECT when negotiating.
	UseStompCommand bool

	// UseCRLF emits CR LF line endings. Honored on STOMP 1.2 only.
	UseCRLF bool

	// AutoFlush flushes the transport after each transmit, when the
	// transport supports flushing.
	AutoFlush bool

	// DevModeHeader passes the vendor client-mode header downstream.
	DevModeHeader bool

	// Transport hooks, in the manner of net/http's Transport.
	DialContext     DialFunc
	DialTLSContext  DialFunc
	TLSClientConfig *tls.Config

	// Logger receives internal event logging. Defaults to the standard
	// logrus logger.
	Logger *logrus.Logger
}

// Option mutates Options.
type Option func(*Options)

func newOptions(opts ...Option) Options {
	options := Options{
		InitialReconnectDelay: 10 * time.Millisecond,
		MaxReconnectDelay:     30 * time.Second,
		UseExponentialBackOff: true,
		BackOffMultiplier:     2,
		ParseTimeout:          5 * time.Second,
		AcceptVersions:        frame.SupportedVersions,
		HeartBeatGrace:        2,
		ClosedCheck:           true,
	}
	for _, o := range opts {
		o(&options)
	}
	return options
}

// Hosts sets the ordered candidate broker list.
func Hosts(hosts ...HostSpec) Option {
	return func(o *Options) { o.Hosts = append(o.Hosts, hosts...) }
}

// Reliable enables or disables reconnect with subscription replay.
func Reliable(on bool) Option {
	return func(o *Options) { o.Reliable = on }
}

// ReconnectDelay sets the initial and maximum reconnect delays.
func ReconnectDelay(initial, max time.Duration) Option {
	return func(o *Options) {
		o.InitialReconnectDelay = initial
		o.MaxReconnectDelay = max
	}
}

// BackOff configures the delay growth between reconnect sweeps.
func BackOff(multiplier float64, exponential bool) Option {
	return func(o *Options) {
		o.BackOffMultiplier = multiplier
		o.UseExponentialBackOff = exponential
	}
}

// MaxReconnectAttempts bounds the reconnect loop; 0 means unlimited.
func MaxReconnectAttempts(n int) Option {
	return func(o *Options) { o.MaxReconnectAttempts = n }
}

// Randomize shuffles the host list once at construction.
func Randomize(on bool) Option {
	return func(o *Options) { o.Randomize = on }
}

// ConnectTimeout bounds the transport dial.
func ConnectTimeout(d time.Duration) Option {
	return func(o *Options) { o.ConnectTimeout = d }
}

// ParseTimeout bounds single-frame assembly.
func ParseTimeout(d time.Duration) Option {
	return func(o *Options) { o.ParseTimeout = d }
}

// ConnectHeaders merges extra key, value pairs into the CONNECT frame.
func ConnectHeaders(headerEntries ...string) Option {
	return func(o *Options) { o.ConnectHeaders = append(o.ConnectHeaders, headerEntries...) }
}

// AcceptVersions restricts the offered protocol revisions.
func AcceptVersions(versions ...frame.Protocol) Option {
	return func(o *Options) { o.AcceptVersions = versions }
}

// HeartBeat requests heartbeating: send is how often this client is
// prepared to emit keep-alives, recv how often it wants them back.
func HeartBeat(send, recv time.Duration) Option {
	return func(o *Options) {
		o.HeartBeatSend = send
		o.HeartBeatRecv = recv
	}
}

// HeartBeatGrace sets the receive-monitor tolerance multiplier. Values
// below 1.5 are raised to 1.5.
func HeartBeatGrace(k float64) Option {
	return func(o *Options) {
		if k < 1.5 {
			k = 1.5
		}
		o.HeartBeatGrace = k
	}
}

// WithListener installs a lifecycle callback listener.
func WithListener(l Listener) Option {
	return func(o *Options) { o.Listener = l }
}

// ClosedCheck toggles the closed? guard on every operation.
func ClosedCheck(on bool) Option {
	return func(o *Options) { o.ClosedCheck = on }
}

// RaiseHeartBeatErrors surfaces heartbeat send failures as errors.
func RaiseHeartBeatErrors(on bool) Option {
	return func(o *Options) { o.RaiseHeartBeatErrors = on }
}

// UseStompCommand negotiates with the STOMP command instead of CONNECT.
func UseStompCommand(on bool) Option {
	return func(o *Options) { o.UseStompCommand = on }
}

// UseCRLF emits CR LF line endings on STOMP 1.2.
func UseCRLF(on bool) Option {
	return func(o *Options) { o.UseCRLF = on }
}

// AutoFlush flushes the transport after each transmit.
func AutoFlush(on bool) Option {
	return func(o *Options) { o.AutoFlush = on }
}

// DevModeHeader injects the vendor client-mode header on CONNECT.
func DevModeHeader(on bool) Option {
	return func(o *Options) { o.DevModeHeader = on }
}

// DialContext overrides the plain TCP dialer.
func DialContext(fn DialFunc) Option {
	return func(o *Options) { o.DialContext = fn }
}

// DialTLSContext overrides the TLS dialer.
func DialTLSContext(fn DialFunc) Option {
	return func(o *Options) { o.DialTLSContext = fn }
}

// TLSClientConfig sets the TLS configuration used by the default TLS
// dialer.
func TLSClientConfig(cfg *tls.Config) Option {
	return func(o *Options) { o.TLSClientConfig = cfg }
}

// Logger routes internal event logging to the given logrus logger.
func Logger(l *logrus.Logger) Option {
	return func(o *Options) { o.Logger = l }
}
