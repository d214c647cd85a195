package stomp

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-io/stomp/frame"
)

// buildConnect assembles the negotiation frame for one host. The command
// is CONNECT unless the connection was configured to send STOMP instead;
// CONNECT frames travel before any revision is negotiated, so they are
// encoded under 1.0 rules (no escaping) like every broker expects.
func (c *Connection) buildConnect(spec HostSpec) *frame.Frame {
	command := frame.CONNECT
	if c.opts.UseStompCommand {
		command = frame.STOMP
	}

	versions := make([]string, 0, len(c.opts.AcceptVersions))
	for _, v := range c.opts.AcceptVersions {
		versions = append(versions, string(v))
	}

	h := frame.NewHeader(
		frame.AcceptVersion, strings.Join(versions, ","),
		frame.Host, spec.Host,
	)
	if spec.Login != "" {
		h.Set(frame.Login, spec.Login)
	}
	if spec.Passcode != "" {
		h.Set(frame.Passcode, spec.Passcode)
	}
	if c.opts.HeartBeatSend > 0 || c.opts.HeartBeatRecv > 0 {
		h.Set(frame.HeartBeat, fmt.Sprintf("%d,%d",
			c.opts.HeartBeatSend.Milliseconds(), c.opts.HeartBeatRecv.Milliseconds()))
	}
	if c.opts.DevModeHeader {
		h.Set(clientModeHeader, "dev")
	}
	for i := 0; i+1 < len(c.opts.ConnectHeaders); i += 2 {
		h.Set(c.opts.ConnectHeaders[i], c.opts.ConnectHeaders[i+1])
	}

	return &frame.Frame{Command: command, Header: h}
}

// applyConnected digests the broker's CONNECTED reply: the negotiated
// revision (1.0 when the version header is absent), the session id, and
// the broker's advertised heartbeat capabilities.
func (c *Connection) applyConnected(reply *frame.Frame) error {
	version := frame.Protocol(reply.Header.Get(frame.Version))
	if version == "" {
		version = frame.V10
	}
	if !version.Valid() {
		return &BrokerError{Frame: reply}
	}

	c.protocol = version
	c.sessionID = reply.Header.Get(frame.Session)
	c.connectFrame = reply

	c.writer.SetVersion(version)
	c.reader.SetVersion(version)
	if c.opts.UseCRLF && version == frame.V12 {
		c.writer.UseCRLF(true)
	}

	sx, sy, err := parseHeartBeat(reply.Header.Get(frame.HeartBeat))
	if err != nil {
		c.log.WithField("heart-beat", reply.Header.Get(frame.HeartBeat)).
			Warn("ignoring unparsable server heart-beat header")
		sx, sy = 0, 0
	}
	c.hbSendInterval, c.hbRecvInterval = negotiateHeartBeat(
		c.opts.HeartBeatSend, c.opts.HeartBeatRecv, sx, sy)
	return nil
}

// parseHeartBeat splits a "sx,sy" heart-beat header into durations. An
// empty header means the peer neither sends nor wants heartbeats.
func parseHeartBeat(value string) (sx, sy time.Duration, err error) {
	if value == "" {
		return 0, 0, nil
	}
	parts := strings.SplitN(value, ",", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("heart-beat %q: want two comma separated integers", value)
	}
	x, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("heart-beat %q: %w", value, err)
	}
	y, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("heart-beat %q: %w", value, err)
	}
	return time.Duration(x) * time.Millisecond, time.Duration(y) * time.Millisecond, nil
}

// negotiateHeartBeat combines what this client asked for (cx,cy) with what
// the broker advertised (sx,sy). A direction is active only when both
// sides opted in, and then runs at the slower of the two rates.
func negotiateHeartBeat(cx, cy, sx, sy time.Duration) (send, recv time.Duration) {
	if cx > 0 && sy > 0 {
		send = cx
		if sy > send {
			send = sy
		}
	}
	if cy > 0 && sx > 0 {
		recv = cy
		if sx > recv {
			recv = sx
		}
	}
	return send, recv
}
