// Package simulator implements internal/transport.Transport over a TCP
// connection to a software TPM simulator (e.g. swtpm's data port). It never
// parses the bytes it moves — framing and header interpretation live in
// internal/tpm2framing and internal/tpm2header, one layer up.
package simulator

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/abrmd-go/tabrmd/internal/tpm2framing"
	"github.com/abrmd-go/tabrmd/internal/tpm2rc"
)

// Transport is a transport.Transport backed by a single long-lived TCP
// connection. It is not safe for concurrent use; the broker's mutex
// guarantees that.
type Transport struct {
	conn net.Conn
}

// Dial opens a TCP connection to addr (host:port of the simulator's data
// port) and returns a Transport wrapping it.
func Dial(ctx context.Context, addr string) (*Transport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, tpm2rc.Wrap(tpm2rc.NoConnection, fmt.Sprintf("dial simulator at %s", addr), err)
	}
	return &Transport{conn: conn}, nil
}

// New wraps an already-established connection, letting callers plug in any
// net.Conn (a pipe in tests, a real socket in production) without going
// through Dial.
func New(conn net.Conn) *Transport {
	return &Transport{conn: conn}
}

// Transmit writes cmd in full, bounded by no deadline beyond the
// connection's own configuration — the broker does not currently impose a
// write timeout, matching the source's fire-and-forget writes in
// access_broker_send_tpm_command.
func (t *Transport) Transmit(cmd []byte) error {
	n, err := t.conn.Write(cmd)
	if err != nil {
		return tpm2rc.Wrap(tpm2rc.IoError, "transmit to simulator", err)
	}
	if n != len(cmd) {
		return tpm2rc.New(tpm2rc.IoError, "short write to simulator")
	}
	return nil
}

// Receive reads one complete framed TPM buffer into buf using the poll-then-
// read semantics of internal/tpm2framing, retrying on transient short reads
// until timeout elapses.
func (t *Transport) Receive(buf []byte, timeout time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	index := 0
	for {
		status, err := tpm2framing.ReadFramed(ctx, &deadlineConn{t.conn}, buf, &index, remaining(ctx))
		switch status {
		case tpm2framing.StatusOK:
			return index, nil
		case tpm2framing.StatusProtocol:
			return index, tpm2rc.New(tpm2rc.Protocol, "simulator response exceeds buffer capacity")
		case tpm2framing.StatusTryAgain:
			if ctx.Err() != nil {
				return index, tpm2rc.Wrap(tpm2rc.TryAgain, "receive from simulator timed out", ctx.Err())
			}
			if err != nil {
				var rcErr *tpm2rc.Error
				if isFatal(err, &rcErr) {
					return index, err
				}
			}
		}
	}
}

func isFatal(err error, target **tpm2rc.Error) bool {
	type unwrapper interface{ Unwrap() error }
	for e := err; e != nil; {
		if rc, ok := e.(*tpm2rc.Error); ok {
			*target = rc
			return rc.Code == tpm2rc.NoConnection || rc.Code == tpm2rc.IoError
		}
		u, ok := e.(unwrapper)
		if !ok {
			return false
		}
		e = u.Unwrap()
	}
	return false
}

func remaining(ctx context.Context) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return time.Second
	}
	d := time.Until(deadline)
	if d <= 0 {
		return time.Millisecond
	}
	return d
}

// Close releases the underlying connection.
func (t *Transport) Close() error {
	return t.conn.Close()
}

// deadlineConn adapts a net.Conn to tpm2framing.TimeoutReader: the two
// already share the same Read/SetReadDeadline shape, so this only exists to
// keep the simulator package, not net.Conn itself, as the thing that
// satisfies the interface (net.Conn also exposes Write/Close, which
// tpm2framing has no business depending on).
type deadlineConn struct {
	net.Conn
}
