// Package mock implements internal/transport.Transport over in-memory
// queues for broker unit tests. It records every Transmit/Receive call in
// order so concurrency tests can assert that the broker serializes access
// (no two command/response pairs interleave).
package mock

import (
	"sync"
	"time"

	"github.com/abrmd-go/tabrmd/internal/tpm2rc"
)

// Call records one Transmit or Receive invocation, in the order observed.
type Call struct {
	Kind string // "transmit" or "receive"
	Data []byte
}

// Transport is a scripted, recording Transport. Responses are consumed in
// FIFO order from Responses; if exhausted, Receive returns ErrNoConnection.
// TransmitDelay, if non-zero, is slept inside Transmit before recording the
// call — this is what the broker's concurrency test uses to make
// overlapping access to the transport observable.
type Transport struct {
	mu sync.Mutex

	Responses     [][]byte
	TransmitErr   error
	TransmitDelay time.Duration

	calls []Call
}

// New returns a Transport that will hand out responses in order.
func New(responses ...[]byte) *Transport {
	return &Transport{Responses: responses}
}

func (t *Transport) Transmit(cmd []byte) error {
	if t.TransmitDelay > 0 {
		time.Sleep(t.TransmitDelay)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	cp := make([]byte, len(cmd))
	copy(cp, cmd)
	t.calls = append(t.calls, Call{Kind: "transmit", Data: cp})

	return t.TransmitErr
}

func (t *Transport) Receive(buf []byte, _ time.Duration) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.Responses) == 0 {
		return 0, tpm2rc.New(tpm2rc.NoConnection, "mock transport exhausted")
	}

	resp := t.Responses[0]
	t.Responses = t.Responses[1:]

	n := copy(buf, resp)
	cp := make([]byte, n)
	copy(cp, buf[:n])
	t.calls = append(t.calls, Call{Kind: "receive", Data: cp})

	return n, nil
}

// Calls returns a snapshot of every Transmit/Receive invocation recorded so
// far, in order.
func (t *Transport) Calls() []Call {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Call, len(t.calls))
	copy(out, t.calls)
	return out
}
