// Package transport defines the narrow contract the access broker needs
// from whatever moves bytes to and from the TPM: transmit a command
// buffer, receive a response buffer within a bounded wait. Neither
// direction interprets the bytes it moves — that's the header codec's,
// the framed reader's, and tpm2sapi's job.
package transport

import "time"

// Transport is the broker's exclusive channel to a single TPM. A Transport
// implementation never needs to be safe for concurrent use — the broker's
// own mutex guarantees at most one Transmit/Receive pair is in flight at a
// time.
type Transport interface {
	// Transmit sends cmd in full. A short write is a transport-level bug,
	// not a valid partial-send contract the broker will retry.
	Transmit(cmd []byte) error

	// Receive reads into buf, blocking no longer than timeout, and returns
	// the number of bytes written to buf[:n]. Implementations that read
	// framed TPM buffers (a header followed by its body) do so internally and
	// return only once a complete buffer is available, or once timeout
	// expires.
	Receive(buf []byte, timeout time.Duration) (int, error)
}
