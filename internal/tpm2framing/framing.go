// Package tpm2framing assembles a complete TPM 2.0 command or response
// buffer from a byte-oriented stream, tolerating short reads and bounding
// the wait on each read with a timeout. It mirrors the resource manager's
// read_tpm_buffer/read_tpm_buffer_alloc: read the 10-byte header first,
// use its size field to learn the full buffer length, then read the rest.
package tpm2framing

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/abrmd-go/tabrmd/internal/tpm2header"
	"github.com/abrmd-go/tabrmd/internal/tpm2rc"
)

// MaxBuffer bounds the size read_framed_alloc will grow its buffer to,
// preventing a malicious or corrupt peer from forcing unbounded
// allocation. It matches the TPM spec's largest practical command/response
// size (scaled the way the teacher's NFS fragment-size guard bounds its
// own record-marked reads, see maxFragmentSize in pkg/adapter/nfs).
const MaxBuffer = 64 * 1024

// ReadStatus is the outcome of a single ReadFramed call.
type ReadStatus int

const (
	// StatusOK indicates buf[:index] now holds a complete command or
	// response; index == the size decoded from the buffer's own header.
	StatusOK ReadStatus = iota
	// StatusTryAgain indicates a short read or a timed-out poll; index has
	// been advanced by whatever was read and the caller should retry.
	StatusTryAgain
	// StatusProtocol indicates the decoded size exceeds buf's capacity;
	// the caller must grow the buffer (preserving index) and retry.
	StatusProtocol
)

// TimeoutReader is the minimal stream contract ReadFramed needs: reads
// that never block past the deadline set by SetReadDeadline. net.Conn
// satisfies this directly; internal/transport/simulator wraps its
// connection in deadlineConn to pass it in.
type TimeoutReader interface {
	io.Reader
	SetReadDeadline(t time.Time) error
}

// ReadFramed reads one complete TPM command or response from r into buf,
// resuming across calls via index (the next write position) so a caller
// can retry after StatusTryAgain or after growing buf on StatusProtocol.
//
// Preconditions: len(buf) >= tpm2header.Size.
func ReadFramed(ctx context.Context, r TimeoutReader, buf []byte, index *int, timeout time.Duration) (ReadStatus, error) {
	if len(buf) < tpm2header.Size {
		return StatusTryAgain, tpm2rc.Wrap(tpm2rc.BadReference, "buffer shorter than header size", nil)
	}

	if *index < tpm2header.Size {
		status, err := readChunk(ctx, r, buf[:tpm2header.Size], index, timeout)
		if status != StatusOK {
			return status, err
		}
	}

	hdr, err := tpm2header.Decode(buf)
	if err != nil {
		// index >= Size here, so Decode cannot fail; defensive only.
		return StatusProtocol, tpm2rc.Wrap(tpm2rc.Protocol, "failed to decode header after reading it", err)
	}

	if hdr.Size == uint32(tpm2header.Size) {
		return StatusOK, nil
	}
	if hdr.Size > uint32(len(buf)) {
		return StatusProtocol, nil
	}

	return readChunk(ctx, r, buf[:hdr.Size], index, timeout)
}

// readChunk polls-and-reads the remainder of target[*index:], advancing
// *index by whatever was read. A short read (including zero bytes from a
// timed-out or empty-for-now socket) returns StatusTryAgain; EOF returns
// NoConnection; any other read error returns IoError.
func readChunk(ctx context.Context, r TimeoutReader, target []byte, index *int, timeout time.Duration) (ReadStatus, error) {
	select {
	case <-ctx.Done():
		return StatusTryAgain, tpm2rc.Wrap(tpm2rc.IoError, "context cancelled during read", ctx.Err())
	default:
	}

	if err := r.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return StatusTryAgain, tpm2rc.Wrap(tpm2rc.IoError, "failed to set read deadline", err)
	}

	want := len(target) - *index
	n, err := r.Read(target[*index:])
	*index += n

	if err != nil {
		if errors.Is(err, io.EOF) {
			return StatusTryAgain, tpm2rc.Wrap(tpm2rc.NoConnection, "peer closed connection", err)
		}
		if isTimeout(err) {
			return StatusTryAgain, tpm2rc.Wrap(tpm2rc.TryAgain, "read timed out", err)
		}
		return StatusTryAgain, tpm2rc.Wrap(tpm2rc.IoError, "read failed", err)
	}

	if n < want {
		return StatusTryAgain, tpm2rc.Wrap(tpm2rc.TryAgain, "short read", nil)
	}
	return StatusOK, nil
}

func isTimeout(err error) bool {
	type timeoutError interface {
		Timeout() bool
	}
	var te timeoutError
	return errors.As(err, &te) && te.Timeout()
}

// ReadFramedAlloc is the allocating wrapper around ReadFramed: it starts
// with a header-sized buffer, grows it on StatusProtocol (validating the
// announced size against [tpm2header.Size, MaxBuffer]), and loops on
// StatusTryAgain until it has a complete buffer. On success it returns the
// buffer trimmed to the announced size.
func ReadFramedAlloc(ctx context.Context, r TimeoutReader, timeout time.Duration) ([]byte, error) {
	buf := make([]byte, tpm2header.Size)
	index := 0

	for {
		status, err := ReadFramed(ctx, r, buf, &index, timeout)
		switch status {
		case StatusOK:
			return buf[:index], nil
		case StatusProtocol:
			hdr, decErr := tpm2header.Decode(buf)
			if decErr != nil {
				return nil, tpm2rc.Wrap(tpm2rc.Protocol, "failed to decode header size for growth", decErr)
			}
			if hdr.Size < uint32(tpm2header.Size) || hdr.Size > MaxBuffer {
				return nil, tpm2rc.New(tpm2rc.Protocol, "announced size outside acceptable bounds")
			}
			grown := make([]byte, hdr.Size)
			copy(grown, buf[:index])
			buf = grown
		case StatusTryAgain:
			var rcErr *tpm2rc.Error
			if errors.As(err, &rcErr) && (rcErr.Code == tpm2rc.NoConnection || rcErr.Code == tpm2rc.IoError) {
				return nil, err
			}
			// transient timeout or short read: loop and retry
		}
	}
}
