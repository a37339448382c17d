// Package tpm2sapi provides pure marshal/unmarshal functions for the
// handful of TPM 2.0 commands the broker issues on its own behalf —
// TPM2_Startup, TPM2_GetCapability, TPM2_ContextSave/Load, and
// TPM2_FlushContext. These bodies sit between the 10-byte header (applied
// by the broker, not here) and the wire: small, pure, big-endian, each
// testable in isolation, grounded the same way the teacher's XDR encoders
// are — no allocation surprises, no panics on malformed input.
package tpm2sapi

import (
	"encoding/binary"

	"github.com/abrmd-go/tabrmd/internal/tpm2header"
	"github.com/abrmd-go/tabrmd/internal/tpm2rc"
)

// MarshalStartup encodes the body of a TPM2_Startup command (just the
// TPM2_SU value); the broker wraps it with a NO_SESSIONS header using
// CCStartup.
func MarshalStartup(su StartupType) []byte {
	body := make([]byte, 2)
	binary.BigEndian.PutUint16(body, uint16(su))
	return body
}

// MarshalGetCapability encodes the body of a TPM2_GetCapability command:
// capability, the first property/handle to report, and the maximum count
// of values to return.
func MarshalGetCapability(cap, property, count uint32) []byte {
	body := make([]byte, 12)
	binary.BigEndian.PutUint32(body[0:4], cap)
	binary.BigEndian.PutUint32(body[4:8], property)
	binary.BigEndian.PutUint32(body[8:12], count)
	return body
}

// MarshalContextSave encodes the body of a TPM2_ContextSave command: the
// single handle to save, carried in the command's handle area.
func MarshalContextSave(handle uint32) []byte {
	body := make([]byte, 4)
	binary.BigEndian.PutUint32(body, handle)
	return body
}

// MarshalContextLoad encodes the body of a TPM2_ContextLoad command: the
// TPMS_CONTEXT structure itself (sequence, saved handle, hierarchy, and a
// length-prefixed blob).
func MarshalContextLoad(blob ContextBlob) []byte {
	body := make([]byte, 8+4+4+2+len(blob.Blob))
	binary.BigEndian.PutUint64(body[0:8], blob.Sequence)
	binary.BigEndian.PutUint32(body[8:12], blob.SavedHandle)
	binary.BigEndian.PutUint32(body[12:16], blob.Hierarchy)
	binary.BigEndian.PutUint16(body[16:18], uint16(len(blob.Blob)))
	copy(body[18:], blob.Blob)
	return body
}

// MarshalFlushContext encodes the body of a TPM2_FlushContext command: the
// handle to flush, carried as a plain parameter (FlushContext requires no
// authorization, so it is not in the command's handle area).
func MarshalFlushContext(handle uint32) []byte {
	body := make([]byte, 4)
	binary.BigEndian.PutUint32(body, handle)
	return body
}

// readUint32 reads a big-endian uint32 from data at offset, failing with
// tpm2rc.ErrProtocol if data is too short — every unmarshal function in
// this file uses this instead of panicking on truncated TPM responses.
func readUint32(data []byte, offset int) (uint32, error) {
	if len(data) < offset+4 {
		return 0, tpm2rc.New(tpm2rc.Protocol, "truncated response: expected uint32")
	}
	return binary.BigEndian.Uint32(data[offset : offset+4]), nil
}

func readUint64(data []byte, offset int) (uint64, error) {
	if len(data) < offset+8 {
		return 0, tpm2rc.New(tpm2rc.Protocol, "truncated response: expected uint64")
	}
	return binary.BigEndian.Uint64(data[offset : offset+8]), nil
}

func readUint16(data []byte, offset int) (uint16, error) {
	if len(data) < offset+2 {
		return 0, tpm2rc.New(tpm2rc.Protocol, "truncated response: expected uint16")
	}
	return binary.BigEndian.Uint16(data[offset : offset+2]), nil
}

// bodyAfterHeader strips the 10-byte header from a full response buffer,
// returning the parameter area unmarshal functions in this package operate
// on.
func bodyAfterHeader(resp []byte) ([]byte, error) {
	if len(resp) < tpm2header.Size {
		return nil, tpm2rc.New(tpm2rc.Protocol, "response shorter than header")
	}
	return resp[tpm2header.Size:], nil
}
