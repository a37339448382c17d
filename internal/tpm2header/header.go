// Package tpm2header is the pure, stateless encoder/decoder for the
// 10-byte TPM 2.0 command/response header: a 16-bit tag, a 32-bit total
// size (including the header itself), and a 32-bit code (command code on
// requests, response code on responses). It performs no semantic
// validation of tag/code values and does not check size against the
// caller's buffer capacity — that is the framed reader's and the broker's
// job, so the same codec serves both the 10-byte-at-a-time framed reader
// and the broker's full-buffer passthrough path.
package tpm2header

import (
	"encoding/binary"

	"github.com/abrmd-go/tabrmd/internal/tpm2rc"
)

// Size is the fixed on-wire length of a TPM 2.0 header, in bytes.
const Size = 10

// Header is the immutable value decoded from, or encoded into, the first
// 10 bytes of a TPM 2.0 command or response buffer.
type Header struct {
	Tag  uint16
	Size uint32
	Code uint32
}

// Encode writes h as 10 big-endian bytes into out. It fails with
// BadReference if out is shorter than Size.
func Encode(h Header, out []byte) error {
	if len(out) < Size {
		return tpm2rc.Wrap(tpm2rc.BadReference, "header encode buffer too short", nil)
	}
	binary.BigEndian.PutUint16(out[0:2], h.Tag)
	binary.BigEndian.PutUint32(out[2:6], h.Size)
	binary.BigEndian.PutUint32(out[6:10], h.Code)
	return nil
}

// Decode reads the first 10 big-endian bytes of in as a Header. It fails
// with BadReference if in is shorter than Size. No semantic validation of
// tag/code values is performed, and Size is not checked against len(in).
func Decode(in []byte) (Header, error) {
	if len(in) < Size {
		return Header{}, tpm2rc.Wrap(tpm2rc.BadReference, "header decode buffer too short", nil)
	}
	return Header{
		Tag:  binary.BigEndian.Uint16(in[0:2]),
		Size: binary.BigEndian.Uint32(in[2:6]),
		Code: binary.BigEndian.Uint32(in[6:10]),
	}, nil
}
