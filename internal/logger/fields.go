package logger

import (
	"fmt"
	"log/slog"
)

// Standard field keys for structured logging across the broker, transport,
// and framing layers. Use these keys consistently so log aggregation and
// querying stays uniform regardless of which layer emitted the record.
const (
	// TPM wire framing
	KeyTag         = "tag"          // TPM2_ST of a command/response header
	KeyCommandCode = "command_code" // TPM2_CC of a command
	KeyRC          = "rc"           // broker/transport/TPM response code

	// Context / handle lifecycle
	KeyHandle = "handle" // TPM handle (transient object or session)

	// Connection identification
	KeyConnectionID = "connection_id" // client connection identifier
	KeyRemoteAddr   = "remote_addr"   // client remote address

	// Operation metadata
	KeyDurationMs = "duration_ms" // operation duration in milliseconds
	KeyError      = "error"       // error message
)

// Tag returns a slog.Attr for a TPM2_ST tag, formatted as hex.
func Tag(tag uint16) slog.Attr {
	return slog.String(KeyTag, fmt.Sprintf("0x%04x", tag))
}

// CommandCode returns a slog.Attr for a TPM2_CC command code, formatted as hex.
func CommandCode(code uint32) slog.Attr {
	return slog.String(KeyCommandCode, fmt.Sprintf("0x%08x", code))
}

// RC returns a slog.Attr for a broker/transport/TPM response code. rc is
// any fmt.Stringer so both tpm2rc.RC (broker-internal kinds and wrapped
// TPM codes) and a bare TPM2_RC value formatted elsewhere work.
func RC(rc fmt.Stringer) slog.Attr {
	return slog.String(KeyRC, rc.String())
}

// Handle returns a slog.Attr for a TPM handle, formatted as hex.
func Handle(h uint32) slog.Attr {
	return slog.String(KeyHandle, fmt.Sprintf("0x%08x", h))
}

// ConnectionID returns a slog.Attr for a client connection identifier
func ConnectionID(id string) slog.Attr {
	return slog.String(KeyConnectionID, id)
}

// RemoteAddr returns a slog.Attr for a client remote address
func RemoteAddr(addr string) slog.Attr {
	return slog.String(KeyRemoteAddr, addr)
}

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
