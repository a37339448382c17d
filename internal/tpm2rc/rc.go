// Package tpm2rc defines the response-code taxonomy shared by the header
// codec, framed reader, transport, and access broker: a small set of kinds
// distinguishing retryable conditions, connection loss, protocol violations,
// and opaque TPM-origin codes from one another.
package tpm2rc

import "fmt"

// kind distinguishes broker/transport-internal response codes from an
// opaque TPM-reported one.
type kind uint8

const (
	kindSuccess kind = iota
	kindTryAgain
	kindNoConnection
	kindIoError
	kindProtocol
	kindBadReference
	kindBadValue
	kindInternalError
	kindTpmRC
)

// RC is a response code: either one of the broker-internal kinds, or an
// opaque TPM-reported code via TpmRC. The zero value is Success.
type RC struct {
	kind kind
	code uint32 // only meaningful when kind == kindTpmRC
}

var (
	Success       = RC{kind: kindSuccess}
	TryAgain      = RC{kind: kindTryAgain}
	NoConnection  = RC{kind: kindNoConnection}
	IoError       = RC{kind: kindIoError}
	Protocol      = RC{kind: kindProtocol}
	BadReference  = RC{kind: kindBadReference}
	BadValue      = RC{kind: kindBadValue}
	InternalError = RC{kind: kindInternalError}
)

// TpmRC wraps an opaque TPM-reported response code, passed through
// verbatim and never interpreted by the broker.
func TpmRC(code uint32) RC {
	return RC{kind: kindTpmRC, code: code}
}

// Code returns the underlying TPM response code if rc came from TpmRC, and
// false otherwise.
func (rc RC) Code() (uint32, bool) {
	if rc.kind != kindTpmRC {
		return 0, false
	}
	return rc.code, true
}

// IsSuccess reports whether rc represents TSS2_RC_SUCCESS, either as the
// broker-internal Success value or as TpmRC(0).
func (rc RC) IsSuccess() bool {
	return rc == Success || (rc.kind == kindTpmRC && rc.code == 0)
}

func (rc RC) String() string {
	switch rc.kind {
	case kindSuccess:
		return "Success"
	case kindTryAgain:
		return "TryAgain"
	case kindNoConnection:
		return "NoConnection"
	case kindIoError:
		return "IoError"
	case kindProtocol:
		return "Protocol"
	case kindBadReference:
		return "BadReference"
	case kindBadValue:
		return "BadValue"
	case kindInternalError:
		return "InternalError"
	case kindTpmRC:
		return fmt.Sprintf("TpmRC(0x%x)", rc.code)
	default:
		return "Unknown"
	}
}

// Error pairs an RC with a human-readable message and an optional
// underlying cause (e.g. the transport error that produced an IoError).
type Error struct {
	Code    RC
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap allows errors.Is/errors.As to reach the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same Code, letting
// callers write errors.Is(err, tpm2rc.ErrProtocol) without caring whether
// err carries a message or a cause.
func (e *Error) Is(target error) bool {
	sentinel, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == sentinel.Code
}

// New constructs an *Error with the given code and message.
func New(code RC, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap constructs an *Error with the given code and message, carrying cause
// as the underlying error reachable via errors.Unwrap.
func Wrap(code RC, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Sentinel errors for errors.Is comparisons against a particular RC kind,
// following the teacher's pattern of wrapping a numeric wire code with a
// comparable sentinel (see pkg/adapter.ProtocolError and
// pkg/store/metadata.StoreError in the reference corpus).
var (
	ErrTryAgain      = &Error{Code: TryAgain, Message: "try again"}
	ErrNoConnection  = &Error{Code: NoConnection, Message: "no connection"}
	ErrIoError       = &Error{Code: IoError, Message: "i/o error"}
	ErrProtocol      = &Error{Code: Protocol, Message: "protocol violation"}
	ErrBadReference  = &Error{Code: BadReference, Message: "bad reference"}
	ErrBadValue      = &Error{Code: BadValue, Message: "bad value"}
	ErrInternalError = &Error{Code: InternalError, Message: "internal error"}
)
