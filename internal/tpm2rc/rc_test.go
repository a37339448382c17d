package tpm2rc

import (
	"errors"
	"fmt"
	"testing"
)

func TestRCString(t *testing.T) {
	tests := []struct {
		rc   RC
		want string
	}{
		{Success, "Success"},
		{TryAgain, "TryAgain"},
		{NoConnection, "NoConnection"},
		{IoError, "IoError"},
		{Protocol, "Protocol"},
		{BadReference, "BadReference"},
		{BadValue, "BadValue"},
		{InternalError, "InternalError"},
		{TpmRC(0x100), "TpmRC(0x100)"},
		{TpmRC(0), "TpmRC(0x0)"},
	}

	for _, tt := range tests {
		if got := tt.rc.String(); got != tt.want {
			t.Errorf("RC(%+v).String() = %q, want %q", tt.rc, got, tt.want)
		}
	}
}

func TestRCIsSuccess(t *testing.T) {
	tests := []struct {
		name string
		rc   RC
		want bool
	}{
		{"Success", Success, true},
		{"TpmRCZero", TpmRC(0), true},
		{"TpmRCNonzero", TpmRC(0x100), false},
		{"TryAgain", TryAgain, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rc.IsSuccess(); got != tt.want {
				t.Errorf("IsSuccess() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRCCode(t *testing.T) {
	if code, ok := TpmRC(0x144).Code(); !ok || code != 0x144 {
		t.Errorf("TpmRC(0x144).Code() = (0x%x, %v), want (0x144, true)", code, ok)
	}
	if _, ok := TryAgain.Code(); ok {
		t.Errorf("TryAgain.Code() ok = true, want false")
	}
	if _, ok := Success.Code(); ok {
		t.Errorf("Success.Code() ok = true, want false")
	}
}

func TestErrorError(t *testing.T) {
	t.Run("WithoutCause", func(t *testing.T) {
		err := New(Protocol, "bad framing")
		want := "Protocol: bad framing"
		if got := err.Error(); got != want {
			t.Errorf("Error() = %q, want %q", got, want)
		}
	})

	t.Run("WithCause", func(t *testing.T) {
		cause := fmt.Errorf("connection reset")
		err := Wrap(IoError, "read failed", cause)
		want := "IoError: read failed: connection reset"
		if got := err.Error(); got != want {
			t.Errorf("Error() = %q, want %q", got, want)
		}
	})
}

func TestErrorUnwrap(t *testing.T) {
	cause := fmt.Errorf("underlying")
	err := Wrap(IoError, "msg", cause)
	if !errors.Is(err, cause) {
		t.Errorf("errors.Is(err, cause) = false, want true")
	}
	if errors.Unwrap(err) != cause {
		t.Errorf("errors.Unwrap(err) = %v, want %v", errors.Unwrap(err), cause)
	}
}

func TestErrorIsSentinel(t *testing.T) {
	err := Wrap(Protocol, "announced size too large", nil)
	if !errors.Is(err, ErrProtocol) {
		t.Errorf("errors.Is(err, ErrProtocol) = false, want true")
	}
	if errors.Is(err, ErrIoError) {
		t.Errorf("errors.Is(err, ErrIoError) = true, want false")
	}

	wrapped := fmt.Errorf("context: %w", err)
	if !errors.Is(wrapped, ErrProtocol) {
		t.Errorf("errors.Is(wrapped, ErrProtocol) = false, want true")
	}
}

func TestErrorAs(t *testing.T) {
	var target *Error
	err := fmt.Errorf("outer: %w", Wrap(BadValue, "invalid handle", nil))
	if !errors.As(err, &target) {
		t.Fatalf("errors.As() = false, want true")
	}
	if target.Code != BadValue {
		t.Errorf("target.Code = %v, want %v", target.Code, BadValue)
	}
}
