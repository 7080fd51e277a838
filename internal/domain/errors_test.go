package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainErrorFormat(t *testing.T) {
	err := NewDomainError("Transport.Exchange", ErrTimeout, "after 5s")
	want := "Transport.Exchange: after 5s: operation timed out"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorFormatNoDetail(t *testing.T) {
	err := NewDomainError("Transport.Exchange", ErrNotConnected, "")
	want := "Transport.Exchange: audacity pipes not found"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorUnwrap(t *testing.T) {
	err := NewDomainError("Sandbox.Confine", ErrPathOutsideSandbox, "../etc/passwd")
	if !errors.Is(err, ErrPathOutsideSandbox) {
		t.Error("errors.Is should match ErrPathOutsideSandbox")
	}
}

func TestDomainErrorAs(t *testing.T) {
	err := fmt.Errorf("send: %w", NewDomainError("Validator.Check", ErrCommandNotAllowed, "Export"))
	var de *DomainError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "Validator.Check", de.Op)
}

func TestWrapOp(t *testing.T) {
	assert.Nil(t, WrapOp("op", nil))

	err := WrapOp("open pipe", ErrCommunication)
	assert.EqualError(t, err, "open pipe: pipe communication failed")
	assert.True(t, errors.Is(err, ErrCommunication))
}

func TestResponseTooLargeIsCommunication(t *testing.T) {
	assert.True(t, errors.Is(ErrResponseTooLarge, ErrCommunication))
	assert.Equal(t, CodeResponseTooLarge, ErrorCodeOf(ErrResponseTooLarge))
	assert.Equal(t, CodeResponseTooLarge, ErrorCodeOf(fmt.Errorf("read: %w", ErrResponseTooLarge)))
}

func TestIsTransportFailure(t *testing.T) {
	assert.True(t, IsTransportFailure(ErrNotConnected))
	assert.True(t, IsTransportFailure(fmt.Errorf("x: %w", ErrTimeout)))
	assert.True(t, IsTransportFailure(ErrResponseTooLarge))
	assert.False(t, IsTransportFailure(ErrCommandRejected))
	assert.False(t, IsTransportFailure(ErrCircuitOpen))
	assert.False(t, IsTransportFailure(nil))
}

// --- ErrorCode tests ---

func TestErrorCodeOf_DirectSentinel(t *testing.T) {
	assert.Equal(t, CodeNotConnected, ErrorCodeOf(ErrNotConnected))
	assert.Equal(t, CodeTimeout, ErrorCodeOf(ErrTimeout))
	assert.Equal(t, CodeCommunication, ErrorCodeOf(ErrCommunication))
	assert.Equal(t, CodeRateLimit, ErrorCodeOf(ErrRateLimit))
}

func TestErrorCodeOf_RejectionResolvesToReason(t *testing.T) {
	reason := NewDomainError("Validator.Check", ErrCommandNotAllowed, "Export")
	err := fmt.Errorf("%w: %w", ErrCommandRejected, reason)
	assert.True(t, errors.Is(err, ErrCommandRejected))
	assert.Equal(t, CodeCommandNotAllowed, ErrorCodeOf(err))

	assert.Equal(t, CodeCommandRejected, ErrorCodeOf(ErrCommandRejected))
}

func TestErrorCodeOf_UnknownError(t *testing.T) {
	assert.Equal(t, CodeUnknown, ErrorCodeOf(fmt.Errorf("some random error")))
}

func TestErrorCodeOf_Nil(t *testing.T) {
	assert.Equal(t, CodeUnknown, ErrorCodeOf(nil))
}

func TestDomainError_Code(t *testing.T) {
	err := NewDomainError("Transport.Exchange", ErrTimeout, "")
	assert.Equal(t, CodeTimeout, err.Code())
}

func TestDomainError_CodeUnknownSentinel(t *testing.T) {
	err := NewDomainError("Op", fmt.Errorf("custom"), "detail")
	assert.Equal(t, CodeUnknown, err.Code())
}

func TestAllSentinelsHaveCodes(t *testing.T) {
	require.NotEmpty(t, errorCodes)
	for _, ec := range errorCodes {
		assert.NotEmpty(t, ec.code, "sentinel %v has empty code", ec.err)
		assert.NotEqual(t, CodeUnknown, ec.code, "sentinel %v maps to UNKNOWN", ec.err)
		assert.Equal(t, ec.code, ErrorCodeOf(ec.err), "sentinel %v", ec.err)
	}
}
