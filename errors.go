package pbtcpay

import (
	"errors"
	"fmt"
)

// PaymentError is a typed error carried unchanged from the ledger and
// verifier up through the reconciliation protocol, where the HTTP layer maps
// its code to a response status.
type PaymentError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes
const (
	// ErrCodeInvalidInput marks malformed parameters, rejected before the
	// ledger is touched. Never retried automatically.
	ErrCodeInvalidInput = "invalid_input"

	// ErrCodeNotFound marks an unknown reference or a signature lookup miss.
	ErrCodeNotFound = "not_found"

	// ErrCodeConflict marks a policy violation: wallet-lock mismatch,
	// double-lock attempt, or settlement signature reuse.
	ErrCodeConflict = "conflict"

	// ErrCodeTerminal marks an attempt to mutate an already-confirmed
	// record with conflicting data. Permanent.
	ErrCodeTerminal = "terminal"

	// ErrCodeUnverified means on-chain verification ran and did not
	// validate. The record stays pending; the caller may retry with a
	// corrected signature or wait out propagation delay.
	ErrCodeUnverified = "unverified"

	// ErrCodeAdapterUnavailable marks a chain access timeout or transport
	// failure. Transient, safe to retry, and never mutates the ledger.
	ErrCodeAdapterUnavailable = "adapter_unavailable"
)

// NewPaymentError creates a new payment error.
func NewPaymentError(code, message string, details map[string]interface{}) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// Errorf creates a payment error with a formatted message and no details.
func Errorf(code, format string, args ...interface{}) *PaymentError {
	return &PaymentError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ErrorCode extracts the payment error code from err, or "" if err is not a
// PaymentError.
func ErrorCode(err error) string {
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// IsCode reports whether err is a PaymentError with the given code.
func IsCode(err error, code string) bool {
	return ErrorCode(err) == code
}

// TruncateAddress shortens a wallet address for display in error messages,
// matching the 8-character prefix convention used across the API surface.
func TruncateAddress(address string) string {
	if len(address) <= 8 {
		return address
	}
	return address[:8] + "..."
}
