package ledger

import "fmt"

// ValidationError marks caller mistakes (bad input, wrong category, missing
// fields). The server maps it to 400.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// ConflictError marks operations rejected by the current lifecycle state
// (goal already reached, animal no longer active). The server maps it to 409.
type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string { return e.Msg }

func conflictf(format string, args ...any) error {
	return &ConflictError{Msg: fmt.Sprintf(format, args...)}
}

// GatewayError wraps a failed payment gateway call so callers can
// distinguish upstream failures from local ones.
type GatewayError struct {
	Err error
}

func (e *GatewayError) Error() string { return "payment gateway: " + e.Err.Error() }

func (e *GatewayError) Unwrap() error { return e.Err }
