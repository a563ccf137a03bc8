package engine

import "errors"

var (
	// ErrBusy means the instrument's critical section could not be acquired
	// within the configured wait. Retriable by the caller; see WithRetry.
	ErrBusy = errors.New("instrument busy")

	// ErrOrderNotFound means the order ID is unknown to the engine.
	ErrOrderNotFound = errors.New("order not found")

	// ErrInstrumentNotFound means the token ID is not registered.
	ErrInstrumentNotFound = errors.New("instrument not found")
)

// ValidationError rejects an order before it reaches the book. No side
// effects have occurred when one is returned.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "order validation failed: " + e.Reason
}

func validationf(reason string) error {
	return &ValidationError{Reason: reason}
}

// IsValidation reports whether err is an order validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
