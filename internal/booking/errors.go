package booking

import (
	"errors"
	"fmt"
)

// Error kinds returned by Service. Callers classify failures with errors.Is.
var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrOutOfRange       = errors.New("date out of range")
	ErrSlotUnavailable  = errors.New("slot no longer available")
	ErrCapacityExceeded = errors.New("capacity exceeded")
	ErrNotFound         = errors.New("reference not found")
)

var (
	ErrDepositTooHigh    = fmt.Errorf("%w: deposit exceeds package price", ErrInvalidInput)
	ErrPackageMismatch   = fmt.Errorf("%w: package does not belong to service", ErrNotFound)
	ErrNoOpenIntent      = fmt.Errorf("%w: no open booking intent", ErrNotFound)
	ErrPastDate          = fmt.Errorf("%w: date is in the past", ErrOutOfRange)
	ErrInvalidTransition = fmt.Errorf("%w: status transition not allowed", ErrInvalidInput)
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
