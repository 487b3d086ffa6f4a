package domain

import "errors"

// Error kinds. Call sites wrap the cause with fmt.Errorf("%w: %w", kind, err)
// so both survive errors.Is.
var (
	ErrValidation   = errors.New("validation error")
	ErrSignature    = errors.New("signature error")
	ErrLookup       = errors.New("lookup error")
	ErrGateway      = errors.New("gateway error")
	ErrProvisioning = errors.New("provisioning error")
)

// ErrInvalidTransition is returned when a terminal record is asked to move.
var ErrInvalidTransition = errors.New("invalid status transition")
