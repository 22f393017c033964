package models

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed input (non-positive price, empty description...).
	ErrValidation = errors.New("validation failed")
	// ErrPermissionDenied is returned when the actor is not a permitted party.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrInvalidState is returned when an offer is no longer OFFERED.
	ErrInvalidState = errors.New("invalid state")
	// ErrInvalidTransition is returned when a job cannot move to the requested status.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrLedgerInconsistency signals a broken ledger invariant. It should never
	// happen in correct operation.
	ErrLedgerInconsistency = errors.New("ledger inconsistency")
	// ErrGatewayDuplicate short-circuits a redelivered gateway webhook. Callers treat it as success.
	ErrGatewayDuplicate = errors.New("duplicate gateway reference")
	ErrNotFound         = errors.New("not found")
)

// TransitionError names the current and requested status of a rejected job transition.
type TransitionError struct {
	Current   string
	Requested string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition: job is %s, cannot move to %s", e.Current, e.Requested)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// StateError names the current status of an offer that can no longer be acted on.
type StateError struct {
	Current   string
	Requested string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("invalid state: offer is %s, cannot move to %s", e.Current, e.Requested)
}

func (e *StateError) Unwrap() error { return ErrInvalidState }

// Validationf returns an ErrValidation-wrapping error with detail.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
