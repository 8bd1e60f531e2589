package models

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the service matches exactly one of them
// with errors.Is, which is what the HTTP layer maps to a status code.
var (
	ErrValidation   = errors.New("validation error")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	// ErrIntegrity also matches ErrNotFound: the record that should exist is gone.
	ErrIntegrity = fmt.Errorf("integrity error: %w", ErrNotFound)
)

type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string { return e.Msg }
func (e *Error) Unwrap() error { return e.Kind }

func Validation(format string, args ...any) error {
	return &Error{Kind: ErrValidation, Msg: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) error {
	return &Error{Kind: ErrConflict, Msg: fmt.Sprintf(format, args...)}
}

var (
	ErrNoIssue      = &Error{Kind: ErrNotFound, Msg: "requested issue does not exist"}
	ErrNoTask       = &Error{Kind: ErrNotFound, Msg: "requested task does not exist"}
	ErrNoBid        = &Error{Kind: ErrNotFound, Msg: "requested bid does not exist"}
	ErrNoAllocation = &Error{Kind: ErrNotFound, Msg: "requested allocation does not exist"}

	ErrTaskTerminated  = &Error{Kind: ErrConflict, Msg: "task is terminated, status cannot be changed"}
	ErrTaskUnavailable = &Error{Kind: ErrConflict, Msg: "task is not open for bids"}
	ErrDuplicateBid    = &Error{Kind: ErrConflict, Msg: "provider has already bid on this task"}
	ErrBidFinalized    = &Error{Kind: ErrConflict, Msg: "bid is already rejected, completed or terminated"}
	ErrStatusChanged   = &Error{Kind: ErrConflict, Msg: "status was changed by another request, reload and retry"}

	ErrOrphanAllocation = &Error{Kind: ErrIntegrity, Msg: "allocation references a bid that does not exist"}

	ErrNoCredentials = &Error{Kind: ErrUnauthorized, Msg: "missing or invalid bearer token"}
	ErrWrongRole     = &Error{Kind: ErrForbidden, Msg: "role has no permission for this operation"}
	ErrOtherDept     = &Error{Kind: ErrForbidden, Msg: "operation belongs to another department"}
)
