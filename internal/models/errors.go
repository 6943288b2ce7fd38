package models

import "errors"

// Sentinel error kinds shared by the session core and its gateways. Callers
// branch with errors.Is; gateways wrap them with context via fmt.Errorf.
var (
	// ErrInvalidState rejects an operation not permitted in the session's
	// current state, e.g. sending while a generation is in flight.
	ErrInvalidState = errors.New("invalid session state")

	// ErrNotFound reports an unknown permission request id, archive key, or
	// session id.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyResolved rejects a duplicate response to a permission request.
	ErrAlreadyResolved = errors.New("permission request already resolved")

	// ErrRestoreFailed reports a checkpoint restore that could not complete.
	ErrRestoreFailed = errors.New("checkpoint restore failed")

	// ErrPersistFailed reports an archive save that could not complete. A
	// failed save blocks the new-chat reset so no transcript is lost.
	ErrPersistFailed = errors.New("archive persist failed")

	// ErrBusy rejects a gateway operation that conflicts with one in flight,
	// e.g. two concurrent restores for the same session.
	ErrBusy = errors.New("conflicting operation in progress")
)
