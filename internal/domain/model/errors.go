package model

import "errors"

// Error taxonomy shared by the engine, the stores and the transports.
var (
	// ErrNotFound reports an unknown entity or a user outside the action item's snapshot.
	ErrNotFound = errors.New("not found")
	// ErrConflict reports a uniqueness violation or a contradicting response.
	ErrConflict = errors.New("conflict")
	// ErrPreconditionFailed reports an operation against a dismissed action item.
	ErrPreconditionFailed = errors.New("precondition failed")
	// ErrUnavailable reports a storage or collaborator failure that may be retried.
	ErrUnavailable = errors.New("unavailable")
)

// ErrInvalidArgument reports a malformed request, such as an empty identifier.
var ErrInvalidArgument = errors.New("invalid argument")
