package statussync

import "errors"

var (
	// ErrClosed is returned once the synchronizer has been closed.
	ErrClosed = errors.New("synchronizer closed")
	// ErrEmptyID is returned for a blank action item or view identifier.
	ErrEmptyID = errors.New("empty identifier")
)
