package chat

import "errors"

var (
	// ErrNoMembers is returned when a chat would have nobody in it.
	ErrNoMembers = errors.New("chat requires at least one member")
	// ErrBadResponse is returned when the chat provider answers with something unusable.
	ErrBadResponse = errors.New("chat provider returned an invalid response")
)
