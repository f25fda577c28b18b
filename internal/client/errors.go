package client

import "errors"

// ErrEmptyBaseURL is returned when the client has nowhere to send requests.
var ErrEmptyBaseURL = errors.New("empty base url")
