package api

import "errors"

// Errors returned by the client.
var (
	ErrTransport = errors.New("api: request failed")
	ErrNotJSON   = errors.New("api: response is not a JSON document")
	ErrBadBody   = errors.New("api: malformed JSON response")
)
