package types

import "errors"

// Failures shared by the client, the change feed and the room reconciler.
var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrConflict     = errors.New("conflict")
	ErrValidation   = errors.New("invalid input")
	ErrTransport    = errors.New("connection issue")
)
