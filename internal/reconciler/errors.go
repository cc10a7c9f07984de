package reconciler

import (
	"errors"

	"github.com/npezzotti/synqup/internal/types"
)

var (
	ErrNotFound     = types.ErrNotFound
	ErrUnauthorized = types.ErrUnauthorized
	ErrConflict     = types.ErrConflict
	ErrValidation   = types.ErrValidation
	ErrTransport    = types.ErrTransport

	ErrClosed         = errors.New("room closed")
	ErrNotLoaded      = errors.New("room not loaded")
	ErrSendInProgress = errors.New("a message is already being sent")
)
