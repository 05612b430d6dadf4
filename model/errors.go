package model

import "errors"

var (
	// ErrTransportUnavailable means the docker daemon or the backend container cannot be reached.
	ErrTransportUnavailable = errors.New("transport unavailable")
	// ErrServiceUnavailable means no protocol backend is enabled.
	ErrServiceUnavailable = errors.New("no protocols available")
	ErrValidation         = errors.New("validation error")
	ErrResourceExhausted  = errors.New("no free ip address")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("peer limit reached")
)
