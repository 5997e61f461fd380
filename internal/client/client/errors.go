package client

import "errors"

var (
	ErrUnavailable        = errors.New("daemon unavailable")
	ErrPermissionDenied   = errors.New("control service refused the caller")
	ErrFailedPrecondition = errors.New("operation not allowed in current state")
)
