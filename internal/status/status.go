package status

import "errors"

var (
	ErrLoginRequired  = errors.New("auth: login required")
	ErrSessionExpired = errors.New("auth: session expired")

	ErrAlreadyJoined = errors.New("waiting: already joined")
	ErrBusy          = errors.New("waiting: another operation is in progress")
	ErrClosed        = errors.New("waiting: controller closed")

	ErrNotConfirmed   = errors.New("owner: action not confirmed")
	ErrInvalidCutline = errors.New("owner: cutline must be a positive rank")
)
