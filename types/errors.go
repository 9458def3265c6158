package types

import "errors"

var (
	// ErrSessionNotFound means the conversation is idle.
	ErrSessionNotFound = errors.New("session not found")
	ErrNotFound        = errors.New("not found")
	// ErrUploadFinalized is returned when marking a record that already left pending.
	ErrUploadFinalized = errors.New("upload already finalized")
	ErrInvalidSession  = errors.New("invalid session")
)
