package sync

import "errors"

// Errors returned by sync operations.
var (
	ErrResourceExhausted = errors.New("sync: pending buffer exceeds configured resource limits")
	ErrUnknownPeerBlock  = errors.New("sync: op references a block outside the known document")
)
