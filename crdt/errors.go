package crdt

import "errors"

// Errors returned by crdt operations.
var (
	ErrUnknownOrigin   = errors.New("crdt: origin atom not present in sequence")
	ErrUnknownAtom     = errors.New("crdt: atom id not present in sequence")
	ErrUnknownAnchor   = errors.New("crdt: mark anchor references an atom outside its sequence")
	ErrCounterOverflow = errors.New("crdt: peer counter reached the u64 limit")
)
