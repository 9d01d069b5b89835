package doc

import "errors"

// Errors returned by doc operations.
var (
	ErrBlockNotFound        = errors.New("doc: block id not found in document")
	ErrInvalidOffset        = errors.New("doc: offset out of range for block text")
	ErrInvalidGraphemeRange = errors.New("doc: range does not fall on grapheme boundaries")
	ErrEmptyText            = errors.New("doc: insert text must be non-empty")
	ErrIntervalNotFound     = errors.New("doc: mark interval id not found in block")
	ErrUnknownAttr          = errors.New("doc: attribute key not recognized for this block kind")
)
