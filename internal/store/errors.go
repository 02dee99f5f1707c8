package store

import "errors"

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// ErrMalformedRecord is returned when a stored row cannot be decoded.
var ErrMalformedRecord = errors.New("malformed record")
