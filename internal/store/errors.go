package store

import "errors"

// ErrNotFound is returned by single-row lookups that match no row.
var ErrNotFound = errors.New("store: not found")
