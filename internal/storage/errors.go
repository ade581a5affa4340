// Package storage defines the persistence contracts for search results.
package storage

import "errors"

var (
	// ErrNotFound is returned when a requested run or record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when a record's key already exists.
	// Results of a run are written once and never updated.
	ErrDuplicateKey = errors.New("duplicate key: results are append-only")

	// ErrInvalidInput is returned for records missing their key fields.
	ErrInvalidInput = errors.New("invalid input")
)
