package storage

import "errors"

var (
	// ErrNotFound indicates that the requested record was not found.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidTransition indicates a status change that the record
	// lifecycle does not allow (e.g. Superseded back to Active).
	ErrInvalidTransition = errors.New("invalid status transition")
)
