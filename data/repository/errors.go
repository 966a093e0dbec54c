package repository

import "errors"

var (
	// ErrAlreadyExists is returned on a unique constraint violation.
	ErrAlreadyExists = errors.New("record already exists")
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")
)
