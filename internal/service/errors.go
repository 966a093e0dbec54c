package service

import (
	"errors"
	"strings"
)

var (
	ErrNotFound        = errors.New("error not found")
	ErrMissingPrice    = errors.New("error missing price")
	ErrNegativeCapital = errors.New("error negative additional capital")
)

// ValidationError carries every problem found in a basket.
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	return "invalid basket: " + strings.Join(e.Messages, "; ")
}
