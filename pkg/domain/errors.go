package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when an operation references an unknown id.
type ErrNotFound struct {
	Entity EntityType
	ID     int64
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

// ErrInvalidInput is returned when a required field is empty or a name is not
// part of a fixed catalog.
type ErrInvalidInput struct {
	Field  string
	Reason string
}

func (e ErrInvalidInput) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ErrCycleDetected is returned when the annotation-key walk revisits a key.
// Creation-time validation keeps the namespace acyclic, so hitting this
// indicates corrupted state; it fails loudly instead of looping.
type ErrCycleDetected struct {
	Key int64
}

func (e ErrCycleDetected) Error() string {
	return fmt.Sprintf("annotation key %d is part of a parent cycle", e.Key)
}

// IsNotFound reports whether err is an ErrNotFound.
func IsNotFound(err error) bool {
	var target ErrNotFound
	return errors.As(err, &target)
}

// IsInvalidInput reports whether err is an ErrInvalidInput.
func IsInvalidInput(err error) bool {
	var target ErrInvalidInput
	return errors.As(err, &target)
}
