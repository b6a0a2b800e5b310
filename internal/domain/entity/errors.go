package entity

import "errors"

var (
	// ErrNotFound is returned when a template, instance, step or user does not exist
	ErrNotFound = errors.New("not found")

	// ErrInvalidState is returned when an operation is attempted from a status that forbids it
	ErrInvalidState = errors.New("invalid state")

	// ErrForbidden is returned when the actor lacks assignment or ownership for the operation
	ErrForbidden = errors.New("forbidden")

	// ErrValidation is returned when a template graph is malformed
	ErrValidation = errors.New("validation failed")
)
