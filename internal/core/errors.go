package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the requested document does not exist.
	ErrNotFound = errors.New("not found")

	// ErrForbidden indicates the principal neither owns the document nor is an admin.
	ErrForbidden = errors.New("not authorized")

	// ErrValidation indicates a required field is missing. Use errors.As with
	// *ValidationError to learn which one.
	ErrValidation = errors.New("validation failed")

	// ErrConflict indicates the write lost to existing state: the document
	// changed while a targeted refresh was being generated, or the email is
	// already registered.
	ErrConflict = errors.New("conflict")

	// ErrUnauthorized indicates bad credentials.
	ErrUnauthorized = errors.New("invalid credentials")
)

type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s is required", e.Field)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
