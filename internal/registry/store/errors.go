package store

import (
	"errors"
	"fmt"
)

// ErrDuplicate signals an insert that collided with an existing row's unique
// constraint. Stores wrap it so callers can treat the race as an upsert.
var ErrDuplicate = errors.New("duplicate row")

// NotFoundError indicates the resource does not exist.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ValidationError indicates a client-side validation failure, rejected before
// any state mutation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on %s: %s", e.Field, e.Message)
}
