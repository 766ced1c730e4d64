package db

import "errors"

// Mutation failures wrap one of these sentinels so callers can map them to
// status codes with errors.Is. Every rejection happens before the mutation
// touches the store, so a returned error guarantees the store is unchanged.
var (
	// ErrNotFound is returned when the addressed task does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation is returned for malformed or missing required input.
	ErrValidation = errors.New("validation failed")

	// ErrCapacity is returned when a create would exceed the fan-out cap.
	ErrCapacity = errors.New("capacity exceeded")

	// ErrConflict is returned when the store state forbids the operation:
	// deleting a task that still has children, or reordering across scopes.
	ErrConflict = errors.New("conflict")
)
