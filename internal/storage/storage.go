// Package storage holds the persistence contracts shared by services and their backends.
package storage

import "errors"

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrConflict is returned when a write violates a uniqueness or reference constraint.
var ErrConflict = errors.New("storage: conflict")

// ErrInvalidReference is returned when a row points at an entity outside its scope,
// e.g. a step whose next_step_id belongs to another flow.
var ErrInvalidReference = errors.New("storage: invalid reference")
