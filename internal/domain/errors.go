// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a state transition was refused because the entry
// was not in an allowed predecessor state.
var ErrConflict = errors.New("conflict: state transition not allowed")

// ErrValidation indicates a request failed input validation.
var ErrValidation = errors.New("validation failed")
