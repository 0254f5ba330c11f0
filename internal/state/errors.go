package state

import (
	"errors"
	"strings"
)

// ErrRowNotFound indicates the requested row does not exist.
var ErrRowNotFound = errors.New("row not found")

// ErrConflict indicates a constraint violation, for example a duplicate
// dependency, a self-loop, or a dependency cycle.
var ErrConflict = errors.New("constraint conflict")

// isConstraintViolation reports whether the driver error represents a
// uniqueness or foreign-key violation.
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") ||
		strings.Contains(msg, "FOREIGN KEY constraint") ||
		strings.Contains(msg, "constraint failed")
}
