package vectorstore

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyVector is returned when an embedding has no components.
	ErrEmptyVector = errors.New("vector cannot be empty")

	// ErrInvalidLimit is returned when a search limit is not positive.
	ErrInvalidLimit = errors.New("limit must be positive")
)

// ErrInvalidDimension indicates an invalid configured dimension.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrInvalidDimension struct {
	Dimension Dimensions
	cause     error
}

func (e *ErrInvalidDimension) Error() string {
	return fmt.Sprintf("invalid dimension: %d", e.Dimension)
}

func (e *ErrInvalidDimension) Unwrap() error { return e.cause }

// NewErrInvalidDimension wraps cause (which may be nil) into an
// ErrInvalidDimension for the given dimensionality.
func NewErrInvalidDimension(d Dimensions, cause error) *ErrInvalidDimension {
	return &ErrInvalidDimension{Dimension: d, cause: cause}
}

// ErrDimensionMismatch indicates a vector/index dimensionality mismatch.
type ErrDimensionMismatch struct {
	Expected Dimensions
	Actual   Dimensions
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}
