package workout

import (
	"errors"
	"fmt"
)

// Sentinel errors for workout operations.
var (
	// ErrInvalidWorkout is wrapped by every ValidationError.
	ErrInvalidWorkout = errors.New("invalid workout")

	// ErrInvalidLimit is returned when a recent-workouts limit is outside 1..100.
	ErrInvalidLimit = errors.New("limit must be between 1 and 100")

	// ErrExerciseRequired is returned when querying without an exercise name.
	ErrExerciseRequired = errors.New("exercise name is required")
)

// ValidationError describes a rejected workout field.
type ValidationError struct {
	Field   string
	Message string
}

func newValidationError(field, msg string) *ValidationError {
	return &ValidationError{Field: field, Message: msg}
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Unwrap lets errors.Is match ErrInvalidWorkout.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidWorkout
}

// IsValidation reports whether err is a client-side input problem as opposed
// to a storage failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidWorkout) ||
		errors.Is(err, ErrInvalidLimit) ||
		errors.Is(err, ErrExerciseRequired)
}

func wrapStore(op string, err error) error {
	return fmt.Errorf("workout: %s: %w", op, err)
}
