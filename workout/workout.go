// Package workout defines the workout entity, its validation rules and the
// service that persists and queries workouts through a Repository.
package workout

import (
	"context"
	"strings"
	"time"
)

// Limits on Recent queries.
const (
	DefaultRecentLimit = 10
	MaxRecentLimit     = 100
)

// Workout is one logged set.
type Workout struct {
	ID          int64     `json:"id"`
	WorkoutDate Date      `json:"workout_date"`
	Exercise    string    `json:"exercise"`
	Reps        int       `json:"reps"`
	WeightLbs   float64   `json:"weight_lbs"`
	CreatedAt   time.Time `json:"created_at"`
}

// Input is a workout that has not been persisted yet.
type Input struct {
	WorkoutDate Date    `json:"workout_date"`
	Exercise    string  `json:"exercise"`
	Reps        int     `json:"reps"`
	WeightLbs   float64 `json:"weight_lbs"`
}

// Normalize trims and lower-cases the exercise name.
func (in *Input) Normalize() {
	in.Exercise = NormalizeExercise(in.Exercise)
}

// Validate rejects inputs that may not be stored. Values are never clamped.
func (in *Input) Validate() error {
	if in.Exercise == "" {
		return newValidationError("exercise", "Exercise name cannot be empty")
	}
	if in.Reps <= 0 {
		return newValidationError("reps", "Reps must be positive")
	}
	if in.WeightLbs < 0 {
		return newValidationError("weight_lbs", "Weight cannot be negative")
	}
	if in.WorkoutDate.IsZero() {
		return newValidationError("workout_date", "Workout date is required")
	}
	return nil
}

// NormalizeExercise returns the canonical form of an exercise name.
func NormalizeExercise(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Repository persists workouts. Implementations live under storage/.
// Exercise arguments are already normalized.
type Repository interface {
	Insert(ctx context.Context, in Input) (*Workout, error)
	// Recent returns up to limit workouts ordered by creation time, newest first.
	Recent(ctx context.Context, limit int) ([]Workout, error)
	// ByExercise returns all workouts for an exercise ordered by workout date, newest first.
	ByExercise(ctx context.Context, exercise string) ([]Workout, error)
	ByExerciseAndDate(ctx context.Context, exercise string, date Date) ([]Workout, error)
	Close() error
}
