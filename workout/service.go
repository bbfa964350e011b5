package workout

import (
	"context"
	"strings"

	"github.com/wilsonaustin10/arnoldaibackend/logger"
)

// Service validates requests and delegates to a Repository. It is the
// workout store used by the tool dispatcher and the REST API.
type Service struct {
	repo Repository
}

// NewService creates a Service backed by repo.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Create normalizes and validates in, then persists it.
func (s *Service) Create(ctx context.Context, in Input) (*Workout, error) {
	in.Normalize()
	if err := in.Validate(); err != nil {
		return nil, err
	}
	w, err := s.repo.Insert(ctx, in)
	if err != nil {
		return nil, wrapStore("insert", err)
	}
	logger.DebugContext(ctx, "Workout stored",
		"id", w.ID, "exercise", w.Exercise, "reps", w.Reps, "weight_lbs", w.WeightLbs)
	return w, nil
}

// Recent returns the newest workouts. limit must be within 1..MaxRecentLimit.
func (s *Service) Recent(ctx context.Context, limit int) ([]Workout, error) {
	if limit <= 0 || limit > MaxRecentLimit {
		return nil, ErrInvalidLimit
	}
	ws, err := s.repo.Recent(ctx, limit)
	if err != nil {
		return nil, wrapStore("recent", err)
	}
	return ws, nil
}

// ByExercise returns workouts for an exercise. A nil or zero date returns
// every date, newest first; otherwise only that date is returned.
func (s *Service) ByExercise(ctx context.Context, exercise string, date *Date) ([]Workout, error) {
	if strings.TrimSpace(exercise) == "" {
		return nil, ErrExerciseRequired
	}
	exercise = NormalizeExercise(exercise)

	var (
		ws  []Workout
		err error
	)
	if date != nil && !date.IsZero() {
		ws, err = s.repo.ByExerciseAndDate(ctx, exercise, *date)
	} else {
		ws, err = s.repo.ByExercise(ctx, exercise)
	}
	if err != nil {
		return nil, wrapStore("query", err)
	}
	return ws, nil
}
