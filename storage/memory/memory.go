// Package memory provides an in-process workout repository for tests and
// for running the service without a database.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/wilsonaustin10/arnoldaibackend/workout"
)

// Repository stores workouts in a slice guarded by a mutex.
type Repository struct {
	mu     sync.RWMutex
	nextID int64
	rows   []workout.Workout
	now    func() time.Time
}

// New creates an empty repository.
func New() *Repository {
	return &Repository{now: time.Now}
}

// Insert implements workout.Repository.
func (r *Repository) Insert(_ context.Context, in workout.Input) (*workout.Workout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	w := workout.Workout{
		ID:          r.nextID,
		WorkoutDate: in.WorkoutDate,
		Exercise:    in.Exercise,
		Reps:        in.Reps,
		WeightLbs:   in.WeightLbs,
		CreatedAt:   r.now().UTC(),
	}
	r.rows = append(r.rows, w)
	return &w, nil
}

// Recent implements workout.Repository.
func (r *Repository) Recent(_ context.Context, limit int) ([]workout.Workout, error) {
	r.mu.RLock()
	out := make([]workout.Workout, len(r.rows))
	copy(out, r.rows)
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ByExercise implements workout.Repository.
func (r *Repository) ByExercise(_ context.Context, exercise string) ([]workout.Workout, error) {
	out := r.filter(func(w workout.Workout) bool { return w.Exercise == exercise })
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].WorkoutDate.Time().After(out[j].WorkoutDate.Time())
	})
	return out, nil
}

// ByExerciseAndDate implements workout.Repository.
func (r *Repository) ByExerciseAndDate(_ context.Context, exercise string, date workout.Date) ([]workout.Workout, error) {
	return r.filter(func(w workout.Workout) bool {
		return w.Exercise == exercise && w.WorkoutDate.Equal(date)
	}), nil
}

// Close implements workout.Repository.
func (r *Repository) Close() error { return nil }

func (r *Repository) filter(keep func(workout.Workout) bool) []workout.Workout {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []workout.Workout{}
	for _, w := range r.rows {
		if keep(w) {
			out = append(out, w)
		}
	}
	return out
}

var _ workout.Repository = (*Repository)(nil)
