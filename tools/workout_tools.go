package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/wilsonaustin10/arnoldaibackend/workout"
)

// Tool names exposed to the model.
const (
	ToolLogWorkout              = "log_workout"
	ToolGetRecentWorkouts       = "get_recent_workouts"
	ToolQueryWorkoutsByExercise = "query_workouts_by_exercise"
)

// Value checks (reps > 0, weight >= 0, limit range) are left to the workout
// store so its error messages reach the model unchanged. Dates are plain
// strings here; workout.ParseDate also accepts ISO date-times.
var workoutDescriptors = []*ToolDescriptor{
	{
		Name:        ToolLogWorkout,
		Description: "Log a new workout set to the database",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"exercise": {"type": "string", "description": "The name of the exercise"},
				"reps": {"type": "integer", "description": "Number of repetitions performed"},
				"weight_lbs": {"type": "number", "description": "Weight used in pounds"},
				"workout_date": {"type": "string", "description": "Date of the workout (YYYY-MM-DD format)"}
			},
			"required": ["exercise", "reps", "weight_lbs"]
		}`),
	},
	{
		Name:        ToolGetRecentWorkouts,
		Description: "Get the most recent workout entries",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"limit": {"type": "integer", "description": "Number of recent workouts to retrieve", "default": 10}
			}
		}`),
	},
	{
		Name:        ToolQueryWorkoutsByExercise,
		Description: "Query workout history for a specific exercise",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"exercise": {"type": "string", "description": "The exercise name to query"},
				"workout_date": {"type": "string", "description": "Optional date filter"}
			},
			"required": ["exercise"]
		}`),
	},
}

type workoutEntry struct {
	ID        int64   `json:"id"`
	Exercise  string  `json:"exercise,omitempty"`
	Reps      int     `json:"reps"`
	WeightLbs float64 `json:"weight_lbs"`
	Date      string  `json:"date"`
}

func entryOf(w *workout.Workout, withExercise bool) workoutEntry {
	e := workoutEntry{
		ID:        w.ID,
		Reps:      w.Reps,
		WeightLbs: w.WeightLbs,
		Date:      w.WorkoutDate.String(),
	}
	if withExercise {
		e.Exercise = w.Exercise
	}
	return e
}

type logWorkoutResult struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Workout workoutEntry `json:"workout"`
}

type recentWorkoutsResult struct {
	Success  bool           `json:"success"`
	Count    int            `json:"count"`
	Workouts []workoutEntry `json:"workouts"`
}

type exerciseWorkoutsResult struct {
	Success  bool           `json:"success"`
	Exercise string         `json:"exercise"`
	Count    int            `json:"count"`
	Workouts []workoutEntry `json:"workouts"`
}

type errorResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// Reps is decoded as a float because models sometimes send 15.0; the schema
// has already rejected non-integral values.
type logWorkoutArgs struct {
	Exercise    string  `json:"exercise"`
	Reps        float64 `json:"reps"`
	WeightLbs   float64 `json:"weight_lbs"`
	WorkoutDate *string `json:"workout_date"`
}

func (d *Dispatcher) logWorkout(ctx context.Context, raw json.RawMessage) (any, error) {
	var args logWorkoutArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}

	date := workout.DateOf(d.now())
	if args.WorkoutDate != nil && *args.WorkoutDate != "" {
		parsed, err := workout.ParseDate(*args.WorkoutDate)
		if err != nil {
			return nil, err
		}
		date = parsed
	}

	w, err := d.store.Create(ctx, workout.Input{
		Exercise:    args.Exercise,
		Reps:        int(args.Reps),
		WeightLbs:   args.WeightLbs,
		WorkoutDate: date,
	})
	if err != nil {
		return nil, err
	}

	return logWorkoutResult{
		Success: true,
		Message: fmt.Sprintf("Logged %d reps of %s at %s lbs",
			w.Reps, w.Exercise, strconv.FormatFloat(w.WeightLbs, 'f', -1, 64)),
		Workout: entryOf(w, true),
	}, nil
}

func (d *Dispatcher) getRecentWorkouts(ctx context.Context, raw json.RawMessage) (any, error) {
	args := struct {
		Limit *int `json:"limit"`
	}{}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	limit := workout.DefaultRecentLimit
	if args.Limit != nil {
		limit = *args.Limit
	}

	ws, err := d.store.Recent(ctx, limit)
	if err != nil {
		return nil, err
	}

	entries := make([]workoutEntry, len(ws))
	for i := range ws {
		entries[i] = entryOf(&ws[i], true)
	}
	return recentWorkoutsResult{Success: true, Count: len(entries), Workouts: entries}, nil
}

func (d *Dispatcher) queryWorkoutsByExercise(ctx context.Context, raw json.RawMessage) (any, error) {
	args := struct {
		Exercise    string  `json:"exercise"`
		WorkoutDate *string `json:"workout_date"`
	}{}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}

	var date *workout.Date
	if args.WorkoutDate != nil && *args.WorkoutDate != "" {
		parsed, err := workout.ParseDate(*args.WorkoutDate)
		if err != nil {
			return nil, err
		}
		date = &parsed
	}

	ws, err := d.store.ByExercise(ctx, args.Exercise, date)
	if err != nil {
		return nil, err
	}

	entries := make([]workoutEntry, len(ws))
	for i := range ws {
		entries[i] = entryOf(&ws[i], false)
	}
	return exerciseWorkoutsResult{
		Success:  true,
		Exercise: args.Exercise,
		Count:    len(entries),
		Workouts: entries,
	}, nil
}
