package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wilsonaustin10/arnoldaibackend/workout"
)

func detailOf(t *testing.T, body []byte) string {
	t.Helper()
	var d struct {
		Detail string `json:"detail"`
	}
	require.NoError(t, json.Unmarshal(body, &d))
	return d.Detail
}

func TestCreateWorkout(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/workouts",
		`{"workout_date":"2025-03-14","exercise":"  Bench Press ","reps":8,"weight_lbs":135}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var w workout.Workout
	require.NoError(t, json.Unmarshal(body, &w))
	assert.NotZero(t, w.ID)
	assert.Equal(t, "bench press", w.Exercise)
	assert.Equal(t, 8, w.Reps)
	assert.InDelta(t, 135.0, w.WeightLbs, 1e-9)
	assert.Equal(t, "2025-03-14", w.WorkoutDate.String())
	assert.False(t, w.CreatedAt.IsZero())
}

func TestCreateWorkout_Rejections(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		body   string
		status int
		detail string
	}{
		{"zero reps", `{"workout_date":"2025-03-14","exercise":"squat","reps":0,"weight_lbs":100}`,
			http.StatusBadRequest, "Reps must be positive"},
		{"negative weight", `{"workout_date":"2025-03-14","exercise":"squat","reps":5,"weight_lbs":-1}`,
			http.StatusBadRequest, "Weight cannot be negative"},
		{"blank exercise", `{"workout_date":"2025-03-14","exercise":"   ","reps":5,"weight_lbs":0}`,
			http.StatusBadRequest, "Exercise name cannot be empty"},
		{"missing date", `{"exercise":"squat","reps":5,"weight_lbs":0}`,
			http.StatusBadRequest, "Workout date is required"},
		{"malformed json", `{"exercise":`, http.StatusBadRequest, ""},
		{"bad date", `{"workout_date":"yesterday","exercise":"squat","reps":5}`, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(t, http.MethodPost, "/workouts", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			detail := detailOf(t, body)
			if tt.detail != "" {
				assert.Equal(t, tt.detail, detail)
			} else {
				assert.NotEmpty(t, detail)
			}
		})
	}
}

func TestCreateWorkout_BodyTooLarge(t *testing.T) {
	env := newTestEnv(t, WithMaxBodySize(16))

	resp, _ := env.do(t, http.MethodPost, "/workouts", `{"exercise":"`+strings.Repeat("a", 64)+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestQueryWorkouts(t *testing.T) {
	env := newTestEnv(t)
	for _, body := range []string{
		`{"workout_date":"2025-03-13","exercise":"squat","reps":5,"weight_lbs":225}`,
		`{"workout_date":"2025-03-14","exercise":"squat","reps":3,"weight_lbs":245}`,
		`{"workout_date":"2025-03-14","exercise":"deadlift","reps":1,"weight_lbs":315}`,
	} {
		resp, _ := env.do(t, http.MethodPost, "/workouts", body)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp, body := env.do(t, http.MethodGet, "/workouts?exercise=Squat", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ws []workout.Workout
	require.NoError(t, json.Unmarshal(body, &ws))
	require.Len(t, ws, 2)
	assert.Equal(t, "2025-03-14", ws[0].WorkoutDate.String())

	resp, body = env.do(t, http.MethodGet, "/workouts?exercise=squat&date=2025-03-13", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &ws))
	require.Len(t, ws, 1)
	assert.Equal(t, 5, ws[0].Reps)

	resp, body = env.do(t, http.MethodGet, "/workouts?exercise=curls", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(body))

	resp, body = env.do(t, http.MethodGet, "/workouts", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "exercise name is required", detailOf(t, body))

	resp, _ = env.do(t, http.MethodGet, "/workouts?exercise=squat&date=03/14/2025", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRecentWorkouts(t *testing.T) {
	env := newTestEnv(t)
	for _, ex := range []string{"squat", "bench press", "row"} {
		resp, _ := env.do(t, http.MethodPost, "/workouts",
			`{"workout_date":"2025-03-14","exercise":"`+ex+`","reps":5,"weight_lbs":100}`)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp, body := env.do(t, http.MethodGet, "/workouts/recent?limit=2", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ws []workout.Workout
	require.NoError(t, json.Unmarshal(body, &ws))
	require.Len(t, ws, 2)
	assert.Equal(t, "row", ws[0].Exercise)

	resp, body = env.do(t, http.MethodGet, "/workouts/recent", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &ws))
	assert.Len(t, ws, 3)

	for _, q := range []string{"0", "101"} {
		resp, body = env.do(t, http.MethodGet, "/workouts/recent?limit="+q, "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "limit must be between 1 and 100", detailOf(t, body))
	}

	resp, body = env.do(t, http.MethodGet, "/workouts/recent?limit=ten", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "limit must be an integer", detailOf(t, body))
}
