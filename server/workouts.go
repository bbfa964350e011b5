package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/wilsonaustin10/arnoldaibackend/logger"
	"github.com/wilsonaustin10/arnoldaibackend/workout"
)

// handleCreateWorkout logs one set: 201 with the stored record, 400 when the
// body or its values are invalid.
func (s *Server) handleCreateWorkout(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodySize)

	var in workout.Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeDetail(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeDetail(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	created, err := s.workouts.Create(r.Context(), in)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// handleQueryWorkouts lists workouts for ?exercise= with an optional ?date=.
func (s *Server) handleQueryWorkouts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var date *workout.Date
	if raw := q.Get("date"); raw != "" {
		d, err := workout.ParseDate(raw)
		if err != nil {
			writeDetail(w, http.StatusBadRequest, err.Error())
			return
		}
		date = &d
	}

	ws, err := s.workouts.ByExercise(r.Context(), q.Get("exercise"), date)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeWorkouts(w, ws)
}

// handleRecentWorkouts lists the newest workouts, ?limit= defaulting to 10.
func (s *Server) handleRecentWorkouts(w http.ResponseWriter, r *http.Request) {
	limit := workout.DefaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeDetail(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}

	ws, err := s.workouts.Recent(r.Context(), limit)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeWorkouts(w, ws)
}

func writeWorkouts(w http.ResponseWriter, ws []workout.Workout) {
	if ws == nil {
		ws = []workout.Workout{}
	}
	writeJSON(w, http.StatusOK, ws)
}

func (s *Server) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	if workout.IsValidation(err) {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	logger.ErrorContext(r.Context(), "Workout store failed", "error", err)
	writeDetail(w, http.StatusInternalServerError, "internal error")
}
