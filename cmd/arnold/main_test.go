package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wilsonaustin10/arnoldaibackend/config"
	"github.com/wilsonaustin10/arnoldaibackend/events"
	metrics "github.com/wilsonaustin10/arnoldaibackend/metrics/prometheus"
	"github.com/wilsonaustin10/arnoldaibackend/server"
	"github.com/wilsonaustin10/arnoldaibackend/session"
	"github.com/wilsonaustin10/arnoldaibackend/statestore"
	"github.com/wilsonaustin10/arnoldaibackend/storage/memory"
	"github.com/wilsonaustin10/arnoldaibackend/tools"
	"github.com/wilsonaustin10/arnoldaibackend/workout"
)

func TestOpenRepository_SQLite(t *testing.T) {
	ctx := context.Background()
	repo, err := openRepository(ctx, config.StorageConfig{Driver: config.DriverSQLite, DSN: ":memory:"}, true)
	require.NoError(t, err)
	defer func() { _ = repo.Close() }()

	svc := workout.NewService(repo)
	w, err := svc.Create(ctx, workout.Input{
		WorkoutDate: workout.Today(),
		Exercise:    "Push-ups",
		Reps:        20,
	})
	require.NoError(t, err)
	assert.Equal(t, "push-ups", w.Exercise)
}

func TestOpenRepository_Memory(t *testing.T) {
	repo, err := openRepository(context.Background(), config.StorageConfig{Driver: config.DriverMemory}, true)
	require.NoError(t, err)
	assert.IsType(t, &memory.Repository{}, repo)
}

func TestOpenRepository_Unsupported(t *testing.T) {
	_, err := openRepository(context.Background(), config.StorageConfig{Driver: "mongo"}, false)
	assert.ErrorContains(t, err, `unsupported storage driver "mongo"`)
}

func TestOpenSnapshotStore(t *testing.T) {
	ctx := context.Background()

	store, closeFn, err := openSnapshotStore(ctx, config.RedisConfig{})
	require.NoError(t, err)
	defer closeFn()
	assert.IsType(t, &statestore.MemoryStore{}, store)

	mr := miniredis.RunT(t)
	store, closeFn, err = openSnapshotStore(ctx, config.RedisConfig{Addr: mr.Addr(), Prefix: "test"})
	require.NoError(t, err)
	defer closeFn()
	require.IsType(t, &statestore.RedisStore{}, store)

	require.NoError(t, store.Save(ctx, &statestore.Snapshot{SessionID: "s1"}))
	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, ids)
}

func TestOpenSnapshotStore_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, _, err := openSnapshotStore(context.Background(), config.RedisConfig{Addr: addr})
	assert.ErrorContains(t, err, "failed to reach redis")
}

func TestSetupTracing_Disabled(t *testing.T) {
	shutdown, err := setupTracing(context.Background(), config.TelemetryConfig{})
	require.NoError(t, err)
	shutdown(context.Background())
}

func TestSessionFactory(t *testing.T) {
	cfg := config.Defaults()
	cfg.OpenAI.APIKey = "sk-test"
	cfg.Session.Voice = "verse"

	dispatcher := tools.NewDispatcher(workout.NewService(memory.New()))
	factory := newSessionFactory(&cfg, dispatcher, events.NewEventBus(), statestore.NewMemoryStore())

	a := factory(session.Callbacks{})
	b := factory(session.Callbacks{})
	require.IsType(t, &session.Manager{}, a)
	assert.NotEqual(t, a.SessionID(), b.SessionID())
	assert.False(t, a.(*session.Manager).IsConnected())
}

// stuckStore never returns and ignores its context.
type stuckStore struct {
	tools.WorkoutStore
	release chan struct{}
}

func (s stuckStore) Recent(context.Context, int) ([]workout.Workout, error) {
	<-s.release
	return nil, nil
}

func TestNewDispatcher_ToolTimeout(t *testing.T) {
	cfg := config.Defaults()
	cfg.Session.ToolTimeout = 20 * time.Millisecond
	store := stuckStore{release: make(chan struct{})}
	t.Cleanup(func() { close(store.release) })

	d := newDispatcher(&cfg, store, events.NewEventBus())
	start := time.Now()
	r := d.Dispatch(context.Background(), tools.ToolCall{Name: tools.ToolGetRecentWorkouts, ID: "slow"})

	assert.False(t, r.Success())
	assert.Contains(t, r.Error, tools.ErrToolTimeout.Error())
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestServerOptions_MetricsMount(t *testing.T) {
	cfg := config.Defaults()
	svc := workout.NewService(memory.New())
	factory := func(session.Callbacks) server.Session { return nil }
	exporter := metrics.NewExporter("")

	srv := server.New(factory, svc, serverOptions(&cfg, statestore.NewMemoryStore(), exporter)...)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	// A dedicated metrics listener keeps /metrics off the main server.
	cfg.Metrics.Addr = ":0"
	srv = server.New(factory, svc, serverOptions(&cfg, statestore.NewMemoryStore(), exporter)...)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWriteWorkouts(t *testing.T) {
	var buf bytes.Buffer
	writeWorkouts(&buf, "Recent workouts", nil, true)
	assert.Equal(t, "No workouts found.\n", buf.String())

	d, err := workout.ParseDate("2025-01-15")
	require.NoError(t, err)
	list := []workout.Workout{{ID: 1, WorkoutDate: d, Exercise: "bench press", Reps: 8, WeightLbs: 185.5}}

	buf.Reset()
	writeWorkouts(&buf, "Recent workouts", list, true)
	assert.Equal(t, "Recent workouts:\n  - bench press: 8 reps @ 185.5 lbs (2025-01-15)\n", buf.String())

	buf.Reset()
	writeWorkouts(&buf, "bench press history", list, false)
	assert.Equal(t, "bench press history:\n  - 8 reps @ 185.5 lbs (2025-01-15)\n", buf.String())
}
