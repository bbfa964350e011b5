package postgres_test

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/wilsonaustin10/arnoldaibackend/storage/postgres"
	"github.com/wilsonaustin10/arnoldaibackend/workout"
)

// testRepo is shared by every test in this package. It stays nil unless
// ARNOLD_PG_TESTS=1, in which case a PostgreSQL container is started.
var testRepo *postgres.Repository

func TestMain(m *testing.M) {
	if os.Getenv("ARNOLD_PG_TESTS") != "1" {
		os.Exit(m.Run())
	}

	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "arnold",
			"POSTGRES_PASSWORD": "arnold",
			"POSTGRES_DB":       "arnold",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start container: %v\n", err)
		os.Exit(1)
	}

	host, err := container.Host(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get container host: %v\n", err)
		os.Exit(1)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get container port: %v\n", err)
		os.Exit(1)
	}

	dsn := fmt.Sprintf("postgres://arnold:arnold@%s:%s/arnold?sslmode=disable", host, port.Port())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	testRepo, err = postgres.New(ctx, dsn, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	if err := testRepo.Migrate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run migrations: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	_ = testRepo.Close()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func requireDB(t *testing.T) {
	t.Helper()
	if testRepo == nil {
		t.Skip("set ARNOLD_PG_TESTS=1 to run PostgreSQL integration tests")
	}
	_, err := testRepo.Pool().Exec(context.Background(), `TRUNCATE workouts RESTART IDENTITY`)
	require.NoError(t, err)
}

func TestInsertAndRecent(t *testing.T) {
	requireDB(t)
	ctx := context.Background()

	first, err := testRepo.Insert(ctx, workout.Input{
		Exercise: "bench press", Reps: 8, WeightLbs: 185, WorkoutDate: workout.NewDate(2024, time.July, 4),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.ID)
	assert.False(t, first.CreatedAt.IsZero())

	second, err := testRepo.Insert(ctx, workout.Input{
		Exercise: "squat", Reps: 5, WeightLbs: 275, WorkoutDate: workout.NewDate(2024, time.July, 4),
	})
	require.NoError(t, err)

	ws, err := testRepo.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, ws, 2)
	assert.Equal(t, second.ID, ws[0].ID)
	assert.Equal(t, "2024-07-04", ws[0].WorkoutDate.String())
}

func TestByExercise(t *testing.T) {
	requireDB(t)
	ctx := context.Background()

	for _, d := range []workout.Date{
		workout.NewDate(2024, time.January, 1),
		workout.NewDate(2024, time.January, 3),
	} {
		_, err := testRepo.Insert(ctx, workout.Input{Exercise: "row", Reps: 10, WeightLbs: 135, WorkoutDate: d})
		require.NoError(t, err)
	}

	ws, err := testRepo.ByExercise(ctx, "row")
	require.NoError(t, err)
	require.Len(t, ws, 2)
	assert.Equal(t, "2024-01-03", ws[0].WorkoutDate.String())

	onDay, err := testRepo.ByExerciseAndDate(ctx, "row", workout.NewDate(2024, time.January, 1))
	require.NoError(t, err)
	assert.Len(t, onDay, 1)

	none, err := testRepo.ByExercise(ctx, "curl")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMigrateIsIdempotent(t *testing.T) {
	requireDB(t)
	require.NoError(t, testRepo.Migrate(context.Background()))
}
