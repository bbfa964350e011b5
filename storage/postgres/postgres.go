// Package postgres implements workout.Repository on PostgreSQL using a
// pgx connection pool.
package postgres

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wilsonaustin10/arnoldaibackend/storage/migrations"
	"github.com/wilsonaustin10/arnoldaibackend/workout"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = 50 * time.Millisecond
)

// Repository is a PostgreSQL-backed workout.Repository.
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New connects a pool to dsn and verifies it with a ping.
func New(ctx context.Context, dsn string, logger *slog.Logger) (*Repository, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse pool DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}

	return &Repository{pool: pool, logger: logger}, nil
}

// Pool returns the underlying connection pool.
func (r *Repository) Pool() *pgxpool.Pool {
	return r.pool
}

// Migrate applies the embedded PostgreSQL migrations.
func (r *Repository) Migrate(ctx context.Context) error {
	return r.RunMigrations(ctx, migrations.Postgres())
}

// RunMigrations executes unapplied .sql files from migrationsFS in name order.
// Applied files are tracked in schema_migrations so each runs at most once.
func (r *Repository) RunMigrations(ctx context.Context, migrationsFS fs.FS) error {
	if _, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`); err != nil {
		return fmt.Errorf("storage: create schema_migrations: %w", err)
	}

	applied, err := r.loadAppliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("storage: load applied migrations: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, ".")
	if err != nil {
		return fmt.Errorf("storage: read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		name := entry.Name()
		if applied[name] {
			r.logger.Debug("migration already applied, skipping", "file", name)
			continue
		}

		content, err := fs.ReadFile(migrationsFS, name)
		if err != nil {
			return fmt.Errorf("storage: read migration %s: %w", name, err)
		}

		r.logger.Info("running migration", "file", name, "dialect", "postgres")
		if _, err := r.pool.Exec(ctx, string(content)); err != nil {
			return fmt.Errorf("storage: execute migration %s: %w", name, err)
		}
		if _, err := r.pool.Exec(ctx,
			`INSERT INTO schema_migrations (version) VALUES ($1) ON CONFLICT DO NOTHING`, name,
		); err != nil {
			return fmt.Errorf("storage: record migration %s: %w", name, err)
		}
	}
	return nil
}

func (r *Repository) loadAppliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := r.pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// Insert implements workout.Repository.
func (r *Repository) Insert(ctx context.Context, in workout.Input) (*workout.Workout, error) {
	w := &workout.Workout{
		WorkoutDate: in.WorkoutDate,
		Exercise:    in.Exercise,
		Reps:        in.Reps,
		WeightLbs:   in.WeightLbs,
	}
	err := WithRetry(ctx, defaultMaxRetries, defaultRetryDelay, func() error {
		return r.pool.QueryRow(ctx,
			`INSERT INTO workouts (workout_date, exercise, reps, weight_lbs)
			 VALUES ($1, $2, $3, $4)
			 RETURNING id, created_at`,
			in.WorkoutDate.Time(), in.Exercise, in.Reps, in.WeightLbs,
		).Scan(&w.ID, &w.CreatedAt)
	})
	if err != nil {
		return nil, fmt.Errorf("storage: insert workout: %w", err)
	}
	return w, nil
}

const selectColumns = `SELECT id, workout_date, exercise, reps, weight_lbs, created_at FROM workouts`

// Recent implements workout.Repository.
func (r *Repository) Recent(ctx context.Context, limit int) ([]workout.Workout, error) {
	return r.query(ctx, selectColumns+` ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
}

// ByExercise implements workout.Repository.
func (r *Repository) ByExercise(ctx context.Context, exercise string) ([]workout.Workout, error) {
	return r.query(ctx, selectColumns+` WHERE exercise = $1 ORDER BY workout_date DESC, id DESC`, exercise)
}

// ByExerciseAndDate implements workout.Repository.
func (r *Repository) ByExerciseAndDate(ctx context.Context, exercise string, date workout.Date) ([]workout.Workout, error) {
	return r.query(ctx, selectColumns+` WHERE exercise = $1 AND workout_date = $2 ORDER BY id`, exercise, date.Time())
}

func (r *Repository) query(ctx context.Context, q string, args ...any) ([]workout.Workout, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query workouts: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (workout.Workout, error) {
		var (
			w    workout.Workout
			date time.Time
		)
		if err := row.Scan(&w.ID, &date, &w.Exercise, &w.Reps, &w.WeightLbs, &w.CreatedAt); err != nil {
			return w, err
		}
		w.WorkoutDate = workout.DateOf(date)
		return w, nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: scan workouts: %w", err)
	}
	if out == nil {
		out = []workout.Workout{}
	}
	return out, nil
}

// Close closes the pool.
func (r *Repository) Close() error {
	r.pool.Close()
	return nil
}

var _ workout.Repository = (*Repository)(nil)
