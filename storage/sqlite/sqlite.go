// Package sqlite implements workout.Repository on SQLite using the pure-Go
// modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/wilsonaustin10/arnoldaibackend/storage/migrations"
	"github.com/wilsonaustin10/arnoldaibackend/workout"
)

// createdAtLayout is fixed width so created_at sorts lexically.
const createdAtLayout = "2006-01-02 15:04:05.000000000"

// Repository is a SQLite-backed workout.Repository.
type Repository struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open opens (creating if needed) the database at path. Use ":memory:" for a
// private in-memory database.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Repository, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := path
	if path != ":memory:" && !strings.Contains(path, "?") {
		dsn = path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite %s: %w", path, err)
	}
	// A single connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: ping sqlite: %w", err)
	}

	return &Repository{db: db, logger: logger, now: time.Now}, nil
}

// Migrate applies the embedded SQLite migrations.
func (r *Repository) Migrate(ctx context.Context) error {
	return r.RunMigrations(ctx, migrations.SQLite())
}

// RunMigrations executes unapplied .sql files from migrationsFS in name order,
// recording each in schema_migrations so it runs at most once.
func (r *Repository) RunMigrations(ctx context.Context, migrationsFS fs.FS) error {
	if _, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
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

		r.logger.Info("running migration", "file", name, "dialect", "sqlite")
		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("storage: begin migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("storage: execute migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
			name, r.now().UTC().Format(createdAtLayout),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("storage: record migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("storage: commit migration %s: %w", name, err)
		}
	}
	return nil
}

func (r *Repository) loadAppliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
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
	createdAt := r.now().UTC()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO workouts (workout_date, exercise, reps, weight_lbs, created_at) VALUES (?, ?, ?, ?, ?)`,
		in.WorkoutDate.String(), in.Exercise, in.Reps, in.WeightLbs, createdAt.Format(createdAtLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("storage: insert workout: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("storage: insert workout id: %w", err)
	}
	return &workout.Workout{
		ID:          id,
		WorkoutDate: in.WorkoutDate,
		Exercise:    in.Exercise,
		Reps:        in.Reps,
		WeightLbs:   in.WeightLbs,
		CreatedAt:   createdAt,
	}, nil
}

const selectColumns = `SELECT id, workout_date, exercise, reps, weight_lbs, created_at FROM workouts`

// Recent implements workout.Repository.
func (r *Repository) Recent(ctx context.Context, limit int) ([]workout.Workout, error) {
	return r.query(ctx, selectColumns+` ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
}

// ByExercise implements workout.Repository.
func (r *Repository) ByExercise(ctx context.Context, exercise string) ([]workout.Workout, error) {
	return r.query(ctx, selectColumns+` WHERE exercise = ? ORDER BY workout_date DESC, id DESC`, exercise)
}

// ByExerciseAndDate implements workout.Repository.
func (r *Repository) ByExerciseAndDate(ctx context.Context, exercise string, date workout.Date) ([]workout.Workout, error) {
	return r.query(ctx, selectColumns+` WHERE exercise = ? AND workout_date = ? ORDER BY id`, exercise, date.String())
}

func (r *Repository) query(ctx context.Context, q string, args ...any) ([]workout.Workout, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query workouts: %w", err)
	}
	defer rows.Close()

	out := []workout.Workout{}
	for rows.Next() {
		var (
			w         workout.Workout
			date      string
			createdAt string
		)
		if err := rows.Scan(&w.ID, &date, &w.Exercise, &w.Reps, &w.WeightLbs, &createdAt); err != nil {
			return nil, fmt.Errorf("storage: scan workout: %w", err)
		}
		if w.WorkoutDate, err = workout.ParseDate(date); err != nil {
			return nil, fmt.Errorf("storage: workout %d: %w", w.ID, err)
		}
		if w.CreatedAt, err = time.Parse(createdAtLayout, createdAt); err != nil {
			return nil, fmt.Errorf("storage: workout %d created_at: %w", w.ID, err)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate workouts: %w", err)
	}
	return out, nil
}

// Close closes the database.
func (r *Repository) Close() error {
	return r.db.Close()
}

var _ workout.Repository = (*Repository)(nil)
