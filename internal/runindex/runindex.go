// Package runindex maintains a small SQLite side-index of completed
// runs, queryable by the CLI's status command. It is not authoritative:
// the manifest files under the state directory (internal/manifest) are
// the source of truth for any given run. The index exists purely so
// that "what ran last for tool X" doesn't require walking the builds
// directory tree.
//
// Schema setup follows golang-migrate's embedded-source idiom rather
// than the teacher's exec-schema.sql-on-open approach (boxer.go), since
// the teacher already pulls in golang-migrate/migrate/v4 as a
// dependency without ever actually driving it.
package runindex

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/joyshmitz/doodlestein-self-releaser/internal/manifest"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Index is a handle on the run side-index.
type Index struct {
	db *sql.DB
}

// Open opens (creating if needed) the SQLite database at path and
// brings its schema up to date.
func Open(path string) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("runindex: opening %s: %w", path, err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("runindex: enabling WAL: %w", err)
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Index{db: db}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("runindex: reading embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("runindex: creating migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("runindex: building migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("runindex: applying migrations: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (idx *Index) Close() error {
	return idx.db.Close()
}

// RunSummary is a denormalized projection of a manifest.Run suitable
// for the status command's last_run field.
type RunSummary struct {
	RunID      string
	Tool       string
	Version    string
	Status     string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// Record upserts a finished run into the index. r.Status must already
// be finalized (manifest.Run.Finalize called) before recording.
// finishedAt is supplied by the caller since Run itself only tracks
// StartedAt.
func (idx *Index) Record(r *manifest.Run, finishedAt time.Time) error {
	var finishedAtArg any
	if !finishedAt.IsZero() {
		finishedAtArg = finishedAt.UTC().Format(time.RFC3339)
	}
	_, err := idx.db.Exec(
		`INSERT INTO runs (run_id, tool, version, status, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (run_id) DO UPDATE SET
		   status = excluded.status,
		   finished_at = excluded.finished_at`,
		r.RunID, r.Tool, r.Version, string(r.Status), r.StartedAt.UTC().Format(time.RFC3339), finishedAtArg,
	)
	if err != nil {
		return fmt.Errorf("runindex: recording run %s: %w", r.RunID, err)
	}
	return nil
}

// LastRun returns the most recently started run for tool, or nil if
// none is indexed yet. If version is non-empty, results are further
// restricted to that version.
func (idx *Index) LastRun(tool, version string) (*RunSummary, error) {
	query := `SELECT run_id, tool, version, status, started_at, finished_at
	          FROM runs WHERE tool = ?`
	args := []any{tool}
	if version != "" {
		query += " AND version = ?"
		args = append(args, version)
	}
	query += " ORDER BY started_at DESC LIMIT 1"

	row := idx.db.QueryRow(query, args...)
	var (
		s          RunSummary
		startedAt  string
		finishedAt sql.NullString
	)
	if err := row.Scan(&s.RunID, &s.Tool, &s.Version, &s.Status, &startedAt, &finishedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("runindex: querying last run for %s: %w", tool, err)
	}
	parsed, err := time.Parse(time.RFC3339, startedAt)
	if err != nil {
		return nil, fmt.Errorf("runindex: parsing started_at: %w", err)
	}
	s.StartedAt = parsed
	if finishedAt.Valid {
		t, err := time.Parse(time.RFC3339, finishedAt.String)
		if err != nil {
			return nil, fmt.Errorf("runindex: parsing finished_at: %w", err)
		}
		s.FinishedAt = &t
	}
	return &s, nil
}

// Recent returns up to limit most recently started runs across all
// tools, newest first.
func (idx *Index) Recent(limit int) ([]RunSummary, error) {
	rows, err := idx.db.Query(
		`SELECT run_id, tool, version, status, started_at, finished_at
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("runindex: querying recent runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var (
			s          RunSummary
			startedAt  string
			finishedAt sql.NullString
		)
		if err := rows.Scan(&s.RunID, &s.Tool, &s.Version, &s.Status, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("runindex: scanning recent run: %w", err)
		}
		s.StartedAt, err = time.Parse(time.RFC3339, startedAt)
		if err != nil {
			return nil, fmt.Errorf("runindex: parsing started_at: %w", err)
		}
		if finishedAt.Valid {
			t, err := time.Parse(time.RFC3339, finishedAt.String)
			if err != nil {
				return nil, fmt.Errorf("runindex: parsing finished_at: %w", err)
			}
			s.FinishedAt = &t
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
