// netprov is a network-booted bare-metal provisioning client.
// Copyright (C) 2025 Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package journal persists a local history of recipe runs in SQLite, so
// an operator can inspect what happened on a past boot after the
// client process itself has exited. This supplements the original
// client, which only ever printed to the console and kept no run
// history at all.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const defaultBusyTimeout = 5 * time.Second

// ErrNotFound indicates no rows matched the query.
var ErrNotFound = errors.New("journal: not found")

// Journal wraps a SQLite database recording recipe run history.
type Journal struct {
	db *sql.DB
}

// Open opens (or creates) the journal database at path, applies
// connection pragmas, and runs migrations.
func Open(ctx context.Context, path string) (*Journal, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)",
		path, int(defaultBusyTimeout.Milliseconds()))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: open sqlite: %w", err)
	}
	db.SetConnMaxLifetime(0)
	db.SetMaxIdleConns(2)
	db.SetMaxOpenConns(4)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: ping sqlite: %w", err)
	}

	j := &Journal{db: db}
	if err := j.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	return j, nil
}

// Close closes the underlying database connection.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

func (j *Journal) migrate(ctx context.Context) error {
	if err := j.ensureSettingsTable(ctx); err != nil {
		return err
	}
	cur, err := j.schemaVersion(ctx)
	if err != nil {
		return err
	}
	if cur < 1 {
		if err := j.migrateToV1(ctx); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
		if err := j.setSchemaVersion(ctx, 1); err != nil {
			return err
		}
	}
	return nil
}

func (j *Journal) ensureSettingsTable(ctx context.Context) error {
	const ddl = `CREATE TABLE IF NOT EXISTS settings (key TEXT PRIMARY KEY, value TEXT NOT NULL);`
	_, err := j.db.ExecContext(ctx, ddl)
	return err
}

func (j *Journal) schemaVersion(ctx context.Context) (int, error) {
	const q = `SELECT value FROM settings WHERE key='schema_version'`
	var val string
	err := j.db.QueryRowContext(ctx, q).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	var v int
	if _, err := fmt.Sscanf(val, "%d", &v); err != nil {
		return 0, nil
	}
	return v, nil
}

func (j *Journal) setSchemaVersion(ctx context.Context, v int) error {
	const upsert = `INSERT INTO settings(key, value) VALUES('schema_version', ?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value;`
	_, err := j.db.ExecContext(ctx, upsert, fmt.Sprintf("%d", v))
	return err
}

func (j *Journal) migrateToV1(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
  id           INTEGER PRIMARY KEY AUTOINCREMENT,
  run_uuid     TEXT NOT NULL,
  recipe_name  TEXT NOT NULL,
  started_at   TIMESTAMP NOT NULL,
  finished_at  TIMESTAMP NULL,
  status       TEXT NOT NULL CHECK (status IN ('running','succeeded','failed')),
  failed_step  INTEGER NULL,
  error        TEXT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_runs_uuid ON runs(run_uuid);`,
		`CREATE TABLE IF NOT EXISTS run_steps (
  id         INTEGER PRIMARY KEY AUTOINCREMENT,
  run_id     INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
  step_index INTEGER NOT NULL,
  kind       TEXT NOT NULL,
  detail     TEXT NOT NULL,
  status     TEXT NOT NULL CHECK (status IN ('ok','error')),
  error      TEXT NULL,
  recorded_at TIMESTAMP NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_run_steps_run ON run_steps(run_id, step_index);`,
	}
	for _, stmt := range stmts {
		if _, err := j.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute ddl: %w", err)
		}
	}
	return nil
}

// RunRecord is one recipe execution.
type RunRecord struct {
	ID         int64
	UUID       string
	RecipeName string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     string
	FailedStep *int
	Error      string
}

// StepRecord is one executed operation within a run.
type StepRecord struct {
	RunID      int64
	StepIndex  int
	Kind       string
	Detail     string
	Status     string
	Error      string
	RecordedAt time.Time
}

// StartRun inserts a new run row in the "running" state and returns its
// ID and its run UUID. The UUID is a stable, human-shareable identifier
// for cross-referencing a run against external logs or tickets, since
// the integer ID is only meaningful within this one journal database.
func (j *Journal) StartRun(ctx context.Context, recipeName string) (int64, string, error) {
	runUUID := uuid.New().String()
	const ins = `INSERT INTO runs(run_uuid, recipe_name, started_at, status) VALUES(?, ?, ?, 'running')`
	res, err := j.db.ExecContext(ctx, ins, runUUID, recipeName, time.Now().UTC())
	if err != nil {
		return 0, "", fmt.Errorf("start run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, "", fmt.Errorf("start run: %w", err)
	}
	return id, runUUID, nil
}

// FinishRun marks a run as succeeded or failed.
func (j *Journal) FinishRun(ctx context.Context, runID int64, status string, failedStep *int, runErr error) error {
	const upd = `UPDATE runs SET finished_at=?, status=?, failed_step=?, error=? WHERE id=?`
	var errText any
	if runErr != nil {
		errText = runErr.Error()
	}
	var step any
	if failedStep != nil {
		step = *failedStep
	}
	_, err := j.db.ExecContext(ctx, upd, time.Now().UTC(), status, step, errText, runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// AppendStep records the outcome of one executed operation.
func (j *Journal) AppendStep(ctx context.Context, s StepRecord) error {
	const ins = `INSERT INTO run_steps(run_id, step_index, kind, detail, status, error, recorded_at)
VALUES(?, ?, ?, ?, ?, ?, ?)`
	var errText any
	if s.Error != "" {
		errText = s.Error
	}
	_, err := j.db.ExecContext(ctx, ins, s.RunID, s.StepIndex, s.Kind, s.Detail, s.Status, errText, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("append step: %w", err)
	}
	return nil
}

// RecentRuns returns the most recent runs, newest first, bounded by limit.
func (j *Journal) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `SELECT id, run_uuid, recipe_name, started_at, finished_at, status, failed_step, error
FROM runs ORDER BY started_at DESC LIMIT ?`
	rows, err := j.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("recent runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		var finishedAt sql.NullTime
		var failedStep sql.NullInt64
		var errText sql.NullString
		if err := rows.Scan(&r.ID, &r.UUID, &r.RecipeName, &r.StartedAt, &finishedAt, &r.Status, &failedStep, &errText); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt = r.StartedAt.UTC()
		if finishedAt.Valid {
			t := finishedAt.Time.UTC()
			r.FinishedAt = &t
		}
		if failedStep.Valid {
			v := int(failedStep.Int64)
			r.FailedStep = &v
		}
		r.Error = errText.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

// StepsForRun returns a run's steps ordered by step index.
func (j *Journal) StepsForRun(ctx context.Context, runID int64) ([]StepRecord, error) {
	const q = `SELECT run_id, step_index, kind, detail, status, error, recorded_at
FROM run_steps WHERE run_id=? ORDER BY step_index ASC`
	rows, err := j.db.QueryContext(ctx, q, runID)
	if err != nil {
		return nil, fmt.Errorf("steps for run: %w", err)
	}
	defer rows.Close()

	var out []StepRecord
	for rows.Next() {
		var s StepRecord
		var errText sql.NullString
		if err := rows.Scan(&s.RunID, &s.StepIndex, &s.Kind, &s.Detail, &s.Status, &errText, &s.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		s.Error = errText.String
		s.RecordedAt = s.RecordedAt.UTC()
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate steps: %w", err)
	}
	return out, nil
}
