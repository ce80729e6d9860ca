// Jobclerk is a job dispatch and lease tracking service.
// Copyright (C) 2025  Matthew Burns
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

// Package store provides the SQLite-backed persistence layer for the clerk:
// schema migrations plus the small set of atomic SQL statements that encode
// the lease invariants (take_job, update_job, handle_stuck_jobs).
//
// Every claim statement is a single UPDATE with a subselect and RETURNING.
// SQLite serializes writers, so one statement is one atomic claim: two
// concurrent take_job calls can never observe the same candidate row, which
// is the property the canonical FOR UPDATE SKIP LOCKED shape exists to
// provide on server databases.
//
// Timestamps are stored as integer Unix milliseconds so that the reaper
// cutoff (now - heartbeat > heartbeat_expiration_millis) is plain integer
// arithmetic inside one statement.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"jobclerk/pkg/clerk"
)

const (
	defaultBusyTimeout = 5 * time.Second

	// settings keys
	schemaVersionKey = "schema_version"
)

// ErrNotFound indicates no rows matched the query, or that an update's
// authorization predicate (id, project, running state, token) failed. The
// two cases are deliberately indistinguishable.
var ErrNotFound = errors.New("not found")

// Store wraps a SQLite database connection and provides the clerk's typed
// accessors.
type Store struct {
	db *sql.DB

	// now is the clock used for created/started/heartbeat/finished
	// stamps; overridable in tests.
	now func() time.Time
}

// Open opens (or creates) a SQLite database at path, applies connection
// pragmas, runs migrations, and returns a ready Store.
func Open(ctx context.Context, path string) (*Store, error) {
	// DSN with pragmas for durability and concurrency.
	// - busy_timeout: backoff on locked database
	// - journal_mode=WAL: better concurrency
	// - foreign_keys=ON: enforce referential integrity
	// - synchronous=NORMAL: reasonable safety/perf tradeoff
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)", path, int(defaultBusyTimeout.Milliseconds()))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Reasonable pool settings for a single-node embedded DB
	db.SetConnMaxLifetime(0)
	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(8)

	if err := pingContext(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Ping verifies the database connection is still usable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// --------------- Migrations ---------------

func (s *Store) migrate(ctx context.Context) error {
	if err := s.ensureSettingsTable(ctx); err != nil {
		return err
	}

	cur, err := s.getSchemaVersion(ctx)
	if err != nil {
		return err
	}

	target := 1 // latest schema version in this file

	// v1: initial schema
	if cur < 1 {
		if err := s.migrateToV1(ctx); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
		if err := s.setSchemaVersion(ctx, 1); err != nil {
			return err
		}
		cur = 1
	}

	if cur != target {
		// Future migrations go here
	}

	return nil
}

func (s *Store) ensureSettingsTable(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS settings (
  key   TEXT PRIMARY KEY,
  value TEXT NOT NULL
);`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) getSchemaVersion(ctx context.Context) (int, error) {
	const q = `SELECT value FROM settings WHERE key=?`
	var val string
	err := s.db.QueryRowContext(ctx, q, schemaVersionKey).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	var v int
	if _, err := fmt.Sscanf(val, "%d", &v); err != nil {
		// If corrupted, force to 0 to allow re-init
		return 0, nil
	}
	return v, nil
}

func (s *Store) setSchemaVersion(ctx context.Context, v int) error {
	const upsert = `
INSERT INTO settings(key, value) VALUES(?, ?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value;`
	_, err := s.db.ExecContext(ctx, upsert, schemaVersionKey, fmt.Sprintf("%d", v))
	if err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return nil
}

func (s *Store) migrateToV1(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS projects (
  id                          INTEGER PRIMARY KEY AUTOINCREMENT,
  name                        TEXT NOT NULL UNIQUE,
  heartbeat_expiration_millis INTEGER NOT NULL CHECK (heartbeat_expiration_millis > 0),
  data                        TEXT NOT NULL DEFAULT 'null'
);`,
		// Lease columns (started, heartbeat, runner, token) are only
		// defined while state='running'; token is cleared on every
		// exit from running so it can never authorize a stale update.
		`CREATE TABLE IF NOT EXISTS jobs (
  id        INTEGER PRIMARY KEY AUTOINCREMENT,
  project   INTEGER NOT NULL REFERENCES projects(id),
  state     TEXT NOT NULL DEFAULT 'available'
            CHECK (state IN ('available','running','canceling','canceled','succeeded','failed')),
  created   INTEGER NOT NULL,
  started   INTEGER NULL,
  finished  INTEGER NULL,
  heartbeat INTEGER NULL,
  runner    TEXT NULL,
  token     TEXT NULL,
  priority  INTEGER NOT NULL DEFAULT 0,
  data      TEXT NOT NULL DEFAULT 'null'
);`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_dispatch ON jobs(project, state, priority, created);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute ddl: %w", err)
		}
	}
	return nil
}

// --------------- Projects ---------------

// AddProject inserts a project and returns its id. A duplicate name
// violates the schema's unique constraint and surfaces as a plain error;
// validation of heartbeat_expiration_millis happens above the store.
func (s *Store) AddProject(ctx context.Context, name string, heartbeatExpirationMillis int64, data json.RawMessage) (int64, error) {
	const ins = `
INSERT INTO projects (name, heartbeat_expiration_millis, data)
VALUES (?, ?, ?)
RETURNING id`
	var id int64
	err := s.db.QueryRowContext(ctx, ins, name, heartbeatExpirationMillis, jsonText(data)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert project: %w", err)
	}
	return id, nil
}

// GetProject retrieves a project by name.
func (s *Store) GetProject(ctx context.Context, name string) (*clerk.Project, error) {
	const q = `SELECT id, name, heartbeat_expiration_millis, data FROM projects WHERE name=?`
	var (
		p    clerk.Project
		data string
	)
	err := s.db.QueryRowContext(ctx, q, name).Scan(&p.ID, &p.Name, &p.HeartbeatExpirationMillis, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	p.Data = json.RawMessage(data)
	return &p, nil
}

// ListProjects returns all projects ordered by name.
func (s *Store) ListProjects(ctx context.Context) ([]clerk.Project, error) {
	const q = `SELECT id, name, heartbeat_expiration_millis, data FROM projects ORDER BY name`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var out []clerk.Project
	for rows.Next() {
		var (
			p    clerk.Project
			data string
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.HeartbeatExpirationMillis, &data); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		p.Data = json.RawMessage(data)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return out, nil
}

// --------------- Jobs ---------------

// AddJob inserts an available job with default priority, resolving the
// project by name inside the statement. An unknown project makes the
// subselect yield NULL and the insert fails on the NOT NULL constraint;
// the store does not pre-check.
func (s *Store) AddJob(ctx context.Context, projectName string, data json.RawMessage) (int64, error) {
	const ins = `
INSERT INTO jobs (project, created, data)
VALUES ((SELECT id FROM projects WHERE name = ?), ?, ?)
RETURNING id`
	var id int64
	err := s.db.QueryRowContext(ctx, ins, projectName, s.nowMillis(), jsonText(data)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert job: %w", err)
	}
	return id, nil
}

const jobColumns = `j.id, j.project, j.state, j.created, j.started, j.finished, j.priority, j.data`

// GetJob retrieves a single job scoped to a project.
func (s *Store) GetJob(ctx context.Context, projectName string, jobID int64) (*clerk.Job, error) {
	q := `SELECT ` + jobColumns + `
FROM jobs j
WHERE j.project = (SELECT id FROM projects WHERE name = ?) AND j.id = ?`
	job, err := scanJob(s.db.QueryRowContext(ctx, q, projectName, jobID), projectName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// GetJobs returns every job in a project. The id ordering is an
// implementation detail; callers must not rely on it.
func (s *Store) GetJobs(ctx context.Context, projectName string) ([]clerk.Job, error) {
	q := `SELECT ` + jobColumns + `
FROM jobs j
WHERE j.project = (SELECT id FROM projects WHERE name = ?)
ORDER BY j.id`
	rows, err := s.db.QueryContext(ctx, q, projectName)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []clerk.Job{}
	for rows.Next() {
		job, err := scanJob(rows, projectName)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

// --------------- Lease statements ---------------

// TakeJob atomically claims the next available job in a project for the
// given runner: smallest priority first, oldest created breaking ties. The
// claim is a single statement, so concurrent callers are guaranteed
// distinct rows (or no row). Returns (0, false, nil) when the project has
// no available jobs; that is not an error.
//
// The token is minted by the caller and becomes the lease credential; the
// store writes it verbatim.
func (s *Store) TakeJob(ctx context.Context, projectName, runner, token string) (int64, bool, error) {
	const claim = `
UPDATE jobs
SET state = 'running', started = ?2, heartbeat = ?2, runner = ?3, token = ?4
WHERE id = (
  SELECT j.id FROM jobs j
  WHERE j.project = (SELECT id FROM projects WHERE name = ?1)
    AND j.state = 'available'
  ORDER BY j.priority ASC, j.created ASC, j.id ASC
  LIMIT 1
)
RETURNING id`
	var id int64
	err := s.db.QueryRowContext(ctx, claim, projectName, s.nowMillis(), runner, token).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("take job: %w", err)
	}
	return id, true, nil
}

// UpdateJob applies a runner's update to a leased job as one atomic UPDATE
// gated on (id, project, state='running', token). Zero rows updated means
// ErrNotFound, whether the job does not exist, is no longer running, or the
// token is wrong.
//
// A nil state is a heartbeat. JobStateAvailable is a voluntary surrender;
// terminal states stamp finished and clear the token. A null data leaves
// the payload unchanged (COALESCE); non-null replaces it wholesale.
func (s *Store) UpdateJob(ctx context.Context, projectName string, jobID int64, token string, state *clerk.JobState, data json.RawMessage) error {
	var (
		set  string
		args []any
	)
	switch {
	case state == nil:
		set = `heartbeat = ?, data = COALESCE(?, data)`
		args = append(args, s.nowMillis(), jsonTextOrNil(data))
	case *state == clerk.JobStateAvailable:
		set = `state = 'available', started = NULL, token = NULL, data = COALESCE(?, data)`
		args = append(args, jsonTextOrNil(data))
	case state.Terminal():
		set = `state = ?, finished = ?, token = NULL, data = COALESCE(?, data)`
		args = append(args, string(*state), s.nowMillis(), jsonTextOrNil(data))
	default:
		// running and canceling are not valid update targets; the
		// dispatch layer rejects them before reaching the store.
		return fmt.Errorf("state %q is not a valid update target", *state)
	}

	query := `
UPDATE jobs
SET ` + set + `
WHERE id = ?
  AND project = (SELECT id FROM projects WHERE name = ?)
  AND state = 'running'
  AND token = ?
RETURNING id`
	args = append(args, jobID, projectName, token)

	var id int64
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// HandleStuckJobs returns every running job whose heartbeat is older than
// its project's expiration window to the available pool, clearing the
// lease. One atomic statement; idempotent and safe to run concurrently
// with TakeJob and UpdateJob. Returns the number of jobs reclaimed.
func (s *Store) HandleStuckJobs(ctx context.Context) (int64, error) {
	const reap = `
UPDATE jobs
SET state = 'available', started = NULL, token = NULL, runner = NULL
WHERE state = 'running' AND id IN (
  SELECT j.id FROM jobs j
  JOIN projects p ON p.id = j.project
  WHERE j.state = 'running'
    AND j.heartbeat IS NOT NULL
    AND ?1 - j.heartbeat > p.heartbeat_expiration_millis
)`
	res, err := s.db.ExecContext(ctx, reap, s.nowMillis())
	if err != nil {
		return 0, fmt.Errorf("handle stuck jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("handle stuck jobs: rows affected: %w", err)
	}
	return n, nil
}

// --------------- Job summaries (web UI) ---------------

// JobSummary is the web UI's view of a job. Unlike clerk.Job it exposes the
// runner, which the pages display; it still never exposes the token.
type JobSummary struct {
	ID        int64
	State     clerk.JobState
	Runner    string
	Created   time.Time
	Started   *time.Time
	Finished  *time.Time
	Heartbeat *time.Time
	Priority  int64
	Data      json.RawMessage
}

// ListJobSummaries returns up to limit jobs of a project in the given
// states, in dispatch order (priority, then created).
func (s *Store) ListJobSummaries(ctx context.Context, projectName string, states []clerk.JobState, limit int) ([]JobSummary, error) {
	if len(states) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(states))
	placeholders = placeholders[:len(placeholders)-1]
	q := `
SELECT j.id, j.state, COALESCE(j.runner, ''), j.created, j.started, j.finished, j.heartbeat, j.priority, j.data
FROM jobs j
WHERE j.project = (SELECT id FROM projects WHERE name = ?)
  AND j.state IN (` + placeholders + `)
ORDER BY j.priority ASC, j.created ASC
LIMIT ?`

	args := make([]any, 0, len(states)+2)
	args = append(args, projectName)
	for _, st := range states {
		args = append(args, string(st))
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list job summaries: %w", err)
	}
	defer rows.Close()

	var out []JobSummary
	for rows.Next() {
		var (
			sum                          JobSummary
			state, data                  string
			created                      int64
			started, finished, heartbeat sql.NullInt64
		)
		if err := rows.Scan(&sum.ID, &state, &sum.Runner, &created, &started, &finished, &heartbeat, &sum.Priority, &data); err != nil {
			return nil, fmt.Errorf("scan job summary: %w", err)
		}
		sum.State = clerk.JobState(state)
		sum.Created = millisTime(created)
		sum.Started = millisTimePtr(started)
		sum.Finished = millisTimePtr(finished)
		sum.Heartbeat = millisTimePtr(heartbeat)
		sum.Data = json.RawMessage(data)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job summaries: %w", err)
	}
	return out, nil
}

// --------------- Internal helpers ---------------

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner, projectName string) (*clerk.Job, error) {
	var (
		job               clerk.Job
		state, data       string
		created           int64
		started, finished sql.NullInt64
	)
	err := row.Scan(&job.ID, &job.ProjectID, &state, &created, &started, &finished, &job.Priority, &data)
	if err != nil {
		return nil, err
	}
	job.ProjectName = projectName
	job.State = clerk.JobState(state)
	job.Created = millisTime(created)
	job.Started = millisTimePtr(started)
	job.Finished = millisTimePtr(finished)
	job.Data = json.RawMessage(data)
	return &job, nil
}

func (s *Store) nowMillis() int64 {
	return s.now().UTC().UnixMilli()
}

func millisTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func millisTimePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := millisTime(v.Int64)
	return &t
}

// jsonText normalizes a payload for a NOT NULL data column: an absent
// payload is stored as JSON null, matching a client that sent null
// explicitly.
func jsonText(m json.RawMessage) string {
	if len(m) == 0 {
		return "null"
	}
	return string(m)
}

// jsonTextOrNil maps both an absent payload and an explicit JSON null to
// SQL NULL so that COALESCE keeps the existing column value.
func jsonTextOrNil(m json.RawMessage) any {
	if len(m) == 0 || string(m) == "null" {
		return nil
	}
	return string(m)
}

func pingContext(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}
