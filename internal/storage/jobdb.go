package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/codebuildervaibhav/media-analysis/internal/types"
)

// Supported SQL drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// timestamps are stored as fixed-width UTC text so they sort and scan the
// same way on both drivers
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const jobColumns = `id, fingerprint, filename, state, analysis_prompt, transcript,
	analysis_result, error_message, file_size, duration, created_at, updated_at`

var schemas = map[string]string{
	DriverSQLite: `
	CREATE TABLE IF NOT EXISTS jobs (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		fingerprint TEXT NOT NULL UNIQUE,
		filename TEXT NOT NULL,
		state TEXT NOT NULL,
		analysis_prompt TEXT NOT NULL,
		transcript TEXT,
		analysis_result TEXT,
		error_message TEXT,
		file_size INTEGER NOT NULL DEFAULT 0,
		duration REAL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs(state);
	`,
	DriverPostgres: `
	CREATE TABLE IF NOT EXISTS jobs (
		seq BIGSERIAL PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		fingerprint TEXT NOT NULL UNIQUE,
		filename TEXT NOT NULL,
		state TEXT NOT NULL,
		analysis_prompt TEXT NOT NULL,
		transcript TEXT,
		analysis_result TEXT,
		error_message TEXT,
		file_size BIGINT NOT NULL DEFAULT 0,
		duration DOUBLE PRECISION,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs(state);
	`,
}

// JobDB is a JobStore backed by SQLite or PostgreSQL
type JobDB struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

// NewJobDB opens the database and creates the jobs table if needed
func NewJobDB(driver, dsn string) (*JobDB, error) {
	schema, ok := schemas[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == DriverSQLite {
		// one writer at a time; avoids SQLITE_BUSY under concurrent submits
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create jobs table: %w", err)
	}

	log.Printf("Job store ready (driver: %s)", driver)
	return &JobDB{db: db, driver: driver, now: time.Now}, nil
}

// FindByFingerprint returns the job for a content hash
func (j *JobDB) FindByFingerprint(ctx context.Context, fingerprint string) (*types.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE fingerprint = ?`
	return j.queryOne(ctx, query, fingerprint)
}

// Create inserts a pending job. The UNIQUE constraint on fingerprint makes
// concurrent creates of the same content resolve to exactly one row.
func (j *JobDB) Create(ctx context.Context, nj types.NewJob) (*types.Job, error) {
	now := j.now().UTC()
	job := &types.Job{
		ID:             uuid.New().String(),
		Fingerprint:    nj.Fingerprint,
		Filename:       nj.Filename,
		State:          types.StatePending,
		AnalysisPrompt: nj.AnalysisPrompt,
		FileSize:       nj.FileSize,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	query := `
	INSERT INTO jobs (id, fingerprint, filename, state, analysis_prompt, file_size, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := j.db.ExecContext(ctx, j.rebind(query),
		job.ID, job.Fingerprint, job.Filename, string(job.State), job.AnalysisPrompt,
		job.FileSize, now.Format(timeLayout), now.Format(timeLayout))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	return job, nil
}

// Get returns a job by id
func (j *JobDB) Get(ctx context.Context, id string) (*types.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`
	return j.queryOne(ctx, query, id)
}

// Update applies a partial update in a single statement
func (j *JobDB) Update(ctx context.Context, id string, u types.JobUpdate) (*types.Job, error) {
	var (
		sets []string
		args []interface{}
	)

	if u.State != nil {
		sets = append(sets, "state = ?")
		args = append(args, string(*u.State))
	}
	if u.AnalysisPrompt != nil {
		sets = append(sets, "analysis_prompt = ?")
		args = append(args, *u.AnalysisPrompt)
	}
	if u.Transcript != nil {
		// write-once
		sets = append(sets, "transcript = COALESCE(transcript, ?)")
		args = append(args, *u.Transcript)
	}
	if u.Duration != nil {
		sets = append(sets, "duration = COALESCE(duration, ?)")
		args = append(args, *u.Duration)
	}
	if u.AnalysisResult != nil {
		sets = append(sets, "analysis_result = ?")
		args = append(args, *u.AnalysisResult)
	} else if u.ClearAnalysisResult {
		sets = append(sets, "analysis_result = NULL")
	}
	if u.ErrorMessage != nil {
		sets = append(sets, "error_message = ?")
		args = append(args, *u.ErrorMessage)
	} else if u.ClearErrorMessage {
		sets = append(sets, "error_message = NULL")
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, j.now().UTC().Format(timeLayout))

	query := `UPDATE jobs SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`
	args = append(args, id)
	if u.ExpectState != nil {
		query += ` AND state = ?`
		args = append(args, string(*u.ExpectState))
	}

	res, err := j.db.ExecContext(ctx, j.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update job %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to update job %s: %w", id, err)
	}
	if affected == 0 {
		if _, err := j.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrStateMismatch
	}

	return j.Get(ctx, id)
}

// List returns jobs in creation order
func (j *JobDB) List(ctx context.Context, offset, limit int) ([]*types.Job, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		return []*types.Job{}, nil
	}
	query := `SELECT ` + jobColumns + ` FROM jobs ORDER BY seq ASC LIMIT ? OFFSET ?`
	return j.queryMany(ctx, query, limit, offset)
}

// ListByState returns every job currently in one of the given states
func (j *JobDB) ListByState(ctx context.Context, states ...types.JobState) ([]*types.Job, error) {
	if len(states) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(states))
	args := make([]interface{}, len(states))
	for i, st := range states {
		placeholders[i] = "?"
		args[i] = string(st)
	}
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE state IN (` +
		strings.Join(placeholders, ", ") + `) ORDER BY seq ASC`
	return j.queryMany(ctx, query, args...)
}

// Close closes the database connection
func (j *JobDB) Close() error {
	return j.db.Close()
}

func (j *JobDB) queryOne(ctx context.Context, query string, args ...interface{}) (*types.Job, error) {
	row := j.db.QueryRowContext(ctx, j.rebind(query), args...)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

func (j *JobDB) queryMany(ctx context.Context, query string, args ...interface{}) ([]*types.Job, error) {
	rows, err := j.db.QueryContext(ctx, j.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*types.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// rebind rewrites ? placeholders to $n for postgres
func (j *JobDB) rebind(query string) string {
	if j.driver != DriverPostgres {
		return query
	}
	var (
		b strings.Builder
		n int
	)
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(s scanner) (*types.Job, error) {
	var (
		job                              types.Job
		state, createdAt, updatedAt      string
		transcript, result, errorMessage sql.NullString
		duration                         sql.NullFloat64
	)

	err := s.Scan(&job.ID, &job.Fingerprint, &job.Filename, &state, &job.AnalysisPrompt,
		&transcript, &result, &errorMessage, &job.FileSize, &duration, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	job.State = types.JobState(state)
	job.Transcript = nullToPtr(transcript)
	job.AnalysisResult = nullToPtr(result)
	job.ErrorMessage = nullToPtr(errorMessage)
	if duration.Valid {
		job.Duration = &duration.Float64
	}
	if job.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("bad created_at %q: %w", createdAt, err)
	}
	if job.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return nil, fmt.Errorf("bad updated_at %q: %w", updatedAt, err)
	}
	return &job, nil
}

func nullToPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return types.StringPtr(ns.String)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
