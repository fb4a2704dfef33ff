package job

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema changes.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// timeLayout is fixed-width so that stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Compile-time check that SQLiteRepository implements Repository.
var _ Repository = (*SQLiteRepository)(nil)

// SQLiteRepository persists jobs in a SQLite database so that finished
// recaps survive a restart.
type SQLiteRepository struct {
	db   *sql.DB
	path string
}

// record is the persisted form of a Job.
type record struct {
	ID          string    `json:"id"`
	Status      Status    `json:"status"`
	Photos      []string  `json:"photos"`
	FamilyID    string    `json:"family_id,omitempty"`
	Options     Options   `json:"options"`
	Stage       string    `json:"stage,omitempty"`
	Progress    int       `json:"progress"`
	Failure     Failure   `json:"failure"`
	OutputPath  string    `json:"output_path,omitempty"`
	MimeType    string    `json:"mime_type,omitempty"`
	DurationMs  int64     `json:"duration_ms,omitempty"`
	SizeBytes   int       `json:"size_bytes,omitempty"`
	VideoURL    string    `json:"video_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// OpenSQLiteRepository opens or creates the database at path.
func OpenSQLiteRepository(ctx context.Context, path string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	repo := &SQLiteRepository{db: db, path: path}
	if err := repo.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return repo, nil
}

// Path returns the database file path.
func (r *SQLiteRepository) Path() string {
	return r.path
}

// Close closes the underlying database connection.
func (r *SQLiteRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *SQLiteRepository) initSchema(ctx context.Context) error {
	var tableExists int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		return r.createSchema(ctx)
	}

	var version int
	if err := r.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d", ErrSchemaMismatch, version, schemaVersion)
	}
	return nil
}

func (r *SQLiteRepository) createSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("write schema version: %w", err)
	}
	return tx.Commit()
}

// Save implements Repository.
func (r *SQLiteRepository) Save(ctx context.Context, job *Job) error {
	snap := job.Clone()
	payload, err := json.Marshal(toRecord(snap))
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	err = r.execWithRetry(ctx,
		`INSERT INTO recap_jobs (id, status, created_at, updated_at, record_json)
         VALUES (?, ?, ?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET
            status = excluded.status,
            updated_at = excluded.updated_at,
            record_json = excluded.record_json`,
		snap.ID,
		string(snap.Status),
		snap.CreatedAt.UTC().Format(timeLayout),
		snap.UpdatedAt.UTC().Format(timeLayout),
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("save job %s: %w", snap.ID, err)
	}
	return nil
}

// FindByID implements Repository.
func (r *SQLiteRepository) FindByID(ctx context.Context, id string) (*Job, error) {
	var payload string
	err := retryOnBusy(ctx, func() error {
		return r.db.QueryRowContext(ctx, "SELECT record_json FROM recap_jobs WHERE id = ?", id).Scan(&payload)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find job %s: %w", id, err)
	}
	return decodeRecord(payload)
}

// List implements Repository.
func (r *SQLiteRepository) List(ctx context.Context) ([]*Job, error) {
	var jobs []*Job
	err := retryOnBusy(ctx, func() error {
		jobs = nil
		rows, err := r.db.QueryContext(ctx, "SELECT record_json FROM recap_jobs ORDER BY created_at, id")
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			var payload string
			if err := rows.Scan(&payload); err != nil {
				return err
			}
			j, err := decodeRecord(payload)
			if err != nil {
				return err
			}
			jobs = append(jobs, j)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// Delete implements Repository.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	var affected int64
	err := retryOnBusy(ctx, func() error {
		res, err := r.db.ExecContext(ctx, "DELETE FROM recap_jobs WHERE id = ?", id)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	if affected == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (r *SQLiteRepository) execWithRetry(ctx context.Context, query string, args ...any) error {
	return retryOnBusy(ctx, func() error {
		_, err := r.db.ExecContext(ctx, query, args...)
		return err
	})
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func toRecord(j *Job) record {
	return record{
		ID:          j.ID,
		Status:      j.Status,
		Photos:      j.Photos,
		FamilyID:    j.FamilyID,
		Options:     j.Options,
		Stage:       j.Stage,
		Progress:    j.Progress,
		Failure:     j.Failure,
		OutputPath:  j.OutputPath,
		MimeType:    j.MimeType,
		DurationMs:  j.DurationMs,
		SizeBytes:   j.SizeBytes,
		VideoURL:    j.VideoURL,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}

func decodeRecord(payload string) (*Job, error) {
	var rec record
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, fmt.Errorf("decode job record: %w", err)
	}
	return &Job{
		ID:          rec.ID,
		Status:      rec.Status,
		Photos:      rec.Photos,
		FamilyID:    rec.FamilyID,
		Options:     rec.Options,
		Stage:       rec.Stage,
		Progress:    rec.Progress,
		Failure:     rec.Failure,
		OutputPath:  rec.OutputPath,
		MimeType:    rec.MimeType,
		DurationMs:  rec.DurationMs,
		SizeBytes:   rec.SizeBytes,
		VideoURL:    rec.VideoURL,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
		StartedAt:   rec.StartedAt,
		CompletedAt: rec.CompletedAt,
	}, nil
}
