package scheduler

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// A persisted job: a trigger bound to a named task with its argument
// tuple. Jobs are written at provisioning time and never mutated;
// re-provisioning drops and rebuilds the whole store.
type Job struct {
	ID           string
	Trigger      Trigger
	Task         string
	Args         json.RawMessage
	MisfireGrace time.Duration
}

// Durable home for trigger metadata. Holds no observation data.
type Store interface {
	PutJob(ctx context.Context, job Job) error
	ListJobs(ctx context.Context) ([]Job, error)
	DeleteAllJobs(ctx context.Context) error

	// The scheduler's last processed instant, used to recover
	// missed occurrences (within grace) after a restart. Zero if
	// never set.
	Checkpoint(ctx context.Context) (time.Time, error)
	SetCheckpoint(ctx context.Context, t time.Time) error

	Close() error
}

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout=120000")
	if err != nil {
		return nil, fmt.Errorf("opening job store: %w", err)
	}

	_, err = db.Exec(`
CREATE TABLE IF NOT EXISTS job (
    id TEXT NOT NULL,
    trigger TEXT NOT NULL,
    task TEXT NOT NULL,
    args TEXT NOT NULL,
    misfire_grace_seconds INTEGER NOT NULL,
PRIMARY KEY (id)
);

CREATE TABLE IF NOT EXISTS scheduler_state (
    id INTEGER NOT NULL CHECK (id = 1),
    last_tick_unix_nano INTEGER NOT NULL,
PRIMARY KEY (id)
);`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating job tables: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) PutJob(ctx context.Context, job Job) error {
	if err := job.Trigger.Validate(); err != nil {
		return fmt.Errorf("validating trigger for %s: %w", job.ID, err)
	}

	trigger, err := json.Marshal(job.Trigger)
	if err != nil {
		return fmt.Errorf("marshaling trigger for %s: %w", job.ID, err)
	}

	args := job.Args
	if args == nil {
		args = json.RawMessage("null")
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO job (id, trigger, task, args, misfire_grace_seconds)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    trigger = excluded.trigger,
    task = excluded.task,
    args = excluded.args,
    misfire_grace_seconds = excluded.misfire_grace_seconds`,
		job.ID, string(trigger), job.Task, string(args),
		int(job.MisfireGrace.Seconds()))
	if err != nil {
		return fmt.Errorf("writing job %s: %w", job.ID, err)
	}

	return nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, trigger, task, args, misfire_grace_seconds FROM job ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()

	jobs := []Job{}
	for rows.Next() {
		var job Job
		var trigger, args string
		var graceSeconds int
		if err := rows.Scan(&job.ID, &trigger, &job.Task, &args, &graceSeconds); err != nil {
			return nil, fmt.Errorf("scanning job: %w", err)
		}
		if err := json.Unmarshal([]byte(trigger), &job.Trigger); err != nil {
			return nil, fmt.Errorf("unmarshaling trigger for %s: %w", job.ID, err)
		}
		job.Args = json.RawMessage(args)
		job.MisfireGrace = time.Duration(graceSeconds) * time.Second
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading jobs: %w", err)
	}

	return jobs, nil
}

func (s *SQLiteStore) DeleteAllJobs(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM job"); err != nil {
		return fmt.Errorf("deleting jobs: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Checkpoint(ctx context.Context) (time.Time, error) {
	var nanos int64
	err := s.db.QueryRowContext(ctx,
		"SELECT last_tick_unix_nano FROM scheduler_state WHERE id = 1").Scan(&nanos)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("reading checkpoint: %w", err)
	}
	return time.Unix(0, nanos).UTC(), nil
}

func (s *SQLiteStore) SetCheckpoint(ctx context.Context, t time.Time) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO scheduler_state (id, last_tick_unix_nano) VALUES (1, ?)
ON CONFLICT (id) DO UPDATE SET last_tick_unix_nano = excluded.last_tick_unix_nano`,
		t.UnixNano())
	if err != nil {
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// In-memory Store, for tests.
type MemoryStore struct {
	mu         sync.Mutex
	jobs       map[string]Job
	checkpoint time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: map[string]Job{}}
}

func (s *MemoryStore) PutJob(ctx context.Context, job Job) error {
	if err := job.Trigger.Validate(); err != nil {
		return fmt.Errorf("validating trigger for %s: %w", job.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

func (s *MemoryStore) ListJobs(ctx context.Context) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (s *MemoryStore) DeleteAllJobs(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = map[string]Job{}
	return nil
}

func (s *MemoryStore) Checkpoint(ctx context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkpoint, nil
}

func (s *MemoryStore) SetCheckpoint(ctx context.Context, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoint = t
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
