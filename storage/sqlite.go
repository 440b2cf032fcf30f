package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type SQLiteConfig struct {
	OnDisk    bool
	Directory string
}

type SQLiteStorage struct {
	SQLiteConfig

	db *sql.DB
}

func NewSQLiteStorage(cfg ...SQLiteConfig) (*SQLiteStorage, error) {
	onDisk := false
	directory := ""
	if len(cfg) > 0 {
		onDisk = cfg[0].OnDisk
		directory = cfg[0].Directory
	}

	// Upserts take an exclusive transaction for their duration, so
	// concurrent pollers hitting the same table serialize here
	// instead of failing with SQLITE_BUSY.
	sourceName := ":memory:"
	if onDisk {
		sourceName = "file:" + directory + "/transitmon.db?_busy_timeout=120000&_txlock=exclusive"
	}

	db, err := sql.Open("sqlite3", sourceName)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if !onDisk {
		// A pooled :memory: source is a separate database per
		// connection. Pin to one.
		db.SetMaxOpenConns(1)
	}

	_, err = db.Exec(`
CREATE TABLE IF NOT EXISTS traffic_data (
    date TEXT NOT NULL,
    time TEXT NOT NULL,
    utc_time REAL NOT NULL,
    day_of_week INTEGER NOT NULL,
    trip_index INTEGER NOT NULL,
    trip_id TEXT NOT NULL,
    start_station TEXT NOT NULL,
    end_station TEXT NOT NULL,
    start_loc TEXT NOT NULL,
    end_loc TEXT NOT NULL,
    directions_result TEXT NOT NULL,
    duration_in_traffic REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS periodic_task_monitor (
    date TEXT NOT NULL,
    time TEXT NOT NULL,
    utc_time REAL NOT NULL,
    day_of_week INTEGER NOT NULL,
    time_index INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS process_monitor (
    date TEXT NOT NULL,
    time TEXT NOT NULL,
    utc_time REAL NOT NULL,
    day_of_week INTEGER NOT NULL,
    push_notify INTEGER NOT NULL,
    log_name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS push_monitor (
    date TEXT NOT NULL,
    time TEXT NOT NULL,
    utc_time REAL NOT NULL,
    day_of_week INTEGER NOT NULL,
    push_notify INTEGER NOT NULL,
    push_name TEXT NOT NULL
);`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating monitor tables: %w", err)
	}

	return &SQLiteStorage{
		SQLiteConfig: SQLiteConfig{
			OnDisk:    onDisk,
			Directory: directory,
		},
		db: db,
	}, nil
}

func sqliteColumnType(column string) string {
	switch {
	case strings.HasSuffix(column, "_utc"):
		return "REAL"
	case column == "stop_id" || column == "time_index":
		return "INTEGER"
	case strings.HasSuffix(column, "_seconds") || strings.HasSuffix(column, "_on_time"):
		return "INTEGER"
	default:
		return "TEXT"
	}
}

func (s *SQLiteStorage) CreateObservationTable(spec TableSpec) error {
	if err := spec.Validate(); err != nil {
		return fmt.Errorf("validating spec for %s: %w", spec.Name, err)
	}

	defs := make([]string, len(spec.Columns))
	for i, column := range spec.Columns {
		defs[i] = fmt.Sprintf("%s %s", column, sqliteColumnType(column))
	}

	_, err := s.db.Exec(fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (%s)",
		spec.Name, strings.Join(defs, ", "),
	))
	if err != nil {
		return fmt.Errorf("creating table %s: %w", spec.Name, err)
	}

	return nil
}

func (s *SQLiteStorage) UpsertObservations(ctx context.Context, spec TableSpec, rows []Observation) error {
	if err := spec.Validate(); err != nil {
		return fmt.Errorf("validating spec for %s: %w", spec.Name, err)
	}
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	staging := spec.Name + "_staging"
	columnList := strings.Join(spec.Columns, ", ")

	// Stage the batch in a temp table scoped to this transaction's
	// connection.
	defs := make([]string, len(spec.Columns))
	for i, column := range spec.Columns {
		defs[i] = fmt.Sprintf("%s %s", column, sqliteColumnType(column))
	}
	_, err = tx.ExecContext(ctx, fmt.Sprintf(
		"CREATE TEMP TABLE %s (%s)", staging, strings.Join(defs, ", "),
	))
	if err != nil {
		return fmt.Errorf("creating staging table: %w", err)
	}

	insert, err := tx.PrepareContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		staging, columnList, placeholders(len(spec.Columns)),
	))
	if err != nil {
		return fmt.Errorf("preparing staging insert: %w", err)
	}
	for i := range rows {
		values, err := rowValues(&rows[i], spec.Columns)
		if err != nil {
			return fmt.Errorf("staging row: %w", err)
		}
		if _, err := insert.ExecContext(ctx, values...); err != nil {
			return fmt.Errorf("staging row: %w", err)
		}
	}
	if err := insert.Close(); err != nil {
		return fmt.Errorf("closing staging insert: %w", err)
	}

	// Drop rows being replaced, then copy the whole stage over.
	match := keyMatch(spec.Name, staging, spec.KeyColumns)
	_, err = tx.ExecContext(ctx, fmt.Sprintf(
		"DELETE FROM %s WHERE EXISTS (SELECT 1 FROM %s WHERE %s)",
		spec.Name, staging, match,
	))
	if err != nil {
		return fmt.Errorf("deleting replaced rows: %w", err)
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s",
		spec.Name, columnList, columnList, staging,
	))
	if err != nil {
		return fmt.Errorf("merging staged rows: %w", err)
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE %s", staging))
	if err != nil {
		return fmt.Errorf("dropping staging table: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing merge: %w", err)
	}

	return nil
}

func (s *SQLiteStorage) Observations(ctx context.Context, spec TableSpec) ([]Observation, error) {
	return queryObservations(ctx, s.db, spec)
}

func (s *SQLiteStorage) InsertTraffic(ctx context.Context, obs TrafficObservation) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO traffic_data (
    date, time, utc_time, day_of_week, trip_index, trip_id,
    start_station, end_station, start_loc, end_loc,
    directions_result, duration_in_traffic
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		obs.Date, obs.Time, obs.UTC, obs.DayOfWeek, obs.TripIndex, obs.TripID,
		obs.StartStation, obs.EndStation, obs.StartLoc, obs.EndLoc,
		obs.RawResponse, obs.DurationInTraffic)
	if err != nil {
		return fmt.Errorf("inserting traffic data: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) RecordCycle(ctx context.Context, timeIndex int, at time.Time) error {
	date, clock, dow, utc := timeParts(at)
	_, err := s.db.ExecContext(ctx, `
INSERT INTO periodic_task_monitor (date, time, utc_time, day_of_week, time_index)
VALUES (?, ?, ?, ?, ?)`,
		date, clock, utc, dow, timeIndex)
	if err != nil {
		return fmt.Errorf("recording cycle: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) CountCyclesSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM periodic_task_monitor WHERE utc_time > ?",
		float64(since.UnixNano())/1e9,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting cycles: %w", err)
	}
	return count, nil
}

func (s *SQLiteStorage) RecordProcessStart(ctx context.Context, logName string, notified bool, at time.Time) error {
	date, clock, dow, utc := timeParts(at)
	_, err := s.db.ExecContext(ctx, `
INSERT INTO process_monitor (date, time, utc_time, day_of_week, push_notify, log_name)
VALUES (?, ?, ?, ?, ?, ?)`,
		date, clock, utc, dow, boolInt(notified), logName)
	if err != nil {
		return fmt.Errorf("recording process start: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) ProcessNotifiedSince(ctx context.Context, since time.Time) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM process_monitor WHERE utc_time > ? AND push_notify = 1",
		float64(since.UnixNano())/1e9,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking process notifications: %w", err)
	}
	return count > 0, nil
}

func (s *SQLiteStorage) RecordAlert(ctx context.Context, name string, at time.Time) error {
	date, clock, dow, utc := timeParts(at)
	_, err := s.db.ExecContext(ctx, `
INSERT INTO push_monitor (date, time, utc_time, day_of_week, push_notify, push_name)
VALUES (?, ?, ?, ?, 1, ?)`,
		date, clock, utc, dow, name)
	if err != nil {
		return fmt.Errorf("recording alert: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) AlertedSince(ctx context.Context, name string, since time.Time) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM push_monitor WHERE utc_time > ? AND push_notify = 1 AND push_name = ?",
		float64(since.UnixNano())/1e9, name,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking alerts: %w", err)
	}
	return count > 0, nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
