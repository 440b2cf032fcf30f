package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

type PSQLStorage struct {
	db *sql.DB
}

func NewPSQLStorage(connStr string, clearDB bool) (*PSQLStorage, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if clearDB {
		_, err = db.Exec(`DROP SCHEMA public CASCADE; CREATE SCHEMA public;`)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("clearing database: %w", err)
		}
	}

	_, err = db.Exec(`
CREATE TABLE IF NOT EXISTS traffic_data (
    date TEXT NOT NULL,
    time TEXT NOT NULL,
    utc_time DOUBLE PRECISION NOT NULL,
    day_of_week INTEGER NOT NULL,
    trip_index INTEGER NOT NULL,
    trip_id TEXT NOT NULL,
    start_station TEXT NOT NULL,
    end_station TEXT NOT NULL,
    start_loc TEXT NOT NULL,
    end_loc TEXT NOT NULL,
    directions_result TEXT NOT NULL,
    duration_in_traffic DOUBLE PRECISION NOT NULL
);

CREATE TABLE IF NOT EXISTS periodic_task_monitor (
    date TEXT NOT NULL,
    time TEXT NOT NULL,
    utc_time DOUBLE PRECISION NOT NULL,
    day_of_week INTEGER NOT NULL,
    time_index INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS process_monitor (
    date TEXT NOT NULL,
    time TEXT NOT NULL,
    utc_time DOUBLE PRECISION NOT NULL,
    day_of_week INTEGER NOT NULL,
    push_notify INTEGER NOT NULL,
    log_name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS push_monitor (
    date TEXT NOT NULL,
    time TEXT NOT NULL,
    utc_time DOUBLE PRECISION NOT NULL,
    day_of_week INTEGER NOT NULL,
    push_notify INTEGER NOT NULL,
    push_name TEXT NOT NULL
);`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating monitor tables: %w", err)
	}

	return &PSQLStorage{db: db}, nil
}

func pgColumnType(column string) string {
	switch {
	case strings.HasSuffix(column, "_utc"):
		return "DOUBLE PRECISION"
	case column == "stop_id" || column == "time_index":
		return "INTEGER"
	case strings.HasSuffix(column, "_seconds"):
		return "INTEGER"
	case strings.HasSuffix(column, "_on_time"):
		return "BOOLEAN"
	default:
		return "TEXT"
	}
}

func (s *PSQLStorage) CreateObservationTable(spec TableSpec) error {
	if err := spec.Validate(); err != nil {
		return fmt.Errorf("validating spec for %s: %w", spec.Name, err)
	}

	defs := make([]string, len(spec.Columns))
	for i, column := range spec.Columns {
		defs[i] = fmt.Sprintf("%s %s", column, pgColumnType(column))
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

func (s *PSQLStorage) UpsertObservations(ctx context.Context, spec TableSpec, rows []Observation) error {
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

	// Serialize concurrent merges into the same table.
	_, err = tx.ExecContext(ctx, fmt.Sprintf(
		"LOCK TABLE %s IN EXCLUSIVE MODE", spec.Name,
	))
	if err != nil {
		return fmt.Errorf("locking %s: %w", spec.Name, err)
	}

	staging := spec.Name + "_staging"
	columnList := strings.Join(spec.Columns, ", ")

	defs := make([]string, len(spec.Columns))
	for i, column := range spec.Columns {
		defs[i] = fmt.Sprintf("%s %s", column, pgColumnType(column))
	}
	_, err = tx.ExecContext(ctx, fmt.Sprintf(
		"CREATE TEMP TABLE %s (%s) ON COMMIT DROP", staging, strings.Join(defs, ", "),
	))
	if err != nil {
		return fmt.Errorf("creating staging table: %w", err)
	}

	insert, err := tx.PrepareContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		staging, columnList, pgPlaceholders(len(spec.Columns)),
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

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing merge: %w", err)
	}

	return nil
}

func (s *PSQLStorage) Observations(ctx context.Context, spec TableSpec) ([]Observation, error) {
	return queryObservations(ctx, s.db, spec)
}

func (s *PSQLStorage) InsertTraffic(ctx context.Context, obs TrafficObservation) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO traffic_data (
    date, time, utc_time, day_of_week, trip_index, trip_id,
    start_station, end_station, start_loc, end_loc,
    directions_result, duration_in_traffic
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		obs.Date, obs.Time, obs.UTC, obs.DayOfWeek, obs.TripIndex, obs.TripID,
		obs.StartStation, obs.EndStation, obs.StartLoc, obs.EndLoc,
		obs.RawResponse, obs.DurationInTraffic)
	if err != nil {
		return fmt.Errorf("inserting traffic data: %w", err)
	}
	return nil
}

func (s *PSQLStorage) RecordCycle(ctx context.Context, timeIndex int, at time.Time) error {
	date, clock, dow, utc := timeParts(at)
	_, err := s.db.ExecContext(ctx, `
INSERT INTO periodic_task_monitor (date, time, utc_time, day_of_week, time_index)
VALUES ($1, $2, $3, $4, $5)`,
		date, clock, utc, dow, timeIndex)
	if err != nil {
		return fmt.Errorf("recording cycle: %w", err)
	}
	return nil
}

func (s *PSQLStorage) CountCyclesSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM periodic_task_monitor WHERE utc_time > $1",
		float64(since.UnixNano())/1e9,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting cycles: %w", err)
	}
	return count, nil
}

func (s *PSQLStorage) RecordProcessStart(ctx context.Context, logName string, notified bool, at time.Time) error {
	date, clock, dow, utc := timeParts(at)
	_, err := s.db.ExecContext(ctx, `
INSERT INTO process_monitor (date, time, utc_time, day_of_week, push_notify, log_name)
VALUES ($1, $2, $3, $4, $5, $6)`,
		date, clock, utc, dow, boolInt(notified), logName)
	if err != nil {
		return fmt.Errorf("recording process start: %w", err)
	}
	return nil
}

func (s *PSQLStorage) ProcessNotifiedSince(ctx context.Context, since time.Time) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM process_monitor WHERE utc_time > $1 AND push_notify = 1",
		float64(since.UnixNano())/1e9,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking process notifications: %w", err)
	}
	return count > 0, nil
}

func (s *PSQLStorage) RecordAlert(ctx context.Context, name string, at time.Time) error {
	date, clock, dow, utc := timeParts(at)
	_, err := s.db.ExecContext(ctx, `
INSERT INTO push_monitor (date, time, utc_time, day_of_week, push_notify, push_name)
VALUES ($1, $2, $3, $4, 1, $5)`,
		date, clock, utc, dow, name)
	if err != nil {
		return fmt.Errorf("recording alert: %w", err)
	}
	return nil
}

func (s *PSQLStorage) AlertedSince(ctx context.Context, name string, since time.Time) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM push_monitor WHERE utc_time > $1 AND push_notify = 1 AND push_name = $2",
		float64(since.UnixNano())/1e9, name,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking alerts: %w", err)
	}
	return count > 0, nil
}

func (s *PSQLStorage) Close() error {
	return s.db.Close()
}
