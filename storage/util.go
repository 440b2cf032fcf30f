package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Helpers shared by the SQL backends.

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func pgPlaceholders(n int) string {
	ps := make([]string, n)
	for i := range ps {
		ps[i] = fmt.Sprintf("$%d", i+1)
	}
	return strings.Join(ps, ", ")
}

// keyMatch builds the WHERE clause joining target and staging on the
// key columns: "target.k1 = staging.k1 AND target.k2 = staging.k2".
func keyMatch(target, staging string, keyColumns []string) string {
	parts := make([]string, len(keyColumns))
	for i, column := range keyColumns {
		parts[i] = fmt.Sprintf("%s.%s = %s.%s", target, column, staging, column)
	}
	return strings.Join(parts, " AND ")
}

func rowValues(o *Observation, columns []string) ([]interface{}, error) {
	values := make([]interface{}, len(columns))
	for i, column := range columns {
		v, err := o.Value(column)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", column, err)
		}
		values[i] = v
	}
	return values, nil
}

func queryObservations(ctx context.Context, db *sql.DB, spec TableSpec) ([]Observation, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(
		"SELECT %s FROM %s ORDER BY %s",
		strings.Join(spec.Columns, ", "),
		spec.Name,
		strings.Join(spec.KeyColumns, ", "),
	))
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", spec.Name, err)
	}
	defer rows.Close()

	observations := []Observation{}
	for rows.Next() {
		var o Observation
		targets, err := o.scanTargets(spec.Columns)
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", spec.Name, err)
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", spec.Name, err)
		}
		observations = append(observations, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", spec.Name, err)
	}

	return observations, nil
}

func timeParts(at time.Time) (date string, clock string, dayOfWeek int, utc float64) {
	date = at.Format("2006-01-02")
	clock = at.Format("15:04:05")
	dayOfWeek = isoWeekday(at)
	utc = float64(at.UnixNano()) / 1e9
	return
}

// ISO weekday: Monday=1 .. Sunday=7.
func isoWeekday(at time.Time) int {
	wd := int(at.Weekday())
	if wd == 0 {
		wd = 7
	}
	return wd
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
