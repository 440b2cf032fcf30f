package storage

import (
	"context"
	"errors"
	"time"
)

// Backends implement an idempotent, diff-based merge of observation
// batches plus a handful of small monitor tables. All mutation of an
// observation table goes through UpsertObservations; there is no
// row-by-row write path.
type Storage interface {
	// Creates the table described by spec if it does not exist.
	CreateObservationTable(spec TableSpec) error

	// Merges rows into the table. Rows whose key-column tuple
	// matches an existing row replace it; all others are
	// inserted. The merge is a single atomic transaction, and
	// applying the same batch twice leaves the table unchanged.
	// Key tuples must be unique within a batch (the reconciler
	// deduplicates before handing batches over).
	UpsertObservations(ctx context.Context, spec TableSpec, rows []Observation) error

	// Retrieves all rows of the table, ordered by key columns.
	Observations(ctx context.Context, spec TableSpec) ([]Observation, error)

	// Appends one traffic measurement.
	InsertTraffic(ctx context.Context, obs TrafficObservation) error

	// Records one polling cycle, for the nightly sample-count check.
	RecordCycle(ctx context.Context, timeIndex int, at time.Time) error
	CountCyclesSince(ctx context.Context, since time.Time) (int, error)

	// Records a process (re)start and whether it was notified.
	RecordProcessStart(ctx context.Context, logName string, notified bool, at time.Time) error
	ProcessNotifiedSince(ctx context.Context, since time.Time) (bool, error)

	// Timestamped flags used to rate limit outbound alerts.
	RecordAlert(ctx context.Context, name string, at time.Time) error
	AlertedSince(ctx context.Context, name string, since time.Time) (bool, error)

	Close() error
}

var ErrUnknownColumn = errors.New("unknown column")

// Describes one persisted observation table. Columns must be a subset
// of ObservationColumns, and KeyColumns a subset of Columns. The key
// columns form the natural key: at most one row per key tuple exists
// in the table at any time.
type TableSpec struct {
	Name       string
	Columns    []string
	KeyColumns []string
}

// A reconciled observation, as exchanged between the reconciler and
// storage. Pointer fields are absent (NULL) when the source feed does
// not supply them; absence is distinct from a zero value.
type Observation struct {
	TrainStartDate string
	TripID         string
	StopID         int
	TimeIndex      int

	RecordedAtDate string
	RecordedAtTime string
	RecordedAtUTC  float64

	StationName   *string
	ShortStopName string
	VehicleAtStop *string

	AimedArrivalDate     *string
	AimedArrivalTime     *string
	AimedArrivalUTC      *float64
	AimedArrivalSeconds  *int
	ScheduledArrivalSecs int
	ArrivalOnTime        *bool
	ArrivalDelaySecs     *int

	AimedDepartureDate     *string
	AimedDepartureTime     *string
	AimedDepartureUTC      *float64
	AimedDepartureSeconds  *int
	ScheduledDepartureSecs int
	DepartureOnTime        *bool
	DepartureDelaySecs     *int
}

// One measurement from the road routing service.
type TrafficObservation struct {
	Date              string
	Time              string
	UTC               float64
	DayOfWeek         int
	TripIndex         int
	TripID            string
	StartStation      string
	EndStation        string
	StartLoc          string
	EndLoc            string
	RawResponse       string
	DurationInTraffic float64
}

// All columns an observation table may carry, in persisted order.
var ObservationColumns = []string{
	"train_start_date",
	"trip_id",
	"stop_id",
	"time_index",
	"recorded_at_date",
	"recorded_at_time",
	"recorded_at_utc",
	"station_name",
	"short_stop_name",
	"vehicle_at_stop",
	"aimed_arrival_date",
	"aimed_arrival_time",
	"aimed_arrival_utc",
	"aimed_arrival_seconds",
	"scheduled_arrival_seconds",
	"arrival_on_time",
	"arrival_delay_seconds",
	"aimed_departure_date",
	"aimed_departure_time",
	"aimed_departure_utc",
	"aimed_departure_seconds",
	"scheduled_departure_seconds",
	"departure_on_time",
	"departure_delay_seconds",
}

// The stop monitoring feed reports arrivals and departures, and may
// report the same (trip, stop) many times as the vehicle approaches,
// so the recording time is part of the key.
var StopMonitoringTable = TableSpec{
	Name:       "transit_data_siri",
	Columns:    ObservationColumns,
	KeyColumns: []string{"train_start_date", "trip_id", "stop_id", "recorded_at_utc"},
}

// The trip update feed reports departures only; its table omits the
// arrival and vehicle columns, and a later poll replaces the previous
// prediction for the same (service day, trip, stop).
var TripUpdatesTable = TableSpec{
	Name: "transit_data_gtfs_rt",
	Columns: []string{
		"train_start_date",
		"trip_id",
		"stop_id",
		"time_index",
		"recorded_at_date",
		"recorded_at_time",
		"recorded_at_utc",
		"short_stop_name",
		"aimed_departure_date",
		"aimed_departure_time",
		"aimed_departure_utc",
		"aimed_departure_seconds",
		"scheduled_arrival_seconds",
		"scheduled_departure_seconds",
		"departure_on_time",
		"departure_delay_seconds",
	},
	KeyColumns: []string{"train_start_date", "trip_id", "stop_id"},
}

// Value returns the field persisted under the given column name.
// Fields the source feed did not provide come back nil and are
// persisted as NULL.
func (o *Observation) Value(column string) (interface{}, error) {
	switch column {
	case "train_start_date":
		return o.TrainStartDate, nil
	case "trip_id":
		return o.TripID, nil
	case "stop_id":
		return o.StopID, nil
	case "time_index":
		return o.TimeIndex, nil
	case "recorded_at_date":
		return o.RecordedAtDate, nil
	case "recorded_at_time":
		return o.RecordedAtTime, nil
	case "recorded_at_utc":
		return o.RecordedAtUTC, nil
	case "station_name":
		return ptrVal(o.StationName), nil
	case "short_stop_name":
		return o.ShortStopName, nil
	case "vehicle_at_stop":
		return ptrVal(o.VehicleAtStop), nil
	case "aimed_arrival_date":
		return ptrVal(o.AimedArrivalDate), nil
	case "aimed_arrival_time":
		return ptrVal(o.AimedArrivalTime), nil
	case "aimed_arrival_utc":
		return ptrVal(o.AimedArrivalUTC), nil
	case "aimed_arrival_seconds":
		return ptrVal(o.AimedArrivalSeconds), nil
	case "scheduled_arrival_seconds":
		return o.ScheduledArrivalSecs, nil
	case "arrival_on_time":
		return ptrVal(o.ArrivalOnTime), nil
	case "arrival_delay_seconds":
		return ptrVal(o.ArrivalDelaySecs), nil
	case "aimed_departure_date":
		return ptrVal(o.AimedDepartureDate), nil
	case "aimed_departure_time":
		return ptrVal(o.AimedDepartureTime), nil
	case "aimed_departure_utc":
		return ptrVal(o.AimedDepartureUTC), nil
	case "aimed_departure_seconds":
		return ptrVal(o.AimedDepartureSeconds), nil
	case "scheduled_departure_seconds":
		return o.ScheduledDepartureSecs, nil
	case "departure_on_time":
		return ptrVal(o.DepartureOnTime), nil
	case "departure_delay_seconds":
		return ptrVal(o.DepartureDelaySecs), nil
	}
	return nil, ErrUnknownColumn
}

// scanTargets returns pointers suitable for sql.Rows.Scan, one per
// column, all referring into o.
func (o *Observation) scanTargets(columns []string) ([]interface{}, error) {
	targets := make([]interface{}, 0, len(columns))
	for _, column := range columns {
		switch column {
		case "train_start_date":
			targets = append(targets, &o.TrainStartDate)
		case "trip_id":
			targets = append(targets, &o.TripID)
		case "stop_id":
			targets = append(targets, &o.StopID)
		case "time_index":
			targets = append(targets, &o.TimeIndex)
		case "recorded_at_date":
			targets = append(targets, &o.RecordedAtDate)
		case "recorded_at_time":
			targets = append(targets, &o.RecordedAtTime)
		case "recorded_at_utc":
			targets = append(targets, &o.RecordedAtUTC)
		case "station_name":
			targets = append(targets, &o.StationName)
		case "short_stop_name":
			targets = append(targets, &o.ShortStopName)
		case "vehicle_at_stop":
			targets = append(targets, &o.VehicleAtStop)
		case "aimed_arrival_date":
			targets = append(targets, &o.AimedArrivalDate)
		case "aimed_arrival_time":
			targets = append(targets, &o.AimedArrivalTime)
		case "aimed_arrival_utc":
			targets = append(targets, &o.AimedArrivalUTC)
		case "aimed_arrival_seconds":
			targets = append(targets, &o.AimedArrivalSeconds)
		case "scheduled_arrival_seconds":
			targets = append(targets, &o.ScheduledArrivalSecs)
		case "arrival_on_time":
			targets = append(targets, &o.ArrivalOnTime)
		case "arrival_delay_seconds":
			targets = append(targets, &o.ArrivalDelaySecs)
		case "aimed_departure_date":
			targets = append(targets, &o.AimedDepartureDate)
		case "aimed_departure_time":
			targets = append(targets, &o.AimedDepartureTime)
		case "aimed_departure_utc":
			targets = append(targets, &o.AimedDepartureUTC)
		case "aimed_departure_seconds":
			targets = append(targets, &o.AimedDepartureSeconds)
		case "scheduled_departure_seconds":
			targets = append(targets, &o.ScheduledDepartureSecs)
		case "departure_on_time":
			targets = append(targets, &o.DepartureOnTime)
		case "departure_delay_seconds":
			targets = append(targets, &o.DepartureDelaySecs)
		default:
			return nil, ErrUnknownColumn
		}
	}
	return targets, nil
}

func ptrVal[T any](p *T) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

// Validate checks that the spec's columns are known and that the key
// columns are a subset of them.
func (spec TableSpec) Validate() error {
	known := map[string]bool{}
	for _, c := range ObservationColumns {
		known[c] = true
	}
	cols := map[string]bool{}
	for _, c := range spec.Columns {
		if !known[c] {
			return ErrUnknownColumn
		}
		cols[c] = true
	}
	for _, k := range spec.KeyColumns {
		if !cols[k] {
			return ErrUnknownColumn
		}
	}
	return nil
}
