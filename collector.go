package transitmon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"transitmon.dev/transitmon/feed"
	"transitmon.dev/transitmon/metrics"
	"transitmon.dev/transitmon/scheduler"
	"transitmon.dev/transitmon/storage"
	"transitmon.dev/transitmon/traffic"
)

const (
	TaskCollectTripUpdates    = "collect_trip_updates"
	TaskCollectStopMonitoring = "collect_stop_monitoring"
	TaskCollectTraffic        = "collect_traffic"
)

// Collector owns one polling cycle end to end: fetch a feed payload
// (with retries), reconcile it against the schedule, merge the result
// into storage and record the cycle. It is the body of every
// scheduler task.
type Collector struct {
	Store          storage.Storage
	TripUpdates    *feed.Source
	StopMonitoring *feed.Source
	Reconciler     *Reconciler
	Retry          RetryPolicy
	Notifier       *DelayNotifier
	Traffic        *traffic.Client
	Logger         *slog.Logger
	Location       *time.Location

	// Overridable in tests.
	Now func() time.Time
}

// Argument tuple carried by interval-triggered feed collection jobs.
type CollectArgs struct {
	TimeIndex int `json:"time_index"`
}

// Argument tuple carried by cron-triggered traffic jobs, one per
// monitored trip.
type TrafficArgs struct {
	TripIndex    int           `json:"trip_index"`
	TripID       string        `json:"trip_id"`
	StartStation string        `json:"start_station"`
	EndStation   string        `json:"end_station"`
	Origin       traffic.LatLng `json:"origin"`
	Destination  traffic.LatLng `json:"destination"`
}

// RegisterTasks binds the collector's tasks to their scheduler names.
func (c *Collector) RegisterTasks(s *scheduler.Scheduler) {
	s.Register(TaskCollectTripUpdates, func(ctx context.Context, args json.RawMessage) error {
		var a CollectArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return fmt.Errorf("decoding args: %w", err)
		}
		return c.CollectTripUpdates(ctx, a.TimeIndex)
	})
	s.Register(TaskCollectStopMonitoring, func(ctx context.Context, args json.RawMessage) error {
		var a CollectArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return fmt.Errorf("decoding args: %w", err)
		}
		return c.CollectStopMonitoring(ctx, a.TimeIndex)
	})
	s.Register(TaskCollectTraffic, func(ctx context.Context, args json.RawMessage) error {
		var a TrafficArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return fmt.Errorf("decoding args: %w", err)
		}
		return c.CollectTraffic(ctx, a)
	})
}

// CreateTables ensures every table the collector writes exists.
func (c *Collector) CreateTables() error {
	for _, spec := range []storage.TableSpec{
		storage.TripUpdatesTable,
		storage.StopMonitoringTable,
	} {
		if err := c.Store.CreateObservationTable(spec); err != nil {
			return fmt.Errorf("creating %s: %w", spec.Name, err)
		}
	}
	return nil
}

func (c *Collector) CollectTripUpdates(ctx context.Context, timeIndex int) error {
	return c.collect(ctx, c.TripUpdates, storage.TripUpdatesTable, "trip_updates", timeIndex)
}

func (c *Collector) CollectStopMonitoring(ctx context.Context, timeIndex int) error {
	return c.collect(ctx, c.StopMonitoring, storage.StopMonitoringTable, "stop_monitoring", timeIndex)
}

func (c *Collector) collect(ctx context.Context, source *feed.Source, spec storage.TableSpec, name string, timeIndex int) error {
	raw, err := Retry(ctx, c.Retry, func(ctx context.Context) ([]feed.RawObservation, error) {
		observations, err := source.Fetch(ctx)
		if err != nil {
			metrics.FetchRetries.Inc()
		}
		return observations, err
	})
	if err != nil {
		return fmt.Errorf("fetching %s: %w", name, err)
	}

	rows, stats := c.Reconciler.Reconcile(raw, timeIndex)

	if err := c.Store.UpsertObservations(ctx, spec, rows); err != nil {
		return fmt.Errorf("upserting %s: %w", name, err)
	}
	if err := c.Store.RecordCycle(ctx, timeIndex, c.now()); err != nil {
		return fmt.Errorf("recording cycle: %w", err)
	}

	metrics.Cycles.WithLabelValues(name).Inc()
	metrics.ObservationsUpserted.WithLabelValues(name).Add(float64(len(rows)))
	c.Logger.Info("cycle complete",
		"feed", name,
		"time_index", timeIndex,
		"raw", len(raw),
		"upserted", len(rows),
		"dropped", stats.DroppedNoSchedule,
		"collapsed", stats.DupesCollapsed)

	if c.Notifier != nil {
		if err := c.Notifier.Check(ctx, rows); err != nil {
			// Alerting is best effort, the cycle's data is
			// already committed.
			c.Logger.Error("delay check failed", "feed", name, "error", err)
		}
	}

	return nil
}

// CollectTraffic queries the routing service for one monitored trip
// and appends the measurement.
func (c *Collector) CollectTraffic(ctx context.Context, args TrafficArgs) error {
	now := c.now().In(c.location())

	result, err := Retry(ctx, c.Retry, func(ctx context.Context) (*traffic.Result, error) {
		result, err := c.Traffic.Directions(ctx, args.Origin, args.Destination, now)
		if err != nil {
			metrics.FetchRetries.Inc()
		}
		return result, err
	})
	if err != nil {
		return fmt.Errorf("querying traffic for trip %s: %w", args.TripID, err)
	}

	utc, date, clock := timeFields(now)
	obs := storage.TrafficObservation{
		Date:              date,
		Time:              clock,
		UTC:               utc,
		DayOfWeek:         isoWeekday(now),
		TripIndex:         args.TripIndex,
		TripID:            args.TripID,
		StartStation:      args.StartStation,
		EndStation:        args.EndStation,
		StartLoc:          args.Origin.String(),
		EndLoc:            args.Destination.String(),
		RawResponse:       string(result.Raw),
		DurationInTraffic: result.DurationInTraffic.Seconds(),
	}
	if err := c.Store.InsertTraffic(ctx, obs); err != nil {
		return fmt.Errorf("inserting traffic for trip %s: %w", args.TripID, err)
	}

	c.Logger.Info("traffic sampled",
		"trip", args.TripID,
		"duration_in_traffic", result.DurationInTraffic)
	return nil
}

func (c *Collector) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Collector) location() *time.Location {
	if c.Location != nil {
		return c.Location
	}
	return time.UTC
}

// ISO weekday, Monday = 1.
func isoWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}
