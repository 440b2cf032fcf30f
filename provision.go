package transitmon

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"transitmon.dev/transitmon/scheduler"
	"transitmon.dev/transitmon/traffic"
)

// Occurrences older than this are skipped rather than run late.
const DefaultMisfireGrace = 2 * time.Minute

// One collection window: both transit feeds are polled every Period
// between Start and End, tagged with TimeIndex.
type Window struct {
	TimeIndex int
	Start     time.Time
	End       time.Time
	Period    time.Duration
}

// One monitored trip for road-traffic sampling. The trip's scheduled
// departure decides when the sample is taken.
type TrafficTrip struct {
	TripIndex    int
	TripID       string
	StartStation string
	EndStation   string
	Origin       traffic.LatLng
	Destination  traffic.LatLng

	// Weekday flags, Monday first, and seconds since local
	// midnight, as in ScheduleEntry.
	Days          [7]bool
	DepartureSecs int
}

// ProvisionJobs rebuilds the job store from scratch: interval jobs
// polling both transit feeds across each window, and one cron job per
// monitored trip sampling traffic at its scheduled departure.
func ProvisionJobs(ctx context.Context, store scheduler.Store, windows []Window, trips []TrafficTrip) error {
	if err := store.DeleteAllJobs(ctx); err != nil {
		return fmt.Errorf("clearing jobs: %w", err)
	}

	for _, w := range windows {
		args, err := json.Marshal(CollectArgs{TimeIndex: w.TimeIndex})
		if err != nil {
			return fmt.Errorf("marshaling args for window %d: %w", w.TimeIndex, err)
		}
		trigger := scheduler.Trigger{
			Interval: &scheduler.IntervalTrigger{
				Period: w.Period,
				Start:  w.Start,
				End:    w.End,
			},
		}
		for _, task := range []string{TaskCollectTripUpdates, TaskCollectStopMonitoring} {
			job := scheduler.Job{
				ID:           fmt.Sprintf("%s_%d", task, w.TimeIndex),
				Trigger:      trigger,
				Task:         task,
				Args:         args,
				MisfireGrace: DefaultMisfireGrace,
			}
			if err := store.PutJob(ctx, job); err != nil {
				return err
			}
		}
	}

	for _, trip := range trips {
		args, err := json.Marshal(TrafficArgs{
			TripIndex:    trip.TripIndex,
			TripID:       trip.TripID,
			StartStation: trip.StartStation,
			EndStation:   trip.EndStation,
			Origin:       trip.Origin,
			Destination:  trip.Destination,
		})
		if err != nil {
			return fmt.Errorf("marshaling args for trip %s: %w", trip.TripID, err)
		}

		// A departure at 25:10:00 happens at 01:10 the calendar
		// day after its service day.
		departure := trip.DepartureSecs % 86400
		dayShift := trip.DepartureSecs / 86400
		job := scheduler.Job{
			ID: fmt.Sprintf("%s_%d", TaskCollectTraffic, trip.TripIndex),
			Trigger: scheduler.Trigger{
				Cron: &scheduler.CronTrigger{
					Days:   weekdays(trip.Days, dayShift),
					Hour:   departure / 3600,
					Minute: departure % 3600 / 60,
				},
			},
			Task:         TaskCollectTraffic,
			Args:         args,
			MisfireGrace: DefaultMisfireGrace,
		}
		if err := store.PutJob(ctx, job); err != nil {
			return err
		}
	}

	return nil
}

// weekdays converts Monday-first flags to time.Weekday values,
// rotated forward by shift days.
func weekdays(days [7]bool, shift int) []time.Weekday {
	out := []time.Weekday{}
	for i, set := range days {
		if !set {
			continue
		}
		out = append(out, time.Weekday((i+1+shift)%7))
	}
	return out
}
