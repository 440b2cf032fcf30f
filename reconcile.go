package transitmon

import (
	"log/slog"
	"time"

	"transitmon.dev/transitmon/feed"
	"transitmon.dev/transitmon/storage"
)

// Joins raw feed observations against the static schedule and
// computes on-time performance. Stateless across polling cycles; the
// caller supplies the cycle's time index.
type Reconciler struct {
	Index    *ScheduleIndex
	Location *time.Location
	Logger   *slog.Logger
}

// These exist to simplify debugging down the road
type ReconcileStats struct {
	Joined            int
	DroppedNoSchedule int
	DupesCollapsed    int
}

// Reconcile normalizes one polling cycle's raw observations into
// canonical rows. Observations without a schedule entry are dropped
// (they refer to trips or stops outside the monitored set). Duplicate
// raw events for the same (trip, stop) collapse to the last seen.
func (r *Reconciler) Reconcile(raw []feed.RawObservation, timeIndex int) ([]storage.Observation, ReconcileStats) {
	stats := ReconcileStats{}

	// Last-seen-wins within the payload, preserving first-seen
	// order for the emitted batch.
	type key struct {
		tripID string
		stopID int
	}
	order := []key{}
	latest := map[key]feed.RawObservation{}
	for _, obs := range raw {
		k := key{obs.TripID, obs.StopID}
		if _, seen := latest[k]; seen {
			stats.DupesCollapsed++
		} else {
			order = append(order, k)
		}
		latest[k] = obs
	}

	batch := []storage.Observation{}
	for _, k := range order {
		obs := latest[k]

		entry, found := r.Index.Lookup(obs.TripID, obs.StopID)
		if !found {
			stats.DroppedNoSchedule++
			continue
		}

		row := storage.Observation{
			TripID:                 obs.TripID,
			StopID:                 obs.StopID,
			TimeIndex:              timeIndex,
			ShortStopName:          entry.ShortStopName,
			ScheduledArrivalSecs:   entry.ArrivalSecs,
			ScheduledDepartureSecs: entry.DepartureSecs,
		}

		recorded := obs.RecordedAt.In(r.Location)
		row.RecordedAtUTC, row.RecordedAtDate, row.RecordedAtTime = timeFields(recorded)

		if obs.StationName != "" {
			row.StationName = ptr(obs.StationName)
		}
		if obs.VehicleAtStop != "" {
			row.VehicleAtStop = ptr(obs.VehicleAtStop)
		}

		// Attribute the observation to its service day. A trip
		// departing 00:40 the next calendar day still belongs
		// to the previous day's trip instance.
		base := recorded
		if obs.AimedDeparture != nil {
			base = obs.AimedDeparture.In(r.Location)
		}
		serviceDay := base.AddDate(0, 0, entry.StartDateOffset)
		row.TrainStartDate = serviceDay.Format("2006-01-02")

		if obs.AimedArrival != nil {
			arrival := obs.AimedArrival.In(r.Location)
			utc, date, clock := timeFields(arrival)
			secs := serviceDaySeconds(arrival, serviceDay)
			row.AimedArrivalUTC = &utc
			row.AimedArrivalDate = &date
			row.AimedArrivalTime = &clock
			row.AimedArrivalSeconds = &secs
			row.ArrivalOnTime = ptr(secs <= entry.ArrivalSecs)
			row.ArrivalDelaySecs = ptr(secs - entry.ArrivalSecs)
		}

		if obs.AimedDeparture != nil {
			departure := obs.AimedDeparture.In(r.Location)
			utc, date, clock := timeFields(departure)
			secs := serviceDaySeconds(departure, serviceDay)
			row.AimedDepartureUTC = &utc
			row.AimedDepartureDate = &date
			row.AimedDepartureTime = &clock
			row.AimedDepartureSeconds = &secs
			row.DepartureOnTime = ptr(secs <= entry.DepartureSecs)
			row.DepartureDelaySecs = ptr(secs - entry.DepartureSecs)
		}

		batch = append(batch, row)
		stats.Joined++
	}

	if stats.DroppedNoSchedule > 0 {
		r.Logger.Info("dropped observations without schedule entry",
			"dropped", stats.DroppedNoSchedule,
			"joined", stats.Joined)
	}

	return batch, stats
}

func timeFields(t time.Time) (utc float64, date string, clock string) {
	utc = float64(t.UnixNano()) / 1e9
	date = t.Format("2006-01-02")
	clock = t.Format("15:04:05")
	return
}

func secondsSinceMidnight(t time.Time) int {
	return t.Hour()*3600 + t.Minute()*60 + t.Second()
}

// serviceDaySeconds measures t on the service day's extended clock:
// 01:10 the calendar day after the service day is 25:10:00, i.e.
// 90600, comparable to schedule times past 24:00:00.
func serviceDaySeconds(t, serviceDay time.Time) int {
	return daysBetween(serviceDay, t)*86400 + secondsSinceMidnight(t)
}

// daysBetween returns b's calendar date minus a's, in days.
func daysBetween(a, b time.Time) int {
	ad := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	bd := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(bd.Sub(ad).Hours() / 24)
}

func ptr[T any](v T) *T {
	return &v
}
