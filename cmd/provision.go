package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"transitmon.dev/transitmon"
	"transitmon.dev/transitmon/traffic"
)

var (
	provisionDate    string
	provisionWindows []string
	provisionPeriod  time.Duration
	provisionTrips   string
)

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Rebuild the job store for a day's collection",
	Long: "Replaces all scheduled jobs: interval feed-polling jobs for each " +
		"collection window, and one traffic job per monitored trip at its " +
		"scheduled departure",
	RunE: runProvision,
}

func init() {
	provisionCmd.Flags().StringVarP(&provisionDate, "date", "", "", "Collection date (YYYY-MM-DD, default today)")
	provisionCmd.Flags().StringSliceVarP(&provisionWindows, "window", "", []string{}, "Collection window, <time_index>=<HH:MM>-<HH:MM>")
	provisionCmd.Flags().DurationVarP(&provisionPeriod, "period", "", time.Minute, "Polling period within each window")
	provisionCmd.Flags().StringVarP(&provisionTrips, "trips", "", "", "JSON file of monitored trips for traffic sampling")
}

func runProvision(cmd *cobra.Command, args []string) error {
	e, err := buildEnv()
	if err != nil {
		return err
	}
	defer e.Store.Close()

	day := time.Now().In(e.Config.Location)
	if provisionDate != "" {
		day, err = time.ParseInLocation("2006-01-02", provisionDate, e.Config.Location)
		if err != nil {
			return fmt.Errorf("invalid date: %w", err)
		}
	}

	windows := []transitmon.Window{}
	for _, spec := range provisionWindows {
		w, err := parseWindow(spec, day, e.Config.Location)
		if err != nil {
			return err
		}
		windows = append(windows, w)
	}

	trips := []transitmon.TrafficTrip{}
	if provisionTrips != "" {
		trips, err = loadTrips(provisionTrips, e.Index)
		if err != nil {
			return err
		}
	}

	jobs, err := e.jobStore()
	if err != nil {
		return err
	}
	defer jobs.Close()

	if err := transitmon.ProvisionJobs(cmd.Context(), jobs, windows, trips); err != nil {
		return err
	}

	e.Logger.Info("jobs provisioned",
		"date", day.Format("2006-01-02"),
		"windows", len(windows),
		"trips", len(trips))
	return nil
}

// parseWindow parses "<time_index>=<HH:MM>-<HH:MM>" into a Window on
// the given day.
func parseWindow(spec string, day time.Time, loc *time.Location) (transitmon.Window, error) {
	bad := func() (transitmon.Window, error) {
		return transitmon.Window{}, fmt.Errorf("'%s' is not on form <time_index>=<HH:MM>-<HH:MM>", spec)
	}

	idxPart, rangePart, found := strings.Cut(spec, "=")
	if !found {
		return bad()
	}
	idx, err := strconv.Atoi(idxPart)
	if err != nil {
		return bad()
	}
	startPart, endPart, found := strings.Cut(rangePart, "-")
	if !found {
		return bad()
	}

	start, err := atClock(day, startPart, loc)
	if err != nil {
		return bad()
	}
	end, err := atClock(day, endPart, loc)
	if err != nil {
		return bad()
	}
	if !end.After(start) {
		return transitmon.Window{}, fmt.Errorf("window %d ends before it starts", idx)
	}

	return transitmon.Window{
		TimeIndex: idx,
		Start:     start,
		End:       end,
		Period:    provisionPeriod,
	}, nil
}

func atClock(day time.Time, clock string, loc *time.Location) (time.Time, error) {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, loc), nil
}

type tripSpec struct {
	TripIndex    int            `json:"trip_index"`
	TripID       string         `json:"trip_id"`
	StartStation string         `json:"start_station"`
	EndStation   string         `json:"end_station"`
	Origin       traffic.LatLng `json:"origin"`
	Destination  traffic.LatLng `json:"destination"`
}

// loadTrips reads the monitored-trips file and fills in each trip's
// departure time and service days from the schedule.
func loadTrips(path string, index *transitmon.ScheduleIndex) ([]transitmon.TrafficTrip, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading trips file: %w", err)
	}

	specs := []tripSpec{}
	if err := json.Unmarshal(buf, &specs); err != nil {
		return nil, fmt.Errorf("parsing trips file: %w", err)
	}

	trips := []transitmon.TrafficTrip{}
	for _, spec := range specs {
		entry, found := firstDeparture(index, spec.TripID)
		if !found {
			return nil, fmt.Errorf("trip %s not in schedule", spec.TripID)
		}
		trips = append(trips, transitmon.TrafficTrip{
			TripIndex:     spec.TripIndex,
			TripID:        spec.TripID,
			StartStation:  spec.StartStation,
			EndStation:    spec.EndStation,
			Origin:        spec.Origin,
			Destination:   spec.Destination,
			Days:          entry.Days,
			DepartureSecs: entry.DepartureSecs,
		})
	}
	return trips, nil
}

func firstDeparture(index *transitmon.ScheduleIndex, tripID string) (transitmon.ScheduleEntry, bool) {
	best := transitmon.ScheduleEntry{}
	found := false
	for _, entry := range index.Entries() {
		if entry.TripID != tripID {
			continue
		}
		if !found || entry.DepartureSecs < best.DepartureSecs {
			best = entry
			found = true
		}
	}
	return best, found
}
