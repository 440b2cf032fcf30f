package transitmon_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transitmon.dev/transitmon"
	"transitmon.dev/transitmon/scheduler"
	"transitmon.dev/transitmon/traffic"
)

func TestProvisionJobs(t *testing.T) {
	store := scheduler.NewMemoryStore()

	// A stale job from yesterday's provisioning.
	require.NoError(t, store.PutJob(context.Background(), scheduler.Job{
		ID: "stale",
		Trigger: scheduler.Trigger{
			Interval: &scheduler.IntervalTrigger{
				Period: time.Minute,
				Start:  ts("2024-03-03T07:00:00Z"),
			},
		},
		Task: transitmon.TaskCollectTripUpdates,
	}))

	windows := []transitmon.Window{
		{
			TimeIndex: 1,
			Start:     ts("2024-03-04T07:00:00Z"),
			End:       ts("2024-03-04T09:30:00Z"),
			Period:    time.Minute,
		},
		{
			TimeIndex: 2,
			Start:     ts("2024-03-04T16:00:00Z"),
			End:       ts("2024-03-04T18:30:00Z"),
			Period:    time.Minute,
		},
	}
	trips := []transitmon.TrafficTrip{
		{
			TripIndex:    0,
			TripID:       "5678",
			StartStation: "Central",
			EndStation:   "North",
			Origin:       traffic.LatLng{Lat: 59.33, Lng: 18.05},
			Destination:  traffic.LatLng{Lat: 59.36, Lng: 17.96},
			Days:         [7]bool{false, false, false, false, false, true, true},
			DepartureSecs: 25*3600 + 10*60,
		},
	}

	require.NoError(t, transitmon.ProvisionJobs(context.Background(), store, windows, trips))

	jobs, err := store.ListJobs(context.Background())
	require.NoError(t, err)

	// Two feed jobs per window plus one traffic job, stale job
	// gone.
	require.Len(t, jobs, 5)
	byID := map[string]scheduler.Job{}
	for _, job := range jobs {
		byID[job.ID] = job
	}
	assert.NotContains(t, byID, "stale")

	feedJob, found := byID["collect_stop_monitoring_2"]
	require.True(t, found)
	require.NotNil(t, feedJob.Trigger.Interval)
	assert.Equal(t, ts("2024-03-04T16:00:00Z"), feedJob.Trigger.Interval.Start)
	args := transitmon.CollectArgs{}
	require.NoError(t, json.Unmarshal(feedJob.Args, &args))
	assert.Equal(t, 2, args.TimeIndex)

	// The 25:10 departure on weekend service days fires at 01:10
	// on Sunday and Monday mornings.
	trafficJob, found := byID["collect_traffic_0"]
	require.True(t, found)
	require.NotNil(t, trafficJob.Trigger.Cron)
	assert.Equal(t, 1, trafficJob.Trigger.Cron.Hour)
	assert.Equal(t, 10, trafficJob.Trigger.Cron.Minute)
	assert.ElementsMatch(t,
		[]time.Weekday{time.Sunday, time.Monday},
		trafficJob.Trigger.Cron.Days)

	trafficArgs := transitmon.TrafficArgs{}
	require.NoError(t, json.Unmarshal(trafficJob.Args, &trafficArgs))
	assert.Equal(t, "5678", trafficArgs.TripID)
	assert.Equal(t, "59.330000,18.050000", trafficArgs.Origin.String())
}
