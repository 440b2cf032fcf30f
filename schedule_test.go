package transitmon_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transitmon.dev/transitmon"
)

const scheduleCSV = "" +
	"trip_id,stop_id,arrival_time,departure_time,short_stop_name,monday,tuesday,wednesday,thursday,friday,saturday,sunday\n" +
	"1234,400,07:58:00,08:00:00,Central,1,1,1,1,1,0,0\n" +
	"1234,401,08:10:00,08:11:00,North,1,1,1,1,1,0,0\n" +
	"5678,400,25:08:00,25:10:00,Central,0,0,0,0,0,1,1\n" +
	"SHUTTLE-1,400,09:00:00,09:01:00,Central,1,1,1,1,1,1,1\n"

func loadIndex(t *testing.T, csv string) *transitmon.ScheduleIndex {
	rows, err := transitmon.LoadScheduleRows(strings.NewReader(csv))
	require.NoError(t, err)

	index, err := transitmon.BuildScheduleIndex(rows, testLogger())
	require.NoError(t, err)
	return index
}

func TestLoadScheduleRowsStripsBOM(t *testing.T) {
	rows, err := transitmon.LoadScheduleRows(strings.NewReader("\ufeff" + scheduleCSV))
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "1234", rows[0].TripID)
	assert.Equal(t, 400, rows[0].StopID)
	assert.Equal(t, "08:00:00", rows[0].DepartureTime)
}

func TestBuildScheduleIndex(t *testing.T) {
	index := loadIndex(t, scheduleCSV)

	// The shuttle row is skipped, the rest are indexed.
	assert.Equal(t, 3, index.Len())
	assert.Equal(t, 1, index.Skipped)

	entry, found := index.Lookup("1234", 400)
	require.True(t, found)
	assert.Equal(t, "Central", entry.ShortStopName)
	assert.Equal(t, 7*3600+58*60, entry.ArrivalSecs)
	assert.Equal(t, 8*3600, entry.DepartureSecs)
	assert.Equal(t, 0, entry.StartDateOffset)
	assert.Equal(t, [7]bool{true, true, true, true, true, false, false}, entry.Days)

	_, found = index.Lookup("SHUTTLE-1", 400)
	assert.False(t, found)

	_, found = index.Lookup("1234", 999)
	assert.False(t, found)
}

func TestBuildScheduleIndexPastMidnight(t *testing.T) {
	index := loadIndex(t, scheduleCSV)

	// 25:10:00 is 01:10 the next calendar day, so observations of
	// this trip map back one day to their service day.
	entry, found := index.Lookup("5678", 400)
	require.True(t, found)
	assert.Equal(t, 25*3600+10*60, entry.DepartureSecs)
	assert.Equal(t, -1, entry.StartDateOffset)
}

func TestBuildScheduleIndexBadTime(t *testing.T) {
	csv := "trip_id,stop_id,arrival_time,departure_time,short_stop_name,monday,tuesday,wednesday,thursday,friday,saturday,sunday\n" +
		"1234,400,07:58:00,8am,Central,1,1,1,1,1,0,0\n"

	rows, err := transitmon.LoadScheduleRows(strings.NewReader(csv))
	require.NoError(t, err)

	_, err = transitmon.BuildScheduleIndex(rows, testLogger())
	assert.ErrorContains(t, err, "departure_time")
}
