package transitmon

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
	"github.com/spkg/bom"
)

// One row of the pre-normalized schedule CSV produced at provisioning
// time. Times are on the form HH:MM:SS and may exceed 24:00:00 for
// trips scheduled past midnight of their service day.
type ScheduleRow struct {
	TripID        string `csv:"trip_id"`
	StopID        int    `csv:"stop_id"`
	ArrivalTime   string `csv:"arrival_time"`
	DepartureTime string `csv:"departure_time"`
	ShortStopName string `csv:"short_stop_name"`
	Monday        int    `csv:"monday"`
	Tuesday       int    `csv:"tuesday"`
	Wednesday     int    `csv:"wednesday"`
	Thursday      int    `csv:"thursday"`
	Friday        int    `csv:"friday"`
	Saturday      int    `csv:"saturday"`
	Sunday        int    `csv:"sunday"`
}

// Static schedule data for one (trip, stop) pair.
type ScheduleEntry struct {
	TripID        string
	StopID        int
	ShortStopName string

	// Seconds since local midnight of the service day.
	ArrivalSecs   int
	DepartureSecs int

	// Days to add to an observation's calendar date to obtain the
	// service day. -1 for trips scheduled at 24:00:00 or later.
	StartDateOffset int

	// Weekday flags, Monday first.
	Days [7]bool
}

// Immutable lookup from (trip, stop) to schedule data. Built once per
// process invocation.
type ScheduleIndex struct {
	entries map[scheduleKey]ScheduleEntry

	// Rows rejected during the build, e.g. shuttle services with
	// non-numeric trip ids.
	Skipped int
}

type scheduleKey struct {
	tripID string
	stopID int
}

// LoadScheduleRows reads schedule CSV rows. The BOM reader strips a
// unicode BOM if present.
func LoadScheduleRows(r io.Reader) ([]ScheduleRow, error) {
	rows := []ScheduleRow{}
	if err := gocsv.Unmarshal(bom.NewReader(r), &rows); err != nil {
		return nil, errors.Wrap(err, "unmarshaling schedule csv")
	}
	return rows, nil
}

// BuildScheduleIndex indexes schedule rows by (trip, stop). Rows with
// non-numeric trip ids are shuttles and special services outside the
// monitored set; they are skipped and counted.
func BuildScheduleIndex(rows []ScheduleRow, logger *slog.Logger) (*ScheduleIndex, error) {
	index := &ScheduleIndex{
		entries: map[scheduleKey]ScheduleEntry{},
	}

	for i, row := range rows {
		if _, err := strconv.Atoi(row.TripID); err != nil {
			index.Skipped++
			continue
		}

		arrivalSecs, err := parseScheduleTime(row.ArrivalTime)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing arrival_time (row %d)", i+1)
		}
		departureSecs, err := parseScheduleTime(row.DepartureTime)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing departure_time (row %d)", i+1)
		}

		entry := ScheduleEntry{
			TripID:        row.TripID,
			StopID:        row.StopID,
			ShortStopName: row.ShortStopName,
			ArrivalSecs:   arrivalSecs,
			DepartureSecs: departureSecs,

			// A departure at 25:10:00 belongs to the
			// previous calendar day's trip instance.
			StartDateOffset: -(departureSecs / 86400),

			Days: [7]bool{
				row.Monday == 1,
				row.Tuesday == 1,
				row.Wednesday == 1,
				row.Thursday == 1,
				row.Friday == 1,
				row.Saturday == 1,
				row.Sunday == 1,
			},
		}

		index.entries[scheduleKey{row.TripID, row.StopID}] = entry
	}

	if index.Skipped > 0 {
		logger.Warn("skipped schedule rows with non-numeric trip ids",
			"skipped", index.Skipped)
	}

	return index, nil
}

// Lookup returns the schedule entry for (trip, stop), if any.
func (x *ScheduleIndex) Lookup(tripID string, stopID int) (ScheduleEntry, bool) {
	entry, found := x.entries[scheduleKey{tripID, stopID}]
	return entry, found
}

// Len returns the number of indexed (trip, stop) pairs.
func (x *ScheduleIndex) Len() int {
	return len(x.entries)
}

// Entries returns all indexed entries, in no particular order.
func (x *ScheduleIndex) Entries() []ScheduleEntry {
	entries := make([]ScheduleEntry, 0, len(x.entries))
	for _, entry := range x.entries {
		entries = append(entries, entry)
	}
	return entries
}

func parseScheduleTime(s string) (int, error) {
	split := strings.Split(s, ":")
	if len(split) != 3 {
		return 0, fmt.Errorf("found %d parts in '%s'", len(split), s)
	}

	hms := [3]int{}
	for i, str := range split {
		j, err := strconv.Atoi(strings.TrimSpace(str))
		if err != nil {
			return 0, fmt.Errorf("non-integer in '%s' pos %d", s, i)
		}
		hms[i] = j
	}

	if hms[0] < 0 || hms[0] > 99 {
		return 0, fmt.Errorf("invalid hour in '%s'", s)
	}
	if hms[1] < 0 || hms[1] > 59 {
		return 0, fmt.Errorf("invalid minute in '%s'", s)
	}
	if hms[2] < 0 || hms[2] > 59 {
		return 0, fmt.Errorf("invalid second in '%s'", s)
	}

	return hms[0]*3600 + hms[1]*60 + hms[2], nil
}
