package feed

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	gtfsproto "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	proto "google.golang.org/protobuf/proto"
)

// Decodes a GTFS Realtime TripUpdate feed. Only the departure legs of
// stop_time_update entries are used; the feed carries no arrival
// predictions we trust.
type TripUpdateAdapter struct {
	Logger *slog.Logger
}

func (a *TripUpdateAdapter) Parse(data []byte) ([]RawObservation, error) {
	f := &gtfsproto.FeedMessage{}
	if err := proto.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("unmarshaling protobuf: %w", err)
	}

	header := f.GetHeader()

	version := header.GetGtfsRealtimeVersion()
	if version != "2.0" && version != "1.0" {
		return nil, fmt.Errorf("version %s not supported", version)
	}

	if header.GetTimestamp() == 0 {
		return nil, fmt.Errorf("feed header missing timestamp")
	}
	recordedAt := time.Unix(int64(header.GetTimestamp()), 0).UTC()

	observations := []RawObservation{}
	for _, entity := range f.GetEntity() {
		update := entity.GetTripUpdate()
		if update == nil {
			continue
		}

		tripID := update.GetTrip().GetTripId()
		if tripID == "" {
			a.Logger.Warn("dropping trip_update without trip id",
				"entity", entity.GetId())
			continue
		}

		for _, stu := range update.GetStopTimeUpdate() {
			stopID, err := strconv.Atoi(stu.GetStopId())
			if err != nil {
				a.Logger.Warn("dropping stop_time_update with bad stop id",
					"trip_id", tripID,
					"stop_id", stu.GetStopId())
				continue
			}

			departure := stu.GetDeparture()
			if departure.GetTime() == 0 {
				a.Logger.Warn("dropping stop_time_update without departure time",
					"trip_id", tripID,
					"stop_id", stopID)
				continue
			}
			aimed := time.Unix(departure.GetTime(), 0).UTC()

			observations = append(observations, RawObservation{
				TripID:         tripID,
				StopID:         stopID,
				RecordedAt:     recordedAt,
				AimedDeparture: &aimed,
			})
		}
	}

	return observations, nil
}
