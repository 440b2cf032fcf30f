package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/spkg/bom"
)

// Decodes a SIRI StopMonitoring feed. The upstream serves it as JSON
// with a UTF-8 BOM, hence the bom reader.
type StopMonitoringAdapter struct {
	Logger *slog.Logger
}

type siriEnvelope struct {
	ServiceDelivery struct {
		StopMonitoringDelivery struct {
			MonitoredStopVisit []siriStopVisit
		}
	}
}

type siriStopVisit struct {
	RecordedAtTime          string
	MonitoredVehicleJourney struct {
		FramedVehicleJourneyRef struct {
			DatedVehicleJourneyRef string
		}
		MonitoredCall struct {
			StopPointName      string
			StopPointRef       string
			VehicleAtStop      interface{}
			AimedArrivalTime   string
			AimedDepartureTime string
		}
	}
}

func (a *StopMonitoringAdapter) Parse(data []byte) ([]RawObservation, error) {
	envelope := siriEnvelope{}
	decoder := json.NewDecoder(bom.NewReader(bytes.NewReader(data)))
	if err := decoder.Decode(&envelope); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	observations := []RawObservation{}
	for _, visit := range envelope.ServiceDelivery.StopMonitoringDelivery.MonitoredStopVisit {
		journey := visit.MonitoredVehicleJourney
		call := journey.MonitoredCall

		tripID := journey.FramedVehicleJourneyRef.DatedVehicleJourneyRef
		if tripID == "" {
			a.Logger.Warn("dropping stop visit without journey ref")
			continue
		}

		stopID, err := strconv.Atoi(call.StopPointRef)
		if err != nil {
			a.Logger.Warn("dropping stop visit with bad stop ref",
				"trip_id", tripID,
				"stop_ref", call.StopPointRef)
			continue
		}

		recordedAt, err := parseZonedTime(visit.RecordedAtTime)
		if err != nil {
			a.Logger.Warn("dropping stop visit with bad RecordedAtTime",
				"trip_id", tripID,
				"stop_id", stopID,
				"error", err)
			continue
		}

		arrival, err := parseOptionalZonedTime(call.AimedArrivalTime)
		if err != nil {
			a.Logger.Warn("dropping stop visit with bad AimedArrivalTime",
				"trip_id", tripID,
				"stop_id", stopID,
				"error", err)
			continue
		}
		departure, err := parseOptionalZonedTime(call.AimedDepartureTime)
		if err != nil {
			a.Logger.Warn("dropping stop visit with bad AimedDepartureTime",
				"trip_id", tripID,
				"stop_id", stopID,
				"error", err)
			continue
		}

		// The feed serves VehicleAtStop as bool or string
		// depending on endpoint version.
		vehicleAtStop := ""
		if call.VehicleAtStop != nil {
			vehicleAtStop = fmt.Sprintf("%v", call.VehicleAtStop)
		}

		observations = append(observations, RawObservation{
			TripID:         tripID,
			StopID:         stopID,
			StationName:    call.StopPointName,
			VehicleAtStop:  vehicleAtStop,
			RecordedAt:     recordedAt,
			AimedArrival:   arrival,
			AimedDeparture: departure,
		})
	}

	return observations, nil
}

// parseZonedTime parses an RFC3339 timestamp. A timestamp without an
// explicit zone offset is rejected rather than assumed UTC or local.
func parseZonedTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err == nil {
		return t, nil
	}
	if _, naiveErr := time.Parse("2006-01-02T15:04:05", s); naiveErr == nil {
		return time.Time{}, fmt.Errorf("timestamp '%s' missing timezone", s)
	}
	return time.Time{}, fmt.Errorf("bad timestamp '%s'", s)
}

func parseOptionalZonedTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := parseZonedTime(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
