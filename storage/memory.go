package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// In-memory implementation of Storage. Mostly useful for testing.
type MemoryStorage struct {
	mu sync.Mutex

	specs  map[string]TableSpec
	tables map[string]map[string]Observation

	traffic []TrafficObservation
	cycles  []monitorRecord
	process []monitorRecord
	alerts  []monitorRecord
}

type monitorRecord struct {
	utc      float64
	notified bool
	name     string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		specs:  map[string]TableSpec{},
		tables: map[string]map[string]Observation{},
	}
}

func (s *MemoryStorage) CreateObservationTable(spec TableSpec) error {
	if err := spec.Validate(); err != nil {
		return fmt.Errorf("validating spec for %s: %w", spec.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, found := s.tables[spec.Name]; !found {
		s.specs[spec.Name] = spec
		s.tables[spec.Name] = map[string]Observation{}
	}

	return nil
}

func (s *MemoryStorage) keyString(spec TableSpec, o *Observation) (string, error) {
	key := ""
	for _, column := range spec.KeyColumns {
		v, err := o.Value(column)
		if err != nil {
			return "", err
		}
		key += fmt.Sprintf("%v|", v)
	}
	return key, nil
}

func (s *MemoryStorage) UpsertObservations(ctx context.Context, spec TableSpec, rows []Observation) error {
	if err := spec.Validate(); err != nil {
		return fmt.Errorf("validating spec for %s: %w", spec.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	table, found := s.tables[spec.Name]
	if !found {
		return fmt.Errorf("no such table: %s", spec.Name)
	}

	for _, row := range rows {
		key, err := s.keyString(spec, &row)
		if err != nil {
			return fmt.Errorf("computing key: %w", err)
		}
		// Replacement and insertion collapse into one map write.
		table[key] = s.project(spec, row)
	}

	return nil
}

// project clears fields outside the table's column set, mirroring how
// the SQL backends only persist the spec'd columns.
func (s *MemoryStorage) project(spec TableSpec, o Observation) Observation {
	cols := map[string]bool{}
	for _, c := range spec.Columns {
		cols[c] = true
	}
	if !cols["station_name"] {
		o.StationName = nil
	}
	if !cols["vehicle_at_stop"] {
		o.VehicleAtStop = nil
	}
	if !cols["aimed_arrival_date"] {
		o.AimedArrivalDate = nil
	}
	if !cols["aimed_arrival_time"] {
		o.AimedArrivalTime = nil
	}
	if !cols["aimed_arrival_utc"] {
		o.AimedArrivalUTC = nil
	}
	if !cols["aimed_arrival_seconds"] {
		o.AimedArrivalSeconds = nil
	}
	if !cols["arrival_on_time"] {
		o.ArrivalOnTime = nil
	}
	if !cols["arrival_delay_seconds"] {
		o.ArrivalDelaySecs = nil
	}
	return o
}

func (s *MemoryStorage) Observations(ctx context.Context, spec TableSpec) ([]Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, found := s.tables[spec.Name]
	if !found {
		return nil, fmt.Errorf("no such table: %s", spec.Name)
	}

	keys := make([]string, 0, len(table))
	for key := range table {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	observations := make([]Observation, 0, len(keys))
	for _, key := range keys {
		observations = append(observations, table[key])
	}

	return observations, nil
}

func (s *MemoryStorage) InsertTraffic(ctx context.Context, obs TrafficObservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.traffic = append(s.traffic, obs)
	return nil
}

// Traffic returns all recorded traffic measurements, in insertion
// order.
func (s *MemoryStorage) Traffic() []TrafficObservation {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]TrafficObservation{}, s.traffic...)
}

func (s *MemoryStorage) RecordCycle(ctx context.Context, timeIndex int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cycles = append(s.cycles, monitorRecord{utc: unixSeconds(at)})
	return nil
}

func (s *MemoryStorage) CountCyclesSince(ctx context.Context, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, rec := range s.cycles {
		if rec.utc > unixSeconds(since) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStorage) RecordProcessStart(ctx context.Context, logName string, notified bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.process = append(s.process, monitorRecord{
		utc:      unixSeconds(at),
		notified: notified,
		name:     logName,
	})
	return nil
}

func (s *MemoryStorage) ProcessNotifiedSince(ctx context.Context, since time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.process {
		if rec.notified && rec.utc > unixSeconds(since) {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStorage) RecordAlert(ctx context.Context, name string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.alerts = append(s.alerts, monitorRecord{
		utc:      unixSeconds(at),
		notified: true,
		name:     name,
	})
	return nil
}

func (s *MemoryStorage) AlertedSince(ctx context.Context, name string, since time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.alerts {
		if rec.name == name && rec.utc > unixSeconds(since) {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStorage) Close() error {
	return nil
}

func unixSeconds(at time.Time) float64 {
	return float64(at.UnixNano()) / 1e9
}
