package feed

import (
	"context"
	"fmt"
	"time"

	"transitmon.dev/transitmon/downloader"
)

const (
	DefaultTimeout = 30 * time.Second
	DefaultMaxSize = 1 << 20 // 1 MB
)

// A single (trip, stop) event extracted from a realtime feed. Both
// feed kinds produce this shape; nil timestamps mean the feed does
// not supply that event, which is distinct from an on-time event.
type RawObservation struct {
	TripID        string
	StopID        int
	StationName   string
	VehicleAtStop string

	RecordedAt     time.Time
	AimedArrival   *time.Time
	AimedDeparture *time.Time
}

// Decodes one feed payload into raw observations. Individual
// malformed entries are dropped (and logged); only a payload-level
// failure is an error.
type Adapter interface {
	Parse(data []byte) ([]RawObservation, error)
}

// A remote realtime feed: a URL plus the adapter that decodes its
// payloads.
type Source struct {
	URL        string
	Headers    map[string]string
	Timeout    time.Duration
	MaxSize    int
	Downloader downloader.Downloader
	Adapter    Adapter
}

// Fetch downloads and decodes one payload.
func (s *Source) Fetch(ctx context.Context) ([]RawObservation, error) {
	timeout := s.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	maxSize := s.MaxSize
	if maxSize == 0 {
		maxSize = DefaultMaxSize
	}
	dl := s.Downloader
	if dl == nil {
		dl = downloader.NewMemory()
	}

	data, err := dl.Get(ctx, s.URL, s.Headers, downloader.GetOptions{
		Timeout: timeout,
		MaxSize: maxSize,
	})
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", s.URL, err)
	}

	observations, err := s.Adapter.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", s.URL, err)
	}

	return observations, nil
}
