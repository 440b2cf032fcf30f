package transitmon_test

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	gtfsproto "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	proto "google.golang.org/protobuf/proto"

	"transitmon.dev/transitmon"
	"transitmon.dev/transitmon/downloader"
	"transitmon.dev/transitmon/feed"
	"transitmon.dev/transitmon/storage"
)

// Serves canned payloads per URL, failing a set number of times
// first.
type fakeDownloader struct {
	payloads map[string][]byte
	failures int
	calls    int
}

func (d *fakeDownloader) Get(ctx context.Context, url string, headers map[string]string, options downloader.GetOptions) ([]byte, error) {
	d.calls++
	if d.failures > 0 {
		d.failures--
		return nil, errors.New("connection reset")
	}
	payload, found := d.payloads[url]
	if !found {
		return nil, errors.New("404")
	}
	return payload, nil
}

func tripUpdatePayload(t *testing.T, recordedAt time.Time, updates map[string]map[int]time.Time) []byte {
	f := &gtfsproto.FeedMessage{
		Header: &gtfsproto.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
			Timestamp:           proto.Uint64(uint64(recordedAt.Unix())),
		},
	}

	i := 0
	for tripID, stops := range updates {
		update := &gtfsproto.TripUpdate{
			Trip: &gtfsproto.TripDescriptor{TripId: proto.String(tripID)},
		}
		for stopID, departure := range stops {
			update.StopTimeUpdate = append(update.StopTimeUpdate, &gtfsproto.TripUpdate_StopTimeUpdate{
				StopId: proto.String(strconv.Itoa(stopID)),
				Departure: &gtfsproto.TripUpdate_StopTimeEvent{
					Time: proto.Int64(departure.Unix()),
				},
			})
		}
		f.Entity = append(f.Entity, &gtfsproto.FeedEntity{
			Id:         proto.String(strconv.Itoa(i)),
			TripUpdate: update,
		})
		i++
	}

	data, err := proto.Marshal(f)
	require.NoError(t, err)
	return data
}

func testCollector(t *testing.T, dl *fakeDownloader) (*transitmon.Collector, *storage.MemoryStorage) {
	store := storage.NewMemoryStorage()

	retry := transitmon.NewRetryPolicy(testLogger())
	retry.Sleep = func(ctx context.Context, d time.Duration) error { return nil }

	collector := &transitmon.Collector{
		Store: store,
		TripUpdates: &feed.Source{
			URL:        "http://transit.example.com/gtfs-rt",
			Downloader: dl,
			Adapter:    &feed.TripUpdateAdapter{Logger: testLogger()},
		},
		StopMonitoring: &feed.Source{
			URL:        "http://transit.example.com/siri",
			Downloader: dl,
			Adapter:    &feed.StopMonitoringAdapter{Logger: testLogger()},
		},
		Reconciler: &transitmon.Reconciler{
			Index:    loadIndex(t, scheduleCSV),
			Location: time.UTC,
			Logger:   testLogger(),
		},
		Retry:    retry,
		Logger:   testLogger(),
		Location: time.UTC,
		Now:      func() time.Time { return time.Unix(1709535600, 0) },
	}
	require.NoError(t, collector.CreateTables())
	return collector, store
}

func TestCollectTripUpdates(t *testing.T) {
	recordedAt := ts("2024-03-04T07:59:00Z")
	dl := &fakeDownloader{payloads: map[string][]byte{
		"http://transit.example.com/gtfs-rt": tripUpdatePayload(t, recordedAt, map[string]map[int]time.Time{
			"1234": {
				400: ts("2024-03-04T08:02:00Z"),
				999: ts("2024-03-04T08:30:00Z"), // not monitored
			},
		}),
	}}
	collector, store := testCollector(t, dl)

	require.NoError(t, collector.CollectTripUpdates(context.Background(), 2))

	// The unknown stop is dropped end to end, the monitored one
	// lands with its delay.
	rows, err := store.Observations(context.Background(), storage.TripUpdatesTable)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "1234", rows[0].TripID)
	assert.Equal(t, 400, rows[0].StopID)
	assert.Equal(t, 2, rows[0].TimeIndex)
	require.NotNil(t, rows[0].DepartureDelaySecs)
	assert.Equal(t, 120, *rows[0].DepartureDelaySecs)

	// The cycle is recorded in the periodic task monitor.
	count, err := store.CountCyclesSince(context.Background(), time.Unix(0, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCollectRetriesFetch(t *testing.T) {
	recordedAt := ts("2024-03-04T07:59:00Z")
	dl := &fakeDownloader{
		failures: 2,
		payloads: map[string][]byte{
			"http://transit.example.com/gtfs-rt": tripUpdatePayload(t, recordedAt, map[string]map[int]time.Time{
				"1234": {400: ts("2024-03-04T08:00:00Z")},
			}),
		},
	}
	collector, store := testCollector(t, dl)

	require.NoError(t, collector.CollectTripUpdates(context.Background(), 0))
	assert.Equal(t, 3, dl.calls)

	rows, err := store.Observations(context.Background(), storage.TripUpdatesTable)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestCollectFetchExhaustion(t *testing.T) {
	dl := &fakeDownloader{failures: 100}
	collector, store := testCollector(t, dl)

	err := collector.CollectTripUpdates(context.Background(), 0)
	require.Error(t, err)
	assert.ErrorContains(t, err, "connection reset")
	assert.Equal(t, 5, dl.calls)

	// A failed cycle records nothing.
	count, err := store.CountCyclesSince(context.Background(), time.Unix(0, 0))
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestCollectStopMonitoring(t *testing.T) {
	siri := `{
	  "ServiceDelivery": {
	    "StopMonitoringDelivery": {
	      "MonitoredStopVisit": [
	        {
	          "RecordedAtTime": "2024-03-04T07:59:00Z",
	          "MonitoredVehicleJourney": {
	            "FramedVehicleJourneyRef": {"DatedVehicleJourneyRef": "1234"},
	            "MonitoredCall": {
	              "StopPointName": "Central Station",
	              "StopPointRef": "400",
	              "VehicleAtStop": true,
	              "AimedArrivalTime": "2024-03-04T07:57:00Z",
	              "AimedDepartureTime": "2024-03-04T08:02:00Z"
	            }
	          }
	        }
	      ]
	    }
	  }
	}`
	dl := &fakeDownloader{payloads: map[string][]byte{
		"http://transit.example.com/siri": []byte(siri),
	}}
	collector, store := testCollector(t, dl)

	require.NoError(t, collector.CollectStopMonitoring(context.Background(), 1))

	rows, err := store.Observations(context.Background(), storage.StopMonitoringTable)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].StationName)
	assert.Equal(t, "Central Station", *rows[0].StationName)
	require.NotNil(t, rows[0].ArrivalDelaySecs)
	assert.Equal(t, -60, *rows[0].ArrivalDelaySecs)
	assert.Equal(t, 120, *rows[0].DepartureDelaySecs)
}

func TestCollectNotifierSeesBatch(t *testing.T) {
	recordedAt := ts("2024-03-04T07:59:00Z")
	dl := &fakeDownloader{payloads: map[string][]byte{
		"http://transit.example.com/gtfs-rt": tripUpdatePayload(t, recordedAt, map[string]map[int]time.Time{
			"1234": {400: ts("2024-03-04T08:10:00Z")}, // ten minutes late
		}),
	}}
	collector, store := testCollector(t, dl)

	sender := &fakeSender{}
	collector.Notifier = &transitmon.DelayNotifier{
		Store:  store,
		Sender: sender,
		Logger: testLogger(),
	}

	require.NoError(t, collector.CollectTripUpdates(context.Background(), 0))
	require.Len(t, sender.bodies, 1)
	assert.Contains(t, sender.bodies[0], "1234")
	assert.Contains(t, sender.bodies[0], "10.00")
}
