package feed_test

import (
	"io"
	"log/slog"
	"testing"
	"time"

	gtfsproto "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	proto "google.golang.org/protobuf/proto"

	"transitmon.dev/transitmon/feed"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func marshalFeed(t *testing.T, f *gtfsproto.FeedMessage) []byte {
	data, err := proto.Marshal(f)
	require.NoError(t, err)
	return data
}

func feedHeader(timestamp int64) *gtfsproto.FeedHeader {
	return &gtfsproto.FeedHeader{
		GtfsRealtimeVersion: proto.String("2.0"),
		Timestamp:           proto.Uint64(uint64(timestamp)),
	}
}

func tripUpdateEntity(id string, tripID string, stops map[string]int64) *gtfsproto.FeedEntity {
	update := &gtfsproto.TripUpdate{
		Trip: &gtfsproto.TripDescriptor{TripId: proto.String(tripID)},
	}
	for stopID, departure := range stops {
		stu := &gtfsproto.TripUpdate_StopTimeUpdate{
			StopId: proto.String(stopID),
		}
		if departure != 0 {
			stu.Departure = &gtfsproto.TripUpdate_StopTimeEvent{
				Time: proto.Int64(departure),
			}
		}
		update.StopTimeUpdate = append(update.StopTimeUpdate, stu)
	}
	return &gtfsproto.FeedEntity{
		Id:         proto.String(id),
		TripUpdate: update,
	}
}

func TestTripUpdateParse(t *testing.T) {
	recordedAt := int64(1709535540)
	departure := int64(1709535720)

	data := marshalFeed(t, &gtfsproto.FeedMessage{
		Header: feedHeader(recordedAt),
		Entity: []*gtfsproto.FeedEntity{
			tripUpdateEntity("1", "1234", map[string]int64{"400": departure}),
		},
	})

	adapter := &feed.TripUpdateAdapter{Logger: testLogger()}
	observations, err := adapter.Parse(data)
	require.NoError(t, err)
	require.Len(t, observations, 1)

	obs := observations[0]
	assert.Equal(t, "1234", obs.TripID)
	assert.Equal(t, 400, obs.StopID)
	assert.Equal(t, time.Unix(recordedAt, 0).UTC(), obs.RecordedAt)
	require.NotNil(t, obs.AimedDeparture)
	assert.Equal(t, time.Unix(departure, 0).UTC(), *obs.AimedDeparture)
	assert.Nil(t, obs.AimedArrival)
}

func TestTripUpdateParseSkipsMalformedEntities(t *testing.T) {
	data := marshalFeed(t, &gtfsproto.FeedMessage{
		Header: feedHeader(1709535540),
		Entity: []*gtfsproto.FeedEntity{
			// No trip id.
			tripUpdateEntity("1", "", map[string]int64{"400": 1709535720}),
			// Non-numeric stop id.
			tripUpdateEntity("2", "1234", map[string]int64{"PLATFORM-A": 1709535720}),
			// No departure time.
			tripUpdateEntity("3", "1234", map[string]int64{"401": 0}),
			// Intact.
			tripUpdateEntity("4", "5678", map[string]int64{"400": 1709535720}),
		},
	})

	adapter := &feed.TripUpdateAdapter{Logger: testLogger()}
	observations, err := adapter.Parse(data)
	require.NoError(t, err)
	require.Len(t, observations, 1)
	assert.Equal(t, "5678", observations[0].TripID)
}

func TestTripUpdateParseBadVersion(t *testing.T) {
	data := marshalFeed(t, &gtfsproto.FeedMessage{
		Header: &gtfsproto.FeedHeader{
			GtfsRealtimeVersion: proto.String("3.0"),
			Timestamp:           proto.Uint64(1709535540),
		},
	})

	adapter := &feed.TripUpdateAdapter{Logger: testLogger()}
	_, err := adapter.Parse(data)
	assert.ErrorContains(t, err, "version")
}

func TestTripUpdateParseMissingTimestamp(t *testing.T) {
	data := marshalFeed(t, &gtfsproto.FeedMessage{
		Header: &gtfsproto.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
		},
	})

	adapter := &feed.TripUpdateAdapter{Logger: testLogger()}
	_, err := adapter.Parse(data)
	assert.ErrorContains(t, err, "timestamp")
}

func TestTripUpdateParseGarbage(t *testing.T) {
	adapter := &feed.TripUpdateAdapter{Logger: testLogger()}
	_, err := adapter.Parse([]byte("this is not a protobuf, promise"))
	assert.Error(t, err)
}
