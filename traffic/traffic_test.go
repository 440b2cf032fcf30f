package traffic_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transitmon.dev/transitmon/traffic"
)

const directionsOK = `{
  "status": "OK",
  "routes": [
    {
      "legs": [
        {
          "duration": {"value": 1200},
          "duration_in_traffic": {"value": 1520}
        }
      ]
    }
  ]
}`

func TestDirections(t *testing.T) {
	var query map[string][]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query()
		w.Write([]byte(directionsOK))
	}))
	defer server.Close()

	client := &traffic.Client{BaseURL: server.URL, APIKey: "test-key"}
	origin := traffic.LatLng{Lat: 59.33, Lng: 18.05}
	dest := traffic.LatLng{Lat: 59.36, Lng: 17.96}
	departure := time.Unix(1709535600, 0)

	result, err := client.Directions(context.Background(), origin, dest, departure)
	require.NoError(t, err)

	assert.Equal(t, 1520*time.Second, result.DurationInTraffic)
	assert.JSONEq(t, directionsOK, string(result.Raw))

	assert.Equal(t, []string{"59.330000,18.050000"}, query["origin"])
	assert.Equal(t, []string{"59.360000,17.960000"}, query["destination"])
	assert.Equal(t, []string{"driving"}, query["mode"])
	assert.Equal(t, []string{"1709535600"}, query["departure_time"])
	assert.Equal(t, []string{"test-key"}, query["key"])
}

func TestDirectionsBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "REQUEST_DENIED", "routes": []}`))
	}))
	defer server.Close()

	client := &traffic.Client{BaseURL: server.URL}
	_, err := client.Directions(context.Background(), traffic.LatLng{}, traffic.LatLng{}, time.Now())
	assert.ErrorContains(t, err, "REQUEST_DENIED")
}

func TestDirectionsNoRoutes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "OK", "routes": []}`))
	}))
	defer server.Close()

	client := &traffic.Client{BaseURL: server.URL}
	_, err := client.Directions(context.Background(), traffic.LatLng{}, traffic.LatLng{}, time.Now())
	assert.ErrorContains(t, err, "no routes")
}

func TestDirectionsHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client := &traffic.Client{BaseURL: server.URL}
	_, err := client.Directions(context.Background(), traffic.LatLng{}, traffic.LatLng{}, time.Now())
	assert.ErrorContains(t, err, "403")
}
