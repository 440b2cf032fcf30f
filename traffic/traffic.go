package traffic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const (
	DefaultBaseURL = "https://maps.googleapis.com/maps/api/directions/json"

	// The routing call gets a short leash so a slow upstream
	// cannot stall a polling worker.
	DefaultTimeout = 5 * time.Second
)

type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (l LatLng) String() string {
	return fmt.Sprintf("%f,%f", l.Lat, l.Lng)
}

// Best-effort driving duration between two points, plus the raw
// response for later analysis.
type Result struct {
	DurationInTraffic time.Duration
	Raw               json.RawMessage
}

// Queries a directions API for driving duration in current traffic.
type Client struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type directionsResponse struct {
	Status string `json:"status"`
	Routes []struct {
		Legs []struct {
			DurationInTraffic struct {
				Value int `json:"value"`
			} `json:"duration_in_traffic"`
		} `json:"legs"`
	} `json:"routes"`
}

func (c *Client) Directions(ctx context.Context, origin, dest LatLng, departure time.Time) (*Result, error) {
	baseURL := c.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := c.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	params := url.Values{}
	params.Set("origin", origin.String())
	params.Set("destination", dest.String())
	params.Set("mode", "driving")
	params.Set("departure_time", fmt.Sprintf("%d", departure.Unix()))
	params.Set("key", c.APIKey)

	req, err := http.NewRequestWithContext(ctx, "GET", baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	raw := json.RawMessage{}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}

	parsed := directionsResponse{}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshaling response: %w", err)
	}
	if parsed.Status != "OK" {
		return nil, fmt.Errorf("directions status %s", parsed.Status)
	}
	if len(parsed.Routes) == 0 || len(parsed.Routes[0].Legs) == 0 {
		return nil, fmt.Errorf("no routes in response")
	}

	return &Result{
		DurationInTraffic: time.Duration(parsed.Routes[0].Legs[0].DurationInTraffic.Value) * time.Second,
		Raw:               raw,
	}, nil
}
