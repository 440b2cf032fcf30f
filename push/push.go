package push

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultAPIURL = "https://api.pushover.net/1/messages.json"

// Delivers (title, body) alerts to a phone.
type Sender interface {
	Send(ctx context.Context, title string, body string) error
}

// Pushover-backed Sender.
type Client struct {
	APIURL   string
	UserKey  string
	APIToken string
	Timeout  time.Duration
}

func (c *Client) Send(ctx context.Context, title string, body string) error {
	apiURL := c.APIURL
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	timeout := c.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	form := url.Values{}
	form.Set("token", c.APIToken)
	form.Set("user", c.UserKey)
	form.Set("title", title)
	form.Set("message", body)

	req, err := http.NewRequestWithContext(
		ctx, "POST", apiURL, strings.NewReader(form.Encode()),
	)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("sending notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	return nil
}
