package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pders01/roster/internal/machine"
	"github.com/pders01/roster/internal/people"
)

const (
	DefaultUserAgent = "roster/1.0 (people directory; github.com/pders01/roster)"
	DefaultTimeout   = 10 * time.Second

	maxErrorBody = 4 << 10
)

// Client fetches people from a remote people API.
type Client struct {
	baseURL   string
	userAgent string
	client    *http.Client
}

func NewClient(baseURL, userAgent string, timeout time.Duration) *Client {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Fetch runs one people request. Every failure is returned as a
// people.FetchError except cancellation, which returns ctx.Err().
func (c *Client) Fetch(ctx context.Context, filter people.Filter) ([]people.Person, error) {
	endpoint := c.baseURL + PeoplePath + "?" + EncodeFilter(filter).Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, people.FetchError{Message: fmt.Sprintf("creating request: %v", err)}
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, people.FetchError{Message: fmt.Sprintf("fetching people: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, errorFromResponse(resp)
	}

	var body PeopleResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, people.FetchError{Message: fmt.Sprintf("decoding response: %v", err)}
	}
	if body.People == nil {
		body.People = []people.Person{}
	}
	return body.People, nil
}

func errorFromResponse(resp *http.Response) people.FetchError {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	msg := fmt.Sprintf("HTTP error: %d", resp.StatusCode)
	var body ErrorResponse
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		if after := resp.Header.Get("Retry-After"); after != "" {
			msg += " (retry after " + after + "s)"
		}
	}
	return people.FetchError{Message: msg}
}

func (c *Client) Start(filter people.Filter, deliver machine.Deliver) machine.CancelFunc {
	return machine.ServiceFunc(c.Fetch).Start(filter, deliver)
}
