package student

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Response is the profile service envelope. Data is nil when the matricule is unknown.
type Response struct {
	Message *string  `json:"message"`
	Data    *Profile `json:"data"`
	Errors  *string  `json:"errors"`
}

// Client calls the remote student profile service.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Timeout time.Duration
}

// NewClient creates a client. Each Fetch is bounded by timeout (10s when zero).
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL: baseURL,
		Timeout: timeout,
		HTTP:    &http.Client{},
	}
}

// Fetch looks a matricule up on the profile service. A 404 with a readable
// envelope, or any 2xx without data, is a not-found and returns a Response
// with nil Data.
func (c *Client) Fetch(ctx context.Context, matricule string) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: bad base url: %w", ErrNetworkFailure, err)
	}
	q := u.Query()
	q.Set("matricule", matricule)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNetworkFailure, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, classify(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(ctx, err)
	}

	var out Response
	decodeErr := json.Unmarshal(body, &out)
	switch {
	case resp.StatusCode == http.StatusNotFound && decodeErr == nil:
		out.Data = nil
		return &out, nil
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("%w: %s: %s", ErrNetworkFailure, resp.Status, string(body))
	case decodeErr != nil:
		return nil, fmt.Errorf("%w: decode response: %w", ErrNetworkFailure, decodeErr)
	}
	return &out, nil
}

func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrNetworkTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrNetworkFailure, err)
}
