package push

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultPushesURL    = "https://api.pushbullet.com/v2/pushes"
	DefaultFetchTimeout = 30 * time.Second

	maxErrorBody = 512
)

// StatusError is a non-2xx reply from the pushes endpoint.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("pushes endpoint: HTTP %d", e.Code)
	}
	return fmt.Sprintf("pushes endpoint: HTTP %d: %s", e.Code, e.Body)
}

// Client reads the push history over HTTPS.
type Client struct {
	URL     string
	Token   string
	Timeout time.Duration
	HTTP    *http.Client
}

func NewClient(url, token string, timeout time.Duration) *Client {
	if strings.TrimSpace(url) == "" {
		url = DefaultPushesURL
	}
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &Client{
		URL:     url,
		Token:   token,
		Timeout: timeout,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

type pushesResponse struct {
	Pushes []RawPush `json:"pushes"`
}

// FetchSince returns the pushes the endpoint currently lists. The service
// has no server-side filter that matches the watermark semantics, so
// watermark is not sent and callers filter client-side.
func (c *Client) FetchSince(ctx context.Context, watermark Timestamp) ([]RawPush, error) {
	_ = watermark

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build pushes request: %w", err)
	}
	req.Header.Set("Access-Token", c.Token)
	req.Header.Set("Accept", "application/json")

	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch pushes: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	var out pushesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode pushes: %w", err)
	}
	return out.Pushes, nil
}
