// Package formstore talks to the remote form-submission platform. The
// platform is treated as a remote submission store accessed by id; responses
// are relayed verbatim to callers.
package formstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"richform/internal/infra"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("formstore: api key is required")

// UpstreamError reports a failed or malformed upstream response. Status is
// the upstream HTTP status (0 when the request never completed); Payload is
// the raw upstream body when it parsed as JSON, nil otherwise.
type UpstreamError struct {
	Status  int
	Payload json.RawMessage
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("formstore: upstream failure (status %d)", e.Status)
}

// Options configures the submission store client.
type Options struct {
	APIKey         string
	BaseURL        string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client fetches submission records over the platform's HTTP API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

// New validates options and builds a Client.
func New(opts Options) (*Client, error) {
	if opts.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = "https://api.jotform.com"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		apiKey:     opts.APIKey,
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     opts.Logger,
	}, nil
}

// envelope mirrors the part of the platform response the relay must inspect.
type envelope struct {
	ResponseCode int `json:"responseCode"`
}

// FetchSubmission retrieves one submission record and returns its raw JSON
// document. Any upstream failure, unparsable body, or platform-level error
// code surfaces as *UpstreamError.
func (c *Client) FetchSubmission(ctx context.Context, id string) (json.RawMessage, error) {
	reqURL := fmt.Sprintf("%s/submission/%s?apiKey=%s",
		c.baseURL, url.PathEscape(id), url.QueryEscape(c.apiKey))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("formstore: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if c.logger != nil {
			c.logger.Warn().Err(err).Str("submission_id", id).Msg("form store request failed")
		}
		return nil, &UpstreamError{Status: 0}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, &UpstreamError{Status: resp.StatusCode}
	}

	var env envelope
	parsed := json.Valid(body) && json.Unmarshal(body, &env) == nil
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !parsed || env.ResponseCode != http.StatusOK {
		ue := &UpstreamError{Status: resp.StatusCode}
		if parsed {
			ue.Payload = json.RawMessage(body)
		}
		if c.logger != nil {
			c.logger.Warn().
				Int("status", resp.StatusCode).
				Str("submission_id", id).
				Msg("form store returned failure")
		}
		return nil, ue
	}

	return json.RawMessage(body), nil
}
