// Package imagehost is the pipeline-side client for the image gateway. It
// offloads encoded images to the store and delegates cross-origin image
// downloads to the gateway's proxy endpoint.
package imagehost

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"richform/internal/infra"
)

// ErrMissingBaseURL indicates the client was configured without a gateway URL.
var ErrMissingBaseURL = errors.New("imagehost: base url is required")

// Options configures the gateway client.
type Options struct {
	BaseURL        string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs multipart calls against the image gateway.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, ErrMissingBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: httpClient,
		logger:     opts.Logger,
	}, nil
}

// BaseURL returns the gateway origin; sources under it are already hosted.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type gatewayResponse struct {
	Success bool   `json:"success"`
	URL     string `json:"url"`
	Error   string `json:"error"`
}

// Upload stores encoded image bytes and returns the hosted URL.
func (c *Client) Upload(ctx context.Context, data []byte, contentType string) (string, error) {
	if contentType == "" {
		contentType = "image/png"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="image"; filename="image.png"`)
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return "", fmt.Errorf("imagehost: build form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("imagehost: build form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("imagehost: build form: %w", err)
	}

	return c.post(ctx, "/upload", &body, mw.FormDataContentType())
}

// ProxyFetch asks the gateway to download remoteURL server-side and host it.
func (c *Client) ProxyFetch(ctx context.Context, remoteURL string) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("url", remoteURL); err != nil {
		return "", fmt.Errorf("imagehost: build form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("imagehost: build form: %w", err)
	}

	return c.post(ctx, "/proxy", &body, mw.FormDataContentType())
}

func (c *Client) post(ctx context.Context, path string, body io.Reader, contentType string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return "", fmt.Errorf("imagehost: build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("imagehost: %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("imagehost: %s: read response: %w", path, err)
	}

	var parsed gatewayResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("imagehost: %s: HTTP %d: %s", path, resp.StatusCode, raw)
	}
	if !parsed.Success || parsed.URL == "" {
		if c.logger != nil {
			c.logger.Warn().Int("status", resp.StatusCode).Str("error", parsed.Error).Msg("gateway rejected request")
		}
		return "", fmt.Errorf("imagehost: %s: HTTP %d: %s", path, resp.StatusCode, parsed.Error)
	}
	return parsed.URL, nil
}
