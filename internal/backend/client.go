// Package backend holds HTTP clients for the services facegate talks to but
// does not own: the frame-ingestion and decision backend, and the
// recognition bridge as seen from the hub.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/klauspost/compress/gzhttp"
)

// DefaultTimeout bounds each request unless Config.Timeout says otherwise.
const DefaultTimeout = 5 * time.Second

// Config holds client configuration
type Config struct {
	// BaseURL of the service, e.g. "http://192.168.0.197:8080"
	BaseURL string

	// Timeout for each request
	Timeout time.Duration
}

// SetDefaults sets reasonable default values for the config
func (c *Config) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
}

// APIError is a non-success response from a collaborator.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Body)
}

// response is a completed exchange whose status was below 400.
type response struct {
	StatusCode int
	Body       []byte
}

// core is the request plumbing shared by every client in this package.
type core struct {
	config     Config
	httpClient *http.Client
	baseURL    *url.URL
}

func newCore(config Config) (*core, error) {
	config.SetDefaults()

	if config.BaseURL == "" {
		return nil, fmt.Errorf("BaseURL is required")
	}
	baseURL, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid BaseURL: %w", err)
	}
	if baseURL.Scheme == "" || baseURL.Host == "" {
		return nil, fmt.Errorf("invalid BaseURL: %q needs a scheme and host", config.BaseURL)
	}

	return &core{
		config: config,
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: gzhttp.Transport(http.DefaultTransport),
		},
		baseURL: baseURL,
	}, nil
}

// do performs an HTTP request. reqBody is sent as JSON when non-nil. A
// status of 400 or above is returned as *APIError.
func (c *core) do(ctx context.Context, method, path string, query url.Values, reqBody interface{}) (*response, error) {
	u := &url.URL{Path: path}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	fullURL := c.baseURL.ResolveReference(u)

	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL.String(), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(bodyBytes))}
	}
	return &response{StatusCode: resp.StatusCode, Body: bodyBytes}, nil
}

// decode parses a JSON response body into v.
func (r *response) decode(v interface{}) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
