// Package hubclient is the HTTP client door nodes and operators use to talk
// to a facegate hub.
package hubclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/klauspost/compress/gzhttp"
)

// APIError is a hub reply with a status of 400 or above.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// Client provides HTTP client for the hub API
type Client struct {
	config     Config
	httpClient *http.Client
	baseURL    *url.URL
}

// NewClient creates a new hub HTTP client
func NewClient(config Config) (*Client, error) {
	config.SetDefaults()

	if config.HubURL == "" {
		return nil, fmt.Errorf("HubURL is required")
	}
	baseURL, err := url.Parse(config.HubURL)
	if err != nil {
		return nil, fmt.Errorf("invalid HubURL: %w", err)
	}
	if baseURL.Scheme == "" || baseURL.Host == "" {
		return nil, fmt.Errorf("invalid HubURL: %q needs a scheme and host", config.HubURL)
	}

	// Per-call timeouts come from contexts; the relay call needs longer
	// than the rest.
	httpClient := &http.Client{
		Transport: gzhttp.Transport(http.DefaultTransport),
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		baseURL:    baseURL,
	}, nil
}

// Register asks the hub for a door identity. Only a 200 reply carrying an
// index counts as a registration.
func (c *Client) Register(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var resp IndexResponse
	status, err := c.doRequest(ctx, http.MethodGet, "/hub/get_index", nil, nil, &resp)
	if err != nil {
		return 0, fmt.Errorf("failed to register: %w", err)
	}
	if status != http.StatusOK {
		return 0, fmt.Errorf("failed to register: unexpected status %d", status)
	}
	if resp.Index == nil {
		return 0, errors.New("failed to register: reply carried no index")
	}
	if *resp.Index < 0 {
		return 0, fmt.Errorf("failed to register: invalid index %d", *resp.Index)
	}
	return *resp.Index, nil
}

// RelayFrame sends an encoded frame for doorID. It returns once the hub has
// forwarded it and recognition has run on it.
func (c *Client) RelayFrame(ctx context.Context, doorID int, payload string) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.RelayTimeout)
	defer cancel()

	var resp StatusResponse
	req := RelayRequest{Image: payload, DoorID: doorID}
	if _, err := c.doRequest(ctx, http.MethodPost, "/hub/receive_image", nil, req, &resp); err != nil {
		return fmt.Errorf("failed to relay frame: %w", err)
	}
	if resp.Status != "success" {
		return fmt.Errorf("failed to relay frame: hub reported status %q", resp.Status)
	}
	return nil
}

// ShouldOpen polls the hub for doorID's open signal. A true result has
// already cleared the signal on the hub.
func (c *Client) ShouldOpen(ctx context.Context, doorID int) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	query := url.Values{"door_id": {strconv.Itoa(doorID)}}
	status, err := c.doRequest(ctx, http.MethodGet, "/hub/should_open", query, nil, nil)
	if err != nil {
		return false, fmt.Errorf("failed to poll open signal: %w", err)
	}
	return status == http.StatusOK, nil
}

// Doors returns the hub's registry.
func (c *Client) Doors(ctx context.Context) ([]Door, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var resp DoorsResponse
	if _, err := c.doRequest(ctx, http.MethodGet, "/hub/doors", nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list doors: %w", err)
	}
	return resp.Doors, nil
}

// GetHealth returns the health status of the hub
func (c *Client) GetHealth(ctx context.Context) (*HealthResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var resp HealthResponse
	if _, err := c.doRequest(ctx, http.MethodGet, "/hub/health", nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get health status: %w", err)
	}
	return &resp, nil
}

// doRequest performs an HTTP request and returns the status code. respBody
// is filled only when the hub sent a body.
func (c *Client) doRequest(ctx context.Context, method, path string, queryParams url.Values, reqBody interface{}, respBody interface{}) (int, error) {
	u := &url.URL{Path: path}
	if len(queryParams) > 0 {
		u.RawQuery = queryParams.Encode()
	}
	fullURL := c.baseURL.ResolveReference(u)

	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL.String(), bodyReader)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil || errResp.Message == "" {
			return resp.StatusCode, &APIError{StatusCode: resp.StatusCode, Message: string(bytes.TrimSpace(bodyBytes))}
		}
		return resp.StatusCode, &APIError{StatusCode: resp.StatusCode, Message: errResp.Message}
	}

	if respBody != nil && len(bodyBytes) > 0 {
		if err := json.Unmarshal(bodyBytes, respBody); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
