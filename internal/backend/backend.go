package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rmacdonaldsmith/facegate/internal/recognition"
	"github.com/rmacdonaldsmith/facegate/pkg/framecodec"
)

// Backend endpoint paths. The spelling is the backend's.
const (
	PathFrames     = "/api/unprocesedImageInput"
	PathOpenSignal = "/api/procesedImageOutput/getOpenSignal"
	PathResults    = "/api/procesedImageOutput"
	PathGallery    = "/api/groundTruthPhotos"
	PathDoorCount  = "/api/doors/number-of-doors-to-open"
)

// ErrNoFrame is returned by Latest when the backend has no unprocessed
// frame for the door.
var ErrNoFrame = errors.New("no unprocessed frame")

// Client talks to the frame-ingestion and decision backend. It serves as
// the hub's frame sink, decision source and door-count notifier, and as the
// recognition bridge's frame fetcher, result sink and gallery.
type Client struct {
	core *core
}

// NewClient creates a backend client.
func NewClient(config Config) (*Client, error) {
	c, err := newCore(config)
	if err != nil {
		return nil, err
	}
	return &Client{core: c}, nil
}

// Ingest posts one frame to the unprocessed-frame buffer.
func (c *Client) Ingest(ctx context.Context, env framecodec.Envelope) error {
	if _, err := c.core.do(ctx, http.MethodPost, PathFrames, nil, env); err != nil {
		return fmt.Errorf("failed to post frame for door %d: %w", env.DoorID, err)
	}
	return nil
}

// Latest fetches the door's latest unprocessed frame.
func (c *Client) Latest(ctx context.Context, doorID int) (framecodec.Envelope, error) {
	query := url.Values{"doorId": {strconv.Itoa(doorID)}}
	resp, err := c.core.do(ctx, http.MethodGet, PathFrames, query, nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return framecodec.Envelope{}, ErrNoFrame
		}
		return framecodec.Envelope{}, fmt.Errorf("failed to fetch frame for door %d: %w", doorID, err)
	}
	if resp.StatusCode == http.StatusNoContent || len(resp.Body) == 0 {
		return framecodec.Envelope{}, ErrNoFrame
	}

	var env framecodec.Envelope
	if err := resp.decode(&env); err != nil {
		return framecodec.Envelope{}, err
	}
	if env.Payload == "" {
		return framecodec.Envelope{}, ErrNoFrame
	}
	env.DoorID = doorID
	return env, nil
}

// NextDecision asks whether some door should open. The backend answers
// with a bare door id, or 204 when nothing is pending.
func (c *Client) NextDecision(ctx context.Context) (int, bool, error) {
	resp, err := c.core.do(ctx, http.MethodGet, PathOpenSignal, nil, nil)
	if err != nil {
		return 0, false, fmt.Errorf("failed to get open signal: %w", err)
	}
	body := strings.TrimSpace(string(resp.Body))
	if resp.StatusCode == http.StatusNoContent || body == "" {
		return 0, false, nil
	}
	doorID, err := strconv.Atoi(body)
	if err != nil {
		return 0, false, fmt.Errorf("invalid open signal %q: %w", body, err)
	}
	return doorID, true, nil
}

// PublishResult posts one recognition result.
func (c *Client) PublishResult(ctx context.Context, result recognition.Result) error {
	if _, err := c.core.do(ctx, http.MethodPost, PathResults, nil, result); err != nil {
		return fmt.Errorf("failed to post result for door %d: %w", result.DoorID, err)
	}
	return nil
}

// Gallery lists the reference photos of known people.
func (c *Client) Gallery(ctx context.Context) ([]recognition.Reference, error) {
	resp, err := c.core.do(ctx, http.MethodGet, PathGallery, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch known faces: %w", err)
	}
	var refs []recognition.Reference
	if err := resp.decode(&refs); err != nil {
		return nil, err
	}
	return refs, nil
}

// DoorCountRequest is the body of the door-count notification.
type DoorCountRequest struct {
	Count int `json:"nrOfDoors"`
}

// NotifyDoorCount tells the backend how many doors are registered.
func (c *Client) NotifyDoorCount(ctx context.Context, count int) error {
	if _, err := c.core.do(ctx, http.MethodPost, PathDoorCount, nil, DoorCountRequest{Count: count}); err != nil {
		return fmt.Errorf("failed to post door count: %w", err)
	}
	return nil
}
