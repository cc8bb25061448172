package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// DefaultSyncTimeout bounds a processing request. Recognition on a full
// frame is slow.
const DefaultSyncTimeout = 30 * time.Second

// SyncTrigger asks the recognition bridge to process a door's latest frame.
type SyncTrigger struct {
	core *core
}

// NewSyncTrigger creates a trigger for the bridge at config.BaseURL.
func NewSyncTrigger(config Config) (*SyncTrigger, error) {
	if config.Timeout == 0 {
		config.Timeout = DefaultSyncTimeout
	}
	c, err := newCore(config)
	if err != nil {
		return nil, err
	}
	return &SyncTrigger{core: c}, nil
}

// Trigger blocks until the bridge has processed the frame.
func (t *SyncTrigger) Trigger(ctx context.Context, doorID int) error {
	query := url.Values{"doorId": {strconv.Itoa(doorID)}}
	if _, err := t.core.do(ctx, http.MethodGet, "/sync", query, nil); err != nil {
		return fmt.Errorf("failed to trigger recognition for door %d: %w", doorID, err)
	}
	return nil
}
