package hubclient

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
)

// Watch streams coordinator events from /hub/events and calls fn for each
// one until ctx is done, the hub closes the stream or fn returns an error.
// A stream ended by ctx returns nil.
func (c *Client) Watch(ctx context.Context, fn func(Event) error) error {
	wsURL := *c.baseURL
	switch strings.ToLower(wsURL.Scheme) {
	case "https":
		wsURL.Scheme = "wss"
	default:
		wsURL.Scheme = "ws"
	}
	wsURL = *wsURL.ResolveReference(&url.URL{Path: "/hub/events"})

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to open event stream: %w", err)
	}
	defer conn.Close()

	// Closing the connection unblocks ReadJSON when ctx ends.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("event stream failed: %w", err)
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
}
