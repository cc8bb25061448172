package hubapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rmacdonaldsmith/facegate/internal/framestore"
	"github.com/rmacdonaldsmith/facegate/internal/hub"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	pingEvery = (pongWait * 9) / 10

	eventBuffer = 64
)

// Handlers contains the HTTP handlers of the hub.
type Handlers struct {
	coordinator *hub.Coordinator
	frames      *framestore.Store
	logger      *slog.Logger
	upgrader    websocket.Upgrader

	// closing is closed when the server shuts down so hijacked event
	// streams end too.
	closing   chan struct{}
	closeOnce sync.Once
}

// NewHandlers creates hub handlers. frames is the embedded frame buffer and
// may be nil when frames go to an external backend.
func NewHandlers(coordinator *hub.Coordinator, frames *framestore.Store, logger *slog.Logger) *Handlers {
	return &Handlers{
		coordinator: coordinator,
		frames:      frames,
		logger:      logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		closing: make(chan struct{}),
	}
}

func (h *Handlers) shutdown() {
	h.closeOnce.Do(func() { close(h.closing) })
}

// GetIndex handles GET /hub/get_index
func (h *Handlers) GetIndex(w http.ResponseWriter, r *http.Request) {
	entry := h.coordinator.Register(r.Context(), remoteHost(r))
	h.writeJSON(w, IndexResponse{Index: entry.Identity}, http.StatusOK)
}

// ReceiveImage handles POST /hub/receive_image
func (h *Handlers) ReceiveImage(w http.ResponseWriter, r *http.Request) {
	var req ReceiveImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "Invalid JSON in request body", http.StatusBadRequest)
		return
	}
	if req.DoorID == nil {
		h.writeError(w, "door_id is required", http.StatusBadRequest)
		return
	}

	err := h.coordinator.RelayFrame(r.Context(), *req.DoorID, req.Image)
	switch {
	case err == nil:
		h.writeJSON(w, StatusResponse{Status: "success"}, http.StatusOK)
	case errors.Is(err, hub.ErrUnknownIdentity):
		h.writeError(w, fmt.Sprintf("Door %d is not registered", *req.DoorID), http.StatusNotFound)
	default:
		h.logger.Warn("frame relay failed", "door_id", *req.DoorID, "request_id", GetRequestID(r), "error", err)
		h.writeError(w, "Failed to relay frame", http.StatusBadGateway)
	}
}

// ShouldOpen handles GET /hub/should_open. Unknown doors get the same 204
// as doors with nothing pending.
func (h *Handlers) ShouldOpen(w http.ResponseWriter, r *http.Request) {
	doorID, err := strconv.Atoi(r.URL.Query().Get("door_id"))
	if err != nil {
		h.writeError(w, "door_id must be an integer", http.StatusBadRequest)
		return
	}

	open, err := h.coordinator.ShouldOpen(doorID)
	if err != nil {
		h.logger.Debug("poll from unknown door", "door_id", doorID, "remote", r.RemoteAddr)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if !open {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.writeJSON(w, MessageResponse{Message: fmt.Sprintf("Door %d should open.", doorID)}, http.StatusOK)
}

// Doors handles GET /hub/doors
func (h *Handlers) Doors(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, DoorsResponse{Doors: h.coordinator.Registry().List()}, http.StatusOK)
}

// Health handles GET /hub/health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Healthy:          true,
		Doors:            h.coordinator.Registry().Len(),
		EventSubscribers: h.coordinator.Subscribers(),
	}
	if h.frames != nil {
		resp.Frames = h.frames.Stats()
	}
	h.writeJSON(w, resp, http.StatusOK)
}

// UnprocessedFrame handles GET /api/unprocesedImageInput when the hub runs
// its own frame buffer. Reading a frame consumes it.
func (h *Handlers) UnprocessedFrame(w http.ResponseWriter, r *http.Request) {
	if h.frames == nil {
		h.writeError(w, "Frame buffer is not embedded in this hub", http.StatusNotFound)
		return
	}
	doorID, err := strconv.Atoi(r.URL.Query().Get("doorId"))
	if err != nil {
		h.writeError(w, "doorId must be an integer", http.StatusBadRequest)
		return
	}

	env, err := h.frames.Latest(r.Context(), doorID)
	if err != nil {
		if errors.Is(err, framestore.ErrEmpty) {
			h.writeError(w, fmt.Sprintf("No unprocessed frame for door %d", doorID), http.StatusNotFound)
			return
		}
		h.writeError(w, "Failed to read frame", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, env, http.StatusOK)
}

// Events handles GET /hub/events, upgrading to a websocket that carries
// every coordinator event as a JSON text message.
func (h *Handlers) Events(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("event stream upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	events, cancel := h.coordinator.Subscribe(eventBuffer)
	defer cancel()
	h.logger.Info("event stream opened", "remote", r.RemoteAddr)
	defer h.logger.Info("event stream closed", "remote", r.RemoteAddr)

	conn.SetReadLimit(1 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// The reader only services control frames and notices the peer leaving.
	peerGone := make(chan struct{})
	go func() {
		defer close(peerGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-peerGone:
			return
		case <-h.closing:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "hub shutting down"),
				time.Now().Add(writeWait))
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Helper methods

// writeError writes an error response as JSON
func (h *Handlers) writeError(w http.ResponseWriter, message string, statusCode int) {
	errorResp := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}
	h.writeJSON(w, errorResp, statusCode)
}

// writeJSON writes a JSON response
func (h *Handlers) writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Debug("failed to write response", "error", err)
	}
}

// remoteHost strips the port from the caller's address.
func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
