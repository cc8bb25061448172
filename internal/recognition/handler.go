package recognition

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
)

// MessageResponse is the body of every /sync reply.
type MessageResponse struct {
	Message string `json:"message"`
}

// Handler serves the bridge's HTTP surface:
//
//	GET /sync?doorId=n   process the door's latest frame
//	GET /tally?doorId=n  current streaks for the door
type Handler struct {
	bridge *Bridge
	logger *slog.Logger
	mux    *http.ServeMux
}

// NewHandler wires the bridge routes.
func NewHandler(bridge *Bridge, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{bridge: bridge, logger: logger, mux: http.NewServeMux()}
	h.mux.HandleFunc("GET /sync", h.Sync)
	h.mux.HandleFunc("GET /tally", h.Tally)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// Sync handles GET /sync.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	doorID, ok := doorIDParam(r)
	if !ok {
		writeJSON(w, MessageResponse{Message: "doorId is required"}, http.StatusBadRequest)
		return
	}

	if _, err := h.bridge.Process(r.Context(), doorID); err != nil {
		if errors.Is(err, ErrFetch) {
			h.logger.Debug("sync without frame", "door", doorID, "error", err)
			writeJSON(w, MessageResponse{Message: "Failed to fetch frame"}, http.StatusInternalServerError)
			return
		}
		h.logger.Warn("sync failed", "door", doorID, "error", err)
		writeJSON(w, MessageResponse{Message: "Face recognition failed"}, http.StatusInternalServerError)
		return
	}

	writeJSON(w, MessageResponse{Message: "Face recognition completed for a single frame"}, http.StatusOK)
}

// Tally handles GET /tally.
func (h *Handler) Tally(w http.ResponseWriter, r *http.Request) {
	doorID, ok := doorIDParam(r)
	if !ok {
		writeJSON(w, MessageResponse{Message: "doorId is required"}, http.StatusBadRequest)
		return
	}
	writeJSON(w, h.bridge.Tallies().Get(doorID), http.StatusOK)
}

func doorIDParam(r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("doorId")
	if raw == "" {
		return 0, false
	}
	id, err := strconv.Atoi(raw)
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
