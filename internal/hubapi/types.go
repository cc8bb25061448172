package hubapi

import (
	"github.com/rmacdonaldsmith/facegate/internal/framestore"
	"github.com/rmacdonaldsmith/facegate/internal/hub"
)

// Request/Response types for the hub HTTP API. Field names of the door-facing
// endpoints are fixed by deployed door nodes.

// IndexResponse is the reply of /hub/get_index.
type IndexResponse struct {
	Index int `json:"index"`
}

// ReceiveImageRequest is the body of /hub/receive_image. DoorID is a
// pointer so a missing field can be told apart from door 0.
type ReceiveImageRequest struct {
	Image  string `json:"image"`
	DoorID *int   `json:"door_id"`
}

// StatusResponse is the reply of /hub/receive_image.
type StatusResponse struct {
	Status string `json:"status"`
}

// MessageResponse is the reply of /hub/should_open when the door should
// open.
type MessageResponse struct {
	Message string `json:"message"`
}

// DoorsResponse is the reply of /hub/doors.
type DoorsResponse struct {
	Doors []hub.Entry `json:"doors"`
}

// HealthResponse is the reply of /hub/health.
type HealthResponse struct {
	Healthy          bool                         `json:"healthy"`
	Doors            int                          `json:"doors"`
	EventSubscribers int                          `json:"eventSubscribers"`
	Frames           map[int]framestore.SlotStats `json:"frames,omitempty"`
}

// ErrorResponse is the body of every error reply on the added endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
