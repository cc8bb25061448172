package hubclient

import "time"

// Config holds client configuration
type Config struct {
	// HubURL is the base URL of the hub (e.g., "http://192.168.0.10:8080")
	HubURL string

	// Timeout for each request. Frame relays wait for a full recognition
	// pass, so RelayTimeout is separate.
	Timeout time.Duration

	// RelayTimeout for /hub/receive_image
	RelayTimeout time.Duration
}

// SetDefaults sets reasonable default values for the config
func (c *Config) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Second
	}
	if c.RelayTimeout == 0 {
		c.RelayTimeout = 30 * time.Second
	}
}

// IndexResponse represents the reply to a registration
type IndexResponse struct {
	// Index is nil when the hub's reply carried no identity.
	Index *int `json:"index"`
}

// RelayRequest represents a frame relay request
type RelayRequest struct {
	Image  string `json:"image"`
	DoorID int    `json:"door_id"`
}

// StatusResponse represents the reply to a frame relay
type StatusResponse struct {
	Status string `json:"status"`
}

// MessageResponse represents an open signal
type MessageResponse struct {
	Message string `json:"message"`
}

// Door is one registry entry as reported by /hub/doors
type Door struct {
	Index          int       `json:"index"`
	Origin         string    `json:"origin"`
	PendingOpen    bool      `json:"pendingOpen"`
	RegisteredAt   time.Time `json:"registeredAt"`
	LastPolledAt   time.Time `json:"lastPolledAt"`
	OpenRequests   int       `json:"openRequests"`
	OpenDeliveries int       `json:"openDeliveries"`
}

// DoorsResponse represents the registry listing
type DoorsResponse struct {
	Doors []Door `json:"doors"`
}

// FrameStats describes the hub's embedded buffer slot for one door
type FrameStats struct {
	DoorID         int       `json:"doorId"`
	Received       uint64    `json:"received"`
	Consumed       uint64    `json:"consumed"`
	Dropped        uint64    `json:"dropped"`
	Duplicates     uint64    `json:"duplicates"`
	Pending        bool      `json:"pending"`
	StoredBytes    int       `json:"storedBytes"`
	LastReceivedAt time.Time `json:"lastReceivedAt"`
}

// HealthResponse represents the hub health status
type HealthResponse struct {
	Healthy          bool               `json:"healthy"`
	Doors            int                `json:"doors"`
	EventSubscribers int                `json:"eventSubscribers"`
	Frames           map[int]FrameStats `json:"frames,omitempty"`
}

// Event is one coordinator event from /hub/events
type Event struct {
	Type   string    `json:"type"`
	DoorID int       `json:"doorId"`
	At     time.Time `json:"at"`
	Detail string    `json:"detail,omitempty"`
}

// ErrorResponse represents an error response from the hub
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
