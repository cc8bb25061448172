package framecodec

import (
	"encoding/json"
	"fmt"
	"time"
)

// TimestampLayout is the dateTime format the recognition backend expects:
// millisecond precision with a literal Z.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Envelope is one encoded frame in flight from a door node towards the
// recognition backend.
type Envelope struct {
	DoorID     int
	Payload    string
	CapturedAt time.Time
}

type envelopeJSON struct {
	PhotoList string `json:"photoList"`
	DateTime  string `json:"dateTime"`
	DoorID    int    `json:"doorId"`
}

// FormatTimestamp renders t in UTC using TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// MarshalJSON produces the {photoList, dateTime, doorId} shape of the
// frame-ingestion API.
func (e Envelope) MarshalJSON() ([]byte, error) {
	out := envelopeJSON{PhotoList: e.Payload, DoorID: e.DoorID}
	if !e.CapturedAt.IsZero() {
		out.DateTime = FormatTimestamp(e.CapturedAt)
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts the frame-ingestion shape. A missing dateTime leaves
// CapturedAt zero.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var in envelopeJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	e.DoorID = in.DoorID
	e.Payload = in.PhotoList
	e.CapturedAt = time.Time{}
	if in.DateTime != "" {
		t, err := time.Parse(TimestampLayout, in.DateTime)
		if err != nil {
			return fmt.Errorf("invalid dateTime %q: %w", in.DateTime, err)
		}
		e.CapturedAt = t
	}
	return nil
}
