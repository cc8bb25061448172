package recognition

import (
	"context"
	"errors"

	"github.com/rmacdonaldsmith/facegate/pkg/framecodec"
)

// ErrFetch is returned when no usable frame could be obtained for a door.
var ErrFetch = errors.New("failed to fetch frame")

// FrameFetcher returns the latest unprocessed frame for a door.
type FrameFetcher interface {
	Latest(ctx context.Context, doorID int) (framecodec.Envelope, error)
}

// MatchOutcome is what the matcher found in one frame. Names holds only
// people present in the gallery; unmatched faces count towards Faces.
type MatchOutcome struct {
	Faces int
	Names []string
}

// Matcher detects faces and matches them against enrolled references.
type Matcher interface {
	Enroll(ctx context.Context, name string, grid framecodec.Grid) error
	Match(ctx context.Context, grid framecodec.Grid) (MatchOutcome, error)
}

// ResultSink receives one Result per processed frame.
type ResultSink interface {
	PublishResult(ctx context.Context, result Result) error
}

// GallerySource lists the reference photos of known people.
type GallerySource interface {
	Gallery(ctx context.Context) ([]Reference, error)
}

// Reference is one known person's photo.
type Reference struct {
	Name    string `json:"name"`
	Payload string `json:"photoList"`
}

// Result is the per-frame recognition report sent to the decision backend.
type Result struct {
	DateTime          string   `json:"dateTime"`
	FaceDetected      bool     `json:"faceDetected"`
	FaceRecognized    bool     `json:"faceRecognized"`
	RecognizedPeople  []string `json:"recognizedPeople"`
	DetectionStreak   int      `json:"nrOfPastFramesWithDetection"`
	RecognitionStreak int      `json:"nrOfPastFramesWithRecognition"`
	DoorID            int      `json:"doorId"`
}
