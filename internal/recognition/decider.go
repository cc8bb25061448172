package recognition

import (
	"context"
	"sync"
)

// Decider turns recognition results into open decisions without an
// external backend. A door is queued once its recognition streak reaches
// Threshold; a door already queued is not queued again until it has been
// taken. It serves as the bridge's ResultSink and the hub's decision source
// in a standalone hub.
type Decider struct {
	threshold int

	mu      sync.Mutex
	pending []int
	queued  map[int]bool
}

// NewDecider creates a decider. A threshold below 1 means one recognized
// frame is enough.
func NewDecider(threshold int) *Decider {
	if threshold < 1 {
		threshold = 1
	}
	return &Decider{threshold: threshold, queued: make(map[int]bool)}
}

// PublishResult queues result's door when its streak is long enough.
func (d *Decider) PublishResult(ctx context.Context, result Result) error {
	if !result.FaceRecognized || result.RecognitionStreak < d.threshold {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.queued[result.DoorID] {
		return nil
	}
	d.queued[result.DoorID] = true
	d.pending = append(d.pending, result.DoorID)
	return nil
}

// NextDecision takes the oldest queued door.
func (d *Decider) NextDecision(ctx context.Context) (int, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.pending) == 0 {
		return 0, false, nil
	}
	doorID := d.pending[0]
	d.pending = d.pending[1:]
	delete(d.queued, doorID)
	return doorID, true, nil
}

// Pending returns the number of queued decisions.
func (d *Decider) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// StaticGallery serves a fixed list of references, such as ones read from
// configuration.
type StaticGallery []Reference

func (g StaticGallery) Gallery(ctx context.Context) ([]Reference, error) {
	return g, nil
}
