package hub

import (
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

var (
	// ErrUnknownIdentity is returned for a door identity the registry never assigned
	ErrUnknownIdentity = errors.New("unknown door identity")
)

// Entry is the hub's record of one registered door.
type Entry struct {
	Identity     int       `json:"index"`
	Origin       string    `json:"origin"`
	PendingOpen  bool      `json:"pendingOpen"`
	RegisteredAt time.Time `json:"registeredAt"`
	LastPolledAt time.Time `json:"lastPolledAt,omitzero"`

	// OpenRequests counts decisions that set the flag, OpenDeliveries counts
	// polls that cleared it. Coalesced decisions do not count twice.
	OpenRequests   int `json:"openRequests"`
	OpenDeliveries int `json:"openDeliveries"`
}

// Registry assigns door identities and holds each door's pending-open flag.
// Identities are the indices of a slice, so they are dense from 0 and never
// reused. Every method takes the same lock; that is what makes allocation
// linearizable and the flag clear exactly-once.
type Registry struct {
	mu      sync.Mutex
	entries []*Entry
	clock   clockwork.Clock
}

// NewRegistry creates an empty registry.
func NewRegistry(clk clockwork.Clock) *Registry {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return &Registry{clock: clk}
}

// Register allocates the next identity for a door calling from origin.
func (r *Registry) Register(origin string) Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := &Entry{
		Identity:     len(r.entries),
		Origin:       origin,
		RegisteredAt: r.clock.Now(),
	}
	r.entries = append(r.entries, entry)
	return *entry
}

// MarkOpen sets the pending-open flag. Setting an already set flag is a
// no-op reported through alreadyPending.
func (r *Registry) MarkOpen(id int) (alreadyPending bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, err := r.lookupLocked(id)
	if err != nil {
		return false, err
	}
	if entry.PendingOpen {
		return true, nil
	}
	entry.PendingOpen = true
	entry.OpenRequests++
	return false, nil
}

// TakeOpen reports whether the door should open and clears the flag in the
// same critical section, so each set is delivered to exactly one poll.
func (r *Registry) TakeOpen(id int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, err := r.lookupLocked(id)
	if err != nil {
		return false, err
	}
	entry.LastPolledAt = r.clock.Now()
	if !entry.PendingOpen {
		return false, nil
	}
	entry.PendingOpen = false
	entry.OpenDeliveries++
	return true, nil
}

// Get returns a copy of one entry.
func (r *Registry) Get(id int) (Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, err := r.lookupLocked(id)
	if err != nil {
		return Entry{}, err
	}
	return *entry, nil
}

// List returns copies of all entries in identity order.
func (r *Registry) List() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, len(r.entries))
	for i, entry := range r.entries {
		out[i] = *entry
	}
	return out
}

// Len returns the number of registered doors, which is also the next
// identity to be assigned.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) lookupLocked(id int) (*Entry, error) {
	if id < 0 || id >= len(r.entries) {
		return nil, ErrUnknownIdentity
	}
	return r.entries[id], nil
}
