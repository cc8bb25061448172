package recognition

import "sync"

// Tally holds a door's streaks of consecutive processed frames with a
// detected face and with a recognized face. A frame without one resets the
// matching streak to zero.
type Tally struct {
	DoorID       int `json:"doorId"`
	Detections   int `json:"nrOfPastFramesWithDetection"`
	Recognitions int `json:"nrOfPastFramesWithRecognition"`
}

// Tallies is a mutex-guarded map of per-door tallies.
type Tallies struct {
	mu    sync.Mutex
	doors map[int]*Tally
}

func NewTallies() *Tallies {
	return &Tallies{doors: make(map[int]*Tally)}
}

// Observe records one processed frame and returns the updated tally.
func (t *Tallies) Observe(doorID int, detected, recognized bool) Tally {
	t.mu.Lock()
	defer t.mu.Unlock()

	tally, ok := t.doors[doorID]
	if !ok {
		tally = &Tally{DoorID: doorID}
		t.doors[doorID] = tally
	}
	if detected {
		tally.Detections++
	} else {
		tally.Detections = 0
	}
	if recognized {
		tally.Recognitions++
	} else {
		tally.Recognitions = 0
	}
	return *tally
}

// Get returns the door's tally, zero-valued if it has never been observed.
func (t *Tallies) Get(doorID int) Tally {
	t.mu.Lock()
	defer t.mu.Unlock()

	if tally, ok := t.doors[doorID]; ok {
		return *tally
	}
	return Tally{DoorID: doorID}
}
