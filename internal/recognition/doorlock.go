package recognition

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// doorLocks hands out one single-weight semaphore per door so processing is
// serialized per door while different doors proceed in parallel.
type doorLocks struct {
	mu    sync.Mutex
	slots map[int]*semaphore.Weighted
}

func newDoorLocks() *doorLocks {
	return &doorLocks{slots: make(map[int]*semaphore.Weighted)}
}

func (l *doorLocks) slot(doorID int) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()

	sem, ok := l.slots[doorID]
	if !ok {
		sem = semaphore.NewWeighted(1)
		l.slots[doorID] = sem
	}
	return sem
}

// acquire blocks until the door is free or ctx ends. The returned func
// releases the door.
func (l *doorLocks) acquire(ctx context.Context, doorID int) (func(), error) {
	sem := l.slot(doorID)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { sem.Release(1) }, nil
}
