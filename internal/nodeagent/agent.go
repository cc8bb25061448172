// Package nodeagent runs a door node: it registers with the hub, relays a
// sample of camera frames for recognition, and polls the hub for open
// signals that drive the door's state machine.
package nodeagent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/rmacdonaldsmith/facegate/internal/door"
	"github.com/rmacdonaldsmith/facegate/internal/framesource"
	"github.com/rmacdonaldsmith/facegate/pkg/framecodec"
)

// Hub is the subset of the hub API a door node uses.
type Hub interface {
	Register(ctx context.Context) (int, error)
	RelayFrame(ctx context.Context, doorID int, payload string) error
	ShouldOpen(ctx context.Context, doorID int) (bool, error)
}

// RegistrationError means the node could not obtain an identity. The node
// cannot operate without one.
type RegistrationError struct {
	Err error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("register with hub: %v", e.Err)
}

func (e *RegistrationError) Unwrap() error {
	return e.Err
}

// Config holds the node's capture, relay and polling settings.
type Config struct {
	// RelayEvery sends one frame out of every RelayEvery captured.
	RelayEvery int
	// Downscale divides both frame dimensions before encoding.
	Downscale int
	// RelayWorkers and RelayQueue bound concurrent and pending relays.
	RelayWorkers int
	RelayQueue   int
	// PollInterval is the gap between open-signal polls.
	PollInterval time.Duration
	// HoldOpen is how long the door stays open after the last signal.
	HoldOpen time.Duration
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.RelayEvery <= 0 {
		c.RelayEvery = 6
	}
	if c.Downscale <= 0 {
		c.Downscale = 4
	}
	if c.RelayWorkers <= 0 {
		c.RelayWorkers = 4
	}
	if c.RelayQueue <= 0 {
		c.RelayQueue = 16
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.HoldOpen <= 0 {
		c.HoldOpen = door.DefaultHoldOpen
	}
}

// Dependencies are the collaborators of an Agent. Hub and Source are
// required.
type Dependencies struct {
	Hub    Hub
	Source framesource.Source
	Clock  clockwork.Clock
	Logger *slog.Logger
	// Observer, if set, sees every door transition after it is logged.
	Observer func(door.Transition)
}

// Stats are the node's running counters.
type Stats struct {
	Identity    int    `json:"identity"`
	Captured    uint64 `json:"captured"`
	Queued      uint64 `json:"queued"`
	Dropped     uint64 `json:"dropped"`
	Relayed     uint64 `json:"relayed"`
	RelayFailed uint64 `json:"relayFailed"`
	Polls       uint64 `json:"polls"`
	PollFailed  uint64 `json:"pollFailed"`
	OpenSignals uint64 `json:"openSignals"`
}

type relayJob struct {
	seq     uint64
	payload string
}

// Agent is one door node.
type Agent struct {
	config Config
	deps   Dependencies
	clock  clockwork.Clock
	logger *slog.Logger

	registered chan struct{}
	identity   int
	door       *door.Door

	captured    atomic.Uint64
	queued      atomic.Uint64
	dropped     atomic.Uint64
	relayed     atomic.Uint64
	relayFailed atomic.Uint64
	polls       atomic.Uint64
	pollFailed  atomic.Uint64
	openSignals atomic.Uint64
}

// New creates an agent. Nothing happens until Run.
func New(config Config, deps Dependencies) (*Agent, error) {
	if deps.Hub == nil {
		return nil, errors.New("hub client is required")
	}
	if deps.Source == nil {
		return nil, errors.New("frame source is required")
	}
	config.SetDefaults()

	clk := deps.Clock
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Agent{
		config:     config,
		deps:       deps,
		clock:      clk,
		logger:     logger.With("component", "nodeagent"),
		registered: make(chan struct{}),
	}, nil
}

// Registered is closed once the node holds an identity.
func (a *Agent) Registered() <-chan struct{} {
	return a.registered
}

// Door returns the node's door, or nil before registration.
func (a *Agent) Door() *door.Door {
	select {
	case <-a.registered:
		return a.door
	default:
		return nil
	}
}

// Stats returns a snapshot of the counters.
func (a *Agent) Stats() Stats {
	identity := -1
	if a.Door() != nil {
		identity = a.identity
	}
	return Stats{
		Identity:    identity,
		Captured:    a.captured.Load(),
		Queued:      a.queued.Load(),
		Dropped:     a.dropped.Load(),
		Relayed:     a.relayed.Load(),
		RelayFailed: a.relayFailed.Load(),
		Polls:       a.polls.Load(),
		PollFailed:  a.pollFailed.Load(),
		OpenSignals: a.openSignals.Load(),
	}
}

// Run registers with the hub and then captures, relays and polls until ctx
// ends or the frame source stops. Registration failure returns a
// *RegistrationError. A source that runs out of frames ends Run with nil;
// any other source error is returned.
func (a *Agent) Run(ctx context.Context) error {
	id, err := a.deps.Hub.Register(ctx)
	if err != nil {
		return &RegistrationError{Err: err}
	}
	a.identity = id
	a.door = door.New(id, a.config.HoldOpen,
		door.WithClock(a.clock),
		door.WithObserver(a.observe))
	close(a.registered)
	a.logger.Info("received door identity from hub", "door_id", id)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := make(chan relayJob, a.config.RelayQueue)
	var workers sync.WaitGroup
	for i := 0; i < a.config.RelayWorkers; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			a.relayWorker(runCtx, queue)
		}()
	}

	var poller sync.WaitGroup
	poller.Add(1)
	go func() {
		defer poller.Done()
		a.pollLoop(runCtx)
	}()

	captureErr := a.captureLoop(runCtx, queue)

	// Frames already queued are still relayed when the source ran dry;
	// on cancellation the workers skip them.
	close(queue)
	workers.Wait()
	cancel()
	poller.Wait()
	a.door.Close()

	if captureErr != nil && !errors.Is(captureErr, context.Canceled) {
		return captureErr
	}
	return nil
}

func (a *Agent) captureLoop(ctx context.Context, queue chan<- relayJob) error {
	var count uint64
	for {
		grid, err := a.deps.Source.Next(ctx)
		if err != nil {
			if errors.Is(err, framesource.ErrExhausted) {
				a.logger.Info("frame source exhausted", "captured", count)
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("capture frame: %w", err)
		}
		count++
		a.captured.Add(1)

		if count%uint64(a.config.RelayEvery) != 0 {
			continue
		}

		job := relayJob{
			seq:     count,
			payload: framecodec.Encode(framecodec.Downscale(grid, a.config.Downscale)),
		}
		select {
		case queue <- job:
			a.queued.Add(1)
		default:
			a.dropped.Add(1)
			a.logger.Debug("relay queue full, dropping frame", "frame", count)
		}
	}
}

func (a *Agent) relayWorker(ctx context.Context, queue <-chan relayJob) {
	for job := range queue {
		if ctx.Err() != nil {
			continue
		}
		if err := a.deps.Hub.RelayFrame(ctx, a.identity, job.payload); err != nil {
			a.relayFailed.Add(1)
			if ctx.Err() == nil {
				a.logger.Debug("frame relay failed", "frame", job.seq, "error", err)
			}
			continue
		}
		a.relayed.Add(1)
	}
}

func (a *Agent) pollLoop(ctx context.Context) {
	ticker := a.clock.NewTicker(a.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}

		a.polls.Add(1)
		open, err := a.deps.Hub.ShouldOpen(ctx, a.identity)
		if err != nil {
			a.pollFailed.Add(1)
			if ctx.Err() == nil {
				a.logger.Warn("open signal poll failed", "error", err)
			}
			continue
		}
		if open {
			a.openSignals.Add(1)
			a.logger.Info("received open signal from hub", "door_id", a.identity)
			a.door.Open()
		}
	}
}

func (a *Agent) observe(t door.Transition) {
	switch {
	case t.Refresh():
		a.logger.Debug("door hold refreshed", "door_id", t.DoorID, "closes_at", t.Deadline)
	case t.To == door.Open:
		a.logger.Info("door opened", "door_id", t.DoorID, "closes_at", t.Deadline)
	default:
		a.logger.Info("door closed", "door_id", t.DoorID)
	}
	if a.deps.Observer != nil {
		a.deps.Observer(t)
	}
}
