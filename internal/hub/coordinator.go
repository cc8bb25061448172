package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/rmacdonaldsmith/facegate/pkg/framecodec"
)

const (
	// DefaultDecisionInterval is how often the decision source is asked.
	DefaultDecisionInterval = time.Second
	// DefaultCallTimeout bounds each outbound call the coordinator makes.
	DefaultCallTimeout = 5 * time.Second
)

// FrameSink accepts frames for later recognition.
type FrameSink interface {
	Ingest(ctx context.Context, env framecodec.Envelope) error
}

// ProcessTrigger asks the recognition bridge to process the latest frame of
// a door and returns once that pass is complete.
type ProcessTrigger interface {
	Trigger(ctx context.Context, doorID int) error
}

// DecisionSource reports a door that should open. ok is false when there
// is no decision pending.
type DecisionSource interface {
	NextDecision(ctx context.Context) (doorID int, ok bool, err error)
}

// DoorCountNotifier is told the number of registered doors after each
// registration.
type DoorCountNotifier interface {
	NotifyDoorCount(ctx context.Context, count int) error
}

// Dependencies are the collaborators of a Coordinator. Sink is required.
type Dependencies struct {
	Sink      FrameSink
	Trigger   ProcessTrigger
	Decisions DecisionSource
	Notifier  DoorCountNotifier
	Clock     clockwork.Clock
	Logger    *slog.Logger
}

// Config holds coordinator timing.
type Config struct {
	DecisionInterval time.Duration
	CallTimeout      time.Duration
	TriggerTimeout   time.Duration
}

// SetDefaults fills unset durations.
func (c *Config) SetDefaults() {
	if c.DecisionInterval <= 0 {
		c.DecisionInterval = DefaultDecisionInterval
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.TriggerTimeout <= 0 {
		c.TriggerTimeout = 30 * time.Second
	}
}

// Coordinator implements the hub's request handling and decision ingestion.
type Coordinator struct {
	config   Config
	registry *Registry
	deps     Dependencies
	clock    clockwork.Clock
	logger   *slog.Logger
	events   *broadcaster

	notifyMu sync.Mutex
}

// NewCoordinator creates a coordinator with an empty registry.
func NewCoordinator(config Config, deps Dependencies) (*Coordinator, error) {
	if deps.Sink == nil {
		return nil, errors.New("frame sink is required")
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

	return &Coordinator{
		config:   config,
		registry: NewRegistry(clk),
		deps:     deps,
		clock:    clk,
		logger:   logger.With("component", "hub"),
		events:   newBroadcaster(),
	}, nil
}

// Registry exposes the door registry for read-only views.
func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// Subscribe returns a channel of coordinator events and a function that
// ends the subscription.
func (c *Coordinator) Subscribe(buffer int) (<-chan Event, func()) {
	return c.events.subscribe(buffer)
}

// Subscribers returns the number of live event subscriptions.
func (c *Coordinator) Subscribers() int {
	return c.events.count()
}

// Register assigns an identity to the door calling from origin. The door
// count notification is best effort.
func (c *Coordinator) Register(ctx context.Context, origin string) Entry {
	entry := c.registry.Register(origin)
	c.logger.Info("assigned door identity", "door_id", entry.Identity, "origin", origin)
	c.publish(EventRegistered, entry.Identity, origin)

	if c.deps.Notifier != nil {
		c.notifyDoorCount(ctx)
	}
	return entry
}

// notifyDoorCount sends the registry size. Notifications are serialized and
// the size is read inside the critical section, so the backend never sees
// the count go down.
func (c *Coordinator) notifyDoorCount(ctx context.Context) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	count := c.registry.Len()
	callCtx, cancel := context.WithTimeout(ctx, c.config.CallTimeout)
	defer cancel()
	if err := c.deps.Notifier.NotifyDoorCount(callCtx, count); err != nil {
		c.logger.Warn("door count notification failed", "count", count, "error", err)
	}
}

// RelayFrame forwards a door's frame to the sink and then runs a
// recognition pass for that door before returning. The caller waits for the
// whole pass.
func (c *Coordinator) RelayFrame(ctx context.Context, doorID int, payload string) error {
	if _, err := c.registry.Get(doorID); err != nil {
		return err
	}

	env := framecodec.Envelope{
		DoorID:     doorID,
		Payload:    payload,
		CapturedAt: c.clock.Now(),
	}

	sinkCtx, cancel := context.WithTimeout(ctx, c.config.CallTimeout)
	err := c.deps.Sink.Ingest(sinkCtx, env)
	cancel()
	if err != nil {
		return fmt.Errorf("forward frame for door %d: %w", doorID, err)
	}
	c.publish(EventFrameRelayed, doorID, "")

	if c.deps.Trigger == nil {
		return nil
	}
	triggerCtx, cancel := context.WithTimeout(ctx, c.config.TriggerTimeout)
	defer cancel()
	if err := c.deps.Trigger.Trigger(triggerCtx, doorID); err != nil {
		return fmt.Errorf("trigger processing for door %d: %w", doorID, err)
	}
	return nil
}

// ShouldOpen answers a door poll, clearing the pending flag if it was set.
func (c *Coordinator) ShouldOpen(doorID int) (bool, error) {
	open, err := c.registry.TakeOpen(doorID)
	if err != nil {
		return false, err
	}
	if open {
		c.logger.Info("delivered open signal", "door_id", doorID)
		c.publish(EventOpenDelivered, doorID, "")
	}
	return open, nil
}

// RequestOpen sets a door's pending-open flag as if the decision source had
// named it.
func (c *Coordinator) RequestOpen(doorID int) error {
	already, err := c.registry.MarkOpen(doorID)
	if err != nil {
		c.logger.Warn("open signal for unknown door dropped", "door_id", doorID)
		c.publish(EventUnknownDoor, doorID, "")
		return err
	}
	if already {
		c.logger.Debug("open signal coalesced", "door_id", doorID)
		return nil
	}
	c.logger.Info("received open signal", "door_id", doorID)
	c.publish(EventOpenRequested, doorID, "")
	return nil
}

// RunDecisionLoop polls the decision source until ctx is done. Each
// iteration is independent; a failure only costs that iteration.
func (c *Coordinator) RunDecisionLoop(ctx context.Context) {
	if c.deps.Decisions == nil {
		c.logger.Info("no decision source configured, decision loop disabled")
		return
	}

	ticker := c.clock.NewTicker(c.config.DecisionInterval)
	defer ticker.Stop()

	for {
		c.pollDecision(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}
	}
}

func (c *Coordinator) pollDecision(ctx context.Context) {
	callCtx, cancel := context.WithTimeout(ctx, c.config.CallTimeout)
	defer cancel()

	doorID, ok, err := c.deps.Decisions.NextDecision(callCtx)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Debug("decision poll failed", "error", err)
		}
		return
	}
	if !ok {
		return
	}
	// Unknown identities are logged inside RequestOpen and dropped.
	_ = c.RequestOpen(doorID)
}

func (c *Coordinator) publish(t EventType, doorID int, detail string) {
	c.events.publish(Event{Type: t, DoorID: doorID, At: c.clock.Now(), Detail: detail})
}
