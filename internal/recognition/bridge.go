// Package recognition runs face recognition on the latest frame of a door
// when the hub asks for it, keeps per-door detection and recognition
// streaks, and reports each result to the decision backend.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/rmacdonaldsmith/facegate/pkg/framecodec"
)

// Dependencies are the collaborators of a Bridge. Fetcher and Matcher are
// required.
type Dependencies struct {
	Fetcher FrameFetcher
	Matcher Matcher
	Results ResultSink
	Gallery GallerySource
	Clock   clockwork.Clock
	Logger  *slog.Logger
}

// Config holds bridge timing.
type Config struct {
	// CallTimeout bounds each call to the fetcher, the matcher and the
	// result sink.
	CallTimeout time.Duration
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.CallTimeout <= 0 {
		c.CallTimeout = 5 * time.Second
	}
}

// Bridge serves processing requests. One task runs per door at a time;
// requests for the same door queue behind it.
type Bridge struct {
	config  Config
	deps    Dependencies
	tallies *Tallies
	locks   *doorLocks
	clock   clockwork.Clock
	logger  *slog.Logger
}

type taskOutcome struct {
	result Result
	err    error
}

// NewBridge creates a bridge with empty tallies.
func NewBridge(config Config, deps Dependencies) (*Bridge, error) {
	if deps.Fetcher == nil {
		return nil, errors.New("frame fetcher is required")
	}
	if deps.Matcher == nil {
		return nil, errors.New("matcher is required")
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

	return &Bridge{
		config:  config,
		deps:    deps,
		tallies: NewTallies(),
		locks:   newDoorLocks(),
		clock:   clk,
		logger:  logger.With("component", "recognition"),
	}, nil
}

// Tallies exposes the per-door streaks.
func (b *Bridge) Tallies() *Tallies {
	return b.tallies
}

// Process fetches the latest frame for doorID, runs one recognition task on
// it and returns once the task has finished or ctx ends. If ctx ends first
// the task still completes in the background and keeps the door busy until
// it does.
func (b *Bridge) Process(ctx context.Context, doorID int) (Result, error) {
	release, err := b.locks.acquire(ctx, doorID)
	if err != nil {
		return Result{}, err
	}

	grid, err := b.fetch(ctx, doorID)
	if err != nil {
		release()
		return Result{}, err
	}

	taskID := uuid.NewString()
	done := make(chan taskOutcome, 1)
	go func() {
		defer release()
		result, err := b.run(taskID, doorID, grid)
		done <- taskOutcome{result: result, err: err}
	}()

	select {
	case outcome := <-done:
		return outcome.result, outcome.err
	case <-ctx.Done():
		b.logger.Debug("caller gave up on recognition task", "door", doorID, "task", taskID)
		return Result{}, ctx.Err()
	}
}

// Trigger runs Process and discards the result, so a Bridge can be handed
// to the hub directly when both run in one process.
func (b *Bridge) Trigger(ctx context.Context, doorID int) error {
	_, err := b.Process(ctx, doorID)
	return err
}

func (b *Bridge) fetch(ctx context.Context, doorID int) (framecodec.Grid, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, b.config.CallTimeout)
	defer cancel()

	env, err := b.deps.Fetcher.Latest(fetchCtx, doorID)
	if err != nil {
		return nil, fmt.Errorf("%w for door %d: %w", ErrFetch, doorID, err)
	}
	grid, err := framecodec.Decode(env.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w for door %d: %w", ErrFetch, doorID, err)
	}
	return grid, nil
}

// run is the processing task. It uses its own contexts so an abandoned
// request does not leave the tally half updated.
func (b *Bridge) run(taskID string, doorID int, grid framecodec.Grid) (Result, error) {
	logger := b.logger.With("door", doorID, "task", taskID)

	matchCtx, cancel := context.WithTimeout(context.Background(), b.config.CallTimeout)
	outcome, err := b.deps.Matcher.Match(matchCtx, grid)
	cancel()
	if err != nil {
		logger.Warn("matcher failed", "error", err)
		return Result{}, fmt.Errorf("match faces for door %d: %w", doorID, err)
	}

	tally := b.tallies.Observe(doorID, outcome.Faces > 0, len(outcome.Names) > 0)
	people := outcome.Names
	if people == nil {
		people = []string{}
	}
	result := Result{
		DateTime:          framecodec.FormatTimestamp(b.clock.Now()),
		FaceDetected:      outcome.Faces > 0,
		FaceRecognized:    len(outcome.Names) > 0,
		RecognizedPeople:  people,
		DetectionStreak:   tally.Detections,
		RecognitionStreak: tally.Recognitions,
		DoorID:            doorID,
	}

	if b.deps.Results != nil {
		sinkCtx, cancel := context.WithTimeout(context.Background(), b.config.CallTimeout)
		err := b.deps.Results.PublishResult(sinkCtx, result)
		cancel()
		if err != nil {
			logger.Warn("failed to publish recognition result", "error", err)
		}
	}

	logger.Debug("frame processed",
		"faces", outcome.Faces,
		"recognized", len(outcome.Names),
		"detection_streak", tally.Detections,
		"recognition_streak", tally.Recognitions)
	return result, nil
}

// LoadGallery enrolls every reference photo from the gallery source with
// the matcher and returns how many were enrolled. A gallery that cannot be
// fetched is logged and the bridge keeps running with what it has.
func (b *Bridge) LoadGallery(ctx context.Context) int {
	if b.deps.Gallery == nil {
		return 0
	}

	fetchCtx, cancel := context.WithTimeout(ctx, b.config.CallTimeout)
	refs, err := b.deps.Gallery.Gallery(fetchCtx)
	cancel()
	if err != nil {
		b.logger.Warn("failed to fetch known faces", "error", err)
		return 0
	}

	enrolled := 0
	for _, ref := range refs {
		grid, err := framecodec.Decode(ref.Payload)
		if err != nil {
			b.logger.Warn("skipping malformed reference photo", "name", ref.Name, "error", err)
			continue
		}
		enrollCtx, cancel := context.WithTimeout(ctx, b.config.CallTimeout)
		err = b.deps.Matcher.Enroll(enrollCtx, ref.Name, grid)
		cancel()
		if err != nil {
			b.logger.Warn("failed to enroll reference photo", "name", ref.Name, "error", err)
			continue
		}
		enrolled++
	}
	b.logger.Info("known faces loaded", "enrolled", enrolled, "references", len(refs))
	return enrolled
}
