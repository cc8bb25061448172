// Command doornode runs one door: it registers with the hub, relays every
// Nth camera frame for recognition and opens the door when the hub says so.
//
// The camera is a stand-in: a synthetic scene, optionally with a visitor
// that comes and goes, or the replay of a recorded capture file.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/rmacdonaldsmith/facegate/internal/config"
	"github.com/rmacdonaldsmith/facegate/internal/framesource"
	"github.com/rmacdonaldsmith/facegate/internal/nodeagent"
	"github.com/rmacdonaldsmith/facegate/pkg/framecodec"
	"github.com/rmacdonaldsmith/facegate/pkg/hubclient"
)

const (
	// Application info
	appName    = "facegate-doornode"
	appVersion = "0.1.0"

	// exitRegistration is the exit status when the hub refused or could
	// not be reached for an identity.
	exitRegistration = 2
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		var regErr *nodeagent.RegistrationError
		if errors.As(err, &regErr) {
			os.Exit(exitRegistration)
		}
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	cfg, showVersion, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		fmt.Fprintf(stdout, "%s v%s\n", appName, appVersion)
		return nil
	}

	logger, err := cfg.Log.NewLogger(stderr)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	source, closeSource, err := openSource(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeSource(); err != nil {
			logger.Warn("error closing frame source", "error", err)
		}
	}()

	client, err := hubclient.NewClient(hubclient.Config{
		HubURL:       cfg.HubURL,
		Timeout:      cfg.Timeout.Duration,
		RelayTimeout: cfg.RelayTimeout.Duration,
	})
	if err != nil {
		return fmt.Errorf("failed to create hub client: %w", err)
	}

	agent, err := nodeagent.New(nodeagent.Config{
		RelayEvery:   cfg.Relay.Every,
		Downscale:    cfg.Relay.Downscale,
		RelayWorkers: cfg.Relay.Workers,
		RelayQueue:   cfg.Relay.Queue,
		PollInterval: cfg.PollInterval.Duration,
		HoldOpen:     cfg.HoldOpen.Duration,
	}, nodeagent.Dependencies{
		Hub:    client,
		Source: source,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	logger.Info("starting door node",
		"version", appVersion,
		"hub", cfg.HubURL,
		"source", cfg.Source.Kind,
		"relay_every", cfg.Relay.Every)

	err = agent.Run(ctx)
	stats := agent.Stats()
	logger.Info("door node stopped",
		"captured", stats.Captured,
		"relayed", stats.Relayed,
		"dropped", stats.Dropped,
		"open_signals", stats.OpenSignals)
	return err
}

func parseFlags(args []string, stderr io.Writer) (*config.NodeConfig, bool, error) {
	flagSet := pflag.NewFlagSet(appName, pflag.ContinueOnError)
	flagSet.SetOutput(stderr)

	configPath := flagSet.String("config", "", "Path to a YAML or JSONC configuration file")
	hubURL := flagSet.String("hub", "", "Base URL of the hub, e.g. http://192.168.0.113:8080")
	sourceKind := flagSet.String("source", config.SourceSynthetic, "Frame source: synthetic or replay")
	capture := flagSet.String("capture", "", "Capture file to replay")
	loop := flagSet.Bool("loop", false, "Restart the replay at the end of the capture")
	paced := flagSet.Bool("paced", false, "Replay with the recorded frame gaps")
	record := flagSet.String("record", "", "Record every captured frame to this file")
	visitor := flagSet.String("visitor", "", "File holding an encoded visitor face for the synthetic scene")
	fps := flagSet.Int("fps", 30, "Synthetic frame rate")
	relayEvery := flagSet.Int("relay-every", 6, "Relay one frame out of every N")
	pollInterval := flagSet.Duration("poll-interval", 0, "Interval between open-signal polls (default 1s)")
	holdOpen := flagSet.Duration("hold-open", 0, "How long the door stays open after the last signal (default 10s)")
	logLevel := flagSet.String("log-level", "info", "Log level: debug, info, warn, error")
	logFormat := flagSet.String("log-format", "text", "Log format: text or json")
	showVersion := flagSet.Bool("version", false, "Show version and exit")

	if err := flagSet.Parse(args); err != nil {
		return nil, false, err
	}
	if *showVersion {
		return nil, true, nil
	}

	cfg := config.DefaultNode()
	if *configPath != "" {
		var err error
		if cfg, err = config.ReadNodeFile(*configPath); err != nil {
			return nil, false, err
		}
	}

	if flagSet.Changed("hub") {
		cfg.HubURL = *hubURL
	}
	if flagSet.Changed("source") {
		cfg.Source.Kind = *sourceKind
	}
	if flagSet.Changed("capture") {
		cfg.Source.Path = *capture
	}
	if flagSet.Changed("loop") {
		cfg.Source.Loop = *loop
	}
	if flagSet.Changed("paced") {
		cfg.Source.Paced = *paced
	}
	if flagSet.Changed("record") {
		cfg.Source.Record = *record
	}
	if flagSet.Changed("visitor") {
		cfg.Source.VisitorFile = *visitor
	}
	if flagSet.Changed("fps") {
		cfg.Source.FPS = *fps
	}
	if flagSet.Changed("relay-every") {
		cfg.Relay.Every = *relayEvery
	}
	if flagSet.Changed("poll-interval") {
		cfg.PollInterval = config.D(*pollInterval)
	}
	if flagSet.Changed("hold-open") {
		cfg.HoldOpen = config.D(*holdOpen)
	}
	if flagSet.Changed("log-level") {
		cfg.Log.Level = *logLevel
	}
	if flagSet.Changed("log-format") {
		cfg.Log.Format = *logFormat
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, false, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, false, nil
}

// openSource builds the configured camera stand-in. The returned function
// releases everything the source holds.
func openSource(cfg *config.NodeConfig) (framesource.Source, func() error, error) {
	var (
		source framesource.Source
		files  []*os.File
	)
	closeAll := func() error {
		var first error
		if source != nil {
			first = source.Close()
		}
		for _, f := range files {
			if err := f.Close(); err != nil && first == nil {
				first = err
			}
		}
		return first
	}

	switch cfg.Source.Kind {
	case config.SourceReplay:
		f, err := os.Open(cfg.Source.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open capture: %w", err)
		}
		replay, err := framesource.NewReplay(f, framesource.ReplayConfig{
			Paced: cfg.Source.Paced,
			Loop:  cfg.Source.Loop,
		}, nil)
		if err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("failed to read capture %s: %w", cfg.Source.Path, err)
		}
		source = replay

	default:
		synthetic, err := newSynthetic(cfg)
		if err != nil {
			return nil, nil, err
		}
		source = synthetic
	}

	if cfg.Source.Record != "" {
		f, err := os.Create(cfg.Source.Record)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("failed to create recording: %w", err)
		}
		files = append(files, f)
		rec, err := framesource.NewRecorder(f, nil)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		source = framesource.Tee(source, rec)
	}
	return source, closeAll, nil
}

func newSynthetic(cfg *config.NodeConfig) (*framesource.Synthetic, error) {
	sc := framesource.SyntheticConfig{
		Rows: cfg.Source.Rows,
		Cols: cfg.Source.Cols,
		FPS:  cfg.Source.FPS,
	}
	if cfg.Source.VisitorFile != "" {
		data, err := os.ReadFile(cfg.Source.VisitorFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read visitor: %w", err)
		}
		face, err := framecodec.Decode(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("failed to decode visitor: %w", err)
		}
		sc.Visitor = face
		sc.VisitorTop, sc.VisitorLeft = centered(face, cfg.Source.Rows, cfg.Source.Cols, cfg.Relay.Downscale)
	}
	return framesource.NewSynthetic(sc, nil)
}

// centered places face in the middle of the scene, snapped to the relay
// downscale grid so the relayed frame samples the same face pixels as a
// downscaled reference photo.
func centered(face framecodec.Grid, rows, cols, downscale int) (top, left int) {
	fr, fc := face.Dims()
	top = (rows - fr) / 2
	left = (cols - fc) / 2
	if downscale > 1 {
		top -= top % downscale
		left -= left % downscale
	}
	return max(top, 0), max(left, 0)
}
