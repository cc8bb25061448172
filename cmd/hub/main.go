// Command hub runs the facegate hub: it hands out door identities, relays
// door frames for recognition and delivers open signals to polling doors.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/rmacdonaldsmith/facegate/internal/backend"
	"github.com/rmacdonaldsmith/facegate/internal/config"
	"github.com/rmacdonaldsmith/facegate/internal/framestore"
	"github.com/rmacdonaldsmith/facegate/internal/hub"
	"github.com/rmacdonaldsmith/facegate/internal/hubapi"
	"github.com/rmacdonaldsmith/facegate/internal/matcher"
	"github.com/rmacdonaldsmith/facegate/internal/recognition"
)

const (
	// Application info
	appName    = "facegate-hub"
	appVersion = "0.1.0"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
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

	app, err := newHubApp(cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	return app.Run(ctx)
}

// parseFlags reads --config first and then applies every flag that was set
// on the command line over it.
func parseFlags(args []string, stderr io.Writer) (*config.HubConfig, bool, error) {
	flagSet := pflag.NewFlagSet(appName, pflag.ContinueOnError)
	flagSet.SetOutput(stderr)

	configPath := flagSet.String("config", "", "Path to a YAML or JSONC configuration file")
	listen := flagSet.String("listen", ":8080", "Listen address for doors and operators")
	backendURL := flagSet.String("backend", "", "Base URL of the frame and decision backend (empty: standalone)")
	recognizerURL := flagSet.String("recognizer", "", "Base URL of a remote recognizer (empty: in-process)")
	matcherAddr := flagSet.String("matcher", "", "gRPC address of the face matcher (empty: built-in matcher)")
	notify := flagSet.Bool("notify-door-count", false, "Post the door count to the backend after each registration")
	logLevel := flagSet.String("log-level", "info", "Log level: debug, info, warn, error")
	logFormat := flagSet.String("log-format", "text", "Log format: text or json")
	showVersion := flagSet.Bool("version", false, "Show version and exit")

	if err := flagSet.Parse(args); err != nil {
		return nil, false, err
	}
	if *showVersion {
		return nil, true, nil
	}

	cfg := config.DefaultHub()
	if *configPath != "" {
		loaded, err := config.ReadHubFile(*configPath)
		if err != nil {
			return nil, false, err
		}
		cfg = loaded
	}

	if flagSet.Changed("listen") {
		cfg.Listen = *listen
	}
	if flagSet.Changed("backend") {
		cfg.BackendURL = *backendURL
	}
	if flagSet.Changed("recognizer") {
		cfg.RecognizerURL = *recognizerURL
	}
	if flagSet.Changed("matcher") {
		cfg.MatcherAddress = *matcherAddr
	}
	if flagSet.Changed("notify-door-count") {
		cfg.NotifyDoorCount = *notify
	}
	if flagSet.Changed("log-level") {
		cfg.Log.Level = *logLevel
	}
	if flagSet.Changed("log-format") {
		cfg.Log.Format = *logFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, false, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, false, nil
}

// hubApp is the wired hub.
type hubApp struct {
	cfg         *config.HubConfig
	logger      *slog.Logger
	coordinator *hub.Coordinator
	server      *hubapi.Server
	frames      *framestore.Store
	bridge      *recognition.Bridge
	closers     []io.Closer
}

func newHubApp(cfg *config.HubConfig, logger *slog.Logger) (*hubApp, error) {
	app := &hubApp{cfg: cfg, logger: logger}
	deps := hub.Dependencies{Logger: logger}

	var (
		fetcher recognition.FrameFetcher
		results recognition.ResultSink
		gallery recognition.GallerySource
	)

	if cfg.Standalone() {
		frames, err := framestore.New()
		if err != nil {
			return nil, fmt.Errorf("failed to create frame buffer: %w", err)
		}
		app.frames = frames
		app.closers = append(app.closers, frames)

		refs, err := config.ReadGalleryFiles(cfg.Gallery)
		if err != nil {
			app.Close()
			return nil, err
		}
		decider := recognition.NewDecider(cfg.DecisionThreshold)

		deps.Sink = frames
		deps.Decisions = decider
		fetcher, results, gallery = frames, decider, recognition.StaticGallery(refs)
	} else {
		client, err := backend.NewClient(backend.Config{BaseURL: cfg.BackendURL, Timeout: cfg.CallTimeout.Duration})
		if err != nil {
			return nil, fmt.Errorf("failed to create backend client: %w", err)
		}
		deps.Sink = client
		deps.Decisions = client
		if cfg.NotifyDoorCount {
			deps.Notifier = client
		}
		fetcher, results, gallery = client, client, client
	}

	if cfg.RecognizerURL != "" {
		trigger, err := backend.NewSyncTrigger(backend.Config{BaseURL: cfg.RecognizerURL, Timeout: cfg.TriggerTimeout.Duration})
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("failed to create recognizer client: %w", err)
		}
		deps.Trigger = trigger
	} else {
		m, err := app.newMatcher()
		if err != nil {
			app.Close()
			return nil, err
		}
		bridge, err := recognition.NewBridge(recognition.Config{CallTimeout: cfg.CallTimeout.Duration}, recognition.Dependencies{
			Fetcher: fetcher,
			Matcher: m,
			Results: results,
			Gallery: gallery,
			Logger:  logger,
		})
		if err != nil {
			app.Close()
			return nil, err
		}
		app.bridge = bridge
		deps.Trigger = bridge
	}

	coordinator, err := hub.NewCoordinator(hub.Config{
		DecisionInterval: cfg.DecisionInterval.Duration,
		CallTimeout:      cfg.CallTimeout.Duration,
		TriggerTimeout:   cfg.TriggerTimeout.Duration,
	}, deps)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.coordinator = coordinator
	app.server = hubapi.NewServer(coordinator, app.frames, hubapi.Config{
		Addr:            cfg.Listen,
		ShutdownTimeout: cfg.ShutdownTimeout.Duration,
	}, logger)
	return app, nil
}

func (a *hubApp) newMatcher() (recognition.Matcher, error) {
	if a.cfg.MatcherAddress == "" {
		return matcher.NewLocal(), nil
	}
	client, err := matcher.NewClient(matcher.Config{Address: a.cfg.MatcherAddress})
	if err != nil {
		return nil, fmt.Errorf("failed to create matcher client: %w", err)
	}
	a.closers = append(a.closers, client)
	return client, nil
}

// Run serves until ctx ends.
func (a *hubApp) Run(ctx context.Context) error {
	mode := "backend"
	if a.cfg.Standalone() {
		mode = "standalone"
	}
	a.logger.Info("starting hub", "version", appVersion, "mode", mode, "listen", a.cfg.Listen)

	if a.bridge != nil {
		a.bridge.LoadGallery(ctx)
	}
	go a.coordinator.RunDecisionLoop(ctx)

	if err := a.server.Start(ctx); err != nil {
		return fmt.Errorf("hub server failed: %w", err)
	}
	a.logger.Info("hub stopped")
	return nil
}

func (a *hubApp) Close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.logger.Warn("error during close", "error", err)
		}
	}
}
