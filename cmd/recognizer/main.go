// Command recognizer runs the recognition bridge: the hub asks it to
// process a door's latest frame, it runs the face matcher on that frame,
// keeps the per-door streaks and reports each result to the backend.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"github.com/spf13/pflag"
	"google.golang.org/grpc"

	"github.com/rmacdonaldsmith/facegate/internal/backend"
	"github.com/rmacdonaldsmith/facegate/internal/config"
	"github.com/rmacdonaldsmith/facegate/internal/hubapi"
	"github.com/rmacdonaldsmith/facegate/internal/matcher"
	"github.com/rmacdonaldsmith/facegate/internal/recognition"
)

const (
	// Application info
	appName    = "facegate-recognizer"
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

	app, err := newRecognizerApp(cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	return app.Run(ctx)
}

func parseFlags(args []string, stderr io.Writer) (*config.RecognizerConfig, bool, error) {
	flagSet := pflag.NewFlagSet(appName, pflag.ContinueOnError)
	flagSet.SetOutput(stderr)

	configPath := flagSet.String("config", "", "Path to a YAML or JSONC configuration file")
	listen := flagSet.String("listen", ":5000", "Listen address for sync requests")
	backendURL := flagSet.String("backend", "", "Base URL of the backend receiving results and serving the gallery")
	framesURL := flagSet.String("frames", "", "Base URL to fetch unprocessed frames from (default: --backend)")
	matcherAddr := flagSet.String("matcher", "", "gRPC address of the face matcher (empty: built-in matcher)")
	serveMatcher := flagSet.String("serve-matcher", "", "Expose the matcher over gRPC on this address")
	logLevel := flagSet.String("log-level", "info", "Log level: debug, info, warn, error")
	logFormat := flagSet.String("log-format", "text", "Log format: text or json")
	showVersion := flagSet.Bool("version", false, "Show version and exit")

	if err := flagSet.Parse(args); err != nil {
		return nil, false, err
	}
	if *showVersion {
		return nil, true, nil
	}

	cfg := config.DefaultRecognizer()
	if *configPath != "" {
		loaded, err := config.ReadRecognizerFile(*configPath)
		if err != nil {
			return nil, false, err
		}
		cfg = loaded
	}

	if flagSet.Changed("listen") {
		cfg.Listen = *listen
	}
	if flagSet.Changed("backend") {
		if cfg.FramesURL == cfg.BackendURL {
			cfg.FramesURL = ""
		}
		cfg.BackendURL = *backendURL
	}
	if flagSet.Changed("frames") {
		cfg.FramesURL = *framesURL
	}
	if flagSet.Changed("matcher") {
		cfg.MatcherAddress = *matcherAddr
	}
	if flagSet.Changed("serve-matcher") {
		cfg.ServeMatcher = *serveMatcher
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

// recognizerApp is the wired recognizer.
type recognizerApp struct {
	cfg     *config.RecognizerConfig
	logger  *slog.Logger
	bridge  *recognition.Bridge
	matcher recognition.Matcher
	http    *http.Server
	closers []io.Closer
}

func newRecognizerApp(cfg *config.RecognizerConfig, logger *slog.Logger) (*recognizerApp, error) {
	app := &recognizerApp{cfg: cfg, logger: logger}
	timeout := cfg.CallTimeout.Duration

	frames, err := backend.NewClient(backend.Config{BaseURL: cfg.FramesURL, Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to create frame client: %w", err)
	}
	deps := recognition.Dependencies{Fetcher: frames, Logger: logger}

	if cfg.BackendURL != "" {
		be, err := backend.NewClient(backend.Config{BaseURL: cfg.BackendURL, Timeout: timeout})
		if err != nil {
			return nil, fmt.Errorf("failed to create backend client: %w", err)
		}
		deps.Results = be
		deps.Gallery = be
	}
	if len(cfg.Gallery) > 0 {
		refs, err := config.ReadGalleryFiles(cfg.Gallery)
		if err != nil {
			return nil, err
		}
		deps.Gallery = recognition.StaticGallery(refs)
	}

	if cfg.MatcherAddress == "" {
		app.matcher = matcher.NewLocal()
	} else {
		client, err := matcher.NewClient(matcher.Config{Address: cfg.MatcherAddress})
		if err != nil {
			return nil, fmt.Errorf("failed to create matcher client: %w", err)
		}
		app.closers = append(app.closers, client)
		app.matcher = client
	}
	deps.Matcher = app.matcher

	bridge, err := recognition.NewBridge(recognition.Config{CallTimeout: timeout}, deps)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.bridge = bridge

	app.http = &http.Server{
		Addr:              cfg.Listen,
		Handler:           app.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return app, nil
}

// Handler wraps the bridge routes in the same middleware the hub uses.
func (a *recognizerApp) Handler() http.Handler {
	mw := hubapi.NewMiddleware(a.logger)
	routes := recognition.NewHandler(a.bridge, a.logger)
	return gzhttp.GzipHandler(mw.Recovery(mw.Logging(mw.ContentType(routes.ServeHTTP))))
}

// Run loads the gallery and serves until ctx ends.
func (a *recognizerApp) Run(ctx context.Context) error {
	a.logger.Info("starting recognizer", "version", appVersion, "listen", a.cfg.Listen, "frames", a.cfg.FramesURL)
	a.bridge.LoadGallery(ctx)

	if a.cfg.ServeMatcher != "" {
		lis, err := net.Listen("tcp", a.cfg.ServeMatcher)
		if err != nil {
			return fmt.Errorf("failed to listen for matcher: %w", err)
		}
		server := grpc.NewServer()
		matcher.RegisterServer(server, a.matcher)
		go func() {
			a.logger.Info("matcher service listening", "addr", a.cfg.ServeMatcher)
			if err := server.Serve(lis); err != nil {
				a.logger.Warn("matcher service stopped", "error", err)
			}
		}()
		defer server.GracefulStop()
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout.Duration)
		defer cancel()
		if err := a.http.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("graceful shutdown incomplete", "error", err)
		}
	}()

	if err := a.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("recognizer server failed: %w", err)
	}
	a.logger.Info("recognizer stopped")
	return nil
}

func (a *recognizerApp) Close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.logger.Warn("error during close", "error", err)
		}
	}
}
