// Package hubapi exposes the hub coordinator over HTTP. The /hub paths and
// their field names are relied on by deployed door nodes and must not
// change.
package hubapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzhttp"

	"github.com/rmacdonaldsmith/facegate/internal/framestore"
	"github.com/rmacdonaldsmith/facegate/internal/hub"
)

// Config holds server configuration
type Config struct {
	// Addr to listen on, e.g. ":8080"
	Addr string

	// ShutdownTimeout bounds the graceful shutdown once Start's context ends.
	ShutdownTimeout time.Duration
}

// SetDefaults sets reasonable default values for the config
func (c *Config) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
}

// Server represents the hub HTTP server
type Server struct {
	config     Config
	handlers   *Handlers
	middleware *Middleware
	server     *http.Server
	logger     *slog.Logger
}

// NewServer creates a new hub HTTP server. frames may be nil.
func NewServer(coordinator *hub.Coordinator, frames *framestore.Store, config Config, logger *slog.Logger) *Server {
	config.SetDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "hubapi")

	server := &Server{
		config:     config,
		handlers:   NewHandlers(coordinator, frames, logger),
		middleware: NewMiddleware(logger),
		logger:     logger,
	}

	// Recognition passes run inside /hub/receive_image, so the write
	// timeout must cover the slowest pass.
	server.server = &http.Server{
		Addr:              config.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
	}
	return server
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	withMiddleware := func(handler http.HandlerFunc) http.Handler {
		return gzhttp.GzipHandler(
			s.middleware.Recovery(
				s.middleware.Logging(
					s.middleware.ContentType(handler))))
	}

	// Door-facing endpoints
	mux.Handle("/hub/get_index", withMiddleware(s.method(http.MethodGet, s.handlers.GetIndex)))
	mux.Handle("/hub/receive_image", withMiddleware(s.method(http.MethodPost, s.handlers.ReceiveImage)))
	mux.Handle("/hub/should_open", withMiddleware(s.method(http.MethodGet, s.handlers.ShouldOpen)))

	// Operator endpoints
	mux.Handle("/hub/doors", withMiddleware(s.method(http.MethodGet, s.handlers.Doors)))
	mux.Handle("/hub/health", withMiddleware(s.method(http.MethodGet, s.handlers.Health)))

	// The websocket needs the raw connection, so no compression or
	// response recording on this route.
	mux.Handle("/hub/events", s.middleware.Recovery(s.method(http.MethodGet, s.handlers.Events)))

	// Embedded frame buffer
	mux.Handle("/api/unprocesedImageInput", withMiddleware(s.method(http.MethodGet, s.handlers.UnprocessedFrame)))

	mux.Handle("/", withMiddleware(s.handleRoot))

	return mux
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		if err := s.Stop(shutdownCtx); err != nil {
			s.logger.Warn("graceful shutdown incomplete", "error", err)
		}
	}()

	s.logger.Info("hub listening", "addr", s.config.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server and ends open event streams.
func (s *Server) Stop(ctx context.Context) error {
	s.handlers.shutdown()
	return s.server.Shutdown(ctx)
}

// method rejects requests that do not use the given HTTP method.
func (s *Server) method(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			s.handlers.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next(w, r)
	}
}

// handleRoot provides API information
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.handlers.writeError(w, "Not found", http.StatusNotFound)
		return
	}

	info := map[string]interface{}{
		"service": "facegate hub",
		"endpoints": map[string]string{
			"register":    "GET /hub/get_index",
			"relayFrame":  "POST /hub/receive_image",
			"shouldOpen":  "GET /hub/should_open?door_id={id}",
			"doors":       "GET /hub/doors",
			"health":      "GET /hub/health",
			"events":      "GET /hub/events (websocket)",
			"latestFrame": "GET /api/unprocesedImageInput?doorId={id}",
		},
	}
	s.handlers.writeJSON(w, info, http.StatusOK)
}
