package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cabinworks/cabin-audio-core/internal/history"
	"github.com/cabinworks/cabin-audio-core/internal/infrastructure/config"
	"github.com/cabinworks/cabin-audio-core/internal/infrastructure/database"
	"github.com/cabinworks/cabin-audio-core/internal/infrastructure/logging"
	"github.com/cabinworks/cabin-audio-core/internal/infrastructure/mqtt"
	"github.com/cabinworks/cabin-audio-core/internal/vehicle"
	"github.com/cabinworks/cabin-audio-core/internal/volume"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HALStatsSource exposes vehicle daemon link statistics to the metrics and
// health endpoints without creating a dependency on the concrete client.
type HALStatsSource interface {
	Stats() vehicle.Stats
}

// FocusSource reports which stream context currently holds audio focus.
// The coordinating controller implements it; the passthrough controller
// does not track focus.
type FocusSource interface {
	FocusedContext() volume.Context
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config      config.APIConfig
	WS          config.WebSocketConfig
	Security    config.SecurityConfig
	Logger      *logging.Logger
	Controller  volume.Controller
	Journal     history.Journal // optional: history endpoint returns 503 without it
	MQTT        *mqtt.Client    // optional: metrics report disconnected
	DB          *database.DB    // optional: metrics omit pool stats
	HAL         HALStatsSource  // optional: metrics omit daemon link stats
	ExternalHub *Hub            // If set, the server uses this hub instead of creating its own
	Version     string
}

// Server is the HTTP API server for the cabin audio coordinator.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	secCfg      config.SecurityConfig
	logger      *logging.Logger
	ctrl        volume.Controller
	journal     history.Journal
	mqtt        *mqtt.Client
	db          *database.DB
	hal         HALStatsSource
	version     string
	startTime   time.Time
	server      *http.Server
	hub         *Hub
	externalHub bool               // true if hub was injected externally
	observerID  int64              // volume observer feeding the WebSocket hub
	cancel      context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, volume controller)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Controller == nil {
		return nil, fmt.Errorf("volume controller is required")
	}
	// Journal, MQTT, DB and HAL are optional: the affected endpoints
	// degrade rather than blocking startup.

	s := &Server{
		cfg:     deps.Config,
		wsCfg:   deps.WS,
		secCfg:  deps.Security,
		logger:  deps.Logger,
		ctrl:    deps.Controller,
		journal: deps.Journal,
		mqtt:    deps.MQTT,
		db:      deps.DB,
		hal:     deps.HAL,
		version: deps.Version,
	}

	// Use externally-provided hub if available (needed when another
	// component also broadcasts through the hub).
	if deps.ExternalHub != nil {
		s.hub = deps.ExternalHub
		s.externalHub = true
	}

	return s, nil
}

// Start begins listening for HTTP connections.
//
// It sets up the router, starts the WebSocket hub, registers a volume
// observer so committed changes reach WebSocket subscribers, and launches
// the HTTP listener in a background goroutine. The server can be stopped
// with Close().
//
// Parameters:
//   - ctx: Context for cancellation (not used for listener lifetime)
//
// Returns:
//   - error: If the server fails to start (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	// Create internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.startTime = time.Now()

	// Create WebSocket hub (unless one was injected externally)
	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
		go s.hub.Run(srvCtx)
	}

	// Relay committed volume changes to WebSocket subscribers.
	s.observerID = s.ctrl.RegisterObserver(volume.ObserverFunc(s.broadcastVolumeChange))

	// Build router
	router := s.buildRouter()

	// Create HTTP server
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	// Start listening in background
	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	// Stop feeding the hub before tearing it down.
	s.ctrl.UnregisterObserver(s.observerID)

	// Cancel background goroutines (hub)
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}

// broadcastVolumeChange pushes a committed volume change to WebSocket
// clients. Changes go out on the shared "volume.changed" channel and on a
// per-stream channel so clients can follow a single stream.
func (s *Server) broadcastVolumeChange(stream volume.Stream, vol int, flags volume.Flag) {
	if s.hub == nil {
		return
	}

	payload := map[string]any{
		"stream": stream.String(),
		"volume": vol,
		"flags":  int(flags),
	}
	s.hub.Broadcast("volume.changed", payload)
	s.hub.Broadcast("volume.changed."+stream.String(), payload)
}
