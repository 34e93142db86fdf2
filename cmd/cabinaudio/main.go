// Cabin Audio Core - Vehicle Cabin Volume Coordinator
//
// This is the main entry point for the cabin audio coordinator. The
// service owns cabin volume for vehicles whose audio module controls
// volume in hardware:
//   - Routes logical audio streams onto hardware output channels
//   - Serialises volume keys, API and bus commands through one queue
//   - Restores per-channel volume across ignition cycles
//   - Publishes committed state over MQTT and WebSocket
//
// On vehicles without hardware volume control the coordinator degrades
// to a pass-through against the platform audio service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/cabinworks/cabin-audio-core/migrations"

	"github.com/cabinworks/cabin-audio-core/internal/api"
	"github.com/cabinworks/cabin-audio-core/internal/history"
	"github.com/cabinworks/cabin-audio-core/internal/infrastructure/config"
	"github.com/cabinworks/cabin-audio-core/internal/infrastructure/database"
	"github.com/cabinworks/cabin-audio-core/internal/infrastructure/influxdb"
	"github.com/cabinworks/cabin-audio-core/internal/infrastructure/logging"
	"github.com/cabinworks/cabin-audio-core/internal/infrastructure/mqtt"
	"github.com/cabinworks/cabin-audio-core/internal/platform"
	"github.com/cabinworks/cabin-audio-core/internal/relay"
	"github.com/cabinworks/cabin-audio-core/internal/vehicle"
	"github.com/cabinworks/cabin-audio-core/internal/volume"
	"github.com/cabinworks/cabin-audio-core/internal/vpd"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// halLinkInterval is how often daemon link statistics are written to
// the metrics store.
const halLinkInterval = 30 * time.Second

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	// This is the Go pattern for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Run the application
	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Cabin Audio Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Set up MQTT logging callbacks
	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		// Set up InfluxDB error callback
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Start vpd daemon (if managed)
	var vpdManager *vpd.Manager
	if cfg.VPD.Managed {
		vpdManager, err = startVPD(ctx, cfg, log)
		if err != nil {
			return fmt.Errorf("starting vpd: %w", err)
		}
		defer func() {
			log.Info("stopping vpd")
			if stopErr := vpdManager.Stop(); stopErr != nil {
				log.Error("error stopping vpd", "error", stopErr)
			}
		}()
	}

	// Connect to the vehicle property daemon
	vehicleClient, err := vehicle.Connect(ctx, vehicle.Config{
		Connection:        cfg.Vehicle.Connection,
		ConnectTimeout:    time.Duration(cfg.Vehicle.ConnectTimeout) * time.Second,
		ReadTimeout:       time.Duration(cfg.Vehicle.ReadTimeout) * time.Second,
		RequestTimeout:    time.Duration(cfg.Vehicle.RequestTimeout) * time.Second,
		ReconnectInterval: time.Duration(cfg.Vehicle.ReconnectInterval) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("connecting to vpd: %w", err)
	}
	vehicleClient.SetLogger(log)
	defer func() {
		log.Info("closing vpd connection")
		if closeErr := vehicleClient.Close(); closeErr != nil {
			log.Error("error closing vpd connection", "error", closeErr)
		}
	}()
	log.Info("vpd connected", "url", cfg.Vehicle.Connection)

	// Attach to the vehicle audio module properties
	hal, err := vehicle.Attach(ctx, vehicleClient, log)
	if err != nil {
		return fmt.Errorf("attaching vehicle audio module: %w", err)
	}
	log.Info("vehicle audio module attached",
		"supports_volume", hal.SupportsVolume(),
		"persistent_memory", hal.HasPersistentMemory(),
	)

	// Build the stream routing policy from the configured channel layout
	policy := buildRoutingPolicy(cfg.Audio.Routing, log)

	// Platform audio service adapter - the volume surface used when the
	// audio module does not control volume in hardware
	platformSvc, err := platform.New(mqttClient, log)
	if err != nil {
		return fmt.Errorf("creating platform audio adapter: %w", err)
	}
	defer func() {
		if closeErr := platformSvc.Close(); closeErr != nil {
			log.Error("error closing platform audio adapter", "error", closeErr)
		}
	}()

	// Create and start the volume controller
	ctrl, err := volume.NewController(volume.Options{
		HAL:          hal,
		AudioService: platformSvc,
		Policy:       policy,
		QueueSize:    cfg.Audio.QueueSize,
		Logger:       log,
	})
	if err != nil {
		return fmt.Errorf("creating volume controller: %w", err)
	}
	if startErr := ctrl.Start(ctx); startErr != nil {
		return fmt.Errorf("starting volume controller: %w", startErr)
	}
	defer func() {
		log.Info("stopping volume controller")
		if stopErr := ctrl.Stop(); stopErr != nil {
			log.Error("error stopping volume controller", "error", stopErr)
		}
	}()
	log.Info("volume controller started",
		"hardware_volume", hal.SupportsVolume(),
		"physical_streams", policy.PhysicalStreamCount(),
	)

	// Route hardware volume keys into the controller
	hal.SetKeyHandler(func(ev volume.KeyEvent) {
		if influxClient != nil && ev.Action == volume.KeyActionDown {
			influxClient.WriteKeyEvent(int(ev.Code))
		}
		ctrl.HandleKeyEvent(ev)
	})

	// Start the MQTT command relay
	busRelay, err := relay.New(mqttClient, ctrl, log)
	if err != nil {
		return fmt.Errorf("creating bus relay: %w", err)
	}
	if startErr := busRelay.Start(); startErr != nil {
		return fmt.Errorf("starting bus relay: %w", startErr)
	}
	defer func() {
		log.Info("stopping bus relay")
		if stopErr := busRelay.Stop(); stopErr != nil {
			log.Error("error stopping bus relay", "error", stopErr)
		}
	}()
	log.Info("bus relay started")

	// Record committed volume changes to the history journal
	journal := history.NewSQLiteJournal(db.DB)
	recorder, err := history.NewRecorder(journal, policy, log)
	if err != nil {
		return fmt.Errorf("creating history recorder: %w", err)
	}
	recorderID := ctrl.RegisterObserver(recorder)
	defer func() {
		ctrl.UnregisterObserver(recorderID)
		recorder.Close()
	}()
	log.Info("volume history recorder attached")

	// Feed committed volume levels and daemon link state to InfluxDB
	if influxClient != nil {
		metricsID := ctrl.RegisterObserver(volume.ObserverFunc(func(stream volume.Stream, vol int, _ volume.Flag) {
			physical := policy.PhysicalForContext(volume.ContextForStream(stream))
			influxClient.WriteVolumeLevel(stream.String(), int(physical), vol)
		}))
		defer ctrl.UnregisterObserver(metricsID)

		go reportHALLink(ctx, influxClient, vehicleClient)
	}

	// Start the vehicle link health reporter (if enabled)
	if cfg.Vehicle.Health.Enabled {
		reporter := vehicle.NewHealthReporter(vehicle.HealthReporterConfig{
			Version:   version,
			Address:   cfg.Vehicle.Connection,
			Interval:  time.Duration(cfg.Vehicle.Health.Interval) * time.Second,
			Publisher: mqttClient,
			Client:    vehicleClient,
		})
		reporter.SetLogger(log)
		if pubErr := reporter.PublishStarting(); pubErr != nil {
			log.Warn("publishing starting status", "error", pubErr)
		}
		reporter.Start(ctx)
		defer reporter.Stop()
		log.Info("vehicle health reporter started", "topic", vehicle.HealthTopic())
	} else {
		log.Info("vehicle health reporting disabled")
	}

	// Start the REST/WebSocket API server
	apiServer, err := api.New(api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Security:   cfg.Security,
		Logger:     log,
		Controller: ctrl,
		Journal:    journal,
		MQTT:       mqttClient,
		DB:         db,
		HAL:        vehicleClient,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()
	log.Info("API server started", "addr", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port))

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls will run in reverse order:
	// API server, health reporter, observers, bus relay, controller,
	// platform adapter, vpd connection, vpd daemon, InfluxDB, MQTT,
	// database.

	log.Info("Cabin Audio Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses CABINAUDIO_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("CABINAUDIO_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	// Check database
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	// Check MQTT
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	// Check InfluxDB (if enabled)
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	// The vpd link is verified during Connect() - the client opens a
	// property session before returning successfully.

	return nil
}

// startVPD initialises and starts the managed vpd daemon.
//
// Parameters:
//   - ctx: Context for startup/cancellation
//   - cfg: Application configuration
//   - log: Logger instance
//
// Returns:
//   - *vpd.Manager: Running vpd manager
//   - error: If vpd fails to start
func startVPD(ctx context.Context, cfg *config.Config, log *logging.Logger) (*vpd.Manager, error) {
	// Convert config types
	vpdCfg := vpd.Config{
		Managed:             cfg.VPD.Managed,
		Binary:              cfg.VPD.Binary,
		Connection:          cfg.Vehicle.Connection,
		Args:                cfg.VPD.Args,
		RestartOnFailure:    cfg.VPD.RestartOnFailure,
		RestartDelay:        time.Duration(cfg.VPD.RestartDelaySeconds) * time.Second,
		MaxRestartAttempts:  cfg.VPD.MaxRestartAttempts,
		HealthCheckInterval: time.Duration(cfg.VPD.HealthCheckInterval) * time.Second,
	}

	manager, err := vpd.NewManager(vpdCfg)
	if err != nil {
		return nil, fmt.Errorf("creating vpd manager: %w", err)
	}
	manager.SetLogger(log)

	log.Info("starting vpd",
		"binary", vpdCfg.Binary,
		"connection", vpdCfg.Connection,
	)

	if err := manager.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting vpd: %w", err)
	}

	log.Info("vpd started",
		"connection_url", manager.ConnectionURL(),
		"managed", manager.IsManaged(),
	)

	return manager, nil
}

// buildRoutingPolicy converts the configured channel layout into a
// routing policy. Each entry lists the stream names carried by one
// physical channel; unknown names are skipped with a warning. An empty
// table yields the single-channel default policy.
func buildRoutingPolicy(routing [][]string, log *logging.Logger) *volume.RoutingPolicy {
	masks := make([]volume.ContextMask, 0, len(routing))
	for i, names := range routing {
		var mask volume.ContextMask
		for _, name := range names {
			stream, err := volume.ParseStream(name)
			if err != nil {
				log.Warn("unknown stream in routing table", "channel", i, "stream", name)
				continue
			}
			mask |= volume.ContextMask(volume.ContextForStream(stream))
		}
		masks = append(masks, mask)
	}
	return volume.NewRoutingPolicy(masks)
}

// reportHALLink periodically records vpd link statistics for dashboards.
func reportHALLink(ctx context.Context, influxClient *influxdb.Client, client *vehicle.Client) {
	ticker := time.NewTicker(halLinkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := client.Stats()
			influxClient.WriteHALLink(stats.Connected, stats.ReconnectsTotal)
		}
	}
}
