package vpd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cabinworks/cabin-audio-core/internal/process"
)

// Timeouts and intervals for vpd management.
const (
	// readyTimeout is how long to wait for vpd to accept connections after starting.
	readyTimeout = 30 * time.Second

	// readyPollInterval is how often to try connecting during readiness check.
	readyPollInterval = 100 * time.Millisecond

	// dialTimeout is the timeout for individual connection attempts during
	// readiness checks.
	dialTimeout = 500 * time.Millisecond

	// probeTimeout is the timeout for watchdog endpoint probes. More generous
	// than dialTimeout because a loaded vpd may be slow to accept while still
	// healthy.
	probeTimeout = 2 * time.Second
)

// Logger defines the logging interface for the vpd manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is used when no logger is set.
type noopLogger struct{}

func (noopLogger) Debug(msg string, args ...any) {}
func (noopLogger) Info(msg string, args ...any)  {}
func (noopLogger) Warn(msg string, args ...any)  {}
func (noopLogger) Error(msg string, args ...any) {}

// Manager manages the vpd daemon process.
type Manager struct {
	config  Config
	process *process.Manager
	logger  Logger

	// dStateCount tracks consecutive health checks where vpd is in D
	// (uninterruptible sleep) state. Reset to 0 when vpd returns to a
	// healthy state. Uses atomic.Int32 for thread-safe access from the
	// health check goroutine.
	dStateCount atomic.Int32
}

// NewManager creates a new vpd manager.
func NewManager(cfg Config) (*Manager, error) {
	// Apply defaults for zero values
	if cfg.Binary == "" {
		cfg.Binary = "/usr/bin/vpd"
	}
	if cfg.Connection == "" {
		cfg.Connection = "unix:///run/vpd"
	}
	if cfg.RestartDelay == 0 {
		cfg.RestartDelay = 5 * time.Second
	}
	if cfg.MaxRestartAttempts == 0 {
		cfg.MaxRestartAttempts = 10
	}
	if cfg.GracefulTimeout == 0 {
		cfg.GracefulTimeout = 10 * time.Second
	}
	if cfg.HealthCheckInterval == 0 {
		cfg.HealthCheckInterval = 30 * time.Second
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid vpd config: %w", err)
	}

	m := &Manager{
		config: cfg,
		logger: noopLogger{},
	}

	return m, nil
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// Start launches the vpd daemon.
// It will block until vpd is ready to accept connections.
func (m *Manager) Start(ctx context.Context) error {
	if !m.config.Managed {
		m.logger.Info("vpd management disabled, expecting external vpd")
		return nil
	}

	args := m.config.BuildArgs()

	m.logger.Info("starting vpd",
		"binary", m.config.Binary,
		"args", args,
	)

	// Create the process manager
	procConfig := process.Config{
		Name:               "vpd",
		Binary:             m.config.Binary,
		Args:               args,
		RestartOnFailure:   m.config.RestartOnFailure,
		RestartDelay:       m.config.RestartDelay,
		MaxRestartAttempts: m.config.MaxRestartAttempts,
		GracefulTimeout:    m.config.GracefulTimeout,
		OnStart: func() {
			m.logger.Info("vpd process started", "pid", m.process.PID())
		},
		OnStop: func(err error) {
			if err != nil {
				m.logger.Warn("vpd process stopped", "error", err)
			} else {
				m.logger.Info("vpd process stopped")
			}
		},
		OnRestart: func(attempt int) {
			m.logger.Info("vpd restarting", "attempt", attempt)
		},
		// Watchdog: periodic health check to detect hung vpd
		HealthCheckInterval: m.config.HealthCheckInterval,
		HealthCheckFunc: func(ctx context.Context) error {
			return m.HealthCheck(ctx)
		},
	}

	m.process = process.NewManager(procConfig)
	m.process.SetLogger(m.logger)

	// Start the process
	if err := m.process.Start(ctx); err != nil {
		return fmt.Errorf("starting vpd: %w", err)
	}

	// Wait for vpd to accept connections on its endpoint
	if err := m.waitForReady(ctx); err != nil {
		// Stop the process if it didn't become ready
		if stopErr := m.process.Stop(); stopErr != nil {
			m.logger.Warn("error stopping vpd after failed readiness check", "error", stopErr)
		}
		return fmt.Errorf("vpd failed to become ready: %w", err)
	}

	m.logger.Info("vpd ready", "connection_url", m.config.ConnectionURL())

	return nil
}

// waitForReady waits for vpd to be ready to accept connections.
func (m *Manager) waitForReady(ctx context.Context) error {
	network, address, err := parseConnectionURL(m.config.Connection)
	if err != nil {
		return fmt.Errorf("invalid connection: %w", err)
	}

	deadline := time.Now().Add(readyTimeout)

	m.logger.Debug("waiting for vpd to be ready", "network", network, "address", address)

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled while waiting for vpd: %w", ctx.Err())
		default:
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("timeout waiting for vpd on %s after %v", address, readyTimeout)
		}

		// Check if process is still running
		if !m.process.IsRunning() {
			lastErr := m.process.LastError()
			if lastErr != nil {
				return fmt.Errorf("vpd process exited: %w", lastErr)
			}
			return errors.New("vpd process exited unexpectedly")
		}

		// Try to connect
		conn, err := net.DialTimeout(network, address, dialTimeout)
		if err == nil {
			conn.Close()
			return nil
		}

		time.Sleep(readyPollInterval)
	}
}

// Stop gracefully stops the vpd daemon.
func (m *Manager) Stop() error {
	if !m.config.Managed || m.process == nil {
		return nil
	}

	m.logger.Info("stopping vpd")

	return m.process.Stop()
}

// IsRunning returns true if vpd is currently running.
func (m *Manager) IsRunning() bool {
	if !m.config.Managed {
		// If not managed, assume external vpd is running.
		// The vehicle client reports actual connectivity.
		return true
	}
	if m.process == nil {
		return false
	}
	return m.process.IsRunning()
}

// IsManaged returns true if this manager is controlling vpd.
func (m *Manager) IsManaged() bool {
	return m.config.Managed
}

// ConnectionURL returns the URL for connecting to vpd.
func (m *Manager) ConnectionURL() string {
	return m.config.ConnectionURL()
}

// Stats returns current statistics for vpd.
func (m *Manager) Stats() Stats {
	stats := Stats{
		Managed:       m.config.Managed,
		ConnectionURL: m.config.ConnectionURL(),
	}

	if m.process != nil {
		procStats := m.process.Stats()
		stats.Status = string(procStats.Status)
		stats.PID = procStats.PID
		stats.Uptime = procStats.Uptime
		stats.RestartCount = procStats.RestartCount
		stats.LastError = procStats.LastError
	} else if !m.config.Managed {
		stats.Status = "external"
	} else {
		stats.Status = "stopped"
	}

	return stats
}

// Stats holds statistics about the vpd daemon.
type Stats struct {
	Managed       bool          `json:"managed"`
	Status        string        `json:"status"`
	ConnectionURL string        `json:"connection_url"`
	PID           int           `json:"pid,omitempty"`
	Uptime        time.Duration `json:"uptime,omitempty"`
	RestartCount  int           `json:"restart_count"`
	LastError     string        `json:"last_error,omitempty"`
}

// HealthCheck verifies vpd is healthy.
//
// Layers:
//   - Process state via /proc (catches SIGSTOP, zombie, stuck I/O)
//   - Endpoint probe: the control socket must accept a connection
//
// The probe layer catches a vpd that is alive but wedged, such as an
// event loop blocked on a hardware call that will never return.
func (m *Manager) HealthCheck(ctx context.Context) error {
	// Layer 1: Verify process state via /proc (fast, catches SIGSTOP/zombie)
	if m.process != nil {
		pid := m.process.PID()
		if pid > 0 {
			if err := m.checkProcessState(pid); err != nil {
				return err
			}
		}
	}

	// Layer 2: The endpoint must accept connections
	return m.probeEndpoint(ctx)
}

// probeEndpoint dials the vpd endpoint to confirm it accepts connections.
func (m *Manager) probeEndpoint(ctx context.Context) error {
	network, address, err := parseConnectionURL(m.config.Connection)
	if err != nil {
		return fmt.Errorf("invalid connection: %w", err)
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(probeCtx, network, address)
	if err != nil {
		return fmt.Errorf("vpd endpoint probe failed on %s: %w", address, err)
	}
	conn.Close()

	return nil
}

// checkProcessState reads /proc/PID/stat to verify the process is in a healthy state.
// Returns an error if the process is stopped (T), traced (t), zombie (Z), or dead (X/x).
func (m *Manager) checkProcessState(pid int) error {
	// Read /proc/PID/stat which contains process state as the 3rd field
	// Format: pid (comm) state ...
	statPath := fmt.Sprintf("/proc/%d/stat", pid)
	data, err := os.ReadFile(statPath)
	if err != nil {
		// Process might have just exited
		return fmt.Errorf("cannot read process state: %w", err)
	}

	// Parse the stat file. The state is the 3rd field, after "(comm)"
	// We need to find the closing ) of the comm field first
	statStr := string(data)
	closeParenIdx := strings.LastIndex(statStr, ")")
	if closeParenIdx == -1 || closeParenIdx+2 >= len(statStr) {
		return fmt.Errorf("invalid /proc/stat format")
	}

	// Fields after ) are space-separated, state is the first one
	fields := strings.Fields(statStr[closeParenIdx+2:])
	if len(fields) < 1 {
		return fmt.Errorf("invalid /proc/stat format: no state field")
	}

	state := fields[0]

	// Process states (from proc(5) man page):
	// R = running, S = sleeping, D = disk sleep (uninterruptible)
	// T = stopped (SIGSTOP), t = tracing stop
	// Z = zombie, X/x = dead
	switch state {
	case "T", "t":
		return fmt.Errorf("vpd process is stopped (state=%s)", state)
	case "Z":
		return fmt.Errorf("vpd process is zombie (state=%s)", state)
	case "X", "x":
		return fmt.Errorf("vpd process is dead (state=%s)", state)
	case "D":
		// D (uninterruptible sleep) is usually temporary (disk or device I/O).
		// However, if vpd is stuck in D-state for multiple health checks,
		// the audio hardware interface is likely hung and needs recovery.
		count := m.dStateCount.Add(1)
		if count >= 3 {
			return fmt.Errorf("vpd process stuck in uninterruptible sleep (state=D, count=%d)", count)
		}
		m.logger.Debug("vpd process in uninterruptible sleep (state=D)", "count", count)
		return nil
	default:
		// R, S, I are all healthy states - reset D-state counter
		m.dStateCount.Store(0)
		return nil
	}
}
