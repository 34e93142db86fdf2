package vpd

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// Config holds the configuration for the vpd daemon.
type Config struct {
	// Managed indicates whether the coordinator should manage the vpd
	// lifecycle. If false, vpd is expected to be running externally.
	Managed bool `yaml:"managed"`

	// Binary is the path to the vpd executable.
	// Default: "/usr/bin/vpd"
	Binary string `yaml:"binary"`

	// Connection is the endpoint vpd serves and clients dial.
	// Format: "unix:///run/vpd" or "tcp://host:port"
	// Default: "unix:///run/vpd"
	Connection string `yaml:"connection"`

	// Args are extra command-line arguments appended to the generated
	// invocation, after the endpoint flags.
	Args []string `yaml:"args"`

	// RestartOnFailure enables automatic restart if vpd crashes.
	// Default: true
	RestartOnFailure bool `yaml:"restart_on_failure"`

	// RestartDelay is the time to wait before restarting.
	// Default: 5s
	RestartDelay time.Duration `yaml:"restart_delay"`

	// MaxRestartAttempts limits restart attempts. 0 means unlimited.
	// Default: 10
	MaxRestartAttempts int `yaml:"max_restart_attempts"`

	// GracefulTimeout is how long to wait for graceful shutdown.
	// Default: 10s
	GracefulTimeout time.Duration `yaml:"graceful_timeout"`

	// HealthCheckInterval is how often to run watchdog health checks.
	// If vpd hangs (stops accepting connections), it will be killed and
	// restarted after 3 consecutive health check failures.
	// Default: 30s
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
}

// DefaultConfig returns a Config with sensible defaults for a bench rig.
func DefaultConfig() Config {
	return Config{
		Managed:            true,
		Binary:             "/usr/bin/vpd",
		Connection:         "unix:///run/vpd",
		RestartOnFailure:   true,
		RestartDelay:       5 * time.Second,
		MaxRestartAttempts: 10,
		GracefulTimeout:    10 * time.Second,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Binary == "" {
		return fmt.Errorf("vpd binary path is required")
	}
	if err := validateSafePathComponent(c.Binary, "binary path"); err != nil {
		return err
	}

	network, address, err := parseConnectionURL(c.Connection)
	if err != nil {
		return fmt.Errorf("invalid connection: %w", err)
	}

	switch network {
	case "unix":
		if err := validateSafePathComponent(address, "connection socket path"); err != nil {
			return err
		}
	case "tcp":
		host, port, err := net.SplitHostPort(address)
		if err != nil {
			return fmt.Errorf("invalid connection: %w", err)
		}
		if host == "" || port == "" {
			return fmt.Errorf("invalid connection: tcp endpoint needs host:port")
		}
		if err := validateSafePathComponent(address, "connection address"); err != nil {
			return err
		}
	}

	return nil
}

// BuildArgs constructs the command-line arguments for vpd.
// The endpoint flags come first so extra args can override daemon tuning
// without touching where it listens.
func (c *Config) BuildArgs() []string {
	var args []string

	network, address, err := parseConnectionURL(c.Connection)
	if err == nil {
		switch network {
		case "unix":
			args = append(args, "--socket", address)
		case "tcp":
			args = append(args, "--listen", address)
		}
	}

	args = append(args, c.Args...)

	return args
}

// ConnectionURL returns the URL clients use to reach vpd.
func (c *Config) ConnectionURL() string {
	if c.Connection != "" {
		return c.Connection
	}
	return "unix:///run/vpd"
}

// parseConnectionURL parses a vpd connection URL into network and address.
// Mirrors the client-side parsing in internal/vehicle so both ends agree
// on what a given URL means.
func parseConnectionURL(connURL string) (network, address string, err error) {
	u, err := url.Parse(connURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "unix":
		if u.Path == "" {
			return "", "", fmt.Errorf("unix URL %q has no socket path", connURL)
		}
		return "unix", u.Path, nil
	case "tcp":
		host := u.Host
		if host == "" {
			host = "localhost:9270"
		}
		return "tcp", host, nil
	default:
		return "", "", fmt.Errorf("unsupported scheme %q (use unix or tcp)", u.Scheme)
	}
}

// safePathPattern allows alphanumeric, dot, hyphen, underscore, forward slash,
// and colon. This prevents shell metacharacters that could enable command
// injection.
var safePathPattern = regexp.MustCompile(`^[a-zA-Z0-9._\-/:]+$`)

// validateSafePathComponent ensures a string doesn't contain shell metacharacters.
// This prevents command injection when the value is passed to subprocess arguments.
func validateSafePathComponent(value, fieldName string) error {
	if !safePathPattern.MatchString(value) {
		return fmt.Errorf("%s contains invalid characters (allowed: alphanumeric, dot, hyphen, underscore, slash, colon)", fieldName)
	}
	// Additionally reject common shell metacharacters explicitly
	for _, c := range []string{";", "|", "&", "$", "`", "(", ")", "{", "}", "<", ">", "!", "\\", "'", "\""} {
		if strings.Contains(value, c) {
			return fmt.Errorf("%s contains forbidden character %q", fieldName, c)
		}
	}
	return nil
}
