// Package config manages gobcast run configuration using koanf/v2.
//
// Supports YAML files, environment variables, and PTF-style test parameters.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/dantte-lp/gobcast/internal/portmap"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete gobcast configuration.
type Config struct {
	// RouterMAC is the DUT router MAC; probes are addressed to it.
	RouterMAC string `koanf:"router_mac"`

	// PortMap is the path of the PTF test port map JSON file.
	PortMap string `koanf:"ptf_test_port_map"`

	// Seed seeds source port selection. Zero picks a random seed.
	Seed uint64 `koanf:"seed"`

	Dataplane DataplaneConfig `koanf:"dataplane"`
	Log       LogConfig       `koanf:"log"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Report    ReportConfig    `koanf:"report"`
}

// DataplaneConfig selects and tunes the packet I/O backend.
type DataplaneConfig struct {
	// Mode is "raw" (AF_PACKET on the PTF host) or "sim" (in-process switch).
	Mode string `koanf:"mode"`

	// InterfaceMap is an optional "<index>@<ifname>" file.
	InterfaceMap string `koanf:"interface_map"`

	// InterfacePrefix names ports missing from InterfaceMap.
	InterfacePrefix string `koanf:"interface_prefix"`

	// Timeout bounds each receive-and-count round.
	Timeout time.Duration `koanf:"timeout"`

	// QueueSize is the capacity of the shared receive queue.
	QueueSize int `koanf:"queue_size"`

	// IPv4Only attaches a kernel filter that admits only IPv4 frames.
	IPv4Only bool `koanf:"ipv4_only"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// MetricsConfig holds the Prometheus output configuration.
type MetricsConfig struct {
	// Addr is an optional HTTP listen address served while the run lasts.
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint.
	Path string `koanf:"path"`
	// Textfile is an optional node-exporter textfile written after the run.
	Textfile string `koanf:"textfile"`
}

// ReportConfig controls the per-check result report.
type ReportConfig struct {
	// Path is the report file; empty disables the report.
	Path string `koanf:"path"`
	// Format is "json" or "yaml".
	Format string `koanf:"format"`
}

// ParsedRouterMAC parses RouterMAC.
func (c *Config) ParsedRouterMAC() (net.HardwareAddr, error) {
	if c.RouterMAC == "" {
		return nil, ErrEmptyRouterMAC
	}
	mac, err := net.ParseMAC(c.RouterMAC)
	if err != nil {
		return nil, fmt.Errorf("parse router_mac %q: %w", c.RouterMAC, err)
	}
	if len(mac) != 6 {
		return nil, fmt.Errorf("router_mac %q: %w", c.RouterMAC, ErrInvalidRouterMAC)
	}
	return mac, nil
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// Dataplane modes.
const (
	ModeRaw = "raw"
	ModeSim = "sim"
)

// DefaultTimeout matches the PTF default poll timeout.
const DefaultTimeout = 2 * time.Second

// DefaultConfig returns a Config populated with defaults. RouterMAC has no
// default and must come from the file, the environment or test parameters.
func DefaultConfig() *Config {
	return &Config{
		PortMap: portmap.DefaultPath,
		Dataplane: DataplaneConfig{
			Mode:            ModeRaw,
			InterfacePrefix: portmap.DefaultInterfacePrefix,
			Timeout:         DefaultTimeout,
			QueueSize:       1024,
			IPv4Only:        true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Path: "/metrics",
		},
		Report: ReportConfig{
			Format: "json",
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for gobcast configuration.
const envPrefix = "GOBCAST_"

// Load merges, lowest to highest precedence: DefaultConfig(), the YAML file
// at path (skipped when path is empty), GOBCAST_ environment variables and
// params. params uses koanf keys ("router_mac", "dataplane.timeout").
//
// Environment variable mapping (double underscore separates sections):
//
//	GOBCAST_ROUTER_MAC          -> router_mac
//	GOBCAST_PTF_TEST_PORT_MAP   -> ptf_test_port_map
//	GOBCAST_DATAPLANE__MODE     -> dataplane.mode
//	GOBCAST_DATAPLANE__TIMEOUT  -> dataplane.timeout
//	GOBCAST_LOG__LEVEL          -> log.level
func Load(path string, params map[string]string) (*Config, error) {
	cfg, err := Resolve(path, params)
	if err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Resolve merges the same layers as Load without validating the result.
// Commands that only read the port map use it so router_mac stays
// optional for them.
func Resolve(path string, params map[string]string) (*Config, error) {
	k := koanf.New(".")

	if err := loadDefaults(k, DefaultConfig()); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	for key, val := range params {
		if err := k.Set(key, val); err != nil {
			return nil, fmt.Errorf("set parameter %s: %w", key, err)
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, nil
}

// envKeyMapper transforms GOBCAST_DATAPLANE__TIMEOUT -> dataplane.timeout.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "__", ".")
}

// loadDefaults sets the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"router_mac":                 defaults.RouterMAC,
		"ptf_test_port_map":          defaults.PortMap,
		"seed":                       defaults.Seed,
		"dataplane.mode":             defaults.Dataplane.Mode,
		"dataplane.interface_map":    defaults.Dataplane.InterfaceMap,
		"dataplane.interface_prefix": defaults.Dataplane.InterfacePrefix,
		"dataplane.timeout":          defaults.Dataplane.Timeout.String(),
		"dataplane.queue_size":       defaults.Dataplane.QueueSize,
		"dataplane.ipv4_only":        defaults.Dataplane.IPv4Only,
		"log.level":                  defaults.Log.Level,
		"log.format":                 defaults.Log.Format,
		"metrics.addr":               defaults.Metrics.Addr,
		"metrics.path":               defaults.Metrics.Path,
		"metrics.textfile":           defaults.Metrics.Textfile,
		"report.path":                defaults.Report.Path,
		"report.format":              defaults.Report.Format,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyRouterMAC indicates router_mac was not provided.
	ErrEmptyRouterMAC = errors.New("router_mac must not be empty")

	// ErrInvalidRouterMAC indicates router_mac is not a 48-bit MAC.
	ErrInvalidRouterMAC = errors.New("router_mac must be a 48-bit MAC address")

	// ErrEmptyPortMap indicates ptf_test_port_map is empty.
	ErrEmptyPortMap = errors.New("ptf_test_port_map must not be empty")

	// ErrInvalidMode indicates an unknown dataplane.mode.
	ErrInvalidMode = errors.New("dataplane.mode must be raw or sim")

	// ErrInvalidTimeout indicates a non-positive dataplane.timeout.
	ErrInvalidTimeout = errors.New("dataplane.timeout must be > 0")

	// ErrInvalidQueueSize indicates a non-positive dataplane.queue_size.
	ErrInvalidQueueSize = errors.New("dataplane.queue_size must be > 0")

	// ErrInvalidLogFormat indicates an unknown log.format.
	ErrInvalidLogFormat = errors.New("log.format must be json or text")

	// ErrInvalidReportFormat indicates an unknown report.format.
	ErrInvalidReportFormat = errors.New("report.format must be json or yaml")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if _, err := cfg.ParsedRouterMAC(); err != nil {
		return err
	}

	if cfg.PortMap == "" {
		return ErrEmptyPortMap
	}

	if cfg.Dataplane.Mode != ModeRaw && cfg.Dataplane.Mode != ModeSim {
		return fmt.Errorf("%w: %q", ErrInvalidMode, cfg.Dataplane.Mode)
	}

	if cfg.Dataplane.Timeout <= 0 {
		return ErrInvalidTimeout
	}

	if cfg.Dataplane.QueueSize <= 0 {
		return ErrInvalidQueueSize
	}

	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("%w: %q", ErrInvalidLogFormat, cfg.Log.Format)
	}

	if cfg.Report.Format != "json" && cfg.Report.Format != "yaml" {
		return fmt.Errorf("%w: %q", ErrInvalidReportFormat, cfg.Report.Format)
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
