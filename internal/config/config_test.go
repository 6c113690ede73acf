package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dantte-lp/gobcast/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.PortMap != "/root/ptf_test_port_map.json" {
		t.Errorf("PortMap = %q, want %q", cfg.PortMap, "/root/ptf_test_port_map.json")
	}

	if cfg.Dataplane.Mode != config.ModeRaw {
		t.Errorf("Dataplane.Mode = %q, want %q", cfg.Dataplane.Mode, config.ModeRaw)
	}

	if cfg.Dataplane.Timeout != 2*time.Second {
		t.Errorf("Dataplane.Timeout = %v, want %v", cfg.Dataplane.Timeout, 2*time.Second)
	}

	if cfg.Dataplane.InterfacePrefix != "eth" {
		t.Errorf("Dataplane.InterfacePrefix = %q, want %q", cfg.Dataplane.InterfacePrefix, "eth")
	}

	if !cfg.Dataplane.IPv4Only {
		t.Error("Dataplane.IPv4Only = false, want true")
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "json")
	}

	// Defaults alone lack a router MAC.
	if err := config.Validate(cfg); !errors.Is(err, config.ErrEmptyRouterMAC) {
		t.Errorf("Validate(DefaultConfig()) = %v, want ErrEmptyRouterMAC", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	yamlContent := `
router_mac: "00:01:02:03:04:05"
ptf_test_port_map: "/tmp/map.json"
seed: 7
dataplane:
  mode: "sim"
  interface_map: "/root/default_interface_to_front_map.ini"
  timeout: "500ms"
  queue_size: 64
  ipv4_only: false
log:
  level: "debug"
  format: "text"
metrics:
  textfile: "/var/lib/node_exporter/gobcast.prom"
report:
  path: "/tmp/report.yaml"
  format: "yaml"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path, nil)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.RouterMAC != "00:01:02:03:04:05" {
		t.Errorf("RouterMAC = %q, want %q", cfg.RouterMAC, "00:01:02:03:04:05")
	}

	if cfg.PortMap != "/tmp/map.json" {
		t.Errorf("PortMap = %q, want %q", cfg.PortMap, "/tmp/map.json")
	}

	if cfg.Seed != 7 {
		t.Errorf("Seed = %d, want 7", cfg.Seed)
	}

	if cfg.Dataplane.Mode != config.ModeSim {
		t.Errorf("Dataplane.Mode = %q, want %q", cfg.Dataplane.Mode, config.ModeSim)
	}

	if cfg.Dataplane.Timeout != 500*time.Millisecond {
		t.Errorf("Dataplane.Timeout = %v, want %v", cfg.Dataplane.Timeout, 500*time.Millisecond)
	}

	if cfg.Dataplane.QueueSize != 64 {
		t.Errorf("Dataplane.QueueSize = %d, want 64", cfg.Dataplane.QueueSize)
	}

	if cfg.Dataplane.IPv4Only {
		t.Error("Dataplane.IPv4Only = true, want false")
	}

	// Not set in the file: default survives.
	if cfg.Dataplane.InterfacePrefix != "eth" {
		t.Errorf("Dataplane.InterfacePrefix = %q, want default %q", cfg.Dataplane.InterfacePrefix, "eth")
	}

	if cfg.Log.Level != "debug" || cfg.Log.Format != "text" {
		t.Errorf("Log = %+v, want debug/text", cfg.Log)
	}

	if cfg.Report.Format != "yaml" {
		t.Errorf("Report.Format = %q, want yaml", cfg.Report.Format)
	}
}

func TestLoadParamsOverrideFile(t *testing.T) {
	t.Parallel()

	path := writeTemp(t, `
router_mac: "00:01:02:03:04:05"
dataplane:
  timeout: "1s"
`)

	cfg, err := config.Load(path, map[string]string{
		"router_mac":        "52:54:00:aa:bb:cc",
		"ptf_test_port_map": "/root/other.json",
		"dataplane.timeout": "250ms",
		"testbed_type":      "t0",
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.RouterMAC != "52:54:00:aa:bb:cc" {
		t.Errorf("RouterMAC = %q, want param value", cfg.RouterMAC)
	}
	if cfg.PortMap != "/root/other.json" {
		t.Errorf("PortMap = %q, want param value", cfg.PortMap)
	}
	if cfg.Dataplane.Timeout != 250*time.Millisecond {
		t.Errorf("Dataplane.Timeout = %v, want 250ms", cfg.Dataplane.Timeout)
	}
}

func TestLoadWithoutFile(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load("", map[string]string{"router_mac": "00:01:02:03:04:05"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PortMap != "/root/ptf_test_port_map.json" {
		t.Errorf("PortMap = %q, want default", cfg.PortMap)
	}
}

func TestResolveSkipsValidation(t *testing.T) {
	t.Parallel()

	params := map[string]string{"ptf_test_port_map": "/tmp/map.json"}

	cfg, err := config.Resolve("", params)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.PortMap != "/tmp/map.json" || cfg.RouterMAC != "" {
		t.Errorf("Resolve() = %+v, want port map set and no router MAC", cfg)
	}

	if _, err := config.Load("", params); !errors.Is(err, config.ErrEmptyRouterMAC) {
		t.Errorf("Load() error = %v, want ErrEmptyRouterMAC", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("GOBCAST_ROUTER_MAC", "00:aa:bb:cc:dd:ee")
	t.Setenv("GOBCAST_DATAPLANE__MODE", "sim")
	t.Setenv("GOBCAST_LOG__LEVEL", "warn")

	cfg, err := config.Load("", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.RouterMAC != "00:aa:bb:cc:dd:ee" {
		t.Errorf("RouterMAC = %q, want env value", cfg.RouterMAC)
	}
	if cfg.Dataplane.Mode != config.ModeSim {
		t.Errorf("Dataplane.Mode = %q, want env value sim", cfg.Dataplane.Mode)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want env value warn", cfg.Log.Level)
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
	}{
		{
			name:    "empty router mac",
			modify:  func(cfg *config.Config) { cfg.RouterMAC = "" },
			wantErr: config.ErrEmptyRouterMAC,
		},
		{
			name:    "eui64 router mac",
			modify:  func(cfg *config.Config) { cfg.RouterMAC = "00:01:02:03:04:05:06:07" },
			wantErr: config.ErrInvalidRouterMAC,
		},
		{
			name:    "empty port map",
			modify:  func(cfg *config.Config) { cfg.PortMap = "" },
			wantErr: config.ErrEmptyPortMap,
		},
		{
			name:    "unknown mode",
			modify:  func(cfg *config.Config) { cfg.Dataplane.Mode = "pcap" },
			wantErr: config.ErrInvalidMode,
		},
		{
			name:    "zero timeout",
			modify:  func(cfg *config.Config) { cfg.Dataplane.Timeout = 0 },
			wantErr: config.ErrInvalidTimeout,
		},
		{
			name:    "zero queue",
			modify:  func(cfg *config.Config) { cfg.Dataplane.QueueSize = 0 },
			wantErr: config.ErrInvalidQueueSize,
		},
		{
			name:    "bad log format",
			modify:  func(cfg *config.Config) { cfg.Log.Format = "xml" },
			wantErr: config.ErrInvalidLogFormat,
		},
		{
			name:    "bad report format",
			modify:  func(cfg *config.Config) { cfg.Report.Format = "csv" },
			wantErr: config.ErrInvalidReportFormat,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			cfg.RouterMAC = "00:01:02:03:04:05"
			tt.modify(cfg)

			err := config.Validate(cfg)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParsedRouterMACInvalid(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.RouterMAC = "zz:01:02:03:04:05"

	if _, err := cfg.ParsedRouterMAC(); err == nil {
		t.Fatal("ParsedRouterMAC() returned nil error for malformed MAC")
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  slog.Level
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "DEBUG", want: slog.LevelDebug},
		{input: "info", want: slog.LevelInfo},
		{input: "warn", want: slog.LevelWarn},
		{input: "Error", want: slog.LevelError},
		{input: "unknown", want: slog.LevelInfo},
		{input: "", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got := config.ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load("/nonexistent/path/config.yml", nil)
	if err == nil {
		t.Fatal("Load() returned nil error for nonexistent file")
	}
}

// writeTemp creates a temporary YAML file and returns its path.
// The file is automatically cleaned up when the test finishes.
func writeTemp(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "gobcast.yml")

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	return path
}
