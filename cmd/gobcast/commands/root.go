package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/gobcast/internal/config"
)

var (
	// configPath is an optional YAML configuration file.
	configPath string

	// testParams is a PTF-style "key=value;key=value" parameter string.
	testParams string

	// routerMAC and portMapPath override the matching test parameters.
	routerMAC   string
	portMapPath string

	// simulate runs against the in-process switch simulator.
	simulate bool

	// logLevel overrides log.level when set.
	logLevel string

	// outputFormat controls the plan output format (table, json or yaml).
	outputFormat string
)

// rootCmd is the top-level cobra command for gobcast.
var rootCmd = &cobra.Command{
	Use:   "gobcast",
	Short: "Directed broadcast forwarding checker",
	Long: "gobcast injects IPv4 and BOOTP probes addressed to each VLAN's directed broadcast " +
		"address and verifies the switch floods them to every member port.",
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "path to a YAML configuration file")
	pf.StringVarP(&testParams, "test-params", "t", "",
		"PTF-style parameters, e.g. \"router_mac='00:01:02:03:04:05';ptf_test_port_map='/root/ptf_test_port_map.json'\"")
	pf.StringVar(&routerMAC, "router-mac", "", "router MAC of the device under test")
	pf.StringVar(&portMapPath, "port-map", "", "path of the ptf_test_port_map JSON file")
	pf.BoolVar(&simulate, "simulate", false, "use the in-process switch simulator instead of raw sockets")
	pf.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&outputFormat, "format", formatTable, "plan output format: table, json, yaml")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(shellCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// collectParams merges --test-params with the dedicated flags, which win.
// Keys are koanf keys understood by config.Load.
func collectParams() (map[string]string, error) {
	params, err := config.ParseTestParams(testParams)
	if err != nil {
		return nil, err
	}

	if routerMAC != "" {
		params["router_mac"] = routerMAC
	}
	if portMapPath != "" {
		params["ptf_test_port_map"] = portMapPath
	}
	if simulate {
		params["dataplane.mode"] = config.ModeSim
	}
	if logLevel != "" {
		params["log.level"] = logLevel
	}

	return params, nil
}
