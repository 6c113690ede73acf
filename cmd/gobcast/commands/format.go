// Package commands implements the gobcast CLI commands.
package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/dantte-lp/gobcast/internal/dirbcast"
)

const (
	formatJSON  = "json"
	formatTable = "table"
	formatYAML  = "yaml"
	valueNone   = "-"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// formatPlan renders broadcast targets in the requested format.
func formatPlan(targets []dirbcast.Target, format string) (string, error) {
	switch format {
	case formatTable:
		return formatPlanTable(targets)
	case formatJSON:
		return marshalJSON(targets)
	case formatYAML:
		return marshalYAML(targets)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// --- Table formatters ---

func formatPlanTable(targets []dirbcast.Target) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VLAN\tBROADCAST\tDST-PORTS\tSRC-CANDIDATES")

	for _, t := range targets {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			t.VLAN,
			t.BroadcastIP,
			joinPorts(t.Ports),
			joinPorts(t.SrcCandidates),
		)
	}

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}

	return buf.String(), nil
}

func joinPorts(ports []int) string {
	if len(ports) == 0 {
		return valueNone
	}

	parts := make([]string, len(ports))
	for i, p := range ports {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ",")
}

// --- Structured formatters ---

func marshalJSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json: %w", err)
	}
	return string(data) + "\n", nil
}

func marshalYAML(v any) (string, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal yaml: %w", err)
	}
	return string(data), nil
}
