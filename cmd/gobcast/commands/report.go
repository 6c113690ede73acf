package commands

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dantte-lp/gobcast/internal/config"
	"github.com/dantte-lp/gobcast/internal/dirbcast"
	"github.com/dantte-lp/gobcast/internal/harness"
	bcastmetrics "github.com/dantte-lp/gobcast/internal/metrics"
	"github.com/dantte-lp/gobcast/internal/portmap"
)

// stdoutPath selects the command output instead of a file.
const stdoutPath = "-"

// Report is the machine-readable result of one run.
type Report struct {
	Case     string                 `json:"case" yaml:"case"`
	Passed   bool                   `json:"passed" yaml:"passed"`
	Phase    string                 `json:"failed_phase,omitempty" yaml:"failed_phase,omitempty"`
	Error    string                 `json:"error,omitempty" yaml:"error,omitempty"`
	Duration string                 `json:"duration" yaml:"duration"`
	Checks   []dirbcast.CheckResult `json:"checks" yaml:"checks"`

	// FrontPorts names the DUT front port behind each test port, when an
	// interface map is configured.
	FrontPorts portmap.InterfaceMap `json:"front_ports,omitempty" yaml:"front_ports,omitempty"`
}

func newReport(o harness.Outcome, checks []dirbcast.CheckResult) Report {
	r := Report{
		Case:     o.Name,
		Passed:   o.Passed,
		Phase:    string(o.Phase),
		Duration: o.Duration.Round(time.Millisecond).String(),
		Checks:   checks,
	}
	if o.Err != nil {
		r.Error = o.Err.Error()
	}
	return r
}

// writeOutputs writes the metrics textfile and the report, each only when
// configured.
func writeOutputs(cfg *config.Config, g prometheus.Gatherer, rep Report, out io.Writer) error {
	if cfg.Metrics.Textfile != "" {
		if err := bcastmetrics.WriteTextfile(cfg.Metrics.Textfile, g); err != nil {
			return err
		}
	}

	if cfg.Report.Path == "" {
		return nil
	}

	var (
		body string
		err  error
	)
	switch cfg.Report.Format {
	case formatYAML:
		body, err = marshalYAML(rep)
	default:
		body, err = marshalJSON(rep)
	}
	if err != nil {
		return err
	}

	if cfg.Report.Path == stdoutPath {
		_, err = io.WriteString(out, body)
		return err
	}

	if err := os.WriteFile(cfg.Report.Path, []byte(body), 0o644); err != nil {
		return fmt.Errorf("write report %s: %w", cfg.Report.Path, err)
	}
	return nil
}
