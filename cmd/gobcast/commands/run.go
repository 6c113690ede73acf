package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dantte-lp/gobcast/internal/config"
	"github.com/dantte-lp/gobcast/internal/dataplane"
	"github.com/dantte-lp/gobcast/internal/dirbcast"
	"github.com/dantte-lp/gobcast/internal/harness"
	bcastmetrics "github.com/dantte-lp/gobcast/internal/metrics"
	"github.com/dantte-lp/gobcast/internal/portmap"
	"github.com/dantte-lp/gobcast/internal/switchsim"
	appversion "github.com/dantte-lp/gobcast/internal/version"
)

// errCaseFailed is returned by run when the case did not pass.
var errCaseFailed = errors.New("case failed")

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the directed broadcast case",
		Long: "Runs " + dirbcast.CaseName + " against the configured dataplane. " +
			"Exits non-zero when any check fails.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			params, err := collectParams()
			if err != nil {
				return err
			}

			cfg, err := config.Load(configPath, params)
			if err != nil {
				return err
			}

			return runCase(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}
}

// runCase executes the case once. Logs and a "-" report go to out.
func runCase(ctx context.Context, cfg *config.Config, out io.Writer) error {
	level := new(slog.LevelVar)
	level.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, level, out)

	logger.Info("gobcast starting",
		slog.String("version", appversion.Version),
		slog.String("mode", cfg.Dataplane.Mode),
		slog.String("port_map", cfg.PortMap),
	)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	mac, err := cfg.ParsedRouterMAC()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	collector := bcastmetrics.NewCollector(reg)

	ifmap, err := loadInterfaceMap(cfg)
	if err != nil {
		return err
	}

	dp, pm, err := openDataplane(ctx, cfg, mac, ifmap, collector, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := dp.Close(); cerr != nil {
			logger.Warn("close dataplane", slog.String("error", cerr.Error()))
		}
	}()

	g, gCtx := errgroup.WithContext(ctx)
	serveCtx, stopServe := context.WithCancel(gCtx)
	defer stopServe()
	if cfg.Metrics.Addr != "" {
		srv := bcastmetrics.NewServer(cfg.Metrics.Addr, cfg.Metrics.Path, reg)
		g.Go(func() error {
			return bcastmetrics.Serve(serveCtx, srv, logger, nil)
		})
	}

	opts := []dirbcast.Option{dirbcast.WithMetrics(collector)}
	if cfg.Seed != 0 {
		opts = append(opts, dirbcast.WithSeed(cfg.Seed))
	}
	if pm != nil {
		opts = append(opts, dirbcast.WithPortMap(pm))
	}

	test := dirbcast.New(dirbcast.Params{
		RouterMAC:   mac,
		PortMapPath: cfg.PortMap,
		Timeout:     cfg.Dataplane.Timeout,
	}, dp, logger, opts...)

	outcome := harness.Run(gCtx, logger, test)
	collector.RecordRun(outcome.Passed, time.Now())

	stopServe()
	if err := g.Wait(); err != nil {
		return fmt.Errorf("metrics server: %w", err)
	}

	rep := newReport(outcome, test.Results())
	if pm != nil && ifmap != nil {
		rep.FrontPorts = ifmap.Subset(pm.Ports())
	}
	if err := writeOutputs(cfg, reg, rep, out); err != nil {
		return err
	}

	logger.Info("gobcast finished",
		slog.String("case", outcome.Name),
		slog.Bool("passed", outcome.Passed),
		slog.Duration("duration", outcome.Duration),
	)

	if !outcome.Passed {
		return fmt.Errorf("%w: %w", errCaseFailed, outcome.Err)
	}
	return nil
}

// loadInterfaceMap reads dataplane.interface_map, or returns nil when it
// is not configured.
func loadInterfaceMap(cfg *config.Config) (portmap.InterfaceMap, error) {
	if cfg.Dataplane.InterfaceMap == "" {
		return nil, nil
	}
	return portmap.LoadInterfaceMap(cfg.Dataplane.InterfaceMap)
}

// openDataplane opens the backend named by dataplane.mode. The returned
// port map is non-nil when it was loaded here and can be handed to the
// case. In sim mode a port map that fails to load is left for SetUp to
// report; the raw dataplane cannot open without it.
//
// Raw ports open on <interface_prefix><index>. When ifmap is set, every
// port must appear in it; its front port names only label the logs.
func openDataplane(
	ctx context.Context,
	cfg *config.Config,
	mac net.HardwareAddr,
	ifmap portmap.InterfaceMap,
	m dataplane.Metrics,
	logger *slog.Logger,
) (dataplane.Dataplane, *portmap.PortMap, error) {
	pm, loadErr := portmap.Load(cfg.PortMap)

	if cfg.Dataplane.Mode == config.ModeSim {
		var vlans []portmap.VLAN
		if loadErr == nil {
			vlans = pm.VLANs
		} else {
			pm = nil
		}
		sw := switchsim.New(mac, vlans,
			switchsim.WithLogger(logger),
			switchsim.WithMetrics(m),
			switchsim.WithQueueSize(cfg.Dataplane.QueueSize),
		)
		return sw, pm, nil
	}

	if loadErr != nil {
		return nil, nil, loadErr
	}

	// Port 0 supplies the probe source MAC.
	ports := pm.Ports()
	if !slices.Contains(ports, 0) {
		ports = append([]int{0}, ports...)
	}

	if ifmap != nil {
		if missing := ifmap.Unmapped(ports); len(missing) > 0 {
			return nil, nil, fmt.Errorf("%s: ports %v: %w",
				cfg.Dataplane.InterfaceMap, missing, portmap.ErrUnmappedPort)
		}
	}

	ifaces := make(map[int]string, len(ports))
	for _, port := range ports {
		ifaces[port] = portmap.HostInterface(port, cfg.Dataplane.InterfacePrefix)
		logger.Debug("test port",
			slog.Int("port", port),
			slog.String("interface", ifaces[port]),
			slog.String("front_port", ifmap.FrontPort(port)),
		)
	}

	raw, err := dataplane.OpenRaw(ctx, dataplane.RawConfig{
		Interfaces: ifaces,
		QueueSize:  cfg.Dataplane.QueueSize,
		IPv4Only:   cfg.Dataplane.IPv4Only,
	}, logger, dataplane.WithMetrics(m))
	if err != nil {
		return nil, nil, err
	}
	return raw, pm, nil
}

// newLoggerWithLevel creates a structured logger using a shared LevelVar.
func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler)
}
