package dirbcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/netip"
	"slices"
	"time"

	"github.com/gopacket/gopacket/layers"

	"github.com/dantte-lp/gobcast/internal/dataplane"
	"github.com/dantte-lp/gobcast/internal/packet"
	"github.com/dantte-lp/gobcast/internal/portmap"
)

// -------------------------------------------------------------------------
// Constants & Errors
// -------------------------------------------------------------------------

// CaseName is the name the case is reported under.
const CaseName = "dir_bcast_test.BcastTest"

// srcMACPort is the dataplane port whose MAC is used as probe source MAC.
const srcMACPort = 0

// TestSrcIP is the source address of every probe.
var TestSrcIP = netip.MustParseAddr("1.1.1.1")

var (
	// ErrNoEligibleSrcPort indicates every source port is a member of the
	// VLAN under test.
	ErrNoEligibleSrcPort = errors.New("no eligible source port outside the VLAN")

	// ErrNotSetUp indicates a check was run before SetUp succeeded.
	ErrNotSetUp = errors.New("test is not set up")

	// ErrInvalidRouterMAC indicates the router MAC is not 6 bytes long.
	ErrInvalidRouterMAC = errors.New("router MAC must be 6 bytes")
)

// MismatchError reports a check whose received count differs from the
// expected one, or whose probe came back on the source port.
type MismatchError struct {
	Received  int
	Expected  int
	Reflected int
	SrcPort   int
}

func (e *MismatchError) Error() string {
	msg := fmt.Sprintf("received %d expected %d", e.Received, e.Expected)
	if e.Reflected > 0 {
		msg += fmt.Sprintf(" (%d copies reflected to source port %d)", e.Reflected, e.SrcPort)
	}
	return msg
}

// Variant selects the probe type.
type Variant string

const (
	// VariantIP is a plain IPv4 probe.
	VariantIP Variant = "ip"

	// VariantBOOTP is a UDP probe with source and destination port 67.
	VariantBOOTP Variant = "bootp"
)

// -------------------------------------------------------------------------
// Params, Metrics, Options
// -------------------------------------------------------------------------

// Params are the case parameters.
type Params struct {
	// RouterMAC is the destination MAC of every probe.
	RouterMAC net.HardwareAddr

	// PortMapPath is the ptf_test_port_map JSON file read by SetUp.
	PortMapPath string

	// Timeout is the CountMatched quiet period. Zero means DefaultTimeout.
	Timeout time.Duration
}

// DefaultTimeout is the receive timeout used when Params.Timeout is zero.
const DefaultTimeout = 2 * time.Second

// Metrics receives per-check counters.
type Metrics interface {
	ProbeSent(variant, vlan string)
	FramesMatched(variant, vlan string, n int)
	CheckCompleted(variant, vlan string, expected int, passed bool)
}

type noopMetrics struct{}

func (noopMetrics) ProbeSent(string, string)                 {}
func (noopMetrics) FramesMatched(string, string, int)        {}
func (noopMetrics) CheckCompleted(string, string, int, bool) {}

// Option configures optional Test parameters.
type Option func(*Test)

// WithMetrics attaches a Metrics hook. If m is nil, the no-op hook is used.
func WithMetrics(m Metrics) Option {
	return func(t *Test) {
		if m != nil {
			t.metrics = m
		}
	}
}

// WithSeed makes source port selection deterministic.
func WithSeed(seed uint64) Option {
	return func(t *Test) {
		t.rng = rand.New(rand.NewPCG(seed, seed))
	}
}

// WithPortMap supplies an already loaded port map; SetUp then skips
// reading PortMapPath.
func WithPortMap(pm *portmap.PortMap) Option {
	return func(t *Test) {
		t.preloaded = pm
	}
}

// -------------------------------------------------------------------------
// CheckResult
// -------------------------------------------------------------------------

// CheckResult records one probe and its outcome.
type CheckResult struct {
	VLAN        string      `json:"vlan" yaml:"vlan"`
	Variant     Variant     `json:"variant" yaml:"variant"`
	BroadcastIP netip.Addr  `json:"broadcast_ip" yaml:"broadcast_ip"`
	SrcPort     int         `json:"src_port" yaml:"src_port"`
	Expected    int         `json:"expected" yaml:"expected"`
	Received    int         `json:"received" yaml:"received"`
	PerPort     map[int]int `json:"per_port,omitempty" yaml:"per_port,omitempty"`
	Reflected   int         `json:"reflected" yaml:"reflected"`
	Passed      bool        `json:"passed" yaml:"passed"`
	Error       string      `json:"error,omitempty" yaml:"error,omitempty"`
}

// -------------------------------------------------------------------------
// Test
// -------------------------------------------------------------------------

// Test is the directed broadcast case. It is not safe for concurrent use.
type Test struct {
	params  Params
	dp      dataplane.Dataplane
	logger  *slog.Logger
	metrics Metrics
	rng     *rand.Rand

	preloaded *portmap.PortMap
	portMap   *portmap.PortMap
	results   []CheckResult
}

// New creates the case. The dataplane is owned by the caller.
func New(p Params, dp dataplane.Dataplane, logger *slog.Logger, opts ...Option) *Test {
	if p.Timeout <= 0 {
		p.Timeout = DefaultTimeout
	}

	t := &Test{
		params:  p,
		dp:      dp,
		logger:  logger.With(slog.String("component", "dirbcast")),
		metrics: noopMetrics{},
	}
	for _, o := range opts {
		o(t)
	}
	if t.rng == nil {
		//nolint:gosec // G404: port selection does not require cryptographic randomness.
		t.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return t
}

// Name returns CaseName.
func (t *Test) Name() string {
	return CaseName
}

// SetUp validates the parameters and loads the port map.
func (t *Test) SetUp(_ context.Context) error {
	if len(t.params.RouterMAC) != 6 {
		return fmt.Errorf("setup: router_mac %q: %w", t.params.RouterMAC, ErrInvalidRouterMAC)
	}

	pm := t.preloaded
	if pm == nil {
		var err error
		pm, err = portmap.Load(t.params.PortMapPath)
		if err != nil {
			return fmt.Errorf("setup: %w", err)
		}
	}
	t.portMap = pm
	t.results = nil

	t.logger.Info("port map loaded",
		slog.Any("src_ports", pm.SrcPorts),
		slog.Int("vlans", len(pm.VLANs)),
	)
	return nil
}

// RunTest runs every check.
func (t *Test) RunTest(ctx context.Context) error {
	return t.CheckAll(ctx)
}

// TearDown logs a summary. The dataplane stays open.
func (t *Test) TearDown(_ context.Context) error {
	passed := 0
	for _, r := range t.results {
		if r.Passed {
			passed++
		}
	}
	t.logger.Info("checks finished",
		slog.Int("total", len(t.results)),
		slog.Int("passed", passed),
	)
	t.portMap = nil
	return nil
}

// Results returns the checks run so far, in order.
func (t *Test) Results() []CheckResult {
	return slices.Clone(t.results)
}

// CheckAll probes every IPv4 VLAN in file order, plain IP first then
// BOOTP. It stops at the first failure.
func (t *Test) CheckAll(ctx context.Context) error {
	if t.portMap == nil {
		return ErrNotSetUp
	}

	for _, tg := range Plan(t.portMap) {
		t.logger.Info("directed broadcast target",
			slog.String("bcast_ip", tg.BroadcastIP.String()),
			slog.String("vlan_pfx", tg.VLAN),
			slog.Any("dst_ports", tg.Ports),
		)

		if err := t.check(ctx, VariantIP, tg.VLAN, tg.BroadcastIP, tg.Ports); err != nil {
			return fmt.Errorf("vlan %s ip: %w", tg.VLAN, err)
		}
		if err := t.check(ctx, VariantBOOTP, tg.VLAN, tg.BroadcastIP, tg.Ports); err != nil {
			return fmt.Errorf("vlan %s bootp: %w", tg.VLAN, err)
		}
	}
	return nil
}

// CheckIP sends a plain IPv4 directed broadcast to bcast and expects it on
// every port of dstPorts.
func (t *Test) CheckIP(ctx context.Context, bcast netip.Addr, dstPorts []int) error {
	return t.check(ctx, VariantIP, "", bcast, dstPorts)
}

// CheckBOOTP is CheckIP with a UDP 67 -> 67 probe.
func (t *Test) CheckBOOTP(ctx context.Context, bcast netip.Addr, dstPorts []int) error {
	return t.check(ctx, VariantBOOTP, "", bcast, dstPorts)
}

func (t *Test) check(ctx context.Context, v Variant, vlan string, bcast netip.Addr, dstPorts []int) error {
	if t.portMap == nil {
		return ErrNotSetUp
	}
	if vlan == "" {
		vlan = bcast.String()
	}

	res := CheckResult{
		VLAN:        vlan,
		Variant:     v,
		BroadcastIP: bcast,
		Expected:    len(dstPorts),
		SrcPort:     -1,
	}

	err := t.probe(ctx, &res, dstPorts)
	res.Passed = err == nil
	if err != nil {
		res.Error = err.Error()
	}
	t.results = append(t.results, res)
	t.metrics.CheckCompleted(string(v), vlan, res.Expected, res.Passed)

	return err
}

// probe runs one send/count round trip and fills res.
func (t *Test) probe(ctx context.Context, res *CheckResult, dstPorts []int) error {
	candidates := eligibleSrcPorts(t.portMap.SrcPorts, dstPorts)
	if len(candidates) == 0 {
		return fmt.Errorf("src ports %v, dst ports %v: %w", t.portMap.SrcPorts, dstPorts, ErrNoEligibleSrcPort)
	}
	src := candidates[t.rng.IntN(len(candidates))]
	res.SrcPort = src

	srcMAC, err := t.dp.MAC(srcMACPort)
	if err != nil {
		return fmt.Errorf("source MAC: %w", err)
	}

	pkt, mask, err := t.buildFrames(res.Variant, srcMAC, res.BroadcastIP)
	if err != nil {
		return err
	}

	if n := t.dp.Flush(); n > 0 {
		t.logger.Debug("flushed stale frames", slog.Int("frames", n))
	}

	if err := t.dp.Send(ctx, src, pkt); err != nil {
		return fmt.Errorf("send probe: %w", err)
	}
	t.metrics.ProbeSent(string(res.Variant), res.VLAN)

	t.logger.Info("Sending packet from port",
		slog.String("variant", string(res.Variant)),
		slog.Int("src_port", src),
		slog.String("dst", res.BroadcastIP.String()),
	)

	listen := append(slices.Clone(dstPorts), src)
	tally, err := dataplane.CountMatched(ctx, t.dp, mask, listen, t.params.Timeout)
	if err != nil {
		return fmt.Errorf("count matched: %w", err)
	}

	res.PerPort = tally.PerPort
	res.Reflected = tally.Count(src)
	for _, p := range tally.Ports() {
		if p != src && slices.Contains(dstPorts, p) {
			res.Received++
		}
	}
	t.metrics.FramesMatched(string(res.Variant), res.VLAN, tally.Frames())

	t.logger.Info("Received broadcast packets",
		slog.String("variant", string(res.Variant)),
		slog.Int("received", res.Received),
		slog.Int("expecting", res.Expected),
	)

	if res.Received != res.Expected || res.Reflected > 0 {
		return &MismatchError{
			Received:  res.Received,
			Expected:  res.Expected,
			Reflected: res.Reflected,
			SrcPort:   src,
		}
	}
	return nil
}

// buildFrames returns the probe and the masked expected frame for v.
func (t *Test) buildFrames(v Variant, srcMAC net.HardwareAddr, bcast netip.Addr) ([]byte, *packet.Mask, error) {
	build := packet.SimpleIP
	o := packet.DefaultOptions()
	if v == VariantBOOTP {
		build = packet.SimpleUDP
		o.UDPSrcPort = packet.BOOTPServerPort
		o.UDPDstPort = packet.BOOTPServerPort
	}
	o.IPSrc = TestSrcIP
	o.IPDst = bcast

	o.EthDst, o.EthSrc = t.params.RouterMAC, srcMAC
	pkt, err := build(o)
	if err != nil {
		return nil, nil, fmt.Errorf("build %s probe: %w", v, err)
	}

	o.EthDst, o.EthSrc = packet.BroadcastMAC, t.params.RouterMAC
	exp, err := build(o)
	if err != nil {
		return nil, nil, fmt.Errorf("build %s expected frame: %w", v, err)
	}

	mask := packet.NewMask(exp)
	for _, f := range []string{"chksum", "ttl"} {
		if err := mask.SetDoNotCareField(layers.LayerTypeIPv4, f); err != nil {
			return nil, nil, fmt.Errorf("mask ip %s: %w", f, err)
		}
	}
	return pkt, mask, nil
}
