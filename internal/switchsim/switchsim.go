// Package switchsim is an in-memory dataplane that behaves like a router
// with directed broadcast forwarding enabled on its VLAN interfaces.
//
// A frame sent to the router MAC whose IPv4 destination is the broadcast
// address of a VLAN the ingress port does not belong to is routed into
// that VLAN: every member port receives a copy with destination MAC
// ff:ff:ff:ff:ff:ff, source MAC set to the router MAC, TTL decremented and
// the header checksum recomputed. Fault options make it misbehave for
// negative tests.
package switchsim

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"slices"
	"sync"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"

	"github.com/dantte-lp/gobcast/internal/dataplane"
	"github.com/dantte-lp/gobcast/internal/packet"
	"github.com/dantte-lp/gobcast/internal/portmap"
)

// DefaultQueueSize is the receive queue capacity.
const DefaultQueueSize = 4096

// -------------------------------------------------------------------------
// Options
// -------------------------------------------------------------------------

// Option configures optional Switch behaviour.
type Option func(*Switch)

// WithDroppedPorts makes the switch silently drop egress on ports.
func WithDroppedPorts(ports ...int) Option {
	return func(s *Switch) {
		for _, p := range ports {
			s.dropped[p] = struct{}{}
		}
	}
}

// WithReflection makes the switch also flood routed broadcasts back out of
// the ingress port.
func WithReflection() Option {
	return func(s *Switch) {
		s.reflect = true
	}
}

// WithDuplicates makes the switch emit n extra copies per egress port.
func WithDuplicates(n int) Option {
	return func(s *Switch) {
		if n > 0 {
			s.duplicates = n
		}
	}
}

// WithPortMACs overrides the synthesized MAC of the given ports.
func WithPortMACs(macs map[int]net.HardwareAddr) Option {
	return func(s *Switch) {
		for p, mac := range macs {
			s.macs[p] = mac
		}
	}
}

// WithLogger sets the logger. The default discards.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Switch) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics attaches a frame counter hook.
func WithMetrics(m dataplane.Metrics) Option {
	return func(s *Switch) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithQueueSize sets the receive queue capacity.
func WithQueueSize(n int) Option {
	return func(s *Switch) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// -------------------------------------------------------------------------
// Switch
// -------------------------------------------------------------------------

type vlan struct {
	prefix    netip.Prefix
	broadcast netip.Addr
	members   []int
}

// Switch implements dataplane.Dataplane. It is safe for concurrent use.
type Switch struct {
	routerMAC net.HardwareAddr
	vlans     []vlan

	macs       map[int]net.HardwareAddr
	dropped    map[int]struct{}
	reflect    bool
	duplicates int
	queueSize  int
	metrics    dataplane.Metrics
	logger     *slog.Logger

	queue chan dataplane.Frame

	mu       sync.Mutex
	injected []dataplane.Frame
	closed   bool
}

var _ dataplane.Dataplane = (*Switch)(nil)

// New returns a Switch routing for the IPv4 VLANs in vlans. IPv6 entries
// are ignored.
func New(routerMAC net.HardwareAddr, vlans []portmap.VLAN, opts ...Option) *Switch {
	s := &Switch{
		routerMAC: slices.Clone(routerMAC),
		macs:      make(map[int]net.HardwareAddr),
		dropped:   make(map[int]struct{}),
		queueSize: DefaultQueueSize,
		metrics:   nopMetrics{},
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With(slog.String("component", "switchsim"))
	s.queue = make(chan dataplane.Frame, s.queueSize)

	for _, v := range vlans {
		bcast, ok := v.Broadcast()
		if !ok {
			continue
		}
		s.vlans = append(s.vlans, vlan{
			prefix:    v.Prefix.Masked(),
			broadcast: bcast,
			members:   slices.Clone(v.Ports),
		})
	}

	return s
}

// MAC returns the MAC of port: the WithPortMACs override or the locally
// administered address 02:00:00:00:hi:lo.
func (s *Switch) MAC(port int) (net.HardwareAddr, error) {
	if port < 0 || port > 0xffff {
		return nil, fmt.Errorf("port %d: %w", port, dataplane.ErrUnknownPort)
	}
	if mac, ok := s.macs[port]; ok {
		return slices.Clone(mac), nil
	}
	return net.HardwareAddr{0x02, 0, 0, 0, byte(port >> 8), byte(port)}, nil
}

// Send injects frame on port and routes it.
func (s *Switch) Send(ctx context.Context, port int, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("send port %d: %w", port, err)
	}
	if port < 0 {
		return fmt.Errorf("send port %d: %w", port, dataplane.ErrUnknownPort)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return dataplane.ErrClosed
	}
	s.injected = append(s.injected, dataplane.Frame{
		Port: port,
		Data: slices.Clone(frame),
		At:   time.Now(),
	})
	s.mu.Unlock()

	s.route(port, frame)
	return nil
}

// Poll returns the next egress frame.
func (s *Switch) Poll(ctx context.Context, timeout time.Duration) (dataplane.Frame, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case f := <-s.queue:
		return f, nil
	case <-timer.C:
		return dataplane.Frame{}, dataplane.ErrPollTimeout
	case <-ctx.Done():
		return dataplane.Frame{}, fmt.Errorf("poll: %w", ctx.Err())
	}
}

// Flush drops queued egress frames.
func (s *Switch) Flush() int {
	n := 0
	for {
		select {
		case <-s.queue:
			n++
		default:
			return n
		}
	}
}

// Close marks the switch closed; further sends fail.
func (s *Switch) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

// Injected returns a copy of every frame passed to Send, in order.
func (s *Switch) Injected() []dataplane.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.injected)
}

// -------------------------------------------------------------------------
// Forwarding
// -------------------------------------------------------------------------

func (s *Switch) route(ingress int, frame []byte) {
	pkt := packet.Parse(frame)

	eth, ok := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	if !ok || !bytes.Equal(eth.DstMAC, s.routerMAC) {
		s.logger.Debug("not addressed to router, dropped", slog.Int("ingress", ingress))
		return
	}

	ip, ok := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	if !ok {
		s.logger.Debug("not IPv4, dropped", slog.Int("ingress", ingress))
		return
	}
	if ip.TTL <= 1 {
		s.logger.Debug("ttl expired, dropped", slog.Int("ingress", ingress))
		return
	}

	dst, _ := netip.AddrFromSlice(ip.DstIP.To4())
	v, ok := s.lookup(dst, ingress)
	if !ok {
		s.logger.Debug("no directed broadcast route, dropped",
			slog.Int("ingress", ingress),
			slog.String("dst", dst.String()),
		)
		return
	}

	out, err := s.rewrite(eth, ip)
	if err != nil {
		s.logger.Warn("rewrite failed", slog.String("error", err.Error()))
		return
	}

	egress := slices.Clone(v.members)
	if s.reflect {
		egress = append(egress, ingress)
	}

	s.logger.Debug("flooding directed broadcast",
		slog.String("vlan", v.prefix.String()),
		slog.Int("ingress", ingress),
		slog.Any("egress", egress),
	)

	for _, port := range egress {
		if _, drop := s.dropped[port]; drop {
			continue
		}
		for range 1 + s.duplicates {
			s.enqueue(port, out)
		}
	}
}

func (s *Switch) lookup(dst netip.Addr, ingress int) (vlan, bool) {
	for _, v := range s.vlans {
		if v.broadcast == dst && !slices.Contains(v.members, ingress) {
			return v, true
		}
	}
	return vlan{}, false
}

// rewrite produces the egress frame: broadcast destination MAC, router
// source MAC, TTL-1 and a fresh header checksum. The IPv4 payload is
// carried unchanged.
func (s *Switch) rewrite(eth *layers.Ethernet, ip *layers.IPv4) ([]byte, error) {
	outEth := &layers.Ethernet{
		SrcMAC:       s.routerMAC,
		DstMAC:       packet.BroadcastMAC,
		EthernetType: eth.EthernetType,
	}
	outIP := *ip
	outIP.TTL--

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, outEth, &outIP, gopacket.Payload(ip.Payload)); err != nil {
		return nil, fmt.Errorf("serialize egress frame: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *Switch) enqueue(port int, data []byte) {
	f := dataplane.Frame{Port: port, Data: slices.Clone(data), At: time.Now()}
	s.metrics.IncFramesReceived(port)

	select {
	case s.queue <- f:
	default:
		s.metrics.IncFramesDropped(port)
		s.logger.Warn("egress queue full, frame dropped", slog.Int("port", port))
	}
}

type nopMetrics struct{}

func (nopMetrics) IncFramesReceived(int) {}
func (nopMetrics) IncFramesDropped(int)  {}
