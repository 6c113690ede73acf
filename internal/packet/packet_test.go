package packet_test

import (
	"net"
	"net/netip"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/gopacket/gopacket/layers"

	"github.com/dantte-lp/gobcast/internal/packet"
)

// header is the subset of a decoded frame the builders control.
type header struct {
	EthDst, EthSrc string
	IPSrc, IPDst   string
	TTL            uint8
	ID             uint16
	Proto          layers.IPProtocol
	IPLen          uint16
	SrcPort        uint16
	DstPort        uint16
}

func decode(t *testing.T, frame []byte) header {
	t.Helper()

	pkt := packet.Parse(frame)

	eth, ok := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	if !ok {
		t.Fatal("no Ethernet layer")
	}
	ip, ok := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	if !ok {
		t.Fatal("no IPv4 layer")
	}

	h := header{
		EthDst: eth.DstMAC.String(),
		EthSrc: eth.SrcMAC.String(),
		IPSrc:  ip.SrcIP.String(),
		IPDst:  ip.DstIP.String(),
		TTL:    ip.TTL,
		ID:     ip.Id,
		Proto:  ip.Protocol,
		IPLen:  ip.Length,
	}
	if udp, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP); ok {
		h.SrcPort = uint16(udp.SrcPort)
		h.DstPort = uint16(udp.DstPort)
	}
	return h
}

func probeOptions() packet.Options {
	o := packet.DefaultOptions()
	o.EthDst = net.HardwareAddr{0x00, 0x01, 0x02, 0x03, 0x04, 0x05}
	o.EthSrc = net.HardwareAddr{0x52, 0x54, 0x00, 0x00, 0x00, 0x01}
	o.IPSrc = netip.MustParseAddr("1.1.1.1")
	o.IPDst = netip.MustParseAddr("192.168.1.255")
	return o
}

// -------------------------------------------------------------------------
// Builder Tests
// -------------------------------------------------------------------------

func TestSimpleIP(t *testing.T) {
	t.Parallel()

	frame, err := packet.SimpleIP(probeOptions())
	if err != nil {
		t.Fatalf("SimpleIP: %v", err)
	}

	if len(frame) != packet.DefaultPktLen {
		t.Errorf("len(frame) = %d, want %d", len(frame), packet.DefaultPktLen)
	}

	want := header{
		EthDst: "00:01:02:03:04:05",
		EthSrc: "52:54:00:00:00:01",
		IPSrc:  "1.1.1.1",
		IPDst:  "192.168.1.255",
		TTL:    64,
		ID:     1,
		Proto:  0,
		IPLen:  86,
	}
	if diff := cmp.Diff(want, decode(t, frame)); diff != "" {
		t.Errorf("SimpleIP header mismatch (-want +got):\n%s", diff)
	}

	// Payload is the incrementing PTF filler right after the IPv4 header.
	if frame[34] != 0x00 || frame[35] != 0x01 || frame[99] != 65 {
		t.Errorf("payload = % x..., want incrementing pattern", frame[34:40])
	}
}

func TestSimpleUDPBOOTP(t *testing.T) {
	t.Parallel()

	o := probeOptions()
	o.UDPSrcPort = packet.BOOTPServerPort
	o.UDPDstPort = packet.BOOTPServerPort

	frame, err := packet.SimpleUDP(o)
	if err != nil {
		t.Fatalf("SimpleUDP: %v", err)
	}

	if len(frame) != packet.DefaultPktLen {
		t.Errorf("len(frame) = %d, want %d", len(frame), packet.DefaultPktLen)
	}

	got := decode(t, frame)
	want := header{
		EthDst:  "00:01:02:03:04:05",
		EthSrc:  "52:54:00:00:00:01",
		IPSrc:   "1.1.1.1",
		IPDst:   "192.168.1.255",
		TTL:     64,
		ID:      1,
		Proto:   layers.IPProtocolUDP,
		IPLen:   86,
		SrcPort: 67,
		DstPort: 67,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("SimpleUDP header mismatch (-want +got):\n%s", diff)
	}
}

func TestSimpleIPRejectsIPv6(t *testing.T) {
	t.Parallel()

	o := probeOptions()
	o.IPDst = netip.MustParseAddr("fc02:1000::ffff")

	if _, err := packet.SimpleIP(o); err == nil {
		t.Fatal("SimpleIP accepted an IPv6 destination")
	}
}

func TestShortPktLenStillValid(t *testing.T) {
	t.Parallel()

	o := probeOptions()
	o.PktLen = 10

	frame, err := packet.SimpleUDP(o)
	if err != nil {
		t.Fatalf("SimpleUDP: %v", err)
	}
	// Ethernet pads to its 60-byte minimum.
	if len(frame) != 60 {
		t.Errorf("len(frame) = %d, want 60", len(frame))
	}
}

func TestPattern(t *testing.T) {
	t.Parallel()

	p := packet.Pattern(300)
	if p[0] != 0 || p[255] != 255 || p[256] != 0 || p[299] != 43 {
		t.Errorf("Pattern wraps incorrectly: p[255]=%d p[256]=%d p[299]=%d", p[255], p[256], p[299])
	}
	if len(packet.Pattern(-4)) != 0 {
		t.Error("Pattern(-4) not empty")
	}
}
