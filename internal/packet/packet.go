// Package packet builds test frames and compares received frames against
// an expected frame with don't-care bits.
//
// Frame construction mirrors the PTF simple_ip_packet / simple_udp_packet
// helpers so that probes look the same on the wire as the ones the Python
// test sends: fixed total length, incrementing byte payload, TTL 64, IP ID 1.
package packet

import (
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
)

// -------------------------------------------------------------------------
// Constants
// -------------------------------------------------------------------------

const (
	// DefaultPktLen is the PTF default total frame length in bytes.
	DefaultPktLen = 100

	// DefaultTTL is the PTF default IPv4 TTL.
	DefaultTTL uint8 = 64

	// DefaultIPID is the PTF default IPv4 identification.
	DefaultIPID uint16 = 1

	// BOOTPServerPort is the BOOTP/DHCP server UDP port.
	BOOTPServerPort uint16 = 67

	ethHeaderLen  = 14
	ipv4HeaderLen = 20
	udpHeaderLen  = 8
)

// BroadcastMAC is the all-ones Ethernet address.
var BroadcastMAC = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// ErrNotIPv4 indicates a source or destination address is not IPv4.
var ErrNotIPv4 = errors.New("address is not IPv4")

// -------------------------------------------------------------------------
// Options
// -------------------------------------------------------------------------

// Options describes a simple Ethernet/IPv4[/UDP] frame.
type Options struct {
	// PktLen is the total frame length; the payload pads up to it.
	PktLen int

	EthDst net.HardwareAddr
	EthSrc net.HardwareAddr

	IPSrc netip.Addr
	IPDst netip.Addr
	IPTOS uint8
	IPTTL uint8
	IPID  uint16

	// IPProto is the protocol number written by SimpleIP. SimpleUDP
	// always writes UDP.
	IPProto layers.IPProtocol

	UDPSrcPort uint16
	UDPDstPort uint16
}

// DefaultOptions returns the PTF defaults. Callers fill in addresses.
func DefaultOptions() Options {
	return Options{
		PktLen:     DefaultPktLen,
		EthDst:     net.HardwareAddr{0x00, 0x01, 0x02, 0x03, 0x04, 0x05},
		EthSrc:     net.HardwareAddr{0x00, 0x06, 0x07, 0x08, 0x09, 0x0a},
		IPSrc:      netip.MustParseAddr("192.168.0.1"),
		IPDst:      netip.MustParseAddr("192.168.0.2"),
		IPTTL:      DefaultTTL,
		IPID:       DefaultIPID,
		UDPSrcPort: 1234,
		UDPDstPort: 80,
	}
}

// -------------------------------------------------------------------------
// Builders
// -------------------------------------------------------------------------

// SimpleIP returns an Ethernet/IPv4 frame with an incrementing payload.
func SimpleIP(o Options) ([]byte, error) {
	eth, ip, err := baseLayers(o)
	if err != nil {
		return nil, err
	}
	ip.Protocol = o.IPProto

	payload := Pattern(o.PktLen - ethHeaderLen - ipv4HeaderLen)

	return serialize(eth, ip, gopacket.Payload(payload))
}

// SimpleUDP returns an Ethernet/IPv4/UDP frame with an incrementing payload.
func SimpleUDP(o Options) ([]byte, error) {
	eth, ip, err := baseLayers(o)
	if err != nil {
		return nil, err
	}
	ip.Protocol = layers.IPProtocolUDP

	udp := &layers.UDP{
		SrcPort: layers.UDPPort(o.UDPSrcPort),
		DstPort: layers.UDPPort(o.UDPDstPort),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, fmt.Errorf("udp checksum layer: %w", err)
	}

	payload := Pattern(o.PktLen - ethHeaderLen - ipv4HeaderLen - udpHeaderLen)

	return serialize(eth, ip, udp, gopacket.Payload(payload))
}

// Pattern returns n bytes counting up from zero and wrapping at 256, the
// filler PTF uses. Negative n yields an empty slice.
func Pattern(n int) []byte {
	if n < 0 {
		n = 0
	}
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

func baseLayers(o Options) (*layers.Ethernet, *layers.IPv4, error) {
	if !o.IPSrc.Is4() {
		return nil, nil, fmt.Errorf("ip_src %s: %w", o.IPSrc, ErrNotIPv4)
	}
	if !o.IPDst.Is4() {
		return nil, nil, fmt.Errorf("ip_dst %s: %w", o.IPDst, ErrNotIPv4)
	}

	eth := &layers.Ethernet{
		SrcMAC:       o.EthSrc,
		DstMAC:       o.EthDst,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version: 4,
		TOS:     o.IPTOS,
		Id:      o.IPID,
		TTL:     o.IPTTL,
		SrcIP:   o.IPSrc.AsSlice(),
		DstIP:   o.IPDst.AsSlice(),
	}
	return eth, ip, nil
}

func serialize(lyrs ...gopacket.SerializableLayer) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{
		FixLengths:       true,
		ComputeChecksums: true,
	}

	if err := gopacket.SerializeLayers(buf, opts, lyrs...); err != nil {
		return nil, fmt.Errorf("serialize layers: %w", err)
	}
	return buf.Bytes(), nil
}

// Parse decodes an Ethernet frame. Frames shorter than the Ethernet minimum
// are zero padded first so the decoder does not reject them.
func Parse(frame []byte) gopacket.Packet {
	const minFrame = 60
	if len(frame) < minFrame {
		padded := make([]byte, minFrame)
		copy(padded, frame)
		frame = padded
	}
	return gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.Default)
}
