package packet

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
)

// Mask errors.
var (
	// ErrMaskRange indicates a don't-care range outside the expected frame.
	ErrMaskRange = errors.New("mask range outside expected frame")

	// ErrLayerNotFound indicates the expected frame has no such layer.
	ErrLayerNotFound = errors.New("layer not present in expected frame")

	// ErrUnknownField indicates a field name unknown for the layer.
	ErrUnknownField = errors.New("unknown header field")
)

// field is a header field position relative to the start of its layer.
type field struct {
	offset int // bits
	width  int // bits
}

// fields uses scapy field names so masks read like the PTF calls they
// replace (Mask.set_do_not_care_scapy(IP, "chksum")).
var fields = map[gopacket.LayerType]map[string]field{
	layers.LayerTypeEthernet: {
		"dst":  {0, 48},
		"src":  {48, 48},
		"type": {96, 16},
	},
	layers.LayerTypeDot1Q: {
		"prio": {0, 3},
		"id":   {3, 1},
		"vlan": {4, 12},
		"type": {16, 16},
	},
	layers.LayerTypeIPv4: {
		"version": {0, 4},
		"ihl":     {4, 4},
		"tos":     {8, 8},
		"len":     {16, 16},
		"id":      {32, 16},
		"flags":   {48, 3},
		"frag":    {51, 13},
		"ttl":     {64, 8},
		"proto":   {72, 8},
		"chksum":  {80, 16},
		"src":     {96, 32},
		"dst":     {128, 32},
	},
	layers.LayerTypeUDP: {
		"sport":  {0, 16},
		"dport":  {16, 16},
		"len":    {32, 16},
		"chksum": {48, 16},
	},
}

// Mask is an expected frame plus a bit mask of the bits that must match.
// The zero value is not usable; create one with NewMask.
type Mask struct {
	exp  []byte
	mask []byte

	ignoreExtraBytes bool
}

// NewMask returns a Mask that cares about every bit of exp.
func NewMask(exp []byte) *Mask {
	m := &Mask{
		exp:  append([]byte(nil), exp...),
		mask: make([]byte, len(exp)),
	}
	for i := range m.mask {
		m.mask[i] = 0xff
	}
	return m
}

// Size returns the length of the expected frame.
func (m *Mask) Size() int {
	return len(m.exp)
}

// SetIgnoreExtraBytes lets frames longer than the expected one match on
// their first Size() bytes.
func (m *Mask) SetIgnoreExtraBytes() {
	m.ignoreExtraBytes = true
}

// SetDoNotCare clears width bits starting at bit offset.
func (m *Mask) SetDoNotCare(offset, width int) error {
	if offset < 0 || width < 0 || offset+width > len(m.exp)*8 {
		return fmt.Errorf("bits [%d,%d) of %d-byte frame: %w",
			offset, offset+width, len(m.exp), ErrMaskRange)
	}

	for bit := offset; bit < offset+width; bit++ {
		m.mask[bit/8] &^= 1 << (7 - bit%8)
	}
	return nil
}

// SetDoNotCareField clears the bits of a named header field in the first
// instance of layer within the expected frame.
func (m *Mask) SetDoNotCareField(layer gopacket.LayerType, name string) error {
	f, ok := fields[layer][name]
	if !ok {
		return fmt.Errorf("%s.%s: %w", layer, name, ErrUnknownField)
	}

	start, err := m.layerOffset(layer)
	if err != nil {
		return err
	}

	return m.SetDoNotCare(start*8+f.offset, f.width)
}

// layerOffset returns the byte offset of layer in the expected frame.
func (m *Mask) layerOffset(layer gopacket.LayerType) (int, error) {
	pkt := gopacket.NewPacket(m.exp, layers.LayerTypeEthernet, gopacket.Default)

	offset := 0
	for _, l := range pkt.Layers() {
		if l.LayerType() == layer {
			return offset, nil
		}
		offset += len(l.LayerContents())
	}
	return 0, fmt.Errorf("%s: %w", layer, ErrLayerNotFound)
}

// Match reports whether pkt equals the expected frame on every cared-for
// bit. Sizes must be equal unless SetIgnoreExtraBytes was called, in which
// case pkt must be at least Size() bytes long.
func (m *Mask) Match(pkt []byte) bool {
	if len(pkt) < len(m.exp) {
		return false
	}
	if !m.ignoreExtraBytes && len(pkt) != len(m.exp) {
		return false
	}

	for i := range m.exp {
		if m.exp[i]&m.mask[i] != pkt[i]&m.mask[i] {
			return false
		}
	}
	return true
}

// String dumps the expected frame and mask for failure logs.
func (m *Mask) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "expected (%d bytes):\n%s", len(m.exp), hex.Dump(m.exp))
	fmt.Fprintf(&b, "mask:\n%s", hex.Dump(m.mask))
	return b.String()
}
