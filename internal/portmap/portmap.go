// Package portmap loads the PTF test port map that drives the directed
// broadcast check: the ports probes may be injected on and, per VLAN prefix,
// the ports that belong to the VLAN.
package portmap

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"slices"
)

// -------------------------------------------------------------------------
// File Format
// -------------------------------------------------------------------------
//
//	{
//	  "ptf_src_ports": [0, 4, 5],
//	  "vlan_ip_port_pair": {
//	    "192.168.0.0/21": [1, 2, 3],
//	    "fc02:1000::/64": [1, 2, 3]
//	  }
//	}

// DefaultPath is where the sonic-mgmt fixtures copy the port map on the PTF host.
const DefaultPath = "/root/ptf_test_port_map.json"

// Load errors.
var (
	// ErrMissingSrcPorts indicates the ptf_src_ports key is absent or null.
	ErrMissingSrcPorts = errors.New("port map: ptf_src_ports is missing")

	// ErrMissingVLANs indicates the vlan_ip_port_pair key is absent or null.
	ErrMissingVLANs = errors.New("port map: vlan_ip_port_pair is missing")

	// ErrInvalidPrefix indicates a vlan_ip_port_pair key is not an IP prefix.
	ErrInvalidPrefix = errors.New("port map: invalid VLAN prefix")

	// ErrDuplicatePrefix indicates the same prefix key appears twice.
	ErrDuplicatePrefix = errors.New("port map: duplicate VLAN prefix")

	// ErrInvalidPort indicates a negative port index.
	ErrInvalidPort = errors.New("port map: port index must be >= 0")
)

// VLAN is one VLAN router interface: its IP prefix and member ports.
type VLAN struct {
	// Prefix is the VLAN prefix exactly as written (host bits allowed).
	Prefix netip.Prefix

	// Raw is the key as written in the file, used in logs and reports.
	Raw string

	// Ports lists the member port indices in file order.
	Ports []int
}

// Broadcast returns the directed broadcast address of the VLAN, the
// highest address of its prefix. Host bits in Prefix are ignored. IPv6
// prefixes, including IPv4-mapped ones, report false. A /32 yields the
// prefix address itself.
func (v VLAN) Broadcast() (netip.Addr, bool) {
	p := v.Prefix
	if !p.IsValid() || !p.Addr().Is4() {
		return netip.Addr{}, false
	}

	base := p.Masked().Addr().As4()
	host := ^uint32(0) >> p.Bits()

	var out [4]byte
	binary.BigEndian.PutUint32(out[:], binary.BigEndian.Uint32(base[:])|host)
	return netip.AddrFrom4(out), true
}

// HasPort reports whether port is a member of the VLAN.
func (v VLAN) HasPort(port int) bool {
	return slices.Contains(v.Ports, port)
}

// PortMap is the parsed port map. It is not modified after loading.
type PortMap struct {
	// SrcPorts lists the ports probes may be injected on.
	SrcPorts []int

	// VLANs holds the VLAN entries in file order.
	VLANs []VLAN
}

// Ports returns the sorted, deduplicated union of source and VLAN member
// ports, i.e. every port the dataplane needs to open.
func (m *PortMap) Ports() []int {
	all := slices.Clone(m.SrcPorts)
	for _, v := range m.VLANs {
		all = append(all, v.Ports...)
	}
	slices.Sort(all)
	return slices.Compact(all)
}

// Load reads and parses the port map at path.
func Load(path string) (*PortMap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open port map: %w", err)
	}
	defer f.Close()

	m, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("load port map %s: %w", path, err)
	}
	return m, nil
}

// Parse decodes a port map from r.
func Parse(r io.Reader) (*PortMap, error) {
	var raw struct {
		SrcPorts *[]int        `json:"ptf_src_ports"`
		VLANs    *orderedVLANs `json:"vlan_ip_port_pair"`
	}

	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode port map: %w", err)
	}

	if raw.SrcPorts == nil {
		return nil, ErrMissingSrcPorts
	}
	if raw.VLANs == nil {
		return nil, ErrMissingVLANs
	}

	if err := validatePorts("ptf_src_ports", *raw.SrcPorts); err != nil {
		return nil, err
	}

	return &PortMap{
		SrcPorts: *raw.SrcPorts,
		VLANs:    *raw.VLANs,
	}, nil
}

func validatePorts(where string, ports []int) error {
	for _, p := range ports {
		if p < 0 {
			return fmt.Errorf("%s: port %d: %w", where, p, ErrInvalidPort)
		}
	}
	return nil
}

// orderedVLANs decodes the vlan_ip_port_pair object keeping key order.
type orderedVLANs []VLAN

// UnmarshalJSON walks the object token by token so that VLANs are checked in
// the order the fixture wrote them.
func (o *orderedVLANs) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("vlan_ip_port_pair: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("vlan_ip_port_pair: expected object, got %v", tok)
	}

	var (
		vlans []VLAN
		seen  = make(map[netip.Prefix]struct{})
	)

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("vlan_ip_port_pair: %w", err)
		}
		key, _ := keyTok.(string)

		var ports []int
		if err := dec.Decode(&ports); err != nil {
			return fmt.Errorf("vlan_ip_port_pair[%q]: %w", key, err)
		}

		prefix, err := netip.ParsePrefix(key)
		if err != nil {
			return fmt.Errorf("%w %q: %w", ErrInvalidPrefix, key, err)
		}
		if _, dup := seen[prefix.Masked()]; dup {
			return fmt.Errorf("%w %q", ErrDuplicatePrefix, key)
		}
		seen[prefix.Masked()] = struct{}{}

		if err := validatePorts(fmt.Sprintf("vlan_ip_port_pair[%q]", key), ports); err != nil {
			return err
		}

		vlans = append(vlans, VLAN{Prefix: prefix, Raw: key, Ports: ports})
	}

	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("vlan_ip_port_pair: %w", err)
	}

	*o = vlans
	return nil
}
