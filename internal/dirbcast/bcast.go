package dirbcast

import (
	"net/netip"
	"slices"

	"github.com/dantte-lp/gobcast/internal/portmap"
)

// BroadcastAddr returns the highest address of an IPv4 prefix. Host bits
// in p are ignored. IPv6 prefixes, including IPv4-mapped ones, report
// false. A /32 yields the prefix address itself.
func BroadcastAddr(p netip.Prefix) (netip.Addr, bool) {
	return portmap.VLAN{Prefix: p}.Broadcast()
}

// Target is one VLAN the checks will probe.
type Target struct {
	VLAN        string       `json:"vlan" yaml:"vlan"`
	Prefix      netip.Prefix `json:"prefix" yaml:"prefix"`
	BroadcastIP netip.Addr   `json:"broadcast_ip" yaml:"broadcast_ip"`
	Ports       []int        `json:"dst_ports" yaml:"dst_ports"`

	// SrcCandidates are the source ports eligible for this VLAN.
	SrcCandidates []int `json:"src_candidates" yaml:"src_candidates"`
}

// Plan returns the IPv4 VLANs of pm in file order together with their
// broadcast addresses and eligible source ports.
func Plan(pm *portmap.PortMap) []Target {
	targets := make([]Target, 0, len(pm.VLANs))
	for _, v := range pm.VLANs {
		bcast, ok := v.Broadcast()
		if !ok {
			continue
		}
		targets = append(targets, Target{
			VLAN:          v.Raw,
			Prefix:        v.Prefix,
			BroadcastIP:   bcast,
			Ports:         slices.Clone(v.Ports),
			SrcCandidates: eligibleSrcPorts(pm.SrcPorts, v.Ports),
		})
	}
	return targets
}

// eligibleSrcPorts returns the members of src not in dst, keeping order
// and duplicates.
func eligibleSrcPorts(src, dst []int) []int {
	out := make([]int, 0, len(src))
	for _, p := range src {
		if !slices.Contains(dst, p) {
			out = append(out, p)
		}
	}
	return out
}
