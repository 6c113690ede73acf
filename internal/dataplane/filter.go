package dataplane

import (
	"fmt"

	"golang.org/x/net/bpf"
)

const (
	// etherTypeOffset is the byte offset of the EtherType in an untagged
	// Ethernet header.
	etherTypeOffset = 12

	etherTypeIPv4 = 0x0800

	// snapLen is the number of bytes an accepting filter passes up.
	snapLen = 0x40000
)

// IPv4Filter returns a classic BPF program that accepts untagged IPv4
// frames and drops everything else. Attached to the receive sockets it
// keeps LLDP, ARP and IPv6 neighbour chatter out of the queue.
func IPv4Filter() []bpf.Instruction {
	return []bpf.Instruction{
		bpf.LoadAbsolute{Off: etherTypeOffset, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: etherTypeIPv4, SkipFalse: 1},
		bpf.RetConstant{Val: snapLen},
		bpf.RetConstant{Val: 0},
	}
}

// assembleFilter assembles prog for SO_ATTACH_FILTER.
func assembleFilter(prog []bpf.Instruction) ([]bpf.RawInstruction, error) {
	raw, err := bpf.Assemble(prog)
	if err != nil {
		return nil, fmt.Errorf("assemble bpf filter: %w", err)
	}
	return raw, nil
}
