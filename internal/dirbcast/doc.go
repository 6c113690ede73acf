// Package dirbcast verifies directed broadcast forwarding.
//
// For every IPv4 VLAN in the port map the check sends a probe addressed to
// the router MAC and the VLAN broadcast address from a port outside the
// VLAN, then counts the member ports that receive the flooded copy. Two
// probes run per VLAN: plain IPv4 and UDP on the BOOTP server port. The
// first failing check stops the run.
package dirbcast
