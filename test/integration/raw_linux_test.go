//go:build integration && linux

package integration_test

import (
	"log/slog"
	"net/netip"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/dantte-lp/gobcast/internal/dataplane"
	"github.com/dantte-lp/gobcast/internal/packet"
)

// TestRawLoopback sends an IPv4 broadcast frame on lo and expects the
// looped copy back on the same port. Requires CAP_NET_RAW.
func TestRawLoopback(t *testing.T) {
	if os.Geteuid() != 0 {
		t.Skip("raw sockets need root")
	}

	dp, err := dataplane.OpenRaw(t.Context(), dataplane.RawConfig{
		Interfaces: map[int]string{0: "lo"},
		IPv4Only:   true,
	}, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("OpenRaw: %v", err)
	}
	defer func() {
		if err := dp.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	}()

	o := packet.DefaultOptions()
	o.EthDst = packet.BroadcastMAC
	o.IPSrc = netip.MustParseAddr("1.1.1.1")
	o.IPDst = netip.MustParseAddr("127.255.255.255")
	o.UDPSrcPort = packet.BOOTPServerPort
	o.UDPDstPort = packet.BOOTPServerPort
	frame, err := packet.SimpleUDP(o)
	if err != nil {
		t.Fatalf("SimpleUDP: %v", err)
	}
	m := packet.NewMask(frame)

	dp.Flush()
	if err := dp.Send(t.Context(), 0, frame); err != nil {
		t.Fatalf("Send: %v", err)
	}

	tally, err := dataplane.CountMatched(t.Context(), dp, m, []int{0}, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("CountMatched: %v", err)
	}
	if tally.Count(0) != 1 {
		t.Errorf("looped copies = %d, want 1", tally.Count(0))
	}
}

// vethPair creates a veth pair a<->b, brings both ends up and deletes it
// at cleanup.
func vethPair(t *testing.T, a, b string) {
	t.Helper()

	if out, err := exec.Command("ip", "link", "add", a, "type", "veth", "peer", "name", b).CombinedOutput(); err != nil {
		t.Skipf("create veth %s/%s: %v: %s", a, b, err, out)
	}
	t.Cleanup(func() {
		_ = exec.Command("ip", "link", "del", a).Run()
	})
	for _, name := range []string{a, b} {
		ipLink(t, name, "up")
	}
}

func ipLink(t *testing.T, name, state string) {
	t.Helper()

	if out, err := exec.Command("ip", "link", "set", name, state).CombinedOutput(); err != nil {
		t.Fatalf("ip link set %s %s: %v: %s", name, state, err, out)
	}
}

// TestRawLinkFlapKeepsOtherPorts flaps port 1 and expects port 2 to keep
// receiving.
func TestRawLinkFlapKeepsOtherPorts(t *testing.T) {
	if os.Geteuid() != 0 {
		t.Skip("raw sockets need root")
	}

	vethPair(t, "gbc-a1", "gbc-b1")
	vethPair(t, "gbc-a2", "gbc-b2")

	logger := slog.New(slog.DiscardHandler)
	dut, err := dataplane.OpenRaw(t.Context(), dataplane.RawConfig{
		Interfaces: map[int]string{1: "gbc-a1", 2: "gbc-a2"},
		IPv4Only:   true,
	}, logger)
	if err != nil {
		t.Fatalf("OpenRaw: %v", err)
	}
	defer func() {
		if err := dut.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	}()

	peer, err := dataplane.OpenRaw(t.Context(), dataplane.RawConfig{
		Interfaces: map[int]string{0: "gbc-b2"},
	}, logger)
	if err != nil {
		t.Fatalf("OpenRaw peer: %v", err)
	}
	defer peer.Close()

	ipLink(t, "gbc-a1", "down")
	time.Sleep(200 * time.Millisecond)
	ipLink(t, "gbc-a1", "up")
	time.Sleep(200 * time.Millisecond)

	o := packet.DefaultOptions()
	o.EthDst = packet.BroadcastMAC
	frame, err := packet.SimpleIP(o)
	if err != nil {
		t.Fatalf("SimpleIP: %v", err)
	}

	dut.Flush()
	if err := peer.Send(t.Context(), 0, frame); err != nil {
		t.Fatalf("Send: %v", err)
	}

	tally, err := dataplane.CountMatched(t.Context(), dut, packet.NewMask(frame), []int{1, 2}, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("CountMatched: %v", err)
	}
	if tally.Count(2) != 1 {
		t.Errorf("port 2 received %d copies after port 1 flapped, want 1", tally.Count(2))
	}
	// Each socket only sees its own interface.
	if tally.Count(1) != 0 {
		t.Errorf("port 1 saw %d copies of a frame sent on port 2's link", tally.Count(1))
	}
}
