package dataplane

import (
	"context"
	"errors"
	"net"
	"slices"
	"time"
)

// -------------------------------------------------------------------------
// Frame & Interfaces
// -------------------------------------------------------------------------

// Frame is one received Ethernet frame.
type Frame struct {
	// Port is the test port index the frame arrived on.
	Port int

	// Data is the raw frame starting at the Ethernet header. It is owned
	// by the receiver of the Frame.
	Data []byte

	// At is the receive timestamp.
	At time.Time
}

// Poller returns the next received frame from any port.
type Poller interface {
	// Poll blocks up to timeout for the next frame. It returns
	// ErrPollTimeout when nothing arrived in time.
	Poll(ctx context.Context, timeout time.Duration) (Frame, error)
}

// Dataplane is a set of numbered ports that frames can be injected into
// and received from.
type Dataplane interface {
	Poller

	// MAC returns the hardware address of port.
	MAC(port int) (net.HardwareAddr, error)

	// Send transmits frame out of port.
	Send(ctx context.Context, port int, frame []byte) error

	// Flush discards queued frames and returns how many were dropped.
	Flush() int

	// Close releases all ports.
	Close() error
}

// Matcher decides whether a received frame is the one being waited for.
// *packet.Mask satisfies it.
type Matcher interface {
	Match(frame []byte) bool
}

// Metrics receives per-port frame counters from a dataplane.
type Metrics interface {
	IncFramesReceived(port int)
	IncFramesDropped(port int)
}

type noopMetrics struct{}

func (noopMetrics) IncFramesReceived(int) {}
func (noopMetrics) IncFramesDropped(int)  {}

// -------------------------------------------------------------------------
// Errors
// -------------------------------------------------------------------------

var (
	// ErrPollTimeout indicates no frame arrived before the poll timeout.
	ErrPollTimeout = errors.New("dataplane poll timeout")

	// ErrUnknownPort indicates a port index the dataplane does not own.
	ErrUnknownPort = errors.New("unknown dataplane port")

	// ErrClosed indicates an operation on a closed dataplane.
	ErrClosed = errors.New("dataplane closed")

	// ErrUnsupported indicates the raw dataplane is not available on this
	// platform.
	ErrUnsupported = errors.New("raw dataplane not supported on this platform")

	// ErrNoPorts indicates a dataplane was opened with no ports.
	ErrNoPorts = errors.New("no dataplane ports")
)

// -------------------------------------------------------------------------
// Tally
// -------------------------------------------------------------------------

// Tally is the result of CountMatched: matching frames per port.
type Tally struct {
	PerPort map[int]int
}

// Count returns the number of matching frames seen on port.
func (t Tally) Count(port int) int {
	return t.PerPort[port]
}

// Ports returns the sorted ports that received at least one match.
func (t Tally) Ports() []int {
	ports := make([]int, 0, len(t.PerPort))
	for p, n := range t.PerPort {
		if n > 0 {
			ports = append(ports, p)
		}
	}
	slices.Sort(ports)
	return ports
}

// Frames returns the total number of matching frames.
func (t Tally) Frames() int {
	total := 0
	for _, n := range t.PerPort {
		total += n
	}
	return total
}
