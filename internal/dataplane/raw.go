package dataplane

import "time"

const (
	// DefaultQueueSize is the receive queue capacity shared by all ports.
	DefaultQueueSize = 1024

	// maxFrameSize covers jumbo frames.
	maxFrameSize = 9216

	// readTimeout bounds each blocking socket read so readers notice
	// cancellation.
	readTimeout = 100 * time.Millisecond

	// readErrorBackoff spaces retries on a port whose reads fail, e.g.
	// while its link is down.
	readErrorBackoff = 50 * time.Millisecond
)

// RawConfig describes the ports of a raw dataplane.
type RawConfig struct {
	// Interfaces maps test port indices to host interface names.
	Interfaces map[int]string

	// QueueSize is the receive queue capacity. Zero means DefaultQueueSize.
	QueueSize int

	// IPv4Only attaches IPv4Filter to every receive socket.
	IPv4Only bool
}

// RawOption configures optional Raw parameters.
type RawOption func(*Raw)

// WithMetrics attaches a Metrics hook to the dataplane. If m is nil, the
// default no-op hook is used.
func WithMetrics(m Metrics) RawOption {
	return func(r *Raw) {
		if m != nil {
			r.metrics = m
		}
	}
}

func (c RawConfig) queueSize() int {
	if c.QueueSize <= 0 {
		return DefaultQueueSize
	}
	return c.QueueSize
}
