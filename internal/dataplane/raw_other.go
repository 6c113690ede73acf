//go:build !linux

package dataplane

import (
	"context"
	"log/slog"
	"net"
	"time"
)

// Raw is unavailable outside Linux; OpenRaw always fails.
type Raw struct {
	metrics Metrics
}

// OpenRaw returns ErrUnsupported.
func OpenRaw(_ context.Context, _ RawConfig, _ *slog.Logger, _ ...RawOption) (*Raw, error) {
	return nil, ErrUnsupported
}

// MAC returns ErrUnsupported.
func (*Raw) MAC(int) (net.HardwareAddr, error) { return nil, ErrUnsupported }

// Send returns ErrUnsupported.
func (*Raw) Send(context.Context, int, []byte) error { return ErrUnsupported }

// Poll returns ErrUnsupported.
func (*Raw) Poll(context.Context, time.Duration) (Frame, error) { return Frame{}, ErrUnsupported }

// Flush does nothing.
func (*Raw) Flush() int { return 0 }

// Close does nothing.
func (*Raw) Close() error { return nil }
