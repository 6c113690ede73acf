package dataplane

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// CountMatched polls p and tallies frames accepted by m on any of ports.
//
// Polling stops when a poll times out or when timeout has elapsed since the
// last match (or since the call, if nothing matched yet). Frames received
// on ports outside the set, and frames m rejects, are consumed and ignored.
// Context cancellation returns the tally so far together with the error.
func CountMatched(ctx context.Context, p Poller, m Matcher, ports []int, timeout time.Duration) (Tally, error) {
	want := make(map[int]struct{}, len(ports))
	for _, port := range ports {
		want[port] = struct{}{}
	}

	tally := Tally{PerPort: make(map[int]int, len(ports))}
	last := time.Now()

	for {
		remaining := timeout - time.Since(last)
		if remaining <= 0 {
			return tally, nil
		}

		f, err := p.Poll(ctx, remaining)
		if errors.Is(err, ErrPollTimeout) {
			return tally, nil
		}
		if err != nil {
			return tally, fmt.Errorf("count matched: %w", err)
		}

		if _, ok := want[f.Port]; !ok {
			continue
		}
		if !m.Match(f.Data) {
			continue
		}

		tally.PerPort[f.Port]++
		last = time.Now()
	}
}
