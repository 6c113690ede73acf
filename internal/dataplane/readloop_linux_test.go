//go:build linux

package dataplane

import (
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

// scriptedSocket replays recv results per descriptor, then reports
// EAGAIN like an idle socket with SO_RCVTIMEO.
type scriptedSocket struct {
	mu     sync.Mutex
	script map[int][]recvResult
}

type recvResult struct {
	data []byte
	err  error
}

func (s *scriptedSocket) recv(fd int, buf []byte, _ int) (int, unix.Sockaddr, error) {
	s.mu.Lock()
	q := s.script[fd]
	if len(q) == 0 {
		s.mu.Unlock()
		time.Sleep(time.Millisecond)
		return 0, nil, unix.EAGAIN
	}
	s.script[fd] = q[1:]
	s.mu.Unlock()

	if q[0].err != nil {
		return 0, nil, q[0].err
	}
	return copy(buf, q[0].data), &unix.SockaddrLinklayer{Pkttype: unix.PACKET_HOST}, nil
}

type portCounters struct {
	mu       sync.Mutex
	received map[int]int
	dropped  map[int]int
}

func newPortCounters() *portCounters {
	return &portCounters{received: map[int]int{}, dropped: map[int]int{}}
}

func (c *portCounters) IncFramesReceived(port int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.received[port]++
}

func (c *portCounters) IncFramesDropped(port int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropped[port]++
}

func (c *portCounters) droppedOn(port int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped[port]
}

func TestReadErrorDoesNotStopOtherPorts(t *testing.T) {
	t.Parallel()

	sock := &scriptedSocket{script: map[int][]recvResult{
		// Port 1 flaps: two ENETDOWN reads, then traffic again.
		101: {{err: unix.ENETDOWN}, {err: unix.ENETDOWN}, {data: []byte("after flap")}},
		102: {{data: []byte("sibling")}},
	}}
	counters := newPortCounters()

	r := &Raw{
		socks: map[int]*rawSocket{
			1: {port: 1, ifName: "pa1", fd: 101},
			2: {port: 2, ifName: "pa2", fd: 102},
		},
		queue:   make(chan Frame, 8),
		metrics: counters,
		logger:  slog.New(slog.DiscardHandler),
		recv:    sock.recv,
	}
	r.start(t.Context())
	// Descriptors are fake, so stop the readers without closeSockets.
	defer func() {
		r.cancel()
		if err := r.group.Wait(); err != nil {
			t.Errorf("group.Wait() = %v, want nil", err)
		}
	}()

	var ports []int
	for range 2 {
		f, err := r.Poll(t.Context(), 2*time.Second)
		if err != nil {
			t.Fatalf("Poll after %v: %v", ports, err)
		}
		ports = append(ports, f.Port)
	}
	slices.Sort(ports)

	if !slices.Equal(ports, []int{1, 2}) {
		t.Errorf("frames from ports %v, want [1 2]", ports)
	}
	if got := counters.droppedOn(1); got != 2 {
		t.Errorf("dropped on port 1 = %d, want 2 (one per failed read)", got)
	}
	if got := counters.droppedOn(2); got != 0 {
		t.Errorf("dropped on port 2 = %d, want 0", got)
	}
}

func TestReadLoopStopsDuringBackoff(t *testing.T) {
	t.Parallel()

	sock := &scriptedSocket{script: map[int][]recvResult{
		101: {{err: unix.ENETDOWN}},
	}}
	r := &Raw{
		socks:   map[int]*rawSocket{1: {port: 1, ifName: "pa1", fd: 101}},
		queue:   make(chan Frame, 1),
		metrics: noopMetrics{},
		logger:  slog.New(slog.DiscardHandler),
		recv:    sock.recv,
	}
	r.start(t.Context())

	r.cancel()
	done := make(chan struct{})
	go func() {
		_ = r.group.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reader did not stop after cancel")
	}
}
